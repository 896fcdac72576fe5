package api

import (
	"net/http"
	"time"

	"dcode.dev/mentor-hub/internal/store"
)

const (
	dateLayout  = "2006-01-02"
	monthLayout = "2006-01"
)

func (h *APIHandler) ListCommunitiesHandler(w http.ResponseWriter, r *http.Request) {
	list, err := sessionFrom(r).Communities()
	if err != nil {
		h.writeError(w, err, "Failed to list communities")
		return
	}
	if list == nil {
		list = []store.Community{}
	}
	writeJSON(w, http.StatusOK, list)
}

type CreateCommunityRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (h *APIHandler) CreateCommunityHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateCommunityRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := sessionFrom(r).CreateCommunity(req.Name, req.Description)
	if err != nil {
		h.writeError(w, err, "Failed to create community")
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// ViewCommunityHandler returns the community and makes it the active one.
func (h *APIHandler) ViewCommunityHandler(w http.ResponseWriter, r *http.Request) {
	c, err := sessionFrom(r).ViewCommunity(urlParam(r, "communityID"))
	if err != nil {
		h.writeError(w, err, "Failed to get community")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *APIHandler) LeaveCommunityViewHandler(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r)
	s.BackToCommunities()
	writeJSON(w, http.StatusOK, s.State())
}

func (h *APIHandler) JoinCommunityHandler(w http.ResponseWriter, r *http.Request) {
	c, err := sessionFrom(r).JoinCommunity(urlParam(r, "communityID"))
	if err != nil {
		h.writeError(w, err, "Failed to join community")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *APIHandler) CreatePostHandler(w http.ResponseWriter, r *http.Request) {
	var req TextRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := sessionFrom(r).PostToCommunity(urlParam(r, "communityID"), req.Text)
	if err != nil {
		h.writeError(w, err, "Failed to create post")
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *APIHandler) CreateReplyHandler(w http.ResponseWriter, r *http.Request) {
	var req TextRequest
	if !decode(w, r, &req) {
		return
	}
	reply, err := sessionFrom(r).ReplyToPost(urlParam(r, "communityID"), urlParam(r, "postID"), req.Text)
	if err != nil {
		h.writeError(w, err, "Failed to reply to post")
		return
	}
	writeJSON(w, http.StatusCreated, reply)
}

// AvailabilityHandler answers either ?date=YYYY-MM-DD with the open slots of
// that day or ?month=YYYY-MM with the bookable days of that month.
func (h *APIHandler) AvailabilityHandler(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r)
	mentorID := urlParam(r, "userID")
	q := r.URL.Query()

	if month := q.Get("month"); month != "" {
		m, err := time.Parse(monthLayout, month)
		if err != nil {
			http.Error(w, "month must be YYYY-MM", http.StatusBadRequest)
			return
		}
		days, err := s.MonthlyAvailability(mentorID, m.Year(), m.Month(), time.UTC)
		if err != nil {
			h.writeError(w, err, "Failed to load availability")
			return
		}
		writeJSON(w, http.StatusOK, map[string][]int{"days": days})
		return
	}

	d, err := time.Parse(dateLayout, q.Get("date"))
	if err != nil {
		http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	slots, err := s.Availability(mentorID, d)
	if err != nil {
		h.writeError(w, err, "Failed to load availability")
		return
	}
	if slots == nil {
		slots = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"slots": slots})
}

type BookRequest struct {
	Date string `json:"date"`
	Slot string `json:"slot"`
}

func (h *APIHandler) BookHandler(w http.ResponseWriter, r *http.Request) {
	var req BookRequest
	if !decode(w, r, &req) {
		return
	}
	d, err := time.Parse(dateLayout, req.Date)
	if err != nil {
		http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	b, err := sessionFrom(r).Book(urlParam(r, "userID"), d, req.Slot)
	if err != nil {
		h.writeError(w, err, "Failed to book session")
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (h *APIHandler) BookingsHandler(w http.ResponseWriter, r *http.Request) {
	list, err := sessionFrom(r).Bookings()
	if err != nil {
		h.writeError(w, err, "Failed to list bookings")
		return
	}
	if list == nil {
		list = []store.Booking{}
	}
	writeJSON(w, http.StatusOK, list)
}
