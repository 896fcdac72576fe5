package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"dcode.dev/mentor-hub/internal/auth"
	"dcode.dev/mentor-hub/internal/core"
	"dcode.dev/mentor-hub/internal/store"
)

type ctxKey int

const sessionKey ctxKey = iota

type APIHandler struct {
	sessions *SessionManager
	logger   *zap.Logger
}

func NewAPIHandler(sessions *SessionManager, logger *zap.Logger) *APIHandler {
	return &APIHandler{sessions: sessions, logger: logger}
}

func sessionFrom(r *http.Request) *core.Session {
	return r.Context().Value(sessionKey).(*core.Session)
}

// bearerToken reads the token from the Authorization header, or from the
// token query parameter for clients that cannot set headers (websockets).
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := bearerToken(r)
		if tokenString == "" {
			http.Error(w, "Authorization header is required", http.StatusUnauthorized)
			return
		}

		claims, err := auth.ValidateJWT(tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		s, ok := h.sessions.Get(claims.SessionID)
		if !ok {
			http.Error(w, "Session expired", http.StatusUnauthorized)
			return
		}
		user, err := s.CurrentUser()
		if err != nil || user.ID != claims.UserID {
			http.Error(w, "Session expired", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), sessionKey, s)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// writeError maps domain errors onto status codes; anything unrecognised is
// logged and reported as a 500 with the generic message.
func (h *APIHandler) writeError(w http.ResponseWriter, err error, msg string) {
	var verr *core.ValidationError
	switch {
	case errors.As(err, &verr):
		http.Error(w, verr.Error(), http.StatusBadRequest)
	case errors.Is(err, core.ErrInvalidView):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, core.ErrInvalidCredentials),
		errors.Is(err, core.ErrNotLoggedIn),
		errors.Is(err, core.ErrSessionClosed):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	case errors.Is(err, core.ErrUserNotFound),
		errors.Is(err, core.ErrConversationNotFound),
		errors.Is(err, core.ErrCommunityNotFound),
		errors.Is(err, core.ErrPostNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, core.ErrRequestInFlight),
		errors.Is(err, core.ErrSlotUnavailable):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, core.ErrNotMentor),
		errors.Is(err, core.ErrPastDate),
		errors.Is(err, core.ErrNoParticipants):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		h.logger.Error(msg, zap.Error(err))
		http.Error(w, msg, http.StatusInternalServerError)
	}
}

func publicProfiles(users []store.UserProfile) []store.UserProfile {
	out := make([]store.UserProfile, len(users))
	for i, u := range users {
		out[i] = u.Public()
	}
	return out
}

type LoginRequest struct {
	UserID   string `json:"user_id"`
	Password string `json:"password"`
}

type SessionResponse struct {
	Token string            `json:"token"`
	User  store.UserProfile `json:"user"`
	State core.ViewState    `json:"state"`
}

func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decode(w, r, &req) {
		return
	}
	if req.UserID == "" || req.Password == "" {
		http.Error(w, "User ID and password are required", http.StatusBadRequest)
		return
	}

	h.openSession(w, r, http.StatusOK, func(s *core.Session) (store.UserProfile, error) {
		return s.Login(r.Context(), req.UserID, req.Password)
	})
}

func (h *APIHandler) SignupHandler(w http.ResponseWriter, r *http.Request) {
	var req core.SignupInput
	if !decode(w, r, &req) {
		return
	}

	h.openSession(w, r, http.StatusCreated, func(s *core.Session) (store.UserProfile, error) {
		return s.Signup(r.Context(), req)
	})
}

// openSession creates a session, runs enter on it and hands out a token bound
// to it. The session is discarded when enter or token signing fails.
func (h *APIHandler) openSession(w http.ResponseWriter, r *http.Request, status int, enter func(*core.Session) (store.UserProfile, error)) {
	s, err := h.sessions.Create(r.Context())
	if err != nil {
		h.writeError(w, err, "Failed to open session")
		return
	}

	user, err := enter(s)
	if err != nil {
		h.sessions.Discard(r.Context(), s)
		h.writeError(w, err, "Failed to sign in")
		return
	}

	token, err := auth.GenerateJWT(user.ID, s.ID)
	if err != nil {
		h.sessions.Discard(r.Context(), s)
		h.logger.Error("Failed to generate token", zap.String("user_id", user.ID), zap.Error(err))
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	h.logger.Info("Session opened", zap.String("user_id", user.ID), zap.String("session_id", s.ID))
	writeJSON(w, status, SessionResponse{Token: token, User: user.Public(), State: s.State()})
}

func (h *APIHandler) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r)
	h.sessions.Remove(s.ID)
	s.Logout(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// DirectoryHandler lists every user so the login screen can offer them.
func (h *APIHandler) DirectoryHandler(w http.ResponseWriter, r *http.Request) {
	users, err := h.sessions.Directory(r.Context())
	if err != nil {
		h.writeError(w, err, "Failed to load users")
		return
	}
	writeJSON(w, http.StatusOK, publicProfiles(users))
}

func (h *APIHandler) SkillsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, core.SkillCatalog)
}

func (h *APIHandler) StateHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sessionFrom(r).State())
}

type NavigateRequest struct {
	View core.View `json:"view"`
}

func (h *APIHandler) NavigateHandler(w http.ResponseWriter, r *http.Request) {
	var req NavigateRequest
	if !decode(w, r, &req) {
		return
	}
	s := sessionFrom(r)
	if _, err := s.Navigate(req.View); err != nil {
		h.writeError(w, err, "Failed to navigate")
		return
	}
	writeJSON(w, http.StatusOK, s.State())
}

func (h *APIHandler) MeHandler(w http.ResponseWriter, r *http.Request) {
	user, err := sessionFrom(r).CurrentUser()
	if err != nil {
		h.writeError(w, err, "Failed to load profile")
		return
	}
	writeJSON(w, http.StatusOK, user.Public())
}

func (h *APIHandler) UpdateProfileHandler(w http.ResponseWriter, r *http.Request) {
	var req core.ProfileUpdate
	if !decode(w, r, &req) {
		return
	}
	user, err := sessionFrom(r).UpdateProfile(r.Context(), req)
	if err != nil {
		h.writeError(w, err, "Failed to update profile")
		return
	}
	writeJSON(w, http.StatusOK, user.Public())
}

func filterFrom(r *http.Request) core.Filter {
	q := r.URL.Query()
	return core.Filter{Query: q.Get("q"), Skills: q["skill"], Interests: q["interest"]}
}

func (h *APIHandler) MentorsHandler(w http.ResponseWriter, r *http.Request) {
	users, err := sessionFrom(r).Mentors(filterFrom(r))
	if err != nil {
		h.writeError(w, err, "Failed to list mentors")
		return
	}
	writeJSON(w, http.StatusOK, publicProfiles(users))
}

func (h *APIHandler) MenteesHandler(w http.ResponseWriter, r *http.Request) {
	users, err := sessionFrom(r).Mentees(filterFrom(r))
	if err != nil {
		h.writeError(w, err, "Failed to list mentees")
		return
	}
	writeJSON(w, http.StatusOK, publicProfiles(users))
}

type MatchResponse struct {
	Mentor store.UserProfile `json:"mentor"`
	Reason string            `json:"reason"`
}

func (h *APIHandler) MatchesHandler(w http.ResponseWriter, r *http.Request) {
	matches, err := sessionFrom(r).SuggestMatches(r.Context())
	if err != nil {
		h.writeError(w, err, "Failed to suggest matches")
		return
	}
	resp := make([]MatchResponse, 0, len(matches))
	for _, m := range matches {
		resp = append(resp, MatchResponse{Mentor: m.Profile.Public(), Reason: m.Reason})
	}
	writeJSON(w, http.StatusOK, resp)
}

type RateRequest struct {
	Rating int    `json:"rating"`
	Review string `json:"review"`
}

func (h *APIHandler) RateHandler(w http.ResponseWriter, r *http.Request) {
	var req RateRequest
	if !decode(w, r, &req) {
		return
	}
	user, err := sessionFrom(r).Rate(r.Context(), urlParam(r, "userID"), req.Rating, req.Review)
	if err != nil {
		h.writeError(w, err, "Failed to rate mentor")
		return
	}
	writeJSON(w, http.StatusOK, user.Public())
}

type FeedbackRequest struct {
	Feedback string `json:"feedback"`
}

func (h *APIHandler) FeedbackHandler(w http.ResponseWriter, r *http.Request) {
	var req FeedbackRequest
	if !decode(w, r, &req) {
		return
	}
	if err := sessionFrom(r).SubmitFeedback(req.Feedback); err != nil {
		h.writeError(w, err, "Failed to submit feedback")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
