package core

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dcode.dev/mentor-hub/internal/store"
)

var (
	ErrPastDate        = errors.New("date is in the past")
	ErrSlotUnavailable = errors.New("slot is not available")
)

var baseSlots = []string{
	"09:00 AM", "09:30 AM", "10:00 AM", "10:30 AM",
	"02:00 PM", "02:30 PM", "03:00 PM", "04:00 PM",
}

// Availability is the deterministic set of slots a mentor offers on a day.
// Weekends and every day whose seed is a multiple of four have none.
func Availability(mentorID string, date time.Time) []string {
	if wd := date.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return []string{}
	}
	seed := date.Day() + availabilityCode(mentorID)
	if seed%4 == 0 {
		return []string{}
	}
	slots := []string{}
	for i, s := range baseSlots {
		if (seed+i)%3 != 0 {
			slots = append(slots, s)
		}
	}
	return slots
}

// availabilityCode is the second character of the id, or 0 for shorter ids.
func availabilityCode(mentorID string) int {
	r := []rune(mentorID)
	if len(r) < 2 {
		return 0
	}
	return int(r[1])
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// BookingService records sessions booked with mentors, process wide.
type BookingService struct {
	mu       sync.Mutex
	bookings []store.Booking
	logger   *zap.Logger
	now      func() time.Time
}

func NewBookingService(logger *zap.Logger) *BookingService {
	return &BookingService{logger: logger, now: time.Now}
}

// OpenSlots is Availability minus slots that are already booked.
func (s *BookingService) OpenSlots(mentorID string, date time.Time) []string {
	day := startOfDay(date)
	if day.Before(startOfDay(s.now().In(date.Location()))) {
		return []string{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	open := []string{}
	for _, slot := range Availability(mentorID, day) {
		if !s.takenLocked(mentorID, day, slot) {
			open = append(open, slot)
		}
	}
	return open
}

// MonthlyAvailability lists the days of the month, from today on, that have
// at least one slot.
func (s *BookingService) MonthlyAvailability(mentorID string, year int, month time.Month, loc *time.Location) []int {
	today := startOfDay(s.now().In(loc))
	days := []int{}
	for d := time.Date(year, month, 1, 0, 0, 0, 0, loc); d.Month() == month; d = d.AddDate(0, 0, 1) {
		if d.Before(today) {
			continue
		}
		if len(Availability(mentorID, d)) > 0 {
			days = append(days, d.Day())
		}
	}
	return days
}

func (s *BookingService) Book(mentor, mentee store.UserProfile, date time.Time, slot string) (store.Booking, error) {
	if !mentor.Role.CanMentor() {
		return store.Booking{}, ErrNotMentor
	}
	day := startOfDay(date)
	if day.Before(startOfDay(s.now().In(date.Location()))) {
		return store.Booking{}, ErrPastDate
	}
	offered := false
	for _, a := range Availability(mentor.ID, day) {
		if a == slot {
			offered = true
			break
		}
	}
	if !offered {
		return store.Booking{}, ErrSlotUnavailable
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.takenLocked(mentor.ID, day, slot) {
		return store.Booking{}, ErrSlotUnavailable
	}
	b := store.Booking{
		ID:        uuid.NewString(),
		MentorID:  mentor.ID,
		MenteeID:  mentee.ID,
		Date:      day,
		Slot:      slot,
		CreatedAt: s.now(),
	}
	s.bookings = append(s.bookings, b)
	s.logger.Info("Session booked",
		zap.String("mentor_id", mentor.ID),
		zap.String("mentee_id", mentee.ID),
		zap.String("date", day.Format("2006-01-02")),
		zap.String("slot", slot))
	return b, nil
}

// For lists the bookings a user takes part in.
func (s *BookingService) For(userID string) []store.Booking {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []store.Booking{}
	for _, b := range s.bookings {
		if b.MentorID == userID || b.MenteeID == userID {
			out = append(out, b)
		}
	}
	return out
}

func (s *BookingService) takenLocked(mentorID string, day time.Time, slot string) bool {
	for _, b := range s.bookings {
		if b.MentorID == mentorID && b.Slot == slot && b.Date.Equal(day) {
			return true
		}
	}
	return false
}
