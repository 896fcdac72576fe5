package core

import (
	"time"

	"dcode.dev/mentor-hub/internal/store"
)

func (s *Session) Communities() ([]store.Community, error) {
	if _, err := s.CurrentUser(); err != nil {
		return nil, err
	}
	return s.communities.List(), nil
}

func (s *Session) CreateCommunity(name, description string) (store.Community, error) {
	current, err := s.CurrentUser()
	if err != nil {
		return store.Community{}, err
	}
	c, err := s.communities.Create(current, name, description)
	if err != nil {
		return store.Community{}, err
	}
	s.events.publish(Event{Type: EventCommunityUpdated, CommunityID: c.ID})
	return c, nil
}

func (s *Session) JoinCommunity(communityID string) (store.Community, error) {
	current, err := s.CurrentUser()
	if err != nil {
		return store.Community{}, err
	}
	c, err := s.communities.Join(communityID, current.ID)
	if err != nil {
		return store.Community{}, err
	}
	s.events.publish(Event{Type: EventCommunityUpdated, CommunityID: c.ID})
	return c, nil
}

// ViewCommunity makes a community the active one on the communities view.
func (s *Session) ViewCommunity(communityID string) (store.Community, error) {
	if _, err := s.CurrentUser(); err != nil {
		return store.Community{}, err
	}
	c, err := s.communities.Get(communityID)
	if err != nil {
		return store.Community{}, err
	}
	s.mu.Lock()
	s.activeCommunity = c.ID
	s.view = ViewCommunities
	s.mu.Unlock()
	s.events.publish(Event{Type: EventViewChanged, View: ViewCommunities, CommunityID: c.ID})
	return c, nil
}

// BackToCommunities clears the active community.
func (s *Session) BackToCommunities() {
	s.mu.Lock()
	s.activeCommunity = ""
	s.mu.Unlock()
	s.events.publish(Event{Type: EventViewChanged, View: ViewCommunities})
}

func (s *Session) PostToCommunity(communityID, text string) (store.CommunityPost, error) {
	current, err := s.CurrentUser()
	if err != nil {
		return store.CommunityPost{}, err
	}
	p, err := s.communities.Post(communityID, current, text)
	if err != nil {
		return store.CommunityPost{}, err
	}
	s.events.publish(Event{Type: EventCommunityUpdated, CommunityID: communityID})
	return p, nil
}

func (s *Session) ReplyToPost(communityID, postID, text string) (store.CommunityReply, error) {
	current, err := s.CurrentUser()
	if err != nil {
		return store.CommunityReply{}, err
	}
	r, err := s.communities.Reply(communityID, postID, current, text)
	if err != nil {
		return store.CommunityReply{}, err
	}
	s.events.publish(Event{Type: EventCommunityUpdated, CommunityID: communityID})
	return r, nil
}

// Availability lists the open slots of a mentor on a day.
func (s *Session) Availability(mentorID string, date time.Time) ([]string, error) {
	if _, err := s.CurrentUser(); err != nil {
		return nil, err
	}
	if _, ok := s.users.Get(mentorID); !ok {
		return nil, ErrUserNotFound
	}
	return s.bookings.OpenSlots(mentorID, date), nil
}

// MonthlyAvailability lists the bookable days of a month for a mentor.
func (s *Session) MonthlyAvailability(mentorID string, year int, month time.Month, loc *time.Location) ([]int, error) {
	if _, err := s.CurrentUser(); err != nil {
		return nil, err
	}
	if _, ok := s.users.Get(mentorID); !ok {
		return nil, ErrUserNotFound
	}
	return s.bookings.MonthlyAvailability(mentorID, year, month, loc), nil
}

// Book reserves a slot with a mentor for the current user.
func (s *Session) Book(mentorID string, date time.Time, slot string) (store.Booking, error) {
	current, err := s.CurrentUser()
	if err != nil {
		return store.Booking{}, err
	}
	mentor, ok := s.users.Get(mentorID)
	if !ok {
		return store.Booking{}, ErrUserNotFound
	}
	return s.bookings.Book(mentor, current, date, slot)
}

func (s *Session) Bookings() ([]store.Booking, error) {
	current, err := s.CurrentUser()
	if err != nil {
		return nil, err
	}
	return s.bookings.For(current.ID), nil
}
