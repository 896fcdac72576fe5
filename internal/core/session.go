package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dcode.dev/mentor-hub/internal/kv"
	"dcode.dev/mentor-hub/internal/metrics"
	"dcode.dev/mentor-hub/internal/store"
)

var (
	ErrNotLoggedIn     = errors.New("no user is logged in")
	ErrRequestInFlight = errors.New("a request from this control is already in flight")
	ErrSessionClosed   = errors.New("session is closed")
	ErrInvalidView     = errors.New("unknown view")
)

// Deps are the collaborators shared by every session of a process.
type Deps struct {
	Opener        kv.Opener
	Gateway       *Gateway
	Communities   *CommunityService
	Bookings      *BookingService
	TypingTimeout time.Duration
	Logger        *zap.Logger
}

// Session is one execution context: its own store handle, its own copies of
// the user and conversation directories, its own typing timers and its own
// navigation state. Sessions only learn about each other through the store.
type Session struct {
	ID string

	kv          kv.Store
	users       *UserDirectory
	convs       *ConversationService
	presence    *Presence
	notifier    *Notifier
	gateway     *Gateway
	communities *CommunityService
	bookings    *BookingService
	events      *eventBus
	logger      *zap.Logger

	mu                 sync.Mutex
	userID             string
	view               View
	activeConversation string
	activeCommunity    string
	assistant          []store.ChatMessage
	icebreakers        map[string][]string
	inFlight           map[Control]bool
	closed             bool
}

// NewSession opens a store handle, loads both records and starts listening
// for changes from other sessions.
func NewSession(ctx context.Context, deps Deps) (*Session, error) {
	handle, err := deps.Opener.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	id := uuid.NewString()
	logger := deps.Logger.With(zap.String("session_id", id))
	adapter := store.NewAdapter(handle, logger)

	s := &Session{
		ID:          id,
		kv:          handle,
		users:       NewUserDirectory(ctx, adapter, DefaultUsers(), logger),
		convs:       NewConversationService(ctx, adapter, logger),
		presence:    NewPresence(adapter, deps.TypingTimeout, logger),
		gateway:     deps.Gateway,
		communities: deps.Communities,
		bookings:    deps.Bookings,
		events:      newEventBus(),
		logger:      logger,
		view:        ViewLogin,
		icebreakers: make(map[string][]string),
		inFlight:    make(map[Control]bool),
	}
	if s.gateway == nil {
		s.gateway = NewGateway(nil, logger)
	}
	if s.communities == nil {
		s.communities = NewCommunityService(logger)
	}
	if s.bookings == nil {
		s.bookings = NewBookingService(logger)
	}

	s.notifier, err = StartNotifier(ctx, handle, s.users, s.convs, s.presence, s.events.publish, logger)
	if err != nil {
		handle.Close()
		return nil, err
	}

	metrics.ActiveSessions.Inc()
	logger.Debug("Session opened", zap.String("origin", handle.Origin()))
	return s, nil
}

// Events subscribes to the session's change events. The returned function
// unsubscribes; the channel is closed when the session closes.
func (s *Session) Events() (<-chan Event, func()) {
	return s.events.subscribe()
}

func (s *Session) Login(ctx context.Context, userID, password string) (store.UserProfile, error) {
	u, err := s.users.Authenticate(userID, password)
	if err != nil {
		s.logger.Info("Login failed", zap.String("user_id", userID))
		return store.UserProfile{}, err
	}
	s.enter(u)
	return u, nil
}

// Signup creates a profile and logs it in.
func (s *Session) Signup(ctx context.Context, in SignupInput) (store.UserProfile, error) {
	u, err := s.users.Signup(ctx, in)
	if err != nil {
		return store.UserProfile{}, err
	}
	s.enter(u)
	return u, nil
}

func (s *Session) enter(u store.UserProfile) {
	view := ViewDashboard
	if len(u.Skills) == 0 {
		view = ViewProfileSetup
	}
	s.mu.Lock()
	s.userID = u.ID
	s.view = view
	s.activeConversation = ""
	s.activeCommunity = ""
	s.mu.Unlock()

	s.logger.Info("User logged in", zap.String("user_id", u.ID), zap.String("view", string(view)))
	s.events.publish(Event{Type: EventViewChanged, View: view})
}

// Logout ends the session.
func (s *Session) Logout(ctx context.Context) {
	s.mu.Lock()
	userID := s.userID
	s.mu.Unlock()
	s.logger.Info("User logged out", zap.String("user_id", userID))
	s.Close(ctx)
}

// Close releases timers, typing slots, the subscription and the store handle.
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	userID := s.userID
	s.userID = ""
	s.view = ViewLogin
	s.activeConversation = ""
	s.activeCommunity = ""
	s.assistant = nil
	s.icebreakers = map[string][]string{}
	s.mu.Unlock()

	if userID != "" {
		s.presence.Close(ctx, userID)
	}
	s.notifier.Stop()
	s.events.close()
	if err := s.kv.Close(); err != nil {
		s.logger.Warn("Failed to close store handle", zap.Error(err))
	}
	metrics.ActiveSessions.Dec()
	s.logger.Debug("Session closed")
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// CurrentUser returns the logged in profile.
func (s *Session) CurrentUser() (store.UserProfile, error) {
	s.mu.Lock()
	userID, closed := s.userID, s.closed
	s.mu.Unlock()
	if closed {
		return store.UserProfile{}, ErrSessionClosed
	}
	if userID == "" {
		return store.UserProfile{}, ErrNotLoggedIn
	}
	u, ok := s.users.Get(userID)
	if !ok {
		return store.UserProfile{}, ErrNotLoggedIn
	}
	return u, nil
}

// State describes what to render.
func (s *Session) State() ViewState {
	s.mu.Lock()
	st := ViewState{
		View:                 s.view,
		UserID:               s.userID,
		ActiveConversationID: s.activeConversation,
		ActiveCommunityID:    s.activeCommunity,
		InFlight:             []Control{},
	}
	for c, on := range s.inFlight {
		if on {
			st.InFlight = append(st.InFlight, c)
		}
	}
	s.mu.Unlock()

	sort.Slice(st.InFlight, func(i, j int) bool { return st.InFlight[i] < st.InFlight[j] })
	st.Loading = len(st.InFlight) > 0
	if st.View == ViewChat && !s.convs.Exists(st.ActiveConversationID) {
		st.View = ViewDashboard
		st.ActiveConversationID = ""
	}
	if st.UserID != "" {
		st.UnreadCount = s.convs.UnreadCount(st.UserID)
		if u, ok := s.users.Get(st.UserID); ok {
			st.NeedsProfileCompletion = NeedsProfileCompletion(u)
		}
	}
	return st
}

// Navigate switches views. List views clear the active conversation and
// community; entering the chat view without a valid conversation lands on
// the dashboard.
func (s *Session) Navigate(v View) (View, error) {
	if !v.Valid() || v == ViewLogin {
		return "", ErrInvalidView
	}
	if _, err := s.CurrentUser(); err != nil {
		return "", err
	}

	s.mu.Lock()
	if v == ViewChat && !s.convs.Exists(s.activeConversation) {
		v = ViewDashboard
	}
	if v.clearsSelection() {
		s.activeConversation = ""
		s.activeCommunity = ""
	}
	s.view = v
	s.mu.Unlock()

	s.events.publish(Event{Type: EventViewChanged, View: v})
	return v, nil
}

// Loading reports whether any control waits on the gateway.
func (s *Session) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, on := range s.inFlight {
		if on {
			return true
		}
	}
	return false
}

func (s *Session) begin(c Control) error {
	s.mu.Lock()
	if s.inFlight[c] {
		s.mu.Unlock()
		return ErrRequestInFlight
	}
	s.inFlight[c] = true
	s.mu.Unlock()
	s.events.publish(Event{Type: EventLoadingChanged, Loading: true})
	return nil
}

func (s *Session) end(c Control) {
	s.mu.Lock()
	delete(s.inFlight, c)
	s.mu.Unlock()
	s.events.publish(Event{Type: EventLoadingChanged, Loading: s.Loading()})
}

// UpdateProfile edits the current user's tags. Leaving profile setup lands
// on the dashboard.
func (s *Session) UpdateProfile(ctx context.Context, upd ProfileUpdate) (store.UserProfile, error) {
	current, err := s.CurrentUser()
	if err != nil {
		return store.UserProfile{}, err
	}
	u, err := s.users.UpdateProfile(ctx, current.ID, upd)
	if err != nil {
		return store.UserProfile{}, err
	}

	s.mu.Lock()
	moved := s.view == ViewProfileSetup
	if moved {
		s.view = ViewDashboard
	}
	s.mu.Unlock()

	s.events.publish(Event{Type: EventProfileUpdated, UserID: u.ID})
	if moved {
		s.events.publish(Event{Type: EventViewChanged, View: ViewDashboard})
	}
	return u, nil
}

func (s *Session) Users() []store.UserProfile { return s.users.All() }

func (s *Session) User(id string) (store.UserProfile, bool) { return s.users.Get(id) }

func (s *Session) Mentors(f Filter) ([]store.UserProfile, error) {
	current, err := s.CurrentUser()
	if err != nil {
		return nil, err
	}
	return s.users.Mentors(current.ID, f), nil
}

func (s *Session) Mentees(f Filter) ([]store.UserProfile, error) {
	current, err := s.CurrentUser()
	if err != nil {
		return nil, err
	}
	return s.users.Mentees(current.ID, f), nil
}

// Rate records a star rating for a mentor.
func (s *Session) Rate(ctx context.Context, mentorID string, stars int, review string) (store.UserProfile, error) {
	if _, err := s.CurrentUser(); err != nil {
		return store.UserProfile{}, err
	}
	u, err := s.users.Rate(ctx, mentorID, stars, review)
	if err != nil {
		return store.UserProfile{}, err
	}
	s.events.publish(Event{Type: EventProfileUpdated, UserID: u.ID})
	return u, nil
}

// Match pairs a suggested mentor profile with the reason for the match.
type Match struct {
	Profile store.UserProfile `json:"profile"`
	Reason  string            `json:"reason"`
}

// SuggestMatches asks the gateway for mentors for the current user.
func (s *Session) SuggestMatches(ctx context.Context) ([]Match, error) {
	current, err := s.CurrentUser()
	if err != nil {
		return nil, err
	}
	if err := s.begin(ControlMatches); err != nil {
		return nil, err
	}
	defer s.end(ControlMatches)

	mentors := s.users.Mentors(current.ID, Filter{})
	results := s.gateway.SuggestMatches(ctx, current, mentors)

	byID := make(map[string]store.UserProfile, len(mentors))
	for _, m := range mentors {
		byID[m.ID] = m
	}
	matches := make([]Match, 0, len(results))
	for _, r := range results {
		if p, ok := byID[r.MentorID]; ok {
			matches = append(matches, Match{Profile: p, Reason: r.Reason})
		}
	}
	return matches, nil
}

// SubmitFeedback records free-text product feedback.
func (s *Session) SubmitFeedback(text string) error {
	current, err := s.CurrentUser()
	if err != nil {
		return err
	}
	if text == "" {
		return &ValidationError{Field: "feedback", Message: "feedback is required"}
	}
	s.logger.Info("User feedback received",
		zap.String("user_id", current.ID),
		zap.String("user_name", current.Name),
		zap.String("feedback", text))
	return nil
}
