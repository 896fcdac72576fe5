package core

import (
	"sync"
	"time"
)

type EventType string

const (
	EventConversationUpdated   EventType = "conversation_updated"
	EventConversationsReplaced EventType = "conversations_replaced"
	EventUsersReplaced         EventType = "users_replaced"
	EventTyping                EventType = "typing"
	EventViewChanged           EventType = "view_changed"
	EventProfileUpdated        EventType = "profile_updated"
	EventAssistantMessage      EventType = "assistant_message"
	EventCommunityUpdated      EventType = "community_updated"
	EventLoadingChanged        EventType = "loading_changed"
	EventSessionClosed         EventType = "session_closed"
)

// Event tells the presentation layer which part of the state to re-read.
type Event struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversationId,omitempty"`
	CommunityID    string    `json:"communityId,omitempty"`
	UserID         string    `json:"userId,omitempty"`
	Typing         bool      `json:"typing,omitempty"`
	View           View      `json:"view,omitempty"`
	Loading        bool      `json:"loading,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

const eventBuffer = 64

// eventBus fans session events out to listeners. Slow listeners miss events
// rather than stall the session; every event only asks for a re-read.
type eventBus struct {
	mu     sync.Mutex
	subs   map[chan Event]struct{}
	closed bool
}

func newEventBus() *eventBus {
	return &eventBus{subs: make(map[chan Event]struct{})}
}

func (b *eventBus) subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, eventBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
		})
	}
}

func (b *eventBus) publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *eventBus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		select {
		case ch <- Event{Type: EventSessionClosed, Timestamp: time.Now()}:
		default:
		}
		close(ch)
		delete(b.subs, ch)
	}
}
