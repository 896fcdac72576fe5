package core

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"dcode.dev/mentor-hub/internal/store"
)

const DefaultTypingTimeout = 2 * time.Second

type typingTimer struct {
	t *time.Timer
}

// Presence tracks the typing slots a session writes and the ones it has
// observed from other sessions. Own writes are never observed.
type Presence struct {
	// writeMu orders slot writes with the timer bookkeeping that decided
	// them, so an expiry never lands after a newer keystroke's write.
	writeMu  sync.Mutex
	mu       sync.Mutex
	timers   map[string]*typingTimer
	observed map[string]string
	closed   bool

	store   *store.Adapter
	timeout time.Duration
	logger  *zap.Logger
}

func NewPresence(adapter *store.Adapter, timeout time.Duration, logger *zap.Logger) *Presence {
	if timeout <= 0 {
		timeout = DefaultTypingTimeout
	}
	return &Presence{
		timers:   make(map[string]*typingTimer),
		observed: make(map[string]string),
		store:    adapter,
		timeout:  timeout,
		logger:   logger,
	}
}

// KeyStroke publishes that userID is typing when text is not blank and clears
// the slot otherwise. Every call rearms the inactivity timer.
func (p *Presence) KeyStroke(ctx context.Context, conversationID, userID, text string) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	if prev, ok := p.timers[conversationID]; ok {
		prev.t.Stop()
	}
	entry := &typingTimer{}
	p.timers[conversationID] = entry
	entry.t = time.AfterFunc(p.timeout, func() { p.expire(conversationID, entry) })
	p.mu.Unlock()

	if strings.TrimSpace(text) != "" {
		p.store.SetTyping(ctx, conversationID, userID)
	} else {
		p.store.ClearTyping(ctx, conversationID)
	}
}

func (p *Presence) expire(conversationID string, entry *typingTimer) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	p.mu.Lock()
	if p.timers[conversationID] != entry {
		p.mu.Unlock()
		return
	}
	delete(p.timers, conversationID)
	p.mu.Unlock()

	p.logger.Debug("Typing slot expired", zap.String("conversation_id", conversationID))
	p.store.ClearTyping(context.Background(), conversationID)
}

// Sent clears the slot right away after a message went out.
func (p *Presence) Sent(ctx context.Context, conversationID string) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	p.mu.Lock()
	if entry, ok := p.timers[conversationID]; ok {
		entry.t.Stop()
		delete(p.timers, conversationID)
	}
	p.mu.Unlock()
	p.store.ClearTyping(ctx, conversationID)
}

// Observe records a slot change made by another session. It reports whether
// the observed value changed.
func (p *Presence) Observe(conversationID, userID string, present bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev, had := p.observed[conversationID]
	if !present || userID == "" {
		delete(p.observed, conversationID)
		return had
	}
	p.observed[conversationID] = userID
	return !had || prev != userID
}

// Watch primes the observed slot from the store when a conversation is opened.
func (p *Presence) Watch(ctx context.Context, conversationID string) {
	userID, ok := p.store.Typing(ctx, conversationID)
	p.Observe(conversationID, userID, ok)
}

// IsOtherTyping reports whether someone other than viewerID holds the slot.
func (p *Presence) IsOtherTyping(conversationID, viewerID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	who, ok := p.observed[conversationID]
	return ok && who != viewerID
}

// TypingUser returns who holds the observed slot of a conversation.
func (p *Presence) TypingUser(conversationID string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	who, ok := p.observed[conversationID]
	return who, ok
}

// Close stops the timers and removes slots still held by userID.
func (p *Presence) Close(ctx context.Context, userID string) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	owned := make([]string, 0, len(p.timers))
	for id, entry := range p.timers {
		entry.t.Stop()
		owned = append(owned, id)
	}
	p.timers = map[string]*typingTimer{}
	p.mu.Unlock()

	for _, id := range owned {
		if who, ok := p.store.Typing(ctx, id); ok && who == userID {
			p.store.ClearTyping(ctx, id)
		}
	}
}
