// Package kv provides the shared key-value store that sessions persist to and
// observe each other through. A Store is one handle (one origin) onto a shared
// backend; changes are only ever reported to the other handles.
package kv

import (
	"context"
	"errors"
	"sync"
)

var ErrClosed = errors.New("kv: store closed")

// Change describes a write made by another handle.
type Change struct {
	Key     string `json:"key"`
	Value   string `json:"value,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`
	Origin  string `json:"origin"`
}

type Subscription interface {
	Changes() <-chan Change
	Close() error
}

type Store interface {
	// Origin identifies this handle in the changes it produces.
	Origin() string
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	// Subscribe delivers changes made by other handles only.
	Subscribe(ctx context.Context) (Subscription, error)
	Close() error
}

// Opener creates new handles onto the same backend.
type Opener interface {
	Open(ctx context.Context) (Store, error)
	Close() error
}

const subscriptionBuffer = 64

type subscription struct {
	ch     chan Change
	done   chan struct{}
	once   sync.Once
	parent *broadcaster
}

func (s *subscription) Changes() <-chan Change { return s.ch }

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.parent.remove(s)
		close(s.done)
	})
	return nil
}

// broadcaster fans changes out to the subscriptions of a single handle.
type broadcaster struct {
	mu     sync.Mutex
	subs   map[*subscription]struct{}
	closed bool
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[*subscription]struct{})}
}

func (b *broadcaster) subscribe() (*subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	s := &subscription{
		ch:     make(chan Change, subscriptionBuffer),
		done:   make(chan struct{}),
		parent: b,
	}
	b.subs[s] = struct{}{}
	return s, nil
}

func (b *broadcaster) remove(s *subscription) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
}

func (b *broadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// publish blocks until every live subscription accepted the change; it never
// holds the lock while sending.
func (b *broadcaster) publish(c Change) {
	b.mu.Lock()
	subs := make([]*subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- c:
		case <-s.done:
		}
	}
}

func (b *broadcaster) close() {
	b.mu.Lock()
	subs := make([]*subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.closed = true
	b.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
}
