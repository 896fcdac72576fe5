package kv

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryHub is a process-local backend. Every handle opened on it sees the
// same data and is notified of the other handles' writes.
type MemoryHub struct {
	// pubMu orders writes and their fan-out so every handle observes
	// changes in the order they landed in data.
	pubMu   sync.Mutex
	mu      sync.RWMutex
	data    map[string]string
	handles map[*memoryStore]struct{}
}

func NewMemoryHub() *MemoryHub {
	return &MemoryHub{
		data:    make(map[string]string),
		handles: make(map[*memoryStore]struct{}),
	}
}

func (h *MemoryHub) Open(ctx context.Context) (Store, error) {
	s := &memoryStore{
		hub:    h,
		origin: uuid.NewString(),
		bc:     newBroadcaster(),
	}
	h.mu.Lock()
	h.handles[s] = struct{}{}
	h.mu.Unlock()
	return s, nil
}

func (h *MemoryHub) Close() error {
	h.mu.Lock()
	handles := make([]*memoryStore, 0, len(h.handles))
	for s := range h.handles {
		handles = append(handles, s)
	}
	h.mu.Unlock()
	for _, s := range handles {
		s.Close()
	}
	return nil
}

// Handles reports how many handles are open.
func (h *MemoryHub) Handles() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.handles)
}

func (h *MemoryHub) write(from *memoryStore, c Change) {
	h.pubMu.Lock()
	defer h.pubMu.Unlock()

	h.mu.Lock()
	if c.Deleted {
		delete(h.data, c.Key)
	} else {
		h.data[c.Key] = c.Value
	}
	peers := make([]*memoryStore, 0, len(h.handles))
	for s := range h.handles {
		if s != from {
			peers = append(peers, s)
		}
	}
	h.mu.Unlock()

	for _, p := range peers {
		p.bc.publish(c)
	}
}

type memoryStore struct {
	hub    *MemoryHub
	origin string
	bc     *broadcaster

	mu     sync.RWMutex
	closed bool
}

func (s *memoryStore) Origin() string { return s.origin }

func (s *memoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	if s.isClosed() {
		return "", false, ErrClosed
	}
	s.hub.mu.RLock()
	defer s.hub.mu.RUnlock()
	v, ok := s.hub.data[key]
	return v, ok, nil
}

func (s *memoryStore) Set(ctx context.Context, key, value string) error {
	if s.isClosed() {
		return ErrClosed
	}
	s.hub.write(s, Change{Key: key, Value: value, Origin: s.origin})
	return nil
}

func (s *memoryStore) Remove(ctx context.Context, key string) error {
	if s.isClosed() {
		return ErrClosed
	}
	s.hub.write(s, Change{Key: key, Deleted: true, Origin: s.origin})
	return nil
}

func (s *memoryStore) Subscribe(ctx context.Context) (Subscription, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	return s.bc.subscribe()
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.hub.mu.Lock()
	delete(s.hub.handles, s)
	s.hub.mu.Unlock()
	s.bc.close()
	return nil
}

func (s *memoryStore) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}
