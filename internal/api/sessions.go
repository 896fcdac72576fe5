package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"dcode.dev/mentor-hub/internal/core"
	"dcode.dev/mentor-hub/internal/store"
)

type managedSession struct {
	session *core.Session
	expires time.Time
}

// SessionManager keeps the sessions opened through the HTTP API, one per
// issued token. A session lives as long as its token; expired ones are closed
// on access and by the sweeper.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]managedSession
	deps     core.Deps
	ttl      time.Duration
	logger   *zap.Logger

	stop     chan struct{}
	stopOnce sync.Once
	sweeping sync.WaitGroup
}

func NewSessionManager(deps core.Deps, ttl time.Duration, logger *zap.Logger) *SessionManager {
	return &SessionManager{
		sessions: make(map[string]managedSession),
		deps:     deps,
		ttl:      ttl,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

func (m *SessionManager) Create(ctx context.Context) (*core.Session, error) {
	s, err := core.NewSession(ctx, m.deps)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.sessions[s.ID] = managedSession{session: s, expires: time.Now().Add(m.ttl)}
	m.mu.Unlock()
	return s, nil
}

func (m *SessionManager) Get(id string) (*core.Session, bool) {
	m.mu.RLock()
	entry, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if entry.session.Closed() || !time.Now().Before(entry.expires) {
		m.expire(context.Background(), id, entry.session)
		return nil, false
	}
	return entry.session, true
}

func (m *SessionManager) Remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Discard closes a session that never got a token.
func (m *SessionManager) Discard(ctx context.Context, s *core.Session) {
	m.Remove(s.ID)
	s.Close(ctx)
}

func (m *SessionManager) expire(ctx context.Context, id string, s *core.Session) {
	m.mu.Lock()
	entry, ok := m.sessions[id]
	if ok && entry.session == s {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if ok && entry.session == s && !s.Closed() {
		s.Close(ctx)
		m.logger.Info("Session expired", zap.String("session_id", id))
	}
}

// Sweep closes every expired session and reports how many it closed.
func (m *SessionManager) Sweep(ctx context.Context) int {
	now := time.Now()
	m.mu.Lock()
	var expired []*core.Session
	for id, entry := range m.sessions {
		if entry.session.Closed() || !now.Before(entry.expires) {
			expired = append(expired, entry.session)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		s.Close(ctx)
	}
	if len(expired) > 0 {
		m.logger.Info("Swept expired sessions", zap.Int("count", len(expired)))
	}
	return len(expired)
}

// StartSweeper runs Sweep every interval until CloseAll.
func (m *SessionManager) StartSweeper(interval time.Duration) {
	m.sweeping.Add(1)
	go func() {
		defer m.sweeping.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				m.Sweep(context.Background())
			}
		}
	}()
}

// Directory reads the current users record through a short-lived store handle.
func (m *SessionManager) Directory(ctx context.Context) ([]store.UserProfile, error) {
	handle, err := m.deps.Opener.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	defer handle.Close()
	dir := core.NewUserDirectory(ctx, store.NewAdapter(handle, m.logger), core.DefaultUsers(), m.logger)
	return dir.All(), nil
}

// CloseAll stops the sweeper and ends every session, used on shutdown.
func (m *SessionManager) CloseAll(ctx context.Context) {
	m.stopOnce.Do(func() { close(m.stop) })
	m.sweeping.Wait()

	m.mu.Lock()
	sessions := make([]*core.Session, 0, len(m.sessions))
	for _, entry := range m.sessions {
		sessions = append(sessions, entry.session)
	}
	m.sessions = make(map[string]managedSession)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close(ctx)
	}
	m.logger.Info("Closed sessions", zap.Int("count", len(sessions)))
}

func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
