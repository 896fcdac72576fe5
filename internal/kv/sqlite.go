package kv

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"go.uber.org/zap"
)

// SQLiteOpener opens handles onto a single SQLite database file. Each handle
// owns exactly one connection so that PRAGMA data_version reports commits made
// by the other handles (and other processes) only.
type SQLiteOpener struct {
	path         string
	pollInterval time.Duration
	logger       *zap.Logger
}

func NewSQLiteOpener(path string, pollInterval time.Duration, logger *zap.Logger) (*SQLiteOpener, error) {
	o := &SQLiteOpener{path: path, pollInterval: pollInterval, logger: logger}

	// Fail fast on a bad path and create the schema once.
	s, err := o.open()
	if err != nil {
		return nil, err
	}
	if err := s.Close(); err != nil {
		return nil, fmt.Errorf("failed to close bootstrap connection: %w", err)
	}
	return o, nil
}

func (o *SQLiteOpener) Open(ctx context.Context) (Store, error) {
	return o.open()
}

func (o *SQLiteOpener) Close() error { return nil }

func (o *SQLiteOpener) open() (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", o.path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{
		db:           db,
		origin:       uuid.NewString(),
		pollInterval: o.pollInterval,
		logger:       o.logger,
		bc:           newBroadcaster(),
		stop:         make(chan struct{}),
	}
	if err = store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

type SQLiteStore struct {
	db           *sql.DB
	origin       string
	pollInterval time.Duration
	logger       *zap.Logger
	bc           *broadcaster

	mu          sync.Mutex
	snapshot    map[string]string // last known contents, kept while watching
	dataVersion int64
	watching    bool
	closed      bool
	stop        chan struct{}
	wg          sync.WaitGroup
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS kv_entries (
        key TEXT PRIMARY KEY,
        value TEXT NOT NULL,
        updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Origin() string { return s.origin }

func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv_entries WHERE key = ?", key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to query key %s: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	_, err := s.db.ExecContext(ctx, `
        INSERT INTO kv_entries (key, value, updated_at) VALUES (?, ?, ?)
        ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now())
	if err != nil {
		return fmt.Errorf("failed to write key %s: %w", key, err)
	}
	if s.snapshot != nil {
		s.snapshot[key] = value
	}
	return nil
}

func (s *SQLiteStore) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv_entries WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	if s.snapshot != nil {
		delete(s.snapshot, key)
	}
	return nil
}

func (s *SQLiteStore) Subscribe(ctx context.Context) (Subscription, error) {
	sub, err := s.bc.subscribe()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		sub.Close()
		return nil, ErrClosed
	}
	if !s.watching {
		if err := s.primeLocked(ctx); err != nil {
			sub.Close()
			return nil, err
		}
		s.watching = true
		s.wg.Add(1)
		go s.watch()
	}
	return sub, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.stop)
	s.mu.Unlock()

	// Closing subscriptions first unblocks a watcher stuck in publish.
	s.bc.close()
	s.wg.Wait()
	return s.db.Close()
}

func (s *SQLiteStore) primeLocked(ctx context.Context) error {
	version, err := s.readDataVersion(ctx)
	if err != nil {
		return err
	}
	entries, err := s.readAll(ctx)
	if err != nil {
		return err
	}
	s.dataVersion = version
	s.snapshot = entries
	return nil
}

func (s *SQLiteStore) watch() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			changes, err := s.poll()
			if err != nil {
				s.logger.Warn("Failed to poll sqlite for changes", zap.Error(err))
				continue
			}
			for _, c := range changes {
				s.bc.publish(c)
			}
		}
	}
}

// poll diffs the table against the snapshot when another connection committed.
func (s *SQLiteStore) poll() ([]Change, error) {
	ctx := context.Background()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil
	}

	version, err := s.readDataVersion(ctx)
	if err != nil {
		return nil, err
	}
	if version == s.dataVersion {
		return nil, nil
	}
	s.dataVersion = version

	current, err := s.readAll(ctx)
	if err != nil {
		return nil, err
	}

	var changes []Change
	for k, v := range current {
		if old, ok := s.snapshot[k]; !ok || old != v {
			changes = append(changes, Change{Key: k, Value: v})
		}
	}
	for k := range s.snapshot {
		if _, ok := current[k]; !ok {
			changes = append(changes, Change{Key: k, Deleted: true})
		}
	}
	s.snapshot = current
	return changes, nil
}

func (s *SQLiteStore) readDataVersion(ctx context.Context) (int64, error) {
	var version int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA data_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read data_version: %w", err)
	}
	return version, nil
}

func (s *SQLiteStore) readAll(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM kv_entries")
	if err != nil {
		return nil, fmt.Errorf("failed to query kv_entries: %w", err)
	}
	defer rows.Close()

	entries := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan kv row: %w", err)
		}
		entries[k] = v
	}
	return entries, rows.Err()
}
