package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Channel carries every change as JSON; handles drop their own.
	Channel string
}

// RedisOpener shares one client between all handles. Values live under
// plain keys; changes are published on Channel in the same transaction.
type RedisOpener struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

func NewRedisOpener(ctx context.Context, cfg RedisConfig, logger *zap.Logger) (*RedisOpener, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.Addr, err)
	}
	return &RedisOpener{client: client, channel: cfg.Channel, logger: logger}, nil
}

func (o *RedisOpener) Open(ctx context.Context) (Store, error) {
	return &RedisStore{
		client:  o.client,
		channel: o.channel,
		origin:  uuid.NewString(),
		logger:  o.logger,
		bc:      newBroadcaster(),
	}, nil
}

func (o *RedisOpener) Close() error {
	return o.client.Close()
}

type RedisStore struct {
	client  *redis.Client
	channel string
	origin  string
	logger  *zap.Logger
	bc      *broadcaster

	mu     sync.Mutex
	pubsub *redis.PubSub
	wg     sync.WaitGroup
	closed bool
}

func (s *RedisStore) Origin() string { return s.origin }

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	return s.write(ctx, Change{Key: key, Value: value, Origin: s.origin})
}

func (s *RedisStore) Remove(ctx context.Context, key string) error {
	return s.write(ctx, Change{Key: key, Deleted: true, Origin: s.origin})
}

func (s *RedisStore) write(ctx context.Context, c Change) error {
	if s.isClosed() {
		return ErrClosed
	}
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode change: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if c.Deleted {
			pipe.Del(ctx, c.Key)
		} else {
			pipe.Set(ctx, c.Key, c.Value, 0)
		}
		pipe.Publish(ctx, s.channel, payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write key %s: %w", c.Key, err)
	}
	return nil
}

func (s *RedisStore) Subscribe(ctx context.Context) (Subscription, error) {
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
	if s.pubsub == nil {
		ps := s.client.Subscribe(ctx, s.channel)
		// Wait for the subscription confirmation so no change is missed after return.
		if _, err := ps.Receive(ctx); err != nil {
			ps.Close()
			sub.Close()
			return nil, fmt.Errorf("failed to subscribe to %s: %w", s.channel, err)
		}
		s.pubsub = ps
		s.wg.Add(1)
		go s.forward(ps.Channel())
	}
	return sub, nil
}

func (s *RedisStore) forward(ch <-chan *redis.Message) {
	defer s.wg.Done()
	for msg := range ch {
		var c Change
		if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
			s.logger.Warn("Dropping malformed change notification", zap.Error(err))
			continue
		}
		if c.Origin == s.origin {
			continue
		}
		s.bc.publish(c)
	}
}

func (s *RedisStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ps := s.pubsub
	s.mu.Unlock()

	s.bc.close()
	var err error
	if ps != nil {
		err = ps.Close()
	}
	s.wg.Wait()
	return err
}

func (s *RedisStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
