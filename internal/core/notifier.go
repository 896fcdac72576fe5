package core

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"dcode.dev/mentor-hub/internal/kv"
	"dcode.dev/mentor-hub/internal/metrics"
	"dcode.dev/mentor-hub/internal/store"
)

// Notifier applies changes other sessions make to the shared store. The users
// and conversations records replace the local directories wholesale, typing
// slots feed presence, and everything else is ignored.
type Notifier struct {
	sub      kv.Subscription
	users    *UserDirectory
	convs    *ConversationService
	presence *Presence
	emit     func(Event)
	logger   *zap.Logger

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func StartNotifier(ctx context.Context, s kv.Store, users *UserDirectory, convs *ConversationService, presence *Presence, emit func(Event), logger *zap.Logger) (*Notifier, error) {
	sub, err := s.Subscribe(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to store changes: %w", err)
	}
	n := &Notifier{
		sub:      sub,
		users:    users,
		convs:    convs,
		presence: presence,
		emit:     emit,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go n.run()
	return n, nil
}

func (n *Notifier) run() {
	defer close(n.done)
	for {
		select {
		case <-n.stop:
			return
		case c := <-n.sub.Changes():
			n.apply(c)
		}
	}
}

func (n *Notifier) apply(c kv.Change) {
	if c.Key == store.UsersKey {
		if c.Deleted {
			metrics.CrossTabEventsTotal.WithLabelValues("users", "ignored").Inc()
			return
		}
		users, err := store.DecodeUsers(c.Value)
		if err != nil {
			n.logger.Warn("Dropping invalid users change", zap.String("origin", c.Origin), zap.Error(err))
			metrics.CrossTabEventsTotal.WithLabelValues("users", "invalid").Inc()
			return
		}
		n.users.Replace(users)
		metrics.CrossTabEventsTotal.WithLabelValues("users", "applied").Inc()
		n.emit(Event{Type: EventUsersReplaced})
		return
	}

	if c.Key == store.ConversationsKey {
		if c.Deleted {
			metrics.CrossTabEventsTotal.WithLabelValues("conversations", "ignored").Inc()
			return
		}
		convs, err := store.DecodeConversations(c.Value)
		if err != nil {
			n.logger.Warn("Dropping invalid conversations change", zap.String("origin", c.Origin), zap.Error(err))
			metrics.CrossTabEventsTotal.WithLabelValues("conversations", "invalid").Inc()
			return
		}
		n.convs.Replace(convs)
		metrics.CrossTabEventsTotal.WithLabelValues("conversations", "applied").Inc()
		n.emit(Event{Type: EventConversationsReplaced})
		return
	}

	if id, ok := store.ConversationIDFromTypingKey(c.Key); ok {
		present := !c.Deleted && c.Value != ""
		if n.presence.Observe(id, c.Value, present) {
			n.emit(Event{Type: EventTyping, ConversationID: id, UserID: c.Value, Typing: present})
		}
		metrics.CrossTabEventsTotal.WithLabelValues("typing", "applied").Inc()
		return
	}

	metrics.CrossTabEventsTotal.WithLabelValues("other", "ignored").Inc()
}

// Stop unsubscribes and waits for the loop to exit.
func (n *Notifier) Stop() {
	n.stopOnce.Do(func() {
		close(n.stop)
		<-n.done
		if err := n.sub.Close(); err != nil {
			n.logger.Warn("Failed to close store subscription", zap.Error(err))
		}
	})
}
