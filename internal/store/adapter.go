package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"dcode.dev/mentor-hub/internal/kv"
	"dcode.dev/mentor-hub/internal/metrics"
)

const (
	UsersKey         = "dcode-app-users"
	ConversationsKey = "dcode-app-conversations"
	typingKeyPrefix  = "typing-"
)

var ErrInvalidRecord = errors.New("invalid persisted record")

// TypingKey is the slot that holds who is typing in a conversation.
func TypingKey(conversationID string) string { return typingKeyPrefix + conversationID }

// ConversationIDFromTypingKey reports whether key is a typing slot and for which conversation.
func ConversationIDFromTypingKey(key string) (string, bool) {
	if !strings.HasPrefix(key, typingKeyPrefix) {
		return "", false
	}
	return strings.TrimPrefix(key, typingKeyPrefix), true
}

// Adapter is the only writer of the persisted records. Saves are best effort:
// failures are logged and counted, never returned.
type Adapter struct {
	kv     kv.Store
	logger *zap.Logger
}

func NewAdapter(store kv.Store, logger *zap.Logger) *Adapter {
	return &Adapter{kv: store, logger: logger}
}

// LoadUsers returns the user directory. When the record is missing or
// unreadable, defaults are returned and written back so the next load is stable.
func (a *Adapter) LoadUsers(ctx context.Context, defaults []UserProfile) []UserProfile {
	raw, ok, err := a.kv.Get(ctx, UsersKey)
	reason := ""
	switch {
	case err != nil:
		a.logger.Warn("Failed to read users, using defaults", zap.Error(err))
		reason = "error"
	case !ok:
		reason = "missing"
	default:
		users, err := DecodeUsers(raw)
		if err == nil {
			return users
		}
		a.logger.Warn("Failed to parse users, using defaults", zap.Error(err))
		reason = "corrupt"
	}

	metrics.StoreLoadFallbacksTotal.WithLabelValues("users", reason).Inc()
	users := make([]UserProfile, len(defaults))
	for i, u := range defaults {
		users[i] = u.Clone()
		users[i].Normalize()
	}
	a.SaveUsers(ctx, users)
	return users
}

// ReadUsers returns the stored users record as is. ok is false when it is
// missing or unreadable; nothing is written in that case.
func (a *Adapter) ReadUsers(ctx context.Context) ([]UserProfile, bool) {
	raw, ok, err := a.kv.Get(ctx, UsersKey)
	if err != nil {
		a.logger.Warn("Failed to read users", zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	users, err := DecodeUsers(raw)
	if err != nil {
		a.logger.Warn("Failed to parse users", zap.Error(err))
		return nil, false
	}
	return users, true
}

func (a *Adapter) SaveUsers(ctx context.Context, users []UserProfile) bool {
	if users == nil {
		users = []UserProfile{}
	}
	return a.save(ctx, UsersKey, "users", users)
}

// LoadConversations returns the conversation directory, or an empty one when
// the record is missing or unreadable.
func (a *Adapter) LoadConversations(ctx context.Context) map[string]*Conversation {
	raw, ok, err := a.kv.Get(ctx, ConversationsKey)
	switch {
	case err != nil:
		a.logger.Warn("Failed to read conversations, starting empty", zap.Error(err))
		metrics.StoreLoadFallbacksTotal.WithLabelValues("conversations", "error").Inc()
	case !ok:
		metrics.StoreLoadFallbacksTotal.WithLabelValues("conversations", "missing").Inc()
	default:
		convs, err := DecodeConversations(raw)
		if err == nil {
			return convs
		}
		a.logger.Warn("Failed to parse conversations, starting empty", zap.Error(err))
		metrics.StoreLoadFallbacksTotal.WithLabelValues("conversations", "corrupt").Inc()
	}
	return make(map[string]*Conversation)
}

func (a *Adapter) SaveConversations(ctx context.Context, convs map[string]*Conversation) bool {
	if convs == nil {
		convs = map[string]*Conversation{}
	}
	return a.save(ctx, ConversationsKey, "conversations", convs)
}

// SetTyping writes the typing slot of a conversation.
func (a *Adapter) SetTyping(ctx context.Context, conversationID, userID string) {
	if err := a.kv.Set(ctx, TypingKey(conversationID), userID); err != nil {
		a.logger.Warn("Failed to set typing slot", zap.String("conversation_id", conversationID), zap.Error(err))
	}
}

// ClearTyping removes the typing slot of a conversation.
func (a *Adapter) ClearTyping(ctx context.Context, conversationID string) {
	if err := a.kv.Remove(ctx, TypingKey(conversationID)); err != nil {
		a.logger.Warn("Failed to clear typing slot", zap.String("conversation_id", conversationID), zap.Error(err))
	}
}

// Typing returns who currently holds the typing slot, if anyone.
func (a *Adapter) Typing(ctx context.Context, conversationID string) (string, bool) {
	v, ok, err := a.kv.Get(ctx, TypingKey(conversationID))
	if err != nil {
		a.logger.Warn("Failed to read typing slot", zap.String("conversation_id", conversationID), zap.Error(err))
		return "", false
	}
	return v, ok && v != ""
}

func (a *Adapter) save(ctx context.Context, key, record string, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		a.logger.Error("Failed to encode record", zap.String("record", record), zap.Error(err))
		metrics.StoreWritesTotal.WithLabelValues(record, "error").Inc()
		return false
	}
	if err := a.kv.Set(ctx, key, string(data)); err != nil {
		a.logger.Warn("Failed to save record", zap.String("record", record), zap.Error(err))
		metrics.StoreWritesTotal.WithLabelValues(record, "error").Inc()
		return false
	}
	metrics.StoreWritesTotal.WithLabelValues(record, "ok").Inc()
	return true
}

// DecodeUsers parses the users record.
func DecodeUsers(raw string) ([]UserProfile, error) {
	var users []UserProfile
	if err := json.Unmarshal([]byte(raw), &users); err != nil {
		return nil, fmt.Errorf("%w: users: %v", ErrInvalidRecord, err)
	}
	if users == nil {
		return nil, fmt.Errorf("%w: users: not an array", ErrInvalidRecord)
	}
	for i := range users {
		if users[i].ID == "" {
			return nil, fmt.Errorf("%w: users[%d] has no id", ErrInvalidRecord, i)
		}
		users[i].Normalize()
	}
	return users, nil
}

// DecodeConversations parses the conversations record. Message timestamps
// are rebuilt from their RFC 3339 text.
func DecodeConversations(raw string) (map[string]*Conversation, error) {
	var convs map[string]*Conversation
	if err := json.Unmarshal([]byte(raw), &convs); err != nil {
		return nil, fmt.Errorf("%w: conversations: %v", ErrInvalidRecord, err)
	}
	if convs == nil {
		return nil, fmt.Errorf("%w: conversations: not an object", ErrInvalidRecord)
	}
	for id, c := range convs {
		if c == nil || c.ID != id {
			return nil, fmt.Errorf("%w: conversation %q does not match its key", ErrInvalidRecord, id)
		}
		if c.Messages == nil {
			c.Messages = []ChatMessage{}
		}
		for i, m := range c.Messages {
			if m.Timestamp.IsZero() {
				return nil, fmt.Errorf("%w: conversation %q message %d has no timestamp", ErrInvalidRecord, id, i)
			}
		}
		for i := range c.Participants {
			c.Participants[i].Normalize()
		}
	}
	return convs, nil
}

// EncodeConversations is the exact text SaveConversations writes.
func EncodeConversations(convs map[string]*Conversation) (string, error) {
	data, err := json.Marshal(convs)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
