package core

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dcode.dev/mentor-hub/internal/metrics"
	"dcode.dev/mentor-hub/internal/store"
)

const (
	conversationIDSeparator = "-"
	groupChatTitle          = "Group Chat"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNoParticipants       = errors.New("a conversation needs at least one other participant")
)

// ConversationID is the canonical id of a participant set: the sorted unique
// ids joined with "-". Any permutation yields the same id.
func ConversationID(participantIDs []string) string {
	seen := make(map[string]struct{}, len(participantIDs))
	ids := make([]string, 0, len(participantIDs))
	for _, id := range participantIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return strings.Join(ids, conversationIDSeparator)
}

// ConversationService owns a session's conversation directory. Conversations
// are copy-on-write: a change replaces the *Conversation in the map, so
// snapshots handed out or persisted are never mutated afterwards.
type ConversationService struct {
	mu    sync.RWMutex
	convs map[string]*store.Conversation

	saveMu   sync.Mutex
	seq      uint64
	savedSeq uint64

	store  *store.Adapter
	logger *zap.Logger
	now    func() time.Time
}

func NewConversationService(ctx context.Context, adapter *store.Adapter, logger *zap.Logger) *ConversationService {
	return &ConversationService{
		convs:  adapter.LoadConversations(ctx),
		store:  adapter,
		logger: logger,
		now:    time.Now,
	}
}

// StartOrGetConversation returns the id of the conversation between current
// and others, creating it if it does not exist yet.
func (s *ConversationService) StartOrGetConversation(ctx context.Context, current store.UserProfile, others []store.UserProfile) (string, error) {
	participants := []store.UserProfile{current.Public()}
	seen := map[string]struct{}{current.ID: {}}
	for _, o := range others {
		if _, ok := seen[o.ID]; ok {
			continue
		}
		seen[o.ID] = struct{}{}
		participants = append(participants, o.Public())
	}
	if len(participants) < 2 {
		return "", ErrNoParticipants
	}

	ids := make([]string, len(participants))
	for i, p := range participants {
		ids[i] = p.ID
	}
	id := ConversationID(ids)

	s.mu.Lock()
	if _, ok := s.convs[id]; ok {
		s.mu.Unlock()
		return id, nil
	}
	conv := &store.Conversation{
		ID:           id,
		Participants: participants,
		Messages:     []store.ChatMessage{},
		IsGroupChat:  len(participants) > 2,
	}
	s.convs[id] = conv
	seq, snapshot := s.snapshotLocked()
	s.mu.Unlock()

	kind := "direct"
	if conv.IsGroupChat {
		kind = "group"
	}
	metrics.ConversationsStartedTotal.WithLabelValues(kind).Inc()
	s.logger.Info("Conversation started", zap.String("conversation_id", id), zap.Int("participants", len(participants)))

	s.persist(ctx, seq, snapshot)
	return id, nil
}

// AppendMessage adds a message read by its sender. Unknown ids are ignored.
func (s *ConversationService) AppendMessage(ctx context.Context, conversationID, senderID, senderName, text string) (store.ChatMessage, bool) {
	msg := store.ChatMessage{
		ID:         uuid.NewString(),
		SenderID:   senderID,
		SenderName: senderName,
		Text:       text,
		Timestamp:  s.now(),
		ReadBy:     map[string]bool{senderID: true},
	}

	s.mu.Lock()
	conv, ok := s.convs[conversationID]
	if !ok {
		s.mu.Unlock()
		s.logger.Debug("Ignoring message for unknown conversation", zap.String("conversation_id", conversationID))
		return store.ChatMessage{}, false
	}
	next := *conv
	next.Messages = make([]store.ChatMessage, len(conv.Messages), len(conv.Messages)+1)
	copy(next.Messages, conv.Messages)
	next.Messages = append(next.Messages, msg)
	s.convs[conversationID] = &next
	seq, snapshot := s.snapshotLocked()
	s.mu.Unlock()

	metrics.MessagesAppendedTotal.Inc()
	s.persist(ctx, seq, snapshot)
	return msg.Clone(), true
}

// MarkRead flags every message not sent by readerID as read by readerID. It
// reports whether anything changed; an unchanged call neither persists nor
// replaces the conversation.
func (s *ConversationService) MarkRead(ctx context.Context, conversationID, readerID string) bool {
	s.mu.Lock()
	conv, ok := s.convs[conversationID]
	if !ok {
		s.mu.Unlock()
		return false
	}

	var messages []store.ChatMessage
	marked := 0
	for i, m := range conv.Messages {
		if m.SenderID == readerID || m.ReadBy[readerID] {
			continue
		}
		if messages == nil {
			messages = make([]store.ChatMessage, len(conv.Messages))
			copy(messages, conv.Messages)
		}
		updated := m.Clone()
		if updated.ReadBy == nil {
			updated.ReadBy = map[string]bool{}
		}
		updated.ReadBy[readerID] = true
		messages[i] = updated
		marked++
	}
	if marked == 0 {
		s.mu.Unlock()
		return false
	}

	next := *conv
	next.Messages = messages
	s.convs[conversationID] = &next
	seq, snapshot := s.snapshotLocked()
	s.mu.Unlock()

	metrics.ReadReceiptsTotal.Add(float64(marked))
	s.persist(ctx, seq, snapshot)
	return true
}

// Replace swaps in a directory received from another session. It is not
// saved again.
func (s *ConversationService) Replace(convs map[string]*store.Conversation) {
	if convs == nil {
		convs = map[string]*store.Conversation{}
	}
	s.mu.Lock()
	s.convs = convs
	s.mu.Unlock()
}

// Get returns a copy of a conversation.
func (s *ConversationService) Get(conversationID string) (*store.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.convs[conversationID]
	if !ok {
		return nil, false
	}
	return conv.Clone(), true
}

func (s *ConversationService) Exists(conversationID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.convs[conversationID]
	return ok
}

// ForParticipant returns copies of the conversations viewerID takes part in.
func (s *ConversationService) ForParticipant(viewerID string) []*store.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*store.Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		if c.HasParticipant(viewerID) {
			out = append(out, c.Clone())
		}
	}
	return out
}

// UnreadCount is the global badge for viewerID.
func (s *ConversationService) UnreadCount(viewerID string) int {
	return UnreadCountFor(viewerID, s.ForParticipant(viewerID))
}

// UnreadCountFor counts messages not sent by viewerID and not flagged read by them.
func UnreadCountFor(viewerID string, convs []*store.Conversation) int {
	total := 0
	for _, c := range convs {
		total += unreadIn(viewerID, c)
	}
	return total
}

func unreadIn(viewerID string, c *store.Conversation) int {
	n := 0
	for _, m := range c.Messages {
		if m.SenderID != viewerID && !m.ReadBy[viewerID] {
			n++
		}
	}
	return n
}

// IsReadByOthers reports whether every participant other than viewerID has read msg.
func IsReadByOthers(msg store.ChatMessage, c *store.Conversation, viewerID string) bool {
	others := c.Others(viewerID)
	if len(others) == 0 || msg.ReadBy == nil {
		return false
	}
	for _, p := range others {
		if !msg.ReadBy[p.ID] {
			return false
		}
	}
	return true
}

type ConversationSummary struct {
	ID          string              `json:"id"`
	Title       string              `json:"title"`
	IsGroupChat bool                `json:"isGroupChat"`
	Others      []store.UserProfile `json:"others"`
	LastMessage *store.ChatMessage  `json:"lastMessage,omitempty"`
	UnreadCount int                 `json:"unreadCount"`
}

// Summaries lists viewerID's conversations, most recent message first and
// conversations without messages last.
func (s *ConversationService) Summaries(viewerID string) []ConversationSummary {
	convs := s.ForParticipant(viewerID)
	sort.SliceStable(convs, func(i, j int) bool {
		a, aok := convs[i].LastMessage()
		b, bok := convs[j].LastMessage()
		switch {
		case !aok && !bok:
			return convs[i].ID < convs[j].ID
		case !aok:
			return false
		case !bok:
			return true
		}
		return a.Timestamp.After(b.Timestamp)
	})

	out := make([]ConversationSummary, 0, len(convs))
	for _, c := range convs {
		sum := ConversationSummary{
			ID:          c.ID,
			Title:       conversationTitle(c, viewerID),
			IsGroupChat: c.IsGroupChat,
			Others:      c.Others(viewerID),
			UnreadCount: unreadIn(viewerID, c),
		}
		if last, ok := c.LastMessage(); ok {
			sum.LastMessage = &last
		}
		out = append(out, sum)
	}
	return out
}

func conversationTitle(c *store.Conversation, viewerID string) string {
	if c.IsGroupChat {
		return groupChatTitle
	}
	others := c.Others(viewerID)
	names := make([]string, len(others))
	for i, p := range others {
		names[i] = p.Name
	}
	return strings.Join(names, ", ")
}

func (s *ConversationService) snapshotLocked() (uint64, map[string]*store.Conversation) {
	s.seq++
	snapshot := make(map[string]*store.Conversation, len(s.convs))
	for id, c := range s.convs {
		snapshot[id] = c
	}
	return s.seq, snapshot
}

func (s *ConversationService) persist(ctx context.Context, seq uint64, convs map[string]*store.Conversation) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	if seq <= s.savedSeq {
		return
	}
	s.savedSeq = seq
	s.store.SaveConversations(ctx, convs)
}
