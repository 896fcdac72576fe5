package core

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"dcode.dev/mentor-hub/internal/store"
)

// StartChat opens (creating if needed) the conversation between the current
// user and participantIDs, and makes it the active one. Unknown ids are skipped.
func (s *Session) StartChat(ctx context.Context, participantIDs []string) (string, error) {
	current, err := s.CurrentUser()
	if err != nil {
		return "", err
	}
	others := s.users.Lookup(participantIDs)
	id, err := s.convs.StartOrGetConversation(ctx, current, others)
	if err != nil {
		return "", err
	}
	s.activate(ctx, id)
	return id, nil
}

// OpenConversation makes an existing conversation the active one and marks
// it read.
func (s *Session) OpenConversation(ctx context.Context, conversationID string) error {
	current, err := s.CurrentUser()
	if err != nil {
		return err
	}
	conv, ok := s.convs.Get(conversationID)
	if !ok || !conv.HasParticipant(current.ID) {
		return ErrConversationNotFound
	}
	s.activate(ctx, conversationID)
	s.MarkRead(ctx, conversationID)
	return nil
}

func (s *Session) activate(ctx context.Context, conversationID string) {
	s.mu.Lock()
	s.activeConversation = conversationID
	s.view = ViewChat
	s.mu.Unlock()

	s.presence.Watch(ctx, conversationID)
	s.events.publish(Event{Type: EventViewChanged, View: ViewChat, ConversationID: conversationID})
}

// Conversation returns a conversation the current user takes part in.
func (s *Session) Conversation(conversationID string) (*store.Conversation, error) {
	current, err := s.CurrentUser()
	if err != nil {
		return nil, err
	}
	conv, ok := s.convs.Get(conversationID)
	if !ok || !conv.HasParticipant(current.ID) {
		return nil, ErrConversationNotFound
	}
	return conv, nil
}

func (s *Session) Conversations() ([]ConversationSummary, error) {
	current, err := s.CurrentUser()
	if err != nil {
		return nil, err
	}
	return s.convs.Summaries(current.ID), nil
}

// SendMessage appends text as the current user and clears their typing slot.
func (s *Session) SendMessage(ctx context.Context, conversationID, text string) (store.ChatMessage, error) {
	current, err := s.CurrentUser()
	if err != nil {
		return store.ChatMessage{}, err
	}
	if strings.TrimSpace(text) == "" {
		return store.ChatMessage{}, &ValidationError{Field: "text", Message: "message text is required"}
	}
	if conv, ok := s.convs.Get(conversationID); !ok || !conv.HasParticipant(current.ID) {
		return store.ChatMessage{}, ErrConversationNotFound
	}
	msg, ok := s.convs.AppendMessage(ctx, conversationID, current.ID, current.Name, text)
	if !ok {
		return store.ChatMessage{}, ErrConversationNotFound
	}

	s.mu.Lock()
	delete(s.icebreakers, conversationID)
	s.mu.Unlock()

	s.presence.Sent(ctx, conversationID)
	s.events.publish(Event{Type: EventConversationUpdated, ConversationID: conversationID})
	return msg, nil
}

// MarkRead flags the conversation read for the current user.
func (s *Session) MarkRead(ctx context.Context, conversationID string) bool {
	current, err := s.CurrentUser()
	if err != nil {
		return false
	}
	if !s.convs.MarkRead(ctx, conversationID, current.ID) {
		return false
	}
	s.events.publish(Event{Type: EventConversationUpdated, ConversationID: conversationID})
	return true
}

// KeyStroke reports the current draft. Typing dismisses the icebreakers.
func (s *Session) KeyStroke(ctx context.Context, conversationID, text string) error {
	current, err := s.CurrentUser()
	if err != nil {
		return err
	}
	if _, err := s.Conversation(conversationID); err != nil {
		return err
	}
	if strings.TrimSpace(text) != "" {
		s.mu.Lock()
		delete(s.icebreakers, conversationID)
		s.mu.Unlock()
	}
	s.presence.KeyStroke(ctx, conversationID, current.ID, text)
	return nil
}

// IsOtherTyping answers the typing indicator of a conversation.
func (s *Session) IsOtherTyping(conversationID string) bool {
	current, err := s.CurrentUser()
	if err != nil {
		return false
	}
	return s.presence.IsOtherTyping(conversationID, current.ID)
}

// Icebreakers suggests openers for a new direct chat started by a mentee.
// It returns none when the conversation already has messages, is a group,
// or the current user only mentors.
func (s *Session) Icebreakers(ctx context.Context, conversationID string) ([]string, error) {
	conv, err := s.Conversation(conversationID)
	if err != nil {
		return nil, err
	}
	current, err := s.CurrentUser()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	cached, ok := s.icebreakers[conversationID]
	s.mu.Unlock()
	if ok {
		return append([]string{}, cached...), nil
	}

	others := conv.Others(current.ID)
	if len(conv.Messages) > 0 || current.Role == store.RoleMentor || conv.IsGroupChat || len(others) == 0 {
		return []string{}, nil
	}

	if err := s.begin(ControlIcebreakers); err != nil {
		return nil, err
	}
	defer s.end(ControlIcebreakers)

	suggestions := s.gateway.Icebreakers(ctx, current, others[0])
	s.mu.Lock()
	s.icebreakers[conversationID] = suggestions
	s.mu.Unlock()
	return append([]string{}, suggestions...), nil
}

// SuggestReply drafts a reply in the voice of the other participant.
func (s *Session) SuggestReply(ctx context.Context, conversationID string) (string, error) {
	conv, err := s.Conversation(conversationID)
	if err != nil {
		return "", err
	}
	current, err := s.CurrentUser()
	if err != nil {
		return "", err
	}
	if err := s.begin(ControlReply); err != nil {
		return "", err
	}
	defer s.end(ControlReply)

	return s.gateway.SuggestReply(ctx, conv.Messages, current, conv.Others(current.ID)), nil
}

// AssistantHistory returns the assistant panel's messages for this session.
func (s *Session) AssistantHistory() []store.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.ChatMessage{}, s.assistant...)
}

// AskAssistant adds the question to the assistant panel and appends the
// assistant's answer. The history lives only in the session.
func (s *Session) AskAssistant(ctx context.Context, text string) (store.ChatMessage, error) {
	current, err := s.CurrentUser()
	if err != nil {
		return store.ChatMessage{}, err
	}
	if strings.TrimSpace(text) == "" {
		return store.ChatMessage{}, &ValidationError{Field: "text", Message: "message text is required"}
	}
	if err := s.begin(ControlAssistant); err != nil {
		return store.ChatMessage{}, err
	}
	defer s.end(ControlAssistant)

	question := store.ChatMessage{
		ID:         uuid.NewString(),
		SenderID:   current.ID,
		SenderName: current.Name,
		Text:       text,
		Timestamp:  time.Now(),
	}
	s.mu.Lock()
	s.assistant = append(s.assistant, question)
	history := append([]store.ChatMessage{}, s.assistant...)
	s.mu.Unlock()
	s.events.publish(Event{Type: EventAssistantMessage})

	reply := store.ChatMessage{
		ID:         uuid.NewString(),
		SenderID:   AssistantSenderID,
		SenderName: AssistantSenderName,
		Text:       s.gateway.AssistantReply(ctx, history),
		Timestamp:  time.Now(),
	}
	s.mu.Lock()
	if !s.closed {
		s.assistant = append(s.assistant, reply)
	}
	s.mu.Unlock()
	s.events.publish(Event{Type: EventAssistantMessage})
	return reply, nil
}
