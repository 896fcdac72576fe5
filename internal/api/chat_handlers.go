package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"dcode.dev/mentor-hub/internal/store"
)

func urlParam(r *http.Request, key string) string {
	return chi.URLParam(r, key)
}

type StartChatRequest struct {
	ParticipantIDs []string `json:"participant_ids"`
}

type StartChatResponse struct {
	ConversationID string `json:"conversation_id"`
}

func (h *APIHandler) StartChatHandler(w http.ResponseWriter, r *http.Request) {
	var req StartChatRequest
	if !decode(w, r, &req) {
		return
	}
	id, err := sessionFrom(r).StartChat(r.Context(), req.ParticipantIDs)
	if err != nil {
		h.writeError(w, err, "Failed to start chat")
		return
	}
	writeJSON(w, http.StatusCreated, StartChatResponse{ConversationID: id})
}

func (h *APIHandler) ListConversationsHandler(w http.ResponseWriter, r *http.Request) {
	summaries, err := sessionFrom(r).Conversations()
	if err != nil {
		h.writeError(w, err, "Failed to list conversations")
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

type ConversationResponse struct {
	*store.Conversation
	OtherTyping bool `json:"otherTyping"`
}

func (h *APIHandler) GetConversationHandler(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r)
	id := urlParam(r, "conversationID")
	conv, err := s.Conversation(id)
	if err != nil {
		h.writeError(w, err, "Failed to get conversation")
		return
	}
	writeJSON(w, http.StatusOK, ConversationResponse{Conversation: conv, OtherTyping: s.IsOtherTyping(id)})
}

// OpenConversationHandler makes the conversation the active chat and marks
// it read.
func (h *APIHandler) OpenConversationHandler(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r)
	if err := s.OpenConversation(r.Context(), urlParam(r, "conversationID")); err != nil {
		h.writeError(w, err, "Failed to open conversation")
		return
	}
	writeJSON(w, http.StatusOK, s.State())
}

type TextRequest struct {
	Text string `json:"text"`
}

func (h *APIHandler) PostMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req TextRequest
	if !decode(w, r, &req) {
		return
	}
	msg, err := sessionFrom(r).SendMessage(r.Context(), urlParam(r, "conversationID"), req.Text)
	if err != nil {
		h.writeError(w, err, "Failed to post message")
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *APIHandler) MarkReadHandler(w http.ResponseWriter, r *http.Request) {
	sessionFrom(r).MarkRead(r.Context(), urlParam(r, "conversationID"))
	w.WriteHeader(http.StatusNoContent)
}

// TypingHandler receives the current draft on every keystroke.
func (h *APIHandler) TypingHandler(w http.ResponseWriter, r *http.Request) {
	var req TextRequest
	if !decode(w, r, &req) {
		return
	}
	if err := sessionFrom(r).KeyStroke(r.Context(), urlParam(r, "conversationID"), req.Text); err != nil {
		h.writeError(w, err, "Failed to record typing")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) IcebreakersHandler(w http.ResponseWriter, r *http.Request) {
	got, err := sessionFrom(r).Icebreakers(r.Context(), urlParam(r, "conversationID"))
	if err != nil {
		h.writeError(w, err, "Failed to suggest icebreakers")
		return
	}
	if got == nil {
		got = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"icebreakers": got})
}

func (h *APIHandler) SuggestReplyHandler(w http.ResponseWriter, r *http.Request) {
	reply, err := sessionFrom(r).SuggestReply(r.Context(), urlParam(r, "conversationID"))
	if err != nil {
		h.writeError(w, err, "Failed to suggest reply")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"reply": reply})
}

func (h *APIHandler) AssistantHistoryHandler(w http.ResponseWriter, r *http.Request) {
	history := sessionFrom(r).AssistantHistory()
	if history == nil {
		history = []store.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, history)
}

func (h *APIHandler) AskAssistantHandler(w http.ResponseWriter, r *http.Request) {
	var req TextRequest
	if !decode(w, r, &req) {
		return
	}
	reply, err := sessionFrom(r).AskAssistant(r.Context(), req.Text)
	if err != nil {
		h.writeError(w, err, "Failed to ask assistant")
		return
	}
	writeJSON(w, http.StatusOK, reply)
}
