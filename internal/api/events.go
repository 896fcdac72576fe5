package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"dcode.dev/mentor-hub/internal/core"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client messages accepted on the event socket.
const (
	ClientMessageTyping = "typing"
	ClientMessageRead   = "read"
)

type ClientMessage struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
	Text           string `json:"text,omitempty"`
}

// EventsHandler upgrades to a websocket that streams the session's events
// and accepts keystrokes and read acknowledgements.
func (h *APIHandler) EventsHandler(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r)
	// Subscribe before the handshake completes so no event falls in between.
	events, unsubscribe := s.Events()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		unsubscribe()
		h.logger.Warn("WebSocket upgrade failed", zap.String("session_id", s.ID), zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	go h.writePump(conn, events, cancel)
	h.readPump(ctx, conn, s)
	unsubscribe()
	cancel()
}

func (h *APIHandler) readPump(ctx context.Context, conn *websocket.Conn, s *core.Session) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("WebSocket error", zap.String("session_id", s.ID), zap.Error(err))
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Debug("Invalid websocket message", zap.String("session_id", s.ID), zap.Error(err))
			continue
		}
		switch msg.Type {
		case ClientMessageTyping:
			if err := s.KeyStroke(ctx, msg.ConversationID, msg.Text); err != nil {
				h.logger.Debug("Keystroke rejected", zap.String("session_id", s.ID), zap.Error(err))
			}
		case ClientMessageRead:
			s.MarkRead(ctx, msg.ConversationID)
		default:
			h.logger.Debug("Unknown websocket message type", zap.String("type", msg.Type))
		}
	}
}

// writePump forwards events until the session's stream closes or a write
// fails. It closes the connection on exit so readPump returns too.
func (h *APIHandler) writePump(conn *websocket.Conn, events <-chan core.Event, cancel context.CancelFunc) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cancel()
		conn.Close()
	}()

	for {
		select {
		case e, ok := <-events:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(e); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
