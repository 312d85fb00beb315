package wsocket

import (
	"context"
	"log"
	"net/http"
	"time"

	"villaops_go_backend/internal/models"
	"villaops_go_backend/internal/utils/broker"

	"github.com/gorilla/websocket"
)

// Handler mirrors the turn runner's event stream over a websocket so a
// second tab (or a reconnecting client) can watch a conversation live. The
// SSE response remains the canonical transport; this is a read-only feed.
type Handler struct {
	upgrader     websocket.Upgrader
	broker       *broker.Broker
	pingInterval time.Duration
}

func NewHandler(upgrader websocket.Upgrader, messageBroker *broker.Broker, pingInterval time.Duration) *Handler {
	return &Handler{
		upgrader:     upgrader,
		broker:       messageBroker,
		pingInterval: pingInterval,
	}
}

func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request, user interface{}) {
	conversationID := r.URL.Query().Get("conversation_id")
	if conversationID == "" {
		http.Error(w, "No conversation_id provided", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Error upgrading connection: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	userID := user.(*models.User).ID.String()
	eventChan := h.broker.Subscribe("conversation:" + conversationID)
	defer h.broker.Unsubscribe("conversation:"+conversationID, eventChan)
	usageChan := h.broker.Subscribe("usage:" + userID)
	defer h.broker.Unsubscribe("usage:"+userID, usageChan)

	// Reader drains client frames so close handshakes are noticed.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-eventChan:
			if !ok {
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("Error forwarding conversation event: %v", err)
				return
			}
		case msg, ok := <-usageChan:
			if !ok {
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}
