package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"streamline/internal/models"
	"streamline/internal/observability/logging"
	"streamline/internal/pubsub"
)

const (
	wsWriteWait      = 10 * time.Second
	wsMaxMessageSize = 512
)

// SubscriptionsWS streams bus events to a websocket client. The kind query
// parameter selects the event kind; channel narrows it to one channel.
func (h *Handler) SubscriptionsWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r, http.MethodGet)
		return
	}
	query := r.URL.Query()
	kind, err := pubsub.ParseKind(query.Get("kind"))
	if err != nil {
		h.writeError(w, r, models.Validation("kind", err.Error()))
		return
	}
	channelID := strings.TrimSpace(query.Get("channel"))
	if channelID != "" {
		if _, err := h.Store.GetChannel(r.Context(), channelID); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	if h.Bus == nil {
		writeStatusError(w, http.StatusServiceUnavailable, "unavailable", errors.New("event bus unavailable"))
		return
	}

	topic := pubsub.SubscribeTopic(kind, channelID)
	sub, err := h.Bus.Subscribe(r.Context(), topic)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer sub.Close()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.WithContext(r.Context(), h.Logger).Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	h.Metrics.SubscriberConnected(string(kind))
	defer h.Metrics.SubscriberDisconnected(string(kind))
	logging.WithContext(r.Context(), h.Logger).Debug("subscriber connected", "topic", topic)

	h.pumpSubscription(conn, sub)
}

// pumpSubscription forwards bus messages until either side goes away. The
// read loop only exists to process control frames and notice disconnects.
func (h *Handler) pumpSubscription(conn *websocket.Conn, sub pubsub.Subscription) {
	pongWait := h.pingInterval * 2
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(wsMaxMessageSize)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.Logger.Debug("subscriber read failed", "error", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case msg, ok := <-sub.Messages():
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "subscription closed"))
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
