package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/securetrack/server/internal/middleware"
	"github.com/securetrack/server/internal/observability"
	"github.com/securetrack/server/internal/services"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketHandler serves the push and presence feeds
type WebSocketHandler struct {
	hub      *services.WebSocketHub
	presence *services.PresenceSync
}

// NewWebSocketHandler creates a new WebSocketHandler
func NewWebSocketHandler(hub *services.WebSocketHub, presence *services.PresenceSync) *WebSocketHandler {
	return &WebSocketHandler{
		hub:      hub,
		presence: presence,
	}
}

// HandleConnection upgrades HTTP to WebSocket and manages the connection.
// The feeds query parameter (comma separated: push, presence) picks the
// initial subscriptions; both are on by default.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserIDFromContext(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "Session token is required.")
		return
	}

	feeds := parseFeeds(r.URL.Query().Get("feeds"))

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		observability.Warnf("WebSocket upgrade failed: %v", err)
		return
	}

	client := h.hub.NewClient(uuid.New().String(), userID, conn)
	if feeds[services.TopicPush] {
		client.Topics[services.TopicPush] = true
	}
	h.hub.Register(client)

	session := &feedSession{handler: h, client: client}
	defer session.stopPresence()
	if feeds[services.TopicPresence] {
		session.startPresence()
	}

	observability.WithFields(map[string]interface{}{
		"client_id": client.ID,
		"user_id":   userID,
	}).Info("Feed client connected")

	go client.WritePump()

	// Blocks until the connection closes
	client.ReadPump(session.handleMessage)
}

func parseFeeds(raw string) map[string]bool {
	feeds := make(map[string]bool)
	if raw == "" {
		feeds[services.TopicPush] = true
		feeds[services.TopicPresence] = true
		return feeds
	}
	for _, f := range strings.Split(raw, ",") {
		switch f = strings.TrimSpace(f); f {
		case services.TopicPush, services.TopicPresence:
			feeds[f] = true
		}
	}
	return feeds
}

// feedSession is the per-connection state of one feed client
type feedSession struct {
	handler *WebSocketHandler
	client  *services.WSClient

	mu             sync.Mutex
	presenceCancel context.CancelFunc
	presenceDone   chan struct{}
}

// startPresence streams presence snapshots for the client's user until
// stopPresence is called or the client disconnects
func (s *feedSession) startPresence() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.presenceCancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	snapshots, err := s.handler.presence.Observe(ctx, s.client.UserID)
	if err != nil {
		cancel()
		observability.WithField("user_id", s.client.UserID).Errorf("Failed to start presence feed: %v", err)
		s.client.SendMessage(services.WSMessage{Type: services.WSTypeError, Payload: "presence feed unavailable"})
		return
	}

	done := make(chan struct{})
	s.presenceCancel = cancel
	s.presenceDone = done

	go func() {
		defer close(done)
		clientDone := s.client.Done()
		for {
			select {
			case snap, ok := <-snapshots:
				if !ok {
					return
				}
				s.client.SendMessage(services.NewPresenceMessage(snap))
			case <-clientDone:
				clientDone = nil
				cancel()
			}
		}
	}()
}

func (s *feedSession) stopPresence() {
	s.mu.Lock()
	cancel, done := s.presenceCancel, s.presenceDone
	s.presenceCancel, s.presenceDone = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// handleMessage processes incoming WebSocket messages
func (s *feedSession) handleMessage(client *services.WSClient, messageType int, data []byte) {
	if messageType != websocket.TextMessage {
		return
	}

	var msg services.WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		observability.Debugf("Invalid WebSocket message: %v", err)
		return
	}

	switch msg.Type {
	case services.WSTypeSubscribe:
		switch topicOf(msg.Payload) {
		case services.TopicPush:
			s.handler.hub.Subscribe(client, services.TopicPush)
		case services.TopicPresence:
			s.startPresence()
		}

	case services.WSTypeUnsubscribe:
		switch topicOf(msg.Payload) {
		case services.TopicPush:
			s.handler.hub.Unsubscribe(client, services.TopicPush)
		case services.TopicPresence:
			s.stopPresence()
		}

	case services.WSTypePing:
		client.SendMessage(services.WSMessage{Type: services.WSTypePong})

	default:
		observability.Debugf("Unknown WebSocket message type: %s", msg.Type)
	}
}

func topicOf(payload interface{}) string {
	if topic, ok := payload.(string); ok {
		return topic
	}
	if m, ok := payload.(map[string]interface{}); ok {
		if topic, ok := m["topic"].(string); ok {
			return topic
		}
	}
	return ""
}
