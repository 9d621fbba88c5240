package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/securetrack/server/internal/observability"
)

// WSMessage represents a WebSocket message
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Message types
const (
	WSTypePush        = "push"
	WSTypePresence    = "presence"
	WSTypeError       = "error"
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
)

// Topics a client can subscribe to
const (
	TopicPush     = "push"
	TopicPresence = "presence"
)

// PresencePayload is the wire form of a PresenceSnapshot
type PresencePayload struct {
	OwnerUserID string      `json:"ownerUserId"`
	Members     interface{} `json:"members"`
	Errors      []string    `json:"errors,omitempty"`
}

// NewPresenceMessage wraps a snapshot for the presence feed
func NewPresenceMessage(snap PresenceSnapshot) WSMessage {
	members := make([]interface{}, 0, len(snap.Members))
	for _, id := range snap.UserIDs() {
		members = append(members, snap.Members[id])
	}
	return WSMessage{
		Type: WSTypePresence,
		Payload: PresencePayload{
			OwnerUserID: snap.OwnerUserID,
			Members:     members,
			Errors:      snap.ErrorMessages(),
		},
	}
}

// WSClient represents a connected WebSocket client
type WSClient struct {
	ID     string
	UserID string
	Topics map[string]bool
	Conn   *websocket.Conn

	send       chan []byte
	hub        *WebSocketHub
	writeMu    sync.Mutex
	sendMu     sync.RWMutex
	sendClosed bool
	closedOnce sync.Once
	closed     chan struct{}
}

// WebSocketHub tracks connected clients by user and topic
type WebSocketHub struct {
	clients    map[*WSClient]bool
	topics     map[string]map[*WSClient]bool // topic -> clients
	userConns  map[string]map[*WSClient]bool // userID -> clients
	register   chan *WSClient
	unregister chan *WSClient
	broadcast  chan *broadcastMsg
	done       chan struct{}
	mu         sync.RWMutex
}

type broadcastMsg struct {
	topic   string
	userID  string // if set, only clients of this user
	message []byte
}

// NewWebSocketHub creates a new WebSocket hub
func NewWebSocketHub() *WebSocketHub {
	return &WebSocketHub{
		clients:    make(map[*WSClient]bool),
		topics:     make(map[string]map[*WSClient]bool),
		userConns:  make(map[string]map[*WSClient]bool),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		broadcast:  make(chan *broadcastMsg, 256),
		done:       make(chan struct{}),
	}
}

// Run is the hub's main loop. It returns when ctx is done.
func (h *WebSocketHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				h.removeLocked(client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			if client.UserID != "" {
				if h.userConns[client.UserID] == nil {
					h.userConns[client.UserID] = make(map[*WSClient]bool)
				}
				h.userConns[client.UserID][client] = true
			}
			for topic := range client.Topics {
				if h.topics[topic] == nil {
					h.topics[topic] = make(map[*WSClient]bool)
				}
				h.topics[topic][client] = true
			}
			h.mu.Unlock()
			observability.WithField("client_id", client.ID).Debug("WebSocket client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			h.removeLocked(client)
			h.mu.Unlock()
			observability.WithField("client_id", client.ID).Debug("WebSocket client disconnected")

		case msg := <-h.broadcast:
			h.mu.RLock()
			var targets []*WSClient
			for client := range h.targetsLocked(msg) {
				targets = append(targets, client)
			}
			h.mu.RUnlock()

			for _, client := range targets {
				if !client.Deliver(msg.message) {
					observability.WithField("client_id", client.ID).Warn("WebSocket client too slow; disconnecting")
					go client.Close()
				}
			}
		}
	}
}

func (h *WebSocketHub) targetsLocked(msg *broadcastMsg) map[*WSClient]bool {
	switch {
	case msg.userID != "" && msg.topic != "":
		out := make(map[*WSClient]bool)
		for client := range h.userConns[msg.userID] {
			if h.topics[msg.topic][client] {
				out[client] = true
			}
		}
		return out
	case msg.userID != "":
		return h.userConns[msg.userID]
	case msg.topic != "":
		return h.topics[msg.topic]
	default:
		return h.clients
	}
}

func (h *WebSocketHub) removeLocked(client *WSClient) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	for topic := range client.Topics {
		if topicClients, ok := h.topics[topic]; ok {
			delete(topicClients, client)
			if len(topicClients) == 0 {
				delete(h.topics, topic)
			}
		}
	}
	if client.UserID != "" {
		if userClients, ok := h.userConns[client.UserID]; ok {
			delete(userClients, client)
			if len(userClients) == 0 {
				delete(h.userConns, client.UserID)
			}
		}
	}
	client.closeSend()
}

// Register adds a client to the hub
func (h *WebSocketHub) Register(client *WSClient) {
	select {
	case h.register <- client:
	case <-h.done:
		client.closeSend()
	}
}

// Unregister removes a client from the hub
func (h *WebSocketHub) Unregister(client *WSClient) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Subscribe adds a client to a topic
func (h *WebSocketHub) Subscribe(client *WSClient, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.Topics[topic] = true
	if _, live := h.clients[client]; !live {
		return
	}
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[*WSClient]bool)
	}
	h.topics[topic][client] = true
}

// Unsubscribe removes a client from a topic
func (h *WebSocketHub) Unsubscribe(client *WSClient, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(client.Topics, topic)
	if topicClients, ok := h.topics[topic]; ok {
		delete(topicClients, client)
		if len(topicClients) == 0 {
			delete(h.topics, topic)
		}
	}
}

// IsSubscribed reports whether the client is on a topic
func (h *WebSocketHub) IsSubscribed(client *WSClient, topic string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return client.Topics[topic]
}

// SendToUserTopic sends a message to a user's connections subscribed to topic
func (h *WebSocketHub) SendToUserTopic(userID, topic string, msg WSMessage) {
	h.enqueue(&broadcastMsg{userID: userID, topic: topic}, msg)
}

// SendToUser sends a message to all connections of a specific user
func (h *WebSocketHub) SendToUser(userID string, msg WSMessage) {
	h.enqueue(&broadcastMsg{userID: userID}, msg)
}

// BroadcastToTopic sends a message to all clients subscribed to a topic
func (h *WebSocketHub) BroadcastToTopic(topic string, msg WSMessage) {
	h.enqueue(&broadcastMsg{topic: topic}, msg)
}

func (h *WebSocketHub) enqueue(b *broadcastMsg, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		observability.Errorf("Error marshaling WebSocket message: %v", err)
		return
	}
	b.message = data

	select {
	case h.broadcast <- b:
	case <-h.done:
	}
}

// GetClientCount returns the number of connected clients
func (h *WebSocketHub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// GetUserConnectionCount returns the number of connections for a user
func (h *WebSocketHub) GetUserConnectionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.userConns[userID])
}

// NewClient creates a client for userID connected to this hub
func (h *WebSocketHub) NewClient(id, userID string, conn *websocket.Conn) *WSClient {
	return &WSClient{
		ID:     id,
		UserID: userID,
		Topics: make(map[string]bool),
		Conn:   conn,
		send:   make(chan []byte, 256),
		hub:    h,
		closed: make(chan struct{}),
	}
}

// Deliver queues raw data for the client. It reports false if the client's
// buffer is full.
func (c *WSClient) Deliver(data []byte) bool {
	c.sendMu.RLock()
	defer c.sendMu.RUnlock()
	if c.sendClosed {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// SendMessage marshals and queues a message for this client only
func (c *WSClient) SendMessage(msg WSMessage) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		observability.Errorf("Error marshaling WebSocket message: %v", err)
		return false
	}
	return c.Deliver(data)
}

// Done is closed once the client connection is closed
func (c *WSClient) Done() <-chan struct{} {
	return c.closed
}

func (c *WSClient) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.sendClosed {
		c.sendClosed = true
		close(c.send)
	}
}

// Close closes the client connection
func (c *WSClient) Close() {
	c.closedOnce.Do(func() {
		close(c.closed)
		c.hub.Unregister(c)
		c.closeSend()
		if c.Conn != nil {
			c.Conn.Close()
		}
	})
}

// WritePump pumps messages from the hub to the websocket connection
func (c *WSClient) WritePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			c.writeMu.Lock()
			err := c.Conn.WriteMessage(websocket.TextMessage, message)
			c.writeMu.Unlock()

			if err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ReadPump reads messages until the connection closes
func (c *WSClient) ReadPump(onMessage func(client *WSClient, messageType int, data []byte)) {
	defer c.Close()

	c.Conn.SetReadLimit(64 * 1024)
	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		messageType, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				observability.Warnf("WebSocket error: %v", err)
			}
			break
		}

		if onMessage != nil {
			onMessage(c, messageType, message)
		}
	}
}
