package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/securetrack/server/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newFeedServer serves /api/ws by registering every connection with hub
// under the user named in the bearer token
func newFeedServer(t *testing.T, hub *WebSocketHub) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/ws" {
			http.NotFound(w, r)
			return
		}
		userID := r.Header.Get("Authorization")[len("Bearer "):]
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := hub.NewClient("c-"+userID, userID, conn)
		client.Topics[r.URL.Query().Get("feeds")] = true
		hub.Register(client)
		go client.WritePump()
		go client.ReadPump(nil)
	}))
}

func TestPushListener(t *testing.T) {
	t.Run("alarm pushes reach the receiver", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		hub := NewWebSocketHub()
		go hub.Run(ctx)
		srv := newFeedServer(t, hub)
		defer srv.Close()

		sink := &recordingSink{}
		l, err := NewPushListener(srv.URL, NewStaticSession("bob", "bob"), NewAlarmReceiver(sink, nil))
		require.NoError(t, err)

		done := make(chan error, 1)
		go func() { done <- l.Run(ctx) }()

		require.Eventually(t, func() bool { return hub.GetUserConnectionCount("bob") == 1 }, waitTimeout, 10*time.Millisecond)

		hub.SendToUserTopic("bob", TopicPush, WSMessage{Type: WSTypePush, Payload: map[string]string{
			models.PushKeyAction: models.ActionRingAlarm,
		}})
		hub.SendToUserTopic("bob", TopicPush, WSMessage{Type: WSTypePush, Payload: map[string]string{
			models.PushKeyAction: "OTHER",
		}})
		hub.SendToUserTopic("alice", TopicPush, WSMessage{Type: WSTypePush, Payload: map[string]string{
			models.PushKeyAction: models.ActionRingAlarm,
		}})

		assert.Eventually(t, func() bool { return sink.count() == 1 }, waitTimeout, 10*time.Millisecond)
		assert.Never(t, func() bool { return sink.count() > 1 }, 100*time.Millisecond, 10*time.Millisecond)

		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(waitTimeout):
			t.Fatal("listener did not stop")
		}
	})

	t.Run("url scheme is mapped", func(t *testing.T) {
		l, err := NewPushListener("https://example.com/", NewStaticSession("", ""), nil)
		require.NoError(t, err)
		assert.Equal(t, "wss://example.com/api/ws?feeds=push", l.wsURL)

		_, err = NewPushListener("ftp://example.com", NewStaticSession("", ""), nil)
		assert.Error(t, err)
	})
}

func TestWebSocketHub(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewWebSocketHub()
	go hub.Run(ctx)

	a := hub.NewClient("a", "alice", nil)
	a.Topics[TopicPresence] = true
	b := hub.NewClient("b", "bob", nil)
	hub.Register(a)
	hub.Register(b)
	require.Eventually(t, func() bool { return hub.GetClientCount() == 2 }, waitTimeout, 10*time.Millisecond)

	t.Run("topic delivery", func(t *testing.T) {
		hub.BroadcastToTopic(TopicPresence, WSMessage{Type: WSTypePresence})
		select {
		case msg := <-a.send:
			assert.Contains(t, string(msg), `"presence"`)
		case <-time.After(waitTimeout):
			t.Fatal("no message for subscriber")
		}
		assert.Empty(t, b.send)
	})

	t.Run("subscribe and unsubscribe", func(t *testing.T) {
		hub.Subscribe(b, TopicPush)
		assert.True(t, hub.IsSubscribed(b, TopicPush))
		hub.SendToUserTopic("bob", TopicPush, WSMessage{Type: WSTypePush})
		select {
		case <-b.send:
		case <-time.After(waitTimeout):
			t.Fatal("no message after subscribe")
		}

		hub.Unsubscribe(b, TopicPush)
		assert.False(t, hub.IsSubscribed(b, TopicPush))
	})

	t.Run("shutdown closes client queues", func(t *testing.T) {
		cancel()
		require.Eventually(t, func() bool { return hub.GetClientCount() == 0 }, waitTimeout, 10*time.Millisecond)
		_, open := <-a.send
		assert.False(t, open)

		// sends after shutdown neither block nor panic
		hub.SendToUser("alice", WSMessage{Type: WSTypePush})
		assert.True(t, a.Deliver([]byte("late")))
	})
}

func TestNewPresenceMessage(t *testing.T) {
	snap := PresenceSnapshot{
		OwnerUserID: "alice",
		Members: map[string]models.UserPresence{
			"bob":   {UserID: "bob"},
			"alice": {UserID: "alice"},
		},
		Errors: []SubscriptionError{{Path: "users/bob", UserID: "bob", Err: errBoom}},
	}

	msg := NewPresenceMessage(snap)
	assert.Equal(t, WSTypePresence, msg.Type)
	payload := msg.Payload.(PresencePayload)
	members := payload.Members.([]interface{})
	require.Len(t, members, 2)
	assert.Equal(t, "alice", members[0].(models.UserPresence).UserID)
	assert.Equal(t, []string{"subscription to users/bob failed: boom"}, payload.Errors)
}
