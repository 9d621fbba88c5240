package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/securetrack/server/internal/observability"
)

// PushListener receives push data messages from the server's websocket
// feed and hands them to an AlarmReceiver. It reconnects until stopped.
type PushListener struct {
	wsURL    string
	bearer   BearerSource
	receiver *AlarmReceiver
	dialer   *websocket.Dialer
	minWait  time.Duration
	maxWait  time.Duration
}

// NewPushListener creates a listener for the feed at serverURL (http or https)
func NewPushListener(serverURL string, bearer BearerSource, receiver *AlarmReceiver) (*PushListener, error) {
	u, err := url.Parse(strings.TrimRight(serverURL, "/") + "/api/ws")
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	q := u.Query()
	q.Set("feeds", TopicPush)
	u.RawQuery = q.Encode()

	return &PushListener{
		wsURL:    u.String(),
		bearer:   bearer,
		receiver: receiver,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		minWait:  time.Second,
		maxWait:  time.Minute,
	}, nil
}

// Run connects and listens until ctx is done
func (l *PushListener) Run(ctx context.Context) error {
	wait := l.minWait
	for {
		connected, err := l.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			wait = l.minWait
		}
		observability.Warnf("Push feed disconnected: %v; reconnecting in %s", err, wait)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
		if wait *= 2; wait > l.maxWait {
			wait = l.maxWait
		}
	}
}

// listen runs one connection. It reports whether the dial succeeded.
func (l *PushListener) listen(ctx context.Context) (bool, error) {
	header := http.Header{}
	if token := l.bearer.BearerToken(); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := l.dialer.DialContext(ctx, l.wsURL, header)
	if err != nil {
		if resp != nil {
			return false, fmt.Errorf("dial failed with status %d: %w", resp.StatusCode, err)
		}
		return false, err
	}
	defer conn.Close()
	observability.Info("Connected to push feed")

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}

		var msg struct {
			Type    string            `json:"type"`
			Payload map[string]string `json:"payload"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			observability.Debugf("Ignoring unreadable feed message: %v", err)
			continue
		}
		if msg.Type != WSTypePush {
			continue
		}
		l.receiver.OnPush(msg.Payload)
	}
}
