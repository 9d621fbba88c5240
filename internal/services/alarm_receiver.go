package services

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/securetrack/server/internal/models"
	"github.com/securetrack/server/internal/observability"
)

// NotificationPriority is how urgently a notification is shown
type NotificationPriority string

const (
	PriorityHigh    NotificationPriority = "high"
	PriorityDefault NotificationPriority = "default"
)

// ActionOpenMainUI is the activation intent of an alarm notification
const ActionOpenMainUI = "open_main_ui"

// Notification is a local notification to show the user
type Notification struct {
	Title      string               `json:"title"`
	Body       string               `json:"body"`
	Priority   NotificationPriority `json:"priority"`
	OnActivate string               `json:"onActivate"`
	Data       map[string]string    `json:"data,omitempty"`
	ReceivedAt time.Time            `json:"receivedAt"`
}

// NotificationSink renders notifications on the host
type NotificationSink interface {
	Show(n Notification)
}

// AlarmReceiver turns alarm pushes into local notifications. Each push
// yields at most one notification; duplicates are not suppressed.
type AlarmReceiver struct {
	sink    NotificationSink
	metrics *observability.AlarmMetrics
}

// NewAlarmReceiver creates a receiver. metrics may be nil.
func NewAlarmReceiver(sink NotificationSink, metrics *observability.AlarmMetrics) *AlarmReceiver {
	return &AlarmReceiver{sink: sink, metrics: metrics}
}

// OnPush handles one push data payload and reports whether it rang
func (r *AlarmReceiver) OnPush(payload map[string]string) bool {
	rang := models.IsAlarmPush(payload)
	r.metrics.RecordPush(context.Background(), rang)
	if !rang {
		observability.WithField("action", payload[models.PushKeyAction]).Debug("Ignoring push")
		return false
	}

	data := make(map[string]string, len(payload))
	for k, v := range payload {
		data[k] = v
	}
	r.sink.Show(Notification{
		Title:      models.AlarmNotificationTitle,
		Body:       models.AlarmNotificationBody,
		Priority:   PriorityHigh,
		OnActivate: ActionOpenMainUI,
		Data:       data,
		ReceivedAt: time.Now().UTC(),
	})
	return true
}

// LogNotificationSink renders notifications as log lines, optionally
// ringing the terminal bell
type LogNotificationSink struct {
	mu   sync.Mutex
	bell io.Writer
}

// NewLogNotificationSink creates a sink. A nil bell writer disables the bell.
func NewLogNotificationSink(bell io.Writer) *LogNotificationSink {
	return &LogNotificationSink{bell: bell}
}

func (s *LogNotificationSink) Show(n Notification) {
	observability.WithFields(map[string]interface{}{
		"title":     n.Title,
		"priority":  n.Priority,
		"activate":  n.OnActivate,
		"sender_ts": n.Data[models.PushKeyTimestamp],
	}).Warn(n.Body)

	if s.bell == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.bell.Write([]byte("\a"))
}
