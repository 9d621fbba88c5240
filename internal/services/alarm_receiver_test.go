package services

import (
	"bytes"
	"testing"

	"github.com/securetrack/server/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlarmReceiver_OnPush(t *testing.T) {
	t.Run("alarm push shows one high priority notification", func(t *testing.T) {
		sink := &recordingSink{}
		r := NewAlarmReceiver(sink, nil)

		rang := r.OnPush(map[string]string{
			models.PushKeyAction:       models.ActionRingAlarm,
			models.PushKeyTimestamp:    "1700000000000",
			models.PushKeyTargetUserID: "bob",
		})
		require.True(t, rang)
		require.Equal(t, 1, sink.count())

		n := sink.shown[0]
		assert.Equal(t, models.AlarmNotificationTitle, n.Title)
		assert.Equal(t, models.AlarmNotificationBody, n.Body)
		assert.Equal(t, PriorityHigh, n.Priority)
		assert.Equal(t, ActionOpenMainUI, n.OnActivate)
		assert.Equal(t, "1700000000000", n.Data[models.PushKeyTimestamp])
	})

	t.Run("other actions are ignored", func(t *testing.T) {
		sink := &recordingSink{}
		r := NewAlarmReceiver(sink, nil)

		assert.False(t, r.OnPush(map[string]string{models.PushKeyAction: "OTHER"}))
		assert.False(t, r.OnPush(map[string]string{}))
		assert.Equal(t, 0, sink.count())
	})

	t.Run("repeated alarms each notify", func(t *testing.T) {
		sink := &recordingSink{}
		r := NewAlarmReceiver(sink, nil)
		payload := map[string]string{models.PushKeyAction: models.ActionRingAlarm}

		r.OnPush(payload)
		r.OnPush(payload)
		assert.Equal(t, 2, sink.count())
	})
}

func TestLogNotificationSink(t *testing.T) {
	t.Run("rings the bell", func(t *testing.T) {
		var bell bytes.Buffer
		NewLogNotificationSink(&bell).Show(Notification{Title: "t", Body: "b"})
		assert.Equal(t, "\a", bell.String())
	})

	t.Run("nil bell is silent", func(t *testing.T) {
		assert.NotPanics(t, func() {
			NewLogNotificationSink(nil).Show(Notification{Title: "t", Body: "b"})
		})
	})
}
