package models

import "time"

// TrackingIntent is what the device owner last asked the tracker to do
type TrackingIntent string

const (
	IntentTracking TrackingIntent = "tracking"
	IntentStopped  TrackingIntent = "stopped"
)

// TrackingJournalEntry records a tracking intent and the state it produced,
// so an agent restart can pick up where it left off
type TrackingJournalEntry struct {
	ID         int64          `json:"id"`
	DeviceID   string         `json:"deviceId"`
	Intent     TrackingIntent `json:"intent"`
	State      string         `json:"state"`
	RecordedAt time.Time      `json:"recordedAt"`
}

// NewTrackingJournalEntry stamps an entry with the current time
func NewTrackingJournalEntry(deviceID string, intent TrackingIntent, state TrackingState) *TrackingJournalEntry {
	return &TrackingJournalEntry{
		DeviceID:   deviceID,
		Intent:     intent,
		State:      state.String(),
		RecordedAt: time.Now().UTC(),
	}
}

// WantsTracking reports whether the entry asks for tracking to be running
func (e *TrackingJournalEntry) WantsTracking() bool {
	return e != nil && e.Intent == IntentTracking
}
