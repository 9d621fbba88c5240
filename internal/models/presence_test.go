package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLocationFix(t *testing.T) {
	t.Run("accepts valid coordinates", func(t *testing.T) {
		at := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
		fix, err := NewLocationFix(48.8566, 2.3522, at)

		require.NoError(t, err)
		assert.Equal(t, 48.8566, fix.Latitude)
		assert.Equal(t, 2.3522, fix.Longitude)
		assert.Equal(t, at, fix.CapturedAt)
	})

	t.Run("rejects out of range latitude", func(t *testing.T) {
		_, err := NewLocationFix(91, 0, time.Now())
		assert.ErrorIs(t, err, ErrInvalidLatitude)
	})

	t.Run("rejects out of range longitude", func(t *testing.T) {
		_, err := NewLocationFix(0, -181, time.Now())
		assert.ErrorIs(t, err, ErrInvalidLongitude)
	})

	t.Run("rejects missing capture time", func(t *testing.T) {
		_, err := NewLocationFix(0, 0, time.Time{})
		assert.ErrorIs(t, err, ErrMissingCaptureTime)
	})
}

func TestPresenceFromDocument(t *testing.T) {
	t.Run("decodes location update written by a device", func(t *testing.T) {
		captured := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
		seen := captured.Add(2 * time.Second)
		fix, err := NewLocationFix(40.7128, -74.0060, captured)
		require.NoError(t, err)

		doc := PresenceLocationUpdate(fix, seen)
		doc[FieldName] = "Alice"
		doc[FieldPushToken] = "token-1"

		p := PresenceFromDocument("alice", doc)

		assert.Equal(t, "alice", p.UserID)
		assert.Equal(t, "Alice", p.DisplayName)
		require.NotNil(t, p.LastLocation)
		assert.Equal(t, 40.7128, p.LastLocation.Latitude)
		assert.Equal(t, -74.0060, p.LastLocation.Longitude)
		assert.Equal(t, captured, p.LastLocation.CapturedAt)
		require.NotNil(t, p.LastSeenAt)
		assert.Equal(t, seen, *p.LastSeenAt)
		assert.True(t, p.HasPushToken())
	})

	t.Run("location update touches only location fields", func(t *testing.T) {
		fix, err := NewLocationFix(1, 2, time.Now())
		require.NoError(t, err)

		doc := PresenceLocationUpdate(fix, time.Now())

		assert.Len(t, doc, 2)
		assert.Contains(t, doc, FieldLastLocation)
		assert.Contains(t, doc, FieldLastSeen)
	})

	t.Run("handles missing document", func(t *testing.T) {
		p := PresenceFromDocument("bob", nil)
		assert.Equal(t, "bob", p.UserID)
		assert.Nil(t, p.LastLocation)
		assert.Nil(t, p.LastSeenAt)
		assert.False(t, p.HasPushToken())
	})

	t.Run("accepts json numbers and rfc3339 times", func(t *testing.T) {
		doc := map[string]interface{}{
			FieldLastLocation: map[string]interface{}{
				FieldLatitude:   float64(10),
				FieldLongitude:  float64(20),
				FieldCapturedAt: "2025-05-01T12:00:00Z",
			},
			FieldLastSeen: "2025-05-01T12:00:05Z",
		}

		p := PresenceFromDocument("carol", doc)

		require.NotNil(t, p.LastLocation)
		assert.Equal(t, 2025, p.LastLocation.CapturedAt.Year())
		require.NotNil(t, p.LastSeenAt)
		assert.Equal(t, 5, p.LastSeenAt.Second())
	})
}

func TestTrackingState(t *testing.T) {
	assert.True(t, StateStopped.CanStart())
	assert.True(t, DegradedState(ReasonPermissionDenied).CanStart())
	assert.False(t, StateStarting.CanStart())
	assert.False(t, StateActive.CanStart())

	assert.Equal(t, "Degraded(PermissionDenied)", DegradedState(ReasonPermissionDenied).String())
	assert.Equal(t, "Active", StateActive.String())
}

func TestPaths(t *testing.T) {
	assert.Equal(t, "users/u1", UserPath("u1"))
	assert.Equal(t, "users/u1/trustedContacts", TrustedContactsPath("u1"))
	assert.Equal(t, "users/u1/trustedContacts/u2", TrustedContactPath("u1", "u2"))
}
