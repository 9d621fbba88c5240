package models

import (
	"time"
)

// UserPresence is one user's record in the remote store. Each device only
// writes the location, lastSeen and push token fields of its own record.
type UserPresence struct {
	UserID       string       `json:"userId"`
	DisplayName  string       `json:"displayName"`
	LastLocation *LocationFix `json:"lastLocation,omitempty"`
	LastSeenAt   *time.Time   `json:"lastSeenAt,omitempty"`
	PushToken    string       `json:"-"` // Never expose push token
}

// PresenceFromDocument decodes a users/{id} document
func PresenceFromDocument(userID string, doc map[string]interface{}) UserPresence {
	p := UserPresence{UserID: userID}
	if doc == nil {
		return p
	}
	if uid := asString(doc[FieldUID]); uid != "" {
		p.UserID = uid
	}
	p.DisplayName = asString(doc[FieldName])
	p.PushToken = asString(doc[FieldPushToken])
	p.LastLocation = locationFromValue(doc[FieldLastLocation])
	if seen, ok := asTime(doc[FieldLastSeen]); ok {
		p.LastSeenAt = &seen
	}
	return p
}

// PresenceLocationUpdate builds the merge update for a fix publication.
// lastLocation and lastSeen always travel together in one write.
func PresenceLocationUpdate(fix LocationFix, seenAt time.Time) map[string]interface{} {
	return map[string]interface{}{
		FieldLastLocation: fix.toDocument(),
		FieldLastSeen:     seenAt.UTC(),
	}
}

// PushTokenUpdate builds the merge update for a refreshed push token
func PushTokenUpdate(token string) map[string]interface{} {
	return map[string]interface{}{
		FieldPushToken: token,
	}
}

// NewUserDocument builds the initial users/{id} document written at sign-up
func NewUserDocument(userID, displayName, email string) map[string]interface{} {
	return map[string]interface{}{
		FieldUID:       userID,
		FieldName:      displayName,
		FieldEmail:     email,
		FieldPushToken: nil,
	}
}

// HasPushToken reports whether the user can receive push deliveries
func (p UserPresence) HasPushToken() bool {
	return p.PushToken != ""
}
