package models

import (
	"encoding/json"
	"time"
)

// Store paths
const (
	UsersCollection           = "users"
	TrustedContactsCollection = "trustedContacts"
)

// Document field names shared with the mobile clients
const (
	FieldUID          = "uid"
	FieldUserIDLegacy = "userId"
	FieldName         = "name"
	FieldEmail        = "email"
	FieldLastLocation = "lastLocation"
	FieldLastSeen     = "lastSeen"
	FieldPushToken    = "fcmToken"
	FieldAddedAt      = "addedAt"
	FieldLatitude     = "latitude"
	FieldLongitude    = "longitude"
	FieldCapturedAt   = "capturedAt"
)

// UserPath returns the document path of a user's presence record
func UserPath(userID string) string {
	return UsersCollection + "/" + userID
}

// TrustedContactsPath returns the collection path of a user's trusted contacts
func TrustedContactsPath(ownerUserID string) string {
	return UserPath(ownerUserID) + "/" + TrustedContactsCollection
}

// TrustedContactPath returns the document path of a single trusted contact link
func TrustedContactPath(ownerUserID, contactUserID string) string {
	return TrustedContactsPath(ownerUserID) + "/" + contactUserID
}

func asString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// asTime accepts native timestamps, RFC3339 strings and epoch milliseconds
// (older clients wrote addedAt as milliseconds)
func asTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		return parsed, err == nil
	}
	if ms, ok := asFloat(v); ok {
		return time.UnixMilli(int64(ms)).UTC(), true
	}
	return time.Time{}, false
}
