package models

import "strings"

const (
	// ActionRingAlarm is the push data action that rings the target device
	ActionRingAlarm = "RING_ALARM"
	// SendAlarmCallable is the name of the remote procedure
	SendAlarmCallable = "sendAlarm"

	AlarmNotificationTitle = "Emergency Alert"
	AlarmNotificationBody  = "You have received an emergency alarm!"
)

// Push data keys
const (
	PushKeyAction       = "action"
	PushKeyTimestamp    = "timestamp"
	PushKeyTargetUserID = "targetUserId"
)

// AlarmRequest asks the backend to ring another user's device
type AlarmRequest struct {
	TargetUserID string `json:"targetUserId"`
}

// Valid reports whether the request names a target
func (r AlarmRequest) Valid() bool {
	return strings.TrimSpace(r.TargetUserID) != ""
}

// Payload returns the callable payload
func (r AlarmRequest) Payload() map[string]interface{} {
	return map[string]interface{}{
		PushKeyTargetUserID: r.TargetUserID,
	}
}

// AlarmOutcome classifies an alarm send
type AlarmOutcome string

const (
	AlarmSent             AlarmOutcome = "sent"
	AlarmInvalidTarget    AlarmOutcome = "invalid_target"
	AlarmTransportFailure AlarmOutcome = "transport_failure"
	AlarmRemoteRejected   AlarmOutcome = "remote_rejected"
)

// AlarmResult is the single outcome type callers receive for an alarm send
type AlarmResult struct {
	Outcome      AlarmOutcome `json:"outcome"`
	Success      bool         `json:"success"`
	MessageID    string       `json:"messageId,omitempty"`
	ErrorMessage string       `json:"errorMessage,omitempty"`
}

// AlarmReply is the structured reply of the sendAlarm callable
type AlarmReply struct {
	Success      bool   `json:"success"`
	MessageID    string `json:"messageId,omitempty"`
	Error        string `json:"error,omitempty"`
	TargetUserID string `json:"targetUserId,omitempty"`
}

// AlarmReplyFromMap decodes a reply delivered as a generic map
func AlarmReplyFromMap(m map[string]interface{}) AlarmReply {
	reply := AlarmReply{
		MessageID:    asString(m["messageId"]),
		Error:        asString(m["error"]),
		TargetUserID: asString(m[PushKeyTargetUserID]),
	}
	if ok, isBool := m["success"].(bool); isBool {
		reply.Success = ok
	}
	return reply
}

// IsAlarmPush reports whether a push data payload is an alarm
func IsAlarmPush(data map[string]string) bool {
	return data[PushKeyAction] == ActionRingAlarm
}
