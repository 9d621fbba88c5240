package models

// TrackingPhase is the coarse phase of the tracking state machine
type TrackingPhase int

const (
	TrackingStopped TrackingPhase = iota
	TrackingStarting
	TrackingActive
	TrackingDegraded
)

func (p TrackingPhase) String() string {
	switch p {
	case TrackingStopped:
		return "Stopped"
	case TrackingStarting:
		return "Starting"
	case TrackingActive:
		return "Active"
	case TrackingDegraded:
		return "Degraded"
	default:
		return "Unknown"
	}
}

// DegradedReason explains a Degraded phase
type DegradedReason string

const (
	ReasonNone              DegradedReason = ""
	ReasonPermissionDenied  DegradedReason = "PermissionDenied"
	ReasonSourceUnavailable DegradedReason = "SourceUnavailable"
)

// TrackingState is what callers observe of the tracking service
type TrackingState struct {
	Phase  TrackingPhase  `json:"phase"`
	Reason DegradedReason `json:"reason,omitempty"`
}

var (
	StateStopped  = TrackingState{Phase: TrackingStopped}
	StateStarting = TrackingState{Phase: TrackingStarting}
	StateActive   = TrackingState{Phase: TrackingActive}
)

// DegradedState returns the Degraded state for a reason
func DegradedState(reason DegradedReason) TrackingState {
	return TrackingState{Phase: TrackingDegraded, Reason: reason}
}

// CanStart reports whether start() is allowed from this state
func (s TrackingState) CanStart() bool {
	return s.Phase == TrackingStopped || s.Phase == TrackingDegraded
}

func (s TrackingState) String() string {
	if s.Phase == TrackingDegraded {
		return "Degraded(" + string(s.Reason) + ")"
	}
	return s.Phase.String()
}
