package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/securetrack/server/internal/models"
	"github.com/securetrack/server/internal/observability"
	"github.com/securetrack/server/internal/repository"
	"github.com/securetrack/server/internal/store"
)

// ErrAlreadyTracking is reported by Start when tracking is Starting or Active
var ErrAlreadyTracking = errors.New("tracking already started")

// ErrNoSession is reported when a publish has no signed-in user
var ErrNoSession = errors.New("no active session")

// StartOutcome is the typed result of Start
type StartOutcome struct {
	State models.TrackingState
	Err   error
}

// Started reports whether Start left the service Active
func (o StartOutcome) Started() bool {
	return o.Err == nil && o.State.Phase == models.TrackingActive
}

// DiagnosticKind classifies a non-fatal tracking problem
type DiagnosticKind string

const (
	DiagnosticRemoteWriteFailed DiagnosticKind = "RemoteWriteFailed"
	DiagnosticNoSession         DiagnosticKind = "NoSession"
)

// TrackingDiagnostic is a non-fatal event surfaced to observers
type TrackingDiagnostic struct {
	Kind   DiagnosticKind
	UserID string
	Err    error
	At     time.Time
}

// TrackingServiceConfig configures a LocationTrackingService
type TrackingServiceConfig struct {
	DeviceID     string
	WriteTimeout time.Duration
}

// LocationTrackingService runs the tracking state machine and publishes
// fixes to the caller's presence document
type LocationTrackingService struct {
	gate    PermissionGate
	source  LocationSource
	store   store.RemoteStore
	session SessionProvider
	journal repository.TrackingJournalRepo
	metrics *observability.TrackingMetrics
	cfg     TrackingServiceConfig
	logger  *observability.Logger

	mu         sync.Mutex
	state      models.TrackingState
	listener   *trackingListener
	epoch      uint64
	subs       map[int]chan models.TrackingState
	nextSubID  int
	liveEpoch  atomic.Uint64
	writes     sync.WaitGroup
	writesMu   sync.Mutex
	closed     bool
	diagnostic chan TrackingDiagnostic
}

type trackingListener struct {
	svc   *LocationTrackingService
	epoch uint64
}

func (l *trackingListener) OnLocation(fix models.LocationFix) {
	l.svc.onFix(l.epoch, fix)
}

func (l *trackingListener) OnSourceLost(err error) {
	l.svc.onSourceLost(l.epoch, err)
}

// NewLocationTrackingService creates a stopped tracking service. journal and
// metrics may be nil.
func NewLocationTrackingService(
	gate PermissionGate,
	source LocationSource,
	remote store.RemoteStore,
	session SessionProvider,
	journal repository.TrackingJournalRepo,
	metrics *observability.TrackingMetrics,
	cfg TrackingServiceConfig,
) *LocationTrackingService {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 15 * time.Second
	}
	return &LocationTrackingService{
		gate:       gate,
		source:     source,
		store:      remote,
		session:    session,
		journal:    journal,
		metrics:    metrics,
		cfg:        cfg,
		logger:     observability.WithField("component", "tracking"),
		state:      models.StateStopped,
		subs:       make(map[int]chan models.TrackingState),
		diagnostic: make(chan TrackingDiagnostic, 32),
	}
}

// Start begins continuous tracking. It is allowed from Stopped or Degraded;
// otherwise the current state is returned with ErrAlreadyTracking.
func (s *LocationTrackingService) Start(ctx context.Context) StartOutcome {
	ctx, span := observability.StartServiceSpan(ctx, "LocationTrackingService", "Start")
	defer span.End()

	s.mu.Lock()
	if !s.state.CanStart() {
		state := s.state
		s.mu.Unlock()
		return StartOutcome{State: state, Err: ErrAlreadyTracking}
	}

	if !s.gate.HasAccess() {
		s.setStateLocked(ctx, models.DegradedState(models.ReasonPermissionDenied))
		s.mu.Unlock()
		s.logger.Warn("Tracking not started: location permission denied")
		s.record(ctx, models.IntentTracking, models.DegradedState(models.ReasonPermissionDenied))
		return StartOutcome{State: models.DegradedState(models.ReasonPermissionDenied)}
	}

	s.setStateLocked(ctx, models.StateStarting)
	s.epoch++
	listener := &trackingListener{svc: s, epoch: s.epoch}

	if err := s.source.RequestUpdates(DefaultUpdateConfig, listener); err != nil {
		state := models.DegradedState(models.ReasonSourceUnavailable)
		s.setStateLocked(ctx, state)
		s.mu.Unlock()
		observability.RecordError(span, err)
		s.logger.WithContext(ctx).Errorf("Location source registration failed: %v", err)
		s.record(ctx, models.IntentTracking, state)
		return StartOutcome{State: state}
	}

	s.listener = listener
	s.setStateLocked(ctx, models.StateActive)
	s.liveEpoch.Store(listener.epoch)
	s.mu.Unlock()

	observability.SetSuccess(span)
	s.logger.WithContext(ctx).Info("Location tracking started")
	s.record(ctx, models.IntentTracking, models.StateActive)
	return StartOutcome{State: models.StateActive}
}

// Stop unregisters from the source and returns to Stopped. Calling it again
// is a no-op. Writes already in flight may still land afterwards.
func (s *LocationTrackingService) Stop() {
	s.mu.Lock()
	wasStopped := s.state == models.StateStopped
	s.unregisterLocked()
	s.setStateLocked(context.Background(), models.StateStopped)
	s.mu.Unlock()

	if !wasStopped {
		s.logger.Info("Location tracking stopped")
		s.record(context.Background(), models.IntentStopped, models.StateStopped)
	}
}

// OnPermissionRevoked is the host's signal that location access was lost
func (s *LocationTrackingService) OnPermissionRevoked() {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state.Phase {
	case models.TrackingStarting, models.TrackingActive:
		s.unregisterLocked()
		s.setStateLocked(context.Background(), models.DegradedState(models.ReasonPermissionDenied))
		s.logger.Warn("Location tracking degraded: permission revoked")
	}
}

// Resume restarts tracking if the journal says tracking was wanted when
// the process last ran
func (s *LocationTrackingService) Resume(ctx context.Context) (StartOutcome, bool, error) {
	if s.journal == nil {
		return StartOutcome{State: s.State()}, false, nil
	}

	entry, err := s.journal.Latest(ctx, s.cfg.DeviceID)
	if err != nil {
		return StartOutcome{State: s.State()}, false, err
	}
	if !entry.WantsTracking() {
		return StartOutcome{State: s.State()}, false, nil
	}

	s.logger.WithField("last_state", entry.State).Info("Resuming location tracking")
	return s.Start(ctx), true, nil
}

// RequestSingleFix publishes the source's last known fix, if there is one,
// whatever the tracking state. It returns the fix that was published.
func (s *LocationTrackingService) RequestSingleFix(ctx context.Context) (*models.LocationFix, error) {
	ctx, span := observability.StartServiceSpan(ctx, "LocationTrackingService", "RequestSingleFix")
	defer span.End()

	fix, err := s.source.LastKnown(ctx)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	if fix == nil {
		s.logger.Debug("No last known location to publish")
		return nil, nil
	}

	s.publish(*fix)
	observability.SetSuccess(span)
	return fix, nil
}

// State returns the current tracking state
func (s *LocationTrackingService) State() models.TrackingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe returns a channel of state changes and a cancel function. Slow
// readers miss intermediate states, never the channel close.
func (s *LocationTrackingService) Subscribe() (<-chan models.TrackingState, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSubID
	s.nextSubID++
	ch := make(chan models.TrackingState, 16)
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
}

// Diagnostics returns the stream of non-fatal problems. Events are dropped
// when nobody drains it.
func (s *LocationTrackingService) Diagnostics() <-chan TrackingDiagnostic {
	return s.diagnostic
}

// WaitForWrites blocks until in-flight presence writes have finished
func (s *LocationTrackingService) WaitForWrites() {
	s.writes.Wait()
}

// Close stops tracking, refuses further publishes and waits for in-flight
// writes. The service cannot be used afterwards.
func (s *LocationTrackingService) Close() {
	s.Stop()

	s.writesMu.Lock()
	s.closed = true
	s.writesMu.Unlock()

	s.writes.Wait()
}

func (s *LocationTrackingService) onFix(epoch uint64, fix models.LocationFix) {
	if s.liveEpoch.Load() != epoch {
		return
	}
	s.publish(fix)
}

// onSourceLost degrades a live session whose source stopped delivering
func (s *LocationTrackingService) onSourceLost(epoch uint64, err error) {
	s.mu.Lock()
	if s.listener == nil || s.listener.epoch != epoch {
		s.mu.Unlock()
		return
	}
	state := models.DegradedState(models.ReasonSourceUnavailable)
	s.unregisterLocked()
	s.setStateLocked(context.Background(), state)
	s.mu.Unlock()

	s.logger.Warnf("Location tracking degraded: %v", err)
	s.record(context.Background(), models.IntentTracking, state)
}

// publish writes the fix to the caller's presence document without waiting
// for the store
func (s *LocationTrackingService) publish(fix models.LocationFix) {
	userID, ok := s.session.CurrentUserID()
	if !ok {
		s.logger.Warn("Dropping location fix: no active session")
		s.emit(TrackingDiagnostic{Kind: DiagnosticNoSession, Err: ErrNoSession, At: time.Now()})
		return
	}

	update := models.PresenceLocationUpdate(fix, time.Now().UTC())
	s.writesMu.Lock()
	if s.closed {
		s.writesMu.Unlock()
		s.logger.Debug("Dropping location fix: tracker closed")
		return
	}
	s.writes.Add(1)
	s.writesMu.Unlock()
	go func() {
		defer s.writes.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
		defer cancel()

		err := s.store.Set(ctx, models.UserPath(userID), update, true)
		s.metrics.RecordPublish(ctx, err)
		if err != nil {
			s.logger.WithField("user_id", userID).Errorf("Failed to publish location: %v", err)
			s.emit(TrackingDiagnostic{Kind: DiagnosticRemoteWriteFailed, UserID: userID, Err: err, At: time.Now()})
			return
		}
		s.logger.WithField("user_id", userID).Debug("Location published")
	}()
}

func (s *LocationTrackingService) emit(d TrackingDiagnostic) {
	select {
	case s.diagnostic <- d:
	default:
	}
}

func (s *LocationTrackingService) unregisterLocked() {
	s.liveEpoch.Store(0)
	if s.listener != nil {
		s.source.RemoveUpdates(s.listener)
		s.listener = nil
	}
}

func (s *LocationTrackingService) setStateLocked(ctx context.Context, next models.TrackingState) {
	if s.state == next {
		return
	}
	prev := s.state
	s.state = next
	s.metrics.RecordTransition(ctx, prev.String(), next.String())

	for _, ch := range s.subs {
		select {
		case ch <- next:
		default:
		}
	}
}

func (s *LocationTrackingService) record(ctx context.Context, intent models.TrackingIntent, state models.TrackingState) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Record(ctx, models.NewTrackingJournalEntry(s.cfg.DeviceID, intent, state)); err != nil {
		s.logger.Warnf("Failed to record tracking journal entry: %v", err)
	}
}
