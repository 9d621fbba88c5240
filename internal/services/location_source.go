package services

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/securetrack/server/internal/models"
	"github.com/securetrack/server/internal/observability"
)

// UpdateConfig is the cadence contract for continuous updates
type UpdateConfig struct {
	Interval    time.Duration
	MinInterval time.Duration
	MaxDelay    time.Duration
}

// DefaultUpdateConfig is the cadence the tracker registers with
var DefaultUpdateConfig = UpdateConfig{
	Interval:    10 * time.Second,
	MinInterval: 5 * time.Second,
	MaxDelay:    15 * time.Second,
}

// LocationListener receives fixes. Implementations must be comparable
// (pointer receivers) so they can be removed again.
type LocationListener interface {
	OnLocation(fix models.LocationFix)
}

// SourceLossListener is optionally implemented by listeners that need to
// know when a source stops delivering for good
type SourceLossListener interface {
	OnSourceLost(err error)
}

// LocationSource produces location fixes
type LocationSource interface {
	RequestUpdates(cfg UpdateConfig, listener LocationListener) error
	RemoveUpdates(listener LocationListener)
	LastKnown(ctx context.Context) (*models.LocationFix, error)
}

// ErrSourceUnavailable is returned when the source cannot deliver fixes
var ErrSourceUnavailable = errors.New("location source unavailable")

type feedRegistration struct {
	cfg         UpdateConfig
	lastDeliver time.Time
}

// FeedLocationSource reads newline-delimited JSON fixes from a reader, such
// as a GPS daemon pipe or a recorded track
type FeedLocationSource struct {
	mu        sync.Mutex
	listeners map[LocationListener]*feedRegistration
	last      *models.LocationFix
	done      bool
	now       func() time.Time
}

type feedFix struct {
	Latitude   float64    `json:"latitude"`
	Longitude  float64    `json:"longitude"`
	CapturedAt *time.Time `json:"capturedAt,omitempty"`
}

// NewFeedLocationSource creates an idle source. Call Run to start reading.
func NewFeedLocationSource() *FeedLocationSource {
	return &FeedLocationSource{
		listeners: make(map[LocationListener]*feedRegistration),
		now:       time.Now,
	}
}

// Run reads fixes until the reader is exhausted or ctx ends. Once Run
// returns the source is unavailable for new registrations. When the reader
// ends while ctx is still live, registered listeners implementing
// SourceLossListener are told and dropped.
func (s *FeedLocationSource) Run(ctx context.Context, r io.Reader) (err error) {
	defer func() {
		s.mu.Lock()
		s.done = true
		var lost []SourceLossListener
		if ctx.Err() == nil {
			for l := range s.listeners {
				if sl, ok := l.(SourceLossListener); ok {
					lost = append(lost, sl)
				}
				delete(s.listeners, l)
			}
		}
		s.mu.Unlock()

		cause := ErrSourceUnavailable
		if err != nil {
			cause = fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
		}
		for _, l := range lost {
			l.OnSourceLost(cause)
		}
	}()

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var raw feedFix
		if err := json.Unmarshal(line, &raw); err != nil {
			observability.Warnf("Skipping unreadable location line: %v", err)
			continue
		}
		capturedAt := s.now().UTC()
		if raw.CapturedAt != nil {
			capturedAt = raw.CapturedAt.UTC()
		}
		fix, err := models.NewLocationFix(raw.Latitude, raw.Longitude, capturedAt)
		if err != nil {
			observability.Warnf("Skipping invalid location fix: %v", err)
			continue
		}
		s.Deliver(fix)
	}
	return scanner.Err()
}

// Deliver records a fix and hands it to every listener whose minimum
// interval has elapsed
func (s *FeedLocationSource) Deliver(fix models.LocationFix) {
	s.mu.Lock()
	s.last = &fix
	now := s.now()
	var due []LocationListener
	for l, reg := range s.listeners {
		if reg.lastDeliver.IsZero() || now.Sub(reg.lastDeliver) >= reg.cfg.MinInterval {
			reg.lastDeliver = now
			due = append(due, l)
		}
	}
	s.mu.Unlock()

	for _, l := range due {
		l.OnLocation(fix)
	}
}

func (s *FeedLocationSource) RequestUpdates(cfg UpdateConfig, listener LocationListener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return ErrSourceUnavailable
	}
	s.listeners[listener] = &feedRegistration{cfg: cfg}
	return nil
}

func (s *FeedLocationSource) RemoveUpdates(listener LocationListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listeners, listener)
}

func (s *FeedLocationSource) LastKnown(ctx context.Context) (*models.LocationFix, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil, nil
	}
	fix := *s.last
	return &fix, nil
}

// ListenerCount returns the number of registered listeners
func (s *FeedLocationSource) ListenerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}
