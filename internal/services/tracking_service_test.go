package services

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/securetrack/server/internal/models"
	"github.com/securetrack/server/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type trackingFixture struct {
	gate    *fakeGate
	source  *fakeSource
	store   *flakyStore
	session *StaticSession
	svc     *LocationTrackingService
}

func newTrackingFixture(t *testing.T, access bool) *trackingFixture {
	t.Helper()
	f := &trackingFixture{
		gate:    newFakeGate(access),
		source:  newFakeSource(),
		store:   newFlakyStore(),
		session: NewStaticSession("alice", "token"),
	}
	f.svc = NewLocationTrackingService(f.gate, f.source, f.store, f.session, nil, nil, TrackingServiceConfig{DeviceID: "dev-1"})
	t.Cleanup(func() {
		f.svc.Stop()
		f.svc.WaitForWrites()
	})
	return f
}

func TestLocationTrackingService_Transitions(t *testing.T) {
	ctx := context.Background()

	t.Run("start from stopped becomes active", func(t *testing.T) {
		f := newTrackingFixture(t, true)
		out := f.svc.Start(ctx)

		assert.True(t, out.Started())
		assert.Equal(t, models.StateActive, f.svc.State())
		assert.Equal(t, 1, f.source.registered())
	})

	t.Run("registers with the fixed cadence", func(t *testing.T) {
		f := newTrackingFixture(t, true)
		f.svc.Start(ctx)

		f.source.mu.Lock()
		defer f.source.mu.Unlock()
		for _, cfg := range f.source.listeners {
			assert.Equal(t, 10*time.Second, cfg.Interval)
			assert.Equal(t, 5*time.Second, cfg.MinInterval)
			assert.Equal(t, 15*time.Second, cfg.MaxDelay)
		}
	})

	t.Run("start while active is refused without side effects", func(t *testing.T) {
		f := newTrackingFixture(t, true)
		f.svc.Start(ctx)

		out := f.svc.Start(ctx)
		assert.ErrorIs(t, out.Err, ErrAlreadyTracking)
		assert.Equal(t, models.StateActive, out.State)
		assert.Equal(t, 1, f.source.requestCount())
	})

	t.Run("permission denied never touches the source", func(t *testing.T) {
		f := newTrackingFixture(t, false)
		out := f.svc.Start(ctx)

		assert.NoError(t, out.Err)
		assert.Equal(t, models.DegradedState(models.ReasonPermissionDenied), out.State)
		assert.Equal(t, models.DegradedState(models.ReasonPermissionDenied), f.svc.State())
		assert.Equal(t, 0, f.source.requestCount())
	})

	t.Run("registration failure degrades with source unavailable", func(t *testing.T) {
		f := newTrackingFixture(t, true)
		f.source.failWith = ErrSourceUnavailable

		out := f.svc.Start(ctx)
		assert.Equal(t, models.DegradedState(models.ReasonSourceUnavailable), out.State)
		assert.False(t, out.Started())
	})

	t.Run("degraded can be retried", func(t *testing.T) {
		f := newTrackingFixture(t, false)
		f.svc.Start(ctx)

		f.gate.set(true)
		out := f.svc.Start(ctx)
		assert.True(t, out.Started())
	})

	t.Run("stop is idempotent and unregisters", func(t *testing.T) {
		f := newTrackingFixture(t, true)
		f.svc.Start(ctx)

		f.svc.Stop()
		assert.Equal(t, models.StateStopped, f.svc.State())
		assert.Equal(t, 0, f.source.registered())

		f.svc.Stop()
		assert.Equal(t, models.StateStopped, f.svc.State())
	})

	t.Run("start stop sequences follow the transition table", func(t *testing.T) {
		f := newTrackingFixture(t, true)
		steps := []struct {
			op   string
			want models.TrackingState
		}{
			{"stop", models.StateStopped},
			{"start", models.StateActive},
			{"start", models.StateActive},
			{"stop", models.StateStopped},
			{"stop", models.StateStopped},
			{"start", models.StateActive},
		}
		for _, step := range steps {
			if step.op == "start" {
				f.svc.Start(ctx)
			} else {
				f.svc.Stop()
			}
			assert.Equal(t, step.want, f.svc.State(), "after %s", step.op)
		}
		assert.Equal(t, 1, f.source.registered())
	})

	t.Run("permission revoked mid-session degrades", func(t *testing.T) {
		f := newTrackingFixture(t, true)
		f.svc.Start(ctx)

		f.svc.OnPermissionRevoked()
		assert.Equal(t, models.DegradedState(models.ReasonPermissionDenied), f.svc.State())
		assert.Equal(t, 0, f.source.registered())
	})

	t.Run("source ending mid-session degrades", func(t *testing.T) {
		src := NewFeedLocationSource()
		svc := NewLocationTrackingService(newFakeGate(true), src, newFlakyStore(), NewStaticSession("alice", ""), nil, nil, TrackingServiceConfig{DeviceID: "dev-1"})
		require.True(t, svc.Start(ctx).Started())

		require.NoError(t, src.Run(ctx, strings.NewReader("")))

		assert.Equal(t, models.DegradedState(models.ReasonSourceUnavailable), svc.State())
		assert.Equal(t, 0, src.ListenerCount())

		out := svc.Start(ctx)
		assert.Equal(t, models.DegradedState(models.ReasonSourceUnavailable), out.State)
	})

	t.Run("stale listener cannot degrade a newer session", func(t *testing.T) {
		f := newTrackingFixture(t, true)
		f.svc.Start(ctx)
		f.svc.Stop()
		f.svc.Start(ctx)

		(&trackingListener{svc: f.svc, epoch: 1}).OnSourceLost(ErrSourceUnavailable)
		assert.Equal(t, models.StateActive, f.svc.State())
	})

	t.Run("permission revoked while stopped is ignored", func(t *testing.T) {
		f := newTrackingFixture(t, true)
		f.svc.OnPermissionRevoked()
		assert.Equal(t, models.StateStopped, f.svc.State())
	})

	t.Run("subscribers see transitions", func(t *testing.T) {
		f := newTrackingFixture(t, true)
		states, cancel := f.svc.Subscribe()
		defer cancel()

		f.svc.Start(ctx)
		f.svc.Stop()

		var seen []models.TrackingState
		for len(seen) < 3 {
			select {
			case s := <-states:
				seen = append(seen, s)
			case <-time.After(waitTimeout):
				t.Fatalf("only saw %v", seen)
			}
		}
		assert.Equal(t, []models.TrackingState{models.StateStarting, models.StateActive, models.StateStopped}, seen)

		cancel()
		cancel()
		_, open := <-states
		assert.False(t, open)
	})
}

func TestLocationTrackingService_Publish(t *testing.T) {
	ctx := context.Background()

	t.Run("fix is merged into the presence document", func(t *testing.T) {
		f := newTrackingFixture(t, true)
		seedUser(t, f.store, "alice", "Alice")
		require.NoError(t, f.store.Set(ctx, models.UserPath("alice"), models.PushTokenUpdate("tok-1"), true))
		f.svc.Start(ctx)

		issued := time.Now().UTC()
		f.source.emit(mustFix(t, 52.52, 13.405))
		f.svc.WaitForWrites()

		snap, err := f.store.Get(ctx, models.UserPath("alice"))
		require.NoError(t, err)
		p := models.PresenceFromDocument("alice", snap.Data)
		require.NotNil(t, p.LastLocation)
		assert.InDelta(t, 52.52, p.LastLocation.Latitude, 1e-9)
		assert.InDelta(t, 13.405, p.LastLocation.Longitude, 1e-9)
		require.NotNil(t, p.LastSeenAt)
		assert.False(t, p.LastSeenAt.Before(issued))
		assert.Equal(t, "Alice", p.DisplayName)
		assert.Equal(t, "tok-1", p.PushToken)
	})

	t.Run("fixes while not active are dropped", func(t *testing.T) {
		f := newTrackingFixture(t, true)
		f.svc.Start(ctx)
		f.source.mu.Lock()
		var stale LocationListener
		for l := range f.source.listeners {
			stale = l
		}
		f.source.mu.Unlock()

		f.svc.Stop()
		stale.OnLocation(mustFix(t, 1, 1))
		f.svc.WaitForWrites()

		snap, err := f.store.Get(ctx, models.UserPath("alice"))
		require.NoError(t, err)
		assert.False(t, snap.Exists)
	})

	t.Run("missing session is reported and nothing is written", func(t *testing.T) {
		f := newTrackingFixture(t, true)
		f.session.Clear()
		f.svc.Start(ctx)

		f.source.emit(mustFix(t, 1, 2))
		f.svc.WaitForWrites()

		select {
		case d := <-f.svc.Diagnostics():
			assert.Equal(t, DiagnosticNoSession, d.Kind)
		case <-time.After(waitTimeout):
			t.Fatal("expected a diagnostic")
		}
		assert.Equal(t, models.StateActive, f.svc.State())
	})

	t.Run("write failure is a diagnostic, not a transition", func(t *testing.T) {
		f := newTrackingFixture(t, true)
		f.store.failWrites(errBoom)
		f.svc.Start(ctx)

		f.source.emit(mustFix(t, 1, 2))
		f.svc.WaitForWrites()

		select {
		case d := <-f.svc.Diagnostics():
			assert.Equal(t, DiagnosticRemoteWriteFailed, d.Kind)
			assert.Equal(t, "alice", d.UserID)
			assert.ErrorIs(t, d.Err, errBoom)
		case <-time.After(waitTimeout):
			t.Fatal("expected a diagnostic")
		}
		assert.Equal(t, models.StateActive, f.svc.State())
	})

	t.Run("single fix publishes regardless of state", func(t *testing.T) {
		f := newTrackingFixture(t, true)
		fix := mustFix(t, 10, 20)
		f.source.last = &fix

		got, err := f.svc.RequestSingleFix(ctx)
		require.NoError(t, err)
		require.NotNil(t, got)
		f.svc.WaitForWrites()

		snap, err := f.store.Get(ctx, models.UserPath("alice"))
		require.NoError(t, err)
		p := models.PresenceFromDocument("alice", snap.Data)
		require.NotNil(t, p.LastLocation)
		assert.InDelta(t, 10.0, p.LastLocation.Latitude, 1e-9)
		assert.Equal(t, models.StateStopped, f.svc.State())
	})

	t.Run("closed tracker writes nothing", func(t *testing.T) {
		f := newTrackingFixture(t, true)
		f.svc.Start(ctx)
		f.svc.Close()
		assert.Equal(t, models.StateStopped, f.svc.State())

		fix := mustFix(t, 10, 20)
		f.source.last = &fix
		_, err := f.svc.RequestSingleFix(ctx)
		require.NoError(t, err)
		f.svc.WaitForWrites()

		snap, err := f.store.Get(ctx, models.UserPath("alice"))
		require.NoError(t, err)
		assert.False(t, snap.Exists)
	})

	t.Run("single fix with nothing known is a no-op", func(t *testing.T) {
		f := newTrackingFixture(t, true)
		got, err := f.svc.RequestSingleFix(ctx)
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestLocationTrackingService_Resume(t *testing.T) {
	ctx := context.Background()

	newJournal := func(t *testing.T) *repository.TrackingJournalRepository {
		db, err := repository.NewSQLiteDB(filepath.Join(t.TempDir(), "journal.db"))
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		return repository.NewTrackingJournalRepository(db)
	}

	t.Run("resumes when tracking was last wanted", func(t *testing.T) {
		journal := newJournal(t)
		first := NewLocationTrackingService(newFakeGate(true), newFakeSource(), newFlakyStore(), NewStaticSession("alice", ""), journal, nil, TrackingServiceConfig{DeviceID: "dev-1"})
		require.True(t, first.Start(ctx).Started())

		// a new process with the same journal
		source := newFakeSource()
		second := NewLocationTrackingService(newFakeGate(true), source, newFlakyStore(), NewStaticSession("alice", ""), journal, nil, TrackingServiceConfig{DeviceID: "dev-1"})
		out, resumed, err := second.Resume(ctx)
		require.NoError(t, err)
		assert.True(t, resumed)
		assert.True(t, out.Started())
		assert.Equal(t, 1, source.registered())
		second.Stop()
	})

	t.Run("does not resume after an explicit stop", func(t *testing.T) {
		journal := newJournal(t)
		first := NewLocationTrackingService(newFakeGate(true), newFakeSource(), newFlakyStore(), NewStaticSession("alice", ""), journal, nil, TrackingServiceConfig{DeviceID: "dev-1"})
		first.Start(ctx)
		first.Stop()

		second := NewLocationTrackingService(newFakeGate(true), newFakeSource(), newFlakyStore(), NewStaticSession("alice", ""), journal, nil, TrackingServiceConfig{DeviceID: "dev-1"})
		_, resumed, err := second.Resume(ctx)
		require.NoError(t, err)
		assert.False(t, resumed)
		assert.Equal(t, models.StateStopped, second.State())
	})

	t.Run("without a journal there is nothing to resume", func(t *testing.T) {
		f := newTrackingFixture(t, true)
		_, resumed, err := f.svc.Resume(ctx)
		require.NoError(t, err)
		assert.False(t, resumed)
	})
}
