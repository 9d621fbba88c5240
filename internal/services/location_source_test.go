package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/securetrack/server/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func timeAfterWait() <-chan time.Time { return time.After(waitTimeout) }

type collectingListener struct {
	mu    sync.Mutex
	fixes []models.LocationFix
}

func (l *collectingListener) OnLocation(fix models.LocationFix) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fixes = append(l.fixes, fix)
}

type lossListener struct {
	collectingListener
	lost chan error
}

func newLossListener() *lossListener {
	return &lossListener{lost: make(chan error, 1)}
}

func (l *lossListener) OnSourceLost(err error) {
	l.lost <- err
}

func (l *collectingListener) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.fixes)
}

func TestFeedLocationSource_Run(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers valid lines and skips the rest", func(t *testing.T) {
		src := NewFeedLocationSource()
		l := &collectingListener{}
		require.NoError(t, src.RequestUpdates(UpdateConfig{}, l))

		feed := strings.Join([]string{
			`{"latitude":48.85,"longitude":2.35,"capturedAt":"2024-01-01T10:00:00Z"}`,
			`not json`,
			``,
			`{"latitude":123,"longitude":2.35}`,
			`{"latitude":-33.86,"longitude":151.2}`,
		}, "\n")
		require.NoError(t, src.Run(ctx, strings.NewReader(feed)))

		require.Equal(t, 2, l.count())
		assert.Equal(t, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), l.fixes[0].CapturedAt)
		assert.InDelta(t, -33.86, l.fixes[1].Latitude, 1e-9)
		assert.False(t, l.fixes[1].CapturedAt.IsZero())

		last, err := src.LastKnown(ctx)
		require.NoError(t, err)
		require.NotNil(t, last)
		assert.InDelta(t, 151.2, last.Longitude, 1e-9)
	})

	t.Run("unavailable once the feed ends", func(t *testing.T) {
		src := NewFeedLocationSource()
		require.NoError(t, src.Run(ctx, strings.NewReader("")))

		err := src.RequestUpdates(DefaultUpdateConfig, &collectingListener{})
		assert.ErrorIs(t, err, ErrSourceUnavailable)
	})

	t.Run("listeners are told when the feed ends", func(t *testing.T) {
		src := NewFeedLocationSource()
		l := newLossListener()
		require.NoError(t, src.RequestUpdates(DefaultUpdateConfig, l))
		require.NoError(t, src.RequestUpdates(DefaultUpdateConfig, &collectingListener{}))

		require.NoError(t, src.Run(ctx, strings.NewReader("")))

		select {
		case err := <-l.lost:
			assert.ErrorIs(t, err, ErrSourceUnavailable)
		default:
			t.Fatal("listener was not told the source ended")
		}
		assert.Equal(t, 0, src.ListenerCount())
	})

	t.Run("cancelled run is not a loss", func(t *testing.T) {
		src := NewFeedLocationSource()
		l := newLossListener()
		require.NoError(t, src.RequestUpdates(DefaultUpdateConfig, l))

		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		src.Run(cancelled, strings.NewReader(""))

		assert.Empty(t, l.lost)
		assert.Equal(t, 1, src.ListenerCount())
	})

	t.Run("no fix known yet", func(t *testing.T) {
		last, err := NewFeedLocationSource().LastKnown(ctx)
		require.NoError(t, err)
		assert.Nil(t, last)
	})
}

func TestFeedLocationSource_Deliver(t *testing.T) {
	t.Run("honours the minimum interval per listener", func(t *testing.T) {
		src := NewFeedLocationSource()
		clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		src.now = func() time.Time { return clock }

		slow := &collectingListener{}
		fast := &collectingListener{}
		require.NoError(t, src.RequestUpdates(UpdateConfig{MinInterval: 5 * time.Second}, slow))
		require.NoError(t, src.RequestUpdates(UpdateConfig{}, fast))

		fix := mustFix(t, 1, 1)
		src.Deliver(fix)
		clock = clock.Add(2 * time.Second)
		src.Deliver(fix)
		clock = clock.Add(3 * time.Second)
		src.Deliver(fix)

		assert.Equal(t, 2, slow.count())
		assert.Equal(t, 3, fast.count())
	})

	t.Run("removed listeners receive nothing", func(t *testing.T) {
		src := NewFeedLocationSource()
		l := &collectingListener{}
		require.NoError(t, src.RequestUpdates(UpdateConfig{}, l))
		src.RemoveUpdates(l)
		src.RemoveUpdates(l)

		src.Deliver(mustFix(t, 1, 1))
		assert.Equal(t, 0, l.count())
		assert.Equal(t, 0, src.ListenerCount())
	})
}
