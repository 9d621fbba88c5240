package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/securetrack/server/internal/models"
	"github.com/securetrack/server/internal/store"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

type fakeGate struct {
	access atomic.Bool
}

func newFakeGate(access bool) *fakeGate {
	g := &fakeGate{}
	g.access.Store(access)
	return g
}

func (g *fakeGate) HasAccess() bool { return g.access.Load() }
func (g *fakeGate) Request(onResult func(bool)) { go onResult(g.access.Load()) }
func (g *fakeGate) ShouldExplainRationale() bool { return false }
func (g *fakeGate) set(access bool) { g.access.Store(access) }

type fakeSource struct {
	mu        sync.Mutex
	listeners map[LocationListener]UpdateConfig
	requests  int
	failWith  error
	last      *models.LocationFix
}

func newFakeSource() *fakeSource {
	return &fakeSource{listeners: make(map[LocationListener]UpdateConfig)}
}

func (s *fakeSource) RequestUpdates(cfg UpdateConfig, l LocationListener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests++
	if s.failWith != nil {
		return s.failWith
	}
	s.listeners[l] = cfg
	return nil
}

func (s *fakeSource) RemoveUpdates(l LocationListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listeners, l)
}

func (s *fakeSource) LastKnown(ctx context.Context) (*models.LocationFix, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, nil
}

func (s *fakeSource) emit(fix models.LocationFix) {
	s.mu.Lock()
	var ls []LocationListener
	for l := range s.listeners {
		ls = append(ls, l)
	}
	s.mu.Unlock()
	for _, l := range ls {
		l.OnLocation(fix)
	}
}

func (s *fakeSource) registered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

func (s *fakeSource) requestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// flakyStore wraps a MemoryStore with injectable failures
type flakyStore struct {
	*store.MemoryStore

	mu           sync.Mutex
	setErr       error
	subscribeErr map[string]error
	streamErr    map[string]error
}

func newFlakyStore() *flakyStore {
	return &flakyStore{
		MemoryStore:  store.NewMemoryStore(),
		subscribeErr: make(map[string]error),
		streamErr:    make(map[string]error),
	}
}

func (s *flakyStore) failWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setErr = err
}

func (s *flakyStore) Set(ctx context.Context, path string, doc store.Document, merge bool) error {
	s.mu.Lock()
	err := s.setErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.MemoryStore.Set(ctx, path, doc, merge)
}

func (s *flakyStore) SubscribeDocument(ctx context.Context, path string) (<-chan store.DocumentEvent, store.StopFunc, error) {
	s.mu.Lock()
	subErr := s.subscribeErr[path]
	streamErr := s.streamErr[path]
	s.mu.Unlock()

	if subErr != nil {
		return nil, nil, subErr
	}
	if streamErr != nil {
		ch := make(chan store.DocumentEvent, 1)
		ch <- store.DocumentEvent{Err: streamErr}
		close(ch)
		return ch, func() {}, nil
	}
	return s.MemoryStore.SubscribeDocument(ctx, path)
}

var errBoom = errors.New("boom")

func mustFix(t *testing.T, lat, lng float64) models.LocationFix {
	t.Helper()
	fix, err := models.NewLocationFix(lat, lng, time.Now().UTC())
	require.NoError(t, err)
	return fix
}

func seedUser(t *testing.T, s store.RemoteStore, id, name string) {
	t.Helper()
	require.NoError(t, s.Set(context.Background(), models.UserPath(id), models.NewUserDocument(id, name, id+"@example.com"), false))
}

func seedLink(t *testing.T, s store.RemoteStore, owner, contact, name string) {
	t.Helper()
	link, err := models.NewTrustedContactLink(owner, contact, name)
	require.NoError(t, err)
	require.NoError(t, s.Set(context.Background(), link.Path(), link.ToDocument(), false))
}

type recordingSink struct {
	mu    sync.Mutex
	shown []Notification
}

func (s *recordingSink) Show(n Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shown = append(s.shown, n)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.shown)
}

type fakeCallable struct {
	mu     sync.Mutex
	calls  int
	name   string
	data   map[string]interface{}
	reply  map[string]interface{}
	err    error
	panics bool
}

func (c *fakeCallable) Call(ctx context.Context, name string, payload map[string]interface{}) (map[string]interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.name = name
	c.data = payload
	if c.panics {
		panic("callable exploded")
	}
	return c.reply, c.err
}

func (c *fakeCallable) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}
