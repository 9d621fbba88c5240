package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process RemoteStore. It backs local development runs
// and every component test.
type MemoryStore struct {
	mu      sync.RWMutex
	docs    map[string]Document
	docSubs map[string]map[*memorySub]struct{}
	colSubs map[string]map[*memorySub]struct{}
	closed  bool
}

type memorySub struct {
	path     string
	notify   chan struct{}
	done     chan struct{}
	exited   chan struct{}
	stopOnce sync.Once
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:    make(map[string]Document),
		docSubs: make(map[string]map[*memorySub]struct{}),
		colSubs: make(map[string]map[*memorySub]struct{}),
	}
}

func (s *MemoryStore) Get(ctx context.Context, path string) (DocumentSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return DocumentSnapshot{}, err
	}
	if !validDocumentPath(path) {
		return DocumentSnapshot{}, ErrInvalidPath
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.documentLocked(path), nil
}

func (s *MemoryStore) Set(ctx context.Context, path string, doc Document, merge bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !validDocumentPath(path) {
		return ErrInvalidPath
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if existing, ok := s.docs[path]; ok && merge {
		s.docs[path] = mergeDocument(cloneDocument(existing), doc)
	} else {
		s.docs[path] = cloneDocument(doc)
		if s.docs[path] == nil {
			s.docs[path] = Document{}
		}
	}
	s.notifyLocked(path)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !validDocumentPath(path) {
		return ErrInvalidPath
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if _, ok := s.docs[path]; !ok {
		return nil
	}
	delete(s.docs, path)
	s.notifyLocked(path)
	return nil
}

func (s *MemoryStore) List(ctx context.Context, collectionPath string) (CollectionSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return CollectionSnapshot{}, err
	}
	if !validCollectionPath(collectionPath) {
		return CollectionSnapshot{}, ErrInvalidPath
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectionLocked(collectionPath), nil
}

func (s *MemoryStore) SubscribeDocument(ctx context.Context, path string) (<-chan DocumentEvent, StopFunc, error) {
	if !validDocumentPath(path) {
		return nil, nil, ErrInvalidPath
	}

	sub, err := s.addSub(s.docSubs, path)
	if err != nil {
		return nil, nil, err
	}

	out := make(chan DocumentEvent)
	go func() {
		defer close(sub.exited)
		defer close(out)
		for {
			select {
			case <-sub.done:
				return
			case <-sub.notify:
			}

			s.mu.RLock()
			snap := s.documentLocked(path)
			s.mu.RUnlock()

			select {
			case out <- DocumentEvent{Snapshot: snap}:
			case <-sub.done:
				return
			}
		}
	}()

	stop := s.stopper(s.docSubs, sub)
	go stopOnContext(ctx, sub, stop)
	return out, stop, nil
}

func (s *MemoryStore) SubscribeCollection(ctx context.Context, collectionPath string) (<-chan CollectionEvent, StopFunc, error) {
	if !validCollectionPath(collectionPath) {
		return nil, nil, ErrInvalidPath
	}

	sub, err := s.addSub(s.colSubs, collectionPath)
	if err != nil {
		return nil, nil, err
	}

	out := make(chan CollectionEvent)
	go func() {
		defer close(sub.exited)
		defer close(out)
		for {
			select {
			case <-sub.done:
				return
			case <-sub.notify:
			}

			s.mu.RLock()
			snap := s.collectionLocked(collectionPath)
			s.mu.RUnlock()

			select {
			case out <- CollectionEvent{Snapshot: snap}:
			case <-sub.done:
				return
			}
		}
	}()

	stop := s.stopper(s.colSubs, sub)
	go stopOnContext(ctx, sub, stop)
	return out, stop, nil
}

// SubscriberCount returns the number of live subscriptions on a document or
// collection path
func (s *MemoryStore) SubscriberCount(path string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docSubs[path]) + len(s.colSubs[path])
}

// TotalSubscribers returns the number of live subscriptions on any path
func (s *MemoryStore) TotalSubscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, subs := range s.docSubs {
		total += len(subs)
	}
	for _, subs := range s.colSubs {
		total += len(subs)
	}
	return total
}

// Close stops every subscription and rejects further writes
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var subs []*memorySub
	for _, set := range s.docSubs {
		for sub := range set {
			subs = append(subs, sub)
		}
	}
	for _, set := range s.colSubs {
		for sub := range set {
			subs = append(subs, sub)
		}
	}
	s.docSubs = make(map[string]map[*memorySub]struct{})
	s.colSubs = make(map[string]map[*memorySub]struct{})
	s.mu.Unlock()

	for _, sub := range subs {
		sub.stopOnce.Do(func() { close(sub.done) })
		<-sub.exited
	}
	return nil
}

func (s *MemoryStore) addSub(set map[string]map[*memorySub]struct{}, path string) (*memorySub, error) {
	sub := &memorySub{
		path:   path,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	// initial snapshot
	sub.notify <- struct{}{}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if set[path] == nil {
		set[path] = make(map[*memorySub]struct{})
	}
	set[path][sub] = struct{}{}
	return sub, nil
}

func (s *MemoryStore) stopper(set map[string]map[*memorySub]struct{}, sub *memorySub) StopFunc {
	return func() {
		s.mu.Lock()
		if subs, ok := set[sub.path]; ok {
			delete(subs, sub)
			if len(subs) == 0 {
				delete(set, sub.path)
			}
		}
		s.mu.Unlock()

		sub.stopOnce.Do(func() { close(sub.done) })
		<-sub.exited
	}
}

func stopOnContext(ctx context.Context, sub *memorySub, stop StopFunc) {
	select {
	case <-ctx.Done():
		stop()
	case <-sub.exited:
	}
}

func (s *MemoryStore) notifyLocked(docPath string) {
	for sub := range s.docSubs[docPath] {
		signal(sub)
	}
	for sub := range s.colSubs[parentCollection(docPath)] {
		signal(sub)
	}
}

func signal(sub *memorySub) {
	select {
	case sub.notify <- struct{}{}:
	default:
	}
}

func (s *MemoryStore) documentLocked(path string) DocumentSnapshot {
	doc, ok := s.docs[path]
	return DocumentSnapshot{
		Path:   path,
		ID:     documentID(path),
		Exists: ok,
		Data:   cloneDocument(doc),
	}
}

func (s *MemoryStore) collectionLocked(collectionPath string) CollectionSnapshot {
	snap := CollectionSnapshot{Path: collectionPath}
	for path := range s.docs {
		if parentCollection(path) == collectionPath {
			snap.Documents = append(snap.Documents, s.documentLocked(path))
		}
	}
	sort.Slice(snap.Documents, func(i, j int) bool {
		return snap.Documents[i].ID < snap.Documents[j].ID
	})
	return snap
}
