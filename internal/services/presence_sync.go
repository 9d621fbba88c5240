package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/securetrack/server/internal/models"
	"github.com/securetrack/server/internal/observability"
	"github.com/securetrack/server/internal/store"
)

// ErrEmptyOwner is returned by Observe for a blank owner id
var ErrEmptyOwner = errors.New("owner user id is required")

// SubscriptionError is a display-only report of a failed store subscription.
// The affected stream is not retried.
type SubscriptionError struct {
	Path   string `json:"path"`
	UserID string `json:"userId,omitempty"`
	Err    error  `json:"-"`
}

func (e SubscriptionError) Error() string {
	return fmt.Sprintf("subscription to %s failed: %v", e.Path, e.Err)
}

// PresenceSnapshot is the owner plus every current trusted contact
type PresenceSnapshot struct {
	OwnerUserID string                         `json:"ownerUserId"`
	Members     map[string]models.UserPresence `json:"members"`
	Errors      []SubscriptionError            `json:"-"`
}

// UserIDs returns the member ids in sorted order
func (s PresenceSnapshot) UserIDs() []string {
	ids := make([]string, 0, len(s.Members))
	for id := range s.Members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ErrorMessages returns the subscription errors as display strings
func (s PresenceSnapshot) ErrorMessages() []string {
	msgs := make([]string, 0, len(s.Errors))
	for _, e := range s.Errors {
		msgs = append(msgs, e.Error())
	}
	return msgs
}

// PresenceSync composes the presence of a user and their trusted contacts
// from live store subscriptions
type PresenceSync struct {
	store   store.RemoteStore
	metrics *observability.PresenceMetrics

	mu        sync.Mutex
	observers map[*presenceObserver]struct{}
}

// NewPresenceSync creates a PresenceSync. metrics may be nil.
func NewPresenceSync(remote store.RemoteStore, metrics *observability.PresenceMetrics) *PresenceSync {
	return &PresenceSync{
		store:     remote,
		metrics:   metrics,
		observers: make(map[*presenceObserver]struct{}),
	}
}

// Observe starts a fresh snapshot stream for owner. The stream ends, and its
// channel closes, when ctx is done or Stop is called. Snapshots coalesce if
// the reader falls behind.
func (p *PresenceSync) Observe(ctx context.Context, ownerUserID string) (<-chan PresenceSnapshot, error) {
	if ownerUserID == "" {
		return nil, ErrEmptyOwner
	}

	obsCtx, cancel := context.WithCancel(ctx)
	o := &presenceObserver{
		sync:     p,
		owner:    ownerUserID,
		ctx:      obsCtx,
		cancel:   cancel,
		events:   make(chan presenceEvent),
		out:      make(chan PresenceSnapshot, 1),
		done:     make(chan struct{}),
		contacts: make(map[string]*contactSub),
		presence: make(map[string]models.UserPresence),
		errs:     make(map[string]SubscriptionError),
		logger:   observability.WithField("owner_user_id", ownerUserID),
	}

	selfStop, err := o.subscribeDocument(models.UserPath(ownerUserID), eventSelf, ownerUserID, 0)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to subscribe to own presence: %w", err)
	}
	o.selfStop = selfStop

	listStop, err := o.subscribeList()
	if err != nil {
		selfStop()
		cancel()
		o.forwarders.Wait()
		return nil, fmt.Errorf("failed to subscribe to trusted contacts: %w", err)
	}
	o.listStop = listStop

	p.mu.Lock()
	p.observers[o] = struct{}{}
	p.mu.Unlock()
	p.metrics.ObserverStarted(ctx)
	p.metrics.SubscriptionsChanged(ctx, 2)

	go o.run()
	return o.out, nil
}

// Stop ends every stream and releases all subscriptions before returning.
// It is safe to call more than once, and Observe may be called again after.
func (p *PresenceSync) Stop() {
	p.mu.Lock()
	observers := make([]*presenceObserver, 0, len(p.observers))
	for o := range p.observers {
		observers = append(observers, o)
	}
	p.mu.Unlock()

	for _, o := range observers {
		o.stop()
	}
}

// ActiveObservers returns the number of running streams
func (p *PresenceSync) ActiveObservers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.observers)
}

func (p *PresenceSync) remove(o *presenceObserver) {
	p.mu.Lock()
	delete(p.observers, o)
	p.mu.Unlock()
}

type eventKind int

const (
	eventSelf eventKind = iota
	eventList
	eventContact
)

// presenceEvent is one item of the merged subscription stream. gen tags
// contact subscriptions so events from a torn-down one can be recognised.
type presenceEvent struct {
	kind   eventKind
	userID string
	gen    uint64
	doc    store.DocumentSnapshot
	col    store.CollectionSnapshot
	err    error
}

type contactSub struct {
	gen  uint64
	link models.TrustedContactLink
	stop store.StopFunc
	quit chan struct{}
}

type presenceObserver struct {
	sync   *PresenceSync
	owner  string
	ctx    context.Context
	cancel context.CancelFunc
	events chan presenceEvent
	out    chan PresenceSnapshot
	done   chan struct{}
	logger *observability.Logger

	forwarders sync.WaitGroup
	stopOnce   sync.Once

	// owned by run
	selfStop store.StopFunc
	listStop store.StopFunc
	nextGen  uint64
	contacts map[string]*contactSub
	self     *models.UserPresence
	presence map[string]models.UserPresence
	errs     map[string]SubscriptionError
}

func (o *presenceObserver) stop() {
	o.stopOnce.Do(o.cancel)
	<-o.done
}

func (o *presenceObserver) run() {
	defer close(o.done)
	defer o.sync.remove(o)
	defer close(o.out)
	defer o.teardown()

	for {
		select {
		case <-o.ctx.Done():
			return
		case ev := <-o.events:
			if o.apply(ev) {
				o.emit()
			}
		}
	}
}

// apply folds one event into the observer's state and reports whether the
// snapshot changed
func (o *presenceObserver) apply(ev presenceEvent) bool {
	switch ev.kind {
	case eventSelf:
		if ev.err != nil {
			o.recordError(SubscriptionError{Path: models.UserPath(o.owner), UserID: o.owner, Err: ev.err})
			return true
		}
		if ev.doc.Exists {
			p := models.PresenceFromDocument(o.owner, ev.doc.Data)
			o.self = &p
		} else {
			o.self = nil
		}
		return true

	case eventList:
		if ev.err != nil {
			o.recordError(SubscriptionError{Path: models.TrustedContactsPath(o.owner), Err: ev.err})
			return true
		}
		o.applyContactList(ev.col)
		return true

	case eventContact:
		sub, ok := o.contacts[ev.userID]
		if !ok || sub.gen != ev.gen {
			return false
		}
		if ev.err != nil {
			o.recordError(SubscriptionError{Path: models.UserPath(ev.userID), UserID: ev.userID, Err: ev.err})
			return true
		}
		if ev.doc.Exists {
			o.presence[ev.userID] = models.PresenceFromDocument(ev.userID, ev.doc.Data)
		} else {
			delete(o.presence, ev.userID)
		}
		return true
	}
	return false
}

// applyContactList diffs the new contact set against the live
// subscriptions, stopping removed ones and starting added ones
func (o *presenceObserver) applyContactList(col store.CollectionSnapshot) {
	next := make(map[string]models.TrustedContactLink, len(col.Documents))
	for _, doc := range col.Documents {
		if !doc.Exists {
			continue
		}
		link := models.TrustedContactFromDocument(o.owner, doc.ID, doc.Data)
		if link == nil {
			continue
		}
		next[link.ContactUserID] = *link
	}

	for id, sub := range o.contacts {
		if _, keep := next[id]; keep {
			continue
		}
		o.stopContact(id, sub)
	}

	for id, link := range next {
		if sub, ok := o.contacts[id]; ok {
			sub.link = link
			continue
		}
		o.startContact(link)
	}
}

func (o *presenceObserver) startContact(link models.TrustedContactLink) {
	o.nextGen++
	sub := &contactSub{gen: o.nextGen, link: link, quit: make(chan struct{})}
	o.contacts[link.ContactUserID] = sub

	stop, err := o.subscribeContact(link.ContactUserID, sub)
	if err != nil {
		o.logger.WithField("contact_id", link.ContactUserID).Warnf("Contact presence subscription failed: %v", err)
		o.recordError(SubscriptionError{Path: models.UserPath(link.ContactUserID), UserID: link.ContactUserID, Err: err})
		return
	}
	sub.stop = stop
	o.sync.metrics.SubscriptionsChanged(o.ctx, 1)
}

func (o *presenceObserver) stopContact(id string, sub *contactSub) {
	close(sub.quit)
	if sub.stop != nil {
		sub.stop()
		o.sync.metrics.SubscriptionsChanged(context.Background(), -1)
	}
	delete(o.contacts, id)
	delete(o.presence, id)
	delete(o.errs, models.UserPath(id))
}

func (o *presenceObserver) teardown() {
	for id, sub := range o.contacts {
		o.stopContact(id, sub)
	}
	o.selfStop()
	o.listStop()
	o.forwarders.Wait()

	ctx := context.Background()
	o.sync.metrics.SubscriptionsChanged(ctx, -2)
	o.sync.metrics.ObserverStopped(ctx)
	o.logger.Debug("Presence observer stopped")
}

func (o *presenceObserver) recordError(e SubscriptionError) {
	o.errs[e.Path] = e
}

func (o *presenceObserver) snapshot() PresenceSnapshot {
	snap := PresenceSnapshot{
		OwnerUserID: o.owner,
		Members:     make(map[string]models.UserPresence, len(o.contacts)+1),
	}

	if o.self != nil {
		snap.Members[o.owner] = *o.self
	} else {
		snap.Members[o.owner] = models.UserPresence{UserID: o.owner}
	}

	for id, sub := range o.contacts {
		p, ok := o.presence[id]
		if !ok {
			p = models.UserPresence{UserID: id}
		}
		if p.DisplayName == "" {
			p.DisplayName = sub.link.DisplayName
		}
		snap.Members[id] = p
	}

	for _, e := range o.errs {
		snap.Errors = append(snap.Errors, e)
	}
	sort.Slice(snap.Errors, func(i, j int) bool { return snap.Errors[i].Path < snap.Errors[j].Path })
	return snap
}

// emit replaces any unread snapshot with the current one
func (o *presenceObserver) emit() {
	snap := o.snapshot()
	select {
	case o.out <- snap:
	default:
		select {
		case <-o.out:
		default:
		}
		o.out <- snap
	}
	o.sync.metrics.SnapshotEmitted(o.ctx)
}

func (o *presenceObserver) subscribeDocument(path string, kind eventKind, userID string, gen uint64) (store.StopFunc, error) {
	return o.subscribeDocumentUntil(path, kind, userID, gen, nil)
}

func (o *presenceObserver) subscribeContact(userID string, sub *contactSub) (store.StopFunc, error) {
	return o.subscribeDocumentUntil(models.UserPath(userID), eventContact, userID, sub.gen, sub.quit)
}

func (o *presenceObserver) subscribeDocumentUntil(path string, kind eventKind, userID string, gen uint64, quit <-chan struct{}) (store.StopFunc, error) {
	ch, stop, err := o.sync.store.SubscribeDocument(o.ctx, path)
	if err != nil {
		return nil, err
	}

	o.forwarders.Add(1)
	go func() {
		defer o.forwarders.Done()
		for ev := range ch {
			msg := presenceEvent{kind: kind, userID: userID, gen: gen, doc: ev.Snapshot, err: ev.Err}
			select {
			case o.events <- msg:
			case <-quit:
				return
			case <-o.ctx.Done():
				return
			}
		}
	}()
	return stop, nil
}

func (o *presenceObserver) subscribeList() (store.StopFunc, error) {
	ch, stop, err := o.sync.store.SubscribeCollection(o.ctx, models.TrustedContactsPath(o.owner))
	if err != nil {
		return nil, err
	}

	o.forwarders.Add(1)
	go func() {
		defer o.forwarders.Done()
		for ev := range ch {
			select {
			case o.events <- presenceEvent{kind: eventList, col: ev.Snapshot, err: ev.Err}:
			case <-o.ctx.Done():
				return
			}
		}
	}()
	return stop, nil
}
