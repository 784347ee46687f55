package services

import (
	"sync"
	"sync/atomic"

	"github.com/Data-Integrities/backend-ai/internal/logging"
	"github.com/Data-Integrities/backend-ai/internal/models"
	"github.com/google/uuid"
)

// Subscription is one live-status observer.
type Subscription struct {
	ID string

	ch       chan models.TransitionEvent
	backfill []models.Execution
	// seen holds the backfilled revision per execution; older events are skipped.
	seen    map[string]int64
	dropped atomic.Int64
	closed  bool
}

// Events delivers live events. The channel is closed on Unsubscribe.
func (s *Subscription) Events() <-chan models.TransitionEvent {
	return s.ch
}

// Backfill is the snapshot taken when the subscription was created.
func (s *Subscription) Backfill() []models.Execution {
	return s.backfill
}

// Dropped counts events discarded because the subscriber fell behind.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Broadcaster fans store events out to live-status observers.
type Broadcaster struct {
	store  *ExecutionStore
	buffer int
	log    *logging.Logger

	mu   sync.Mutex
	subs map[string]*Subscription

	unsubscribe func()
}

func NewBroadcaster(store *ExecutionStore, buffer int, log *logging.Logger) *Broadcaster {
	if buffer <= 0 {
		buffer = 256
	}
	if log == nil {
		log = logging.Discard()
	}
	b := &Broadcaster{
		store:  store,
		buffer: buffer,
		log:    log.Component("stream"),
		subs:   make(map[string]*Subscription),
	}
	b.unsubscribe = store.Subscribe(b.onEvent)
	return b
}

// Backfill returns a snapshot of every retained execution.
func (b *Broadcaster) Backfill() []models.Execution {
	return b.store.List()
}

// Subscribe registers an observer. The backfill and the live feed are taken
// together, so no change falls between them.
func (b *Broadcaster) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	snapshot := b.store.List()
	sub := &Subscription{
		ID:       uuid.New().String(),
		ch:       make(chan models.TransitionEvent, b.buffer),
		backfill: snapshot,
		seen:     make(map[string]int64, len(snapshot)),
	}
	for _, e := range snapshot {
		sub.seen[e.ID] = e.Revision
	}
	b.subs[sub.ID] = sub
	b.log.Debugf("subscriber %s attached (%d total)", sub.ID, len(b.subs))
	return sub
}

// Unsubscribe detaches sub and closes its channel. Repeated calls are no-ops.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub.closed {
		return
	}
	sub.closed = true
	delete(b.subs, sub.ID)
	close(sub.ch)
	b.log.Debugf("subscriber %s detached (%d dropped)", sub.ID, sub.Dropped())
}

// SubscriberCount returns the number of attached observers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close detaches from the store and closes every subscription.
func (b *Broadcaster) Close() {
	b.unsubscribe()
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()
	for _, s := range subs {
		b.Unsubscribe(s)
	}
}

func (b *Broadcaster) onEvent(evt models.TransitionEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		if rev, ok := sub.seen[evt.Execution.ID]; ok {
			if evt.Execution.Revision <= rev {
				continue
			}
			delete(sub.seen, evt.Execution.ID)
		}
		select {
		case sub.ch <- evt:
		default:
			n := sub.dropped.Add(1)
			if n == 1 || n%100 == 0 {
				b.log.Warnf("subscriber %s is not keeping up, %d events dropped", sub.ID, n)
			}
		}
	}
}
