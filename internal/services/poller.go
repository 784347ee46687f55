package services

import (
	"context"
	"sync"
	"time"

	"github.com/Data-Integrities/backend-ai/internal/clock"
	"github.com/Data-Integrities/backend-ai/internal/logging"
	"github.com/Data-Integrities/backend-ai/internal/models"
	"github.com/Data-Integrities/backend-ai/internal/remote"
)

// ActorLister enumerates the actors to observe.
type ActorLister interface {
	List() []*remote.Actor
}

// StatusPoller periodically observes every actor and finalizes the pending
// executions whose expected outcome it can see.
type StatusPoller struct {
	store          *ExecutionStore
	actors         ActorLister
	interval       time.Duration
	requestTimeout time.Duration
	clock          clock.Clock
	log            *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.RWMutex
	statuses  map[string]models.ActorStatus
	lastCheck time.Time
}

func NewStatusPoller(store *ExecutionStore, actors ActorLister, interval, requestTimeout time.Duration, clk clock.Clock, log *logging.Logger) *StatusPoller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if requestTimeout <= 0 {
		requestTimeout = 5 * time.Second
	}
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = logging.Discard()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &StatusPoller{
		store:          store,
		actors:         actors,
		interval:       interval,
		requestTimeout: requestTimeout,
		clock:          clk,
		log:            log.Component("poller"),
		ctx:            ctx,
		cancel:         cancel,
		statuses:       make(map[string]models.ActorStatus),
	}
}

// Start begins the background polling loop.
func (p *StatusPoller) Start() {
	p.log.Infof("starting status polling (interval: %v)", p.interval)
	p.wg.Add(1)
	go p.pollLoop()
}

// Stop stops the polling loop and waits for an in-flight check to return.
func (p *StatusPoller) Stop() {
	p.cancel()
	p.wg.Wait()
	p.log.Infof("status polling stopped")
}

func (p *StatusPoller) pollLoop() {
	defer p.wg.Done()

	p.CheckNow(p.ctx)

	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.Chan():
			p.CheckNow(p.ctx)
		}
	}
}

// CheckNow observes every actor once, concurrently, and reconciles the
// executions addressed to them. It returns the number of executions finalized.
func (p *StatusPoller) CheckNow(ctx context.Context) int {
	actors := p.actors.List()
	observed := make([]models.ActorStatus, len(actors))

	var wg sync.WaitGroup
	for i, actor := range actors {
		wg.Add(1)
		go func(i int, actor *remote.Actor) {
			defer wg.Done()
			observed[i] = p.observe(ctx, actor)
		}(i, actor)
	}
	wg.Wait()

	p.mu.Lock()
	since := p.lastCheck
	now := p.clock.Now()
	if since.IsZero() {
		since = now.Add(-p.interval)
	}
	p.lastCheck = now
	for _, st := range observed {
		p.statuses[st.Name] = st
	}
	p.mu.Unlock()

	finalized := 0
	for _, st := range observed {
		if st.Error != "" {
			continue
		}
		finalized += reconcileObservation(p.store, st.Name, st.State, models.SourcePoll, *st.ObservedAt, since)
	}
	if finalized > 0 {
		p.log.Infof("polling finalized %d executions", finalized)
	}
	return finalized
}

func (p *StatusPoller) observe(ctx context.Context, actor *remote.Actor) models.ActorStatus {
	ctx, cancel := context.WithTimeout(ctx, p.requestTimeout)
	defer cancel()

	obs, err := actor.Observe(ctx)
	now := p.clock.Now()
	st := models.ActorStatus{
		Name:       actor.Name,
		Type:       actor.Type,
		State:      obs.State,
		Detail:     obs.Detail,
		ObservedAt: &now,
	}
	if err != nil {
		st.State = models.ActorUnknown
		st.Error = err.Error()
		p.log.Warnf("observing %s failed: %v", actor.Name, err)
	}
	return st
}

// Record stores a state reported by an actor itself, so the actor list
// reflects push events between polls.
func (p *StatusPoller) Record(st models.ActorStatus) {
	p.mu.Lock()
	p.statuses[st.Name] = st
	p.mu.Unlock()
}

// Statuses returns the last known state of every actor, sorted by name.
func (p *StatusPoller) Statuses() []models.ActorStatus {
	actors := p.actors.List()

	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]models.ActorStatus, 0, len(actors))
	for _, a := range actors {
		st, ok := p.statuses[a.Name]
		if !ok {
			st = models.ActorStatus{Name: a.Name, State: models.ActorUnknown}
		}
		if st.Type == "" {
			st.Type = a.Type
		}
		out = append(out, st)
	}
	return out
}

// Interval is the configured polling period.
func (p *StatusPoller) Interval() time.Duration {
	return p.interval
}
