package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Data-Integrities/backend-ai/internal/clock"
	"github.com/Data-Integrities/backend-ai/internal/models"
	"github.com/Data-Integrities/backend-ai/internal/remote"
)

var testEpoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newTestStore(t *testing.T, opts ExecutionStoreOptions) (*ExecutionStore, *clock.Fake) {
	t.Helper()
	fake := clock.NewFake(testEpoch)
	opts.Clock = fake
	return NewExecutionStore(opts), fake
}

type stubObserver struct {
	mu    sync.Mutex
	state models.ActorState
	err   error
}

func (o *stubObserver) set(state models.ActorState) {
	o.mu.Lock()
	o.state = state
	o.mu.Unlock()
}

func (o *stubObserver) Observe(context.Context) (remote.Observation, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return remote.Observation{State: o.state}, o.err
}

type stubDispatcher struct {
	mu  sync.Mutex
	err error
	ops []remote.Operation
}

func (d *stubDispatcher) Dispatch(_ context.Context, op remote.Operation) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ops = append(d.ops, op)
	return d.err
}

func (d *stubDispatcher) calls() []remote.Operation {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]remote.Operation(nil), d.ops...)
}

type terminatorFunc func(ctx context.Context) error

func (f terminatorFunc) Terminate(ctx context.Context) error { return f(ctx) }

// eventRecorder collects store events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []models.TransitionEvent
}

func (r *eventRecorder) listen(evt models.TransitionEvent) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

func (r *eventRecorder) transitions(id string) []models.ExecutionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ExecutionStatus
	for _, e := range r.events {
		if e.Type == models.EventTransition && e.Execution.ID == id {
			out = append(out, e.To)
		}
	}
	return out
}

func logContains(exec *models.Execution, substr string) bool {
	for _, entry := range exec.Log {
		if strings.Contains(entry.Line, substr) {
			return true
		}
	}
	return false
}
