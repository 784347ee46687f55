package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Data-Integrities/backend-ai/internal/apperr"
	"github.com/Data-Integrities/backend-ai/internal/logging"
	"github.com/Data-Integrities/backend-ai/internal/models"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ExecutionDispatcher sends a started execution to its remote actor.
type ExecutionDispatcher interface {
	DispatchExecution(ctx context.Context, exec models.Execution)
}

type ChildSpec struct {
	Target  string
	Kind    string
	Command string
	Timeout time.Duration
}

type BatchRequest struct {
	ParentID string
	Target   string
	Kind     string
	Command  string
	Children []ChildSpec
}

type batchGroup struct {
	parentID string
	children []string
	outcomes map[string]models.Execution
	done     bool
}

// BatchAggregator derives batch parent status from its children.
type BatchAggregator struct {
	store       *ExecutionStore
	dispatcher  ExecutionDispatcher
	concurrency int
	log         *logging.Logger

	mu       sync.Mutex
	groups   map[string]*batchGroup
	parentOf map[string]string

	unsubscribe func()
}

func NewBatchAggregator(store *ExecutionStore, dispatcher ExecutionDispatcher, concurrency int, log *logging.Logger) *BatchAggregator {
	if concurrency <= 0 {
		concurrency = 8
	}
	if log == nil {
		log = logging.Discard()
	}
	a := &BatchAggregator{
		store:       store,
		dispatcher:  dispatcher,
		concurrency: concurrency,
		log:         log.Component("batch"),
		groups:      make(map[string]*batchGroup),
		parentOf:    make(map[string]string),
	}
	a.unsubscribe = store.Subscribe(a.onEvent)
	return a
}

// SetDispatcher wires the dispatcher after construction.
func (a *BatchAggregator) SetDispatcher(d ExecutionDispatcher) {
	a.mu.Lock()
	a.dispatcher = d
	a.mu.Unlock()
}

func (a *BatchAggregator) Close() {
	a.unsubscribe()
}

// StartBatch creates the parent and every child before any child is
// dispatched, then dispatches the children in the background.
func (a *BatchAggregator) StartBatch(ctx context.Context, req BatchRequest) (string, []string, error) {
	if len(req.Children) == 0 {
		return "", nil, apperr.InvalidRequest("a batch needs at least one child")
	}
	parentID := req.ParentID
	if parentID == "" {
		parentID = uuid.New().String()
	}
	target := req.Target
	if target == "" {
		target = models.BatchTarget
	}

	childIDs := make([]string, len(req.Children))
	children := make([]StartRequest, len(req.Children))
	for i, spec := range req.Children {
		childIDs[i] = uuid.New().String()
		children[i] = StartRequest{
			ID:       childIDs[i],
			Command:  spec.Command,
			Target:   spec.Target,
			Kind:     spec.Kind,
			ParentID: parentID,
			Timeout:  spec.Timeout,
		}
	}

	a.mu.Lock()
	if _, exists := a.groups[parentID]; exists {
		a.mu.Unlock()
		return "", nil, apperr.DuplicateID(parentID)
	}
	group := &batchGroup{
		parentID: parentID,
		children: childIDs,
		outcomes: make(map[string]models.Execution, len(childIDs)),
	}
	a.groups[parentID] = group
	for _, id := range childIDs {
		a.parentOf[id] = parentID
	}
	dispatcher := a.dispatcher
	a.mu.Unlock()

	parent := StartRequest{ID: parentID, Command: req.Command, Target: target, Kind: req.Kind}
	if err := a.store.startGroup(parent, children); err != nil {
		a.forget(group)
		return "", nil, err
	}

	if dispatcher != nil {
		go a.dispatchChildren(context.WithoutCancel(ctx), dispatcher, childIDs)
	}
	return parentID, childIDs, nil
}

func (a *BatchAggregator) dispatchChildren(ctx context.Context, dispatcher ExecutionDispatcher, childIDs []string) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for _, id := range childIDs {
		g.Go(func() error {
			exec, err := a.store.Get(id)
			if err != nil {
				return nil
			}
			dispatcher.DispatchExecution(gctx, *exec)
			return nil
		})
	}
	_ = g.Wait()
}

func (a *BatchAggregator) onEvent(evt models.TransitionEvent) {
	if evt.Type != models.EventTransition || !settled(evt.To) {
		return
	}
	child := evt.Execution

	a.mu.Lock()
	parentID, ok := a.parentOf[child.ID]
	if !ok {
		a.mu.Unlock()
		return
	}
	group := a.groups[parentID]
	if group == nil || group.done {
		a.mu.Unlock()
		return
	}
	group.outcomes[child.ID] = child
	if len(group.outcomes) < len(group.children) {
		a.mu.Unlock()
		return
	}
	group.done = true
	outcomes := make([]models.Execution, 0, len(group.children))
	for _, id := range group.children {
		outcomes = append(outcomes, group.outcomes[id])
	}
	a.mu.Unlock()

	a.finalize(parentID, outcomes)
	a.forget(group)
}

func (a *BatchAggregator) finalize(parentID string, outcomes []models.Execution) {
	failed := 0
	lines := make([]string, 0, len(outcomes))
	for _, c := range outcomes {
		detail := c.Result
		if c.Status != models.StatusSuccess {
			failed++
			detail = c.Error
		}
		lines = append(lines, fmt.Sprintf("child %s (%s): %s %s", c.ID, c.Target, c.Status, detail))
	}

	if failed == 0 {
		a.store.finalizeParent(parentID, models.StatusSuccess, fmt.Sprintf("all %d children succeeded", len(outcomes)), "", lines)
		return
	}
	a.store.finalizeParent(parentID, models.StatusFailed, "", fmt.Sprintf("%d of %d children failed", failed, len(outcomes)), lines)
}

func (a *BatchAggregator) forget(group *batchGroup) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.groups, group.parentID)
	for _, id := range group.children {
		delete(a.parentOf, id)
	}
}

// settled reports whether a child status is final for aggregation. TIMED_OUT
// still awaits its escalation outcome.
func settled(s models.ExecutionStatus) bool {
	return s.IsTerminal() && s != models.StatusTimedOut
}
