package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Data-Integrities/backend-ai/internal/apperr"
	"github.com/Data-Integrities/backend-ai/internal/clock"
	"github.com/Data-Integrities/backend-ai/internal/logging"
	"github.com/Data-Integrities/backend-ai/internal/models"
	"github.com/Data-Integrities/backend-ai/internal/validation"
	"github.com/google/uuid"
)

const (
	QueueCommands = "commands"
	QueueUI       = "ui"
)

type TaskQueueOptions struct {
	Name         string
	DefaultTTL   time.Duration
	WaitInterval time.Duration
	Grace        time.Duration
	MaxWait      time.Duration
	Clock        clock.Clock
	Logger       *logging.Logger
}

// TaskQueue holds work for actors that can only be reached by polling.
type TaskQueue struct {
	name         string
	defaultTTL   time.Duration
	waitInterval time.Duration
	grace        time.Duration
	maxWait      time.Duration
	clock        clock.Clock
	log          *logging.Logger

	mu    sync.Mutex
	tasks map[string]*models.QueuedTask
	order []string
}

func NewTaskQueue(opts TaskQueueOptions) *TaskQueue {
	if opts.Name == "" {
		opts.Name = QueueCommands
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = 60 * time.Second
	}
	if opts.WaitInterval <= 0 {
		opts.WaitInterval = 100 * time.Millisecond
	}
	if opts.Grace <= 0 {
		opts.Grace = 5 * time.Minute
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = 120 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &TaskQueue{
		name:         opts.Name,
		defaultTTL:   opts.DefaultTTL,
		waitInterval: opts.WaitInterval,
		grace:        opts.Grace,
		maxWait:      opts.MaxWait,
		clock:        opts.Clock,
		log:          opts.Logger.With(map[string]any{"component": "queue", "queue": opts.Name}),
		tasks:        make(map[string]*models.QueuedTask),
	}
}

func (q *TaskQueue) Name() string {
	return q.name
}

// MaxWait is the upper bound accepted for a synchronous wait.
func (q *TaskQueue) MaxWait() time.Duration {
	return q.maxWait
}

// Enqueue adds a pending task for target, or for any actor when target is "*".
func (q *TaskQueue) Enqueue(target, action string, params json.RawMessage, ttl time.Duration) (*models.QueuedTask, error) {
	target = strings.TrimSpace(target)
	action = strings.TrimSpace(action)
	if target == "" || action == "" {
		return nil, apperr.InvalidRequest("target and action are required")
	}
	if target != models.WildcardTarget {
		if err := validation.ValidateName(target); err != nil {
			return nil, apperr.InvalidRequest(fmt.Sprintf("target %q: %v", target, err))
		}
	}
	if err := validation.ValidateName(action); err != nil {
		return nil, apperr.InvalidRequest(fmt.Sprintf("action %q: %v", action, err))
	}
	if len(params) > 0 && !json.Valid(params) {
		return nil, apperr.InvalidRequest("params must be valid JSON")
	}
	if ttl <= 0 {
		ttl = q.defaultTTL
	}

	now := q.clock.Now()
	task := &models.QueuedTask{
		ID:        uuid.New().String(),
		Queue:     q.name,
		Target:    target,
		Action:    action,
		Status:    models.TaskPending,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if len(params) > 0 {
		task.Params = append(json.RawMessage(nil), params...)
	}

	q.mu.Lock()
	q.tasks[task.ID] = task
	q.order = append(q.order, task.ID)
	cp := task.Clone()
	q.mu.Unlock()

	q.log.Infof("task %s queued: action=%s target=%s ttl=%v", task.ID, action, target, ttl)
	return &cp, nil
}

// PollPending claims and returns every task addressed to actorID or to the
// wildcard. A claimed task is never returned again.
func (q *TaskQueue) PollPending(actorID string) []models.QueuedTask {
	now := q.clock.Now()

	q.mu.Lock()
	defer q.mu.Unlock()

	claimed := []models.QueuedTask{}
	for _, id := range q.order {
		task := q.tasks[id]
		q.expireLocked(task, now)
		if task.Status != models.TaskPending {
			continue
		}
		if task.Target != actorID && task.Target != models.WildcardTarget {
			continue
		}
		at := now
		task.Status = models.TaskClaimed
		task.ClaimedAt = &at
		task.ClaimedBy = actorID
		claimed = append(claimed, task.Clone())
	}
	if len(claimed) > 0 {
		q.log.Debugf("actor %s claimed %d tasks", actorID, len(claimed))
	}
	return claimed
}

// PostResult resolves a claimed task. A non-empty errMsg marks it FAILED.
func (q *TaskQueue) PostResult(id string, result json.RawMessage, errMsg string) (*models.QueuedTask, error) {
	if len(result) > 0 && !json.Valid(result) {
		return nil, apperr.InvalidRequest("result must be valid JSON")
	}
	now := q.clock.Now()

	q.mu.Lock()
	task, ok := q.tasks[id]
	if !ok {
		q.mu.Unlock()
		return nil, apperr.TaskNotFound(id)
	}
	q.expireLocked(task, now)
	switch task.Status {
	case models.TaskClaimed:
	case models.TaskExpired:
		q.mu.Unlock()
		return nil, apperr.TaskExpired(id)
	default:
		status := task.Status
		q.mu.Unlock()
		return nil, apperr.InvalidTaskState(id, string(status))
	}

	at := now
	task.ResolvedAt = &at
	if errMsg != "" {
		task.Status = models.TaskFailed
		task.Error = errMsg
	} else {
		task.Status = models.TaskCompleted
	}
	if len(result) > 0 {
		task.Result = append(json.RawMessage(nil), result...)
	}
	cp := task.Clone()
	q.mu.Unlock()

	q.log.Infof("task %s resolved as %s by %s", id, cp.Status, cp.ClaimedBy)
	return &cp, nil
}

// WaitForResult blocks until the task is resolved, it expires, timeout
// elapses or ctx is done, checking the task every wait interval.
func (q *TaskQueue) WaitForResult(ctx context.Context, id string, timeout time.Duration) (*models.QueuedTask, error) {
	if timeout <= 0 || timeout > q.maxWait {
		timeout = q.maxWait
	}
	deadline := q.clock.NewTimer(timeout)
	defer deadline.Stop()
	ticker := q.clock.NewTicker(q.waitInterval)
	defer ticker.Stop()

	elapsed := false
	for {
		task, err := q.Get(id)
		if err != nil {
			return nil, err
		}
		switch task.Status {
		case models.TaskCompleted, models.TaskFailed:
			return task, nil
		case models.TaskExpired:
			return task, apperr.TaskExpired(id)
		}
		if elapsed {
			return task, apperr.Timeout(fmt.Sprintf("task %s not resolved within %v", id, timeout))
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.Chan():
			elapsed = true
		case <-ticker.Chan():
		}
	}
}

// Get returns a copy of the task, applying expiry first.
func (q *TaskQueue) Get(id string) (*models.QueuedTask, error) {
	now := q.clock.Now()

	q.mu.Lock()
	defer q.mu.Unlock()
	task, ok := q.tasks[id]
	if !ok {
		return nil, apperr.TaskNotFound(id)
	}
	q.expireLocked(task, now)
	cp := task.Clone()
	return &cp, nil
}

// List returns copies of every retained task, oldest first.
func (q *TaskQueue) List() []models.QueuedTask {
	now := q.clock.Now()

	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]models.QueuedTask, 0, len(q.order))
	for _, id := range q.order {
		task := q.tasks[id]
		q.expireLocked(task, now)
		out = append(out, task.Clone())
	}
	return out
}

// Sweep expires overdue tasks and removes tasks resolved longer than the
// grace period ago. It returns how many tasks it expired and removed.
func (q *TaskQueue) Sweep(now time.Time) (expired, removed int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.order[:0]
	for _, id := range q.order {
		task := q.tasks[id]
		if q.expireLocked(task, now) {
			expired++
		}
		if task.ResolvedAt != nil && now.Sub(*task.ResolvedAt) >= q.grace {
			delete(q.tasks, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	q.order = kept

	if expired > 0 || removed > 0 {
		q.log.Debugf("sweep expired %d and removed %d tasks", expired, removed)
	}
	return expired, removed
}

// expireLocked moves an unresolved task past its deadline to EXPIRED.
func (q *TaskQueue) expireLocked(task *models.QueuedTask, now time.Time) bool {
	if task.Status.IsResolved() || now.Before(task.ExpiresAt) {
		return false
	}
	previous := task.Status
	at := task.ExpiresAt
	task.Status = models.TaskExpired
	task.ResolvedAt = &at
	task.Error = apperr.Message(apperr.TaskExpired(task.ID))
	q.log.Warnf("task %s expired while %s", task.ID, previous)
	return true
}
