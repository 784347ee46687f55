package services

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Data-Integrities/backend-ai/internal/apperr"
	"github.com/Data-Integrities/backend-ai/internal/clock"
	"github.com/Data-Integrities/backend-ai/internal/logging"
	"github.com/Data-Integrities/backend-ai/internal/models"
	"github.com/google/uuid"
)

// Listener receives store events after the store lock has been released.
type Listener func(models.TransitionEvent)

// TimeoutHandler is called when an execution's deadline elapses while it is
// still pending. It runs on the timer goroutine.
type TimeoutHandler func(exec models.Execution)

type StartRequest struct {
	ID       string
	Command  string
	Target   string
	Kind     string
	ParentID string
	// Timeout overrides the default deadline when positive.
	Timeout time.Duration
}

type ExecutionStoreOptions struct {
	Clock          clock.Clock
	Logger         *logging.Logger
	DefaultTimeout time.Duration
	MaxRetained    int
	Retention      time.Duration
	LogLimit       int
}

type executionRecord struct {
	exec  models.Execution
	timer clock.Timer
	// truncated is set once the log hit the per-record limit.
	truncated bool
	// changed is set once the target was seen in a state other than the one
	// the kind expects, just before the execution started or any time after.
	changed bool
}

type observedState struct {
	state models.ActorState
	at    time.Time
}

// ExecutionStore owns every execution record and linearizes its transitions.
type ExecutionStore struct {
	clock          clock.Clock
	log            *logging.Logger
	defaultTimeout time.Duration
	maxRetained    int
	retention      time.Duration
	logLimit       int

	mu        sync.Mutex
	records   map[string]*executionRecord
	order     []string
	outbox    []models.TransitionEvent
	draining  bool
	onTimeout TimeoutHandler
	observed  map[string]observedState

	listenersMu  sync.RWMutex
	listeners    map[int]Listener
	nextListener int
}

func NewExecutionStore(opts ExecutionStoreOptions) *ExecutionStore {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 60 * time.Second
	}
	if opts.MaxRetained <= 0 {
		opts.MaxRetained = 1000
	}
	if opts.Retention <= 0 {
		opts.Retention = time.Hour
	}
	if opts.LogLimit <= 0 {
		opts.LogLimit = 500
	}
	return &ExecutionStore{
		clock:          opts.Clock,
		log:            opts.Logger.Component("executions"),
		defaultTimeout: opts.DefaultTimeout,
		maxRetained:    opts.MaxRetained,
		retention:      opts.Retention,
		logLimit:       opts.LogLimit,
		records:        make(map[string]*executionRecord),
		observed:       make(map[string]observedState),
		listeners:      make(map[int]Listener),
	}
}

// SetTimeoutHandler installs the deadline handler. Without one, expired
// executions fail with a timeout error.
func (s *ExecutionStore) SetTimeoutHandler(h TimeoutHandler) {
	s.mu.Lock()
	s.onTimeout = h
	s.mu.Unlock()
}

// Subscribe registers fn for every store event and returns its unsubscribe func.
func (s *ExecutionStore) Subscribe(fn Listener) func() {
	s.listenersMu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.listenersMu.Lock()
			delete(s.listeners, id)
			s.listenersMu.Unlock()
		})
	}
}

// Start creates a pending execution and arms its deadline timer.
func (s *ExecutionStore) Start(req StartRequest) (string, error) {
	s.mu.Lock()
	id, err := s.createLocked(req, nil, true)
	s.mu.Unlock()
	if err != nil {
		return "", err
	}
	s.flush()

	s.log.Infof("execution %s started: kind=%s target=%s", id, req.Kind, req.Target)
	return id, nil
}

// startGroup creates a batch parent and all of its children in one critical
// section, so no child can finalize before the parent knows it.
func (s *ExecutionStore) startGroup(parent StartRequest, children []StartRequest) error {
	s.mu.Lock()
	seen := make(map[string]bool, len(children)+1)
	ids := make([]string, 0, len(children)+1)
	ids = append(ids, parent.ID)
	for _, c := range children {
		ids = append(ids, c.ID)
	}
	for _, id := range ids {
		if id == "" {
			s.mu.Unlock()
			return apperr.InvalidRequest("batch ids must be assigned before creation")
		}
		if _, exists := s.records[id]; exists || seen[id] {
			s.mu.Unlock()
			return apperr.DuplicateID(id)
		}
		seen[id] = true
	}

	childIDs := ids[1:]
	if _, err := s.createLocked(parent, childIDs, false); err != nil {
		s.mu.Unlock()
		return err
	}
	for _, c := range children {
		c.ParentID = parent.ID
		if _, err := s.createLocked(c, nil, true); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	s.mu.Unlock()
	s.flush()

	s.log.Infof("batch %s started with %d children: kind=%s", parent.ID, len(children), parent.Kind)
	return nil
}

func (s *ExecutionStore) createLocked(req StartRequest, childIDs []string, arm bool) (string, error) {
	id := req.ID
	if id == "" {
		id = uuid.New().String()
	} else if _, exists := s.records[id]; exists {
		return "", apperr.DuplicateID(id)
	}

	s.evictForCapacityLocked()

	now := s.clock.Now()
	rec := &executionRecord{
		exec: models.Execution{
			ID:        id,
			Command:   req.Command,
			Target:    req.Target,
			Kind:      req.Kind,
			Status:    models.StatusPending,
			StartedAt: now,
			ParentID:  req.ParentID,
			Log:       []models.LogEntry{},
		},
	}
	if want, ok := Expectation(req.Kind); ok {
		if last, seen := s.observed[req.Target]; seen && last.state != want {
			rec.changed = true
		}
	}
	if len(childIDs) > 0 {
		rec.exec.ChildIDs = append([]string(nil), childIDs...)
	}
	if arm {
		timeout := req.Timeout
		if timeout <= 0 {
			timeout = s.defaultTimeout
		}
		rec.timer = s.clock.AfterFunc(timeout, func() { s.expire(id) })
	}

	s.records[id] = rec
	s.order = append(s.order, id)
	s.emitLocked(models.EventTransition, "", rec)
	return id, nil
}

// Complete finalizes a pending execution as SUCCESS. It returns false when the
// execution is unknown, already terminal, or a batch parent.
func (s *ExecutionStore) Complete(id, result string, source models.Source) bool {
	return s.finalize(id, models.StatusSuccess, result, "", source, false)
}

// Fail finalizes a pending execution as FAILED. The return value has the same
// meaning as for Complete.
func (s *ExecutionStore) Fail(id, errMsg string, source models.Source) bool {
	return s.finalize(id, models.StatusFailed, "", errMsg, source, false)
}

func (s *ExecutionStore) finalize(id string, status models.ExecutionStatus, result, errMsg string, source models.Source, internal bool) bool {
	s.mu.Lock()
	rec, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		s.log.Debugf("%s signal for unknown execution %s ignored", source, id)
		return false
	}

	now := s.clock.Now()
	if isReconciliationSource(source) && rec.exec.CallbackObservedAt == nil {
		rec.exec.CallbackObservedAt = &now
	}

	if rec.exec.IsParent() && !internal {
		s.appendLogLocked(rec, fmt.Sprintf("%s signal ignored: batch parent status is derived from children", source))
		s.mu.Unlock()
		s.flush()
		return false
	}

	if rec.exec.Status.IsTerminal() {
		prev := rec.exec.Status
		s.appendLogLocked(rec, fmt.Sprintf("duplicate %s signal ignored: already %s", source, prev))
		s.mu.Unlock()
		s.flush()
		s.log.Debugf("duplicate completion for %s from %s ignored: already %s", id, source, prev)
		return false
	}

	s.transitionLocked(rec, status, result, errMsg, source, now)
	s.mu.Unlock()
	s.flush()

	s.log.Infof("execution %s finalized as %s by %s", id, status, source)
	return true
}

func (s *ExecutionStore) transitionLocked(rec *executionRecord, status models.ExecutionStatus, result, errMsg string, source models.Source, now time.Time) {
	from := rec.exec.Status
	rec.exec.Status = status
	rec.exec.Result = result
	rec.exec.Error = errMsg
	rec.exec.FinalizedBy = source
	if rec.exec.EndedAt == nil {
		rec.exec.EndedAt = &now
	}
	if rec.timer != nil {
		rec.timer.Stop()
		rec.timer = nil
	}

	line := fmt.Sprintf("%s -> %s via %s", from, status, source)
	switch {
	case errMsg != "":
		line += ": " + errMsg
	case result != "":
		line += ": " + result
	}
	s.appendEntryLocked(rec, line, now)
	s.emitLocked(models.EventTransition, from, rec)
}

// markTimedOut moves a pending execution to TIMED_OUT ahead of escalation.
// Only one caller can win, which bounds escalation to one attempt.
func (s *ExecutionStore) markTimedOut(id string) bool {
	s.mu.Lock()
	rec, ok := s.records[id]
	if !ok || rec.exec.Status != models.StatusPending {
		s.mu.Unlock()
		return false
	}
	rec.exec.Escalated = true
	s.transitionLocked(rec, models.StatusTimedOut, "", "deadline elapsed, escalating", models.SourceTimeout, s.clock.Now())
	s.mu.Unlock()
	s.flush()

	s.log.Warnf("execution %s timed out, escalating", id)
	return true
}

// finishEscalation settles a TIMED_OUT execution with the escalation outcome.
func (s *ExecutionStore) finishEscalation(id string, status models.ExecutionStatus, result, errMsg string) bool {
	s.mu.Lock()
	rec, ok := s.records[id]
	if !ok || rec.exec.Status != models.StatusTimedOut {
		s.mu.Unlock()
		return false
	}
	s.transitionLocked(rec, status, result, errMsg, models.SourceEscalation, s.clock.Now())
	s.mu.Unlock()
	s.flush()

	s.log.Infof("execution %s escalation settled as %s", id, status)
	return true
}

// finalizeParent settles a batch parent. Only the aggregator calls it.
func (s *ExecutionStore) finalizeParent(id string, status models.ExecutionStatus, result, errMsg string, lines []string) bool {
	s.mu.Lock()
	rec, ok := s.records[id]
	if !ok || rec.exec.Status.IsTerminal() {
		s.mu.Unlock()
		return false
	}
	now := s.clock.Now()
	for _, line := range lines {
		s.appendEntryLocked(rec, line, now)
	}
	s.transitionLocked(rec, status, result, errMsg, models.SourceAggregate, now)
	s.mu.Unlock()
	s.flush()

	s.log.Infof("batch %s finalized as %s", id, status)
	return true
}

func (s *ExecutionStore) expire(id string) {
	s.mu.Lock()
	rec, ok := s.records[id]
	if !ok || rec.exec.Status != models.StatusPending {
		s.mu.Unlock()
		return
	}
	snapshot := rec.exec.Clone()
	handler := s.onTimeout
	s.mu.Unlock()

	if handler != nil {
		handler(snapshot)
		return
	}
	s.Fail(id, timeoutMessage(snapshot), models.SourceTimeout)
}

func timeoutMessage(exec models.Execution) string {
	return apperr.Message(apperr.Timeout(fmt.Sprintf("no completion signal for %s on %s before the deadline", exec.Kind, exec.Target)))
}

// AppendLog adds a line to the execution's log.
func (s *ExecutionStore) AppendLog(id, line string) error {
	s.mu.Lock()
	rec, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return apperr.ExecutionNotFound(id)
	}
	s.appendLogLocked(rec, line)
	s.mu.Unlock()
	s.flush()
	return nil
}

func (s *ExecutionStore) appendLogLocked(rec *executionRecord, line string) {
	if s.appendEntryLocked(rec, line, s.clock.Now()) {
		s.emitLocked(models.EventLog, rec.exec.Status, rec)
	}
}

func (s *ExecutionStore) appendEntryLocked(rec *executionRecord, line string, at time.Time) bool {
	line = strings.TrimRight(line, "\r\n")
	if len(rec.exec.Log) >= s.logLimit {
		if rec.truncated {
			return false
		}
		rec.truncated = true
		line = fmt.Sprintf("log limit of %d lines reached, further lines dropped", s.logLimit)
	}
	rec.exec.Log = append(rec.exec.Log, models.LogEntry{Timestamp: at, Line: line})
	return true
}

// MarkPollDetected records the first time polling corroborated an outcome.
// It applies regardless of the execution's status.
func (s *ExecutionStore) MarkPollDetected(id string, at time.Time) bool {
	s.mu.Lock()
	rec, ok := s.records[id]
	if !ok || rec.exec.PollDetectedAt != nil {
		s.mu.Unlock()
		return false
	}
	rec.exec.PollDetectedAt = &at
	s.emitLocked(models.EventDetected, rec.exec.Status, rec)
	s.mu.Unlock()
	s.flush()
	return true
}

func (s *ExecutionStore) Get(id string) (*models.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, apperr.ExecutionNotFound(id)
	}
	cp := rec.exec.Clone()
	return &cp, nil
}

// List returns copies of every retained execution, oldest first.
func (s *ExecutionStore) List() []models.Execution {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Execution, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id].exec.Clone())
	}
	return out
}

// PendingForTarget returns the pending non-batch executions addressed to target.
func (s *ExecutionStore) PendingForTarget(target string) []models.Execution {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Execution
	for _, id := range s.order {
		rec := s.records[id]
		if rec.exec.Status == models.StatusPending && rec.exec.Target == target && !rec.exec.IsParent() {
			out = append(out, rec.exec.Clone())
		}
	}
	return out
}

// AwaitingDetection returns the non-batch executions on target that polling
// has not corroborated yet: pending ones, and those that ended at or after since.
func (s *ExecutionStore) AwaitingDetection(target string, since time.Time) []models.Execution {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Execution
	for _, id := range s.order {
		rec := s.records[id]
		if awaitingDetection(rec, target, since) {
			out = append(out, rec.exec.Clone())
		}
	}
	return out
}

func awaitingDetection(rec *executionRecord, target string, since time.Time) bool {
	e := &rec.exec
	if e.Target != target || e.IsParent() || e.PollDetectedAt != nil {
		return false
	}
	return e.Status == models.StatusPending || (e.EndedAt != nil && !e.EndedAt.Before(since))
}

// ObserveTarget records a known state of target observed at at, and returns
// the executions awaiting detection that it confirms. A state only confirms
// an execution once the target was seen in a different state, so an actor
// that already looked finished when the operation started is not taken as
// its outcome. A restart therefore needs a stopped observation before the
// running one. Observations taken before an execution started never
// confirm it.
func (s *ExecutionStore) ObserveTarget(target string, state models.ActorState, at, since time.Time) []models.Execution {
	if state == models.ActorUnknown || state == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.observed[target]; !ok || !at.Before(last.at) {
		s.observed[target] = observedState{state: state, at: at}
	}

	var out []models.Execution
	for _, id := range s.order {
		rec := s.records[id]
		if !awaitingDetection(rec, target, since) {
			continue
		}
		want, ok := Expectation(rec.exec.Kind)
		if !ok {
			continue
		}
		if state != want {
			rec.changed = true
			continue
		}
		if rec.changed && !at.Before(rec.exec.StartedAt) {
			out = append(out, rec.exec.Clone())
		}
	}
	return out
}

// NoteTransition marks the pending executions on target as having seen the
// actor change, for actors that announce a transition before settling.
func (s *ExecutionStore) NoteTransition(target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		rec := s.records[id]
		if rec.exec.Status == models.StatusPending && rec.exec.Target == target && !rec.exec.IsParent() {
			rec.changed = true
		}
	}
}

// EvictExpired drops terminal records that ended before now minus retention.
func (s *ExecutionStore) EvictExpired(now time.Time) int {
	cutoff := now.Add(-s.retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.order[:0]
	removed := 0
	for _, id := range s.order {
		rec := s.records[id]
		if evictable(rec) && rec.exec.EndedAt.Before(cutoff) {
			delete(s.records, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept

	if removed > 0 {
		s.log.Debugf("evicted %d executions past retention", removed)
	}
	return removed
}

func (s *ExecutionStore) evictForCapacityLocked() {
	if len(s.records) < s.maxRetained {
		return
	}
	excess := len(s.records) - s.maxRetained + 1

	kept := s.order[:0]
	for _, id := range s.order {
		if excess > 0 && evictable(s.records[id]) {
			delete(s.records, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
}

// evictable excludes pending records and timed-out records awaiting escalation.
func evictable(rec *executionRecord) bool {
	return rec.exec.Status.IsTerminal() && rec.exec.Status != models.StatusTimedOut && rec.exec.EndedAt != nil
}

func (s *ExecutionStore) emitLocked(typ models.EventType, from models.ExecutionStatus, rec *executionRecord) {
	rec.exec.Revision++
	s.outbox = append(s.outbox, models.TransitionEvent{
		Type:      typ,
		From:      from,
		To:        rec.exec.Status,
		Execution: rec.exec.Clone(),
	})
}

// flush delivers queued events in the order they were produced. Only one
// goroutine drains at a time; events queued by listeners during delivery are
// picked up by the active drainer.
func (s *ExecutionStore) flush() {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	for len(s.outbox) > 0 {
		batch := s.outbox
		s.outbox = nil
		s.mu.Unlock()

		s.deliver(batch)

		s.mu.Lock()
	}
	s.draining = false
	s.mu.Unlock()
}

func (s *ExecutionStore) deliver(events []models.TransitionEvent) {
	s.listenersMu.RLock()
	listeners := make([]Listener, 0, len(s.listeners))
	for i := 0; i < s.nextListener; i++ {
		if fn, ok := s.listeners[i]; ok {
			listeners = append(listeners, fn)
		}
	}
	s.listenersMu.RUnlock()

	for _, evt := range events {
		for _, fn := range listeners {
			fn(evt)
		}
	}
}

func isReconciliationSource(src models.Source) bool {
	return src == models.SourceCallback || src == models.SourcePoll || src == models.SourcePush
}
