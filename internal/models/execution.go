package models

import "time"

// ExecutionStatus represents the lifecycle state of a correlated operation.
type ExecutionStatus string

const (
	// StatusPending is the only non-terminal state.
	StatusPending ExecutionStatus = "PENDING"
	// StatusSuccess indicates a reconciliation channel reported success.
	StatusSuccess ExecutionStatus = "SUCCESS"
	// StatusFailed indicates failure, a timeout without escalation, or a failed escalation.
	StatusFailed ExecutionStatus = "FAILED"
	// StatusTimedOut indicates the deadline elapsed and escalation is in progress.
	StatusTimedOut ExecutionStatus = "TIMED_OUT"
	// StatusManuallyTerminated indicates the target was force-terminated after a timeout.
	StatusManuallyTerminated ExecutionStatus = "MANUALLY_TERMINATED"
)

func (s ExecutionStatus) IsTerminal() bool {
	return s != StatusPending
}

// Source names the channel that produced a transition.
type Source string

const (
	SourceCallback   Source = "callback"
	SourcePoll       Source = "poll"
	SourcePush       Source = "push"
	SourceTimeout    Source = "timeout"
	SourceEscalation Source = "escalation"
	SourceDispatch   Source = "dispatch"
	SourceAggregate  Source = "aggregate"
)

// BatchTarget is the target recorded on batch parents.
const BatchTarget = "multi-agent"

type LogEntry struct {
	Timestamp time.Time `json:"ts"`
	Line      string    `json:"line"`
}

// Execution is one attempted remote operation.
type Execution struct {
	ID                 string          `json:"id"`
	Command            string          `json:"command"`
	Target             string          `json:"target"`
	Kind               string          `json:"kind"`
	Status             ExecutionStatus `json:"status"`
	StartedAt          time.Time       `json:"started_at"`
	EndedAt            *time.Time      `json:"ended_at,omitempty"`
	CallbackObservedAt *time.Time      `json:"callback_observed_at,omitempty"`
	PollDetectedAt     *time.Time      `json:"poll_detected_at,omitempty"`
	ParentID           string          `json:"parent_id,omitempty"`
	ChildIDs           []string        `json:"child_ids,omitempty"`
	Result             string          `json:"result,omitempty"`
	Error              string          `json:"error,omitempty"`
	Log                []LogEntry      `json:"log"`
	Escalated          bool            `json:"escalated"`
	FinalizedBy        Source          `json:"finalized_by,omitempty"`
	// Revision increases with every emitted change to the record.
	Revision           int64           `json:"revision"`
}

// IsParent reports whether the execution aggregates batch children.
func (e *Execution) IsParent() bool {
	return len(e.ChildIDs) > 0
}

// Clone returns a deep copy safe to hand out of the store.
func (e *Execution) Clone() Execution {
	cp := *e
	if e.EndedAt != nil {
		t := *e.EndedAt
		cp.EndedAt = &t
	}
	if e.CallbackObservedAt != nil {
		t := *e.CallbackObservedAt
		cp.CallbackObservedAt = &t
	}
	if e.PollDetectedAt != nil {
		t := *e.PollDetectedAt
		cp.PollDetectedAt = &t
	}
	if e.ChildIDs != nil {
		cp.ChildIDs = append([]string(nil), e.ChildIDs...)
	}
	cp.Log = append([]LogEntry{}, e.Log...)
	return cp
}

// EventType distinguishes transition events from log and detection events.
type EventType string

const (
	EventTransition EventType = "transition"
	EventLog        EventType = "log"
	EventDetected   EventType = "detected"
	// EventBackfill frames carry the snapshot sent to a new stream subscriber.
	EventBackfill EventType = "backfill"
)

// TransitionEvent is emitted by the store after every change to a record.
type TransitionEvent struct {
	Type      EventType       `json:"type"`
	From      ExecutionStatus `json:"from,omitempty"`
	To        ExecutionStatus `json:"to"`
	Execution Execution       `json:"execution"`
}

type CompleteRequest struct {
	Result string `json:"result"`
}

type FailRequest struct {
	Error string `json:"error"`
}

type AppendLogRequest struct {
	Line string `json:"line" binding:"required"`
}

type CallbackResponse struct {
	ID      string          `json:"id"`
	Applied bool            `json:"applied"`
	Status  ExecutionStatus `json:"status,omitempty"`
}

type StartOperationRequest struct {
	ID             string `json:"id"`
	Target         string `json:"target" binding:"required"`
	Kind           string `json:"kind" binding:"required"`
	Command        string `json:"command"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type BatchOperationRequest struct {
	Targets  []string `json:"targets" binding:"required"`
	ParentID string   `json:"parent_id"`
	Command  string   `json:"command"`
}

type ActorEventRequest struct {
	Event  string `json:"event" binding:"required"`
	Detail string `json:"detail"`
}
