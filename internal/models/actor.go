package models

import "time"

// ActorState is the observed lifecycle state of a remote actor.
type ActorState string

const (
	ActorRunning ActorState = "running"
	ActorStopped ActorState = "stopped"
	ActorUnknown ActorState = "unknown"
)

// ActorStatus is the last observation the poller made of an actor.
type ActorStatus struct {
	Name       string     `json:"name"`
	Type       string     `json:"type"`
	State      ActorState `json:"state"`
	Detail     string     `json:"detail,omitempty"`
	Error      string     `json:"error,omitempty"`
	ObservedAt *time.Time `json:"observed_at,omitempty"`
}

// HistoryRecord is an archived finalized execution.
type HistoryRecord struct {
	ID          string          `json:"id"`
	Command     string          `json:"command"`
	Target      string          `json:"target"`
	Kind        string          `json:"kind"`
	Status      ExecutionStatus `json:"status"`
	ParentID    string          `json:"parent_id,omitempty"`
	Result      string          `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	FinalizedBy Source          `json:"finalized_by"`
	StartedAt   time.Time       `json:"started_at"`
	EndedAt     time.Time       `json:"ended_at"`
	DurationMs  int64           `json:"duration_ms"`
}
