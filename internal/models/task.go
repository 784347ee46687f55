package models

import (
	"encoding/json"
	"time"
)

type TaskStatus string

const (
	TaskPending   TaskStatus = "PENDING"
	TaskClaimed   TaskStatus = "CLAIMED"
	TaskCompleted TaskStatus = "COMPLETED"
	TaskFailed    TaskStatus = "FAILED"
	TaskExpired   TaskStatus = "EXPIRED"
)

// IsResolved reports whether the task can no longer change.
func (s TaskStatus) IsResolved() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskExpired
}

// WildcardTarget addresses a task to any polling actor.
const WildcardTarget = "*"

// QueuedTask is one unit of deferred work awaiting a polling actor.
type QueuedTask struct {
	ID         string          `json:"id"`
	Queue      string          `json:"queue"`
	Target     string          `json:"target"`
	Action     string          `json:"action"`
	Params     json.RawMessage `json:"params,omitempty"`
	Status     TaskStatus      `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	ExpiresAt  time.Time       `json:"expires_at"`
	ClaimedAt  *time.Time      `json:"claimed_at,omitempty"`
	ClaimedBy  string          `json:"claimed_by,omitempty"`
	ResolvedAt *time.Time      `json:"resolved_at,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
}

func (t *QueuedTask) Clone() QueuedTask {
	cp := *t
	if t.Params != nil {
		cp.Params = append(json.RawMessage(nil), t.Params...)
	}
	if t.Result != nil {
		cp.Result = append(json.RawMessage(nil), t.Result...)
	}
	if t.ClaimedAt != nil {
		c := *t.ClaimedAt
		cp.ClaimedAt = &c
	}
	if t.ResolvedAt != nil {
		r := *t.ResolvedAt
		cp.ResolvedAt = &r
	}
	return cp
}

type EnqueueTaskRequest struct {
	Target     string          `json:"target" binding:"required"`
	Action     string          `json:"action" binding:"required"`
	Params     json.RawMessage `json:"params"`
	TTLSeconds int             `json:"ttl_seconds"`
}

type TaskResultRequest struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}
