package model

import "time"

// TaskState is the broker's task lifecycle FSM (spec.md §4.7).
type TaskState string

const (
	TaskStateQueued    TaskState = "queued"
	TaskStateRunning   TaskState = "running"
	TaskStateSucceeded TaskState = "succeeded"
	TaskStateFailed    TaskState = "failed"
	TaskStateRetrying  TaskState = "retrying"
	TaskStateCanceling TaskState = "canceling"
	TaskStateCanceled  TaskState = "canceled"
)

// TaskRecord is a single unit of work tracked by the task broker (C9).
type TaskRecord struct {
	TaskID      string     `json:"task_id"`
	Name        string     `json:"name"`
	Queue       string     `json:"queue"`
	State       TaskState  `json:"state"`
	Attempts    int        `json:"attempts"`
	MaxRetries  int        `json:"max_retries"`
	GroupID     string     `json:"group_id,omitempty"`
	ChainNext   string     `json:"chain_next,omitempty"`
	Payload     []byte     `json:"payload,omitempty"`
	ResultRef   string     `json:"result_ref,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// IsTerminal reports whether a task state will never transition again.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskStateSucceeded, TaskStateFailed, TaskStateCanceled:
		return true
	default:
		return false
	}
}
