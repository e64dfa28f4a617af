package models

import "time"

// EventType represents the kind of task audit event.
type EventType string

const (
	// EventTaskEnqueued indicates a task was created and queued.
	EventTaskEnqueued EventType = "task_enqueued"
	// EventTaskClaimed indicates a worker claimed the task.
	EventTaskClaimed EventType = "task_claimed"
	// EventTaskPaused indicates the task was suspended.
	EventTaskPaused EventType = "task_paused"
	// EventTaskResumed indicates a paused task returned to the queue.
	EventTaskResumed EventType = "task_resumed"
	// EventTaskSucceeded indicates the task completed successfully.
	EventTaskSucceeded EventType = "task_succeeded"
	// EventTaskRequeued indicates a failed task was returned to the queue for retry.
	EventTaskRequeued EventType = "task_requeued"
	// EventTaskFailed indicates the task failed terminally.
	EventTaskFailed EventType = "task_failed"
	// EventTaskCancelled indicates the task was cancelled.
	EventTaskCancelled EventType = "task_cancelled"
	// EventStepStarted indicates a plan step began executing.
	EventStepStarted EventType = "step_started"
	// EventStepCompleted indicates a plan step finished successfully.
	EventStepCompleted EventType = "step_completed"
	// EventStepFailed indicates a plan step's handler returned an error.
	EventStepFailed EventType = "step_failed"
	// EventApprovalRequired indicates a step suspended awaiting approval.
	EventApprovalRequired EventType = "approval_required"
)

// TaskEvent is an immutable audit record for one task transition.
// Events are append-only; they are never mutated, and are deleted only
// by the global retention policy.
type TaskEvent struct {
	// ID is the row identifier assigned by the store.
	ID int64 `json:"id"`
	// TaskID is the task this event belongs to.
	TaskID string `json:"task_id"`
	// Type is the kind of event.
	Type EventType `json:"event_type"`
	// Data carries structured context for the event.
	Data map[string]any `json:"event_data,omitempty"`
	// StepID references the related step, if any.
	StepID string `json:"step_id,omitempty"`
	// Handler names the action handler involved, if any.
	Handler string `json:"tool_name,omitempty"`
	// CreatedAt is when the event occurred.
	CreatedAt time.Time `json:"created_at"`
}
