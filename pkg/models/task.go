package models

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusQueued indicates the task is waiting to be claimed.
	TaskStatusQueued TaskStatus = "queued"
	// TaskStatusRunning indicates a worker holds the task under a lease.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusPaused indicates the task is suspended awaiting approval.
	TaskStatusPaused TaskStatus = "paused"
	// TaskStatusSucceeded indicates the task completed successfully.
	TaskStatusSucceeded TaskStatus = "succeeded"
	// TaskStatusFailed indicates the task failed with no attempts remaining.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusCancelled indicates the task was cancelled by an external actor.
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusQueued, TaskStatusRunning, TaskStatusPaused,
		TaskStatusSucceeded, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further transitions are possible from this status.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusSucceeded, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Task represents a unit of queued work tracked through the state machine.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// OwnerID identifies the user that enqueued the task.
	OwnerID string `json:"owner_id"`
	// Kind selects the plan construction strategy and default action.
	Kind string `json:"kind"`
	// Input is the free-form payload the plan strategies consume.
	Input map[string]any `json:"input,omitempty"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// PauseReason explains why the task is paused, if it is.
	PauseReason string `json:"pause_reason,omitempty"`
	// Attempts counts how many times the task has been claimed.
	Attempts int `json:"attempts"`
	// MaxAttempts bounds how many times the task may be retried.
	MaxAttempts int `json:"max_attempts"`
	// WorkerID identifies the worker currently holding the lease.
	WorkerID string `json:"worker_id,omitempty"`
	// LeaseAcquiredAt is when the current lease was taken.
	LeaseAcquiredAt *time.Time `json:"lease_acquired_at,omitempty"`
	// LeaseExpiresAt is when the current lease lapses.
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`
	// PlanID references the plan built for this task, if any.
	PlanID string `json:"plan_id,omitempty"`
	// CurrentStepID references the step most recently dispatched.
	CurrentStepID string `json:"current_step_id,omitempty"`
	// Result is the summary payload written when the task succeeds.
	Result map[string]any `json:"result,omitempty"`
	// Error contains the last error message if the task failed.
	Error string `json:"error,omitempty"`
	// CreatedAt is when the task was enqueued.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the task row was last written.
	UpdatedAt time.Time `json:"updated_at"`
	// StartedAt is when the task was first claimed, if ever.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// CompletedAt is when the task reached a terminal state, if it has.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// LeaseExpired returns true if the task holds a lease that has lapsed.
func (t *Task) LeaseExpired(now time.Time) bool {
	return t.LeaseExpiresAt != nil && t.LeaseExpiresAt.Before(now)
}
