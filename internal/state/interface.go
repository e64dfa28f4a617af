// Package state provides SQLite-based persistence for maestro.
package state

import (
	"io"
	"time"

	"github.com/ShayCichocki/maestro/pkg/models"
)

// TaskStore owns the task state machine: every transition is an atomic
// update against the store, which is the sole coordination medium
// between workers.
type TaskStore interface {
	EnqueueTask(ownerID, kind string, input map[string]any, maxAttempts int, limits QueueLimits) (*models.Task, error)
	ClaimTask(workerID string, leaseTimeout time.Duration) (*models.Task, error)
	HeartbeatTask(taskID, workerID string, leaseTimeout time.Duration) (bool, error)
	PauseTask(taskID, reason string, data map[string]any) error
	ResumeTask(taskID string) error
	SucceedTask(taskID string, result map[string]any) error
	FailTask(taskID, errMsg string, final bool) (bool, error)
	CancelTask(taskID, reason string) error
	SetTaskPlanStep(taskID, planID, stepID string) error
	GetTask(id string) (*models.Task, error)
	ListTasks(statuses ...models.TaskStatus) ([]*models.Task, error)
}

// PlanStore handles plan and step persistence.
type PlanStore interface {
	SavePlan(plan *models.Plan) error
	LoadPlan(planID string) (*models.Plan, error)
	LoadPlanForTask(taskID string) (*models.Plan, error)
}

// EventStore handles the append-only audit log.
type EventStore interface {
	AppendEvent(ev *models.TaskEvent) error
	ListEvents(taskID string) ([]*models.TaskEvent, error)
	PurgeOldEvents(olderThan time.Duration) (int64, error)
}

// Migrator handles database schema migrations.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// Store defines the full persistence interface the executor works
// against, allowing any backend without depending on the concrete
// SQLite implementation. It composes focused sub-interfaces.
type Store interface {
	io.Closer
	Migrator
	TaskStore
	PlanStore
	EventStore
}

// Compile-time verification that DB implements all interfaces.
var (
	_ Store      = (*DB)(nil)
	_ Migrator   = (*DB)(nil)
	_ TaskStore  = (*DB)(nil)
	_ PlanStore  = (*DB)(nil)
	_ EventStore = (*DB)(nil)
)
