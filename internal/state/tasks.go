package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/maestro/pkg/models"
)

// Sentinel errors for task operations.
var (
	// ErrTaskNotFound indicates the task does not exist.
	ErrTaskNotFound = errors.New("task not found")
	// ErrQuotaExceeded indicates an owner has hit a queue or rate limit.
	ErrQuotaExceeded = errors.New("task quota exceeded")
	// ErrInvalidTransition indicates the task is not in a state that
	// permits the requested operation.
	ErrInvalidTransition = errors.New("invalid task transition")
)

// QueueLimits bounds how many tasks an owner may have in flight.
// A zero value disables the corresponding limit.
type QueueLimits struct {
	// MaxOpenTasks caps queued+running+paused tasks per owner.
	MaxOpenTasks int
	// TasksPerHour caps task creation per owner over a rolling hour.
	TasksPerHour int
}

// EnqueueTask creates a task in the queued state and records an audit
// event. It rejects with ErrQuotaExceeded if the owner already holds too
// many open tasks or has exceeded the rolling per-hour creation quota.
func (db *DB) EnqueueTask(ownerID, kind string, input map[string]any, maxAttempts int, limits QueueLimits) (*models.Task, error) {
	now := time.Now()
	task := &models.Task{
		ID:          uuid.New().String(),
		OwnerID:     ownerID,
		Kind:        kind,
		Input:       input,
		Status:      models.TaskStatusQueued,
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	inputJSON, err := marshalJSON(input)
	if err != nil {
		return nil, fmt.Errorf("encode task input: %w", err)
	}

	err = db.Transaction(func(tx *sql.Tx) error {
		if limits.MaxOpenTasks > 0 {
			var open int
			row := tx.QueryRow(`
				SELECT COUNT(*) FROM tasks
				WHERE owner_id = ? AND status IN ('queued', 'running', 'paused')
			`, ownerID)
			if err := row.Scan(&open); err != nil {
				return fmt.Errorf("count open tasks: %w", err)
			}
			if open >= limits.MaxOpenTasks {
				return fmt.Errorf("%w: owner %s has %d open tasks (max %d)",
					ErrQuotaExceeded, ownerID, open, limits.MaxOpenTasks)
			}
		}

		if limits.TasksPerHour > 0 {
			var recent int
			cutoff := formatTime(now.Add(-time.Hour))
			row := tx.QueryRow(`
				SELECT COUNT(*) FROM tasks
				WHERE owner_id = ? AND created_at > ?
			`, ownerID, cutoff)
			if err := row.Scan(&recent); err != nil {
				return fmt.Errorf("count recent tasks: %w", err)
			}
			if recent >= limits.TasksPerHour {
				return fmt.Errorf("%w: owner %s created %d tasks in the last hour (max %d)",
					ErrQuotaExceeded, ownerID, recent, limits.TasksPerHour)
			}
		}

		_, err := tx.Exec(`
			INSERT INTO tasks (id, owner_id, kind, input, status, attempts, max_attempts, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?)
		`, task.ID, task.OwnerID, task.Kind, inputJSON, string(task.Status),
			task.MaxAttempts, formatTime(task.CreatedAt), formatTime(task.UpdatedAt))
		if err != nil {
			return fmt.Errorf("insert task: %w", err)
		}

		return appendEventTx(tx, &models.TaskEvent{
			TaskID:    task.ID,
			Type:      models.EventTaskEnqueued,
			Data:      map[string]any{"kind": kind, "owner_id": ownerID},
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}

	return task, nil
}

// ClaimTask atomically claims the oldest eligible task for the given
// worker: a queued task, or a running task whose lease has expired
// (crash recovery). It transitions the task to running, assigns the
// worker as lease holder, increments the attempt counter, and sets the
// started-at timestamp on first claim. Returns nil if no task is
// eligible. The select and update happen in one transaction so that
// concurrent claimants never receive the same task.
func (db *DB) ClaimTask(workerID string, leaseTimeout time.Duration) (*models.Task, error) {
	now := time.Now()
	var claimed *models.Task

	err := db.Transaction(func(tx *sql.Tx) error {
		rows, err := tx.Query(`
			SELECT ` + taskColumns + ` FROM tasks
			WHERE status IN ('queued', 'running')
			ORDER BY created_at ASC
		`)
		if err != nil {
			return fmt.Errorf("select claimable tasks: %w", err)
		}

		var candidate *models.Task
		for rows.Next() {
			t, err := scanTask(rows)
			if err != nil {
				rows.Close()
				return err
			}
			if t.Status == models.TaskStatusQueued || t.LeaseExpired(now) {
				candidate = t
				break
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate claimable tasks: %w", err)
		}
		if candidate == nil {
			return nil
		}

		expiry := now.Add(leaseTimeout)
		started := candidate.StartedAt
		if started == nil {
			started = &now
		}

		_, err = tx.Exec(`
			UPDATE tasks
			SET status = 'running', worker_id = ?, lease_acquired_at = ?, lease_expires_at = ?,
			    attempts = attempts + 1, started_at = ?, updated_at = ?
			WHERE id = ?
		`, workerID, formatTime(now), formatTime(expiry), formatTime(*started), formatTime(now), candidate.ID)
		if err != nil {
			return fmt.Errorf("claim task %s: %w", candidate.ID, err)
		}

		candidate.Status = models.TaskStatusRunning
		candidate.WorkerID = workerID
		candidate.LeaseAcquiredAt = &now
		candidate.LeaseExpiresAt = &expiry
		candidate.Attempts++
		candidate.StartedAt = started
		candidate.UpdatedAt = now
		claimed = candidate

		return appendEventTx(tx, &models.TaskEvent{
			TaskID:    candidate.ID,
			Type:      models.EventTaskClaimed,
			Data:      map[string]any{"worker_id": workerID, "attempt": candidate.Attempts},
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}

	return claimed, nil
}

// HeartbeatTask extends the lease on a running task, but only if the
// given worker still holds it. Returns false if the lease was lost,
// letting the caller detect the reclaim and abort.
func (db *DB) HeartbeatTask(taskID, workerID string, leaseTimeout time.Duration) (bool, error) {
	now := time.Now()
	res, err := db.Exec(`
		UPDATE tasks
		SET lease_expires_at = ?, updated_at = ?
		WHERE id = ? AND worker_id = ? AND status = 'running'
	`, formatTime(now.Add(leaseTimeout)), formatTime(now), taskID, workerID)
	if err != nil {
		return false, fmt.Errorf("heartbeat task %s: %w", taskID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("heartbeat rows affected: %w", err)
	}
	return n > 0, nil
}

// PauseTask suspends a running task, releasing its lease. Paused tasks
// are not eligible for claiming until explicitly resumed.
func (db *DB) PauseTask(taskID, reason string, data map[string]any) error {
	now := time.Now()
	return db.Transaction(func(tx *sql.Tx) error {
		if err := requireStatusTx(tx, taskID, models.TaskStatusRunning, "pause"); err != nil {
			return err
		}

		_, err := tx.Exec(`
			UPDATE tasks
			SET status = 'paused', pause_reason = ?, worker_id = NULL,
			    lease_acquired_at = NULL, lease_expires_at = NULL, updated_at = ?
			WHERE id = ?
		`, reason, formatTime(now), taskID)
		if err != nil {
			return fmt.Errorf("pause task %s: %w", taskID, err)
		}

		return appendEventTx(tx, &models.TaskEvent{
			TaskID:    taskID,
			Type:      models.EventTaskPaused,
			Data:      mergeEventData(data, map[string]any{"reason": reason}),
			CreatedAt: now,
		})
	})
}

// ResumeTask returns a paused task to the queue, clearing its pause
// reason and making it eligible for claiming again.
func (db *DB) ResumeTask(taskID string) error {
	now := time.Now()
	return db.Transaction(func(tx *sql.Tx) error {
		if err := requireStatusTx(tx, taskID, models.TaskStatusPaused, "resume"); err != nil {
			return err
		}

		_, err := tx.Exec(`
			UPDATE tasks
			SET status = 'queued', pause_reason = NULL, updated_at = ?
			WHERE id = ?
		`, formatTime(now), taskID)
		if err != nil {
			return fmt.Errorf("resume task %s: %w", taskID, err)
		}

		return appendEventTx(tx, &models.TaskEvent{
			TaskID:    taskID,
			Type:      models.EventTaskResumed,
			CreatedAt: now,
		})
	})
}

// SucceedTask finalizes a running task as succeeded with the given
// result summary.
func (db *DB) SucceedTask(taskID string, result map[string]any) error {
	now := time.Now()
	resultJSON, err := marshalJSON(result)
	if err != nil {
		return fmt.Errorf("encode task result: %w", err)
	}

	return db.Transaction(func(tx *sql.Tx) error {
		if err := requireStatusTx(tx, taskID, models.TaskStatusRunning, "succeed"); err != nil {
			return err
		}

		_, err := tx.Exec(`
			UPDATE tasks
			SET status = 'succeeded', result = ?, error = NULL, worker_id = NULL,
			    lease_acquired_at = NULL, lease_expires_at = NULL,
			    completed_at = ?, updated_at = ?
			WHERE id = ?
		`, resultJSON, formatTime(now), formatTime(now), taskID)
		if err != nil {
			return fmt.Errorf("succeed task %s: %w", taskID, err)
		}

		return appendEventTx(tx, &models.TaskEvent{
			TaskID:    taskID,
			Type:      models.EventTaskSucceeded,
			CreatedAt: now,
		})
	})
}

// FailTask records a failure on a running task. If attempts remain and
// final is false, the task returns to the queue for another attempt and
// FailTask reports true. Otherwise the task is finalized as failed.
// Passing final forces terminal failure regardless of remaining
// attempts, used for limit violations that must not be retried.
func (db *DB) FailTask(taskID, errMsg string, final bool) (bool, error) {
	now := time.Now()
	var requeued bool

	err := db.Transaction(func(tx *sql.Tx) error {
		task, err := getTaskTx(tx, taskID)
		if err != nil {
			return err
		}
		if task.Status != models.TaskStatusRunning {
			return fmt.Errorf("%w: cannot fail task %s in status %s",
				ErrInvalidTransition, taskID, task.Status)
		}

		if !final && task.Attempts < task.MaxAttempts {
			_, err := tx.Exec(`
				UPDATE tasks
				SET status = 'queued', error = ?, worker_id = NULL,
				    lease_acquired_at = NULL, lease_expires_at = NULL, updated_at = ?
				WHERE id = ?
			`, errMsg, formatTime(now), taskID)
			if err != nil {
				return fmt.Errorf("requeue task %s: %w", taskID, err)
			}
			requeued = true
			return appendEventTx(tx, &models.TaskEvent{
				TaskID: taskID,
				Type:   models.EventTaskRequeued,
				Data: map[string]any{
					"error":   errMsg,
					"attempt": task.Attempts,
				},
				CreatedAt: now,
			})
		}

		_, err = tx.Exec(`
			UPDATE tasks
			SET status = 'failed', error = ?, worker_id = NULL,
			    lease_acquired_at = NULL, lease_expires_at = NULL,
			    completed_at = ?, updated_at = ?
			WHERE id = ?
		`, errMsg, formatTime(now), formatTime(now), taskID)
		if err != nil {
			return fmt.Errorf("fail task %s: %w", taskID, err)
		}
		return appendEventTx(tx, &models.TaskEvent{
			TaskID:    taskID,
			Type:      models.EventTaskFailed,
			Data:      map[string]any{"error": errMsg, "attempt": task.Attempts},
			CreatedAt: now,
		})
	})
	if err != nil {
		return false, err
	}

	return requeued, nil
}

// CancelTask cancels a non-terminal task. Cancelling an already
// terminal task is a no-op, making the operation idempotent. A running
// handler is not interrupted; the next lease check by its worker
// observes the loss and stops.
func (db *DB) CancelTask(taskID, reason string) error {
	now := time.Now()
	return db.Transaction(func(tx *sql.Tx) error {
		task, err := getTaskTx(tx, taskID)
		if err != nil {
			return err
		}
		if task.Status.Terminal() {
			return nil
		}

		_, err = tx.Exec(`
			UPDATE tasks
			SET status = 'cancelled', error = ?, pause_reason = NULL, worker_id = NULL,
			    lease_acquired_at = NULL, lease_expires_at = NULL,
			    completed_at = ?, updated_at = ?
			WHERE id = ?
		`, reason, formatTime(now), formatTime(now), taskID)
		if err != nil {
			return fmt.Errorf("cancel task %s: %w", taskID, err)
		}
		return appendEventTx(tx, &models.TaskEvent{
			TaskID:    taskID,
			Type:      models.EventTaskCancelled,
			Data:      map[string]any{"reason": reason},
			CreatedAt: now,
		})
	})
}

// SetTaskPlanStep records the task's current plan and step pointers.
func (db *DB) SetTaskPlanStep(taskID, planID, stepID string) error {
	now := time.Now()
	res, err := db.Exec(`
		UPDATE tasks SET plan_id = ?, current_step_id = ?, updated_at = ? WHERE id = ?
	`, planID, stepID, formatTime(now), taskID)
	if err != nil {
		return fmt.Errorf("set plan pointer on task %s: %w", taskID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("plan pointer rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return nil
}

// GetTask retrieves a task by ID. Returns ErrTaskNotFound if absent.
func (db *DB) GetTask(id string) (*models.Task, error) {
	row := db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

// ListTasks returns tasks filtered by status, newest first. An empty
// filter returns all tasks.
func (db *DB) ListTasks(statuses ...models.TaskStatus) ([]*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var args []any
	if len(statuses) > 0 {
		query += ` WHERE status IN (?` + repeatPlaceholder(len(statuses)-1) + `)`
		for _, s := range statuses {
			args = append(args, string(s))
		}
	}
	query += ` ORDER BY created_at DESC`

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// taskColumns is the canonical column list for scanning task rows.
const taskColumns = `id, owner_id, kind, input, status, pause_reason, attempts, max_attempts,
	worker_id, lease_acquired_at, lease_expires_at, plan_id, current_step_id,
	result, error, created_at, updated_at, started_at, completed_at`

// rowScanner abstracts *sql.Row and *sql.Rows for scanTask.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanTask reads one task row.
func scanTask(row rowScanner) (*models.Task, error) {
	var t models.Task
	var input, pauseReason, workerID, planID, stepID, result, errMsg sql.NullString
	var leaseAcquired, leaseExpires, startedAt, completedAt sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&t.ID, &t.OwnerID, &t.Kind, &input, &t.Status, &pauseReason,
		&t.Attempts, &t.MaxAttempts, &workerID, &leaseAcquired, &leaseExpires,
		&planID, &stepID, &result, &errMsg, &createdAt, &updatedAt, &startedAt, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}

	t.PauseReason = pauseReason.String
	t.WorkerID = workerID.String
	t.PlanID = planID.String
	t.CurrentStepID = stepID.String
	t.Error = errMsg.String
	t.LeaseAcquiredAt = parseNullableTime(leaseAcquired)
	t.LeaseExpiresAt = parseNullableTime(leaseExpires)
	t.StartedAt = parseNullableTime(startedAt)
	t.CompletedAt = parseNullableTime(completedAt)
	t.CreatedAt, _ = parseTime(createdAt)
	t.UpdatedAt, _ = parseTime(updatedAt)

	if input.Valid {
		if err := json.Unmarshal([]byte(input.String), &t.Input); err != nil {
			return nil, fmt.Errorf("decode task input: %w", err)
		}
	}
	if result.Valid {
		if err := json.Unmarshal([]byte(result.String), &t.Result); err != nil {
			return nil, fmt.Errorf("decode task result: %w", err)
		}
	}

	return &t, nil
}

// getTaskTx reads a task within a transaction.
func getTaskTx(tx *sql.Tx, id string) (*models.Task, error) {
	row := tx.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return task, err
}

// requireStatusTx verifies the task is in the expected status.
func requireStatusTx(tx *sql.Tx, taskID string, want models.TaskStatus, op string) error {
	task, err := getTaskTx(tx, taskID)
	if err != nil {
		return err
	}
	if task.Status != want {
		return fmt.Errorf("%w: cannot %s task %s in status %s",
			ErrInvalidTransition, op, taskID, task.Status)
	}
	return nil
}

// marshalJSON encodes a map for storage, returning NULL for nil maps.
func marshalJSON(m map[string]any) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// mergeEventData overlays extra keys onto a copy of data.
func mergeEventData(data, extra map[string]any) map[string]any {
	merged := make(map[string]any, len(data)+len(extra))
	for k, v := range data {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}

// repeatPlaceholder returns n copies of ", ?" for IN clauses.
func repeatPlaceholder(n int) string {
	s := ""
	for i := 0; i < n; i++ {
		s += ", ?"
	}
	return s
}
