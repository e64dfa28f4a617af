package state

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ShayCichocki/maestro/pkg/models"
)

func enqueueTestTask(t *testing.T, db *DB, kind string, maxAttempts int) *models.Task {
	t.Helper()
	task, err := db.EnqueueTask("owner-1", kind, map[string]any{"n": float64(1)}, maxAttempts, QueueLimits{})
	if err != nil {
		t.Fatalf("EnqueueTask failed: %v", err)
	}
	return task
}

func TestEnqueueTask(t *testing.T) {
	db := setupTestDB(t)

	task := enqueueTestTask(t, db, "echo", 3)

	if task.Status != models.TaskStatusQueued {
		t.Errorf("status = %s, want queued", task.Status)
	}
	if task.Attempts != 0 {
		t.Errorf("attempts = %d, want 0", task.Attempts)
	}

	got, err := db.GetTask(task.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.Kind != "echo" || got.OwnerID != "owner-1" {
		t.Errorf("persisted task mismatch: kind=%s owner=%s", got.Kind, got.OwnerID)
	}
	if got.Input["n"] != float64(1) {
		t.Errorf("input not round-tripped: %v", got.Input)
	}

	events, err := db.ListEvents(task.ID)
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(events) != 1 || events[0].Type != models.EventTaskEnqueued {
		t.Errorf("expected single task_enqueued event, got %v", events)
	}
}

func TestEnqueueTask_MaxOpenQuota(t *testing.T) {
	db := setupTestDB(t)
	limits := QueueLimits{MaxOpenTasks: 2}

	for i := 0; i < 2; i++ {
		if _, err := db.EnqueueTask("owner-1", "echo", nil, 1, limits); err != nil {
			t.Fatalf("enqueue %d failed: %v", i, err)
		}
	}

	_, err := db.EnqueueTask("owner-1", "echo", nil, 1, limits)
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Errorf("expected ErrQuotaExceeded, got %v", err)
	}

	// Other owners are unaffected.
	if _, err := db.EnqueueTask("owner-2", "echo", nil, 1, limits); err != nil {
		t.Errorf("other owner should not be limited: %v", err)
	}
}

func TestEnqueueTask_HourlyQuota(t *testing.T) {
	db := setupTestDB(t)
	limits := QueueLimits{TasksPerHour: 1}

	if _, err := db.EnqueueTask("owner-1", "echo", nil, 1, limits); err != nil {
		t.Fatalf("first enqueue failed: %v", err)
	}
	_, err := db.EnqueueTask("owner-1", "echo", nil, 1, limits)
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Errorf("expected ErrQuotaExceeded, got %v", err)
	}
}

func TestClaimTask(t *testing.T) {
	db := setupTestDB(t)
	task := enqueueTestTask(t, db, "echo", 3)

	claimed, err := db.ClaimTask("worker-a", time.Minute)
	if err != nil {
		t.Fatalf("ClaimTask failed: %v", err)
	}
	if claimed == nil {
		t.Fatal("expected a claimed task, got nil")
	}
	if claimed.ID != task.ID {
		t.Errorf("claimed wrong task: %s", claimed.ID)
	}
	if claimed.Status != models.TaskStatusRunning {
		t.Errorf("status = %s, want running", claimed.Status)
	}
	if claimed.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", claimed.Attempts)
	}
	if claimed.WorkerID != "worker-a" {
		t.Errorf("worker_id = %s, want worker-a", claimed.WorkerID)
	}
	if claimed.LeaseExpiresAt == nil || !claimed.LeaseExpiresAt.After(time.Now()) {
		t.Error("lease expiry not set in the future")
	}
	if claimed.StartedAt == nil {
		t.Error("started_at not set on first claim")
	}
}

func TestClaimTask_Empty(t *testing.T) {
	db := setupTestDB(t)

	claimed, err := db.ClaimTask("worker-a", time.Minute)
	if err != nil {
		t.Fatalf("ClaimTask failed: %v", err)
	}
	if claimed != nil {
		t.Errorf("expected nil on empty queue, got %v", claimed)
	}
}

func TestClaimTask_OldestFirst(t *testing.T) {
	db := setupTestDB(t)
	first := enqueueTestTask(t, db, "first", 1)
	time.Sleep(2 * time.Millisecond)
	enqueueTestTask(t, db, "second", 1)

	claimed, err := db.ClaimTask("worker-a", time.Minute)
	if err != nil {
		t.Fatalf("ClaimTask failed: %v", err)
	}
	if claimed.ID != first.ID {
		t.Errorf("expected oldest task %s, got %s", first.ID, claimed.ID)
	}
}

func TestClaimTask_SkipsHeldLease(t *testing.T) {
	db := setupTestDB(t)
	enqueueTestTask(t, db, "echo", 1)

	if _, err := db.ClaimTask("worker-a", time.Minute); err != nil {
		t.Fatalf("first claim failed: %v", err)
	}

	claimed, err := db.ClaimTask("worker-b", time.Minute)
	if err != nil {
		t.Fatalf("second claim failed: %v", err)
	}
	if claimed != nil {
		t.Errorf("task with live lease should not be claimable, got %v", claimed)
	}
}

func TestClaimTask_ReclaimsExpiredLease(t *testing.T) {
	db := setupTestDB(t)
	task := enqueueTestTask(t, db, "echo", 3)

	// Claim with an already-expired lease to simulate a crashed worker.
	if _, err := db.ClaimTask("worker-a", -time.Second); err != nil {
		t.Fatalf("first claim failed: %v", err)
	}

	claimed, err := db.ClaimTask("worker-b", time.Minute)
	if err != nil {
		t.Fatalf("reclaim failed: %v", err)
	}
	if claimed == nil {
		t.Fatal("expected to reclaim expired-lease task")
	}
	if claimed.ID != task.ID || claimed.WorkerID != "worker-b" {
		t.Errorf("reclaim went to wrong worker: %+v", claimed)
	}
	if claimed.Attempts != 2 {
		t.Errorf("attempts = %d, want 2 after reclaim", claimed.Attempts)
	}

	// started_at must be preserved from the first claim.
	first := claimed.StartedAt
	if first == nil {
		t.Fatal("started_at missing after reclaim")
	}
}

func TestClaimTask_Concurrent(t *testing.T) {
	db := setupTestDB(t)
	enqueueTestTask(t, db, "echo", 1)

	var mu sync.Mutex
	var winners []string
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			claimed, err := db.ClaimTask("worker", time.Minute)
			if err != nil {
				t.Errorf("ClaimTask failed: %v", err)
				return
			}
			if claimed != nil {
				mu.Lock()
				winners = append(winners, claimed.ID)
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if len(winners) != 1 {
		t.Errorf("expected exactly one successful claim, got %d", len(winners))
	}
}

func TestHeartbeatTask(t *testing.T) {
	db := setupTestDB(t)
	enqueueTestTask(t, db, "echo", 1)
	claimed, err := db.ClaimTask("worker-a", time.Minute)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	ok, err := db.HeartbeatTask(claimed.ID, "worker-a", time.Minute)
	if err != nil {
		t.Fatalf("HeartbeatTask failed: %v", err)
	}
	if !ok {
		t.Error("heartbeat by lease holder should succeed")
	}

	// A different worker must not be able to extend the lease.
	ok, err = db.HeartbeatTask(claimed.ID, "worker-b", time.Minute)
	if err != nil {
		t.Fatalf("HeartbeatTask failed: %v", err)
	}
	if ok {
		t.Error("heartbeat by non-holder should report lease loss")
	}
}

func TestPauseResumeTask(t *testing.T) {
	db := setupTestDB(t)
	enqueueTestTask(t, db, "echo", 1)
	claimed, err := db.ClaimTask("worker-a", time.Minute)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	if err := db.SetTaskPlanStep(claimed.ID, "plan-1", "step-2"); err != nil {
		t.Fatalf("SetTaskPlanStep failed: %v", err)
	}

	if err := db.PauseTask(claimed.ID, "approval", map[string]any{"step_id": "step-2"}); err != nil {
		t.Fatalf("PauseTask failed: %v", err)
	}

	paused, err := db.GetTask(claimed.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if paused.Status != models.TaskStatusPaused {
		t.Errorf("status = %s, want paused", paused.Status)
	}
	if paused.PauseReason != "approval" {
		t.Errorf("pause_reason = %s, want approval", paused.PauseReason)
	}
	if paused.WorkerID != "" || paused.LeaseExpiresAt != nil {
		t.Error("pause should release the lease")
	}

	// Paused tasks are not claimable.
	if got, _ := db.ClaimTask("worker-b", time.Minute); got != nil {
		t.Error("paused task should not be claimable")
	}

	if err := db.ResumeTask(claimed.ID); err != nil {
		t.Fatalf("ResumeTask failed: %v", err)
	}

	resumed, err := db.GetTask(claimed.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if resumed.Status != models.TaskStatusQueued {
		t.Errorf("status = %s, want queued", resumed.Status)
	}
	if resumed.PauseReason != "" {
		t.Errorf("pause_reason should be cleared, got %s", resumed.PauseReason)
	}

	// Plan position survives the pause/resume cycle.
	reclaimed, err := db.ClaimTask("worker-b", time.Minute)
	if err != nil || reclaimed == nil {
		t.Fatalf("reclaim after resume failed: %v %v", reclaimed, err)
	}
	if reclaimed.PlanID != "plan-1" || reclaimed.CurrentStepID != "step-2" {
		t.Errorf("plan pointer lost: plan=%s step=%s", reclaimed.PlanID, reclaimed.CurrentStepID)
	}
}

func TestPauseTask_RequiresRunning(t *testing.T) {
	db := setupTestDB(t)
	task := enqueueTestTask(t, db, "echo", 1)

	err := db.PauseTask(task.ID, "manual", nil)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition pausing queued task, got %v", err)
	}
}

func TestSucceedTask(t *testing.T) {
	db := setupTestDB(t)
	enqueueTestTask(t, db, "echo", 1)
	claimed, _ := db.ClaimTask("worker-a", time.Minute)

	if err := db.SucceedTask(claimed.ID, map[string]any{"out": "done"}); err != nil {
		t.Fatalf("SucceedTask failed: %v", err)
	}

	got, _ := db.GetTask(claimed.ID)
	if got.Status != models.TaskStatusSucceeded {
		t.Errorf("status = %s, want succeeded", got.Status)
	}
	if got.Result["out"] != "done" {
		t.Errorf("result not stored: %v", got.Result)
	}
	if got.CompletedAt == nil {
		t.Error("completed_at not set")
	}
}

func TestFailTask_RetryThenTerminal(t *testing.T) {
	db := setupTestDB(t)
	task := enqueueTestTask(t, db, "echo", 2)

	// Attempt 1 fails: attempts remain, so the task requeues.
	if _, err := db.ClaimTask("worker-a", time.Minute); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	requeued, err := db.FailTask(task.ID, "boom", false)
	if err != nil {
		t.Fatalf("FailTask failed: %v", err)
	}
	if !requeued {
		t.Error("first failure should requeue")
	}

	got, _ := db.GetTask(task.ID)
	if got.Status != models.TaskStatusQueued {
		t.Errorf("status = %s, want queued after retryable failure", got.Status)
	}
	if got.Error != "boom" {
		t.Errorf("error = %q, want boom", got.Error)
	}

	// Attempt 2 fails: budget exhausted, terminal.
	if _, err := db.ClaimTask("worker-a", time.Minute); err != nil {
		t.Fatalf("second claim failed: %v", err)
	}
	requeued, err = db.FailTask(task.ID, "boom2", false)
	if err != nil {
		t.Fatalf("FailTask failed: %v", err)
	}
	if requeued {
		t.Error("exhausted task should not requeue")
	}

	got, _ = db.GetTask(task.ID)
	if got.Status != models.TaskStatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if got.Error != "boom2" {
		t.Errorf("error = %q, want boom2", got.Error)
	}
	if got.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", got.Attempts)
	}
}

func TestFailTask_FinalSkipsRetry(t *testing.T) {
	db := setupTestDB(t)
	task := enqueueTestTask(t, db, "echo", 5)
	db.ClaimTask("worker-a", time.Minute)

	requeued, err := db.FailTask(task.ID, "limit exceeded", true)
	if err != nil {
		t.Fatalf("FailTask failed: %v", err)
	}
	if requeued {
		t.Error("final failure must not requeue even with attempts left")
	}

	got, _ := db.GetTask(task.ID)
	if got.Status != models.TaskStatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
}

func TestCancelTask(t *testing.T) {
	db := setupTestDB(t)
	task := enqueueTestTask(t, db, "echo", 1)

	if err := db.CancelTask(task.ID, "operator request"); err != nil {
		t.Fatalf("CancelTask failed: %v", err)
	}

	got, _ := db.GetTask(task.ID)
	if got.Status != models.TaskStatusCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}

	// Cancelling again is a no-op.
	if err := db.CancelTask(task.ID, "again"); err != nil {
		t.Errorf("second cancel should be a no-op, got %v", err)
	}
	got, _ = db.GetTask(task.ID)
	if got.Error != "operator request" {
		t.Errorf("second cancel overwrote reason: %q", got.Error)
	}
}

func TestGetTask_NotFound(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.GetTask("nope")
	if !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestListTasks_StatusFilter(t *testing.T) {
	db := setupTestDB(t)
	enqueueTestTask(t, db, "a", 1)
	enqueueTestTask(t, db, "b", 1)
	db.ClaimTask("worker-a", time.Minute)

	queued, err := db.ListTasks(models.TaskStatusQueued)
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if len(queued) != 1 {
		t.Errorf("queued count = %d, want 1", len(queued))
	}

	all, err := db.ListTasks()
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("all count = %d, want 2", len(all))
	}
}
