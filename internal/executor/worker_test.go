package executor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ShayCichocki/maestro/internal/plan"
	"github.com/ShayCichocki/maestro/internal/state"
	"github.com/ShayCichocki/maestro/pkg/models"
)

func setupStore(t *testing.T) *state.DB {
	t.Helper()
	db, err := state.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

// recorder registers a handler that logs each invocation's step ID.
type recorder struct {
	mu    sync.Mutex
	order []string
}

func (r *recorder) handler(ctx context.Context, params map[string]any, ec *Context) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, ec.CurrentStep.ID)
	return map[string]any{"step": ec.CurrentStep.ID}, nil
}

func (r *recorder) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// registerDAGStrategy binds the "dag" kind to a fixed diamond plan:
// s3 waits on s1 and s2, s4 waits on s3.
func registerDAGStrategy(planner *plan.Builder) {
	planner.Register(&plan.FuncStrategy{
		Kind: "dag",
		Fn: func(taskID, kind string, input map[string]any) []*models.Step {
			return []*models.Step{
				{ID: "s1", Action: "record"},
				{ID: "s2", Action: "record"},
				{ID: "s3", Action: "record", DependsOn: []string{"s1", "s2"}},
				{ID: "s4", Action: "record", DependsOn: []string{"s3"}},
			}
		},
	})
}

func enqueueAndClaim(t *testing.T, db *state.DB, w *Worker, kind string, maxAttempts int) *models.Task {
	t.Helper()
	task, err := db.EnqueueTask("owner-1", kind, nil, maxAttempts, state.QueueLimits{})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	claimed, err := db.ClaimTask(w.ID(), time.Minute)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if claimed == nil || claimed.ID != task.ID {
		t.Fatalf("claim returned %v, want task %s", claimed, task.ID)
	}
	return claimed
}

func TestRunTask_ExecutesDAGInOrder(t *testing.T) {
	db := setupStore(t)
	rec := &recorder{}
	reg := NewRegistry()
	reg.Register("record", rec.handler)
	planner := plan.NewBuilder()
	registerDAGStrategy(planner)

	w := NewWorker(db, planner, reg, Config{LeaseTimeout: time.Minute})
	task := enqueueAndClaim(t, db, w, "dag", 1)

	if err := w.runTask(context.Background(), task); err != nil {
		t.Fatalf("runTask failed: %v", err)
	}

	want := []string{"s1", "s2", "s3", "s4"}
	got := rec.calls()
	if len(got) != len(want) {
		t.Fatalf("executed %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("executed %v, want %v", got, want)
		}
	}

	final, err := db.GetTask(task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if final.Status != models.TaskStatusSucceeded {
		t.Errorf("task status = %s, want succeeded", final.Status)
	}
	steps, ok := final.Result["steps"].(map[string]any)
	if !ok || len(steps) != 4 {
		t.Errorf("result steps = %v, want 4 entries", final.Result["steps"])
	}
	last, ok := final.Result["result"].(map[string]any)
	if !ok || last["step"] != "s4" {
		t.Errorf("primary result = %v, want s4's output", final.Result["result"])
	}

	// The persisted snapshot records the position of the last dispatch.
	p, err := db.LoadPlanForTask(task.ID)
	if err != nil {
		t.Fatalf("load plan: %v", err)
	}
	if p.CurrentStepIndex != 3 {
		t.Errorf("current step index = %d, want 3 (s4)", p.CurrentStepIndex)
	}

	events, err := db.ListEvents(task.ID)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	started, completed := 0, 0
	for _, ev := range events {
		switch ev.Type {
		case models.EventStepStarted:
			started++
		case models.EventStepCompleted:
			completed++
		}
	}
	if started != 4 || completed != 4 {
		t.Errorf("step events = %d started / %d completed, want 4/4", started, completed)
	}
}

func TestRunTask_RetryResumesFromRestoredPlan(t *testing.T) {
	db := setupStore(t)
	rec := &recorder{}
	var failOnce sync.Once
	reg := NewRegistry()
	reg.Register("record", rec.handler)
	reg.Register("flaky", func(ctx context.Context, params map[string]any, ec *Context) (any, error) {
		var failed bool
		failOnce.Do(func() { failed = true })
		if failed {
			return nil, fmt.Errorf("transient failure")
		}
		return rec.handler(ctx, params, ec)
	})

	planner := plan.NewBuilder()
	planner.Register(&plan.FuncStrategy{
		Kind: "flaky-pipeline",
		Fn: func(taskID, kind string, input map[string]any) []*models.Step {
			return []*models.Step{
				{ID: "stable", Action: "record"},
				{ID: "wobbly", Action: "flaky", DependsOn: []string{"stable"}},
			}
		},
	})

	w := NewWorker(db, planner, reg, Config{LeaseTimeout: time.Minute})
	task := enqueueAndClaim(t, db, w, "flaky-pipeline", 2)

	err := w.runTask(context.Background(), task)
	if err == nil {
		t.Fatal("first attempt should fail")
	}
	requeued, err := db.FailTask(task.ID, err.Error(), false)
	if err != nil {
		t.Fatalf("fail task: %v", err)
	}
	if !requeued {
		t.Fatal("task should have been requeued for retry")
	}

	retried, err := db.ClaimTask(w.ID(), time.Minute)
	if err != nil || retried == nil {
		t.Fatalf("reclaim failed: task=%v err=%v", retried, err)
	}
	if retried.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", retried.Attempts)
	}
	if err := w.runTask(context.Background(), retried); err != nil {
		t.Fatalf("retry failed: %v", err)
	}

	// The stable step completed on attempt one and must not re-run.
	calls := rec.calls()
	if len(calls) != 2 || calls[0] != "stable" || calls[1] != "wobbly" {
		t.Errorf("calls = %v, want [stable wobbly]", calls)
	}

	final, _ := db.GetTask(task.ID)
	if final.Status != models.TaskStatusSucceeded {
		t.Errorf("task status = %s, want succeeded", final.Status)
	}
}

func TestRunTask_ApprovalSuspendAndResume(t *testing.T) {
	db := setupStore(t)
	rec := &recorder{}
	reg := NewRegistry()
	reg.Register("record", rec.handler)
	reg.Register(ActionApproval, func(ctx context.Context, params map[string]any, ec *Context) (any, error) {
		if ec.Approved[ec.CurrentStep.ID] {
			return map[string]any{"approved": true}, nil
		}
		return nil, &Suspension{Message: "sign off on the release", Draft: "v1.2.0 notes"}
	})

	planner := plan.NewBuilder()
	planner.Register(&plan.FuncStrategy{
		Kind: "release",
		Fn: func(taskID, kind string, input map[string]any) []*models.Step {
			return []*models.Step{
				{ID: "prep", Action: "record"},
				{ID: "gate", Action: ActionApproval, DependsOn: []string{"prep"}},
				{ID: "ship", Action: "record", DependsOn: []string{"gate"}},
			}
		},
	})

	w := NewWorker(db, planner, reg, Config{LeaseTimeout: time.Minute})
	task := enqueueAndClaim(t, db, w, "release", 1)

	// First pass: prep completes, gate suspends, ship never runs.
	if err := w.runTask(context.Background(), task); err != nil {
		t.Fatalf("runTask failed: %v", err)
	}
	paused, _ := db.GetTask(task.ID)
	if paused.Status != models.TaskStatusPaused {
		t.Fatalf("task status = %s, want paused", paused.Status)
	}
	if paused.PauseReason != "approval" {
		t.Errorf("pause reason = %q, want approval", paused.PauseReason)
	}

	events, _ := db.ListEvents(task.ID)
	var sawApproval bool
	for _, ev := range events {
		if ev.Type == models.EventApprovalRequired && ev.StepID == "gate" {
			sawApproval = true
			if ev.Data["message"] != "sign off on the release" {
				t.Errorf("approval message = %v", ev.Data["message"])
			}
		}
	}
	if !sawApproval {
		t.Fatal("no approval_required event recorded for gate")
	}

	// Resuming grants the pending approval.
	if err := db.ResumeTask(task.ID); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	resumed, err := db.ClaimTask(w.ID(), time.Minute)
	if err != nil || resumed == nil {
		t.Fatalf("reclaim after resume failed: task=%v err=%v", resumed, err)
	}
	if err := w.runTask(context.Background(), resumed); err != nil {
		t.Fatalf("resumed run failed: %v", err)
	}

	final, _ := db.GetTask(task.ID)
	if final.Status != models.TaskStatusSucceeded {
		t.Errorf("task status = %s, want succeeded", final.Status)
	}
	// prep ran exactly once across both passes.
	calls := rec.calls()
	if len(calls) != 2 || calls[0] != "prep" || calls[1] != "ship" {
		t.Errorf("calls = %v, want [prep ship]", calls)
	}
}

func TestRunTask_ConditionFalseSkipsDependents(t *testing.T) {
	db := setupStore(t)
	rec := &recorder{}
	reg := NewRegistry()
	reg.Register("record", rec.handler)
	reg.Register(ActionCondition, func(ctx context.Context, params map[string]any, ec *Context) (any, error) {
		return map[string]any{"passed": false}, nil
	})

	planner := plan.NewBuilder()
	planner.Register(&plan.FuncStrategy{
		Kind: "guarded",
		Fn: func(taskID, kind string, input map[string]any) []*models.Step {
			return []*models.Step{
				{ID: "check", Action: ActionCondition},
				{ID: "deploy", Action: "record", DependsOn: []string{"check"}},
				{ID: "notify", Action: "record", DependsOn: []string{"deploy"}},
				{ID: "cleanup", Action: "record"},
			}
		},
	})

	w := NewWorker(db, planner, reg, Config{LeaseTimeout: time.Minute})
	task := enqueueAndClaim(t, db, w, "guarded", 1)

	if err := w.runTask(context.Background(), task); err != nil {
		t.Fatalf("runTask failed: %v", err)
	}

	final, _ := db.GetTask(task.ID)
	if final.Status != models.TaskStatusSucceeded {
		t.Fatalf("task status = %s, want succeeded", final.Status)
	}

	p, err := db.LoadPlanForTask(task.ID)
	if err != nil {
		t.Fatalf("load plan: %v", err)
	}
	for id, want := range map[string]models.StepStatus{
		"check":   models.StepStatusCompleted,
		"deploy":  models.StepStatusSkipped,
		"notify":  models.StepStatusSkipped,
		"cleanup": models.StepStatusCompleted,
	} {
		if got := p.StepByID(id).Status; got != want {
			t.Errorf("step %s status = %s, want %s", id, got, want)
		}
	}
	if calls := rec.calls(); len(calls) != 1 || calls[0] != "cleanup" {
		t.Errorf("calls = %v, want [cleanup]", calls)
	}
}

func TestRunTask_StepLimit(t *testing.T) {
	db := setupStore(t)
	rec := &recorder{}
	reg := NewRegistry()
	reg.Register("record", rec.handler)
	planner := plan.NewBuilder()
	registerDAGStrategy(planner)

	w := NewWorker(db, planner, reg, Config{
		LeaseTimeout: time.Minute,
		Limits:       Limits{MaxSteps: 2},
	})
	task := enqueueAndClaim(t, db, w, "dag", 5)

	err := w.runTask(context.Background(), task)
	if !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("err = %v, want ErrLimitExceeded", err)
	}
	if calls := rec.calls(); len(calls) != 2 {
		t.Errorf("executed %d steps, want 2", len(calls))
	}

	// The worker loop fails limit violations terminally, attempts be damned.
	if _, err := db.FailTask(task.ID, err.Error(), true); err != nil {
		t.Fatalf("fail task: %v", err)
	}
	final, _ := db.GetTask(task.ID)
	if final.Status != models.TaskStatusFailed {
		t.Errorf("task status = %s, want failed", final.Status)
	}
}

func TestRunTask_LeaseLost(t *testing.T) {
	db := setupStore(t)
	reg := NewRegistry()
	reg.Register("record", (&recorder{}).handler)
	planner := plan.NewBuilder()
	registerDAGStrategy(planner)

	w := NewWorker(db, planner, reg, Config{LeaseTimeout: time.Minute})

	if _, err := db.EnqueueTask("owner-1", "dag", nil, 1, state.QueueLimits{}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	// Claim with an already-lapsed lease so another worker can steal it.
	task, err := db.ClaimTask(w.ID(), -time.Second)
	if err != nil || task == nil {
		t.Fatalf("claim failed: task=%v err=%v", task, err)
	}
	stolen, err := db.ClaimTask("thief", time.Minute)
	if err != nil || stolen == nil || stolen.ID != task.ID {
		t.Fatalf("steal failed: task=%v err=%v", stolen, err)
	}

	if err := w.runTask(context.Background(), task); !errors.Is(err, errLeaseLost) {
		t.Fatalf("err = %v, want errLeaseLost", err)
	}
	// The loser must not have altered the thief's claim.
	current, _ := db.GetTask(task.ID)
	if current.WorkerID != "thief" {
		t.Errorf("worker id = %q, want thief", current.WorkerID)
	}
}

func TestWorker_Loop(t *testing.T) {
	db := setupStore(t)
	rec := &recorder{}
	reg := NewRegistry()
	reg.Register("record", rec.handler)
	planner := plan.NewBuilder()
	registerDAGStrategy(planner)

	w := NewWorker(db, planner, reg, Config{
		PollInterval: 10 * time.Millisecond,
		LeaseTimeout: time.Minute,
	})

	task, err := db.EnqueueTask("owner-1", "dag", nil, 1, state.QueueLimits{})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	w.Start(context.Background())
	defer w.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		current, err := db.GetTask(task.ID)
		if err != nil {
			t.Fatalf("get task: %v", err)
		}
		if current.Status == models.TaskStatusSucceeded {
			return
		}
		if current.Status.Terminal() {
			t.Fatalf("task reached %s, want succeeded", current.Status)
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("task did not complete in time")
}

func TestSummarize(t *testing.T) {
	p := &models.Plan{
		Steps: []*models.Step{
			{ID: "a", Status: models.StepStatusCompleted, Result: "one"},
			{ID: "b", Status: models.StepStatusSkipped},
			{ID: "c", Status: models.StepStatusCompleted, Result: "two"},
		},
	}
	got := summarize(p)
	if got["result"] != "two" {
		t.Errorf("primary result = %v, want two", got["result"])
	}
	steps := got["steps"].(map[string]any)
	if len(steps) != 2 || steps["a"] != "one" || steps["c"] != "two" {
		t.Errorf("steps = %v", steps)
	}
}

func TestTruthy(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want bool
	}{
		{"true bool", true, true},
		{"false bool", false, false},
		{"nil", nil, false},
		{"map passed true", map[string]any{"passed": true}, true},
		{"map passed false", map[string]any{"passed": false}, false},
		{"map without passed", map[string]any{"other": 1}, true},
		{"non-bool non-map", "anything", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := truthy(tc.in); got != tc.want {
				t.Errorf("truthy(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}
