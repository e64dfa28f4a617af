package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/maestro/internal/plan"
	"github.com/ShayCichocki/maestro/internal/state"
	"github.com/ShayCichocki/maestro/pkg/models"
)

// errLeaseLost indicates another worker reclaimed the task mid-run.
// The losing worker must not touch the task's state further.
var errLeaseLost = errors.New("task lease lost")

// Config bounds one worker's loop.
type Config struct {
	// PollInterval is how long to sleep when the queue is empty.
	PollInterval time.Duration
	// LeaseTimeout is how long a claim holds before it can be
	// reclaimed. Handler timeout should stay below this so a live
	// worker's lease never lapses mid-step.
	LeaseTimeout time.Duration
	// Limits bounds each task run.
	Limits Limits
}

// Worker runs a single sequential claim-and-execute loop against the
// store. Multiple workers may run concurrently against the same store;
// the store's atomic claim is the only synchronization between them.
type Worker struct {
	id      string
	store   state.Store
	planner *plan.Builder
	steps   *StepExecutor
	cfg     Config

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker creates a worker with a fresh identity.
func NewWorker(store state.Store, planner *plan.Builder, registry *Registry, cfg Config) *Worker {
	return &Worker{
		id:      "worker-" + uuid.New().String()[:8],
		store:   store,
		planner: planner,
		steps:   NewStepExecutor(registry),
		cfg:     cfg,
	}
}

// ID returns the worker's lease-holder identity.
func (w *Worker) ID() string {
	return w.id
}

// Start launches the worker loop. It runs until the context is
// cancelled or Stop is called.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

// Stop signals the worker loop to exit and waits for it.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

// run is the worker loop: claim a task, run it, settle the outcome.
// Approval suspensions are normal control flow; every other run error
// is settled through FailTask, which decides retry versus terminal
// failure by the task's remaining attempts.
func (w *Worker) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, err := w.store.ClaimTask(w.id, w.cfg.LeaseTimeout)
		if err != nil {
			log.Printf("[%s] claim failed: %v", w.id, err)
			w.sleep(ctx)
			continue
		}
		if task == nil {
			w.sleep(ctx)
			continue
		}

		debugLog("[%s] claimed task %s kind=%s attempt=%d", w.id, task.ID, task.Kind, task.Attempts)

		err = w.runTask(ctx, task)
		switch {
		case err == nil:
			// Succeeded or suspended for approval.
		case errors.Is(err, errLeaseLost):
			// Another worker owns the task now; leave its state alone.
			log.Printf("[%s] lost lease on task %s", w.id, task.ID)
		case errors.Is(err, ErrLimitExceeded):
			// Limit violations fail terminally regardless of attempts.
			if _, ferr := w.store.FailTask(task.ID, err.Error(), true); ferr != nil {
				log.Printf("[%s] fail task %s: %v", w.id, task.ID, ferr)
			}
		default:
			retried, ferr := w.store.FailTask(task.ID, err.Error(), false)
			if ferr != nil {
				log.Printf("[%s] fail task %s: %v", w.id, task.ID, ferr)
			} else if retried {
				debugLog("[%s] task %s requeued for retry", w.id, task.ID)
			}
		}
	}
}

// sleep waits out the idle-poll interval, returning early on shutdown.
func (w *Worker) sleep(ctx context.Context) {
	timer := time.NewTimer(w.cfg.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// runTask is the agent loop for one claimed task: restore or build the
// plan, then walk ready steps until the plan completes, suspends, or
// fails. Progress is persisted after every step so a crash resumes from
// the last completed step.
func (w *Worker) runTask(ctx context.Context, task *models.Task) error {
	p, err := w.restoreOrBuildPlan(task)
	if err != nil {
		return err
	}

	ec := NewContext(task, p, w.cfg.Limits)
	w.loadApprovals(task.ID, ec)

	for {
		if err := ec.CheckLimits(); err != nil {
			w.persistPlan(p)
			return err
		}

		ok, err := w.store.HeartbeatTask(task.ID, w.id, w.cfg.LeaseTimeout)
		if err != nil {
			return err
		}
		if !ok {
			return errLeaseLost
		}

		step := p.NextReady()
		if step == nil {
			if failed := p.FirstFailed(); failed != nil {
				return fmt.Errorf("step %s failed: %s", failed.ID, failed.Error)
			}
			break
		}

		if idx := p.StepIndex(step.ID); idx >= 0 {
			p.CurrentStepIndex = idx
		}
		if err := w.store.SetTaskPlanStep(task.ID, p.ID, step.ID); err != nil {
			return err
		}
		w.appendEvent(task.ID, models.EventStepStarted, step, nil)

		outcome := w.steps.Execute(ctx, step, ec)
		switch outcome.Kind {
		case OutcomeCompleted:
			if step.Action == ActionCondition && !truthy(outcome.Result) {
				p.SkipDependents(step.ID)
			}
			w.persistPlan(p)
			w.appendEvent(task.ID, models.EventStepCompleted, step, nil)

		case OutcomeSuspended:
			w.persistPlan(p)
			susp := outcome.Suspension
			w.appendEvent(task.ID, models.EventApprovalRequired, step, map[string]any{
				"message": susp.Message,
				"draft":   susp.Draft,
			})
			return w.store.PauseTask(task.ID, "approval", map[string]any{
				"message": susp.Message,
				"step_id": susp.StepID,
				"draft":   susp.Draft,
			})

		case OutcomeFailed:
			w.persistPlan(p)
			w.appendEvent(task.ID, models.EventStepFailed, step, map[string]any{
				"error": step.Error,
			})
			return fmt.Errorf("step %s: %w", step.ID, outcome.Err)
		}
	}

	w.persistPlan(p)
	return w.store.SucceedTask(task.ID, summarize(p))
}

// restoreOrBuildPlan loads the task's prior plan if it has one, falling
// back to building a fresh plan. A new plan is persisted immediately so
// the task row can point at it before any step runs.
func (w *Worker) restoreOrBuildPlan(task *models.Task) (*models.Plan, error) {
	if task.PlanID != "" {
		p, err := w.store.LoadPlan(task.PlanID)
		if err == nil {
			// A restored plan may carry steps left running by a crashed
			// worker or failed by a prior attempt. Reset them so this
			// attempt re-executes from the last completed step.
			for _, s := range p.Steps {
				if s.Status == models.StepStatusRunning || s.Status == models.StepStatusFailed {
					s.Status = models.StepStatusPending
					s.Error = ""
					s.StartedAt = nil
					s.CompletedAt = nil
				}
			}
			debugLog("[%s] restored plan %s for task %s", w.id, p.ID, task.ID)
			return p, nil
		}
		if !errors.Is(err, state.ErrPlanNotFound) {
			log.Printf("[%s] restore plan %s: %v, rebuilding", w.id, task.PlanID, err)
		}
	}

	p, err := w.planner.Build(task.ID, task.Kind, task.Input)
	if err != nil {
		return nil, fmt.Errorf("build plan: %w", err)
	}
	if err := w.store.SavePlan(p); err != nil {
		return nil, err
	}
	if err := w.store.SetTaskPlanStep(task.ID, p.ID, ""); err != nil {
		return nil, err
	}
	debugLog("[%s] built plan %s with %d steps for task %s", w.id, p.ID, len(p.Steps), task.ID)
	return p, nil
}

// loadApprovals replays the task's event log to find approval
// suspensions that were granted. Resuming a task paused for approval
// constitutes granting it: any step whose approval_required event is
// followed by a task_resumed event completes instead of suspending
// again.
func (w *Worker) loadApprovals(taskID string, ec *Context) {
	events, err := w.store.ListEvents(taskID)
	if err != nil {
		log.Printf("[%s] list events for %s: %v", w.id, taskID, err)
		return
	}
	pending := make(map[string]bool)
	for _, ev := range events {
		switch ev.Type {
		case models.EventApprovalRequired:
			if ev.StepID != "" {
				pending[ev.StepID] = true
			}
		case models.EventTaskResumed:
			for id := range pending {
				ec.Approved[id] = true
			}
			pending = make(map[string]bool)
		}
	}
}

// persistPlan writes the plan snapshot and step rows, logging rather
// than failing the run: losing a snapshot only costs re-execution.
func (w *Worker) persistPlan(p *models.Plan) {
	if err := w.store.SavePlan(p); err != nil {
		log.Printf("[%s] persist plan %s: %v", w.id, p.ID, err)
	}
}

// appendEvent records a step-level audit event.
func (w *Worker) appendEvent(taskID string, kind models.EventType, step *models.Step, data map[string]any) {
	ev := &models.TaskEvent{
		TaskID:  taskID,
		Type:    kind,
		Data:    data,
		StepID:  step.ID,
		Handler: step.Action,
	}
	if err := w.store.AppendEvent(ev); err != nil {
		log.Printf("[%s] append event %s: %v", w.id, kind, err)
	}
}

// summarize builds the task's result payload: the last completed step's
// output as the primary result, plus every completed step's result.
func summarize(p *models.Plan) map[string]any {
	steps := make(map[string]any)
	for _, s := range p.Steps {
		if s.Status == models.StepStatusCompleted {
			steps[s.ID] = s.Result
		}
	}
	summary := map[string]any{"steps": steps}
	if last := p.LastCompleted(); last != nil {
		summary["result"] = last.Result
	}
	return summary
}

// truthy interprets a condition step's result. A bare boolean speaks
// for itself; handlers returning a map use the "passed" key.
func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case map[string]any:
		if passed, ok := t["passed"].(bool); ok {
			return passed
		}
		return true
	case nil:
		return false
	default:
		return true
	}
}
