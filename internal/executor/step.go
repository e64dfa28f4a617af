package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ShayCichocki/maestro/pkg/models"
)

// OutcomeKind tags the result of executing one step.
type OutcomeKind int

const (
	// OutcomeCompleted means the handler returned a result.
	OutcomeCompleted OutcomeKind = iota
	// OutcomeSuspended means the handler requested human approval.
	// This is expected control flow, not an error.
	OutcomeSuspended
	// OutcomeFailed means the handler returned an error.
	OutcomeFailed
)

// Outcome is the tagged result of one step execution.
type Outcome struct {
	// Kind tags which variant this outcome is.
	Kind OutcomeKind
	// Result is the handler output when Kind is OutcomeCompleted.
	Result any
	// Suspension carries the approval request when Kind is OutcomeSuspended.
	Suspension *Suspension
	// Err is the handler error when Kind is OutcomeFailed.
	Err error
}

// StepExecutor dispatches a single step to its registered handler and
// records the result on the step and the execution context.
type StepExecutor struct {
	registry *Registry
}

// NewStepExecutor creates a StepExecutor backed by the given registry.
func NewStepExecutor(registry *Registry) *StepExecutor {
	return &StepExecutor{registry: registry}
}

// Execute runs one step. The step moves pending -> running before the
// handler is invoked and then to completed or failed. A suspension is
// the exception: the step is reset to pending so it re-executes on
// resume without redoing prior steps. Handler calls are bounded by the
// context's handler timeout.
func (se *StepExecutor) Execute(ctx context.Context, step *models.Step, ec *Context) Outcome {
	handler, ok := se.registry.Get(step.Action)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrNoHandler, step.Action)
		now := time.Now()
		step.Status = models.StepStatusFailed
		step.Error = err.Error()
		step.CompletedAt = &now
		return Outcome{Kind: OutcomeFailed, Err: err}
	}

	started := time.Now()
	step.Status = models.StepStatusRunning
	step.StartedAt = &started
	ec.CurrentStep = step
	debugLog("[step] executing %s action=%s task=%s", step.ID, step.Action, ec.TaskID)

	callCtx := ctx
	if ec.Limits.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, ec.Limits.HandlerTimeout)
		defer cancel()
	}

	result, err := handler(callCtx, ec.ResolveParams(step.Params), ec)
	now := time.Now()

	var suspension *Suspension
	if errors.As(err, &suspension) {
		if suspension.StepID == "" {
			suspension.StepID = step.ID
		}
		// Not a failure: reset so the step re-runs after approval.
		step.Status = models.StepStatusPending
		step.StartedAt = nil
		debugLog("[step] %s suspended for approval: %s", step.ID, suspension.Message)
		return Outcome{Kind: OutcomeSuspended, Suspension: suspension}
	}

	if err != nil {
		step.Status = models.StepStatusFailed
		step.Error = err.Error()
		step.CompletedAt = &now
		debugLog("[step] %s failed: %v", step.ID, err)
		return Outcome{Kind: OutcomeFailed, Err: err}
	}

	step.Status = models.StepStatusCompleted
	step.Result = result
	step.Error = ""
	step.CompletedAt = &now
	ec.Results[step.ID] = result
	ec.Executed++
	debugLog("[step] %s completed", step.ID)
	return Outcome{Kind: OutcomeCompleted, Result: result}
}
