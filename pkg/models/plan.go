package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// StepStatus represents the current state of a plan step.
type StepStatus string

const (
	// StepStatusPending indicates the step has not started.
	StepStatusPending StepStatus = "pending"
	// StepStatusRunning indicates the step is executing.
	StepStatusRunning StepStatus = "running"
	// StepStatusCompleted indicates the step finished successfully.
	StepStatusCompleted StepStatus = "completed"
	// StepStatusFailed indicates the step's handler returned an error.
	StepStatusFailed StepStatus = "failed"
	// StepStatusSkipped indicates the step was bypassed by a condition branch.
	StepStatusSkipped StepStatus = "skipped"
)

// Satisfied returns true if the status counts as a met dependency.
func (s StepStatus) Satisfied() bool {
	return s == StepStatusCompleted || s == StepStatusSkipped
}

// Step is one node in a plan, dispatched to an action handler by kind.
type Step struct {
	// ID is the step identifier, unique within its plan.
	ID string `json:"step_id"`
	// Action is the handler kind this step dispatches to.
	Action string `json:"action"`
	// Params is the opaque payload passed to the handler.
	Params map[string]any `json:"action_data,omitempty"`
	// DependsOn lists step IDs that must be completed or skipped first.
	DependsOn []string `json:"depends_on,omitempty"`
	// Status is the current state of the step.
	Status StepStatus `json:"status"`
	// Result is the handler's captured output.
	Result any `json:"result,omitempty"`
	// Error is the handler's captured error message.
	Error string `json:"error,omitempty"`
	// SnapshotRef optionally points at a durable artifact for this step.
	SnapshotRef string `json:"snapshot_ref,omitempty"`
	// StartedAt is when the step began executing.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// CompletedAt is when the step reached a terminal status.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Plan is an ordered DAG of steps generated for one task run.
// The step list is immutable after creation; only step statuses,
// results, and errors mutate during execution.
type Plan struct {
	// ID is the unique identifier for this plan.
	ID string `json:"plan_id"`
	// TaskID is the task this plan belongs to.
	TaskID string `json:"task_id"`
	// Steps is the ordered list of steps.
	Steps []*Step `json:"steps"`
	// CurrentStepIndex is the index of the step most recently dispatched.
	CurrentStepIndex int `json:"current_step_index"`
}

// StepByID returns the step with the given ID, or nil.
func (p *Plan) StepByID(id string) *Step {
	for _, s := range p.Steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// StepIndex returns the position of the step with the given ID, or -1.
func (p *Plan) StepIndex(id string) int {
	for i, s := range p.Steps {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// NextReady returns the first pending step whose dependencies are all
// completed or skipped, or nil if no step is ready.
func (p *Plan) NextReady() *Step {
	for _, s := range p.Steps {
		if s.Status != StepStatusPending {
			continue
		}
		ready := true
		for _, depID := range s.DependsOn {
			dep := p.StepByID(depID)
			if dep == nil || !dep.Status.Satisfied() {
				ready = false
				break
			}
		}
		if ready {
			return s
		}
	}
	return nil
}

// FirstFailed returns the first failed step, or nil if none failed.
func (p *Plan) FirstFailed() *Step {
	for _, s := range p.Steps {
		if s.Status == StepStatusFailed {
			return s
		}
	}
	return nil
}

// Done returns true if every step is completed or skipped.
func (p *Plan) Done() bool {
	for _, s := range p.Steps {
		if !s.Status.Satisfied() {
			return false
		}
	}
	return true
}

// SkipDependents marks every pending step that transitively depends on
// the given step as skipped. Used when a condition step evaluates false.
func (p *Plan) SkipDependents(stepID string) {
	skipped := map[string]bool{stepID: true}
	// Steps are ordered, but dependencies may reference any earlier step,
	// so sweep until no new step is marked.
	for changed := true; changed; {
		changed = false
		for _, s := range p.Steps {
			if s.Status != StepStatusPending || skipped[s.ID] {
				continue
			}
			for _, depID := range s.DependsOn {
				if skipped[depID] {
					s.Status = StepStatusSkipped
					skipped[s.ID] = true
					changed = true
					break
				}
			}
		}
	}
}

// LastCompleted returns the most recently completed step by list order,
// or nil if no step has completed.
func (p *Plan) LastCompleted() *Step {
	var last *Step
	for _, s := range p.Steps {
		if s.Status == StepStatusCompleted {
			last = s
		}
	}
	return last
}

// MarshalSnapshot serializes the plan to its durable snapshot form.
func (p *Plan) MarshalSnapshot() ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal plan snapshot: %w", err)
	}
	return data, nil
}

// UnmarshalSnapshot restores a plan from its durable snapshot form.
func UnmarshalSnapshot(data []byte) (*Plan, error) {
	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal plan snapshot: %w", err)
	}
	return &p, nil
}
