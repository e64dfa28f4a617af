package executor

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ShayCichocki/maestro/pkg/models"
)

// ErrLimitExceeded indicates a run exhausted its step or wall-clock
// budget. Tasks failing on a limit are failed terminally, not retried.
var ErrLimitExceeded = errors.New("execution limit exceeded")

// Limits bounds one agent-loop run.
type Limits struct {
	// MaxSteps caps how many steps one run may execute.
	MaxSteps int
	// MaxWallTime caps the run's elapsed wall-clock time.
	MaxWallTime time.Duration
	// HandlerTimeout caps a single handler invocation, so a stuck
	// handler cannot hold a lease past its expiry indefinitely.
	HandlerTimeout time.Duration
}

// Context is the transient per-run state threaded through one
// agent-loop invocation. It is owned exclusively by that invocation and
// never shared across tasks; durability comes from task, step, and
// event writes, not from this value.
type Context struct {
	// TaskID is the task being run.
	TaskID string
	// OwnerID is the task's owning user.
	OwnerID string
	// Plan is the active plan.
	Plan *models.Plan
	// Results accumulates step results keyed by step ID.
	Results map[string]any
	// Approved marks steps whose approval suspension was granted by a
	// resume, so they complete instead of suspending again.
	Approved map[string]bool
	// CurrentStep is the step being executed right now, set by the
	// step executor before each handler invocation.
	CurrentStep *models.Step
	// Executed counts steps executed so far in this run.
	Executed int
	// Limits bounds this run.
	Limits Limits
	// StartedAt is when this run began.
	StartedAt time.Time
}

// NewContext creates the execution context for one run, preloading
// results from steps already completed in a restored plan.
func NewContext(task *models.Task, p *models.Plan, limits Limits) *Context {
	results := make(map[string]any)
	executed := 0
	for _, s := range p.Steps {
		if s.Status == models.StepStatusCompleted {
			results[s.ID] = s.Result
			executed++
		}
	}
	return &Context{
		TaskID:    task.ID,
		OwnerID:   task.OwnerID,
		Plan:      p,
		Results:   results,
		Approved:  make(map[string]bool),
		Executed:  executed,
		Limits:    limits,
		StartedAt: time.Now(),
	}
}

// CheckLimits returns an ErrLimitExceeded error if the run has
// exhausted its step or wall-clock budget.
func (c *Context) CheckLimits() error {
	if c.Limits.MaxSteps > 0 && c.Executed >= c.Limits.MaxSteps {
		return fmt.Errorf("%w: executed %d steps (max %d)", ErrLimitExceeded, c.Executed, c.Limits.MaxSteps)
	}
	if c.Limits.MaxWallTime > 0 {
		if elapsed := time.Since(c.StartedAt); elapsed >= c.Limits.MaxWallTime {
			return fmt.Errorf("%w: ran for %s (max %s)", ErrLimitExceeded, elapsed.Round(time.Millisecond), c.Limits.MaxWallTime)
		}
	}
	return nil
}

// LastResult returns the most recently completed step's result, the
// default root for condition expressions.
func (c *Context) LastResult() any {
	if last := c.Plan.LastCompleted(); last != nil {
		return last.Result
	}
	return nil
}

// ResolveParams returns a copy of params with cross-step references
// substituted. A string value "$step:<id>" is replaced with that step's
// accumulated result; "$step:<id>.<path>" walks nested map keys within
// it. Unresolvable references resolve to nil rather than failing, so
// handlers decide how to treat missing inputs.
func (c *Context) ResolveParams(params map[string]any) map[string]any {
	resolved := make(map[string]any, len(params))
	for k, v := range params {
		resolved[k] = c.resolveValue(v)
	}
	return resolved
}

func (c *Context) resolveValue(v any) any {
	switch t := v.(type) {
	case string:
		if ref, ok := strings.CutPrefix(t, "$step:"); ok {
			return c.resolveRef(ref)
		}
		return t
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = c.resolveValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = c.resolveValue(val)
		}
		return out
	default:
		return v
	}
}

// resolveRef looks up "<step-id>" or "<step-id>.<dotted.path>".
func (c *Context) resolveRef(ref string) any {
	stepID, path, hasPath := strings.Cut(ref, ".")
	current, ok := c.Results[stepID]
	if !ok {
		return nil
	}
	if !hasPath {
		return current
	}
	for _, field := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = m[field]
	}
	return current
}
