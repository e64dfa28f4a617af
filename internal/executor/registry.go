package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNoHandler indicates a step's action kind has no registered handler.
// This is unrecoverable: retrying the task cannot make the handler appear.
var ErrNoHandler = errors.New("no handler registered for action")

// Well-known action kinds. Handlers may be registered under any name;
// these are the kinds the built-in strategies and templates use.
const (
	ActionLLMCall   = "llm_call"
	ActionToolCall  = "tool_call"
	ActionApproval  = "approval"
	ActionCondition = "condition"
	ActionAggregate = "aggregate"
	ActionEcho      = "echo"
)

// HandlerFunc executes one step. It receives the step's parameters
// (with cross-step references already resolved) and the run's execution
// context. Returning a *Suspension as the error suspends the task for
// approval rather than failing it.
type HandlerFunc func(ctx context.Context, params map[string]any, ec *Context) (any, error)

// Suspension signals that a step requires human approval before the
// task can continue. It is not a failure: the step is reset to pending
// so it re-executes on resume without redoing prior steps, and the task
// is paused rather than failed.
type Suspension struct {
	// Message is the human-readable approval request.
	Message string
	// StepID is the step that raised the suspension.
	StepID string
	// Draft is optional content for the approver to review.
	Draft string
}

func (s *Suspension) Error() string {
	return fmt.Sprintf("approval required for step %s: %s", s.StepID, s.Message)
}

// Registry maps action kinds to handlers. It is an explicit value
// constructed at startup and passed into the step executor, so handler
// sets are swappable per test and there is no hidden global state.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Register binds a handler to an action kind, replacing any previous
// binding.
func (r *Registry) Register(action string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[action] = fn
}

// Get returns the handler for an action kind.
func (r *Registry) Get(action string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.handlers[action]
	return fn, ok
}

// Actions returns the registered action kinds.
func (r *Registry) Actions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	actions := make([]string, 0, len(r.handlers))
	for a := range r.handlers {
		actions = append(actions, a)
	}
	return actions
}
