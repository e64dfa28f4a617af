// Package handlers provides the reference action handlers shipped with
// maestro. Handlers are plain functions registered on an executor
// registry; deployments may register their own alongside or instead of
// these.
package handlers

import (
	"context"
	"fmt"

	"github.com/ShayCichocki/maestro/internal/condition"
	"github.com/ShayCichocki/maestro/internal/executor"
)

// RegisterBuiltins registers the handlers that need no external
// services: echo, condition, approval, and aggregate.
func RegisterBuiltins(r *executor.Registry) {
	r.Register(executor.ActionEcho, Echo)
	r.Register(executor.ActionCondition, Condition)
	r.Register(executor.ActionApproval, Approval)
	r.Register(executor.ActionAggregate, Aggregate)
}

// Echo returns its parameters unchanged. Useful for development and as
// a terminal step that shapes a plan's final result.
func Echo(ctx context.Context, params map[string]any, ec *executor.Context) (any, error) {
	return params, nil
}

// Condition evaluates the boolean expression in the "expression"
// parameter against a prior step result: the step named by the "step"
// parameter, or the most recent result by default. It returns
// {"passed": bool}; the executor skips dependent steps when the
// condition does not pass.
func Condition(ctx context.Context, params map[string]any, ec *executor.Context) (any, error) {
	expr, ok := params["expression"].(string)
	if !ok || expr == "" {
		return nil, fmt.Errorf("condition step requires an 'expression' parameter")
	}

	var root any
	if stepID, ok := params["step"].(string); ok && stepID != "" {
		root = ec.Results[stepID]
	} else {
		root = ec.LastResult()
	}

	passed, err := condition.Evaluate(expr, root)
	if err != nil {
		return nil, err
	}
	return map[string]any{"passed": passed, "expression": expr}, nil
}

// Approval suspends the task for human review. The "message" parameter
// becomes the approval request; "draft" (already resolved if it
// referenced a prior step) is carried along for display. Resuming the
// task grants the pending approval, so the step runs again and
// completes.
func Approval(ctx context.Context, params map[string]any, ec *executor.Context) (any, error) {
	if ec.CurrentStep != nil && ec.Approved[ec.CurrentStep.ID] {
		return map[string]any{"approved": true}, nil
	}
	if approved, ok := params["approved"].(bool); ok && approved {
		return map[string]any{"approved": true}, nil
	}

	message, _ := params["message"].(string)
	if message == "" {
		message = "approval required"
	}
	draft, _ := params["draft"].(string)

	return nil, &executor.Suspension{Message: message, Draft: draft}
}

// Aggregate collects the results of the steps named in the "steps"
// parameter into one map keyed by step ID. With no "steps" parameter it
// collects every accumulated result.
func Aggregate(ctx context.Context, params map[string]any, ec *executor.Context) (any, error) {
	collected := make(map[string]any)

	names, ok := params["steps"].([]any)
	if !ok {
		for id, result := range ec.Results {
			collected[id] = result
		}
		return collected, nil
	}

	for _, n := range names {
		id, ok := n.(string)
		if !ok {
			return nil, fmt.Errorf("aggregate 'steps' entries must be step ids, got %T", n)
		}
		result, ok := ec.Results[id]
		if !ok {
			return nil, fmt.Errorf("aggregate references step %s with no recorded result", id)
		}
		collected[id] = result
	}
	return collected, nil
}
