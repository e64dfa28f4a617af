package plan

import "github.com/ShayCichocki/maestro/pkg/models"

// simpleStrategy is the default: a single step whose action is the
// task kind itself, passing the task input through as step parameters.
// Unknown task kinds degrade to this rather than failing.
type simpleStrategy struct{}

func (simpleStrategy) Name() string { return "simple" }

func (simpleStrategy) Steps(taskID, kind string, input map[string]any) []*models.Step {
	action := kind
	if a, ok := input["action"].(string); ok && a != "" {
		action = a
	}
	return []*models.Step{
		{
			ID:     "main",
			Action: action,
			Params: input,
			Status: models.StepStatusPending,
		},
	}
}

// FuncStrategy adapts a plain function into a Strategy, useful for
// programmatic registration and tests.
type FuncStrategy struct {
	// Kind is the task kind this strategy serves.
	Kind string
	// Fn produces the step list.
	Fn func(taskID, kind string, input map[string]any) []*models.Step
}

// Name returns the strategy's task kind.
func (f *FuncStrategy) Name() string { return f.Kind }

// Steps invokes the wrapped function.
func (f *FuncStrategy) Steps(taskID, kind string, input map[string]any) []*models.Step {
	return f.Fn(taskID, kind, input)
}
