// Package plan constructs execution plans for tasks. A plan is an
// ordered DAG of steps produced by a strategy selected by task kind.
// Construction is pure: strategies perform no I/O, and unknown kinds
// degrade to a default strategy rather than failing.
package plan

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ShayCichocki/maestro/pkg/models"
)

// ErrCycleDetected indicates a strategy produced steps with a circular
// dependency.
var ErrCycleDetected = errors.New("circular step dependency detected")

// Strategy maps a task's input to an ordered list of steps with
// dependency edges wired by step ID. Strategies must be pure.
type Strategy interface {
	// Name returns the task kind this strategy builds plans for.
	Name() string
	// Steps returns the plan's steps for the given task kind and input.
	Steps(taskID, kind string, input map[string]any) []*models.Step
}

// Builder selects a construction strategy by task kind and validates
// the resulting step graph.
type Builder struct {
	strategies map[string]Strategy
	fallback   Strategy
}

// NewBuilder creates a Builder with the default strategy as fallback.
func NewBuilder() *Builder {
	return &Builder{
		strategies: make(map[string]Strategy),
		fallback:   &simpleStrategy{},
	}
}

// Register adds a strategy, keyed by its name. A strategy registered
// under an already-known kind replaces the previous one.
func (b *Builder) Register(s Strategy) {
	b.strategies[s.Name()] = s
}

// SetFallback replaces the default strategy used for unknown kinds.
func (b *Builder) SetFallback(s Strategy) {
	b.fallback = s
}

// Kinds returns the registered strategy names.
func (b *Builder) Kinds() []string {
	kinds := make([]string, 0, len(b.strategies))
	for k := range b.strategies {
		kinds = append(kinds, k)
	}
	return kinds
}

// Build constructs a plan for the task. Unknown kinds use the fallback
// strategy. The produced graph is validated: dependency references must
// resolve within the plan and must not form a cycle.
func (b *Builder) Build(taskID, kind string, input map[string]any) (*models.Plan, error) {
	strategy, ok := b.strategies[kind]
	if !ok {
		strategy = b.fallback
	}

	steps := strategy.Steps(taskID, kind, input)
	plan := &models.Plan{
		ID:     uuid.New().String(),
		TaskID: taskID,
		Steps:  steps,
	}
	for _, s := range steps {
		if s.Status == "" {
			s.Status = models.StepStatusPending
		}
	}

	if err := validateGraph(plan); err != nil {
		return nil, fmt.Errorf("strategy %s: %w", strategy.Name(), err)
	}
	return plan, nil
}

// validateGraph checks that dependencies resolve within the plan and
// that the graph is acyclic, using depth-first search with coloring to
// detect back edges.
func validateGraph(p *models.Plan) error {
	ids := make(map[string]bool, len(p.Steps))
	for _, s := range p.Steps {
		if ids[s.ID] {
			return fmt.Errorf("duplicate step id %s", s.ID)
		}
		ids[s.ID] = true
	}
	for _, s := range p.Steps {
		for _, dep := range s.DependsOn {
			if !ids[dep] {
				return fmt.Errorf("step %s depends on unknown step %s", s.ID, dep)
			}
		}
	}

	// Color states: 0 = white (unvisited), 1 = gray (in progress), 2 = black (done).
	colors := make(map[string]int, len(p.Steps))

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1
		for _, dep := range p.StepByID(id).DependsOn {
			switch colors[dep] {
			case 1:
				return true
			case 0:
				if visit(dep) {
					return true
				}
			}
		}
		colors[id] = 2
		return false
	}

	for _, s := range p.Steps {
		if colors[s.ID] == 0 && visit(s.ID) {
			return ErrCycleDetected
		}
	}
	return nil
}
