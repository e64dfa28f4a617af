package plan

import (
	"errors"
	"strings"
	"testing"

	"github.com/ShayCichocki/maestro/pkg/models"
)

func TestBuild_DefaultStrategy(t *testing.T) {
	b := NewBuilder()

	p, err := b.Build("task-1", "echo", map[string]any{"message": "hi"})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if p.TaskID != "task-1" || p.ID == "" {
		t.Errorf("plan identity wrong: %+v", p)
	}
	if len(p.Steps) != 1 {
		t.Fatalf("got %d steps, want 1", len(p.Steps))
	}
	step := p.Steps[0]
	if step.Action != "echo" {
		t.Errorf("action = %s, want echo (the task kind)", step.Action)
	}
	if step.Status != models.StepStatusPending {
		t.Errorf("status = %s, want pending", step.Status)
	}
	if step.Params["message"] != "hi" {
		t.Errorf("input not passed through: %v", step.Params)
	}
}

func TestBuild_DefaultStrategy_ActionOverride(t *testing.T) {
	b := NewBuilder()

	p, err := b.Build("task-1", "custom-kind", map[string]any{"action": "tool_call"})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if p.Steps[0].Action != "tool_call" {
		t.Errorf("action = %s, want tool_call from input override", p.Steps[0].Action)
	}
}

func TestBuild_RegisteredStrategy(t *testing.T) {
	b := NewBuilder()
	b.Register(&FuncStrategy{
		Kind: "fan-out",
		Fn: func(taskID, kind string, input map[string]any) []*models.Step {
			return []*models.Step{
				{ID: "a", Action: "echo"},
				{ID: "b", Action: "echo"},
				{ID: "join", Action: "aggregate", DependsOn: []string{"a", "b"}},
			}
		},
	})

	p, err := b.Build("task-1", "fan-out", nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(p.Steps) != 3 {
		t.Fatalf("got %d steps, want 3", len(p.Steps))
	}
	// Builder fills in default statuses.
	for _, s := range p.Steps {
		if s.Status != models.StepStatusPending {
			t.Errorf("step %s status = %s, want pending", s.ID, s.Status)
		}
	}

	if got := b.Kinds(); len(got) != 1 || got[0] != "fan-out" {
		t.Errorf("Kinds() = %v, want [fan-out]", got)
	}
}

func TestBuild_CycleDetected(t *testing.T) {
	b := NewBuilder()
	b.Register(&FuncStrategy{
		Kind: "cyclic",
		Fn: func(taskID, kind string, input map[string]any) []*models.Step {
			return []*models.Step{
				{ID: "a", Action: "echo", DependsOn: []string{"c"}},
				{ID: "b", Action: "echo", DependsOn: []string{"a"}},
				{ID: "c", Action: "echo", DependsOn: []string{"b"}},
			}
		},
	})

	_, err := b.Build("task-1", "cyclic", nil)
	if !errors.Is(err, ErrCycleDetected) {
		t.Errorf("expected ErrCycleDetected, got %v", err)
	}
}

func TestBuild_UnknownDependency(t *testing.T) {
	b := NewBuilder()
	b.Register(&FuncStrategy{
		Kind: "dangling",
		Fn: func(taskID, kind string, input map[string]any) []*models.Step {
			return []*models.Step{
				{ID: "a", Action: "echo", DependsOn: []string{"ghost"}},
			}
		},
	})

	_, err := b.Build("task-1", "dangling", nil)
	if err == nil || !strings.Contains(err.Error(), "unknown step") {
		t.Errorf("expected unknown dependency error, got %v", err)
	}
}

func TestBuild_DuplicateStepID(t *testing.T) {
	b := NewBuilder()
	b.Register(&FuncStrategy{
		Kind: "dupes",
		Fn: func(taskID, kind string, input map[string]any) []*models.Step {
			return []*models.Step{
				{ID: "a", Action: "echo"},
				{ID: "a", Action: "echo"},
			}
		},
	})

	_, err := b.Build("task-1", "dupes", nil)
	if err == nil || !strings.Contains(err.Error(), "duplicate step id") {
		t.Errorf("expected duplicate id error, got %v", err)
	}
}
