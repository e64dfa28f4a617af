package handlers

import (
	"context"
	"errors"
	"testing"

	"github.com/ShayCichocki/maestro/internal/executor"
	"github.com/ShayCichocki/maestro/pkg/models"
)

func testExecContext(p *models.Plan) *executor.Context {
	task := &models.Task{ID: "task-1", OwnerID: "owner-1"}
	return executor.NewContext(task, p, executor.Limits{})
}

func TestRegisterBuiltins(t *testing.T) {
	reg := executor.NewRegistry()
	RegisterBuiltins(reg)

	for _, action := range []string{
		executor.ActionEcho,
		executor.ActionCondition,
		executor.ActionApproval,
		executor.ActionAggregate,
	} {
		if _, ok := reg.Get(action); !ok {
			t.Errorf("builtin %s not registered", action)
		}
	}
}

func TestEcho(t *testing.T) {
	params := map[string]any{"msg": "hello", "n": 3}
	got, err := Echo(context.Background(), params, testExecContext(&models.Plan{}))
	if err != nil {
		t.Fatalf("Echo failed: %v", err)
	}
	if m := got.(map[string]any); m["msg"] != "hello" || m["n"] != 3 {
		t.Errorf("Echo = %v, want params back", got)
	}
}

func TestCondition_DefaultRoot(t *testing.T) {
	p := &models.Plan{
		Steps: []*models.Step{
			{ID: "fetch", Status: models.StepStatusCompleted, Result: map[string]any{"count": 5}},
		},
	}
	ec := testExecContext(p)

	got, err := Condition(context.Background(), map[string]any{
		"expression": "result.count > 3",
	}, ec)
	if err != nil {
		t.Fatalf("Condition failed: %v", err)
	}
	if m := got.(map[string]any); m["passed"] != true {
		t.Errorf("passed = %v, want true", m["passed"])
	}
}

func TestCondition_NamedStep(t *testing.T) {
	p := &models.Plan{
		Steps: []*models.Step{
			{ID: "first", Status: models.StepStatusCompleted, Result: map[string]any{"ok": true}},
			{ID: "second", Status: models.StepStatusCompleted, Result: map[string]any{"ok": false}},
		},
	}
	ec := testExecContext(p)

	// Without "step" the most recent result (second) would fail the check.
	got, err := Condition(context.Background(), map[string]any{
		"expression": "result.ok == true",
		"step":       "first",
	}, ec)
	if err != nil {
		t.Fatalf("Condition failed: %v", err)
	}
	if m := got.(map[string]any); m["passed"] != true {
		t.Errorf("passed = %v, want true against step first", m["passed"])
	}
}

func TestCondition_Errors(t *testing.T) {
	ec := testExecContext(&models.Plan{})

	if _, err := Condition(context.Background(), map[string]any{}, ec); err == nil {
		t.Error("missing expression should error")
	}
	if _, err := Condition(context.Background(), map[string]any{
		"expression": "result.x ==",
	}, ec); err == nil {
		t.Error("malformed expression should error")
	}
}

func TestApproval_Suspends(t *testing.T) {
	ec := testExecContext(&models.Plan{})
	ec.CurrentStep = &models.Step{ID: "gate"}

	_, err := Approval(context.Background(), map[string]any{
		"message": "review the draft",
		"draft":   "release notes",
	}, ec)

	var susp *executor.Suspension
	if !errors.As(err, &susp) {
		t.Fatalf("err = %v, want *Suspension", err)
	}
	if susp.Message != "review the draft" || susp.Draft != "release notes" {
		t.Errorf("suspension = %+v", susp)
	}
}

func TestApproval_DefaultMessage(t *testing.T) {
	ec := testExecContext(&models.Plan{})
	ec.CurrentStep = &models.Step{ID: "gate"}

	_, err := Approval(context.Background(), map[string]any{}, ec)
	var susp *executor.Suspension
	if !errors.As(err, &susp) {
		t.Fatalf("err = %v, want *Suspension", err)
	}
	if susp.Message != "approval required" {
		t.Errorf("message = %q, want default", susp.Message)
	}
}

func TestApproval_Granted(t *testing.T) {
	ec := testExecContext(&models.Plan{})
	ec.CurrentStep = &models.Step{ID: "gate"}
	ec.Approved["gate"] = true

	got, err := Approval(context.Background(), map[string]any{"message": "x"}, ec)
	if err != nil {
		t.Fatalf("granted approval should complete: %v", err)
	}
	if m := got.(map[string]any); m["approved"] != true {
		t.Errorf("result = %v", got)
	}
}

func TestApproval_PreApprovedParam(t *testing.T) {
	ec := testExecContext(&models.Plan{})
	ec.CurrentStep = &models.Step{ID: "gate"}

	got, err := Approval(context.Background(), map[string]any{"approved": true}, ec)
	if err != nil {
		t.Fatalf("pre-approved step should complete: %v", err)
	}
	if m := got.(map[string]any); m["approved"] != true {
		t.Errorf("result = %v", got)
	}
}

func TestAggregate_Named(t *testing.T) {
	ec := testExecContext(&models.Plan{})
	ec.Results["a"] = 1
	ec.Results["b"] = 2
	ec.Results["c"] = 3

	got, err := Aggregate(context.Background(), map[string]any{
		"steps": []any{"a", "c"},
	}, ec)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	m := got.(map[string]any)
	if len(m) != 2 || m["a"] != 1 || m["c"] != 3 {
		t.Errorf("Aggregate = %v, want a and c only", m)
	}
}

func TestAggregate_All(t *testing.T) {
	ec := testExecContext(&models.Plan{})
	ec.Results["a"] = 1
	ec.Results["b"] = 2

	got, err := Aggregate(context.Background(), map[string]any{}, ec)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if m := got.(map[string]any); len(m) != 2 {
		t.Errorf("Aggregate = %v, want all results", m)
	}
}

func TestAggregate_MissingStep(t *testing.T) {
	ec := testExecContext(&models.Plan{})

	if _, err := Aggregate(context.Background(), map[string]any{
		"steps": []any{"ghost"},
	}, ec); err == nil {
		t.Error("reference to unrecorded step should error")
	}
}
