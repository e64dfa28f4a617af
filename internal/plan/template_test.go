package plan

import (
	"os"
	"path/filepath"
	"testing"
)

const pipelineYAML = `
kind: release
steps:
  - id: build
    action: tool_call
    params:
      tool: make
      target: $input.target
  - id: approve
    action: approval
    params:
      message: "Ship $input.target?"
    depends_on: [build]
  - id: ship
    action: tool_call
    params:
      artifact: "$step:build.path"
    depends_on: [approve]
`

func TestParseTemplate(t *testing.T) {
	tmpl, err := ParseTemplate([]byte(pipelineYAML))
	if err != nil {
		t.Fatalf("ParseTemplate failed: %v", err)
	}
	if tmpl.Kind != "release" {
		t.Errorf("kind = %s, want release", tmpl.Kind)
	}
	if len(tmpl.StepList) != 3 {
		t.Fatalf("got %d steps, want 3", len(tmpl.StepList))
	}
	if tmpl.StepList[2].DependsOn[0] != "approve" {
		t.Errorf("depends_on not parsed: %v", tmpl.StepList[2].DependsOn)
	}
}

func TestParseTemplate_Invalid(t *testing.T) {
	cases := map[string]string{
		"missing kind":    "steps:\n  - id: a\n    action: echo\n",
		"no steps":        "kind: empty\n",
		"step missing id": "kind: x\nsteps:\n  - action: echo\n",
		"missing action":  "kind: x\nsteps:\n  - id: a\n",
	}
	for name, yaml := range cases {
		if _, err := ParseTemplate([]byte(yaml)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestTemplate_Instantiation(t *testing.T) {
	tmpl, err := ParseTemplate([]byte(pipelineYAML))
	if err != nil {
		t.Fatalf("ParseTemplate failed: %v", err)
	}

	steps := tmpl.Steps("task-1", "release", map[string]any{"target": "prod"})
	if len(steps) != 3 {
		t.Fatalf("got %d steps, want 3", len(steps))
	}

	// "$input.<key>" substitutes at instantiation time.
	if steps[0].Params["target"] != "prod" {
		t.Errorf("input reference not substituted: %v", steps[0].Params)
	}
	// "$step:<id>" stays for the executor to resolve at run time.
	if steps[2].Params["artifact"] != "$step:build.path" {
		t.Errorf("step reference should be left in place: %v", steps[2].Params)
	}

	// Instantiations must not share or mutate template state.
	steps[0].Params["target"] = "mutated"
	again := tmpl.Steps("task-2", "release", map[string]any{"target": "staging"})
	if again[0].Params["target"] != "staging" {
		t.Errorf("template state leaked across instantiations: %v", again[0].Params)
	}
}

func TestLoadTemplates(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "release.yaml"), []byte(pipelineYAML), 0644); err != nil {
		t.Fatalf("write template: %v", err)
	}
	// Non-YAML files are ignored.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not yaml"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	b := NewBuilder()
	if err := LoadTemplates(b, dir); err != nil {
		t.Fatalf("LoadTemplates failed: %v", err)
	}

	p, err := b.Build("task-1", "release", map[string]any{"target": "prod"})
	if err != nil {
		t.Fatalf("Build from template failed: %v", err)
	}
	if len(p.Steps) != 3 {
		t.Errorf("got %d steps, want 3", len(p.Steps))
	}
}

func TestLoadTemplates_MissingDirOK(t *testing.T) {
	b := NewBuilder()
	if err := LoadTemplates(b, filepath.Join(t.TempDir(), "nope")); err != nil {
		t.Errorf("missing directory should not error: %v", err)
	}
}

func TestLoadTemplates_BadTemplate(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("kind: x\n"), 0644); err != nil {
		t.Fatalf("write template: %v", err)
	}

	b := NewBuilder()
	if err := LoadTemplates(b, dir); err == nil {
		t.Error("expected error for invalid template")
	}
}
