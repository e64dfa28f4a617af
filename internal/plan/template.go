package plan

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/maestro/pkg/models"
)

// Template is a declarative pipeline definition loaded from YAML. Each
// template registers a strategy for one task kind; its steps reference
// each other via depends_on and may reference prior step results in
// their params using the "$step:<id>" form resolved at execution time.
type Template struct {
	// Kind is the task kind this template builds plans for.
	Kind string `yaml:"kind"`
	// StepList defines the pipeline.
	StepList []TemplateStep `yaml:"steps"`
}

// TemplateStep is one step of a pipeline template.
type TemplateStep struct {
	// ID is the step identifier, unique within the template.
	ID string `yaml:"id"`
	// Action is the handler kind to dispatch to.
	Action string `yaml:"action"`
	// Params is the handler payload. The special string form
	// "$step:<id>" or "$step:<id>.<path>" references a prior step's
	// result; "$input.<key>" references the task input.
	Params map[string]any `yaml:"params"`
	// DependsOn lists step IDs that must finish first.
	DependsOn []string `yaml:"depends_on"`
}

// ParseTemplate parses a single YAML pipeline definition.
func ParseTemplate(data []byte) (*Template, error) {
	var t Template
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse plan template: %w", err)
	}
	if t.Kind == "" {
		return nil, fmt.Errorf("plan template missing kind")
	}
	if len(t.StepList) == 0 {
		return nil, fmt.Errorf("plan template %s has no steps", t.Kind)
	}
	for i, s := range t.StepList {
		if s.ID == "" {
			return nil, fmt.Errorf("plan template %s: step %d missing id", t.Kind, i)
		}
		if s.Action == "" {
			return nil, fmt.Errorf("plan template %s: step %s missing action", t.Kind, s.ID)
		}
	}
	return &t, nil
}

// LoadTemplates reads every .yaml/.yml file in dir and registers a
// strategy per template on the builder. A missing directory is not an
// error; templates are optional.
func LoadTemplates(b *Builder, dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read template directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("read template %s: %w", entry.Name(), err)
		}
		t, err := ParseTemplate(data)
		if err != nil {
			return fmt.Errorf("template %s: %w", entry.Name(), err)
		}
		b.Register(t)
	}
	return nil
}

// Name returns the template's task kind.
func (t *Template) Name() string { return t.Kind }

// Steps instantiates the template's pipeline. Params are copied so one
// plan's execution never mutates the template; "$input.<key>"
// references are substituted from the task input here, while
// "$step:<id>" references stay in place for the executor to resolve
// against accumulated step results.
func (t *Template) Steps(taskID, kind string, input map[string]any) []*models.Step {
	steps := make([]*models.Step, 0, len(t.StepList))
	for _, ts := range t.StepList {
		params := make(map[string]any, len(ts.Params))
		for k, v := range ts.Params {
			params[k] = substituteInput(v, input)
		}
		steps = append(steps, &models.Step{
			ID:        ts.ID,
			Action:    ts.Action,
			Params:    params,
			DependsOn: append([]string(nil), ts.DependsOn...),
			Status:    models.StepStatusPending,
		})
	}
	return steps
}

// substituteInput resolves "$input.<key>" references recursively.
func substituteInput(v any, input map[string]any) any {
	switch t := v.(type) {
	case string:
		if key, ok := strings.CutPrefix(t, "$input."); ok {
			return input[key]
		}
		return t
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = substituteInput(val, input)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = substituteInput(val, input)
		}
		return out
	default:
		return v
	}
}
