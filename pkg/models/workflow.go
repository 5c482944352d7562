// Package models defines the core domain models for workflow orchestration.
package models

import "time"

// StageKind selects how a stage consumes its input.
type StageKind string

const (
	// StageKindNormal runs the target once with the bound input.
	StageKindNormal StageKind = "normal"
	// StageKindParameterized fans the target out over an iterable, one
	// invocation per element, and funnels the results back in order.
	StageKindParameterized StageKind = "parameterized"
)

// Resources are scheduling labels forwarded opaquely to the executor.
type Resources struct {
	CPUs   float64 `json:"cpus,omitempty"   yaml:"cpus,omitempty"`
	GPUs   float64 `json:"gpus,omitempty"   yaml:"gpus,omitempty"`
	Memory string  `json:"memory,omitempty" yaml:"memory,omitempty"`
}

// StageDefinition is one named step of a workflow.
type StageDefinition struct {
	Name        string    `json:"name"                  yaml:"name"                  validate:"required"`
	Target      string    `json:"target"                yaml:"target"                validate:"required"`
	Kind        StageKind `json:"kind,omitempty"        yaml:"kind,omitempty"        validate:"omitempty,oneof=normal parameterized"`
	DependsOn   []string  `json:"depends_on,omitempty"  yaml:"depends_on,omitempty"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Resources   Resources `json:"resources,omitempty"   yaml:"resources,omitempty"`
	// MapOn names a list in the run input to fan out over instead of the
	// predecessor result. Only meaningful for parameterized stages.
	MapOn string `json:"map_on,omitempty" yaml:"map_on,omitempty"`
	// Priority is a hint to the executor, higher runs earlier within a level.
	Priority int `json:"priority,omitempty" yaml:"priority,omitempty"`
}

// EffectiveKind returns the stage kind, defaulting to normal when unset.
func (s StageDefinition) EffectiveKind() StageKind {
	if s.Kind == "" {
		return StageKindNormal
	}

	return s.Kind
}

// WorkflowDefinition is a declarative pipeline: a set of named stages with
// explicit dependencies. It is immutable once compiled for a run.
type WorkflowDefinition struct {
	Name        string            `json:"name"                  yaml:"name"        validate:"required,min=3"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty" yaml:"annotations,omitempty"`
	Stages      []StageDefinition `json:"stages"                yaml:"stages"      validate:"required,min=1,dive"`
	CreatedAt   time.Time         `json:"created_at,omitzero"   yaml:"created_at,omitempty"`
	UpdatedAt   time.Time         `json:"updated_at,omitzero"   yaml:"updated_at,omitempty"`
}

// Stage returns the stage with the given name, if present.
func (w *WorkflowDefinition) Stage(name string) (StageDefinition, bool) {
	for _, stage := range w.Stages {
		if stage.Name == name {
			return stage, true
		}
	}

	return StageDefinition{}, false
}
