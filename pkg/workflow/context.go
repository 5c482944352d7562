package workflow

import (
	"context"

	"github.com/stagehq/stagehand/pkg/models"
)

// RunContext is the ambient state stage code can retrieve during an
// invocation. It is an immutable value captured at task-creation time:
// each stage, and each element of a fan-out, gets its own copy, so the
// binding cannot leak across concurrently executing stages of different
// runs or different fan-out elements.
type RunContext struct {
	Input        map[string]any
	Namespace    string
	ExecutorKind string
	Run          models.WorkflowRun
	Definition   *models.WorkflowDefinition
	Config       map[string]any

	// Stage is the name of the stage being invoked.
	Stage string
	// Element is the fan-out index of this invocation, or -1 for a
	// normal (non-fanned) invocation.
	Element int
}

// WithStage returns a copy bound to the named stage.
func (rc RunContext) WithStage(stage string) RunContext {
	rc.Stage = stage
	rc.Element = -1

	return rc
}

// WithElement returns a copy bound to one fan-out element.
func (rc RunContext) WithElement(index int) RunContext {
	rc.Element = index

	return rc
}

type runContextKey struct{}

// NewContext binds a RunContext to ctx for the duration of a stage
// invocation.
func NewContext(ctx context.Context, rc RunContext) context.Context {
	return context.WithValue(ctx, runContextKey{}, rc)
}

// FromContext retrieves the RunContext bound to the current invocation.
func FromContext(ctx context.Context) (RunContext, bool) {
	rc, ok := ctx.Value(runContextKey{}).(RunContext)

	return rc, ok
}
