package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RunState is the lifecycle state of a WorkflowRun. Transitions are
// monotonic: running moves to exactly one of the terminal states and
// never back.
type RunState string

const (
	RunStateRunning   RunState = "running"
	RunStateCompleted RunState = "completed"
	RunStateFailed    RunState = "failed"
	RunStateCancelled RunState = "cancelled"
)

// Terminal reports whether the state is final.
func (s RunState) Terminal() bool {
	return s == RunStateCompleted || s == RunStateFailed || s == RunStateCancelled
}

// RunSource records what submitted a run.
type RunSource string

const (
	RunSourceAPI      RunSource = "api"
	RunSourceTrigger  RunSource = "trigger"
	RunSourceSchedule RunSource = "schedule"
	RunSourceManual   RunSource = "manual"
)

// WorkflowRun is one execution instance of a workflow. It is mutated only
// by the coordinator goroutine that owns it; everyone else sees snapshots.
type WorkflowRun struct {
	UID        string         `json:"uid"`
	Name       string         `json:"name"`
	Workflow   string         `json:"workflow"`
	Namespace  string         `json:"namespace"`
	Source     RunSource      `json:"source"`
	Input      map[string]any `json:"input,omitempty"`
	State      RunState       `json:"state"`
	Result     any            `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// NewWorkflowRun creates a running WorkflowRun for the given workflow.
func NewWorkflowRun(workflow, namespace string, input map[string]any, source RunSource) *WorkflowRun {
	uid := uuid.New().String()

	return &WorkflowRun{
		UID:       uid,
		Name:      fmt.Sprintf("%s-%s", workflow, uid[:8]),
		Workflow:  workflow,
		Namespace: namespace,
		Source:    source,
		Input:     input,
		State:     RunStateRunning,
		StartedAt: time.Now().UTC(),
	}
}

// SetFinished records the terminal state and result. A run already in a
// terminal state is left untouched so late completions cannot regress it.
func (r *WorkflowRun) SetFinished(state RunState, result any, err error) {
	if r.State.Terminal() {
		return
	}

	now := time.Now().UTC()
	r.State = state
	r.Result = result
	r.FinishedAt = &now

	if err != nil {
		r.Error = err.Error()
	}
}

// Snapshot returns a shallow copy safe to hand to other goroutines.
func (r *WorkflowRun) Snapshot() WorkflowRun {
	snap := *r

	return snap
}

// Duration returns how long the run took, or the elapsed time so far for a
// run still in flight.
func (r *WorkflowRun) Duration() time.Duration {
	if r.FinishedAt != nil {
		return r.FinishedAt.Sub(r.StartedAt)
	}

	return time.Since(r.StartedAt)
}
