package workflow

import (
	"errors"
	"fmt"
)

var (
	ErrRunNotFound = errors.New("workflow run not found")
	ErrRunFinished = errors.New("workflow run already finished")
	// ErrExecutorUnhealthy fails a submission when the executor's retry
	// budget has been exhausted.
	ErrExecutorUnhealthy = errors.New("executor is unhealthy")
)

// ExecutionError wraps a stage failure as the run's failure cause. A
// timeout is carried the same way, with the deadline error as cause.
type ExecutionError struct {
	Workflow string
	Stage    string
	// Element is the failing fan-out index, or -1 when the stage was not
	// fanned out.
	Element int
	Err     error
}

func (e *ExecutionError) Error() string {
	if e.Element >= 0 {
		return fmt.Sprintf("stage %q element %d failed in workflow %q: %v",
			e.Stage, e.Element, e.Workflow, e.Err)
	}

	return fmt.Sprintf("stage %q failed in workflow %q: %v", e.Stage, e.Workflow, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
