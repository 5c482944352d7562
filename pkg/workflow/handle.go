package workflow

import (
	"context"
	"sync"

	"github.com/stagehq/stagehand/pkg/models"
)

// RunHandle is returned by Submit immediately. It can be awaited for the
// terminal run, polled for a snapshot, or cancelled.
type RunHandle struct {
	uid    string
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.RWMutex
	run *models.WorkflowRun
}

func newRunHandle(run *models.WorkflowRun, cancel context.CancelFunc) *RunHandle {
	return &RunHandle{
		uid:    run.UID,
		cancel: cancel,
		done:   make(chan struct{}),
		run:    run,
	}
}

func (h *RunHandle) UID() string { return h.uid }

// Done is closed when the run reaches a terminal state.
func (h *RunHandle) Done() <-chan struct{} { return h.done }

// Snapshot returns the current view of the run.
func (h *RunHandle) Snapshot() models.WorkflowRun {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.run.Snapshot()
}

// Await blocks until the run is terminal or ctx is cancelled. Cancelling
// the await does not cancel the run.
func (h *RunHandle) Await(ctx context.Context) (models.WorkflowRun, error) {
	select {
	case <-h.done:
		return h.Snapshot(), nil
	case <-ctx.Done():
		return h.Snapshot(), ctx.Err()
	}
}

// Cancel flips the run to cancelled and halts further scheduling. Tasks
// already dispatched to the executor are not interrupted; their results
// are discarded.
func (h *RunHandle) Cancel() { h.cancel() }

// finish publishes the terminal state to waiters. Called exactly once by
// the owning coordinator goroutine.
func (h *RunHandle) finish(mutate func(run *models.WorkflowRun)) {
	h.mu.Lock()
	mutate(h.run)
	h.mu.Unlock()

	close(h.done)
}
