// Package executor defines the pluggable parallel backend stage
// invocations are dispatched to, and a local pool implementation of it.
// The coordinator treats Invoke/InvokeMany as opaque asynchronous
// operations; whether they run on goroutines or a remote cluster is the
// executor's business.
package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/stagehq/stagehand/pkg/clustermem"
	"github.com/stagehq/stagehand/pkg/models"
	"github.com/stagehq/stagehand/pkg/registry"
)

var ErrNotRunning = errors.New("executor session is not running")

// ElementError identifies which input of an InvokeMany batch failed.
type ElementError struct {
	Index int
	Err   error
}

func (e *ElementError) Error() string {
	return fmt.Sprintf("element %d: %v", e.Index, e.Err)
}

func (e *ElementError) Unwrap() error { return e.Err }

// Executor runs stage invocations in parallel. InvokeMany must preserve
// the correspondence between the input slice and the output slice even if
// internal completion order differs.
type Executor interface {
	Kind() string
	Start(ctx context.Context) error
	Close(ctx context.Context) error
	Running() bool

	Invoke(ctx context.Context, fn registry.StageFunc, input any, resources models.Resources) (any, error)
	InvokeMany(ctx context.Context, fn registry.StageFunc, inputs []any, resources models.Resources) ([]any, error)

	// SharedMemory exposes the session's shared keyed store, used by the
	// object store's cluster_memory tier. Valid only while Running.
	SharedMemory() clustermem.ClusterMemory

	// HealthCheck probes the backend connection. Transient failures are
	// retried by the health monitor with bounded backoff before the
	// executor is reported unhealthy.
	HealthCheck(ctx context.Context) error
}
