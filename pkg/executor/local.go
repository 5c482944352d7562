package executor

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/stagehq/stagehand/pkg/clustermem"
	"github.com/stagehq/stagehand/pkg/models"
	"github.com/stagehq/stagehand/pkg/registry"
)

// Local runs stage invocations on a bounded goroutine pool within the
// current process. It ignores resource labels: there is no cluster to
// place work on. Shared memory is an in-process store with the same
// lifetime as the session.
type Local struct {
	workers int

	mu      sync.Mutex
	running bool
	slots   chan struct{}
	memory  *clustermem.Local
}

// NewLocal creates a local executor with the given pool size; workers <= 0
// means one per CPU.
func NewLocal(workers int) *Local {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	return &Local{workers: workers}
}

func (l *Local) Kind() string { return "local" }

func (l *Local) Start(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return nil
	}

	l.slots = make(chan struct{}, l.workers)
	l.memory = clustermem.NewLocal()
	l.running = true

	return nil
}

func (l *Local) Close(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.running {
		return nil
	}

	l.memory.Close()
	l.running = false

	return nil
}

func (l *Local) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.running
}

func (l *Local) SharedMemory() clustermem.ClusterMemory {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.memory
}

func (l *Local) HealthCheck(_ context.Context) error {
	if !l.Running() {
		return ErrNotRunning
	}

	return nil
}

// Invoke runs one stage invocation on the pool, blocking until it
// completes. A panic in stage code is converted to an error rather than
// taking the process down.
func (l *Local) Invoke(ctx context.Context, fn registry.StageFunc, input any, _ models.Resources) (any, error) {
	if !l.Running() {
		return nil, ErrNotRunning
	}

	select {
	case l.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	defer func() { <-l.slots }()

	return safeCall(ctx, fn, input)
}

// InvokeMany fans the inputs out over the pool and funnels the results
// back in input order, whatever order the invocations complete in. The
// first failure is returned; invocations already started run to
// completion and their results are discarded by the caller.
func (l *Local) InvokeMany(ctx context.Context, fn registry.StageFunc, inputs []any, resources models.Resources) ([]any, error) {
	if !l.Running() {
		return nil, ErrNotRunning
	}

	results := make([]any, len(inputs))
	errs := make([]error, len(inputs))

	var wg sync.WaitGroup

	for i, input := range inputs {
		wg.Add(1)

		go func(i int, input any) {
			defer wg.Done()

			results[i], errs[i] = l.Invoke(ctx, fn, input, resources)
		}(i, input)
	}

	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, &ElementError{Index: i, Err: err}
		}
	}

	return results, nil
}

func safeCall(ctx context.Context, fn registry.StageFunc, input any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage panicked: %v", r)
		}
	}()

	return fn(ctx, input)
}
