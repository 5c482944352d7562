// Package registry resolves a stage's textual target into a callable. It
// is an in-process interface table: stage code registers itself under a
// name, and the coordinator resolves names once per stage before dispatch.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// StageFunc is the callable shape every stage target implements. The input
// is the bound argument (run input, predecessor result, tuple of results,
// or one fan-out element); the returned value flows to dependent stages.
type StageFunc func(ctx context.Context, input any) (any, error)

var ErrNotRegistered = errors.New("target not registered")

// ResolutionError surfaces before any stage executes; a run whose targets
// cannot all be resolved never starts.
type ResolutionError struct {
	Target string
	Err    error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve target %q: %v", e.Target, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

type Registry struct {
	logger  *slog.Logger
	mu      sync.RWMutex
	targets map[string]StageFunc
}

func New(logger *slog.Logger) *Registry {
	return &Registry{
		logger:  logger.With("module", "registry"),
		targets: make(map[string]StageFunc),
	}
}

// Register binds a target name to a callable. Re-registering a name
// replaces the previous binding.
func (r *Registry) Register(name string, fn StageFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.targets[name]; exists {
		r.logger.Warn("Replacing registered target", "target", name)
	}

	r.targets[name] = fn
}

// Resolve returns the callable bound to target.
func (r *Registry) Resolve(target string) (StageFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.targets[target]
	if !ok {
		return nil, &ResolutionError{Target: target, Err: ErrNotRegistered}
	}

	return fn, nil
}

// Targets lists the registered target names, mainly for diagnostics.
func (r *Registry) Targets() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.targets))
	for name := range r.targets {
		names = append(names, name)
	}

	return names
}
