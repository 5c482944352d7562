package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/stagehq/stagehand/pkg/registry"
)

// NewRegistry creates a stage registry preloaded with the built-in
// targets. Embedding applications register their own targets on top.
func NewRegistry(logger *slog.Logger) *registry.Registry {
	reg := registry.New(logger)
	RegisterBuiltins(reg)

	return reg
}

// RegisterBuiltins installs the generic targets: echo passes its input
// through, sleep pauses for input["duration_ms"] milliseconds. Both are
// mainly useful for wiring and smoke-testing workflow definitions.
func RegisterBuiltins(reg *registry.Registry) {
	reg.Register("echo", func(_ context.Context, input any) (any, error) {
		return input, nil
	})

	reg.Register("sleep", func(ctx context.Context, input any) (any, error) {
		duration := 100 * time.Millisecond

		if params, ok := input.(map[string]any); ok {
			if ms, ok := params["duration_ms"].(float64); ok {
				duration = time.Duration(ms) * time.Millisecond
			}
		}

		select {
		case <-time.After(duration):
			return input, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
}
