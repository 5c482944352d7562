package workflow

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/stagehq/stagehand/pkg/dag"
	"github.com/stagehq/stagehand/pkg/executor"
	"github.com/stagehq/stagehand/pkg/models"
	"github.com/stagehq/stagehand/pkg/otelhelper"
	"github.com/stagehq/stagehand/pkg/registry"
)

// fanElement carries one fan-out input together with its source index, so
// the per-element run context can report the position even though the
// executor only sees an opaque input slice.
type fanElement struct {
	index int
	value any
}

// execute drives a run level by level. It is the only goroutine that
// mutates the run, and it finishes the handle exactly once.
func (c *Coordinator) execute(
	ctx context.Context,
	handle *RunHandle,
	definition *models.WorkflowDefinition,
	graph *dag.Graph,
	targets map[string]registry.StageFunc,
	opts SubmitOptions,
) {
	run := handle.Snapshot()

	runTimeout := opts.RunTimeout
	if runTimeout == 0 {
		runTimeout = c.config.RunTimeout
	}

	if runTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, runTimeout)
		defer cancel()
	}

	ctx, span := otelhelper.StartSpan(ctx, c.tracer, "workflow.run", runAttributes(run)...)
	defer span.End()

	rc := RunContext{
		Input:        run.Input,
		Namespace:    run.Namespace,
		ExecutorKind: c.executor.Kind(),
		Run:          run,
		Definition:   definition,
		Element:      -1,
	}

	results := make(map[string]any, len(definition.Stages))

	for _, level := range graph.Levels {
		if err := ctx.Err(); err != nil {
			c.finishInterrupted(handle, run, err)

			return
		}

		if err := c.runLevel(ctx, rc, graph, level, targets, results, opts); err != nil {
			if interrupted := ctx.Err(); interrupted != nil {
				c.finishInterrupted(handle, run, interrupted)

				return
			}

			otelhelper.SetError(span, err)
			c.finishRun(handle, models.RunStateFailed, nil, err)

			return
		}
	}

	c.finishRun(handle, models.RunStateCompleted, collectResult(graph, results), nil)
}

// finishInterrupted maps the run context's termination cause to a terminal
// state: explicit cancellation becomes cancelled, a run deadline becomes a
// failed run with a timeout cause.
func (c *Coordinator) finishInterrupted(handle *RunHandle, run models.WorkflowRun, cause error) {
	if errors.Is(cause, context.DeadlineExceeded) {
		c.finishRun(handle, models.RunStateFailed, nil, &ExecutionError{
			Workflow: run.Workflow,
			Element:  -1,
			Err:      fmt.Errorf("run deadline exceeded: %w", cause),
		})

		return
	}

	c.finishRun(handle, models.RunStateCancelled, nil, nil)
}

// runLevel dispatches every stage of one level concurrently and waits for
// all of them. The first stage error wins; sibling stages already in
// flight run to completion but the run fails as soon as the level joins.
func (c *Coordinator) runLevel(
	ctx context.Context,
	rc RunContext,
	graph *dag.Graph,
	level []string,
	targets map[string]registry.StageFunc,
	results map[string]any,
	opts SubmitOptions,
) error {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)

	// Siblings only read results from earlier levels, so the shared map
	// stays read-only until the level joins.
	levelResults := make(map[string]any, len(level))

	levelCtx, cancelLevel := context.WithCancel(ctx)
	defer cancelLevel()

	for _, name := range level {
		node := graph.Nodes[name]

		wg.Add(1)

		go func() {
			defer wg.Done()

			value, err := c.runStage(levelCtx, rc, node, targets[node.Stage.Name], results, opts)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				if firstErr == nil {
					firstErr = err

					// Fail fast: stop sibling dispatches waiting on
					// executor slots.
					cancelLevel()
				}

				return
			}

			levelResults[node.Stage.Name] = value
		}()
	}

	wg.Wait()

	if firstErr != nil {
		return firstErr
	}

	for name, value := range levelResults {
		results[name] = value
	}

	return nil
}

func (c *Coordinator) runStage(
	ctx context.Context,
	rc RunContext,
	node *dag.Node,
	fn registry.StageFunc,
	results map[string]any,
	opts SubmitOptions,
) (any, error) {
	stage := node.Stage

	stageTimeout := opts.StageTimeout
	if stageTimeout == 0 {
		stageTimeout = c.config.StageTimeout
	}

	if stageTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, stageTimeout)
		defer cancel()
	}

	ctx, span := otelhelper.StartSpan(ctx, c.tracer, "workflow.stage",
		append(runAttributes(rc.Run),
			attribute.String(otelhelper.StageNameKey, stage.Name),
			attribute.String(otelhelper.StageKindKey, string(stage.EffectiveKind())),
		)...)
	defer span.End()

	started := time.Now()
	rc = rc.WithStage(stage.Name)

	c.logger.Debug("Dispatching stage",
		"run_uid", rc.Run.UID, "stage", stage.Name, "kind", string(stage.EffectiveKind()))

	var (
		value any
		err   error
	)

	if stage.EffectiveKind() == models.StageKindParameterized {
		value, err = c.invokeFanOut(ctx, rc, stage, fn, results)
	} else {
		value, err = c.invokeSingle(ctx, rc, stage, fn, results)
	}

	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	c.logger.Debug("Stage finished",
		"run_uid", rc.Run.UID, "stage", stage.Name, "duration", time.Since(started).String())

	return value, nil
}

func (c *Coordinator) invokeSingle(
	ctx context.Context,
	rc RunContext,
	stage models.StageDefinition,
	fn registry.StageFunc,
	results map[string]any,
) (any, error) {
	input := bindInput(stage, rc.Input, results)

	wrapped := func(ctx context.Context, in any) (any, error) {
		return fn(NewContext(ctx, rc), in)
	}

	value, err := c.executor.Invoke(ctx, wrapped, input, stage.Resources)
	if err != nil {
		return nil, &ExecutionError{
			Workflow: rc.Run.Workflow,
			Stage:    stage.Name,
			Element:  -1,
			Err:      err,
		}
	}

	return value, nil
}

// invokeFanOut runs a parameterized stage: one invocation per element of
// the iterable, funneled back into a slice ordered by source index
// regardless of completion order. An empty iterable completes immediately
// with an empty result.
func (c *Coordinator) invokeFanOut(
	ctx context.Context,
	rc RunContext,
	stage models.StageDefinition,
	fn registry.StageFunc,
	results map[string]any,
) (any, error) {
	iterable, err := fanOutSource(stage, rc.Input, results)
	if err != nil {
		return nil, &ExecutionError{
			Workflow: rc.Run.Workflow,
			Stage:    stage.Name,
			Element:  -1,
			Err:      err,
		}
	}

	if len(iterable) == 0 {
		return []any{}, nil
	}

	inputs := make([]any, len(iterable))
	for i, value := range iterable {
		inputs[i] = fanElement{index: i, value: value}
	}

	wrapped := func(ctx context.Context, in any) (any, error) {
		element, ok := in.(fanElement)
		if !ok {
			return nil, fmt.Errorf("unexpected fan-out input %T", in)
		}

		return fn(NewContext(ctx, rc.WithElement(element.index)), element.value)
	}

	values, err := c.executor.InvokeMany(ctx, wrapped, inputs, stage.Resources)
	if err != nil {
		execErr := &ExecutionError{
			Workflow: rc.Run.Workflow,
			Stage:    stage.Name,
			Element:  -1,
			Err:      err,
		}

		var elemErr *executor.ElementError
		if errors.As(err, &elemErr) {
			execErr.Element = elemErr.Index
			execErr.Err = elemErr.Err
		}

		return nil, execErr
	}

	return values, nil
}

// bindInput applies the argument binding rules: a stage with no
// predecessors receives the run input, one predecessor passes its result
// through, and multiple predecessors arrive as a slice ordered like
// depends_on.
func bindInput(stage models.StageDefinition, runInput map[string]any, results map[string]any) any {
	switch len(stage.DependsOn) {
	case 0:
		return runInput
	case 1:
		return results[stage.DependsOn[0]]
	default:
		bound := make([]any, len(stage.DependsOn))
		for i, dep := range stage.DependsOn {
			bound[i] = results[dep]
		}

		return bound
	}
}

// fanOutSource picks the iterable a parameterized stage maps over: the
// map_on key of the run input when set, otherwise the bound predecessor
// input.
func fanOutSource(stage models.StageDefinition, runInput map[string]any, results map[string]any) ([]any, error) {
	if stage.MapOn != "" {
		value, ok := runInput[stage.MapOn]
		if !ok {
			return nil, fmt.Errorf("map_on key %q not present in run input", stage.MapOn)
		}

		return toSlice(value)
	}

	return toSlice(bindInput(stage, runInput, results))
}

func toSlice(value any) ([]any, error) {
	if value == nil {
		return nil, errors.New("fan-out input is nil, expected an iterable")
	}

	if elements, ok := value.([]any); ok {
		return elements, nil
	}

	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("fan-out input is %T, expected an iterable", value)
	}

	elements := make([]any, rv.Len())
	for i := range elements {
		elements[i] = rv.Index(i).Interface()
	}

	return elements, nil
}

// collectResult reduces the terminal stages' results to the run result: a
// single terminal passes its value through, multiple terminals produce a
// map keyed by stage name.
func collectResult(graph *dag.Graph, results map[string]any) any {
	terminals := graph.Terminals()

	if len(terminals) == 1 {
		return results[terminals[0]]
	}

	combined := make(map[string]any, len(terminals))
	for _, name := range terminals {
		combined[name] = results[name]
	}

	return combined
}
