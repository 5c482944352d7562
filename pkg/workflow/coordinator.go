// Package workflow contains the execution coordinator: it compiles a
// workflow definition into a stage graph, dispatches stages level by level
// on an executor, and tracks every run from submission to its terminal
// state.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/stagehq/stagehand/pkg/dag"
	"github.com/stagehq/stagehand/pkg/eventbus"
	"github.com/stagehq/stagehand/pkg/events"
	"github.com/stagehq/stagehand/pkg/executor"
	"github.com/stagehq/stagehand/pkg/models"
	"github.com/stagehq/stagehand/pkg/otelhelper"
	"github.com/stagehq/stagehand/pkg/registry"
)

const DefaultNamespace = "default"

// defaultRetainRuns bounds how many terminal runs stay queryable in memory
// when Config.RetainRuns is zero.
const defaultRetainRuns = 1024

// DefinitionFetcher resolves a workflow name to its stored definition, for
// submissions that arrive by name (API calls, run_workflow events).
type DefinitionFetcher interface {
	WorkflowByName(ctx context.Context, name string) (*models.WorkflowDefinition, error)
}

// SubmitOptions qualifies one submission. Zero values fall back to the
// coordinator defaults.
type SubmitOptions struct {
	Namespace string
	Input     map[string]any
	Source    models.RunSource

	// RunTimeout bounds the whole run; StageTimeout bounds each stage
	// invocation. Zero means use the coordinator default, negative means
	// no limit.
	RunTimeout   time.Duration
	StageTimeout time.Duration
}

type Config struct {
	Namespace    string
	RunTimeout   time.Duration
	StageTimeout time.Duration

	// RetainRuns caps how many terminal runs the coordinator keeps in
	// memory, oldest-finished evicted first. Zero means the default cap,
	// negative means unlimited. Evicted runs are still served from
	// persistence by the API layer.
	RetainRuns int

	// Healthy reports whether the executor connection is usable, typically
	// backed by the executor monitor. Nil means always healthy. Transient
	// connectivity loss degrades health without failing submissions; only
	// an exhausted retry budget reports false here.
	Healthy func() bool
}

type Coordinator struct {
	logger   *slog.Logger
	registry *registry.Registry
	executor executor.Executor
	bus      eventbus.EventPublisher
	tracer   trace.Tracer
	fetcher  DefinitionFetcher
	config   Config

	mu   sync.RWMutex
	runs map[string]*RunHandle
	// terminal orders finished run UIDs for retention eviction.
	terminal []string
}

func NewCoordinator(
	logger *slog.Logger,
	reg *registry.Registry,
	exec executor.Executor,
	bus eventbus.EventPublisher,
	tracer trace.Tracer,
	fetcher DefinitionFetcher,
	config Config,
) *Coordinator {
	if config.Namespace == "" {
		config.Namespace = DefaultNamespace
	}

	if tracer == nil {
		tracer = otelhelper.NoopTracer()
	}

	return &Coordinator{
		logger:   logger.With("module", "coordinator"),
		registry: reg,
		executor: exec,
		bus:      bus,
		tracer:   tracer,
		fetcher:  fetcher,
		config:   config,
		runs:     make(map[string]*RunHandle),
	}
}

// RegisterEventHandlers subscribes the coordinator to run_workflow
// requests, so triggers and remote services can start runs over the bus.
func (c *Coordinator) RegisterEventHandlers(subscriber eventbus.EventSubscriber) {
	subscriber.Handle(events.RunWorkflowEvent, c.handleRunWorkflow)
}

func (c *Coordinator) handleRunWorkflow(ctx context.Context, event events.Event) error {
	name, _ := event.Data["workflow"].(string)
	if name == "" {
		return fmt.Errorf("run_workflow event %s carries no workflow name", event.ID)
	}

	opts := SubmitOptions{Source: models.RunSourceTrigger}

	// Schedule-rule firings carry their source so the run is labeled
	// "schedule" rather than "trigger".
	if source, ok := event.Data["source"].(string); ok && source != "" {
		opts.Source = models.RunSource(source)
	}

	if namespace, ok := event.Data["namespace"].(string); ok {
		opts.Namespace = namespace
	}

	if input, ok := event.Data["input"].(map[string]any); ok {
		opts.Input = input
	}

	handle, err := c.SubmitByName(ctx, name, opts)
	if err != nil {
		c.logger.Error("Rejected run_workflow request",
			"workflow", name, "event_id", event.ID, "error", err)

		return err
	}

	c.logger.Info("Started workflow from event",
		"workflow", name, "run_uid", handle.UID(), "event_id", event.ID)

	return nil
}

// SubmitByName fetches the stored definition and submits it.
func (c *Coordinator) SubmitByName(ctx context.Context, name string, opts SubmitOptions) (*RunHandle, error) {
	if c.fetcher == nil {
		return nil, fmt.Errorf("no definition store configured, cannot submit %q by name", name)
	}

	definition, err := c.fetcher.WorkflowByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("fetching workflow %q: %w", name, err)
	}

	return c.Submit(ctx, definition, opts)
}

// Submit validates, compiles and resolves the definition, then starts the
// run asynchronously. All structural errors (invalid graph, unresolvable
// targets) surface here, before a run record exists; once Submit returns a
// handle the run is underway.
func (c *Coordinator) Submit(ctx context.Context, definition *models.WorkflowDefinition, opts SubmitOptions) (*RunHandle, error) {
	if err := definition.Validate(); err != nil {
		return nil, err
	}

	graph, err := dag.Compile(definition)
	if err != nil {
		return nil, err
	}

	targets, err := c.resolveTargets(definition)
	if err != nil {
		return nil, err
	}

	if !c.executor.Running() {
		return nil, executor.ErrNotRunning
	}

	if c.config.Healthy != nil && !c.config.Healthy() {
		return nil, ErrExecutorUnhealthy
	}

	namespace := opts.Namespace
	if namespace == "" {
		namespace = c.config.Namespace
	}

	source := opts.Source
	if source == "" {
		source = models.RunSourceManual
	}

	run := models.NewWorkflowRun(definition.Name, namespace, opts.Input, source)

	// The run outlives the submission call, so it detaches from the
	// caller's context. The handle owns cancellation.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	handle := newRunHandle(run, cancel)

	c.mu.Lock()
	c.runs[run.UID] = handle
	c.mu.Unlock()

	if err := c.bus.Publish(ctx, events.NewWorkflowStarted(run)); err != nil {
		c.logger.Warn("Failed to publish workflow_started",
			"run_uid", run.UID, "error", err)
	}

	c.logger.Info("Submitted workflow run",
		"workflow", definition.Name, "run_uid", run.UID,
		"namespace", namespace, "source", string(source),
		"stages", len(definition.Stages), "levels", len(graph.Levels))

	go c.execute(runCtx, handle, definition, graph, targets, opts)

	return handle, nil
}

// resolveTargets resolves every stage target up front. A workflow with any
// unresolvable target never starts.
func (c *Coordinator) resolveTargets(definition *models.WorkflowDefinition) (map[string]registry.StageFunc, error) {
	targets := make(map[string]registry.StageFunc, len(definition.Stages))

	for _, stage := range definition.Stages {
		fn, err := c.registry.Resolve(stage.Target)
		if err != nil {
			return nil, err
		}

		targets[stage.Name] = fn
	}

	return targets, nil
}

// GetRun returns a snapshot of a run in any state.
func (c *Coordinator) GetRun(uid string) (models.WorkflowRun, error) {
	c.mu.RLock()
	handle, ok := c.runs[uid]
	c.mu.RUnlock()

	if !ok {
		return models.WorkflowRun{}, ErrRunNotFound
	}

	return handle.Snapshot(), nil
}

// Await blocks until the run is terminal or ctx expires.
func (c *Coordinator) Await(ctx context.Context, uid string) (models.WorkflowRun, error) {
	c.mu.RLock()
	handle, ok := c.runs[uid]
	c.mu.RUnlock()

	if !ok {
		return models.WorkflowRun{}, ErrRunNotFound
	}

	return handle.Await(ctx)
}

// Cancel requests cooperative cancellation of a running run. Stages already
// dispatched run to completion but their results are discarded; no further
// stages are scheduled.
func (c *Coordinator) Cancel(uid string) error {
	c.mu.RLock()
	handle, ok := c.runs[uid]
	c.mu.RUnlock()

	if !ok {
		return ErrRunNotFound
	}

	if handle.Snapshot().State.Terminal() {
		return ErrRunFinished
	}

	handle.Cancel()
	c.logger.Info("Cancellation requested", "run_uid", uid)

	return nil
}

// Runs lists snapshots of all known runs, newest first.
func (c *Coordinator) Runs() []models.WorkflowRun {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snapshots := make([]models.WorkflowRun, 0, len(c.runs))
	for _, handle := range c.runs {
		snapshots = append(snapshots, handle.Snapshot())
	}

	return snapshots
}

func (c *Coordinator) finishRun(handle *RunHandle, state models.RunState, result any, cause error) {
	handle.finish(func(run *models.WorkflowRun) {
		run.SetFinished(state, result, cause)
	})

	snapshot := handle.Snapshot()

	// The run context may already be cancelled here, so the terminal
	// event publishes on a fresh context.
	publishCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.bus.Publish(publishCtx, events.NewWorkflowFinished(&snapshot)); err != nil {
		c.logger.Warn("Failed to publish workflow_finished",
			"run_uid", snapshot.UID, "error", err)
	}

	logger := c.logger.With(
		"run_uid", snapshot.UID,
		"workflow", snapshot.Workflow,
		"state", string(snapshot.State),
		"duration", snapshot.Duration().String(),
	)

	if cause != nil {
		logger.Error("Workflow run finished", "error", cause)
	} else {
		logger.Info("Workflow run finished")
	}

	c.retireRun(snapshot.UID)
}

// retireRun enrolls a finished run in the retention window and evicts the
// oldest terminal handles beyond it. Running handles are never evicted.
func (c *Coordinator) retireRun(uid string) {
	retain := c.config.RetainRuns
	if retain < 0 {
		return
	}

	if retain == 0 {
		retain = defaultRetainRuns
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.terminal = append(c.terminal, uid)

	for len(c.terminal) > retain {
		delete(c.runs, c.terminal[0])
		c.terminal = c.terminal[1:]
	}
}

func runAttributes(run models.WorkflowRun) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(otelhelper.WorkflowNameKey, run.Workflow),
		attribute.String(otelhelper.RunUIDKey, run.UID),
		attribute.String(otelhelper.NamespaceKey, run.Namespace),
	}
}
