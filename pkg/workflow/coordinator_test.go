package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagehq/stagehand/pkg/dag"
	"github.com/stagehq/stagehand/pkg/eventbus"
	"github.com/stagehq/stagehand/pkg/events"
	"github.com/stagehq/stagehand/pkg/executor"
	"github.com/stagehq/stagehand/pkg/log"
	"github.com/stagehq/stagehand/pkg/models"
	"github.com/stagehq/stagehand/pkg/registry"
)

// recordingBus captures published events and registered handlers without a
// real transport.
type recordingBus struct {
	mu       sync.Mutex
	events   []events.Event
	handlers map[events.EventType][]eventbus.EventHandler
}

func newRecordingBus() *recordingBus {
	return &recordingBus{handlers: make(map[events.EventType][]eventbus.EventHandler)}
}

func (b *recordingBus) Publish(_ context.Context, event events.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events = append(b.events, event)

	return nil
}

func (b *recordingBus) Handle(eventType events.EventType, handler eventbus.EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

func (b *recordingBus) HandleAll(eventbus.EventHandler) {}

func (b *recordingBus) Subscribe(context.Context) error { return nil }

func (b *recordingBus) published(eventType events.EventType) []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	var matched []events.Event

	for _, event := range b.events {
		if event.Type == eventType {
			matched = append(matched, event)
		}
	}

	return matched
}

type mapFetcher map[string]*models.WorkflowDefinition

func (f mapFetcher) WorkflowByName(_ context.Context, name string) (*models.WorkflowDefinition, error) {
	definition, ok := f[name]
	if !ok {
		return nil, errors.New("no such workflow")
	}

	return definition, nil
}

type fixture struct {
	coordinator *Coordinator
	registry    *registry.Registry
	bus         *recordingBus
	fetcher     mapFetcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	exec := executor.NewLocal(4)
	require.NoError(t, exec.Start(context.Background()))
	t.Cleanup(func() { _ = exec.Close(context.Background()) })

	reg := registry.New(log.Discard())
	bus := newRecordingBus()
	fetcher := mapFetcher{}

	coordinator := NewCoordinator(log.Discard(), reg, exec, bus, nil, fetcher, Config{})

	return &fixture{coordinator: coordinator, registry: reg, bus: bus, fetcher: fetcher}
}

func awaitRun(t *testing.T, f *fixture, handle *RunHandle) models.WorkflowRun {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	run, err := handle.Await(ctx)
	require.NoError(t, err)

	return run
}

func TestSubmit_LinearChain(t *testing.T) {
	f := newFixture(t)

	f.registry.Register("extract", func(_ context.Context, input any) (any, error) {
		params := input.(map[string]any)

		return params["base"].(int) + 1, nil
	})
	f.registry.Register("double", func(_ context.Context, input any) (any, error) {
		return input.(int) * 2, nil
	})

	definition := &models.WorkflowDefinition{
		Name: "linear",
		Stages: []models.StageDefinition{
			{Name: "first", Target: "extract"},
			{Name: "second", Target: "double", DependsOn: []string{"first"}},
		},
	}

	handle, err := f.coordinator.Submit(context.Background(), definition, SubmitOptions{
		Input: map[string]any{"base": 20},
	})
	require.NoError(t, err)

	run := awaitRun(t, f, handle)

	assert.Equal(t, models.RunStateCompleted, run.State)
	assert.Equal(t, 42, run.Result)
	assert.Empty(t, run.Error)
	assert.NotNil(t, run.FinishedAt)
}

func TestSubmit_ArgumentBinding(t *testing.T) {
	f := newFixture(t)

	var (
		mu     sync.Mutex
		inputs = map[string]any{}
	)

	record := func(stage string) registry.StageFunc {
		return func(_ context.Context, input any) (any, error) {
			mu.Lock()
			inputs[stage] = input
			mu.Unlock()

			return stage, nil
		}
	}

	f.registry.Register("rec-a", record("a"))
	f.registry.Register("rec-b", record("b"))
	f.registry.Register("rec-c", record("c"))
	f.registry.Register("rec-d", record("d"))

	definition := &models.WorkflowDefinition{
		Name: "binding",
		Stages: []models.StageDefinition{
			{Name: "a", Target: "rec-a"},
			{Name: "b", Target: "rec-b"},
			{Name: "c", Target: "rec-c", DependsOn: []string{"a"}},
			{Name: "d", Target: "rec-d", DependsOn: []string{"b", "a"}},
		},
	}

	runInput := map[string]any{"season": "spring"}

	handle, err := f.coordinator.Submit(context.Background(), definition, SubmitOptions{Input: runInput})
	require.NoError(t, err)

	run := awaitRun(t, f, handle)
	require.Equal(t, models.RunStateCompleted, run.State)

	// No predecessors: the run input. One predecessor: its result.
	// Multiple: a slice in depends_on order.
	assert.Equal(t, runInput, inputs["a"])
	assert.Equal(t, runInput, inputs["b"])
	assert.Equal(t, "a", inputs["c"])
	assert.Equal(t, []any{"b", "a"}, inputs["d"])
}

func TestSubmit_MultipleTerminalsProduceMap(t *testing.T) {
	f := newFixture(t)

	f.registry.Register("one", func(context.Context, any) (any, error) { return 1, nil })
	f.registry.Register("two", func(context.Context, any) (any, error) { return 2, nil })

	definition := &models.WorkflowDefinition{
		Name: "terminals",
		Stages: []models.StageDefinition{
			{Name: "left", Target: "one"},
			{Name: "right", Target: "two"},
		},
	}

	handle, err := f.coordinator.Submit(context.Background(), definition, SubmitOptions{})
	require.NoError(t, err)

	run := awaitRun(t, f, handle)
	assert.Equal(t, map[string]any{"left": 1, "right": 2}, run.Result)
}

func TestSubmit_FanOutPreservesSourceOrder(t *testing.T) {
	f := newFixture(t)

	f.registry.Register("scale", func(_ context.Context, input any) (any, error) {
		n := int(input.(float64))
		// Later elements finish first.
		time.Sleep(time.Duration(40-n) * 2 * time.Millisecond)

		return n * 10, nil
	})

	definition := &models.WorkflowDefinition{
		Name: "fanout",
		Stages: []models.StageDefinition{
			{Name: "scale_all", Target: "scale", Kind: models.StageKindParameterized, MapOn: "items"},
		},
	}

	handle, err := f.coordinator.Submit(context.Background(), definition, SubmitOptions{
		Input: map[string]any{"items": []any{float64(1), float64(2), float64(3)}},
	})
	require.NoError(t, err)

	run := awaitRun(t, f, handle)
	require.Equal(t, models.RunStateCompleted, run.State)
	assert.Equal(t, []any{10, 20, 30}, run.Result)
}

func TestSubmit_FanOutOverPredecessorResult(t *testing.T) {
	f := newFixture(t)

	f.registry.Register("produce", func(context.Context, any) (any, error) {
		return []any{"a", "b"}, nil
	})
	f.registry.Register("upper", func(_ context.Context, input any) (any, error) {
		return input.(string) + "!", nil
	})

	definition := &models.WorkflowDefinition{
		Name: "funnel",
		Stages: []models.StageDefinition{
			{Name: "src", Target: "produce"},
			{Name: "fan", Target: "upper", Kind: models.StageKindParameterized, DependsOn: []string{"src"}},
		},
	}

	handle, err := f.coordinator.Submit(context.Background(), definition, SubmitOptions{})
	require.NoError(t, err)

	run := awaitRun(t, f, handle)
	require.Equal(t, models.RunStateCompleted, run.State)
	assert.Equal(t, []any{"a!", "b!"}, run.Result)
}

func TestSubmit_FanOutEmptyIterable(t *testing.T) {
	f := newFixture(t)

	called := false

	f.registry.Register("never", func(context.Context, any) (any, error) {
		called = true

		return nil, nil
	})

	definition := &models.WorkflowDefinition{
		Name: "empty-fan",
		Stages: []models.StageDefinition{
			{Name: "fan", Target: "never", Kind: models.StageKindParameterized, MapOn: "items"},
		},
	}

	handle, err := f.coordinator.Submit(context.Background(), definition, SubmitOptions{
		Input: map[string]any{"items": []any{}},
	})
	require.NoError(t, err)

	run := awaitRun(t, f, handle)
	assert.Equal(t, models.RunStateCompleted, run.State)
	assert.Equal(t, []any{}, run.Result)
	assert.False(t, called)
}

func TestSubmit_FanOutRejectsNonIterable(t *testing.T) {
	f := newFixture(t)

	f.registry.Register("noop", func(context.Context, any) (any, error) { return nil, nil })

	definition := &models.WorkflowDefinition{
		Name: "bad-fan",
		Stages: []models.StageDefinition{
			{Name: "fan", Target: "noop", Kind: models.StageKindParameterized, MapOn: "items"},
		},
	}

	handle, err := f.coordinator.Submit(context.Background(), definition, SubmitOptions{
		Input: map[string]any{"items": "not-a-list"},
	})
	require.NoError(t, err)

	run := awaitRun(t, f, handle)
	assert.Equal(t, models.RunStateFailed, run.State)
	assert.Contains(t, run.Error, "fan")
	assert.Contains(t, run.Error, "iterable")
}

func TestSubmit_FanOutElementFailureNamesIndex(t *testing.T) {
	f := newFixture(t)

	f.registry.Register("picky", func(_ context.Context, input any) (any, error) {
		if input.(float64) == 2 {
			return nil, errors.New("bad element")
		}

		return input, nil
	})

	definition := &models.WorkflowDefinition{
		Name: "fan-fail",
		Stages: []models.StageDefinition{
			{Name: "fan", Target: "picky", Kind: models.StageKindParameterized, MapOn: "items"},
		},
	}

	handle, err := f.coordinator.Submit(context.Background(), definition, SubmitOptions{
		Input: map[string]any{"items": []any{float64(1), float64(2), float64(3)}},
	})
	require.NoError(t, err)

	run := awaitRun(t, f, handle)
	assert.Equal(t, models.RunStateFailed, run.State)
	assert.Contains(t, run.Error, "element 1")
	assert.Contains(t, run.Error, "bad element")
}

func TestSubmit_FailFastSkipsLaterLevels(t *testing.T) {
	f := newFixture(t)

	downstreamRan := false

	f.registry.Register("explode", func(context.Context, any) (any, error) {
		return nil, errors.New("kaboom")
	})
	f.registry.Register("downstream", func(context.Context, any) (any, error) {
		downstreamRan = true

		return nil, nil
	})

	definition := &models.WorkflowDefinition{
		Name: "failfast",
		Stages: []models.StageDefinition{
			{Name: "boom", Target: "explode"},
			{Name: "after", Target: "downstream", DependsOn: []string{"boom"}},
		},
	}

	handle, err := f.coordinator.Submit(context.Background(), definition, SubmitOptions{})
	require.NoError(t, err)

	run := awaitRun(t, f, handle)

	assert.Equal(t, models.RunStateFailed, run.State)
	assert.Contains(t, run.Error, "kaboom")
	assert.Contains(t, run.Error, `stage "boom"`)
	assert.NotNil(t, run.FinishedAt)
	assert.False(t, downstreamRan)
}

func TestSubmit_RunContextVisibleToStages(t *testing.T) {
	f := newFixture(t)

	var (
		mu   sync.Mutex
		seen []RunContext
	)

	f.registry.Register("observe", func(ctx context.Context, input any) (any, error) {
		rc, ok := FromContext(ctx)
		if !ok {
			return nil, errors.New("no run context")
		}

		mu.Lock()
		seen = append(seen, rc)
		mu.Unlock()

		return input, nil
	})

	definition := &models.WorkflowDefinition{
		Name: "observed",
		Stages: []models.StageDefinition{
			{Name: "solo", Target: "observe"},
			{Name: "fan", Target: "observe", Kind: models.StageKindParameterized, MapOn: "items", DependsOn: []string{"solo"}},
		},
	}

	handle, err := f.coordinator.Submit(context.Background(), definition, SubmitOptions{
		Namespace: "staging",
		Input:     map[string]any{"items": []any{"x", "y"}},
	})
	require.NoError(t, err)

	run := awaitRun(t, f, handle)
	require.Equal(t, models.RunStateCompleted, run.State)
	require.Len(t, seen, 3)

	elements := map[string][]int{}

	for _, rc := range seen {
		assert.Equal(t, "staging", rc.Namespace)
		assert.Equal(t, "observed", rc.Run.Workflow)
		assert.Equal(t, "local", rc.ExecutorKind)
		elements[rc.Stage] = append(elements[rc.Stage], rc.Element)
	}

	assert.Equal(t, []int{-1}, elements["solo"])
	assert.ElementsMatch(t, []int{0, 1}, elements["fan"])
}

func TestSubmit_StructuralErrorsPrecedeRunCreation(t *testing.T) {
	f := newFixture(t)
	f.registry.Register("ok", func(context.Context, any) (any, error) { return nil, nil })

	t.Run("unresolvable target", func(t *testing.T) {
		definition := &models.WorkflowDefinition{
			Name:   "unresolved",
			Stages: []models.StageDefinition{{Name: "a", Target: "nope"}},
		}

		_, err := f.coordinator.Submit(context.Background(), definition, SubmitOptions{})

		var resolutionErr *registry.ResolutionError
		require.ErrorAs(t, err, &resolutionErr)
		assert.Equal(t, "nope", resolutionErr.Target)
	})

	t.Run("cyclic graph", func(t *testing.T) {
		definition := &models.WorkflowDefinition{
			Name: "cycle",
			Stages: []models.StageDefinition{
				{Name: "a", Target: "ok", DependsOn: []string{"b"}},
				{Name: "b", Target: "ok", DependsOn: []string{"a"}},
			},
		}

		_, err := f.coordinator.Submit(context.Background(), definition, SubmitOptions{})

		var validationErr *dag.ValidationError
		require.ErrorAs(t, err, &validationErr)
	})

	t.Run("empty definition", func(t *testing.T) {
		_, err := f.coordinator.Submit(context.Background(), &models.WorkflowDefinition{Name: "bare"}, SubmitOptions{})
		require.Error(t, err)
	})

	assert.Empty(t, f.coordinator.Runs(), "no run record for rejected submissions")
	assert.Empty(t, f.bus.published(events.WorkflowStartedEvent))
}

func TestSubmit_RejectedWhenExecutorUnhealthy(t *testing.T) {
	f := newFixture(t)
	f.registry.Register("ok", func(context.Context, any) (any, error) { return nil, nil })

	f.coordinator.config.Healthy = func() bool { return false }

	definition := &models.WorkflowDefinition{
		Name:   "blocked",
		Stages: []models.StageDefinition{{Name: "a", Target: "ok"}},
	}

	_, err := f.coordinator.Submit(context.Background(), definition, SubmitOptions{})
	assert.ErrorIs(t, err, ErrExecutorUnhealthy)
	assert.Empty(t, f.coordinator.Runs())
}

func TestCancel_StopsScheduling(t *testing.T) {
	f := newFixture(t)

	started := make(chan struct{})
	secondRan := false

	f.registry.Register("block", func(ctx context.Context, _ any) (any, error) {
		close(started)
		<-ctx.Done()

		return nil, ctx.Err()
	})
	f.registry.Register("later", func(context.Context, any) (any, error) {
		secondRan = true

		return nil, nil
	})

	definition := &models.WorkflowDefinition{
		Name: "cancellable",
		Stages: []models.StageDefinition{
			{Name: "wait", Target: "block"},
			{Name: "next", Target: "later", DependsOn: []string{"wait"}},
		},
	}

	handle, err := f.coordinator.Submit(context.Background(), definition, SubmitOptions{})
	require.NoError(t, err)

	<-started
	require.NoError(t, f.coordinator.Cancel(handle.UID()))

	run := awaitRun(t, f, handle)

	assert.Equal(t, models.RunStateCancelled, run.State)
	assert.False(t, secondRan)

	// Cancelling again reports the run as finished.
	assert.ErrorIs(t, f.coordinator.Cancel(handle.UID()), ErrRunFinished)
	assert.ErrorIs(t, f.coordinator.Cancel("unknown-uid"), ErrRunNotFound)
}

func TestSubmit_RunTimeout(t *testing.T) {
	f := newFixture(t)

	f.registry.Register("slow", func(ctx context.Context, _ any) (any, error) {
		select {
		case <-time.After(5 * time.Second):
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	definition := &models.WorkflowDefinition{
		Name:   "deadline",
		Stages: []models.StageDefinition{{Name: "slow", Target: "slow"}},
	}

	handle, err := f.coordinator.Submit(context.Background(), definition, SubmitOptions{
		RunTimeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)

	run := awaitRun(t, f, handle)

	assert.Equal(t, models.RunStateFailed, run.State)
	assert.Contains(t, run.Error, "deadline")
}

func TestSubmit_StageTimeoutFailsRun(t *testing.T) {
	f := newFixture(t)

	f.registry.Register("sluggish", func(ctx context.Context, _ any) (any, error) {
		select {
		case <-time.After(5 * time.Second):
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	definition := &models.WorkflowDefinition{
		Name:   "stage-deadline",
		Stages: []models.StageDefinition{{Name: "slow", Target: "sluggish"}},
	}

	handle, err := f.coordinator.Submit(context.Background(), definition, SubmitOptions{
		StageTimeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)

	run := awaitRun(t, f, handle)

	assert.Equal(t, models.RunStateFailed, run.State)
	assert.Contains(t, run.Error, `stage "slow"`)
}

func TestSubmit_PublishesLifecycleEvents(t *testing.T) {
	f := newFixture(t)

	f.registry.Register("quick", func(context.Context, any) (any, error) { return "done", nil })

	definition := &models.WorkflowDefinition{
		Name:   "evented",
		Stages: []models.StageDefinition{{Name: "only", Target: "quick"}},
	}

	handle, err := f.coordinator.Submit(context.Background(), definition, SubmitOptions{
		Source: models.RunSourceAPI,
	})
	require.NoError(t, err)

	run := awaitRun(t, f, handle)

	started := f.bus.published(events.WorkflowStartedEvent)
	require.Len(t, started, 1)
	assert.Equal(t, run.UID, started[0].CorrelationID)
	assert.Equal(t, "evented", started[0].Data["workflow"])
	assert.Equal(t, "api", started[0].Data["source"])

	// The terminal event is published after the handle unblocks.
	require.Eventually(t, func() bool {
		return len(f.bus.published(events.WorkflowFinishedEvent)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	finished := f.bus.published(events.WorkflowFinishedEvent)
	assert.Equal(t, "completed", finished[0].Data["state"])
	assert.Equal(t, "done", finished[0].Data["result"])
}

func TestSubmit_FinishedEventOnFailure(t *testing.T) {
	f := newFixture(t)

	f.registry.Register("nope", func(context.Context, any) (any, error) {
		return nil, errors.New("always fails")
	})

	definition := &models.WorkflowDefinition{
		Name:   "doomed",
		Stages: []models.StageDefinition{{Name: "only", Target: "nope"}},
	}

	handle, err := f.coordinator.Submit(context.Background(), definition, SubmitOptions{})
	require.NoError(t, err)
	awaitRun(t, f, handle)

	require.Eventually(t, func() bool {
		return len(f.bus.published(events.WorkflowFinishedEvent)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	finished := f.bus.published(events.WorkflowFinishedEvent)
	assert.Equal(t, "failed", finished[0].Data["state"])
	assert.Contains(t, finished[0].Data["error"], "always fails")
}

func TestSubmitByName_UsesFetcher(t *testing.T) {
	f := newFixture(t)

	f.registry.Register("quick", func(context.Context, any) (any, error) { return 7, nil })
	f.fetcher["stored"] = &models.WorkflowDefinition{
		Name:   "stored",
		Stages: []models.StageDefinition{{Name: "only", Target: "quick"}},
	}

	handle, err := f.coordinator.SubmitByName(context.Background(), "stored", SubmitOptions{})
	require.NoError(t, err)

	run := awaitRun(t, f, handle)
	assert.Equal(t, 7, run.Result)

	_, err = f.coordinator.SubmitByName(context.Background(), "absent", SubmitOptions{})
	assert.Error(t, err)
}

func TestRunWorkflowEventStartsRun(t *testing.T) {
	f := newFixture(t)

	f.registry.Register("quick", func(context.Context, any) (any, error) { return nil, nil })
	f.fetcher["from-event"] = &models.WorkflowDefinition{
		Name:   "from-event",
		Stages: []models.StageDefinition{{Name: "only", Target: "quick"}},
	}

	f.coordinator.RegisterEventHandlers(f.bus)

	handlers := f.bus.handlers[events.RunWorkflowEvent]
	require.Len(t, handlers, 1)

	event := events.NewRunWorkflow("from-event", map[string]any{"k": "v"}, "ns", "corr-1", models.RunSourceTrigger)
	require.NoError(t, handlers[0](context.Background(), event))

	runs := f.coordinator.Runs()
	require.Len(t, runs, 1)
	assert.Equal(t, "from-event", runs[0].Workflow)
	assert.Equal(t, models.RunSourceTrigger, runs[0].Source)
	assert.Equal(t, "ns", runs[0].Namespace)

	// Unknown workflow surfaces the error to the bus for redelivery.
	bad := events.NewRunWorkflow("ghost", nil, "", "corr-2", models.RunSourceTrigger)
	assert.Error(t, handlers[0](context.Background(), bad))
}

func TestRunWorkflowEventFromScheduleIsScheduleSourced(t *testing.T) {
	f := newFixture(t)

	f.registry.Register("quick", func(context.Context, any) (any, error) { return nil, nil })
	f.fetcher["nightly"] = &models.WorkflowDefinition{
		Name:   "nightly",
		Stages: []models.StageDefinition{{Name: "only", Target: "quick"}},
	}

	f.coordinator.RegisterEventHandlers(f.bus)
	handlers := f.bus.handlers[events.RunWorkflowEvent]
	require.Len(t, handlers, 1)

	event := events.NewRunWorkflow("nightly", nil, "", "corr-9", models.RunSourceSchedule)
	require.NoError(t, handlers[0](context.Background(), event))

	runs := f.coordinator.Runs()
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunSourceSchedule, runs[0].Source)

	// Requests without a source keep the trigger default.
	legacy := events.NewRunWorkflow("nightly", nil, "", "corr-10", "")
	require.NoError(t, handlers[0](context.Background(), legacy))

	sources := make(map[models.RunSource]int)
	for _, run := range f.coordinator.Runs() {
		sources[run.Source]++
	}

	assert.Equal(t, map[models.RunSource]int{models.RunSourceSchedule: 1, models.RunSourceTrigger: 1}, sources)
}

func TestGetRunAndAwait(t *testing.T) {
	f := newFixture(t)

	f.registry.Register("quick", func(context.Context, any) (any, error) { return nil, nil })

	definition := &models.WorkflowDefinition{
		Name:   "lookup",
		Stages: []models.StageDefinition{{Name: "only", Target: "quick"}},
	}

	handle, err := f.coordinator.Submit(context.Background(), definition, SubmitOptions{})
	require.NoError(t, err)

	run, err := f.coordinator.Await(context.Background(), handle.UID())
	require.NoError(t, err)
	assert.Equal(t, models.RunStateCompleted, run.State)

	snapshot, err := f.coordinator.GetRun(handle.UID())
	require.NoError(t, err)
	assert.Equal(t, run.UID, snapshot.UID)

	_, err = f.coordinator.GetRun("missing")
	assert.ErrorIs(t, err, ErrRunNotFound)

	_, err = f.coordinator.Await(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestTerminalRunsRotateOutOfMemory(t *testing.T) {
	exec := executor.NewLocal(4)
	require.NoError(t, exec.Start(context.Background()))
	t.Cleanup(func() { _ = exec.Close(context.Background()) })

	reg := registry.New(log.Discard())
	reg.Register("quick", func(context.Context, any) (any, error) { return nil, nil })

	bus := newRecordingBus()
	coordinator := NewCoordinator(log.Discard(), reg, exec, bus, nil, nil, Config{RetainRuns: 2})

	definition := &models.WorkflowDefinition{
		Name:   "churn",
		Stages: []models.StageDefinition{{Name: "only", Target: "quick"}},
	}

	var uids []string

	for range 3 {
		handle, err := coordinator.Submit(context.Background(), definition, SubmitOptions{})
		require.NoError(t, err)

		uids = append(uids, handle.UID())

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, err = handle.Await(ctx)

		cancel()
		require.NoError(t, err)
	}

	// Retirement happens just after the terminal transition is announced.
	require.Eventually(t, func() bool {
		_, err := coordinator.GetRun(uids[0])

		return errors.Is(err, ErrRunNotFound)
	}, 2*time.Second, 10*time.Millisecond, "oldest terminal run should be evicted")

	for _, uid := range uids[1:] {
		_, err := coordinator.GetRun(uid)
		assert.NoError(t, err, uid)
	}

	assert.Len(t, coordinator.Runs(), 2)
}
