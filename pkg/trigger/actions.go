package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/stagehq/stagehand/pkg/eventbus"
	"github.com/stagehq/stagehand/pkg/events"
	"github.com/stagehq/stagehand/pkg/models"
)

const (
	ActionRunWorkflow = "run_workflow"
	ActionPrintEvent  = "print_event"
)

var ErrUnknownAction = errors.New("unknown trigger action")

// Firing describes the rule activation an action runs on behalf of: the
// correlation id tying the action back to the triggering event, and the
// run source the firing rule implies (schedule rules launch "schedule"
// runs, condition rules launch "trigger" runs).
type Firing struct {
	CorrelationID string
	Source        models.RunSource
}

// ActionFunc executes one fired action. Parameters come from the rule
// definition.
type ActionFunc func(ctx context.Context, params map[string]any, firing Firing) error

// Dispatcher maps action targets to their implementations. The built-in
// actions publish over the event bus rather than calling the coordinator
// directly, so fired actions survive in a distributed deployment.
type Dispatcher struct {
	logger  *slog.Logger
	actions map[string]ActionFunc
}

func NewDispatcher(logger *slog.Logger, publisher eventbus.EventPublisher) *Dispatcher {
	d := &Dispatcher{
		logger:  logger.With("module", "trigger_actions"),
		actions: make(map[string]ActionFunc),
	}

	d.actions[ActionRunWorkflow] = d.runWorkflow(publisher)
	d.actions[ActionPrintEvent] = d.printEvent

	return d
}

// RegisterAction adds or replaces a custom action target.
func (d *Dispatcher) RegisterAction(target string, fn ActionFunc) {
	d.actions[target] = fn
}

func (d *Dispatcher) Dispatch(ctx context.Context, action models.TriggerAction, firing Firing) error {
	fn, ok := d.actions[action.Target]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAction, action.Target)
	}

	return fn(ctx, action.Parameters, firing)
}

// runWorkflow publishes a run_workflow request for the workflow named in
// the rule's parameters.
func (d *Dispatcher) runWorkflow(publisher eventbus.EventPublisher) ActionFunc {
	return func(ctx context.Context, params map[string]any, firing Firing) error {
		workflow, _ := params["workflow"].(string)
		if workflow == "" {
			return errors.New("run_workflow action requires a workflow parameter")
		}

		namespace, _ := params["namespace"].(string)
		input, _ := params["input"].(map[string]any)

		return publisher.Publish(ctx, events.NewRunWorkflow(workflow, input, namespace, firing.CorrelationID, firing.Source))
	}
}

// printEvent logs the firing. Useful for trying out a rule body before
// pointing it at a workflow.
func (d *Dispatcher) printEvent(_ context.Context, params map[string]any, firing Firing) error {
	d.logger.Info("Trigger fired", "correlation_id", firing.CorrelationID, "parameters", params)

	return nil
}
