package events

import (
	"github.com/stagehq/stagehand/pkg/models"
)

// NewWorkflowStarted announces a run entering execution.
func NewWorkflowStarted(run *models.WorkflowRun) Event {
	event := New(WorkflowStartedEvent, ChannelWorkflows, "coordinator", map[string]any{
		"workflow":  run.Workflow,
		"run_uid":   run.UID,
		"run_name":  run.Name,
		"namespace": run.Namespace,
		"source":    string(run.Source),
		"state":     string(run.State),
	})
	event.CorrelationID = run.UID

	return event
}

// NewWorkflowFinished announces a terminal transition. Emitted for every
// terminal state including failed and cancelled.
func NewWorkflowFinished(run *models.WorkflowRun) Event {
	data := map[string]any{
		"workflow":    run.Workflow,
		"run_uid":     run.UID,
		"run_name":    run.Name,
		"namespace":   run.Namespace,
		"source":      string(run.Source),
		"state":       string(run.State),
		"duration_ms": run.Duration().Milliseconds(),
	}

	if run.Result != nil {
		data["result"] = run.Result
	}

	if run.Error != "" {
		data["error"] = run.Error
	}

	event := New(WorkflowFinishedEvent, ChannelWorkflows, "coordinator", data)
	event.CorrelationID = run.UID

	return event
}

// NewRunWorkflow requests a new run for the named workflow. Source records
// what kind of firing asked for the run, so the coordinator can stamp it
// on the run it creates.
func NewRunWorkflow(workflow string, input map[string]any, namespace, correlationID string, source models.RunSource) Event {
	event := New(RunWorkflowEvent, ChannelWorkflows, "trigger", map[string]any{
		"workflow":  workflow,
		"input":     input,
		"namespace": namespace,
		"source":    string(source),
	})
	event.CorrelationID = correlationID

	return event
}

// NewTriggerFired records a rule dispatching its action.
func NewTriggerFired(rule string, correlationID string) Event {
	event := New(TriggerFiredEvent, ChannelTriggers, "trigger_engine", map[string]any{
		"rule": rule,
	})
	event.CorrelationID = correlationID

	return event
}
