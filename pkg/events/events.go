// Package events defines the lifecycle events published on the event bus.
// Condition trigger rules evaluate their expression trees against these.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topic is the bus topic all lifecycle events are published on.
const Topic = "stagehand.events"

const (
	ChannelWorkflows = "workflows"
	ChannelTriggers  = "triggers"
)

const (
	// WorkflowStartedEvent fires when a run leaves submission and starts
	// executing.
	WorkflowStartedEvent EventType = "workflow_started"
	// WorkflowFinishedEvent fires on every terminal transition, whatever
	// the final state, so fallback triggers can react to failures.
	WorkflowFinishedEvent EventType = "workflow_finished"
	// RunWorkflowEvent asks the coordinator to submit a new run. Trigger
	// actions publish this instead of calling the coordinator directly.
	RunWorkflowEvent EventType = "run_workflow"
	// TriggerFiredEvent records a rule dispatching its action, making
	// trigger chains observable.
	TriggerFiredEvent EventType = "trigger_fired"
)

// Event is the single wire shape for lifecycle notifications. Data carries
// the type-specific payload as a plain map so rule expressions can resolve
// dot-delimited paths into it.
type Event struct {
	ID            string         `json:"id"`
	Time          time.Time      `json:"time"`
	Channel       string         `json:"channel"`
	Source        string         `json:"source"`
	Type          EventType      `json:"type"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
}

func New(eventType EventType, channel, source string, data map[string]any) Event {
	return Event{
		ID:      uuid.New().String(),
		Time:    time.Now().UTC(),
		Channel: channel,
		Source:  source,
		Type:    eventType,
		Data:    data,
	}
}

// AsMap flattens the event for rule evaluation, so paths like "type" and
// "data.state" resolve naturally.
func (e Event) AsMap() map[string]any {
	return map[string]any{
		"id":             e.ID,
		"time":           e.Time.Format(time.RFC3339Nano),
		"channel":        e.Channel,
		"source":         e.Source,
		"type":           string(e.Type),
		"correlation_id": e.CorrelationID,
		"data":           e.Data,
	}
}
