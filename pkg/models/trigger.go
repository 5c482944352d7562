package models

import "time"

// TriggerRuleType distinguishes reactive condition rules from cron schedules.
type TriggerRuleType string

const (
	TriggerRuleCondition TriggerRuleType = "condition"
	TriggerRuleSchedule  TriggerRuleType = "schedule"
)

// TriggerAction is what a rule does when it fires. Target names a registered
// action, currently "run_workflow" or "print_event".
type TriggerAction struct {
	Target     string         `json:"target"               yaml:"target"     validate:"required"`
	Parameters map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// TriggerRule is a reactive rule: a condition expression tree evaluated
// against every published event, or a list of cron schedules evaluated on
// minute ticks. Rules stay active until deleted.
type TriggerRule struct {
	Name        string          `json:"name"                  yaml:"name" validate:"required,min=3"`
	Description string          `json:"description,omitempty" yaml:"description,omitempty"`
	Type        TriggerRuleType `json:"type"                  yaml:"type" validate:"required,oneof=condition schedule"`
	// Rule holds the condition expression tree for condition rules. The
	// shape is the DSL document, e.g. {"and": [{"eq": [{"var": "type"}, "x"]}]}.
	Rule map[string]any `json:"rule,omitempty" yaml:"rule,omitempty"`
	// Schedules holds the 5-field cron expressions for schedule rules.
	Schedules []string      `json:"schedules,omitempty" yaml:"schedules,omitempty"`
	Action    TriggerAction `json:"action"              yaml:"action" validate:"required"`
	CreatedAt time.Time     `json:"created_at,omitzero" yaml:"created_at,omitempty"`
	UpdatedAt time.Time     `json:"updated_at,omitzero" yaml:"updated_at,omitempty"`
}
