package models

import (
	"errors"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

var (
	ErrConditionRuleBody = errors.New("condition rule requires a rule expression body")
	ErrScheduleRuleBody  = errors.New("schedule rule requires at least one cron expression")
)

// Validate checks the definition's field constraints. Structural graph
// checks (duplicate names, dangling depends_on, cycles) are the DAG
// compiler's job.
func (w *WorkflowDefinition) Validate() error {
	return validate.Struct(w)
}

// Validate checks field constraints and that the rule body matches the
// rule type. Cron expression syntax is validated where the schedules are
// parsed, at registration time.
func (t *TriggerRule) Validate() error {
	if err := validate.Struct(t); err != nil {
		return err
	}

	switch t.Type {
	case TriggerRuleCondition:
		if len(t.Rule) == 0 {
			return ErrConditionRuleBody
		}
	case TriggerRuleSchedule:
		if len(t.Schedules) == 0 {
			return ErrScheduleRuleBody
		}
	}

	return nil
}
