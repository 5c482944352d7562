// Package persistence provides the storage abstraction for workflow
// definitions, trigger rules and run records.
package persistence

import (
	"context"

	"github.com/stagehq/stagehand/pkg/models"
)

type Persistence interface {
	Workflows(ctx context.Context) ([]*models.WorkflowDefinition, error)
	SaveWorkflow(ctx context.Context, workflow *models.WorkflowDefinition) error
	WorkflowByName(ctx context.Context, name string) (*models.WorkflowDefinition, error)
	DeleteWorkflow(ctx context.Context, name string) error

	Triggers(ctx context.Context) ([]*models.TriggerRule, error)
	SaveTrigger(ctx context.Context, rule *models.TriggerRule) error
	TriggerByName(ctx context.Context, name string) (*models.TriggerRule, error)
	DeleteTrigger(ctx context.Context, name string) error

	Runs(ctx context.Context) ([]*models.WorkflowRun, error)
	SaveRun(ctx context.Context, run *models.WorkflowRun) error
	RunByUID(ctx context.Context, uid string) (*models.WorkflowRun, error)

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
