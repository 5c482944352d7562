// Package file provides file-based persistence: each record is one JSON
// document under a per-kind subdirectory of the root.
package file

import (
	"context"
	"os"
	"strings"

	"github.com/stagehq/stagehand/pkg/models"
	"github.com/stagehq/stagehand/pkg/persistence"
)

// Persistence implements persistence.Persistence on the file system.
type Persistence struct {
	root      string
	workflows *repository[models.WorkflowDefinition]
	triggers  *repository[models.TriggerRule]
	runs      *repository[models.WorkflowRun]
}

// NewPersistence creates a file store rooted at the given directory. A
// "file://" prefix is accepted and stripped.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:      cleanRoot,
		workflows: newRepository[models.WorkflowDefinition](cleanRoot, "workflows"),
		triggers:  newRepository[models.TriggerRule](cleanRoot, "triggers"),
		runs:      newRepository[models.WorkflowRun](cleanRoot, "runs"),
	}
}

func (fp *Persistence) Workflows(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	return fp.workflows.All(ctx)
}

func (fp *Persistence) SaveWorkflow(ctx context.Context, workflow *models.WorkflowDefinition) error {
	now := nowUTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	return fp.workflows.Save(ctx, workflow.Name, workflow)
}

func (fp *Persistence) WorkflowByName(ctx context.Context, name string) (*models.WorkflowDefinition, error) {
	workflow, err := fp.workflows.Get(ctx, name)
	if err != nil {
		return nil, persistence.NewStoreError("WorkflowByName", name, persistence.ErrWorkflowNotFound)
	}

	return workflow, nil
}

func (fp *Persistence) DeleteWorkflow(ctx context.Context, name string) error {
	return fp.workflows.Delete(ctx, name)
}

func (fp *Persistence) Triggers(ctx context.Context) ([]*models.TriggerRule, error) {
	return fp.triggers.All(ctx)
}

func (fp *Persistence) SaveTrigger(ctx context.Context, rule *models.TriggerRule) error {
	now := nowUTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}

	rule.UpdatedAt = now

	return fp.triggers.Save(ctx, rule.Name, rule)
}

func (fp *Persistence) TriggerByName(ctx context.Context, name string) (*models.TriggerRule, error) {
	rule, err := fp.triggers.Get(ctx, name)
	if err != nil {
		return nil, persistence.NewStoreError("TriggerByName", name, persistence.ErrTriggerNotFound)
	}

	return rule, nil
}

func (fp *Persistence) DeleteTrigger(ctx context.Context, name string) error {
	return fp.triggers.Delete(ctx, name)
}

func (fp *Persistence) Runs(ctx context.Context) ([]*models.WorkflowRun, error) {
	return fp.runs.All(ctx)
}

func (fp *Persistence) SaveRun(ctx context.Context, run *models.WorkflowRun) error {
	return fp.runs.Save(ctx, run.UID, run)
}

func (fp *Persistence) RunByUID(ctx context.Context, uid string) (*models.WorkflowRun, error) {
	run, err := fp.runs.Get(ctx, uid)
	if err != nil {
		return nil, persistence.NewStoreError("RunByUID", uid, persistence.ErrRunNotFound)
	}

	return run, nil
}

// HealthCheck verifies the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// Close performs any necessary cleanup. For file-based persistence there is
// nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}
