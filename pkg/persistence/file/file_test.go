package file

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagehq/stagehand/pkg/models"
	"github.com/stagehq/stagehand/pkg/persistence"
)

func sampleWorkflow(name string) *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		Name: name,
		Stages: []models.StageDefinition{
			{Name: "only", Target: "echo"},
		},
	}
}

func sampleTrigger(name string) *models.TriggerRule {
	return &models.TriggerRule{
		Name:      name,
		Type:      models.TriggerRuleSchedule,
		Schedules: []string{"0 3 * * *"},
		Action: models.TriggerAction{
			Target:     "run_workflow",
			Parameters: map[string]any{"workflow": "nightly"},
		},
	}
}

func TestWorkflowRoundTrip(t *testing.T) {
	store := NewPersistence(t.TempDir())
	ctx := context.Background()

	workflow := sampleWorkflow("etl-pipeline")
	require.NoError(t, store.SaveWorkflow(ctx, workflow))

	got, err := store.WorkflowByName(ctx, "etl-pipeline")
	require.NoError(t, err)
	assert.Equal(t, "etl-pipeline", got.Name)
	require.Len(t, got.Stages, 1)
	assert.Equal(t, "echo", got.Stages[0].Target)
}

func TestWorkflowTimestamps(t *testing.T) {
	store := NewPersistence(t.TempDir())
	ctx := context.Background()

	workflow := sampleWorkflow("stamped")
	require.NoError(t, store.SaveWorkflow(ctx, workflow))

	created := workflow.CreatedAt
	assert.False(t, created.IsZero())
	assert.Equal(t, created, workflow.UpdatedAt)

	time.Sleep(5 * time.Millisecond)

	require.NoError(t, store.SaveWorkflow(ctx, workflow))
	assert.Equal(t, created, workflow.CreatedAt, "created_at survives updates")
	assert.True(t, workflow.UpdatedAt.After(created))
}

func TestWorkflowNotFound(t *testing.T) {
	store := NewPersistence(t.TempDir())

	_, err := store.WorkflowByName(context.Background(), "ghost")
	assert.ErrorIs(t, err, persistence.ErrWorkflowNotFound)
	assert.True(t, persistence.IsNotFound(err))
}

func TestWorkflowDelete(t *testing.T) {
	store := NewPersistence(t.TempDir())
	ctx := context.Background()

	require.NoError(t, store.SaveWorkflow(ctx, sampleWorkflow("doomed")))
	require.NoError(t, store.DeleteWorkflow(ctx, "doomed"))

	_, err := store.WorkflowByName(ctx, "doomed")
	assert.ErrorIs(t, err, persistence.ErrWorkflowNotFound)

	// Deleting again is a no-op.
	assert.NoError(t, store.DeleteWorkflow(ctx, "doomed"))
}

func TestWorkflowsListsAll(t *testing.T) {
	store := NewPersistence(t.TempDir())
	ctx := context.Background()

	for _, name := range []string{"alpha", "beta", "gamma"} {
		require.NoError(t, store.SaveWorkflow(ctx, sampleWorkflow(name)))
	}

	workflows, err := store.Workflows(ctx)
	require.NoError(t, err)
	require.Len(t, workflows, 3)

	names := make([]string, 0, 3)
	for _, workflow := range workflows {
		names = append(names, workflow.Name)
	}

	assert.ElementsMatch(t, []string{"alpha", "beta", "gamma"}, names)
}

func TestTriggerRoundTrip(t *testing.T) {
	store := NewPersistence(t.TempDir())
	ctx := context.Background()

	require.NoError(t, store.SaveTrigger(ctx, sampleTrigger("nightly-report")))

	got, err := store.TriggerByName(ctx, "nightly-report")
	require.NoError(t, err)
	assert.Equal(t, models.TriggerRuleSchedule, got.Type)
	assert.Equal(t, []string{"0 3 * * *"}, got.Schedules)
	assert.Equal(t, "run_workflow", got.Action.Target)
	assert.False(t, got.CreatedAt.IsZero())

	_, err = store.TriggerByName(ctx, "absent")
	assert.ErrorIs(t, err, persistence.ErrTriggerNotFound)

	require.NoError(t, store.DeleteTrigger(ctx, "nightly-report"))

	rules, err := store.Triggers(ctx)
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestRunRoundTrip(t *testing.T) {
	store := NewPersistence(t.TempDir())
	ctx := context.Background()

	run := models.NewWorkflowRun("etl", "default", map[string]any{"day": "2026-03-14"}, models.RunSourceAPI)
	run.SetFinished(models.RunStateCompleted, map[string]any{"rows": 42}, nil)

	require.NoError(t, store.SaveRun(ctx, run))

	got, err := store.RunByUID(ctx, run.UID)
	require.NoError(t, err)
	assert.Equal(t, run.UID, got.UID)
	assert.Equal(t, models.RunStateCompleted, got.State)
	assert.Equal(t, map[string]any{"rows": float64(42)}, got.Result)
	assert.NotNil(t, got.FinishedAt)

	_, err = store.RunByUID(ctx, "no-such-uid")
	assert.ErrorIs(t, err, persistence.ErrRunNotFound)
}

func TestNewPersistenceStripsFileScheme(t *testing.T) {
	root := t.TempDir()
	store := NewPersistence("file://" + root)
	ctx := context.Background()

	require.NoError(t, store.SaveWorkflow(ctx, sampleWorkflow("scheme")))

	// The record landed under the bare path.
	assert.FileExists(t, filepath.Join(root, "workflows", "scheme.json"))
}

func TestHealthCheck(t *testing.T) {
	ctx := context.Background()

	store := NewPersistence(t.TempDir())
	assert.NoError(t, store.HealthCheck(ctx))

	missing := NewPersistence(filepath.Join(t.TempDir(), "never-created"))
	assert.Error(t, missing.HealthCheck(ctx))

	assert.NoError(t, store.Close(ctx))
}

func TestRecordKeySanitized(t *testing.T) {
	root := t.TempDir()
	store := NewPersistence(root)
	ctx := context.Background()

	// A hostile name cannot escape the repository directory.
	require.NoError(t, store.SaveWorkflow(ctx, sampleWorkflow("../escape")))

	assert.NoFileExists(t, filepath.Join(root, "escape.json"))
	assert.FileExists(t, filepath.Join(root, "workflows", "escape.json"))
}
