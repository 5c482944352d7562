package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagehq/stagehand/pkg/models"
)

func stage(name string, deps ...string) models.StageDefinition {
	return models.StageDefinition{Name: name, Target: "echo", DependsOn: deps}
}

func TestCompile_DiamondLevels(t *testing.T) {
	definition := &models.WorkflowDefinition{
		Name: "diamond",
		Stages: []models.StageDefinition{
			stage("load"),
			stage("clean", "load"),
			stage("enrich", "load"),
			stage("report", "clean", "enrich"),
		},
	}

	graph, err := Compile(definition)
	require.NoError(t, err)

	assert.Equal(t, [][]string{
		{"load"},
		{"clean", "enrich"},
		{"report"},
	}, graph.Levels)
	assert.Equal(t, []string{"report"}, graph.Terminals())
}

func TestCompile_MultipleRootsAndTerminals(t *testing.T) {
	definition := &models.WorkflowDefinition{
		Name: "forest",
		Stages: []models.StageDefinition{
			stage("a"),
			stage("b"),
			stage("c", "a"),
			stage("d", "b"),
		},
	}

	graph, err := Compile(definition)
	require.NoError(t, err)

	require.Len(t, graph.Levels, 2)
	assert.ElementsMatch(t, []string{"a", "b"}, graph.Levels[0])
	assert.ElementsMatch(t, []string{"c", "d"}, graph.Levels[1])
	assert.ElementsMatch(t, []string{"c", "d"}, graph.Terminals())
}

func TestCompile_PriorityOrdersWithinLevel(t *testing.T) {
	definition := &models.WorkflowDefinition{
		Name: "priorities",
		Stages: []models.StageDefinition{
			{Name: "low", Target: "echo", Priority: 1},
			{Name: "high", Target: "echo", Priority: 10},
			{Name: "mid", Target: "echo", Priority: 5},
		},
	}

	graph, err := Compile(definition)
	require.NoError(t, err)
	assert.Equal(t, []string{"high", "mid", "low"}, graph.Levels[0])
}

func TestCompile_CycleRejected(t *testing.T) {
	definition := &models.WorkflowDefinition{
		Name: "cyclic",
		Stages: []models.StageDefinition{
			stage("a", "c"),
			stage("b", "a"),
			stage("c", "b"),
		},
	}

	_, err := Compile(definition)
	require.Error(t, err)

	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "cyclic", validationErr.Workflow)
	assert.Equal(t, []string{"a", "b", "c"}, validationErr.Stages)
}

func TestCompile_SelfDependencyIsACycle(t *testing.T) {
	definition := &models.WorkflowDefinition{
		Name:   "selfloop",
		Stages: []models.StageDefinition{stage("a", "a")},
	}

	_, err := Compile(definition)

	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Contains(t, validationErr.Reason, "cycle")
}

func TestCompile_DanglingDependency(t *testing.T) {
	definition := &models.WorkflowDefinition{
		Name:   "dangling",
		Stages: []models.StageDefinition{stage("a", "missing")},
	}

	_, err := Compile(definition)

	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Contains(t, validationErr.Reason, `unknown stage "missing"`)
}

func TestCompile_DuplicateStageName(t *testing.T) {
	definition := &models.WorkflowDefinition{
		Name:   "dupes",
		Stages: []models.StageDefinition{stage("a"), stage("a")},
	}

	_, err := Compile(definition)

	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, []string{"a"}, validationErr.Stages)
}

func TestCompile_IsPure(t *testing.T) {
	definition := &models.WorkflowDefinition{
		Name: "pure",
		Stages: []models.StageDefinition{
			stage("a"),
			stage("b", "a"),
		},
	}

	first, err := Compile(definition)
	require.NoError(t, err)

	second, err := Compile(definition)
	require.NoError(t, err)

	assert.Equal(t, first.Levels, second.Levels)
	assert.Equal(t, first.Terminals(), second.Terminals())
}
