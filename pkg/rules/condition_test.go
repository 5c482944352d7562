package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failedRunEvent() map[string]any {
	return map[string]any{
		"type":    "workflow_finished",
		"channel": "workflows",
		"data": map[string]any{
			"workflow":    "nightly_etl",
			"state":       "failed",
			"duration_ms": float64(15234),
		},
	}
}

func mustParse(t *testing.T, doc map[string]any) Expr {
	t.Helper()

	expr, err := ParseCondition(doc)
	require.NoError(t, err)

	return expr
}

func TestEvaluate_DocumentForm(t *testing.T) {
	tests := []struct {
		name  string
		doc   map[string]any
		event map[string]any
		want  bool
	}{
		{
			name: "and over type and nested state",
			doc: map[string]any{"and": []any{
				map[string]any{"eq": []any{map[string]any{"var": "type"}, "workflow_finished"}},
				map[string]any{"eq": []any{map[string]any{"var": "data.state"}, "failed"}},
			}},
			event: failedRunEvent(),
			want:  true,
		},
		{
			name: "and short-circuits false",
			doc: map[string]any{"and": []any{
				map[string]any{"eq": []any{map[string]any{"var": "type"}, "workflow_started"}},
				map[string]any{"eq": []any{map[string]any{"var": "data.state"}, "failed"}},
			}},
			event: failedRunEvent(),
			want:  false,
		},
		{
			name: "or succeeds on second arm",
			doc: map[string]any{"or": []any{
				map[string]any{"eq": []any{map[string]any{"var": "data.state"}, "completed"}},
				map[string]any{"eq": []any{map[string]any{"var": "data.state"}, "failed"}},
			}},
			event: failedRunEvent(),
			want:  true,
		},
		{
			name:  "not inverts",
			doc:   map[string]any{"not": map[string]any{"eq": []any{map[string]any{"var": "data.state"}, "failed"}}},
			event: failedRunEvent(),
			want:  false,
		},
		{
			name:  "gt on numeric payload",
			doc:   map[string]any{"gt": []any{map[string]any{"var": "data.duration_ms"}, 10000}},
			event: failedRunEvent(),
			want:  true,
		},
		{
			name:  "numeric equality across int and float",
			doc:   map[string]any{"eq": []any{map[string]any{"var": "data.duration_ms"}, 15234}},
			event: failedRunEvent(),
			want:  true,
		},
		{
			name:  "missing path is falsy",
			doc:   map[string]any{"bool": map[string]any{"var": "data.nope"}},
			event: failedRunEvent(),
			want:  false,
		},
		{
			name:  "missing path never satisfies ordered comparison",
			doc:   map[string]any{"lt": []any{map[string]any{"var": "data.nope"}, 5}},
			event: failedRunEvent(),
			want:  false,
		},
		{
			name:  "ne on missing path",
			doc:   map[string]any{"ne": []any{map[string]any{"var": "data.nope"}, "failed"}},
			event: failedRunEvent(),
			want:  true,
		},
		{
			name:  "string ordering",
			doc:   map[string]any{"le": []any{map[string]any{"var": "channel"}, "zzz"}},
			event: failedRunEvent(),
			want:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Evaluate(mustParse(t, tt.doc), tt.event, EvalOptions{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluate_StrictVarLookup(t *testing.T) {
	expr := mustParse(t, map[string]any{"bool": map[string]any{"var": "data.nope"}})

	_, err := Evaluate(expr, failedRunEvent(), EvalOptions{StrictVarLookup: true})
	require.Error(t, err)

	var evalErr *EvaluationError
	require.ErrorAs(t, err, &evalErr)
	assert.Equal(t, "var", evalErr.Node)
}

func TestEvaluate_TypeMismatchIsError(t *testing.T) {
	expr := mustParse(t, map[string]any{"gt": []any{map[string]any{"var": "channel"}, 5}})

	_, err := Evaluate(expr, failedRunEvent(), EvalOptions{})

	var evalErr *EvaluationError
	require.ErrorAs(t, err, &evalErr)
}

func TestParseCondition_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  map[string]any
	}{
		{"unknown operator", map[string]any{"like": []any{1, 2}}},
		{"two keys at root", map[string]any{"eq": []any{1, 1}, "ne": []any{1, 2}}},
		{"eq arity", map[string]any{"eq": []any{1}}},
		{"not arity", map[string]any{"not": []any{true, false}}},
		{"and with no args", map[string]any{"and": []any{}}},
		{"var path not a string", map[string]any{"var": 42}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCondition(tt.doc)
			require.Error(t, err)

			var evalErr *EvaluationError
			assert.ErrorAs(t, err, &evalErr)
		})
	}
}

func TestParseCondition_ScalarArgumentSugar(t *testing.T) {
	// A single scalar argument may appear without the wrapping list.
	expr := mustParse(t, map[string]any{"bool": "yes"})

	got, err := Evaluate(expr, map[string]any{}, EvalOptions{})
	require.NoError(t, err)
	assert.True(t, got)
}

func TestTruthy(t *testing.T) {
	assert.False(t, Truthy(nil))
	assert.False(t, Truthy(""))
	assert.False(t, Truthy(0))
	assert.False(t, Truthy(0.0))
	assert.False(t, Truthy(map[string]any{}))
	assert.False(t, Truthy([]any{}))
	assert.True(t, Truthy("x"))
	assert.True(t, Truthy(1))
	assert.True(t, Truthy([]any{1}))
	assert.True(t, Truthy(map[string]any{"k": "v"}))
}
