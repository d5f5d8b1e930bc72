package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolsmithhq/toolsmith/pkg/schema"
)

func TestCELEvaluateCondition(t *testing.T) {
	eng, err := NewCELEngine()
	require.NoError(t, err)
	assert.Equal(t, "cel", eng.Name())

	data := map[string]any{
		"state": map[string]any{"count": int64(5)},
	}

	out, err := eng.Evaluate(context.Background(), `state.count > 3`, data)
	require.NoError(t, err)
	assert.Equal(t, true, out)

	out, err = eng.Evaluate(context.Background(), `state.count > 10`, data)
	require.NoError(t, err)
	assert.Equal(t, false, out)
}

func TestCELMissingScopesDefaultToEmpty(t *testing.T) {
	eng, err := NewCELEngine()
	require.NoError(t, err)

	out, err := eng.Evaluate(context.Background(), `size(params) == 0`, nil)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCELCheck(t *testing.T) {
	eng, err := NewCELEngine()
	require.NoError(t, err)

	require.NoError(t, eng.Check(`state.ready == true`))

	err = eng.Check(`state.ready ===`)
	require.Error(t, err)
	terr := err.(*schema.ToolsmithError)
	assert.Equal(t, schema.ErrCodeValidation, terr.Code)

	require.Error(t, eng.Check(""))
}

func TestExprEvaluateGuard(t *testing.T) {
	eng := NewExprEngine()
	assert.Equal(t, "expr", eng.Name())

	data := map[string]any{
		"state": map[string]any{"items": []any{1, 2, 3}},
	}

	out, err := eng.Evaluate(context.Background(), `len(state.items) > 2`, data)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestExprUndefinedVariablesAllowed(t *testing.T) {
	eng := NewExprEngine()

	out, err := eng.Evaluate(context.Background(), `missing == nil`, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestExprCheck(t *testing.T) {
	eng := NewExprEngine()
	require.NoError(t, eng.Check(`state.ok and not paused`))

	err := eng.Check(`1 +* 2`)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, err.(*schema.ToolsmithError).Code)
}

func TestGoJQEvaluateTransform(t *testing.T) {
	eng := NewGoJQEngine()
	assert.Equal(t, "jq", eng.Name())

	data := map[string]any{
		"items": []any{
			map[string]any{"name": "a", "qty": 2.0},
			map[string]any{"name": "b", "qty": 3.0},
		},
	}

	out, err := eng.Evaluate(context.Background(), `[.items[].qty] | add`, data)
	require.NoError(t, err)
	assert.Equal(t, 5.0, out)
}

func TestGoJQMultipleOutputs(t *testing.T) {
	eng := NewGoJQEngine()

	out, err := eng.Evaluate(context.Background(), `.items[]`, map[string]any{
		"items": []any{"x", "y"},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"x", "y"}, out)
}

func TestGoJQEnvBlocked(t *testing.T) {
	eng := NewGoJQEngine()

	out, err := eng.Evaluate(context.Background(), `$ENV | length`, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, 0, out)
}

func TestGoJQCheck(t *testing.T) {
	eng := NewGoJQEngine()
	require.NoError(t, eng.Check(`.a.b | length`))

	err := eng.Check(`.[[[`)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, err.(*schema.ToolsmithError).Code)
}

func TestCompileCacheReuse(t *testing.T) {
	eng := NewExprEngine()
	require.NoError(t, eng.Check(`a + b`))
	require.Len(t, eng.cache, 1)

	_, err := eng.Evaluate(context.Background(), `a + b`, map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	assert.Len(t, eng.cache, 1, "evaluation reuses the checked program")
}
