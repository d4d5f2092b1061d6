package expression

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileRejectsBadSyntax(t *testing.T) {
	_, err := Compile(`label == `)
	require.Error(t, err)

	_, err = Compile(`a ? b`)
	require.Error(t, err)
}

func TestEvalValuePaths(t *testing.T) {
	scope := map[string]any{
		"input": map[string]any{"objectRef": "photos/1.png"},
		"label": "red",
	}

	v, err := MustCompile(`input.objectRef`).EvalValue(scope)
	require.NoError(t, err)
	assert.Equal(t, "photos/1.png", v)

	v, err = MustCompile(`label`).EvalValue(scope)
	require.NoError(t, err)
	assert.Equal(t, "red", v)
}

func TestEvalValueUndefinedPathIsError(t *testing.T) {
	_, err := MustCompile(`nope.missing`).EvalValue(map[string]any{})
	require.Error(t, err)

	var evalErr *EvalError
	require.True(t, errors.As(err, &evalErr))
	assert.Equal(t, ReasonUndefinedPath, evalErr.Reason)
	assert.Equal(t, "nope.missing", evalErr.Expr)
}

func TestEvalConditionOperators(t *testing.T) {
	scope := map[string]any{
		"label": "red",
		"count": 3,
	}

	cases := []struct {
		expr string
		want bool
	}{
		{`label == "red"`, true},
		{`label != "red"`, false},
		{`count > 2 && count <= 3`, true},
		{`count < 2 || label == "red"`, true},
		{`!(label == "red")`, false},
		{`label in ["red", "green"]`, true},
		{`label in ["blue"]`, false},
	}
	for _, tc := range cases {
		got, err := MustCompile(tc.expr).EvalCondition(scope)
		require.NoError(t, err, tc.expr)
		assert.Equal(t, tc.want, got, tc.expr)
	}
}

func TestEvalConditionNonBoolean(t *testing.T) {
	got, err := MustCompile(`label`).EvalCondition(map[string]any{"label": "red"})
	assert.False(t, got)
	require.Error(t, err)

	var evalErr *EvalError
	require.True(t, errors.As(err, &evalErr))
	assert.Equal(t, ReasonNotBoolean, evalErr.Reason)
}

func TestEvalConditionUndefinedVariableIsFalse(t *testing.T) {
	// a condition over a missing variable must not panic; the caller treats
	// the error as false in lenient mode
	got, err := MustCompile(`missing == "x"`).EvalCondition(map[string]any{})
	assert.False(t, got)
	assert.NoError(t, err)
}

func TestTernary(t *testing.T) {
	p := MustCompile(`label == "unknown" ? "generate" : "skip"`)

	v, err := p.EvalValue(map[string]any{"label": "unknown"})
	require.NoError(t, err)
	assert.Equal(t, "generate", v)

	v, err = p.EvalValue(map[string]any{"label": "red"})
	require.NoError(t, err)
	assert.Equal(t, "skip", v)
}

func TestMapLiteralTemplate(t *testing.T) {
	p := MustCompile(`{storageRef: input.objectRef, width: 512}`)
	v, err := p.EvalValue(map[string]any{
		"input": map[string]any{"objectRef": "photos/2.png"},
	})
	require.NoError(t, err)

	m, ok := v.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "photos/2.png", m["storageRef"])
	assert.Equal(t, 512, m["width"])
}

func TestEvalIsDeterministic(t *testing.T) {
	p := MustCompile(`count * 2 + 1`)
	scope := map[string]any{"count": 20}
	first, err := p.EvalValue(scope)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := p.EvalValue(scope)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}
