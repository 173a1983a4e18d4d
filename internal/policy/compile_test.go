package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileClause_SimpleCondition(t *testing.T) {
	raw := map[string]any{"field": "args.path", "operator": "contains", "value": "/root"}
	c, err := CompileClause(raw)
	require.NoError(t, err)
	require.NotNil(t, c.Condition)
	assert.True(t, c.Evaluate(EvaluationInput{Args: map[string]any{"path": "/root/secret"}}))
}

func TestCompileClause_AllAndAny(t *testing.T) {
	raw := map[string]any{
		"all": []any{
			map[string]any{"field": "tool_category", "operator": "eq", "value": "sensitive"},
			map[string]any{
				"any": []any{
					map[string]any{"field": "context.is_tainted", "operator": "eq", "value": true},
					map[string]any{"field": "risk_score", "operator": "gt", "value": 0.9},
				},
			},
		},
	}
	c, err := CompileClause(raw)
	require.NoError(t, err)

	input := EvaluationInput{ToolCategory: "sensitive", Context: map[string]any{"is_tainted": true}}
	assert.True(t, c.Evaluate(input))

	input2 := EvaluationInput{ToolCategory: "safe", Context: map[string]any{"is_tainted": true}}
	assert.False(t, c.Evaluate(input2))
}

func TestCompileClause_Not(t *testing.T) {
	raw := map[string]any{
		"not": map[string]any{"field": "tool_category", "operator": "eq", "value": "safe"},
	}
	c, err := CompileClause(raw)
	require.NoError(t, err)
	assert.True(t, c.Evaluate(EvaluationInput{ToolCategory: "sensitive"}))
	assert.False(t, c.Evaluate(EvaluationInput{ToolCategory: "safe"}))
}

func TestNormalizeYAML_ConvertsInterfaceMaps(t *testing.T) {
	raw := map[interface{}]interface{}{
		"all": []interface{}{
			map[interface{}]interface{}{"field": "x", "operator": "eq", "value": "y"},
		},
	}
	norm := NormalizeYAML(raw)
	m, ok := norm.(map[string]any)
	require.True(t, ok)
	_, err := CompileClause(m)
	assert.NoError(t, err)
}

func TestCompileClause_MissingFieldOrOperatorErrors(t *testing.T) {
	_, err := CompileClause(map[string]any{"operator": "eq", "value": "y"})
	assert.Error(t, err)
}
