package judge

import (
	"context"
	"testing"

	"github.com/chimera-labs/ipg/internal/policy"
	"github.com/stretchr/testify/assert"
)

func TestDeterministicJudge_MatchesFirstRule(t *testing.T) {
	j := NewDeterministicJudge([]MockRule{
		{Field: "args.filename", Operator: policy.OpContains, Value: "secret", RiskScore: 0.8, Confidence: 0.9, Reason: "suspicious filename", Tags: []string{"SUSPICIOUS_KEYWORD"}},
	}, DefaultAssessment{RiskScore: 0.1, Confidence: 0.9, Reason: "no risk indicators"})

	a := j.Assess(context.Background(), "read_file", map[string]any{"filename": "company_secret_formula.txt"}, nil)
	assert.Equal(t, 0.8, a.RiskScore)
	assert.Equal(t, "suspicious filename", a.Reason)
}

func TestDeterministicJudge_FallsBackToDefault(t *testing.T) {
	j := NewDeterministicJudge(nil, DefaultAssessment{RiskScore: 0.1, Confidence: 0.9, Reason: "no risk indicators"})
	a := j.Assess(context.Background(), "read_file", map[string]any{"filename": "public.txt"}, nil)
	assert.Equal(t, 0.1, a.RiskScore)
	assert.Equal(t, "no risk indicators", a.Reason)
}

func TestDeterministicJudge_RuleScopedToSpecificTools(t *testing.T) {
	j := NewDeterministicJudge([]MockRule{
		{Tools: []string{"delete_data"}, Field: "args.force", Operator: policy.OpEq, Value: true, RiskScore: 0.95, Confidence: 1.0, Reason: "forced delete"},
	}, DefaultAssessment{RiskScore: 0.1, Confidence: 0.9, Reason: "no risk indicators"})

	unaffected := j.Assess(context.Background(), "read_file", map[string]any{"force": true}, nil)
	assert.Equal(t, 0.1, unaffected.RiskScore)

	affected := j.Assess(context.Background(), "delete_data", map[string]any{"force": true}, nil)
	assert.Equal(t, 0.95, affected.RiskScore)
}

func TestDeterministicJudge_IsPureOverInputs(t *testing.T) {
	j := NewDeterministicJudge(nil, DefaultAssessment{RiskScore: 0.2, Confidence: 0.5, Reason: "x"})
	a1 := j.Assess(context.Background(), "t", map[string]any{"a": 1}, map[string]any{"b": 2})
	a2 := j.Assess(context.Background(), "t", map[string]any{"a": 1}, map[string]any{"b": 2})
	assert.Equal(t, a1, a2)
}

func TestDefaultMockRules_FlagsSuspiciousKeywordRegardlessOfArgName(t *testing.T) {
	j := NewDeterministicJudge(DefaultMockRules(), DefaultAssessment{RiskScore: 0.1, Confidence: 0.9, Reason: "no risk indicators"})

	a := j.Assess(context.Background(), "read_file", map[string]any{"filename": "company_secret_formula.txt"}, nil)
	assert.Equal(t, 0.7, a.RiskScore)

	clean := j.Assess(context.Background(), "read_file", map[string]any{"filename": "public.txt"}, nil)
	assert.Equal(t, 0.1, clean.RiskScore)
}
