package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func defaultOrder() []string {
	return []string{"directives", "trusted_workflows", "security_policies", "accumulated_risk_policies", "risk_based_policies"}
}

func TestEvaluate_DirectiveOverridesHighRisk(t *testing.T) {
	m := Manifest{
		DefaultAction:   "production",
		EvaluationOrder: defaultOrder(),
		DirectiveUsers: map[string]Directive{
			"admin": {Action: "production", Reason: "Admin override"},
		},
		RiskBased: RiskBasedPolicy{RiskThreshold: 0.5, MinConfidence: 0.5, Action: "shadow", LowConfidenceAction: "production"},
	}
	e := NewEngine(m)

	d := e.Evaluate(CallInput{ToolName: "read_file", UserID: "admin", RiskScore: 0.95, Confidence: 1.0})
	assert.Equal(t, "production", d.Route)
	assert.Equal(t, "Admin override", d.Reason)
}

func TestEvaluate_RiskThresholdAtExactBoundaryRoutesShadow(t *testing.T) {
	m := Manifest{
		DefaultAction:   "production",
		EvaluationOrder: defaultOrder(),
		RiskBased:       RiskBasedPolicy{RiskThreshold: 0.7, MinConfidence: 0.6, Action: "shadow", LowConfidenceAction: "production"},
	}
	e := NewEngine(m)

	d := e.Evaluate(CallInput{ToolName: "x", RiskScore: 0.7, Confidence: 0.6})
	assert.Equal(t, "shadow", d.Route)
}

func TestEvaluate_RiskThresholdLowConfidenceFailsSafe(t *testing.T) {
	m := Manifest{
		DefaultAction:   "production",
		EvaluationOrder: defaultOrder(),
		RiskBased:       RiskBasedPolicy{RiskThreshold: 0.7, MinConfidence: 0.6, Action: "shadow", LowConfidenceAction: "production"},
	}
	e := NewEngine(m)

	d := e.Evaluate(CallInput{ToolName: "x", RiskScore: 0.9, Confidence: 0.1})
	assert.Equal(t, "production", d.Route)
	assert.Equal(t, "risk_threshold_low_confidence", d.RuleID)
}

func TestEvaluate_TaintLockdownOnSensitiveTool(t *testing.T) {
	matchTainted := Clause{All: []Clause{
		{Condition: &Condition{Field: "context.is_tainted", Operator: OpEq, Value: true}},
		{Condition: &Condition{Field: "tool_category", Operator: OpEq, Value: "sensitive"}},
	}}
	m := Manifest{
		DefaultAction:   "production",
		EvaluationOrder: defaultOrder(),
		SecurityPolicies: []Rule{
			{ID: "taint_lockdown", Action: "shadow", Match: matchTainted, Reason: "session tainted"},
		},
	}
	e := NewEngine(m)

	d := e.Evaluate(CallInput{
		ToolName:     "get_patient_record",
		IsTainted:    true,
		ToolCategory: "sensitive",
	})
	assert.Equal(t, "shadow", d.Route)
	assert.Equal(t, "taint_lockdown", d.RuleID)
}

func TestEvaluate_DenyOnForbiddenPath(t *testing.T) {
	matchForbidden := Clause{Condition: &Condition{Field: "args.path", Operator: OpContains, Value: "/etc/shadow"}}
	m := Manifest{
		DefaultAction:   "production",
		EvaluationOrder: defaultOrder(),
		SecurityPolicies: []Rule{
			{ID: "forbidden_path", Action: "deny", Match: matchForbidden, Reason: "forbidden system path"},
		},
	}
	e := NewEngine(m)

	d := e.Evaluate(CallInput{ToolName: "read_file", Args: map[string]any{"path": "/etc/shadow"}})
	assert.Equal(t, "deny", d.Route)
}

func TestEvaluate_AccumulatedRiskThreshold(t *testing.T) {
	m := Manifest{
		DefaultAction:   "production",
		EvaluationOrder: defaultOrder(),
		AccumulatedRisk: AccumulatedRiskPolicy{Threshold: 2.0, Action: "shadow", Reason: "accumulated risk too high"},
	}
	e := NewEngine(m)

	d := e.Evaluate(CallInput{ToolName: "x", AccumulatedRisk: 2.5})
	assert.Equal(t, "shadow", d.Route)
	assert.Equal(t, "accumulated_risk_threshold", d.RuleID)
}

func TestEvaluate_DefaultWhenNoPhaseMatches(t *testing.T) {
	m := Manifest{DefaultAction: "production", EvaluationOrder: defaultOrder()}
	e := NewEngine(m)

	d := e.Evaluate(CallInput{ToolName: "x"})
	assert.Equal(t, "production", d.Route)
	assert.Equal(t, "default", d.RuleID)
}

func TestEvaluate_IsPureFunctionOfInputs(t *testing.T) {
	m := Manifest{
		DefaultAction:   "production",
		EvaluationOrder: defaultOrder(),
		RiskBased:       RiskBasedPolicy{RiskThreshold: 0.5, MinConfidence: 0.5, Action: "shadow", LowConfidenceAction: "production"},
	}
	e := NewEngine(m)
	input := CallInput{ToolName: "x", RiskScore: 0.9, Confidence: 0.9}

	d1 := e.Evaluate(input)
	d2 := e.Evaluate(input)
	assert.Equal(t, d1, d2)
}

func TestEvaluate_EmptyArgsAndNilContextStillDecide(t *testing.T) {
	m := Manifest{DefaultAction: "production", EvaluationOrder: defaultOrder()}
	e := NewEngine(m)

	d := e.Evaluate(CallInput{ToolName: "x"})
	assert.NotEmpty(t, d.Route)
}

func TestIsSuspiciousQuery_FlagsKeyword(t *testing.T) {
	assert.True(t, IsSuspiciousQuery(map[string]any{"filename": "company_secret_formula.txt"}))
	assert.False(t, IsSuspiciousQuery(map[string]any{"filename": "public.txt"}))
}

func TestDeepGet_DottedPath(t *testing.T) {
	root := map[string]any{"context": map[string]any{"is_tainted": true}}
	assert.Equal(t, true, deepGet(root, "context.is_tainted"))
	assert.Nil(t, deepGet(root, "context.missing"))
	assert.Nil(t, deepGet(root, "missing.path"))
}
