// Package judge implements the Risk Judge: a pluggable scoring oracle with
// a deterministic rule-based fallback, producing a RiskAssessment for
// every tool call. The judge never reads or mutates session state.
package judge

import (
	"context"

	"github.com/chimera-labs/ipg/internal/policy"
)

// RiskAssessment is the judge's verdict on one tool call.
type RiskAssessment struct {
	RiskScore     float64  `json:"risk_score"`
	Confidence    float64  `json:"confidence"`
	Reason        string   `json:"reason"`
	ViolationTags []string `json:"violation_tags"`
}

// oracleFailureAssessment is returned whenever oracle mode fails to parse
// or transport, per §4.6.
func oracleFailureAssessment() RiskAssessment {
	return RiskAssessment{
		RiskScore:     0.9,
		Confidence:    1.0,
		Reason:        "oracle failure",
		ViolationTags: []string{"ORACLE_ERROR"},
	}
}

// Judge produces a RiskAssessment for a tool call. Implementations must be
// pure over (tool, args, context) plus their own configuration.
type Judge interface {
	Assess(ctx context.Context, tool string, args map[string]any, callCtx map[string]any) RiskAssessment
}

// MockRule is one deterministic-fallback rule. Setting SuspiciousKeyword
// matches the built-in keyword scan shared with the Policy Engine's
// is_suspicious_query (policy.IsSuspiciousQuery) instead of evaluating a
// Field/Operator/Value Condition; it is how the default, unconfigured
// judge (see DefaultMockRules) covers password/secret/credit card/ssn/
// private_key/formula without needing a dotted path into the caller's
// dynamically-named arguments.
type MockRule struct {
	Tools             []string
	Field             string
	Operator          policy.Operator
	Value             any
	SuspiciousKeyword bool
	RiskScore         float64
	Confidence        float64
	Reason            string
	Tags              []string
}

func (r MockRule) appliesTo(tool string) bool {
	if len(r.Tools) == 0 {
		return true
	}
	for _, t := range r.Tools {
		if t == tool {
			return true
		}
	}
	return false
}

func (r MockRule) matches(args map[string]any, input policy.EvaluationInput) bool {
	if r.SuspiciousKeyword {
		return policy.IsSuspiciousQuery(args)
	}
	cond := policy.Condition{Field: r.Field, Operator: r.Operator, Value: r.Value}
	return cond.Evaluate(input)
}

// DefaultMockRules is the built-in rule list used when no mock_rules are
// configured: the shared suspicious-keyword scan at a fixed risk score,
// per §12's default-judge behavior.
func DefaultMockRules() []MockRule {
	return []MockRule{
		{
			SuspiciousKeyword: true,
			RiskScore:         0.7,
			Confidence:        0.9,
			Reason:            "matched built-in suspicious keyword list",
			Tags:              []string{"suspicious_keyword"},
		},
	}
}

// DefaultAssessment is the configured fallback-of-last-resort when no mock
// rule matches.
type DefaultAssessment struct {
	RiskScore  float64
	Confidence float64
	Reason     string
	Tags       []string
}

// DeterministicJudge evaluates configured MockRules in order; first match
// wins. It never calls out to a network oracle.
type DeterministicJudge struct {
	rules   []MockRule
	fallback DefaultAssessment
}

// NewDeterministicJudge builds a judge over a rule list and a final
// fallback assessment.
func NewDeterministicJudge(rules []MockRule, fallback DefaultAssessment) *DeterministicJudge {
	return &DeterministicJudge{rules: rules, fallback: fallback}
}

// Assess implements Judge.
func (j *DeterministicJudge) Assess(_ context.Context, tool string, args map[string]any, callCtx map[string]any) RiskAssessment {
	input := policy.EvaluationInput{Args: args, Context: callCtx}

	for _, r := range j.rules {
		if !r.appliesTo(tool) {
			continue
		}
		if r.matches(args, input) {
			return RiskAssessment{
				RiskScore:     r.RiskScore,
				Confidence:    r.Confidence,
				Reason:        r.Reason,
				ViolationTags: r.Tags,
			}
		}
	}

	return RiskAssessment{
		RiskScore:     j.fallback.RiskScore,
		Confidence:    j.fallback.Confidence,
		Reason:        j.fallback.Reason,
		ViolationTags: j.fallback.Tags,
	}
}
