package policy

import (
	"strings"
)

// Decision is the Policy Engine's output: the chosen disposition, which
// rule produced it, and a human-readable reason.
type Decision struct {
	Route  string
	RuleID string
	Reason string
}

const (
	RouteProduction = "production"
	RouteShadow     = "shadow"
	RouteDeny       = "deny"
)

// Rule is a manifest-defined policy entry (trusted_workflows or
// security_policies).
type Rule struct {
	ID       string
	Action   string
	Tools    []string
	Match    Clause
	Priority int
	Reason   string
}

// AppliesTo reports whether this rule's tool filter includes toolName (an
// empty Tools list matches every tool).
func (r Rule) AppliesTo(toolName string) bool {
	if len(r.Tools) == 0 {
		return true
	}
	for _, t := range r.Tools {
		if t == toolName {
			return true
		}
	}
	return false
}

// Directive is a short-circuiting policy entry keyed by user id or role.
type Directive struct {
	Action string
	Reason string
}

// AccumulatedRiskPolicy is the §4.7 phase-4 configuration.
type AccumulatedRiskPolicy struct {
	Threshold float64
	Action    string
	Reason    string
}

// RiskBasedPolicy is the §4.7 phase-5 configuration.
type RiskBasedPolicy struct {
	RiskThreshold       float64
	MinConfidence       float64
	Action              string
	LowConfidenceAction string
}

// Manifest is the fully-compiled policy configuration the Engine evaluates
// against.
type Manifest struct {
	DefaultAction     string
	EvaluationOrder   []string
	DirectiveUsers    map[string]Directive
	DirectiveRoles    map[string]Directive
	TrustedWorkflows  []Rule
	SecurityPolicies  []Rule
	AccumulatedRisk   AccumulatedRiskPolicy
	RiskBased         RiskBasedPolicy
}

// CallInput is everything the Engine needs to evaluate one tool call,
// gathered by the interceptor.
type CallInput struct {
	ToolName        string
	Args            map[string]any
	UserID          string
	UserRole        string
	IsTainted       bool
	IsSuspicious    bool
	AccumulatedRisk float64
	Source          string
	RiskScore       float64
	Confidence      float64
	ToolCategory    string
	RawContext      map[string]any
}

// Engine evaluates a Manifest's ordered phases against a CallInput.
type Engine struct {
	manifest Manifest
}

// NewEngine builds an Engine bound to a compiled Manifest.
func NewEngine(m Manifest) *Engine {
	return &Engine{manifest: m}
}

// Evaluate runs the configured phase sequence, returning the first phase's
// result, or the manifest default if no phase matches.
func (e *Engine) Evaluate(input CallInput) Decision {
	ctx := e.buildContext(input)
	data := EvaluationInput{
		Args:         input.Args,
		Context:      ctx,
		RiskScore:    input.RiskScore,
		Confidence:   input.Confidence,
		ToolCategory: input.ToolCategory,
	}

	for _, phase := range e.manifest.EvaluationOrder {
		switch phase {
		case "directives":
			if d, ok := e.evaluateDirectives(input); ok {
				return d
			}
		case "trusted_workflows":
			if d, ok := e.evaluateRules(e.manifest.TrustedWorkflows, input.ToolName, data); ok {
				return d
			}
		case "security_policies":
			if d, ok := e.evaluateRules(e.manifest.SecurityPolicies, input.ToolName, data); ok {
				return d
			}
		case "accumulated_risk_policies":
			if d, ok := e.evaluateAccumulatedRisk(input); ok {
				return d
			}
		case "risk_based_policies":
			if d, ok := e.evaluateRiskBased(input); ok {
				return d
			}
		}
	}

	return Decision{Route: e.manifest.DefaultAction, RuleID: "default"}
}

// buildContext augments the caller-supplied context with is_tainted,
// is_suspicious_query, accumulated_risk, and a normalized source, per
// §4.7.
func (e *Engine) buildContext(input CallInput) map[string]any {
	ctx := make(map[string]any, len(input.RawContext)+4)
	for k, v := range input.RawContext {
		ctx[k] = v
	}
	ctx["is_tainted"] = input.IsTainted
	ctx["is_suspicious_query"] = input.IsSuspicious
	ctx["accumulated_risk"] = input.AccumulatedRisk

	source := input.Source
	if input.IsTainted {
		source = "external_upload"
	}
	ctx["source"] = source
	return ctx
}

func (e *Engine) evaluateDirectives(input CallInput) (Decision, bool) {
	if d, ok := e.manifest.DirectiveUsers[input.UserID]; ok {
		return Decision{Route: d.Action, RuleID: "directive:user:" + input.UserID, Reason: d.Reason}, true
	}
	if d, ok := e.manifest.DirectiveRoles[input.UserRole]; ok {
		return Decision{Route: d.Action, RuleID: "directive:role:" + input.UserRole, Reason: d.Reason}, true
	}
	return Decision{}, false
}

func (e *Engine) evaluateRules(rules []Rule, toolName string, data EvaluationInput) (Decision, bool) {
	for _, r := range rules {
		if !r.AppliesTo(toolName) {
			continue
		}
		if r.Match.Evaluate(data) {
			return Decision{Route: r.Action, RuleID: r.ID, Reason: r.Reason}, true
		}
	}
	return Decision{}, false
}

func (e *Engine) evaluateAccumulatedRisk(input CallInput) (Decision, bool) {
	p := e.manifest.AccumulatedRisk
	if p.Threshold == 0 {
		return Decision{}, false
	}
	if input.AccumulatedRisk >= p.Threshold {
		return Decision{Route: p.Action, RuleID: "accumulated_risk_threshold", Reason: p.Reason}, true
	}
	return Decision{}, false
}

func (e *Engine) evaluateRiskBased(input CallInput) (Decision, bool) {
	p := e.manifest.RiskBased
	if p.RiskThreshold == 0 {
		return Decision{}, false
	}
	if input.RiskScore >= p.RiskThreshold {
		if input.Confidence >= p.MinConfidence {
			return Decision{Route: p.Action, RuleID: "risk_threshold"}, true
		}
		return Decision{Route: p.LowConfidenceAction, RuleID: "risk_threshold_low_confidence"}, true
	}
	return Decision{}, false
}

// SuspiciousKeywords is the built-in keyword set used by is_suspicious_query
// and shared with the default mock rules in the Risk Judge, per the
// original implementation's single shared constant.
var SuspiciousKeywords = []string{"password", "secret", "credit card", "ssn", "private_key", "formula"}

// IsSuspiciousQuery reports whether any value in args contains one of the
// built-in suspicious keywords (case-insensitive substring match).
func IsSuspiciousQuery(args map[string]any) bool {
	for _, v := range args {
		s, ok := v.(string)
		if !ok {
			continue
		}
		lower := strings.ToLower(s)
		for _, kw := range SuspiciousKeywords {
			if strings.Contains(lower, kw) {
				return true
			}
		}
	}
	return false
}
