package policy

import (
	"fmt"

	"github.com/chimera-labs/ipg/internal/config"
)

// BuildManifest compiles a config.PolicyConfig (as decoded from YAML) into
// a Manifest ready for NewEngine.
func BuildManifest(cfg config.PolicyConfig) (Manifest, error) {
	m := Manifest{
		DefaultAction:   cfg.DefaultAction,
		EvaluationOrder: cfg.EvaluationOrder,
		DirectiveUsers:  make(map[string]Directive, len(cfg.Directives.Users)),
		DirectiveRoles:  make(map[string]Directive, len(cfg.Directives.Roles)),
		AccumulatedRisk: AccumulatedRiskPolicy{
			Threshold: cfg.AccumulatedRisk.Threshold,
			Action:    cfg.AccumulatedRisk.Action,
			Reason:    cfg.AccumulatedRisk.Reason,
		},
		RiskBased: RiskBasedPolicy{
			RiskThreshold:       cfg.RiskBased.RiskThreshold,
			MinConfidence:       cfg.RiskBased.MinConfidence,
			Action:              cfg.RiskBased.Action,
			LowConfidenceAction: cfg.RiskBased.LowConfidenceAction,
		},
	}

	for userID, d := range cfg.Directives.Users {
		m.DirectiveUsers[userID] = Directive{Action: d.Action, Reason: d.Reason}
	}
	for role, d := range cfg.Directives.Roles {
		m.DirectiveRoles[role] = Directive{Action: d.Action, Reason: d.Reason}
	}

	workflows, err := compileRules(cfg.TrustedWorkflows)
	if err != nil {
		return Manifest{}, fmt.Errorf("trusted_workflows: %w", err)
	}
	m.TrustedWorkflows = workflows

	security, err := compileRules(cfg.SecurityPolicies)
	if err != nil {
		return Manifest{}, fmt.Errorf("security_policies: %w", err)
	}
	m.SecurityPolicies = security

	return m, nil
}

func compileRules(raw []config.RuleConfig) ([]Rule, error) {
	out := make([]Rule, 0, len(raw))
	for _, rc := range raw {
		normalized, ok := NormalizeYAML(rc.Match).(map[string]any)
		if !ok {
			return nil, fmt.Errorf("rule %s: match must be an object", rc.ID)
		}
		clause, err := CompileClause(normalized)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", rc.ID, err)
		}
		out = append(out, Rule{
			ID:       rc.ID,
			Action:   rc.Action,
			Tools:    rc.Tools,
			Match:    clause,
			Priority: rc.Priority,
			Reason:   rc.Reason,
		})
	}
	return out, nil
}
