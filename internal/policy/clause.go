// Package policy implements the fixed, minimal rule language and the
// ordered-phase decision engine described by the policy manifest.
package policy

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// Operator is the closed set of comparison operators a Condition may use.
type Operator string

const (
	OpEq     Operator = "eq"
	OpNeq    Operator = "neq"
	OpGt     Operator = "gt"
	OpGte    Operator = "gte"
	OpLt     Operator = "lt"
	OpLte    Operator = "lte"
	OpContains Operator = "contains"
	OpRegex  Operator = "regex"
	OpIn     Operator = "in"
	OpNotIn  Operator = "not_in"
)

// Condition is a leaf of the Clause tagged union: a dotted-path field
// compared against a literal or context-derived value.
type Condition struct {
	Field           string
	Operator        Operator
	Value           any
	ValueFromContext string // if set, dereferences into EvaluationInput.Context instead of Value
}

// Clause is the recursive {all|any|not|Condition} tagged union.
type Clause struct {
	All       []Clause
	Any       []Clause
	Not       *Clause
	Condition *Condition
}

// EvaluationInput is the structured data a Clause is evaluated against,
// assembled fresh for every policy call per §4.7.
type EvaluationInput struct {
	Args         map[string]any
	Context      map[string]any
	RiskScore    float64
	Confidence   float64
	ToolCategory string
}

var logger = slog.Default().With("component", "policy_engine")

// Evaluate recursively evaluates a Clause against input. Short-circuits on
// all/any exactly like boolean && / ||.
func (c Clause) Evaluate(input EvaluationInput) bool {
	switch {
	case c.Condition != nil:
		return c.Condition.Evaluate(input)
	case c.All != nil:
		for _, sub := range c.All {
			if !sub.Evaluate(input) {
				return false
			}
		}
		return true
	case c.Any != nil:
		for _, sub := range c.Any {
			if sub.Evaluate(input) {
				return true
			}
		}
		return false
	case c.Not != nil:
		return !c.Not.Evaluate(input)
	default:
		return false
	}
}

// Evaluate resolves the condition's field (and value, if context-derived)
// and applies the operator.
func (cond Condition) Evaluate(input EvaluationInput) bool {
	fieldVal := deepGet(fieldRoot(input), cond.Field)

	value := cond.Value
	if cond.ValueFromContext != "" {
		value = deepGet(input.Context, cond.ValueFromContext)
	}

	return compare(fieldVal, cond.Operator, value)
}

// fieldRoot builds the dotted-path lookup root: args/context/risk_score/
// confidence/tool_category are all addressable top-level keys.
func fieldRoot(input EvaluationInput) map[string]any {
	return map[string]any{
		"args":          input.Args,
		"context":       input.Context,
		"risk_score":    input.RiskScore,
		"confidence":    input.Confidence,
		"tool_category": input.ToolCategory,
	}
}

// deepGet resolves a dotted path like "context.is_tainted" or "args.path"
// against a nested map structure. Missing segments return nil.
func deepGet(root map[string]any, path string) any {
	if path == "" {
		return nil
	}
	parts := strings.Split(path, ".")
	var cur any = root
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[p]
		if !ok {
			return nil
		}
	}
	return cur
}

// compare applies operator to (field, value). Unknown operators evaluate
// to false and log a warning, per §4.7.
func compare(field any, op Operator, value any) bool {
	switch op {
	case OpEq:
		return fmt.Sprintf("%v", field) == fmt.Sprintf("%v", value)
	case OpNeq:
		return fmt.Sprintf("%v", field) != fmt.Sprintf("%v", value)
	case OpGt, OpGte, OpLt, OpLte:
		fv, ok1 := toFloat(field)
		vv, ok2 := toFloat(value)
		if !ok1 || !ok2 {
			return false
		}
		switch op {
		case OpGt:
			return fv > vv
		case OpGte:
			return fv >= vv
		case OpLt:
			return fv < vv
		default:
			return fv <= vv
		}
	case OpContains:
		fs, ok1 := field.(string)
		vs, ok2 := value.(string)
		if !ok1 || !ok2 {
			return false
		}
		return strings.Contains(fs, vs)
	case OpRegex:
		fs, ok1 := field.(string)
		vs, ok2 := value.(string)
		if !ok1 || !ok2 {
			return false
		}
		re, err := regexp.Compile(vs)
		if err != nil {
			return false
		}
		return re.MatchString(fs)
	case OpIn:
		return memberOf(field, value)
	case OpNotIn:
		return !memberOf(field, value)
	default:
		logger.Warn("unknown policy operator", "operator", string(op))
		return false
	}
}

func memberOf(field, value any) bool {
	list, ok := value.([]any)
	if !ok {
		return false
	}
	for _, item := range list {
		if fmt.Sprintf("%v", item) == fmt.Sprintf("%v", field) {
			return true
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
