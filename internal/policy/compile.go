package policy

import "fmt"

// CompileClause turns a raw decoded-YAML map (as produced by
// gopkg.in/yaml.v2, with map[interface{}]interface{} nodes normalized to
// map[string]any by the caller) into a Clause tree.
func CompileClause(raw map[string]any) (Clause, error) {
	if all, ok := raw["all"]; ok {
		subs, err := compileClauseList(all)
		if err != nil {
			return Clause{}, fmt.Errorf("all: %w", err)
		}
		return Clause{All: subs}, nil
	}
	if any, ok := raw["any"]; ok {
		subs, err := compileClauseList(any)
		if err != nil {
			return Clause{}, fmt.Errorf("any: %w", err)
		}
		return Clause{Any: subs}, nil
	}
	if not, ok := raw["not"]; ok {
		nm, ok := not.(map[string]any)
		if !ok {
			return Clause{}, fmt.Errorf("not: expected object")
		}
		sub, err := CompileClause(nm)
		if err != nil {
			return Clause{}, fmt.Errorf("not: %w", err)
		}
		return Clause{Not: &sub}, nil
	}

	// Otherwise this raw map is a Condition leaf.
	cond, err := compileCondition(raw)
	if err != nil {
		return Clause{}, err
	}
	return Clause{Condition: &cond}, nil
}

func compileClauseList(raw any) ([]Clause, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("expected array")
	}
	out := make([]Clause, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected object in array")
		}
		c, err := CompileClause(m)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func compileCondition(raw map[string]any) (Condition, error) {
	field, _ := raw["field"].(string)
	op, _ := raw["operator"].(string)
	if field == "" || op == "" {
		return Condition{}, fmt.Errorf("condition requires field and operator")
	}

	cond := Condition{Field: field, Operator: Operator(op)}
	if vfc, ok := raw["value_from_context"].(string); ok && vfc != "" {
		cond.ValueFromContext = vfc
	} else {
		cond.Value = raw["value"]
	}
	return cond, nil
}

// NormalizeYAML recursively converts map[interface{}]interface{} nodes
// (produced by gopkg.in/yaml.v2) to map[string]any, and
// []interface{} elements in place, so CompileClause can type-assert safely.
func NormalizeYAML(v any) any {
	switch val := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			out[fmt.Sprintf("%v", k)] = NormalizeYAML(vv)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			out[k] = NormalizeYAML(vv)
		}
		return out
	case []interface{}:
		out := make([]any, len(val))
		for i, vv := range val {
			out[i] = NormalizeYAML(vv)
		}
		return out
	default:
		return v
	}
}
