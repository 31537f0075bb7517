package scripting

import (
	"fmt"
	"regexp"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z0-9_]+)*)\}`)

// ParamResolver turns block parameters into concrete values.
//
// Two reference forms are supported: a whole-value ${expr} evaluated as
// JavaScript against the variables, and {name} or {block.output} placeholders
// substituted inside strings. Anything left unresolved is an error so a job is
// never dispatched with a dangling reference.
type ParamResolver struct {
	evaluator ExpressionEvaluator
}

// NewParamResolver creates a resolver backed by the JavaScript evaluator
func NewParamResolver() *ParamResolver {
	return &ParamResolver{evaluator: NewJSExpressionEvaluator()}
}

// Resolve returns a copy of params with every reference replaced
func (r *ParamResolver) Resolve(params map[string]any, vars map[string]any) (map[string]any, error) {
	if len(params) == 0 {
		return map[string]any{}, nil
	}

	substituted, err := substituteValue(params, vars)
	if err != nil {
		return nil, err
	}

	resolved, err := r.evaluator.EvaluateInObject(substituted.(map[string]any), vars)
	if err != nil {
		return nil, err
	}

	if ref, ok := findReference(resolved); ok {
		return nil, fmt.Errorf("%w: %s", ErrUnresolvedReference, ref)
	}

	return resolved, nil
}

func substituteValue(value any, vars map[string]any) (any, error) {
	switch v := value.(type) {
	case string:
		if IsExpression(v) {
			return v, nil
		}
		return substituteString(v, vars)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			s, err := substituteValue(item, vars)
			if err != nil {
				return nil, err
			}
			out[key] = s
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			s, err := substituteValue(item, vars)
			if err != nil {
				return nil, err
			}
			out[i] = s
		}
		return out, nil
	default:
		return value, nil
	}
}

func substituteString(s string, vars map[string]any) (any, error) {
	matches := placeholderPattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	// A placeholder that is the whole string keeps the variable's type
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		value, ok := Lookup(vars, s[matches[0][2]:matches[0][3]])
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnresolvedReference, s)
		}
		return value, nil
	}

	var missing string
	out := placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := match[1 : len(match)-1]
		value, ok := Lookup(vars, name)
		if !ok {
			if missing == "" {
				missing = match
			}
			return match
		}
		return fmt.Sprintf("%v", value)
	})
	if missing != "" {
		return nil, fmt.Errorf("%w: %s", ErrUnresolvedReference, missing)
	}
	return out, nil
}

// Lookup resolves a dotted path against nested maps
func Lookup(vars map[string]any, path string) (any, bool) {
	if value, ok := vars[path]; ok {
		return value, true
	}

	parts := strings.Split(path, ".")
	var current any = vars
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func findReference(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		if strings.Contains(v, "${") {
			return v, true
		}
		if m := placeholderPattern.FindString(v); m != "" {
			return m, true
		}
	case map[string]any:
		for _, item := range v {
			if ref, ok := findReference(item); ok {
				return ref, true
			}
		}
	case []any:
		for _, item := range v {
			if ref, ok := findReference(item); ok {
				return ref, true
			}
		}
	}
	return "", false
}
