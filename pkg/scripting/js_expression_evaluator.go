package scripting

import (
	"fmt"
	"strings"

	"github.com/robertkrimen/otto"
)

// JSExpressionEvaluator evaluates ${...} expressions with a JavaScript engine.
// A fresh VM is used per call so variables never leak between evaluations.
type JSExpressionEvaluator struct{}

// NewJSExpressionEvaluator creates a new JSExpressionEvaluator
func NewJSExpressionEvaluator() *JSExpressionEvaluator {
	return &JSExpressionEvaluator{}
}

// IsExpression reports whether s is a whole ${...} expression
func IsExpression(s string) bool {
	return strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}")
}

// Evaluate processes an expression string with the given context
func (e *JSExpressionEvaluator) Evaluate(expression string, context map[string]any) (any, error) {
	if !IsExpression(expression) {
		return expression, nil
	}
	return e.run(otto.New(), expression[2:len(expression)-1], context)
}

func (e *JSExpressionEvaluator) run(vm *otto.Otto, expr string, context map[string]any) (any, error) {
	for key, value := range context {
		if err := vm.Set(key, value); err != nil {
			return nil, fmt.Errorf("failed to bind variable '%s': %w", key, err)
		}
	}

	result, err := vm.Run(expr)
	if err != nil {
		if strings.Contains(err.Error(), "ReferenceError") {
			return nil, fmt.Errorf("%w: %s", ErrUnresolvedReference, expr)
		}
		return nil, fmt.Errorf("failed to evaluate expression '%s': %w", expr, err)
	}

	if result.IsUndefined() {
		return nil, fmt.Errorf("%w: %s evaluated to undefined", ErrUnresolvedReference, expr)
	}

	goValue, err := result.Export()
	if err != nil {
		return nil, fmt.Errorf("failed to convert result to Go value: %w", err)
	}

	return goValue, nil
}

// EvaluateInObject processes all expressions in an object
func (e *JSExpressionEvaluator) EvaluateInObject(obj map[string]any, context map[string]any) (map[string]any, error) {
	result := make(map[string]any, len(obj))

	for key, value := range obj {
		evaluated, err := e.evaluateValue(value, context)
		if err != nil {
			return nil, fmt.Errorf("param '%s': %w", key, err)
		}
		result[key] = evaluated
	}

	return result, nil
}

func (e *JSExpressionEvaluator) evaluateValue(value any, context map[string]any) (any, error) {
	switch v := value.(type) {
	case string:
		return e.Evaluate(v, context)
	case map[string]any:
		return e.EvaluateInObject(v, context)
	case map[interface{}]interface{}:
		converted := make(map[string]any, len(v))
		for k, item := range v {
			converted[fmt.Sprintf("%v", k)] = item
		}
		return e.EvaluateInObject(converted, context)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			evaluated, err := e.evaluateValue(item, context)
			if err != nil {
				return nil, err
			}
			out[i] = evaluated
		}
		return out, nil
	default:
		return value, nil
	}
}
