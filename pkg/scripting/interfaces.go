// Package scripting resolves variable references in block parameters.
package scripting

import "errors"

// ErrUnresolvedReference is returned when a parameter still references a
// variable after resolution
var ErrUnresolvedReference = errors.New("unresolved variable reference")

// ExpressionEvaluator evaluates ${...} expressions
type ExpressionEvaluator interface {
	// Evaluate processes an expression string with the given context
	Evaluate(expression string, context map[string]any) (any, error)

	// EvaluateInObject processes all expressions in an object
	EvaluateInObject(obj map[string]any, context map[string]any) (map[string]any, error)
}
