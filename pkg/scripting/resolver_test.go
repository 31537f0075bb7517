package scripting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSExpressionEvaluator(t *testing.T) {
	evaluator := NewJSExpressionEvaluator()

	tests := []struct {
		name       string
		expression string
		context    map[string]any
		want       any
	}{
		{
			name:       "Plain string passes through",
			expression: "home",
			context:    map[string]any{},
			want:       "home",
		},
		{
			name:       "String manipulation",
			expression: "${'hello'.toUpperCase()}",
			context:    map[string]any{},
			want:       "HELLO",
		},
		{
			name:       "Context variable",
			expression: "${name.toUpperCase()}",
			context:    map[string]any{"name": "john"},
			want:       "JOHN",
		},
		{
			name:       "Math",
			expression: "${Math.floor(3.9)}",
			context:    map[string]any{},
			want:       float64(3),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := evaluator.Evaluate(tt.expression, tt.context)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestJSExpressionEvaluatorUnknownVariable(t *testing.T) {
	_, err := NewJSExpressionEvaluator().Evaluate("${missing + 1}", map[string]any{})
	assert.ErrorIs(t, err, ErrUnresolvedReference)
}

func TestResolvePlaceholders(t *testing.T) {
	resolver := NewParamResolver()
	vars := map[string]any{
		"channel": "bbc_one",
		"timeout": 5,
		"b1":      map[string]any{"text": "Settings"},
	}

	params := map[string]any{
		"remote_key": "KEY_{channel}",
		"wait":       "{timeout}",
		"text":       "{b1.text}",
		"nested":     map[string]any{"items": []any{"{channel}", 2}},
		"expr":       "${channel.length}",
		"literal":    `{"json": true}`,
	}

	resolved, err := resolver.Resolve(params, vars)
	require.NoError(t, err)

	assert.Equal(t, "KEY_bbc_one", resolved["remote_key"])
	assert.Equal(t, 5, resolved["wait"])
	assert.Equal(t, "Settings", resolved["text"])
	assert.Equal(t, []any{"bbc_one", 2}, resolved["nested"].(map[string]any)["items"])
	assert.EqualValues(t, 7, resolved["expr"])
	assert.Equal(t, `{"json": true}`, resolved["literal"])

	// The input is not mutated
	assert.Equal(t, "KEY_{channel}", params["remote_key"])
}

func TestResolveRejectsUnresolved(t *testing.T) {
	resolver := NewParamResolver()

	_, err := resolver.Resolve(map[string]any{"key": "{unknown}"}, map[string]any{})
	assert.ErrorIs(t, err, ErrUnresolvedReference)

	_, err = resolver.Resolve(map[string]any{"key": "prefix {unknown} suffix"}, map[string]any{})
	assert.ErrorIs(t, err, ErrUnresolvedReference)

	_, err = resolver.Resolve(map[string]any{"key": "${unknown}"}, map[string]any{})
	assert.ErrorIs(t, err, ErrUnresolvedReference)
}

func TestResolveEmptyParams(t *testing.T) {
	resolved, err := NewParamResolver().Resolve(nil, nil)
	require.NoError(t, err)
	assert.Empty(t, resolved)
}
