package utils

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseYAML parses a YAML document into result. A document wrapped in a
// markdown code fence is unwrapped first.
func ParseYAML(yamlStr string, result any) error {
	yamlStr = strings.TrimSpace(yamlStr)

	if strings.HasPrefix(yamlStr, "```") {
		if nl := strings.Index(yamlStr, "\n"); nl >= 0 {
			yamlStr = yamlStr[nl+1:]
		} else {
			yamlStr = ""
		}
		if end := strings.LastIndex(yamlStr, "```"); end >= 0 {
			yamlStr = yamlStr[:end]
		}
	}

	return yaml.Unmarshal([]byte(yamlStr), result)
}

// ReadYAMLFile decodes the YAML file at path into result
func ReadYAMLFile(path string, result any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := ParseYAML(string(data), result); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// MarshalYAML encodes v with two-space indentation
func MarshalYAML(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("failed to encode YAML: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode YAML: %w", err)
	}
	return buf.Bytes(), nil
}

// NormalizeYAMLValue converts the map[interface{}]interface{} values produced
// by yaml.v2 into map[string]interface{} so they can be JSON encoded
func NormalizeYAMLValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = NormalizeYAMLValue(item)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = NormalizeYAMLValue(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = NormalizeYAMLValue(item)
		}
		return out
	default:
		return v
	}
}
