package utils

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseYAMLCodeFence(t *testing.T) {
	var out map[string]interface{}
	require.NoError(t, ParseYAML("```yaml\nname: home\ncount: 2\n```", &out))
	assert.Equal(t, "home", out["name"])
	assert.Equal(t, 2, out["count"])

	out = nil
	require.NoError(t, ParseYAML("name: plain", &out))
	assert.Equal(t, "plain", out["name"])
}

func TestReadAndMarshalYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.yaml")
	data, err := MarshalYAML(map[string]interface{}{"id": "t1", "nodes": []string{"a", "b"}})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))

	var out struct {
		ID    string   `yaml:"id"`
		Nodes []string `yaml:"nodes"`
	}
	require.NoError(t, ReadYAMLFile(path, &out))
	assert.Equal(t, "t1", out.ID)
	assert.Equal(t, []string{"a", "b"}, out.Nodes)

	assert.Error(t, ReadYAMLFile(filepath.Join(t.TempDir(), "missing.yaml"), &out))
}

func TestNormalizeYAMLValue(t *testing.T) {
	in := map[interface{}]interface{}{
		"outer": map[interface{}]interface{}{"inner": 1},
		"list":  []interface{}{map[interface{}]interface{}{"k": "v"}},
		2:       "two",
	}
	out := NormalizeYAMLValue(in)

	_, err := json.Marshal(out)
	require.NoError(t, err)

	m := out.(map[string]interface{})
	assert.Equal(t, map[string]interface{}{"inner": 1}, m["outer"])
	assert.Equal(t, []interface{}{map[string]interface{}{"k": "v"}}, m["list"])
	assert.Equal(t, "two", m["2"])
}
