package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.Equal(t, time.Second, cfg.Execution.PollInterval())
	assert.Equal(t, 120, cfg.Execution.MaxPollAttempts)
	assert.Equal(t, 30*time.Second, cfg.Cache.TTL())
	assert.Equal(t, 500*time.Millisecond, cfg.Cache.Debounce())
}

func TestSaveAndLoadConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "config.json")

	originalCfg := DefaultConfig()
	originalCfg.Server.Host = "testhost"
	originalCfg.Server.Port = 9090
	originalCfg.Client.DeviceID = "device7"
	originalCfg.Storage.Type = "postgres"

	require.NoError(t, SaveConfig(originalCfg, configPath))

	loadedCfg, err := LoadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, "testhost", loadedCfg.Server.Host)
	assert.Equal(t, 9090, loadedCfg.Server.Port)
	assert.Equal(t, "device7", loadedCfg.Client.DeviceID)
	assert.Equal(t, "postgres", loadedCfg.Storage.Type)
}

func TestLoadPartialConfigKeepsDefaults(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(configPath, []byte(`{"execution":{"max_poll_attempts":3}}`), 0644))

	cfg, err := LoadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Execution.MaxPollAttempts)
	assert.Equal(t, 1000, cfg.Execution.PollIntervalMs)
	assert.Equal(t, 30, cfg.Cache.TTLSeconds)
}

func TestLoadWebhooks(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.json")
	data := `{"webhooks":[{"url":"http://ci.local/hook","secret":"s","events":["run.completed"],"max_retries":2,"retry_delay_ms":250}]}`
	require.NoError(t, os.WriteFile(configPath, []byte(data), 0644))

	cfg, err := LoadConfig(configPath)
	require.NoError(t, err)

	require.Len(t, cfg.Webhooks, 1)
	hook := cfg.Webhooks[0]
	assert.Equal(t, "http://ci.local/hook", hook.URL)
	assert.Equal(t, []string{"run.completed"}, hook.Events)
	assert.Equal(t, 2, hook.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, hook.RetryDelay())
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0644))
	_, err = LoadConfig(bad)
	assert.Error(t, err)
}

func TestOverrideFromEnv(t *testing.T) {
	t.Setenv("FLOWCONSOLE_SERVER_URL", "http://host:9000")
	t.Setenv("FLOWCONSOLE_MAX_POLL_ATTEMPTS", "10")
	t.Setenv("FLOWCONSOLE_SERVER_PORT", "not-a-number")
	t.Setenv("FLOWCONSOLE_LOCK_STORE", "redis")

	cfg := DefaultConfig()
	OverrideFromEnv(cfg)

	assert.Equal(t, "http://host:9000", cfg.Client.ServerURL)
	assert.Equal(t, 10, cfg.Execution.MaxPollAttempts)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "redis", cfg.Storage.LockStore)
}
