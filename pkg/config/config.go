// Package config provides configuration handling for the console and the host.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/tcmartin/flowconsole/pkg/logging"
)

// Config represents the application configuration
type Config struct {
	// Server configuration (host binary)
	Server ServerConfig `json:"server"`

	// Client configuration (console binary)
	Client ClientConfig `json:"client"`

	// Execution polling configuration
	Execution ExecutionConfig `json:"execution"`

	// Cache configuration
	Cache CacheConfig `json:"cache"`

	// Storage configuration (host binary)
	Storage StorageConfig `json:"storage"`

	// Auth configuration
	Auth AuthConfig `json:"auth"`

	// Logging configuration
	Logging LoggingConfig `json:"logging"`

	// Webhooks notified about console runs
	Webhooks []WebhookConfig `json:"webhooks,omitempty"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	// Host to bind to
	Host string `json:"host"`

	// Port to listen on
	Port int `json:"port"`

	// TLS configuration
	TLS TLSConfig `json:"tls"`
}

// TLSConfig contains TLS settings
type TLSConfig struct {
	// Enabled indicates whether TLS is enabled
	Enabled bool `json:"enabled"`

	// CertFile is the path to the certificate file
	CertFile string `json:"cert_file"`

	// KeyFile is the path to the key file
	KeyFile string `json:"key_file"`
}

// ClientConfig contains the console's identity and remote endpoint
type ClientConfig struct {
	// ServerURL is the base URL of the host API, including the /api/v1 prefix
	ServerURL string `json:"server_url"`

	// UserID identifies the operator
	UserID string `json:"user_id"`

	// HostName is the host that drives the device
	HostName string `json:"host_name"`

	// DeviceID is the device under test
	DeviceID string `json:"device_id"`

	// RequestTimeoutSeconds bounds each HTTP request
	RequestTimeoutSeconds int `json:"request_timeout_seconds"`
}

// ExecutionConfig contains polling settings
type ExecutionConfig struct {
	// PollIntervalMs is the delay between status polls
	PollIntervalMs int `json:"poll_interval_ms"`

	// MaxPollAttempts is the number of polls before a timeout error
	MaxPollAttempts int `json:"max_poll_attempts"`
}

// CacheConfig contains tree cache settings
type CacheConfig struct {
	// TTLSeconds is the maximum age of a cache entry
	TTLSeconds int `json:"ttl_seconds"`

	// DebounceMs is the quiet period before the cache is persisted
	DebounceMs int `json:"debounce_ms"`

	// Store is the durable store: "file", "redis" or "none"
	Store string `json:"store"`

	// FilePath is the file used by the file store
	FilePath string `json:"file_path"`

	// RedisAddr is the address used by the redis store
	RedisAddr string `json:"redis_addr"`

	// RedisKey is the key the cache map is persisted under
	RedisKey string `json:"redis_key"`
}

// StorageConfig contains host storage settings
type StorageConfig struct {
	// Type of tree storage to use: "memory" or "postgres"
	Type string `json:"type"`

	// LockStore is the lock backend: "memory", "redis" or "dynamodb"
	LockStore string `json:"lock_store"`

	// PostgreSQL configuration
	Postgres PostgresConfig `json:"postgres"`

	// Redis configuration
	Redis RedisConfig `json:"redis"`

	// DynamoDB configuration
	DynamoDB DynamoDBConfig `json:"dynamodb"`
}

// WebhookConfig describes one run notification endpoint
type WebhookConfig struct {
	// URL receives a POST per event
	URL string `json:"url"`

	// Secret signs the payload when set
	Secret string `json:"secret,omitempty"`

	// Headers are added to every request
	Headers map[string]string `json:"headers,omitempty"`

	// Events limits delivery to these event types; empty means all
	Events []string `json:"events,omitempty"`

	// MaxRetries is the number of redeliveries after a failure
	MaxRetries int `json:"max_retries"`

	// RetryDelayMs is the first backoff delay, doubled on each retry
	RetryDelayMs int `json:"retry_delay_ms"`
}

// RetryDelay returns the first backoff delay as a duration
func (c WebhookConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

// PostgresConfig contains PostgreSQL settings
type PostgresConfig struct {
	// Host is the database host
	Host string `json:"host"`

	// Port is the database port
	Port int `json:"port"`

	// Database is the database name
	Database string `json:"database"`

	// User is the database user
	User string `json:"user"`

	// Password is the database password
	Password string `json:"password"`

	// SSLMode is the SSL mode
	SSLMode string `json:"ssl_mode"`
}

// RedisConfig contains Redis settings
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// DynamoDBConfig contains DynamoDB settings
type DynamoDBConfig struct {
	// Region is the AWS region
	Region string `json:"region"`

	// Endpoint is the DynamoDB endpoint (for local development)
	Endpoint string `json:"endpoint"`

	// TablePrefix is the prefix for all tables
	TablePrefix string `json:"table_prefix"`
}

// AuthConfig contains authentication settings
type AuthConfig struct {
	// JWTSecret is the secret for signing session tokens
	JWTSecret string `json:"jwt_secret"`

	// TokenExpiration is the token expiration time in hours
	TokenExpiration int `json:"token_expiration"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	// Level is the logging level
	Level string `json:"level"` // "debug", "info", "warn", "error"

	// Format is the log format
	Format string `json:"format"` // "json", "console"

	// Output is the log output
	Output string `json:"output"` // "stdout", "stderr", "file"

	// FilePath is the path to the log file
	FilePath string `json:"file_path"`
}

// LogConfig converts the logging section for logging.NewLogger
func (c LoggingConfig) LogConfig() logging.LogConfig {
	return logging.LogConfig{
		Level:    c.Level,
		Format:   c.Format,
		Output:   c.Output,
		FilePath: c.FilePath,
	}
}

// PollInterval returns the poll interval as a duration
func (c ExecutionConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// TTL returns the cache TTL as a duration
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// Debounce returns the persistence quiet period as a duration
func (c CacheConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

// RequestTimeout returns the per-request timeout as a duration
func (c ClientConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// LoadConfig loads the configuration from a file
func LoadConfig(path string) (*Config, error) {
	// Read the file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Start from defaults so partial files stay valid
	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8080,
		},
		Client: ClientConfig{
			ServerURL:             "http://localhost:8080/api/v1",
			UserID:                "operator",
			HostName:              "local-host",
			DeviceID:              "device1",
			RequestTimeoutSeconds: 30,
		},
		Execution: ExecutionConfig{
			PollIntervalMs:  1000,
			MaxPollAttempts: 120,
		},
		Cache: CacheConfig{
			TTLSeconds: 30,
			DebounceMs: 500,
			Store:      "file",
			FilePath:   filepath.Join(home, ".flowconsole", "tree-cache.json"),
			RedisAddr:  "localhost:6379",
			RedisKey:   "flowconsole:tree-cache",
		},
		Storage: StorageConfig{
			Type:      "memory",
			LockStore: "memory",
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				Database: "flowconsole",
				User:     "flowconsole",
				SSLMode:  "disable",
			},
			Redis: RedisConfig{
				Addr: "localhost:6379",
			},
			DynamoDB: DynamoDBConfig{
				Region:      "us-west-2",
				TablePrefix: "flowconsole_",
			},
		},
		Auth: AuthConfig{
			TokenExpiration: 24,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
	}
}

// SaveConfig saves the configuration to a file
func SaveConfig(config *Config, path string) error {
	// Create the directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Marshal the JSON
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Write the file
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// OverrideFromEnv overrides configuration values from FLOWCONSOLE_* environment variables
func OverrideFromEnv(cfg *Config) {
	// Server configuration
	setString(&cfg.Server.Host, "FLOWCONSOLE_SERVER_HOST")
	setInt(&cfg.Server.Port, "FLOWCONSOLE_SERVER_PORT")

	// Client configuration
	setString(&cfg.Client.ServerURL, "FLOWCONSOLE_SERVER_URL")
	setString(&cfg.Client.UserID, "FLOWCONSOLE_USER_ID")
	setString(&cfg.Client.HostName, "FLOWCONSOLE_HOST_NAME")
	setString(&cfg.Client.DeviceID, "FLOWCONSOLE_DEVICE_ID")

	// Execution configuration
	setInt(&cfg.Execution.PollIntervalMs, "FLOWCONSOLE_POLL_INTERVAL_MS")
	setInt(&cfg.Execution.MaxPollAttempts, "FLOWCONSOLE_MAX_POLL_ATTEMPTS")

	// Cache configuration
	setInt(&cfg.Cache.TTLSeconds, "FLOWCONSOLE_CACHE_TTL_SECONDS")
	setString(&cfg.Cache.Store, "FLOWCONSOLE_CACHE_STORE")
	setString(&cfg.Cache.FilePath, "FLOWCONSOLE_CACHE_FILE")
	setString(&cfg.Cache.RedisAddr, "FLOWCONSOLE_CACHE_REDIS_ADDR")

	// Storage configuration
	setString(&cfg.Storage.Type, "FLOWCONSOLE_STORAGE_TYPE")
	setString(&cfg.Storage.LockStore, "FLOWCONSOLE_LOCK_STORE")
	setString(&cfg.Storage.Postgres.Host, "FLOWCONSOLE_POSTGRES_HOST")
	setInt(&cfg.Storage.Postgres.Port, "FLOWCONSOLE_POSTGRES_PORT")
	setString(&cfg.Storage.Postgres.Database, "FLOWCONSOLE_POSTGRES_DATABASE")
	setString(&cfg.Storage.Postgres.User, "FLOWCONSOLE_POSTGRES_USER")
	setString(&cfg.Storage.Postgres.Password, "FLOWCONSOLE_POSTGRES_PASSWORD")
	setString(&cfg.Storage.Postgres.SSLMode, "FLOWCONSOLE_POSTGRES_SSL_MODE")
	setString(&cfg.Storage.Redis.Addr, "FLOWCONSOLE_REDIS_ADDR")
	setString(&cfg.Storage.DynamoDB.Region, "FLOWCONSOLE_DYNAMODB_REGION")
	setString(&cfg.Storage.DynamoDB.Endpoint, "FLOWCONSOLE_DYNAMODB_ENDPOINT")
	setString(&cfg.Storage.DynamoDB.TablePrefix, "FLOWCONSOLE_DYNAMODB_TABLE_PREFIX")

	// Auth configuration
	setString(&cfg.Auth.JWTSecret, "FLOWCONSOLE_JWT_SECRET")
	setInt(&cfg.Auth.TokenExpiration, "FLOWCONSOLE_TOKEN_EXPIRATION")

	// Logging configuration
	setString(&cfg.Logging.Level, "FLOWCONSOLE_LOG_LEVEL")
	setString(&cfg.Logging.Format, "FLOWCONSOLE_LOG_FORMAT")
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func setInt(dst *int, env string) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
