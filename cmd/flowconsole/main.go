// Package main provides the flowconsole command line: run test flows against a
// host, edit navigation trees under a lock and schedule recurring runs.
package main

import (
	"fmt"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/tcmartin/flowconsole/pkg/cache"
	"github.com/tcmartin/flowconsole/pkg/config"
	"github.com/tcmartin/flowconsole/pkg/execution"
	"github.com/tcmartin/flowconsole/pkg/locking"
	"github.com/tcmartin/flowconsole/pkg/logging"
	"github.com/tcmartin/flowconsole/pkg/session"
	"github.com/tcmartin/flowconsole/pkg/treeapi"
	"github.com/tcmartin/flowconsole/pkg/utils"
	"github.com/tcmartin/flowconsole/pkg/webhooks"
)

var (
	// Global flags
	configPath string
	serverURL  string
	userID     string
	hostName   string
	deviceID   string
	sessionID  string
	logLevel   string
)

// console holds what every command needs to talk to the host
type console struct {
	cfg     *config.Config
	logger  logging.Logger
	session *session.Session
	http    *utils.HTTPClient

	// notifier is set once a flow runner with webhooks is built
	notifier *webhooks.Dispatcher
}

func main() {
	rootCmd := &cobra.Command{
		Use:           "flowconsole",
		Short:         "Device test flow console",
		Long:          "Command-line console for running device test flows and editing navigation trees on a host",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Host API base URL")
	rootCmd.PersistentFlags().StringVar(&userID, "user", "", "Operator user ID")
	rootCmd.PersistentFlags().StringVar(&hostName, "host-name", "", "Host driving the device")
	rootCmd.PersistentFlags().StringVar(&deviceID, "device", "", "Device under test")
	rootCmd.PersistentFlags().StringVar(&sessionID, "session", "", "Reuse a session ID (to release a lock taken by an earlier command)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(runCmd(), blockCmd(), validateCmd())
	rootCmd.AddCommand(treeCmd())
	rootCmd.AddCommand(cacheCmd())
	rootCmd.AddCommand(scheduleCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, then flags and FLOWCONSOLE_* variables
func loadConfig() (*config.Config, error) {
	_ = godotenv.Load()

	cfg := config.DefaultConfig()
	if configPath != "" {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	config.OverrideFromEnv(cfg)

	if serverURL != "" {
		cfg.Client.ServerURL = serverURL
	}
	if userID != "" {
		cfg.Client.UserID = userID
	}
	if hostName != "" {
		cfg.Client.HostName = hostName
	}
	if deviceID != "" {
		cfg.Client.DeviceID = deviceID
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

// newConsole builds the session and HTTP client shared by all commands
func newConsole() (*console, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(cfg.Logging.LogConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	sess := session.New(cfg.Client.UserID, cfg.Client.HostName, cfg.Client.DeviceID)
	if sessionID != "" {
		sess.ID = sessionID
	}
	if cfg.Auth.JWTSecret != "" {
		tokens := session.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiration)
		if err := sess.Authorize(tokens); err != nil {
			return nil, fmt.Errorf("failed to sign session token: %w", err)
		}
	}

	httpClient := utils.NewHTTPClient(cfg.Client.ServerURL, cfg.Client.RequestTimeout())
	if sess.Token != "" {
		httpClient.SetToken(sess.Token)
	}

	return &console{cfg: cfg, logger: logger, session: sess, http: httpClient}, nil
}

func (c *console) executionClient() *execution.Client {
	return execution.NewClient(c.http, execution.ClientOptions{
		PollInterval: c.cfg.Execution.PollInterval(),
		MaxAttempts:  c.cfg.Execution.MaxPollAttempts,
		Logger:       c.logger,
	})
}

func (c *console) lockManager() *locking.Manager {
	return locking.NewManager(locking.NewHTTPLockClient(c.http), c.session, nil, c.logger)
}

// treeCache opens the configured durable cache and restores its entries
func (c *console) treeCache() *cache.TreeCache {
	var store cache.Store
	switch c.cfg.Cache.Store {
	case "file":
		store = cache.NewFileStore(c.cfg.Cache.FilePath)
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: c.cfg.Cache.RedisAddr})
		store = cache.NewRedisStore(client, c.cfg.Cache.RedisKey, c.cfg.Cache.TTL())
	}

	treeCache := cache.New(cache.Options{
		TTL:      c.cfg.Cache.TTL(),
		Debounce: c.cfg.Cache.Debounce(),
		Store:    store,
		Logger:   c.logger,
	})
	treeCache.Load(cmdContext())
	return treeCache
}

func (c *console) loader(treeCache *cache.TreeCache) *treeapi.CachedLoader {
	return treeapi.NewCachedLoader(treeapi.NewGateway(c.http), treeCache, c.cfg.Client.ServerURL, c.logger)
}

func (c *console) editor(locks *locking.Manager, treeCache *cache.TreeCache) *treeapi.Editor {
	return treeapi.NewEditor(c.loader(treeCache), locks, c.logger)
}
