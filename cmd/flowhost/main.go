// Package main is the entry point of the reference host the console talks to.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/tcmartin/flowconsole/pkg/api"
	"github.com/tcmartin/flowconsole/pkg/config"
	"github.com/tcmartin/flowconsole/pkg/logging"
	"github.com/tcmartin/flowconsole/pkg/runtime"
	"github.com/tcmartin/flowconsole/pkg/session"
	"github.com/tcmartin/flowconsole/pkg/storage"
)

var (
	// Command-line flags
	configPath = flag.String("config", "", "Path to config file")
	version    = flag.Bool("version", false, "Print version information")
)

// Version information
const (
	AppVersion = "0.1.0"
	AppName    = "flowhost"
)

func main() {
	// Load environment variables from .env file
	_ = godotenv.Load()

	flag.Parse()

	if *version {
		fmt.Printf("%s version %s\n", AppName, AppVersion)
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	app, err := NewApp(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	// Handle graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Application failed: %v", err)
		}
	case <-stop:
		log.Println("Shutting down gracefully...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.Stop(ctx); err != nil {
			log.Fatalf("Error during shutdown: %v", err)
		}
	}
}

// loadConfig loads the configuration from the given path or the standard locations
func loadConfig() (*config.Config, error) {
	var cfg *config.Config

	if *configPath != "" {
		var err error
		cfg, err = config.LoadConfig(*configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", *configPath, err)
		}
	} else {
		locations := []string{
			"./config.json",
			"./configs/config.json",
			filepath.Join(os.Getenv("HOME"), ".flowconsole", "config.json"),
			"/etc/flowconsole/config.json",
		}
		for _, path := range locations {
			if loaded, err := config.LoadConfig(path); err == nil {
				cfg = loaded
				break
			}
		}
		if cfg == nil {
			cfg = config.DefaultConfig()
		}
	}

	config.OverrideFromEnv(cfg)
	return cfg, nil
}

// App is the host process: storage, executor and API server
type App struct {
	config          *config.Config
	server          *api.Server
	executor        *runtime.Executor
	storageProvider storage.StorageProvider
	logger          logging.Logger
}

// NewApp wires the host from its configuration
func NewApp(cfg *config.Config) (*App, error) {
	logger, err := logging.NewLogger(cfg.Logging.LogConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	log.Printf("Initializing %s storage with %s lock store", cfg.Storage.Type, cfg.Storage.LockStore)
	provider, err := storage.NewProvider(storage.ConfigFromSettings(cfg.Storage))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage provider: %w", err)
	}
	if err := provider.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	executor := runtime.NewExecutor(runtime.Options{
		Executions: provider.GetExecutionStore(),
		Trees:      provider.GetTreeStore(),
		Logger:     logger,
	})

	var tokens *session.TokenService
	if cfg.Auth.JWTSecret != "" {
		tokens = session.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiration)
	} else {
		log.Println("No JWT secret configured, authentication is disabled")
	}

	server := api.NewServer(cfg, api.Dependencies{
		Trees:   provider.GetTreeStore(),
		Locks:   provider.GetLockStore(),
		Runtime: executor,
		Tokens:  tokens,
		Logger:  logger,
	})

	return &App{
		config:          cfg,
		server:          server,
		executor:        executor,
		storageProvider: provider,
		logger:          logger,
	}, nil
}

// Start starts the application
func (a *App) Start() error {
	fmt.Printf("Starting %s version %s\n", AppName, AppVersion)
	a.logger.LogSystemEvent("host.started", map[string]interface{}{
		"version":    AppVersion,
		"port":       a.config.Server.Port,
		"storage":    a.config.Storage.Type,
		"lock_store": a.config.Storage.LockStore,
		"auth":       a.config.Auth.JWTSecret != "",
	})
	return a.server.Start()
}

// Stop stops the server, then the running executions, then storage
func (a *App) Stop(ctx context.Context) error {
	if err := a.server.Stop(ctx); err != nil {
		return err
	}
	if err := a.executor.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to stop executions: %w", err)
	}
	if err := a.storageProvider.Close(); err != nil {
		return fmt.Errorf("failed to close storage: %w", err)
	}
	a.logger.LogSystemEvent("host.stopped", nil)
	return nil
}
