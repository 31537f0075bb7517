package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"github.com/tcmartin/flowconsole/pkg/config"
	"github.com/tcmartin/flowconsole/pkg/storage"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create host storage tables and check the cache backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := migrateStorage(cfg); err != nil {
				return err
			}
			if err := checkCacheRedis(cfg); err != nil {
				return err
			}
			fmt.Println("Migrations and checks completed successfully")
			return nil
		},
	}
}

// migrateStorage initializes the configured provider, which creates its
// tables when they are missing
func migrateStorage(cfg *config.Config) error {
	provider, err := storage.NewProvider(storage.ConfigFromSettings(cfg.Storage))
	if err != nil {
		return fmt.Errorf("storage connect failed: %w", err)
	}
	defer provider.Close()

	if err := provider.Initialize(); err != nil {
		return fmt.Errorf("storage initialize failed: %w", err)
	}
	fmt.Printf("Storage migrated (type=%s locks=%s)\n", cfg.Storage.Type, cfg.Storage.LockStore)
	return nil
}

func checkCacheRedis(cfg *config.Config) error {
	if cfg.Cache.Store != "redis" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr})
	defer client.Close()
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connect failed: %w", err)
	}
	fmt.Printf("Redis reachable at %s\n", cfg.Cache.RedisAddr)
	return nil
}
