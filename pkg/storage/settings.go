package storage

import "github.com/tcmartin/flowconsole/pkg/config"

// ConfigFromSettings maps the storage section of the configuration file to a
// provider configuration
func ConfigFromSettings(s config.StorageConfig) ProviderConfig {
	return ProviderConfig{
		Type:      ProviderType(s.Type),
		LockStore: LockStoreType(s.LockStore),
		PostgreSQL: &PostgreSQLProviderConfig{
			Host:     s.Postgres.Host,
			Port:     s.Postgres.Port,
			User:     s.Postgres.User,
			Password: s.Postgres.Password,
			Database: s.Postgres.Database,
			SSLMode:  s.Postgres.SSLMode,
		},
		Redis: &RedisLockStoreConfig{
			Addr:     s.Redis.Addr,
			Password: s.Redis.Password,
			DB:       s.Redis.DB,
		},
		DynamoDB: &DynamoDBConfig{
			Region:      s.DynamoDB.Region,
			Endpoint:    s.DynamoDB.Endpoint,
			TablePrefix: s.DynamoDB.TablePrefix,
		},
	}
}
