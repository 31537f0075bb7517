package storage

import (
	"fmt"
)

// ProviderType represents the type of storage provider
type ProviderType string

const (
	// MemoryProviderType is an in-memory storage provider
	MemoryProviderType ProviderType = "memory"

	// PostgreSQLProviderType is a PostgreSQL storage provider
	PostgreSQLProviderType ProviderType = "postgres"
)

// LockStoreType selects the backend of the lock store
type LockStoreType string

const (
	// DefaultLockStoreType keeps the provider's own lock store
	DefaultLockStoreType LockStoreType = ""

	// MemoryLockStoreType keeps the provider's own lock store
	MemoryLockStoreType LockStoreType = "memory"

	// RedisLockStoreType stores locks in redis
	RedisLockStoreType LockStoreType = "redis"

	// DynamoDBLockStoreType stores locks in DynamoDB
	DynamoDBLockStoreType LockStoreType = "dynamodb"
)

// ProviderConfig contains configuration for storage providers
type ProviderConfig struct {
	// Type is the type of storage provider to create
	Type ProviderType

	// LockStore overrides the provider's lock store
	LockStore LockStoreType

	// PostgreSQL contains configuration for the PostgreSQL provider
	PostgreSQL *PostgreSQLProviderConfig

	// Redis contains configuration for the redis lock store
	Redis *RedisLockStoreConfig

	// DynamoDB contains configuration for the DynamoDB lock store
	DynamoDB *DynamoDBConfig
}

// NewProvider creates a new storage provider based on the configuration
func NewProvider(config ProviderConfig) (StorageProvider, error) {
	var provider StorageProvider

	switch config.Type {
	case MemoryProviderType:
		provider = NewMemoryProvider()

	case PostgreSQLProviderType, "postgresql":
		if config.PostgreSQL == nil {
			return nil, fmt.Errorf("PostgreSQL configuration is required for PostgreSQL provider")
		}
		pg, err := NewPostgreSQLProvider(*config.PostgreSQL)
		if err != nil {
			return nil, err
		}
		provider = pg

	default:
		return nil, fmt.Errorf("unknown provider type: %s", config.Type)
	}

	switch config.LockStore {
	case DefaultLockStoreType, MemoryLockStoreType:
		return provider, nil

	case RedisLockStoreType:
		if config.Redis == nil {
			provider.Close()
			return nil, fmt.Errorf("redis configuration is required for redis lock store")
		}
		locks, err := NewRedisLockStore(*config.Redis)
		if err != nil {
			provider.Close()
			return nil, err
		}
		return WithLockStore(provider, locks), nil

	case DynamoDBLockStoreType:
		if config.DynamoDB == nil {
			provider.Close()
			return nil, fmt.Errorf("DynamoDB configuration is required for DynamoDB lock store")
		}
		locks, err := NewDynamoDBLockStore(*config.DynamoDB)
		if err != nil {
			provider.Close()
			return nil, err
		}
		return WithLockStore(provider, locks), nil

	default:
		provider.Close()
		return nil, fmt.Errorf("unknown lock store type: %s", config.LockStore)
	}
}

// ClosableLockStore is a lock store with its own lifecycle
type ClosableLockStore interface {
	LockStore
	Close() error
}

// lockStoreOverride serves locks from a separate backend
type lockStoreOverride struct {
	StorageProvider
	locks ClosableLockStore
}

// WithLockStore wraps a provider so that GetLockStore returns locks.
// Initialize and Close cover both backends.
func WithLockStore(provider StorageProvider, locks ClosableLockStore) StorageProvider {
	return &lockStoreOverride{
		StorageProvider: provider,
		locks:           locks,
	}
}

// Initialize sets up both backends
func (p *lockStoreOverride) Initialize() error {
	if err := p.StorageProvider.Initialize(); err != nil {
		return err
	}
	if init, ok := p.locks.(interface{ Initialize() error }); ok {
		if err := init.Initialize(); err != nil {
			return fmt.Errorf("failed to initialize lock store: %w", err)
		}
	}
	return nil
}

// Close releases both backends
func (p *lockStoreOverride) Close() error {
	lockErr := p.locks.Close()
	if err := p.StorageProvider.Close(); err != nil {
		return err
	}
	return lockErr
}

// GetLockStore returns the overriding lock store
func (p *lockStoreOverride) GetLockStore() LockStore {
	return p.locks
}
