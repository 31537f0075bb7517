package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/tcmartin/flowconsole/pkg/models"
)

// DefaultRedisLockPrefix prefixes the hash key of every tree lock
const DefaultRedisLockPrefix = "flowconsole:lock:"

// RedisLockStoreConfig contains configuration for the redis lock store
type RedisLockStoreConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// acquireScript sets the lock hash when it is absent or owned by ARGV[1]
var acquireScript = redis.NewScript(`
local holder = redis.call('HGET', KEYS[1], 'session_id')
if (not holder) or holder == ARGV[1] then
	redis.call('HSET', KEYS[1], 'tree_id', ARGV[2], 'session_id', ARGV[1], 'user_id', ARGV[3], 'acquired_at', ARGV[4])
	return 1
end
return 0
`)

// releaseScript deletes the lock hash only when owned by ARGV[1]
var releaseScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'session_id') == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisLockStore implements the LockStore interface with one redis hash per tree
type RedisLockStore struct {
	client *redis.Client
	prefix string
}

// NewRedisLockStore connects to redis and verifies the connection
func NewRedisLockStore(config RedisLockStoreConfig) (*RedisLockStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisLockStoreWithClient(client, config.KeyPrefix), nil
}

// NewRedisLockStoreWithClient creates a lock store over an existing client
func NewRedisLockStoreWithClient(client *redis.Client, prefix string) *RedisLockStore {
	if prefix == "" {
		prefix = DefaultRedisLockPrefix
	}
	return &RedisLockStore{
		client: client,
		prefix: prefix,
	}
}

// Close closes the redis client
func (s *RedisLockStore) Close() error {
	return s.client.Close()
}

func (s *RedisLockStore) key(treeID string) string {
	return s.prefix + treeID
}

// GetLock returns the current lock of a tree
func (s *RedisLockStore) GetLock(treeID string) (*models.TreeLock, error) {
	fields, err := s.client.HGetAll(context.Background(), s.key(treeID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get lock: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	lock := &models.TreeLock{
		TreeID:    fields["tree_id"],
		SessionID: fields["session_id"],
		UserID:    fields["user_id"],
	}
	if ts := fields["acquired_at"]; ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			lock.AcquiredAt = t
		}
	}
	return lock, nil
}

// AcquireLock grants or refreshes the lock atomically
func (s *RedisLockStore) AcquireLock(lock models.TreeLock) (*models.TreeLock, error) {
	if err := validateLock(lock); err != nil {
		return nil, err
	}
	if lock.AcquiredAt.IsZero() {
		lock.AcquiredAt = time.Now()
	}

	granted, err := acquireScript.Run(
		context.Background(), s.client, []string{s.key(lock.TreeID)},
		lock.SessionID, lock.TreeID, lock.UserID, lock.AcquiredAt.UTC().Format(time.RFC3339Nano),
	).Int()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}

	if granted == 0 {
		holder, err := s.GetLock(lock.TreeID)
		if err != nil {
			return nil, err
		}
		return holder, ErrLockHeld
	}

	return &lock, nil
}

// ReleaseLock removes the lock when sessionID holds it
func (s *RedisLockStore) ReleaseLock(treeID, sessionID string) error {
	err := releaseScript.Run(context.Background(), s.client, []string{s.key(treeID)}, sessionID).Err()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}
