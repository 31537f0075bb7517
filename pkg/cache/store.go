package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-redis/redis/v8"
)

// Entry is one cached value
type Entry struct {
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// Store persists the whole cache map
type Store interface {
	Load(ctx context.Context) (map[string]Entry, error)
	Save(ctx context.Context, entries map[string]Entry) error
}

// FileStore keeps the cache map in a JSON file
type FileStore struct {
	path string
}

// NewFileStore creates a file store at path
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load implements Store. A missing file is an empty cache.
func (s *FileStore) Load(ctx context.Context) (map[string]Entry, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache file: %w", err)
	}

	entries := map[string]Entry{}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode cache file: %w", err)
	}
	return entries, nil
}

// Save implements Store. The file is replaced atomically.
func (s *FileStore) Save(ctx context.Context, entries map[string]Entry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode cache: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".cache-*")
	if err != nil {
		return fmt.Errorf("failed to create cache file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	return os.Rename(tmp.Name(), s.path)
}

// RedisStore keeps the cache map under a single redis key
type RedisStore struct {
	client     *redis.Client
	key        string
	expiration time.Duration
}

// NewRedisStore creates a redis store. A positive expiration lets redis drop
// the map once every entry would have expired anyway.
func NewRedisStore(client *redis.Client, key string, expiration time.Duration) *RedisStore {
	return &RedisStore{client: client, key: key, expiration: expiration}
}

// Load implements Store
func (s *RedisStore) Load(ctx context.Context) (map[string]Entry, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return map[string]Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cache from redis: %w", err)
	}

	entries := map[string]Entry{}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode cache from redis: %w", err)
	}
	return entries, nil
}

// Save implements Store
func (s *RedisStore) Save(ctx context.Context, entries map[string]Entry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode cache: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, s.expiration).Err(); err != nil {
		return fmt.Errorf("failed to save cache to redis: %w", err)
	}
	return nil
}
