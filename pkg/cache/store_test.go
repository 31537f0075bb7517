package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEntries() map[string]Entry {
	return map[string]Entry{
		Key("s", "tree-1", nil): {Data: []byte(`{"id":"tree-1"}`), Timestamp: start},
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cache.json")
	store := NewFileStore(path)
	ctx := context.Background()

	entries, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, store.Save(ctx, sampleEntries()))
	entries, err = store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	entry := entries[Key("s", "tree-1", nil)]
	assert.JSONEq(t, `{"id":"tree-1"}`, string(entry.Data))
	assert.True(t, entry.Timestamp.Equal(start))
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	require.NoError(t, os.WriteFile(path, []byte("{nope"), 0644))

	_, err := NewFileStore(path).Load(context.Background())
	assert.Error(t, err)
}

func TestRedisStore(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := NewRedisStore(client, "flowconsole:tree-cache", time.Minute)
	ctx := context.Background()

	entries, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, store.Save(ctx, sampleEntries()))
	assert.True(t, mr.Exists("flowconsole:tree-cache"))
	assert.Equal(t, time.Minute, mr.TTL("flowconsole:tree-cache"))

	entries, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	mr.FastForward(2 * time.Minute)
	entries, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTreeCacheWithRedisStore(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := NewRedisStore(client, "cache", 0)
	c, _ := newCache(store)
	require.NoError(t, c.Set(Key("s", "tree-1", nil), "v"))
	require.NoError(t, c.Close())

	restored, _ := newCache(store)
	assert.Equal(t, 1, restored.Load(context.Background()))
}
