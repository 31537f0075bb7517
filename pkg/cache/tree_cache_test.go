package cache

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tcmartin/flowconsole/pkg/clock"
	"github.com/tcmartin/flowconsole/pkg/logging"
)

// recordingStore is an in-memory Store that counts saves
type recordingStore struct {
	mu      sync.Mutex
	saved   map[string]Entry
	saves   int
	failErr error
}

func (s *recordingStore) Load(ctx context.Context) (map[string]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]Entry{}
	for k, v := range s.saved {
		out[k] = v
	}
	return out, nil
}

func (s *recordingStore) Save(ctx context.Context, entries map[string]Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.failErr != nil {
		return s.failErr
	}
	s.saved = entries
	return nil
}

var start = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

func newCache(store Store) (*TreeCache, *clock.Fake) {
	fake := clock.NewFake(start)
	return New(Options{TTL: 30 * time.Second, Debounce: 500 * time.Millisecond, Store: store, Clock: fake}), fake
}

func TestKey(t *testing.T) {
	a := Key("http://host:5000", "tree-1", map[string]string{"include_metrics": "true", "depth": "2"})
	b := Key("http://host:5000", "tree-1", map[string]string{"depth": "2", "include_metrics": "true"})
	assert.Equal(t, a, b)
	assert.Equal(t, "http://host:5000|tree-1|depth=2,include_metrics=true", a)
	assert.Equal(t, "tree-1", ResourceOf(a))
	assert.Equal(t, "tree-1", ResourceOf(Key("s", "tree-1", nil)))
	assert.Equal(t, "", ResourceOf("garbage"))
}

func TestGetSet(t *testing.T) {
	c, _ := newCache(nil)
	key := Key("s", "tree-1", nil)

	_, ok := c.Get(key)
	assert.False(t, ok)

	require.NoError(t, c.Set(key, map[string]string{"name": "home"}))
	var out map[string]string
	require.True(t, c.GetInto(key, &out))
	assert.Equal(t, "home", out["name"])
}

func TestEntryExpiresAfterTTL(t *testing.T) {
	c, fake := newCache(nil)
	key := Key("s", "tree-1", nil)
	require.NoError(t, c.Set(key, "v"))

	fake.Advance(29 * time.Second)
	_, ok := c.Get(key)
	assert.True(t, ok)

	fake.Advance(2 * time.Second)
	_, ok = c.Get(key)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestInvalidateMatchesResourceOnly(t *testing.T) {
	c, _ := newCache(nil)
	require.NoError(t, c.Set(Key("s1", "tree-1", nil), 1))
	require.NoError(t, c.Set(Key("s2", "tree-1", map[string]string{"include_metrics": "true"}), 2))
	require.NoError(t, c.Set(Key("s1", "tree-10", nil), 3))

	assert.Equal(t, 2, c.Invalidate("tree-1"))
	_, ok := c.Get(Key("s1", "tree-10", nil))
	assert.True(t, ok)
	assert.Equal(t, 1, c.Len())

	c.InvalidateAll()
	assert.Equal(t, 0, c.Len())
}

func TestPersistenceIsDebounced(t *testing.T) {
	store := &recordingStore{}
	c, fake := newCache(store)

	for i := 0; i < 5; i++ {
		require.NoError(t, c.Set(Key("s", "tree-1", map[string]string{"n": string(rune('a' + i))}), i))
		fake.Advance(100 * time.Millisecond)
	}
	assert.Equal(t, 0, store.saves)
	assert.Equal(t, 1, fake.Pending())

	fake.Advance(500 * time.Millisecond)
	assert.Equal(t, 1, store.saves)
	assert.Len(t, store.saved, 5)
	assert.Equal(t, 0, fake.Pending())
}

func TestCloseFlushesPendingWrite(t *testing.T) {
	store := &recordingStore{}
	c, fake := newCache(store)

	require.NoError(t, c.Set(Key("s", "tree-1", nil), "v"))
	require.NoError(t, c.Close())
	assert.Equal(t, 1, store.saves)
	assert.Equal(t, 0, fake.Pending())

	require.NoError(t, c.Set(Key("s", "tree-2", nil), "v"))
	fake.Advance(time.Second)
	assert.Equal(t, 1, store.saves)
}

func TestPersistenceFailureIsAbsorbed(t *testing.T) {
	var buf bytes.Buffer
	store := &recordingStore{failErr: errors.New("disk full")}
	fake := clock.NewFake(start)
	c := New(Options{Store: store, Clock: fake, Logger: logging.NewWriterLogger(&buf, "warn")})

	key := Key("s", "tree-1", nil)
	require.NoError(t, c.Set(key, "v"))
	fake.Advance(DefaultDebounce)

	assert.Equal(t, 1, store.saves)
	assert.Contains(t, buf.String(), "disk full")
	_, ok := c.Get(key)
	assert.True(t, ok)
	assert.NoError(t, c.Close())
}

func TestLoadDropsExpiredEntries(t *testing.T) {
	store := &recordingStore{saved: map[string]Entry{
		Key("s", "fresh", nil): {Data: []byte(`"a"`), Timestamp: start.Add(-10 * time.Second)},
		Key("s", "stale", nil): {Data: []byte(`"b"`), Timestamp: start.Add(-31 * time.Second)},
	}}
	c, _ := newCache(store)

	assert.Equal(t, 1, c.Load(context.Background()))
	data, ok := c.Get(Key("s", "fresh", nil))
	require.True(t, ok)
	assert.JSONEq(t, `"a"`, string(data))
	_, ok = c.Get(Key("s", "stale", nil))
	assert.False(t, ok)
}

func TestGetIntoDiscardsBadEntry(t *testing.T) {
	c, _ := newCache(nil)
	key := Key("s", "tree-1", nil)
	require.NoError(t, c.Set(key, "not an object"))

	var out map[string]string
	assert.False(t, c.GetInto(key, &out))
	assert.Equal(t, 0, c.Len())
}

// gatedStore blocks every Save until release is closed
type gatedStore struct {
	recordingStore
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStore) Save(ctx context.Context, entries map[string]Entry) error {
	s.entered <- struct{}{}
	<-s.release
	return s.recordingStore.Save(ctx, entries)
}

func TestConcurrentSavesLandInOrder(t *testing.T) {
	store := &gatedStore{entered: make(chan struct{}, 2), release: make(chan struct{})}
	c, _ := newCache(store)

	first := Key("s", "tree-1", nil)
	second := Key("s", "tree-2", nil)
	require.NoError(t, c.Set(first, "v"))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.NoError(t, c.Flush(context.Background()))
	}()
	<-store.entered

	require.NoError(t, c.Set(second, "v"))
	go func() {
		defer wg.Done()
		assert.NoError(t, c.Flush(context.Background()))
	}()

	close(store.release)
	wg.Wait()

	assert.Equal(t, 2, store.saves)
	assert.Contains(t, store.saved, first)
	assert.Contains(t, store.saved, second)
}
