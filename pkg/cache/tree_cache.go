// Package cache is the time-boxed local cache of tree data.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/tcmartin/flowconsole/pkg/clock"
	"github.com/tcmartin/flowconsole/pkg/logging"
)

const (
	// DefaultTTL is the maximum age of an entry
	DefaultTTL = 30 * time.Second

	// DefaultDebounce is the quiet period before the map is persisted
	DefaultDebounce = 500 * time.Millisecond
)

// Options configures a TreeCache
type Options struct {
	TTL      time.Duration
	Debounce time.Duration

	// Store persists the map; nil keeps the cache in memory only
	Store Store

	Clock  clock.Clock
	Logger logging.Logger
}

// TreeCache is a TTL-scoped cache of tree data. The in-memory map is
// authoritative; persistence failures are logged and otherwise ignored.
type TreeCache struct {
	ttl      time.Duration
	debounce time.Duration
	store    Store
	clock    clock.Clock
	logger   logging.Logger

	// saveMu orders snapshot-and-save so an older map never lands last
	saveMu sync.Mutex

	mu      sync.Mutex
	entries map[string]Entry
	pending clock.Timer
	dirty   bool
	closed  bool
}

// New creates an empty cache
func New(opts Options) *TreeCache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	return &TreeCache{
		ttl:      opts.TTL,
		debounce: opts.Debounce,
		store:    opts.Store,
		clock:    opts.Clock,
		logger:   opts.Logger,
		entries:  make(map[string]Entry),
	}
}

// Load restores the persisted map, dropping expired entries. A store error
// leaves the cache empty and is only logged.
func (c *TreeCache) Load(ctx context.Context) int {
	if c.store == nil {
		return 0
	}
	entries, err := c.store.Load(ctx)
	if err != nil {
		c.logger.Warn("Failed to load tree cache", logging.Err(err))
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	for key, entry := range entries {
		if c.fresh(entry, now) {
			c.entries[key] = entry
		}
	}
	c.logger.Debug("Tree cache loaded", logging.F("entries", len(c.entries)))
	return len(c.entries)
}

// Get returns the data stored under key. An expired entry is removed and
// reported as a miss.
func (c *TreeCache) Get(key string) (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !c.fresh(entry, c.clock.Now()) {
		delete(c.entries, key)
		c.schedulePersist()
		return nil, false
	}
	return entry.Data, true
}

// GetInto decodes the data stored under key into out
func (c *TreeCache) GetInto(key string, out interface{}) bool {
	data, ok := c.Get(key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		c.logger.Warn("Discarding undecodable cache entry", logging.F("key", key), logging.Err(err))
		c.Delete(key)
		return false
	}
	return true
}

// Set stores data under key with the current time
func (c *TreeCache) Set(key string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = Entry{Data: raw, Timestamp: c.clock.Now()}
	c.schedulePersist()
	return nil
}

// Delete removes a single key
func (c *TreeCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		delete(c.entries, key)
		c.schedulePersist()
	}
}

// Invalidate removes every entry of resourceID whatever its server or flags.
// It returns the number of removed entries.
func (c *TreeCache) Invalidate(resourceID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.entries {
		if ResourceOf(key) == resourceID {
			delete(c.entries, key)
			removed++
		}
	}
	if removed > 0 {
		c.schedulePersist()
	}
	c.logger.Debug("Tree cache invalidated", logging.F("resource", resourceID), logging.F("removed", removed))
	return removed
}

// InvalidateAll clears the cache
func (c *TreeCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Entry)
	c.schedulePersist()
	c.logger.Debug("Tree cache cleared")
}

// Len returns the number of entries, expired ones included
func (c *TreeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Flush persists a pending write now
func (c *TreeCache) Flush(ctx context.Context) error {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	c.mu.Lock()
	if c.pending != nil {
		c.pending.Stop()
		c.pending = nil
	}
	if !c.dirty || c.store == nil {
		c.mu.Unlock()
		return nil
	}
	snapshot := c.snapshot()
	c.dirty = false
	c.mu.Unlock()

	return c.store.Save(ctx, snapshot)
}

// Close flushes any pending write. Later writes are kept in memory only.
// A failed flush is logged, not returned.
func (c *TreeCache) Close() error {
	err := c.Flush(context.Background())
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	if err != nil {
		c.logger.Warn("Failed to persist tree cache on close", logging.Err(err))
	}
	return nil
}

// schedulePersist coalesces writes into one save after the debounce period.
// Callers hold c.mu.
func (c *TreeCache) schedulePersist() {
	if c.store == nil || c.closed {
		return
	}
	c.dirty = true
	if c.pending != nil {
		c.pending.Stop()
	}
	c.pending = c.clock.AfterFunc(c.debounce, c.persist)
}

func (c *TreeCache) persist() {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	c.mu.Lock()
	if !c.dirty {
		c.mu.Unlock()
		return
	}
	snapshot := c.snapshot()
	c.dirty = false
	c.pending = nil
	c.mu.Unlock()

	if err := c.store.Save(context.Background(), snapshot); err != nil {
		c.logger.Warn("Failed to persist tree cache", logging.Err(err))
	}
}

func (c *TreeCache) snapshot() map[string]Entry {
	out := make(map[string]Entry, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out
}

func (c *TreeCache) fresh(entry Entry, now time.Time) bool {
	return now.Sub(entry.Timestamp) < c.ttl
}
