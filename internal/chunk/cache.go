package chunk

import (
	"fmt"
	"runtime"
	"sync"
	"weak"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/tunnelmesh/chunkloader/internal/fingerprint"
)

// DefaultCacheSize is how many chunks a Cache keeps alive regardless of
// whether anything else still references them.
const DefaultCacheSize = 128

// Cache deduplicates chunks in memory and keeps the hottest ones alive.
//
// It has two tiers. The live map points weakly at every chunk that is still
// reachable from anywhere in the process, so a second load of the same
// content finds the existing instance instead of allocating another copy.
// The retention LRU holds strong references to the most recently used
// chunks, so they stay in the live map even when no caller holds them.
//
// Each tier has its own lock, held only for the map operation itself. The
// retention tier evicts inline and keeps no reference to what it drops, so
// an evicted chunk nobody else holds can be collected right away.
type Cache struct {
	mu   sync.Mutex
	live map[fingerprint.Fingerprint]weak.Pointer[Chunk]

	retainedMu sync.Mutex
	retained   *simplelru.LRU[fingerprint.Fingerprint, *Chunk]
	onEvict    func(fingerprint.Fingerprint)
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithEvictionObserver registers fn to be called whenever the retention LRU
// drops a chunk to make room. fn must not call back into the Cache.
func WithEvictionObserver(fn func(fingerprint.Fingerprint)) CacheOption {
	return func(c *Cache) {
		c.onEvict = fn
	}
}

// NewCache creates a cache whose retention tier holds up to capacity chunks.
func NewCache(capacity int, opts ...CacheOption) (*Cache, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("cache capacity must be positive, got %d", capacity)
	}

	c := &Cache{
		live: make(map[fingerprint.Fingerprint]weak.Pointer[Chunk]),
	}
	for _, opt := range opts {
		opt(c)
	}

	retained, err := simplelru.NewLRU(capacity, func(fp fingerprint.Fingerprint, _ *Chunk) {
		if c.onEvict != nil {
			c.onEvict(fp)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("create retention cache: %w", err)
	}
	c.retained = retained

	return c, nil
}

// Lookup returns the live chunk for fp, if any, and marks it most recently used.
func (c *Cache) Lookup(fp fingerprint.Fingerprint) (*Chunk, bool) {
	c.mu.Lock()
	ref, ok := c.live[fp]
	if !ok {
		c.mu.Unlock()
		return nil, false
	}
	chunk := ref.Value()
	if chunk == nil {
		// Collected, cleanup not yet run.
		delete(c.live, fp)
		c.mu.Unlock()
		return nil, false
	}
	c.mu.Unlock()

	c.retain(fp, chunk)
	return chunk, true
}

// Insert registers chunk as the live instance for its fingerprint and retains
// it. A previously registered instance for the same fingerprint is replaced.
func (c *Cache) Insert(chunk *Chunk) {
	fp := chunk.Fingerprint()

	c.mu.Lock()
	c.live[fp] = weak.Make(chunk)
	c.mu.Unlock()

	runtime.AddCleanup(chunk, c.forget, fp)

	c.retain(fp, chunk)
}

// retain adds or touches fp in the retention tier. The eviction observer
// runs under retainedMu.
func (c *Cache) retain(fp fingerprint.Fingerprint, chunk *Chunk) {
	c.retainedMu.Lock()
	defer c.retainedMu.Unlock()
	c.retained.Add(fp, chunk)
}

// forget runs after a chunk registered under fp has been collected. A newer
// instance may have been inserted for fp in the meantime; its entry still
// resolves and must stay.
func (c *Cache) forget(fp fingerprint.Fingerprint) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ref, ok := c.live[fp]; ok && ref.Value() == nil {
		delete(c.live, fp)
	}
}

// Len returns the number of chunks held by the retention tier.
func (c *Cache) Len() int {
	c.retainedMu.Lock()
	defer c.retainedMu.Unlock()
	return c.retained.Len()
}

// LiveLen returns the number of entries in the live map, including entries
// whose chunk has been collected but not yet swept.
func (c *Cache) LiveLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.live)
}

// Retained reports whether fp is held by the retention tier, without
// touching its recency.
func (c *Cache) Retained(fp fingerprint.Fingerprint) bool {
	c.retainedMu.Lock()
	defer c.retainedMu.Unlock()
	return c.retained.Contains(fp)
}
