package chunk

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tunnelmesh/chunkloader/internal/fingerprint"
)

func mustChunk(t *testing.T, payload []byte) *Chunk {
	t.Helper()
	c, err := New(fingerprint.Of(payload), payload, VerifyFull)
	require.NoError(t, err)
	return c
}

func TestNewCache_InvalidCapacity(t *testing.T) {
	_, err := NewCache(0)
	assert.Error(t, err)

	_, err = NewCache(-1)
	assert.Error(t, err)
}

func TestCache_InsertThenLookup(t *testing.T) {
	cache, err := NewCache(DefaultCacheSize)
	require.NoError(t, err)

	c := mustChunk(t, []byte("cached"))
	cache.Insert(c)

	got, ok := cache.Lookup(c.Fingerprint())
	require.True(t, ok)
	assert.Same(t, c, got)
	assert.Equal(t, 1, cache.Len())
	assert.Equal(t, 1, cache.LiveLen())
}

func TestCache_LookupMiss(t *testing.T) {
	cache, err := NewCache(DefaultCacheSize)
	require.NoError(t, err)

	got, ok := cache.Lookup(fingerprint.Of([]byte("never inserted")))
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestCache_RetentionBounded(t *testing.T) {
	var evicted []fingerprint.Fingerprint
	cache, err := NewCache(DefaultCacheSize, WithEvictionObserver(func(fp fingerprint.Fingerprint) {
		evicted = append(evicted, fp)
	}))
	require.NoError(t, err)

	chunks := make([]*Chunk, 0, DefaultCacheSize+1)
	for i := 0; i <= DefaultCacheSize; i++ {
		c := mustChunk(t, []byte(fmt.Sprintf("chunk-%d", i)))
		chunks = append(chunks, c)
		cache.Insert(c)
		assert.LessOrEqual(t, cache.Len(), DefaultCacheSize)
	}

	assert.Equal(t, DefaultCacheSize, cache.Len())
	assert.False(t, cache.Retained(chunks[0].Fingerprint()), "oldest entry should be evicted")
	assert.True(t, cache.Retained(chunks[1].Fingerprint()))
	assert.True(t, cache.Retained(chunks[DefaultCacheSize].Fingerprint()))
	assert.Equal(t, []fingerprint.Fingerprint{chunks[0].Fingerprint()}, evicted)

	// Evicted from retention but still referenced here, so still deduplicated.
	got, ok := cache.Lookup(chunks[0].Fingerprint())
	require.True(t, ok)
	assert.Same(t, chunks[0], got)

	runtime.KeepAlive(chunks)
}

func TestCache_LookupRenewsRecency(t *testing.T) {
	cache, err := NewCache(DefaultCacheSize)
	require.NoError(t, err)

	chunks := make([]*Chunk, 0, DefaultCacheSize)
	for i := 0; i < DefaultCacheSize; i++ {
		c := mustChunk(t, []byte(fmt.Sprintf("chunk-%d", i)))
		chunks = append(chunks, c)
		cache.Insert(c)
	}

	// Touch the oldest; the second oldest becomes the victim.
	_, ok := cache.Lookup(chunks[0].Fingerprint())
	require.True(t, ok)

	cache.Insert(mustChunk(t, []byte("newcomer")))

	assert.True(t, cache.Retained(chunks[0].Fingerprint()))
	assert.False(t, cache.Retained(chunks[1].Fingerprint()))

	runtime.KeepAlive(chunks)
}

// insertUnreferenced inserts a chunk without keeping any reference to it.
func insertUnreferenced(t *testing.T, cache *Cache, payload string) fingerprint.Fingerprint {
	t.Helper()
	c := mustChunk(t, []byte(payload))
	cache.Insert(c)
	return c.Fingerprint()
}

func TestCache_CollectedChunkLeavesLiveMap(t *testing.T) {
	cache, err := NewCache(1)
	require.NoError(t, err)

	first := insertUnreferenced(t, cache, "first")
	second := mustChunk(t, []byte("second"))
	cache.Insert(second) // evicts first from retention

	require.Eventually(t, func() bool {
		runtime.GC()
		return cache.LiveLen() == 1
	}, 5*time.Second, 10*time.Millisecond)

	_, ok := cache.Lookup(first)
	assert.False(t, ok)

	got, ok := cache.Lookup(second.Fingerprint())
	require.True(t, ok)
	assert.Same(t, second, got)

	runtime.KeepAlive(second)
}

func TestCache_EvictedChunkIsNotPinned(t *testing.T) {
	cache, err := NewCache(1)
	require.NoError(t, err)

	first := insertUnreferenced(t, cache, "first")
	second := insertUnreferenced(t, cache, "second")

	// Only the retained chunk may survive a collection.
	require.Eventually(t, func() bool {
		runtime.GC()
		return cache.LiveLen() == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.True(t, cache.Retained(second))

	third := insertUnreferenced(t, cache, "third")

	require.Eventually(t, func() bool {
		runtime.GC()
		return cache.LiveLen() == 1
	}, 5*time.Second, 10*time.Millisecond)

	_, ok := cache.Lookup(first)
	assert.False(t, ok)
	_, ok = cache.Lookup(second)
	assert.False(t, ok, "most recently evicted chunk must be collectable")
	_, ok = cache.Lookup(third)
	assert.True(t, ok)
}

func TestCache_ForgetKeepsNewerInstance(t *testing.T) {
	cache, err := NewCache(DefaultCacheSize)
	require.NoError(t, err)

	payload := []byte("registered twice")
	older := mustChunk(t, append([]byte(nil), payload...))
	newer := mustChunk(t, append([]byte(nil), payload...))
	fp := newer.Fingerprint()

	cache.Insert(older)
	cache.Insert(newer)

	// The older instance's cleanup fires while the newer one is live.
	cache.forget(fp)

	got, ok := cache.Lookup(fp)
	require.True(t, ok)
	assert.Same(t, newer, got)
	assert.Equal(t, 1, cache.LiveLen())

	runtime.KeepAlive(older)
	runtime.KeepAlive(newer)
}

func TestCache_ForgetRemovesDeadEntry(t *testing.T) {
	cache, err := NewCache(1)
	require.NoError(t, err)

	fp := insertUnreferenced(t, cache, "short lived")
	cache.Insert(mustChunk(t, []byte("evictor")))

	require.Eventually(t, func() bool {
		runtime.GC()
		_, ok := cache.Lookup(fp)
		return !ok
	}, 5*time.Second, 10*time.Millisecond)

	// Idempotent once the entry is gone.
	cache.forget(fp)
	_, ok := cache.Lookup(fp)
	assert.False(t, ok)
}

func TestCache_ConcurrentAccess(t *testing.T) {
	cache, err := NewCache(8)
	require.NoError(t, err)

	var hits atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				payload := []byte(fmt.Sprintf("shared-%d", i%16))
				fp := fingerprint.Of(payload)
				if _, ok := cache.Lookup(fp); ok {
					hits.Add(1)
					continue
				}
				c, err := New(fp, payload, VerifyFast)
				if err != nil {
					t.Errorf("worker %d: %v", w, err)
					return
				}
				cache.Insert(c)
			}
		}(w)
	}
	wg.Wait()

	assert.LessOrEqual(t, cache.Len(), 8)
	assert.Positive(t, hits.Load())
}
