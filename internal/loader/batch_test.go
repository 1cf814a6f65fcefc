package loader

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tunnelmesh/chunkloader/internal/chunk"
	"github.com/tunnelmesh/chunkloader/internal/fingerprint"
	"github.com/tunnelmesh/chunkloader/internal/source"
	"github.com/tunnelmesh/chunkloader/testutil"
)

// slowBucket serves objects after a delay and records peak concurrency.
type slowBucket struct {
	delay   time.Duration
	mu      sync.Mutex
	objects map[string][]byte

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newSlowBucket(delay time.Duration) *slowBucket {
	return &slowBucket{delay: delay, objects: make(map[string][]byte)}
}

func (b *slowBucket) put(payload []byte) fingerprint.Fingerprint {
	fp := fingerprint.Of(payload)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[fingerprint.Name(fp)] = payload
	return fp
}

func (b *slowBucket) Name() string { return "slow" }

func (b *slowBucket) GetObject(ctx context.Context, name string) ([]byte, int, error) {
	n := b.inFlight.Add(1)
	defer b.inFlight.Add(-1)
	for {
		peak := b.maxInFlight.Load()
		if n <= peak || b.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}

	select {
	case <-time.After(b.delay):
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if data, ok := b.objects[name]; ok {
		return data, http.StatusOK, nil
	}
	return nil, http.StatusNotFound, nil
}

func TestFetchAllChunks_Deduplicates(t *testing.T) {
	bucket := testutil.NewMockBucket("chunks")
	a := bucket.Put([]byte("chunk a"))
	b := bucket.Put([]byte("chunk b"))

	l := newTestLoader(t, Config{}, bucket)

	got, err := l.FetchAllChunks(context.Background(), []fingerprint.Fingerprint{a, a, b})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []byte("chunk a"), got[a].Payload())
	assert.Equal(t, []byte("chunk b"), got[b].Payload())
	assert.Equal(t, 1, bucket.Calls(fingerprint.Name(a)))
}

func TestFetchAllChunks_OmitsMissing(t *testing.T) {
	bucket := testutil.NewMockBucket("chunks")
	a := bucket.Put([]byte("chunk a"))
	missing := fingerprint.Of([]byte("chunk b"))

	l := newTestLoader(t, Config{}, bucket)

	got, err := l.FetchAllChunks(context.Background(), []fingerprint.Fingerprint{a, a, missing})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Contains(t, got, a)
	assert.NotContains(t, got, missing)
}

func TestFetchAllChunks_FirstErrorFailsBatch(t *testing.T) {
	bucket := testutil.NewMockBucket("chunks")
	a := fingerprint.Of([]byte("chunk a"))
	bucket.Script(fingerprint.Name(a), testutil.Response{Status: http.StatusServiceUnavailable})
	b := bucket.Put([]byte("chunk b"))

	l := newTestLoader(t, Config{}, bucket)

	got, err := l.FetchAllChunks(context.Background(), []fingerprint.Fingerprint{a, a, b})
	require.Error(t, err)
	assert.Nil(t, got)
	assert.True(t, errors.Is(err, source.ErrRetryLimitExceeded))
}

func TestFetchAllChunks_Empty(t *testing.T) {
	l := newTestLoader(t, Config{})

	got, err := l.FetchAllChunks(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFetchAllChunks_IncludesZeroChunk(t *testing.T) {
	bucket := testutil.NewMockBucket("chunks")
	a := bucket.Put([]byte("chunk a"))
	zero := chunk.ZeroFingerprint()

	l := newTestLoader(t, Config{}, bucket)

	got, err := l.FetchAllChunks(context.Background(), []fingerprint.Fingerprint{zero, a, zero})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Same(t, chunk.Zero(), got[zero])
	assert.Equal(t, 0, bucket.Calls(fingerprint.Name(zero)))
}

func TestFetchAllChunks_BoundedByPool(t *testing.T) {
	bucket := newSlowBucket(5 * time.Millisecond)
	var fps []fingerprint.Fingerprint
	for i := 0; i < 20; i++ {
		fps = append(fps, bucket.put([]byte{byte(i), 'x'}))
	}

	pool, err := NewPool(3)
	require.NoError(t, err)
	l := newTestLoader(t, Config{Pool: pool}, bucket)

	got, err := l.FetchAllChunks(context.Background(), fps)
	require.NoError(t, err)
	assert.Len(t, got, 20)
	assert.LessOrEqual(t, bucket.maxInFlight.Load(), int32(3))
	assert.Greater(t, bucket.maxInFlight.Load(), int32(1))
}

// arrivalLog records the order GetObject calls reach a set of buckets.
type arrivalLog struct {
	mu    sync.Mutex
	calls []arrival
}

type arrival struct {
	bucket string
	name   string
}

// orderBucket reports every object missing and logs each request.
type orderBucket struct {
	name string
	log  *arrivalLog
}

func (b *orderBucket) Name() string { return b.name }

func (b *orderBucket) GetObject(ctx context.Context, name string) ([]byte, int, error) {
	b.log.mu.Lock()
	b.log.calls = append(b.log.calls, arrival{bucket: b.name, name: name})
	b.log.mu.Unlock()
	return nil, http.StatusNotFound, nil
}

func (l *arrivalLog) take() []arrival {
	l.mu.Lock()
	defer l.mu.Unlock()
	calls := l.calls
	l.calls = nil
	return calls
}

func TestFetchAllChunks_ShufflesFetchOrder(t *testing.T) {
	log := &arrivalLog{}
	a := &orderBucket{name: "a", log: log}
	b := &orderBucket{name: "b", log: log}

	var fps []fingerprint.Fingerprint
	for i := 0; i < 6; i++ {
		fps = append(fps, fingerprint.Of([]byte{byte(i), 's'}))
	}

	pool, err := NewPool(1)
	require.NoError(t, err)
	l := newTestLoader(t, Config{Pool: pool}, a, b)

	orders := make(map[string]bool)
	for round := 0; round < 20; round++ {
		got, err := l.FetchAllChunks(context.Background(), fps)
		require.NoError(t, err)
		assert.Empty(t, got)

		calls := log.take()
		require.Len(t, calls, 2*len(fps))

		// A single pool slot serializes fingerprints; each one walks the
		// remotes in configured order before the next starts.
		var order []string
		for i := 0; i < len(calls); i += 2 {
			assert.Equal(t, arrival{bucket: "a", name: calls[i].name}, calls[i])
			assert.Equal(t, arrival{bucket: "b", name: calls[i].name}, calls[i+1])
			order = append(order, calls[i].name)
		}
		assert.ElementsMatch(t, names(fps), order)
		orders[strings.Join(order, ",")] = true
	}

	assert.Greater(t, len(orders), 1, "fetch order never varied across batches")
}

func names(fps []fingerprint.Fingerprint) []string {
	out := make([]string, len(fps))
	for i, fp := range fps {
		out[i] = fingerprint.Name(fp)
	}
	return out
}

func TestFetchAllChunks_PoolSharedAcrossBatches(t *testing.T) {
	bucket := newSlowBucket(5 * time.Millisecond)
	var first, second []fingerprint.Fingerprint
	for i := 0; i < 10; i++ {
		first = append(first, bucket.put([]byte{byte(i), 'a'}))
		second = append(second, bucket.put([]byte{byte(i), 'b'}))
	}

	pool, err := NewPool(2)
	require.NoError(t, err)
	l := newTestLoader(t, Config{Pool: pool}, bucket)

	var wg sync.WaitGroup
	for _, batch := range [][]fingerprint.Fingerprint{first, second} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := l.FetchAllChunks(context.Background(), batch)
			assert.NoError(t, err)
			assert.Len(t, got, 10)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, bucket.maxInFlight.Load(), int32(2))
}

func TestFetchAllChunks_CanceledContext(t *testing.T) {
	bucket := newSlowBucket(time.Second)
	a := bucket.put([]byte("chunk a"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	l := newTestLoader(t, Config{}, bucket)

	_, err := l.FetchAllChunks(ctx, []fingerprint.Fingerprint{a})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
