// Package loader fetches chunks by fingerprint from an ordered set of local
// cache directories and remote buckets, verifying and deduplicating them
// through a shared in-memory cache.
package loader

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/tunnelmesh/chunkloader/internal/chunk"
	"github.com/tunnelmesh/chunkloader/internal/config"
	"github.com/tunnelmesh/chunkloader/internal/fingerprint"
	"github.com/tunnelmesh/chunkloader/internal/source"
)

// Config contains configuration for a Loader.
type Config struct {
	LocalCaches   []string              // Directories checked first, in order
	RemoteTargets []config.RemoteTarget // Buckets checked after local caches, in order
	Credentials   *source.Credentials   // nil: read from the environment when RemoteTargets is set
	Cache         *chunk.Cache          // Shared chunk cache (optional, default DefaultCacheSize)
	Pool          *Pool                 // Shared batch fetch pool (optional, default DefaultPoolSize)
	Logger        zerolog.Logger        // Structured logger (optional)
	Metrics       *Metrics              // Prometheus metrics (optional)
	Verify        chunk.VerifyMode      // VerifyFull also consults every source
	Retry         source.RetryPolicy    // Zero value means source.DefaultRetryPolicy
	MaxObjectSize int64                 // Remote body cap (optional, default source.DefaultMaxObjectSize)
	HTTPClient    *http.Client          // HTTP client for remote buckets (optional)
}

// Loader fetches chunks. It is immutable after construction and safe for
// concurrent use.
type Loader struct {
	locals  []*source.Local
	remotes []*source.Remote
	cache   *chunk.Cache
	pool    *Pool
	logger  zerolog.Logger
	metrics *Metrics
	verify  chunk.VerifyMode
}

// New creates a loader for cfg. Credentials are only looked up when at least
// one remote target is configured. Configuration problems wrap
// source.ErrConfiguration.
func New(cfg Config) (*Loader, error) {
	var buckets []source.Bucket
	if len(cfg.RemoteTargets) > 0 {
		var creds source.Credentials
		if cfg.Credentials != nil {
			creds = *cfg.Credentials
		} else {
			var err error
			if creds, err = source.LoadCredentials(); err != nil {
				return nil, err
			}
		}

		var opts []source.S3Option
		if cfg.HTTPClient != nil {
			opts = append(opts, source.WithHTTPClient(cfg.HTTPClient))
		}
		if cfg.MaxObjectSize > 0 {
			opts = append(opts, source.WithMaxObjectSize(cfg.MaxObjectSize))
		}

		for i, target := range cfg.RemoteTargets {
			bucket, err := source.NewS3Bucket(target, creds, opts...)
			if err != nil {
				return nil, fmt.Errorf("remote_targets[%d]: %w", i, err)
			}
			buckets = append(buckets, bucket)
		}
	}

	return newLoader(cfg, buckets)
}

// newLoader wires a loader around already constructed buckets.
func newLoader(cfg Config, buckets []source.Bucket) (*Loader, error) {
	cache := cfg.Cache
	if cache == nil {
		var err error
		cache, err = chunk.NewCache(chunk.DefaultCacheSize, chunk.WithEvictionObserver(cfg.Metrics.evicted))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", source.ErrConfiguration, err)
		}
	}

	pool := cfg.Pool
	if pool == nil {
		var err error
		pool, err = NewPool(DefaultPoolSize)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", source.ErrConfiguration, err)
		}
	}

	l := &Loader{
		cache:   cache,
		pool:    pool,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		verify:  cfg.Verify,
	}

	for _, dir := range cfg.LocalCaches {
		l.locals = append(l.locals, source.NewLocal(dir))
	}
	for _, bucket := range buckets {
		l.remotes = append(l.remotes, source.NewRemote(source.RemoteConfig{
			Bucket:  bucket,
			Policy:  cfg.Retry,
			Logger:  cfg.Logger,
			OnRetry: cfg.Metrics.retried,
		}))
	}

	return l, nil
}

// Cache returns the loader's chunk cache.
func (l *Loader) Cache() *chunk.Cache {
	return l.cache
}

// FetchChunk returns the chunk for fp, or (nil, nil) if no source has it.
//
// The all-zero chunk is answered without touching the cache or any source.
// Otherwise the cache is consulted, then local caches in order, then remote
// buckets in order; the first hit is verified, cached and returned. Under
// VerifyFull every source is consulted and each one that has the chunk must
// hold the same bytes.
func (l *Loader) FetchChunk(ctx context.Context, fp fingerprint.Fingerprint) (*chunk.Chunk, error) {
	if z, ok := chunk.IsZero(fp); ok {
		return z, nil
	}

	start := time.Now()
	name := fingerprint.Name(fp)
	strict := l.verify == chunk.VerifyFull
	logger := l.logger.With().Str("fingerprint", name).Logger()

	found, hit := l.cache.Lookup(fp)
	l.metrics.cacheLookup(hit)
	if hit && !strict {
		l.metrics.observeFetch(sourceCache, resultHit, start)
		return found, nil
	}

	foundIn := sourceCache
	accept := func(data []byte, kind, from string) error {
		if found != nil {
			if !bytes.Equal(found.Payload(), data) {
				return fmt.Errorf("%w: chunk %s from %s", ErrSourceMismatch, name, from)
			}
			return nil
		}

		c, err := chunk.New(fp, data, l.verify)
		if err != nil {
			return fmt.Errorf("fetch chunk %s from %s: %w", name, from, err)
		}
		l.cache.Insert(c)
		found = c
		foundIn = kind
		return nil
	}

	for _, local := range l.locals {
		data, ok, err := local.Load(name)
		if err == nil && ok {
			err = accept(data, sourceLocal, local.String())
		}
		if err != nil {
			l.metrics.observeFetch(sourceLocal, resultError, start)
			return nil, fmt.Errorf("fetch chunk %s: %w", name, err)
		}
		if !ok {
			continue
		}

		l.metrics.loaded(sourceLocal, len(data))
		logger.Debug().Str("source", local.String()).Int("size", len(data)).Msg("loaded chunk from local cache")
		if !strict {
			l.metrics.observeFetch(sourceLocal, resultHit, start)
			return found, nil
		}
	}

	for _, remote := range l.remotes {
		data, ok, err := remote.Load(ctx, name)
		if err == nil && ok {
			err = accept(data, sourceRemote, remote.String())
		}
		if err != nil {
			l.metrics.observeFetch(sourceRemote, resultError, start)
			return nil, err
		}
		if !ok {
			continue
		}

		l.metrics.loaded(sourceRemote, len(data))
		logger.Debug().Str("source", remote.String()).Int("size", len(data)).Msg("loaded chunk from remote")
		if !strict {
			l.metrics.observeFetch(sourceRemote, resultHit, start)
			return found, nil
		}
	}

	if found == nil {
		l.metrics.observeFetch(sourceNone, resultMiss, start)
		logger.Debug().Msg("chunk not found in any source")
		return nil, nil
	}

	l.metrics.observeFetch(foundIn, resultHit, start)
	return found, nil
}

// FromConfig builds a loader Config from a validated LoaderConfig, creating
// the shared cache and pool it describes.
func FromConfig(cfg *config.LoaderConfig, logger zerolog.Logger, metrics *Metrics) (Config, error) {
	cache, err := chunk.NewCache(cfg.CacheSize, chunk.WithEvictionObserver(metrics.evicted))
	if err != nil {
		return Config{}, fmt.Errorf("%w: %w", source.ErrConfiguration, err)
	}
	pool, err := NewPool(cfg.PoolSize)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %w", source.ErrConfiguration, err)
	}
	maxSize, err := cfg.MaxObjectSizeBytes()
	if err != nil {
		return Config{}, fmt.Errorf("%w: max_object_size: %w", source.ErrConfiguration, err)
	}

	retry := source.DefaultRetryPolicy()
	if cfg.Retry != nil {
		baseWait, err := cfg.Retry.BaseWaitDuration()
		if err != nil {
			return Config{}, fmt.Errorf("%w: retry: %w", source.ErrConfiguration, err)
		}
		retry = source.RetryPolicy{
			Limit:      cfg.Retry.Limit,
			BaseWait:   baseWait,
			Multiplier: cfg.Retry.Multiplier,
			JitterFrac: cfg.Retry.JitterFrac,
		}
	}

	verify := chunk.VerifyFast
	if cfg.StrictVerify {
		verify = chunk.VerifyFull
	}

	return Config{
		LocalCaches:   cfg.LocalCaches,
		RemoteTargets: cfg.RemoteTargets,
		Cache:         cache,
		Pool:          pool,
		Logger:        logger,
		Metrics:       metrics,
		Verify:        verify,
		Retry:         retry,
		MaxObjectSize: maxSize,
	}, nil
}
