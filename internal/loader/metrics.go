package loader

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/tunnelmesh/chunkloader/internal/fingerprint"
)

// loaderMetricsOnce ensures metrics are only initialized once.
var loaderMetricsOnce sync.Once

// loaderMetricsInstance is the singleton instance of loader metrics.
var loaderMetricsInstance *Metrics

// Source kinds and results used as label values.
const (
	sourceCache  = "cache"
	sourceLocal  = "local"
	sourceRemote = "remote"
	sourceNone   = "none"

	resultHit   = "hit"
	resultMiss  = "miss"
	resultError = "error"
)

// Metrics holds the Prometheus metrics for chunk loading. A nil *Metrics
// records nothing.
type Metrics struct {
	FetchesTotal   *prometheus.CounterVec // chunkloader_fetches_total{source,result}
	CacheLookups   *prometheus.CounterVec // chunkloader_cache_lookups_total{result}
	CacheEvictions prometheus.Counter     // chunkloader_cache_evictions_total
	RemoteRetries  prometheus.Counter     // chunkloader_remote_retries_total
	FetchDuration  prometheus.Histogram   // chunkloader_fetch_duration_seconds
	BytesLoaded    *prometheus.CounterVec // chunkloader_bytes_loaded_total{source}
}

// InitMetrics initializes all loader metrics.
// Metrics are only registered once; subsequent calls return the same instance.
func InitMetrics(registry prometheus.Registerer) *Metrics {
	loaderMetricsOnce.Do(func() {
		if registry == nil {
			registry = prometheus.DefaultRegisterer
		}
		loaderMetricsInstance = newMetrics(registry)
	})
	return loaderMetricsInstance
}

func newMetrics(registry prometheus.Registerer) *Metrics {
	return &Metrics{
		FetchesTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "chunkloader_fetches_total",
			Help: "Chunk fetches by the source that satisfied them and result",
		}, []string{"source", "result"}),

		CacheLookups: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "chunkloader_cache_lookups_total",
			Help: "In-memory chunk cache lookups by result",
		}, []string{"result"}),

		CacheEvictions: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "chunkloader_cache_evictions_total",
			Help: "Chunks dropped from the retention cache to make room",
		}),

		RemoteRetries: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "chunkloader_remote_retries_total",
			Help: "Remote GETs retried after a transient failure",
		}),

		FetchDuration: promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
			Name:    "chunkloader_fetch_duration_seconds",
			Help:    "Single chunk fetch duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),

		BytesLoaded: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "chunkloader_bytes_loaded_total",
			Help: "Chunk bytes read from local caches and remote buckets",
		}, []string{"source"}),
	}
}

func (m *Metrics) observeFetch(source, result string, start time.Time) {
	if m == nil {
		return
	}
	m.FetchesTotal.WithLabelValues(source, result).Inc()
	m.FetchDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) cacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheLookups.WithLabelValues(resultHit).Inc()
	} else {
		m.CacheLookups.WithLabelValues(resultMiss).Inc()
	}
}

func (m *Metrics) loaded(source string, n int) {
	if m == nil {
		return
	}
	m.BytesLoaded.WithLabelValues(source).Add(float64(n))
}

func (m *Metrics) evicted(fingerprint.Fingerprint) {
	if m == nil {
		return
	}
	m.CacheEvictions.Inc()
}

func (m *Metrics) retried() {
	if m == nil {
		return
	}
	m.RemoteRetries.Inc()
}
