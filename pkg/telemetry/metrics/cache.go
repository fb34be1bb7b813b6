package metrics

import (
	"campuscore/keygate/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// CacheMetrics tracks status cache performance.
//
// Metrics:
//   - keygate_cache_hits_total: cache hits by cache name
//   - keygate_cache_misses_total: cache misses by cache name
//   - keygate_cache_entries: current number of entries
//   - keygate_cache_evictions_total: entries evicted by TTL sweeps
//   - keygate_identity_failures_total: failed identity checks by kind
type CacheMetrics struct {
	hitsTotal        *prometheus.CounterVec
	missesTotal      *prometheus.CounterVec
	entries          *prometheus.GaugeVec
	evictionsTotal   *prometheus.CounterVec
	identityFailures *prometheus.CounterVec
}

// NewCacheMetrics creates and registers cache metrics with the provided registry.
func NewCacheMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *CacheMetrics {
	cm := &CacheMetrics{
		hitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "cache_hits_total",
				Help:      "Total number of cache hits",
			},
			[]string{"cache"},
		),

		missesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "cache_misses_total",
				Help:      "Total number of cache misses",
			},
			[]string{"cache"},
		),

		entries: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Name:      "cache_entries",
				Help:      "Current number of entries in cache",
			},
			[]string{"cache"},
		),

		evictionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "cache_evictions_total",
				Help:      "Total number of cache evictions",
			},
			[]string{"cache"},
		),

		identityFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "identity_failures_total",
				Help:      "Total number of failed identity checks",
			},
			[]string{"kind"},
		),
	}

	registry.MustRegister(
		cm.hitsTotal,
		cm.missesTotal,
		cm.entries,
		cm.evictionsTotal,
		cm.identityFailures,
	)

	return cm
}

// RecordHit records a cache hit.
func (cm *CacheMetrics) RecordHit(cacheName string) {
	cm.hitsTotal.WithLabelValues(cacheName).Inc()
}

// RecordMiss records a cache miss.
func (cm *CacheMetrics) RecordMiss(cacheName string) {
	cm.missesTotal.WithLabelValues(cacheName).Inc()
}

// UpdateSize updates the current size of a cache.
func (cm *CacheMetrics) UpdateSize(cacheName string, size int) {
	cm.entries.WithLabelValues(cacheName).Set(float64(size))
}

// RecordEvictions records n evicted entries.
//
// An eviction occurs when an entry older than the TTL is removed by the
// sweep that runs once the cache grows past its entry bound.
func (cm *CacheMetrics) RecordEvictions(cacheName string, n int) {
	cm.evictionsTotal.WithLabelValues(cacheName).Add(float64(n))
}

// RecordIdentityFailure records a failed identity check.
func (cm *CacheMetrics) RecordIdentityFailure(kind string) {
	cm.identityFailures.WithLabelValues(kind).Inc()
}
