package metrics

import "github.com/prometheus/client_golang/prometheus"

// CacheMetrics tracks the response cache.
//
// Metrics:
//   - conduit_cache_lookups_total{status}
//   - conduit_cache_stores_total
//   - conduit_cache_evictions_total
type CacheMetrics struct {
	lookups   *prometheus.CounterVec
	stores    prometheus.Counter
	evictions prometheus.Counter
}

// NewCacheMetrics creates and registers cache metrics.
func NewCacheMetrics(cfg Config, registry *prometheus.Registry) *CacheMetrics {
	cm := &CacheMetrics{
		lookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "cache_lookups_total",
				Help:      "Response cache lookups by outcome",
			},
			[]string{"status"},
		),
		stores: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "cache_stores_total",
			Help:      "Responses written to the cache",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "cache_evictions_total",
			Help:      "Expired entries removed by sweeps",
		}),
	}

	registry.MustRegister(cm.lookups, cm.stores, cm.evictions)
	return cm
}

// RecordLookup records a lookup outcome.
func (cm *CacheMetrics) RecordLookup(status string) {
	cm.lookups.WithLabelValues(status).Inc()
}

// RecordStore records a write.
func (cm *CacheMetrics) RecordStore() {
	cm.stores.Inc()
}

// RecordSweep records removed entries.
func (cm *CacheMetrics) RecordSweep(removed int) {
	if removed > 0 {
		cm.evictions.Add(float64(removed))
	}
}
