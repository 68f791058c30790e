package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ProviderMetrics tracks upstream provider calls.
//
// Metrics:
//   - conduit_provider_health{provider}: 1 healthy, 0 unhealthy
//   - conduit_provider_latency_seconds{provider}
//   - conduit_provider_requests_total{provider,status}
//   - conduit_provider_errors_total{provider,error_type}
type ProviderMetrics struct {
	health   *prometheus.GaugeVec
	latency  *prometheus.HistogramVec
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
}

// NewProviderMetrics creates and registers provider metrics.
func NewProviderMetrics(cfg Config, registry *prometheus.Registry) *ProviderMetrics {
	pm := &ProviderMetrics{
		health: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "provider_health",
				Help:      "Provider health status (1=healthy, 0=unhealthy)",
			},
			[]string{"provider"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "provider_latency_seconds",
				Help:      "Time to upstream response headers in seconds",
				Buckets:   cfg.DurationBuckets,
			},
			[]string{"provider"},
		),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "provider_requests_total",
				Help:      "Upstream calls by HTTP status",
			},
			[]string{"provider", "status"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "provider_errors_total",
				Help:      "Upstream calls that failed before a response",
			},
			[]string{"provider", "error_type"},
		),
	}

	registry.MustRegister(pm.health, pm.latency, pm.requests, pm.errors)
	return pm
}

// RecordCall records an upstream response.
func (pm *ProviderMetrics) RecordCall(provider, status string, latency time.Duration) {
	pm.requests.WithLabelValues(provider, status).Inc()
	pm.latency.WithLabelValues(provider).Observe(latency.Seconds())
}

// RecordError records a transport failure.
func (pm *ProviderMetrics) RecordError(provider, errorType string) {
	pm.errors.WithLabelValues(provider, errorType).Inc()
}

// UpdateHealth sets the health gauge.
func (pm *ProviderMetrics) UpdateHealth(provider string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1
	}
	pm.health.WithLabelValues(provider).Set(v)
}
