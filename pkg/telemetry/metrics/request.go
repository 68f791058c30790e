package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RequestMetrics tracks requests served by the gateway.
//
// Metrics:
//   - conduit_requests_total{provider,operation,model,status}
//   - conduit_request_duration_seconds{provider,operation}
//   - conduit_tokens_total{provider,model,type}
type RequestMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	tokensTotal     *prometheus.CounterVec
}

// NewRequestMetrics creates and registers request metrics.
func NewRequestMetrics(cfg Config, registry *prometheus.Registry) *RequestMetrics {
	rm := &RequestMetrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "requests_total",
				Help:      "Total number of gateway requests by response status",
			},
			[]string{"provider", "operation", "model", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "request_duration_seconds",
				Help:      "End-to-end gateway request duration in seconds",
				Buckets:   cfg.DurationBuckets,
			},
			[]string{"provider", "operation"},
		),
		tokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "tokens_total",
				Help:      "Tokens reported by providers",
			},
			[]string{"provider", "model", "type"},
		),
	}

	registry.MustRegister(rm.requestsTotal, rm.requestDuration, rm.tokensTotal)
	return rm
}

// Record records a completed request.
func (rm *RequestMetrics) Record(provider, operation, model, status string, duration time.Duration) {
	rm.requestsTotal.WithLabelValues(provider, operation, model, status).Inc()
	rm.requestDuration.WithLabelValues(provider, operation).Observe(duration.Seconds())
}

// RecordTokens adds prompt and completion token counts.
func (rm *RequestMetrics) RecordTokens(provider, model string, prompt, completion int) {
	if prompt > 0 {
		rm.tokensTotal.WithLabelValues(provider, model, "prompt").Add(float64(prompt))
	}
	if completion > 0 {
		rm.tokensTotal.WithLabelValues(provider, model, "completion").Add(float64(completion))
	}
}
