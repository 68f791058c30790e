package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics tracks the stages around the upstream call.
//
// Metrics:
//   - conduit_ratelimit_decisions_total{rule,decision}
//   - conduit_hook_executions_total{hook,event,verdict}
//   - conduit_hook_errors_total{hook,kind}
//   - conduit_hook_duration_seconds{event}
//   - conduit_guardrail_rejections_total{event}
//   - conduit_stream_chunks_total{provider}
//   - conduit_stream_malformed_total{provider}
//   - conduit_stream_aborts_total{provider}
type PipelineMetrics struct {
	rateLimit     *prometheus.CounterVec
	hookRuns      *prometheus.CounterVec
	hookErrors    *prometheus.CounterVec
	hookDuration  *prometheus.HistogramVec
	rejections    *prometheus.CounterVec
	streamChunks  *prometheus.CounterVec
	streamBad     *prometheus.CounterVec
	streamAborted *prometheus.CounterVec
}

// NewPipelineMetrics creates and registers pipeline metrics.
func NewPipelineMetrics(cfg Config, registry *prometheus.Registry) *PipelineMetrics {
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      name,
			Help:      help,
		}, labels)
	}

	pm := &PipelineMetrics{
		rateLimit:  counter("ratelimit_decisions_total", "Rate limit checks by rule and decision", "rule", "decision"),
		hookRuns:   counter("hook_executions_total", "Hook executions by verdict", "hook", "event", "verdict"),
		hookErrors: counter("hook_errors_total", "Hook executions that failed or timed out", "hook", "kind"),
		hookDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "hook_duration_seconds",
				Help:      "Hook execution time in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"event"},
		),
		rejections:    counter("guardrail_rejections_total", "Requests or responses rejected by hooks", "event"),
		streamChunks:  counter("stream_chunks_total", "Normalized stream chunks delivered", "provider"),
		streamBad:     counter("stream_malformed_total", "Stream frames forwarded untransformed", "provider"),
		streamAborted: counter("stream_aborts_total", "Streams terminated by an upstream error", "provider"),
	}

	registry.MustRegister(
		pm.rateLimit,
		pm.hookRuns,
		pm.hookErrors,
		pm.hookDuration,
		pm.rejections,
		pm.streamChunks,
		pm.streamBad,
		pm.streamAborted,
	)
	return pm
}

// RecordRateLimit records one rule decision.
func (pm *PipelineMetrics) RecordRateLimit(rule string, allowed bool) {
	decision := "allowed"
	if !allowed {
		decision = "limited"
	}
	pm.rateLimit.WithLabelValues(rule, decision).Inc()
}

// RecordHook records one hook execution. errKind is empty on success.
func (pm *PipelineMetrics) RecordHook(hook, event string, verdict bool, errKind string, duration time.Duration) {
	pm.hookRuns.WithLabelValues(hook, event, strconv.FormatBool(verdict)).Inc()
	pm.hookDuration.WithLabelValues(event).Observe(duration.Seconds())
	if errKind != "" {
		pm.hookErrors.WithLabelValues(hook, errKind).Inc()
	}
}

// RecordRejection records a guardrail rejection.
func (pm *PipelineMetrics) RecordRejection(event string) {
	pm.rejections.WithLabelValues(event).Inc()
}

// RecordStream records a finished stream.
func (pm *PipelineMetrics) RecordStream(provider string, chunks, malformed int, aborted bool) {
	if chunks > 0 {
		pm.streamChunks.WithLabelValues(provider).Add(float64(chunks))
	}
	if malformed > 0 {
		pm.streamBad.WithLabelValues(provider).Add(float64(malformed))
	}
	if aborted {
		pm.streamAborted.WithLabelValues(provider).Inc()
	}
}
