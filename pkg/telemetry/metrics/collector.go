package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Config configures a Collector.
type Config struct {
	Enabled bool `yaml:"enabled"`

	// Namespace prefixes every metric name. Default: "conduit".
	Namespace string `yaml:"namespace"`

	// Subsystem is inserted after the namespace when set.
	Subsystem string `yaml:"subsystem"`

	// DurationBuckets are the histogram buckets in seconds.
	DurationBuckets []float64 `yaml:"duration_buckets"`

	// MaxModels caps distinct model label values. Further models are
	// recorded as "other". Default: 1000.
	MaxModels int `yaml:"max_models"`
}

// Collector records gateway metrics.
type Collector struct {
	config   Config
	registry *prometheus.Registry

	requests  *RequestMetrics
	providers *ProviderMetrics
	cache     *CacheMetrics
	pipeline  *PipelineMetrics

	models *CardinalityLimiter
}

// NewCollector registers every metric with registry. A nil registry gets a
// fresh one.
func NewCollector(cfg Config, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "conduit"
	}
	if len(cfg.DurationBuckets) == 0 {
		// LLM latencies run from tens of milliseconds to minutes.
		cfg.DurationBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60}
	}
	if cfg.MaxModels <= 0 {
		cfg.MaxModels = 1000
	}

	return &Collector{
		config:    cfg,
		registry:  registry,
		requests:  NewRequestMetrics(cfg, registry),
		providers: NewProviderMetrics(cfg, registry),
		cache:     NewCacheMetrics(cfg, registry),
		pipeline:  NewPipelineMetrics(cfg, registry),
		models:    NewCardinalityLimiter(cfg.MaxModels),
	}
}

func (c *Collector) enabled() bool {
	return c != nil && c.config.Enabled
}

// RecordRequest records a completed gateway request.
func (c *Collector) RecordRequest(provider, operation, model, status string, duration time.Duration) {
	if !c.enabled() {
		return
	}
	c.requests.Record(provider, operation, c.model(model), status, duration)
}

// RecordTokens adds reported token usage.
func (c *Collector) RecordTokens(provider, model string, prompt, completion int) {
	if !c.enabled() {
		return
	}
	c.requests.RecordTokens(provider, c.model(model), prompt, completion)
}

// RecordUpstream records one upstream call and its HTTP status.
func (c *Collector) RecordUpstream(provider string, status int, latency time.Duration) {
	if !c.enabled() {
		return
	}
	c.providers.RecordCall(provider, strconv.Itoa(status), latency)
}

// RecordUpstreamError records a failed upstream call by error type.
func (c *Collector) RecordUpstreamError(provider, errorType string) {
	if !c.enabled() {
		return
	}
	c.providers.RecordError(provider, errorType)
}

// UpdateProviderHealth sets the health gauge of provider.
func (c *Collector) UpdateProviderHealth(provider string, healthy bool) {
	if !c.enabled() {
		return
	}
	c.providers.UpdateHealth(provider, healthy)
}

// RecordCacheLookup records a lookup outcome (HIT, MISS, REFRESH, DISABLED).
func (c *Collector) RecordCacheLookup(status string) {
	if !c.enabled() {
		return
	}
	c.cache.RecordLookup(status)
}

// RecordCacheStore records a cache write.
func (c *Collector) RecordCacheStore() {
	if !c.enabled() {
		return
	}
	c.cache.RecordStore()
}

// RecordCacheSweep records entries removed by a sweep.
func (c *Collector) RecordCacheSweep(removed int) {
	if !c.enabled() {
		return
	}
	c.cache.RecordSweep(removed)
}

// RecordRateLimit records a rate limit decision for a rule.
func (c *Collector) RecordRateLimit(rule string, allowed bool) {
	if !c.enabled() {
		return
	}
	c.pipeline.RecordRateLimit(rule, allowed)
}

// RecordHook records one hook execution.
func (c *Collector) RecordHook(hook, event string, verdict bool, errKind string, duration time.Duration) {
	if !c.enabled() {
		return
	}
	c.pipeline.RecordHook(hook, event, verdict, errKind, duration)
}

// RecordRejection records a guardrail rejection at event.
func (c *Collector) RecordRejection(event string) {
	if !c.enabled() {
		return
	}
	c.pipeline.RecordRejection(event)
}

// RecordStream records a finished stream.
func (c *Collector) RecordStream(provider string, chunks, malformed int, aborted bool) {
	if !c.enabled() {
		return
	}
	c.pipeline.RecordStream(provider, chunks, malformed, aborted)
}

// Registry returns the registry backing the collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) model(model string) string {
	if model == "" {
		return "unknown"
	}
	if !c.models.Allow(model) {
		return "other"
	}
	return model
}

// CardinalityLimiter bounds the number of distinct values of a label.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a limiter admitting maxCardinality values.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow reports whether value is known or can still be admitted.
func (cl *CardinalityLimiter) Allow(value string) bool {
	cl.mu.RLock()
	if _, exists := cl.current[value]; exists {
		cl.mu.RUnlock()
		return true
	}
	cl.mu.RUnlock()

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, exists := cl.current[value]; exists {
		return true
	}
	if len(cl.current) >= cl.maxCardinality {
		return false
	}
	cl.current[value] = struct{}{}
	return true
}

// Count returns the number of admitted values.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}
