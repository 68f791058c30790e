package config

import (
	"time"

	"mercator-hq/conduit/pkg/hooks"
	"mercator-hq/conduit/pkg/limits/ratelimit"
)

// Config is the root configuration for the gateway.
type Config struct {
	// Proxy contains HTTP server configuration.
	Proxy ProxyConfig `yaml:"proxy"`

	// Providers registers provider definitions by name. Built-in providers
	// are always available; an entry with a built-in name overrides it.
	Providers map[string]ProviderConfig `yaml:"providers"`

	// Upstream configures the shared HTTP client used for provider calls.
	Upstream UpstreamConfig `yaml:"upstream"`

	// Storage selects the key-value backend shared by the cache and the
	// rate limiter.
	Storage StorageConfig `yaml:"storage"`

	// Cache contains response cache configuration.
	Cache CacheConfig `yaml:"cache"`

	// RateLimit contains the rate limit rules applied to every request.
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// Hooks contains guardrail plugin configuration.
	Hooks HooksConfig `yaml:"hooks"`

	// Telemetry contains observability configuration.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ProxyConfig contains HTTP server configuration.
type ProxyConfig struct {
	// ListenAddress is the address the server binds to.
	// Default: "127.0.0.1:8787"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout bounds reading the full request.
	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout bounds writing the response. Zero disables it, which is
	// required for long-running streams.
	// Default: 0
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the keep-alive timeout.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes limits request header size.
	// Default: 1MB
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// MaxBodyBytes limits request body size.
	// Default: 10MB
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// CORS contains cross-origin configuration.
	CORS CORSConfig `yaml:"cors"`
}

// CORSConfig contains CORS configuration.
type CORSConfig struct {
	// Enabled controls whether CORS headers are sent.
	Enabled bool `yaml:"enabled"`

	// AllowedOrigins lists origins allowed to call the gateway. "*" allows any.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// AllowedHeaders lists request headers browsers may send.
	AllowedHeaders []string `yaml:"allowed_headers"`

	// MaxAge is how long preflight results may be cached, in seconds.
	MaxAge int `yaml:"max_age"`
}

// ProviderConfig configures one provider definition.
type ProviderConfig struct {
	// Type selects the definition: openai, anthropic, dashscope or ollama.
	// Inferred from the name when empty.
	Type string `yaml:"type"`

	// BaseURL replaces the definition's default base URL.
	BaseURL string `yaml:"base_url"`

	// AuthHeader is the API key header of OpenAI-compatible providers.
	AuthHeader string `yaml:"auth_header"`
}

// UpstreamConfig configures the provider HTTP client.
type UpstreamConfig struct {
	// Timeout bounds the wait for response headers.
	// Default: 60s
	Timeout time.Duration `yaml:"timeout"`

	// MaxIdleConns is the idle connection pool size across providers.
	// Default: 100
	MaxIdleConns int `yaml:"max_idle_conns"`

	// MaxIdleConnsPerHost is the idle connection pool size per provider.
	// Default: 10
	MaxIdleConnsPerHost int `yaml:"max_idle_conns_per_host"`

	// IdleConnTimeout is how long idle connections are kept.
	// Default: 90s
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`

	// MaxResponseBytes bounds buffered (non-streaming) provider responses.
	// Default: 32MB
	MaxResponseBytes int64 `yaml:"max_response_bytes"`
}

// StorageConfig selects the key-value backend.
type StorageConfig struct {
	// Backend is "memory" or "sqlite".
	// Default: "memory"
	Backend string `yaml:"backend"`

	// Memory configures the in-process backend.
	Memory MemoryConfig `yaml:"memory"`

	// SQLite configures the SQLite backend.
	SQLite SQLiteConfig `yaml:"sqlite"`
}

// MemoryConfig configures the in-process backend.
type MemoryConfig struct {
	// MaxEntries bounds the number of stored keys.
	// Default: 100000
	MaxEntries int `yaml:"max_entries"`
}

// SQLiteConfig configures the SQLite backend.
type SQLiteConfig struct {
	// Path is the database file.
	// Default: "data/conduit.db"
	Path string `yaml:"path"`

	// Driver is "sqlite" (pure Go) or "sqlite3" (cgo).
	// Default: "sqlite"
	Driver string `yaml:"driver"`

	// BusyTimeout is how long to wait on a locked database.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// SnapshotInterval is how often the WAL is checkpointed.
	// Default: 5m
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
}

// CacheConfig contains response cache configuration.
type CacheConfig struct {
	// Mode is the default cache mode for requests that do not send
	// x-conduit-cache: off, simple or semantic.
	// Default: "off"
	Mode string `yaml:"mode"`

	// MaxAge is the default entry lifetime.
	// Default: 24h
	MaxAge time.Duration `yaml:"max_age"`

	// SweepSchedule is a cron expression for removing expired entries.
	// Empty disables sweeping; expired entries are still never served.
	SweepSchedule string `yaml:"sweep_schedule"`
}

// RateLimitConfig contains rate limit configuration.
type RateLimitConfig struct {
	// Rules are checked in order for every request.
	Rules []ratelimit.Rule `yaml:"rules"`
}

// HooksConfig contains guardrail configuration.
type HooksConfig struct {
	// Dir is scanned for external plugin manifests. Empty disables loading.
	Dir string `yaml:"dir"`

	// Watch reloads manifests when Dir changes.
	Watch bool `yaml:"watch"`

	// Timeout is the default per-hook timeout.
	// Default: 5s
	Timeout time.Duration `yaml:"timeout"`

	// BeforeRequest hooks run before the provider call.
	BeforeRequest []hooks.HookConfig `yaml:"before_request"`

	// AfterRequest hooks run on the provider response.
	AfterRequest []hooks.HookConfig `yaml:"after_request"`
}

// TelemetryConfig contains observability configuration.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
	Health  HealthConfig  `yaml:"health"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	// Default: "info"
	Level string `yaml:"level"`

	// Format is json, text or console.
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line in log entries.
	AddSource bool `yaml:"add_source"`

	// Redact masks credentials in log attributes.
	// Default: true
	Redact *bool `yaml:"redact"`

	// RedactPatterns are additional redaction rules.
	RedactPatterns []RedactPattern `yaml:"redact_patterns"`
}

// RedactPattern is a custom redaction rule.
type RedactPattern struct {
	Name        string `yaml:"name"`
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
}

// MetricsConfig contains Prometheus configuration.
type MetricsConfig struct {
	// Enabled controls metric collection.
	// Default: true
	Enabled *bool `yaml:"enabled"`

	// Path is the scrape endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace prefixes every metric name.
	// Default: "conduit"
	Namespace string `yaml:"namespace"`

	// RequestDurationBuckets are the latency histogram buckets in seconds.
	RequestDurationBuckets []float64 `yaml:"request_duration_buckets"`
}

// TracingConfig contains OpenTelemetry configuration.
type TracingConfig struct {
	// Enabled controls span export.
	Enabled bool `yaml:"enabled"`

	// Endpoint is the OTLP gRPC collector address, such as "localhost:4317".
	Endpoint string `yaml:"endpoint"`

	// Insecure disables TLS to the collector.
	Insecure bool `yaml:"insecure"`

	// Timeout bounds each export.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`

	// Sampler is always, never or ratio.
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is used by the ratio sampler.
	// Default: 1.0
	SampleRatio float64 `yaml:"sample_ratio"`

	// ServiceName is reported in traces.
	// Default: "conduit"
	ServiceName string `yaml:"service_name"`
}

// HealthConfig contains health endpoint configuration.
type HealthConfig struct {
	// CheckTimeout bounds each readiness check.
	// Default: 5s
	CheckTimeout time.Duration `yaml:"check_timeout"`
}

// MetricsEnabled reports whether metrics are enabled, applying the default.
func (c MetricsConfig) MetricsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// RedactEnabled reports whether log redaction is enabled, applying the default.
func (c LoggingConfig) RedactEnabled() bool {
	return c.Redact == nil || *c.Redact
}
