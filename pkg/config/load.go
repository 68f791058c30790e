package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CONDUIT_"

// LoadConfig loads configuration from a YAML file, applies defaults and
// validates it. Environment variables are not consulted; use
// LoadConfigWithEnvOverrides for that.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML and applies defaults without validating. Unknown
// fields are rejected so typos surface at startup.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	ApplyDefaults(&cfg)
	return &cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration and applies CONDUIT_*
// environment overrides. An empty path starts from the defaults alone.
//
// The loading sequence is:
//  1. Load YAML from file
//  2. Apply default values
//  3. Apply environment variable overrides
//  4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	var cfg *Config
	if path == "" {
		cfg = &Config{}
		ApplyDefaults(cfg)
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
		}
		if cfg, err = Parse(data); err != nil {
			return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies CONDUIT_SECTION_FIELD variables. Malformed
// values are reported instead of silently ignored.
func applyEnvOverrides(cfg *Config) error {
	e := &envReader{}

	// Proxy overrides
	e.str("PROXY_LISTEN_ADDRESS", &cfg.Proxy.ListenAddress)
	e.duration("PROXY_READ_TIMEOUT", &cfg.Proxy.ReadTimeout)
	e.duration("PROXY_WRITE_TIMEOUT", &cfg.Proxy.WriteTimeout)
	e.duration("PROXY_IDLE_TIMEOUT", &cfg.Proxy.IdleTimeout)
	e.duration("PROXY_SHUTDOWN_TIMEOUT", &cfg.Proxy.ShutdownTimeout)
	e.int64("PROXY_MAX_BODY_BYTES", &cfg.Proxy.MaxBodyBytes)

	// Upstream overrides
	e.duration("UPSTREAM_TIMEOUT", &cfg.Upstream.Timeout)
	e.int64("UPSTREAM_MAX_RESPONSE_BYTES", &cfg.Upstream.MaxResponseBytes)

	// Storage overrides
	e.str("STORAGE_BACKEND", &cfg.Storage.Backend)
	e.str("STORAGE_SQLITE_PATH", &cfg.Storage.SQLite.Path)
	e.str("STORAGE_SQLITE_DRIVER", &cfg.Storage.SQLite.Driver)

	// Cache overrides
	e.str("CACHE_MODE", &cfg.Cache.Mode)
	e.duration("CACHE_MAX_AGE", &cfg.Cache.MaxAge)
	e.str("CACHE_SWEEP_SCHEDULE", &cfg.Cache.SweepSchedule)

	// Hooks overrides
	e.str("HOOKS_DIR", &cfg.Hooks.Dir)
	e.boolean("HOOKS_WATCH", &cfg.Hooks.Watch)
	e.duration("HOOKS_TIMEOUT", &cfg.Hooks.Timeout)

	// Telemetry overrides
	e.str("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	e.str("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	e.boolPtr("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	e.str("TELEMETRY_METRICS_PATH", &cfg.Telemetry.Metrics.Path)
	e.boolean("TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	e.str("TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	e.boolean("TELEMETRY_TRACING_INSECURE", &cfg.Telemetry.Tracing.Insecure)
	e.str("TELEMETRY_TRACING_SAMPLER", &cfg.Telemetry.Tracing.Sampler)
	e.float("TELEMETRY_TRACING_SAMPLE_RATIO", &cfg.Telemetry.Tracing.SampleRatio)

	// Provider base URLs: CONDUIT_PROVIDERS_<NAME>_BASE_URL. Names are
	// upper-cased with dashes turned into underscores.
	for _, name := range providerNames(cfg) {
		key := "PROVIDERS_" + envName(name) + "_BASE_URL"
		val, ok := os.LookupEnv(EnvPrefix + key)
		if !ok || val == "" {
			continue
		}
		if cfg.Providers == nil {
			cfg.Providers = make(map[string]ProviderConfig)
		}
		p := cfg.Providers[name]
		p.BaseURL = val
		cfg.Providers[name] = p
	}

	if len(e.errs) > 0 {
		return ValidationError{Errors: e.errs}
	}
	return nil
}

// providerNames returns the configured names plus the built-in ones.
func providerNames(cfg *Config) []string {
	names := []string{"openai", "anthropic", "dashscope", "ollama"}
	for name := range cfg.Providers {
		switch name {
		case "openai", "anthropic", "dashscope", "ollama":
		default:
			names = append(names, name)
		}
	}
	return names
}

func envName(name string) string {
	return strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

// envReader reads typed overrides and collects parse failures.
type envReader struct {
	errs []FieldError
}

func (e *envReader) lookup(key string) (string, bool) {
	val, ok := os.LookupEnv(EnvPrefix + key)
	if !ok || val == "" {
		return "", false
	}
	return val, true
}

func (e *envReader) fail(key, val string, err error) {
	e.errs = append(e.errs, FieldError{Field: EnvPrefix + key, Message: fmt.Sprintf("invalid value %q: %v", val, err)})
}

func (e *envReader) str(key string, dst *string) {
	if val, ok := e.lookup(key); ok {
		*dst = val
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	val, ok := e.lookup(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		e.fail(key, val, err)
		return
	}
	*dst = d
}

func (e *envReader) int64(key string, dst *int64) {
	val, ok := e.lookup(key)
	if !ok {
		return
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		e.fail(key, val, err)
		return
	}
	*dst = n
}

func (e *envReader) float(key string, dst *float64) {
	val, ok := e.lookup(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		e.fail(key, val, err)
		return
	}
	*dst = f
}

func (e *envReader) boolean(key string, dst *bool) {
	val, ok := e.lookup(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		e.fail(key, val, err)
		return
	}
	*dst = b
}

func (e *envReader) boolPtr(key string, dst **bool) {
	var b bool
	before := len(e.errs)
	if _, ok := e.lookup(key); !ok {
		return
	}
	e.boolean(key, &b)
	if len(e.errs) == before {
		*dst = &b
	}
}
