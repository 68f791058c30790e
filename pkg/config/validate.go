package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"

	"mercator-hq/conduit/pkg/gateway"
	"mercator-hq/conduit/pkg/hooks"
	"mercator-hq/conduit/pkg/providers/catalog"
	"mercator-hq/conduit/pkg/telemetry/logging"
	"mercator-hq/conduit/pkg/telemetry/tracing"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the field (e.g., "proxy.listen_address").
	Field string

	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError collects every invalid field of a configuration.
type ValidationError struct {
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "configuration validation failed with %d errors:\n", len(e.Errors))
	for _, err := range e.Errors {
		fmt.Fprintf(&sb, "  - %s\n", err.Error())
	}
	return sb.String()
}

// Validate checks cfg and returns a ValidationError listing every problem,
// or nil.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateProxy(&cfg.Proxy)...)
	errs = append(errs, validateProviders(cfg.Providers)...)
	errs = append(errs, validateUpstream(&cfg.Upstream)...)
	errs = append(errs, validateStorage(&cfg.Storage)...)
	errs = append(errs, validateCache(&cfg.Cache)...)
	errs = append(errs, validateRateLimit(&cfg.RateLimit)...)
	errs = append(errs, validateHooks(&cfg.Hooks)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateProxy(cfg *ProxyConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{Field: "proxy.listen_address", Message: "listen address is required"})
	}
	if cfg.ReadTimeout < 0 {
		errs = append(errs, FieldError{Field: "proxy.read_timeout", Message: "must not be negative"})
	}
	if cfg.WriteTimeout < 0 {
		errs = append(errs, FieldError{Field: "proxy.write_timeout", Message: "must not be negative"})
	}
	if cfg.IdleTimeout < 0 {
		errs = append(errs, FieldError{Field: "proxy.idle_timeout", Message: "must not be negative"})
	}
	if cfg.ShutdownTimeout < 0 {
		errs = append(errs, FieldError{Field: "proxy.shutdown_timeout", Message: "must not be negative"})
	}
	if cfg.MaxHeaderBytes < 0 {
		errs = append(errs, FieldError{Field: "proxy.max_header_bytes", Message: "must not be negative"})
	}
	if cfg.MaxBodyBytes < 0 {
		errs = append(errs, FieldError{Field: "proxy.max_body_bytes", Message: "must not be negative"})
	}
	if cfg.CORS.Enabled && len(cfg.CORS.AllowedOrigins) == 0 {
		errs = append(errs, FieldError{Field: "proxy.cors.allowed_origins", Message: "at least one origin is required when CORS is enabled"})
	}

	return errs
}

func validateProviders(list map[string]ProviderConfig) []FieldError {
	var errs []FieldError

	for name, p := range list {
		field := "providers." + name
		if name == "" {
			errs = append(errs, FieldError{Field: "providers", Message: "provider name must not be empty"})
			continue
		}
		switch p.Type {
		case "", catalog.TypeOpenAI, catalog.TypeAnthropic, catalog.TypeDashScope, catalog.TypeOllama:
		default:
			errs = append(errs, FieldError{Field: field + ".type", Message: fmt.Sprintf("unsupported type %q", p.Type)})
		}
		if p.BaseURL != "" {
			if u, err := url.Parse(p.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
				errs = append(errs, FieldError{Field: field + ".base_url", Message: fmt.Sprintf("invalid URL %q", p.BaseURL)})
			}
		}
	}

	return errs
}

func validateUpstream(cfg *UpstreamConfig) []FieldError {
	var errs []FieldError

	if cfg.Timeout < 0 {
		errs = append(errs, FieldError{Field: "upstream.timeout", Message: "must not be negative"})
	}
	if cfg.MaxIdleConns < 0 || cfg.MaxIdleConnsPerHost < 0 {
		errs = append(errs, FieldError{Field: "upstream.max_idle_conns", Message: "must not be negative"})
	}
	if cfg.MaxResponseBytes < 0 {
		errs = append(errs, FieldError{Field: "upstream.max_response_bytes", Message: "must not be negative"})
	}

	return errs
}

func validateStorage(cfg *StorageConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "memory":
		if cfg.Memory.MaxEntries < 0 {
			errs = append(errs, FieldError{Field: "storage.memory.max_entries", Message: "must not be negative"})
		}
	case "sqlite":
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{Field: "storage.sqlite.path", Message: "path is required"})
		}
		if cfg.SQLite.Driver != "sqlite" && cfg.SQLite.Driver != "sqlite3" {
			errs = append(errs, FieldError{Field: "storage.sqlite.driver", Message: fmt.Sprintf("must be sqlite or sqlite3, got %q", cfg.SQLite.Driver)})
		}
	default:
		errs = append(errs, FieldError{Field: "storage.backend", Message: fmt.Sprintf("must be memory or sqlite, got %q", cfg.Backend)})
	}

	return errs
}

func validateCache(cfg *CacheConfig) []FieldError {
	var errs []FieldError

	switch strings.ToLower(cfg.Mode) {
	case "off", "simple", "semantic":
	default:
		errs = append(errs, FieldError{Field: "cache.mode", Message: fmt.Sprintf("must be off, simple or semantic, got %q", cfg.Mode)})
	}
	if cfg.MaxAge < 0 {
		errs = append(errs, FieldError{Field: "cache.max_age", Message: "must not be negative"})
	}
	if cfg.SweepSchedule != "" {
		if _, err := cron.ParseStandard(cfg.SweepSchedule); err != nil {
			errs = append(errs, FieldError{Field: "cache.sweep_schedule", Message: fmt.Sprintf("invalid cron expression: %v", err)})
		}
	}

	return errs
}

func validateRateLimit(cfg *RateLimitConfig) []FieldError {
	var errs []FieldError

	seen := make(map[string]bool)
	for i, r := range cfg.Rules {
		field := fmt.Sprintf("rate_limit.rules[%d]", i)
		if r.Name == "" {
			errs = append(errs, FieldError{Field: field + ".name", Message: "name is required"})
		} else if seen[r.Name] {
			errs = append(errs, FieldError{Field: field + ".name", Message: fmt.Sprintf("duplicate rule %q", r.Name)})
		}
		seen[r.Name] = true

		if !gateway.ValidKeySource(r.KeySource) {
			errs = append(errs, FieldError{Field: field + ".key_source", Message: fmt.Sprintf("unknown key source %q", r.KeySource)})
		}
		if r.Capacity <= 0 {
			errs = append(errs, FieldError{Field: field + ".capacity", Message: "must be positive"})
		}
		if r.Window <= 0 {
			errs = append(errs, FieldError{Field: field + ".window", Message: "must be positive"})
		}
		if r.Units < 0 {
			errs = append(errs, FieldError{Field: field + ".units", Message: "must not be negative"})
		}
	}

	return errs
}

func validateHooks(cfg *HooksConfig) []FieldError {
	var errs []FieldError

	if cfg.Timeout < 0 {
		errs = append(errs, FieldError{Field: "hooks.timeout", Message: "must not be negative"})
	}
	if cfg.Watch && cfg.Dir == "" {
		errs = append(errs, FieldError{Field: "hooks.watch", Message: "requires hooks.dir"})
	}
	errs = append(errs, validateHookList("hooks.before_request", hooks.EventBeforeRequest, cfg.BeforeRequest)...)
	errs = append(errs, validateHookList("hooks.after_request", hooks.EventAfterRequest, cfg.AfterRequest)...)

	return errs
}

func validateHookList(prefix string, event hooks.EventType, list []hooks.HookConfig) []FieldError {
	var errs []FieldError

	for i, h := range list {
		field := fmt.Sprintf("%s[%d]", prefix, i)
		if h.Plugin == "" {
			errs = append(errs, FieldError{Field: field + ".plugin", Message: "plugin is required"})
		} else if !strings.Contains(h.Plugin, ".") {
			errs = append(errs, FieldError{Field: field + ".plugin", Message: fmt.Sprintf("%q is not of the form <collection>.<id>", h.Plugin)})
		}
		if h.Event != "" && h.Event != event {
			errs = append(errs, FieldError{Field: field + ".event", Message: fmt.Sprintf("must be empty or %q", event)})
		}
		if h.Timeout < 0 {
			errs = append(errs, FieldError{Field: field + ".timeout", Message: "must not be negative"})
		}
	}

	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, FieldError{Field: "telemetry.logging.level", Message: err.Error()})
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "json", "text", "console":
	default:
		errs = append(errs, FieldError{Field: "telemetry.logging.format", Message: fmt.Sprintf("must be json, text or console, got %q", cfg.Logging.Format)})
	}
	for i, p := range cfg.Logging.RedactPatterns {
		if p.Pattern == "" {
			errs = append(errs, FieldError{Field: fmt.Sprintf("telemetry.logging.redact_patterns[%d].pattern", i), Message: "pattern is required"})
		}
	}

	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{Field: "telemetry.metrics.path", Message: "must start with /"})
	}

	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		errs = append(errs, FieldError{Field: "telemetry.tracing.endpoint", Message: "endpoint is required when tracing is enabled"})
	}
	if err := tracing.ValidateSampler(cfg.Tracing.Sampler, cfg.Tracing.SampleRatio); err != nil {
		errs = append(errs, FieldError{Field: "telemetry.tracing.sampler", Message: err.Error()})
	}

	return errs
}
