package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"mercator-hq/conduit/pkg/cache"
	"mercator-hq/conduit/pkg/config"
	"mercator-hq/conduit/pkg/gateway"
	"mercator-hq/conduit/pkg/hooks"
	"mercator-hq/conduit/pkg/hooks/builtin"
	"mercator-hq/conduit/pkg/limits/ratelimit"
	"mercator-hq/conduit/pkg/providers"
	"mercator-hq/conduit/pkg/providers/catalog"
	"mercator-hq/conduit/pkg/proxy"
	"mercator-hq/conduit/pkg/server"
	"mercator-hq/conduit/pkg/storage"
	"mercator-hq/conduit/pkg/telemetry/health"
	"mercator-hq/conduit/pkg/telemetry/logging"
	"mercator-hq/conduit/pkg/telemetry/metrics"
	"mercator-hq/conduit/pkg/telemetry/tracing"
)

// Key prefixes separating cache entries from rate limit windows when both
// share one storage backend.
const (
	cachePrefix     = "cache:"
	rateLimitPrefix = "ratelimit:"
)

// app holds every component built from the configuration.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	metrics *metrics.Collector
	tracer  *tracing.Tracer
	store   storage.Store
	cache   *cache.Cache
	sweeper *cache.Sweeper
	limiter *ratelimit.Limiter

	plugins    *hooks.Registry
	hookLoader *hooks.Loader

	providers *providers.Registry
	client    *providers.Client
	gateway   *gateway.Gateway
	health    *health.Checker
	server    *server.Server
}

func newLogger(cfg config.LoggingConfig, w io.Writer) (*slog.Logger, error) {
	patterns := make([]logging.Pattern, 0, len(cfg.RedactPatterns))
	for _, p := range cfg.RedactPatterns {
		patterns = append(patterns, logging.Pattern{Name: p.Name, Regex: p.Pattern, Replacement: p.Replacement})
	}
	return logging.New(logging.Config{
		Level:     cfg.Level,
		Format:    cfg.Format,
		AddSource: cfg.AddSource,
		Redact:    cfg.RedactEnabled(),
		Patterns:  patterns,
		Writer:    w,
	})
}

func newStore(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return storage.NewMemoryStoreWithConfig(storage.MemoryStoreConfig{MaxEntries: cfg.Memory.MaxEntries}), nil
	case "sqlite":
		if dir := filepath.Dir(cfg.SQLite.Path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create storage directory: %w", err)
			}
		}
		return storage.NewSQLiteStoreWithConfig(storage.SQLiteStoreConfig{
			Path:             cfg.SQLite.Path,
			Driver:           cfg.SQLite.Driver,
			BusyTimeout:      cfg.SQLite.BusyTimeout,
			SnapshotInterval: cfg.SQLite.SnapshotInterval,
		})
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}

// catalogEntries converts configured providers in name order so registry
// construction logs deterministically.
func catalogEntries(cfg map[string]config.ProviderConfig) []catalog.Entry {
	names := make([]string, 0, len(cfg))
	for name := range cfg {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]catalog.Entry, 0, len(names))
	for _, name := range names {
		p := cfg[name]
		entries = append(entries, catalog.Entry{
			Name:       name,
			Type:       p.Type,
			BaseURL:    p.BaseURL,
			AuthHeader: p.AuthHeader,
		})
	}
	return entries
}

// requestDefaults reads the process-wide configuration on every call so a
// reload applies to new requests.
func requestDefaults() proxy.Defaults {
	cfg := config.GetConfig()
	if cfg == nil {
		return proxy.Defaults{}
	}
	return defaultsFor(cfg)
}

func defaultsFor(cfg *config.Config) proxy.Defaults {
	return proxy.Defaults{
		RateLimits:  cfg.RateLimit.Rules,
		BeforeHooks: cfg.Hooks.BeforeRequest,
		AfterHooks:  cfg.Hooks.AfterRequest,
		Cache: cache.Options{
			Mode:   cache.ParseMode(cfg.Cache.Mode),
			MaxAge: cfg.Cache.MaxAge,
		},
		MaxBodyBytes: cfg.Proxy.MaxBodyBytes,
	}
}

// newPlugins registers the built-in plugins and loads external manifests.
// The loader is nil when no plugin directory is configured.
func newPlugins(cfg config.HooksConfig, logger *slog.Logger) (*hooks.Registry, *hooks.Loader, error) {
	registry := hooks.NewRegistry()
	if err := builtin.Register(registry); err != nil {
		return nil, nil, fmt.Errorf("failed to register built-in plugins: %w", err)
	}
	if cfg.Dir == "" {
		return registry, nil, nil
	}

	loader := hooks.NewLoader(hooks.LoaderConfig{Dir: cfg.Dir}, registry, logger)
	n, err := loader.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load plugins from %s: %w", cfg.Dir, err)
	}
	logger.Info("external plugins loaded", "dir", cfg.Dir, "count", n)
	return registry, loader, nil
}

// buildApp wires every component. On error, anything already opened is
// closed before returning.
func buildApp(cfg *config.Config, logger *slog.Logger, build server.BuildInfo) (a *app, err error) {
	a = &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.close(context.Background())
			a = nil
		}
	}()

	if cfg.Telemetry.Metrics.MetricsEnabled() {
		a.metrics = metrics.NewCollector(metrics.Config{
			Enabled:         true,
			Namespace:       cfg.Telemetry.Metrics.Namespace,
			DurationBuckets: cfg.Telemetry.Metrics.RequestDurationBuckets,
		}, nil)
	}

	if cfg.Telemetry.Tracing.Enabled {
		a.tracer, err = tracing.New(tracing.Config{
			Enabled:        true,
			ServiceName:    cfg.Telemetry.Tracing.ServiceName,
			ServiceVersion: build.Version,
			Endpoint:       cfg.Telemetry.Tracing.Endpoint,
			Insecure:       cfg.Telemetry.Tracing.Insecure,
			Timeout:        cfg.Telemetry.Tracing.Timeout,
			Sampler:        cfg.Telemetry.Tracing.Sampler,
			SampleRatio:    cfg.Telemetry.Tracing.SampleRatio,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
	} else {
		a.tracer = tracing.Noop()
	}

	a.store, err = newStore(cfg.Storage)
	if err != nil {
		return nil, err
	}
	logger.Info("storage initialized", "backend", cfg.Storage.Backend)

	a.limiter = ratelimit.NewLimiter(storage.Prefixed(a.store, rateLimitPrefix), logger)
	a.cache = cache.New(storage.Prefixed(a.store, cachePrefix), logger)
	if cfg.Cache.SweepSchedule != "" {
		a.sweeper = cache.NewSweeper(a.cache, cfg.Cache.SweepSchedule, a.metrics.RecordCacheSweep, logger)
	}

	a.plugins, a.hookLoader, err = newPlugins(cfg.Hooks, logger)
	if err != nil {
		return nil, err
	}

	a.providers, err = catalog.New(catalogEntries(cfg.Providers), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build provider registry: %w", err)
	}

	a.client = providers.NewClient(providers.ClientConfig{
		Timeout:             cfg.Upstream.Timeout,
		MaxIdleConns:        cfg.Upstream.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.Upstream.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.Upstream.IdleConnTimeout,
	}, logger)

	a.gateway, err = gateway.New(gateway.Options{
		Providers:        a.providers,
		Client:           a.client,
		Limiter:          a.limiter,
		Cache:            a.cache,
		Hooks:            hooks.NewPipeline(a.plugins, cfg.Hooks.Timeout, logger),
		Metrics:          a.metrics,
		Tracer:           a.tracer,
		Logger:           logger,
		MaxResponseBytes: cfg.Upstream.MaxResponseBytes,
	})
	if err != nil {
		return nil, err
	}

	a.health = health.New(cfg.Telemetry.Health.CheckTimeout)
	a.health.RegisterCheck("storage", storageCheck(a.store))
	a.health.SetDetails(func() any {
		return map[string]any{
			"plugins":   a.plugins.Len(),
			"providers": a.client.Health().Snapshot(),
		}
	})

	a.server, err = server.New(server.Options{
		Config:      &cfg.Proxy,
		Gateway:     a.gateway,
		Defaults:    requestDefaults,
		Plugins:     a.plugins,
		Health:      a.health,
		Metrics:     a.metrics,
		MetricsPath: cfg.Telemetry.Metrics.Path,
		Tracer:      a.tracer,
		Build:       build,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	return a, nil
}

// storageCheck probes the backend with a read of a key that never exists.
func storageCheck(store storage.Store) health.CheckFunc {
	return func(ctx context.Context) error {
		_, _, err := store.Get(ctx, "health:probe")
		return err
	}
}

// startBackground starts the cache sweeper and the plugin watcher. Both
// stop when ctx is cancelled.
func (a *app) startBackground(ctx context.Context) error {
	if a.sweeper != nil {
		if err := a.sweeper.Start(ctx); err != nil {
			return err
		}
	}
	if a.hookLoader != nil && a.cfg.Hooks.Watch {
		go func() {
			if err := a.hookLoader.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("plugin watcher stopped", "error", err)
			}
		}()
	}
	return nil
}

// close releases resources in reverse construction order.
func (a *app) close(ctx context.Context) {
	if a.sweeper != nil {
		a.sweeper.Stop()
	}
	if a.client != nil {
		a.client.CloseIdleConnections()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("failed to close storage", "error", err)
		}
	}
	if a.tracer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := a.tracer.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("failed to flush traces", "error", err)
		}
	}
}
