// Package server provides the HTTP server of the gateway.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"mercator-hq/conduit/pkg/config"
	"mercator-hq/conduit/pkg/providers"
	"mercator-hq/conduit/pkg/proxy"
	"mercator-hq/conduit/pkg/proxy/handlers"
	"mercator-hq/conduit/pkg/proxy/middleware"
	"mercator-hq/conduit/pkg/proxy/types"
	"mercator-hq/conduit/pkg/telemetry/health"
	"mercator-hq/conduit/pkg/telemetry/metrics"
	"mercator-hq/conduit/pkg/telemetry/tracing"
)

// DefaultShutdownTimeout is used when the config leaves it unset.
const DefaultShutdownTimeout = 30 * time.Second

// BuildInfo is reported by GET /version.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// Options wires a Server. Config and Gateway are required.
type Options struct {
	Config  *config.ProxyConfig
	Gateway handlers.Executor

	// Defaults supplies per-request defaults. It is called on every request.
	Defaults handlers.DefaultsFunc

	Plugins handlers.PluginLister
	Health  *health.Checker

	// Metrics is served at MetricsPath when both are set.
	Metrics     *metrics.Collector
	MetricsPath string

	Tracer *tracing.Tracer
	Build  BuildInfo
	Logger *slog.Logger
}

// Server is the gateway HTTP server.
type Server struct {
	config     *config.ProxyConfig
	router     chi.Router
	httpServer *http.Server
	logger     *slog.Logger

	mu        sync.Mutex
	listener  net.Listener
	isRunning bool
}

// New creates a server and builds its routes.
func New(opts Options) (*Server, error) {
	if opts.Config == nil {
		return nil, errors.New("server: proxy config is required")
	}
	if opts.Gateway == nil {
		return nil, errors.New("server: gateway is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Health == nil {
		opts.Health = health.New(0)
	}

	s := &Server{
		config: opts.Config,
		logger: opts.Logger.With("component", "server"),
	}
	s.router = s.setupRoutes(opts)
	return s, nil
}

// Handler returns the root handler, middleware included.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures the router. Middleware runs outermost first:
// recovery, request ID, tracing, logging, CORS.
func (s *Server) setupRoutes(opts Options) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RecoveryMiddleware(opts.Logger))
	r.Use(chimw.CleanPath)
	r.Use(middleware.RequestIDMiddleware)
	r.Use(tracing.HTTPMiddleware(opts.Tracer))
	r.Use(middleware.LoggingMiddleware(opts.Logger))
	r.Use(middleware.CORSMiddleware(corsConfig(opts.Config.CORS)))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = proxy.WriteJSONResponse(w, http.StatusNotFound, types.NewErrorResponse(
			fmt.Sprintf("no route for %s %s", r.Method, r.URL.Path), types.ErrorTypeNotFound, "", ""))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = proxy.WriteJSONResponse(w, http.StatusMethodNotAllowed, types.NewErrorResponse(
			fmt.Sprintf("method %s not allowed on %s", r.Method, r.URL.Path), types.ErrorTypeMethodNotAllowed, "", ""))
	})

	defaults := opts.Defaults
	if defaults == nil {
		maxBody := opts.Config.MaxBodyBytes
		defaults = func() proxy.Defaults { return proxy.Defaults{MaxBodyBytes: maxBody} }
	}

	r.Route("/v1", func(r chi.Router) {
		r.Method(http.MethodPost, "/chat/completions",
			handlers.NewCompletionsHandler(providers.OpChatComplete, opts.Gateway, defaults, opts.Logger))
		r.Method(http.MethodPost, "/completions",
			handlers.NewCompletionsHandler(providers.OpComplete, opts.Gateway, defaults, opts.Logger))
		r.Method(http.MethodPost, "/embeddings",
			handlers.NewCompletionsHandler(providers.OpEmbed, opts.Gateway, defaults, opts.Logger))
		r.Method(http.MethodGet, "/plugins", handlers.NewPluginsHandler(opts.Plugins))
	})

	r.Get("/health", opts.Health.LivenessHandler())
	r.Get("/ready", opts.Health.ReadinessHandler())
	r.Get("/version", health.VersionHandler(opts.Build.Version, opts.Build.Commit, opts.Build.BuildTime))

	if opts.Metrics != nil && opts.MetricsPath != "" {
		r.Method(http.MethodGet, opts.MetricsPath, opts.Metrics.Handler())
	}

	return r
}

func corsConfig(cfg config.CORSConfig) *middleware.CORSConfig {
	c := middleware.DefaultCORSConfig()
	c.Enabled = cfg.Enabled
	if len(cfg.AllowedOrigins) > 0 {
		c.AllowedOrigins = cfg.AllowedOrigins
	}
	if len(cfg.AllowedHeaders) > 0 {
		c.AllowedHeaders = cfg.AllowedHeaders
	}
	if cfg.MaxAge > 0 {
		c.MaxAge = cfg.MaxAge
	}
	return c
}

// Start listens on the configured address and serves until ctx is
// cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}

	ln, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddress, err)
	}

	s.listener = ln
	s.isRunning = true
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadTimeout:       s.config.ReadTimeout,
		ReadHeaderTimeout: s.config.ReadTimeout,
		WriteTimeout:      s.config.WriteTimeout,
		IdleTimeout:       s.config.IdleTimeout,
		MaxHeaderBytes:    s.config.MaxHeaderBytes,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	srv := s.httpServer
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting gateway server", "address", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case err, ok := <-errChan:
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		if ok {
			return err
		}
		return nil
	}
}

// Addr returns the bound address, or "" when the server is not running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil || !s.isRunning {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting connections and waits for in-flight requests,
// including open streams, up to the shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	srv := s.httpServer
	s.mu.Unlock()

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	s.logger.Info("initiating graceful shutdown", "timeout", timeout.String())

	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("error during server shutdown", "error", err)
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.logger.Info("gateway server stopped")
	return nil
}
