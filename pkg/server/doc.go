// Package server exposes the gateway over HTTP.
//
// Routes:
//
//	POST /v1/chat/completions  chat completions, streaming or buffered
//	POST /v1/completions       text completions
//	POST /v1/embeddings        embeddings
//	GET  /v1/plugins           registered guardrail plugins
//	GET  /health               liveness
//	GET  /ready                readiness, 503 when a check fails
//	GET  /version              build information
//	GET  /metrics              Prometheus metrics (path configurable)
//
// Unknown routes and methods answer with OpenAI-style 404 and 405 bodies.
//
// # Basic Usage
//
//	srv, err := server.New(server.Options{
//	    Config:  &cfg.Proxy,
//	    Gateway: gw,
//	    Plugins: hookRegistry,
//	    Health:  checker,
//	    Metrics: collector,
//	    MetricsPath: cfg.Telemetry.Metrics.Path,
//	    Logger:  logger,
//	})
//	if err != nil {
//	    return err
//	}
//
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
//	defer stop()
//	return srv.Start(ctx)
//
// Start blocks until ctx is cancelled and then drains in-flight requests
// for up to ShutdownTimeout. The write timeout should stay zero when
// clients stream, since an SSE response is one long write.
package server
