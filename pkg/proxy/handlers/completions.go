package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"mercator-hq/conduit/pkg/gateway"
	"mercator-hq/conduit/pkg/providers"
	"mercator-hq/conduit/pkg/proxy"
	"mercator-hq/conduit/pkg/proxy/middleware"
	"mercator-hq/conduit/pkg/telemetry/logging"
)

// Executor runs gateway requests. *gateway.Gateway implements it.
type Executor interface {
	Execute(ctx context.Context, req *gateway.Request) (*gateway.Response, error)
}

// DefaultsFunc returns the request defaults in effect. It is called once
// per request so configuration reloads apply to new requests.
type DefaultsFunc func() proxy.Defaults

// CompletionsHandler serves one gateway operation.
type CompletionsHandler struct {
	op       providers.Operation
	gateway  Executor
	defaults DefaultsFunc
	logger   *slog.Logger
}

// NewCompletionsHandler creates a handler for op. defaults may be nil.
func NewCompletionsHandler(op providers.Operation, gw Executor, defaults DefaultsFunc, logger *slog.Logger) *CompletionsHandler {
	if defaults == nil {
		defaults = func() proxy.Defaults { return proxy.Defaults{} }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CompletionsHandler{
		op:       op,
		gateway:  gw,
		defaults: defaults,
		logger:   logger.With("component", "handler", "operation", op),
	}
}

// ServeHTTP implements http.Handler. Method routing is left to the router.
func (h *CompletionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx, h.logger)

	req, err := proxy.ParseRequest(r, h.op, h.defaults())
	if err != nil {
		logger.Debug("rejected malformed request", "error", err)
		_ = proxy.WriteErrorResponse(w, err)
		return
	}
	if id := middleware.GetRequestID(ctx); id != "" {
		req.ID = id
	}

	resp, err := h.gateway.Execute(ctx, req)
	if err != nil {
		_ = proxy.WriteErrorResponse(w, err)
		return
	}

	if resp.Stream != nil {
		_ = proxy.StreamResponse(ctx, w, resp, logger)
		return
	}

	if err := proxy.WriteResponse(w, resp); err != nil {
		logger.Debug("failed to write response", "error", err)
	}
}
