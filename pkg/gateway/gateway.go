package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/conduit/pkg/cache"
	"mercator-hq/conduit/pkg/hooks"
	"mercator-hq/conduit/pkg/limits/ratelimit"
	"mercator-hq/conduit/pkg/providers"
	"mercator-hq/conduit/pkg/telemetry/logging"
	"mercator-hq/conduit/pkg/telemetry/metrics"
	"mercator-hq/conduit/pkg/telemetry/tracing"
)

// DefaultMaxResponseBytes bounds buffered (non-streamed) upstream bodies.
const DefaultMaxResponseBytes = 32 << 20

// Options wires a Gateway. Providers and Client are required; every other
// component is optional and its stage is skipped when nil.
type Options struct {
	Providers *providers.Registry
	Client    *providers.Client

	Limiter *ratelimit.Limiter
	Cache   *cache.Cache
	Hooks   *hooks.Pipeline

	Metrics *metrics.Collector
	Tracer  *tracing.Tracer
	Logger  *slog.Logger

	// MaxResponseBytes bounds upstream bodies. Default: DefaultMaxResponseBytes.
	MaxResponseBytes int64
}

// Gateway executes requests. It is safe for concurrent use.
type Gateway struct {
	providers *providers.Registry
	client    *providers.Client
	limiter   *ratelimit.Limiter
	cache     *cache.Cache
	hooks     *hooks.Pipeline
	metrics   *metrics.Collector
	tracer    *tracing.Tracer
	logger    *slog.Logger
	maxBytes  int64
}

// New creates a gateway.
func New(opts Options) (*Gateway, error) {
	if opts.Providers == nil {
		return nil, errors.New("gateway: provider registry is required")
	}
	if opts.Client == nil {
		return nil, errors.New("gateway: upstream client is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = tracing.Noop()
	}
	if opts.MaxResponseBytes <= 0 {
		opts.MaxResponseBytes = DefaultMaxResponseBytes
	}

	return &Gateway{
		providers: opts.Providers,
		client:    opts.Client,
		limiter:   opts.Limiter,
		cache:     opts.Cache,
		hooks:     opts.Hooks,
		metrics:   opts.Metrics,
		tracer:    opts.Tracer,
		logger:    opts.Logger.With("component", "gateway"),
		maxBytes:  opts.MaxResponseBytes,
	}, nil
}

// Providers returns the provider registry.
func (g *Gateway) Providers() *providers.Registry {
	return g.providers
}

// Execute runs req through every stage. See the package documentation for
// the order and for which failures are errors rather than responses.
func (g *Gateway) Execute(ctx context.Context, req *Request) (*Response, error) {
	if req == nil || req.Unified == nil {
		return nil, &providers.ValidationError{Field: "body", Message: "request is required"}
	}
	unified := req.Unified
	op := unified.Operation()
	opts := unified.Options()
	start := time.Now()

	if req.ID != "" {
		ctx = logging.WithRequestID(ctx, req.ID)
	}
	logger := logging.FromContext(ctx, g.logger).With("provider", opts.Provider, "operation", op)

	ctx, span := g.tracer.Start(ctx, "gateway.execute",
		tracing.RequestAttributes(req.ID, opts.Provider, string(op), unified.Model(), unified.Stream()))

	resp, err := g.execute(ctx, req, logger)

	status := "error"
	switch {
	case err != nil:
		var exceeded *ratelimit.ExceededError
		if errors.As(err, &exceeded) {
			status = strconv.Itoa(http.StatusTooManyRequests)
		}
		tracing.SetStatus(span, err)
		logger.Warn("request failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
	case resp.Stream != nil:
		// The stream span and request metrics are completed by Pipe.
		span.SetAttributes(attribute.Int(tracing.AttrStatusCode, resp.Status))
		resp.Stream.span = span
		resp.Stream.start = start
		return resp, nil
	default:
		status = strconv.Itoa(resp.Status)
		span.SetAttributes(
			attribute.Int(tracing.AttrStatusCode, resp.Status),
			attribute.String(tracing.AttrCacheStatus, string(resp.CacheStatus)),
		)
		logger.Info("request completed",
			"status", resp.Status,
			"cache_status", resp.CacheStatus,
			"duration_ms", time.Since(start).Milliseconds())
	}

	g.metrics.RecordRequest(opts.Provider, string(op), unified.Model(), status, time.Since(start))
	span.End()
	return resp, err
}

func (g *Gateway) execute(ctx context.Context, req *Request, logger *slog.Logger) (*Response, error) {
	unified := req.Unified
	op := unified.Operation()
	name := unified.Options().Provider

	provider, err := g.providers.Lookup(name)
	if err != nil {
		return nil, err
	}
	if !provider.Supports(op) {
		return nil, &providers.UnsupportedOperationError{Provider: provider.Name, Operation: op}
	}

	if err := g.checkRateLimits(ctx, req); err != nil {
		return nil, err
	}

	// The URL is derived without the body so the cache key does not depend
	// on translation.
	keyTarget, err := provider.BuildURL(providers.APIContext{Operation: op, Request: unified})
	if err != nil {
		return nil, err
	}

	cacheStatus := cache.StatusDisabled
	var cacheKey string
	if g.cache != nil && !unified.Stream() && req.Cache.Mode.Enabled() {
		canonical, err := unified.CanonicalJSON()
		if err != nil {
			return nil, &providers.ValidationError{Field: "body", Message: err.Error()}
		}
		cacheKey = cache.Key(canonical, keyTarget.URL)

		var cached []byte
		cacheStatus, cached = g.cache.Lookup(ctx, cacheKey, req.Cache)
		g.metrics.RecordCacheLookup(string(cacheStatus))
		trace.SpanFromContext(ctx).SetAttributes(attribute.String(tracing.AttrCacheStatus, string(cacheStatus)))

		if cacheStatus == cache.StatusHit {
			logger.Debug("serving cached response", "cache_key", cacheKey)
			return &Response{
				Status:      http.StatusOK,
				Header:      jsonHeader(),
				Body:        cached,
				CacheStatus: cacheStatus,
			}, nil
		}
	}

	resp := &Response{CacheStatus: cacheStatus}

	hc := hookContext(req, provider.Name)
	if outcome := g.runHooks(ctx, hooks.EventBeforeRequest, req.BeforeHooks, hc); outcome != nil {
		resp.Hooks = append(resp.Hooks, outcome)
		if !outcome.Verdict {
			return reject(resp, outcome), nil
		}
	}

	upstream, err := g.call(ctx, provider, unified)
	if err != nil {
		return nil, err
	}

	if unified.Stream() && isSuccess(upstream.StatusCode) {
		resp.Status = upstream.StatusCode
		resp.Header = http.Header{}
		resp.Stream = &Stream{
			gateway:  g,
			provider: provider,
			req:      req,
			hc:       hc,
			body:     upstream.Body,
			logger:   logger,
		}
		return resp, nil
	}

	defer upstream.Body.Close()
	raw, err := g.readBody(upstream.Body)
	if err != nil {
		return nil, &providers.TransportError{Provider: provider.Name, URL: upstream.Request.URL.String(), Cause: err}
	}

	translated, err := provider.TransformResponse(unified, raw, upstream.StatusCode)
	if err != nil {
		return nil, err
	}
	resp.Unified = translated
	resp.Status = upstream.StatusCode
	resp.Header = jsonHeader()

	if translated.Error != nil {
		resp.ProviderError = &providers.ProviderError{
			Provider:   provider.Name,
			StatusCode: upstream.StatusCode,
			Code:       translated.Error.Code,
			Type:       translated.Error.Type,
			Message:    translated.Error.Message,
			RetryAfter: providers.ParseRetryAfter(upstream.Header.Get("Retry-After")),
		}
		if ra := upstream.Header.Get("Retry-After"); ra != "" {
			resp.Header.Set("Retry-After", ra)
		}
		resp.Body, err = json.Marshal(map[string]any{"error": translated.Error, "provider": provider.Name})
		if err != nil {
			return nil, err
		}
		logger.Info("provider returned error",
			"status", upstream.StatusCode,
			"code", translated.Error.Code,
			"message", translated.Error.Message)
		return resp, nil
	}

	if translated.Usage != nil {
		g.metrics.RecordTokens(provider.Name, translated.Model, translated.Usage.PromptTokens, translated.Usage.CompletionTokens)
		tracing.SetTokenAttributes(trace.SpanFromContext(ctx), translated.Usage.PromptTokens, translated.Usage.CompletionTokens)
	}

	resp.Body, err = json.Marshal(translated)
	if err != nil {
		return nil, fmt.Errorf("failed to encode response: %w", err)
	}

	if len(req.AfterHooks) > 0 {
		after := responseHookContext(hc, translated, resp.Body)
		if outcome := g.runHooks(ctx, hooks.EventAfterRequest, req.AfterHooks, after); outcome != nil {
			resp.Hooks = append(resp.Hooks, outcome)
			if !outcome.Verdict {
				resp.Unified = nil
				return reject(resp, outcome), nil
			}
		}
	}

	if cacheKey != "" && (cacheStatus == cache.StatusMiss || cacheStatus == cache.StatusRefresh) {
		g.cache.Store(ctx, cacheKey, resp.Body, req.Cache)
		if req.Cache.Mode == cache.ModeSimple {
			g.metrics.RecordCacheStore()
		}
	}

	return resp, nil
}

func (g *Gateway) checkRateLimits(ctx context.Context, req *Request) error {
	if g.limiter == nil {
		return nil
	}
	rules := resolveRules(req.RateLimits, req.Unified)
	if len(rules) == 0 {
		return nil
	}

	ctx, span := g.tracer.Start(ctx, "gateway.ratelimit")
	defer span.End()

	decisions, err := g.limiter.CheckRules(ctx, rules)
	for _, d := range decisions {
		g.metrics.RecordRateLimit(d.Rule.Name, d.Err != nil || d.Result.Allowed)
	}
	span.SetAttributes(attribute.Bool(tracing.AttrRateLimited, err != nil))
	return err
}

// call translates the request and sends it upstream.
func (g *Gateway) call(ctx context.Context, provider *providers.Provider, unified *providers.UnifiedRequest) (*http.Response, error) {
	ctx, span := g.tracer.Start(ctx, "gateway.upstream",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String(tracing.AttrProvider, provider.Name)))
	defer span.End()

	body, err := provider.BuildBody(unified)
	if err != nil {
		tracing.SetStatus(span, err)
		return nil, err
	}
	target, err := provider.BuildURL(providers.APIContext{Operation: unified.Operation(), Request: unified, Body: body})
	if err != nil {
		tracing.SetStatus(span, err)
		return nil, err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &providers.ValidationError{Field: "body", Message: err.Error()}
	}

	propagated := http.Header{}
	tracing.Inject(ctx, propagated)
	for k := range propagated {
		target.Headers[k] = propagated.Get(k)
	}

	start := time.Now()
	resp, err := g.client.Do(ctx, provider.Name, target, payload)
	if err != nil {
		g.metrics.RecordUpstreamError(provider.Name, upstreamErrorType(err))
		tracing.SetStatus(span, err)
		return nil, err
	}

	g.metrics.RecordUpstream(provider.Name, resp.StatusCode, time.Since(start))
	g.metrics.UpdateProviderHealth(provider.Name, g.client.Health().Get(provider.Name).Healthy)
	span.SetAttributes(attribute.Int(tracing.AttrStatusCode, resp.StatusCode))
	return resp, nil
}

func (g *Gateway) readBody(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, g.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > g.maxBytes {
		return nil, fmt.Errorf("response body exceeds %d bytes", g.maxBytes)
	}
	return data, nil
}

func reject(resp *Response, outcome *hooks.Outcome) *Response {
	resp.Status = hooks.StatusGuardrailRejected
	resp.Header = jsonHeader()
	resp.Body = hooks.RejectionBody(outcome)
	resp.Rejected = outcome
	return resp
}

func jsonHeader() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	return h
}

func isSuccess(status int) bool {
	return status >= 200 && status <= 299
}

func upstreamErrorType(err error) string {
	var timeout *providers.TimeoutError
	switch {
	case errors.As(err, &timeout):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "transport"
	}
}
