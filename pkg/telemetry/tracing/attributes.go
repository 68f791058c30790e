package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys recorded on gateway spans.
const (
	AttrRequestID   = "conduit.request_id"
	AttrProvider    = "conduit.provider"
	AttrOperation   = "conduit.operation"
	AttrModel       = "conduit.model"
	AttrStream      = "conduit.stream"
	AttrCacheStatus = "conduit.cache.status"
	AttrRateLimited = "conduit.ratelimit.limited"
	AttrHookEvent   = "conduit.hooks.event"
	AttrHookVerdict = "conduit.hooks.verdict"
	AttrHookCount   = "conduit.hooks.count"
	AttrStatusCode  = "http.response.status_code"

	AttrTokensPrompt     = "conduit.tokens.prompt"
	AttrTokensCompletion = "conduit.tokens.completion"
	AttrStreamChunks     = "conduit.stream.chunks"
)

// RequestAttributes describes a gateway request at span start.
func RequestAttributes(requestID, provider, operation, model string, stream bool) trace.SpanStartOption {
	return trace.WithAttributes(
		attribute.String(AttrRequestID, requestID),
		attribute.String(AttrProvider, provider),
		attribute.String(AttrOperation, operation),
		attribute.String(AttrModel, model),
		attribute.Bool(AttrStream, stream),
	)
}

// SetHookAttributes records the aggregate outcome of a hook event.
func SetHookAttributes(span trace.Span, event string, verdict bool, count int) {
	span.SetAttributes(
		attribute.String(AttrHookEvent, event),
		attribute.Bool(AttrHookVerdict, verdict),
		attribute.Int(AttrHookCount, count),
	)
}

// SetTokenAttributes records reported token usage.
func SetTokenAttributes(span trace.Span, prompt, completion int) {
	span.SetAttributes(
		attribute.Int(AttrTokensPrompt, prompt),
		attribute.Int(AttrTokensCompletion, completion),
	)
}
