package proxy

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mercator-hq/conduit/pkg/cache"
	"mercator-hq/conduit/pkg/gateway"
	"mercator-hq/conduit/pkg/hooks"
	"mercator-hq/conduit/pkg/limits/ratelimit"
	"mercator-hq/conduit/pkg/providers"
	"mercator-hq/conduit/pkg/proxy/types"
)

const (
	// DefaultMaxBodyBytes is used when Defaults.MaxBodyBytes is zero.
	DefaultMaxBodyBytes = 10 << 20

	// AuthorizationHeader carries the provider API key as "Bearer <key>".
	AuthorizationHeader = "Authorization"

	// RequestIDHeader is the HTTP header for request ID propagation.
	RequestIDHeader = "X-Request-ID"
)

// Gateway request headers.
const (
	ProviderHeader          = "X-Conduit-Provider"
	BaseURLHeader           = "X-Conduit-Base-Url"
	VirtualKeyHeader        = "X-Conduit-Virtual-Key"
	CacheHeader             = "X-Conduit-Cache"
	CacheForceRefreshHeader = "X-Conduit-Cache-Force-Refresh"
	CacheMaxAgeHeader       = "X-Conduit-Cache-Max-Age"
	MetadataHeader          = "X-Conduit-Metadata"

	// ForwardHeadersHeader lists, comma separated, client headers that are
	// forwarded to the provider unchanged.
	ForwardHeadersHeader = "X-Conduit-Forward-Headers"

	// CacheStatusHeader reports HIT, MISS, REFRESH or DISABLED.
	CacheStatusHeader = "X-Conduit-Cache-Status"
)

// Defaults are applied to every parsed request.
type Defaults struct {
	RateLimits  []ratelimit.Rule
	BeforeHooks []hooks.HookConfig
	AfterHooks  []hooks.HookConfig

	// Cache is used when the client sends no cache headers.
	Cache cache.Options

	// MaxBodyBytes bounds the request body. Zero means DefaultMaxBodyBytes.
	MaxBodyBytes int64
}

// ParseRequest reads an HTTP request into a gateway request for op.
//
// The body is limited to MaxBodyBytes. Provider selection, credentials and
// cache behavior come from headers; see the *Header constants.
func ParseRequest(r *http.Request, op providers.Operation, d Defaults) (*gateway.Request, error) {
	limit := d.MaxBodyBytes
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, &RequestError{
			Message: fmt.Sprintf("request body exceeds maximum size of %d bytes", limit),
			Code:    types.CodeRequestTooLarge,
			Param:   "body",
		}
	}

	opts := providers.ProviderOptions{
		Provider:   strings.TrimSpace(r.Header.Get(ProviderHeader)),
		APIKey:     ExtractAPIKey(r),
		BaseURL:    r.Header.Get(BaseURLHeader),
		VirtualKey: r.Header.Get(VirtualKeyHeader),
		Headers:    forwardedHeaders(r.Header),
	}
	if opts.Provider == "" {
		return nil, &RequestError{
			Message: fmt.Sprintf("the %s header is required", ProviderHeader),
			Code:    types.CodeMissingField,
			Param:   ProviderHeader,
		}
	}

	unified, err := providers.ParseUnifiedRequest(op, body, opts)
	if err != nil {
		return nil, &RequestError{Message: err.Error(), Code: types.CodeInvalidJSON, Param: "body"}
	}

	cacheOpts, err := parseCacheOptions(r.Header, d.Cache)
	if err != nil {
		return nil, err
	}

	metadata, err := parseMetadata(r.Header.Get(MetadataHeader))
	if err != nil {
		return nil, err
	}

	return &gateway.Request{
		ID:          r.Header.Get(RequestIDHeader),
		Unified:     unified,
		RateLimits:  d.RateLimits,
		Cache:       cacheOpts,
		BeforeHooks: d.BeforeHooks,
		AfterHooks:  d.AfterHooks,
		Metadata:    metadata,
	}, nil
}

// parseCacheOptions applies the cache headers over the defaults.
// x-conduit-cache-max-age is in seconds.
func parseCacheOptions(h http.Header, defaults cache.Options) (cache.Options, error) {
	opts := defaults

	if v := h.Get(CacheHeader); v != "" {
		opts.Mode = cache.ParseMode(v)
	}

	if v := h.Get(CacheForceRefreshHeader); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, &RequestError{
				Message: fmt.Sprintf("%s must be true or false", CacheForceRefreshHeader),
				Code:    types.CodeInvalidValue,
				Param:   CacheForceRefreshHeader,
			}
		}
		opts.ForceRefresh = b
	}

	if v := h.Get(CacheMaxAgeHeader); v != "" {
		secs, err := strconv.ParseInt(v, 10, 64)
		if err != nil || secs <= 0 {
			return opts, &RequestError{
				Message: fmt.Sprintf("%s must be a positive number of seconds", CacheMaxAgeHeader),
				Code:    types.CodeInvalidValue,
				Param:   CacheMaxAgeHeader,
			}
		}
		opts.MaxAge = time.Duration(secs) * time.Second
	}

	return opts, nil
}

func parseMetadata(v string) (map[string]string, error) {
	if v == "" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(v), &m); err != nil {
		return nil, &RequestError{
			Message: fmt.Sprintf("%s must be a JSON object of strings", MetadataHeader),
			Code:    types.CodeInvalidValue,
			Param:   MetadataHeader,
		}
	}
	return m, nil
}

// forwardedHeaders returns the headers named in ForwardHeadersHeader.
// Authorization and gateway headers are never forwarded this way.
func forwardedHeaders(h http.Header) map[string]string {
	list := h.Get(ForwardHeadersHeader)
	if list == "" {
		return nil
	}

	out := make(map[string]string)
	for _, name := range strings.Split(list, ",") {
		name = http.CanonicalHeaderKey(strings.TrimSpace(name))
		if name == "" || name == AuthorizationHeader || strings.HasPrefix(name, "X-Conduit-") {
			continue
		}
		if v := h.Get(name); v != "" {
			out[name] = v
		}
	}
	return out
}

// ExtractAPIKey extracts the API key from the Authorization header.
// It expects the format "Bearer <api-key>". If the header is missing or
// malformed, an empty string is returned.
func ExtractAPIKey(r *http.Request) string {
	authHeader := r.Header.Get(AuthorizationHeader)
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}

// RequestError represents a request parsing or validation error.
type RequestError struct {
	Message string
	Code    string
	Param   string
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	return e.Message
}

// ToErrorResponse converts a RequestError to an OpenAI-compatible error response.
func (e *RequestError) ToErrorResponse() *types.ErrorResponse {
	return types.NewInvalidRequestError(e.Message, e.Param, e.Code)
}
