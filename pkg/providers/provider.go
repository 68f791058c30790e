package providers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// StreamFormat is the framing used by a provider's streaming responses.
type StreamFormat string

const (
	// StreamSSE frames records as server-sent events.
	StreamSSE StreamFormat = "sse"

	// StreamNDJSON frames records as newline-delimited JSON.
	StreamNDJSON StreamFormat = "ndjson"
)

// APIContext is the input to APIConfig functions.
type APIContext struct {
	Operation Operation
	Request   *UnifiedRequest

	// Body is the already-built native body. It may be nil when the URL is
	// derived before translation, for example to compute a cache key.
	Body map[string]any
}

// APIConfig derives where and how a request is sent. Every function is a
// pure derivation with no I/O.
type APIConfig struct {
	GetBaseURL  func(ctx APIContext) string
	Headers     func(ctx APIContext) map[string]string
	GetEndpoint func(ctx APIContext) string
}

// ResponseContext is the input to response and error transforms.
type ResponseContext struct {
	Provider   string
	Operation  Operation
	Request    *UnifiedRequest
	StatusCode int
}

// ResponseTransform maps a complete 2xx native body to a unified response.
type ResponseTransform func(rc ResponseContext, body []byte) (*UnifiedResponse, error)

// ErrorTransform maps a non-2xx native body to a unified error envelope.
type ErrorTransform func(rc ResponseContext, body []byte) *ErrorEnvelope

// StreamTransform maps one raw stream frame to canonical chunk JSON.
// Returning "" drops the frame. Returning ErrStreamDone marks the structural
// end of the stream. Any other error means the frame could not be
// translated and should be forwarded raw.
type StreamTransform func(raw string) (string, error)

// StreamTransformFactory creates a StreamTransform for one stream. State
// carried across frames lives in the returned closure.
type StreamTransformFactory func(req *UnifiedRequest) StreamTransform

// Provider is a declarative transform definition. Nothing in the gateway
// branches on a provider's name; all behavior comes from these fields.
type Provider struct {
	Name string
	API  APIConfig

	// Configs holds the parameter mapping per supported operation.
	Configs map[Operation]ProviderConfig

	// ResponseTransforms override the OpenAI-compatible default per operation.
	ResponseTransforms map[Operation]ResponseTransform

	// StreamTransforms override the pass-through default per operation.
	StreamTransforms map[Operation]StreamTransformFactory

	// ErrorTransform overrides DefaultErrorTransform.
	ErrorTransform ErrorTransform

	// StreamFormat defaults to StreamSSE.
	StreamFormat StreamFormat
}

// Target is the resolved destination of an upstream call.
type Target struct {
	Method  string
	BaseURL string
	Path    string
	URL     string
	Headers map[string]string
}

// Supports reports whether the provider has a configuration for op.
func (p *Provider) Supports(op Operation) bool {
	_, ok := p.Configs[op]
	return ok
}

// Format returns the provider's stream framing.
func (p *Provider) Format() StreamFormat {
	if p.StreamFormat == "" {
		return StreamSSE
	}
	return p.StreamFormat
}

// BuildBody translates req into the native body for its operation.
func (p *Provider) BuildBody(req *UnifiedRequest) (map[string]any, error) {
	cfg, ok := p.Configs[req.Operation()]
	if !ok {
		return nil, &UnsupportedOperationError{Provider: p.Name, Operation: req.Operation()}
	}
	return BuildRequest(cfg, req)
}

// BuildURL resolves the target of a call. A base URL in the request's
// provider options overrides the provider default.
func (p *Provider) BuildURL(ctx APIContext) (Target, error) {
	if !p.Supports(ctx.Operation) {
		return Target{}, &UnsupportedOperationError{Provider: p.Name, Operation: ctx.Operation}
	}

	var opts ProviderOptions
	if ctx.Request != nil {
		opts = ctx.Request.Options()
	}

	base := opts.BaseURL
	if base == "" && p.API.GetBaseURL != nil {
		base = p.API.GetBaseURL(ctx)
	}
	if base == "" {
		return Target{}, &ConfigError{Provider: p.Name, Field: "base_url", Message: "no base URL configured"}
	}

	path := ""
	if p.API.GetEndpoint != nil {
		path = p.API.GetEndpoint(ctx)
	}
	if path == "" {
		return Target{}, &UnsupportedOperationError{Provider: p.Name, Operation: ctx.Operation}
	}

	headers := make(map[string]string)
	if p.API.Headers != nil {
		for k, v := range p.API.Headers(ctx) {
			headers[k] = v
		}
	}
	for k, v := range opts.Headers {
		headers[k] = v
	}

	base = strings.TrimRight(base, "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	return Target{
		Method:  http.MethodPost,
		BaseURL: base,
		Path:    path,
		URL:     base + path,
		Headers: headers,
	}, nil
}

// TransformResponse maps a complete upstream response to the unified schema.
// It is total over status codes: a non-2xx status yields a response carrying
// an error envelope, never an error. An error is returned only when a 2xx
// body cannot be translated.
func (p *Provider) TransformResponse(req *UnifiedRequest, body []byte, status int) (*UnifiedResponse, error) {
	rc := ResponseContext{
		Provider:   p.Name,
		Operation:  req.Operation(),
		Request:    req,
		StatusCode: status,
	}

	if status < 200 || status > 299 {
		transform := p.ErrorTransform
		if transform == nil {
			transform = DefaultErrorTransform
		}
		env := transform(rc, body)
		if env == nil {
			env = DefaultErrorTransform(rc, body)
		}
		return &UnifiedResponse{
			Object:     "error",
			Provider:   p.Name,
			Error:      env,
			StatusCode: status,
		}, nil
	}

	transform := p.ResponseTransforms[req.Operation()]
	if transform == nil {
		transform = DefaultResponseTransform
	}

	resp, err := transform(rc, body)
	if err == nil && resp == nil {
		err = fmt.Errorf("empty response")
	}
	if err != nil {
		return nil, &ParseError{Provider: p.Name, RawResponse: truncate(string(body), 512), Cause: err}
	}

	resp.Provider = p.Name
	resp.StatusCode = status
	if resp.Model == "" {
		resp.Model = req.Model()
	}
	return resp, nil
}

// NewStreamTransform returns a fresh per-stream transform for req.
// Providers without a stream transform pass frames through unchanged.
func (p *Provider) NewStreamTransform(req *UnifiedRequest) StreamTransform {
	if factory := p.StreamTransforms[req.Operation()]; factory != nil {
		return factory(req)
	}
	return func(raw string) (string, error) { return raw, nil }
}

// DefaultResponseTransform decodes an OpenAI-compatible body.
func DefaultResponseTransform(rc ResponseContext, body []byte) (*UnifiedResponse, error) {
	var resp UnifiedResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DefaultErrorTransform understands the common envelopes
// {"error":{"message","type","code"}}, {"error":"..."} and {"message":"..."}.
// Anything else is preserved as raw text.
func DefaultErrorTransform(rc ResponseContext, body []byte) *ErrorEnvelope {
	var envelope struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
		Code    any             `json:"code"`
		Type    string          `json:"type"`
	}

	if err := json.Unmarshal(body, &envelope); err == nil {
		if len(envelope.Error) > 0 {
			var nested struct {
				Message string `json:"message"`
				Type    string `json:"type"`
				Param   string `json:"param"`
				Code    any    `json:"code"`
			}
			if err := json.Unmarshal(envelope.Error, &nested); err == nil && nested.Message != "" {
				return &ErrorEnvelope{
					Message: nested.Message,
					Type:    nested.Type,
					Param:   nested.Param,
					Code:    stringify(nested.Code),
				}
			}
			var msg string
			if err := json.Unmarshal(envelope.Error, &msg); err == nil && msg != "" {
				return &ErrorEnvelope{Message: msg, Code: stringify(envelope.Code), Type: envelope.Type}
			}
		}
		if envelope.Message != "" {
			return &ErrorEnvelope{Message: envelope.Message, Code: stringify(envelope.Code), Type: envelope.Type}
		}
	}

	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(rc.StatusCode)
	}
	return &ErrorEnvelope{
		Message: truncate(msg, 2048),
		Type:    "provider_error",
		Code:    fmt.Sprint(rc.StatusCode),
	}
}

// stringify renders a provider error code, which may be a string or a number.
func stringify(v any) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	case float64:
		return fmt.Sprint(int64(c))
	default:
		return fmt.Sprint(c)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
