package providers

import (
	"errors"
	"testing"
)

func testProvider() *Provider {
	return &Provider{
		Name: "acme",
		API: APIConfig{
			GetBaseURL: func(APIContext) string { return "https://api.acme.test/v1/" },
			Headers: func(ctx APIContext) map[string]string {
				return map[string]string{"Authorization": "Bearer " + ctx.Request.Options().APIKey}
			},
			GetEndpoint: func(ctx APIContext) string {
				switch ctx.Operation {
				case OpChatComplete:
					if ctx.Body != nil && ctx.Body["stream"] == true {
						return "/chat/stream"
					}
					return "chat"
				default:
					return ""
				}
			},
		},
		Configs: map[Operation]ProviderConfig{
			OpChatComplete: {
				"model":    {Required: true},
				"messages": {Required: true},
				"stream":   {},
			},
			OpEmbed: {"input": {Required: true}},
		},
	}
}

func TestProvider_BuildURL(t *testing.T) {
	p := testProvider()
	req := NewUnifiedRequest(OpChatComplete, map[string]any{"model": "m"}, ProviderOptions{
		APIKey:  "sk-1",
		Headers: map[string]string{"X-Trace": "abc"},
	})

	target, err := p.BuildURL(APIContext{Operation: OpChatComplete, Request: req})
	if err != nil {
		t.Fatalf("BuildURL failed: %v", err)
	}
	if target.URL != "https://api.acme.test/v1/chat" {
		t.Errorf("unexpected URL %s", target.URL)
	}
	if target.Headers["Authorization"] != "Bearer sk-1" || target.Headers["X-Trace"] != "abc" {
		t.Errorf("unexpected headers %v", target.Headers)
	}

	// The endpoint may branch on the built body.
	target, _ = p.BuildURL(APIContext{Operation: OpChatComplete, Request: req, Body: map[string]any{"stream": true}})
	if target.Path != "/chat/stream" {
		t.Errorf("expected streaming endpoint, got %s", target.Path)
	}
}

func TestProvider_BuildURL_Override(t *testing.T) {
	p := testProvider()
	req := NewUnifiedRequest(OpChatComplete, nil, ProviderOptions{BaseURL: "http://localhost:9999"})

	target, err := p.BuildURL(APIContext{Operation: OpChatComplete, Request: req})
	if err != nil {
		t.Fatalf("BuildURL failed: %v", err)
	}
	if target.URL != "http://localhost:9999/chat" {
		t.Errorf("expected base URL override, got %s", target.URL)
	}
}

func TestProvider_BuildURL_Unsupported(t *testing.T) {
	p := testProvider()
	req := NewUnifiedRequest(OpRerank, nil, ProviderOptions{})

	_, err := p.BuildURL(APIContext{Operation: OpRerank, Request: req})
	var uo *UnsupportedOperationError
	if !errors.As(err, &uo) {
		t.Errorf("expected UnsupportedOperationError, got %v", err)
	}

	// Configured but without an endpoint is unsupported too.
	req = NewUnifiedRequest(OpEmbed, nil, ProviderOptions{})
	if _, err := p.BuildURL(APIContext{Operation: OpEmbed, Request: req}); !errors.As(err, &uo) {
		t.Errorf("expected UnsupportedOperationError for missing endpoint, got %v", err)
	}
}

func TestProvider_TransformResponse_Success(t *testing.T) {
	p := testProvider()
	req := NewUnifiedRequest(OpChatComplete, map[string]any{"model": "requested"}, ProviderOptions{})

	resp, err := p.TransformResponse(req, []byte(`{"id":"r1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}]}`), 200)
	if err != nil {
		t.Fatalf("TransformResponse failed: %v", err)
	}
	if resp.Model != "requested" {
		t.Errorf("expected requested model as fallback, got %s", resp.Model)
	}
	if resp.Provider != "acme" || resp.StatusCode != 200 {
		t.Errorf("unexpected provider/status: %s %d", resp.Provider, resp.StatusCode)
	}
	if resp.Text() != "hi" {
		t.Errorf("unexpected text %q", resp.Text())
	}
}

func TestProvider_TransformResponse_ParseError(t *testing.T) {
	p := testProvider()
	req := NewUnifiedRequest(OpChatComplete, nil, ProviderOptions{})

	_, err := p.TransformResponse(req, []byte(`not json`), 200)
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if pe.RawResponse != "not json" {
		t.Errorf("expected raw body preserved, got %q", pe.RawResponse)
	}
}

func TestProvider_TransformResponse_IsTotal(t *testing.T) {
	p := testProvider()
	req := NewUnifiedRequest(OpChatComplete, nil, ProviderOptions{})

	tests := []struct {
		name        string
		status      int
		body        string
		wantMessage string
		wantCode    string
	}{
		{"openai envelope", 401, `{"error":{"message":"bad key","type":"invalid_request_error","code":"invalid_api_key"}}`, "bad key", "invalid_api_key"},
		{"numeric code", 400, `{"error":{"message":"bad","code":400}}`, "bad", "400"},
		{"string error", 403, `{"error":"forbidden"}`, "forbidden", ""},
		{"flat message", 429, `{"message":"slow down","code":"Throttling"}`, "slow down", "Throttling"},
		{"plain text", 502, `Bad Gateway`, "Bad Gateway", "502"},
		{"empty body", 503, ``, "Service Unavailable", "503"},
		{"informational", 101, ``, "Switching Protocols", "101"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := p.TransformResponse(req, []byte(tt.body), tt.status)
			if err != nil {
				t.Fatalf("expected no error for status %d, got %v", tt.status, err)
			}
			if resp.Error == nil {
				t.Fatal("expected error envelope")
			}
			if resp.Error.Message != tt.wantMessage {
				t.Errorf("expected message %q, got %q", tt.wantMessage, resp.Error.Message)
			}
			if resp.Error.Code != tt.wantCode {
				t.Errorf("expected code %q, got %q", tt.wantCode, resp.Error.Code)
			}
			if resp.StatusCode != tt.status {
				t.Errorf("expected status %d preserved, got %d", tt.status, resp.StatusCode)
			}
		})
	}
}

func TestProvider_NewStreamTransform(t *testing.T) {
	p := testProvider()
	req := NewUnifiedRequest(OpChatComplete, nil, ProviderOptions{})

	passthrough := p.NewStreamTransform(req)
	if out, err := passthrough(`{"a":1}`); err != nil || out != `{"a":1}` {
		t.Errorf("expected pass-through, got %q %v", out, err)
	}

	calls := 0
	p.StreamTransforms = map[Operation]StreamTransformFactory{
		OpChatComplete: func(*UnifiedRequest) StreamTransform {
			seen := 0
			calls++
			return func(raw string) (string, error) {
				seen++
				if seen == 2 {
					return "", ErrStreamDone
				}
				return raw, nil
			}
		},
	}

	first := p.NewStreamTransform(req)
	second := p.NewStreamTransform(req)
	if calls != 2 {
		t.Errorf("expected a fresh transform per stream, factory called %d times", calls)
	}

	_, _ = first("x")
	if _, err := first("y"); !errors.Is(err, ErrStreamDone) {
		t.Errorf("expected ErrStreamDone from first stream, got %v", err)
	}
	if _, err := second("x"); err != nil {
		t.Errorf("expected second stream to have its own state, got %v", err)
	}
}

func TestProvider_BuildBody(t *testing.T) {
	p := testProvider()

	_, err := p.BuildBody(NewUnifiedRequest(OpComplete, nil, ProviderOptions{}))
	var uo *UnsupportedOperationError
	if !errors.As(err, &uo) {
		t.Errorf("expected UnsupportedOperationError, got %v", err)
	}

	body, err := p.BuildBody(NewUnifiedRequest(OpChatComplete, map[string]any{"model": "m", "messages": []any{}}, ProviderOptions{}))
	if err != nil {
		t.Fatalf("BuildBody failed: %v", err)
	}
	if body["model"] != "m" {
		t.Errorf("unexpected body %v", body)
	}
}
