package proxy

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mercator-hq/conduit/pkg/cache"
	"mercator-hq/conduit/pkg/limits/ratelimit"
	"mercator-hq/conduit/pkg/providers"
	"mercator-hq/conduit/pkg/proxy/types"
)

const chatBody = `{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`

func newRequest(body string, headers map[string]string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	return r
}

func TestParseRequest(t *testing.T) {
	r := newRequest(chatBody, map[string]string{
		ProviderHeader:       "openai",
		AuthorizationHeader:  "bearer sk-abc",
		VirtualKeyHeader:     "team-a",
		BaseURLHeader:        "http://localhost:9999/v1",
		CacheHeader:          "simple",
		CacheMaxAgeHeader:    "60",
		MetadataHeader:       `{"user":"u1"}`,
		ForwardHeadersHeader: "OpenAI-Organization, Authorization, X-Conduit-Virtual-Key",
		RequestIDHeader:      "req-9",
	})
	r.Header.Set("OpenAI-Organization", "org-1")
	defaults := Defaults{
		RateLimits: []ratelimit.Rule{{Name: "global", Capacity: 10, Window: time.Minute}},
		Cache:      cache.Options{Mode: cache.ModeOff, MaxAge: time.Hour},
	}

	req, err := ParseRequest(r, providers.OpChatComplete, defaults)
	if err != nil {
		t.Fatalf("ParseRequest() error = %v", err)
	}

	opts := req.Unified.Options()
	if opts.Provider != "openai" || opts.APIKey != "sk-abc" || opts.VirtualKey != "team-a" {
		t.Errorf("options = %+v", opts)
	}
	if opts.BaseURL != "http://localhost:9999/v1" {
		t.Errorf("BaseURL = %q", opts.BaseURL)
	}
	if len(opts.Headers) != 1 || opts.Headers["Openai-Organization"] != "org-1" {
		t.Errorf("forwarded headers = %v", opts.Headers)
	}
	if req.Cache.Mode != cache.ModeSimple || req.Cache.MaxAge != time.Minute {
		t.Errorf("cache options = %+v", req.Cache)
	}
	if req.Metadata["user"] != "u1" {
		t.Errorf("metadata = %v", req.Metadata)
	}
	if len(req.RateLimits) != 1 {
		t.Errorf("rate limits = %v", req.RateLimits)
	}
	if req.ID != "req-9" {
		t.Errorf("ID = %q", req.ID)
	}
	if req.Unified.Model() != "gpt-4o" {
		t.Errorf("Model() = %q", req.Unified.Model())
	}
}

func TestParseRequest_Errors(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		headers   map[string]string
		limit     int64
		wantCode  string
		wantParam string
	}{
		{
			name:      "missing provider",
			body:      chatBody,
			wantCode:  types.CodeMissingField,
			wantParam: ProviderHeader,
		},
		{
			name:      "body too large",
			body:      chatBody,
			headers:   map[string]string{ProviderHeader: "openai"},
			limit:     10,
			wantCode:  types.CodeRequestTooLarge,
			wantParam: "body",
		},
		{
			name:      "not json",
			body:      "hello",
			headers:   map[string]string{ProviderHeader: "openai"},
			wantCode:  types.CodeInvalidJSON,
			wantParam: "body",
		},
		{
			name:      "bad force refresh",
			body:      chatBody,
			headers:   map[string]string{ProviderHeader: "openai", CacheForceRefreshHeader: "maybe"},
			wantCode:  types.CodeInvalidValue,
			wantParam: CacheForceRefreshHeader,
		},
		{
			name:      "negative max age",
			body:      chatBody,
			headers:   map[string]string{ProviderHeader: "openai", CacheMaxAgeHeader: "-5"},
			wantCode:  types.CodeInvalidValue,
			wantParam: CacheMaxAgeHeader,
		},
		{
			name:      "metadata not an object",
			body:      chatBody,
			headers:   map[string]string{ProviderHeader: "openai", MetadataHeader: "[1,2]"},
			wantCode:  types.CodeInvalidValue,
			wantParam: MetadataHeader,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRequest(newRequest(tt.body, tt.headers), providers.OpChatComplete, Defaults{MaxBodyBytes: tt.limit})

			var reqErr *RequestError
			if !errors.As(err, &reqErr) {
				t.Fatalf("error = %v, want *RequestError", err)
			}
			if reqErr.Code != tt.wantCode || reqErr.Param != tt.wantParam {
				t.Errorf("got code %q param %q, want %q %q", reqErr.Code, reqErr.Param, tt.wantCode, tt.wantParam)
			}
		})
	}
}

func TestExtractAPIKey(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"", ""},
		{"Bearer sk-1", "sk-1"},
		{"BEARER  sk-2 ", "sk-2"},
		{"Basic dXNlcg==", ""},
		{"sk-3", ""},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		if tt.header != "" {
			r.Header.Set(AuthorizationHeader, tt.header)
		}
		if got := ExtractAPIKey(r); got != tt.want {
			t.Errorf("ExtractAPIKey(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}
