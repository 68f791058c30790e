package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORSMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	restricted := &CORSConfig{
		Enabled:        true,
		AllowedOrigins: []string{"https://app.example.com"},
		AllowedMethods: []string{http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         600,
	}

	tests := []struct {
		name        string
		config      *CORSConfig
		method      string
		origin      string
		preflight   bool
		wantStatus  int
		wantOrigin  string
		wantMethods string
		wantMaxAge  string
	}{
		{
			name:       "disabled passes through",
			config:     &CORSConfig{Enabled: false, AllowedOrigins: []string{"*"}},
			method:     http.MethodGet,
			origin:     "https://x.example",
			wantStatus: http.StatusOK,
		},
		{
			name:       "nil config passes through",
			method:     http.MethodGet,
			origin:     "https://x.example",
			wantStatus: http.StatusOK,
		},
		{
			name:       "wildcard origin",
			config:     DefaultCORSConfig(),
			method:     http.MethodPost,
			origin:     "https://x.example",
			wantStatus: http.StatusOK,
			wantOrigin: "*",
		},
		{
			name:       "allowed origin echoed",
			config:     restricted,
			method:     http.MethodPost,
			origin:     "https://app.example.com",
			wantStatus: http.StatusOK,
			wantOrigin: "https://app.example.com",
		},
		{
			name:       "unknown origin gets no headers",
			config:     restricted,
			method:     http.MethodPost,
			origin:     "https://evil.example",
			wantStatus: http.StatusOK,
		},
		{
			name:        "preflight answered",
			config:      restricted,
			method:      http.MethodOptions,
			origin:      "https://app.example.com",
			preflight:   true,
			wantStatus:  http.StatusNoContent,
			wantOrigin:  "https://app.example.com",
			wantMethods: "POST",
			wantMaxAge:  "600",
		},
		{
			name:       "options without preflight header reaches handler",
			config:     restricted,
			method:     http.MethodOptions,
			origin:     "https://app.example.com",
			wantStatus: http.StatusOK,
			wantOrigin: "https://app.example.com",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/v1/chat/completions", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			w := httptest.NewRecorder()
			CORSMiddleware(tt.config)(ok).ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
			if got := w.Header().Get("Access-Control-Allow-Methods"); got != tt.wantMethods {
				t.Errorf("Allow-Methods = %q, want %q", got, tt.wantMethods)
			}
			if got := w.Header().Get("Access-Control-Max-Age"); got != tt.wantMaxAge {
				t.Errorf("Max-Age = %q, want %q", got, tt.wantMaxAge)
			}
		})
	}
}

func TestCORSMiddleware_ExposesCacheStatus(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	req.Header.Set("Origin", "https://x.example")
	w := httptest.NewRecorder()
	CORSMiddleware(DefaultCORSConfig())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Expose-Headers"); got != "X-Request-ID, X-Conduit-Cache-Status, Retry-After" {
		t.Errorf("Expose-Headers = %q", got)
	}
}
