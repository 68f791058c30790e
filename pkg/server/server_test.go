package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mercator-hq/conduit/pkg/cache"
	"mercator-hq/conduit/pkg/config"
	"mercator-hq/conduit/pkg/gateway"
	"mercator-hq/conduit/pkg/proxy/types"
	"mercator-hq/conduit/pkg/telemetry/health"
	"mercator-hq/conduit/pkg/telemetry/logging"
	"mercator-hq/conduit/pkg/telemetry/metrics"
)

// echoGateway answers every request with the operation it was called for.
type echoGateway struct{}

func (echoGateway) Execute(_ context.Context, req *gateway.Request) (*gateway.Response, error) {
	body, _ := json.Marshal(map[string]string{"operation": string(req.Unified.Operation())})
	return &gateway.Response{Status: http.StatusOK, Body: body, CacheStatus: cache.StatusDisabled}, nil
}

func newTestServer(t *testing.T, configure func(*Options)) *Server {
	t.Helper()
	cfg := &config.ProxyConfig{ListenAddress: "127.0.0.1:0", ShutdownTimeout: 2 * time.Second}
	opts := Options{
		Config:  cfg,
		Gateway: echoGateway{},
		Logger:  logging.Discard(),
		Build:   BuildInfo{Version: "1.2.3", Commit: "abc"},
	}
	if configure != nil {
		configure(&opts)
	}
	s, err := New(opts)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Options{Gateway: echoGateway{}}); err == nil {
		t.Error("expected error without config")
	}
	if _, err := New(Options{Config: &config.ProxyConfig{}}); err == nil {
		t.Error("expected error without gateway")
	}
}

func TestRoutes(t *testing.T) {
	checker := health.New(time.Second)
	checker.RegisterCheck("storage", func(context.Context) error { return errors.New("down") })
	collector := metrics.NewCollector(metrics.Config{Enabled: true, Namespace: "conduit"}, nil)

	s := newTestServer(t, func(o *Options) {
		o.Health = checker
		o.Metrics = collector
		o.MetricsPath = "/metrics"
	})

	tests := []struct {
		method     string
		path       string
		body       string
		wantStatus int
		wantBody   string
	}{
		{http.MethodPost, "/v1/chat/completions", `{"messages":[{"role":"user","content":"x"}]}`, http.StatusOK, `"chatComplete"`},
		{http.MethodPost, "/v1/completions", `{"prompt":"x"}`, http.StatusOK, `"complete"`},
		{http.MethodPost, "/v1/embeddings", `{"input":"x"}`, http.StatusOK, `"embed"`},
		{http.MethodGet, "/v1/plugins", "", http.StatusOK, `"object":"list"`},
		{http.MethodGet, "/health", "", http.StatusOK, ""},
		{http.MethodGet, "/ready", "", http.StatusServiceUnavailable, "down"},
		{http.MethodGet, "/version", "", http.StatusOK, `"version":"1.2.3"`},
		{http.MethodGet, "/metrics", "", http.StatusOK, ""},
		{http.MethodGet, "/v1/chat/completions", "", http.StatusMethodNotAllowed, types.ErrorTypeMethodNotAllowed},
		{http.MethodGet, "/v2/nothing", "", http.StatusNotFound, types.ErrorTypeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			req.Header.Set("X-Conduit-Provider", "openai")
			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d; body = %s", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantBody != "" && !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("body %q does not contain %q", w.Body.String(), tt.wantBody)
			}
			if w.Header().Get("X-Request-ID") == "" {
				t.Error("missing X-Request-ID")
			}
		})
	}
}

func TestRoutes_MetricsDisabled(t *testing.T) {
	s := newTestServer(t, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestRoutes_CORSPreflight(t *testing.T) {
	s := newTestServer(t, func(o *Options) {
		o.Config.CORS = config.CORSConfig{Enabled: true, AllowedOrigins: []string{"https://app.example.com"}}
	})

	req := httptest.NewRequest(http.MethodOptions, "/v1/chat/completions", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

func TestStartShutdown(t *testing.T) {
	s := newTestServer(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	var addr string
	deadline := time.Now().Add(2 * time.Second)
	for addr == "" && time.Now().Before(deadline) {
		addr = s.Addr()
		time.Sleep(10 * time.Millisecond)
	}
	if addr == "" {
		t.Fatal("server did not start")
	}

	if err := s.Start(context.Background()); err == nil {
		t.Error("second Start should fail while running")
	}

	resp, err := http.Get("http://" + addr + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}

	if s.Addr() != "" {
		t.Error("Addr() should be empty after shutdown")
	}
	if err := s.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown() = %v", err)
	}
}
