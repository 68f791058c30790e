package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mercator-hq/conduit/internal/upstream"
	"mercator-hq/conduit/pkg/config"
	"mercator-hq/conduit/pkg/server"
	"mercator-hq/conduit/pkg/telemetry/logging"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "conduit.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func gatewayConfig(t *testing.T, upstreamURL, storageYAML string) *config.Config {
	t.Helper()
	cfg, err := config.LoadConfig(writeConfig(t, fmt.Sprintf(`
providers:
  openai:
    base_url: %q
%s
cache:
  mode: simple
rate_limit:
  rules:
    - name: per-key
      key_source: api_key
      capacity: 2
      window: 1m
hooks:
  before_request:
    - plugin: default.regexMatch
      parameters:
        rule: "forbidden"
        not: true
`, upstreamURL, storageYAML)))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	return cfg
}

func send(h http.Handler, body, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("X-Conduit-Provider", "openai")
	req.Header.Set("Authorization", "Bearer "+key)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestBuildApp_EndToEnd(t *testing.T) {
	ms := upstream.NewMockServer()
	defer ms.Close()
	ms.SetResponse("/chat/completions", upstream.MockResponse{Body: upstream.OpenAIChat("pong", "gpt-4o")})

	cfg := gatewayConfig(t, ms.URL(), "")
	config.SetConfig(cfg)
	defer config.SetConfig(nil)

	a, err := buildApp(cfg, logging.Discard(), server.BuildInfo{Version: "test"})
	if err != nil {
		t.Fatalf("buildApp() error = %v", err)
	}
	defer a.close(context.Background())
	h := a.server.Handler()

	ping := `{"model":"gpt-4o","messages":[{"role":"user","content":"ping"}]}`

	first := send(h, ping, "sk-a")
	if first.Code != http.StatusOK || first.Header().Get("X-Conduit-Cache-Status") != "MISS" {
		t.Fatalf("first: %d %s %s", first.Code, first.Header().Get("X-Conduit-Cache-Status"), first.Body.String())
	}

	second := send(h, ping, "sk-a")
	if second.Header().Get("X-Conduit-Cache-Status") != "HIT" {
		t.Errorf("second cache status = %q, want HIT", second.Header().Get("X-Conduit-Cache-Status"))
	}

	rejected := send(h, `{"model":"gpt-4o","messages":[{"role":"user","content":"forbidden"}]}`, "sk-b")
	if rejected.Code != 446 {
		t.Errorf("guardrail status = %d, want 446; body = %s", rejected.Code, rejected.Body.String())
	}

	limited := send(h, ping, "sk-a")
	if limited.Code != http.StatusTooManyRequests || limited.Header().Get("Retry-After") == "" {
		t.Errorf("third request for sk-a: %d Retry-After=%q", limited.Code, limited.Header().Get("Retry-After"))
	}

	if ms.RequestCount() != 1 {
		t.Errorf("upstream calls = %d, want 1", ms.RequestCount())
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(w.Body.String(), "conduit_ratelimit_decisions_total") {
		t.Error("metrics endpoint does not expose rate limit decisions")
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if w.Code != http.StatusOK {
		t.Errorf("/ready = %d: %s", w.Code, w.Body.String())
	}
}

func TestBuildApp_SQLite(t *testing.T) {
	ms := upstream.NewMockServer()
	defer ms.Close()

	dbPath := filepath.Join(t.TempDir(), "nested", "conduit.db")
	cfg := gatewayConfig(t, ms.URL(), fmt.Sprintf(`
storage:
  backend: sqlite
  sqlite:
    path: %q
`, dbPath))
	cfg.Cache.SweepSchedule = "*/5 * * * *"

	a, err := buildApp(cfg, logging.Discard(), server.BuildInfo{})
	if err != nil {
		t.Fatalf("buildApp() error = %v", err)
	}
	defer a.close(context.Background())

	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("database not created: %v", err)
	}
	if a.sweeper == nil {
		t.Fatal("sweeper not built for a sweep schedule")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.startBackground(ctx); err != nil {
		t.Fatalf("startBackground() error = %v", err)
	}
	if a.sweeper.NextRun() == nil {
		t.Error("sweeper not scheduled")
	}
}

func TestBuildApp_UnknownPluginDir(t *testing.T) {
	cfg := gatewayConfig(t, "http://127.0.0.1:1", "")
	cfg.Hooks.Dir = filepath.Join(t.TempDir(), "missing")

	if _, err := buildApp(cfg, logging.Discard(), server.BuildInfo{}); err == nil {
		t.Error("expected error for a missing plugin directory")
	}
}

func TestCatalogEntries(t *testing.T) {
	entries := catalogEntries(map[string]config.ProviderConfig{
		"zeta":  {Type: "openai", BaseURL: "http://z"},
		"alpha": {Type: "ollama"},
	})
	if len(entries) != 2 || entries[0].Name != "alpha" || entries[1].BaseURL != "http://z" {
		t.Errorf("entries = %+v", entries)
	}
}
