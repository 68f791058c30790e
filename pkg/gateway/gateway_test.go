package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"mercator-hq/conduit/internal/upstream"
	"mercator-hq/conduit/pkg/cache"
	"mercator-hq/conduit/pkg/hooks"
	"mercator-hq/conduit/pkg/limits/ratelimit"
	"mercator-hq/conduit/pkg/providers"
	"mercator-hq/conduit/pkg/providers/openai"
	"mercator-hq/conduit/pkg/storage"
	"mercator-hq/conduit/pkg/streaming"
	"mercator-hq/conduit/pkg/telemetry/logging"
	"mercator-hq/conduit/pkg/telemetry/metrics"
)

// counter is a hook plugin with a fixed verdict per event.
type counter struct {
	calls  atomic.Int32
	before bool
	after  bool
}

func (c *counter) plugin() hooks.Plugin {
	return hooks.NewPlugin(hooks.Metadata{ID: "guard", Collection: "test"},
		func(_ context.Context, hc *hooks.Context, _ map[string]any, event hooks.EventType) (*hooks.Result, error) {
			c.calls.Add(1)
			if event == hooks.EventAfterRequest {
				return &hooks.Result{Verdict: c.after, Data: hc.ResponseText}, nil
			}
			return &hooks.Result{Verdict: c.before}, nil
		})
}

var guardHooks = []hooks.HookConfig{{Plugin: "test.guard"}}

func newGateway(t *testing.T, ms *upstream.MockServer, configure func(*Options)) *Gateway {
	t.Helper()
	registry, err := providers.NewRegistry(openai.New(openai.Config{BaseURL: ms.URL()}))
	if err != nil {
		t.Fatal(err)
	}
	opts := Options{
		Providers: registry,
		Client:    providers.NewClient(providers.ClientConfig{Timeout: 5 * time.Second}, logging.Discard()),
		Logger:    logging.Discard(),
	}
	if configure != nil {
		configure(&opts)
	}
	g, err := New(opts)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func withHooks(c *counter) func(*Options) {
	return func(o *Options) {
		registry := hooks.NewRegistry()
		if err := registry.Register(c.plugin()); err != nil {
			panic(err)
		}
		o.Hooks = hooks.NewPipeline(registry, time.Second, logging.Discard())
	}
}

func chatRequest(t *testing.T, body string) *Request {
	t.Helper()
	u, err := providers.ParseUnifiedRequest(providers.OpChatComplete, []byte(body),
		providers.ProviderOptions{Provider: "openai", APIKey: "sk-test"})
	if err != nil {
		t.Fatal(err)
	}
	return &Request{ID: "req-1", Unified: u}
}

const hello = `{"model":"gpt-4o","messages":[{"role":"user","content":"hello"}]}`

func TestExecute_Chat(t *testing.T) {
	ms := upstream.NewMockServer()
	defer ms.Close()
	ms.SetResponse("/chat/completions", upstream.MockResponse{Body: upstream.OpenAIChat("hi there", "gpt-4o")})

	g := newGateway(t, ms, nil)
	resp, err := g.Execute(context.Background(), chatRequest(t, hello))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if resp.Status != http.StatusOK || resp.CacheStatus != cache.StatusDisabled {
		t.Errorf("status = %d, cache = %s", resp.Status, resp.CacheStatus)
	}
	if got := resp.Unified.Text(); got != "hi there" {
		t.Errorf("Text() = %q", got)
	}
	if !strings.Contains(string(resp.Body), `"provider":"openai"`) {
		t.Errorf("body missing provider: %s", resp.Body)
	}

	sent, err := ms.LastJSON()
	if err != nil {
		t.Fatal(err)
	}
	if sent["model"] != "gpt-4o" {
		t.Errorf("upstream model = %v", sent["model"])
	}
	last, _ := ms.LastRequest()
	if last.Header.Get("Authorization") != "Bearer sk-test" {
		t.Errorf("Authorization = %q", last.Header.Get("Authorization"))
	}
}

func TestExecute_CacheHitSkipsHooksAndUpstream(t *testing.T) {
	ms := upstream.NewMockServer()
	defer ms.Close()
	ms.SetResponse("/chat/completions", upstream.MockResponse{Body: upstream.OpenAIChat("cached", "gpt-4o")})

	guard := &counter{before: true, after: true}
	g := newGateway(t, ms, func(o *Options) {
		withHooks(guard)(o)
		o.Cache = cache.New(storage.NewMemoryStore(), logging.Discard())
	})

	newReq := func() *Request {
		r := chatRequest(t, hello)
		r.Cache = cache.Options{Mode: cache.ModeSimple}
		r.BeforeHooks = guardHooks
		r.AfterHooks = guardHooks
		return r
	}

	first, err := g.Execute(context.Background(), newReq())
	if err != nil {
		t.Fatal(err)
	}
	if first.CacheStatus != cache.StatusMiss {
		t.Fatalf("first cache status = %s, want MISS", first.CacheStatus)
	}

	second, err := g.Execute(context.Background(), newReq())
	if err != nil {
		t.Fatal(err)
	}
	if second.CacheStatus != cache.StatusHit {
		t.Fatalf("second cache status = %s, want HIT", second.CacheStatus)
	}
	if string(second.Body) != string(first.Body) {
		t.Errorf("cached body differs:\n%s\n%s", first.Body, second.Body)
	}
	if n := ms.RequestCount(); n != 1 {
		t.Errorf("upstream calls = %d, want 1", n)
	}
	if n := guard.calls.Load(); n != 2 {
		t.Errorf("hook calls = %d, want 2 (before+after of the first request only)", n)
	}
}

func TestExecute_StreamNeverCached(t *testing.T) {
	ms := upstream.NewMockServer()
	defer ms.Close()
	ms.SetResponse("/chat/completions", upstream.MockResponse{StreamChunks: []string{upstream.OpenAIChunk("x", "stop")}})

	g := newGateway(t, ms, func(o *Options) {
		o.Cache = cache.New(storage.NewMemoryStore(), logging.Discard())
	})

	for i := 0; i < 2; i++ {
		r := chatRequest(t, `{"stream":true,"messages":[{"role":"user","content":"hi"}]}`)
		r.Cache = cache.Options{Mode: cache.ModeSimple}
		resp, err := g.Execute(context.Background(), r)
		if err != nil {
			t.Fatal(err)
		}
		if resp.CacheStatus != cache.StatusDisabled {
			t.Errorf("stream cache status = %s", resp.CacheStatus)
		}
		if _, err := resp.Stream.Pipe(context.Background(), streaming.FrameWriterFunc(func([]byte) error { return nil })); err != nil {
			t.Fatal(err)
		}
	}
	if ms.RequestCount() != 2 {
		t.Errorf("upstream calls = %d, want 2", ms.RequestCount())
	}
}

func TestExecute_BeforeHookRejects(t *testing.T) {
	ms := upstream.NewMockServer()
	defer ms.Close()
	ms.SetResponse("/chat/completions", upstream.MockResponse{Body: upstream.OpenAIChat("never", "gpt-4o")})

	g := newGateway(t, ms, withHooks(&counter{before: false}))
	r := chatRequest(t, hello)
	r.BeforeHooks = guardHooks

	resp, err := g.Execute(context.Background(), r)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != hooks.StatusGuardrailRejected {
		t.Errorf("status = %d, want 446", resp.Status)
	}
	if resp.Rejected == nil || resp.Rejected.Event != hooks.EventBeforeRequest {
		t.Errorf("Rejected = %+v", resp.Rejected)
	}
	if !strings.Contains(string(resp.Body), "guardrail_rejection") {
		t.Errorf("body = %s", resp.Body)
	}
	if ms.RequestCount() != 0 {
		t.Errorf("upstream called %d times after rejection", ms.RequestCount())
	}
}

func TestExecute_AfterHookRejectionIsNotCached(t *testing.T) {
	ms := upstream.NewMockServer()
	defer ms.Close()
	ms.SetResponse("/chat/completions", upstream.MockResponse{Body: upstream.OpenAIChat("secret", "gpt-4o")})

	g := newGateway(t, ms, func(o *Options) {
		withHooks(&counter{before: true, after: false})(o)
		o.Cache = cache.New(storage.NewMemoryStore(), logging.Discard())
	})

	for i := 0; i < 2; i++ {
		r := chatRequest(t, hello)
		r.Cache = cache.Options{Mode: cache.ModeSimple}
		r.AfterHooks = guardHooks

		resp, err := g.Execute(context.Background(), r)
		if err != nil {
			t.Fatal(err)
		}
		if resp.Status != hooks.StatusGuardrailRejected {
			t.Fatalf("status = %d, want 446", resp.Status)
		}
		if resp.CacheStatus != cache.StatusMiss {
			t.Errorf("call %d cache status = %s, want MISS", i, resp.CacheStatus)
		}
		if strings.Contains(string(resp.Body), `"choices"`) {
			t.Errorf("rejected body leaks the response: %s", resp.Body)
		}
	}
	if ms.RequestCount() != 2 {
		t.Errorf("upstream calls = %d, want 2", ms.RequestCount())
	}
}

func TestExecute_ProviderError(t *testing.T) {
	ms := upstream.NewMockServer()
	defer ms.Close()
	ms.SetResponse("/chat/completions", upstream.RateLimitError(7))

	g := newGateway(t, ms, func(o *Options) {
		o.Cache = cache.New(storage.NewMemoryStore(), logging.Discard())
	})

	for i := 0; i < 2; i++ {
		r := chatRequest(t, hello)
		r.Cache = cache.Options{Mode: cache.ModeSimple}
		resp, err := g.Execute(context.Background(), r)
		if err != nil {
			t.Fatal(err)
		}
		if resp.Status != http.StatusTooManyRequests {
			t.Errorf("status = %d, want 429", resp.Status)
		}
		if resp.ProviderError == nil || resp.ProviderError.RetryAfter != 7*time.Second {
			t.Errorf("ProviderError = %+v", resp.ProviderError)
		}
		if resp.Header.Get("Retry-After") != "7" {
			t.Errorf("Retry-After = %q", resp.Header.Get("Retry-After"))
		}
		if resp.CacheStatus != cache.StatusMiss {
			t.Errorf("call %d cache status = %s, want MISS", i, resp.CacheStatus)
		}
	}
}

func TestExecute_RateLimited(t *testing.T) {
	ms := upstream.NewMockServer()
	defer ms.Close()
	ms.SetResponse("/chat/completions", upstream.MockResponse{Body: upstream.OpenAIChat("ok", "gpt-4o")})

	collector := metrics.NewCollector(metrics.Config{Enabled: true}, nil)
	g := newGateway(t, ms, func(o *Options) {
		o.Limiter = ratelimit.NewLimiter(storage.NewMemoryStore(), logging.Discard())
		o.Metrics = collector
	})

	rules := []ratelimit.Rule{{Name: "per-key", KeySource: KeySourceAPIKey, Capacity: 1, Window: time.Minute}}

	r := chatRequest(t, hello)
	r.RateLimits = rules
	if _, err := g.Execute(context.Background(), r); err != nil {
		t.Fatalf("first call: %v", err)
	}

	r = chatRequest(t, hello)
	r.RateLimits = rules
	_, err := g.Execute(context.Background(), r)
	var exceeded *ratelimit.ExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("second call error = %v, want ExceededError", err)
	}
	if exceeded.Rule != "per-key" || exceeded.WaitTime <= 0 {
		t.Errorf("ExceededError = %+v", exceeded)
	}
	if ms.RequestCount() != 1 {
		t.Errorf("upstream calls = %d, want 1", ms.RequestCount())
	}

	n, err := testutil.GatherAndCount(collector.Registry(), "conduit_ratelimit_decisions_total")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("ratelimit series = %d, want 2 (allowed, limited)", n)
	}
}

func TestExecute_Errors(t *testing.T) {
	ms := upstream.NewMockServer()
	defer ms.Close()
	g := newGateway(t, ms, nil)

	t.Run("unknown provider", func(t *testing.T) {
		u := providers.NewUnifiedRequest(providers.OpChatComplete, nil, providers.ProviderOptions{Provider: "nope"})
		_, err := g.Execute(context.Background(), &Request{Unified: u})
		var unknown *providers.UnknownProviderError
		if !errors.As(err, &unknown) {
			t.Errorf("error = %v, want UnknownProviderError", err)
		}
	})

	t.Run("unsupported operation", func(t *testing.T) {
		u := providers.NewUnifiedRequest(providers.OpRerank, nil, providers.ProviderOptions{Provider: "openai"})
		_, err := g.Execute(context.Background(), &Request{Unified: u})
		var unsupported *providers.UnsupportedOperationError
		if !errors.As(err, &unsupported) {
			t.Errorf("error = %v, want UnsupportedOperationError", err)
		}
	})

	t.Run("validation", func(t *testing.T) {
		_, err := g.Execute(context.Background(), chatRequest(t, `{"model":"gpt-4o"}`))
		var invalid *providers.ValidationError
		if !errors.As(err, &invalid) || invalid.Field != "messages" {
			t.Errorf("error = %v, want ValidationError on messages", err)
		}
		if ms.RequestCount() != 0 {
			t.Errorf("upstream called on invalid request")
		}
	})

	t.Run("transport", func(t *testing.T) {
		dead := upstream.NewMockServer()
		dead.Close()
		g := newGateway(t, dead, nil)
		_, err := g.Execute(context.Background(), chatRequest(t, hello))
		var transport *providers.TransportError
		if !errors.As(err, &transport) {
			t.Errorf("error = %v, want TransportError", err)
		}
	})
}

// frames records written frames.
type frames struct {
	mu  sync.Mutex
	out []string
}

func (f *frames) WriteFrame(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, string(p))
	return nil
}

func TestStream_PipeRunsAfterHooks(t *testing.T) {
	ms := upstream.NewMockServer()
	defer ms.Close()
	ms.SetResponse("/chat/completions", upstream.MockResponse{StreamChunks: []string{
		upstream.OpenAIChunk("Hel", ""),
		upstream.OpenAIChunk("lo", "stop"),
	}})

	g := newGateway(t, ms, withHooks(&counter{before: true, after: false}))
	r := chatRequest(t, `{"stream":true,"messages":[{"role":"user","content":"hi"}]}`)
	r.AfterHooks = guardHooks

	resp, err := g.Execute(context.Background(), r)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Stream == nil {
		t.Fatal("expected a stream")
	}

	var w frames
	summary, err := resp.Stream.Pipe(context.Background(), &w)
	if err != nil {
		t.Fatalf("Pipe() error = %v", err)
	}
	if summary.Content != "Hello" || summary.FinishReason != "stop" {
		t.Errorf("summary = %+v", summary)
	}
	if len(w.out) != 3 || w.out[2] != "[DONE]" {
		t.Errorf("frames = %v", w.out)
	}
	if resp.Stream.Outcome == nil || resp.Stream.Outcome.Verdict {
		t.Errorf("after-hook outcome = %+v, want rejection", resp.Stream.Outcome)
	}

	if _, err := resp.Stream.Pipe(context.Background(), &w); err == nil {
		t.Error("second Pipe() succeeded")
	}
}

func TestStream_UpstreamAbort(t *testing.T) {
	ms := upstream.NewMockServer()
	defer ms.Close()
	ms.SetResponse("/chat/completions", upstream.MockResponse{
		StreamChunks: []string{upstream.OpenAIChunk("a", ""), upstream.OpenAIChunk("b", "")},
		AbortAfter:   1,
	})

	g := newGateway(t, ms, nil)
	resp, err := g.Execute(context.Background(), chatRequest(t, `{"stream":true,"messages":[{"role":"user","content":"hi"}]}`))
	if err != nil {
		t.Fatal(err)
	}

	var w frames
	_, err = resp.Stream.Pipe(context.Background(), &w)
	var aborted *streaming.StreamAbortedError
	if !errors.As(err, &aborted) {
		t.Fatalf("Pipe() error = %v, want StreamAbortedError", err)
	}
	if len(w.out) < 2 || w.out[len(w.out)-1] != "[DONE]" {
		t.Fatalf("frames = %v", w.out)
	}
	if !strings.Contains(w.out[len(w.out)-2], "stream_aborted") {
		t.Errorf("missing error frame: %v", w.out)
	}
}

func TestStream_ProviderErrorIsBuffered(t *testing.T) {
	ms := upstream.NewMockServer()
	defer ms.Close()
	ms.SetResponse("/chat/completions", upstream.ErrorResponse(http.StatusBadRequest, "bad model"))

	g := newGateway(t, ms, nil)
	resp, err := g.Execute(context.Background(), chatRequest(t, `{"stream":true,"messages":[{"role":"user","content":"hi"}]}`))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Stream != nil {
		t.Fatal("error response returned as stream")
	}
	if resp.Status != http.StatusBadRequest || resp.ProviderError == nil || resp.ProviderError.Message != "bad model" {
		t.Errorf("resp = %d %+v", resp.Status, resp.ProviderError)
	}
}

func TestResolveRules(t *testing.T) {
	u := providers.NewUnifiedRequest(providers.OpChatComplete, map[string]any{"model": "m"},
		providers.ProviderOptions{Provider: "openai", APIKey: "sk-secret"})

	rules := resolveRules([]ratelimit.Rule{
		{Name: "all"},
		{Name: "key", KeySource: KeySourceAPIKey},
		{Name: "vk", KeySource: KeySourceVirtualKey},
		{Name: "model", KeySource: KeySourceModel},
		{Name: "fixed", Key: "preset"},
	}, u)

	got := map[string]string{}
	for _, r := range rules {
		got[r.Name] = r.Key
	}
	if got["all"] != "all:*" || got["model"] != "model:m" || got["fixed"] != "preset" {
		t.Errorf("keys = %v", got)
	}
	if _, ok := got["vk"]; ok {
		t.Error("rule without a virtual key was kept")
	}
	if strings.Contains(got["key"], "sk-secret") || !strings.HasPrefix(got["key"], "key:") {
		t.Errorf("api key rule key = %q", got["key"])
	}
}
