package dashscope

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"mercator-hq/conduit/pkg/providers"
)

func parse(t *testing.T, op providers.Operation, body string) *providers.UnifiedRequest {
	t.Helper()
	req, err := providers.ParseUnifiedRequest(op, []byte(body), providers.ProviderOptions{APIKey: "sk-ds"})
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	return req
}

func TestBuildBody_Nesting(t *testing.T) {
	p := New(Config{})
	req := parse(t, providers.OpChatComplete, `{
		"model": "qwen-max",
		"messages": [{"role": "user", "content": "hi"}],
		"temperature": 0.5,
		"max_tokens": 64,
		"stream": true
	}`)

	body, err := p.BuildBody(req)
	if err != nil {
		t.Fatalf("BuildBody failed: %v", err)
	}

	input := body["input"].(map[string]any)
	if !reflect.DeepEqual(input["messages"], []any{map[string]any{"role": "user", "content": "hi"}}) {
		t.Errorf("unexpected input.messages %v", input["messages"])
	}
	params := body["parameters"].(map[string]any)
	want := map[string]any{
		"temperature":        0.5,
		"max_tokens":         64.0,
		"result_format":      "message",
		"incremental_output": true,
	}
	if !reflect.DeepEqual(params, want) {
		t.Errorf("parameters = %v, want %v", params, want)
	}
	if _, ok := body["messages"]; ok {
		t.Error("expected messages only under input")
	}

	target, err := p.BuildURL(providers.APIContext{Operation: providers.OpChatComplete, Request: req, Body: body})
	if err != nil {
		t.Fatalf("BuildURL failed: %v", err)
	}
	if target.Headers["X-DashScope-SSE"] != "enable" {
		t.Errorf("expected SSE header when streaming, got %v", target.Headers)
	}
}

func TestBuildBody_NoStream(t *testing.T) {
	p := New(Config{})
	body, err := p.BuildBody(parse(t, providers.OpChatComplete, `{"messages":[],"stream":false}`))
	if err != nil {
		t.Fatalf("BuildBody failed: %v", err)
	}
	if _, ok := body["parameters"].(map[string]any)["incremental_output"]; ok {
		t.Error("expected incremental_output omitted")
	}
}

func TestEmbed(t *testing.T) {
	p := New(Config{})
	req := parse(t, providers.OpEmbed, `{"input":"hello","dimensions":512}`)

	body, err := p.BuildBody(req)
	if err != nil {
		t.Fatalf("BuildBody failed: %v", err)
	}
	if !reflect.DeepEqual(body["input"], map[string]any{"texts": []any{"hello"}}) {
		t.Errorf("unexpected input %v", body["input"])
	}
	if body["parameters"].(map[string]any)["dimension"] != 512.0 {
		t.Errorf("unexpected parameters %v", body["parameters"])
	}

	resp, err := p.TransformResponse(req, []byte(`{
		"output": {"embeddings": [{"text_index": 0, "embedding": [0.1, 0.2]}]},
		"usage": {"total_tokens": 3},
		"request_id": "r-1"
	}`), 200)
	if err != nil {
		t.Fatalf("TransformResponse failed: %v", err)
	}
	if len(resp.Data) != 1 || resp.Data[0].Embedding[1] != 0.2 || resp.Model != DefaultEmbeddingModel {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestTransformError(t *testing.T) {
	p := New(Config{})
	resp, err := p.TransformResponse(parse(t, providers.OpChatComplete, `{}`),
		[]byte(`{"code":"InvalidApiKey","message":"Invalid API-key provided.","request_id":"r"}`), 401)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if resp.Error.Code != "InvalidApiKey" || resp.Error.Message != "Invalid API-key provided." {
		t.Errorf("unexpected envelope %+v", resp.Error)
	}
}

// TestEndToEnd sends a unified request through the client to a fake upstream
// and checks both directions of the translation.
func TestEndToEnd(t *testing.T) {
	var received map[string]any
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/services/aigc/text-generation/generation" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-ds" {
			t.Errorf("unexpected auth %q", r.Header.Get("Authorization"))
		}
		data, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(data, &received); err != nil {
			t.Errorf("invalid body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"output": {"choices": [{"finish_reason": "stop", "message": {"role": "assistant", "content": "hello"}}]},
			"usage": {"input_tokens": 4, "output_tokens": 1, "total_tokens": 5},
			"request_id": "req-1"
		}`))
	}))
	defer upstream.Close()

	registry, err := providers.NewRegistry(New(Config{BaseURL: upstream.URL}))
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	p := registry.MustGet(Name)

	messages := []any{map[string]any{"role": "user", "content": "hi"}}
	req := providers.NewUnifiedRequest(providers.OpChatComplete, map[string]any{
		"model":    "m",
		"messages": messages,
		"stream":   false,
	}, providers.ProviderOptions{Provider: Name, APIKey: "sk-ds"})

	body, err := p.BuildBody(req)
	if err != nil {
		t.Fatalf("BuildBody failed: %v", err)
	}
	target, err := p.BuildURL(providers.APIContext{Operation: req.Operation(), Request: req, Body: body})
	if err != nil {
		t.Fatalf("BuildURL failed: %v", err)
	}
	payload, _ := json.Marshal(body)

	client := providers.NewClient(providers.ClientConfig{}, nil)
	httpResp, err := client.Do(context.Background(), Name, target, payload)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	defer httpResp.Body.Close()
	respBody, _ := io.ReadAll(httpResp.Body)

	if !reflect.DeepEqual(received["input"].(map[string]any)["messages"], messages) {
		t.Errorf("expected input.messages to equal unified messages, got %v", received["input"])
	}

	resp, err := p.TransformResponse(req, respBody, httpResp.StatusCode)
	if err != nil {
		t.Fatalf("TransformResponse failed: %v", err)
	}
	if resp.Model != "m" {
		t.Errorf("expected requested model, got %q", resp.Model)
	}
	if resp.Text() != "hello" || *resp.Choices[0].FinishReason != "stop" || resp.Usage.TotalTokens != 5 {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestStreamTransform(t *testing.T) {
	transform := New(Config{}).NewStreamTransform(parse(t, providers.OpChatComplete, `{"model":"qwen-plus","stream":true}`))

	first, err := transform(`{"output":{"choices":[{"message":{"content":"Hel","role":"assistant"},"finish_reason":"null"}]},"usage":{"input_tokens":3,"output_tokens":1},"request_id":"req-9"}`)
	if err != nil {
		t.Fatalf("first event: %v", err)
	}
	var c providers.StreamChunk
	if err := json.Unmarshal([]byte(first), &c); err != nil {
		t.Fatalf("invalid chunk: %v", err)
	}
	if c.ID != "req-9" || c.Model != "qwen-plus" || c.Choices[0].Delta.Role != "assistant" || c.Choices[0].Delta.Content != "Hel" {
		t.Errorf("unexpected first chunk %+v", c)
	}
	if c.Choices[0].FinishReason != nil {
		t.Errorf("expected no finish reason, got %v", *c.Choices[0].FinishReason)
	}

	last, err := transform(`{"output":{"choices":[{"message":{"content":"lo","role":"assistant"},"finish_reason":"stop"}]},"usage":{"input_tokens":3,"output_tokens":2,"total_tokens":5},"request_id":"req-9"}`)
	if !errors.Is(err, providers.ErrStreamDone) {
		t.Fatalf("expected structural end, got %v", err)
	}
	c = providers.StreamChunk{}
	if err := json.Unmarshal([]byte(last), &c); err != nil {
		t.Fatalf("invalid chunk: %v", err)
	}
	if c.Choices[0].Delta.Role != "" || c.Choices[0].Delta.Content != "lo" {
		t.Errorf("unexpected final delta %+v", c.Choices[0].Delta)
	}
	if c.Usage == nil || c.Usage.TotalTokens != 5 {
		t.Errorf("expected usage on final chunk, got %+v", c.Usage)
	}
}

func TestStreamTransform_Error(t *testing.T) {
	transform := New(Config{}).NewStreamTransform(parse(t, providers.OpChatComplete, `{}`))

	s, err := transform(`{"code":"Throttling","message":"Requests throttled","request_id":"r"}`)
	if !errors.Is(err, providers.ErrStreamDone) {
		t.Fatalf("expected error event to end the stream, got %v", err)
	}
	var env struct {
		Error providers.ErrorEnvelope `json:"error"`
	}
	if err := json.Unmarshal([]byte(s), &env); err != nil || env.Error.Code != "Throttling" {
		t.Errorf("unexpected error frame %s", s)
	}
}
