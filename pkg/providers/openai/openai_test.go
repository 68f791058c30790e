package openai

import (
	"encoding/json"
	"errors"
	"testing"

	"mercator-hq/conduit/pkg/providers"
)

func parse(t *testing.T, op providers.Operation, body string, opts providers.ProviderOptions) *providers.UnifiedRequest {
	t.Helper()
	req, err := providers.ParseUnifiedRequest(op, []byte(body), opts)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	return req
}

func TestChatRequest(t *testing.T) {
	p := New(Config{})
	req := parse(t, providers.OpChatComplete, `{
		"model": "gpt-4o",
		"messages": [{"role": "user", "content": "hi"}],
		"temperature": 0.7,
		"stream": true,
		"metadata_not_forwarded": 1
	}`, providers.ProviderOptions{APIKey: "sk-test"})

	body, err := p.BuildBody(req)
	if err != nil {
		t.Fatalf("BuildBody failed: %v", err)
	}

	if body["model"] != "gpt-4o" || body["temperature"] != 0.7 || body["stream"] != true {
		t.Errorf("unexpected body %v", body)
	}
	if _, ok := body["metadata_not_forwarded"]; ok {
		t.Error("expected unknown parameters to be dropped")
	}

	target, err := p.BuildURL(providers.APIContext{Operation: providers.OpChatComplete, Request: req, Body: body})
	if err != nil {
		t.Fatalf("BuildURL failed: %v", err)
	}
	if target.URL != "https://api.openai.com/v1/chat/completions" {
		t.Errorf("unexpected URL %s", target.URL)
	}
	if target.Headers["Authorization"] != "Bearer sk-test" {
		t.Errorf("unexpected auth header %q", target.Headers["Authorization"])
	}
}

func TestChatRequest_Validation(t *testing.T) {
	p := New(Config{})

	_, err := p.BuildBody(parse(t, providers.OpChatComplete, `{"model":"m"}`, providers.ProviderOptions{}))
	var ve *providers.ValidationError
	if !errors.As(err, &ve) || ve.Field != "messages" {
		t.Errorf("expected missing messages, got %v", err)
	}

	_, err = p.BuildBody(parse(t, providers.OpChatComplete, `{"messages":[],"temperature":3}`, providers.ProviderOptions{}))
	if !errors.As(err, &ve) || ve.Field != "temperature" {
		t.Errorf("expected temperature out of range, got %v", err)
	}

	body, _ := p.BuildBody(parse(t, providers.OpChatComplete, `{"messages":[]}`, providers.ProviderOptions{}))
	if body["model"] != DefaultChatModel {
		t.Errorf("expected default model, got %v", body["model"])
	}
}

func TestCompatibleProvider(t *testing.T) {
	p := New(Config{Name: "azure-like", BaseURL: "https://example.test/openai", AuthHeader: "api-key"})
	req := parse(t, providers.OpEmbed, `{"input":"hello"}`, providers.ProviderOptions{APIKey: "k"})

	target, err := p.BuildURL(providers.APIContext{Operation: providers.OpEmbed, Request: req})
	if err != nil {
		t.Fatalf("BuildURL failed: %v", err)
	}
	if target.URL != "https://example.test/openai/embeddings" {
		t.Errorf("unexpected URL %s", target.URL)
	}
	if target.Headers["api-key"] != "k" {
		t.Errorf("expected bare key in custom header, got %v", target.Headers)
	}
	if p.Name != "azure-like" {
		t.Errorf("unexpected name %s", p.Name)
	}
}

func TestTransformResponse(t *testing.T) {
	p := New(Config{})
	req := parse(t, providers.OpEmbed, `{"input":"hello"}`, providers.ProviderOptions{})

	resp, err := p.TransformResponse(req, []byte(`{
		"object": "list",
		"data": [{"object": "embedding", "index": 0, "embedding": [0.1, 0.2]}],
		"model": "text-embedding-3-small",
		"usage": {"prompt_tokens": 1, "total_tokens": 1}
	}`), 200)
	if err != nil {
		t.Fatalf("TransformResponse failed: %v", err)
	}
	if len(resp.Data) != 1 || len(resp.Data[0].Embedding) != 2 {
		t.Errorf("unexpected embeddings %+v", resp.Data)
	}
	if resp.Provider != Name {
		t.Errorf("expected provider tag, got %s", resp.Provider)
	}
}

func TestStreamTransform(t *testing.T) {
	p := New(Config{Name: "local"})
	req := parse(t, providers.OpChatComplete, `{"messages":[],"stream":true}`, providers.ProviderOptions{})
	transform := p.NewStreamTransform(req)

	out, err := transform(`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"content":"Hel"},"finish_reason":null}]}`)
	if err != nil {
		t.Fatalf("transform failed: %v", err)
	}

	var chunk providers.StreamChunk
	if err := json.Unmarshal([]byte(out), &chunk); err != nil {
		t.Fatalf("output is not a chunk: %v", err)
	}
	if chunk.Provider != "local" || chunk.Choices[0].Delta.Content != "Hel" {
		t.Errorf("unexpected chunk %+v", chunk)
	}

	raw := `{"error":{"message":"overloaded"}}`
	if out, err := transform(raw); err != nil || out != raw {
		t.Errorf("expected error frame forwarded unchanged, got %q %v", out, err)
	}

	if _, err := transform(`{"id":`); err == nil {
		t.Error("expected error for malformed frame")
	}
}

func TestCompletionStreamTransform(t *testing.T) {
	p := New(Config{Name: "local"})
	req := parse(t, providers.OpComplete, `{"prompt":"Say hi","stream":true}`, providers.ProviderOptions{})
	transform := p.NewStreamTransform(req)

	out, err := transform(`{"id":"cmpl-1","object":"text_completion","created":1,"model":"gpt-3.5-turbo-instruct","choices":[{"index":0,"text":"Hel","logprobs":null,"finish_reason":null}]}`)
	if err != nil {
		t.Fatalf("transform failed: %v", err)
	}

	var chunk map[string]any
	if err := json.Unmarshal([]byte(out), &chunk); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if chunk["provider"] != "local" || chunk["object"] != "text_completion" {
		t.Errorf("unexpected chunk %s", out)
	}
	choices, _ := chunk["choices"].([]any)
	if len(choices) != 1 || choices[0].(map[string]any)["text"] != "Hel" {
		t.Errorf("unexpected choices %s", out)
	}
	if _, ok := choices[0].(map[string]any)["delta"]; ok {
		t.Errorf("text completion chunk should not carry a delta: %s", out)
	}

	raw := `{"error":{"message":"overloaded"}}`
	if out, err := transform(raw); err != nil || out != raw {
		t.Errorf("expected error frame forwarded unchanged, got %q %v", out, err)
	}
	if _, err := transform(`{"id":`); err == nil {
		t.Error("expected error for malformed frame")
	}
}
