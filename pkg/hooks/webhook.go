package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Webhook calls an external guardrail service.
//
// The service receives the hook Context as JSON together with the event and
// parameters, and answers either {"verdict": bool, "data": ...} or
// {"action": "allow"|"deny"|"mutate", "deny_reason": "..."}. Mutations are
// not applied; "mutate" counts as allow.
type Webhook struct {
	URL     string
	Headers map[string]string
	Timeout time.Duration
	Client  *http.Client
}

type webhookRequest struct {
	Event      EventType      `json:"event"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Context    *Context       `json:"context"`
}

type webhookResponse struct {
	Verdict    *bool  `json:"verdict"`
	Data       any    `json:"data"`
	Action     string `json:"action"`
	DenyReason string `json:"deny_reason"`
}

// Call posts the hook context to the service and returns its verdict.
func (w *Webhook) Call(ctx context.Context, hc *Context, params map[string]any, event EventType) (*Result, error) {
	if w.URL == "" {
		return nil, fmt.Errorf("webhook url is required")
	}

	body, err := json.Marshal(webhookRequest{Event: event, Parameters: params, Context: hc})
	if err != nil {
		return nil, fmt.Errorf("marshal webhook request: %w", err)
	}

	if w.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range w.Headers {
		req.Header.Set(k, v)
	}

	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var out webhookResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("unmarshal webhook response: %w", err)
	}

	if out.Verdict != nil {
		return &Result{Verdict: *out.Verdict, Data: out.Data}, nil
	}

	switch out.Action {
	case "", "allow", "mutate":
		return &Result{Verdict: true, Data: out.Data}, nil
	case "deny":
		data := out.Data
		if data == nil && out.DenyReason != "" {
			data = map[string]any{"reason": out.DenyReason}
		}
		return &Result{Verdict: false, Data: data}, nil
	default:
		return nil, fmt.Errorf("invalid action from webhook: %s", out.Action)
	}
}
