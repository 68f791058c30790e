package anthropic

import (
	"encoding/json"
	"fmt"
	"time"

	"mercator-hq/conduit/pkg/providers"
)

const (
	// Name is the registry name.
	Name = "anthropic"

	// DefaultBaseURL is the public Anthropic API.
	DefaultBaseURL = "https://api.anthropic.com/v1"

	// DefaultAnthropicVersion is the API version to use
	DefaultAnthropicVersion = "2023-06-01"

	// DefaultMaxTokens is sent when the request omits max_tokens.
	DefaultMaxTokens = 1024

	// DefaultModel is used when the request omits model.
	DefaultModel = "claude-3-5-haiku-latest"
)

// Config customizes the definition.
type Config struct {
	BaseURL string
	Version string
}

func init() {
	providers.RegisterFunc("anthropic.messages", convertMessages)
	providers.RegisterFunc("anthropic.system", liftSystem)
	providers.RegisterFunc("anthropic.stop", toStopSequences)
	providers.RegisterFunc("anthropic.tools", convertTools)
	providers.RegisterFunc("anthropic.toolChoice", convertToolChoice)
}

// New returns the provider definition.
func New(cfg Config) *providers.Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Version == "" {
		cfg.Version = DefaultAnthropicVersion
	}

	return &providers.Provider{
		Name: Name,
		API: providers.APIConfig{
			GetBaseURL: func(providers.APIContext) string { return cfg.BaseURL },
			Headers: func(ctx providers.APIContext) map[string]string {
				h := map[string]string{"anthropic-version": cfg.Version}
				if ctx.Request != nil {
					if key := ctx.Request.Options().APIKey; key != "" {
						h["x-api-key"] = key
					}
				}
				return h
			},
			GetEndpoint: func(ctx providers.APIContext) string {
				if ctx.Operation == providers.OpChatComplete {
					return "/messages"
				}
				return ""
			},
		},
		Configs: map[providers.Operation]providers.ProviderConfig{
			providers.OpChatComplete: {
				"model":       {Required: true, Default: providers.Literal(DefaultModel)},
				"messages":    {Required: true, Transform: providers.Func("anthropic.messages")},
				"system":      {Source: "messages", Transform: providers.Func("anthropic.system")},
				"max_tokens":  {Required: true, Default: providers.Literal(float64(DefaultMaxTokens)), Min: providers.Float(1)},
				"temperature": {Min: providers.Float(0), Max: providers.Float(1), OnOutOfRange: providers.RangeClamp},
				"top_p":       {Min: providers.Float(0), Max: providers.Float(1)},
				"top_k":       {Min: providers.Float(1)},
				"stop":        {Param: "stop_sequences", Transform: providers.Func("anthropic.stop")},
				"stream":      {},
				"tools":       {Transform: providers.Func("anthropic.tools")},
				"tool_choice": {Transform: providers.Func("anthropic.toolChoice")},
				"user":        {Param: "metadata.user_id"},
			},
		},
		ResponseTransforms: map[providers.Operation]providers.ResponseTransform{
			providers.OpChatComplete: transformResponse,
		},
		StreamTransforms: map[providers.Operation]providers.StreamTransformFactory{
			providers.OpChatComplete: newStreamTransform,
		},
		ErrorTransform: transformError,
		StreamFormat:   providers.StreamSSE,
	}
}

// convertMessages maps unified chat messages to Anthropic messages.
// System messages are removed; see liftSystem.
func convertMessages(_ *providers.UnifiedRequest, v any) (any, error) {
	msgs, err := providers.DecodeMessages(v)
	if err != nil {
		return nil, err
	}
	raw, _ := v.([]any)

	out := make([]any, 0, len(msgs))
	for i, msg := range msgs {
		switch msg.Role {
		case providers.RoleSystem:
			continue

		case providers.RoleTool:
			out = append(out, map[string]any{
				"role": providers.RoleUser,
				"content": []any{map[string]any{
					"type":        "tool_result",
					"tool_use_id": msg.ToolCallID,
					"content":     msg.Content,
				}},
			})

		case providers.RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				out = append(out, map[string]any{"role": msg.Role, "content": contentOf(raw[i])})
				continue
			}
			blocks := make([]any, 0, len(msg.ToolCalls)+1)
			if msg.Content != "" {
				blocks = append(blocks, map[string]any{"type": "text", "text": msg.Content})
			}
			for _, call := range msg.ToolCalls {
				input := map[string]any{}
				if call.Function.Arguments != "" {
					if err := json.Unmarshal([]byte(call.Function.Arguments), &input); err != nil {
						return nil, fmt.Errorf("tool call %s arguments: %w", call.ID, err)
					}
				}
				blocks = append(blocks, map[string]any{
					"type":  "tool_use",
					"id":    call.ID,
					"name":  call.Function.Name,
					"input": input,
				})
			}
			out = append(out, map[string]any{"role": msg.Role, "content": blocks})

		default:
			out = append(out, map[string]any{"role": msg.Role, "content": contentOf(raw[i])})
		}
	}
	return out, nil
}

// contentOf converts unified content to Anthropic content. Strings are kept;
// text parts are kept and image_url parts become URL image sources.
func contentOf(item any) any {
	m, _ := item.(map[string]any)
	parts, ok := m["content"].([]any)
	if !ok {
		s, _ := m["content"].(string)
		return s
	}

	blocks := make([]any, 0, len(parts))
	for _, p := range parts {
		part, ok := p.(map[string]any)
		if !ok {
			continue
		}
		switch part["type"] {
		case "text":
			blocks = append(blocks, map[string]any{"type": "text", "text": part["text"]})
		case "image_url":
			img, _ := part["image_url"].(map[string]any)
			blocks = append(blocks, map[string]any{
				"type":   "image",
				"source": map[string]any{"type": "url", "url": img["url"]},
			})
		default:
			blocks = append(blocks, part)
		}
	}
	return blocks
}

// liftSystem returns the joined system messages, or nil when there are none.
func liftSystem(_ *providers.UnifiedRequest, v any) (any, error) {
	msgs, err := providers.DecodeMessages(v)
	if err != nil {
		return nil, err
	}

	system := ""
	for _, msg := range msgs {
		if msg.Role != providers.RoleSystem || msg.Content == "" {
			continue
		}
		if system != "" {
			system += "\n"
		}
		system += msg.Content
	}
	if system == "" {
		return nil, nil
	}
	return system, nil
}

func toStopSequences(_ *providers.UnifiedRequest, v any) (any, error) {
	switch s := v.(type) {
	case string:
		return []any{s}, nil
	case []any:
		return s, nil
	default:
		return nil, fmt.Errorf("stop must be a string or an array")
	}
}

// convertTools maps OpenAI function tools to Anthropic tools.
func convertTools(_ *providers.UnifiedRequest, v any) (any, error) {
	tools, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("tools must be an array")
	}

	out := make([]any, 0, len(tools))
	for i, t := range tools {
		tool, _ := t.(map[string]any)
		fn, ok := tool["function"].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("tools[%d].function is required", i)
		}
		schema := fn["parameters"]
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		converted := map[string]any{
			"name":         fn["name"],
			"input_schema": schema,
		}
		if desc, ok := fn["description"].(string); ok && desc != "" {
			converted["description"] = desc
		}
		out = append(out, converted)
	}
	return out, nil
}

// convertToolChoice maps "auto", "required", "none" and a named function.
func convertToolChoice(_ *providers.UnifiedRequest, v any) (any, error) {
	switch c := v.(type) {
	case string:
		switch c {
		case "auto":
			return map[string]any{"type": "auto"}, nil
		case "required":
			return map[string]any{"type": "any"}, nil
		case "none":
			return map[string]any{"type": "none"}, nil
		}
	case map[string]any:
		if fn, ok := c["function"].(map[string]any); ok {
			return map[string]any{"type": "tool", "name": fn["name"]}, nil
		}
	}
	return nil, fmt.Errorf("unsupported tool_choice %v", v)
}

// Anthropic API response types

type contentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type messageResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Content    []contentBlock `json:"content"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Usage      usage          `json:"usage"`
}

func transformResponse(rc providers.ResponseContext, body []byte) (*providers.UnifiedResponse, error) {
	var resp messageResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if resp.Type != "" && resp.Type != "message" {
		return nil, fmt.Errorf("unexpected response type %q", resp.Type)
	}

	msg := &providers.Message{Role: providers.RoleAssistant}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			msg.Content += block.Text
		case "tool_use":
			args := string(block.Input)
			if args == "" {
				args = "{}"
			}
			msg.ToolCalls = append(msg.ToolCalls, providers.ToolCall{
				ID:   block.ID,
				Type: "function",
				Function: providers.FunctionCall{
					Name:      block.Name,
					Arguments: args,
				},
			})
		}
	}

	finish := normalizeStopReason(resp.StopReason)
	return &providers.UnifiedResponse{
		ID:      resp.ID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   resp.Model,
		Choices: []providers.Choice{{
			Index:        0,
			Message:      msg,
			FinishReason: &finish,
		}},
		Usage: &providers.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}

// transformError reads {"type":"error","error":{"type":...,"message":...}}.
func transformError(rc providers.ResponseContext, body []byte) *providers.ErrorEnvelope {
	var envelope struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error.Message == "" {
		return providers.DefaultErrorTransform(rc, body)
	}
	return &providers.ErrorEnvelope{
		Message: envelope.Error.Message,
		Type:    envelope.Error.Type,
		Code:    envelope.Error.Type,
	}
}

// normalizeStopReason normalizes Anthropic stop reasons to provider-agnostic values.
func normalizeStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return providers.FinishReasonStop
	case "max_tokens":
		return providers.FinishReasonLength
	case "tool_use":
		return providers.FinishReasonToolCalls
	case "refusal":
		return providers.FinishReasonContentFilter
	default:
		return reason
	}
}
