package ollama

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mercator-hq/conduit/pkg/providers"
)

const (
	// Name is the registry name.
	Name = "ollama"

	// DefaultBaseURL is the local Ollama daemon.
	DefaultBaseURL = "http://localhost:11434"

	// DefaultModel is used when the request omits model.
	DefaultModel = "llama3.2"
)

// Config customizes the definition.
type Config struct {
	BaseURL string
}

func init() {
	providers.RegisterFunc("ollama.messages", convertMessages)
}

// New returns the provider definition.
func New(cfg Config) *providers.Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}

	return &providers.Provider{
		Name: Name,
		API: providers.APIConfig{
			GetBaseURL: func(providers.APIContext) string { return cfg.BaseURL },
			Headers: func(ctx providers.APIContext) map[string]string {
				// Ollama is usually unauthenticated; a key is forwarded for
				// deployments behind an authenticating proxy.
				if ctx.Request == nil || ctx.Request.Options().APIKey == "" {
					return nil
				}
				return map[string]string{"Authorization": "Bearer " + ctx.Request.Options().APIKey}
			},
			GetEndpoint: func(ctx providers.APIContext) string {
				switch ctx.Operation {
				case providers.OpChatComplete:
					return "/api/chat"
				case providers.OpComplete:
					return "/api/generate"
				case providers.OpEmbed:
					return "/api/embed"
				default:
					return ""
				}
			},
		},
		Configs: map[providers.Operation]providers.ProviderConfig{
			providers.OpChatComplete: chatConfig(),
			providers.OpComplete:     completeConfig(),
			providers.OpEmbed: {
				"model":      {Required: true, Default: providers.Literal(DefaultModel)},
				"input":      {Required: true},
				"dimensions": {Min: providers.Float(1)},
			},
		},
		ResponseTransforms: map[providers.Operation]providers.ResponseTransform{
			providers.OpChatComplete: transformChat,
			providers.OpComplete:     transformGenerate,
			providers.OpEmbed:        transformEmbed,
		},
		StreamTransforms: map[providers.Operation]providers.StreamTransformFactory{
			providers.OpChatComplete: newStreamTransform,
			providers.OpComplete:     newStreamTransform,
		},
		StreamFormat: providers.StreamNDJSON,
	}
}

func options() providers.ProviderConfig {
	return providers.ProviderConfig{
		"model":             {Required: true, Default: providers.Literal(DefaultModel)},
		"stream":            {Default: providers.Literal(false)},
		"temperature":       {Param: "options.temperature", Min: providers.Float(0), Max: providers.Float(2)},
		"top_p":             {Param: "options.top_p", Min: providers.Float(0), Max: providers.Float(1)},
		"top_k":             {Param: "options.top_k", Min: providers.Float(0)},
		"max_tokens":        {Param: "options.num_predict"},
		"seed":              {Param: "options.seed"},
		"stop":              {Param: "options.stop"},
		"presence_penalty":  {Param: "options.presence_penalty"},
		"frequency_penalty": {Param: "options.frequency_penalty"},
		"keep_alive":        {},
	}
}

func chatConfig() providers.ProviderConfig {
	cfg := options()
	cfg["messages"] = providers.ParameterConfig{Required: true, Transform: providers.Func("ollama.messages")}
	cfg["tools"] = providers.ParameterConfig{}
	cfg["response_format"] = providers.ParameterConfig{Param: "format"}
	return cfg
}

func completeConfig() providers.ProviderConfig {
	cfg := options()
	cfg["prompt"] = providers.ParameterConfig{Required: true}
	cfg["suffix"] = providers.ParameterConfig{}
	cfg["system"] = providers.ParameterConfig{}
	return cfg
}

// convertMessages decodes tool call arguments, which Ollama takes as objects
// rather than JSON strings. Other messages are forwarded unchanged.
func convertMessages(_ *providers.UnifiedRequest, v any) (any, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("messages must be an array")
	}

	out := make([]any, 0, len(items))
	for i, item := range items {
		msg, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("messages[%d] must be an object", i)
		}
		calls, ok := msg["tool_calls"].([]any)
		if !ok {
			out = append(out, msg)
			continue
		}

		converted := make([]any, 0, len(calls))
		for _, c := range calls {
			call, _ := c.(map[string]any)
			fn, _ := call["function"].(map[string]any)
			args := map[string]any{}
			if s, ok := fn["arguments"].(string); ok && s != "" {
				if err := json.Unmarshal([]byte(s), &args); err != nil {
					return nil, fmt.Errorf("messages[%d] tool call arguments: %w", i, err)
				}
			}
			converted = append(converted, map[string]any{
				"function": map[string]any{"name": fn["name"], "arguments": args},
			})
		}

		next := make(map[string]any, len(msg))
		for k, val := range msg {
			next[k] = val
		}
		next["tool_calls"] = converted
		out = append(out, next)
	}
	return out, nil
}

// Ollama API response types

type toolCall struct {
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

type message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []toolCall `json:"tool_calls,omitempty"`
}

type response struct {
	Model           string    `json:"model"`
	CreatedAt       time.Time `json:"created_at"`
	Message         *message  `json:"message,omitempty"`
	Response        string    `json:"response,omitempty"`
	Done            bool      `json:"done"`
	DoneReason      string    `json:"done_reason,omitempty"`
	PromptEvalCount int       `json:"prompt_eval_count"`
	EvalCount       int       `json:"eval_count"`
	Error           string    `json:"error,omitempty"`

	Embeddings [][]float64 `json:"embeddings,omitempty"`
}

func (r *response) usage() *providers.Usage {
	return &providers.Usage{
		PromptTokens:     r.PromptEvalCount,
		CompletionTokens: r.EvalCount,
		TotalTokens:      r.PromptEvalCount + r.EvalCount,
	}
}

func (r *response) created() int64 {
	if r.CreatedAt.IsZero() {
		return time.Now().Unix()
	}
	return r.CreatedAt.Unix()
}

func (r *response) finishReason() string {
	switch {
	case r.Message != nil && len(r.Message.ToolCalls) > 0:
		return providers.FinishReasonToolCalls
	case r.DoneReason == "" || r.DoneReason == "stop":
		return providers.FinishReasonStop
	case r.DoneReason == "length":
		return providers.FinishReasonLength
	default:
		return r.DoneReason
	}
}

// toolCalls converts object arguments back to JSON strings.
func (m *message) toolCalls() []providers.ToolCall {
	if len(m.ToolCalls) == 0 {
		return nil
	}
	calls := make([]providers.ToolCall, 0, len(m.ToolCalls))
	for i, c := range m.ToolCalls {
		idx := i
		args := string(c.Function.Arguments)
		if args == "" || args == "null" {
			args = "{}"
		}
		calls = append(calls, providers.ToolCall{
			Index: &idx,
			ID:    "call_" + uuid.NewString(),
			Type:  "function",
			Function: providers.FunctionCall{
				Name:      c.Function.Name,
				Arguments: args,
			},
		})
	}
	return calls
}

func transformChat(rc providers.ResponseContext, body []byte) (*providers.UnifiedResponse, error) {
	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if resp.Message == nil {
		return nil, fmt.Errorf("response has no message")
	}

	msg := &providers.Message{
		Role:      providers.RoleAssistant,
		Content:   resp.Message.Content,
		ToolCalls: resp.Message.toolCalls(),
	}
	for i := range msg.ToolCalls {
		msg.ToolCalls[i].Index = nil
	}
	finish := resp.finishReason()
	return &providers.UnifiedResponse{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: resp.created(),
		Model:   resp.Model,
		Choices: []providers.Choice{{Message: msg, FinishReason: &finish}},
		Usage:   resp.usage(),
	}, nil
}

func transformGenerate(rc providers.ResponseContext, body []byte) (*providers.UnifiedResponse, error) {
	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	finish := resp.finishReason()
	return &providers.UnifiedResponse{
		ID:      "cmpl-" + uuid.NewString(),
		Object:  "text_completion",
		Created: resp.created(),
		Model:   resp.Model,
		Choices: []providers.Choice{{Text: resp.Response, FinishReason: &finish}},
		Usage:   resp.usage(),
	}, nil
}

func transformEmbed(rc providers.ResponseContext, body []byte) (*providers.UnifiedResponse, error) {
	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	out := &providers.UnifiedResponse{
		Object: "list",
		Model:  resp.Model,
		Usage:  &providers.Usage{PromptTokens: resp.PromptEvalCount, TotalTokens: resp.PromptEvalCount},
	}
	for i, e := range resp.Embeddings {
		out.Data = append(out.Data, providers.Embedding{Object: "embedding", Index: i, Embedding: e})
	}
	return out, nil
}
