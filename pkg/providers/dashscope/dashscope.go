package dashscope

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mercator-hq/conduit/pkg/providers"
)

const (
	// Name is the registry name.
	Name = "dashscope"

	// DefaultBaseURL is the mainland China endpoint. The international
	// endpoint is https://dashscope-intl.aliyuncs.com/api/v1.
	DefaultBaseURL = "https://dashscope.aliyuncs.com/api/v1"

	DefaultChatModel      = "qwen-turbo"
	DefaultEmbeddingModel = "text-embedding-v3"
)

// Config customizes the definition.
type Config struct {
	BaseURL string
}

func init() {
	providers.RegisterFunc("dashscope.texts", toTexts)
	providers.RegisterFunc("dashscope.incremental", incrementalOutput)
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
				h := map[string]string{}
				if ctx.Request == nil {
					return h
				}
				if key := ctx.Request.Options().APIKey; key != "" {
					h["Authorization"] = "Bearer " + key
				}
				if ctx.Request.Stream() {
					h["X-DashScope-SSE"] = "enable"
				}
				return h
			},
			GetEndpoint: func(ctx providers.APIContext) string {
				switch ctx.Operation {
				case providers.OpChatComplete:
					return "/services/aigc/text-generation/generation"
				case providers.OpEmbed:
					return "/services/embeddings/text-embedding/text-embedding"
				default:
					return ""
				}
			},
		},
		Configs: map[providers.Operation]providers.ProviderConfig{
			providers.OpChatComplete: {
				"model":              {Required: true, Default: providers.Literal(DefaultChatModel)},
				"messages":           {Required: true, Param: "input.messages"},
				"result_format":      {Param: "parameters.result_format", Default: providers.Literal("message")},
				"temperature":        {Param: "parameters.temperature", Min: providers.Float(0), Max: providers.Float(2)},
				"top_p":              {Param: "parameters.top_p", Min: providers.Float(0), Max: providers.Float(1)},
				"top_k":              {Param: "parameters.top_k", Min: providers.Float(0)},
				"max_tokens":         {Param: "parameters.max_tokens", Min: providers.Float(1)},
				"seed":               {Param: "parameters.seed"},
				"stop":               {Param: "parameters.stop"},
				"presence_penalty":   {Param: "parameters.presence_penalty", Min: providers.Float(-2), Max: providers.Float(2)},
				"repetition_penalty": {Param: "parameters.repetition_penalty", Min: providers.Float(0)},
				"tools":              {Param: "parameters.tools"},
				"stream":             {Param: "parameters.incremental_output", Transform: providers.Func("dashscope.incremental")},
			},
			providers.OpEmbed: {
				"model":      {Required: true, Default: providers.Literal(DefaultEmbeddingModel)},
				"input":      {Required: true, Param: "input.texts", Transform: providers.Func("dashscope.texts")},
				"dimensions": {Param: "parameters.dimension", Min: providers.Float(1)},
			},
		},
		ResponseTransforms: map[providers.Operation]providers.ResponseTransform{
			providers.OpChatComplete: transformChat,
			providers.OpEmbed:        transformEmbed,
		},
		StreamTransforms: map[providers.Operation]providers.StreamTransformFactory{
			providers.OpChatComplete: newStreamTransform,
		},
		ErrorTransform: transformError,
		StreamFormat:   providers.StreamSSE,
	}
}

// incrementalOutput keeps the stream flag only when streaming, so each
// event carries a delta instead of the full text so far.
func incrementalOutput(_ *providers.UnifiedRequest, v any) (any, error) {
	if b, ok := v.(bool); ok && b {
		return true, nil
	}
	return nil, nil
}

func toTexts(_ *providers.UnifiedRequest, v any) (any, error) {
	switch in := v.(type) {
	case string:
		return []any{in}, nil
	case []any:
		for i, item := range in {
			if _, ok := item.(string); !ok {
				return nil, fmt.Errorf("input[%d] must be a string", i)
			}
		}
		return in, nil
	default:
		return nil, fmt.Errorf("input must be a string or an array of strings")
	}
}

// DashScope API response types

type choice struct {
	FinishReason string            `json:"finish_reason"`
	Message      providers.Message `json:"message"`
}

type usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type generationResponse struct {
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Output    struct {
		Text         string   `json:"text"`
		FinishReason string   `json:"finish_reason"`
		Choices      []choice `json:"choices"`
		Embeddings   []struct {
			TextIndex int       `json:"text_index"`
			Embedding []float64 `json:"embedding"`
		} `json:"embeddings"`
	} `json:"output"`
	Usage usage `json:"usage"`
}

func (u usage) unified() *providers.Usage {
	total := u.TotalTokens
	if total == 0 {
		total = u.InputTokens + u.OutputTokens
	}
	return &providers.Usage{
		PromptTokens:     u.InputTokens,
		CompletionTokens: u.OutputTokens,
		TotalTokens:      total,
	}
}

// requestedModel is the model echoed back, since DashScope responses do not
// name one.
func requestedModel(req *providers.UnifiedRequest) string {
	if req != nil && req.Model() != "" {
		return req.Model()
	}
	if req != nil && req.Operation() == providers.OpEmbed {
		return DefaultEmbeddingModel
	}
	return DefaultChatModel
}

func transformChat(rc providers.ResponseContext, body []byte) (*providers.UnifiedResponse, error) {
	var resp generationResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	out := &providers.UnifiedResponse{
		ID:      resp.RequestID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   requestedModel(rc.Request),
		Usage:   resp.Usage.unified(),
	}
	if out.ID == "" {
		out.ID = "chatcmpl-" + uuid.NewString()
	}

	// result_format "text" puts the answer in output.text
	if len(resp.Output.Choices) == 0 {
		finish := normalizeFinishReason(resp.Output.FinishReason)
		out.Choices = []providers.Choice{{
			Message:      &providers.Message{Role: providers.RoleAssistant, Content: resp.Output.Text},
			FinishReason: &finish,
		}}
		return out, nil
	}

	for i, c := range resp.Output.Choices {
		msg := c.Message
		if msg.Role == "" {
			msg.Role = providers.RoleAssistant
		}
		finish := normalizeFinishReason(c.FinishReason)
		out.Choices = append(out.Choices, providers.Choice{
			Index:        i,
			Message:      &msg,
			FinishReason: &finish,
		})
	}
	return out, nil
}

func transformEmbed(rc providers.ResponseContext, body []byte) (*providers.UnifiedResponse, error) {
	var resp generationResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	out := &providers.UnifiedResponse{
		ID:     resp.RequestID,
		Object: "list",
		Model:  requestedModel(rc.Request),
		Usage:  resp.Usage.unified(),
	}
	for _, e := range resp.Output.Embeddings {
		out.Data = append(out.Data, providers.Embedding{
			Object:    "embedding",
			Index:     e.TextIndex,
			Embedding: e.Embedding,
		})
	}
	return out, nil
}

// transformError reads the flat {"code":...,"message":...,"request_id":...} body.
func transformError(rc providers.ResponseContext, body []byte) *providers.ErrorEnvelope {
	var resp generationResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Message == "" {
		return providers.DefaultErrorTransform(rc, body)
	}
	return &providers.ErrorEnvelope{
		Message: resp.Message,
		Type:    "provider_error",
		Code:    resp.Code,
	}
}

func normalizeFinishReason(reason string) string {
	switch reason {
	case "", "null":
		return ""
	case "tool_calls":
		return providers.FinishReasonToolCalls
	default:
		return reason
	}
}
