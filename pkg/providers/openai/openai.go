package openai

import (
	"encoding/json"

	"mercator-hq/conduit/pkg/providers"
)

const (
	// DefaultBaseURL is the public OpenAI API.
	DefaultBaseURL = "https://api.openai.com/v1"

	// Name is the registry name of the default definition.
	Name = "openai"
)

// Default models used when a request omits "model".
const (
	DefaultChatModel       = "gpt-4o-mini"
	DefaultCompletionModel = "gpt-3.5-turbo-instruct"
	DefaultEmbeddingModel  = "text-embedding-3-small"
)

// Config customizes an OpenAI-compatible definition.
type Config struct {
	// Name is the registry name. Default: "openai".
	Name string

	// BaseURL replaces DefaultBaseURL.
	BaseURL string

	// AuthHeader is the header carrying the API key. Default: Authorization,
	// sent as "Bearer <key>". Any other header receives the bare key.
	AuthHeader string
}

// New returns the provider definition.
func New(cfg Config) *providers.Provider {
	if cfg.Name == "" {
		cfg.Name = Name
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.AuthHeader == "" {
		cfg.AuthHeader = "Authorization"
	}

	return &providers.Provider{
		Name: cfg.Name,
		API: providers.APIConfig{
			GetBaseURL: func(providers.APIContext) string { return cfg.BaseURL },
			Headers: func(ctx providers.APIContext) map[string]string {
				key := ""
				if ctx.Request != nil {
					key = ctx.Request.Options().APIKey
				}
				if key == "" {
					return nil
				}
				if cfg.AuthHeader == "Authorization" {
					return map[string]string{"Authorization": "Bearer " + key}
				}
				return map[string]string{cfg.AuthHeader: key}
			},
			GetEndpoint: func(ctx providers.APIContext) string {
				switch ctx.Operation {
				case providers.OpChatComplete:
					return "/chat/completions"
				case providers.OpComplete:
					return "/completions"
				case providers.OpEmbed:
					return "/embeddings"
				default:
					return ""
				}
			},
		},
		Configs: map[providers.Operation]providers.ProviderConfig{
			providers.OpChatComplete: chatConfig(),
			providers.OpComplete:     completeConfig(),
			providers.OpEmbed:        embedConfig(),
		},
		StreamTransforms: map[providers.Operation]providers.StreamTransformFactory{
			providers.OpChatComplete: newStreamTransform(cfg.Name),
			providers.OpComplete:     newCompletionStreamTransform(cfg.Name),
		},
		StreamFormat: providers.StreamSSE,
	}
}

// sampling are the parameters shared by chat and text completions.
func sampling() providers.ProviderConfig {
	return providers.ProviderConfig{
		"temperature":       {Min: providers.Float(0), Max: providers.Float(2)},
		"top_p":             {Min: providers.Float(0), Max: providers.Float(1)},
		"max_tokens":        {Min: providers.Float(1)},
		"n":                 {Min: providers.Float(1)},
		"stop":              {},
		"presence_penalty":  {Min: providers.Float(-2), Max: providers.Float(2)},
		"frequency_penalty": {Min: providers.Float(-2), Max: providers.Float(2)},
		"logit_bias":        {},
		"logprobs":          {},
		"seed":              {},
		"stream":            {},
		"stream_options":    {},
		"user":              {},
	}
}

func chatConfig() providers.ProviderConfig {
	cfg := sampling()
	cfg["model"] = providers.ParameterConfig{Required: true, Default: providers.Literal(DefaultChatModel)}
	cfg["messages"] = providers.ParameterConfig{Required: true}
	cfg["tools"] = providers.ParameterConfig{}
	cfg["tool_choice"] = providers.ParameterConfig{}
	cfg["parallel_tool_calls"] = providers.ParameterConfig{}
	cfg["response_format"] = providers.ParameterConfig{}
	cfg["top_logprobs"] = providers.ParameterConfig{Min: providers.Float(0), Max: providers.Float(20)}
	cfg["max_completion_tokens"] = providers.ParameterConfig{Min: providers.Float(1)}
	return cfg
}

func completeConfig() providers.ProviderConfig {
	cfg := sampling()
	cfg["model"] = providers.ParameterConfig{Required: true, Default: providers.Literal(DefaultCompletionModel)}
	cfg["prompt"] = providers.ParameterConfig{Required: true}
	cfg["suffix"] = providers.ParameterConfig{}
	cfg["echo"] = providers.ParameterConfig{}
	cfg["best_of"] = providers.ParameterConfig{Min: providers.Float(1)}
	return cfg
}

func embedConfig() providers.ProviderConfig {
	return providers.ProviderConfig{
		"model":           {Required: true, Default: providers.Literal(DefaultEmbeddingModel)},
		"input":           {Required: true},
		"encoding_format": {},
		"dimensions":      {Min: providers.Float(1)},
		"user":            {},
	}
}

// streamFrame is a chat chunk that may instead carry an error object.
type streamFrame struct {
	providers.StreamChunk
	Error json.RawMessage `json:"error,omitempty"`
}

// newStreamTransform re-serializes each chat chunk in canonical form and tags
// it with the provider name. Chunks that do not decode are reported as errors so the raw frame is
// forwarded; in-stream error objects are forwarded unchanged.
func newStreamTransform(name string) providers.StreamTransformFactory {
	return func(*providers.UnifiedRequest) providers.StreamTransform {
		return func(raw string) (string, error) {
			var frame streamFrame
			if err := json.Unmarshal([]byte(raw), &frame); err != nil {
				return "", err
			}
			if len(frame.Error) > 0 {
				return raw, nil
			}
			frame.StreamChunk.Provider = name
			return providers.MarshalChunk(&frame.StreamChunk)
		}
	}
}

// completionChunk is a text_completion stream chunk.
type completionChunk struct {
	ID       string             `json:"id"`
	Object   string             `json:"object"`
	Created  int64              `json:"created"`
	Model    string             `json:"model"`
	Provider string             `json:"provider,omitempty"`
	Choices  []completionChoice `json:"choices"`
	Usage    *providers.Usage   `json:"usage,omitempty"`
	Error    json.RawMessage    `json:"error,omitempty"`
}

type completionChoice struct {
	Index        int             `json:"index"`
	Text         string          `json:"text"`
	Logprobs     json.RawMessage `json:"logprobs,omitempty"`
	FinishReason *string         `json:"finish_reason"`
}

// newCompletionStreamTransform tags text completion chunks with the provider
// name. They keep the text_completion shape.
func newCompletionStreamTransform(name string) providers.StreamTransformFactory {
	return func(*providers.UnifiedRequest) providers.StreamTransform {
		return func(raw string) (string, error) {
			var chunk completionChunk
			if err := json.Unmarshal([]byte(raw), &chunk); err != nil {
				return "", err
			}
			if len(chunk.Error) > 0 {
				return raw, nil
			}
			chunk.Provider = name
			if chunk.Object == "" {
				chunk.Object = "text_completion"
			}
			if chunk.Choices == nil {
				chunk.Choices = []completionChoice{}
			}
			out, err := json.Marshal(&chunk)
			if err != nil {
				return "", err
			}
			return string(out), nil
		}
	}
}
