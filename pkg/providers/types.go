package providers

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Operation names a unified API operation.
type Operation string

const (
	OpChatComplete Operation = "chatComplete"
	OpComplete     Operation = "complete"
	OpEmbed        Operation = "embed"
	OpRerank       Operation = "rerank"
	OpCreateBatch  Operation = "createBatch"
	OpUploadFile   Operation = "uploadFile"
)

// StreamName returns the name under which the streaming variant of the
// operation is registered, for example "stream-chatComplete".
func (o Operation) StreamName() string {
	return "stream-" + string(o)
}

// UnifiedRequest is the provider-agnostic request handed to the transform
// registry. It is immutable once built: accessors return copies.
type UnifiedRequest struct {
	operation Operation
	params    map[string]any
	stream    bool
	options   ProviderOptions
}

// ProviderOptions selects and authenticates the upstream provider.
type ProviderOptions struct {
	// Provider is the registry name of the target provider.
	Provider string

	// APIKey is the credential forwarded to the provider.
	APIKey string

	// BaseURL overrides the provider's default base URL.
	BaseURL string

	// VirtualKey references a stored credential. It is opaque to the core.
	VirtualKey string

	// Headers are extra headers forwarded verbatim to the provider.
	Headers map[string]string
}

// NewUnifiedRequest builds a request from already-decoded parameters.
// params is deep-copied; the "stream" parameter, when boolean, sets Stream.
func NewUnifiedRequest(op Operation, params map[string]any, opts ProviderOptions) *UnifiedRequest {
	copied, _ := deepCopy(params).(map[string]any)
	if copied == nil {
		copied = make(map[string]any)
	}

	stream, _ := copied["stream"].(bool)

	headers := make(map[string]string, len(opts.Headers))
	for k, v := range opts.Headers {
		headers[k] = v
	}
	opts.Headers = headers

	return &UnifiedRequest{
		operation: op,
		params:    copied,
		stream:    stream,
		options:   opts,
	}
}

// ParseUnifiedRequest decodes a JSON request body.
func ParseUnifiedRequest(op Operation, body []byte, opts ProviderOptions) (*UnifiedRequest, error) {
	var params map[string]any
	if err := json.Unmarshal(body, &params); err != nil {
		return nil, &ValidationError{Field: "body", Message: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if params == nil {
		return nil, &ValidationError{Field: "body", Message: "must be a JSON object"}
	}
	return NewUnifiedRequest(op, params, opts), nil
}

// Operation returns the unified operation.
func (r *UnifiedRequest) Operation() Operation { return r.operation }

// Stream reports whether a streamed response was requested.
func (r *UnifiedRequest) Stream() bool { return r.stream }

// Options returns a copy of the provider options.
func (r *UnifiedRequest) Options() ProviderOptions {
	opts := r.options
	opts.Headers = make(map[string]string, len(r.options.Headers))
	for k, v := range r.options.Headers {
		opts.Headers[k] = v
	}
	return opts
}

// Param returns a copy of the named parameter. A JSON null counts as absent.
func (r *UnifiedRequest) Param(name string) (any, bool) {
	v, ok := r.params[name]
	if !ok || v == nil {
		return nil, false
	}
	return deepCopy(v), true
}

// Params returns a deep copy of all parameters.
func (r *UnifiedRequest) Params() map[string]any {
	out, _ := deepCopy(r.params).(map[string]any)
	return out
}

// Model returns the requested model, or "" when absent.
func (r *UnifiedRequest) Model() string {
	m, _ := r.params["model"].(string)
	return m
}

// CanonicalJSON returns a deterministic serialization of the request
// content, excluding credentials. It is the body half of the cache key.
func (r *UnifiedRequest) CanonicalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Operation Operation      `json:"operation"`
		Provider  string         `json:"provider"`
		Params    map[string]any `json:"params"`
	}{r.operation, r.options.Provider, r.params})
}

// Text returns the user-visible text of the request: message contents for
// chat, the prompt for completions and the input for embeddings.
func (r *UnifiedRequest) Text() string {
	var parts []string
	if msgs, ok := r.params["messages"].([]any); ok {
		for _, m := range msgs {
			if mm, ok := m.(map[string]any); ok {
				parts = appendText(parts, mm["content"])
			}
		}
	}
	parts = appendText(parts, r.params["prompt"])
	parts = appendText(parts, r.params["input"])
	return strings.Join(parts, "\n")
}

// appendText collects strings from a content value, which may be a string,
// a list of strings, or a list of {"type":"text","text":...} parts.
func appendText(parts []string, v any) []string {
	switch t := v.(type) {
	case string:
		if t != "" {
			parts = append(parts, t)
		}
	case []any:
		for _, item := range t {
			switch it := item.(type) {
			case string:
				parts = appendText(parts, it)
			case map[string]any:
				parts = appendText(parts, it["text"])
			}
		}
	}
	return parts
}

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Canonical finish reasons.
const (
	FinishReasonStop          = "stop"
	FinishReasonLength        = "length"
	FinishReasonToolCalls     = "tool_calls"
	FinishReasonContentFilter = "content_filter"
)

// Message represents a single message in a conversation.
type Message struct {
	// Role identifies the message sender (system, user, assistant, tool)
	Role string `json:"role"`

	// Content is the message text content
	Content string `json:"content"`

	// Name is an optional name for the message sender
	Name string `json:"name,omitempty"`

	// ToolCalls contains function/tool calls made by the assistant
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID is used when role is "tool" to reference which tool call this responds to
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// ToolCall represents a function/tool call request from the model.
type ToolCall struct {
	// Index orders tool call fragments inside a streamed delta.
	Index *int `json:"index,omitempty"`

	// ID is a unique identifier for this tool call
	ID string `json:"id,omitempty"`

	// Type is the type of tool call (currently always "function")
	Type string `json:"type,omitempty"`

	// Function contains the function name and arguments
	Function FunctionCall `json:"function"`
}

// FunctionCall represents a specific function invocation.
type FunctionCall struct {
	Name string `json:"name,omitempty"`

	// Arguments is a JSON string containing the function arguments
	Arguments string `json:"arguments"`
}

// Usage tracks token consumption for a request.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Choice is one completion alternative of a non-streaming response.
type Choice struct {
	Index        int      `json:"index"`
	Message      *Message `json:"message,omitempty"`
	Text         string   `json:"text,omitempty"`
	FinishReason *string  `json:"finish_reason"`
}

// Embedding is one vector of an embeddings response.
type Embedding struct {
	Object    string    `json:"object"`
	Index     int       `json:"index"`
	Embedding []float64 `json:"embedding"`
}

// ErrorEnvelope is the unified error body. Provider message and code are
// preserved for diagnostics.
type ErrorEnvelope struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
	Param   string `json:"param,omitempty"`
	Code    string `json:"code,omitempty"`
}

// UnifiedResponse is the provider-agnostic response. Its JSON form follows
// the OpenAI wire format.
type UnifiedResponse struct {
	ID       string         `json:"id,omitempty"`
	Object   string         `json:"object,omitempty"`
	Created  int64          `json:"created,omitempty"`
	Model    string         `json:"model,omitempty"`
	Provider string         `json:"provider,omitempty"`
	Choices  []Choice       `json:"choices,omitempty"`
	Data     []Embedding    `json:"data,omitempty"`
	Usage    *Usage         `json:"usage,omitempty"`
	Error    *ErrorEnvelope `json:"error,omitempty"`

	// StatusCode is the upstream HTTP status. It is not serialized.
	StatusCode int `json:"-"`
}

// Text returns the concatenated text of every choice.
func (r *UnifiedResponse) Text() string {
	var parts []string
	for _, c := range r.Choices {
		if c.Message != nil && c.Message.Content != "" {
			parts = append(parts, c.Message.Content)
		}
		if c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ToolCalls returns every tool call across choices.
func (r *UnifiedResponse) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, c := range r.Choices {
		if c.Message != nil {
			calls = append(calls, c.Message.ToolCalls...)
		}
	}
	return calls
}

// Err returns a *ProviderError when the response carries an error envelope.
func (r *UnifiedResponse) Err() error {
	if r.Error == nil {
		return nil
	}
	return &ProviderError{
		Provider:   r.Provider,
		StatusCode: r.StatusCode,
		Code:       r.Error.Code,
		Type:       r.Error.Type,
		Message:    r.Error.Message,
	}
}

// StreamChunk is one canonical streamed unit, serialized in the OpenAI
// chat.completion.chunk format.
type StreamChunk struct {
	ID       string         `json:"id"`
	Object   string         `json:"object"`
	Created  int64          `json:"created"`
	Model    string         `json:"model"`
	Provider string         `json:"provider,omitempty"`
	Choices  []StreamChoice `json:"choices"`
	Usage    *Usage         `json:"usage,omitempty"`
}

// StreamChoice is the per-choice delta of a chunk.
type StreamChoice struct {
	Index int   `json:"index"`
	Delta Delta `json:"delta"`

	// Text carries text completion output. Chat chunks leave it empty.
	Text string `json:"text,omitempty"`

	FinishReason *string `json:"finish_reason"`
}

// Delta holds the incremental content of a streamed choice.
type Delta struct {
	Role      string     `json:"role,omitempty"`
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ChunkObject is the object type of canonical stream chunks.
const ChunkObject = "chat.completion.chunk"

// MarshalChunk serializes c for the outbound stream.
func MarshalChunk(c *StreamChunk) (string, error) {
	if c.Object == "" {
		c.Object = ChunkObject
	}
	if c.Choices == nil {
		c.Choices = []StreamChoice{}
	}
	data, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeMessages converts the unified "messages" parameter into typed messages.
// String content and lists of text parts are both accepted.
func DecodeMessages(v any) ([]Message, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("messages must be an array")
	}

	out := make([]Message, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("messages[%d] must be an object", i)
		}

		msg := Message{}
		msg.Role, _ = m["role"].(string)
		msg.Name, _ = m["name"].(string)
		msg.ToolCallID, _ = m["tool_call_id"].(string)
		msg.Content = strings.Join(appendText(nil, m["content"]), "\n")

		if calls, ok := m["tool_calls"]; ok && calls != nil {
			raw, err := json.Marshal(calls)
			if err != nil {
				return nil, fmt.Errorf("messages[%d].tool_calls: %w", i, err)
			}
			if err := json.Unmarshal(raw, &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("messages[%d].tool_calls: %w", i, err)
			}
		}
		out = append(out, msg)
	}
	return out, nil
}

// StringPtr returns a pointer to s. It is a convenience for FinishReason.
func StringPtr(s string) *string {
	return &s
}

// deepCopy copies the JSON-shaped containers of v. Scalars are shared.
func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = deepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = deepCopy(val)
		}
		return out
	default:
		return v
	}
}

// sortedKeys returns the keys of m in ascending order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
