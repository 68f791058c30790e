package anthropic

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mercator-hq/conduit/pkg/providers"
)

// streamEvent represents an event in Anthropic's SSE stream.
type streamEvent struct {
	Type string `json:"type"`

	// For message_start event
	Message *messageResponse `json:"message,omitempty"`

	// For content_block_start and content_block_delta events
	Index        int           `json:"index"`
	ContentBlock *contentBlock `json:"content_block,omitempty"`

	// For content_block_delta and message_delta events
	Delta *struct {
		Type        string `json:"type"`
		Text        string `json:"text,omitempty"`
		PartialJSON string `json:"partial_json,omitempty"`
		StopReason  string `json:"stop_reason,omitempty"`
	} `json:"delta,omitempty"`

	// For message_delta event
	Usage *usage `json:"usage,omitempty"`

	// For error event
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// streamState tracks state across stream events.
type streamState struct {
	id          string
	model       string
	created     int64
	inputTokens int

	// toolIndex maps content block indexes to tool call indexes.
	toolIndex map[int]int
}

func newStreamTransform(req *providers.UnifiedRequest) providers.StreamTransform {
	state := &streamState{
		id:        "msg_" + uuid.NewString(),
		model:     req.Model(),
		created:   time.Now().Unix(),
		toolIndex: make(map[int]int),
	}
	return state.transform
}

func (s *streamState) chunk(delta providers.Delta) *providers.StreamChunk {
	return &providers.StreamChunk{
		ID:       s.id,
		Object:   providers.ChunkObject,
		Created:  s.created,
		Model:    s.model,
		Provider: Name,
		Choices:  []providers.StreamChoice{{Index: 0, Delta: delta}},
	}
}

func (s *streamState) transform(raw string) (string, error) {
	var event streamEvent
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return "", err
	}

	switch event.Type {
	case "message_start":
		if event.Message != nil {
			if event.Message.ID != "" {
				s.id = event.Message.ID
			}
			if event.Message.Model != "" {
				s.model = event.Message.Model
			}
			s.inputTokens = event.Message.Usage.InputTokens
		}
		return providers.MarshalChunk(s.chunk(providers.Delta{Role: providers.RoleAssistant}))

	case "content_block_start":
		if event.ContentBlock == nil || event.ContentBlock.Type != "tool_use" {
			return "", nil
		}
		idx := len(s.toolIndex)
		s.toolIndex[event.Index] = idx
		return providers.MarshalChunk(s.chunk(providers.Delta{ToolCalls: []providers.ToolCall{{
			Index: &idx,
			ID:    event.ContentBlock.ID,
			Type:  "function",
			Function: providers.FunctionCall{
				Name: event.ContentBlock.Name,
			},
		}}}))

	case "content_block_delta":
		if event.Delta == nil {
			return "", nil
		}
		switch event.Delta.Type {
		case "text_delta":
			if event.Delta.Text == "" {
				return "", nil
			}
			return providers.MarshalChunk(s.chunk(providers.Delta{Content: event.Delta.Text}))
		case "input_json_delta":
			idx, ok := s.toolIndex[event.Index]
			if !ok {
				return "", fmt.Errorf("input_json_delta for unknown block %d", event.Index)
			}
			return providers.MarshalChunk(s.chunk(providers.Delta{ToolCalls: []providers.ToolCall{{
				Index:    &idx,
				Function: providers.FunctionCall{Arguments: event.Delta.PartialJSON},
			}}}))
		default:
			// thinking and signature deltas have no canonical form
			return "", nil
		}

	case "message_delta":
		c := s.chunk(providers.Delta{})
		if event.Delta != nil && event.Delta.StopReason != "" {
			c.Choices[0].FinishReason = providers.StringPtr(normalizeStopReason(event.Delta.StopReason))
		}
		if event.Usage != nil {
			c.Usage = &providers.Usage{
				PromptTokens:     s.inputTokens,
				CompletionTokens: event.Usage.OutputTokens,
				TotalTokens:      s.inputTokens + event.Usage.OutputTokens,
			}
		}
		return providers.MarshalChunk(c)

	case "message_stop":
		return "", providers.ErrStreamDone

	case "error":
		if event.Error == nil {
			return "", fmt.Errorf("error event without payload")
		}
		data, err := json.Marshal(map[string]any{
			"error": providers.ErrorEnvelope{
				Message: event.Error.Message,
				Type:    event.Error.Type,
				Code:    event.Error.Type,
			},
		})
		if err != nil {
			return "", err
		}
		return string(data), providers.ErrStreamDone

	default:
		// ping, content_block_stop and event types added later
		return "", nil
	}
}
