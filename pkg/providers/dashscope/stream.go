package dashscope

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"mercator-hq/conduit/pkg/providers"
)

// newStreamTransform converts generation events into canonical chunks. The
// first content chunk carries the assistant role. The event whose
// finish_reason is no longer "null" ends the stream.
func newStreamTransform(req *providers.UnifiedRequest) providers.StreamTransform {
	id := "chatcmpl-" + uuid.NewString()
	model := requestedModel(req)
	created := time.Now().Unix()
	sentRole := false

	return func(raw string) (string, error) {
		var event generationResponse
		if err := json.Unmarshal([]byte(raw), &event); err != nil {
			return "", err
		}

		if event.Code != "" && len(event.Output.Choices) == 0 {
			data, err := json.Marshal(map[string]any{
				"error": providers.ErrorEnvelope{
					Message: event.Message,
					Type:    "provider_error",
					Code:    event.Code,
				},
			})
			if err != nil {
				return "", err
			}
			return string(data), providers.ErrStreamDone
		}

		if event.RequestID != "" {
			id = event.RequestID
		}

		chunk := &providers.StreamChunk{
			ID:       id,
			Created:  created,
			Model:    model,
			Provider: Name,
		}

		finish := ""
		var delta providers.Delta
		if len(event.Output.Choices) > 0 {
			c := event.Output.Choices[0]
			finish = normalizeFinishReason(c.FinishReason)
			delta.Content = c.Message.Content
			delta.ToolCalls = c.Message.ToolCalls
		} else {
			finish = normalizeFinishReason(event.Output.FinishReason)
			delta.Content = event.Output.Text
		}
		if !sentRole {
			delta.Role = providers.RoleAssistant
			sentRole = true
		}

		sc := providers.StreamChoice{Index: 0, Delta: delta}
		if finish == "" {
			if delta.Content == "" && delta.Role == "" && len(delta.ToolCalls) == 0 {
				return "", nil
			}
			chunk.Choices = []providers.StreamChoice{sc}
			return providers.MarshalChunk(chunk)
		}

		sc.FinishReason = providers.StringPtr(finish)
		chunk.Choices = []providers.StreamChoice{sc}
		chunk.Usage = event.Usage.unified()
		s, err := providers.MarshalChunk(chunk)
		if err != nil {
			return "", err
		}
		return s, providers.ErrStreamDone
	}
}
