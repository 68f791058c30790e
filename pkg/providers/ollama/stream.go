package ollama

import (
	"encoding/json"

	"github.com/google/uuid"

	"mercator-hq/conduit/pkg/providers"
)

// newStreamTransform converts NDJSON lines from /api/chat and /api/generate
// into canonical chunks. The line with "done": true carries the finish
// reason and usage and ends the stream.
func newStreamTransform(req *providers.UnifiedRequest) providers.StreamTransform {
	id := "chatcmpl-" + uuid.NewString()
	sentRole := false

	return func(raw string) (string, error) {
		var line response
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			return "", err
		}

		if line.Error != "" {
			data, err := json.Marshal(map[string]any{
				"error": providers.ErrorEnvelope{Message: line.Error, Type: "provider_error"},
			})
			if err != nil {
				return "", err
			}
			return string(data), providers.ErrStreamDone
		}

		var delta providers.Delta
		if line.Message != nil {
			delta.Content = line.Message.Content
			delta.ToolCalls = line.Message.toolCalls()
		} else {
			delta.Content = line.Response
		}
		if !sentRole {
			delta.Role = providers.RoleAssistant
			sentRole = true
		}

		model := line.Model
		if model == "" {
			model = req.Model()
		}
		chunk := &providers.StreamChunk{
			ID:       id,
			Created:  line.created(),
			Model:    model,
			Provider: Name,
			Choices:  []providers.StreamChoice{{Index: 0, Delta: delta}},
		}

		if !line.Done {
			if delta.Content == "" && delta.Role == "" && len(delta.ToolCalls) == 0 {
				return "", nil
			}
			return providers.MarshalChunk(chunk)
		}

		chunk.Choices[0].FinishReason = providers.StringPtr(line.finishReason())
		chunk.Usage = line.usage()
		s, err := providers.MarshalChunk(chunk)
		if err != nil {
			return "", err
		}
		return s, providers.ErrStreamDone
	}
}
