package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"mercator-hq/conduit/pkg/providers"
)

// StreamAbortedError is returned when the upstream stream fails mid-way.
// The client has received an error frame and the sentinel.
type StreamAbortedError struct {
	Provider string

	// Chunks is the number of chunks written before the failure.
	Chunks int

	Cause error
}

// Error implements the error interface.
func (e *StreamAbortedError) Error() string {
	return fmt.Sprintf("stream from %s aborted after %d chunks: %v", e.Provider, e.Chunks, e.Cause)
}

// Unwrap returns the underlying error.
func (e *StreamAbortedError) Unwrap() error {
	return e.Cause
}

// WriteError is returned when the downstream writer fails, usually because
// the client disconnected.
type WriteError struct {
	Cause error
}

// Error implements the error interface.
func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to write stream frame: %v", e.Cause)
}

// Unwrap returns the underlying error.
func (e *WriteError) Unwrap() error {
	return e.Cause
}

// Summary accumulates what a stream carried. After-hooks evaluate it once
// the stream has finished.
type Summary struct {
	// Chunks counts frames written, excluding the sentinel.
	Chunks int

	// Dropped counts frames the transform discarded.
	Dropped int

	// Malformed counts frames the transform failed on and that were
	// forwarded raw.
	Malformed int

	ID           string
	Model        string
	Content      string
	FinishReason string
	ToolCalls    []providers.ToolCall
	Usage        *providers.Usage

	// Error is set when the provider sent an in-stream error object.
	Error *providers.ErrorEnvelope
}

// Normalizer turns one upstream stream into canonical frames.
type Normalizer struct {
	// Provider names the upstream in logs and errors.
	Provider string

	// Format selects SSE or NDJSON framing of the upstream.
	Format providers.StreamFormat

	// Transform converts each upstream payload. Nil passes payloads through.
	Transform providers.StreamTransform

	Logger *slog.Logger
}

// Run copies upstream to w until the stream ends, and returns what it saw.
//
// Frames are transformed and written one at a time in upstream order.
// The sentinel is written exactly once. A cancelled context stops emission
// immediately and returns the context's error.
func (n *Normalizer) Run(ctx context.Context, upstream io.Reader, w FrameWriter) (Summary, error) {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "streaming", "provider", n.Provider)

	transform := n.Transform
	if transform == nil {
		transform = func(raw string) (string, error) { return raw, nil }
	}

	s := &run{w: w}
	scanner := NewFrameScanner(upstream, n.Format)

	for {
		if err := ctx.Err(); err != nil {
			return s.summary, err
		}

		frame, err := scanner.Next()
		if errors.Is(err, io.EOF) {
			logger.Debug("upstream closed without sentinel", "chunks", s.summary.Chunks)
			return s.summary, s.done()
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return s.summary, ctxErr
			}
			logger.Warn("upstream stream failed", "chunks", s.summary.Chunks, "error", err)
			aborted := &StreamAbortedError{Provider: n.Provider, Chunks: s.summary.Chunks, Cause: err}
			s.abort(aborted)
			return s.summary, aborted
		}

		data := strings.TrimSpace(frame.Data)
		if data == "" {
			s.summary.Dropped++
			continue
		}
		if data == string(Done) {
			return s.summary, s.done()
		}

		out, terr := transform(data)
		switch {
		case errors.Is(terr, providers.ErrStreamDone):
			if out != "" {
				if err := s.emit(out); err != nil {
					return s.summary, err
				}
			}
			return s.summary, s.done()

		case terr != nil:
			logger.Warn("stream transform failed, forwarding raw frame",
				"error", terr,
				"frame", truncate(data, 256),
			)
			s.summary.Malformed++
			out = data

		case out == "":
			s.summary.Dropped++
			continue
		}

		if err := s.emit(out); err != nil {
			return s.summary, err
		}
	}
}

// run holds the state of one Run call.
type run struct {
	w       FrameWriter
	summary Summary
}

func (r *run) emit(payload string) error {
	if err := r.w.WriteFrame([]byte(payload)); err != nil {
		return &WriteError{Cause: err}
	}
	r.summary.Chunks++
	r.accumulate(payload)
	return nil
}

func (r *run) done() error {
	if err := r.w.WriteFrame(Done); err != nil {
		return &WriteError{Cause: err}
	}
	return nil
}

// abort closes the stream with an error frame. Write errors are ignored
// since the abort is already being reported.
func (r *run) abort(err *StreamAbortedError) {
	frame, _ := json.Marshal(map[string]any{
		"error": providers.ErrorEnvelope{
			Message: err.Error(),
			Type:    "stream_error",
			Code:    "stream_aborted",
		},
	})
	if r.w.WriteFrame(frame) == nil {
		_ = r.w.WriteFrame(Done)
	}
}

// accumulate folds a written chunk into the summary. Payloads that are not
// canonical chunks, such as raw forwarded frames, are skipped.
func (r *run) accumulate(payload string) {
	var probe struct {
		providers.StreamChunk
		Error *providers.ErrorEnvelope `json:"error"`
	}
	if err := json.Unmarshal([]byte(payload), &probe); err != nil {
		return
	}
	if probe.Error != nil {
		r.summary.Error = probe.Error
		return
	}

	c := probe.StreamChunk
	if c.ID != "" {
		r.summary.ID = c.ID
	}
	if c.Model != "" {
		r.summary.Model = c.Model
	}
	if c.Usage != nil {
		u := *c.Usage
		r.summary.Usage = &u
	}

	var content strings.Builder
	content.WriteString(r.summary.Content)
	for _, choice := range c.Choices {
		if choice.Index != 0 {
			continue
		}
		content.WriteString(choice.Delta.Content)
		content.WriteString(choice.Text)
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			r.summary.FinishReason = *choice.FinishReason
		}
		for _, call := range choice.Delta.ToolCalls {
			r.mergeToolCall(call)
		}
	}
	r.summary.Content = content.String()
}

// mergeToolCall appends argument fragments to the call with the same index.
func (r *run) mergeToolCall(call providers.ToolCall) {
	idx := len(r.summary.ToolCalls)
	if call.Index != nil && *call.Index >= 0 && *call.Index <= idx {
		idx = *call.Index
	}
	if idx == len(r.summary.ToolCalls) {
		r.summary.ToolCalls = append(r.summary.ToolCalls, providers.ToolCall{Type: "function"})
	}

	dst := &r.summary.ToolCalls[idx]
	if call.ID != "" {
		dst.ID = call.ID
	}
	if call.Type != "" {
		dst.Type = call.Type
	}
	if call.Function.Name != "" {
		dst.Function.Name = call.Function.Name
	}
	dst.Function.Arguments += call.Function.Arguments
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
