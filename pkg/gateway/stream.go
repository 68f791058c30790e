package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/conduit/pkg/hooks"
	"mercator-hq/conduit/pkg/providers"
	"mercator-hq/conduit/pkg/streaming"
	"mercator-hq/conduit/pkg/telemetry/tracing"
)

// Stream is an upstream response still to be delivered. Pipe or Close must
// be called exactly once.
type Stream struct {
	gateway  *Gateway
	provider *providers.Provider
	req      *Request
	hc       *hooks.Context
	body     io.ReadCloser
	logger   *slog.Logger

	span  trace.Span
	start time.Time

	once sync.Once

	// Outcome is the after-request hook outcome, set by Pipe.
	Outcome *hooks.Outcome
}

// Pipe normalizes the upstream stream into w and then runs the
// after-request hooks on the accumulated content. Chunks already written
// cannot be recalled, so a rejection at that point is logged and counted
// but not reported to the client.
func (s *Stream) Pipe(ctx context.Context, w streaming.FrameWriter) (streaming.Summary, error) {
	var (
		summary streaming.Summary
		err     error
		ran     bool
	)
	s.once.Do(func() {
		ran = true
		summary, err = s.pipe(ctx, w)
	})
	if !ran {
		return summary, errors.New("gateway: stream already consumed")
	}
	return summary, err
}

func (s *Stream) pipe(ctx context.Context, w streaming.FrameWriter) (streaming.Summary, error) {
	defer s.body.Close()
	g := s.gateway
	name := s.provider.Name
	unified := s.req.Unified

	n := &streaming.Normalizer{
		Provider:  name,
		Format:    s.provider.Format(),
		Transform: s.provider.NewStreamTransform(unified),
		Logger:    s.logger,
	}
	summary, err := n.Run(ctx, s.body, w)

	var aborted *streaming.StreamAbortedError
	g.metrics.RecordStream(name, summary.Chunks, summary.Malformed, errors.As(err, &aborted))
	if summary.Usage != nil {
		g.metrics.RecordTokens(name, summary.Model, summary.Usage.PromptTokens, summary.Usage.CompletionTokens)
	}

	if err == nil && len(s.req.AfterHooks) > 0 {
		hc := *s.hc
		hc.ResponseText = summary.Content
		hc.ToolCalls = summary.ToolCalls
		hc.StatusCode = 200
		if summary.Model != "" {
			hc.Model = summary.Model
		}
		s.Outcome = g.runHooks(ctx, hooks.EventAfterRequest, s.req.AfterHooks, &hc)
		if s.Outcome != nil && !s.Outcome.Verdict {
			s.logger.Warn("after-request hooks rejected a stream that was already delivered",
				"hook", s.Outcome.Rejection.ID,
				"chunks", summary.Chunks)
		}
	}

	status := "200"
	switch {
	case aborted != nil:
		status = "stream_aborted"
	case err != nil:
		status = "client_closed"
	}
	g.metrics.RecordRequest(unified.Options().Provider, string(unified.Operation()), unified.Model(), status, time.Since(s.start))

	if s.span != nil {
		s.span.SetAttributes(attribute.Int(tracing.AttrStreamChunks, summary.Chunks))
		if summary.Usage != nil {
			tracing.SetTokenAttributes(s.span, summary.Usage.PromptTokens, summary.Usage.CompletionTokens)
		}
		tracing.SetStatus(s.span, err)
		s.span.End()
	}

	s.logger.Info("stream completed",
		"chunks", summary.Chunks,
		"malformed", summary.Malformed,
		"finish_reason", summary.FinishReason,
		"status", status,
		"duration_ms", time.Since(s.start).Milliseconds())
	return summary, err
}

// Close releases the upstream body without delivering it.
func (s *Stream) Close() error {
	var err error
	s.once.Do(func() {
		err = s.body.Close()
		if s.span != nil {
			s.span.SetAttributes(attribute.Bool("conduit.stream.discarded", true))
			s.span.End()
		}
	})
	return err
}
