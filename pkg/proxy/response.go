package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"mercator-hq/conduit/pkg/gateway"
	"mercator-hq/conduit/pkg/streaming"
)

// WriteJSONResponse writes data as JSON with the given status.
func WriteJSONResponse(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		return fmt.Errorf("failed to encode JSON response: %w", err)
	}
	return nil
}

// WriteErrorResponse writes err in OpenAI error format. Rate limit errors
// also carry Retry-After.
func WriteErrorResponse(w http.ResponseWriter, err error) error {
	errResp := HandleError(err)
	if secs, ok := RetryAfter(err); ok {
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	return WriteJSONResponse(w, errResp.Error.HTTPStatusCode(), errResp)
}

// WriteResponse writes a buffered gateway response.
func WriteResponse(w http.ResponseWriter, resp *gateway.Response) error {
	for k, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(k, v)
		}
	}
	if resp.CacheStatus != "" {
		w.Header().Set(CacheStatusHeader, string(resp.CacheStatus))
	}
	w.WriteHeader(resp.Status)

	if _, err := w.Write(resp.Body); err != nil {
		return fmt.Errorf("failed to write response body: %w", err)
	}
	return nil
}

// StreamResponse delivers a streaming gateway response as server-sent
// events. Once the status line is written failures can only be reported
// in-band, which the normalizer does with an error frame, so the returned
// error is for logging.
func StreamResponse(ctx context.Context, w http.ResponseWriter, resp *gateway.Response, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	streaming.SetHeaders(w.Header())
	if resp.CacheStatus != "" {
		w.Header().Set(CacheStatusHeader, string(resp.CacheStatus))
	}
	w.WriteHeader(http.StatusOK)

	summary, err := resp.Stream.Pipe(ctx, streaming.NewSSEWriter(w))
	if err != nil {
		var writeErr *streaming.WriteError
		if errors.As(err, &writeErr) || errors.Is(err, context.Canceled) {
			logger.DebugContext(ctx, "client disconnected during stream", "chunks", summary.Chunks)
			return err
		}
		logger.WarnContext(ctx, "stream ended with error", "error", err, "chunks", summary.Chunks)
		return err
	}

	logger.DebugContext(ctx, "stream completed",
		"chunks", summary.Chunks,
		"malformed", summary.Malformed,
		"finish_reason", summary.FinishReason,
	)
	return nil
}
