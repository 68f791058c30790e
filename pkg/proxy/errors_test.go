package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mercator-hq/conduit/pkg/limits/ratelimit"
	"mercator-hq/conduit/pkg/providers"
	"mercator-hq/conduit/pkg/proxy/types"
)

func TestHandleError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantParam  string
	}{
		{
			name:       "request error",
			err:        &RequestError{Message: "bad", Code: types.CodeInvalidJSON, Param: "body"},
			wantStatus: http.StatusBadRequest,
			wantCode:   types.CodeInvalidJSON,
			wantParam:  "body",
		},
		{
			name:       "missing field",
			err:        &providers.ValidationError{Field: "messages", Message: "field is required"},
			wantStatus: http.StatusBadRequest,
			wantCode:   types.CodeMissingField,
			wantParam:  "messages",
		},
		{
			name:       "out of range",
			err:        &providers.ValidationError{Field: "temperature", Message: "must be <= 2"},
			wantStatus: http.StatusBadRequest,
			wantCode:   types.CodeInvalidValue,
			wantParam:  "temperature",
		},
		{
			name:       "unknown provider",
			err:        &providers.UnknownProviderError{Provider: "nope"},
			wantStatus: http.StatusBadRequest,
			wantCode:   types.CodeUnknownProvider,
			wantParam:  ProviderHeader,
		},
		{
			name:       "unsupported operation",
			err:        &providers.UnsupportedOperationError{Provider: "anthropic", Operation: providers.OpEmbed},
			wantStatus: http.StatusBadRequest,
			wantCode:   types.CodeUnsupportedOperation,
		},
		{
			name:       "rate limited",
			err:        &ratelimit.ExceededError{Rule: "per-key", WaitTime: 1500 * time.Millisecond},
			wantStatus: http.StatusTooManyRequests,
			wantCode:   types.CodeRateLimited,
		},
		{
			name:       "provider timeout",
			err:        &providers.TimeoutError{Provider: "openai"},
			wantStatus: http.StatusGatewayTimeout,
			wantCode:   types.CodeProviderTimeout,
		},
		{
			name:       "deadline exceeded",
			err:        fmt.Errorf("call: %w", context.DeadlineExceeded),
			wantStatus: http.StatusGatewayTimeout,
			wantCode:   types.CodeProviderTimeout,
		},
		{
			name:       "transport",
			err:        &providers.TransportError{Provider: "openai", Cause: errors.New("refused")},
			wantStatus: http.StatusBadGateway,
			wantCode:   types.CodeProviderUnreachable,
		},
		{
			name:       "parse",
			err:        &providers.ParseError{Provider: "openai"},
			wantStatus: http.StatusBadGateway,
			wantCode:   types.CodeProviderError,
		},
		{
			name:       "unknown error",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   types.CodeInternalError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := HandleError(tt.err)
			if got := resp.Error.HTTPStatusCode(); got != tt.wantStatus {
				t.Errorf("status = %d, want %d", got, tt.wantStatus)
			}
			if resp.Error.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", resp.Error.Code, tt.wantCode)
			}
			if resp.Error.Param != tt.wantParam {
				t.Errorf("param = %q, want %q", resp.Error.Param, tt.wantParam)
			}
		})
	}
}

func TestWriteErrorResponse_RetryAfter(t *testing.T) {
	w := httptest.NewRecorder()
	err := &ratelimit.ExceededError{Rule: "global", WaitTime: 1500 * time.Millisecond}
	if writeErr := WriteErrorResponse(w, err); writeErr != nil {
		t.Fatal(writeErr)
	}

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "2" {
		t.Errorf("Retry-After = %q, want 2", got)
	}

	w = httptest.NewRecorder()
	_ = WriteErrorResponse(w, errors.New("boom"))
	if w.Header().Get("Retry-After") != "" {
		t.Error("Retry-After set for a non rate limit error")
	}
}
