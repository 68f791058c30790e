package proxy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"mercator-hq/conduit/pkg/limits/ratelimit"
	"mercator-hq/conduit/pkg/providers"
	"mercator-hq/conduit/pkg/proxy/types"
)

// HandleError converts gateway errors to OpenAI-compatible error responses.
// Provider non-2xx answers are not errors at this layer; the gateway
// returns them as responses carrying the provider's status.
//
// Example usage:
//
//	if err != nil {
//	    WriteErrorResponse(w, err)
//	    return
//	}
func HandleError(err error) *types.ErrorResponse {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.ToErrorResponse()
	}

	var validationErr *providers.ValidationError
	if errors.As(err, &validationErr) {
		code := types.CodeInvalidValue
		if validationErr.Message == "field is required" {
			code = types.CodeMissingField
		}
		return types.NewInvalidRequestError(validationErr.Error(), validationErr.Field, code)
	}

	var unknownErr *providers.UnknownProviderError
	if errors.As(err, &unknownErr) {
		return types.NewInvalidRequestError(unknownErr.Error(), ProviderHeader, types.CodeUnknownProvider)
	}

	var unsupportedErr *providers.UnsupportedOperationError
	if errors.As(err, &unsupportedErr) {
		return types.NewInvalidRequestError(unsupportedErr.Error(), "", types.CodeUnsupportedOperation)
	}

	var exceededErr *ratelimit.ExceededError
	if errors.As(err, &exceededErr) {
		return types.NewErrorResponse(
			fmt.Sprintf("rate limit %q exceeded", exceededErr.Rule),
			types.ErrorTypeRateLimitExceeded,
			"",
			types.CodeRateLimited,
		)
	}

	var timeoutErr *providers.TimeoutError
	if errors.As(err, &timeoutErr) || errors.Is(err, context.DeadlineExceeded) {
		return types.NewGatewayTimeoutError("provider request timed out")
	}

	var transportErr *providers.TransportError
	if errors.As(err, &transportErr) {
		return types.NewBadGatewayError(
			fmt.Sprintf("provider %q is unreachable", transportErr.Provider),
			types.CodeProviderUnreachable,
		)
	}

	var parseErr *providers.ParseError
	if errors.As(err, &parseErr) {
		return types.NewBadGatewayError(
			fmt.Sprintf("failed to parse response from provider %q", parseErr.Provider),
			types.CodeProviderError,
		)
	}

	return types.NewServerError("An internal error occurred. Please try again later.")
}

// RetryAfter returns the Retry-After value in whole seconds for errors that
// carry a wait time.
func RetryAfter(err error) (int, bool) {
	var exceededErr *ratelimit.ExceededError
	if !errors.As(err, &exceededErr) || exceededErr.WaitTime <= 0 {
		return 0, false
	}
	return int(math.Ceil(float64(exceededErr.WaitTime) / float64(time.Second))), true
}
