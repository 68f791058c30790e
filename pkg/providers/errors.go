package providers

import (
	"errors"
	"fmt"
	"time"
)

// ErrStreamDone is returned by a StreamTransform when the chunk it was given
// is the structural end of the stream. Any non-empty chunk returned alongside
// it is forwarded before the terminal sentinel.
var ErrStreamDone = errors.New("providers: stream complete")

// ProviderError represents a non-2xx response from an upstream provider,
// mapped into the unified error envelope.
type ProviderError struct {
	// Provider is the name of the provider that returned the error
	Provider string

	// StatusCode is the HTTP status code
	StatusCode int

	// Code and Type are the provider's own error code and type, if any
	Code string
	Type string

	// Message is the provider's error message
	Message string

	// RetryAfter is the upstream Retry-After hint, if provided
	RetryAfter time.Duration

	// Cause is the underlying error (if any)
	Cause error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider %q error (status %d, code %s): %s", e.Provider, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("provider %q error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// Unwrap returns the underlying error for error chain support.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// TransportError represents a failure to reach the provider at all:
// DNS, connection refused, TLS, or a connection reset before headers.
type TransportError struct {
	Provider string
	URL      string
	Cause    error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("provider %q unreachable at %s: %v", e.Provider, e.URL, e.Cause)
}

// Unwrap returns the underlying error for error chain support.
func (e *TransportError) Unwrap() error {
	return e.Cause
}

// TimeoutError represents an upstream call that exceeded its deadline.
type TimeoutError struct {
	// Provider is the name of the provider where the timeout occurred
	Provider string

	// Timeout is the configured timeout duration, zero when the deadline
	// came from the caller's context
	Timeout time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	if e.Timeout == 0 {
		return fmt.Sprintf("provider %q request deadline exceeded", e.Provider)
	}
	return fmt.Sprintf("provider %q request timeout after %s", e.Provider, e.Timeout)
}

// ParseError represents a 2xx response body that could not be translated.
type ParseError struct {
	// Provider is the name of the provider that returned the malformed response
	Provider string

	// RawResponse is the raw response body that failed to parse
	RawResponse string

	// Cause is the underlying parse error
	Cause error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("provider %q response parse error: %v", e.Provider, e.Cause)
}

// Unwrap returns the underlying error for error chain support.
func (e *ParseError) Unwrap() error {
	return e.Cause
}

// ValidationError represents a request that cannot be translated, such as a
// missing required field. It is raised before any network call.
type ValidationError struct {
	// Field is the name of the invalid field
	Field string

	// Message describes what is invalid about the field
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field %q: %s", e.Field, e.Message)
}

// ConfigError represents an invalid provider definition.
type ConfigError struct {
	// Provider is the name of the provider with invalid configuration
	Provider string

	// Field is the configuration field that is invalid
	Field string

	// Message describes the configuration error
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("provider %q configuration error for field %q: %s",
		e.Provider, e.Field, e.Message)
}

// UnknownProviderError is returned when no provider is registered under a name.
type UnknownProviderError struct {
	Provider string
}

// Error implements the error interface.
func (e *UnknownProviderError) Error() string {
	if e.Provider == "" {
		return "no provider specified"
	}
	return fmt.Sprintf("unknown provider %q", e.Provider)
}

// UnsupportedOperationError is returned when a provider has no configuration
// for an operation.
type UnsupportedOperationError struct {
	Provider  string
	Operation Operation
}

// Error implements the error interface.
func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("provider %q does not support operation %q", e.Provider, e.Operation)
}
