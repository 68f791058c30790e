// Package middleware provides the HTTP middleware of the gateway server.
//
// The server chains them outermost first:
//
//	Recovery -> RequestID -> Tracing -> Logging -> CORS -> router
//
// RequestIDMiddleware stores the ID with logging.WithRequestID, so any
// logger built with logging.FromContext carries it.
//
// No per-request timeout middleware is installed: streaming responses may
// legitimately run for minutes, and upstream header timeouts are enforced
// by the provider client instead.
package middleware
