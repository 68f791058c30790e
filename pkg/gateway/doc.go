// Package gateway executes one unified request against one selected
// provider.
//
// Execute runs the stages in a fixed order:
//
//	rate limit → cache lookup → before-request hooks → translate and call
//	→ translate response → after-request hooks → cache write
//
// A cache HIT returns before the hooks run, because only responses that
// passed their after-request hooks are ever written. A rejection by a hook
// produces a 446 response carrying the hook results. A non-2xx provider
// status produces a response carrying the unified error envelope with the
// upstream status. Execute returns an error only when no response can be
// produced at all: validation failures, rate limit denials, unknown
// providers or operations, and transport failures.
//
// Streamed requests return a Response whose Stream must be piped to the
// client. Streams are never cached, and their after-request hooks run on
// the accumulated content once the stream has ended.
package gateway
