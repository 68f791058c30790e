// Package proxy adapts HTTP to the gateway.
//
// ParseRequest turns an OpenAI-compatible request plus the X-Conduit-*
// headers into a gateway.Request. WriteResponse and StreamResponse write the
// result back; StreamResponse emits server-sent events and flushes each
// frame. HandleError maps gateway and provider errors to OpenAI error
// bodies:
//
//	*RequestError, *providers.ValidationError   400 invalid_request_error
//	*providers.UnknownProviderError             400 unknown_provider
//	*ratelimit.ExceededError                    429 rate_limit_exceeded, Retry-After
//	*providers.TimeoutError                     504 gateway_timeout
//	*providers.TransportError                   502 provider_unreachable
//	anything else                               500 server_error
//
// Provider error responses are not errors at this layer. The gateway
// returns them as responses with the provider's status and body, and they
// pass through unchanged.
//
// # Request headers
//
//	X-Conduit-Provider             provider name (required)
//	Authorization: Bearer <key>    provider API key
//	X-Conduit-Base-Url             per-request base URL override
//	X-Conduit-Virtual-Key          key for virtual_key rate limits
//	X-Conduit-Cache                off, simple or semantic
//	X-Conduit-Cache-Force-Refresh  true skips the lookup but stores the result
//	X-Conduit-Cache-Max-Age        entry lifetime in seconds
//	X-Conduit-Metadata             JSON object of strings passed to hooks
//	X-Conduit-Forward-Headers      comma separated client headers to forward
//
// Responses carry X-Conduit-Cache-Status and X-Request-ID.
//
// Subpackages hold the handlers, the middleware and the error body types.
package proxy
