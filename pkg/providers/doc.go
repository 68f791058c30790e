// Package providers implements the transform registry: declarative,
// per-provider mappings between the unified request schema and each
// provider's native API.
//
// # Overview
//
// A Provider is data, not code paths. It declares:
//
//  1. API - pure functions deriving the base URL, headers and endpoint
//  2. Configs - a ParameterConfig per unified parameter, per operation
//  3. ResponseTransforms - native response body to UnifiedResponse
//  4. StreamTransforms - per-stream factories mapping native frames to
//     canonical chunks
//  5. ErrorTransform - native error envelope to ErrorEnvelope
//
// The gateway never branches on a provider's name. Adding a provider means
// adding a definition to the Registry.
//
// # Building Requests
//
// BuildRequest resolves each configured parameter from the request, falls
// back to its Default, enforces Required and Min/Max, applies Transform and
// places the result at a dotted native path:
//
//	cfg := providers.ProviderConfig{
//	    "model":    {Param: "model", Required: true},
//	    "messages": {Param: "input.messages", Required: true},
//	    "top_p":    {Param: "parameters.top_p", Min: providers.Float(0), Max: providers.Float(1)},
//	}
//	body, err := providers.BuildRequest(cfg, req)
//
// Defaults and transforms are Values: a Literal or a Func naming a pure
// function registered with RegisterFunc during init.
//
// # Responses
//
// TransformResponse is total over HTTP status codes. A non-2xx status yields
// a UnifiedResponse carrying an ErrorEnvelope with the provider's message and
// code; only an untranslatable 2xx body is an error (*ParseError).
//
// # Streaming
//
// NewStreamTransform returns a fresh StreamTransform per stream, so
// providers whose wire format spreads one logical response over several
// events (an id in the first event, a stop reason in a later one) can carry
// state in the closure. A transform returns "" to drop a frame and
// ErrStreamDone to mark a structural end of stream.
//
// # Upstream Calls
//
// Client sends requests over a pooled transport and feeds a HealthTracker.
// It never retries.
package providers
