package gateway

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"

	"mercator-hq/conduit/pkg/cache"
	"mercator-hq/conduit/pkg/hooks"
	"mercator-hq/conduit/pkg/limits/ratelimit"
	"mercator-hq/conduit/pkg/providers"
)

// Request is one gateway call.
type Request struct {
	// ID correlates logs, spans and the response header.
	ID string

	Unified *providers.UnifiedRequest

	// RateLimits are evaluated before anything else. Rules with an empty
	// Key are resolved from their KeySource.
	RateLimits []ratelimit.Rule

	Cache cache.Options

	BeforeHooks []hooks.HookConfig
	AfterHooks  []hooks.HookConfig

	// Metadata is passed to hooks unchanged.
	Metadata map[string]string
}

// Response is the result of Execute. Exactly one of Body or Stream is set.
type Response struct {
	Status int
	Header http.Header
	Body   []byte

	CacheStatus cache.Status

	// Unified is the translated response. It is nil for cache hits,
	// rejections and streams.
	Unified *providers.UnifiedResponse

	// Rejected is the outcome of the hook event that rejected the request.
	Rejected *hooks.Outcome

	// Hooks holds the outcome of every hook event that ran.
	Hooks []*hooks.Outcome

	// ProviderError is set when the provider answered with a non-2xx status.
	ProviderError *providers.ProviderError

	Stream *Stream
}

// Key sources understood by resolveRules.
const (
	KeySourceGlobal     = "global"
	KeySourceAPIKey     = "api_key"
	KeySourceVirtualKey = "virtual_key"
	KeySourceProvider   = "provider"
	KeySourceModel      = "model"
)

// ValidKeySource reports whether s is a known key source. Empty means global.
func ValidKeySource(s string) bool {
	switch s {
	case "", KeySourceGlobal, KeySourceAPIKey, KeySourceVirtualKey, KeySourceProvider, KeySourceModel:
		return true
	}
	return false
}

// resolveRules fills in rule keys from their key source. A rule whose
// source has no value for this request does not apply and is dropped.
// API keys are hashed so credentials never reach the storage backend.
func resolveRules(rules []ratelimit.Rule, req *providers.UnifiedRequest) []ratelimit.Rule {
	if len(rules) == 0 {
		return nil
	}
	opts := req.Options()

	out := make([]ratelimit.Rule, 0, len(rules))
	for _, r := range rules {
		if r.Key != "" {
			out = append(out, r)
			continue
		}

		var value string
		switch r.KeySource {
		case "", KeySourceGlobal:
			value = "*"
		case KeySourceAPIKey:
			if opts.APIKey != "" {
				sum := sha256.Sum256([]byte(opts.APIKey))
				value = hex.EncodeToString(sum[:8])
			}
		case KeySourceVirtualKey:
			value = opts.VirtualKey
		case KeySourceProvider:
			value = opts.Provider
		case KeySourceModel:
			value = req.Model()
		}
		if value == "" {
			continue
		}
		r.Key = r.Name + ":" + value
		out = append(out, r)
	}
	return out
}
