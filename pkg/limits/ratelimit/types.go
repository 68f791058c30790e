package ratelimit

import (
	"fmt"
	"time"
)

// DefaultUnits is the number of units consumed when Params.Units is zero.
const DefaultUnits int64 = 1

// Params describes a single rate limit check.
type Params struct {
	// Capacity is the number of units available per window.
	Capacity int64

	// Window is the length of one fixed window.
	Window time.Duration

	// Units is how many units this check consumes. Zero means DefaultUnits.
	Units int64

	// Consume records the units against the window. When false the check
	// only peeks at the current state.
	Consume bool
}

// Result contains the outcome of a rate limit check.
type Result struct {
	// Allowed indicates if the request is permitted.
	Allowed bool

	// WaitTime is the time remaining until the window ends when the request
	// is denied, zero when allowed, and -1 for degenerate parameters.
	WaitTime time.Duration

	// AvailableTokens is max(0, capacity-consumed) after this check,
	// or -1 for degenerate parameters.
	AvailableTokens int64
}

// degenerate is returned for parameters that can never admit a request.
var degenerate = Result{Allowed: false, WaitTime: -1, AvailableTokens: -1}

// state is the persisted per-key window.
type state struct {
	Consumed    int64 `json:"consumed"`
	WindowStart int64 `json:"windowStart"`
}

// Rule is a named limit applied to a request. The gateway resolves Key from
// KeySource before calling CheckRules.
type Rule struct {
	// Name identifies the rule in errors, logs and metrics.
	Name string `yaml:"name"`

	// KeySource names the request attribute the key is derived from
	// (for example "api_key", "virtual_key", "provider", "model").
	KeySource string `yaml:"key_source"`

	// Key is the resolved rate limit key.
	Key string `yaml:"-"`

	// Capacity is the number of units available per window.
	Capacity int64 `yaml:"capacity"`

	// Window is the length of one fixed window.
	Window time.Duration `yaml:"window"`

	// Units is consumed per request. Zero means DefaultUnits.
	Units int64 `yaml:"units"`
}

// Params converts the rule into check parameters that consume.
func (r Rule) Params() Params {
	return Params{
		Capacity: r.Capacity,
		Window:   r.Window,
		Units:    r.Units,
		Consume:  true,
	}
}

// ExceededError is returned when a request is denied by a rate limit rule.
type ExceededError struct {
	// Rule is the name of the first rule that denied the request.
	Rule string

	// Key is the rate limit key that was exhausted.
	Key string

	// WaitTime is how long until the window resets.
	WaitTime time.Duration

	// Capacity is the configured capacity of the rule.
	Capacity int64
}

// Error implements the error interface.
func (e *ExceededError) Error() string {
	if e.WaitTime < 0 {
		return fmt.Sprintf("rate limit %q misconfigured for key %q", e.Rule, e.Key)
	}
	return fmt.Sprintf("rate limit %q exceeded for key %q (capacity %d, retry after %v)",
		e.Rule, e.Key, e.Capacity, e.WaitTime)
}

// RetryAfterSeconds returns the wait time rounded up to whole seconds, as used
// by the Retry-After header. It is at least 1.
func (e *ExceededError) RetryAfterSeconds() int64 {
	if e.WaitTime <= 0 {
		return 1
	}
	secs := int64((e.WaitTime + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
