// Package ratelimit provides a fixed-window rate limiter backed by a
// key-value store.
//
// # Overview
//
// Every check is keyed by an opaque string chosen by the caller (API key,
// organisation, model, or any composite of those). The limiter keeps a small
// persisted state per key:
//
//	{"consumed": 3, "windowStart": 1718000000000}
//
// # Fixed Window Algorithm
//
// For a window of size W the current window starts at floor(now/W)*W. When the
// persisted window start differs from the current one the counter is reset.
// A check is allowed when consumed+units <= capacity:
//
//	limiter := ratelimit.NewLimiter(store, nil)
//	res, err := limiter.Check(ctx, "org-1", ratelimit.Params{
//	    Capacity: 100,
//	    Window:   time.Minute,
//	    Consume:  true,
//	})
//	if err == nil && !res.Allowed {
//	    // Retry after res.WaitTime
//	}
//
// Consumption is recorded even when the check is denied, so sustained
// pressure keeps the key saturated until the window rolls over. The state is
// written back on every check, including peeks (Consume=false).
//
// # Degenerate Parameters
//
// A non-positive capacity, window or unit count never allows a request. The
// result carries -1 in WaitTime and AvailableTokens so callers can tell bad
// configuration apart from an exhausted window.
//
// # Thread Safety
//
// The read-modify-write of one key is linearizable. When the store implements
// storage.Updater the limiter delegates atomicity to it; otherwise it
// serializes checks through striped in-process mutexes. Checks on different
// keys do not contend.
package ratelimit
