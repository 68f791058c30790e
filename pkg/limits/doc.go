// Package limits groups the request limiting components of the gateway.
//
// Rate limiting lives in the ratelimit sub-package: fixed-window counters
// keyed by a request attribute and kept in a storage.Store, so several
// gateway instances sharing a SQLite database share their windows.
package limits
