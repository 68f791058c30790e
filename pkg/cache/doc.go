// Package cache implements the gateway's exact-match response cache.
//
// Entries are keyed by Key(body, url), a SHA-256 digest of the serialized
// unified request and the upstream URL, and hold the serialized response body
// together with an absolute expiry. Expired entries are removed lazily on
// lookup; Sweep removes them proactively and is driven by an external
// scheduler.
//
// Backend failures never fail a request: a failed lookup is reported as a
// MISS and a failed write is dropped, both with a log line.
package cache
