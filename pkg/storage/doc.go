// Package storage provides the key-value persistence used by the response
// cache and the rate limiter.
//
// # Overview
//
// The core never talks to a database directly. It consumes the Store
// interface, which is deliberately small:
//
//   - Get: read a value, reporting whether the key exists
//   - Put: create or overwrite a value
//   - Delete: remove a value, reporting whether it existed
//
// Two optional capabilities widen what a backend can offer:
//
//   - Updater: atomic read-modify-write of a single key, used by the rate
//     limiter to keep per-key counters linearizable
//   - Scanner: iteration over a key prefix, used by the cache sweeper
//
// # Backends
//
//   - Memory: in-process map guarded by a RWMutex (default)
//   - SQLite: file-backed store using either the pure-Go modernc.org/sqlite
//     driver ("sqlite") or the cgo github.com/mattn/go-sqlite3 driver ("sqlite3")
//
// # Usage
//
//	store := storage.NewMemoryStore()
//	limiterStore := storage.Prefixed(store, "ratelimit:")
//	cacheStore := storage.Prefixed(store, "cache:")
//
// # Thread Safety
//
// All backends are safe for concurrent use. Values passed to and returned
// from a backend are copied, so callers may retain or mutate them freely.
package storage
