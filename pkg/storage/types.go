package storage

import (
	"context"
	"errors"
)

var (
	// ErrEmptyKey is returned when an operation is given an empty key.
	ErrEmptyKey = errors.New("storage: key cannot be empty")

	// ErrClosed is returned when a backend is used after Close.
	ErrClosed = errors.New("storage: backend is closed")

	// ErrUnsupported is returned by wrappers when the underlying backend
	// does not provide an optional capability.
	ErrUnsupported = errors.New("storage: operation not supported by backend")
)

// Store is the key-value interface consumed by the cache and rate limiter.
// Implementations must be safe for concurrent use and consistent per key.
type Store interface {
	// Get returns the value stored under key. The boolean is false when the
	// key does not exist, in which case the returned slice is nil.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Put stores value under key, overwriting any previous value.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes key. The boolean reports whether the key existed.
	Delete(ctx context.Context, key string) (bool, error)

	// Close releases backend resources. The store must not be used afterwards.
	Close() error
}

// UpdateFunc computes the new value of a key from its current value.
// ok is false when the key does not exist. Returning an error aborts the
// update and leaves the stored value untouched.
type UpdateFunc func(old []byte, ok bool) ([]byte, error)

// Updater is implemented by backends that can perform an atomic
// read-modify-write on a single key. Concurrent Update calls on the same key
// are serialized; calls on different keys need not be.
type Updater interface {
	Update(ctx context.Context, key string, fn UpdateFunc) error
}

// Scanner is implemented by backends that can enumerate keys by prefix.
// fn is called once per matching entry; returning false stops the scan.
// fn may call Delete on the same backend.
type Scanner interface {
	Scan(ctx context.Context, prefix string, fn func(key string, value []byte) bool) error
}

// CanUpdate reports whether s supports atomic updates, looking through
// wrappers such as Prefixed.
func CanUpdate(s Store) bool {
	if p, ok := s.(*prefixedStore); ok {
		return CanUpdate(p.inner)
	}
	_, ok := s.(Updater)
	return ok
}

// CanScan reports whether s supports prefix scans, looking through wrappers.
func CanScan(s Store) bool {
	if p, ok := s.(*prefixedStore); ok {
		return CanScan(p.inner)
	}
	_, ok := s.(Scanner)
	return ok
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
