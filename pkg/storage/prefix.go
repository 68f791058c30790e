package storage

import (
	"context"
	"strings"
)

// prefixedStore namespaces every key of an underlying store.
type prefixedStore struct {
	inner  Store
	prefix string
}

// Prefixed returns a Store that prepends prefix to every key before
// delegating to inner. It exposes Update and Scan when inner does
// (see CanUpdate and CanScan). Closing the returned store is a no-op so
// several namespaces can share one backend.
func Prefixed(inner Store, prefix string) Store {
	return &prefixedStore{inner: inner, prefix: prefix}
}

func (p *prefixedStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, ErrEmptyKey
	}
	return p.inner.Get(ctx, p.prefix+key)
}

func (p *prefixedStore) Put(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return ErrEmptyKey
	}
	return p.inner.Put(ctx, p.prefix+key, value)
}

func (p *prefixedStore) Delete(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	return p.inner.Delete(ctx, p.prefix+key)
}

func (p *prefixedStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	if key == "" {
		return ErrEmptyKey
	}
	u, ok := p.inner.(Updater)
	if !ok {
		return ErrUnsupported
	}
	return u.Update(ctx, p.prefix+key, fn)
}

func (p *prefixedStore) Scan(ctx context.Context, prefix string, fn func(key string, value []byte) bool) error {
	s, ok := p.inner.(Scanner)
	if !ok {
		return ErrUnsupported
	}
	return s.Scan(ctx, p.prefix+prefix, func(key string, value []byte) bool {
		return fn(strings.TrimPrefix(key, p.prefix), value)
	})
}

func (p *prefixedStore) Close() error {
	return nil
}
