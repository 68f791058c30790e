package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// MemoryStore implements Store, Updater and Scanner in process memory.
// This is the default backend and provides fast access with no persistence.
// All data is lost when the process exits.
//
// MemoryStore is thread-safe and supports concurrent access using sync.RWMutex.
// Update holds the write lock for the duration of the update function, which
// makes every read-modify-write linearizable.
//
// Entries are kept in write order: reads use Peek, so only Put and Update
// move a key to the newest end and eviction removes the least recently
// written key in constant time.
type MemoryStore struct {
	// entries holds the stored values in write order.
	entries *lru.Cache[string, []byte]

	// mu serializes Update against other writes and guards closed.
	mu sync.RWMutex

	closed bool
}

// MemoryStoreConfig configures the memory backend.
type MemoryStoreConfig struct {
	// MaxEntries is the maximum number of entries to store.
	// The least recently written entry is evicted when this limit is reached.
	// Default: 100,000
	MaxEntries int
}

// NewMemoryStore creates a new in-memory store with default settings.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithConfig(MemoryStoreConfig{})
}

// NewMemoryStoreWithConfig creates a new in-memory store with custom configuration.
func NewMemoryStoreWithConfig(cfg MemoryStoreConfig) *MemoryStore {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 100000
	}

	return &MemoryStore{
		entries: newEntries(cfg.MaxEntries),
	}
}

func newEntries(size int) *lru.Cache[string, []byte] {
	// lru.New only fails for a non-positive size.
	entries, err := lru.New[string, []byte](size)
	if err != nil {
		panic(err)
	}
	return entries
}

// Get returns the value stored under key.
func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, ErrEmptyKey
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, false, ErrClosed
	}

	value, exists := m.entries.Peek(key)
	if !exists {
		return nil, false, nil
	}

	return clone(value), true, nil
}

// Put stores value under key.
func (m *MemoryStore) Put(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return ErrEmptyKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	m.putLocked(key, value)
	return nil
}

// Delete removes key and reports whether it existed.
func (m *MemoryStore) Delete(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false, ErrClosed
	}

	return m.entries.Remove(key), nil
}

// Update atomically replaces the value of key with the result of fn.
func (m *MemoryStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	if key == "" {
		return ErrEmptyKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	var old []byte
	value, exists := m.entries.Peek(key)
	if exists {
		old = clone(value)
	}

	next, err := fn(old, exists)
	if err != nil {
		return err
	}

	m.putLocked(key, next)
	return nil
}

// Scan calls fn for every entry whose key starts with prefix, in key order.
// The entries are snapshotted first, so fn may modify the store.
func (m *MemoryStore) Scan(ctx context.Context, prefix string, fn func(key string, value []byte) bool) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}

	type kv struct {
		key   string
		value []byte
	}
	matched := make([]kv, 0)
	for _, key := range m.entries.Keys() {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if value, ok := m.entries.Peek(key); ok {
			matched = append(matched, kv{key: key, value: clone(value)})
		}
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].key < matched[j].key })

	for _, e := range matched {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !fn(e.key, e.value) {
			return nil
		}
	}
	return nil
}

// Close releases the stored entries. Close is idempotent.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.entries.Purge()
	return nil
}

// Size returns the current number of stored entries.
// This is useful for monitoring and testing.
func (m *MemoryStore) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entries.Len()
}

// putLocked stores a copy of value and makes key the most recently written.
// At capacity the least recently written key is evicted. Caller must hold
// the write lock.
func (m *MemoryStore) putLocked(key string, value []byte) {
	m.entries.Add(key, clone(value))
}
