package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"time"

	"mercator-hq/conduit/pkg/storage"
)

// DefaultMaxAge is the lifetime of an entry when Options.MaxAge is zero.
const DefaultMaxAge = 24 * time.Hour

// Mode selects how a request interacts with the cache.
type Mode string

const (
	// ModeOff disables the cache for the request.
	ModeOff Mode = "off"

	// ModeSimple performs exact-match lookups and writes.
	ModeSimple Mode = "simple"

	// ModeSemantic is accepted for compatibility. It performs exact-match
	// lookups but never writes.
	ModeSemantic Mode = "semantic"
)

// ParseMode normalizes a mode string. Unknown or empty values disable the cache.
func ParseMode(s string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeSimple:
		return ModeSimple
	case ModeSemantic:
		return ModeSemantic
	default:
		return ModeOff
	}
}

// Enabled reports whether the mode performs lookups.
func (m Mode) Enabled() bool {
	return m == ModeSimple || m == ModeSemantic
}

// Status is the outcome of a lookup as reported to clients.
type Status string

const (
	StatusHit      Status = "HIT"
	StatusMiss     Status = "MISS"
	StatusRefresh  Status = "REFRESH"
	StatusDisabled Status = "DISABLED"
)

// Options are the per-request cache settings.
type Options struct {
	Mode Mode

	// ForceRefresh bypasses the lookup. The response is still written.
	ForceRefresh bool

	// MaxAge is the entry lifetime. Zero means DefaultMaxAge.
	MaxAge time.Duration
}

// BackendErrorFunc is notified of storage failures. op is "get", "put",
// "delete" or "scan".
type BackendErrorFunc func(op string, err error)

// Cache stores serialized responses in a storage.Store.
type Cache struct {
	backend storage.Store
	now     func() time.Time
	logger  *slog.Logger
	onError BackendErrorFunc
}

// New creates a cache over backend. If logger is nil, slog.Default() is used.
func New(backend storage.Store, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		backend: backend,
		now:     time.Now,
		logger:  logger.With("component", "cache"),
	}
}

// WithClock replaces the time source. Intended for tests.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// OnBackendError registers fn to observe storage failures.
func (c *Cache) OnBackendError(fn BackendErrorFunc) *Cache {
	c.onError = fn
	return c
}

// Key returns the hex SHA-256 digest identifying a request body sent to url.
func Key(body []byte, url string) string {
	h := sha256.New()
	h.Write(body)
	h.Write([]byte{0})
	h.Write([]byte(url))
	return hex.EncodeToString(h.Sum(nil))
}

// Lookup returns the cached body for key when present and fresh.
func (c *Cache) Lookup(ctx context.Context, key string, opts Options) (Status, []byte) {
	if !opts.Mode.Enabled() {
		return StatusDisabled, nil
	}
	if opts.ForceRefresh {
		return StatusRefresh, nil
	}

	raw, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		c.backendError("get", key, err)
		return StatusMiss, nil
	}
	if !ok {
		return StatusMiss, nil
	}

	expiresAt, body, err := decodeEntry(raw)
	if err != nil || !c.now().Before(expiresAt) {
		if _, err := c.backend.Delete(ctx, key); err != nil {
			c.backendError("delete", key, err)
		}
		return StatusMiss, nil
	}

	return StatusHit, body
}

// Store writes body under key. Only simple mode writes; other modes are a no-op.
func (c *Cache) Store(ctx context.Context, key string, body []byte, opts Options) {
	if opts.Mode != ModeSimple {
		return
	}

	maxAge := opts.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}

	if err := c.backend.Put(ctx, key, encodeEntry(c.now().Add(maxAge), body)); err != nil {
		c.backendError("put", key, err)
	}
}

// Sweep deletes every expired entry and returns how many were removed.
// It requires a backend implementing storage.Scanner.
func (c *Cache) Sweep(ctx context.Context) (int, error) {
	scanner, ok := c.backend.(storage.Scanner)
	if !ok {
		return 0, storage.ErrUnsupported
	}

	now := c.now()
	var expired []string
	err := scanner.Scan(ctx, "", func(key string, value []byte) bool {
		expiresAt, _, err := decodeEntry(value)
		if err != nil || !now.Before(expiresAt) {
			expired = append(expired, key)
		}
		return true
	})
	if err != nil {
		c.backendError("scan", "", err)
		return 0, err
	}

	removed := 0
	for _, key := range expired {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		existed, err := c.backend.Delete(ctx, key)
		if err != nil {
			c.backendError("delete", key, err)
			continue
		}
		if existed {
			removed++
		}
	}

	c.logger.Debug("cache sweep completed", "removed", removed)
	return removed, nil
}

func (c *Cache) backendError(op, key string, err error) {
	c.logger.Warn("cache backend error",
		"op", op,
		"key", key,
		"error", err)
	if c.onError != nil {
		c.onError(op, err)
	}
}

var errCorruptEntry = errors.New("cache: corrupt entry")

// An entry is an 8-byte big-endian expiry in Unix milliseconds followed by the body.
func encodeEntry(expiresAt time.Time, body []byte) []byte {
	buf := make([]byte, 8+len(body))
	binary.BigEndian.PutUint64(buf, uint64(expiresAt.UnixMilli()))
	copy(buf[8:], body)
	return buf
}

func decodeEntry(raw []byte) (time.Time, []byte, error) {
	if len(raw) < 8 {
		return time.Time{}, nil, errCorruptEntry
	}
	expiresAt := time.UnixMilli(int64(binary.BigEndian.Uint64(raw)))
	return expiresAt, raw[8:], nil
}
