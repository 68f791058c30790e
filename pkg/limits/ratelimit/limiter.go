package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"mercator-hq/conduit/pkg/storage"
)

// stripes is the number of in-process mutexes used when the store cannot
// update atomically.
const stripes = 64

// Limiter evaluates fixed-window rate limits against a storage.Store.
//
// A Limiter is safe for concurrent use. Several Limiters may share a store as
// long as each uses its own key namespace (see storage.Prefixed).
type Limiter struct {
	store   storage.Store
	updater storage.Updater
	locks   [stripes]sync.Mutex
	now     func() time.Time
	logger  *slog.Logger
}

// NewLimiter creates a limiter backed by store. If logger is nil,
// slog.Default() is used.
func NewLimiter(store storage.Store, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}

	l := &Limiter{
		store:  store,
		now:    time.Now,
		logger: logger.With("component", "ratelimit"),
	}
	if storage.CanUpdate(store) {
		l.updater = store.(storage.Updater)
	}
	return l
}

// WithClock replaces the time source. It is intended for tests and must be
// called before the limiter is shared.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Check evaluates one rate limit for key.
//
// The returned error is non-nil only when the store fails; the caller decides
// whether to fail open. A denied check is not an error.
func (l *Limiter) Check(ctx context.Context, key string, p Params) (Result, error) {
	units := p.Units
	if units == 0 {
		units = DefaultUnits
	}
	windowMs := p.Window.Milliseconds()
	if p.Capacity <= 0 || windowMs <= 0 || units <= 0 {
		return degenerate, nil
	}

	nowMs := l.now().UnixMilli()
	windowStart := (nowMs / windowMs) * windowMs

	var res Result
	apply := func(old []byte, exists bool) ([]byte, error) {
		st := state{WindowStart: windowStart}
		if exists {
			var prev state
			if err := json.Unmarshal(old, &prev); err != nil {
				l.logger.Warn("discarding corrupt rate limit state",
					"key", key,
					"error", err)
			} else if prev.WindowStart == windowStart {
				st.Consumed = prev.Consumed
			}
		}

		allowed := st.Consumed+units <= p.Capacity
		if p.Consume {
			st.Consumed += units
		}

		res = Result{Allowed: allowed}
		if !allowed {
			res.WaitTime = time.Duration(windowStart+windowMs-nowMs) * time.Millisecond
		}
		res.AvailableTokens = p.Capacity - st.Consumed
		if res.AvailableTokens < 0 {
			res.AvailableTokens = 0
		}

		return json.Marshal(st)
	}

	if err := l.update(ctx, key, apply); err != nil {
		return Result{}, fmt.Errorf("rate limit state for %q: %w", key, err)
	}
	return res, nil
}

// update performs an atomic read-modify-write of key.
func (l *Limiter) update(ctx context.Context, key string, fn storage.UpdateFunc) error {
	if l.updater != nil {
		return l.updater.Update(ctx, key, fn)
	}

	mu := &l.locks[stripe(key)]
	mu.Lock()
	defer mu.Unlock()

	old, exists, err := l.store.Get(ctx, key)
	if err != nil {
		return err
	}
	next, err := fn(old, exists)
	if err != nil {
		return err
	}
	return l.store.Put(ctx, key, next)
}

func stripe(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % stripes
}

// Decision records the evaluation of one rule.
type Decision struct {
	Rule   Rule
	Result Result

	// Err is set when the store failed for this rule. Such rules are
	// treated as allowed.
	Err error
}

// CheckRules evaluates every rule in order. All rules consume, even after one
// has denied the request, so concurrent pressure is recorded on every key.
//
// The returned error is an *ExceededError for the first denying rule, or nil.
// Store failures never deny; they are reported per rule in the decisions.
func (l *Limiter) CheckRules(ctx context.Context, rules []Rule) ([]Decision, error) {
	decisions := make([]Decision, 0, len(rules))
	var exceeded *ExceededError

	for _, rule := range rules {
		res, err := l.Check(ctx, rule.Key, rule.Params())
		d := Decision{Rule: rule, Result: res, Err: err}
		decisions = append(decisions, d)

		if err != nil {
			l.logger.Error("rate limit backend failure, allowing request",
				"rule", rule.Name,
				"key", rule.Key,
				"error", err)
			continue
		}

		if !res.Allowed && exceeded == nil {
			exceeded = &ExceededError{
				Rule:     rule.Name,
				Key:      rule.Key,
				WaitTime: res.WaitTime,
				Capacity: rule.Capacity,
			}
		}
	}

	if exceeded != nil {
		l.logger.Debug("rate limit exceeded",
			"rule", exceeded.Rule,
			"key", exceeded.Key,
			"wait", exceeded.WaitTime)
		return decisions, exceeded
	}
	return decisions, nil
}
