package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"mercator-hq/conduit/pkg/storage"
)

// Sweeper deletes expired cache entries on a cron schedule.
//
// Common schedules:
//   - "*/15 * * * *"  every 15 minutes
//   - "0 * * * *"     hourly
//   - "0 3 * * *"     daily at 3 AM
type Sweeper struct {
	cache    *Cache
	schedule string
	onSweep  func(removed int)
	cron     *cron.Cron
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
}

// NewSweeper creates a sweeper for c. onSweep, when set, is called after
// every successful sweep.
func NewSweeper(c *Cache, schedule string, onSweep func(removed int), logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		cache:    c,
		schedule: schedule,
		onSweep:  onSweep,
		cron:     cron.New(),
		logger:   logger.With("component", "cache.sweeper"),
	}
}

// Start schedules sweeping and returns. It stops when ctx is cancelled or
// Stop is called. An empty schedule does nothing.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == "" {
		s.logger.Debug("sweep schedule not configured, skipping")
		return nil
	}
	if s.running {
		return errors.New("cache sweeper is already running")
	}

	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.schedule, err)
	}
	if _, err := s.cron.AddFunc(s.schedule, func() { s.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule cache sweep: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("cache sweeper started", "schedule", s.schedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// RunOnce performs one sweep and returns the number of removed entries.
func (s *Sweeper) RunOnce(ctx context.Context) int {
	removed, err := s.cache.Sweep(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrUnsupported) {
			s.logger.Warn("cache backend cannot be swept")
		} else {
			s.logger.Error("cache sweep failed", "error", err, "removed", removed)
		}
		return removed
	}

	if removed > 0 {
		s.logger.Info("cache sweep completed", "removed", removed)
	}
	if s.onSweep != nil {
		s.onSweep(removed)
	}
	return removed
}

// Stop stops scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("cache sweeper stopped")
}

// NextRun returns the next scheduled sweep, or nil when not running.
func (s *Sweeper) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
