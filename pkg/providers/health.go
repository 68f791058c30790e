package providers

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// unhealthyThreshold is the number of consecutive failures after which a
// provider is reported unhealthy.
const unhealthyThreshold = 3

// ProviderHealth is the passive health of one provider, derived from the
// outcome of real upstream calls.
type ProviderHealth struct {
	Provider              string    `json:"provider"`
	Healthy               bool      `json:"healthy"`
	ConsecutiveFailures   int       `json:"consecutive_failures"`
	TotalRequests         int64     `json:"total_requests"`
	FailedRequests        int64     `json:"failed_requests"`
	LastError             string    `json:"last_error,omitempty"`
	LastCheck             time.Time `json:"last_check"`
	LastSuccessfulRequest time.Time `json:"last_successful_request,omitempty"`
}

// HealthTracker records upstream call outcomes per provider.
// It never blocks or reroutes requests; it only reports.
type HealthTracker struct {
	mu     sync.RWMutex
	byName map[string]*ProviderHealth
	logger *slog.Logger
}

// NewHealthTracker creates an empty tracker.
func NewHealthTracker(logger *slog.Logger) *HealthTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthTracker{
		byName: make(map[string]*ProviderHealth),
		logger: logger,
	}
}

// Record updates the health of provider after one call. A nil error is a
// success.
func (h *HealthTracker) Record(provider string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ph, ok := h.byName[provider]
	if !ok {
		ph = &ProviderHealth{Provider: provider, Healthy: true}
		h.byName[provider] = ph
	}

	now := time.Now()
	ph.LastCheck = now
	ph.TotalRequests++

	if err == nil {
		if !ph.Healthy {
			h.logger.Info("provider recovered",
				"provider", provider,
				"after_failures", ph.ConsecutiveFailures)
		}
		ph.Healthy = true
		ph.ConsecutiveFailures = 0
		ph.LastError = ""
		ph.LastSuccessfulRequest = now
		return
	}

	ph.FailedRequests++
	ph.ConsecutiveFailures++
	ph.LastError = err.Error()

	if ph.Healthy && ph.ConsecutiveFailures >= unhealthyThreshold {
		ph.Healthy = false
		h.logger.Warn("provider marked unhealthy",
			"provider", provider,
			"consecutive_failures", ph.ConsecutiveFailures,
			"error", err)
	}
}

// Get returns the health of provider. Providers never called are healthy.
func (h *HealthTracker) Get(provider string) ProviderHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if ph, ok := h.byName[provider]; ok {
		return *ph
	}
	return ProviderHealth{Provider: provider, Healthy: true}
}

// Snapshot returns the health of every provider seen so far, sorted by name.
func (h *HealthTracker) Snapshot() []ProviderHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]ProviderHealth, 0, len(h.byName))
	for _, ph := range h.byName {
		out = append(out, *ph)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}
