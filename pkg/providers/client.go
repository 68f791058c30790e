package providers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// ClientConfig configures the pooled upstream HTTP client.
type ClientConfig struct {
	// Timeout bounds the wait for response headers. It does not bound the
	// body, so long streams are not cut off. Default: 60 seconds.
	Timeout time.Duration

	// MaxIdleConns is the maximum idle connections across all hosts.
	// Default: 100
	MaxIdleConns int

	// MaxIdleConnsPerHost is the maximum idle connections per host.
	// Default: 10
	MaxIdleConnsPerHost int

	// IdleConnTimeout is how long idle connections are kept.
	// Default: 90 seconds
	IdleConnTimeout time.Duration
}

// Client performs upstream calls. It never retries: retry and fallback are
// decided by the caller.
type Client struct {
	http    *http.Client
	timeout time.Duration
	health  *HealthTracker
	logger  *slog.Logger
}

// NewClient creates a client with connection pooling. If logger is nil,
// slog.Default() is used.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 100
	}
	if cfg.MaxIdleConnsPerHost == 0 {
		cfg.MaxIdleConnsPerHost = 10
	}
	if cfg.IdleConnTimeout == 0 {
		cfg.IdleConnTimeout = 90 * time.Second
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		ResponseHeaderTimeout: cfg.Timeout,
		ForceAttemptHTTP2:     true,
	}

	logger = logger.With("component", "upstream")
	return &Client{
		http:    &http.Client{Transport: transport},
		timeout: cfg.Timeout,
		health:  NewHealthTracker(logger),
		logger:  logger,
	}
}

// Health returns the tracker fed by this client's calls.
func (c *Client) Health() *HealthTracker {
	return c.health
}

// Do sends body to t. Any HTTP status is returned as a response; errors are
// *TransportError, *TimeoutError, or the context's error when the caller
// cancelled. The caller must close the response body.
func (c *Client) Do(ctx context.Context, provider string, t Target, body []byte) (*http.Response, error) {
	method := t.Method
	if method == "" {
		method = http.MethodPost
	}

	req, err := http.NewRequestWithContext(ctx, method, t.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range t.Headers {
		req.Header.Set(key, value)
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("sending request to provider",
		"provider", provider,
		"method", method,
		"url", t.URL,
	)

	resp, err := c.http.Do(req)
	if err != nil {
		switch {
		case errors.Is(ctx.Err(), context.Canceled):
			return nil, ctx.Err()
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			c.health.Record(provider, err)
			return nil, &TimeoutError{Provider: provider}
		case isTimeout(err):
			c.health.Record(provider, err)
			return nil, &TimeoutError{Provider: provider, Timeout: c.timeout}
		}
		c.health.Record(provider, err)
		return nil, &TransportError{Provider: provider, URL: t.URL, Cause: err}
	}

	if resp.StatusCode >= 500 {
		c.health.Record(provider, fmt.Errorf("upstream status %d", resp.StatusCode))
	} else {
		c.health.Record(provider, nil)
	}

	return resp, nil
}

// CloseIdleConnections releases pooled connections.
func (c *Client) CloseIdleConnections() {
	c.http.CloseIdleConnections()
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

// ParseRetryAfter parses a Retry-After header value.
// It supports both delay-seconds and HTTP-date formats.
func ParseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(header); err == nil {
		return time.Duration(seconds) * time.Second
	}

	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}

	return 0
}
