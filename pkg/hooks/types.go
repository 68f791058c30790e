package hooks

import (
	"context"
	"fmt"
	"time"

	"mercator-hq/conduit/pkg/providers"
)

// EventType identifies when a hook runs.
type EventType string

const (
	// EventBeforeRequest runs after the unified request is built and before
	// the upstream call.
	EventBeforeRequest EventType = "beforeRequestHook"

	// EventAfterRequest runs after the response is translated, or after the
	// stream has completed.
	EventAfterRequest EventType = "afterRequestHook"
)

// Valid reports whether e is a known event.
func (e EventType) Valid() bool {
	return e == EventBeforeRequest || e == EventAfterRequest
}

// DefaultTimeout bounds a single hook invocation.
const DefaultTimeout = 5 * time.Second

// Context is what a plugin may inspect. Plugins must treat it as read-only;
// the same value is passed to every hook of an event.
type Context struct {
	Event     EventType           `json:"event"`
	Operation providers.Operation `json:"operation"`
	Provider  string              `json:"provider"`
	Model     string              `json:"model,omitempty"`

	// RequestText is the text content of the request (messages, prompt or input).
	RequestText string `json:"requestText"`

	// ResponseText is the text content of the response. Empty before the call.
	ResponseText string `json:"responseText,omitempty"`

	Request  map[string]any `json:"request,omitempty"`
	Response map[string]any `json:"response,omitempty"`

	// StatusCode is the upstream status, set for after-request hooks.
	StatusCode int `json:"statusCode,omitempty"`

	Headers   map[string]string    `json:"headers,omitempty"`
	ToolCalls []providers.ToolCall `json:"toolCalls,omitempty"`
	Metadata  map[string]string    `json:"metadata,omitempty"`
}

// Text returns the text the event is about: the request before the call and
// the response after it.
func (c *Context) Text(event EventType) string {
	if event == EventAfterRequest {
		return c.ResponseText
	}
	return c.RequestText
}

// ErrorKind classifies hook failures.
type ErrorKind string

const (
	// KindExecution means the plugin returned an error, panicked or was not found.
	KindExecution ErrorKind = "HookExecutionError"

	// KindTimeout means the plugin did not finish within its timeout.
	KindTimeout ErrorKind = "HookTimeout"
)

// HookError describes why a hook produced no verdict of its own.
type HookError struct {
	Kind    ErrorKind `json:"name"`
	Message string    `json:"message"`
}

// Error implements the error interface.
func (e *HookError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Result is what a plugin returns.
type Result struct {
	Error   *HookError `json:"error,omitempty"`
	Verdict bool       `json:"verdict"`
	Data    any        `json:"data"`
}

// Metadata describes a plugin.
type Metadata struct {
	ID          string `json:"id" yaml:"id"`
	Collection  string `json:"collection" yaml:"collection"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description"`

	// Events lists the events the plugin applies to. Empty means all.
	Events []EventType `json:"events,omitempty" yaml:"events"`
}

// Key returns the registry key "<collection>.<id>".
func (m Metadata) Key() string {
	return m.Collection + "." + m.ID
}

// Supports reports whether the plugin applies to event.
func (m Metadata) Supports(event EventType) bool {
	if len(m.Events) == 0 {
		return true
	}
	for _, e := range m.Events {
		if e == event {
			return true
		}
	}
	return false
}

// Plugin is a guardrail. Built-in and externally loaded plugins implement
// the same interface.
type Plugin interface {
	Metadata() Metadata
	Handle(ctx context.Context, hc *Context, params map[string]any, event EventType) (*Result, error)
}

// HandlerFunc is the function form of Plugin.Handle.
type HandlerFunc func(ctx context.Context, hc *Context, params map[string]any, event EventType) (*Result, error)

// NewPlugin wraps fn as a Plugin described by md.
func NewPlugin(md Metadata, fn HandlerFunc) Plugin {
	return &funcPlugin{md: md, fn: fn}
}

type funcPlugin struct {
	md Metadata
	fn HandlerFunc
}

func (p *funcPlugin) Metadata() Metadata { return p.md }

func (p *funcPlugin) Handle(ctx context.Context, hc *Context, params map[string]any, event EventType) (*Result, error) {
	return p.fn(ctx, hc, params, event)
}

// HookConfig configures one hook invocation.
type HookConfig struct {
	// ID names the hook in results. Defaults to the plugin key.
	ID string `json:"id" yaml:"id"`

	// Plugin is the registry key, "<collection>.<id>".
	Plugin string `json:"plugin" yaml:"plugin"`

	// Event restricts the hook to one event. Empty runs it for whichever
	// event the list is executed for.
	Event EventType `json:"event,omitempty" yaml:"event"`

	Parameters map[string]any `json:"parameters,omitempty" yaml:"parameters"`

	// Enforcing turns execution errors and timeouts into verdict false.
	Enforcing bool `json:"enforcing,omitempty" yaml:"enforcing"`

	// ShortCircuit skips the remaining hooks of the event when this hook fails.
	ShortCircuit bool `json:"shortCircuit,omitempty" yaml:"short_circuit"`

	// Timeout overrides DefaultTimeout.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout"`
}

func (h HookConfig) name() string {
	if h.ID != "" {
		return h.ID
	}
	return h.Plugin
}
