package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// StatusGuardrailRejected is the HTTP status of a guardrail rejection. It is
// outside the range providers use so callers can tell the two apart.
const StatusGuardrailRejected = 446

// HookResult is the recorded outcome of one hook.
type HookResult struct {
	ID       string        `json:"id"`
	Plugin   string        `json:"plugin"`
	Verdict  bool          `json:"verdict"`
	Data     any           `json:"data"`
	Error    *HookError    `json:"error,omitempty"`
	Duration time.Duration `json:"-"`
}

// Outcome is the aggregated result of one event.
type Outcome struct {
	Event EventType

	// Verdict is the AND of every executed hook's verdict.
	Verdict bool

	// Results holds the hooks that executed, in configured order.
	Results []HookResult

	// Skipped lists hook IDs not executed, either because their event or
	// the plugin's events did not match, or because a short-circuiting
	// hook failed first.
	Skipped []string

	// Rejection is the first failing hook, nil when Verdict is true.
	Rejection *HookResult
}

// Pipeline executes hook lists against a registry.
type Pipeline struct {
	registry *Registry
	timeout  time.Duration
	logger   *slog.Logger
}

// NewPipeline creates a pipeline. A zero timeout means DefaultTimeout.
func NewPipeline(registry *Registry, timeout time.Duration, logger *slog.Logger) *Pipeline {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		registry: registry,
		timeout:  timeout,
		logger:   logger.With("component", "hooks"),
	}
}

// Registry returns the registry hooks are resolved against.
func (p *Pipeline) Registry() *Registry {
	return p.registry
}

// Run executes hooks for event in order. It never returns an error: plugin
// failures are recorded in the outcome according to each hook's policy.
func (p *Pipeline) Run(ctx context.Context, event EventType, hooks []HookConfig, hc *Context) *Outcome {
	out := &Outcome{Event: event, Verdict: true}
	rejected := -1
	if hc != nil {
		hc.Event = event
	}

	for i, h := range hooks {
		if h.Event != "" && h.Event != event {
			out.Skipped = append(out.Skipped, h.name())
			continue
		}

		plugin, found := p.registry.Get(h.Plugin)
		if found && !plugin.Metadata().Supports(event) {
			out.Skipped = append(out.Skipped, h.name())
			continue
		}

		var res HookResult
		if !found {
			res = p.failed(h, &HookError{Kind: KindExecution, Message: fmt.Sprintf("plugin %q not found", h.Plugin)})
		} else {
			res = p.execute(ctx, plugin, h, hc, event)
		}
		out.Results = append(out.Results, res)

		if res.Verdict {
			continue
		}
		out.Verdict = false
		if rejected < 0 {
			rejected = len(out.Results) - 1
		}
		if h.ShortCircuit {
			for _, rest := range hooks[i+1:] {
				out.Skipped = append(out.Skipped, rest.name())
			}
			break
		}
	}

	if rejected >= 0 {
		out.Rejection = &out.Results[rejected]
	}
	return out
}

// execute runs one plugin under its timeout and recovers panics.
func (p *Pipeline) execute(ctx context.Context, plugin Plugin, h HookConfig, hc *Context, event EventType) HookResult {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = p.timeout
	}

	hookCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type reply struct {
		result *Result
		err    error
	}
	done := make(chan reply, 1)
	start := time.Now()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- reply{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		result, err := plugin.Handle(hookCtx, hc, h.Parameters, event)
		done <- reply{result: result, err: err}
	}()

	var r reply
	select {
	case r = <-done:
	case <-hookCtx.Done():
		kind := KindTimeout
		msg := fmt.Sprintf("hook did not finish within %s", timeout)
		if ctx.Err() != nil {
			kind = KindExecution
			msg = ctx.Err().Error()
		}
		res := p.failed(h, &HookError{Kind: kind, Message: msg})
		res.Duration = time.Since(start)
		return res
	}

	var res HookResult
	switch {
	case r.err != nil:
		kind := KindExecution
		if errors.Is(r.err, context.DeadlineExceeded) && ctx.Err() == nil {
			kind = KindTimeout
		}
		res = p.failed(h, &HookError{Kind: kind, Message: r.err.Error()})
	case r.result == nil:
		res = p.failed(h, &HookError{Kind: KindExecution, Message: "plugin returned no result"})
	case r.result.Error != nil:
		res = p.failed(h, r.result.Error)
		res.Data = r.result.Data
	default:
		res = HookResult{
			ID:      h.name(),
			Plugin:  h.Plugin,
			Verdict: r.result.Verdict,
			Data:    r.result.Data,
		}
	}
	res.Duration = time.Since(start)

	p.logger.Debug("hook executed",
		"hook", res.ID,
		"plugin", h.Plugin,
		"event", event,
		"verdict", res.Verdict,
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res
}

// failed records a hook that produced no verdict of its own. It fails open
// unless the hook is enforcing.
func (p *Pipeline) failed(h HookConfig, herr *HookError) HookResult {
	p.logger.Warn("hook failed",
		"hook", h.name(),
		"plugin", h.Plugin,
		"kind", herr.Kind,
		"error", herr.Message,
		"enforcing", h.Enforcing,
	)
	return HookResult{
		ID:      h.name(),
		Plugin:  h.Plugin,
		Verdict: !h.Enforcing,
		Data:    nil,
		Error:   herr,
	}
}

// rejectionBody is the JSON document returned on rejection.
type rejectionBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
	Verdict bool         `json:"verdict"`
	Event   EventType    `json:"event"`
	Hooks   []HookResult `json:"hooks"`
}

// RejectionBody renders the guardrail rejection response for outcome. Only
// hooks that executed are included.
func RejectionBody(outcome *Outcome) []byte {
	var body rejectionBody
	body.Error.Type = "guardrail_rejection"
	body.Error.Code = "hooks_failed"
	body.Error.Message = "The guardrail checks defined in the config failed. You can find more information in the `hooks` object."
	if outcome.Rejection != nil {
		body.Error.Message = fmt.Sprintf("request rejected by guardrail %q", outcome.Rejection.ID)
	}
	body.Event = outcome.Event
	body.Hooks = outcome.Results
	if body.Hooks == nil {
		body.Hooks = []HookResult{}
	}

	data, err := json.Marshal(body)
	if err != nil {
		// plugin data that cannot be marshalled is dropped
		for i := range body.Hooks {
			body.Hooks[i].Data = nil
		}
		data, _ = json.Marshal(body)
	}
	return data
}
