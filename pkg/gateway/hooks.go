package gateway

import (
	"context"
	"encoding/json"

	"mercator-hq/conduit/pkg/hooks"
	"mercator-hq/conduit/pkg/providers"
	"mercator-hq/conduit/pkg/telemetry/tracing"
)

// hookContext describes the request to before-request hooks.
func hookContext(req *Request, provider string) *hooks.Context {
	u := req.Unified
	return &hooks.Context{
		Operation:   u.Operation(),
		Provider:    provider,
		Model:       u.Model(),
		RequestText: u.Text(),
		Request:     u.Params(),
		Headers:     u.Options().Headers,
		Metadata:    req.Metadata,
	}
}

// responseHookContext extends the request context with a translated response.
func responseHookContext(base *hooks.Context, resp *providers.UnifiedResponse, body []byte) *hooks.Context {
	hc := *base
	hc.ResponseText = resp.Text()
	hc.StatusCode = resp.StatusCode
	hc.ToolCalls = resp.ToolCalls()
	if resp.Model != "" {
		hc.Model = resp.Model
	}

	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err == nil {
		hc.Response = decoded
	}
	return &hc
}

// runHooks executes list for event. It returns nil when nothing ran.
func (g *Gateway) runHooks(ctx context.Context, event hooks.EventType, list []hooks.HookConfig, hc *hooks.Context) *hooks.Outcome {
	if g.hooks == nil || len(list) == 0 {
		return nil
	}

	ctx, span := g.tracer.Start(ctx, "gateway.hooks."+string(event))
	defer span.End()

	outcome := g.hooks.Run(ctx, event, list, hc)
	for _, r := range outcome.Results {
		kind := ""
		if r.Error != nil {
			kind = string(r.Error.Kind)
		}
		g.metrics.RecordHook(r.ID, string(event), r.Verdict, kind, r.Duration)
	}
	if !outcome.Verdict {
		g.metrics.RecordRejection(string(event))
	}
	tracing.SetHookAttributes(span, string(event), outcome.Verdict, len(outcome.Results))

	if len(outcome.Results) == 0 {
		return nil
	}
	return outcome
}
