package builtin

import (
	"context"
	"fmt"
	"path"

	"mercator-hq/conduit/pkg/hooks"
)

// modelWhitelist passes when the requested model matches one of models.
// Entries are globs, so "gpt-4o*" admits every gpt-4o variant. With not set
// the list becomes a deny list.
func modelWhitelist(_ context.Context, hc *hooks.Context, params map[string]any, _ hooks.EventType) (*hooks.Result, error) {
	models, err := stringsParam(params, "models")
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, fmt.Errorf("missing model list")
	}

	matched := ""
	for _, pattern := range models {
		ok, err := path.Match(pattern, hc.Model)
		if err != nil {
			return nil, fmt.Errorf("invalid model pattern %q: %w", pattern, err)
		}
		if ok {
			matched = pattern
			break
		}
	}

	not := boolParam(params, "not")
	verdict := (matched != "") != not

	data := map[string]any{
		"model":  hc.Model,
		"models": models,
		"not":    not,
	}
	if matched != "" {
		data["matched"] = matched
	}
	return &hooks.Result{Verdict: verdict, Data: data}, nil
}
