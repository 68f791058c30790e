package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"mercator-hq/conduit/pkg/hooks"
)

// validJSON passes when the text is a JSON value. Markdown code fences are
// stripped first. With repair set, text that jsonrepair can fix also passes
// and the repaired document is returned in the data. keys lists top-level
// keys that must be present.
func validJSON(_ context.Context, hc *hooks.Context, params map[string]any, event hooks.EventType) (*hooks.Result, error) {
	keys, err := stringsParam(params, "keys")
	if err != nil {
		return nil, err
	}
	repair := boolParam(params, "repair")

	text := stripFences(hc.Text(event))
	data := map[string]any{}

	var doc any
	parseErr := json.Unmarshal([]byte(text), &doc)
	if parseErr != nil && repair {
		repaired, rerr := jsonrepair.JSONRepair(text)
		if rerr == nil && json.Unmarshal([]byte(repaired), &doc) == nil {
			data["repaired"] = true
			data["repairedJSON"] = repaired
			parseErr = nil
		}
	}
	if parseErr != nil {
		data["explanation"] = fmt.Sprintf("invalid JSON: %v", parseErr)
		return &hooks.Result{Verdict: false, Data: data}, nil
	}

	if len(keys) > 0 {
		obj, ok := doc.(map[string]any)
		if !ok {
			data["explanation"] = "JSON is not an object"
			return &hooks.Result{Verdict: false, Data: data}, nil
		}
		missing := []string{}
		for _, k := range keys {
			if _, ok := obj[k]; !ok {
				missing = append(missing, k)
			}
		}
		if len(missing) > 0 {
			data["missingKeys"] = missing
			data["explanation"] = "required keys are missing"
			return &hooks.Result{Verdict: false, Data: data}, nil
		}
	}

	data["explanation"] = "valid JSON"
	return &hooks.Result{Verdict: true, Data: data}, nil
}

// stripFences removes a surrounding ```json ... ``` block.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
