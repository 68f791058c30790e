package builtin

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"mercator-hq/conduit/pkg/hooks"
)

// regexMatch passes when the text matches rule, or when it does not and
// not is set.
func regexMatch(_ context.Context, hc *hooks.Context, params map[string]any, event hooks.EventType) (*hooks.Result, error) {
	rule, err := stringParam(params, "rule")
	if err != nil {
		return nil, err
	}
	if rule == "" {
		return nil, fmt.Errorf("missing regex pattern")
	}
	re, err := regexp.Compile(rule)
	if err != nil {
		return nil, fmt.Errorf("invalid regex pattern: %w", err)
	}
	not := boolParam(params, "not")

	text := hc.Text(event)
	loc := re.FindStringIndex(text)
	matched := loc != nil

	data := map[string]any{
		"regexPattern": rule,
		"not":          not,
	}
	if matched {
		data["matchDetails"] = map[string]any{
			"matchedText": text[loc[0]:loc[1]],
			"index":       loc[0],
		}
	}

	verdict := matched != not
	switch {
	case verdict && !not:
		data["explanation"] = "the text matches the pattern"
	case verdict:
		data["explanation"] = "the text does not match the pattern"
	case not:
		data["explanation"] = "the text matches the pattern but should not"
	default:
		data["explanation"] = "the text does not match the pattern"
	}
	return &hooks.Result{Verdict: verdict, Data: data}, nil
}

// contains checks for words using operator any (default), all or none.
// Matching is case-insensitive unless caseSensitive is set.
func contains(_ context.Context, hc *hooks.Context, params map[string]any, event hooks.EventType) (*hooks.Result, error) {
	words, err := stringsParam(params, "words")
	if err != nil {
		return nil, err
	}
	if len(words) == 0 {
		return nil, fmt.Errorf("missing words to check")
	}
	operator, err := stringParam(params, "operator")
	if err != nil {
		return nil, err
	}
	if operator == "" {
		operator = "any"
	}

	text := hc.Text(event)
	caseSensitive := boolParam(params, "caseSensitive")
	if !caseSensitive {
		text = strings.ToLower(text)
	}

	found := []string{}
	missing := []string{}
	for _, w := range words {
		needle := w
		if !caseSensitive {
			needle = strings.ToLower(w)
		}
		if strings.Contains(text, needle) {
			found = append(found, w)
		} else {
			missing = append(missing, w)
		}
	}

	var verdict bool
	switch operator {
	case "any":
		verdict = len(found) > 0
	case "all":
		verdict = len(missing) == 0
	case "none":
		verdict = len(found) == 0
	default:
		return nil, fmt.Errorf("unknown operator %q (expected any, all or none)", operator)
	}

	return &hooks.Result{
		Verdict: verdict,
		Data: map[string]any{
			"operator":     operator,
			"foundWords":   found,
			"missingWords": missing,
		},
	}, nil
}

func wordCount(_ context.Context, hc *hooks.Context, params map[string]any, event hooks.EventType) (*hooks.Result, error) {
	count := len(strings.Fields(hc.Text(event)))
	return countCheck(params, "minWords", "maxWords", count, "wordCount")
}

func characterCount(_ context.Context, hc *hooks.Context, params map[string]any, event hooks.EventType) (*hooks.Result, error) {
	count := utf8.RuneCountInString(hc.Text(event))
	return countCheck(params, "minCharacters", "maxCharacters", count, "characterCount")
}

// countCheck passes when min <= count <= max, inverted by not.
func countCheck(params map[string]any, minName, maxName string, count int, label string) (*hooks.Result, error) {
	lo, hasMin, err := intParam(params, minName)
	if err != nil {
		return nil, err
	}
	hi, hasMax, err := intParam(params, maxName)
	if err != nil {
		return nil, err
	}
	if !hasMin && !hasMax {
		return nil, fmt.Errorf("at least one of %s and %s is required", minName, maxName)
	}
	if hasMin && hasMax && lo > hi {
		return nil, fmt.Errorf("%s must not exceed %s", minName, maxName)
	}

	inRange := (!hasMin || count >= lo) && (!hasMax || count <= hi)
	not := boolParam(params, "not")

	data := map[string]any{
		label: count,
		"not": not,
	}
	if hasMin {
		data[minName] = lo
	}
	if hasMax {
		data[maxName] = hi
	}
	return &hooks.Result{Verdict: inRange != not, Data: data}, nil
}
