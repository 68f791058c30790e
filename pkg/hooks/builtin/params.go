package builtin

import (
	"fmt"
	"time"
)

func stringParam(params map[string]any, name string) (string, error) {
	v, ok := params[name]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("parameter %q must be a string", name)
	}
	return s, nil
}

func boolParam(params map[string]any, name string) bool {
	b, _ := params[name].(bool)
	return b
}

// intParam returns the integer parameter and whether it was set.
func intParam(params map[string]any, name string) (int, bool, error) {
	v, ok := params[name]
	if !ok || v == nil {
		return 0, false, nil
	}
	switch n := v.(type) {
	case int:
		return n, true, nil
	case int64:
		return int(n), true, nil
	case float64:
		return int(n), true, nil
	default:
		return 0, false, fmt.Errorf("parameter %q must be a number", name)
	}
}

func stringsParam(params map[string]any, name string) ([]string, error) {
	v, ok := params[name]
	if !ok || v == nil {
		return nil, nil
	}
	switch list := v.(type) {
	case []string:
		return list, nil
	case []any:
		out := make([]string, 0, len(list))
		for i, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("parameter %q[%d] must be a string", name, i)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("parameter %q must be a list of strings", name)
	}
}

func durationParam(params map[string]any, name string) (time.Duration, error) {
	switch v := params[name].(type) {
	case nil:
		return 0, nil
	case string:
		return time.ParseDuration(v)
	case float64:
		return time.Duration(v) * time.Millisecond, nil
	case int:
		return time.Duration(v) * time.Millisecond, nil
	default:
		return 0, fmt.Errorf("parameter %q must be a duration", name)
	}
}
