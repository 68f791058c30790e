package providers

import (
	"fmt"
	"strings"
)

// RangePolicy decides what happens to a numeric value outside [Min, Max].
type RangePolicy string

const (
	// RangeReject fails the request with a ValidationError. It is the default.
	RangeReject RangePolicy = "reject"

	// RangeClamp replaces the value with the violated bound.
	RangeClamp RangePolicy = "clamp"
)

// ParameterConfig maps one unified parameter to the provider-native body.
type ParameterConfig struct {
	// Source is the unified parameter read. Empty means the config key.
	// It lets one unified parameter feed several native fields, such as
	// lifting the system message out of "messages".
	Source string

	// Param is the provider-native path. Dots create nested objects, so
	// "input.messages" becomes {"input":{"messages":...}}. Empty means the
	// unified name is used unchanged.
	Param string

	// Required fails the request when neither the value nor a default resolves.
	Required bool

	// Default is used when the request does not carry the parameter.
	Default Value

	// Min and Max bound numeric values.
	Min *float64
	Max *float64

	// OnOutOfRange selects reject (default) or clamp.
	OnOutOfRange RangePolicy

	// Transform rewrites the resolved value before placement.
	Transform Value
}

// ProviderConfig maps unified parameter names to their native placement for
// one operation. Parameters not listed are not forwarded.
type ProviderConfig map[string]ParameterConfig

// Float returns a pointer to f, for use in Min and Max.
func Float(f float64) *float64 {
	return &f
}

// BuildRequest translates req into a provider-native body according to cfg.
//
// Parameters are processed in sorted order so the result is deterministic.
// BuildRequest never mutates req or cfg, which makes it idempotent.
func BuildRequest(cfg ProviderConfig, req *UnifiedRequest) (map[string]any, error) {
	body := make(map[string]any)

	for _, key := range sortedKeys(cfg) {
		pc := cfg[key]
		name := key
		if pc.Source != "" {
			name = pc.Source
		}

		value, ok := req.Param(name)
		if !ok && pc.Default.IsSet() {
			v, err := pc.Default.Resolve(req, nil)
			if err != nil {
				return nil, &ValidationError{Field: name, Message: fmt.Sprintf("default: %v", err)}
			}
			value, ok = v, v != nil
		}

		if !ok {
			if pc.Required {
				return nil, &ValidationError{Field: name, Message: "field is required"}
			}
			continue
		}

		value, err := checkRange(name, pc, value)
		if err != nil {
			return nil, err
		}

		if pc.Transform.IsSet() {
			value, err = pc.Transform.Resolve(req, value)
			if err != nil {
				return nil, &ValidationError{Field: name, Message: fmt.Sprintf("transform: %v", err)}
			}
			if value == nil {
				continue
			}
		}

		path := pc.Param
		if path == "" {
			path = key
		}
		if err := setPath(body, path, value); err != nil {
			return nil, &ValidationError{Field: name, Message: err.Error()}
		}
	}

	return body, nil
}

// checkRange enforces Min and Max on numeric values.
func checkRange(name string, pc ParameterConfig, value any) (any, error) {
	if pc.Min == nil && pc.Max == nil {
		return value, nil
	}

	n, ok := toFloat(value)
	if !ok {
		return nil, &ValidationError{Field: name, Message: "must be a number"}
	}

	clamp := pc.OnOutOfRange == RangeClamp
	if pc.Min != nil && n < *pc.Min {
		if !clamp {
			return nil, &ValidationError{Field: name, Message: fmt.Sprintf("must be >= %v", *pc.Min)}
		}
		return *pc.Min, nil
	}
	if pc.Max != nil && n > *pc.Max {
		if !clamp {
			return nil, &ValidationError{Field: name, Message: fmt.Sprintf("must be <= %v", *pc.Max)}
		}
		return *pc.Max, nil
	}
	return value, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}

// setPath places value at a dotted path, creating intermediate objects.
func setPath(body map[string]any, path string, value any) error {
	parts := strings.Split(path, ".")
	cur := body
	for i, part := range parts[:len(parts)-1] {
		next, exists := cur[part]
		if !exists {
			m := make(map[string]any)
			cur[part] = m
			cur = m
			continue
		}
		m, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("native path %q conflicts with existing value at %q",
				path, strings.Join(parts[:i+1], "."))
		}
		cur = m
	}
	cur[parts[len(parts)-1]] = value
	return nil
}
