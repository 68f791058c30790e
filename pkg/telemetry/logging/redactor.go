package logging

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// Pattern is a custom redaction rule. Matches of Regex in string values are
// replaced with Replacement, which may reference capture groups.
type Pattern struct {
	Name        string `yaml:"name"`
	Regex       string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
}

type compiledPattern struct {
	name        string
	regex       *regexp.Regexp
	replacement string
}

// Redactor masks credentials in log attributes.
type Redactor struct {
	patterns []compiledPattern
}

var defaultPatterns = []Pattern{
	{Name: "bearer_token", Regex: `(?i)bearer\s+[A-Za-z0-9._~+/=-]+`, Replacement: "Bearer ***"},
	{Name: "api_key", Regex: `sk-(?:ant-)?[A-Za-z0-9_-]{6,}`, Replacement: "sk-***"},
}

// sensitiveKeys are attribute keys whose values are always masked.
var sensitiveKeys = []string{
	"authorization",
	"api_key",
	"apikey",
	"api-key",
	"x-api-key",
	"password",
	"secret",
	"token",
}

// NewRedactor compiles the default patterns plus extra.
func NewRedactor(extra []Pattern) (*Redactor, error) {
	r := &Redactor{}
	for _, p := range append(append([]Pattern{}, defaultPatterns...), extra...) {
		re, err := regexp.Compile(p.Regex)
		if err != nil {
			return nil, fmt.Errorf("redact pattern %s: %w", p.Name, err)
		}
		r.patterns = append(r.patterns, compiledPattern{name: p.Name, regex: re, replacement: p.Replacement})
	}
	return r, nil
}

// ReplaceAttr is a slog.HandlerOptions.ReplaceAttr hook.
func (r *Redactor) ReplaceAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() != slog.KindString {
		return a
	}
	if isSensitiveKey(a.Key) {
		return slog.String(a.Key, maskValue(a.Value.String()))
	}
	return slog.String(a.Key, r.Redact(a.Value.String()))
}

// Redact applies every pattern to s.
func (r *Redactor) Redact(s string) string {
	for _, p := range r.patterns {
		s = p.regex.ReplaceAllString(s, p.replacement)
	}
	return s
}

func isSensitiveKey(key string) bool {
	key = strings.ToLower(key)
	for _, k := range sensitiveKeys {
		if key == k || strings.HasSuffix(key, "_"+k) || strings.HasSuffix(key, "."+k) {
			return true
		}
	}
	return false
}

// maskValue keeps a short prefix so operators can tell keys apart.
func maskValue(s string) string {
	if len(s) <= 4 {
		return "***"
	}
	return s[:4] + "***"
}
