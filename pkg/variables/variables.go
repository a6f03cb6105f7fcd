// Package variables renders message templates by substituting {{name}} and
// {{name|default}} placeholders from a variable map.
package variables

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var placeholderRe = regexp.MustCompile(`\{\{[^{}]+\}\}`)

// Merge combines contact fields with explicit variables; explicit values win
// on key collision. System variables (current date/time in UTC) are injected
// underneath both so any template can reference them.
func Merge(contact, explicit map[string]any) map[string]any {
	now := time.Now().UTC()
	merged := map[string]any{
		"date":      now.Format("2006-01-02"),
		"time":      now.Format("15:04:05"),
		"datetime":  now.Format("2006-01-02 15:04:05"),
		"timestamp": strconv.FormatInt(now.UnixMilli(), 10),
	}
	for k, v := range contact {
		merged[k] = v
	}
	for k, v := range explicit {
		merged[k] = v
	}
	return merged
}

// Apply walks the template recursively, preserving shape. Strings get their
// placeholders substituted; arrays and objects are walked; every other leaf
// passes through unchanged.
func Apply(template any, vars map[string]any) any {
	switch t := template.(type) {
	case string:
		return applyString(t, vars)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = Apply(item, vars)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, v := range t {
			out[k] = Apply(v, vars)
		}
		return out
	default:
		return template
	}
}

// ApplyString is the string-only entry point used for plain text messages.
func ApplyString(template string, vars map[string]any) string {
	return applyString(template, vars)
}

func applyString(template string, vars map[string]any) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		inner := strings.TrimSpace(match[2 : len(match)-2])

		name := inner
		def := ""
		hasDefault := false
		if idx := strings.Index(inner, "|"); idx >= 0 {
			name = strings.TrimSpace(inner[:idx])
			def = strings.TrimSpace(inner[idx+1:])
			hasDefault = true
		}

		if value, ok := resolvePath(vars, name); ok {
			return stringify(value)
		}
		if hasDefault {
			return def
		}
		// Unresolved and no default: leave the placeholder verbatim.
		return match
	})
}

// resolvePath looks name up in vars, supporting dot paths into nested maps
// ("contact.address.city").
func resolvePath(vars map[string]any, name string) (any, bool) {
	if vars == nil {
		return nil, false
	}
	if v, ok := vars[name]; ok {
		return v, v != nil
	}

	parts := strings.Split(name, ".")
	var current any = vars
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, current != nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}
