package decompose

import (
	"fmt"
	"strconv"
	"strings"
)

// Entities is the extracted-entity map handed over by intent recognition.
type Entities map[string]any

// Str returns the first non-empty value among keys, rendered as a string.
// Lists are joined with ", ".
func (e Entities) Str(keys ...string) string {
	for _, k := range keys {
		v, ok := e[k]
		if !ok || v == nil {
			continue
		}
		var s string
		switch val := v.(type) {
		case string:
			s = val
		case []string:
			s = strings.Join(val, ", ")
		case []any:
			parts := make([]string, 0, len(val))
			for _, p := range val {
				parts = append(parts, fmt.Sprint(p))
			}
			s = strings.Join(parts, ", ")
		default:
			s = fmt.Sprint(val)
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// StrOr is Str with a fallback.
func (e Entities) StrOr(fallback string, keys ...string) string {
	if s := e.Str(keys...); s != "" {
		return s
	}
	return fallback
}

// Bool interprets common truthy spellings.
func (e Entities) Bool(key string) bool {
	switch v := e[key].(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		return err == nil && b
	default:
		return false
	}
}

// Pick copies the listed keys that are present into dst and returns it.
func (e Entities) Pick(dst map[string]any, keys ...string) map[string]any {
	for _, k := range keys {
		if v, ok := e[k]; ok && v != nil {
			if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
				continue
			}
			dst[k] = v
		}
	}
	return dst
}
