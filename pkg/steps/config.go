package steps

import (
	"fmt"
	"sort"
)

// Config is the inline configuration of one step reference.
type Config map[string]any

// String returns the string value of key, or def when absent. Numbers and
// booleans are formatted.
func (c Config) String(key, def string) string {
	v, ok := c[key]
	if !ok || v == nil {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Bool returns the boolean value of key, or def when absent or not a bool.
func (c Config) Bool(key string, def bool) bool {
	if b, ok := c[key].(bool); ok {
		return b
	}
	return def
}

// Strings returns key as a string list. A single string is a one-element
// list.
func (c Config) Strings(key string) []string {
	switch v := c[key].(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	}
	return nil
}

// StringMap returns key as a string map, with keys sorted into pairs for
// deterministic iteration.
func (c Config) StringMap(key string) [][2]string {
	m, ok := c[key].(map[string]any)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([][2]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, [2]string{k, fmt.Sprint(m[k])})
	}
	return out
}
