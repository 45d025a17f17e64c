package assertion

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Resolve walks a dotted path through JSON-shaped data (map[string]any,
// []any, scalars). Numeric segments index arrays. The second return is
// false if any segment is absent, including intermediate ones.
func Resolve(data any, path string) (any, bool) {
	if path == "" {
		return data, true
	}
	current := data
	for _, seg := range strings.Split(path, ".") {
		switch v := current.(type) {
		case map[string]any:
			next, ok := v[seg]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, false
			}
			current = v[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

// typeName maps a decoded JSON value onto the assertion type vocabulary.
func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, int, int64, json.Number:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// isEmpty reports emptiness per the value's own type: empty string,
// empty array, empty object, or null. Numbers and booleans are never
// empty.
func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}

// describeValue renders a short observed-value summary for detail strings.
func describeValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		if len(t) > 40 {
			return fmt.Sprintf("string of length %d", len(t))
		}
		return fmt.Sprintf("%q", t)
	case []any:
		return fmt.Sprintf("array with %d items", len(t))
	case map[string]any:
		return fmt.Sprintf("object with %d keys", len(t))
	default:
		return fmt.Sprintf("%v", t)
	}
}
