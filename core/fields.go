package core

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Field resolves a dot-path against the event. Top-level names "id",
// "type", "severity" and "timestamp" address the event envelope; a
// "metadata." prefix (or any other name) addresses the metadata map,
// descending into nested maps one path segment at a time.
func (e *Event) Field(path string) (interface{}, bool) {
	switch path {
	case "id":
		return e.ID, true
	case "type":
		return e.Type, true
	case "severity":
		return string(e.Severity), true
	case "timestamp":
		return e.Timestamp, true
	}
	path = strings.TrimPrefix(path, "metadata.")
	return LookupPath(e.Metadata, path)
}

// StringField resolves a dot-path and coerces the value to a string.
func (e *Event) StringField(path string) (string, bool) {
	v, ok := e.Field(path)
	if !ok {
		return "", false
	}
	return CoerceString(v)
}

// NumericField resolves a dot-path and coerces the value to a float64.
func (e *Event) NumericField(path string) (float64, bool) {
	v, ok := e.Field(path)
	if !ok {
		return 0, false
	}
	return CoerceFloat(v)
}

// LookupPath descends into nested string-keyed maps following the
// dot-separated path. It returns false when any segment is missing or a
// non-terminal segment is not a map.
func LookupPath(m map[string]interface{}, path string) (interface{}, bool) {
	if m == nil || path == "" {
		return nil, false
	}
	segments := strings.Split(path, ".")
	var current interface{} = m
	for _, seg := range segments {
		node, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = node[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// CoerceFloat converts common numeric representations to float64.
func CoerceFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// CoerceString converts scalar values to their string form. Composite
// values (maps, slices) are not coerced.
func CoerceString(v interface{}) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case json.Number:
		return s.String(), true
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	case int:
		return strconv.Itoa(s), true
	case int64:
		return strconv.FormatInt(s, 10), true
	case bool:
		return strconv.FormatBool(s), true
	default:
		return "", false
	}
}
