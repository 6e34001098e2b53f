package graph

import (
	"cmp"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// IDKey returns a canonical string for an element id so ids decoded from JSON
// (json.Number, float64) match ids produced by backends (int64, string).
func IDKey(id any) string {
	switch v := id.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return strconv.FormatInt(i, 10)
		}
		return v.String()
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < 1<<53 {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'g', -1, 64)
	case float32:
		return IDKey(float64(v))
	case int:
		return strconv.FormatInt(int64(v), 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// IntID interprets id as an integer identifier.
func IntID(id any) (int64, bool) {
	switch v := id.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case json.Number:
		i, err := v.Int64()
		return i, err == nil
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int64(v), true
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

// NormalizeValue converts a decoded JSON value into the property representation
// used by backends: integers become int64, other numbers float64, and nested
// lists and maps are normalized recursively.
func NormalizeValue(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		f, err := val.Float64()
		if err != nil {
			return val.String()
		}
		return f
	case int:
		return int64(val)
	case int32:
		return int64(val)
	case float32:
		return float64(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = NormalizeValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = NormalizeValue(item)
		}
		return out
	default:
		return v
	}
}

// CloneProperties deep-copies a property bag.
func CloneProperties(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case map[string]any:
		return CloneProperties(val)
	default:
		return v
	}
}

// integer splits an integral value into sign and magnitude so int64 and
// uint64 compare exactly across the whole range of both.
func integer(v any) (neg bool, mag uint64, ok bool) {
	switch n := v.(type) {
	case int:
		return integer(int64(n))
	case int32:
		return integer(int64(n))
	case int64:
		if n < 0 {
			return true, uint64(-(n + 1)) + 1, true
		}
		return false, uint64(n), true
	case uint64:
		return false, n, true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return integer(i)
		}
		if u, err := strconv.ParseUint(n.String(), 10, 64); err == nil {
			return false, u, true
		}
	}
	return false, 0, false
}

// compareIntegers orders a and b when both are integers; float64 values never
// qualify, so mixed comparisons fall back to float.
func compareIntegers(a, b any) (int, bool) {
	negA, magA, okA := integer(a)
	negB, magB, okB := integer(b)
	if !okA || !okB {
		return 0, false
	}
	switch {
	case negA && !negB:
		return -1, true
	case !negA && negB:
		return 1, true
	case negA:
		return cmp.Compare(magB, magA), true
	default:
		return cmp.Compare(magA, magB), true
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// ValuesEqual compares two property values, treating numbers of different
// Go types as equal when they denote the same value.
func ValuesEqual(a, b any) bool {
	if c, ok := compareIntegers(a, b); ok {
		return c == 0
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
		return false
	}
	return reflect.DeepEqual(NormalizeValue(a), NormalizeValue(b))
}

// CompareValues orders two scalar property values. ok is false when the
// values are of incomparable kinds.
func CompareValues(a, b any) (cmp int, ok bool) {
	if c, exact := compareIntegers(a, b); exact {
		return c, true
	}
	if fa, okA := toFloat(a); okA {
		fb, okB := toFloat(b)
		if !okB {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		default:
			return 0, true
		}
	}
	switch va := a.(type) {
	case string:
		vb, isString := b.(string)
		if !isString {
			return 0, false
		}
		return strings.Compare(va, vb), true
	case bool:
		vb, isBool := b.(bool)
		if !isBool {
			return 0, false
		}
		switch {
		case va == vb:
			return 0, true
		case !va:
			return -1, true
		default:
			return 1, true
		}
	}
	return 0, false
}
