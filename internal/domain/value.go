package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"
)

// MaxNestingDepth bounds how deep nested objects and lists are walked.
// Anything below it is rendered as a string.
const MaxNestingDepth = 64

// NormalizeValue converts decoder output (encoding/json with UseNumber, YAML,
// spreadsheet cells) into the closed set of record value types: nil, string,
// int64, float64, bool, map[string]any, []any and Repeated.
func NormalizeValue(value any) any {
	return normalizeValue(value, 0)
}

func normalizeValue(value any, depth int) any {
	if depth > MaxNestingDepth {
		return fmt.Sprint(value)
	}

	switch typed := value.(type) {
	case nil, string, bool, int64, float64:
		return typed
	case json.Number:
		if i, err := typed.Int64(); err == nil {
			return i
		}
		if f, err := typed.Float64(); err == nil {
			return f
		}
		return typed.String()
	case int:
		return int64(typed)
	case int8:
		return int64(typed)
	case int16:
		return int64(typed)
	case int32:
		return int64(typed)
	case uint:
		return uintValue(uint64(typed))
	case uint8:
		return int64(typed)
	case uint16:
		return int64(typed)
	case uint32:
		return int64(typed)
	case uint64:
		return uintValue(typed)
	case float32:
		return float64(typed)
	case time.Time:
		if typed.Hour() == 0 && typed.Minute() == 0 && typed.Second() == 0 && typed.Nanosecond() == 0 {
			return typed.Format("2006-01-02")
		}
		return typed.Format(time.RFC3339)
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, nested := range typed {
			out[key] = normalizeValue(nested, depth+1)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(typed))
		for key, nested := range typed {
			out[fmt.Sprint(key)] = normalizeValue(nested, depth+1)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for idx, nested := range typed {
			out[idx] = normalizeValue(nested, depth+1)
		}
		return out
	case Repeated:
		out := make(Repeated, len(typed))
		for idx, nested := range typed {
			out[idx] = normalizeValue(nested, depth+1)
		}
		return out
	case []string:
		out := make([]any, len(typed))
		for idx, nested := range typed {
			out[idx] = nested
		}
		return out
	default:
		return fmt.Sprint(typed)
	}
}

func uintValue(value uint64) any {
	if value > math.MaxInt64 {
		return strconv.FormatUint(value, 10)
	}
	return int64(value)
}

func sortedKeys(values map[string]any) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
