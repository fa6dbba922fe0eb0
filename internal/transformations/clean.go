package transformations

import (
	"sort"
	"strings"

	"github.com/rpattn/driftetl/internal/domain"
)

// MaxDepth bounds how far CleanRecords descends into nested values. Anything
// deeper is kept as-is.
const MaxDepth = 64

// CleanKey normalises a field name: surrounding space trimmed, spaces and
// dashes turned into underscores, everything outside [A-Za-z0-9_] dropped.
func CleanKey(key string) string {
	key = strings.TrimSpace(key)
	var b strings.Builder
	b.Grow(len(key))
	for _, r := range key {
		switch {
		case r == ' ' || r == '-' || r == '_':
			b.WriteByte('_')
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CleanRecords returns cleaned copies of records. Keys that clean to the
// empty string are dropped; when two keys clean to the same name the later
// value wins and the first position is kept.
func CleanRecords(records []domain.Record) []domain.Record {
	cleaned := make([]domain.Record, 0, len(records))
	for _, record := range records {
		out := domain.Record{
			DataType:   record.DataType,
			Fields:     domain.NewFields(record.Fields.Len()),
			Provenance: record.Provenance,
		}
		record.Fields.Range(func(key string, value any) bool {
			if name := CleanKey(key); name != "" {
				out.Fields.Set(name, cleanValue(value))
			}
			return true
		})
		cleaned = append(cleaned, out)
	}
	return cleaned
}

type cleanTask struct {
	value any
	depth int
	set   func(any)
}

// cleanValue walks nested maps and lists with an explicit stack so hostile
// nesting cannot exhaust the goroutine stack.
func cleanValue(value any) any {
	var result any
	stack := []cleanTask{{value: value, set: func(v any) { result = v }}}

	for len(stack) > 0 {
		task := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		switch typed := task.value.(type) {
		case string:
			task.set(strings.TrimSpace(typed))
		case map[string]any:
			if task.depth >= MaxDepth {
				task.set(typed)
				continue
			}
			out := make(map[string]any, len(typed))
			task.set(out)
			keys := make([]string, 0, len(typed))
			for key := range typed {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			// pushed in reverse so pops run in key order and the last
			// colliding key wins deterministically
			for idx := len(keys) - 1; idx >= 0; idx-- {
				name := CleanKey(keys[idx])
				if name == "" {
					continue
				}
				stack = append(stack, cleanTask{
					value: typed[keys[idx]],
					depth: task.depth + 1,
					set:   func(v any) { out[name] = v },
				})
			}
		case []any:
			if task.depth >= MaxDepth {
				task.set(typed)
				continue
			}
			out := make([]any, len(typed))
			task.set(out)
			stack = pushItems(stack, typed, out, task.depth+1)
		case domain.Repeated:
			if task.depth >= MaxDepth {
				task.set(typed)
				continue
			}
			out := make(domain.Repeated, len(typed))
			task.set(out)
			stack = pushItems(stack, typed, out, task.depth+1)
		default:
			task.set(typed)
		}
	}
	return result
}

func pushItems(stack []cleanTask, items, out []any, depth int) []cleanTask {
	for idx := range items {
		stack = append(stack, cleanTask{
			value: items[idx],
			depth: depth,
			set:   func(v any) { out[idx] = v },
		})
	}
	return stack
}
