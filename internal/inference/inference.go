// Package inference derives per-field types and confidences from a batch of
// records using deterministic heuristics.
package inference

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/rpattn/driftetl/internal/domain"
	"github.com/rpattn/driftetl/internal/extract"
)

// MaxSamples caps the distinct sample values kept per field.
const MaxSamples = 5

type fieldStats struct {
	present int
	nulls   int
	nonNull int
	counts  map[domain.FieldType]int
	samples []any
	sampled map[string]struct{}
}

func newFieldStats() *fieldStats {
	return &fieldStats{
		counts:  make(map[domain.FieldType]int),
		sampled: make(map[string]struct{}),
	}
}

// Infer computes one FieldSchema per column observed across records, sorted
// by field name. Repeated-field lists are unwrapped element-wise. Columns
// with a blank name cannot be versioned and are skipped.
func Infer(records []domain.Record) ([]domain.FieldSchema, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no records", domain.ErrInvalidSourceBatch)
	}

	stats := make(map[string]*fieldStats)
	for _, record := range records {
		record.Columns().Range(func(key string, value any) bool {
			if strings.TrimSpace(key) == "" {
				return true
			}
			st, ok := stats[key]
			if !ok {
				st = newFieldStats()
				stats[key] = st
			}
			st.present++
			if repeated, isRepeated := value.(domain.Repeated); isRepeated {
				for _, item := range repeated {
					st.observe(item)
				}
				return true
			}
			st.observe(value)
			return true
		})
	}

	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make([]domain.FieldSchema, 0, len(names))
	for _, name := range names {
		fields = append(fields, stats[name].schema(name, len(records)))
	}
	return fields, nil
}

func (st *fieldStats) observe(value any) {
	fieldType := Classify(value)
	if fieldType == domain.FieldTypeNull {
		st.nulls++
		return
	}
	st.nonNull++
	st.counts[fieldType]++

	if len(st.samples) >= MaxSamples {
		return
	}
	key := fmt.Sprintf("%T:%v", value, value)
	if _, seen := st.sampled[key]; seen {
		return
	}
	st.sampled[key] = struct{}{}
	st.samples = append(st.samples, value)
}

func (st *fieldStats) schema(name string, batchSize int) domain.FieldSchema {
	field := domain.FieldSchema{
		Name:     name,
		Type:     domain.FieldTypeNull,
		Nullable: st.nulls > 0 || st.present < batchSize,
		Samples:  st.samples,
	}
	if st.nonNull == 0 {
		field.Nullable = true
		return field
	}

	best := domain.FieldTypeNull
	bestCount := -1
	for fieldType, count := range st.counts {
		if count > bestCount || (count == bestCount && fieldType.MoreSpecificThan(best)) {
			best = fieldType
			bestCount = count
		}
	}
	field.Type = best
	field.Confidence = clamp(float64(bestCount) / float64(st.nonNull))
	return field
}

// Classify maps one observed value to a field type. Native booleans, objects
// and arrays pass through; strings are tried as integer, float and date
// literals before falling back to string. Blank strings count as null.
func Classify(value any) domain.FieldType {
	switch typed := value.(type) {
	case nil:
		return domain.FieldTypeNull
	case bool:
		return domain.FieldTypeBoolean
	case map[string]any:
		return domain.FieldTypeObject
	case []any, domain.Repeated:
		return domain.FieldTypeArray
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return domain.FieldTypeInteger
	case float32, float64:
		return domain.FieldTypeFloat
	case string:
		return classifyString(typed)
	default:
		return classifyString(fmt.Sprint(typed))
	}
}

func classifyString(raw string) domain.FieldType {
	value := strings.TrimSpace(raw)
	switch {
	case value == "":
		return domain.FieldTypeNull
	case isIntegerLiteral(value):
		return domain.FieldTypeInteger
	case IsFloatLiteral(value):
		return domain.FieldTypeFloat
	case extract.IsDate(value):
		return domain.FieldTypeDate
	default:
		return domain.FieldTypeString
	}
}

func isIntegerLiteral(value string) bool {
	_, err := strconv.ParseInt(value, 10, 64)
	return err == nil
}

// IsFloatLiteral accepts decimal and exponent notation only. The NaN, Inf
// and hexadecimal spellings strconv also understands are rejected.
func IsFloatLiteral(value string) bool {
	if !strings.ContainsAny(value, "0123456789") {
		return false
	}
	digits := strings.TrimLeft(value, "+-")
	if len(digits) > 1 && digits[0] == '0' && (digits[1] == 'x' || digits[1] == 'X') {
		return false
	}
	parsed, err := strconv.ParseFloat(value, 64)
	return err == nil && !math.IsInf(parsed, 0) && !math.IsNaN(parsed)
}

func clamp(confidence float64) float64 {
	switch {
	case confidence < 0:
		return 0
	case confidence > 1:
		return 1
	default:
		return confidence
	}
}
