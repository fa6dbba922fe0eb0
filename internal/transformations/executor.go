// Package transformations cleans extracted records and applies the optional
// rule stage of an ETL job.
package transformations

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/rpattn/driftetl/internal/domain"
)

// Options page the executor output. A zero limit means no limit.
type Options struct {
	Limit  int
	Offset int
}

// Result is the executor output. TotalCount counts records that survived the
// filters before paging.
type Result struct {
	Records    []domain.Record
	TotalCount int
}

type stepKind string

const (
	stepMap     stepKind = "map"
	stepConvert stepKind = "convert"
	stepFilter  stepKind = "filter"
)

// Executor applies Rules to record batches.
type Executor struct {
	logger *zap.Logger
}

type pageRequest struct {
	limit  int
	offset int
}

type pageLimiter struct {
	limit  int
	offset int
	seen   int
}

func newPageLimiter(req pageRequest) pageLimiter {
	limiter := pageLimiter{limit: req.limit, offset: req.offset}
	if limiter.limit < 0 {
		limiter.limit = 0
	}
	if limiter.offset < 0 {
		limiter.offset = 0
	}
	return limiter
}

func (p *pageLimiter) Consider() bool {
	p.seen++
	if p.seen <= p.offset {
		return false
	}
	if p.limit == 0 {
		return true
	}
	return p.seen <= p.offset+p.limit
}

// NewExecutor constructs a rule executor. A nil logger disables logging.
func NewExecutor(logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{logger: logger}
}

// Execute runs mappings, conversions and filters over copies of records and
// pages the survivors.
func (e *Executor) Execute(ctx context.Context, records []domain.Record, rules domain.Rules, opts Options) (Result, error) {
	if err := rules.Validate(); err != nil {
		return Result{}, fmt.Errorf("invalid rules: %w", err)
	}

	steps := make([]stepKind, 0, 3)
	if len(rules.FieldMappings) > 0 {
		steps = append(steps, stepMap)
	}
	if len(rules.TypeConversions) > 0 {
		steps = append(steps, stepConvert)
	}
	if len(rules.Filters) > 0 {
		steps = append(steps, stepFilter)
	}

	limiter := newPageLimiter(pageRequest{limit: opts.Limit, offset: opts.Offset})
	out := make([]domain.Record, 0, len(records))
	total := 0

	for idx, record := range records {
		if idx%256 == 0 {
			if err := ctx.Err(); err != nil {
				return Result{}, err
			}
		}

		clone := record.Clone()
		keep := true
		for _, step := range steps {
			keep = e.executeStep(step, &clone, rules)
			if !keep {
				break
			}
		}
		if !keep {
			continue
		}
		total++
		if limiter.Consider() {
			out = append(out, clone)
		}
	}

	return Result{Records: out, TotalCount: total}, nil
}

// Apply runs rules without paging.
func (e *Executor) Apply(ctx context.Context, records []domain.Record, rules domain.Rules) ([]domain.Record, error) {
	if rules.IsZero() {
		return records, nil
	}
	result, err := e.Execute(ctx, records, rules, Options{})
	if err != nil {
		return nil, err
	}
	return result.Records, nil
}

func (e *Executor) executeStep(step stepKind, record *domain.Record, rules domain.Rules) bool {
	switch step {
	case stepMap:
		executeMappings(record, rules)
		return true
	case stepConvert:
		e.executeConversions(record, rules)
		return true
	case stepFilter:
		return executeFilters(record, rules.Filters)
	default:
		return true
	}
}

// executeMappings renames fields. A renamed field moves to the end.
func executeMappings(record *domain.Record, rules domain.Rules) {
	for _, from := range rules.MappingOrder() {
		value, ok := record.Fields.Get(from)
		if !ok {
			continue
		}
		to := rules.FieldMappings[from]
		record.Fields.Delete(from)
		record.Fields.Set(to, value)
	}
}

func (e *Executor) executeConversions(record *domain.Record, rules domain.Rules) {
	for _, field := range rules.ConversionOrder() {
		value, ok := record.Fields.Get(field)
		if !ok {
			continue
		}
		target := rules.TypeConversions[field]
		converted, err := Convert(value, target)
		if err != nil {
			e.logger.Warn("type conversion failed",
				zap.String("field", field),
				zap.String("target", string(target)),
				zap.Error(err),
			)
			continue
		}
		record.Fields.Set(field, converted)
	}
}

func executeFilters(record *domain.Record, filters []domain.FilterRule) bool {
	for _, filter := range filters {
		value, ok := record.Get(filter.Field)
		if !ok {
			continue
		}
		if !matches(value, filter) {
			return false
		}
	}
	return true
}

func matches(value any, filter domain.FilterRule) bool {
	switch filter.Operator {
	case domain.FilterNotEqual:
		return !equalValues(value, filter.Value)
	case domain.FilterGreaterThan:
		left, lok := numeric(value)
		right, rok := numeric(filter.Value)
		return lok && rok && left > right
	case domain.FilterLessThan:
		left, lok := numeric(value)
		right, rok := numeric(filter.Value)
		return lok && rok && left < right
	default:
		return equalValues(value, filter.Value)
	}
}

func equalValues(left, right any) bool {
	if l, ok := numeric(left); ok {
		if r, ok := numeric(right); ok {
			return l == r
		}
		return false
	}
	return reflect.DeepEqual(domain.NormalizeValue(left), domain.NormalizeValue(right))
}

// numeric accepts native numbers only; numeric-looking strings are not
// compared as numbers.
func numeric(value any) (float64, bool) {
	switch typed := domain.NormalizeValue(value).(type) {
	case int64:
		return float64(typed), true
	case float64:
		return typed, true
	default:
		return 0, false
	}
}

// Convert coerces value to target. Int conversion goes through float so
// "3.9" becomes 3.
func Convert(value any, target domain.ConversionType) (any, error) {
	value = domain.NormalizeValue(value)
	switch target {
	case domain.ConvertInt:
		f, err := toFloat(value)
		if err != nil {
			return nil, err
		}
		if math.IsNaN(f) || math.IsInf(f, 0) || f > math.MaxInt64 || f < math.MinInt64 {
			return nil, fmt.Errorf("cannot convert %v to int", value)
		}
		return int64(f), nil
	case domain.ConvertFloat:
		return toFloat(value)
	case domain.ConvertStr:
		return toString(value), nil
	case domain.ConvertBool:
		return truthy(value), nil
	default:
		return nil, fmt.Errorf("unsupported conversion %q", target)
	}
}

func toFloat(value any) (float64, error) {
	switch typed := value.(type) {
	case int64:
		return float64(typed), nil
	case float64:
		return typed, nil
	case bool:
		if typed {
			return 1, nil
		}
		return 0, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(typed), 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert %q to number: %w", typed, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to number", value)
	}
}

func toString(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case int64:
		return strconv.FormatInt(typed, 10)
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	default:
		return fmt.Sprint(typed)
	}
}

func truthy(value any) bool {
	switch typed := value.(type) {
	case nil:
		return false
	case bool:
		return typed
	case string:
		return typed != ""
	case int64:
		return typed != 0
	case float64:
		return typed != 0
	case map[string]any:
		return len(typed) > 0
	case []any:
		return len(typed) > 0
	case domain.Repeated:
		return len(typed) > 0
	default:
		return true
	}
}
