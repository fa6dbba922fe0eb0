package domain

import (
	"fmt"
	"sort"
	"strings"
)

// ConversionType names a target type for a rule-driven conversion.
type ConversionType string

const (
	ConvertInt   ConversionType = "int"
	ConvertFloat ConversionType = "float"
	ConvertStr   ConversionType = "str"
	ConvertBool  ConversionType = "bool"
)

// FilterOperator compares a record value against a rule value.
type FilterOperator string

const (
	FilterEqual       FilterOperator = "=="
	FilterNotEqual    FilterOperator = "!="
	FilterGreaterThan FilterOperator = ">"
	FilterLessThan    FilterOperator = "<"
)

// FilterRule keeps a record only when its field satisfies the comparison.
// Records without the field pass.
type FilterRule struct {
	Field    string         `json:"field" yaml:"field"`
	Operator FilterOperator `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value    any            `json:"value" yaml:"value"`
}

// Rules describe the optional transformation stage of an ETL job. Mappings
// run first, then conversions, then filters.
type Rules struct {
	FieldMappings   map[string]string         `json:"field_mappings,omitempty" yaml:"field_mappings,omitempty"`
	TypeConversions map[string]ConversionType `json:"type_conversions,omitempty" yaml:"type_conversions,omitempty"`
	Filters         []FilterRule              `json:"filters,omitempty" yaml:"filters,omitempty"`
}

// IsZero reports whether the rules would leave records untouched.
func (r Rules) IsZero() bool {
	return len(r.FieldMappings) == 0 && len(r.TypeConversions) == 0 && len(r.Filters) == 0
}

// Validate checks operators and conversion targets.
func (r Rules) Validate() error {
	for from, to := range r.FieldMappings {
		if strings.TrimSpace(from) == "" || strings.TrimSpace(to) == "" {
			return fmt.Errorf("field mapping %q -> %q must name both fields", from, to)
		}
	}
	for field, target := range r.TypeConversions {
		switch target {
		case ConvertInt, ConvertFloat, ConvertStr, ConvertBool:
		default:
			return fmt.Errorf("unsupported conversion %q for field %s", target, field)
		}
	}
	for idx, filter := range r.Filters {
		if strings.TrimSpace(filter.Field) == "" {
			return fmt.Errorf("filter %d is missing a field", idx)
		}
		switch filter.Operator {
		case "", FilterEqual, FilterNotEqual, FilterGreaterThan, FilterLessThan:
		default:
			return fmt.Errorf("filter %d has unsupported operator %q", idx, filter.Operator)
		}
	}
	return nil
}

// MappingOrder returns the mapping sources sorted so renames apply
// deterministically.
func (r Rules) MappingOrder() []string {
	keys := make([]string, 0, len(r.FieldMappings))
	for key := range r.FieldMappings {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// ConversionOrder returns the converted fields in sorted order.
func (r Rules) ConversionOrder() []string {
	keys := make([]string, 0, len(r.TypeConversions))
	for key := range r.TypeConversions {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
