// Package validator checks records against an inferred schema version.
package validator

import (
	"fmt"
	"sort"

	"github.com/rpattn/driftetl/internal/domain"
	"github.com/rpattn/driftetl/internal/inference"
)

// RecordValidator validates records against schema versions.
type RecordValidator struct{}

// NewRecordValidator creates a new record validator
func NewRecordValidator() *RecordValidator {
	return &RecordValidator{}
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}

// ValidationResult represents the result of validation
type ValidationResult struct {
	IsValid  bool              `json:"is_valid"`
	Errors   []ValidationError `json:"errors"`
	Warnings []ValidationError `json:"warnings"`
}

// RecordResult ties a validation result to the record's batch position.
type RecordResult struct {
	Index int `json:"index"`
	ValidationResult
}

// BatchResult summarises a batch. Only records with errors or warnings are
// listed.
type BatchResult struct {
	Version  domain.VersionID `json:"version"`
	Valid    int              `json:"valid"`
	Invalid  int              `json:"invalid"`
	Findings []RecordResult   `json:"findings"`
}

// ValidateRecord checks every column of record against version. Missing or
// null values fail only for fields that were never null; columns the
// version does not know are reported as warnings since they signal drift.
func (rv *RecordValidator) ValidateRecord(record domain.Record, version domain.SchemaVersion) ValidationResult {
	result := ValidationResult{
		IsValid:  true,
		Errors:   []ValidationError{},
		Warnings: []ValidationError{},
	}
	columns := record.Columns()

	for _, field := range version.Fields {
		value, exists := columns.Get(field.Name)

		if !exists || inference.Classify(value) == domain.FieldTypeNull {
			if !field.Nullable && field.Type != domain.FieldTypeNull {
				result.IsValid = false
				result.Errors = append(result.Errors, ValidationError{
					Field:   field.Name,
					Message: fmt.Sprintf("required field '%s' is missing", field.Name),
				})
			}
			continue
		}

		if err := rv.validateFieldType(field, value); err != nil {
			if field.Type == domain.FieldTypeNull {
				result.Warnings = append(result.Warnings, ValidationError{Field: field.Name, Message: err.Error(), Value: value})
				continue
			}
			result.IsValid = false
			result.Errors = append(result.Errors, ValidationError{
				Field:   field.Name,
				Message: err.Error(),
				Value:   value,
			})
		}
	}

	columns.Range(func(name string, value any) bool {
		if _, known := version.Field(name); !known {
			result.Warnings = append(result.Warnings, ValidationError{
				Field:   name,
				Message: fmt.Sprintf("property '%s' is not defined in schema %s", name, version.ID),
				Value:   value,
			})
		}
		return true
	})

	return result
}

// ValidateBatch validates every record and collects the findings.
func (rv *RecordValidator) ValidateBatch(records []domain.Record, version domain.SchemaVersion) BatchResult {
	batch := BatchResult{Version: version.ID, Findings: []RecordResult{}}
	for idx, record := range records {
		result := rv.ValidateRecord(record, version)
		if result.IsValid {
			batch.Valid++
		} else {
			batch.Invalid++
		}
		if !result.IsValid || len(result.Warnings) > 0 {
			batch.Findings = append(batch.Findings, RecordResult{Index: idx, ValidationResult: result})
		}
	}
	sort.SliceStable(batch.Findings, func(i, j int) bool { return batch.Findings[i].Index < batch.Findings[j].Index })
	return batch
}

// validateFieldType checks a non-null value. Repeated values are checked
// element by element, matching how inference counts them.
func (rv *RecordValidator) validateFieldType(field domain.FieldSchema, value any) error {
	if repeated, ok := value.(domain.Repeated); ok {
		for _, item := range repeated {
			if inference.Classify(item) == domain.FieldTypeNull {
				continue
			}
			if err := rv.validateFieldType(field, item); err != nil {
				return err
			}
		}
		return nil
	}

	observed := inference.Classify(value)
	if compatible(field.Type, observed) {
		return nil
	}
	return fmt.Errorf("field '%s' must be %s, got %s", field.Name, field.Type, observed)
}

// compatible reports whether a value classified as observed may be stored
// in a field of the expected type.
func compatible(expected, observed domain.FieldType) bool {
	if expected == observed {
		return true
	}
	switch expected {
	case domain.FieldTypeFloat:
		return observed == domain.FieldTypeInteger
	case domain.FieldTypeString:
		switch observed {
		case domain.FieldTypeInteger, domain.FieldTypeFloat, domain.FieldTypeDate, domain.FieldTypeBoolean:
			return true
		}
	}
	return false
}
