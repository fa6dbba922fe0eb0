package validator

import (
	"fmt"
	"math"
	"strings"

	"github.com/rpattn/driftetl/internal/domain"
)

// ValidateFields ensures a candidate schema can be versioned: every field has
// a unique non-empty name, a known type and a confidence within [0,1]. A null
// field must carry zero confidence.
func ValidateFields(fields []domain.FieldSchema) error {
	seen := make(map[string]struct{}, len(fields))

	for _, field := range fields {
		if strings.TrimSpace(field.Name) == "" {
			return fmt.Errorf("field name must not be empty")
		}
		if _, dup := seen[field.Name]; dup {
			return fmt.Errorf("field %s is declared more than once", field.Name)
		}
		seen[field.Name] = struct{}{}

		if !field.Type.Valid() {
			return fmt.Errorf("field %s has unknown type %q", field.Name, field.Type)
		}
		if math.IsNaN(field.Confidence) || field.Confidence < 0 || field.Confidence > 1 {
			return fmt.Errorf("field %s confidence %v is outside [0,1]", field.Name, field.Confidence)
		}
		if field.Type == domain.FieldTypeNull && field.Confidence != 0 {
			return fmt.Errorf("field %s is null but has confidence %v", field.Name, field.Confidence)
		}
	}

	return nil
}
