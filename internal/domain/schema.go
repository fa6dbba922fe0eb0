package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// FieldType represents the inferred type of a field.
type FieldType string

const (
	FieldTypeString  FieldType = "string"
	FieldTypeInteger FieldType = "integer"
	FieldTypeFloat   FieldType = "float"
	FieldTypeBoolean FieldType = "boolean"
	FieldTypeDate    FieldType = "date"
	FieldTypeNull    FieldType = "null"
	FieldTypeObject  FieldType = "object"
	FieldTypeArray   FieldType = "array"
)

// specificity ranks types for majority tie-breaks; higher wins.
var specificity = map[FieldType]int{
	FieldTypeInteger: 7,
	FieldTypeFloat:   6,
	FieldTypeDate:    5,
	FieldTypeBoolean: 4,
	FieldTypeString:  3,
	FieldTypeObject:  2,
	FieldTypeArray:   1,
	FieldTypeNull:    0,
}

// Valid reports whether the type is one of the known field types.
func (t FieldType) Valid() bool {
	_, ok := specificity[t]
	return ok
}

// MoreSpecificThan reports whether t wins a tie against other.
func (t FieldType) MoreSpecificThan(other FieldType) bool {
	return specificity[t] > specificity[other]
}

// FieldSchema is the inferred shape of one field across a batch.
type FieldSchema struct {
	Name       string    `json:"name"`
	Type       FieldType `json:"type"`
	Confidence float64   `json:"confidence"`
	Nullable   bool      `json:"nullable"`
	Samples    []any     `json:"sample_values,omitempty"`
}

// BucketConfidence rounds a confidence to two decimals so float noise does
// not register as drift.
func BucketConfidence(confidence float64) float64 {
	return math.Round(confidence*100) / 100
}

// Bucket returns the field's bucketed confidence.
func (f FieldSchema) Bucket() float64 {
	return BucketConfidence(f.Confidence)
}

// VersionID identifies a schema version. Ids are allocated from one counter
// shared by every source.
type VersionID int64

func (id VersionID) String() string {
	return fmt.Sprintf("v%d", int64(id))
}

// MarshalJSON renders the id as "v<N>".
func (id VersionID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON accepts "v<N>", "<N>" or a bare number.
func (id *VersionID) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseVersionID(fmt.Sprint(raw))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseVersionID parses "v<N>" or "<N>" into a positive VersionID.
func ParseVersionID(raw string) (VersionID, error) {
	trimmed := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(raw)), "v")
	value, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("invalid version id %q", raw)
	}
	return VersionID(value), nil
}

// ChangeKind classifies drift between consecutive versions.
type ChangeKind string

const (
	ChangeFieldAdded        ChangeKind = "field_added"
	ChangeFieldRemoved      ChangeKind = "field_removed"
	ChangeTypeChanged       ChangeKind = "type_changed"
	ChangeConfidenceChanged ChangeKind = "confidence_changed"
)

// Change describes one field level difference from the previous version.
type Change struct {
	Kind  ChangeKind `json:"kind"`
	Field string     `json:"field"`
	Old   any        `json:"old,omitempty"`
	New   any        `json:"new,omitempty"`
}

// SchemaVersion is an immutable, hash identified schema snapshot.
type SchemaVersion struct {
	ID         VersionID     `json:"version"`
	SourceID   string        `json:"source_id"`
	CreatedAt  time.Time     `json:"timestamp"`
	Hash       string        `json:"hash"`
	Fields     []FieldSchema `json:"fields"`
	Changes    []Change      `json:"changes"`
	PreviousID *VersionID    `json:"previous_version,omitempty"`
}

// Field looks up a field by name.
func (v SchemaVersion) Field(name string) (FieldSchema, bool) {
	for _, field := range v.Fields {
		if field.Name == name {
			return field, true
		}
	}
	return FieldSchema{}, false
}

// Clone returns a deep copy so callers can never mutate stored history.
func (v SchemaVersion) Clone() SchemaVersion {
	clone := v
	clone.Fields = CopyFieldSchemas(v.Fields)
	clone.Changes = copyChanges(v.Changes)
	if v.PreviousID != nil {
		prev := *v.PreviousID
		clone.PreviousID = &prev
	}
	return clone
}

// Summary returns the listing view of the version.
func (v SchemaVersion) Summary() SchemaVersionSummary {
	return SchemaVersionSummary{
		ID:          v.ID,
		SourceID:    v.SourceID,
		CreatedAt:   v.CreatedAt,
		Hash:        v.Hash,
		FieldsCount: len(v.Fields),
		Changes:     copyChanges(v.Changes),
	}
}

// SchemaVersionSummary is the listing view of a version.
type SchemaVersionSummary struct {
	ID          VersionID `json:"version"`
	SourceID    string    `json:"source_id"`
	CreatedAt   time.Time `json:"timestamp"`
	Hash        string    `json:"hash"`
	FieldsCount int       `json:"fields_count"`
	Changes     []Change  `json:"changes"`
}

// CopyFieldSchemas creates a deep copy of the slice to ensure immutability.
func CopyFieldSchemas(fields []FieldSchema) []FieldSchema {
	if fields == nil {
		return nil
	}
	out := make([]FieldSchema, len(fields))
	for idx, field := range fields {
		out[idx] = field
		if field.Samples != nil {
			out[idx].Samples = append([]any(nil), field.Samples...)
		}
	}
	return out
}

func copyChanges(changes []Change) []Change {
	if changes == nil {
		return []Change{}
	}
	out := make([]Change, len(changes))
	copy(out, changes)
	return out
}
