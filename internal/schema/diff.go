package schema

import (
	"sort"

	"github.com/rpattn/driftetl/internal/domain"
)

// Diff compares two schemas field by field and returns the changes ordered by
// field name. A type change hides any confidence change for the same field,
// and confidence is compared at bucket granularity.
func Diff(previous, next []domain.FieldSchema) []domain.Change {
	before := indexFields(previous)
	after := indexFields(next)

	names := make([]string, 0, len(before)+len(after))
	for name := range before {
		names = append(names, name)
	}
	for name := range after {
		if _, ok := before[name]; !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	changes := make([]domain.Change, 0)
	for _, name := range names {
		old, hadOld := before[name]
		cur, hasNew := after[name]

		switch {
		case !hadOld:
			changes = append(changes, domain.Change{Kind: domain.ChangeFieldAdded, Field: name, New: cur.Type})
		case !hasNew:
			changes = append(changes, domain.Change{Kind: domain.ChangeFieldRemoved, Field: name, Old: old.Type})
		case old.Type != cur.Type:
			changes = append(changes, domain.Change{Kind: domain.ChangeTypeChanged, Field: name, Old: old.Type, New: cur.Type})
		case old.Bucket() != cur.Bucket():
			changes = append(changes, domain.Change{Kind: domain.ChangeConfidenceChanged, Field: name, Old: old.Bucket(), New: cur.Bucket()})
		}
	}
	return changes
}

func indexFields(fields []domain.FieldSchema) map[string]domain.FieldSchema {
	out := make(map[string]domain.FieldSchema, len(fields))
	for _, field := range fields {
		out[field.Name] = field
	}
	return out
}
