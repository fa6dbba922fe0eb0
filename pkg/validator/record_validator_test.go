package validator

import (
	"testing"

	"github.com/rpattn/driftetl/internal/domain"
)

func testVersion() domain.SchemaVersion {
	return domain.SchemaVersion{
		ID:       3,
		SourceID: "orders",
		Fields: []domain.FieldSchema{
			{Name: "amount", Type: domain.FieldTypeFloat, Confidence: 1},
			{Name: "data_type", Type: domain.FieldTypeString, Confidence: 1},
			{Name: "note", Type: domain.FieldTypeString, Confidence: 0.5, Nullable: true},
			{Name: "qty", Type: domain.FieldTypeInteger, Confidence: 1},
		},
	}
}

func TestValidateRecordAcceptsConformingValues(t *testing.T) {
	record := domain.NewRecordFromMap(map[string]any{"amount": int64(3), "qty": "4", "note": nil}, "order")

	result := NewRecordValidator().ValidateRecord(record, testVersion())
	if !result.IsValid {
		t.Fatalf("expected record to be valid, got %+v", result.Errors)
	}
	if len(result.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %+v", result.Warnings)
	}
}

func TestValidateRecordReportsTypeMismatch(t *testing.T) {
	record := domain.NewRecordFromMap(map[string]any{"amount": "lots", "qty": 2.5}, "order")

	result := NewRecordValidator().ValidateRecord(record, testVersion())
	if result.IsValid {
		t.Fatalf("expected record to be invalid")
	}
	if len(result.Errors) != 2 {
		t.Fatalf("expected 2 errors, got %+v", result.Errors)
	}
	if result.Errors[0].Field != "amount" || result.Errors[1].Field != "qty" {
		t.Fatalf("unexpected error fields: %+v", result.Errors)
	}
}

func TestValidateRecordMissingRequiredField(t *testing.T) {
	record := domain.NewRecordFromMap(map[string]any{"amount": 1.5}, "order")

	result := NewRecordValidator().ValidateRecord(record, testVersion())
	if result.IsValid || len(result.Errors) != 1 || result.Errors[0].Field != "qty" {
		t.Fatalf("expected missing qty error, got %+v", result.Errors)
	}
}

func TestValidateRecordWarnsOnUnknownColumns(t *testing.T) {
	record := domain.NewRecordFromMap(map[string]any{"amount": 1.5, "qty": int64(1), "coupon": "SAVE20"}, "order")

	result := NewRecordValidator().ValidateRecord(record, testVersion())
	if !result.IsValid {
		t.Fatalf("expected unknown columns not to invalidate, got %+v", result.Errors)
	}
	if len(result.Warnings) != 1 || result.Warnings[0].Field != "coupon" {
		t.Fatalf("expected coupon warning, got %+v", result.Warnings)
	}
}

func TestValidateRecordRepeatedValues(t *testing.T) {
	record := domain.NewRecord("order")
	record.Set("amount", 1.0)
	record.Set("qty", domain.Repeated{int64(1), "2", "x"})

	result := NewRecordValidator().ValidateRecord(record, testVersion())
	if result.IsValid {
		t.Fatalf("expected repeated value with a string to be invalid")
	}
}

func TestValidateBatch(t *testing.T) {
	records := []domain.Record{
		domain.NewRecordFromMap(map[string]any{"amount": 1.5, "qty": int64(1)}, "order"),
		domain.NewRecordFromMap(map[string]any{"amount": true, "qty": int64(1)}, "order"),
		domain.NewRecordFromMap(map[string]any{"amount": 2.0, "qty": int64(2), "extra": 1.0}, "order"),
	}

	batch := NewRecordValidator().ValidateBatch(records, testVersion())
	if batch.Valid != 2 || batch.Invalid != 1 {
		t.Fatalf("unexpected counts: %+v", batch)
	}
	if len(batch.Findings) != 2 || batch.Findings[0].Index != 1 || batch.Findings[1].Index != 2 {
		t.Fatalf("unexpected findings: %+v", batch.Findings)
	}
	if batch.Version != 3 {
		t.Fatalf("expected version v3, got %s", batch.Version)
	}
}
