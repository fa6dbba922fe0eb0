package schema

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/driftetl/internal/domain"
)

func TestCanonicalText(t *testing.T) {
	version := domain.SchemaVersion{
		ID:       2,
		SourceID: "orders",
		Hash:     "abc",
		Fields: []domain.FieldSchema{
			{Name: "id", Type: domain.FieldTypeInteger, Confidence: 1},
			{Name: "note", Type: domain.FieldTypeString, Confidence: 0.333, Nullable: true},
		},
	}

	expected := []string{
		"Version: v2",
		"Source: orders",
		"Hash: abc",
		"Fields:",
		"  id: integer confidence=1.00",
		"  note: string confidence=0.33 nullable",
	}
	assert.Equal(t, expected, CanonicalText(version))

	empty := CanonicalText(domain.SchemaVersion{ID: 1, SourceID: "s"})
	assert.Equal(t, "  (empty)", empty[len(empty)-1])
}

func TestTextDiff(t *testing.T) {
	base := domain.SchemaVersion{ID: 1, SourceID: "orders", Hash: "h1", Fields: []domain.FieldSchema{
		{Name: "id", Type: domain.FieldTypeInteger, Confidence: 1},
		{Name: "price", Type: domain.FieldTypeInteger, Confidence: 1},
	}}
	target := domain.SchemaVersion{ID: 4, SourceID: "orders", Hash: "h4", Fields: []domain.FieldSchema{
		{Name: "id", Type: domain.FieldTypeInteger, Confidence: 1},
		{Name: "price", Type: domain.FieldTypeFloat, Confidence: 1},
	}}

	diff := TextDiff(base, target)
	assert.True(t, strings.HasPrefix(diff, "--- v1\n+++ v4\n@@ -0,0 +0,0 @@\n"), diff)
	assert.Contains(t, diff, "-Version: v1\n")
	assert.Contains(t, diff, "+Version: v4\n")
	assert.Contains(t, diff, " Source: orders\n")
	assert.Contains(t, diff, "   id: integer confidence=1.00\n")
	assert.Contains(t, diff, "-  price: integer confidence=1.00\n")
	assert.Contains(t, diff, "+  price: float confidence=1.00\n")
}

func TestHandlerDiff(t *testing.T) {
	mux, store := newTestMux()
	_, err := store.Infer(records(map[string]any{"id": 1}), "orders")
	require.NoError(t, err)
	_, err = store.Infer(records(map[string]any{"id": 1, "name": "A"}), "orders")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/schema/diff?from=v1&to=v2", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "+  name: string confidence=1.00")

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/schema/diff?from=v1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/schema/diff?from=v1&to=v9", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
