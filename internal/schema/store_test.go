package schema

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/driftetl/internal/domain"
	"github.com/rpattn/driftetl/internal/extract"
)

func records(rows ...map[string]any) []domain.Record {
	out := make([]domain.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.NewRecordFromMap(row, "row"))
	}
	return out
}

func fixedClock() func() time.Time {
	return func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
}

func newTestStore() *Store {
	store := NewStore(nil)
	store.SetClock(fixedClock())
	return store
}

func TestInferIsIdempotent(t *testing.T) {
	store := newTestStore()
	batch := records(map[string]any{"a": 1})

	first, err := store.Infer(batch, "orders")
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.Equal(t, domain.VersionID(1), first.Version.ID)

	second, err := store.Infer(batch, "orders")
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Version.ID, second.Version.ID)
	assert.Equal(t, first.Version.Hash, second.Version.Hash)
	assert.Empty(t, second.Changes)
	assert.NotNil(t, second.Changes)

	assert.Len(t, store.ListVersions("orders"), 1)
}

func TestInferAddedFieldMintsNextVersion(t *testing.T) {
	store := newTestStore()

	_, err := store.Infer(records(map[string]any{"a": 1}), "orders")
	require.NoError(t, err)

	outcome, err := store.Infer(records(map[string]any{"a": 1, "b": "x"}), "orders")
	require.NoError(t, err)

	assert.True(t, outcome.Created)
	assert.Equal(t, "v2", outcome.Version.ID.String())
	require.NotNil(t, outcome.Version.PreviousID)
	assert.Equal(t, domain.VersionID(1), *outcome.Version.PreviousID)
	assert.Equal(t, []domain.Change{
		{Kind: domain.ChangeFieldAdded, Field: "b", New: domain.FieldTypeString},
	}, outcome.Changes)
	assert.Equal(t, outcome.Changes, outcome.Version.Changes)
}

func TestFirstVersionListsEveryFieldAsAdded(t *testing.T) {
	store := newTestStore()

	outcome, err := store.Infer(records(map[string]any{"b": "x", "a": 1}), "orders")
	require.NoError(t, err)

	require.Len(t, outcome.Changes, 3)
	for _, change := range outcome.Changes {
		assert.Equal(t, domain.ChangeFieldAdded, change.Kind)
	}
	assert.Equal(t, "a", outcome.Changes[0].Field)
	assert.Equal(t, "b", outcome.Changes[1].Field)
	assert.Equal(t, domain.DataTypeKey, outcome.Changes[2].Field)
	assert.Nil(t, outcome.Version.PreviousID)
}

func TestExportUnknownVersion(t *testing.T) {
	store := newTestStore()

	for _, id := range []string{"nonexistent", "v0", "v99", ""} {
		_, err := store.Export(id)
		assert.ErrorIsf(t, err, domain.ErrSchemaVersionNotFound, "export %q", id)
		assert.True(t, IsNotFound(err))
	}
}

func TestExportDocument(t *testing.T) {
	store := newTestStore()
	outcome, err := store.Infer(records(map[string]any{"price": "9.99"}), "catalog")
	require.NoError(t, err)

	doc, err := store.Export("v1")
	require.NoError(t, err)
	assert.Equal(t, outcome.Version.ID, doc.Version)
	assert.Equal(t, "catalog", doc.SourceID)
	assert.Equal(t, outcome.Version.Hash, doc.Hash)
	assert.Equal(t, fixedClock()(), doc.Timestamp)
	assert.Len(t, doc.Fields, 2)

	bare, err := store.Export("1")
	require.NoError(t, err)
	assert.Equal(t, doc, bare)
}

func TestRevertReusesEarlierVersion(t *testing.T) {
	store := newTestStore()
	original := records(map[string]any{"a": 1})

	_, err := store.Infer(original, "orders")
	require.NoError(t, err)
	_, err = store.Infer(records(map[string]any{"a": 1, "b": "x"}), "orders")
	require.NoError(t, err)

	outcome, err := store.Infer(original, "orders")
	require.NoError(t, err)
	assert.False(t, outcome.Created)
	assert.Equal(t, domain.VersionID(1), outcome.Version.ID)
	assert.Equal(t, []domain.Change{
		{Kind: domain.ChangeFieldRemoved, Field: "b", Old: domain.FieldTypeString},
	}, outcome.Changes)

	current, ok := store.Current("orders")
	require.True(t, ok)
	assert.Equal(t, domain.VersionID(1), current.ID)
	assert.Len(t, store.ListVersions("orders"), 2)
}

func TestTypeChangeSuppressesConfidenceChange(t *testing.T) {
	store := newTestStore()

	_, err := store.Infer(records(map[string]any{"a": "1"}, map[string]any{"a": "2"}), "s")
	require.NoError(t, err)

	outcome, err := store.Infer(records(map[string]any{"a": "x"}, map[string]any{"a": "y"}, map[string]any{"a": "1"}), "s")
	require.NoError(t, err)
	assert.Equal(t, []domain.Change{
		{Kind: domain.ChangeTypeChanged, Field: "a", Old: domain.FieldTypeInteger, New: domain.FieldTypeString},
	}, outcome.Changes)
}

func TestConfidenceBucketChange(t *testing.T) {
	store := newTestStore()

	_, err := store.Infer(records(map[string]any{"a": "1"}, map[string]any{"a": "2"}), "s")
	require.NoError(t, err)

	outcome, err := store.Infer(records(map[string]any{"a": "1"}, map[string]any{"a": "2"}, map[string]any{"a": "x"}), "s")
	require.NoError(t, err)
	assert.True(t, outcome.Created)
	assert.Equal(t, []domain.Change{
		{Kind: domain.ChangeConfidenceChanged, Field: "a", Old: 1.0, New: 0.67},
	}, outcome.Changes)
}

func TestHistoriesArePartitionedBySource(t *testing.T) {
	store := newTestStore()
	batch := records(map[string]any{"a": 1})

	first, err := store.Infer(batch, "left")
	require.NoError(t, err)
	second, err := store.Infer(batch, "right")
	require.NoError(t, err)

	assert.True(t, second.Created)
	assert.NotEqual(t, first.Version.ID, second.Version.ID)
	assert.Equal(t, first.Version.Hash, second.Version.Hash)
	assert.Equal(t, []string{"left", "right"}, store.Sources())
	assert.Empty(t, store.ListVersions("missing"))
}

func TestInferRejectsInvalidInput(t *testing.T) {
	store := newTestStore()

	_, err := store.Infer(nil, "orders")
	assert.ErrorIs(t, err, domain.ErrInvalidSourceBatch)

	_, err = store.Infer(records(map[string]any{"a": 1}), " ")
	assert.ErrorIs(t, err, domain.ErrInvalidSourceBatch)

	_, err = store.Commit("orders", []domain.FieldSchema{{Name: "a", Type: "money", Confidence: 1}})
	assert.ErrorIs(t, err, domain.ErrInvalidSourceBatch)
}

func TestConcurrentInferSameSourceCreatesOneVersion(t *testing.T) {
	store := newTestStore()
	batch := records(map[string]any{"a": 1, "b": "x"})

	var wg sync.WaitGroup
	created := make(chan bool, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := store.Infer(batch, "orders")
			if err != nil {
				t.Errorf("infer: %v", err)
				return
			}
			created <- outcome.Created
		}()
	}
	wg.Wait()
	close(created)

	count := 0
	for ok := range created {
		if ok {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.Len(t, store.ListVersions("orders"), 1)
}

func TestConcurrentInferDistinctSourcesGetUniqueIDs(t *testing.T) {
	store := newTestStore()

	var wg sync.WaitGroup
	ids := make(chan domain.VersionID, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcome, err := store.Infer(records(map[string]any{"n": i}), fmt.Sprintf("source-%d", i))
			if err != nil {
				t.Errorf("infer: %v", err)
				return
			}
			ids <- outcome.Version.ID
		}(i)
	}
	wg.Wait()
	close(ids)

	seen := make(map[domain.VersionID]struct{})
	for id := range ids {
		_, dup := seen[id]
		assert.Falsef(t, dup, "duplicate version id %s", id)
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, 16)
	assert.Equal(t, Stats{Sources: 16, Versions: 16, LatestVersion: 16}, store.Stats())
}

func TestListVersionsInCreationOrder(t *testing.T) {
	store := newTestStore()
	for _, row := range []map[string]any{{"a": 1}, {"a": 1, "b": 2}, {"a": 1, "b": 2, "c": 3}} {
		_, err := store.Infer(records(row), "orders")
		require.NoError(t, err)
	}

	summaries := store.ListVersions("orders")
	require.Len(t, summaries, 3)
	for idx, summary := range summaries {
		assert.Equal(t, domain.VersionID(idx+1), summary.ID)
		assert.Equal(t, idx+2, summary.FieldsCount)
	}
}

func TestRestore(t *testing.T) {
	source := newTestStore()
	_, err := source.Infer(records(map[string]any{"a": 1}), "orders")
	require.NoError(t, err)
	_, err = source.Infer(records(map[string]any{"a": 1, "b": "x"}), "orders")
	require.NoError(t, err)

	var persisted []domain.SchemaVersion
	for _, summary := range source.ListVersions("orders") {
		version, err := source.Get(summary.ID)
		require.NoError(t, err)
		persisted = append(persisted, version)
	}

	restored := newTestStore()
	require.NoError(t, restored.Restore([]domain.SchemaVersion{persisted[1], persisted[0]}))

	current, ok := restored.Current("orders")
	require.True(t, ok)
	assert.Equal(t, domain.VersionID(2), current.ID)

	outcome, err := restored.Infer(records(map[string]any{"c": true}), "other")
	require.NoError(t, err)
	assert.Equal(t, domain.VersionID(3), outcome.Version.ID)

	again, err := restored.Infer(records(map[string]any{"a": 1, "b": "x"}), "orders")
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Equal(t, domain.VersionID(2), again.Version.ID)
}

func TestRestoreRejectsTamperedVersions(t *testing.T) {
	source := newTestStore()
	outcome, err := source.Infer(records(map[string]any{"a": 1}), "orders")
	require.NoError(t, err)

	tampered := outcome.Version.Clone()
	tampered.Hash = "deadbeef"
	assert.ErrorIs(t, newTestStore().Restore([]domain.SchemaVersion{tampered}), domain.ErrInternalInvariant)

	orphan := outcome.Version.Clone()
	orphan.SourceID = ""
	assert.ErrorIs(t, newTestStore().Restore([]domain.SchemaVersion{orphan}), domain.ErrInternalInvariant)

	dup := outcome.Version.Clone()
	assert.ErrorIs(t, newTestStore().Restore([]domain.SchemaVersion{dup, dup}), domain.ErrInternalInvariant)
}

func TestCanonicalBucketsConfidence(t *testing.T) {
	fields := []domain.FieldSchema{
		{Name: "a", Type: domain.FieldTypeInteger, Confidence: 2.0 / 3.0},
		{Name: "b|c", Type: domain.FieldTypeString, Confidence: 1},
	}
	assert.Equal(t, "\"a\"|integer|0.67\n\"b|c\"|string|1.00\n", Canonical(fields))

	nudged := domain.CopyFieldSchemas(fields)
	nudged[0].Confidence = 0.6666
	assert.Equal(t, hashOf(Canonical(fields)), hashOf(Canonical(nudged)))
}

func TestDiff(t *testing.T) {
	previous := []domain.FieldSchema{
		{Name: "gone", Type: domain.FieldTypeString, Confidence: 1},
		{Name: "kept", Type: domain.FieldTypeInteger, Confidence: 1},
		{Name: "retyped", Type: domain.FieldTypeInteger, Confidence: 1},
	}
	next := []domain.FieldSchema{
		{Name: "added", Type: domain.FieldTypeDate, Confidence: 1},
		{Name: "kept", Type: domain.FieldTypeInteger, Confidence: 0.999},
		{Name: "retyped", Type: domain.FieldTypeFloat, Confidence: 0.5},
	}

	assert.Equal(t, []domain.Change{
		{Kind: domain.ChangeFieldAdded, Field: "added", New: domain.FieldTypeDate},
		{Kind: domain.ChangeFieldRemoved, Field: "gone", Old: domain.FieldTypeString},
		{Kind: domain.ChangeTypeChanged, Field: "retyped", Old: domain.FieldTypeInteger, New: domain.FieldTypeFloat},
	}, Diff(previous, next))

	assert.Empty(t, Diff(next, next))
}

func TestInferAcceptsParsedBlankJSONKeys(t *testing.T) {
	parsed := extract.NewParser(extract.DefaultConfig(), nil).Parse("--- INLINE JSON\n{\"\": 1, \"a\": 2}\n", "blank.txt")
	require.Len(t, parsed, 1)

	outcome, err := newTestStore().Infer(parsed, "blank")
	require.NoError(t, err)

	names := make([]string, 0, len(outcome.Version.Fields))
	for _, field := range outcome.Version.Fields {
		assert.NotEmpty(t, field.Name)
		names = append(names, field.Name)
	}
	assert.Contains(t, names, "column_1")
	assert.Contains(t, names, "a")
}
