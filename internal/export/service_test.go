package export

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/driftetl/internal/domain"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type jobTable map[uuid.UUID]domain.Job

func (t jobTable) Job(id uuid.UUID) (domain.Job, bool) {
	job, ok := t[id]
	return job, ok
}

func TestServiceExportInlineWithoutSink(t *testing.T) {
	service := NewService(WithClock(func() time.Time { return fixedNow }))

	artifact, err := service.Export(context.Background(), Request{
		JobID:   uuid.New(),
		Format:  FormatCSV,
		Records: sampleRecords(),
	})
	require.NoError(t, err)
	assert.False(t, artifact.Stored())
	assert.Equal(t, int64(len(artifact.Data)), artifact.Bytes)
	assert.True(t, strings.HasPrefix(string(artifact.Data), "data_type,"))
}

func TestServiceExportStoresArtifactAndSchema(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewDirSink(dir)
	require.NoError(t, err)
	service := NewService(WithSink(sink), WithClock(func() time.Time { return fixedNow }))

	jobID := uuid.New()
	version := domain.SchemaVersion{
		ID:       3,
		SourceID: "Web Orders",
		Hash:     "abc",
		Fields:   []domain.FieldSchema{{Name: "id", Type: domain.FieldTypeInteger, Confidence: 1}},
	}
	artifact, err := service.Export(context.Background(), Request{
		JobID:    jobID,
		SourceID: "Web Orders",
		Format:   FormatJSON,
		Records:  sampleRecords(),
		Schema:   version,
	})
	require.NoError(t, err)

	assert.Equal(t, "web-orders/dt=2024-03-01/"+jobID.String()+".json", artifact.Key)
	assert.Equal(t, filepath.Join(dir, "web-orders", "dt=2024-03-01", jobID.String()+".json"), artifact.URI)

	stored, err := os.ReadFile(artifact.URI)
	require.NoError(t, err)
	assert.Equal(t, artifact.Data, stored)

	schemaDoc, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(artifact.SchemaKey)))
	require.NoError(t, err)
	assert.Contains(t, string(schemaDoc), `"version": "v3"`)
	assert.Contains(t, string(schemaDoc), `"changes": []`)
}

func TestDirSinkConfinesKeys(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewDirSink(dir)
	require.NoError(t, err)

	location, err := sink.Put(context.Background(), "../../escape.txt", "text/plain", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "escape.txt"), location)

	_, err = sink.Put(context.Background(), "/", "text/plain", []byte("x"))
	assert.Error(t, err)

	_, err = NewDirSink(" ")
	assert.Error(t, err)
}

func TestDownloadSigner(t *testing.T) {
	signer := NewDownloadSigner(time.Minute)
	jobID := uuid.New()
	key := "orders/dt=2024-03-01/out.csv"
	token := signer.Sign(jobID, key, fixedNow)

	assert.NoError(t, signer.Verify(jobID, key, token, fixedNow.Add(30*time.Second)))
	assert.ErrorIs(t, signer.Verify(jobID, key, token, fixedNow.Add(2*time.Minute)), ErrInvalidDownloadToken)
	assert.Error(t, signer.Verify(uuid.New(), key, token, fixedNow))
	assert.Error(t, signer.Verify(jobID, "orders/other.csv", token, fixedNow))
	assert.Error(t, signer.Verify(jobID, key, "", fixedNow))
	assert.Error(t, signer.Verify(jobID, key, "not base64!", fixedNow))
	assert.Error(t, NewDownloadSigner(time.Minute).Verify(jobID, key, token, fixedNow))
}

func TestDownloadHandler(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewDirSink(dir)
	require.NoError(t, err)
	service := NewService(WithSink(sink), WithClock(func() time.Time { return fixedNow }))

	jobID := uuid.New()
	artifact, err := service.Export(context.Background(), Request{JobID: jobID, SourceID: "s", Format: FormatCSV, Records: sampleRecords()})
	require.NoError(t, err)

	completed := fixedNow
	job := domain.Job{
		ID:           jobID,
		Status:       domain.JobStatusCompleted,
		CreatedAt:    fixedNow,
		CompletedAt:  &completed,
		TargetFormat: string(FormatCSV),
		OutputKey:    artifact.Key,
		OutputBytes:  artifact.Bytes,
	}
	mux := http.NewServeMux()
	NewHTTPHandler(service, jobTable{jobID: job}).Register(mux)

	link := service.BuildDownloadURL(job)
	require.NotNil(t, link)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, *link, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, artifact.Data, body)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/etl/jobs/"+jobID.String()+"/download?token="+url.QueryEscape("bogus"), nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/etl/jobs/"+uuid.NewString()+"/download", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	pending := job
	pending.Status = domain.JobStatusProcessing
	assert.Nil(t, service.BuildDownloadURL(pending))
}
