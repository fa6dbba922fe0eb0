package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/driftetl/internal/domain"
)

// ErrArtifactUnavailable is returned when a job has no downloadable output.
var ErrArtifactUnavailable = errors.New("export artifact is unavailable")

// Opener is implemented by sinks that can stream artifacts back.
type Opener interface {
	Open(key string) (*os.File, error)
}

// Service renders job output and hands it to the configured sink.
type Service struct {
	sink   Sink
	signer *DownloadSigner
	now    func() time.Time
}

type Option func(*Service)

// WithSink stores artifacts in sink. Without one, output is only returned
// inline.
func WithSink(sink Sink) Option {
	return func(s *Service) {
		s.sink = sink
	}
}

// WithDownloadTokenTTL customizes the TTL for generated download links.
func WithDownloadTokenTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.signer = NewDownloadSigner(ttl)
		}
	}
}

// WithClock overrides the clock used for keys and tokens.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(opts ...Option) *Service {
	service := &Service{now: time.Now}
	for _, opt := range opts {
		opt(service)
	}
	if service.signer == nil {
		service.signer = NewDownloadSigner(5 * time.Minute)
	}
	return service
}

// Request describes one job output.
type Request struct {
	JobID    uuid.UUID
	SourceID string
	Format   Format
	Records  []domain.Record
	Schema   domain.SchemaVersion
}

// Artifact is the rendered output of a job.
type Artifact struct {
	Format      Format `json:"format"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"-"`
	Bytes       int64  `json:"bytes"`
	Key         string `json:"key,omitempty"`
	URI         string `json:"uri,omitempty"`
	SchemaKey   string `json:"schema_key,omitempty"`
}

// Stored reports whether the artifact was written to a sink.
func (a Artifact) Stored() bool {
	return a.Key != ""
}

// Export renders the records and, when a sink is configured, stores the
// output next to the schema document of the version it was inferred under.
func (s *Service) Export(ctx context.Context, req Request) (Artifact, error) {
	var buf bytes.Buffer
	counter := &countingWriter{writer: &buf}
	if err := Write(counter, req.Format, req.Records, req.Schema.Fields); err != nil {
		return Artifact{}, err
	}

	artifact := Artifact{
		Format:      req.Format,
		ContentType: req.Format.ContentType(),
		Data:        buf.Bytes(),
		Bytes:       counter.count,
	}
	if s.sink == nil {
		return artifact, nil
	}

	now := s.now()
	key := ArtifactKey(req.SourceID, req.JobID.String(), req.Format, now)
	uri, err := s.sink.Put(ctx, key, artifact.ContentType, artifact.Data)
	if err != nil {
		return Artifact{}, fmt.Errorf("store artifact: %w", err)
	}
	artifact.Key = key
	artifact.URI = uri

	if req.Schema.ID != 0 {
		doc, err := SchemaDocument(req.Schema)
		if err != nil {
			return Artifact{}, fmt.Errorf("render schema document: %w", err)
		}
		schemaKey := strings.TrimSuffix(key, req.Format.Extension()) + "-schema.json"
		if _, err := s.sink.Put(ctx, schemaKey, "application/json", doc); err != nil {
			return Artifact{}, fmt.Errorf("store schema document: %w", err)
		}
		artifact.SchemaKey = schemaKey
	}
	return artifact, nil
}

// BuildDownloadURL signs a short-lived download URL for a stored artifact.
// It returns nil when the job output cannot be streamed back.
func (s *Service) BuildDownloadURL(job domain.Job) *string {
	if job.Status != domain.JobStatusCompleted || strings.TrimSpace(job.OutputKey) == "" {
		return nil
	}
	if _, ok := s.sink.(Opener); !ok {
		return nil
	}
	values := url.Values{}
	values.Set("token", s.signer.Sign(job.ID, job.OutputKey, s.now()))
	download := fmt.Sprintf("/etl/jobs/%s/download?%s", job.ID.String(), values.Encode())
	return &download
}

// ValidateDownloadToken ensures the token was issued for the job's artifact.
func (s *Service) ValidateDownloadToken(job domain.Job, token string) error {
	return s.signer.Verify(job.ID, job.OutputKey, token, s.now())
}

// OpenJobFile opens the stored output of a completed job.
func (s *Service) OpenJobFile(job domain.Job) (*os.File, error) {
	if job.Status != domain.JobStatusCompleted || strings.TrimSpace(job.OutputKey) == "" {
		return nil, ErrArtifactUnavailable
	}
	opener, ok := s.sink.(Opener)
	if !ok {
		return nil, ErrArtifactUnavailable
	}
	return opener.Open(job.OutputKey)
}

type countingWriter struct {
	writer io.Writer
	count  int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.writer.Write(p)
	c.count += int64(n)
	return n, err
}
