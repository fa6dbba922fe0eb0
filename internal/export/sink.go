package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/rpattn/driftetl/internal/domain"
)

// Sink stores finished artifacts and returns a locator for them.
type Sink interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// DirSink writes artifacts below a local directory.
type DirSink struct {
	dir string
}

// NewDirSink returns a sink rooted at dir.
func NewDirSink(dir string) (*DirSink, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("export directory is not configured")
	}
	return &DirSink{dir: filepath.Clean(dir)}, nil
}

// Dir returns the root directory.
func (s *DirSink) Dir() string {
	return s.dir
}

// Put writes data to a temporary file and renames it into place so readers
// never observe a partial artifact.
func (s *DirSink) Put(ctx context.Context, key, _ string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return "", fmt.Errorf("ensure export directory: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(name), ".artifact-*")
	if err != nil {
		return "", fmt.Errorf("create temp export file: %w", err)
	}
	tempPath := tempFile.Name()
	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		_ = os.Remove(tempPath)
		return "", fmt.Errorf("write export file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		_ = os.Remove(tempPath)
		return "", fmt.Errorf("close export file: %w", err)
	}
	if err := os.Rename(tempPath, name); err != nil {
		_ = os.Remove(tempPath)
		return "", fmt.Errorf("finalize export file: %w", err)
	}
	return name, nil
}

// Open returns the artifact stored under key.
func (s *DirSink) Open(key string) (*os.File, error) {
	name, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open export file: %w", err)
	}
	return file, nil
}

func (s *DirSink) resolve(key string) (string, error) {
	cleaned := filepath.Clean("/" + filepath.ToSlash(key))
	if cleaned == "/" {
		return "", errors.New("artifact key is required")
	}
	return filepath.Join(s.dir, filepath.FromSlash(cleaned)), nil
}

// MinioConfig configures the object-storage sink.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	Prefix    string
	UseSSL    bool
}

// MinioSink uploads artifacts to an S3-compatible bucket.
type MinioSink struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinioSink creates the client. It does not contact the server.
func NewMinioSink(cfg MinioConfig) (*MinioSink, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("minio endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("minio bucket is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, errors.New("minio credentials are required")
	}

	endpoint := cfg.Endpoint
	useSSL := cfg.UseSSL
	if u, err := url.Parse(cfg.Endpoint); err == nil && u.Host != "" {
		endpoint = u.Host
		if u.Scheme == "https" {
			useSSL = true
		}
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinioSink{client: client, bucket: cfg.Bucket, prefix: strings.Trim(cfg.Prefix, "/")}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *MinioSink) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Put uploads data and returns a minio:// locator.
func (s *MinioSink) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	if key == "" {
		return "", errors.New("artifact key is required")
	}
	objectKey := key
	if s.prefix != "" {
		objectKey = s.prefix + "/" + key
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.client.PutObject(ctx, s.bucket, objectKey, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", objectKey, err)
	}
	return fmt.Sprintf("minio://%s/%s", s.bucket, objectKey), nil
}

// ArtifactKey builds the storage key for a job output.
func ArtifactKey(sourceID, jobID string, format Format, now time.Time) string {
	return fmt.Sprintf("%s/dt=%s/%s%s", sanitizeFileComponent(sourceID), now.UTC().Format("2006-01-02"), jobID, format.Extension())
}

// SchemaDocument renders the export view of a schema version.
func SchemaDocument(version domain.SchemaVersion) ([]byte, error) {
	doc := struct {
		Version   domain.VersionID     `json:"version"`
		SourceID  string               `json:"source_id"`
		Timestamp time.Time            `json:"timestamp"`
		Hash      string               `json:"hash"`
		Fields    []domain.FieldSchema `json:"fields"`
		Changes   []domain.Change      `json:"changes"`
	}{
		Version:   version.ID,
		SourceID:  version.SourceID,
		Timestamp: version.CreatedAt,
		Hash:      version.Hash,
		Fields:    version.Fields,
		Changes:   version.Changes,
	}
	if doc.Fields == nil {
		doc.Fields = []domain.FieldSchema{}
	}
	if doc.Changes == nil {
		doc.Changes = []domain.Change{}
	}
	return json.MarshalIndent(doc, "", "  ")
}

func sanitizeFileComponent(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return "source"
	}
	builder := strings.Builder{}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-' || r == '_':
			builder.WriteRune(r)
		default:
			builder.WriteRune('-')
		}
	}
	result := strings.Trim(builder.String(), "-")
	if result == "" {
		return "source"
	}
	return result
}
