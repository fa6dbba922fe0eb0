package repository

import (
	"context"

	"github.com/rpattn/driftetl/internal/domain"
)

// SchemaVersionRepository journals minted schema versions so history
// survives restarts.
type SchemaVersionRepository interface {
	Save(ctx context.Context, version domain.SchemaVersion) error
	List(ctx context.Context) ([]domain.SchemaVersion, error)
}

// IngestionLogRepository stores ingestion errors for observability.
type IngestionLogRepository interface {
	Record(ctx context.Context, entry domain.IngestionLogEntry) error
	List(ctx context.Context, sourceID string, limit int, offset int) ([]domain.IngestionLogEntry, error)
}
