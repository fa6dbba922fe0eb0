package repository

import (
	"context"
	"fmt"

	"github.com/rpattn/driftetl/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ingestionLogRepository struct {
	pool *pgxpool.Pool
}

// NewIngestionLogRepository wires a repository backed by pgxpool.
func NewIngestionLogRepository(pool *pgxpool.Pool) IngestionLogRepository {
	return &ingestionLogRepository{pool: pool}
}

func (r *ingestionLogRepository) Record(ctx context.Context, entry domain.IngestionLogEntry) error {
	if r.pool == nil {
		return fmt.Errorf("ingestion log repository not initialized")
	}

	id := entry.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	var jobID any
	if entry.JobID != nil {
		jobID = *entry.JobID
	}

	_, err := r.pool.Exec(
		ctx,
		`INSERT INTO ingestion_logs (id, job_id, source_id, file_name, section, error_message)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		id,
		jobID,
		entry.SourceID,
		entry.FileName,
		string(entry.Section),
		entry.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to record ingestion log: %w", err)
	}

	return nil
}

func (r *ingestionLogRepository) List(ctx context.Context, sourceID string, limit int, offset int) ([]domain.IngestionLogEntry, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("ingestion log repository not initialized")
	}

	limit, offset = clampPage(limit, offset)

	rows, err := r.pool.Query(
		ctx,
		`SELECT id, job_id, source_id, file_name, section, error_message, created_at
		 FROM ingestion_logs
		 WHERE source_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`,
		sourceID,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list ingestion logs: %w", err)
	}
	defer rows.Close()

	logs := []domain.IngestionLogEntry{}
	for rows.Next() {
		var (
			entry     domain.IngestionLogEntry
			jobID     pgtype.UUID
			section   string
			createdAt pgtype.Timestamptz
		)
		if scanErr := rows.Scan(
			&entry.ID,
			&jobID,
			&entry.SourceID,
			&entry.FileName,
			&section,
			&entry.ErrorMessage,
			&createdAt,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan ingestion log: %w", scanErr)
		}

		if jobID.Valid {
			value := uuid.UUID(jobID.Bytes)
			entry.JobID = &value
		}
		entry.Section = domain.SectionTag(section)
		if createdAt.Valid {
			entry.CreatedAt = createdAt.Time
		}

		logs = append(logs, entry)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate ingestion logs: %w", rowsErr)
	}

	return logs, nil
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
