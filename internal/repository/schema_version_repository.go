package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rpattn/driftetl/internal/domain"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type schemaVersionRepository struct {
	pool *pgxpool.Pool
}

// NewSchemaVersionRepository journals schema versions into Postgres.
func NewSchemaVersionRepository(pool *pgxpool.Pool) SchemaVersionRepository {
	return &schemaVersionRepository{pool: pool}
}

func (r *schemaVersionRepository) Save(ctx context.Context, version domain.SchemaVersion) error {
	if r.pool == nil {
		return fmt.Errorf("schema version repository not initialized")
	}

	fieldsJSON, changesJSON, err := encodeVersion(version)
	if err != nil {
		return err
	}

	var previous any
	if version.PreviousID != nil {
		previous = int64(*version.PreviousID)
	}

	_, err = r.pool.Exec(
		ctx,
		`INSERT INTO schema_versions (version_id, source_id, hash, previous_id, fields, changes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (version_id) DO NOTHING`,
		int64(version.ID),
		version.SourceID,
		version.Hash,
		previous,
		fieldsJSON,
		changesJSON,
		version.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save schema version %s: %w", version.ID, err)
	}
	return nil
}

func (r *schemaVersionRepository) List(ctx context.Context) ([]domain.SchemaVersion, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("schema version repository not initialized")
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT version_id, source_id, hash, previous_id, fields, changes, created_at
		 FROM schema_versions
		 ORDER BY version_id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list schema versions: %w", err)
	}
	defer rows.Close()

	versions := []domain.SchemaVersion{}
	for rows.Next() {
		var (
			id          int64
			version     domain.SchemaVersion
			previous    pgtype.Int8
			fieldsJSON  []byte
			changesJSON []byte
			createdAt   pgtype.Timestamptz
		)
		if scanErr := rows.Scan(
			&id,
			&version.SourceID,
			&version.Hash,
			&previous,
			&fieldsJSON,
			&changesJSON,
			&createdAt,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan schema version: %w", scanErr)
		}

		version.ID = domain.VersionID(id)
		if previous.Valid {
			prev := domain.VersionID(previous.Int64)
			version.PreviousID = &prev
		}
		if createdAt.Valid {
			version.CreatedAt = createdAt.Time
		}
		if err := decodeVersion(&version, fieldsJSON, changesJSON); err != nil {
			return nil, err
		}

		versions = append(versions, version)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate schema versions: %w", rowsErr)
	}

	return versions, nil
}

func encodeVersion(version domain.SchemaVersion) ([]byte, []byte, error) {
	fields := version.Fields
	if fields == nil {
		fields = []domain.FieldSchema{}
	}
	changes := version.Changes
	if changes == nil {
		changes = []domain.Change{}
	}
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal schema fields: %w", err)
	}
	changesJSON, err := json.Marshal(changes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal schema changes: %w", err)
	}
	return fieldsJSON, changesJSON, nil
}

func decodeVersion(version *domain.SchemaVersion, fieldsJSON, changesJSON []byte) error {
	if err := json.Unmarshal(fieldsJSON, &version.Fields); err != nil {
		return fmt.Errorf("failed to unmarshal fields for schema version %s: %w", version.ID, err)
	}
	version.Changes = []domain.Change{}
	if len(changesJSON) > 0 {
		if err := json.Unmarshal(changesJSON, &version.Changes); err != nil {
			return fmt.Errorf("failed to unmarshal changes for schema version %s: %w", version.ID, err)
		}
	}
	return nil
}
