package domain

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus tracks the lifecycle of an ETL job.
type JobStatus string

const (
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Job is the bookkeeping entry for one ETL run.
type Job struct {
	ID            uuid.UUID  `json:"job_id"`
	SourceID      string     `json:"source_id"`
	Status        JobStatus  `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	RecordsCount  int        `json:"records_processed"`
	SchemaVersion *VersionID `json:"schema_version,omitempty"`
	TargetFormat  string     `json:"target_format"`
	OutputKey     string     `json:"output_key,omitempty"`
	OutputURI     string     `json:"output_uri,omitempty"`
	OutputBytes   int64      `json:"output_bytes,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// Clone returns a copy that does not share pointers with the original.
func (j Job) Clone() Job {
	clone := j
	if j.CompletedAt != nil {
		completed := *j.CompletedAt
		clone.CompletedAt = &completed
	}
	if j.SchemaVersion != nil {
		version := *j.SchemaVersion
		clone.SchemaVersion = &version
	}
	return clone
}
