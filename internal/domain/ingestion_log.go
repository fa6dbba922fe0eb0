package domain

import (
	"time"

	"github.com/google/uuid"
)

// IngestionLogEntry captures section level issues that occur during extraction.
type IngestionLogEntry struct {
	ID           uuid.UUID  `json:"id"`
	JobID        *uuid.UUID `json:"job_id,omitempty"`
	SourceID     string     `json:"source_id"`
	FileName     string     `json:"file_name"`
	Section      SectionTag `json:"section,omitempty"`
	ErrorMessage string     `json:"error_message"`
	CreatedAt    time.Time  `json:"created_at"`
}
