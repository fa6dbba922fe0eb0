package domain

import "errors"

var (
	// ErrParseDegraded marks a section or JSON candidate that could not be
	// parsed structurally. It is absorbed into a fallback record and never
	// returned from parsing.
	ErrParseDegraded = errors.New("parse degraded")

	// ErrSchemaVersionNotFound is returned when an unknown version is requested.
	ErrSchemaVersionNotFound = errors.New("schema version not found")

	// ErrInvalidSourceBatch is returned for empty or malformed inference input.
	ErrInvalidSourceBatch = errors.New("invalid source batch")

	// ErrInternalInvariant signals a hash collision between distinct schemas
	// or a duplicate version id. It must never be swallowed.
	ErrInternalInvariant = errors.New("internal invariant violation")
)
