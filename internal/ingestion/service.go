package ingestion

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rpattn/driftetl/internal/domain"
	"github.com/rpattn/driftetl/internal/export"
	"github.com/rpattn/driftetl/internal/extract"
	"github.com/rpattn/driftetl/internal/repository"
	"github.com/rpattn/driftetl/internal/schema"
	"github.com/rpattn/driftetl/internal/transformations"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultMaxUploadBytes = 32 << 20
	defaultJobRetention   = 1000
)

// Service runs ETL jobs: clean, infer and version the schema, apply rules,
// then render and store the output.
type Service struct {
	parser      *extract.Parser
	store       *schema.Store
	executor    *transformations.Executor
	exporter    *export.Service
	logRepo     repository.IngestionLogRepository
	versionRepo repository.SchemaVersionRepository
	logger      *zap.Logger
	now         func() time.Time

	maxUploadBytes int64
	jobRetention   int

	mu    sync.RWMutex
	jobs  map[uuid.UUID]domain.Job
	order []uuid.UUID
	stats counters
}

type counters struct {
	total            int
	successful       int
	failed           int
	recordsProcessed int
}

// Option configures the service.
type Option func(*Service)

// WithIngestionLog records degraded sections and failed jobs.
func WithIngestionLog(repo repository.IngestionLogRepository) Option {
	return func(s *Service) {
		s.logRepo = repo
	}
}

// WithSchemaJournal persists every newly minted schema version.
func WithSchemaJournal(repo repository.SchemaVersionRepository) Option {
	return func(s *Service) {
		s.versionRepo = repo
	}
}

// WithExporter replaces the default in-memory exporter.
func WithExporter(exporter *export.Service) Option {
	return func(s *Service) {
		if exporter != nil {
			s.exporter = exporter
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the job clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMaxUploadBytes bounds the size of uploaded files.
func WithMaxUploadBytes(limit int64) Option {
	return func(s *Service) {
		if limit > 0 {
			s.maxUploadBytes = limit
		}
	}
}

// WithJobRetention bounds how many finished jobs are kept for lookup.
func WithJobRetention(limit int) Option {
	return func(s *Service) {
		if limit > 0 {
			s.jobRetention = limit
		}
	}
}

// NewService creates a new ETL service.
func NewService(parser *extract.Parser, store *schema.Store, opts ...Option) *Service {
	service := &Service{
		parser:         parser,
		store:          store,
		logger:         zap.NewNop(),
		now:            time.Now,
		maxUploadBytes: defaultMaxUploadBytes,
		jobRetention:   defaultJobRetention,
		jobs:           make(map[uuid.UUID]domain.Job),
	}
	for _, opt := range opts {
		opt(service)
	}
	if service.exporter == nil {
		service.exporter = export.NewService()
	}
	service.executor = transformations.NewExecutor(service.logger)
	return service
}

// ProcessRequest describes one batch of records to run through the pipeline.
type ProcessRequest struct {
	Records      []domain.Record
	SourceID     string
	TargetFormat string
	Rules        domain.Rules
	FileName     string
}

// ProcessResult is the outcome of a job. Job is set whenever a job was
// created, including when it failed.
type ProcessResult struct {
	Job      domain.Job       `json:"job"`
	Schema   schema.Outcome   `json:"schema"`
	Records  []domain.Record  `json:"records,omitempty"`
	Artifact *export.Artifact `json:"artifact,omitempty"`
}

// Process validates the request, then runs the job synchronously.
func (s *Service) Process(ctx context.Context, req ProcessRequest) (ProcessResult, error) {
	sourceID := strings.TrimSpace(req.SourceID)
	if sourceID == "" {
		return ProcessResult{}, fmt.Errorf("%w: source id is required", domain.ErrInvalidSourceBatch)
	}
	if len(req.Records) == 0 {
		return ProcessResult{}, fmt.Errorf("%w: no records", domain.ErrInvalidSourceBatch)
	}
	format, err := export.ParseFormat(req.TargetFormat)
	if err != nil {
		return ProcessResult{}, fmt.Errorf("%w: %v", domain.ErrInvalidSourceBatch, err)
	}
	if err := req.Rules.Validate(); err != nil {
		return ProcessResult{}, fmt.Errorf("%w: %v", domain.ErrInvalidSourceBatch, err)
	}

	job := s.startJob(sourceID, format)
	logger := s.logger.With(zap.String("job_id", job.ID.String()), zap.String("source_id", sourceID))
	logger.Info("etl job started", zap.Int("records", len(req.Records)), zap.String("format", string(format)))

	result, err := s.run(ctx, job, format, req)
	if err != nil {
		result.Job = s.finishJob(job.ID, func(j *domain.Job) {
			j.Status = domain.JobStatusFailed
			j.Error = err.Error()
		})
		logger.Error("etl job failed", zap.Error(err))
		s.logIngestionError(ctx, domain.IngestionLogEntry{
			JobID:        &job.ID,
			SourceID:     sourceID,
			FileName:     req.FileName,
			ErrorMessage: err.Error(),
		})
		return result, fmt.Errorf("job %s: %w", job.ID, err)
	}

	artifact := result.Artifact
	result.Job = s.finishJob(job.ID, func(j *domain.Job) {
		j.Status = domain.JobStatusCompleted
		j.RecordsCount = len(result.Records)
		version := result.Schema.Version.ID
		j.SchemaVersion = &version
		j.OutputKey = artifact.Key
		j.OutputURI = artifact.URI
		j.OutputBytes = artifact.Bytes
	})
	logger.Info("etl job completed",
		zap.Int("records", result.Job.RecordsCount),
		zap.Stringer("schema_version", result.Schema.Version.ID),
		zap.Bool("schema_created", result.Schema.Created),
	)
	return result, nil
}

func (s *Service) run(ctx context.Context, job domain.Job, format export.Format, req ProcessRequest) (ProcessResult, error) {
	cleaned := transformations.CleanRecords(req.Records)

	outcome, err := s.store.Infer(cleaned, job.SourceID)
	if err != nil {
		return ProcessResult{}, fmt.Errorf("infer schema: %w", err)
	}
	result := ProcessResult{Schema: outcome}
	if outcome.Created {
		s.journal(ctx, outcome.Version)
	}

	transformed, err := s.executor.Apply(ctx, cleaned, req.Rules)
	if err != nil {
		return result, fmt.Errorf("apply rules: %w", err)
	}
	result.Records = transformed

	artifact, err := s.exporter.Export(ctx, export.Request{
		JobID:    job.ID,
		SourceID: job.SourceID,
		Format:   format,
		Records:  transformed,
		Schema:   outcome.Version,
	})
	if err != nil {
		return result, fmt.Errorf("export: %w", err)
	}
	result.Artifact = &artifact
	return result, nil
}

// journal persists a new schema version. The in-memory store stays
// authoritative, so failures are logged and the job continues.
func (s *Service) journal(ctx context.Context, version domain.SchemaVersion) {
	if s.versionRepo == nil {
		return
	}
	if err := s.versionRepo.Save(ctx, version); err != nil {
		s.logger.Error("failed to journal schema version",
			zap.Stringer("version", version.ID),
			zap.String("source_id", version.SourceID),
			zap.Error(err),
		)
	}
}

func (s *Service) startJob(sourceID string, format export.Format) domain.Job {
	job := domain.Job{
		ID:           uuid.New(),
		SourceID:     sourceID,
		Status:       domain.JobStatusProcessing,
		CreatedAt:    s.now().UTC(),
		TargetFormat: string(format),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	s.order = append(s.order, job.ID)
	s.stats.total++
	s.evictLocked()
	return job.Clone()
}

func (s *Service) finishJob(id uuid.UUID, update func(*domain.Job)) domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	job := s.jobs[id]
	update(&job)
	completed := s.now().UTC()
	job.CompletedAt = &completed
	s.jobs[id] = job

	switch job.Status {
	case domain.JobStatusCompleted:
		s.stats.successful++
		s.stats.recordsProcessed += job.RecordsCount
	case domain.JobStatusFailed:
		s.stats.failed++
	}
	return job.Clone()
}

// evictLocked drops the oldest finished jobs once retention is exceeded.
func (s *Service) evictLocked() {
	excess := len(s.order) - s.jobRetention
	if excess <= 0 {
		return
	}
	kept := s.order[:0]
	for _, id := range s.order {
		if excess > 0 && s.jobs[id].Status != domain.JobStatusProcessing {
			delete(s.jobs, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
}

// Job returns a snapshot of a tracked job.
func (s *Service) Job(id uuid.UUID) (domain.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, false
	}
	return job.Clone(), true
}

// ListJobs returns up to limit jobs, newest first. A limit <= 0 returns all.
func (s *Service) ListJobs(limit int) []domain.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.order) {
		limit = len(s.order)
	}
	jobs := make([]domain.Job, 0, limit)
	for idx := len(s.order) - 1; idx >= 0 && len(jobs) < limit; idx-- {
		jobs = append(jobs, s.jobs[s.order[idx]].Clone())
	}
	return jobs
}

// Stats summarises job activity and the schema store.
type Stats struct {
	TotalJobs        int              `json:"total_jobs"`
	SuccessfulJobs   int              `json:"successful_jobs"`
	FailedJobs       int              `json:"failed_jobs"`
	RecordsProcessed int              `json:"records_processed"`
	ActiveJobs       int              `json:"active_jobs"`
	TrackedJobs      int              `json:"tracked_jobs"`
	Sources          int              `json:"sources"`
	SchemaVersions   int              `json:"schema_versions"`
	LatestVersion    domain.VersionID `json:"latest_version"`
}

// Stats reports job counters and store size.
func (s *Service) Stats() Stats {
	storeStats := s.store.Stats()

	s.mu.RLock()
	defer s.mu.RUnlock()
	active := 0
	for _, job := range s.jobs {
		if job.Status == domain.JobStatusProcessing {
			active++
		}
	}
	return Stats{
		TotalJobs:        s.stats.total,
		SuccessfulJobs:   s.stats.successful,
		FailedJobs:       s.stats.failed,
		RecordsProcessed: s.stats.recordsProcessed,
		ActiveJobs:       active,
		TrackedJobs:      len(s.jobs),
		Sources:          storeStats.Sources,
		SchemaVersions:   storeStats.Versions,
		LatestVersion:    storeStats.LatestVersion,
	}
}

// IngestionLogs lists recorded issues for a source, newest first.
func (s *Service) IngestionLogs(ctx context.Context, sourceID string, limit, offset int) ([]domain.IngestionLogEntry, error) {
	if s.logRepo == nil {
		return []domain.IngestionLogEntry{}, nil
	}
	return s.logRepo.List(ctx, sourceID, limit, offset)
}

// RestoreSchemas replays the journal into the store.
func (s *Service) RestoreSchemas(ctx context.Context) (int, error) {
	if s.versionRepo == nil {
		return 0, nil
	}
	versions, err := s.versionRepo.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("load schema journal: %w", err)
	}
	if err := s.store.Restore(versions); err != nil {
		return 0, fmt.Errorf("restore schema store: %w", err)
	}
	return len(versions), nil
}

func (s *Service) logIngestionError(ctx context.Context, entry domain.IngestionLogEntry) {
	if s.logRepo == nil || entry.ErrorMessage == "" {
		return
	}
	entry.ID = uuid.New()
	entry.CreatedAt = s.now().UTC()
	if err := s.logRepo.Record(ctx, entry); err != nil {
		s.logger.Warn("failed to record ingestion log", zap.String("source_id", entry.SourceID), zap.Error(err))
	}
}
