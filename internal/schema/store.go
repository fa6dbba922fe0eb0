// Package schema builds hash-identified schema snapshots and keeps the
// append-only version history for every source.
package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rpattn/driftetl/internal/domain"
	"github.com/rpattn/driftetl/internal/inference"
	"github.com/rpattn/driftetl/internal/schema/validator"
)

// Outcome is the result of committing a candidate schema.
type Outcome struct {
	Version domain.SchemaVersion `json:"schema"`
	Changes []domain.Change      `json:"changes"`
	Created bool                 `json:"created"`
}

// Document is the export view of a single version.
type Document struct {
	Version   domain.VersionID     `json:"version"`
	SourceID  string               `json:"source_id"`
	Timestamp time.Time            `json:"timestamp"`
	Hash      string               `json:"hash"`
	Fields    []domain.FieldSchema `json:"fields"`
	Changes   []domain.Change      `json:"changes"`
}

// Stats summarises the store.
type Stats struct {
	Sources       int              `json:"sources"`
	Versions      int              `json:"versions"`
	LatestVersion domain.VersionID `json:"latest_version"`
}

type sourceHistory struct {
	mu       sync.Mutex
	versions []domain.VersionID
	byHash   map[string]domain.VersionID
	current  domain.VersionID
}

// Store is the in-memory schema version store. Commits for one source are
// serialized; different sources proceed in parallel and share one id counter.
type Store struct {
	mu      sync.RWMutex
	sources map[string]*sourceHistory
	byID    map[domain.VersionID]domain.SchemaVersion
	hashes  map[string]string

	nextID atomic.Int64
	now    func() time.Time
	logger *zap.Logger
}

// NewStore creates an empty store. A nil logger disables logging.
func NewStore(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		sources: make(map[string]*sourceHistory),
		byID:    make(map[domain.VersionID]domain.SchemaVersion),
		hashes:  make(map[string]string),
		now:     time.Now,
		logger:  logger,
	}
}

// SetClock replaces the clock used to stamp new versions.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Infer infers a schema from records and commits it for sourceID.
func (s *Store) Infer(records []domain.Record, sourceID string) (Outcome, error) {
	if strings.TrimSpace(sourceID) == "" {
		return Outcome{}, fmt.Errorf("%w: source id is required", domain.ErrInvalidSourceBatch)
	}
	fields, err := inference.Infer(records)
	if err != nil {
		return Outcome{}, err
	}
	return s.Commit(sourceID, fields)
}

// Commit versions a candidate schema. Identical content for the current
// version is a no-op; content matching an older version of the same source
// moves the current pointer back to it; anything else mints a new version.
func (s *Store) Commit(sourceID string, fields []domain.FieldSchema) (Outcome, error) {
	if strings.TrimSpace(sourceID) == "" {
		return Outcome{}, fmt.Errorf("%w: source id is required", domain.ErrInvalidSourceBatch)
	}
	if err := validator.ValidateFields(fields); err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", domain.ErrInvalidSourceBatch, err)
	}

	candidate := domain.CopyFieldSchemas(fields)
	sort.SliceStable(candidate, func(i, j int) bool { return candidate[i].Name < candidate[j].Name })
	canonical := Canonical(candidate)
	hash := hashOf(canonical)

	if err := s.checkHash(hash, canonical); err != nil {
		return Outcome{}, err
	}

	history := s.source(sourceID)
	history.mu.Lock()
	defer history.mu.Unlock()

	var previous domain.SchemaVersion
	if history.current != 0 {
		previous = s.version(history.current)
		if previous.Hash == hash {
			return Outcome{Version: previous.Clone(), Changes: []domain.Change{}}, nil
		}
	}

	changes := Diff(previous.Fields, candidate)

	if existing, ok := history.byHash[hash]; ok {
		history.current = existing
		reverted := s.version(existing)
		s.logger.Info("schema reverted to earlier version",
			zap.String("source_id", sourceID),
			zap.Stringer("version", existing),
			zap.Int("changes", len(changes)),
		)
		return Outcome{Version: reverted.Clone(), Changes: changes}, nil
	}

	version := domain.SchemaVersion{
		ID:        domain.VersionID(s.nextID.Add(1)),
		SourceID:  sourceID,
		CreatedAt: s.now().UTC(),
		Hash:      hash,
		Fields:    candidate,
		Changes:   changes,
	}
	if history.current != 0 {
		prev := history.current
		version.PreviousID = &prev
	}

	if err := s.append(version, canonical); err != nil {
		s.logger.Error("schema version rejected", zap.String("source_id", sourceID), zap.Error(err))
		return Outcome{}, err
	}
	history.versions = append(history.versions, version.ID)
	history.byHash[hash] = version.ID
	history.current = version.ID

	s.logger.Info("schema version created",
		zap.String("source_id", sourceID),
		zap.Stringer("version", version.ID),
		zap.String("hash", hash),
		zap.Int("fields", len(candidate)),
		zap.Int("changes", len(changes)),
	)
	return Outcome{Version: version.Clone(), Changes: changes, Created: true}, nil
}

// Export returns the document for a version id such as "v3".
func (s *Store) Export(versionID string) (Document, error) {
	id, err := domain.ParseVersionID(versionID)
	if err != nil {
		return Document{}, fmt.Errorf("%w: %v", domain.ErrSchemaVersionNotFound, err)
	}
	version, err := s.Get(id)
	if err != nil {
		return Document{}, err
	}
	return Document{
		Version:   version.ID,
		SourceID:  version.SourceID,
		Timestamp: version.CreatedAt,
		Hash:      version.Hash,
		Fields:    version.Fields,
		Changes:   version.Changes,
	}, nil
}

// Get returns a copy of a version.
func (s *Store) Get(id domain.VersionID) (domain.SchemaVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	version, ok := s.byID[id]
	if !ok {
		return domain.SchemaVersion{}, fmt.Errorf("%w: %s", domain.ErrSchemaVersionNotFound, id)
	}
	return version.Clone(), nil
}

// ListVersions returns the summaries for a source in creation order.
func (s *Store) ListVersions(sourceID string) []domain.SchemaVersionSummary {
	s.mu.RLock()
	history, ok := s.sources[sourceID]
	s.mu.RUnlock()
	if !ok {
		return []domain.SchemaVersionSummary{}
	}

	history.mu.Lock()
	ids := append([]domain.VersionID(nil), history.versions...)
	history.mu.Unlock()

	summaries := make([]domain.SchemaVersionSummary, 0, len(ids))
	for _, id := range ids {
		summaries = append(summaries, s.version(id).Summary())
	}
	return summaries
}

// Current returns the active version of a source.
func (s *Store) Current(sourceID string) (domain.SchemaVersion, bool) {
	s.mu.RLock()
	history, ok := s.sources[sourceID]
	s.mu.RUnlock()
	if !ok {
		return domain.SchemaVersion{}, false
	}

	history.mu.Lock()
	current := history.current
	history.mu.Unlock()
	if current == 0 {
		return domain.SchemaVersion{}, false
	}
	return s.version(current).Clone(), true
}

// Sources lists every source with at least one version.
func (s *Store) Sources() []string {
	s.mu.RLock()
	histories := make(map[string]*sourceHistory, len(s.sources))
	for sourceID, history := range s.sources {
		histories[sourceID] = history
	}
	s.mu.RUnlock()

	out := make([]string, 0, len(histories))
	for sourceID, history := range histories {
		history.mu.Lock()
		active := len(history.versions) > 0
		history.mu.Unlock()
		if active {
			out = append(out, sourceID)
		}
	}
	sort.Strings(out)
	return out
}

// Stats reports the size of the store.
func (s *Store) Stats() Stats {
	sources := len(s.Sources())
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Sources:       sources,
		Versions:      len(s.byID),
		LatestVersion: domain.VersionID(s.nextID.Load()),
	}
}

// Restore loads previously persisted versions into an empty store. Ids must
// be unique and each stored hash must match its content.
func (s *Store) Restore(versions []domain.SchemaVersion) error {
	ordered := make([]domain.SchemaVersion, len(versions))
	for idx, version := range versions {
		ordered[idx] = version.Clone()
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	for _, version := range ordered {
		if strings.TrimSpace(version.SourceID) == "" {
			return fmt.Errorf("%w: version %s has no source id", domain.ErrInternalInvariant, version.ID)
		}
		if version.ID <= domain.VersionID(s.nextID.Load()) {
			return fmt.Errorf("%w: version %s is not newer than %s", domain.ErrInternalInvariant, version.ID, domain.VersionID(s.nextID.Load()))
		}
		sort.SliceStable(version.Fields, func(i, j int) bool { return version.Fields[i].Name < version.Fields[j].Name })
		canonical := Canonical(version.Fields)
		if hash := hashOf(canonical); hash != version.Hash {
			return fmt.Errorf("%w: version %s hash does not match its fields", domain.ErrInternalInvariant, version.ID)
		}
		if err := s.checkHash(version.Hash, canonical); err != nil {
			return err
		}

		history := s.source(version.SourceID)
		history.mu.Lock()
		err := s.append(version, canonical)
		if err == nil {
			history.versions = append(history.versions, version.ID)
			history.byHash[version.Hash] = version.ID
			history.current = version.ID
		}
		history.mu.Unlock()
		if err != nil {
			return err
		}
		s.nextID.Store(int64(version.ID))
	}

	if len(ordered) > 0 {
		s.logger.Info("schema history restored", zap.Int("versions", len(ordered)))
	}
	return nil
}

func (s *Store) source(sourceID string) *sourceHistory {
	s.mu.RLock()
	history, ok := s.sources[sourceID]
	s.mu.RUnlock()
	if ok {
		return history
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if history, ok = s.sources[sourceID]; ok {
		return history
	}
	history = &sourceHistory{byHash: make(map[string]domain.VersionID)}
	s.sources[sourceID] = history
	return history
}

func (s *Store) version(id domain.VersionID) domain.SchemaVersion {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byID[id]
}

func (s *Store) checkHash(hash, canonical string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if existing, ok := s.hashes[hash]; ok && existing != canonical {
		return fmt.Errorf("%w: hash %s maps to different schema content", domain.ErrInternalInvariant, hash)
	}
	return nil
}

func (s *Store) append(version domain.SchemaVersion, canonical string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[version.ID]; exists {
		return fmt.Errorf("%w: duplicate version id %s", domain.ErrInternalInvariant, version.ID)
	}
	if existing, ok := s.hashes[version.Hash]; ok && existing != canonical {
		return fmt.Errorf("%w: hash %s maps to different schema content", domain.ErrInternalInvariant, version.Hash)
	}
	s.byID[version.ID] = version
	s.hashes[version.Hash] = canonical
	return nil
}

// Canonical renders the hashed content of a schema: one
// name|type|confidence line per field, the name quoted and the confidence
// bucketed to two decimals. Fields must already be sorted by name.
func Canonical(fields []domain.FieldSchema) string {
	var b strings.Builder
	for _, field := range fields {
		fmt.Fprintf(&b, "%q|%s|%.2f\n", field.Name, field.Type, field.Bucket())
	}
	return b.String()
}

func hashOf(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// IsNotFound reports whether err means a version does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrSchemaVersionNotFound)
}
