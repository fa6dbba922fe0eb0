package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rpattn/driftetl/internal/domain"
	"github.com/rpattn/driftetl/pkg/validator"
)

// Handler exposes the version store over HTTP.
type Handler struct {
	store     *Store
	validator *validator.RecordValidator
}

// NewHTTPHandler wraps the store.
func NewHTTPHandler(store *Store) *Handler {
	return &Handler{store: store, validator: validator.NewRecordValidator()}
}

// Register mounts the schema routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /schema/infer", h.handleInfer)
	mux.HandleFunc("GET /schema/versions", h.handleListVersions)
	mux.HandleFunc("GET /schema/export/{version}", h.handleExport)
	mux.HandleFunc("POST /schema/validate", h.handleValidate)
	mux.HandleFunc("GET /schema/diff", h.handleDiff)
}

type inferPayload struct {
	Records  []map[string]any `json:"records"`
	SourceID string           `json:"source_id"`
}

type inferResponse struct {
	Schema  domain.SchemaVersion `json:"schema"`
	Changes []domain.Change      `json:"changes"`
	Created bool                 `json:"created"`
}

func (h *Handler) handleInfer(w http.ResponseWriter, r *http.Request) {
	var payload inferPayload
	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	if err := decoder.Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}

	records := make([]domain.Record, 0, len(payload.Records))
	for _, row := range payload.Records {
		records = append(records, domain.NewRecordFromMap(row, "record"))
	}

	outcome, err := h.store.Infer(records, strings.TrimSpace(payload.SourceID))
	if err != nil {
		WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, inferResponse{
		Schema:  outcome.Version,
		Changes: outcome.Changes,
		Created: outcome.Created,
	})
}

func (h *Handler) handleListVersions(w http.ResponseWriter, r *http.Request) {
	sourceID := strings.TrimSpace(r.URL.Query().Get("source_id"))
	if sourceID == "" {
		http.Error(w, "source_id is required", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"source_id": sourceID,
		"versions":  h.store.ListVersions(sourceID),
	})
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	doc, err := h.store.Export(r.PathValue("version"))
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// handleDiff renders a unified text diff between two versions.
func (h *Handler) handleDiff(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	versions := make([]domain.SchemaVersion, 0, 2)
	for _, key := range []string{"from", "to"} {
		id, err := domain.ParseVersionID(query.Get(key))
		if err != nil {
			http.Error(w, fmt.Sprintf("%s: %v", key, err), http.StatusBadRequest)
			return
		}
		version, err := h.store.Get(id)
		if err != nil {
			WriteError(w, err)
			return
		}
		versions = append(versions, version)
	}

	w.Header().Set("Content-Type", "text/x-diff; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(TextDiff(versions[0], versions[1])))
}

type validatePayload struct {
	Records  []map[string]any `json:"records"`
	SourceID string           `json:"source_id"`
	Version  string           `json:"version"`
}

// handleValidate checks records against a pinned version, or the source's
// current version when none is given. Nothing is inferred or stored.
func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	var payload validatePayload
	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	if err := decoder.Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	if len(payload.Records) == 0 {
		http.Error(w, "records must not be empty", http.StatusBadRequest)
		return
	}

	var version domain.SchemaVersion
	if raw := strings.TrimSpace(payload.Version); raw != "" {
		id, err := domain.ParseVersionID(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if version, err = h.store.Get(id); err != nil {
			WriteError(w, err)
			return
		}
	} else {
		sourceID := strings.TrimSpace(payload.SourceID)
		if sourceID == "" {
			http.Error(w, "source_id or version is required", http.StatusBadRequest)
			return
		}
		current, ok := h.store.Current(sourceID)
		if !ok {
			WriteError(w, fmt.Errorf("%w: no versions for source %s", domain.ErrSchemaVersionNotFound, sourceID))
			return
		}
		version = current
	}

	records := make([]domain.Record, 0, len(payload.Records))
	for _, row := range payload.Records {
		records = append(records, domain.NewRecordFromMap(row, "record"))
	}
	writeJSON(w, http.StatusOK, h.validator.ValidateBatch(records, version))
}

// WriteError maps store errors onto HTTP status codes.
func WriteError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrSchemaVersionNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrInvalidSourceBatch):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
