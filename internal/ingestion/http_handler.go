package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/rpattn/driftetl/internal/domain"
	"github.com/rpattn/driftetl/internal/schema"

	"github.com/google/uuid"
)

// DownloadLinker signs download links for stored job output.
type DownloadLinker interface {
	BuildDownloadURL(job domain.Job) *string
}

// Handler exposes the ETL service over HTTP.
type Handler struct {
	service *Service
	links   DownloadLinker
}

// NewHTTPHandler wraps the service. links may be nil.
func NewHTTPHandler(service *Service, links DownloadLinker) *Handler {
	return &Handler{service: service, links: links}
}

// Register mounts the ETL routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /etl/process", h.handleProcess)
	mux.HandleFunc("POST /etl/upload", h.handleUpload)
	mux.HandleFunc("GET /etl/jobs", h.handleListJobs)
	mux.HandleFunc("GET /etl/jobs/{id}", h.handleGetJob)
	mux.HandleFunc("GET /etl/stats", h.handleStats)
	mux.HandleFunc("GET /etl/logs", h.handleLogs)
}

type processPayload struct {
	Data                []map[string]any `json:"data"`
	SourceID            string           `json:"source_id"`
	TargetFormat        string           `json:"target_format"`
	TransformationRules domain.Rules     `json:"transformation_rules"`
}

type jobView struct {
	domain.Job
	DownloadURL *string `json:"download_url,omitempty"`
}

type processResponse struct {
	Job     jobView              `json:"job"`
	Schema  domain.SchemaVersion `json:"schema"`
	Changes []domain.Change      `json:"changes"`
	Created bool                 `json:"schema_created"`
	Records []domain.Record      `json:"records,omitempty"`
}

type uploadResponse struct {
	processResponse
	Decoder          string   `json:"decoder"`
	SectionsFound    int      `json:"sections_found,omitempty"`
	DegradedSections []string `json:"degraded_sections,omitempty"`
}

func (h *Handler) handleProcess(w http.ResponseWriter, r *http.Request) {
	var payload processPayload
	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	if err := decoder.Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}

	records := make([]domain.Record, 0, len(payload.Data))
	for _, row := range payload.Data {
		records = append(records, domain.NewRecordFromMap(row, objectRowType))
	}

	result, err := h.service.Process(r.Context(), ProcessRequest{
		Records:      records,
		SourceID:     payload.SourceID,
		TargetFormat: payload.TargetFormat,
		Rules:        payload.TransformationRules,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h.processResponse(result, inlineRecords(r)))
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.service.maxUploadBytes+(1<<20))
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, fmt.Sprintf("invalid form data: %v", err), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, fmt.Sprintf("file required: %v", err), http.StatusBadRequest)
		return
	}
	defer file.Close()

	sourceID := strings.TrimSpace(r.FormValue("source_id"))
	if sourceID == "" {
		http.Error(w, "source_id is required", http.StatusBadRequest)
		return
	}

	req := UploadRequest{
		FileName:     header.Filename,
		SourceID:     sourceID,
		TargetFormat: strings.TrimSpace(r.FormValue("target_format")),
		Data:         file,
	}
	if raw := strings.TrimSpace(r.FormValue("header_row")); raw != "" {
		index, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid header_row: %v", err), http.StatusBadRequest)
			return
		}
		req.HeaderRowIndex = &index
	}
	if raw := strings.TrimSpace(r.FormValue("transformation_rules")); raw != "" {
		decoder := json.NewDecoder(strings.NewReader(raw))
		decoder.UseNumber()
		if err := decoder.Decode(&req.Rules); err != nil {
			http.Error(w, fmt.Sprintf("invalid transformation_rules: %v", err), http.StatusBadRequest)
			return
		}
	}

	result, err := h.service.Upload(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, uploadResponse{
		processResponse:  h.processResponse(result.ProcessResult, inlineRecords(r)),
		Decoder:          result.Decoder,
		SectionsFound:    result.SectionsFound,
		DegradedSections: result.DegradedSections,
	})
}

func (h *Handler) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	jobs := h.service.ListJobs(limit)
	views := make([]jobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, h.view(job))
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": views})
}

func (h *Handler) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return
	}
	job, ok := h.service.Job(jobID)
	if !ok {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, h.view(job))
}

func (h *Handler) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Stats())
}

func (h *Handler) handleLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	sourceID := strings.TrimSpace(query.Get("source_id"))
	if sourceID == "" {
		http.Error(w, "source_id is required", http.StatusBadRequest)
		return
	}
	limit, _ := strconv.Atoi(query.Get("limit"))
	offset, _ := strconv.Atoi(query.Get("offset"))

	logs, err := h.service.IngestionLogs(r.Context(), sourceID, limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"source_id": sourceID, "logs": logs})
}

func (h *Handler) processResponse(result ProcessResult, withRecords bool) processResponse {
	response := processResponse{
		Job:     h.view(result.Job),
		Schema:  result.Schema.Version,
		Changes: result.Schema.Changes,
		Created: result.Schema.Created,
	}
	if response.Changes == nil {
		response.Changes = []domain.Change{}
	}
	if withRecords {
		response.Records = result.Records
	}
	return response
}

func (h *Handler) view(job domain.Job) jobView {
	view := jobView{Job: job}
	if h.links != nil {
		view.DownloadURL = h.links.BuildDownloadURL(job)
	}
	return view
}

// inlineRecords reports whether the caller asked for processed records in
// the response body.
func inlineRecords(r *http.Request) bool {
	raw := strings.TrimSpace(r.URL.Query().Get("include_records"))
	enabled, err := strconv.ParseBool(raw)
	return err == nil && enabled
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrUnsupportedFile) {
		http.Error(w, err.Error(), http.StatusUnsupportedMediaType)
		return
	}
	if errors.Is(err, ErrUploadTooLarge) {
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
		return
	}
	schema.WriteError(w, err)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
