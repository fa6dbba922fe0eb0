package export

import (
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/driftetl/internal/domain"
)

// JobLookup resolves ETL jobs by id.
type JobLookup interface {
	Job(id uuid.UUID) (domain.Job, bool)
}

// Handler streams stored job artifacts.
type Handler struct {
	service *Service
	jobs    JobLookup
}

func NewHTTPHandler(service *Service, jobs JobLookup) *Handler {
	return &Handler{service: service, jobs: jobs}
}

// Register mounts the download route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /etl/jobs/{id}/download", h.handleDownload)
}

func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(strings.TrimSpace(r.PathValue("id")))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid job identifier: %v", err), http.StatusBadRequest)
		return
	}
	job, ok := h.jobs.Job(jobID)
	if !ok {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if err := h.service.ValidateDownloadToken(job, token); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}
	file, err := h.service.OpenJobFile(job)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	defer file.Close()

	filename := path.Base(job.OutputKey)
	format, err := ParseFormat(job.TargetFormat)
	contentType := "application/octet-stream"
	if err == nil {
		contentType = format.ContentType()
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	if job.OutputBytes > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(job.OutputBytes, 10))
	}
	modified := job.CreatedAt
	if job.CompletedAt != nil {
		modified = *job.CompletedAt
	}
	http.ServeContent(w, r, filename, modified.In(time.UTC), file)
}
