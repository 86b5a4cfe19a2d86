package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/domain"
)

func (api *API) Jobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	jobs, err := api.describeService.ListJobs(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to list jobs")
		return
	}

	summaries := make([]map[string]any, 0, len(jobs))
	for _, job := range jobs {
		summaries = append(summaries, map[string]any{
			"job_id":     job.ID,
			"media_type": job.MediaType,
			"pipeline":   job.Pipeline,
			"state":      job.Status.State,
			"step":       job.Status.Step,
			"progress":   job.Status.Progress,
			"created_at": job.Status.CreatedAt,
			"updated_at": job.Status.UpdatedAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  summaries,
		"count": len(summaries),
	})
}

func (api *API) JobByID(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimPrefix(r.URL.Path, "/v1/jobs/")
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "job_id is required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		api.getJob(w, r, jobID)
	case http.MethodDelete:
		api.deleteJob(w, r, jobID)
	default:
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (api *API) getJob(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := api.describeService.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "job not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to load job")
		return
	}

	response := map[string]any{
		"job_id":     job.ID,
		"media_type": job.MediaType,
		"pipeline":   job.Pipeline,
		"status":     job.Status,
	}
	if len(job.Segments) > 0 {
		response["segments"] = job.Segments
	}
	if len(job.Analyses) > 0 {
		response["analyses"] = job.Analyses
	}
	if job.CompiledText != "" {
		response["text"] = job.CompiledText
	}
	if job.AudioRef != "" {
		response["audio_ref"] = job.AudioRef
	}

	writeJSON(w, http.StatusOK, response)
}

func (api *API) deleteJob(w http.ResponseWriter, r *http.Request, jobID string) {
	deleted, err := api.describeService.DeleteJob(r.Context(), jobID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to delete job")
		return
	}
	if !deleted {
		writeError(w, r, http.StatusNotFound, "not_found", "job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": jobID, "deleted": true})
}
