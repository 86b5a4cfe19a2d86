package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/domain"
)

func (api *API) DescribeVideo(w http.ResponseWriter, r *http.Request) {
	api.describe(w, r, api.describeService.SubmitVideo)
}

func (api *API) DescribeImage(w http.ResponseWriter, r *http.Request) {
	api.describe(w, r, api.describeService.SubmitImage)
}

func (api *API) describe(
	w http.ResponseWriter,
	r *http.Request,
	submit func(context.Context, domain.ProcessRequest) (*domain.Job, error),
) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	var request describeRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	payloadHash := hashPayload(request)
	if idempotencyKey != "" {
		if entry, exists := api.idempotency.Get(idempotencyKey); exists {
			if entry.PayloadHash != payloadHash {
				writeError(w, r, http.StatusConflict, "idempotency_conflict", "Idempotency-Key already used with different payload")
				return
			}
			api.writeAccepted(w, entry.JobID, entry.CreatedAt)
			return
		}
	}

	job, err := submit(r.Context(), domain.ProcessRequest{
		InputRef:        request.InputRef,
		Pipeline:        domain.Pipeline(request.Pipeline),
		Priority:        domain.Priority(request.Priority),
		SizeBytes:       request.SizeBytes,
		DurationSeconds: request.DurationSeconds,
		Prompt:          request.Prompt,
	})
	if err != nil {
		var validation *domain.ValidationError
		if errors.As(err, &validation) {
			writeError(w, r, http.StatusBadRequest, "validation_error", validation.Error())
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to accept describe request")
		return
	}

	if idempotencyKey != "" {
		api.idempotency.Put(idempotencyKey, payloadHash, job.ID)
	}
	api.writeAccepted(w, job.ID, job.Status.CreatedAt)
}

func (api *API) writeAccepted(w http.ResponseWriter, jobID string, acceptedAt time.Time) {
	w.Header().Set("Retry-After", "2")
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":      jobID,
		"status":      string(domain.JobStatePending),
		"status_url":  "/v1/jobs/" + jobID,
		"accepted_at": acceptedAt.Format(time.RFC3339Nano),
	})
}
