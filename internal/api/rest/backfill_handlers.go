package rest

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/fortuna/lheq/internal/backfill"
)

// JobService is satisfied by *backfill.Service.
type JobService interface {
	Enqueue(ctx context.Context, req backfill.Request) (*backfill.Job, error)
	GetStatus(ctx context.Context) (*backfill.StatusSummary, error)
}

// BackfillHandler proxies API calls to the job service.
type BackfillHandler struct {
	service JobService
}

// NewBackfillHandler wires the REST layer to the job service.
func NewBackfillHandler(service JobService) *BackfillHandler {
	return &BackfillHandler{service: service}
}

type apiJobRequest struct {
	JobType string `json:"job_type"`
	DryRun  bool   `json:"dry_run"`
}

// HandleJobRequest handles POST /api/v1/jobs
func (h *BackfillHandler) HandleJobRequest(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		respondError(w, http.StatusServiceUnavailable, "Job service is not running", nil)
		return
	}

	var req apiJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.JobType == "" {
		respondError(w, http.StatusBadRequest, "job_type is required", nil)
		return
	}

	job, err := h.service.Enqueue(r.Context(), backfill.Request{
		JobType: req.JobType,
		DryRun:  req.DryRun,
	})
	if err != nil {
		respondError(w, http.StatusBadRequest, "Failed to enqueue job", err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"job": jobPayload(job),
	})
}

// HandleJobStatus handles GET /api/v1/jobs/status
func (h *BackfillHandler) HandleJobStatus(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		respondError(w, http.StatusServiceUnavailable, "Job service is not running", nil)
		return
	}

	summary, err := h.service.GetStatus(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to fetch status", err)
		return
	}

	respondJSON(w, http.StatusOK, buildStatusPayload(summary))
}

func buildStatusPayload(summary *backfill.StatusSummary) map[string]interface{} {
	response := map[string]interface{}{
		"status":  "idle",
		"message": "No active jobs",
		"history": []map[string]interface{}{},
	}

	if summary.ActiveJob != nil {
		response["status"] = summary.ActiveJob.Status
		if summary.ActiveJob.StatusMessage.Valid {
			response["message"] = summary.ActiveJob.StatusMessage.String
		}
		response["active_job"] = jobPayload(summary.ActiveJob)
	}

	history := make([]map[string]interface{}, 0, len(summary.History))
	for _, job := range summary.History {
		history = append(history, jobPayload(job))
	}

	response["history"] = history
	return response
}

func jobPayload(job *backfill.Job) map[string]interface{} {
	if job == nil {
		return nil
	}

	payload := map[string]interface{}{
		"job_id":           job.JobID,
		"job_type":         job.JobType,
		"dry_run":          job.DryRun,
		"status":           job.Status,
		"progress_current": job.ProgressCurrent,
		"progress_total":   job.ProgressTotal,
		"files_updated":    job.FilesUpdated,
		"files_skipped":    job.FilesSkipped,
		"files_failed":     job.FilesFailed,
		"created_at":       job.CreatedAt,
		"updated_at":       job.UpdatedAt,
	}

	if job.StatusMessage.Valid {
		payload["status_message"] = job.StatusMessage.String
	}
	if job.StartedAt.Valid {
		payload["started_at"] = job.StartedAt.Time
	}
	if job.CompletedAt.Valid {
		payload["completed_at"] = job.CompletedAt.Time
	}
	if job.LastError.Valid {
		payload["last_error"] = job.LastError.String
	}

	return payload
}
