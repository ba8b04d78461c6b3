package handlers

import (
	"context"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/PortNumber53/show-association/backend/internal/models"
	"github.com/PortNumber53/show-association/backend/internal/worker"
)

// JobStore defines the interface for job storage operations
type JobStore interface {
	GetByID(ctx context.Context, id int64) (*models.Job, error)
	CancelJob(ctx context.Context, id int64) error
	GetStats(ctx context.Context) (*models.JobStats, error)
	ListJobs(ctx context.Context, status models.JobStatus, limit int) ([]*models.Job, error)
}

// WorkerStats exposes the in-process worker counters.
type WorkerStats interface {
	GetStats() worker.Stats
}

// GetJob retrieves a job by ID
func GetJob(jobStore JobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		job, err := jobStore.GetByID(r.Context(), jobID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

// CancelJob cancels a pending or failed job
func CancelJob(jobStore JobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		if err := jobStore.CancelJob(r.Context(), jobID); err != nil {
			log.Printf("CancelJob: failed to cancel job %d: %v", jobID, err)
			writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"id":      jobID,
			"message": "Job cancelled successfully",
		})
	}
}

// GetJobStats returns queue counts and, when a worker runs in this process,
// its counters.
func GetJobStats(jobStore JobStore, ws WorkerStats) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := jobStore.GetStats(r.Context())
		if err != nil {
			log.Printf("GetJobStats: failed to get stats: %v", err)
			writeError(w, r, err)
			return
		}

		resp := map[string]any{"queue": stats}
		if ws != nil {
			resp["worker"] = ws.GetStats()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// ListJobs returns jobs, filtered by ?status= (defaults to failed, the ones
// that need a human).
func ListJobs(jobStore JobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := models.JobStatus(r.URL.Query().Get("status"))
		switch status {
		case "":
			status = models.JobStatusFailed
		case models.JobStatusPending, models.JobStatusProcessing, models.JobStatusCompleted,
			models.JobStatusFailed, models.JobStatusCancelled:
		default:
			writeErrorText(w, http.StatusBadRequest, "invalid status")
			return
		}

		limit := 100
		if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= 1000 {
			limit = l
		}

		jobs, err := jobStore.ListJobs(r.Context(), status, limit)
		if err != nil {
			log.Printf("ListJobs: failed to list jobs: %v", err)
			writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"jobs":  nonNil(jobs),
			"count": len(jobs),
		})
	}
}

// JobHandler holds dependencies for job handlers
type JobHandler struct {
	Store  JobStore
	Worker WorkerStats
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(store JobStore, w WorkerStats) *JobHandler {
	return &JobHandler{
		Store:  store,
		Worker: w,
	}
}

// RegisterRoutes registers job routes on a router already scoped to /api/admin.
func (h *JobHandler) RegisterRoutes(router chi.Router) {
	router.Get("/jobs", ListJobs(h.Store))
	router.Get("/jobs/stats", GetJobStats(h.Store, h.Worker))
	router.Get("/jobs/{id}", GetJob(h.Store))
	router.Post("/jobs/{id}/cancel", CancelJob(h.Store))
}
