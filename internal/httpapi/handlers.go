// Package httpapi exposes the integration's operations to the
// surrounding CRUD layer: webhook ingestion, task reads and mutations,
// pipelines and analytics.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/crmkit/taskbridge/internal/auth/credential"
	"github.com/crmkit/taskbridge/internal/logging"
	"github.com/crmkit/taskbridge/internal/remote"
	"github.com/crmkit/taskbridge/internal/taskops"
	"github.com/crmkit/taskbridge/internal/util"
	"github.com/crmkit/taskbridge/internal/version"
	"github.com/crmkit/taskbridge/internal/webhook"
)

// maxWebhookBody bounds inbound payload size (1MB).
const maxWebhookBody = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps the integration error taxonomy onto HTTP statuses:
// missing/expired credential → 503, remote 404 → 404, any other remote
// failure → 502.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, credential.ErrAuthUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "CRM integration not configured or expired",
		})
	case remote.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "resource not found"})
	default:
		var apiErr *remote.APIError
		if errors.As(err, &apiErr) {
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": "upstream CRM call failed"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

// actorFrom identifies who performed a mutation, for audit rows.
func actorFrom(r *http.Request) string {
	if actor := r.Header.Get("X-Actor-ID"); actor != "" {
		return actor
	}
	return "api"
}

// ProcessWebhookHandler ingests CRM change notifications. Contact-only
// payloads are acknowledged; processing failures return 500 so the CRM
// redelivers.
func ProcessWebhookHandler(rec *webhook.Reconciler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"accepted": false, "error": "unreadable body",
			})
			return
		}

		result, err := rec.Process(r.Context(), raw)
		if err != nil {
			log.Printf("❌ [%s] Webhook processing failed: %v (payload: %s)",
				logging.GetRequestID(r.Context()), err, util.TruncateBytes(raw))
			writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
				"accepted": false, "error": "processing failed",
			})
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// TasksHandler lists a pipeline's tasks, optionally filtered by
// ?status=completed|incomplete.
func TasksHandler(svc *taskops.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pipelineID := chi.URLParam(r, "pipelineId")
		tasks, err := svc.GetTasks(r.Context(), pipelineID, r.URL.Query().Get("status"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"tasks": tasks})
	}
}

// UpdateTaskStatusHandler toggles a task's completion.
func UpdateTaskStatusHandler(svc *taskops.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Completed bool `json:"completed"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
			return
		}
		task, err := svc.UpdateTaskStatus(r.Context(), chi.URLParam(r, "taskId"), body.Completed, actorFrom(r))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"task": task})
	}
}

// AssignTaskHandler reassigns a task.
func AssignTaskHandler(svc *taskops.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			UserID     string `json:"userId"`
			AssignedBy string `json:"assignedBy"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "userId required"})
			return
		}
		assignedBy := body.AssignedBy
		if assignedBy == "" {
			assignedBy = actorFrom(r)
		}
		task, err := svc.AssignTask(r.Context(), chi.URLParam(r, "taskId"), body.UserID, assignedBy)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"task": task})
	}
}

// UpdateTaskDueDateHandler sets a task's due date.
func UpdateTaskDueDateHandler(svc *taskops.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			DueDate string `json:"dueDate"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.DueDate == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "dueDate required"})
			return
		}
		task, err := svc.UpdateTaskDueDate(r.Context(), chi.URLParam(r, "taskId"), body.DueDate, actorFrom(r))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"task": task})
	}
}

// PipelinesHandler lists the pipeline definitions.
func PipelinesHandler(svc *taskops.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pipelines, err := svc.GetPipelines(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"pipelines": pipelines})
	}
}

// AnalyticsHandler returns the task summary for a pipeline.
func AnalyticsHandler(svc *taskops.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := svc.GetAnalytics(r.Context(), chi.URLParam(r, "pipelineId"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

// HealthHandler reports version and whether the CRM credential is
// connected.
func HealthHandler(mgr *credential.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":       "ok",
			"version":      version.Version,
			"crmConnected": mgr.Connected(),
		})
	}
}
