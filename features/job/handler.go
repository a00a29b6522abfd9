package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"protoqa/internal/middleware"
)

type Handler struct {
	service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{service: s}
}

// List serves the chunks that failed to embed, newest first. An optional
// task_id query parameter narrows the list to one ingestion run.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskID := r.URL.Query().Get("task_id")

	jobs, err := h.service.List(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list failed chunks", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	filtered := make([]Job, 0, len(jobs))
	tasks := make(map[string]struct{})
	for _, j := range jobs {
		if taskID != "" && j.TaskID != taskID {
			continue
		}
		filtered = append(filtered, j)
		tasks[j.TaskID] = struct{}{}
	}

	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{
		"data": filtered,
		"meta": map[string]int{"count": len(filtered), "tasks": len(tasks)},
	})
}

// Retry queues one failed chunk for the embed retry worker.
func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	err := h.service.Retry(ctx, id)
	switch {
	case err == nil:
		slog.InfoContext(ctx, "failed chunk queued for retry", "id", id)
		h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{
			"data": map[string]string{"id": id, "status": "queued"},
		})
	case errors.Is(err, sql.ErrNoRows):
		h.writeError(ctx, w, "NOT_FOUND", "Job not found", http.StatusNotFound)
	case errors.Is(err, ErrInvalidPayload):
		h.writeError(ctx, w, "INVALID_PAYLOAD", err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, ErrNoPublisher), errors.Is(err, ErrPublishTimeout):
		slog.WarnContext(ctx, "retry worker unavailable", "id", id, "error", err)
		h.writeError(ctx, w, "SERVICE_UNAVAILABLE", err.Error(), http.StatusServiceUnavailable)
	default:
		slog.ErrorContext(ctx, "failed to retry chunk", "id", id, "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
	}
}

func (h *Handler) writeJSON(ctx context.Context, w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	h.writeJSON(ctx, w, status, map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	})
}
