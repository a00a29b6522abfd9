package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"protoqa/internal/middleware"
)

// Counter is satisfied by the vector index, the failed job repo and the
// feedback repo.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

type Handler struct {
	chunks   Counter
	jobs     Counter
	feedback Counter
}

func NewHandler(chunks, jobs, feedback Counter) *Handler {
	return &Handler{chunks: chunks, jobs: jobs, feedback: feedback}
}

type StatsResponse struct {
	Chunks     int `json:"chunks"`
	FailedJobs int `json:"failed_jobs"`
	Feedback   int `json:"feedback"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	slog.InfoContext(ctx, "getting stats")

	var resp StatsResponse
	var err error

	if resp.Chunks, err = h.chunks.Count(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to count chunks", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count chunks", http.StatusInternalServerError)
		return
	}

	if resp.FailedJobs, err = h.jobs.Count(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to count jobs", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count jobs", http.StatusInternalServerError)
		return
	}

	if resp.Feedback, err = h.feedback.Count(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to count feedback", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count feedback", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
