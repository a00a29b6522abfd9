package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"protoqa/internal/middleware"
)

type Handler struct {
	service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{service: s}
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var f Feedback
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", "Invalid JSON", http.StatusBadRequest)
		return
	}

	if err := h.service.Submit(ctx, &f); err != nil {
		if errors.Is(err, ErrInvalidFeedback) {
			h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
			return
		}
		slog.ErrorContext(ctx, "failed to record feedback", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to record feedback", http.StatusInternalServerError)
		return
	}

	h.writeJSON(ctx, w, http.StatusCreated, map[string]interface{}{
		"data": map[string]string{
			"feedback_id": f.ID,
			"message":     fmt.Sprintf("Feedback '%s' recorded successfully", f.ReactionType),
		},
	})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	days, ok := h.intParam(ctx, w, r, "days", DefaultStatsDays)
	if !ok {
		return
	}

	stats, days, err := h.service.Stats(ctx, days)
	if err != nil {
		slog.ErrorContext(ctx, "failed to compute feedback stats", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to compute feedback stats", http.StatusInternalServerError)
		return
	}

	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{
		"data": stats,
		"meta": map[string]int{"period_days": days},
	})
}

func (h *Handler) Recent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, ok := h.intParam(ctx, w, r, "limit", DefaultRecentLimit)
	if !ok {
		return
	}

	items, err := h.service.Recent(ctx, limit)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list feedback", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to list feedback", http.StatusInternalServerError)
		return
	}

	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{
		"data": items,
		"meta": map[string]int{"count": len(items)},
	})
}

func (h *Handler) intParam(ctx context.Context, w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", fmt.Sprintf("%s must be an integer", name), http.StatusBadRequest)
		return 0, false
	}
	return v, true
}

func (h *Handler) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
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
