package extraction

import (
	"context"
	"encoding/json"
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

func (h *Handler) ExtractKeySections(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sections, err := h.service.Extract(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "key section extraction aborted", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "key section extraction aborted", http.StatusInternalServerError)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{"sections": sections},
	})
}

type reviewRequest struct {
	Sections []Section `json:"sections"`
}

func (h *Handler) ReviewSections(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", "Invalid JSON", http.StatusBadRequest)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{"data": h.service.Review(ctx, req.Sections)})
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
