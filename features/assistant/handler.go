package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"protoqa/internal/embedding"
	"protoqa/internal/middleware"
	"protoqa/internal/retrieval"
)

type Handler struct {
	service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{service: s}
}

type questionRequest struct {
	Question string `json:"question"`
}

func (h *Handler) Ask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req questionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", "Invalid JSON", http.StatusBadRequest)
		return
	}

	reply, err := h.service.Ask(ctx, req.Question)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to answer question", err)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{"data": reply})
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req questionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", "Invalid JSON", http.StatusBadRequest)
		return
	}

	items, err := h.service.Search(ctx, req.Question)
	if err != nil {
		h.writeServiceError(ctx, w, "search failed", err)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{
		"data": items,
		"meta": map[string]int{"count": len(items)},
	})
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st, err := h.service.Status(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to read status", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to read status", http.StatusInternalServerError)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{"data": st})
}

func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	n, err := h.service.Reset(ctx)
	if err != nil {
		if errors.Is(err, ErrIngesting) {
			h.writeError(ctx, w, "CONFLICT", err.Error(), http.StatusConflict)
			return
		}
		slog.ErrorContext(ctx, "failed to reset index", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to reset index", http.StatusInternalServerError)
		return
	}

	msg := "Database was already empty."
	if n > 0 {
		msg = fmt.Sprintf("Database reset successfully. Cleared %d chunks.", n)
	}
	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{"cleared_count": n, "message": msg},
	})
}

func (h *Handler) WarmUp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	data := map[string]interface{}{"success": true, "message": "Model warmed up successfully"}
	if err := h.service.WarmUp(ctx); err != nil {
		data = map[string]interface{}{"success": false, "message": "Model warm-up failed", "error": err.Error()}
	}
	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{"data": data})
}

// TestModels reports generator reachability. An unreachable provider is a
// normal answer, not a server error.
func (h *Handler) TestModels(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	models, err := h.service.Models(ctx)
	if err != nil {
		slog.WarnContext(ctx, "generator unreachable", "error", err)
		h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{
			"data": map[string]interface{}{
				"ollama_running":   false,
				"available_models": []string{},
				"error":            err.Error(),
				"message":          "Cannot reach the generation provider",
			},
		})
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"ollama_running":   true,
			"available_models": models,
			"message":          "Ollama is running successfully",
		},
	})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "healthy", "message": "Backend is running"})
}

func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	if errors.Is(err, retrieval.ErrEmptyQuestion) {
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	if kind, ok := embedding.KindOf(err); ok {
		switch kind {
		case embedding.KindEmptyInput:
			h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
			return
		case embedding.KindServiceUnavailable, embedding.KindTimeout:
			slog.WarnContext(ctx, msg, "error", err)
			h.writeError(ctx, w, "SERVICE_UNAVAILABLE", "embedding service unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	slog.ErrorContext(ctx, msg, "error", err)
	h.writeError(ctx, w, "INTERNAL_ERROR", msg, http.StatusInternalServerError)
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
