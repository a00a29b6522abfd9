package settings

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"protoqa/internal/middleware"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// patch carries the fields of a PUT body; absent fields keep their current value.
type patch struct {
	RelevanceMaxDistance *float64 `json:"relevance_max_distance"`
	RelevanceFloorSearch *float64 `json:"relevance_floor_search"`
	RelevanceFloorAnswer *float64 `json:"relevance_floor_answer"`
	TopK                 *int     `json:"top_k"`
}

func (p patch) apply(s *Settings) {
	if p.RelevanceMaxDistance != nil {
		s.RelevanceMaxDistance = *p.RelevanceMaxDistance
	}
	if p.RelevanceFloorSearch != nil {
		s.RelevanceFloorSearch = *p.RelevanceFloorSearch
	}
	if p.RelevanceFloorAnswer != nil {
		s.RelevanceFloorAnswer = *p.RelevanceFloorAnswer
	}
	if p.TopK != nil {
		s.TopK = *p.TopK
	}
}

func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s, err := h.svc.Get(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load settings", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{
		"data": s,
		"meta": map[string]interface{}{"defaults": h.svc.Defaults()},
	})
}

// UpdateSettings merges the body over the current settings and returns the
// result. A value of 0 for relevance_max_distance re-enables calibration.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var p patch
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}

	current, err := h.svc.Get(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load settings", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}
	next := *current
	p.apply(&next)

	if err := h.svc.Update(ctx, &next); err != nil {
		if errors.Is(err, ErrInvalidSettings) {
			h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
			return
		}
		slog.ErrorContext(ctx, "failed to update settings", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	slog.InfoContext(ctx, "settings updated", "top_k", next.TopK,
		"floor_search", next.RelevanceFloorSearch, "floor_answer", next.RelevanceFloorAnswer)
	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{"data": next})
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
