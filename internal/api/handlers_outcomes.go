package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/shohag/pushbridge/internal/models"
	"github.com/shohag/pushbridge/internal/outcome"
)

// OutcomeReader serves the audit store's read side. Nil when outcomes are
// log-only.
type OutcomeReader interface {
	ListByEvent(ctx context.Context, eventID string) ([]models.Outcome, error)
	Stats(ctx context.Context) (*outcome.Stats, error)
}

type OutcomeHandler struct {
	reader OutcomeReader
}

func NewOutcomeHandler(reader OutcomeReader) *OutcomeHandler {
	return &OutcomeHandler{reader: reader}
}

func (h *OutcomeHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "pushbridge",
	})
}

func (h *OutcomeHandler) ListByEvent(w http.ResponseWriter, r *http.Request) {
	if h.reader == nil {
		writeError(w, http.StatusNotImplemented, "outcome store not configured")
		return
	}

	eventID := chi.URLParam(r, "event_id")
	outcomes, err := h.reader.ListByEvent(r.Context(), eventID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list outcomes")
		return
	}
	if outcomes == nil {
		outcomes = []models.Outcome{}
	}
	writeJSON(w, http.StatusOK, outcomes)
}

func (h *OutcomeHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if h.reader == nil {
		writeError(w, http.StatusNotImplemented, "outcome store not configured")
		return
	}

	stats, err := h.reader.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
