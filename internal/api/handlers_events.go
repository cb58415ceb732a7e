package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shohag/pushbridge/internal/intake"
	"github.com/shohag/pushbridge/internal/models"
)

// Submitter is the engine's ingress seam.
type Submitter interface {
	Submit(ev models.Event) (models.Event, error)
}

type EventHandler struct {
	engine Submitter
}

func NewEventHandler(engine Submitter) *EventHandler {
	return &EventHandler{engine: engine}
}

type submitEventRequest struct {
	EventID     string          `json:"event_id,omitempty"`
	RecipientID string          `json:"recipient_id"`
	Payload     json.RawMessage `json:"payload"`
}

func (h *EventHandler) Submit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, intake.MaxPayloadSize+4096)
	var req submitEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ev, err := h.engine.Submit(models.Event{
		ID:          req.EventID,
		RecipientID: req.RecipientID,
		Payload:     req.Payload,
	})
	if err != nil {
		writeError(w, intakeStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"event_id":     ev.ID,
		"recipient_id": ev.RecipientID,
		"accepted_at":  ev.CreatedAt,
	})
}

func intakeStatus(err error) int {
	switch {
	case errors.Is(err, intake.ErrOversized):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, intake.ErrOverloaded), errors.Is(err, intake.ErrShuttingDown):
		return http.StatusServiceUnavailable
	case errors.Is(err, intake.ErrInvalidPayload):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
