package models

import (
	"encoding/json"
	"time"
)

// Event is a single producer submission, immutable once accepted.
type Event struct {
	ID          string          `json:"id"`
	RecipientID string          `json:"recipient_id"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"created_at"`
}
