package models

import (
	"encoding/json"
	"time"
)

// Token is an opaque device/channel endpoint identifier accepted by the
// push gateway.
type Token string

// DeliveryRequest is one event resolved against one recipient's tokens.
// Tokens holds only the tokens still pending delivery; tokens that reached
// a terminal state on an earlier attempt are removed before rescheduling.
type DeliveryRequest struct {
	ID          string          `json:"id"`
	EventID     string          `json:"event_id"`
	RecipientID string          `json:"recipient_id"`
	Payload     json.RawMessage `json:"payload"`
	Tokens      []Token         `json:"tokens"`
	Attempt     int             `json:"attempt"`
	NotBefore   time.Time       `json:"not_before"`
}

// BatchItem pairs a request with the token subset being attempted in the
// current batch.
type BatchItem struct {
	Request *DeliveryRequest
	Pending []Token
}
