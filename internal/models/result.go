package models

import "time"

type DispatchStatus string

const (
	StatusDelivered DispatchStatus = "delivered"
	StatusRetryable DispatchStatus = "retryable"
	StatusPermanent DispatchStatus = "permanent"
	StatusExhausted DispatchStatus = "exhausted"
)

// Terminal reports whether the status ends a token's lifecycle. Retryable
// failures go back through the scheduler until they either succeed or run
// out of attempts.
func (s DispatchStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusPermanent || s == StatusExhausted
}

// TokenResult is the gateway's verdict for a single token within a batch.
type TokenResult struct {
	Token  Token          `json:"token"`
	Status DispatchStatus `json:"status"`
	Reason string         `json:"reason,omitempty"`
}

// Outcome is a terminal delivery result for one (event, recipient, token)
// triple, recorded exactly once per token.
type Outcome struct {
	EventID     string         `json:"event_id"`
	RecipientID string         `json:"recipient_id"`
	Token       Token          `json:"token"`
	Status      DispatchStatus `json:"status"`
	Reason      string         `json:"reason,omitempty"`
	Attempts    int            `json:"attempts"`
	At          time.Time      `json:"at"`
}
