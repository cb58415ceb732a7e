package dispatch

import (
	"context"

	"github.com/shohag/pushbridge/internal/models"
)

// Gateway is the outbound push delivery port. Send reports a per-token
// verdict; a non-nil error means the call did not complete for the whole
// batch, and any pending token absent from the (possibly partial) result
// map should be treated as a retryable failure.
type Gateway interface {
	Send(ctx context.Context, items []models.BatchItem) (map[models.Token]models.TokenResult, error)
}
