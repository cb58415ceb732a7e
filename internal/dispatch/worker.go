package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/shohag/pushbridge/internal/models"
	"github.com/shohag/pushbridge/internal/outcome"
	"github.com/shohag/pushbridge/internal/registry"
)

// Registry is the worker's view of the token cache: late resolution for
// requests that were scheduled before their backing-store fetch succeeded,
// and invalidation of permanently rejected tokens.
type Registry interface {
	Resolve(ctx context.Context, recipientID string) ([]models.Token, error)
	Invalidate(recipientID string, token models.Token)
}

type Worker struct {
	gateway   Gateway
	sink      outcome.Sink
	registry  Registry
	scheduler *Scheduler
	log       zerolog.Logger
	now       func() time.Time
}

func NewWorker(gateway Gateway, sink outcome.Sink, reg Registry, scheduler *Scheduler, log zerolog.Logger) *Worker {
	return &Worker{
		gateway:   gateway,
		sink:      sink,
		registry:  reg,
		scheduler: scheduler,
		log:       log,
		now:       time.Now,
	}
}

// Process sends one batch and demultiplexes the per-token results.
// Delivered and permanently-failed tokens reach the sink immediately;
// retryable ones go back through the scheduler as a single follow-up
// request per original request.
func (w *Worker) Process(ctx context.Context, items []models.BatchItem) {
	items = w.resolvePending(ctx, items)
	if len(items) == 0 {
		return
	}

	results, gwErr := w.gateway.Send(ctx, items)
	if gwErr != nil {
		w.log.Warn().Err(gwErr).Int("items", len(items)).Msg("gateway call failed, retrying unaccounted tokens")
	}

	for _, item := range items {
		req := item.Request
		var retry []models.Token

		for _, tok := range item.Pending {
			// Results from calls that completed before the failure are
			// still honored; anything unaccounted for is
			// indistinguishable from a timeout.
			res, ok := results[tok]
			if !ok {
				retry = append(retry, tok)
				continue
			}

			switch res.Status {
			case models.StatusDelivered:
				w.record(ctx, req, tok, models.StatusDelivered, "")
			case models.StatusPermanent:
				w.record(ctx, req, tok, models.StatusPermanent, res.Reason)
				w.registry.Invalidate(req.RecipientID, tok)
			default:
				retry = append(retry, tok)
			}
		}

		if len(retry) > 0 {
			w.scheduler.Schedule(ctx, req, retry)
		}
	}
}

// resolvePending fills in token sets for requests that reached the pool
// unresolved (their backing-store fetch failed transiently and the retry
// scheduler released them). Requests whose fetch fails again go back to the
// scheduler; recipients with no tokens are dropped.
func (w *Worker) resolvePending(ctx context.Context, items []models.BatchItem) []models.BatchItem {
	ready := make([]models.BatchItem, 0, len(items))
	for _, item := range items {
		if len(item.Pending) > 0 {
			ready = append(ready, item)
			continue
		}

		tokens, err := w.registry.Resolve(ctx, item.Request.RecipientID)
		switch {
		case err == nil:
			item.Request.Tokens = tokens
			item.Pending = tokens
			ready = append(ready, item)
		case errors.Is(err, registry.ErrNoRecipient):
			w.log.Info().
				Str("request_id", item.Request.ID).
				Str("recipient_id", item.Request.RecipientID).
				Msg("recipient has no tokens, dropping request")
		default:
			w.log.Warn().Err(err).
				Str("request_id", item.Request.ID).
				Msg("token resolution still failing, rescheduling")
			w.scheduler.Schedule(ctx, item.Request, nil)
		}
	}
	return ready
}

func (w *Worker) record(ctx context.Context, req *models.DeliveryRequest, tok models.Token, status models.DispatchStatus, reason string) {
	o := models.Outcome{
		EventID:     req.EventID,
		RecipientID: req.RecipientID,
		Token:       tok,
		Status:      status,
		Reason:      reason,
		Attempts:    req.Attempt + 1,
		At:          w.now().UTC(),
	}
	if err := w.sink.Record(ctx, o); err != nil {
		w.log.Error().Err(err).
			Str("request_id", req.ID).
			Str("token", string(tok)).
			Msg("failed to record outcome")
		return
	}

	switch status {
	case models.StatusDelivered:
		w.log.Info().
			Str("request_id", req.ID).
			Str("token", string(tok)).
			Int("attempt", req.Attempt+1).
			Msg("delivery succeeded")
	case models.StatusPermanent:
		w.log.Warn().
			Str("request_id", req.ID).
			Str("token", string(tok)).
			Str("reason", reason).
			Msg("token permanently rejected")
	}
}
