package outcome

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/shohag/pushbridge/internal/models"
)

// Sink receives every terminal delivery result, exactly once per
// (event, recipient, token).
type Sink interface {
	Record(ctx context.Context, o models.Outcome) error
}

// LogSink writes outcomes to the log only. Used when no audit store is
// configured.
type LogSink struct {
	log zerolog.Logger
}

func NewLogSink(log zerolog.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Record(ctx context.Context, o models.Outcome) error {
	s.log.Info().
		Str("event_id", o.EventID).
		Str("recipient_id", o.RecipientID).
		Str("token", string(o.Token)).
		Str("status", string(o.Status)).
		Str("reason", o.Reason).
		Int("attempts", o.Attempts).
		Msg("delivery outcome")
	return nil
}
