package intake

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/shohag/pushbridge/internal/models"
)

// MaxPayloadSize caps a single event payload.
const MaxPayloadSize = 256 * 1024 // 256KB

var (
	ErrInvalidPayload = errors.New("intake: invalid payload")
	ErrOversized      = errors.New("intake: payload too large")
	ErrOverloaded     = errors.New("intake: queue at high water")
	ErrShuttingDown   = errors.New("intake: shutting down")
)

// Intake is the single ingress point. Accepted events land on a queue
// bounded at the configured high-water mark; a full queue is a backpressure
// signal to the producer, never a blocking wait.
type Intake struct {
	out chan models.Event
	log zerolog.Logger

	mu     sync.RWMutex
	closed bool
}

func New(highWater int, log zerolog.Logger) *Intake {
	if highWater <= 0 {
		highWater = 1
	}
	return &Intake{
		out: make(chan models.Event, highWater),
		log: log,
	}
}

// Out is consumed by the engine's pipeline.
func (i *Intake) Out() <-chan models.Event {
	return i.out
}

// Submit validates and enqueues an event. It returns as soon as the event
// is queued; delivery proceeds asynchronously.
func (i *Intake) Submit(ev models.Event) (models.Event, error) {
	if ev.RecipientID == "" {
		return ev, fmt.Errorf("%w: recipient_id is required", ErrInvalidPayload)
	}
	if len(ev.Payload) == 0 {
		return ev, fmt.Errorf("%w: payload is required", ErrInvalidPayload)
	}
	if len(ev.Payload) > MaxPayloadSize {
		return ev, ErrOversized
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	} else if _, err := uuid.Parse(ev.ID); err != nil {
		return ev, fmt.Errorf("%w: event id is not a UUID", ErrInvalidPayload)
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.closed {
		return ev, ErrShuttingDown
	}

	select {
	case i.out <- ev:
		return ev, nil
	default:
		i.log.Warn().Str("event_id", ev.ID).Msg("intake queue at high water, shedding event")
		return ev, ErrOverloaded
	}
}

// Close stops acceptance and closes the output channel. Events already
// queued remain readable by the consumer.
func (i *Intake) Close() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return
	}
	i.closed = true
	close(i.out)
}
