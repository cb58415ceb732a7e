package batch

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/shohag/pushbridge/internal/models"
)

// Batcher accumulates pending deliveries and flushes gateway-sized batches.
// A batch goes out when it reaches maxSize or when the oldest buffered item
// has waited maxLatency, whichever comes first.
//
// The buffer is owned by the Run goroutine; producers only ever touch the
// input channel.
type Batcher struct {
	in         chan models.BatchItem
	out        chan []models.BatchItem
	maxSize    int
	maxLatency time.Duration
	log        zerolog.Logger
}

func New(maxSize int, maxLatency time.Duration, log zerolog.Logger) *Batcher {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &Batcher{
		in:         make(chan models.BatchItem, maxSize),
		out:        make(chan []models.BatchItem, 1),
		maxSize:    maxSize,
		maxLatency: maxLatency,
		log:        log,
	}
}

// In accepts items from the resolve pipeline and the retry scheduler.
func (b *Batcher) In() chan<- models.BatchItem {
	return b.in
}

// Out yields flushed batches; closed once Run finishes draining.
func (b *Batcher) Out() <-chan []models.BatchItem {
	return b.out
}

// CloseInput signals that no further items will arrive. Run flushes the
// remainder and closes Out. Callers must guarantee all producers have
// stopped first.
func (b *Batcher) CloseInput() {
	close(b.in)
}

func (b *Batcher) Run(ctx context.Context) {
	var buf []models.BatchItem

	timer := time.NewTimer(b.maxLatency)
	if !timer.Stop() {
		<-timer.C
	}

	flush := func() {
		if len(buf) == 0 {
			return
		}
		b.log.Debug().Int("items", len(buf)).Msg("flushing batch")
		b.out <- buf
		buf = nil
	}

	defer close(b.out)

	for {
		if len(buf) == 0 {
			select {
			case <-ctx.Done():
				return
			case item, ok := <-b.in:
				if !ok {
					return
				}
				buf = append(buf, item)
				if len(buf) >= b.maxSize {
					flush()
					continue
				}
				timer.Reset(b.maxLatency)
			}
			continue
		}

		select {
		case <-ctx.Done():
			flush()
			return
		case <-timer.C:
			flush()
		case item, ok := <-b.in:
			if !ok {
				flush()
				return
			}
			buf = append(buf, item)
			if len(buf) >= b.maxSize {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				flush()
			}
		}
	}
}
