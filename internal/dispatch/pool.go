package dispatch

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/shohag/pushbridge/internal/models"
)

// Pool runs a fixed number of workers over the batcher's output. Each
// worker holds at most one in-flight gateway call, so the pool size bounds
// concurrent outbound calls.
type Pool struct {
	worker  *Worker
	workers int
	batches <-chan []models.BatchItem
	log     zerolog.Logger
	wg      sync.WaitGroup
}

func NewPool(worker *Worker, workers int, batches <-chan []models.BatchItem, log zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{
		worker:  worker,
		workers: workers,
		batches: batches,
		log:     log,
	}
}

func (p *Pool) Start(ctx context.Context) {
	p.log.Info().Int("workers", p.workers).Msg("starting dispatch worker pool")

	for n := 0; n < p.workers; n++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for batch := range p.batches {
				p.worker.Process(ctx, batch)
			}
		}()
	}
}

// Wait blocks until the batch channel is closed and every worker has
// finished its current batch.
func (p *Pool) Wait() {
	p.wg.Wait()
	p.log.Info().Msg("dispatch worker pool stopped")
}
