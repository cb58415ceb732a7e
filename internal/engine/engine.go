package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/shohag/pushbridge/internal/batch"
	"github.com/shohag/pushbridge/internal/config"
	"github.com/shohag/pushbridge/internal/dedup"
	"github.com/shohag/pushbridge/internal/dispatch"
	"github.com/shohag/pushbridge/internal/intake"
	"github.com/shohag/pushbridge/internal/models"
	"github.com/shohag/pushbridge/internal/outcome"
	"github.com/shohag/pushbridge/internal/registry"
)

// Engine wires the dispatch pipeline: intake → dedup → token resolution →
// batcher → worker pool, with failed deliveries cycling through the retry
// scheduler until terminal.
type Engine struct {
	cfg       config.DispatchConfig
	intake    *intake.Intake
	window    *dedup.Window
	cache     *registry.Cache
	batcher   *batch.Batcher
	scheduler *dispatch.Scheduler
	pool      *dispatch.Pool
	sink      outcome.Sink
	log       zerolog.Logger

	cancelWindow context.CancelFunc
	cancelSched  context.CancelFunc
	cancelPool   context.CancelFunc

	pipelineWG sync.WaitGroup
	windowWG   sync.WaitGroup
	schedWG    sync.WaitGroup
	batcherWG  sync.WaitGroup
}

func New(cfg config.DispatchConfig, store registry.Store, gateway dispatch.Gateway, sink outcome.Sink, log zerolog.Logger) *Engine {
	e := &Engine{
		cfg:     cfg,
		intake:  intake.New(cfg.IntakeHighWater, log),
		window:  dedup.New(cfg.DedupWindow, log),
		cache:   registry.NewCache(store, cfg.CacheTTL, log),
		batcher: batch.New(cfg.MaxBatchSize, cfg.MaxBatchLatency, log),
		sink:    sink,
		log:     log,
	}

	policy := dispatch.BackoffPolicy{Base: cfg.BackoffBase, Cap: cfg.BackoffCap}
	e.scheduler = dispatch.NewScheduler(policy, cfg.MaxAttempts, sink, e.batcher.In(), log)
	worker := dispatch.NewWorker(gateway, sink, e.cache, e.scheduler, log)
	e.pool = dispatch.NewPool(worker, cfg.Workers, e.batcher.Out(), log)
	return e
}

// Submit validates and enqueues one event, returning as soon as it is
// accepted. Delivery is asynchronous.
func (e *Engine) Submit(ev models.Event) (models.Event, error) {
	return e.intake.Submit(ev)
}

func (e *Engine) Start() {
	windowCtx, cancelWindow := context.WithCancel(context.Background())
	schedCtx, cancelSched := context.WithCancel(context.Background())
	poolCtx, cancelPool := context.WithCancel(context.Background())
	e.cancelWindow = cancelWindow
	e.cancelSched = cancelSched
	e.cancelPool = cancelPool

	e.windowWG.Add(1)
	go func() {
		defer e.windowWG.Done()
		e.window.Run(windowCtx)
	}()

	e.batcherWG.Add(1)
	go func() {
		defer e.batcherWG.Done()
		// Lifecycle is driven by CloseInput during shutdown, not by a
		// context, so queued items are flushed rather than abandoned.
		e.batcher.Run(context.Background())
	}()

	e.schedWG.Add(1)
	go func() {
		defer e.schedWG.Done()
		e.scheduler.Run(schedCtx)
	}()

	e.pool.Start(poolCtx)

	e.pipelineWG.Add(1)
	go func() {
		defer e.pipelineWG.Done()
		e.pipeline(poolCtx)
	}()

	e.log.Info().
		Int("workers", e.cfg.Workers).
		Int("max_batch_size", e.cfg.MaxBatchSize).
		Dur("dedup_window", e.cfg.DedupWindow).
		Msg("dispatch engine started")
}

func (e *Engine) pipeline(ctx context.Context) {
	for ev := range e.intake.Out() {
		if !e.window.Admit(ev.RecipientID, ev.ID) {
			e.log.Debug().
				Str("event_id", ev.ID).
				Str("recipient_id", ev.RecipientID).
				Msg("duplicate submission suppressed")
			continue
		}

		req := &models.DeliveryRequest{
			ID:          models.NewID("req"),
			EventID:     ev.ID,
			RecipientID: ev.RecipientID,
			Payload:     ev.Payload,
		}

		tokens, err := e.cache.Resolve(ctx, ev.RecipientID)
		switch {
		case err == nil:
			req.Tokens = tokens
			e.batcher.In() <- models.BatchItem{Request: req, Pending: tokens}
		case errors.Is(err, registry.ErrNoRecipient):
			e.log.Info().
				Str("event_id", ev.ID).
				Str("recipient_id", ev.RecipientID).
				Msg("recipient has no tokens, dropping event")
		default:
			// Transient backing-store failure: the scheduler holds the
			// request and a worker resolves it on release.
			e.log.Warn().Err(err).
				Str("event_id", ev.ID).
				Msg("token resolution failed, deferring to retry scheduler")
			e.scheduler.Schedule(ctx, req, nil)
		}
	}
}

// Stop shuts the pipeline down in dependency order: intake stops accepting,
// queued events flow through, workers finish in-flight batches up to the
// grace period, and whatever is still pending afterwards is reported
// Exhausted rather than dropped.
func (e *Engine) Stop() {
	e.log.Info().Msg("stopping dispatch engine")

	e.intake.Close()
	e.pipelineWG.Wait()

	// Freeze the scheduler before closing the batcher input: after Run
	// returns nothing else sends into the batcher.
	e.cancelSched()
	e.schedWG.Wait()

	e.batcher.CloseInput()
	e.batcherWG.Wait()

	done := make(chan struct{})
	go func() {
		e.pool.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(e.cfg.ShutdownGrace):
		e.log.Warn().Dur("grace", e.cfg.ShutdownGrace).Msg("grace period elapsed, aborting in-flight batches")
		e.cancelPool()
		<-done
	}

	// Anything the workers pushed back plus anything still queued becomes
	// a terminal Exhausted outcome.
	e.scheduler.Drain(context.Background())

	e.cancelWindow()
	e.windowWG.Wait()
	e.cancelPool()

	e.log.Info().Msg("dispatch engine stopped")
}
