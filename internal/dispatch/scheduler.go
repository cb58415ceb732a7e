package dispatch

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/shohag/pushbridge/internal/models"
	"github.com/shohag/pushbridge/internal/outcome"
)

// Scheduler holds transiently-failed requests until their backoff elapses,
// then feeds them back into the batcher. Requests that have consumed their
// attempt budget are reported Exhausted instead.
//
// The heap is guarded by a mutex because workers push from their own
// goroutines; releases happen only on the Run goroutine.
type Scheduler struct {
	policy      BackoffPolicy
	maxAttempts int
	sink        outcome.Sink
	out         chan<- models.BatchItem
	log         zerolog.Logger
	now         func() time.Time

	mu    sync.Mutex
	queue delayQueue
	wake  chan struct{}
}

func NewScheduler(policy BackoffPolicy, maxAttempts int, sink outcome.Sink, out chan<- models.BatchItem, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		policy:      policy,
		maxAttempts: maxAttempts,
		sink:        sink,
		out:         out,
		log:         log,
		now:         time.Now,
		wake:        make(chan struct{}, 1),
	}
}

// Schedule re-enqueues a request for its still-pending tokens, or reports
// them Exhausted when the attempt budget is gone. The attempt that just
// failed is counted here.
func (s *Scheduler) Schedule(ctx context.Context, req *models.DeliveryRequest, pending []models.Token) {
	completed := req.Attempt + 1

	if completed >= s.maxAttempts {
		s.exhaust(ctx, req, pending, completed)
		return
	}

	delay := s.policy.Delay(completed)
	next := &models.DeliveryRequest{
		ID:          req.ID,
		EventID:     req.EventID,
		RecipientID: req.RecipientID,
		Payload:     req.Payload,
		Tokens:      pending,
		Attempt:     completed,
		NotBefore:   s.now().Add(delay),
	}

	s.mu.Lock()
	heap.Push(&s.queue, next)
	s.mu.Unlock()

	s.log.Info().
		Str("request_id", req.ID).
		Int("attempt", completed).
		Dur("delay", delay).
		Int("tokens", len(pending)).
		Msg("delivery scheduled for retry")

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run releases due requests until the context is done.
func (s *Scheduler) Run(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		if done := s.release(ctx); done {
			return
		}

		s.mu.Lock()
		var wait time.Duration = -1
		if len(s.queue) > 0 {
			wait = time.Until(s.queue[0].NotBefore)
		}
		s.mu.Unlock()

		if wait < 0 {
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
			}
			continue
		}

		timer.Reset(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-timer.C:
		}
	}
}

// release feeds every due request into the batcher. Returns true when the
// context ended mid-send.
func (s *Scheduler) release(ctx context.Context) bool {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 || s.queue[0].NotBefore.After(s.now()) {
			s.mu.Unlock()
			return false
		}
		req := heap.Pop(&s.queue).(*models.DeliveryRequest)
		s.mu.Unlock()

		item := models.BatchItem{Request: req, Pending: req.Tokens}
		select {
		case s.out <- item:
		case <-ctx.Done():
			return true
		}
	}
}

// Drain fails everything still queued as Exhausted. Called once at
// shutdown, after Run has stopped, so nothing is lost silently.
func (s *Scheduler) Drain(ctx context.Context) {
	s.mu.Lock()
	pending := s.queue
	s.queue = nil
	s.mu.Unlock()

	for _, req := range pending {
		s.exhaust(ctx, req, req.Tokens, req.Attempt)
	}
}

func (s *Scheduler) exhaust(ctx context.Context, req *models.DeliveryRequest, tokens []models.Token, attempts int) {
	if len(tokens) == 0 {
		// The request never got a token set (resolution kept failing).
		// Report a single recipient-level exhaustion so nothing is lost
		// silently.
		o := models.Outcome{
			EventID:     req.EventID,
			RecipientID: req.RecipientID,
			Status:      models.StatusExhausted,
			Reason:      "recipient tokens unresolved",
			Attempts:    attempts,
			At:          s.now().UTC(),
		}
		if err := s.sink.Record(ctx, o); err != nil {
			s.log.Error().Err(err).Str("request_id", req.ID).Msg("failed to record exhausted outcome")
		}
		return
	}

	for _, tok := range tokens {
		o := models.Outcome{
			EventID:     req.EventID,
			RecipientID: req.RecipientID,
			Token:       tok,
			Status:      models.StatusExhausted,
			Reason:      "retry budget consumed",
			Attempts:    attempts,
			At:          s.now().UTC(),
		}
		if err := s.sink.Record(ctx, o); err != nil {
			s.log.Error().Err(err).Str("request_id", req.ID).Msg("failed to record exhausted outcome")
		}
	}
	s.log.Warn().
		Str("request_id", req.ID).
		Int("attempts", attempts).
		Int("tokens", len(tokens)).
		Msg("delivery exhausted")
}

// delayQueue is a min-heap ordered by NotBefore.
type delayQueue []*models.DeliveryRequest

func (q delayQueue) Len() int            { return len(q) }
func (q delayQueue) Less(i, j int) bool  { return q[i].NotBefore.Before(q[j].NotBefore) }
func (q delayQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *delayQueue) Push(x interface{}) { *q = append(*q, x.(*models.DeliveryRequest)) }

func (q *delayQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}
