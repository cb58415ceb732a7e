package dispatch

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/shohag/pushbridge/internal/models"
	"github.com/shohag/pushbridge/internal/registry"
)

type fakeGateway struct {
	mu      sync.Mutex
	results map[models.Token]models.TokenResult
	err     error
	calls   int
}

func (g *fakeGateway) Send(ctx context.Context, items []models.BatchItem) (map[models.Token]models.TokenResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.results, g.err
}

type fakeSink struct {
	mu       sync.Mutex
	outcomes []models.Outcome
}

func (s *fakeSink) Record(ctx context.Context, o models.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, o)
	return nil
}

func (s *fakeSink) byStatus(status models.DispatchStatus) []models.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Outcome
	for _, o := range s.outcomes {
		if o.Status == status {
			out = append(out, o)
		}
	}
	return out
}

type fakeRegistry struct {
	mu          sync.Mutex
	tokens      []models.Token
	resolveErr  error
	invalidated [][2]string
}

func (f *fakeRegistry) Resolve(ctx context.Context, recipientID string) ([]models.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolveErr != nil {
		return nil, f.resolveErr
	}
	return f.tokens, nil
}

func (f *fakeRegistry) Invalidate(recipientID string, token models.Token) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, [2]string{recipientID, string(token)})
}

func newTestWorker(gw Gateway, maxAttempts int) (*Worker, *fakeSink, *fakeRegistry, *Scheduler, chan models.BatchItem) {
	sink := &fakeSink{}
	reg := &fakeRegistry{}
	out := make(chan models.BatchItem, 16)
	sched := NewScheduler(BackoffPolicy{Base: time.Millisecond, Cap: 10 * time.Millisecond}, maxAttempts, sink, out, zerolog.Nop())
	w := NewWorker(gw, sink, reg, sched, zerolog.Nop())
	return w, sink, reg, sched, out
}

func newItem(tokens ...models.Token) models.BatchItem {
	return models.BatchItem{
		Request: &models.DeliveryRequest{
			ID:          "req_1",
			EventID:     "e1",
			RecipientID: "r1",
			Tokens:      tokens,
		},
		Pending: tokens,
	}
}

func TestProcess_PartialSuccess(t *testing.T) {
	gw := &fakeGateway{results: map[models.Token]models.TokenResult{
		"tA": {Token: "tA", Status: models.StatusDelivered},
		"tB": {Token: "tB", Status: models.StatusRetryable, Reason: "Unavailable"},
	}}
	w, sink, _, sched, _ := newTestWorker(gw, 5)

	w.Process(context.Background(), []models.BatchItem{newItem("tA", "tB")})

	delivered := sink.byStatus(models.StatusDelivered)
	if len(delivered) != 1 || delivered[0].Token != "tA" {
		t.Fatalf("delivered outcomes = %+v, want just tA", delivered)
	}

	sched.mu.Lock()
	defer sched.mu.Unlock()
	if len(sched.queue) != 1 {
		t.Fatalf("scheduler holds %d requests, want 1", len(sched.queue))
	}
	follow := sched.queue[0]
	if !reflect.DeepEqual(follow.Tokens, []models.Token{"tB"}) {
		t.Errorf("follow-up tokens = %v, want [tB]", follow.Tokens)
	}
	if follow.Attempt != 1 {
		t.Errorf("follow-up attempt = %d, want 1", follow.Attempt)
	}
}

func TestProcess_WholeCallFailure(t *testing.T) {
	gw := &fakeGateway{err: errors.New("dial timeout")}
	w, sink, _, sched, _ := newTestWorker(gw, 5)

	w.Process(context.Background(), []models.BatchItem{newItem("tA", "tB")})

	if len(sink.byStatus(models.StatusDelivered)) != 0 {
		t.Error("no outcome should be terminal after a whole-call failure")
	}
	sched.mu.Lock()
	defer sched.mu.Unlock()
	if len(sched.queue) != 1 {
		t.Fatalf("scheduler holds %d requests, want 1", len(sched.queue))
	}
	if got := sched.queue[0].Tokens; !reflect.DeepEqual(got, []models.Token{"tA", "tB"}) {
		t.Errorf("retried tokens = %v, want every pending token", got)
	}
}

func TestProcess_PartialResultsSurviveGatewayError(t *testing.T) {
	// The gateway completed tA's call before failing: tA's verdict is
	// honored, only the unaccounted token is re-sent.
	gw := &fakeGateway{
		results: map[models.Token]models.TokenResult{
			"tA": {Token: "tA", Status: models.StatusDelivered},
		},
		err: errors.New("dial timeout"),
	}
	w, sink, _, sched, _ := newTestWorker(gw, 5)

	w.Process(context.Background(), []models.BatchItem{newItem("tA", "tB")})

	delivered := sink.byStatus(models.StatusDelivered)
	if len(delivered) != 1 || delivered[0].Token != "tA" {
		t.Fatalf("delivered outcomes = %+v, want just tA", delivered)
	}
	sched.mu.Lock()
	defer sched.mu.Unlock()
	if len(sched.queue) != 1 {
		t.Fatalf("scheduler holds %d requests, want 1", len(sched.queue))
	}
	if got := sched.queue[0].Tokens; !reflect.DeepEqual(got, []models.Token{"tB"}) {
		t.Errorf("retried tokens = %v, want just tB", got)
	}
}

func TestProcess_PermanentFailureInvalidates(t *testing.T) {
	gw := &fakeGateway{results: map[models.Token]models.TokenResult{
		"tA": {Token: "tA", Status: models.StatusPermanent, Reason: "NotRegistered"},
	}}
	w, sink, reg, sched, _ := newTestWorker(gw, 5)

	w.Process(context.Background(), []models.BatchItem{newItem("tA")})

	perm := sink.byStatus(models.StatusPermanent)
	if len(perm) != 1 || perm[0].Reason != "NotRegistered" {
		t.Fatalf("permanent outcomes = %+v", perm)
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if len(reg.invalidated) != 1 || reg.invalidated[0] != [2]string{"r1", "tA"} {
		t.Fatalf("invalidations = %v, want [[r1 tA]]", reg.invalidated)
	}
	sched.mu.Lock()
	defer sched.mu.Unlock()
	if len(sched.queue) != 0 {
		t.Error("permanent failures must not be retried")
	}
}

func TestProcess_MissingResultIsRetryable(t *testing.T) {
	gw := &fakeGateway{results: map[models.Token]models.TokenResult{}}
	w, _, _, sched, _ := newTestWorker(gw, 5)

	w.Process(context.Background(), []models.BatchItem{newItem("tA")})

	sched.mu.Lock()
	defer sched.mu.Unlock()
	if len(sched.queue) != 1 {
		t.Fatal("a token absent from the gateway response should be retried")
	}
}

func TestProcess_LateResolution(t *testing.T) {
	gw := &fakeGateway{results: map[models.Token]models.TokenResult{
		"tA": {Token: "tA", Status: models.StatusDelivered},
	}}
	w, sink, reg, _, _ := newTestWorker(gw, 5)
	reg.tokens = []models.Token{"tA"}

	item := newItem() // scheduled before resolution succeeded
	w.Process(context.Background(), []models.BatchItem{item})

	if gw.calls != 1 {
		t.Fatalf("gateway called %d times, want 1", gw.calls)
	}
	if delivered := sink.byStatus(models.StatusDelivered); len(delivered) != 1 || delivered[0].Token != "tA" {
		t.Fatalf("delivered outcomes = %+v", delivered)
	}
}

func TestProcess_LateResolutionStillFailing(t *testing.T) {
	gw := &fakeGateway{}
	w, _, reg, sched, _ := newTestWorker(gw, 5)
	reg.resolveErr = registry.ErrStoreUnavailable

	w.Process(context.Background(), []models.BatchItem{newItem()})

	if gw.calls != 0 {
		t.Error("gateway must not be called with an empty batch")
	}
	sched.mu.Lock()
	defer sched.mu.Unlock()
	if len(sched.queue) != 1 {
		t.Fatal("unresolved request should be rescheduled")
	}
}

func TestProcess_LateResolutionNoRecipient(t *testing.T) {
	gw := &fakeGateway{}
	w, sink, reg, sched, _ := newTestWorker(gw, 5)
	reg.resolveErr = registry.ErrNoRecipient

	w.Process(context.Background(), []models.BatchItem{newItem()})

	if gw.calls != 0 {
		t.Error("gateway must not be called")
	}
	sched.mu.Lock()
	defer sched.mu.Unlock()
	if len(sched.queue) != 0 {
		t.Error("a recipient with no tokens is a drop, not a retry")
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.outcomes) != 0 {
		t.Error("NotFound is terminal-but-not-erroneous, no outcome expected")
	}
}

func TestProcess_ExhaustionAtMaxAttempts(t *testing.T) {
	gw := &fakeGateway{results: map[models.Token]models.TokenResult{
		"tA": {Token: "tA", Status: models.StatusRetryable, Reason: "Unavailable"},
	}}
	w, sink, _, sched, _ := newTestWorker(gw, 3)

	item := newItem("tA")
	item.Request.Attempt = 2 // two attempts already failed; this is the last

	w.Process(context.Background(), []models.BatchItem{item})

	exhausted := sink.byStatus(models.StatusExhausted)
	if len(exhausted) != 1 {
		t.Fatalf("exhausted outcomes = %d, want 1", len(exhausted))
	}
	if exhausted[0].Attempts != 3 {
		t.Errorf("exhausted after %d attempts, want 3", exhausted[0].Attempts)
	}
	sched.mu.Lock()
	defer sched.mu.Unlock()
	if len(sched.queue) != 0 {
		t.Error("an exhausted request must never be rescheduled")
	}
}
