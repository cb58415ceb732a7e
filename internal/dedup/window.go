package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Window suppresses repeat (recipient, event) submissions inside a trailing
// interval. It bounds duplicate work; it is not an exactly-once guarantee.
type Window struct {
	ttl time.Duration
	log zerolog.Logger
	now func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

func New(ttl time.Duration, log zerolog.Logger) *Window {
	return &Window{
		ttl:  ttl,
		log:  log,
		now:  time.Now,
		seen: make(map[string]time.Time),
	}
}

// Admit reports whether the pair is being seen for the first time within
// the window, recording it as seen either way.
func (w *Window) Admit(recipientID, eventID string) bool {
	key := recipientID + "\x00" + eventID
	now := w.now()

	w.mu.Lock()
	defer w.mu.Unlock()

	if last, ok := w.seen[key]; ok && now.Sub(last) < w.ttl {
		// The window trails the most recent sighting, so a rejected
		// repeat still refreshes the timestamp.
		w.seen[key] = now
		return false
	}
	w.seen[key] = now
	return true
}

// Run sweeps expired entries until the context is done.
func (w *Window) Run(ctx context.Context) {
	interval := w.ttl / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := w.sweep()
			if removed > 0 {
				w.log.Debug().Int("removed", removed).Msg("dedup window swept")
			}
		}
	}
}

func (w *Window) sweep() int {
	now := w.now()

	w.mu.Lock()
	defer w.mu.Unlock()

	removed := 0
	for key, last := range w.seen {
		if now.Sub(last) >= w.ttl {
			delete(w.seen, key)
			removed++
		}
	}
	return removed
}
