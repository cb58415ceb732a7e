package dispatch

import (
	mrand "math/rand"
	"time"
)

// BackoffPolicy computes retry delays: base doubled per attempt, capped,
// with ±10% jitter to avoid synchronized retry storms.
type BackoffPolicy struct {
	Base time.Duration
	Cap  time.Duration
}

// Delay returns the jittered delay before the next attempt. attempt counts
// attempts already completed, so it is at least 1 here.
//
// The jittered value is clamped so it never exceeds Cap and never falls
// below the previous attempt's un-jittered delay: later attempts always
// wait at least as long as earlier ones would have.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	d := p.base(attempt)
	jitter := time.Duration(mrand.Int63n(int64(d/5)+1)) - d/10
	out := d + jitter

	if attempt > 1 {
		if floor := p.base(attempt - 1); out < floor {
			out = floor
		}
	}
	if out > p.Cap {
		out = p.Cap
	}
	return out
}

func (p BackoffPolicy) base(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.Base
	for n := 1; n < attempt; n++ {
		d *= 2
		if d >= p.Cap || d <= 0 {
			return p.Cap
		}
	}
	if d > p.Cap {
		return p.Cap
	}
	return d
}
