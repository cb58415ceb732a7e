package dispatch

import (
	"testing"
	"time"
)

func TestBackoffPolicy_Base(t *testing.T) {
	p := BackoffPolicy{Base: 500 * time.Millisecond, Cap: time.Minute}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 500 * time.Millisecond},
		{2, time.Second},
		{3, 2 * time.Second},
		{4, 4 * time.Second},
		{8, time.Minute}, // 64s capped
		{100, time.Minute},
		{0, 500 * time.Millisecond}, // clamped to first attempt
	}

	for _, tt := range tests {
		if got := p.base(tt.attempt); got != tt.want {
			t.Errorf("base(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoffPolicy_Monotonic(t *testing.T) {
	p := BackoffPolicy{Base: 100 * time.Millisecond, Cap: 30 * time.Second}

	for a := 1; a < 20; a++ {
		for b := a + 1; b <= 20; b++ {
			// Even with worst-case jitter, a later attempt never waits
			// less than an earlier attempt's un-jittered delay.
			if got := p.Delay(b); got < p.base(a) {
				t.Fatalf("Delay(%d) = %v < base(%d) = %v", b, got, a, p.base(a))
			}
		}
	}
}

func TestBackoffPolicy_JitterBounds(t *testing.T) {
	p := BackoffPolicy{Base: time.Second, Cap: time.Minute}

	for n := 0; n < 100; n++ {
		d := p.Delay(3) // un-jittered 4s
		if d < 3600*time.Millisecond || d > 4400*time.Millisecond {
			t.Fatalf("Delay(3) = %v, want within ±10%% of 4s", d)
		}
	}
}

func TestBackoffPolicy_NeverExceedsCap(t *testing.T) {
	p := BackoffPolicy{Base: time.Second, Cap: 10 * time.Second}

	for attempt := 1; attempt <= 50; attempt++ {
		for n := 0; n < 200; n++ {
			if d := p.Delay(attempt); d > p.Cap {
				t.Fatalf("Delay(%d) = %v exceeds cap %v", attempt, d, p.Cap)
			}
		}
	}
}

func TestBackoffPolicy_CappedAttemptsWaitFullCap(t *testing.T) {
	// base(4) = 8s, base(5) and beyond = cap. Once the previous attempt is
	// already capped, jitter has no room in either direction.
	p := BackoffPolicy{Base: time.Second, Cap: 10 * time.Second}

	for n := 0; n < 200; n++ {
		if d := p.Delay(6); d != p.Cap {
			t.Fatalf("Delay(6) = %v, want exactly %v", d, p.Cap)
		}
	}
}

func TestBackoffPolicy_FirstCappedAttemptStaysAbovePrior(t *testing.T) {
	// Attempt 5 is the first capped one: its floor is base(4) = 8s, its
	// ceiling the cap itself.
	p := BackoffPolicy{Base: time.Second, Cap: 10 * time.Second}

	for n := 0; n < 200; n++ {
		d := p.Delay(5)
		if d < 8*time.Second || d > p.Cap {
			t.Fatalf("Delay(5) = %v, want within [8s, %v]", d, p.Cap)
		}
	}
}
