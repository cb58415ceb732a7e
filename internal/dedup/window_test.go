package dedup

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestAdmit(t *testing.T) {
	now := time.Unix(1000, 0)
	w := New(60*time.Second, zerolog.Nop())
	w.now = func() time.Time { return now }

	if !w.Admit("r1", "e1") {
		t.Fatal("first sight of (r1, e1) should be admitted")
	}
	if w.Admit("r1", "e1") {
		t.Fatal("repeat of (r1, e1) inside the window should be rejected")
	}
	if !w.Admit("r1", "e2") {
		t.Error("different event for same recipient should be admitted")
	}
	if !w.Admit("r2", "e1") {
		t.Error("same event for different recipient should be admitted")
	}

	// Past the window the pair is fresh again.
	now = now.Add(61 * time.Second)
	if !w.Admit("r1", "e1") {
		t.Error("(r1, e1) should be admitted after the window elapses")
	}
}

func TestAdmit_RepeatExtendsWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	w := New(60*time.Second, zerolog.Nop())
	w.now = func() time.Time { return now }

	w.Admit("r1", "e1")

	// A rejected repeat at t+40s refreshes last-seen, so t+80s is still
	// within the trailing window.
	now = now.Add(40 * time.Second)
	if w.Admit("r1", "e1") {
		t.Fatal("repeat at t+40s should be rejected")
	}
	now = now.Add(40 * time.Second)
	if w.Admit("r1", "e1") {
		t.Error("repeat 40s after the refresh should still be rejected")
	}
}

func TestSweep(t *testing.T) {
	now := time.Unix(1000, 0)
	w := New(60*time.Second, zerolog.Nop())
	w.now = func() time.Time { return now }

	w.Admit("r1", "e1")
	w.Admit("r2", "e2")

	now = now.Add(30 * time.Second)
	w.Admit("r3", "e3")

	now = now.Add(31 * time.Second)
	if removed := w.sweep(); removed != 2 {
		t.Fatalf("sweep() removed %d entries, want 2", removed)
	}
	if len(w.seen) != 1 {
		t.Fatalf("window holds %d entries after sweep, want 1", len(w.seen))
	}
	if w.Admit("r3", "e3") {
		t.Error("unexpired entry should survive the sweep")
	}
}
