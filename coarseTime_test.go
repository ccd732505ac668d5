package httpkit

import (
	"testing"
	"time"
)

func TestCoarseTimeNowAccuracy(t *testing.T) {
	t.Parallel()

	ct := coarseTimeNow()
	now := time.Now()

	// Updated once per second, so it may lag by a bit over a second.
	if d := now.Sub(ct); d < 0 || d > 2*time.Second {
		t.Fatalf("coarse time %s too far from %s (delta %s)", ct, now, d)
	}
	if ct.Nanosecond() != 0 {
		t.Fatalf("coarse time %s is not truncated to a second", ct)
	}
}

func BenchmarkCoarseTimeNow(b *testing.B) {
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if coarseTimeNow().IsZero() {
				b.Errorf("zero coarse time")
			}
		}
	})
}

func BenchmarkTimeNowBaseline(b *testing.B) {
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if time.Now().IsZero() {
				b.Errorf("zero time")
			}
		}
	})
}
