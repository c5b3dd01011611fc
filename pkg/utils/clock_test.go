package utils

import (
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	clock := NewRealClock()

	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("RealClock.Now() = %v, want between %v and %v", now, before, after)
	}
}

func TestRealClock_NowUnixNano(t *testing.T) {
	clock := NewRealClock()

	a := clock.NowUnixNano()
	b := clock.NowUnixNano()

	if b < a {
		t.Errorf("NowUnixNano not monotone non-decreasing: %d then %d", a, b)
	}
}

func TestFakeClock(t *testing.T) {
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := NewFakeClock(start)

	if clock.Now() != start {
		t.Errorf("FakeClock.Now() = %v, want %v", clock.Now(), start)
	}

	clock.Advance(5 * time.Second)
	if got := clock.Since(start); got != 5*time.Second {
		t.Errorf("Since(start) = %v, want 5s", got)
	}

	clock.Sleep(time.Second)
	if got := clock.NowUnixNano(); got != uint64(start.Add(6*time.Second).UnixNano()) {
		t.Errorf("NowUnixNano() = %d after sleep", got)
	}
}
