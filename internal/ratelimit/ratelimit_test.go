package ratelimit

import (
	"testing"
	"time"

	logx "pushbridge/pkg/logx"
)

func newTestLimiter(start time.Time) (*Limiter, *time.Time) {
	now := start
	l := New(logx.Nop())
	l.now = func() time.Time { return now }
	return l, &now
}

func TestTryAcquireWindow(t *testing.T) {
	t.Parallel()
	l, now := newTestLimiter(time.Unix(1000, 0))

	for i := 0; i < 3; i++ {
		if !l.TryAcquire("k", 3, time.Minute) {
			t.Fatalf("request %d should be admitted", i+1)
		}
	}
	if l.TryAcquire("k", 3, time.Minute) {
		t.Fatal("fourth request within window should be rejected")
	}

	// Sliding: once the oldest stamp ages out, one slot opens.
	*now = now.Add(time.Minute + time.Second)
	if !l.TryAcquire("k", 3, time.Minute) {
		t.Fatal("request after window expiry should be admitted")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	t.Parallel()
	l, _ := newTestLimiter(time.Unix(1000, 0))

	if !l.TryAcquire("a", 1, time.Minute) {
		t.Fatal("first key should be admitted")
	}
	if !l.TryAcquire("b", 1, time.Minute) {
		t.Fatal("second key should not share the first key's bucket")
	}
	if l.TryAcquire("a", 1, time.Minute) {
		t.Fatal("first key should now be full")
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	t.Parallel()
	l, now := newTestLimiter(time.Unix(1000, 0))

	if got := l.RetryAfterSeconds("missing", time.Minute); got != 0 {
		t.Fatalf("unknown key retry-after = %d, want 0", got)
	}

	l.TryAcquire("k", 1, time.Minute)
	*now = now.Add(10 * time.Second)
	if got := l.RetryAfterSeconds("k", time.Minute); got != 50 {
		t.Fatalf("retry-after = %d, want 50", got)
	}

	// Fractional remainders round up so clients never retry early.
	*now = now.Add(49*time.Second + 500*time.Millisecond)
	if got := l.RetryAfterSeconds("k", time.Minute); got != 1 {
		t.Fatalf("retry-after = %d, want 1", got)
	}
}

func TestZeroConfigAdmitsEverything(t *testing.T) {
	t.Parallel()
	l, _ := newTestLimiter(time.Unix(1000, 0))
	for i := 0; i < 100; i++ {
		if !l.TryAcquire("k", 0, 0) {
			t.Fatal("disabled limiter must admit everything")
		}
	}
}

func TestSweep(t *testing.T) {
	t.Parallel()
	l, now := newTestLimiter(time.Unix(1000, 0))

	l.TryAcquire("stale", 5, time.Minute)
	*now = now.Add(20 * time.Minute)
	l.TryAcquire("fresh", 5, time.Minute)

	if removed := l.Sweep(15 * time.Minute); removed != 1 {
		t.Fatalf("Sweep removed %d buckets, want 1", removed)
	}
	if _, ok := l.buckets["fresh"]; !ok {
		t.Fatal("fresh bucket must survive the sweep")
	}
	if _, ok := l.buckets["stale"]; ok {
		t.Fatal("stale bucket must be removed")
	}
}
