package batcher

import (
	"context"
	"testing"
	"time"

	logx "pushbridge/pkg/logx"
)

type flushRecorder struct {
	ch chan Flush
}

func newRecorder() *flushRecorder {
	return &flushRecorder{ch: make(chan Flush, 16)}
}

func (r *flushRecorder) record(f Flush) { r.ch <- f }

func (r *flushRecorder) next(t *testing.T, within time.Duration) Flush {
	t.Helper()
	select {
	case f := <-r.ch:
		return f
	case <-time.After(within):
		t.Fatal("timed out waiting for flush")
		return Flush{}
	}
}

func (r *flushRecorder) none(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case f := <-r.ch:
		t.Fatalf("unexpected flush: %+v", f)
	case <-time.After(within):
	}
}

func ep(key, name string, season, episode int) Episode {
	return Episode{SeriesKey: key, SeriesName: "Show " + key, ItemID: "item-" + name, Name: name, Season: season, Episode: episode}
}

func TestSingleEpisodeFlush(t *testing.T) {
	t.Parallel()
	rec := newRecorder()
	b := New(Config{Window: 30 * time.Millisecond, MaxWindow: time.Second}, rec.record, logx.Nop())
	defer b.Close(context.Background())

	b.Enqueue(ep("s1", "pilot", 1, 1))
	f := rec.next(t, time.Second)

	if f.Count != 1 {
		t.Fatalf("Count = %d, want 1", f.Count)
	}
	if f.Episode == nil || f.Episode.Name != "pilot" || f.Episode.ItemID != "item-pilot" {
		t.Fatalf("Episode = %+v, want the enqueued snapshot", f.Episode)
	}
	if f.SeriesKey != "s1" || f.SeriesName != "Show s1" {
		t.Fatalf("series = %q/%q", f.SeriesKey, f.SeriesName)
	}
}

func TestBurstCollapsesToOneFlush(t *testing.T) {
	t.Parallel()
	rec := newRecorder()
	b := New(Config{Window: 50 * time.Millisecond, MaxWindow: 5 * time.Second}, rec.record, logx.Nop())
	defer b.Close(context.Background())

	for i := 1; i <= 5; i++ {
		b.Enqueue(ep("s1", "e", 1, i))
	}
	f := rec.next(t, time.Second)

	if f.Count != 5 {
		t.Fatalf("Count = %d, want 5", f.Count)
	}
	// A multi-episode flush must not feature any one episode.
	if f.Episode != nil {
		t.Fatalf("Episode = %+v, want nil for a batch", f.Episode)
	}
	rec.none(t, 150*time.Millisecond)
	if b.Pending() != 0 {
		t.Fatalf("Pending = %d after flush", b.Pending())
	}
}

func TestDebounceResetsCountdown(t *testing.T) {
	t.Parallel()
	rec := newRecorder()
	b := New(Config{Window: 80 * time.Millisecond, MaxWindow: 5 * time.Second}, rec.record, logx.Nop())
	defer b.Close(context.Background())

	b.Enqueue(ep("s1", "a", 1, 1))
	time.Sleep(50 * time.Millisecond)
	b.Enqueue(ep("s1", "b", 1, 2))

	// The first window would have expired here; the second enqueue reset it.
	rec.none(t, 50*time.Millisecond)
	f := rec.next(t, time.Second)
	if f.Count != 2 {
		t.Fatalf("Count = %d, want 2", f.Count)
	}
}

func TestMaxWindowCeiling(t *testing.T) {
	t.Parallel()
	rec := newRecorder()
	b := New(Config{Window: 40 * time.Millisecond, MaxWindow: 120 * time.Millisecond}, rec.record, logx.Nop())
	defer b.Close(context.Background())

	// Keep resetting the debounce faster than the window; the ceiling still
	// forces a flush.
	deadline := time.Now().Add(400 * time.Millisecond)
	count := 0
	for time.Now().Before(deadline) {
		b.Enqueue(ep("s1", "e", 1, count))
		count++
		select {
		case f := <-rec.ch:
			if f.Count < 2 {
				t.Fatalf("ceiling flush count = %d, want the accumulated batch", f.Count)
			}
			return
		case <-time.After(20 * time.Millisecond):
		}
	}
	t.Fatal("continuous arrivals held the batch open past the ceiling")
}

func TestSeriesAreIndependent(t *testing.T) {
	t.Parallel()
	rec := newRecorder()
	b := New(Config{Window: 40 * time.Millisecond, MaxWindow: 5 * time.Second}, rec.record, logx.Nop())
	defer b.Close(context.Background())

	b.Enqueue(ep("s1", "a", 1, 1))
	b.Enqueue(ep("s2", "b", 1, 1))
	b.Enqueue(ep("s1", "c", 1, 2))

	got := map[string]int{}
	for i := 0; i < 2; i++ {
		f := rec.next(t, time.Second)
		got[f.SeriesKey] = f.Count
	}
	if got["s1"] != 2 || got["s2"] != 1 {
		t.Fatalf("per-series counts = %v, want s1:2 s2:1", got)
	}
}

func TestBlankKeyBypassesBatching(t *testing.T) {
	t.Parallel()
	rec := newRecorder()
	// A long window proves the bypass is immediate, not debounced.
	b := New(Config{Window: time.Hour, MaxWindow: 2 * time.Hour}, rec.record, logx.Nop())
	defer b.Close(context.Background())

	b.Enqueue(Episode{SeriesKey: "", Name: "orphan", ItemID: "item-orphan", Season: -1, Episode: -1})
	f := rec.next(t, time.Second)
	if f.Count != 1 || f.Episode == nil || f.Episode.Name != "orphan" {
		t.Fatalf("bypass flush = %+v", f)
	}
	if b.Pending() != 0 {
		t.Fatalf("Pending = %d, bypass must not create a batch", b.Pending())
	}
}

func TestSeriesNameLastWriteWins(t *testing.T) {
	t.Parallel()
	rec := newRecorder()
	b := New(Config{Window: 40 * time.Millisecond, MaxWindow: 5 * time.Second}, rec.record, logx.Nop())
	defer b.Close(context.Background())

	b.Enqueue(Episode{SeriesKey: "s1", SeriesName: "", Name: "a"})
	b.Enqueue(Episode{SeriesKey: "s1", SeriesName: "Refreshed Title", Name: "b"})
	b.Enqueue(Episode{SeriesKey: "s1", SeriesName: "", Name: "c"})

	f := rec.next(t, time.Second)
	if f.SeriesName != "Refreshed Title" {
		t.Fatalf("SeriesName = %q, want the last non-blank value", f.SeriesName)
	}
}

func TestCloseFlushesPending(t *testing.T) {
	t.Parallel()
	rec := newRecorder()
	b := New(Config{Window: time.Hour, MaxWindow: 2 * time.Hour}, rec.record, logx.Nop())

	b.Enqueue(ep("s1", "a", 1, 1))
	b.Enqueue(ep("s1", "b", 1, 2))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := b.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f := rec.next(t, time.Second)
	if f.Count != 2 {
		t.Fatalf("Count = %d, want 2", f.Count)
	}
	if b.Pending() != 0 {
		t.Fatalf("Pending = %d after close", b.Pending())
	}
}

func TestApplyDefaults(t *testing.T) {
	t.Parallel()
	b := New(Config{}, nil, logx.Nop())
	defer b.Close(context.Background())

	b.mu.Lock()
	cfg := b.cfg
	b.mu.Unlock()
	if cfg.Window != defaultWindow || cfg.MaxWindow != defaultMaxWindow {
		t.Fatalf("defaults = %+v", cfg)
	}

	b.Apply(Config{Window: time.Minute, MaxWindow: 30 * time.Second})
	b.mu.Lock()
	cfg = b.cfg
	b.mu.Unlock()
	if cfg.MaxWindow <= cfg.Window {
		t.Fatalf("ceiling %v must exceed window %v", cfg.MaxWindow, cfg.Window)
	}
}
