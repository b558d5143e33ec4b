// Package batcher collapses rapid-fire episode-added events of one series
// into a single notification.
//
// Each series key owns at most one in-flight batch with a debounce timer.
// Every new episode resets the countdown; a hard ceiling measured from the
// batch's first episode bounds how long continuous arrivals can hold a batch
// open. A batch is present in the map exactly while its flush has not fired.
package batcher

import (
	"context"
	"sync"
	"time"

	logx "pushbridge/pkg/logx"
)

const (
	defaultWindow    = 30 * time.Second
	defaultMaxWindow = 5 * time.Minute
)

// Episode is one episode-added occurrence.
//
// SeriesKey groups episodes into batches: a stable series id when known, a
// series name otherwise. Blank means the series is unknown and the episode
// bypasses batching entirely. Season/Episode are -1 when unknown.
type Episode struct {
	SeriesKey  string
	SeriesName string
	ItemID     string
	Name       string
	Season     int
	Episode    int
}

// Flush is the outcome of one accumulation cycle.
//
// Episode is set only when Count == 1: once a second episode arrives the
// batch degrades to a count-based summary rather than guessing which episode
// to feature.
type Flush struct {
	SeriesKey  string
	SeriesName string
	Count      int
	Episode    *Episode
	FirstAdded time.Time
}

// FlushFunc receives flushes on a detached goroutine, outside the batcher
// lock. It may block on I/O without stalling enqueues.
type FlushFunc func(f Flush)

type Config struct {
	Window    time.Duration
	MaxWindow time.Duration
}

type Batcher struct {
	mu      sync.Mutex
	cfg     Config
	log     logx.Logger
	flush   FlushFunc
	batches map[string]*batch
	closed  bool

	// dispatched flush callbacks in flight
	wg sync.WaitGroup

	// test seam
	now func() time.Time
}

type batch struct {
	count      int
	seriesName string
	episode    *Episode
	firstAdded time.Time
	timer      *time.Timer
}

func New(cfg Config, flush FlushFunc, log logx.Logger) *Batcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	b := &Batcher{
		log:     log,
		flush:   flush,
		batches: map[string]*batch{},
		now:     time.Now,
	}
	b.applyLocked(cfg)
	return b
}

func (s *Batcher) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Batcher) applyLocked(cfg Config) {
	if cfg.Window <= 0 {
		cfg.Window = defaultWindow
	}
	if cfg.MaxWindow <= cfg.Window {
		cfg.MaxWindow = defaultMaxWindow
		if cfg.MaxWindow <= cfg.Window {
			cfg.MaxWindow = 10 * cfg.Window
		}
	}
	s.cfg = cfg
}

// Pending returns the number of in-flight batches.
func (s *Batcher) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

// Enqueue records one episode-added event.
//
// A blank series key bypasses batching and flushes a single-episode
// notification immediately, so events with broken metadata are never
// silently dropped.
func (s *Batcher) Enqueue(ep Episode) {
	now := s.now()

	if ep.SeriesKey == "" {
		snap := ep
		s.dispatch(Flush{
			SeriesName: ep.SeriesName,
			Count:      1,
			Episode:    &snap,
			FirstAdded: now,
		})
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		snap := ep
		s.dispatch(Flush{SeriesKey: ep.SeriesKey, SeriesName: ep.SeriesName, Count: 1, Episode: &snap, FirstAdded: now})
		return
	}
	cfg := s.cfg

	b := s.batches[ep.SeriesKey]
	if b == nil {
		b = &batch{firstAdded: now}
		s.batches[ep.SeriesKey] = b
	}
	b.count++
	// Later events may carry better metadata after the host's own refresh,
	// so a non-blank name is last-write-wins.
	if ep.SeriesName != "" {
		b.seriesName = ep.SeriesName
	}
	if b.count == 1 {
		snap := ep
		b.episode = &snap
	} else {
		b.episode = nil
	}

	// Ceiling check: a batch held open by continuous arrivals must still
	// flush within MaxWindow of its first episode.
	if now.Sub(b.firstAdded) >= cfg.MaxWindow {
		f := s.removeLocked(ep.SeriesKey, b)
		s.mu.Unlock()
		s.dispatch(f)
		return
	}

	// True debounce: cancel any pending flush and restart the countdown.
	if b.timer != nil {
		b.timer.Stop()
	}
	key := ep.SeriesKey
	cur := b
	b.timer = time.AfterFunc(cfg.Window, func() { s.flushKey(key, cur) })
	s.mu.Unlock()
}

// flushKey is the timer callback. The expected-batch comparison guards
// against a stale timer firing after a newer cycle replaced the entry.
func (s *Batcher) flushKey(key string, expect *batch) {
	s.mu.Lock()
	b := s.batches[key]
	if b == nil || b != expect {
		s.mu.Unlock()
		return
	}
	f := s.removeLocked(key, b)
	s.mu.Unlock()
	s.dispatch(f)
}

// removeLocked removes the batch from the map before any I/O happens; once
// removed, no concurrent or later flush can double-send this accumulation.
func (s *Batcher) removeLocked(key string, b *batch) Flush {
	delete(s.batches, key)
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	return Flush{
		SeriesKey:  key,
		SeriesName: b.seriesName,
		Count:      b.count,
		Episode:    b.episode,
		FirstAdded: b.firstAdded,
	}
}

func (s *Batcher) dispatch(f Flush) {
	if f.Count <= 0 || s.flush == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.flush(f)
	}()
}

// Close flushes every pending batch immediately and waits for in-flight
// flush callbacks until ctx expires.
func (s *Batcher) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	pending := make([]Flush, 0, len(s.batches))
	for key, b := range s.batches {
		pending = append(pending, s.removeLocked(key, b))
	}
	s.mu.Unlock()

	for _, f := range pending {
		s.log.Debug("flushing batch on close", logx.String("series_key", f.SeriesKey), logx.Int("count", f.Count))
		s.dispatch(f)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
