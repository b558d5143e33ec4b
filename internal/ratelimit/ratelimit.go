// Package ratelimit implements sliding-window admission control for the
// registration and broadcast endpoints.
package ratelimit

import (
	"math"
	"sync"
	"time"

	logx "pushbridge/pkg/logx"
)

const defaultStaleness = 15 * time.Minute

// Limiter tracks request timestamps per key (caller+action). Buckets are
// created lazily, pruned on every access, and garbage-collected by Sweep
// when unused past a staleness period.
//
// Operations on one key are serialized; different keys do not contend beyond
// the brief map lookup.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	log     logx.Logger

	// test seam
	now func() time.Time
}

type bucket struct {
	mu       sync.Mutex
	stamps   []time.Time
	lastSeen time.Time
}

func New(log logx.Logger) *Limiter {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Limiter{buckets: map[string]*bucket{}, log: log, now: time.Now}
}

func (l *Limiter) bucket(key string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.buckets[key]
	if b == nil {
		b = &bucket{}
		l.buckets[key] = b
	}
	return b
}

// TryAcquire admits the request iff fewer than maxRequests were admitted for
// key within the trailing window, recording the new timestamp on admission.
func (l *Limiter) TryAcquire(key string, maxRequests int, window time.Duration) bool {
	if maxRequests <= 0 || window <= 0 {
		return true
	}
	now := l.now()
	b := l.bucket(key)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastSeen = now
	b.prune(now, window)
	if len(b.stamps) >= maxRequests {
		return false
	}
	b.stamps = append(b.stamps, now)
	return true
}

// RetryAfterSeconds returns the ceiling of seconds until the oldest
// timestamp in the current window expires, or 0 when the key is unknown.
func (l *Limiter) RetryAfterSeconds(key string, window time.Duration) int {
	now := l.now()

	l.mu.Lock()
	b := l.buckets[key]
	l.mu.Unlock()
	if b == nil {
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.prune(now, window)
	if len(b.stamps) == 0 {
		return 0
	}
	remaining := b.stamps[0].Add(window).Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(remaining.Seconds()))
}

// prune drops timestamps older than now-window. Callers hold b.mu.
func (b *bucket) prune(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(b.stamps) && !b.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		b.stamps = append(b.stamps[:0], b.stamps[i:]...)
	}
}

// Sweep removes buckets with no activity for staleness, bounding memory
// growth. Returns how many were removed. Intended for a periodic job.
func (l *Limiter) Sweep(staleness time.Duration) int {
	if staleness <= 0 {
		staleness = defaultStaleness
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key, b := range l.buckets {
		b.mu.Lock()
		stale := now.Sub(b.lastSeen) > staleness
		b.mu.Unlock()
		if stale {
			delete(l.buckets, key)
			removed++
		}
	}
	if removed > 0 {
		l.log.Debug("swept stale rate-limit buckets", logx.Int("removed", removed))
	}
	return removed
}
