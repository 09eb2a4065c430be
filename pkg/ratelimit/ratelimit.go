package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter is a sliding-window request throttle keyed by arbitrary strings.
// The window is evaluated lazily on each call; no background sweeping runs.
type Limiter struct {
	mu   sync.Mutex
	hits map[string][]time.Time
	now  func() time.Time
}

// New constructs an empty limiter.
func New() *Limiter {
	return &Limiter{
		hits: make(map[string][]time.Time),
		now:  time.Now,
	}
}

// Allow records the current request if fewer than limit requests happened
// within the trailing window, returning whether the request may proceed.
func (l *Limiter) Allow(key string, limit int, window time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	recent := l.prune(key, now, window)
	if len(recent) >= limit {
		l.hits[key] = recent
		return false
	}
	l.hits[key] = append(recent, now)
	return true
}

// Wait blocks until a slot frees up within the window, then records the
// request. It returns early with the context error on cancellation.
func (l *Limiter) Wait(ctx context.Context, key string, limit int, window time.Duration) error {
	for {
		if l.Allow(key, limit, window) {
			return nil
		}

		l.mu.Lock()
		now := l.now()
		recent := l.prune(key, now, window)
		l.hits[key] = recent
		var sleep time.Duration
		if len(recent) > 0 {
			sleep = recent[0].Add(window).Sub(now)
		}
		l.mu.Unlock()

		if sleep <= 0 {
			sleep = time.Millisecond
		}
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// prune drops timestamps older than now-window. Caller holds the lock.
func (l *Limiter) prune(key string, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	recent := l.hits[key][:0]
	for _, ts := range l.hits[key] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}
	return recent
}
