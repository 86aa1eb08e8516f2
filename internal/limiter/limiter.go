// Package limiter implements the dynamic admission semaphore of spec.md
// §4.8: a fixed maximum with a live ceiling that can be raised or lowered
// without draining in-flight permits.
package limiter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// pollInterval is how long Take waits before trying again when the
// semaphore had a free permit but the live ceiling did not.
const pollInterval = 10 * time.Millisecond

// Limiter bounds concurrent access to a shared host resource. The semaphore
// itself always carries the initial (maximum) weight; the live ceiling is
// enforced by only ever handing out up to currentLimit permits at a time,
// tracked by outstanding.
type Limiter struct {
	sem *semaphore.Weighted

	mu           sync.Mutex
	initialLimit int64
	currentLimit int64
	outstanding  int64
}

// New creates a Limiter whose live ceiling starts equal to initialLimit.
func New(initialLimit int64) *Limiter {
	if initialLimit < 0 {
		initialLimit = 0
	}
	return &Limiter{
		sem:          semaphore.NewWeighted(initialLimit),
		initialLimit: initialLimit,
		currentLimit: initialLimit,
	}
}

// Take acquires a permit, blocking until one is available under the live
// ceiling or ctx is done; while the live ceiling is full (or zero) it retries
// every pollInterval. The returned release function must be called exactly
// once to return the permit.
func (l *Limiter) Take(ctx context.Context) (release func(), ok bool) {
	for {
		if err := l.sem.Acquire(ctx, 1); err != nil {
			return nil, false
		}

		l.mu.Lock()
		if l.outstanding < l.currentLimit {
			l.outstanding++
			l.mu.Unlock()

			var once sync.Once
			return func() {
				once.Do(func() {
					l.mu.Lock()
					l.outstanding--
					l.mu.Unlock()
					l.sem.Release(1)
				})
			}, true
		}
		l.mu.Unlock()

		// The semaphore had room up to initialLimit, but the live ceiling is
		// currently lower; give the permit back and retry until the ceiling
		// is raised, another holder releases, or ctx is done.
		l.sem.Release(1)

		select {
		case <-ctx.Done():
			return nil, false
		case <-time.After(pollInterval):
		}
	}
}

// SetLimit sets the live ceiling, clamped to [0, initialLimit] (spec.md
// §4.8). Changes are serialized by an internal lock; in-flight permits are
// never forcibly revoked.
func (l *Limiter) SetLimit(n int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n < 0 {
		n = 0
	}
	if n > l.initialLimit {
		n = l.initialLimit
	}
	l.currentLimit = n
}

// Raise increases the live ceiling by delta, clamped at initialLimit.
func (l *Limiter) Raise(delta int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.currentLimit = clampLimit(l.currentLimit+delta, l.initialLimit)
}

// Lower decreases the live ceiling by delta, clamped at zero.
func (l *Limiter) Lower(delta int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.currentLimit = clampLimit(l.currentLimit-delta, l.initialLimit)
}

func clampLimit(n, max int64) int64 {
	if n < 0 {
		return 0
	}
	if n > max {
		return max
	}
	return n
}

// CurrentLimit returns the live ceiling.
func (l *Limiter) CurrentLimit() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentLimit
}
