// Package ratelimit implements per-recipient admission control for
// outbound sends.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter keeps, per recipient, the timestamps of sends within a trailing
// window and declines once the configured ceiling is reached. Each recipient
// has independent quota; this is deliberately a timestamp window rather than
// a token bucket so that a burst-then-idle recipient frees up exactly as its
// oldest sends age out.
type Limiter struct {
	mu      sync.Mutex
	ceiling int
	window  time.Duration
	sends   map[string][]time.Time
	now     func() time.Time
}

// NewLimiter returns a limiter admitting at most ceiling sends per recipient
// per rolling minute.
func NewLimiter(ceiling int) *Limiter {
	return &Limiter{
		ceiling: ceiling,
		window:  time.Minute,
		sends:   make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Admit records and admits a send to recipient if its window has room,
// otherwise declines without recording. Declined sends must be re-enqueued
// by the caller, not dropped.
func (l *Limiter) Admit(recipient string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	kept := l.sends[recipient][:0]
	for _, ts := range l.sends[recipient] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= l.ceiling {
		l.sends[recipient] = kept
		return false
	}

	l.sends[recipient] = append(kept, now)
	return true
}

// Pending reports how many sends are currently recorded in the recipient's
// window. Used for status reporting.
func (l *Limiter) Pending(recipient string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	n := 0
	for _, ts := range l.sends[recipient] {
		if ts.After(cutoff) {
			n++
		}
	}
	return n
}
