package scheduler

import (
	"context"
	"sync"
	"time"
)

// SlidingWindow is a thread-safe sliding window rate limiter
type SlidingWindow struct {
	limit    int
	window   time.Duration
	requests []time.Time
	mu       sync.Mutex
}

// NewSlidingWindow creates a limiter allowing limit takes per window
func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		limit:    limit,
		window:   window,
		requests: make([]time.Time, 0, limit),
	}
}

// cleanup removes timestamps outside the window
func (sw *SlidingWindow) cleanup(now time.Time) {
	cutoff := now.Add(-sw.window)
	idx := 0
	for idx < len(sw.requests) && !sw.requests[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		sw.requests = sw.requests[idx:]
	}
}

// Take records a request and returns true if allowed, false if rate limited
func (sw *SlidingWindow) Take() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	now := time.Now()
	sw.cleanup(now)
	if len(sw.requests) < sw.limit {
		sw.requests = append(sw.requests, now)
		return true
	}
	return false
}

// Remaining returns the number of requests left in the window
func (sw *SlidingWindow) Remaining() int {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.cleanup(time.Now())
	return sw.limit - len(sw.requests)
}

// Peek returns the remaining requests and when the oldest one leaves the window
func (sw *SlidingWindow) Peek() (remaining int, reset time.Time) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	now := time.Now()
	sw.cleanup(now)
	remaining = sw.limit - len(sw.requests)
	if len(sw.requests) == 0 {
		return remaining, now
	}
	return remaining, sw.requests[0].Add(sw.window)
}

// Wait blocks until a request is allowed and records it.
// It reports whether it had to wait at all.
func (sw *SlidingWindow) Wait(ctx context.Context) (bool, error) {
	waited := false
	for {
		if sw.Take() {
			return waited, nil
		}
		waited = true

		_, reset := sw.Peek()
		delay := time.Until(reset)
		if delay <= 0 {
			delay = time.Millisecond
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return waited, ctx.Err()
		case <-timer.C:
		}
	}
}
