package fetcher

import (
	"context"
	"sync"
	"time"
)

// RateLimiter paces extraction runs that share one cookie account. Each
// caller reserves a slot up front, so waiters are served in the order they
// arrived and a cancelled wait hands its slot back.
type RateLimiter struct {
	mu       sync.Mutex
	interval time.Duration // time to earn one slot
	burst    int
	next     time.Time // when the bucket is full again minus the reserved slots
	now      func() time.Time
}

func NewRateLimiter(burst int, perMinute float64) *RateLimiter {
	if burst <= 0 {
		burst = 5
	}
	if perMinute <= 0 {
		perMinute = 20
	}
	return &RateLimiter{
		interval: time.Duration(float64(time.Minute) / perMinute),
		burst:    burst,
		now:      time.Now,
	}
}

// reserve takes one slot and returns how long the caller must wait for it.
func (rl *RateLimiter) reserve() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	// A full bucket holds burst slots: never let next fall further behind.
	if floor := now.Add(-time.Duration(rl.burst) * rl.interval); rl.next.Before(floor) {
		rl.next = floor
	}
	rl.next = rl.next.Add(rl.interval)
	if rl.next.After(now) {
		return rl.next.Sub(now)
	}
	return 0
}

// release returns a slot whose wait was abandoned.
func (rl *RateLimiter) release() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.next = rl.next.Add(-rl.interval)
}

// Wait blocks until the caller's slot comes up and reports how long it
// waited. If ctx ends first the slot is released.
func (rl *RateLimiter) Wait(ctx context.Context) (time.Duration, error) {
	delay := rl.reserve()
	if delay == 0 {
		return 0, nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return delay, nil
	case <-ctx.Done():
		rl.release()
		return 0, ctx.Err()
	}
}
