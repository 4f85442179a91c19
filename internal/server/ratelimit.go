package server

import (
	"sync"
	"time"
)

// rateLimiter implements a simple per-key fixed-window rate limiter. It
// throttles violation reporting, which is free to call and would otherwise be
// an unbounded spam vector against the violation ledger.
type rateLimiter struct {
	mu      sync.Mutex
	callers map[string]*caller
	rate    int           // max requests per window
	window  time.Duration // window duration
}

// caller tracks request counts within the current window for a single key.
type caller struct {
	count       int
	windowStart time.Time
}

// newRateLimiter creates a rate limiter that allows rate requests per window.
// It starts a background goroutine that cleans up stale entries every minute.
func newRateLimiter(rate int, window time.Duration) *rateLimiter {
	rl := &rateLimiter{
		callers: make(map[string]*caller),
		rate:    rate,
		window:  window,
	}
	go func() {
		for {
			time.Sleep(time.Minute)
			rl.cleanup()
		}
	}()
	return rl
}

// allow returns true if the key has not exceeded its rate limit.
func (rl *rateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	c, exists := rl.callers[key]
	if !exists || now.Sub(c.windowStart) > rl.window {
		rl.callers[key] = &caller{count: 1, windowStart: now}
		return true
	}
	c.count++
	return c.count <= rl.rate
}

// cleanup removes caller entries whose window has expired.
func (rl *rateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := time.Now()
	for key, c := range rl.callers {
		if now.Sub(c.windowStart) > rl.window {
			delete(rl.callers, key)
		}
	}
}
