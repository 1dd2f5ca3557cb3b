package hub

import (
	"sync"
	"time"
)

// rateLimiter is a token bucket throttling inbound frames on one
// connection. It refills in whole tokens, one every refill interval,
// crediting the elapsed intervals against a fixed schedule so rounding
// never drifts. It has its own lock because allow() runs on the
// connection's read goroutine, not the hub loop.
type rateLimiter struct {
	mu       sync.Mutex
	now      func() time.Time
	tokens   int
	capacity int
	interval time.Duration // time to earn one token back
	last     time.Time     // schedule anchor of the most recent credit
}

// newRateLimiter creates a full bucket of the given capacity that refills
// completely over the given window.
func newRateLimiter(capacity int, window time.Duration) *rateLimiter {
	if capacity <= 0 {
		capacity = 1
	}
	if window <= 0 {
		window = time.Second
	}
	interval := window / time.Duration(capacity)
	if interval <= 0 {
		interval = time.Nanosecond
	}
	return &rateLimiter{
		now:      time.Now,
		tokens:   capacity,
		capacity: capacity,
		interval: interval,
		last:     time.Now(),
	}
}

func (rl *rateLimiter) allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if earned := int(rl.now().Sub(rl.last) / rl.interval); earned > 0 {
		rl.tokens += earned
		if rl.tokens > rl.capacity {
			rl.tokens = rl.capacity
		}
		rl.last = rl.last.Add(time.Duration(earned) * rl.interval)
	}

	if rl.tokens == 0 {
		return false
	}
	rl.tokens--
	return true
}
