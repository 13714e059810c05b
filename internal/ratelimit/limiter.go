// Package ratelimit enforces a per-client request quota. Buckets live in
// process memory; replicas do not share them.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LimitResult is the outcome of a rate limit check.
type LimitResult struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	// Reset is the time until the client's full quota is available again.
	Reset      time.Duration
	RetryAfter time.Duration
}

type client struct {
	bucket   *rate.Limiter
	lastSeen time.Time
}

// Limiter keeps one token bucket per key. A bucket holds `limit` tokens and
// refills one token every window/limit, so a burst of limit requests is
// admitted and the next one is rejected until a token returns.
type Limiter struct {
	mu        sync.Mutex
	clients   map[string]*client
	nextSweep time.Time
	now       func() time.Time
}

func NewLimiter() *Limiter {
	return &Limiter{
		clients: make(map[string]*client),
		now:     time.Now,
	}
}

// Check takes one token from key's bucket. Changed limits are applied to
// existing buckets in place.
func (l *Limiter) Check(key string, limit int, window time.Duration) LimitResult {
	if limit < 1 || window <= 0 {
		return LimitResult{Allowed: true}
	}
	interval := window / time.Duration(limit)
	every := rate.Every(interval)

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now, window)

	c, ok := l.clients[key]
	if !ok {
		c = &client{bucket: rate.NewLimiter(every, limit)}
		l.clients[key] = c
	} else if c.bucket.Limit() != every || c.bucket.Burst() != limit {
		c.bucket.SetLimitAt(now, every)
		c.bucket.SetBurstAt(now, limit)
	}
	c.lastSeen = now

	allowed := c.bucket.AllowN(now, 1)
	tokens := c.bucket.TokensAt(now)

	result := LimitResult{
		Allowed:   allowed,
		Limit:     int64(limit),
		Remaining: int64(math.Max(0, math.Floor(tokens))),
		Reset:     scale(interval, float64(limit)-tokens),
	}
	if !allowed {
		result.RetryAfter = scale(interval, 1-tokens)
	}
	return result
}

// sweep drops buckets idle for a whole window; they would be full again.
// Must be called with mu held.
func (l *Limiter) sweep(now time.Time, window time.Duration) {
	if now.Before(l.nextSweep) {
		return
	}
	for key, c := range l.clients {
		if now.Sub(c.lastSeen) >= window {
			delete(l.clients, key)
		}
	}
	l.nextSweep = now.Add(window)
}

func scale(d time.Duration, n float64) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(float64(d) * n)
}
