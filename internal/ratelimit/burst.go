package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// BurstLimiter is a token bucket per client IP guarding the HTTP surface.
type BurstLimiter struct {
	mu       sync.Mutex
	limiters map[string]*burstEntry
	limit    rate.Limit
	burst    int
	clock    Clock
}

type burstEntry struct {
	limiter *rate.Limiter
	seenAt  time.Time
}

func NewBurstLimiter(perSecond float64, burst int, clock Clock) *BurstLimiter {
	if clock == nil {
		clock = realClock{}
	}
	return &BurstLimiter{
		limiters: make(map[string]*burstEntry),
		limit:    rate.Limit(perSecond),
		burst:    burst,
		clock:    clock,
	}
}

// Allow takes one token from ip's bucket.
func (b *BurstLimiter) Allow(ip string) bool {
	now := b.clock.Now()

	b.mu.Lock()
	e, ok := b.limiters[ip]
	if !ok {
		e = &burstEntry{limiter: rate.NewLimiter(b.limit, b.burst)}
		b.limiters[ip] = e
	}
	e.seenAt = now
	b.mu.Unlock()

	return e.limiter.AllowN(now, 1)
}

// Prune drops buckets idle for longer than maxIdle.
func (b *BurstLimiter) Prune(maxIdle time.Duration) int {
	now := b.clock.Now()
	b.mu.Lock()
	defer b.mu.Unlock()

	pruned := 0
	for ip, e := range b.limiters {
		if now.Sub(e.seenAt) > maxIdle {
			delete(b.limiters, ip)
			pruned++
		}
	}
	return pruned
}
