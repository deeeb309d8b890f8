package llm

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter paces calls with one token bucket per provider name.
// A zero rate disables pacing.
type Limiter struct {
	mu      sync.Mutex
	rps     float64
	burst   int
	buckets map[string]*rate.Limiter
}

func NewLimiter(rps float64, burst int) *Limiter {
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{rps: rps, burst: burst, buckets: make(map[string]*rate.Limiter)}
}

// Wait blocks until a call to name is allowed or ctx is done.
func (l *Limiter) Wait(ctx context.Context, name string) error {
	if l == nil || l.rps <= 0 {
		return ctx.Err()
	}
	l.mu.Lock()
	b, ok := l.buckets[name]
	if !ok {
		b = rate.NewLimiter(rate.Limit(l.rps), l.burst)
		l.buckets[name] = b
	}
	l.mu.Unlock()
	return b.Wait(ctx)
}
