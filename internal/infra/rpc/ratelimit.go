package rpc

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter throttles calls per provider with a token bucket. Waiters
// on the same provider are served in FIFO order; cancellation releases
// a waiter without consuming a token.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	defaultRate  rate.Limit
	defaultBurst int
}

// NewRateLimiter creates a limiter registry with defaults applied to
// providers that were not configured explicitly.
func NewRateLimiter(defaultRPS float64, defaultBurst int) *RateLimiter {
	if defaultRPS <= 0 {
		defaultRPS = 10
	}
	if defaultBurst <= 0 {
		defaultBurst = int(defaultRPS)
	}
	return &RateLimiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  rate.Limit(defaultRPS),
		defaultBurst: defaultBurst,
	}
}

// Configure sets the refill rate and burst for one provider.
func (l *RateLimiter) Configure(providerID string, rps float64, burst int) {
	if rps <= 0 {
		rps = float64(l.defaultRate)
	}
	if burst <= 0 {
		burst = l.defaultBurst
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limiters[providerID] = rate.NewLimiter(rate.Limit(rps), burst)
}

// Acquire blocks until a token is available for the provider or the
// context is cancelled.
func (l *RateLimiter) Acquire(ctx context.Context, providerID string) error {
	return l.limiter(providerID).Wait(ctx)
}

func (l *RateLimiter) limiter(providerID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[providerID]
	if !ok {
		lim = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.limiters[providerID] = lim
	}
	return lim
}
