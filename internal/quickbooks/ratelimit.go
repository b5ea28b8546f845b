package quickbooks

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig holds the sustained rate and burst allowed per company.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

// DefaultRateLimit stays under the 500 requests/minute QuickBooks allows per realm.
var DefaultRateLimit = RateLimitConfig{RequestsPerSecond: 8, BurstSize: 10}

// RateLimiter is a token bucket with an optional server-imposed pause.
type RateLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	retryAt time.Time
}

func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.BurstSize),
	}
}

// Wait blocks until a request may be sent or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	retryAt := r.retryAt
	r.mu.Unlock()

	if wait := time.Until(retryAt); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	return r.limiter.Wait(ctx)
}

// PauseUntil holds back every request on this limiter until t.
// Used when the API answers 429 with a Retry-After header.
func (r *RateLimiter) PauseUntil(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.After(r.retryAt) {
		r.retryAt = t
	}
}

// RateLimiterPool hands out one limiter per realm.
type RateLimiterPool struct {
	mu       sync.Mutex
	cfg      RateLimitConfig
	limiters map[string]*RateLimiter
}

func NewRateLimiterPool(cfg RateLimitConfig) *RateLimiterPool {
	return &RateLimiterPool{cfg: cfg, limiters: make(map[string]*RateLimiter)}
}

// Get returns the limiter for realmID, creating it on first use.
func (p *RateLimiterPool) Get(realmID string) *RateLimiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	l, ok := p.limiters[realmID]
	if !ok {
		l = NewRateLimiter(p.cfg)
		p.limiters[realmID] = l
	}
	return l
}
