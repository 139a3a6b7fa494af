// Package middleware provides the inbound request guards applied before the
// protocol router: per-identifier rate limiting and message validation.
package middleware

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/KunjShah01/RL-A2A/runtime/rlerrors"
)

// RateLimiter enforces a per-identifier requests-per-minute budget using
// token buckets. It is safe for concurrent use.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	perMin   int
}

// NewRateLimiter creates a limiter allowing perMinute requests per
// identifier. Zero or negative disables limiting.
func NewRateLimiter(perMinute int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		perMin:   perMinute,
	}
}

// Allow reports whether a request from the identifier is within budget.
func (rl *RateLimiter) Allow(identifier string) bool {
	if rl.perMin <= 0 {
		return true
	}
	rl.mu.Lock()
	limiter, ok := rl.limiters[identifier]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(float64(rl.perMin)/60.0), rl.perMin)
		rl.limiters[identifier] = limiter
	}
	rl.mu.Unlock()
	return limiter.Allow()
}

// Check is Allow with a taxonomy error for refused requests.
func (rl *RateLimiter) Check(identifier string) error {
	if rl.Allow(identifier) {
		return nil
	}
	return rlerrors.New(rlerrors.KindRateLimited, "rate limit exceeded for %q", identifier)
}
