package roster

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter spaces page requests so a crawl never exceeds the configured
// requests per second against the EHR.
type RateLimiter struct {
	limiter *rate.Limiter
}

func NewRateLimiter(requestsPerSecond int) *RateLimiter {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 1
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 1)}
}

// WaitTurn blocks until the caller's slot comes up or ctx is done.
func (r *RateLimiter) WaitTurn(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}
