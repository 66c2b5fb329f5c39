package budget

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter paces outbound calls to a single upstream.
type Limiter struct {
	limiter *rate.Limiter
}

// NewLimiter allows ratePerSec calls per second with the given burst.
// A non-positive rate disables limiting.
func NewLimiter(ratePerSec float64, burst int) *Limiter {
	if ratePerSec <= 0 {
		return &Limiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst)}
}

// Wait blocks until a call is permitted or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return l.limiter.Wait(ctx)
}

// Allow reports whether a call may happen now without waiting.
func (l *Limiter) Allow() bool {
	if l == nil {
		return true
	}
	return l.limiter.Allow()
}
