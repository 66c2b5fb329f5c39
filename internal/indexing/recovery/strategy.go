package recovery

import (
	"math"
	"math/rand/v2"
	"time"
)

// RetryStrategy defines how retries should be handled.
type RetryStrategy interface {
	// GetDelay returns the delay for the given attempt (0-indexed).
	GetDelay(attempt int) time.Duration

	// ShouldRetry checks if we should retry based on the error and attempt count.
	ShouldRetry(err error, attempt int) bool
}

// ExponentialBackoff implements InitialDelay * 2^attempt capped at MaxDelay,
// with optional proportional jitter.
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
	// Jitter in [0,1] spreads each delay over [d*(1-Jitter), d].
	Jitter     float64
	Classifier Classifier

	rand func() float64
}

// DefaultBackoff returns 2s, 4s, 8s ... capped at 5m, 8 attempts, 20% jitter.
func DefaultBackoff(classifier Classifier) *ExponentialBackoff {
	if classifier == nil {
		classifier = DefaultClassifier
	}
	return &ExponentialBackoff{
		InitialDelay: 2 * time.Second,
		MaxDelay:     5 * time.Minute,
		MaxAttempts:  8,
		Jitter:       0.2,
		Classifier:   classifier,
	}
}

// GetDelay calculates the delay for attempt.
func (s *ExponentialBackoff) GetDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(s.InitialDelay) * math.Pow(2, float64(attempt))
	if delay > float64(s.MaxDelay) || math.IsInf(delay, 1) {
		delay = float64(s.MaxDelay)
	}
	if s.Jitter > 0 {
		r := rand.Float64
		if s.rand != nil {
			r = s.rand
		}
		delay -= delay * s.Jitter * r()
	}
	return time.Duration(delay)
}

// ShouldRetry checks if error is retryable and max attempts not exceeded.
func (s *ExponentialBackoff) ShouldRetry(err error, attempt int) bool {
	if attempt >= s.MaxAttempts {
		return false
	}
	classify := s.Classifier
	if classify == nil {
		classify = DefaultClassifier
	}
	return classify(err) != CategoryPermanent
}
