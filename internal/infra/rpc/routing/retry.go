package routing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/vietddude/dropwatch/internal/core/domain"
	"github.com/vietddude/dropwatch/internal/infra/rpc/provider"
)

// RetryConfig defines retry behavior.
type RetryConfig struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffMultiple float64
}

// DefaultRetryConfig keeps a single poll inside its call timeout.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:     3,
	InitialDelay:    250 * time.Millisecond,
	MaxDelay:        2 * time.Second,
	BackoffMultiple: 2.0,
}

// ErrorAction determines how to handle an error.
type ErrorAction int

const (
	ActionRetry ErrorAction = iota
	ActionFailover
	ActionFatal
)

func (a ErrorAction) String() string {
	switch a {
	case ActionRetry:
		return "retry"
	case ActionFailover:
		return "failover"
	case ActionFatal:
		return "fatal"
	}
	return "unknown"
}

// ClassifyError determines the action for a given error.
func ClassifyError(err error) ErrorAction {
	if err == nil {
		return ActionRetry
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ActionFatal
	}

	// -32700 parse error, -32600 invalid request, -32601 method not found,
	// -32602 invalid params: the request itself is wrong
	var rpcErr *provider.RPCError
	if errors.As(err, &rpcErr) {
		switch rpcErr.Code {
		case -32700, -32600, -32601, -32602:
			return ActionFatal
		}
	}

	if errors.Is(err, domain.ErrRateLimited) {
		return ActionFailover
	}

	// Network, 5xx and everything else
	return ActionRetry
}

// CallWithRetry executes fn with exponential backoff until it succeeds or
// the error is not retryable.
func CallWithRetry[T any](ctx context.Context, config RetryConfig, fn func(context.Context) (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		// Failover and fatal both stop this provider
		if ClassifyError(err) != ActionRetry {
			return zero, err
		}

		if attempt == config.MaxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(calculateBackoff(attempt, config)):
		}
	}

	return zero, fmt.Errorf("failed after %d attempts: %w", config.MaxAttempts, lastErr)
}

// CallWithRetryAndFailover tries each provider in router order, retrying
// transient errors on each before moving on.
func CallWithRetryAndFailover[P provider.Provider, T any](
	ctx context.Context,
	router Router,
	config RetryConfig,
	fn func(context.Context, P) (T, error),
) (T, string, error) {
	var zero T

	providers := router.GetAllProviders()
	if len(providers) == 0 {
		return zero, "", fmt.Errorf("%w: no providers", domain.ErrUpstreamUnavailable)
	}

	var (
		lastErr error
		tried   int
	)
	for _, p := range providers {
		typed, ok := p.(P)
		if !ok {
			continue
		}
		tried++

		start := time.Now()
		result, err := CallWithRetry(ctx, config, func(ctx context.Context) (T, error) {
			return fn(ctx, typed)
		})
		if err == nil {
			router.RecordSuccess(p.GetName(), time.Since(start))
			return result, p.GetName(), nil
		}

		lastErr = err
		router.RecordFailure(p.GetName(), err)

		if ClassifyError(err) == ActionFatal {
			return zero, p.GetName(), fmt.Errorf("provider %s: %w", p.GetName(), err)
		}
	}

	if tried == 0 {
		return zero, "", fmt.Errorf("%w: no compatible providers", domain.ErrUpstreamUnavailable)
	}
	if errors.Is(lastErr, domain.ErrRateLimited) || errors.Is(lastErr, domain.ErrUpstreamUnavailable) {
		return zero, "", fmt.Errorf("all providers failed: %w", lastErr)
	}
	return zero, "", fmt.Errorf("all providers failed: %w: %w", domain.ErrUpstreamUnavailable, lastErr)
}

func calculateBackoff(attempt int, config RetryConfig) time.Duration {
	delay := float64(config.InitialDelay) * math.Pow(config.BackoffMultiple, float64(attempt))
	if delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}
	return time.Duration(delay)
}
