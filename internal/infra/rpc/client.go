package rpc

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/vietddude/dropwatch/internal/core/domain"
	"github.com/vietddude/dropwatch/internal/infra/rpc/budget"
	"github.com/vietddude/dropwatch/internal/infra/rpc/provider"
	"github.com/vietddude/dropwatch/internal/infra/rpc/routing"
)

// Client is the high-level interface for making upstream calls.
// This is what application layers should use.
type Client struct {
	source  string
	router  routing.Router
	budget  budget.BudgetTracker
	limiter *budget.Limiter
	retry   routing.RetryConfig
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLimiter paces calls through l.
func WithLimiter(l *budget.Limiter) ClientOption {
	return func(c *Client) { c.limiter = l }
}

// WithRetryConfig overrides the per-provider retry policy.
func WithRetryConfig(cfg routing.RetryConfig) ClientOption {
	return func(c *Client) { c.retry = cfg }
}

// NewClient creates a client for one data source. b may be nil.
func NewClient(source string, router routing.Router, b budget.BudgetTracker, opts ...ClientOption) *Client {
	c := &Client{
		source: source,
		router: router,
		budget: b,
		retry:  routing.DefaultRetryConfig,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call makes a JSON-RPC call with failover and retry.
func (c *Client) Call(ctx context.Context, method string, params []any) (any, error) {
	if err := c.admit(ctx); err != nil {
		return nil, err
	}
	result, name, err := routing.CallWithRetryAndFailover(ctx, c.router, c.retry,
		func(ctx context.Context, p provider.RPCProvider) (any, error) {
			return p.Call(ctx, method, params)
		})
	c.record(name, method)
	return result, err
}

// BatchCall sends requests as one JSON-RPC batch with failover and retry.
func (c *Client) BatchCall(ctx context.Context, requests []provider.BatchRequest) ([]provider.BatchResponse, error) {
	if len(requests) == 0 {
		return nil, nil
	}
	if err := c.admit(ctx); err != nil {
		return nil, err
	}
	result, name, err := routing.CallWithRetryAndFailover(ctx, c.router, c.retry,
		func(ctx context.Context, p provider.RPCProvider) ([]provider.BatchResponse, error) {
			return p.BatchCall(ctx, requests)
		})
	c.record(name, "batch")
	return result, err
}

// GetJSON performs a REST query against the first healthy REST provider.
func (c *Client) GetJSON(ctx context.Context, query url.Values, out any) error {
	if err := c.admit(ctx); err != nil {
		return err
	}
	_, name, err := routing.CallWithRetryAndFailover(ctx, c.router, c.retry,
		func(ctx context.Context, p provider.RESTProvider) (struct{}, error) {
			return struct{}{}, p.GetJSON(ctx, query, out)
		})
	c.record(name, query.Get("action"))
	return err
}

// GetUsage returns current budget usage for this client's source.
func (c *Client) GetUsage() budget.UsageStats {
	if c.budget == nil {
		return budget.UsageStats{}
	}
	return c.budget.GetUsage(c.source)
}

// GetProviderStats returns monitoring stats for all HTTP providers.
func (c *Client) GetProviderStats() map[string]provider.HealthStatus {
	stats := make(map[string]provider.HealthStatus)
	for _, p := range c.router.GetAllProviders() {
		stats[p.GetName()] = p.GetHealth()
	}
	return stats
}

// Close releases every provider.
func (c *Client) Close() error {
	var firstErr error
	for _, p := range c.router.GetAllProviders() {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// admit applies quota pacing and the rate limiter before a call.
func (c *Client) admit(ctx context.Context) error {
	if c.budget != nil {
		if !c.budget.CanMakeCall(c.source) {
			return fmt.Errorf("%w: %s daily quota exhausted, resets in %v",
				domain.ErrRateLimited, c.source, c.budget.GetThrottleDelay(c.source))
		}
		if delay := c.budget.GetThrottleDelay(c.source); delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Pacing would outlast the deadline. This is not an upstream refusal.
		return fmt.Errorf("%w: %s limiter: %w", domain.ErrUpstreamUnavailable, c.source, err)
	}
	return nil
}

// record charges the call to the quota. Failed calls still count upstream.
func (c *Client) record(providerName, method string) {
	if c.budget == nil || providerName == "" {
		return
	}
	c.budget.RecordCall(c.source, providerName, method)
}
