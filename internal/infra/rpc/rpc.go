// Package rpc provides a resilient client for Base upstreams.
//
// It wraps one or more providers with:
//   - Failover across providers with a circuit breaker
//   - Retry with exponential backoff for transient errors
//   - Daily quota tracking and token bucket pacing
//   - Health monitoring
//
// # Quick Start
//
//	router := rpc.NewRouter()
//	router.AddProvider(rpc.NewHTTPProvider("base-public", "https://mainnet.base.org", 8*time.Second))
//
//	tracker := rpc.NewBudgetTracker(100000, map[string]float64{"rpc": 0.8, "explorer": 0.2})
//	client := rpc.NewClient("rpc", router, tracker, rpc.WithLimiter(rpc.NewLimiter(10, 10)))
//
//	result, err := client.Call(ctx, "eth_blockNumber", nil)
//
// # Package Structure
//
//   - provider/ - HTTPProvider and health monitoring
//   - routing/  - provider selection, retry and failover
//   - budget/   - quota tracking and rate limiting
//
// Most types are re-exported at the root level for convenience.
package rpc

import (
	"time"

	"github.com/vietddude/dropwatch/internal/infra/rpc/budget"
	"github.com/vietddude/dropwatch/internal/infra/rpc/provider"
	"github.com/vietddude/dropwatch/internal/infra/rpc/routing"
)

// Source labels used for quota accounting.
const (
	SourceRPC      = "rpc"
	SourceExplorer = "explorer"
)

// Provider is the core interface for upstream endpoints.
type Provider = provider.Provider

// RPCProvider is the interface for providers that support JSON-RPC calls.
type RPCProvider = provider.RPCProvider

// HTTPProvider implements Provider for JSON-RPC and REST over HTTP.
type HTTPProvider = provider.HTTPProvider

// HealthStatus represents the health state of a provider.
type HealthStatus = provider.HealthStatus

// BatchRequest represents a single request in a batch call.
type BatchRequest = provider.BatchRequest

// BatchResponse represents a single response from a batch call.
type BatchResponse = provider.BatchResponse

// Router handles provider selection and health tracking.
type Router = routing.Router

// RetryConfig defines retry behavior.
type RetryConfig = routing.RetryConfig

// BudgetTracker manages upstream quota.
type BudgetTracker = budget.BudgetTracker

// UsageStats holds quota usage statistics.
type UsageStats = budget.UsageStats

// Limiter paces outbound calls.
type Limiter = budget.Limiter

// NewHTTPProvider creates a new HTTP-based provider.
func NewHTTPProvider(name, endpoint string, timeout time.Duration) *HTTPProvider {
	return provider.NewHTTPProvider(name, endpoint, timeout)
}

// NewRouter creates a new failover router.
func NewRouter() *routing.DefaultRouter {
	return routing.NewRouter()
}

// NewBudgetTracker creates a new budget tracker.
func NewBudgetTracker(dailyLimit int, allocation map[string]float64) *budget.DefaultBudgetTracker {
	return budget.NewBudgetTracker(dailyLimit, allocation)
}

// NewLimiter creates a token bucket limiter.
func NewLimiter(ratePerSec float64, burst int) *Limiter {
	return budget.NewLimiter(ratePerSec, burst)
}
