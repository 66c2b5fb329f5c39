// Package provider implements upstream endpoint access.
//
// This package contains:
//   - Provider interface: core abstraction for an upstream endpoint
//   - HTTPProvider: JSON-RPC over HTTP and REST GET implementation
//   - ProviderMonitor: health and rate tracking
package provider

import (
	"context"
	"net/url"
	"time"
)

// Provider defines the core interface for any upstream endpoint.
type Provider interface {
	// GetName returns provider identifier (e.g., "base-public", "alchemy")
	GetName() string

	// GetHealth returns current health metrics
	GetHealth() HealthStatus

	// IsAvailable checks if the provider is healthy enough to use
	IsAvailable() bool

	// Close cleans up resources
	Close() error
}

// RPCProvider extends Provider with methods for making JSON-RPC calls.
type RPCProvider interface {
	Provider

	// Call makes a single RPC request
	Call(ctx context.Context, method string, params []any) (any, error)

	// BatchCall makes multiple RPC calls in one request
	BatchCall(ctx context.Context, requests []BatchRequest) ([]BatchResponse, error)
}

// RESTProvider extends Provider with query-string GET access, used by
// block explorer APIs.
type RESTProvider interface {
	Provider

	// GetJSON issues a GET with query and decodes the JSON body into out
	GetJSON(ctx context.Context, query url.Values, out any) error
}

// BatchRequest represents a single request in a batch call.
type BatchRequest struct {
	Method string
	Params []any
}

// BatchResponse represents a single response from a batch call.
type BatchResponse struct {
	Result any
	Error  error
}

// HealthStatus represents the health state of a provider.
type HealthStatus struct {
	Available     bool          `json:"available"`
	Latency       time.Duration `json:"latency"`
	ErrorRate     float64       `json:"error_rate"`
	LastSuccessAt time.Time     `json:"last_success_at"`
	LastFailureAt time.Time     `json:"last_failure_at"`
	MonitorStats  *MonitorStats `json:"monitor_stats,omitempty"`
}
