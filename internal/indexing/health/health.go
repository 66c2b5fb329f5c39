// Package health provides system health monitoring and status reporting.
package health

import "github.com/vietddude/dropwatch/internal/infra/rpc/budget"

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// worse returns the more severe of two statuses.
func worse(a, b SystemStatus) SystemStatus {
	rank := map[SystemStatus]int{StatusHealthy: 0, StatusDegraded: 1, StatusCritical: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// SourceHealth describes one chain data source.
type SourceHealth struct {
	Name        string       `json:"name"`
	Status      SystemStatus `json:"status"`
	LatestBlock uint64       `json:"latest_block"`
	MaxLag      uint64       `json:"max_lag"`
	Error       string       `json:"error,omitempty"`
}

// ComponentHealth describes a backing service such as a store or cache.
type ComponentHealth struct {
	Status SystemStatus `json:"status"`
	Error  string       `json:"error,omitempty"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus     SystemStatus                 `json:"system_status"`
	WatchedAddresses int                          `json:"watched_addresses"`
	Sources          map[string]SourceHealth      `json:"sources"`
	Components       map[string]ComponentHealth   `json:"components,omitempty"`
	Budget           map[string]budget.UsageStats `json:"budget,omitempty"`
}
