// Package routing handles provider selection and failover logic.
//
// This package contains:
//   - Router: interface for provider selection and health tracking
//   - DefaultRouter: round-robin implementation with a circuit breaker
//   - Retry: retry logic with exponential backoff and failover
package routing

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vietddude/dropwatch/internal/infra/rpc/provider"
)

const (
	circuitThreshold = 5
	circuitCooldown  = 30 * time.Second
)

// Router handles provider selection and health tracking.
type Router interface {
	// AddProvider registers an upstream provider
	AddProvider(p provider.Provider)

	// GetProvider returns the next usable provider
	GetProvider() (provider.Provider, error)

	// GetAllProviders returns providers in failover order, healthy first
	GetAllProviders() []provider.Provider

	// RecordSuccess tracks successful calls
	RecordSuccess(providerName string, latency time.Duration)

	// RecordFailure tracks failed calls
	RecordFailure(providerName string, err error)
}

type providerMetrics struct {
	successCount     int
	failureCount     int
	totalLatency     time.Duration
	lastSuccessAt    time.Time
	lastFailureAt    time.Time
	consecutiveFails int
	circuitOpen      bool
}

// DefaultRouter rotates across providers and skips those with an open circuit.
type DefaultRouter struct {
	mu             sync.RWMutex
	providers      []provider.Provider
	providerHealth map[string]*providerMetrics
	next           atomic.Uint64
	now            func() time.Time
}

// NewRouter creates a new router.
func NewRouter() *DefaultRouter {
	return &DefaultRouter{
		providerHealth: make(map[string]*providerMetrics),
		now:            time.Now,
	}
}

// AddProvider registers a provider.
func (r *DefaultRouter) AddProvider(p provider.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.providers = append(r.providers, p)
	r.providerHealth[p.GetName()] = &providerMetrics{
		lastSuccessAt: r.now(),
	}
}

// GetProvider returns the next usable provider in round-robin order.
func (r *DefaultRouter) GetProvider() (provider.Provider, error) {
	available := r.GetAllProviders()
	if len(available) == 0 {
		return nil, fmt.Errorf("no providers registered")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var usable []provider.Provider
	for _, p := range available {
		if r.usableLocked(p) {
			usable = append(usable, p)
		}
	}
	if len(usable) == 0 {
		return nil, fmt.Errorf("no available providers")
	}

	idx := r.next.Add(1) - 1
	return usable[idx%uint64(len(usable))], nil
}

// GetAllProviders returns all providers, usable ones first.
func (r *DefaultRouter) GetAllProviders() []provider.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]provider.Provider, 0, len(r.providers))
	var degraded []provider.Provider
	for _, p := range r.providers {
		if r.usableLocked(p) {
			result = append(result, p)
		} else {
			degraded = append(degraded, p)
		}
	}
	return append(result, degraded...)
}

func (r *DefaultRouter) usableLocked(p provider.Provider) bool {
	if !p.IsAvailable() {
		return false
	}
	m, ok := r.providerHealth[p.GetName()]
	if !ok {
		return true
	}
	// Half-open after the cooldown
	return !m.circuitOpen || r.now().Sub(m.lastFailureAt) >= circuitCooldown
}

// RecordSuccess records a successful call.
func (r *DefaultRouter) RecordSuccess(providerName string, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	metrics, ok := r.providerHealth[providerName]
	if !ok {
		return
	}

	metrics.successCount++
	metrics.totalLatency += latency
	metrics.lastSuccessAt = r.now()
	metrics.consecutiveFails = 0
	metrics.circuitOpen = false
}

// RecordFailure records a failed call.
func (r *DefaultRouter) RecordFailure(providerName string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	metrics, ok := r.providerHealth[providerName]
	if !ok {
		return
	}

	metrics.failureCount++
	metrics.lastFailureAt = r.now()
	metrics.consecutiveFails++

	if metrics.consecutiveFails >= circuitThreshold {
		metrics.circuitOpen = true
	}
}

// CircuitOpen reports whether the named provider's circuit is open.
func (r *DefaultRouter) CircuitOpen(providerName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.providerHealth[providerName]
	return ok && m.circuitOpen
}
