// Package budget handles upstream quota and rate limiting.
//
// This package contains:
//   - BudgetTracker: interface for quota management
//   - DefaultBudgetTracker: daily quota tracking per data source
//   - Limiter: token bucket pacing of outbound calls
package budget

import (
	"sync"
	"time"

	"github.com/vietddude/dropwatch/internal/indexing/metrics"
)

// UsageStats holds quota usage statistics.
type UsageStats struct {
	TotalCalls      int            `json:"total_calls"`
	CallsPerHour    int            `json:"calls_per_hour"`
	DailyLimit      int            `json:"daily_limit"`
	RemainingCalls  int            `json:"remaining_calls"`
	UsagePercentage float64        `json:"usage_percentage"`
	NextResetAt     time.Time      `json:"next_reset_at"`
	Methods         map[string]int `json:"methods,omitempty"`
}

// BudgetTracker manages upstream quota per data source ("rpc", "explorer").
type BudgetTracker interface {
	RecordCall(source, providerName, method string)
	GetUsage(source string) UsageStats
	CanMakeCall(source string) bool
	GetThrottleDelay(source string) time.Duration
	Reset()
}

type sourceBudget struct {
	totalCalls      int
	callsThisHour   int
	hourStartTime   time.Time
	methodCalls     map[string]int
	providerCalls   map[string]int
	dailyAllocation int
}

// DefaultBudgetTracker implements BudgetTracker with a daily reset at
// local midnight.
type DefaultBudgetTracker struct {
	mu         sync.RWMutex
	sources    map[string]*sourceBudget
	dailyLimit int
	resetTime  time.Time
	now        func() time.Time
}

// NewBudgetTracker creates a tracker. allocation maps a source to its share
// of dailyLimit; unlisted sources get the full limit.
func NewBudgetTracker(dailyLimit int, allocation map[string]float64) *DefaultBudgetTracker {
	bt := &DefaultBudgetTracker{
		sources:    make(map[string]*sourceBudget),
		dailyLimit: dailyLimit,
		now:        time.Now,
	}
	bt.resetTime = nextMidnight(bt.now())

	for source, share := range allocation {
		bt.sources[source] = bt.newSourceBudget(int(float64(dailyLimit) * share))
	}
	return bt
}

func (bt *DefaultBudgetTracker) newSourceBudget(allocation int) *sourceBudget {
	return &sourceBudget{
		dailyAllocation: allocation,
		hourStartTime:   bt.now(),
		methodCalls:     make(map[string]int),
		providerCalls:   make(map[string]int),
	}
}

// RecordCall records a call for quota tracking.
func (bt *DefaultBudgetTracker) RecordCall(source, providerName, method string) {
	bt.mu.Lock()
	defer bt.mu.Unlock()

	now := bt.now()
	if now.After(bt.resetTime) {
		bt.resetLocked()
	}

	budget, ok := bt.sources[source]
	if !ok {
		budget = bt.newSourceBudget(bt.dailyLimit)
		bt.sources[source] = budget
	}

	if now.Sub(budget.hourStartTime) >= time.Hour {
		budget.callsThisHour = 0
		budget.hourStartTime = now
	}

	budget.totalCalls++
	budget.callsThisHour++
	budget.methodCalls[method]++
	budget.providerCalls[providerName]++

	if budget.dailyAllocation > 0 {
		metrics.RPCQuotaUsage.WithLabelValues(source).
			Set(float64(budget.totalCalls) / float64(budget.dailyAllocation) * 100)
	}
}

// GetUsage returns usage statistics for a source.
func (bt *DefaultBudgetTracker) GetUsage(source string) UsageStats {
	bt.mu.RLock()
	defer bt.mu.RUnlock()
	return bt.usageLocked(source)
}

func (bt *DefaultBudgetTracker) usageLocked(source string) UsageStats {
	budget, ok := bt.sources[source]
	if !ok {
		return UsageStats{
			DailyLimit:     bt.dailyLimit,
			RemainingCalls: bt.dailyLimit,
			NextResetAt:    bt.resetTime,
		}
	}

	remaining := max(budget.dailyAllocation-budget.totalCalls, 0)

	usagePercentage := 0.0
	if budget.dailyAllocation > 0 {
		usagePercentage = float64(budget.totalCalls) / float64(budget.dailyAllocation) * 100
	}

	methods := make(map[string]int, len(budget.methodCalls))
	for m, n := range budget.methodCalls {
		methods[m] = n
	}

	return UsageStats{
		TotalCalls:      budget.totalCalls,
		CallsPerHour:    budget.callsThisHour,
		DailyLimit:      budget.dailyAllocation,
		RemainingCalls:  remaining,
		UsagePercentage: usagePercentage,
		NextResetAt:     bt.resetTime,
		Methods:         methods,
	}
}

// CanMakeCall checks if a call can be made within budget.
func (bt *DefaultBudgetTracker) CanMakeCall(source string) bool {
	bt.mu.RLock()
	defer bt.mu.RUnlock()

	budget, ok := bt.sources[source]
	if !ok || bt.now().After(bt.resetTime) {
		return true
	}
	return budget.totalCalls < budget.dailyAllocation
}

// GetThrottleDelay returns how long to wait before making a call. Pacing
// tightens as the daily allocation is consumed.
func (bt *DefaultBudgetTracker) GetThrottleDelay(source string) time.Duration {
	bt.mu.RLock()
	defer bt.mu.RUnlock()

	if _, ok := bt.sources[source]; !ok {
		return 0
	}

	usage := bt.usageLocked(source)
	switch {
	case usage.UsagePercentage < 50:
		return 0
	case usage.UsagePercentage < 70:
		return 100 * time.Millisecond
	case usage.UsagePercentage < 90:
		return 500 * time.Millisecond
	case usage.UsagePercentage < 100:
		return 2 * time.Second
	}
	return bt.resetTime.Sub(bt.now())
}

// Reset resets all usage counters.
func (bt *DefaultBudgetTracker) Reset() {
	bt.mu.Lock()
	defer bt.mu.Unlock()
	bt.resetLocked()
}

func (bt *DefaultBudgetTracker) resetLocked() {
	now := bt.now()
	for source, budget := range bt.sources {
		budget.totalCalls = 0
		budget.callsThisHour = 0
		budget.hourStartTime = now
		budget.methodCalls = make(map[string]int)
		budget.providerCalls = make(map[string]int)
		metrics.RPCQuotaUsage.WithLabelValues(source).Set(0)
	}
	bt.resetTime = nextMidnight(now)
}

func nextMidnight(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
}
