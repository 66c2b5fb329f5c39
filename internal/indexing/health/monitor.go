package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/dropwatch/internal/core/domain"
	"github.com/vietddude/dropwatch/internal/infra/rpc/budget"
	"github.com/vietddude/dropwatch/internal/infra/storage"
)

// HeadReader fetches the latest block height of a data source.
type HeadReader interface {
	LatestBlock(ctx context.Context) (uint64, error)
}

// CursorLister lists per-address cursors.
type CursorLister interface {
	List(ctx context.Context) ([]domain.AddressCursor, error)
}

// Thresholds for cursor lag, in blocks.
type Thresholds struct {
	DegradedLag uint64
	CriticalLag uint64
	// DegradedBudget is the quota usage percentage that marks a source degraded.
	DegradedBudget float64
}

// DefaultThresholds suits Base's two-second blocks and a 30s poll.
func DefaultThresholds() Thresholds {
	return Thresholds{DegradedLag: 50, CriticalLag: 500, DegradedBudget: 90}
}

// Monitor aggregates health status from various system components.
type Monitor struct {
	sources       map[string]HeadReader
	cursors       CursorLister
	pingers       map[string]storage.Pinger
	budgetTracker budget.BudgetTracker
	budgetSources []string
	thresholds    Thresholds
	cacheTTL      time.Duration

	lastCheck  time.Time
	lastReport *HealthReport
	mu         sync.Mutex
	now        func() time.Time
}

// NewMonitor creates a new health monitor. budgetTracker may be nil.
func NewMonitor(
	sources map[string]HeadReader,
	cursors CursorLister,
	pingers map[string]storage.Pinger,
	budgetTracker budget.BudgetTracker,
	budgetSources []string,
) *Monitor {
	return &Monitor{
		sources:       sources,
		cursors:       cursors,
		pingers:       pingers,
		budgetTracker: budgetTracker,
		budgetSources: budgetSources,
		thresholds:    DefaultThresholds(),
		cacheTTL:      10 * time.Second,
		now:           time.Now,
	}
}

// CheckHealth builds a report. Results are cached briefly so probes do not
// spend upstream quota.
func (m *Monitor) CheckHealth(ctx context.Context) HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastReport != nil && m.now().Sub(m.lastCheck) < m.cacheTTL {
		return *m.lastReport
	}

	report := HealthReport{
		SystemStatus: StatusHealthy,
		Sources:      make(map[string]SourceHealth, len(m.sources)),
		Components:   make(map[string]ComponentHealth, len(m.pingers)),
	}

	var cursors []domain.AddressCursor
	if m.cursors != nil {
		var err error
		cursors, err = m.cursors.List(ctx)
		if err != nil {
			report.Components["cursors"] = ComponentHealth{Status: StatusDegraded, Error: err.Error()}
			report.SystemStatus = StatusDegraded
		}
	}
	report.WatchedAddresses = len(cursors)

	failing := 0
	for name, src := range m.sources {
		h := m.checkSource(ctx, name, src, cursors)
		if h.Error != "" {
			failing++
		}
		report.Sources[name] = h
		report.SystemStatus = worse(report.SystemStatus, h.Status)
	}
	if len(m.sources) > 0 && failing == len(m.sources) {
		report.SystemStatus = StatusCritical
	}

	for name, p := range m.pingers {
		ch := ComponentHealth{Status: StatusHealthy}
		if err := p.Health(ctx); err != nil {
			ch = ComponentHealth{Status: StatusDegraded, Error: err.Error()}
		}
		report.Components[name] = ch
		report.SystemStatus = worse(report.SystemStatus, ch.Status)
	}

	if m.budgetTracker != nil {
		report.Budget = make(map[string]budget.UsageStats, len(m.budgetSources))
		for _, src := range m.budgetSources {
			usage := m.budgetTracker.GetUsage(src)
			report.Budget[src] = usage
			if usage.UsagePercentage >= m.thresholds.DegradedBudget {
				report.SystemStatus = worse(report.SystemStatus, StatusDegraded)
			}
		}
	}

	m.lastCheck = m.now()
	m.lastReport = &report
	return report
}

func (m *Monitor) checkSource(ctx context.Context, name string, src HeadReader, cursors []domain.AddressCursor) SourceHealth {
	h := SourceHealth{Name: name, Status: StatusHealthy}

	latest, err := src.LatestBlock(ctx)
	if err != nil {
		h.Status = StatusDegraded
		h.Error = err.Error()
		return h
	}
	h.LatestBlock = latest

	for _, c := range cursors {
		if latest > c.Block && latest-c.Block > h.MaxLag {
			h.MaxLag = latest - c.Block
		}
	}
	switch {
	case h.MaxLag > m.thresholds.CriticalLag:
		h.Status = StatusCritical
	case h.MaxLag > m.thresholds.DegradedLag:
		h.Status = StatusDegraded
	}
	return h
}
