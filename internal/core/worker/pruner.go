package worker

import (
	"context"
	"log/slog"
	"time"
)

// Prunable drops expired entries and returns how many were removed.
type Prunable interface {
	Prune() int
}

// Pruner periodically evicts expired deduplication entries.
type Pruner struct {
	target Prunable
	window time.Duration
}

// NewPruner creates a pruner for a ledger with the given retention window.
func NewPruner(target Prunable, window time.Duration) *Pruner {
	return &Pruner{target: target, window: window}
}

// Interval is 10% of the window, clamped to [1m, 1h].
func (p *Pruner) Interval() time.Duration {
	interval := min(p.window/10, time.Hour)
	return max(interval, time.Minute)
}

// Start runs the pruner loop.
func (p *Pruner) Start(ctx context.Context) {
	if p.window <= 0 {
		return
	}

	ticker := time.NewTicker(p.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.prune()
		}
	}
}

func (p *Pruner) prune() {
	if n := p.target.Prune(); n > 0 {
		slog.Debug("Pruned dedup entries", "removed", n)
	}
}
