package cursor

import (
	"time"
)

// advanceRecord holds one successful cursor move.
type advanceRecord struct {
	Blocks     uint64
	AdvancedAt time.Time
}

// Metrics holds cursor progress data for one address.
type Metrics struct {
	BlocksPerSecond float64
	LastAdvanceAt   time.Time
	TotalBlocks     uint64
	Advances        int
}

// MetricsCollector tracks cursor advances over a sliding window.
type MetricsCollector struct {
	windowSize  int             // number of advances to track
	advances    []advanceRecord // ring buffer of advances
	totalBlocks uint64
	count       int
}

// RecordAdvance records a successful advance of n blocks.
func (mc *MetricsCollector) RecordAdvance(n uint64, at time.Time) {
	record := advanceRecord{Blocks: n, AdvancedAt: at}

	if len(mc.advances) >= mc.windowSize {
		// Shift elements left, drop oldest
		copy(mc.advances, mc.advances[1:])
		mc.advances[len(mc.advances)-1] = record
	} else {
		mc.advances = append(mc.advances, record)
	}
	mc.totalBlocks += n
	mc.count++
}

// GetMetrics returns current metrics.
func (mc *MetricsCollector) GetMetrics() Metrics {
	m := Metrics{
		TotalBlocks: mc.totalBlocks,
		Advances:    mc.count,
	}
	if len(mc.advances) == 0 {
		return m
	}
	m.LastAdvanceAt = mc.advances[len(mc.advances)-1].AdvancedAt

	if len(mc.advances) >= 2 {
		first := mc.advances[0]
		last := mc.advances[len(mc.advances)-1]
		duration := last.AdvancedAt.Sub(first.AdvancedAt)

		if duration > 0 {
			var blocks uint64
			for _, r := range mc.advances[1:] {
				blocks += r.Blocks
			}
			m.BlocksPerSecond = float64(blocks) / duration.Seconds()
		}
	}

	return m
}

// Reset clears all collected metrics.
func (mc *MetricsCollector) Reset() {
	mc.advances = mc.advances[:0]
	mc.totalBlocks = 0
	mc.count = 0
}
