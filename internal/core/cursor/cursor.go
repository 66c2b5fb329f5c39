// Package cursor tracks the last processed block for each watched address.
//
// # Purpose
//
// The cursor is the per-address bookmark the scheduler polls from:
//   - a new address starts at head minus a bounded lookback, never genesis
//   - the next tick fetches [cursor+1, head]
//   - the cursor moves only after that fetch succeeded
//
// # Monotonicity
//
// Advance never moves a cursor backwards. Advance(addr, 900) on a cursor at
// 1000 returns ErrCursorRegression. Only Reset (an operator action) may rewind.
//
// # Quick Start
//
//	manager := cursor.NewManager(cursorRepo)
//
//	// First subscription for an address
//	c, _ := manager.Ensure(ctx, "0xabc...", head-50)
//
//	// After a successful fetch of [c.Block+1, head]
//	manager.Advance(ctx, "0xabc...", head)
//
// # Package Structure
//
//   - manager.go - Manager implementation
//   - metrics.go - Advance rate tracking per address
package cursor

import (
	"github.com/vietddude/dropwatch/internal/core/domain"
	"github.com/vietddude/dropwatch/internal/infra/storage"
)

// Cursor is the position of one watched address.
type Cursor = domain.AddressCursor

// NewManager creates a new cursor manager with the given repository.
func NewManager(repo storage.CursorStore) *DefaultManager {
	return &DefaultManager{
		repo:    repo,
		history: make(map[string]*MetricsCollector),
		now:     timeNow,
	}
}

// NewMetricsCollector creates a new metrics collector with the given window size.
func NewMetricsCollector(windowSize int) *MetricsCollector {
	if windowSize <= 0 {
		windowSize = 20
	}
	return &MetricsCollector{
		windowSize: windowSize,
		advances:   make([]advanceRecord, 0, windowSize),
	}
}
