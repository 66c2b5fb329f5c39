package cursor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vietddude/dropwatch/internal/core/domain"
	"github.com/vietddude/dropwatch/internal/infra/storage"
)

var (
	// ErrCursorNotFound is returned when an address has no cursor.
	ErrCursorNotFound = domain.ErrNotFound

	// ErrCursorRegression is returned when Advance would move a cursor backwards.
	ErrCursorRegression = errors.New("cursor regression")
)

var timeNow = time.Now

// Manager handles per-address cursor operations.
type Manager interface {
	// Get retrieves the current cursor for an address.
	Get(ctx context.Context, address string) (*Cursor, error)

	// Ensure returns the existing cursor or creates one at startBlock.
	Ensure(ctx context.Context, address string, startBlock uint64) (*Cursor, error)

	// Advance moves the cursor forward to blockNumber after a successful fetch.
	Advance(ctx context.Context, address string, blockNumber uint64) error

	// Reset forces the cursor to blockNumber, allowing rewinds.
	Reset(ctx context.Context, address string, blockNumber uint64) error

	// Delete drops the cursor of an address that is no longer watched.
	Delete(ctx context.Context, address string) error

	// GetLag returns blocks behind the chain head.
	GetLag(ctx context.Context, address string, latestBlock uint64) (int64, error)

	// GetMetrics returns advance statistics for an address.
	GetMetrics(address string) Metrics
}

// DefaultManager implements Manager on top of a CursorStore.
// Writes for one address are serialized by a per-address lock.
type DefaultManager struct {
	repo    storage.CursorStore
	mu      sync.Mutex
	locks   sync.Map // address -> *sync.Mutex
	history map[string]*MetricsCollector
	now     func() time.Time
}

func (m *DefaultManager) lock(address string) func() {
	l, _ := m.locks.LoadOrStore(address, &sync.Mutex{})
	mu := l.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Get retrieves the current cursor for an address.
func (m *DefaultManager) Get(ctx context.Context, address string) (*Cursor, error) {
	return m.repo.Get(ctx, domain.NormalizeAddress(address))
}

// Ensure returns the existing cursor or initializes a new one at startBlock.
func (m *DefaultManager) Ensure(
	ctx context.Context,
	address string,
	startBlock uint64,
) (*Cursor, error) {
	address = domain.NormalizeAddress(address)
	unlock := m.lock(address)
	defer unlock()

	c, err := m.repo.Get(ctx, address)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to get cursor: %w", err)
	}

	c = &Cursor{
		Address:   address,
		Block:     startBlock,
		UpdatedAt: m.now(),
	}
	if err := m.repo.Save(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to save cursor: %w", err)
	}
	return c, nil
}

// Advance moves cursor forward after a fetch covering (cursor, blockNumber] succeeded.
func (m *DefaultManager) Advance(ctx context.Context, address string, blockNumber uint64) error {
	address = domain.NormalizeAddress(address)
	unlock := m.lock(address)
	defer unlock()

	c, err := m.repo.Get(ctx, address)
	if err != nil {
		return fmt.Errorf("failed to get cursor: %w", err)
	}

	// Idempotent re-delivery of the same range
	if blockNumber == c.Block {
		return nil
	}
	if blockNumber < c.Block {
		return fmt.Errorf("%w: cursor at %d, got %d", ErrCursorRegression, c.Block, blockNumber)
	}

	advanced := blockNumber - c.Block
	c.Block = blockNumber
	c.UpdatedAt = m.now()
	if err := m.repo.Save(ctx, c); err != nil {
		return fmt.Errorf("failed to update cursor: %w", err)
	}

	m.mu.Lock()
	collector, ok := m.history[address]
	if !ok {
		collector = NewMetricsCollector(0)
		m.history[address] = collector
	}
	collector.RecordAdvance(advanced, c.UpdatedAt)
	m.mu.Unlock()

	return nil
}

// Reset forces a cursor position.
func (m *DefaultManager) Reset(ctx context.Context, address string, blockNumber uint64) error {
	address = domain.NormalizeAddress(address)
	unlock := m.lock(address)
	defer unlock()

	c := &Cursor{Address: address, Block: blockNumber, UpdatedAt: m.now()}
	if err := m.repo.Save(ctx, c); err != nil {
		return fmt.Errorf("failed to reset cursor: %w", err)
	}

	m.mu.Lock()
	if collector, ok := m.history[address]; ok {
		collector.Reset()
	}
	m.mu.Unlock()
	return nil
}

// Delete drops the cursor for an address.
func (m *DefaultManager) Delete(ctx context.Context, address string) error {
	address = domain.NormalizeAddress(address)
	unlock := m.lock(address)
	defer unlock()

	if err := m.repo.Delete(ctx, address); err != nil {
		return fmt.Errorf("failed to delete cursor: %w", err)
	}

	m.mu.Lock()
	delete(m.history, address)
	m.mu.Unlock()
	return nil
}

// GetLag returns how many blocks behind the chain tip.
func (m *DefaultManager) GetLag(
	ctx context.Context,
	address string,
	latestBlock uint64,
) (int64, error) {
	c, err := m.Get(ctx, address)
	if err != nil {
		return 0, fmt.Errorf("failed to get cursor: %w", err)
	}

	return int64(latestBlock) - int64(c.Block), nil
}

// GetMetrics returns advance statistics for an address.
func (m *DefaultManager) GetMetrics(address string) Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	if collector, ok := m.history[domain.NormalizeAddress(address)]; ok {
		return collector.GetMetrics()
	}

	return Metrics{}
}
