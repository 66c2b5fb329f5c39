package cursor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/dropwatch/internal/core/domain"
)

// =============================================================================
// Mock Repository
// =============================================================================

type mockCursorRepo struct {
	mu      sync.RWMutex
	cursors map[string]*domain.AddressCursor
	saveErr error
}

func newMockCursorRepo() *mockCursorRepo {
	return &mockCursorRepo{
		cursors: make(map[string]*domain.AddressCursor),
	}
}

func (r *mockCursorRepo) Get(ctx context.Context, address string) (*domain.AddressCursor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.cursors[address]
	if !ok {
		return nil, domain.ErrNotFound
	}
	// Return a copy
	cp := *c
	return &cp, nil
}

func (r *mockCursorRepo) Save(ctx context.Context, c *domain.AddressCursor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	cp := *c
	r.cursors[c.Address] = &cp
	return nil
}

func (r *mockCursorRepo) Delete(ctx context.Context, address string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cursors, address)
	return nil
}

func (r *mockCursorRepo) List(ctx context.Context) ([]domain.AddressCursor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.AddressCursor
	for _, c := range r.cursors {
		out = append(out, *c)
	}
	return out, nil
}

func (r *mockCursorRepo) GetMany(ctx context.Context, addresses []string) ([]domain.AddressCursor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.AddressCursor
	for _, a := range addresses {
		if c, ok := r.cursors[a]; ok {
			out = append(out, *c)
		}
	}
	return out, nil
}

const addr = "0xaaaa000000000000000000000000000000000001"

// =============================================================================
// Manager Tests
// =============================================================================

func TestManagerEnsure(t *testing.T) {
	ctx := context.Background()
	mgr := NewManager(newMockCursorRepo())

	c, err := mgr.Ensure(ctx, addr, 1000)
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}
	if c.Block != 1000 {
		t.Errorf("expected block 1000, got %d", c.Block)
	}

	// Second Ensure must not rewind an existing cursor
	c, err = mgr.Ensure(ctx, addr, 10)
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}
	if c.Block != 1000 {
		t.Errorf("expected existing block 1000, got %d", c.Block)
	}
}

func TestManagerEnsure_CaseInsensitive(t *testing.T) {
	ctx := context.Background()
	mgr := NewManager(newMockCursorRepo())

	_, _ = mgr.Ensure(ctx, "0xAAAA000000000000000000000000000000000001", 500)
	c, err := mgr.Get(ctx, addr)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if c.Block != 500 {
		t.Errorf("expected block 500, got %d", c.Block)
	}
}

func TestManagerAdvance(t *testing.T) {
	ctx := context.Background()
	mgr := NewManager(newMockCursorRepo())
	_, _ = mgr.Ensure(ctx, addr, 1000)

	if err := mgr.Advance(ctx, addr, 1050); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	c, _ := mgr.Get(ctx, addr)
	if c.Block != 1050 {
		t.Errorf("expected block 1050, got %d", c.Block)
	}

	// Same block is a no-op
	if err := mgr.Advance(ctx, addr, 1050); err != nil {
		t.Errorf("expected idempotent advance, got %v", err)
	}
}

func TestManagerAdvance_Regression(t *testing.T) {
	ctx := context.Background()
	mgr := NewManager(newMockCursorRepo())
	_, _ = mgr.Ensure(ctx, addr, 1000)

	err := mgr.Advance(ctx, addr, 900)
	if !errors.Is(err, ErrCursorRegression) {
		t.Fatalf("expected ErrCursorRegression, got %v", err)
	}
	c, _ := mgr.Get(ctx, addr)
	if c.Block != 1000 {
		t.Errorf("cursor moved backwards to %d", c.Block)
	}
}

func TestManagerAdvance_NotFound(t *testing.T) {
	mgr := NewManager(newMockCursorRepo())
	err := mgr.Advance(context.Background(), addr, 10)
	if !errors.Is(err, ErrCursorNotFound) {
		t.Errorf("expected ErrCursorNotFound, got %v", err)
	}
}

func TestManagerAdvance_SaveFailureKeepsCursor(t *testing.T) {
	ctx := context.Background()
	repo := newMockCursorRepo()
	mgr := NewManager(repo)
	_, _ = mgr.Ensure(ctx, addr, 1000)

	repo.saveErr = errors.New("disk full")
	if err := mgr.Advance(ctx, addr, 1100); err == nil {
		t.Fatal("expected error")
	}
	repo.saveErr = nil

	c, _ := mgr.Get(ctx, addr)
	if c.Block != 1000 {
		t.Errorf("expected cursor unchanged at 1000, got %d", c.Block)
	}
}

func TestManagerMonotonic(t *testing.T) {
	ctx := context.Background()
	mgr := NewManager(newMockCursorRepo())
	_, _ = mgr.Ensure(ctx, addr, 0)

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(b uint64) {
			defer wg.Done()
			_ = mgr.Advance(ctx, addr, b)
		}(uint64(i))
	}
	wg.Wait()

	c, _ := mgr.Get(ctx, addr)
	if c.Block != 50 {
		t.Errorf("expected cursor at highest advance 50, got %d", c.Block)
	}
}

func TestManagerResetAndDelete(t *testing.T) {
	ctx := context.Background()
	mgr := NewManager(newMockCursorRepo())
	_, _ = mgr.Ensure(ctx, addr, 1000)

	if err := mgr.Reset(ctx, addr, 10); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	c, _ := mgr.Get(ctx, addr)
	if c.Block != 10 {
		t.Errorf("expected block 10 after reset, got %d", c.Block)
	}

	if err := mgr.Delete(ctx, addr); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := mgr.Get(ctx, addr); !errors.Is(err, ErrCursorNotFound) {
		t.Errorf("expected not found after delete, got %v", err)
	}
}

func TestManagerGetLag(t *testing.T) {
	ctx := context.Background()
	mgr := NewManager(newMockCursorRepo())
	_, _ = mgr.Ensure(ctx, addr, 1000)

	lag, err := mgr.GetLag(ctx, addr, 1010)
	if err != nil {
		t.Fatalf("GetLag failed: %v", err)
	}
	if lag != 10 {
		t.Errorf("expected lag 10, got %d", lag)
	}
}

// =============================================================================
// Metrics Tests
// =============================================================================

func TestMetricsCollector(t *testing.T) {
	mc := NewMetricsCollector(10)
	start := time.Now()

	mc.RecordAdvance(10, start)
	mc.RecordAdvance(20, start.Add(time.Second))
	mc.RecordAdvance(20, start.Add(2*time.Second))

	m := mc.GetMetrics()
	if m.TotalBlocks != 50 {
		t.Errorf("expected 50 total blocks, got %d", m.TotalBlocks)
	}
	if m.BlocksPerSecond != 20 {
		t.Errorf("expected 20 blocks/sec, got %f", m.BlocksPerSecond)
	}
	if !m.LastAdvanceAt.Equal(start.Add(2 * time.Second)) {
		t.Errorf("unexpected last advance %v", m.LastAdvanceAt)
	}

	mc.Reset()
	if mc.GetMetrics().Advances != 0 {
		t.Error("expected metrics cleared")
	}
}

func TestMetricsCollector_Window(t *testing.T) {
	mc := NewMetricsCollector(2)
	now := time.Now()
	for i := 0; i < 5; i++ {
		mc.RecordAdvance(1, now.Add(time.Duration(i)*time.Second))
	}
	if len(mc.advances) != 2 {
		t.Errorf("expected window of 2, got %d", len(mc.advances))
	}
	if mc.GetMetrics().Advances != 5 {
		t.Errorf("expected 5 advances counted")
	}
}
