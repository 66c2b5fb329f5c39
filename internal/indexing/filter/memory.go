package filter

import (
	"context"
	"sort"
	"sync"

	"github.com/vietddude/dropwatch/internal/core/domain"
	"github.com/vietddude/dropwatch/internal/indexing/metrics"
)

// MemoryFilter implements Filter using an in-memory set keyed by the
// normalized address.
type MemoryFilter struct {
	addresses map[string]struct{}
	mu        sync.RWMutex
}

var _ Filter = (*MemoryFilter)(nil)

// NewMemoryFilter creates a new in-memory filter.
func NewMemoryFilter() *MemoryFilter {
	return &MemoryFilter{
		addresses: make(map[string]struct{}),
	}
}

// Contains checks if an address is watched.
func (f *MemoryFilter) Contains(address string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, exists := f.addresses[domain.NormalizeAddress(address)]
	return exists
}

// Add adds an address to the filter.
func (f *MemoryFilter) Add(address string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addresses[domain.NormalizeAddress(address)] = struct{}{}
	metrics.WatchedAddresses.Set(float64(len(f.addresses)))
}

// Remove removes an address from the filter.
func (f *MemoryFilter) Remove(address string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.addresses, domain.NormalizeAddress(address))
	metrics.WatchedAddresses.Set(float64(len(f.addresses)))
}

// Size returns the number of watched addresses.
func (f *MemoryFilter) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.addresses)
}

// Addresses returns a sorted snapshot of all watched addresses.
func (f *MemoryFilter) Addresses() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	result := make([]string, 0, len(f.addresses))
	for addr := range f.addresses {
		result = append(result, addr)
	}
	sort.Strings(result)
	return result
}

// Rebuild swaps in the loader's addresses. On error the current set is kept.
func (f *MemoryFilter) Rebuild(ctx context.Context, load func(context.Context) ([]string, error)) error {
	addrs, err := load(ctx)
	if err != nil {
		return err
	}
	next := make(map[string]struct{}, len(addrs))
	for _, a := range addrs {
		next[domain.NormalizeAddress(a)] = struct{}{}
	}

	f.mu.Lock()
	f.addresses = next
	f.mu.Unlock()
	metrics.WatchedAddresses.Set(float64(len(next)))
	return nil
}
