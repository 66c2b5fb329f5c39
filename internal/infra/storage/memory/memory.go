package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vietddude/dropwatch/internal/core/domain"
	"github.com/vietddude/dropwatch/internal/infra/storage"
)

var (
	_ storage.SubscriptionStore = (*SubscriptionRepo)(nil)
	_ storage.ChannelStore      = (*ChannelRepo)(nil)
	_ storage.CursorStore       = (*CursorRepo)(nil)
)

// MemoryStorage is the process-local backing for the in-memory repositories.
type MemoryStorage struct {
	// address -> userID -> subscription
	subs     map[string]map[string]domain.Subscription
	channels map[int64]domain.Channel
	cursors  map[string]domain.AddressCursor
	mu       sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		subs:     make(map[string]map[string]domain.Subscription),
		channels: make(map[int64]domain.Channel),
		cursors:  make(map[string]domain.AddressCursor),
	}
}

// -----------------------------------------------------------------------------
// Subscription Repository
// -----------------------------------------------------------------------------

type SubscriptionRepo struct {
	store *MemoryStorage
}

func NewSubscriptionRepo(store *MemoryStorage) *SubscriptionRepo {
	return &SubscriptionRepo{store: store}
}

func (r *SubscriptionRepo) Upsert(ctx context.Context, sub *domain.Subscription) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	byUser, ok := r.store.subs[sub.Address]
	if !ok {
		byUser = make(map[string]domain.Subscription)
		r.store.subs[sub.Address] = byUser
	}
	if prev, ok := byUser[sub.UserID]; ok && sub.CreatedAt.IsZero() {
		sub.CreatedAt = prev.CreatedAt
	}
	byUser[sub.UserID] = *sub
	return nil
}

func (r *SubscriptionRepo) Delete(ctx context.Context, address, userID string) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	byUser, ok := r.store.subs[address]
	if !ok {
		return false, nil
	}
	if _, ok := byUser[userID]; !ok {
		return false, nil
	}
	delete(byUser, userID)
	if len(byUser) == 0 {
		delete(r.store.subs, address)
	}
	return true, nil
}

func (r *SubscriptionRepo) ListByAddress(ctx context.Context, address string) ([]domain.Subscription, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	byUser := r.store.subs[address]
	result := make([]domain.Subscription, 0, len(byUser))
	for _, s := range byUser {
		result = append(result, s)
	}
	sortSubs(result)
	return result, nil
}

func (r *SubscriptionRepo) ListByFID(ctx context.Context, fid int64) ([]domain.Subscription, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var result []domain.Subscription
	for _, byUser := range r.store.subs {
		for _, s := range byUser {
			if s.FID == fid {
				result = append(result, s)
			}
		}
	}
	sortSubs(result)
	return result, nil
}

func (r *SubscriptionRepo) ListAddresses(ctx context.Context) ([]string, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	result := make([]string, 0, len(r.store.subs))
	for addr := range r.store.subs {
		result = append(result, addr)
	}
	sort.Strings(result)
	return result, nil
}

func (r *SubscriptionRepo) List(ctx context.Context) ([]domain.Subscription, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var result []domain.Subscription
	for _, byUser := range r.store.subs {
		for _, s := range byUser {
			result = append(result, s)
		}
	}
	sortSubs(result)
	return result, nil
}

func sortSubs(subs []domain.Subscription) {
	sort.Slice(subs, func(i, j int) bool {
		if subs[i].Address != subs[j].Address {
			return subs[i].Address < subs[j].Address
		}
		return subs[i].UserID < subs[j].UserID
	})
}

// -----------------------------------------------------------------------------
// Channel Repository
// -----------------------------------------------------------------------------

type ChannelRepo struct {
	store *MemoryStorage
}

func NewChannelRepo(store *MemoryStorage) *ChannelRepo {
	return &ChannelRepo{store: store}
}

func (r *ChannelRepo) Save(ctx context.Context, ch domain.Channel) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.channels[ch.FID] = ch
	return nil
}

func (r *ChannelRepo) Get(ctx context.Context, fid int64) (domain.Channel, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	ch, ok := r.store.channels[fid]
	if !ok {
		return domain.Channel{}, domain.ErrNotFound
	}
	return ch, nil
}

func (r *ChannelRepo) Delete(ctx context.Context, fid int64) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.channels, fid)
	return nil
}

func (r *ChannelRepo) List(ctx context.Context) ([]domain.Channel, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	result := make([]domain.Channel, 0, len(r.store.channels))
	for _, ch := range r.store.channels {
		result = append(result, ch)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].FID < result[j].FID })
	return result, nil
}

// -----------------------------------------------------------------------------
// Cursor Repository
// -----------------------------------------------------------------------------

type CursorRepo struct {
	store *MemoryStorage
}

func NewCursorRepo(store *MemoryStorage) *CursorRepo {
	return &CursorRepo{store: store}
}

func (r *CursorRepo) Get(ctx context.Context, address string) (*domain.AddressCursor, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	c, ok := r.store.cursors[address]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &c, nil
}

func (r *CursorRepo) Save(ctx context.Context, c *domain.AddressCursor) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.cursors[c.Address] = *c
	return nil
}

func (r *CursorRepo) Delete(ctx context.Context, address string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.cursors, address)
	return nil
}

func (r *CursorRepo) List(ctx context.Context) ([]domain.AddressCursor, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	result := make([]domain.AddressCursor, 0, len(r.store.cursors))
	for _, c := range r.store.cursors {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Address < result[j].Address })
	return result, nil
}

func (r *CursorRepo) GetMany(ctx context.Context, addresses []string) ([]domain.AddressCursor, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var result []domain.AddressCursor
	for _, addr := range addresses {
		if c, ok := r.store.cursors[addr]; ok {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Address < result[j].Address })
	return result, nil
}
