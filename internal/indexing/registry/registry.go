// Package registry owns the set of wallet subscriptions and the watched
// address set derived from it.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/dropwatch/internal/core/cursor"
	"github.com/vietddude/dropwatch/internal/core/domain"
	"github.com/vietddude/dropwatch/internal/indexing/filter"
	"github.com/vietddude/dropwatch/internal/infra/storage"
)

// HeadReader reports the current chain head.
type HeadReader interface {
	LatestBlock(ctx context.Context) (uint64, error)
}

// Config holds registry settings.
type Config struct {
	// LookbackBlocks is how far behind the head a new address starts.
	LookbackBlocks uint64
}

// Registry is the SubscriptionRegistry. Mutations for one address are
// serialized; unrelated addresses do not contend.
type Registry struct {
	store   storage.SubscriptionStore
	watched filter.Filter
	cursors cursor.Manager
	head    HeadReader
	cfg     Config

	locks sync.Map // address -> *sync.Mutex
	now   func() time.Time
}

// New creates a registry. Call Load to populate the watched set from the store.
func New(
	store storage.SubscriptionStore,
	watched filter.Filter,
	cursors cursor.Manager,
	head HeadReader,
	cfg Config,
) *Registry {
	return &Registry{
		store:   store,
		watched: watched,
		cursors: cursors,
		head:    head,
		cfg:     cfg,
		now:     time.Now,
	}
}

func (r *Registry) lock(address string) func() {
	l, _ := r.locks.LoadOrStore(address, &sync.Mutex{})
	mu := l.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Load rebuilds the watched set from the subscription store.
func (r *Registry) Load(ctx context.Context) error {
	if err := r.watched.Rebuild(ctx, r.store.ListAddresses); err != nil {
		return fmt.Errorf("failed to load watched addresses: %w", err)
	}
	slog.Info("Subscription registry loaded", "addresses", r.watched.Size())
	return nil
}

// Add creates or replaces the subscription for (address, userID). It
// reports whether a new subscription was created.
func (r *Registry) Add(ctx context.Context, sub domain.Subscription) (bool, error) {
	if !domain.IsValidAddress(sub.Address) {
		return false, fmt.Errorf("%w: %q", domain.ErrInvalidAddress, sub.Address)
	}
	sub.Address = domain.NormalizeAddress(sub.Address)

	unlock := r.lock(sub.Address)
	defer unlock()

	existing, err := r.store.ListByAddress(ctx, sub.Address)
	if err != nil {
		return false, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	created := true
	for _, s := range existing {
		if s.UserID == sub.UserID {
			created = false
			sub.CreatedAt = s.CreatedAt
		}
	}

	now := r.now()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now
	if err := r.store.Upsert(ctx, &sub); err != nil {
		return false, fmt.Errorf("failed to save subscription: %w", err)
	}

	if len(existing) == 0 {
		r.initCursor(ctx, sub.Address)
	}
	r.watched.Add(sub.Address)

	slog.Info("Subscription saved",
		"address", sub.Address,
		"user", sub.UserID,
		"created", created,
	)
	return created, nil
}

// initCursor starts a new address a bounded distance behind the head. When
// the head is unavailable the scheduler initializes the cursor on its first
// pass instead.
func (r *Registry) initCursor(ctx context.Context, address string) {
	head, err := r.head.LatestBlock(ctx)
	if err != nil {
		slog.Warn("Deferring cursor initialization", "address", address, "error", err)
		return
	}
	start := StartBlock(head, r.cfg.LookbackBlocks)
	if _, err := r.cursors.Ensure(ctx, address, start); err != nil {
		slog.Warn("Failed to initialize cursor", "address", address, "error", err)
	}
}

// StartBlock is the first cursor position for an address seen at head.
func StartBlock(head, lookback uint64) uint64 {
	if head < lookback {
		return 0
	}
	return head - lookback
}

// Remove deletes the subscription for (address, userID). Removing an
// absent subscription is not an error. When the last subscription of an
// address goes, the address stops being watched.
func (r *Registry) Remove(ctx context.Context, address, userID string) (bool, error) {
	address = domain.NormalizeAddress(address)

	unlock := r.lock(address)
	defer unlock()

	removed, err := r.store.Delete(ctx, address, userID)
	if err != nil {
		return false, fmt.Errorf("failed to delete subscription: %w", err)
	}
	if !removed {
		return false, nil
	}

	if err := r.dropIfUnwatchedLocked(ctx, address); err != nil {
		return true, err
	}
	slog.Info("Subscription removed", "address", address, "user", userID)
	return true, nil
}

// RemoveByFID deletes every subscription owned by a Farcaster user.
func (r *Registry) RemoveByFID(ctx context.Context, fid int64) (int, error) {
	subs, err := r.store.ListByFID(ctx, fid)
	if err != nil {
		return 0, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	n := 0
	for _, s := range subs {
		removed, err := r.Remove(ctx, s.Address, s.UserID)
		if err != nil {
			return n, err
		}
		if removed {
			n++
		}
	}
	return n, nil
}

func (r *Registry) dropIfUnwatchedLocked(ctx context.Context, address string) error {
	rest, err := r.store.ListByAddress(ctx, address)
	if err != nil {
		return fmt.Errorf("failed to list subscriptions: %w", err)
	}
	if len(rest) > 0 {
		return nil
	}
	r.watched.Remove(address)
	if err := r.cursors.Delete(ctx, address); err != nil {
		slog.Warn("Failed to delete cursor", "address", address, "error", err)
	}
	return nil
}

// ListFor returns a snapshot of the subscriptions watching address.
func (r *Registry) ListFor(ctx context.Context, address string) ([]domain.Subscription, error) {
	return r.store.ListByAddress(ctx, domain.NormalizeAddress(address))
}

// ListByFID returns the subscriptions owned by a Farcaster user.
func (r *Registry) ListByFID(ctx context.Context, fid int64) ([]domain.Subscription, error) {
	return r.store.ListByFID(ctx, fid)
}

// List returns every subscription.
func (r *Registry) List(ctx context.Context) ([]domain.Subscription, error) {
	return r.store.List(ctx)
}

// Watched returns the watched addresses in sorted order.
func (r *Registry) Watched() []string {
	return r.watched.Addresses()
}

// IsWatched reports whether any subscription watches address.
func (r *Registry) IsWatched(address string) bool {
	return r.watched.Contains(address)
}

// Cursor returns the last checked block of a watched address.
func (r *Registry) Cursor(ctx context.Context, address string) (uint64, error) {
	c, err := r.cursors.Get(ctx, address)
	if err != nil {
		return 0, err
	}
	return c.Block, nil
}
