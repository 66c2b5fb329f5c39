// Package storage defines the persistence contracts for subscriptions,
// notification channels and per-address cursors.
package storage

import (
	"context"

	"github.com/vietddude/dropwatch/internal/core/domain"
)

// SubscriptionStore persists Subscriptions keyed by (address, userID).
// Addresses are stored normalized; callers pass normalized addresses.
type SubscriptionStore interface {
	// Upsert creates or replaces the subscription for (address, userID).
	Upsert(ctx context.Context, sub *domain.Subscription) error

	// Delete removes the subscription. Returns false if it did not exist.
	Delete(ctx context.Context, address, userID string) (bool, error)

	// ListByAddress returns every subscription watching address.
	ListByAddress(ctx context.Context, address string) ([]domain.Subscription, error)

	// ListByFID returns every subscription owned by a Farcaster user.
	ListByFID(ctx context.Context, fid int64) ([]domain.Subscription, error)

	// ListAddresses returns the distinct watched addresses.
	ListAddresses(ctx context.Context) ([]string, error)

	// List returns all subscriptions.
	List(ctx context.Context) ([]domain.Subscription, error)
}

// ChannelStore persists notification channel registrations per FID.
type ChannelStore interface {
	Save(ctx context.Context, ch domain.Channel) error
	// Get returns domain.ErrNotFound if no channel is registered.
	Get(ctx context.Context, fid int64) (domain.Channel, error)
	Delete(ctx context.Context, fid int64) error
	List(ctx context.Context) ([]domain.Channel, error)
}

// CursorStore persists the last processed block per watched address.
type CursorStore interface {
	// Get returns domain.ErrNotFound if the address has no cursor.
	Get(ctx context.Context, address string) (*domain.AddressCursor, error)
	Save(ctx context.Context, c *domain.AddressCursor) error
	Delete(ctx context.Context, address string) error
	List(ctx context.Context) ([]domain.AddressCursor, error)
	// GetMany returns the cursors of addresses that have one.
	GetMany(ctx context.Context, addresses []string) ([]domain.AddressCursor, error)
}

// Pinger is implemented by stores backed by a remote service.
type Pinger interface {
	Health(ctx context.Context) error
}
