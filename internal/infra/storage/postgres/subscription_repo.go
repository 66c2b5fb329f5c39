package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vietddude/dropwatch/internal/core/domain"
	"github.com/vietddude/dropwatch/internal/infra/storage"
)

var _ storage.SubscriptionStore = (*SubscriptionRepo)(nil)

type subscriptionRow struct {
	Address      string    `db:"address"`
	UserID       string    `db:"user_id"`
	FID          int64     `db:"fid"`
	ChannelURL   string    `db:"channel_url"`
	ChannelToken string    `db:"channel_token"`
	Filter       []byte    `db:"filter"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (r subscriptionRow) toDomain() (domain.Subscription, error) {
	sub := domain.Subscription{
		Address:   r.Address,
		UserID:    r.UserID,
		FID:       r.FID,
		Channel:   domain.Channel{FID: r.FID, URL: r.ChannelURL, Token: r.ChannelToken},
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if err := json.Unmarshal(r.Filter, &sub.Filter); err != nil {
		return domain.Subscription{}, fmt.Errorf("decode filter for %s: %w", r.Address, err)
	}
	return sub, nil
}

// SubscriptionRepo implements storage.SubscriptionStore using PostgreSQL.
type SubscriptionRepo struct {
	db *DB
}

// NewSubscriptionRepo creates a new PostgreSQL subscription repository.
func NewSubscriptionRepo(db *DB) *SubscriptionRepo {
	return &SubscriptionRepo{db: db}
}

const upsertSubscription = `
INSERT INTO subscriptions (address, user_id, fid, channel_url, channel_token, filter, created_at, updated_at)
VALUES (:address, :user_id, :fid, :channel_url, :channel_token, :filter, :created_at, :updated_at)
ON CONFLICT (address, user_id) DO UPDATE SET
    fid = EXCLUDED.fid,
    channel_url = EXCLUDED.channel_url,
    channel_token = EXCLUDED.channel_token,
    filter = EXCLUDED.filter,
    updated_at = EXCLUDED.updated_at`

// Upsert creates or replaces a subscription. created_at is preserved on conflict.
func (r *SubscriptionRepo) Upsert(ctx context.Context, sub *domain.Subscription) error {
	filter, err := json.Marshal(sub.Filter)
	if err != nil {
		return fmt.Errorf("encode filter: %w", err)
	}
	now := time.Now().UTC()
	created := sub.CreatedAt
	if created.IsZero() {
		created = now
	}
	updated := sub.UpdatedAt
	if updated.IsZero() {
		updated = now
	}

	_, err = r.db.NamedExecContext(ctx, upsertSubscription, subscriptionRow{
		Address:      sub.Address,
		UserID:       sub.UserID,
		FID:          sub.FID,
		ChannelURL:   sub.Channel.URL,
		ChannelToken: sub.Channel.Token,
		Filter:       filter,
		CreatedAt:    created,
		UpdatedAt:    updated,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

// Delete removes the subscription for (address, userID).
func (r *SubscriptionRepo) Delete(ctx context.Context, address, userID string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE address = $1 AND user_id = $2`, address, userID)
	if err != nil {
		return false, fmt.Errorf("failed to delete subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

const selectSubscriptions = `
SELECT address, user_id, fid, channel_url, channel_token, filter, created_at, updated_at
FROM subscriptions`

// ListByAddress returns every subscription watching address.
func (r *SubscriptionRepo) ListByAddress(ctx context.Context, address string) ([]domain.Subscription, error) {
	return r.query(ctx, selectSubscriptions+` WHERE address = $1 ORDER BY user_id`, address)
}

// ListByFID returns every subscription owned by fid.
func (r *SubscriptionRepo) ListByFID(ctx context.Context, fid int64) ([]domain.Subscription, error) {
	return r.query(ctx, selectSubscriptions+` WHERE fid = $1 ORDER BY address, user_id`, fid)
}

// List returns all subscriptions.
func (r *SubscriptionRepo) List(ctx context.Context) ([]domain.Subscription, error) {
	return r.query(ctx, selectSubscriptions+` ORDER BY address, user_id`)
}

// ListAddresses returns the distinct watched addresses.
func (r *SubscriptionRepo) ListAddresses(ctx context.Context) ([]string, error) {
	var addrs []string
	if err := r.db.SelectContext(ctx, &addrs,
		`SELECT DISTINCT address FROM subscriptions ORDER BY address`); err != nil {
		return nil, fmt.Errorf("failed to list addresses: %w", err)
	}
	return addrs, nil
}

func (r *SubscriptionRepo) query(ctx context.Context, q string, args ...any) ([]domain.Subscription, error) {
	var rows []subscriptionRow
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	subs := make([]domain.Subscription, 0, len(rows))
	for _, row := range rows {
		sub, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}
