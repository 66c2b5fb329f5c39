package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/dropwatch/internal/core/domain"
	"github.com/vietddude/dropwatch/internal/infra/storage"
)

var _ storage.ChannelStore = (*ChannelRepo)(nil)

// ChannelRepo implements storage.ChannelStore using PostgreSQL.
type ChannelRepo struct {
	db *DB
}

// NewChannelRepo creates a new PostgreSQL channel repository.
func NewChannelRepo(db *DB) *ChannelRepo {
	return &ChannelRepo{db: db}
}

// Save registers or replaces the channel for ch.FID.
func (r *ChannelRepo) Save(ctx context.Context, ch domain.Channel) error {
	if ch.UpdatedAt.IsZero() {
		ch.UpdatedAt = time.Now().UTC()
	}
	_, err := r.db.NamedExecContext(ctx, `
INSERT INTO channels (fid, url, token, updated_at)
VALUES (:fid, :url, :token, :updated_at)
ON CONFLICT (fid) DO UPDATE SET url = EXCLUDED.url, token = EXCLUDED.token, updated_at = EXCLUDED.updated_at`, ch)
	if err != nil {
		return fmt.Errorf("failed to save channel: %w", err)
	}
	return nil
}

// Get returns domain.ErrNotFound if fid has no channel.
func (r *ChannelRepo) Get(ctx context.Context, fid int64) (domain.Channel, error) {
	var ch domain.Channel
	err := r.db.GetContext(ctx, &ch, `SELECT fid, url, token, updated_at FROM channels WHERE fid = $1`, fid)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Channel{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Channel{}, fmt.Errorf("failed to get channel: %w", err)
	}
	return ch, nil
}

// Delete removes the channel for fid.
func (r *ChannelRepo) Delete(ctx context.Context, fid int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM channels WHERE fid = $1`, fid); err != nil {
		return fmt.Errorf("failed to delete channel: %w", err)
	}
	return nil
}

// List returns all registered channels.
func (r *ChannelRepo) List(ctx context.Context) ([]domain.Channel, error) {
	var chs []domain.Channel
	if err := r.db.SelectContext(ctx, &chs,
		`SELECT fid, url, token, updated_at FROM channels ORDER BY fid`); err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	return chs, nil
}
