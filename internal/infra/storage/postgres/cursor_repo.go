package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/vietddude/dropwatch/internal/core/domain"
	"github.com/vietddude/dropwatch/internal/infra/storage"
)

var _ storage.CursorStore = (*CursorRepo)(nil)

// CursorRepo implements storage.CursorStore using PostgreSQL.
type CursorRepo struct {
	db *DB
}

// NewCursorRepo creates a new PostgreSQL cursor repository.
func NewCursorRepo(db *DB) *CursorRepo {
	return &CursorRepo{db: db}
}

const selectCursors = `SELECT address, block_number, updated_at FROM address_cursors`

// Get returns domain.ErrNotFound if the address has no cursor.
func (r *CursorRepo) Get(ctx context.Context, address string) (*domain.AddressCursor, error) {
	var c domain.AddressCursor
	err := r.db.GetContext(ctx, &c, selectCursors+` WHERE address = $1`, address)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cursor: %w", err)
	}
	return &c, nil
}

// Save upserts a cursor.
func (r *CursorRepo) Save(ctx context.Context, c *domain.AddressCursor) error {
	updated := c.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO address_cursors (address, block_number, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (address) DO UPDATE SET block_number = EXCLUDED.block_number, updated_at = EXCLUDED.updated_at`,
		c.Address, int64(c.Block), updated)
	if err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}

// Delete removes the cursor for address.
func (r *CursorRepo) Delete(ctx context.Context, address string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM address_cursors WHERE address = $1`, address); err != nil {
		return fmt.Errorf("failed to delete cursor: %w", err)
	}
	return nil
}

// List returns all cursors ordered by address.
func (r *CursorRepo) List(ctx context.Context) ([]domain.AddressCursor, error) {
	var cs []domain.AddressCursor
	if err := r.db.SelectContext(ctx, &cs, selectCursors+` ORDER BY address`); err != nil {
		return nil, fmt.Errorf("failed to list cursors: %w", err)
	}
	return cs, nil
}

// GetMany returns the cursors of the given addresses. Missing ones are omitted.
func (r *CursorRepo) GetMany(ctx context.Context, addresses []string) ([]domain.AddressCursor, error) {
	var cs []domain.AddressCursor
	err := r.db.SelectContext(ctx, &cs,
		selectCursors+` WHERE address = ANY($1) ORDER BY address`, pq.Array(addresses))
	if err != nil {
		return nil, fmt.Errorf("failed to get cursors: %w", err)
	}
	return cs, nil
}
