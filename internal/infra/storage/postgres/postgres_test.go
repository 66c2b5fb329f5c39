package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/dropwatch/internal/core/domain"
)

// openTestDB connects to DROPWATCH_TEST_DATABASE_URL and migrates it.
func openTestDB(t *testing.T) *DB {
	t.Helper()
	url := os.Getenv("DROPWATCH_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("DROPWATCH_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := NewDB(ctx, Config{URL: url})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(ctx))
	return db
}

func randomAddress() string {
	id := uuid.New()
	return domain.NormalizeAddress("0x" + id.String()[:8] + "00000000000000000000000000000000")
}

func TestSubscriptionRepo(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewSubscriptionRepo(db)
	addr := randomAddress()

	sub := &domain.Subscription{
		Address: addr,
		UserID:  "alice",
		FID:     4242,
		Channel: domain.Channel{FID: 4242, URL: "https://push.example/notify", Token: "tok"},
		Filter:  domain.DefaultFilterConfig(),
	}
	require.NoError(t, repo.Upsert(ctx, sub))

	sub.Filter.MinValue = "0.5"
	sub.CreatedAt = time.Time{}
	require.NoError(t, repo.Upsert(ctx, sub))

	subs, err := repo.ListByAddress(ctx, addr)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "0.5", subs[0].Filter.MinValue)
	assert.Equal(t, "tok", subs[0].Channel.Token)

	byFID, err := repo.ListByFID(ctx, 4242)
	require.NoError(t, err)
	assert.NotEmpty(t, byFID)

	removed, err := repo.Delete(ctx, addr, "alice")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = repo.Delete(ctx, addr, "alice")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestChannelRepo(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewChannelRepo(db)
	fid := int64(uuid.New().ID())

	_, err := repo.Get(ctx, fid)
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	require.NoError(t, repo.Save(ctx, domain.Channel{FID: fid, URL: "https://push.example", Token: "a"}))
	require.NoError(t, repo.Save(ctx, domain.Channel{FID: fid, URL: "https://push.example", Token: "b"}))

	ch, err := repo.Get(ctx, fid)
	require.NoError(t, err)
	assert.Equal(t, "b", ch.Token)

	require.NoError(t, repo.Delete(ctx, fid))
	_, err = repo.Get(ctx, fid)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestCursorRepo(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewCursorRepo(db)
	a, b := randomAddress(), randomAddress()

	require.NoError(t, repo.Save(ctx, &domain.AddressCursor{Address: a, Block: 100}))
	require.NoError(t, repo.Save(ctx, &domain.AddressCursor{Address: a, Block: 150}))

	c, err := repo.Get(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, uint64(150), c.Block)

	many, err := repo.GetMany(ctx, []string{a, b})
	require.NoError(t, err)
	require.Len(t, many, 1)
	assert.Equal(t, a, many[0].Address)

	require.NoError(t, repo.Delete(ctx, a))
	_, err = repo.Get(ctx, a)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}
