package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/dropwatch/internal/core/domain"
)

type fakeSource struct {
	name  string
	head  uint64
	txs   []domain.RawTransaction
	err   error
	calls int
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) LatestBlock(ctx context.Context) (uint64, error) {
	f.calls++
	return f.head, f.err
}

func (f *fakeSource) ActivitySince(ctx context.Context, address string, from, to uint64) ([]domain.RawTransaction, error) {
	f.calls++
	return f.txs, f.err
}

func (f *fakeSource) TransactionByHash(ctx context.Context, hash string) (*domain.RawTransaction, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, tx := range f.txs {
		if tx.Hash == hash {
			return &tx, nil
		}
	}
	return nil, domain.ErrNotFound
}

type completeSource struct{ fakeSource }

func (c *completeSource) FullCoverage() bool { return true }

type accountSource struct{ fakeSource }

func (a *accountSource) Balance(ctx context.Context, address string) (*big.Int, error) {
	return big.NewInt(7), nil
}

func (a *accountSource) TransactionCount(ctx context.Context, address string) (uint64, error) {
	return 3, nil
}

func TestFallback_ActivitySince(t *testing.T) {
	tx := domain.RawTransaction{Hash: "0x1", BlockNumber: 10}

	t.Run("primary has data", func(t *testing.T) {
		primary := &fakeSource{name: "explorer", txs: []domain.RawTransaction{tx}}
		secondary := &fakeSource{name: "rpc"}
		f := NewFallback(primary, secondary)

		got, err := f.ActivitySince(context.Background(), "0xa", 1, 20)
		require.NoError(t, err)
		assert.Len(t, got, 1)
		assert.Zero(t, secondary.calls)
	})

	t.Run("primary empty", func(t *testing.T) {
		primary := &fakeSource{name: "explorer"}
		secondary := &fakeSource{name: "rpc", txs: []domain.RawTransaction{tx}}
		f := NewFallback(primary, secondary)

		got, err := f.ActivitySince(context.Background(), "0xa", 1, 20)
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})

	t.Run("primary fails", func(t *testing.T) {
		primary := &fakeSource{name: "explorer", err: domain.ErrRateLimited}
		secondary := &completeSource{fakeSource{name: "rpc", txs: []domain.RawTransaction{tx}}}
		f := NewFallback(primary, secondary)

		got, err := f.ActivitySince(context.Background(), "0xa", 1, 20)
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})

	t.Run("primary fails with partial secondary", func(t *testing.T) {
		primary := &fakeSource{name: "explorer", err: domain.ErrUpstreamUnavailable}
		secondary := &fakeSource{name: "rpc"}
		f := NewFallback(primary, secondary)

		got, err := f.ActivitySince(context.Background(), "0xa", 1, 20)
		assert.True(t, errors.Is(err, domain.ErrUpstreamUnavailable))
		assert.Nil(t, got)
		assert.Zero(t, secondary.calls)
	})

	t.Run("both fail", func(t *testing.T) {
		primary := &fakeSource{name: "explorer", err: domain.ErrRateLimited}
		secondary := &completeSource{fakeSource{name: "rpc", err: domain.ErrUpstreamUnavailable}}
		f := NewFallback(primary, secondary)

		_, err := f.ActivitySince(context.Background(), "0xa", 1, 20)
		assert.True(t, errors.Is(err, domain.ErrRateLimited))
		assert.True(t, errors.Is(err, domain.ErrUpstreamUnavailable))
	})

	t.Run("inverted range", func(t *testing.T) {
		primary := &fakeSource{name: "explorer"}
		f := NewFallback(primary, nil)

		got, err := f.ActivitySince(context.Background(), "0xa", 30, 20)
		require.NoError(t, err)
		assert.Empty(t, got)
		assert.Zero(t, primary.calls)
	})
}

func TestFallback_AccountReader(t *testing.T) {
	f := NewFallback(&fakeSource{name: "explorer"}, &accountSource{fakeSource{name: "rpc"}})

	bal, err := f.Balance(context.Background(), "0xa")
	require.NoError(t, err)
	assert.Equal(t, int64(7), bal.Int64())

	n, err := f.TransactionCount(context.Background(), "0xa")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)

	_, err = NewFallback(&fakeSource{name: "explorer"}, nil).Balance(context.Background(), "0xa")
	assert.Error(t, err)
}

func TestRanges(t *testing.T) {
	assert.Nil(t, Ranges(10, 5, 100))
	assert.Equal(t, [][2]uint64{{5, 5}}, Ranges(5, 5, 100))
	assert.Equal(t, [][2]uint64{{1, 100}, {101, 200}, {201, 250}}, Ranges(1, 250, 100))
}

func TestSortAscending(t *testing.T) {
	txs := []domain.RawTransaction{
		{Hash: "0xc", BlockNumber: 3},
		{Hash: "0xb", BlockNumber: 1},
		{Hash: "0xa", BlockNumber: 1},
	}
	SortAscending(txs)
	assert.Equal(t, "0xa", txs[0].Hash)
	assert.Equal(t, "0xb", txs[1].Hash)
	assert.Equal(t, "0xc", txs[2].Hash)

	SortDescending(txs)
	assert.Equal(t, "0xc", txs[0].Hash)
}

func TestHeadCache(t *testing.T) {
	src := &fakeSource{name: "rpc", head: 100}
	cache := NewHeadCache(src, time.Minute)
	now := time.Now()
	cache.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		head, err := cache.LatestBlock(context.Background())
		require.NoError(t, err)
		assert.Equal(t, uint64(100), head)
	}
	assert.Equal(t, 1, src.calls)

	cache.Observe(105)
	head, _ := cache.LatestBlock(context.Background())
	assert.Equal(t, uint64(105), head)

	cache.Observe(90)
	head, _ = cache.LatestBlock(context.Background())
	assert.Equal(t, uint64(105), head, "head never moves backwards")

	now = now.Add(2 * time.Minute)
	src.head = 110
	head, _ = cache.LatestBlock(context.Background())
	assert.Equal(t, uint64(110), head)
	assert.Equal(t, 2, src.calls)
}
