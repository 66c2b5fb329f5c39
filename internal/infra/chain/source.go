// Package chain defines the data-source boundary between the scheduler and
// Base upstreams (JSON-RPC, block explorer REST, WebSocket heads).
package chain

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sort"

	"github.com/vietddude/dropwatch/internal/core/domain"
)

// Source abstracts a chain data backend.
type Source interface {
	// Name identifies the source in logs, metrics and backoff keys
	Name() string

	// LatestBlock returns the current chain head
	LatestBlock(ctx context.Context) (uint64, error)

	// ActivitySince returns transactions touching address in [from, to],
	// oldest first. from > to returns an empty slice.
	ActivitySince(ctx context.Context, address string, from, to uint64) ([]domain.RawTransaction, error)

	// TransactionByHash returns domain.ErrNotFound for unknown hashes
	TransactionByHash(ctx context.Context, hash string) (*domain.RawTransaction, error)
}

// AccountReader is implemented by sources that can read account state.
type AccountReader interface {
	Balance(ctx context.Context, address string) (*big.Int, error)
	TransactionCount(ctx context.Context, address string) (uint64, error)
}

// RecentReader is implemented by sources that can list an address's most
// recent transactions without a block range.
type RecentReader interface {
	RecentTransactions(ctx context.Context, address string, limit int) ([]domain.RawTransaction, error)
}

// Coverage is implemented by sources that see every transaction sent from
// or to an address, native transfers included.
type Coverage interface {
	FullCoverage() bool
}

// HasFullCoverage reports whether s declares full coverage.
func HasFullCoverage(s Source) bool {
	c, ok := s.(Coverage)
	return ok && c.FullCoverage()
}

// Fallback uses Secondary when Primary returns nothing. When Primary fails,
// Secondary only answers if it has full coverage; otherwise the primary's
// error stands so the caller retries the same range.
type Fallback struct {
	Primary   Source
	Secondary Source
}

// NewFallback composes two sources. A nil secondary makes it a passthrough.
func NewFallback(primary, secondary Source) *Fallback {
	return &Fallback{Primary: primary, Secondary: secondary}
}

func (f *Fallback) Name() string {
	if f.Secondary == nil {
		return f.Primary.Name()
	}
	return f.Primary.Name() + "+" + f.Secondary.Name()
}

// LatestBlock asks the primary first.
func (f *Fallback) LatestBlock(ctx context.Context) (uint64, error) {
	head, err := f.Primary.LatestBlock(ctx)
	if err == nil || f.Secondary == nil {
		return head, err
	}
	slog.Debug("primary head lookup failed, using secondary",
		"source", f.Primary.Name(), "error", err)
	return f.Secondary.LatestBlock(ctx)
}

// ActivitySince degrades to the secondary on an empty result, or on error
// when the secondary has full coverage.
func (f *Fallback) ActivitySince(ctx context.Context, address string, from, to uint64) ([]domain.RawTransaction, error) {
	if from > to {
		return []domain.RawTransaction{}, nil
	}
	txs, err := f.Primary.ActivitySince(ctx, address, from, to)
	if f.Secondary == nil || (err == nil && len(txs) > 0) {
		return txs, err
	}
	if err != nil {
		if !HasFullCoverage(f.Secondary) {
			return nil, err
		}
		slog.Warn("primary activity lookup failed, using secondary",
			"source", f.Primary.Name(), "address", address, "error", err)
	}

	fallback, ferr := f.Secondary.ActivitySince(ctx, address, from, to)
	if ferr != nil {
		if err != nil {
			return nil, errors.Join(err, ferr)
		}
		// Primary answered with nothing; keep its answer
		slog.Warn("secondary activity lookup failed",
			"source", f.Secondary.Name(), "address", address, "error", ferr)
		return txs, nil
	}
	return fallback, nil
}

// TransactionByHash asks the primary first.
func (f *Fallback) TransactionByHash(ctx context.Context, hash string) (*domain.RawTransaction, error) {
	tx, err := f.Primary.TransactionByHash(ctx, hash)
	if err == nil || f.Secondary == nil {
		return tx, err
	}
	return f.Secondary.TransactionByHash(ctx, hash)
}

// Balance delegates to the first source that can read accounts.
func (f *Fallback) Balance(ctx context.Context, address string) (*big.Int, error) {
	r, ok := f.accountReader()
	if !ok {
		return nil, domain.ErrUpstreamUnavailable
	}
	return r.Balance(ctx, address)
}

// TransactionCount delegates to the first source that can read accounts.
func (f *Fallback) TransactionCount(ctx context.Context, address string) (uint64, error) {
	r, ok := f.accountReader()
	if !ok {
		return 0, domain.ErrUpstreamUnavailable
	}
	return r.TransactionCount(ctx, address)
}

// RecentTransactions delegates to the first source that can list recent
// activity. It returns domain.ErrNotFound when neither can.
func (f *Fallback) RecentTransactions(ctx context.Context, address string, limit int) ([]domain.RawTransaction, error) {
	for _, s := range []Source{f.Primary, f.Secondary} {
		if r, ok := s.(RecentReader); ok && s != nil {
			txs, err := r.RecentTransactions(ctx, address, limit)
			if err == nil && len(txs) > 0 {
				return txs, nil
			}
			if err != nil {
				slog.Warn("recent activity lookup failed", "source", s.Name(), "address", address, "error", err)
			}
		}
	}
	return nil, domain.ErrNotFound
}

func (f *Fallback) accountReader() (AccountReader, bool) {
	for _, s := range []Source{f.Primary, f.Secondary} {
		if r, ok := s.(AccountReader); ok && s != nil {
			return r, true
		}
	}
	return nil, false
}

// SortAscending orders transactions by block, then hash, so processing is
// monotonic within a poll.
func SortAscending(txs []domain.RawTransaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		if txs[i].BlockNumber != txs[j].BlockNumber {
			return txs[i].BlockNumber < txs[j].BlockNumber
		}
		return txs[i].Hash < txs[j].Hash
	})
}

// SortDescending orders transactions newest first.
func SortDescending(txs []domain.RawTransaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		if txs[i].BlockNumber != txs[j].BlockNumber {
			return txs[i].BlockNumber > txs[j].BlockNumber
		}
		return txs[i].Hash > txs[j].Hash
	})
}

// Ranges splits [from, to] into consecutive windows of at most size blocks.
func Ranges(from, to, size uint64) [][2]uint64 {
	if from > to {
		return nil
	}
	if size == 0 {
		size = 1
	}
	var out [][2]uint64
	for start := from; start <= to; {
		end := start + size - 1
		if end > to || end < start {
			end = to
		}
		out = append(out, [2]uint64{start, end})
		if end == to {
			break
		}
		start = end + 1
	}
	return out
}
