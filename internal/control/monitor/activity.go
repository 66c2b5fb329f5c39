package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/vietddude/dropwatch/internal/core/domain"
	"github.com/vietddude/dropwatch/internal/indexing/classify"
	"github.com/vietddude/dropwatch/internal/indexing/registry"
	"github.com/vietddude/dropwatch/internal/infra/chain"
)

// Snapshot is the aggregated activity view served to the UI.
type Snapshot struct {
	Transactions            []domain.ClassifiedTransaction `json:"transactions"`
	SignificantTransactions []domain.ClassifiedTransaction `json:"significantTransactions"`
	MonitoredWallets        int                            `json:"monitoredWallets"`
	Delivered               int                            `json:"notificationsDelivered"`
	Failed                  int                            `json:"notificationsFailed"`
	LastUpdate              time.Time                      `json:"lastUpdate"`
}

// ObserveTransaction records a transaction seen by the scheduler.
func (s *Service) ObserveTransaction(ct domain.ClassifiedTransaction, significant bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recent = pushBounded(s.recent, ct, s.cfg.RecentSize)
	if significant {
		s.significant = pushBounded(s.significant, ct, s.cfg.RecentSize)
	}
	s.detected[ct.Wallet]++
	s.lastUpdate = s.now()
}

// ObserveDispatch records the outcome of a scheduler dispatch.
func (s *Service) ObserveDispatch(ev domain.NotificationEvent, res domain.DispatchResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if res.Delivered {
		s.delivered++
	} else {
		s.failed++
	}
	s.lastUpdate = s.now()
}

// Snapshot returns the most recent observed activity, newest first.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		Transactions:            newestFirst(s.recent),
		SignificantTransactions: newestFirst(s.significant),
		MonitoredWallets:        len(s.deps.Registry.Watched()),
		Delivered:               s.delivered,
		Failed:                  s.failed,
		LastUpdate:              s.lastUpdate,
	}
}

func (s *Service) takeDetected() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.detected
	s.detected = make(map[string]int)
	return out
}

func pushBounded(buf []domain.ClassifiedTransaction, ct domain.ClassifiedTransaction, limit int) []domain.ClassifiedTransaction {
	buf = append(buf, ct)
	if len(buf) > limit {
		buf = append(buf[:0], buf[len(buf)-limit:]...)
	}
	return buf
}

func newestFirst(buf []domain.ClassifiedTransaction) []domain.ClassifiedTransaction {
	out := make([]domain.ClassifiedTransaction, len(buf))
	for i, ct := range buf {
		out[len(buf)-1-i] = ct
	}
	return out
}

// CheckResult is the output of CheckNewTransactions.
type CheckResult struct {
	NewTransactions []domain.ClassifiedTransaction `json:"newTransactions"`
	TotalNew        int                            `json:"totalNew"`
	WalletsChecked  int                            `json:"walletsChecked"`
}

// CheckNewTransactions returns transactions of wallets strictly newer than
// since within the activity lookback window, newest first, truncated to
// limit. Upstream failures degrade to fewer results.
func (s *Service) CheckNewTransactions(ctx context.Context, wallets []string, since time.Time, limit int) CheckResult {
	res := CheckResult{NewTransactions: []domain.ClassifiedTransaction{}, WalletsChecked: len(wallets)}

	head, err := s.latestBlock(ctx)
	if err != nil {
		s.log.Warn("Head lookup failed, returning no transactions", "error", err)
		return res
	}
	from := registry.StartBlock(head, s.cfg.ActivityLookbackBlocks)

	var found []domain.ClassifiedTransaction
	for _, wallet := range wallets {
		if !domain.IsValidAddress(wallet) {
			s.log.Warn("Skipping invalid wallet", "address", wallet)
			continue
		}
		addr := domain.NormalizeAddress(wallet)
		txs, err := s.activity(ctx, addr, from, head)
		if err != nil {
			s.log.Warn("Activity lookup failed", "address", addr, "error", err)
			continue
		}
		for _, tx := range txs {
			if tx.Timestamp.After(since) {
				found = append(found, s.deps.Classifier.Enrich(tx, addr))
			}
		}
	}

	sortNewest(found)
	res.TotalNew = len(found)
	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}
	if found != nil {
		res.NewTransactions = found
	}
	return res
}

// WalletActivity returns the most recent transactions of address, newest
// first. Sources that can list history directly are preferred; otherwise
// the activity lookback window is scanned. Upstream failures degrade to an
// empty list.
func (s *Service) WalletActivity(ctx context.Context, address string, limit int) ([]domain.ClassifiedTransaction, error) {
	if !domain.IsValidAddress(address) {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidAddress, address)
	}
	addr := domain.NormalizeAddress(address)

	txs, err := s.recentTransactions(ctx, addr, limit)
	if err != nil {
		s.log.Warn("Wallet activity lookup failed", "address", addr, "error", err)
		return []domain.ClassifiedTransaction{}, nil
	}

	chain.SortDescending(txs)
	if limit > 0 && len(txs) > limit {
		txs = txs[:limit]
	}
	out := make([]domain.ClassifiedTransaction, 0, len(txs))
	for _, tx := range txs {
		out = append(out, s.deps.Classifier.Enrich(tx, addr))
	}
	return out, nil
}

func (s *Service) recentTransactions(ctx context.Context, addr string, limit int) ([]domain.RawTransaction, error) {
	if r, ok := s.deps.Source.(chain.RecentReader); ok {
		txs, err := r.RecentTransactions(ctx, addr, limit)
		if err == nil {
			return txs, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			s.log.Debug("Recent transactions unavailable, scanning range", "address", addr, "error", err)
		}
	}

	head, err := s.latestBlock(ctx)
	if err != nil {
		return nil, err
	}
	return s.activity(ctx, addr, registry.StartBlock(head, s.cfg.ActivityLookbackBlocks), head)
}

// Validation is the output of ValidateWallet.
type Validation struct {
	IsValid          bool    `json:"isValid"`
	Address          string  `json:"address,omitempty"`
	Balance          string  `json:"balance,omitempty"` // ETH
	BalanceWei       string  `json:"balanceWei,omitempty"`
	TransactionCount *uint64 `json:"transactionCount,omitempty"`
	Network          string  `json:"network"`
	Error            string  `json:"error,omitempty"`
}

// ValidateWallet checks the address format without a network call, then
// reads balance and nonce when the source supports it. Read failures still
// report a well-formed address as valid.
func (s *Service) ValidateWallet(ctx context.Context, address string) Validation {
	address = strings.TrimSpace(address)
	if !domain.IsValidAddress(address) {
		return Validation{IsValid: false, Network: "Base", Error: "Invalid address format"}
	}
	v := Validation{IsValid: true, Address: domain.ChecksumAddress(address), Network: "Base"}

	reader, ok := s.deps.Source.(chain.AccountReader)
	if !ok {
		return v
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	if bal, err := reader.Balance(ctx, address); err == nil {
		v.BalanceWei = bal.String()
		v.Balance = classify.WeiToEther(bal.String()).String()
	} else {
		s.log.Warn("Balance lookup failed", "address", address, "error", err)
	}
	if n, err := reader.TransactionCount(ctx, address); err == nil {
		v.TransactionCount = &n
	} else {
		s.log.Warn("Transaction count lookup failed", "address", address, "error", err)
	}
	return v
}

func (s *Service) latestBlock(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	return s.deps.Head.LatestBlock(ctx)
}

func (s *Service) activity(ctx context.Context, addr string, from, to uint64) ([]domain.RawTransaction, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	return s.deps.Source.ActivitySince(ctx, addr, from, to)
}

func sortNewest(txs []domain.ClassifiedTransaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		if !txs[i].Timestamp.Equal(txs[j].Timestamp) {
			return txs[i].Timestamp.After(txs[j].Timestamp)
		}
		return txs[i].BlockNumber > txs[j].BlockNumber
	})
}
