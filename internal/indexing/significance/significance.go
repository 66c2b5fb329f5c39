// Package significance decides whether a classified transaction is worth
// a notification.
package significance

import (
	"github.com/shopspring/decimal"

	"github.com/vietddude/dropwatch/internal/core/domain"
)

// DefaultThresholdUSD is the system-wide USD floor.
const DefaultThresholdUSD = 100

// Reason names the clause that made a transaction notify-worthy.
type Reason string

const (
	ReasonNone     Reason = ""
	ReasonMint     Reason = "mint"
	ReasonTransfer Reason = "transfer"
	ReasonDeFi     Reason = "defi"
	ReasonUSDFloor Reason = "usd_floor"
)

// Filter evaluates the per-wallet clauses together with the USD floor.
type Filter struct {
	thresholdUSD decimal.Decimal
}

// NewFilter creates a filter with a USD floor. A non-positive threshold
// uses DefaultThresholdUSD.
func NewFilter(thresholdUSD float64) *Filter {
	if thresholdUSD <= 0 {
		thresholdUSD = DefaultThresholdUSD
	}
	return &Filter{thresholdUSD: decimal.NewFromFloat(thresholdUSD)}
}

// IsNotifyWorthy reports whether ct should be notified under cfg.
func (f *Filter) IsNotifyWorthy(ct domain.ClassifiedTransaction, cfg domain.FilterConfig) bool {
	return f.Evaluate(ct, cfg) != ReasonNone
}

// Evaluate returns the first clause that holds, or ReasonNone. Any single
// clause is sufficient.
func (f *Filter) Evaluate(ct domain.ClassifiedTransaction, cfg domain.FilterConfig) Reason {
	switch ct.Kind {
	case domain.KindMint:
		if cfg.NotifyOnMint && (!ct.IsNFT || cfg.TrackNFTs) {
			return ReasonMint
		}
	case domain.KindTransfer:
		if cfg.NotifyOnTransfer &&
			(!ct.IsTokenDenominated() || cfg.TrackTokens) &&
			ct.Amount.GreaterThan(cfg.MinValueDecimal()) {
			return ReasonTransfer
		}
	case domain.KindSwap, domain.KindContractInteraction:
		if cfg.TrackDeFi {
			return ReasonDeFi
		}
	}

	// Unknown prices contribute zero.
	if ct.PriceKnown && ct.USDValue.GreaterThan(f.thresholdUSD) {
		return ReasonUSDFloor
	}
	return ReasonNone
}
