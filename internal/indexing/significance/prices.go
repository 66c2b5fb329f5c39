package significance

import (
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// DefaultPrices is the static USD price table.
var DefaultPrices = map[string]float64{
	"ETH":    2500,
	"WETH":   2500,
	"CBETH":  2500,
	"USDC":   1,
	"USDT":   1,
	"DAI":    1,
	"DEGEN":  0.001,
	"HIGHER": 0.01,
}

// PriceTable is an approximate per-symbol USD price list. Lookups are
// case-insensitive.
type PriceTable struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

// NewPriceTable creates a table seeded with prices.
func NewPriceTable(prices map[string]float64) *PriceTable {
	t := &PriceTable{prices: make(map[string]decimal.Decimal, len(prices))}
	for symbol, p := range prices {
		t.prices[strings.ToUpper(symbol)] = decimal.NewFromFloat(p)
	}
	return t
}

// PriceUSD returns the price of one whole unit of symbol.
func (t *PriceTable) PriceUSD(symbol string) (decimal.Decimal, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.prices[strings.ToUpper(symbol)]
	return p, ok
}

// Set overrides the price of symbol.
func (t *PriceTable) Set(symbol string, price decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prices[strings.ToUpper(symbol)] = price
}
