package classify

import (
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/vietddude/dropwatch/internal/core/domain"
)

// NativeSymbol is the symbol used for native ETH amounts.
const NativeSymbol = "ETH"

const nativeDecimals = 18

// Pricer returns an approximate USD price per whole unit of a token.
type Pricer interface {
	PriceUSD(symbol string) (decimal.Decimal, bool)
}

// Classifier classifies and enriches transactions for one watched wallet.
type Classifier struct {
	prices Pricer
	now    func() time.Time
}

// New creates a classifier. prices may be nil, in which case every USD
// estimate is zero.
func New(prices Pricer) *Classifier {
	return &Classifier{prices: prices, now: time.Now}
}

// Enrich classifies tx and fills in amount, token and USD estimate as
// seen from wallet.
func (c *Classifier) Enrich(tx domain.RawTransaction, wallet string) domain.ClassifiedTransaction {
	wallet = domain.NormalizeAddress(wallet)
	ct := domain.ClassifiedTransaction{
		RawTransaction: tx,
		Kind:           Classify(tx),
		Wallet:         wallet,
		TokenSymbol:    NativeSymbol,
		NativeAmount:   WeiToEther(tx.Value),
		ClassifiedAt:   c.now(),
	}
	ct.Amount = ct.NativeAmount

	switch {
	case tx.Token != nil:
		applyTokenTransfer(&ct, *tx.Token)
	case tx.Receipt != nil:
		if l, ok := walletLog(tx.Receipt.Logs, wallet, ct.Kind == domain.KindMint); ok {
			applyLog(&ct, l)
		}
	}

	ct.USDValue, ct.PriceKnown = c.estimateUSD(ct)
	return ct
}

func (c *Classifier) estimateUSD(ct domain.ClassifiedTransaction) (decimal.Decimal, bool) {
	if c.prices == nil || ct.IsNFT {
		return decimal.Zero, false
	}
	price, ok := c.prices.PriceUSD(ct.TokenSymbol)
	if !ok {
		return decimal.Zero, false
	}
	return ct.Amount.Mul(price), true
}

func applyTokenTransfer(ct *domain.ClassifiedTransaction, t domain.TokenTransfer) {
	ct.TokenAddress = domain.NormalizeAddress(t.Contract)
	ct.TokenSymbol = t.Symbol
	decimals := t.Decimals
	if info, ok := LookupToken(t.Contract); ok {
		if ct.TokenSymbol == "" {
			ct.TokenSymbol = info.Symbol
		}
		if decimals == 0 {
			decimals = info.Decimals
		}
	}
	if ct.TokenSymbol == "" {
		ct.TokenSymbol = domain.ShortAddress(ct.TokenAddress)
	}
	ct.Amount = ScaleUnits(t.Value, decimals)
}

func applyLog(ct *domain.ClassifiedTransaction, l domain.Log) {
	ct.TokenAddress = domain.NormalizeAddress(l.Address)
	info, known := LookupToken(l.Address)
	ct.TokenSymbol = info.Symbol
	if !known {
		ct.TokenSymbol = domain.ShortAddress(ct.TokenAddress)
	}

	// ERC-721 indexes the token id, so the log has four topics.
	isERC721 := strings.EqualFold(l.Topics[0], domain.TransferTopic) && len(l.Topics) == 4
	isERC1155 := strings.EqualFold(l.Topics[0], TransferSingleTopic)
	switch {
	case isERC721:
		ct.IsNFT = true
		ct.Amount = decimal.NewFromInt(1)
	case isERC1155:
		ct.IsNFT = true
		// data = id, value
		data := common.FromHex(l.Data)
		if len(data) >= 64 {
			ct.Amount = decimal.NewFromBigInt(new(big.Int).SetBytes(data[32:64]), 0)
		} else {
			ct.Amount = decimal.NewFromInt(1)
		}
	default:
		decimals := int32(nativeDecimals)
		if known {
			decimals = info.Decimals
		}
		value := new(big.Int).SetBytes(common.FromHex(l.Data))
		ct.Amount = decimal.NewFromBigInt(value, -decimals)
	}
}

// walletLog picks the first token transfer log touching wallet. For mints
// a zero-sender transfer is preferred.
func walletLog(logs []domain.Log, wallet string, preferMint bool) (domain.Log, bool) {
	var first *domain.Log
	for i := range logs {
		l := logs[i]
		from, ok := transferFrom(l)
		if !ok {
			continue
		}
		to, _ := transferTo(l)
		if from != wallet && to != wallet {
			continue
		}
		if preferMint && domain.IsZeroAddress(from) {
			return l, true
		}
		if first == nil {
			first = &logs[i]
		}
	}
	if first == nil {
		return domain.Log{}, false
	}
	return *first, true
}

// WeiToEther converts a decimal wei string to ETH. Unparsable input is zero.
func WeiToEther(wei string) decimal.Decimal {
	return ScaleUnits(wei, nativeDecimals)
}

// ScaleUnits converts an integer base-unit string (decimal or 0x hex) to a
// whole-unit amount.
func ScaleUnits(value string, decimals int32) decimal.Decimal {
	value = strings.TrimSpace(value)
	if value == "" {
		return decimal.Zero
	}
	n, ok := new(big.Int), false
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		n, ok = n.SetString(value[2:], 16)
	} else {
		n, ok = n.SetString(value, 10)
	}
	if !ok {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n, -decimals)
}
