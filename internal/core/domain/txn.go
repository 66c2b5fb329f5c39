package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionKind is the coarse category assigned by the classifier.
type TransactionKind string

const (
	KindTransfer            TransactionKind = "transfer"
	KindMint                TransactionKind = "mint"
	KindSwap                TransactionKind = "swap"
	KindContractInteraction TransactionKind = "contract_interaction"
	KindBurn                TransactionKind = "burn"
)

func (k TransactionKind) String() string { return string(k) }

// ParseTransactionKind accepts the wire form of a kind.
func ParseTransactionKind(s string) (TransactionKind, error) {
	switch k := TransactionKind(s); k {
	case KindTransfer, KindMint, KindSwap, KindContractInteraction, KindBurn:
		return k, nil
	}
	return "", fmt.Errorf("unknown transaction kind %q", s)
}

// Log is a receipt event log.
type Log struct {
	Address string   `json:"address"`
	Topics  []string `json:"topics"`
	Data    string   `json:"data"`
}

// Receipt holds the parts of a transaction receipt the classifier needs.
type Receipt struct {
	Status  uint64 `json:"status"`
	GasUsed uint64 `json:"gasUsed"`
	Logs    []Log  `json:"logs"`
}

// TokenTransfer is a token movement already decoded by the data source.
type TokenTransfer struct {
	Contract string `json:"contract"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals int32  `json:"decimals"`
	From     string `json:"from"`
	To       string `json:"to"`
	Value    string `json:"value"` // base units
}

// RawTransaction is a chain-native transaction as returned by a data source.
type RawTransaction struct {
	Hash        string         `json:"hash"`
	From        string         `json:"from"`
	To          string         `json:"to"`
	Value       string         `json:"value"` // wei, decimal string
	BlockNumber uint64         `json:"blockNumber"`
	Timestamp   time.Time      `json:"timestamp"`
	GasUsed     uint64         `json:"gasUsed"`
	GasPrice    string         `json:"gasPrice"`
	Input       string         `json:"input"`
	IsError     bool           `json:"isError"`
	Receipt     *Receipt       `json:"receipt,omitempty"`
	Token       *TokenTransfer `json:"token,omitempty"`
	Source      string         `json:"source"`
}

// ClassifiedTransaction is a RawTransaction with its kind and value estimate.
type ClassifiedTransaction struct {
	RawTransaction
	Kind         TransactionKind `json:"kind"`
	Wallet       string          `json:"wallet"`
	TokenSymbol  string          `json:"tokenSymbol"`
	TokenAddress string          `json:"tokenAddress,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	NativeAmount decimal.Decimal `json:"nativeAmount"`
	IsNFT        bool            `json:"isNft"`
	USDValue     decimal.Decimal `json:"usdValue"`
	PriceKnown   bool            `json:"priceKnown"`
	ClassifiedAt time.Time       `json:"classifiedAt"`
}

// IsTokenDenominated reports whether the amount refers to a token rather than ETH.
func (c *ClassifiedTransaction) IsTokenDenominated() bool {
	return c.TokenAddress != ""
}
