// Package explorer reads Base activity from an Etherscan V2 compatible API.
package explorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/vietddude/dropwatch/internal/core/domain"
	"github.com/vietddude/dropwatch/internal/infra/chain"
)

const (
	sourceName  = "explorer"
	pageSize    = 100
	noTxMessage = "no transactions found"
	maxEndBlock = 9_999_999_999
	// page*offset may not exceed this on account list endpoints
	maxResultWindow = 10_000
)

// Getter is the REST surface the source needs; *rpc.Client satisfies it.
type Getter interface {
	GetJSON(ctx context.Context, query url.Values, out any) error
}

// Source implements chain.Source over the explorer's account and proxy
// modules. Without an API key every lookup returns empty so a Fallback can
// take over.
type Source struct {
	client      Getter
	apiKey      string
	chainID     string
	maxRange    uint64
	callTimeout time.Duration
	log         *slog.Logger
}

var (
	_ chain.Source        = (*Source)(nil)
	_ chain.RecentReader  = (*Source)(nil)
	_ chain.AccountReader = (*Source)(nil)
)

// NewSource creates an explorer data source for chainID. maxRange caps the
// block window of each list query.
func NewSource(client Getter, apiKey string, chainID domain.ChainID, maxRange uint64, callTimeout time.Duration) *Source {
	if maxRange == 0 {
		maxRange = 100
	}
	if callTimeout <= 0 {
		callTimeout = 8 * time.Second
	}
	return &Source{
		client:      client,
		apiKey:      apiKey,
		chainID:     string(chainID),
		maxRange:    maxRange,
		callTimeout: callTimeout,
		log:         slog.Default().With("source", sourceName),
	}
}

func (s *Source) Name() string { return sourceName }

// Enabled reports whether an API key is configured.
func (s *Source) Enabled() bool { return s.apiKey != "" }

// envelope is the account-module response. result is a list on success and
// a string on error.
type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// proxyEnvelope is the proxy-module (JSON-RPC passthrough) response.
type proxyEnvelope struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	// Rate limit errors come back in the account-module shape
	Status  string `json:"status"`
	Message string `json:"message"`
}

type txItem struct {
	BlockNumber     string `json:"blockNumber"`
	TimeStamp       string `json:"timeStamp"`
	Hash            string `json:"hash"`
	From            string `json:"from"`
	To              string `json:"to"`
	Value           string `json:"value"`
	GasPrice        string `json:"gasPrice"`
	GasUsed         string `json:"gasUsed"`
	IsError         string `json:"isError"`
	TxReceiptStatus string `json:"txreceipt_status"`
	Input           string `json:"input"`
	ContractAddress string `json:"contractAddress"`
}

type tokenItem struct {
	BlockNumber     string `json:"blockNumber"`
	TimeStamp       string `json:"timeStamp"`
	Hash            string `json:"hash"`
	From            string `json:"from"`
	To              string `json:"to"`
	Value           string `json:"value"`
	ContractAddress string `json:"contractAddress"`
	TokenName       string `json:"tokenName"`
	TokenSymbol     string `json:"tokenSymbol"`
	TokenDecimal    string `json:"tokenDecimal"`
	GasPrice        string `json:"gasPrice"`
	GasUsed         string `json:"gasUsed"`
}

// LatestBlock uses the proxy module's eth_blockNumber.
func (s *Source) LatestBlock(ctx context.Context) (uint64, error) {
	if !s.Enabled() {
		return 0, fmt.Errorf("%w: explorer api key not configured", domain.ErrUpstreamUnavailable)
	}
	var head hexutil.Uint64
	if err := s.proxy(ctx, "eth_blockNumber", nil, &head); err != nil {
		return 0, err
	}
	return uint64(head), nil
}

// ActivitySince merges txlist and tokentx for [from, to], oldest first.
// Each window of at most maxRange blocks is read page by page until a short
// page comes back.
func (s *Source) ActivitySince(ctx context.Context, address string, from, to uint64) ([]domain.RawTransaction, error) {
	if from > to || !s.Enabled() {
		return []domain.RawTransaction{}, nil
	}
	address = domain.NormalizeAddress(address)

	txs := []domain.RawTransaction{}
	for _, r := range chain.Ranges(from, to, s.maxRange) {
		txItems, err := listAll[txItem](ctx, s, "txlist", address, r[0], r[1])
		if err != nil {
			return nil, err
		}
		tokenItems, err := listAll[tokenItem](ctx, s, "tokentx", address, r[0], r[1])
		if err != nil {
			return nil, err
		}
		txs = append(txs, merge(address, r[0], r[1], txItems, tokenItems)...)
	}
	chain.SortAscending(txs)
	return txs, nil
}

// RecentTransactions returns the newest limit transactions for address.
func (s *Source) RecentTransactions(ctx context.Context, address string, limit int) ([]domain.RawTransaction, error) {
	if !s.Enabled() {
		return []domain.RawTransaction{}, nil
	}
	if limit <= 0 || limit > pageSize {
		limit = pageSize
	}
	address = domain.NormalizeAddress(address)
	txItems, err := listPage[txItem](ctx, s, "txlist", address, 0, maxEndBlock, "desc", 1, limit)
	if err != nil {
		return nil, err
	}
	tokenItems, err := listPage[tokenItem](ctx, s, "tokentx", address, 0, maxEndBlock, "desc", 1, limit)
	if err != nil {
		return nil, err
	}
	txs := merge(address, 0, maxEndBlock, txItems, tokenItems)
	chain.SortDescending(txs)
	if len(txs) > limit {
		txs = txs[:limit]
	}
	return txs, nil
}

// TransactionByHash uses the proxy module for the transaction and receipt.
func (s *Source) TransactionByHash(ctx context.Context, hash string) (*domain.RawTransaction, error) {
	if !s.Enabled() {
		return nil, fmt.Errorf("transaction %s: %w", hash, domain.ErrNotFound)
	}

	var tx struct {
		Hash        string          `json:"hash"`
		From        string          `json:"from"`
		To          *string         `json:"to"`
		Value       *hexutil.Big    `json:"value"`
		GasPrice    *hexutil.Big    `json:"gasPrice"`
		Input       string          `json:"input"`
		BlockNumber *hexutil.Uint64 `json:"blockNumber"`
	}
	if err := s.proxy(ctx, "eth_getTransactionByHash", url.Values{"txhash": {hash}}, &tx); err != nil {
		return nil, err
	}

	raw := &domain.RawTransaction{
		Hash:     strings.ToLower(tx.Hash),
		From:     domain.NormalizeAddress(tx.From),
		Value:    "0",
		GasPrice: "0",
		Input:    tx.Input,
		Source:   sourceName,
	}
	if tx.To != nil {
		raw.To = domain.NormalizeAddress(*tx.To)
	}
	if tx.Value != nil {
		raw.Value = tx.Value.ToInt().String()
	}
	if tx.GasPrice != nil {
		raw.GasPrice = tx.GasPrice.ToInt().String()
	}
	if tx.BlockNumber != nil {
		raw.BlockNumber = uint64(*tx.BlockNumber)
	}

	var rc struct {
		Status  hexutil.Uint64 `json:"status"`
		GasUsed hexutil.Uint64 `json:"gasUsed"`
		Logs    []domain.Log   `json:"logs"`
	}
	switch err := s.proxy(ctx, "eth_getTransactionReceipt", url.Values{"txhash": {hash}}, &rc); {
	case err == nil:
		for i := range rc.Logs {
			rc.Logs[i].Address = domain.NormalizeAddress(rc.Logs[i].Address)
			for j := range rc.Logs[i].Topics {
				rc.Logs[i].Topics[j] = strings.ToLower(rc.Logs[i].Topics[j])
			}
		}
		raw.Receipt = &domain.Receipt{Status: uint64(rc.Status), GasUsed: uint64(rc.GasUsed), Logs: rc.Logs}
		raw.GasUsed = uint64(rc.GasUsed)
		raw.IsError = rc.Status == 0
	case errors.Is(err, domain.ErrNotFound):
		// Pending
	default:
		return nil, err
	}
	return raw, nil
}

// Balance returns the account's wei balance.
func (s *Source) Balance(ctx context.Context, address string) (*big.Int, error) {
	if !s.Enabled() {
		return nil, fmt.Errorf("%w: explorer api key not configured", domain.ErrUpstreamUnavailable)
	}
	q := s.query("account", "balance")
	q.Set("address", address)
	q.Set("tag", "latest")

	var env envelope
	if err := s.get(ctx, q, &env); err != nil {
		return nil, err
	}
	if env.Status != "1" {
		return nil, s.envelopeError(env)
	}
	var v string
	if err := json.Unmarshal(env.Result, &v); err != nil {
		return nil, fmt.Errorf("decode balance: %w", err)
	}
	bal, ok := new(big.Int).SetString(v, 10)
	if !ok {
		return nil, fmt.Errorf("invalid balance %q", v)
	}
	return bal, nil
}

// TransactionCount returns the account nonce via the proxy module.
func (s *Source) TransactionCount(ctx context.Context, address string) (uint64, error) {
	if !s.Enabled() {
		return 0, fmt.Errorf("%w: explorer api key not configured", domain.ErrUpstreamUnavailable)
	}
	var n hexutil.Uint64
	if err := s.proxy(ctx, "eth_getTransactionCount", url.Values{"address": {address}, "tag": {"latest"}}, &n); err != nil {
		return 0, err
	}
	return uint64(n), nil
}

// merge folds token transfers into the transactions that carry them.
// Items outside [from, to] are dropped.
func merge(address string, from, to uint64, txItems []txItem, tokenItems []tokenItem) []domain.RawTransaction {
	byHash := make(map[string]*domain.RawTransaction, len(txItems))
	order := make([]string, 0, len(txItems)+len(tokenItems))

	for _, it := range txItems {
		raw := it.toDomain()
		if raw.BlockNumber < from || raw.BlockNumber > to {
			continue
		}
		if _, ok := byHash[raw.Hash]; ok {
			continue
		}
		byHash[raw.Hash] = &raw
		order = append(order, raw.Hash)
	}

	for _, it := range tokenItems {
		hash := strings.ToLower(it.Hash)
		block := parseUint(it.BlockNumber)
		if block < from || block > to {
			continue
		}
		transfer := it.toTransfer()

		raw, ok := byHash[hash]
		if !ok {
			// Token movement inside someone else's transaction
			raw = &domain.RawTransaction{
				Hash:        hash,
				From:        transfer.From,
				To:          transfer.To,
				Value:       "0",
				BlockNumber: block,
				Timestamp:   parseUnix(it.TimeStamp),
				GasUsed:     parseUint(it.GasUsed),
				GasPrice:    orZero(it.GasPrice),
				Input:       "0x",
				Source:      sourceName,
			}
			byHash[hash] = raw
			order = append(order, hash)
		}

		if raw.Receipt == nil {
			raw.Receipt = &domain.Receipt{Status: 1, GasUsed: raw.GasUsed}
			if raw.IsError {
				raw.Receipt.Status = 0
			}
		}
		raw.Receipt.Logs = append(raw.Receipt.Logs, transferLog(transfer))

		// Prefer the transfer that touches the watched address
		if raw.Token == nil && (transfer.From == address || transfer.To == address) {
			raw.Token = &transfer
		}
	}

	out := make([]domain.RawTransaction, 0, len(order))
	for _, h := range order {
		out = append(out, *byHash[h])
	}
	return out
}

// listAll reads every page of an account list query for [from, to]. A
// window holding more results than the explorer serves is an error.
func listAll[T any](ctx context.Context, s *Source, action, address string, from, to uint64) ([]T, error) {
	var out []T
	for page := 1; ; page++ {
		if page*pageSize > maxResultWindow {
			return nil, fmt.Errorf("%w: explorer: %s %d-%d exceeds %d results",
				domain.ErrUpstreamUnavailable, action, from, to, maxResultWindow)
		}
		items, err := listPage[T](ctx, s, action, address, from, to, "asc", page, pageSize)
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
		if len(items) < pageSize {
			return out, nil
		}
	}
}

func listPage[T any](ctx context.Context, s *Source, action, address string, from, to uint64, sort string, page, offset int) ([]T, error) {
	q := s.query("account", action)
	q.Set("address", address)
	q.Set("startblock", strconv.FormatUint(from, 10))
	q.Set("endblock", strconv.FormatUint(to, 10))
	q.Set("page", strconv.Itoa(page))
	q.Set("offset", strconv.Itoa(offset))
	q.Set("sort", sort)

	var env envelope
	if err := s.get(ctx, q, &env); err != nil {
		return nil, err
	}
	if env.Status != "1" {
		if strings.Contains(strings.ToLower(env.Message), noTxMessage) {
			return nil, nil
		}
		return nil, s.envelopeError(env)
	}
	var items []T
	if err := json.Unmarshal(env.Result, &items); err != nil {
		return nil, fmt.Errorf("decode %s: %w", action, err)
	}
	return items, nil
}

func (s *Source) proxy(ctx context.Context, action string, params url.Values, out any) error {
	q := s.query("proxy", action)
	for k, v := range params {
		q[k] = v
	}

	var env proxyEnvelope
	if err := s.get(ctx, q, &env); err != nil {
		return err
	}
	if env.Error != nil {
		return fmt.Errorf("%s: rpc error %d: %s", action, env.Error.Code, env.Error.Message)
	}
	if env.Status == "0" {
		return s.envelopeError(envelope{Status: env.Status, Message: env.Message, Result: env.Result})
	}
	if len(env.Result) == 0 || string(env.Result) == "null" {
		return fmt.Errorf("%s: %w", action, domain.ErrNotFound)
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("decode %s: %w", action, err)
	}
	return nil
}

func (s *Source) get(ctx context.Context, q url.Values, out any) error {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	return s.client.GetJSON(ctx, q, out)
}

func (s *Source) query(module, action string) url.Values {
	q := url.Values{}
	q.Set("chainid", s.chainID)
	q.Set("module", module)
	q.Set("action", action)
	q.Set("apikey", s.apiKey)
	return q
}

// envelopeError maps an explorer error body onto the domain taxonomy.
func (s *Source) envelopeError(env envelope) error {
	var detail string
	_ = json.Unmarshal(env.Result, &detail)
	text := strings.ToLower(env.Message + " " + detail)

	switch {
	case strings.Contains(text, "rate limit"):
		return fmt.Errorf("%w: explorer: %s", domain.ErrRateLimited, detail)
	case strings.Contains(text, "invalid api key"), strings.Contains(text, "missing/invalid"):
		s.log.Error("explorer rejected api key", "detail", detail)
		return fmt.Errorf("%w: explorer: %s", domain.ErrUpstreamUnavailable, detail)
	}
	return fmt.Errorf("%w: explorer: %s %s", domain.ErrUpstreamUnavailable, env.Message, detail)
}

func (it txItem) toDomain() domain.RawTransaction {
	raw := domain.RawTransaction{
		Hash:        strings.ToLower(it.Hash),
		From:        domain.NormalizeAddress(it.From),
		To:          domain.NormalizeAddress(it.To),
		Value:       orZero(it.Value),
		BlockNumber: parseUint(it.BlockNumber),
		Timestamp:   parseUnix(it.TimeStamp),
		GasUsed:     parseUint(it.GasUsed),
		GasPrice:    orZero(it.GasPrice),
		Input:       it.Input,
		IsError:     it.IsError == "1" || it.TxReceiptStatus == "0",
		Source:      sourceName,
	}
	if raw.Input == "" {
		raw.Input = "0x"
	}
	// Contract creation
	if raw.To == "" && it.ContractAddress != "" {
		raw.To = domain.NormalizeAddress(it.ContractAddress)
	}
	return raw
}

func (it tokenItem) toTransfer() domain.TokenTransfer {
	decimals, _ := strconv.ParseInt(it.TokenDecimal, 10, 32)
	return domain.TokenTransfer{
		Contract: domain.NormalizeAddress(it.ContractAddress),
		Symbol:   it.TokenSymbol,
		Name:     it.TokenName,
		Decimals: int32(decimals),
		From:     domain.NormalizeAddress(it.From),
		To:       domain.NormalizeAddress(it.To),
		Value:    orZero(it.Value),
	}
}

// transferLog rebuilds the ERC-20 Transfer log the explorer decoded, so the
// classifier sees the same receipt shape as from JSON-RPC.
func transferLog(t domain.TokenTransfer) domain.Log {
	value, ok := new(big.Int).SetString(t.Value, 10)
	if !ok {
		value = new(big.Int)
	}
	return domain.Log{
		Address: t.Contract,
		Topics: []string{
			domain.TransferTopic,
			domain.AddressTopic(t.From),
			domain.AddressTopic(t.To),
		},
		Data: common.BigToHash(value).Hex(),
	}
}

func parseUint(s string) uint64 {
	n, _ := strconv.ParseUint(s, 10, 64)
	return n
}

func parseUnix(s string) time.Time {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n == 0 {
		return time.Time{}
	}
	return time.Unix(n, 0).UTC()
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
