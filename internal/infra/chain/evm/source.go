// Package evm reads Base activity over JSON-RPC.
package evm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/dropwatch/internal/core/domain"
	"github.com/vietddude/dropwatch/internal/infra/chain"
	"github.com/vietddude/dropwatch/internal/infra/rpc"
)

const (
	sourceName       = "rpc"
	enrichChunkSize  = 10
	enrichWorkers    = 4
	blockBatchSize   = 20
	blockCacheSize   = 512
	defaultCallLimit = 8 * time.Second
)

// Caller is the JSON-RPC surface the source needs; *rpc.Client satisfies it.
type Caller interface {
	Call(ctx context.Context, method string, params []any) (any, error)
	BatchCall(ctx context.Context, requests []rpc.BatchRequest) ([]rpc.BatchResponse, error)
}

// Source implements chain.Source and chain.AccountReader over JSON-RPC.
type Source struct {
	client      Caller
	maxRange    uint64
	callTimeout time.Duration
	log         *slog.Logger

	// Block timestamps are immutable
	tsMu       sync.Mutex
	timestamps map[uint64]time.Time

	blockMu sync.Mutex
	blocks  map[uint64][]blockTx
}

var (
	_ chain.Source        = (*Source)(nil)
	_ chain.AccountReader = (*Source)(nil)
	_ chain.Coverage      = (*Source)(nil)
)

// NewSource creates a JSON-RPC data source. maxRange caps each eth_getLogs
// window.
func NewSource(client Caller, maxRange uint64, callTimeout time.Duration) *Source {
	if maxRange == 0 {
		maxRange = 100
	}
	if callTimeout <= 0 {
		callTimeout = defaultCallLimit
	}
	return &Source{
		client:      client,
		maxRange:    maxRange,
		callTimeout: callTimeout,
		log:         slog.Default().With("source", sourceName),
		timestamps:  make(map[uint64]time.Time),
		blocks:      make(map[uint64][]blockTx),
	}
}

func (s *Source) Name() string { return sourceName }

// FullCoverage is true: blocks are scanned for top-level transactions and
// logs for token movements.
func (s *Source) FullCoverage() bool { return true }

// LatestBlock returns eth_blockNumber.
func (s *Source) LatestBlock(ctx context.Context) (uint64, error) {
	var head hexutil.Uint64
	if err := s.call(ctx, &head, "eth_blockNumber"); err != nil {
		return 0, fmt.Errorf("eth_blockNumber: %w", err)
	}
	return uint64(head), nil
}

// ActivitySince finds transactions sent from or to address by scanning
// every block in [from, to], plus token transfers through Transfer logs.
// Each hit is resolved with its receipt and block time.
func (s *Source) ActivitySince(ctx context.Context, address string, from, to uint64) ([]domain.RawTransaction, error) {
	if from > to {
		return []domain.RawTransaction{}, nil
	}
	if !domain.IsValidAddress(address) {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidAddress, address)
	}

	address = domain.NormalizeAddress(address)
	topic := domain.AddressTopic(address)
	seen := make(map[string]uint64)
	var order []string
	add := func(hash string, block uint64) {
		hash = strings.ToLower(hash)
		if _, ok := seen[hash]; ok {
			return
		}
		seen[hash] = block
		order = append(order, hash)
	}

	for _, r := range chain.Ranges(from, to, s.maxRange) {
		if err := s.scanBlocks(ctx, r[0], r[1], func(block uint64, tx blockTx) {
			if tx.From == address || tx.To == address {
				add(tx.Hash, block)
			}
		}); err != nil {
			return nil, err
		}

		fromHex, toHex := hexutil.EncodeUint64(r[0]), hexutil.EncodeUint64(r[1])
		requests := []rpc.BatchRequest{
			{Method: "eth_getLogs", Params: []any{map[string]any{
				"fromBlock": fromHex, "toBlock": toHex,
				"topics": []any{domain.TransferTopic, topic},
			}}},
			{Method: "eth_getLogs", Params: []any{map[string]any{
				"fromBlock": fromHex, "toBlock": toHex,
				"topics": []any{domain.TransferTopic, nil, topic},
			}}},
		}
		responses, err := s.batch(ctx, requests)
		if err != nil {
			return nil, fmt.Errorf("eth_getLogs %d-%d: %w", r[0], r[1], err)
		}
		for _, resp := range responses {
			if resp.Error != nil {
				return nil, fmt.Errorf("eth_getLogs %d-%d: %w", r[0], r[1], resp.Error)
			}
			var logs []rpcLog
			if err := remarshal(resp.Result, &logs); err != nil {
				return nil, fmt.Errorf("decode logs: %w", err)
			}
			for _, l := range logs {
				add(l.TransactionHash, uint64(l.BlockNumber))
			}
		}
	}

	txs, err := s.resolve(ctx, order)
	if err != nil {
		return nil, err
	}
	chain.SortAscending(txs)
	return txs, nil
}

// TransactionByHash resolves a single transaction with its receipt.
func (s *Source) TransactionByHash(ctx context.Context, hash string) (*domain.RawTransaction, error) {
	txs, err := s.resolve(ctx, []string{strings.ToLower(hash)})
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, fmt.Errorf("transaction %s: %w", hash, domain.ErrNotFound)
	}
	return &txs[0], nil
}

// Balance returns the wei balance at the latest block.
func (s *Source) Balance(ctx context.Context, address string) (*big.Int, error) {
	var bal hexutil.Big
	if err := s.call(ctx, &bal, "eth_getBalance", address, "latest"); err != nil {
		return nil, fmt.Errorf("eth_getBalance: %w", err)
	}
	return bal.ToInt(), nil
}

// TransactionCount returns the account nonce at the latest block.
func (s *Source) TransactionCount(ctx context.Context, address string) (uint64, error) {
	var n hexutil.Uint64
	if err := s.call(ctx, &n, "eth_getTransactionCount", address, "latest"); err != nil {
		return 0, fmt.Errorf("eth_getTransactionCount: %w", err)
	}
	return uint64(n), nil
}

// resolve fetches transaction + receipt pairs in batches. Missing
// transactions are skipped.
func (s *Source) resolve(ctx context.Context, hashes []string) ([]domain.RawTransaction, error) {
	if len(hashes) == 0 {
		return []domain.RawTransaction{}, nil
	}

	var (
		mu  sync.Mutex
		out = make([]domain.RawTransaction, 0, len(hashes))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(enrichWorkers)

	for start := 0; start < len(hashes); start += enrichChunkSize {
		chunk := hashes[start:min(start+enrichChunkSize, len(hashes))]
		g.Go(func() error {
			requests := make([]rpc.BatchRequest, 0, 2*len(chunk))
			for _, h := range chunk {
				requests = append(requests,
					rpc.BatchRequest{Method: "eth_getTransactionByHash", Params: []any{h}},
					rpc.BatchRequest{Method: "eth_getTransactionReceipt", Params: []any{h}},
				)
			}
			responses, err := s.batch(gctx, requests)
			if err != nil {
				return fmt.Errorf("resolve transactions: %w", err)
			}

			for i, h := range chunk {
				txResp, rcResp := responses[2*i], responses[2*i+1]
				if txResp.Error != nil {
					return fmt.Errorf("eth_getTransactionByHash %s: %w", h, txResp.Error)
				}
				if txResp.Result == nil {
					s.log.Debug("transaction not found", "tx", h)
					continue
				}
				var tx rpcTransaction
				if err := remarshal(txResp.Result, &tx); err != nil {
					return fmt.Errorf("decode transaction %s: %w", h, err)
				}
				raw := tx.toDomain()

				// A pending transaction has no receipt yet
				if rcResp.Error == nil && rcResp.Result != nil {
					var rc rpcReceipt
					if err := remarshal(rcResp.Result, &rc); err != nil {
						return fmt.Errorf("decode receipt %s: %w", h, err)
					}
					raw.Receipt = rc.toDomain()
					raw.GasUsed = raw.Receipt.GasUsed
					raw.IsError = raw.Receipt.Status == 0
				}

				if raw.BlockNumber > 0 {
					ts, err := s.blockTime(gctx, raw.BlockNumber)
					if err != nil {
						s.log.Warn("block timestamp lookup failed", "block", raw.BlockNumber, "error", err)
					} else {
						raw.Timestamp = ts
					}
				}

				mu.Lock()
				out = append(out, raw)
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

type blockTx struct {
	Hash string
	From string
	To   string
}

type rpcBlock struct {
	Timestamp    hexutil.Uint64 `json:"timestamp"`
	Transactions []struct {
		Hash string  `json:"hash"`
		From string  `json:"from"`
		To   *string `json:"to"`
	} `json:"transactions"`
}

// scanBlocks calls visit for every transaction in [from, to]. Blocks are
// fetched with full transactions in batches and shared across addresses.
func (s *Source) scanBlocks(ctx context.Context, from, to uint64, visit func(uint64, blockTx)) error {
	have := make(map[uint64][]blockTx, to-from+1)
	var missing []uint64
	s.blockMu.Lock()
	for n := from; n <= to; n++ {
		if txs, ok := s.blocks[n]; ok {
			have[n] = txs
		} else {
			missing = append(missing, n)
		}
		if n == to {
			break
		}
	}
	s.blockMu.Unlock()

	fetched := make(map[uint64][]blockTx, len(missing))
	for start := 0; start < len(missing); start += blockBatchSize {
		chunk := missing[start:min(start+blockBatchSize, len(missing))]
		requests := make([]rpc.BatchRequest, 0, len(chunk))
		for _, n := range chunk {
			requests = append(requests, rpc.BatchRequest{
				Method: "eth_getBlockByNumber",
				Params: []any{hexutil.EncodeUint64(n), true},
			})
		}
		responses, err := s.batch(ctx, requests)
		if err != nil {
			return fmt.Errorf("eth_getBlockByNumber %d-%d: %w", chunk[0], chunk[len(chunk)-1], err)
		}
		for i, resp := range responses {
			n := chunk[i]
			if resp.Error != nil {
				return fmt.Errorf("eth_getBlockByNumber %d: %w", n, resp.Error)
			}
			// The node has not seen this block yet
			if resp.Result == nil {
				return fmt.Errorf("%w: block %d not available", domain.ErrUpstreamUnavailable, n)
			}
			var b rpcBlock
			if err := remarshal(resp.Result, &b); err != nil {
				return fmt.Errorf("decode block %d: %w", n, err)
			}
			txs := make([]blockTx, 0, len(b.Transactions))
			for _, t := range b.Transactions {
				tx := blockTx{Hash: strings.ToLower(t.Hash), From: domain.NormalizeAddress(t.From)}
				if t.To != nil {
					tx.To = domain.NormalizeAddress(*t.To)
				}
				txs = append(txs, tx)
			}
			fetched[n] = txs
			have[n] = txs
			s.rememberTime(n, time.Unix(int64(b.Timestamp), 0).UTC())
		}
	}

	s.blockMu.Lock()
	if len(s.blocks)+len(fetched) > blockCacheSize {
		s.blocks = make(map[uint64][]blockTx)
	}
	for n, txs := range fetched {
		s.blocks[n] = txs
	}
	s.blockMu.Unlock()

	for n := from; n <= to; n++ {
		for _, tx := range have[n] {
			visit(n, tx)
		}
		if n == to {
			break
		}
	}
	return nil
}

func (s *Source) rememberTime(number uint64, ts time.Time) {
	s.tsMu.Lock()
	defer s.tsMu.Unlock()
	if len(s.timestamps) > 4096 {
		s.timestamps = make(map[uint64]time.Time)
	}
	s.timestamps[number] = ts
}

func (s *Source) blockTime(ctx context.Context, number uint64) (time.Time, error) {
	s.tsMu.Lock()
	ts, ok := s.timestamps[number]
	s.tsMu.Unlock()
	if ok {
		return ts, nil
	}

	var header struct {
		Timestamp hexutil.Uint64 `json:"timestamp"`
	}
	if err := s.call(ctx, &header, "eth_getBlockByNumber", hexutil.EncodeUint64(number), false); err != nil {
		return time.Time{}, err
	}
	ts = time.Unix(int64(header.Timestamp), 0).UTC()
	s.rememberTime(number, ts)
	return ts, nil
}

func (s *Source) call(ctx context.Context, out any, method string, params ...any) error {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	result, err := s.client.Call(ctx, method, params)
	if err != nil {
		return err
	}
	if result == nil {
		return domain.ErrNotFound
	}
	return remarshal(result, out)
}

func (s *Source) batch(ctx context.Context, requests []rpc.BatchRequest) ([]rpc.BatchResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	responses, err := s.client.BatchCall(ctx, requests)
	if err != nil {
		return nil, err
	}
	if len(responses) != len(requests) {
		return nil, fmt.Errorf("%w: batch returned %d of %d responses",
			domain.ErrUpstreamUnavailable, len(responses), len(requests))
	}
	return responses, nil
}

type rpcLog struct {
	Address         string         `json:"address"`
	Topics          []string       `json:"topics"`
	Data            string         `json:"data"`
	BlockNumber     hexutil.Uint64 `json:"blockNumber"`
	TransactionHash string         `json:"transactionHash"`
}

type rpcTransaction struct {
	Hash        string          `json:"hash"`
	From        string          `json:"from"`
	To          *string         `json:"to"`
	Value       *hexutil.Big    `json:"value"`
	GasPrice    *hexutil.Big    `json:"gasPrice"`
	Input       string          `json:"input"`
	BlockNumber *hexutil.Uint64 `json:"blockNumber"`
}

func (t rpcTransaction) toDomain() domain.RawTransaction {
	raw := domain.RawTransaction{
		Hash:     strings.ToLower(t.Hash),
		From:     domain.NormalizeAddress(t.From),
		Value:    "0",
		GasPrice: "0",
		Input:    t.Input,
		Source:   sourceName,
	}
	if t.To != nil {
		raw.To = domain.NormalizeAddress(*t.To)
	}
	if t.Value != nil {
		raw.Value = t.Value.ToInt().String()
	}
	if t.GasPrice != nil {
		raw.GasPrice = t.GasPrice.ToInt().String()
	}
	if t.BlockNumber != nil {
		raw.BlockNumber = uint64(*t.BlockNumber)
	}
	if raw.Input == "" {
		raw.Input = "0x"
	}
	return raw
}

type rpcReceipt struct {
	Status  hexutil.Uint64 `json:"status"`
	GasUsed hexutil.Uint64 `json:"gasUsed"`
	Logs    []rpcLog       `json:"logs"`
}

func (r rpcReceipt) toDomain() *domain.Receipt {
	rc := &domain.Receipt{
		Status:  uint64(r.Status),
		GasUsed: uint64(r.GasUsed),
		Logs:    make([]domain.Log, 0, len(r.Logs)),
	}
	for _, l := range r.Logs {
		topics := make([]string, len(l.Topics))
		for i, t := range l.Topics {
			topics[i] = strings.ToLower(t)
		}
		rc.Logs = append(rc.Logs, domain.Log{
			Address: domain.NormalizeAddress(l.Address),
			Topics:  topics,
			Data:    l.Data,
		})
	}
	return rc
}

// remarshal converts a generic JSON-RPC result into a typed value.
func remarshal(in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}
