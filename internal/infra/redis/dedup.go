package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/dropwatch/internal/indexing/metrics"
)

const (
	claimPending   = "pending"
	claimConfirmed = "sent"
)

// releaseScript deletes a claim only while it is still pending.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// DedupLedger is a deduplication ledger shared across processes. Each
// (channel, hash) pair is a key that expires after the window.
type DedupLedger struct {
	rdb    *redis.Client
	window time.Duration
}

// NewDedupLedger creates a Redis-backed ledger.
func NewDedupLedger(client *Client, window time.Duration) *DedupLedger {
	if window <= 0 {
		window = time.Hour
	}
	return &DedupLedger{rdb: client.rdb, window: window}
}

// DedupKey returns the Redis key for a pair.
func DedupKey(channelKey, txHash string) string {
	return fmt.Sprintf("dedup:%s:%s", channelKey, txHash)
}

// ShouldDispatch claims the pair with SETNX.
func (l *DedupLedger) ShouldDispatch(ctx context.Context, channelKey, txHash string) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, DedupKey(channelKey, txHash), claimPending, l.window).Result()
	if err != nil {
		return false, fmt.Errorf("setnx failed: %w", err)
	}
	if !ok {
		metrics.DedupSuppressed.Inc()
	}
	return ok, nil
}

// RecordDispatched marks the pair as delivered for the rest of the window.
func (l *DedupLedger) RecordDispatched(ctx context.Context, channelKey, txHash string) error {
	key := DedupKey(channelKey, txHash)
	if err := l.rdb.SetXX(ctx, key, claimConfirmed, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("set failed: %w", err)
	}
	// Recording without a prior claim inserts the pair.
	if err := l.rdb.SetNX(ctx, key, claimConfirmed, l.window).Err(); err != nil {
		return fmt.Errorf("setnx failed: %w", err)
	}
	return nil
}

// Release drops a pending claim so a later cycle may retry.
func (l *DedupLedger) Release(ctx context.Context, channelKey, txHash string) error {
	err := releaseScript.Run(ctx, l.rdb, []string{DedupKey(channelKey, txHash)}, claimPending).Err()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("release failed: %w", err)
	}
	return nil
}
