// Package dedup suppresses repeated notifications for the same
// (channel, transaction) pair within a retention window.
package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/dropwatch/internal/indexing/metrics"
)

// Ledger is the deduplication contract. ShouldDispatch claims the pair;
// the caller confirms with RecordDispatched or gives the claim back with
// Release when delivery failed.
type Ledger interface {
	ShouldDispatch(ctx context.Context, channelKey, txHash string) (bool, error)
	RecordDispatched(ctx context.Context, channelKey, txHash string) error
	Release(ctx context.Context, channelKey, txHash string) error
}

// Config bounds the memory ledger.
type Config struct {
	Window        time.Duration
	MaxPerChannel int
}

// DefaultConfig keeps one hour or 1000 hashes per channel.
func DefaultConfig() Config {
	return Config{Window: time.Hour, MaxPerChannel: 1000}
}

type entry struct {
	at        time.Time
	seq       uint64
	confirmed bool
}

type orderRef struct {
	hash string
	seq  uint64
}

type channelLedger struct {
	entries map[string]entry
	order   []orderRef // insertion order, may hold stale refs
}

// MemoryLedger is an in-process Ledger. After Window elapses a hash may
// trigger again.
type MemoryLedger struct {
	cfg      Config
	mu       sync.Mutex
	channels map[string]*channelLedger
	seq      uint64
	now      func() time.Time
}

var _ Ledger = (*MemoryLedger)(nil)

// NewMemoryLedger creates a ledger. Zero config fields take defaults.
func NewMemoryLedger(cfg Config) *MemoryLedger {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.MaxPerChannel <= 0 {
		cfg.MaxPerChannel = def.MaxPerChannel
	}
	return &MemoryLedger{
		cfg:      cfg,
		channels: make(map[string]*channelLedger),
		now:      time.Now,
	}
}

// ShouldDispatch returns true at most once per pair within the window.
func (l *MemoryLedger) ShouldDispatch(ctx context.Context, channelKey, txHash string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	ch := l.channelLocked(channelKey)
	l.expireLocked(ch, now)

	if _, seen := ch.entries[txHash]; seen {
		metrics.DedupSuppressed.Inc()
		return false, nil
	}
	l.insertLocked(ch, txHash, now, false)
	return true, nil
}

// RecordDispatched confirms a delivered pair. Recording a pair that was
// never claimed inserts it.
func (l *MemoryLedger) RecordDispatched(ctx context.Context, channelKey, txHash string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch := l.channelLocked(channelKey)
	if e, ok := ch.entries[txHash]; ok {
		e.confirmed = true
		ch.entries[txHash] = e
		return nil
	}
	l.insertLocked(ch, txHash, l.now(), true)
	return nil
}

// Release drops an unconfirmed claim. Confirmed pairs are kept.
func (l *MemoryLedger) Release(ctx context.Context, channelKey, txHash string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch, ok := l.channels[channelKey]
	if !ok {
		return nil
	}
	if e, ok := ch.entries[txHash]; ok && !e.confirmed {
		delete(ch.entries, txHash)
	}
	return nil
}

// Prune drops expired pairs across all channels and returns how many were
// removed.
func (l *MemoryLedger) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, ch := range l.channels {
		removed += l.expireLocked(ch, now)
		if len(ch.entries) == 0 {
			delete(l.channels, key)
		}
	}
	return removed
}

// Len returns the number of tracked pairs.
func (l *MemoryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ch := range l.channels {
		n += len(ch.entries)
	}
	return n
}

func (l *MemoryLedger) channelLocked(key string) *channelLedger {
	ch, ok := l.channels[key]
	if !ok {
		ch = &channelLedger{entries: make(map[string]entry)}
		l.channels[key] = ch
	}
	return ch
}

func (l *MemoryLedger) insertLocked(ch *channelLedger, hash string, at time.Time, confirmed bool) {
	l.seq++
	ch.entries[hash] = entry{at: at, seq: l.seq, confirmed: confirmed}
	ch.order = append(ch.order, orderRef{hash: hash, seq: l.seq})

	for len(ch.entries) > l.cfg.MaxPerChannel && len(ch.order) > 0 {
		l.popLocked(ch)
	}
}

// expireLocked removes entries older than the window from the front of
// the insertion order.
func (l *MemoryLedger) expireLocked(ch *channelLedger, now time.Time) int {
	cutoff := now.Add(-l.cfg.Window)
	removed := 0
	for len(ch.order) > 0 {
		ref := ch.order[0]
		e, ok := ch.entries[ref.hash]
		if ok && e.seq == ref.seq && e.at.After(cutoff) {
			break
		}
		if l.popLocked(ch) {
			removed++
		}
	}
	return removed
}

// popLocked drops the oldest ref and reports whether it removed a live entry.
func (l *MemoryLedger) popLocked(ch *channelLedger) bool {
	ref := ch.order[0]
	ch.order = ch.order[1:]
	if e, ok := ch.entries[ref.hash]; ok && e.seq == ref.seq {
		delete(ch.entries, ref.hash)
		return true
	}
	return false
}
