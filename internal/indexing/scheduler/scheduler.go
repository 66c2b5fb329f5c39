// Package scheduler drives the per-address polling cycle: fetch new
// activity since the cursor, classify it, filter it per subscriber, and
// dispatch deduplicated notifications.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/dropwatch/internal/core/cursor"
	"github.com/vietddude/dropwatch/internal/core/domain"
	"github.com/vietddude/dropwatch/internal/indexing/classify"
	"github.com/vietddude/dropwatch/internal/indexing/dedup"
	"github.com/vietddude/dropwatch/internal/indexing/metrics"
	"github.com/vietddude/dropwatch/internal/indexing/recovery"
	"github.com/vietddude/dropwatch/internal/indexing/significance"
	"github.com/vietddude/dropwatch/internal/infra/chain"
)

// Config holds scheduler settings.
type Config struct {
	Interval       time.Duration
	Concurrency    int
	LookbackBlocks uint64
	CallTimeout    time.Duration
	AppURL         string
	// MaxRedeliveries bounds how many later ticks retry a failed dispatch.
	MaxRedeliveries int
}

// DefaultConfig returns the scheduler defaults.
func DefaultConfig() Config {
	return Config{
		Interval:        30 * time.Second,
		Concurrency:     8,
		LookbackBlocks:  50,
		CallTimeout:     8 * time.Second,
		MaxRedeliveries: 5,
	}
}

// Deps are the collaborators of a Scheduler.
type Deps struct {
	Registry     Registry
	Cursors      cursor.Manager
	Source       chain.Source
	Head         HeadReader
	Classifier   *classify.Classifier
	Significance *significance.Filter
	Ledger       dedup.Ledger
	Dispatcher   Dispatcher
	Channels     ChannelLookup // optional
	Observer     Observer      // optional
}

type redelivery struct {
	event    domain.NotificationEvent
	attempts int
}

// Scheduler is the PollingScheduler.
type Scheduler struct {
	cfg  Config
	deps Deps

	addrBackoff   *recovery.Tracker
	sourceBackoff *recovery.Tracker

	mu       sync.Mutex
	states   map[string]State
	inFlight map[string]struct{}
	pending  map[string][]redelivery

	trigger chan struct{}
	running atomic.Bool
	passes  atomic.Uint64
}

// New creates a scheduler. backoff drives both per-address and per-source
// backoff; now may be nil.
func New(cfg Config, deps Deps, backoff recovery.RetryStrategy, now func() time.Time) *Scheduler {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.MaxRedeliveries <= 0 {
		cfg.MaxRedeliveries = def.MaxRedeliveries
	}
	if deps.Head == nil {
		deps.Head = deps.Source
	}
	if deps.Observer == nil {
		deps.Observer = noopObserver{}
	}
	if backoff == nil {
		backoff = recovery.DefaultBackoff(nil)
	}
	return &Scheduler{
		cfg:           cfg,
		deps:          deps,
		addrBackoff:   recovery.NewTracker(backoff, now),
		sourceBackoff: recovery.NewTracker(backoff, now),
		states:        make(map[string]State),
		inFlight:      make(map[string]struct{}),
		pending:       make(map[string][]redelivery),
		trigger:       make(chan struct{}, 1),
	}
}

// Start runs a pass immediately, then on every interval and every Trigger,
// until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("scheduler already running")
	}
	defer s.running.Store(false)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	slog.Info("Scheduler started", "interval", s.cfg.Interval, "concurrency", s.cfg.Concurrency)
	for {
		s.RunOnce(ctx)

		select {
		case <-ctx.Done():
			slog.Info("Scheduler stopped")
			return nil
		case <-ticker.C:
		case <-s.trigger:
		}
	}
}

// Trigger requests an extra pass, e.g. on a new block. Requests made while
// one is already queued are coalesced.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Running reports whether Start is active.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Passes returns the number of completed passes.
func (s *Scheduler) Passes() uint64 {
	return s.passes.Load()
}

// RunOnce polls every watched address once. Per-address failures are
// isolated; the pass itself never fails.
func (s *Scheduler) RunOnce(ctx context.Context) {
	defer s.passes.Add(1)

	addrs := s.deps.Registry.Watched()
	s.forgetUnwatched(addrs)
	if len(addrs) == 0 {
		return
	}

	sourceKey := s.deps.Source.Name()
	if !s.sourceBackoff.Allow(sourceKey) {
		metrics.PollsTotal.WithLabelValues("backoff").Add(float64(len(addrs)))
		slog.Debug("Data source backing off", "source", sourceKey)
		return
	}

	hctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	head, err := s.deps.Head.LatestBlock(hctx)
	cancel()
	if err != nil {
		s.sourceFailure(sourceKey, err)
		metrics.PollsTotal.WithLabelValues("error").Add(float64(len(addrs)))
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, addr := range addrs {
		if !s.addrBackoff.Allow(addr) {
			metrics.PollsTotal.WithLabelValues("backoff").Inc()
			continue
		}
		if !s.acquire(addr) {
			metrics.PollsTotal.WithLabelValues("skipped").Inc()
			slog.Debug("Tick already in flight", "address", addr)
			continue
		}
		g.Go(func() error {
			defer s.release(addr)
			s.tick(gctx, addr, head)
			return nil
		})
	}
	_ = g.Wait()
}

// State returns the polling phase of address.
func (s *Scheduler) State(address string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[domain.NormalizeAddress(address)]
}

// Status returns a snapshot for every address the scheduler has seen.
func (s *Scheduler) Status() []AddressStatus {
	addrs := s.deps.Registry.Watched()

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AddressStatus, 0, len(addrs))
	for _, a := range addrs {
		st := AddressStatus{Address: a, State: s.states[a], Pending: len(s.pending[a])}
		if f, ok := s.addrBackoff.Get(a); ok {
			st.Attempts = f.Attempts
			st.LastError = f.LastError
		}
		out = append(out, st)
	}
	return out
}

func (s *Scheduler) acquire(addr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[addr]; busy {
		return false
	}
	s.inFlight[addr] = struct{}{}
	return true
}

func (s *Scheduler) release(addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, addr)
	s.states[addr] = StateIdle
}

func (s *Scheduler) setState(addr string, st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[addr] = st
}

// forgetUnwatched drops bookkeeping for addresses that lost their last
// subscription.
func (s *Scheduler) forgetUnwatched(watched []string) {
	keep := make(map[string]struct{}, len(watched))
	for _, a := range watched {
		keep[a] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for a := range s.states {
		if _, ok := keep[a]; ok {
			continue
		}
		if _, busy := s.inFlight[a]; busy {
			continue
		}
		delete(s.states, a)
		delete(s.pending, a)
		s.addrBackoff.Forget(a)
	}
}

func (s *Scheduler) sourceFailure(sourceKey string, err error) {
	if errors.Is(err, domain.ErrRateLimited) {
		delay := s.sourceBackoff.Failure(sourceKey, err)
		slog.Warn("Data source rate limited, backing off",
			"source", sourceKey,
			"delay", delay,
			"error", err,
		)
		return
	}
	slog.Warn("Failed to read chain head", "source", sourceKey, "error", err)
}
