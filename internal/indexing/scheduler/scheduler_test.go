package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/dropwatch/internal/core/cursor"
	"github.com/vietddude/dropwatch/internal/core/domain"
	"github.com/vietddude/dropwatch/internal/indexing/classify"
	"github.com/vietddude/dropwatch/internal/indexing/dedup"
	"github.com/vietddude/dropwatch/internal/indexing/filter"
	"github.com/vietddude/dropwatch/internal/indexing/recovery"
	"github.com/vietddude/dropwatch/internal/indexing/registry"
	"github.com/vietddude/dropwatch/internal/indexing/significance"
	"github.com/vietddude/dropwatch/internal/infra/chain"
	"github.com/vietddude/dropwatch/internal/infra/storage/memory"
)

const (
	watched = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	bob     = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

type fakeSource struct {
	mu      sync.Mutex
	head    uint64
	headErr error
	txs     map[string][]domain.RawTransaction
	err     error
	calls   map[string]int
	ranges  [][2]uint64
	block   chan struct{} // when set, ActivitySince waits on it
	started chan struct{}
}

func newFakeSource(head uint64) *fakeSource {
	return &fakeSource{
		head:  head,
		txs:   make(map[string][]domain.RawTransaction),
		calls: make(map[string]int),
	}
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) LatestBlock(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, f.headErr
}

func (f *fakeSource) ActivitySince(ctx context.Context, address string, from, to uint64) ([]domain.RawTransaction, error) {
	f.mu.Lock()
	f.calls[address]++
	f.ranges = append(f.ranges, [2]uint64{from, to})
	block, started := f.block, f.started
	err := f.err
	var out []domain.RawTransaction
	for _, tx := range f.txs[address] {
		if tx.BlockNumber >= from && tx.BlockNumber <= to {
			out = append(out, tx)
		}
	}
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		<-block
	}
	return out, err
}

func (f *fakeSource) TransactionByHash(ctx context.Context, hash string) (*domain.RawTransaction, error) {
	return nil, domain.ErrNotFound
}

func (f *fakeSource) callCount(addr string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[addr]
}

type fakeDispatcher struct {
	mu     sync.Mutex
	events []domain.NotificationEvent
	fail   int // number of upcoming failures
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, ev domain.NotificationEvent) domain.DispatchResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail > 0 {
		d.fail--
		return domain.DispatchResult{NotificationID: ev.NotificationID, Err: domain.ErrUpstreamUnavailable}
	}
	d.events = append(d.events, ev)
	return domain.DispatchResult{NotificationID: ev.NotificationID, Delivered: true}
}

func (d *fakeDispatcher) delivered() []domain.NotificationEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]domain.NotificationEvent(nil), d.events...)
}

type recordingObserver struct {
	mu          sync.Mutex
	txs         []domain.ClassifiedTransaction
	significant int
	dispatches  int
}

func (o *recordingObserver) ObserveTransaction(ct domain.ClassifiedTransaction, significant bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.txs = append(o.txs, ct)
	if significant {
		o.significant++
	}
}

func (o *recordingObserver) ObserveDispatch(domain.NotificationEvent, domain.DispatchResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dispatches++
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	sched      *Scheduler
	source     *fakeSource
	dispatcher *fakeDispatcher
	observer   *recordingObserver
	registry   *registry.Registry
	cursors    *cursor.DefaultManager
	clock      *clock
}

func newHarness(t *testing.T, head uint64) *harness {
	t.Helper()
	return newHarnessWith(t, head, func(f *fakeSource) chain.Source { return f })
}

// newHarnessWith lets a test wrap the fake source before the scheduler
// sees it.
func newHarnessWith(t *testing.T, head uint64, wrap func(*fakeSource) chain.Source) *harness {
	t.Helper()
	mem := memory.NewMemoryStorage()
	source := newFakeSource(head)
	cursors := cursor.NewManager(memory.NewCursorRepo(mem))
	reg := registry.New(
		memory.NewSubscriptionRepo(mem),
		filter.NewMemoryFilter(),
		cursors,
		source,
		registry.Config{LookbackBlocks: 50},
	)
	clk := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	h := &harness{
		source:     source,
		dispatcher: &fakeDispatcher{},
		observer:   &recordingObserver{},
		registry:   reg,
		cursors:    cursors,
		clock:      clk,
	}
	backoff := &recovery.ExponentialBackoff{
		InitialDelay: time.Minute,
		MaxDelay:     time.Hour,
		MaxAttempts:  3,
	}
	h.sched = New(Config{Concurrency: 4, LookbackBlocks: 50, CallTimeout: time.Second}, Deps{
		Registry:     reg,
		Cursors:      cursors,
		Source:       wrap(source),
		Classifier:   classify.New(significance.NewPriceTable(significance.DefaultPrices)),
		Significance: significance.NewFilter(100),
		Ledger:       dedup.NewMemoryLedger(dedup.DefaultConfig()),
		Dispatcher:   h.dispatcher,
		Channels:     memory.NewChannelRepo(mem),
		Observer:     h.observer,
	}, backoff, clk.now)
	return h
}

func (h *harness) watch(t *testing.T, address, minValue string) {
	t.Helper()
	_, err := h.registry.Add(context.Background(), domain.Subscription{
		Address: address,
		UserID:  "u1",
		FID:     7,
		Channel: domain.Channel{FID: 7, URL: "https://push.example", Token: "tok"},
		Filter: domain.FilterConfig{
			MinValue:         minValue,
			NotifyOnTransfer: true,
		},
	})
	require.NoError(t, err)
}

func (h *harness) cursor(t *testing.T, address string) uint64 {
	t.Helper()
	c, err := h.cursors.Get(context.Background(), address)
	require.NoError(t, err)
	return c.Block
}

func nativeTransfer(hash string, block uint64, wei string) domain.RawTransaction {
	return domain.RawTransaction{
		Hash:        hash,
		From:        watched,
		To:          bob,
		Value:       wei,
		BlockNumber: block,
		Input:       "0x",
	}
}

func TestRunOnce_DispatchesSignificantTransfer(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1000)
	h.watch(t, watched, "0.01")
	h.source.txs[watched] = []domain.RawTransaction{
		nativeTransfer("0x01", 990, "50000000000000000"), // 0.05 ETH
	}

	h.sched.RunOnce(ctx)

	events := h.dispatcher.delivered()
	require.Len(t, events, 1)
	assert.Equal(t, domain.KindTransfer, events[0].Kind)
	assert.Equal(t, "transfer-0x01-fid:7", events[0].NotificationID)
	assert.Equal(t, "💸 Transfer Detected!", events[0].Title)
	assert.Equal(t, uint64(1000), h.cursor(t, watched))
	assert.Equal(t, [][2]uint64{{951, 1000}}, h.source.ranges)
	assert.Equal(t, StateIdle, h.sched.State(watched))
	assert.Equal(t, 1, h.observer.significant)
}

func TestRunOnce_BelowMinValue(t *testing.T) {
	h := newHarness(t, 1000)
	h.watch(t, watched, "0.01")
	h.source.txs[watched] = []domain.RawTransaction{
		nativeTransfer("0x01", 990, "5000000000000000"), // 0.005 ETH
	}

	h.sched.RunOnce(context.Background())

	assert.Empty(t, h.dispatcher.delivered())
	assert.Len(t, h.observer.txs, 1)
	assert.Equal(t, uint64(1000), h.cursor(t, watched))
}

func TestRunOnce_MintLogOverridesInput(t *testing.T) {
	h := newHarness(t, 1000)
	_, err := h.registry.Add(context.Background(), domain.Subscription{
		Address: watched,
		UserID:  "u1",
		FID:     7,
		Channel: domain.Channel{FID: 7, URL: "https://push.example", Token: "tok"},
		Filter:  domain.DefaultFilterConfig(),
	})
	require.NoError(t, err)

	h.source.txs[watched] = []domain.RawTransaction{{
		Hash:        "0x02",
		From:        watched,
		To:          bob,
		Value:       "0",
		BlockNumber: 999,
		Input:       "0xdeadbeef",
		Receipt: &domain.Receipt{Status: 1, Logs: []domain.Log{{
			Address: bob,
			Topics: []string{
				domain.TransferTopic,
				domain.AddressTopic(domain.ZeroAddress),
				domain.AddressTopic(watched),
				domain.AddressTopic("0x01"),
			},
		}}},
	}}

	h.sched.RunOnce(context.Background())

	events := h.dispatcher.delivered()
	require.Len(t, events, 1)
	assert.Equal(t, domain.KindMint, events[0].Kind)
}

func TestRunOnce_OverlappingRangesDispatchOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1000)
	h.watch(t, watched, "0.01")
	h.source.txs[watched] = []domain.RawTransaction{
		nativeTransfer("0x01", 990, "50000000000000000"),
	}

	h.sched.RunOnce(ctx)
	// Rewind as if the previous advance never happened.
	require.NoError(t, h.cursors.Reset(ctx, watched, 950))
	h.sched.RunOnce(ctx)

	assert.Len(t, h.source.ranges, 2)
	assert.Len(t, h.dispatcher.delivered(), 1)
}

func TestRunOnce_FetchFailureKeepsCursorAndBacksOff(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1000)
	h.watch(t, watched, "0.01")
	h.source.err = domain.ErrUpstreamUnavailable

	h.sched.RunOnce(ctx)
	assert.Equal(t, uint64(950), h.cursor(t, watched))
	assert.Equal(t, 1, h.source.callCount(watched))

	// Still inside the backoff window.
	h.sched.RunOnce(ctx)
	assert.Equal(t, 1, h.source.callCount(watched))

	status := h.sched.Status()
	require.Len(t, status, 1)
	assert.Equal(t, 1, status[0].Attempts)

	h.clock.advance(2 * time.Minute)
	h.source.err = nil
	h.source.txs[watched] = []domain.RawTransaction{nativeTransfer("0x01", 960, "50000000000000000")}
	h.sched.RunOnce(ctx)

	assert.Equal(t, 2, h.source.callCount(watched))
	assert.Equal(t, uint64(1000), h.cursor(t, watched))
	assert.Len(t, h.dispatcher.delivered(), 1)
	assert.Equal(t, 0, h.sched.Status()[0].Attempts)
}

func TestRunOnce_PrimaryFailureDoesNotSkipBlocks(t *testing.T) {
	ctx := context.Background()
	// The secondary only sees token logs and has nothing for this range.
	tokenOnly := newFakeSource(1000)
	h := newHarnessWith(t, 1000, func(f *fakeSource) chain.Source {
		return chain.NewFallback(f, tokenOnly)
	})
	h.watch(t, watched, "0.01")
	h.source.txs[watched] = []domain.RawTransaction{nativeTransfer("0x01", 990, "50000000000000000")}
	h.source.err = domain.ErrUpstreamUnavailable

	h.sched.RunOnce(ctx)
	assert.Equal(t, uint64(950), h.cursor(t, watched))
	assert.Empty(t, h.dispatcher.delivered())
	assert.Zero(t, tokenOnly.callCount(watched))

	h.clock.advance(2 * time.Minute)
	h.source.err = nil
	h.source.mu.Lock()
	h.source.head = 1010
	h.source.mu.Unlock()
	h.sched.RunOnce(ctx)

	assert.Equal(t, uint64(1010), h.cursor(t, watched))
	require.Len(t, h.dispatcher.delivered(), 1)
	assert.Equal(t, "0x01", h.dispatcher.delivered()[0].TxHash)
	assert.Equal(t, [][2]uint64{{951, 1000}, {951, 1010}}, h.source.ranges)
}

func TestRunOnce_RateLimitBacksOffSource(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1000)
	h.watch(t, watched, "0.01")
	h.watch(t, bob, "0.01")
	h.source.err = domain.ErrRateLimited

	h.sched.RunOnce(ctx)
	first := h.source.callCount(watched) + h.source.callCount(bob)
	assert.Equal(t, 2, first)

	h.source.err = nil
	h.sched.RunOnce(ctx)
	assert.Equal(t, first, h.source.callCount(watched)+h.source.callCount(bob),
		"rate limited source must not be polled during backoff")
}

func TestRunOnce_HeadFailure(t *testing.T) {
	h := newHarness(t, 1000)
	h.watch(t, watched, "0.01")
	h.source.headErr = domain.ErrUpstreamUnavailable

	h.sched.RunOnce(context.Background())
	assert.Equal(t, 0, h.source.callCount(watched))
	assert.Equal(t, uint64(950), h.cursor(t, watched))
}

func TestRunOnce_EmptyRange(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1000)
	h.watch(t, watched, "0.01")
	require.NoError(t, h.cursors.Advance(ctx, watched, 1000))

	h.sched.RunOnce(ctx)
	assert.Equal(t, 0, h.source.callCount(watched))
}

func TestRunOnce_RemovedAddressNotPolled(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1000)
	h.watch(t, watched, "0.01")

	h.sched.RunOnce(ctx)
	require.Equal(t, 1, h.source.callCount(watched))

	_, err := h.registry.Remove(ctx, watched, "u1")
	require.NoError(t, err)

	h.source.mu.Lock()
	h.source.head = 1100
	h.source.mu.Unlock()
	h.sched.RunOnce(ctx)
	assert.Equal(t, 1, h.source.callCount(watched))
	assert.Empty(t, h.sched.Status())
}

func TestRunOnce_SkipsInFlightAddress(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1000)
	h.watch(t, watched, "0.01")

	h.source.block = make(chan struct{})
	h.source.started = make(chan struct{}, 1)

	done := make(chan struct{})
	go func() {
		h.sched.RunOnce(ctx)
		close(done)
	}()
	<-h.source.started
	assert.Equal(t, StateFetching, h.sched.State(watched))

	// A second pass while the first tick is still fetching is skipped.
	h.sched.RunOnce(ctx)
	assert.Equal(t, 1, h.source.callCount(watched))

	close(h.source.block)
	<-done
	assert.Equal(t, StateIdle, h.sched.State(watched))
}

func TestRunOnce_RedeliversFailedDispatch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1000)
	h.watch(t, watched, "0.01")
	h.source.txs[watched] = []domain.RawTransaction{nativeTransfer("0x01", 990, "50000000000000000")}
	h.dispatcher.fail = 1

	h.sched.RunOnce(ctx)
	assert.Empty(t, h.dispatcher.delivered())
	assert.Equal(t, uint64(1000), h.cursor(t, watched), "cursor follows the fetch, not the dispatch")
	require.Len(t, h.sched.Status(), 1)
	assert.Equal(t, 1, h.sched.Status()[0].Pending)

	h.sched.RunOnce(ctx)
	require.Len(t, h.dispatcher.delivered(), 1)
	assert.Equal(t, 0, h.sched.Status()[0].Pending)

	h.sched.RunOnce(ctx)
	assert.Len(t, h.dispatcher.delivered(), 1)
}

func TestRunOnce_UsesLiveChannel(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1000)
	h.watch(t, watched, "0.01")
	require.NoError(t, h.sched.deps.Channels.(*memory.ChannelRepo).Save(ctx, domain.Channel{
		FID: 7, URL: "https://new.example", Token: "new",
	}))
	h.source.txs[watched] = []domain.RawTransaction{nativeTransfer("0x01", 990, "50000000000000000")}

	h.sched.RunOnce(ctx)

	events := h.dispatcher.delivered()
	require.Len(t, events, 1)
	assert.Equal(t, "https://new.example", events[0].Channel.URL)
}

func TestStartAndTrigger(t *testing.T) {
	h := newHarness(t, 1000)
	h.sched.cfg.Interval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.sched.Start(ctx) }()

	require.Eventually(t, func() bool { return h.sched.Passes() >= 1 }, time.Second, 5*time.Millisecond)
	h.sched.Trigger()
	require.Eventually(t, func() bool { return h.sched.Passes() >= 2 }, time.Second, 5*time.Millisecond)

	assert.Error(t, h.sched.Start(ctx), "second Start must fail")

	cancel()
	assert.NoError(t, <-done)
}
