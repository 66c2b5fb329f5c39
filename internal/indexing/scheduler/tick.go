package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/vietddude/dropwatch/internal/core/domain"
	"github.com/vietddude/dropwatch/internal/indexing/metrics"
	"github.com/vietddude/dropwatch/internal/indexing/notify"
	"github.com/vietddude/dropwatch/internal/indexing/registry"
	"github.com/vietddude/dropwatch/internal/infra/chain"
)

// tick runs Fetching → Classifying → Dispatching → Idle for one address.
// The cursor only moves after the fetch for (cursor, head] succeeded.
func (s *Scheduler) tick(ctx context.Context, addr string, head uint64) {
	start := time.Now()
	defer func() { metrics.TickDuration.Observe(time.Since(start).Seconds()) }()

	s.redeliver(ctx, addr)

	s.setState(addr, StateFetching)
	c, err := s.deps.Cursors.Ensure(ctx, addr, registry.StartBlock(head, s.cfg.LookbackBlocks))
	if err != nil {
		s.addrBackoff.Failure(addr, err)
		metrics.PollsTotal.WithLabelValues("error").Inc()
		slog.Warn("Failed to load cursor", "address", addr, "error", err)
		return
	}
	from := c.Block + 1
	if from > head {
		metrics.PollsTotal.WithLabelValues("empty").Inc()
		return
	}

	fctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	txs, err := s.deps.Source.ActivitySince(fctx, addr, from, head)
	cancel()
	if err != nil {
		s.fetchFailure(addr, from, head, err)
		return
	}
	s.addrBackoff.Success(addr)
	s.sourceBackoff.Success(s.deps.Source.Name())

	if len(txs) > 0 {
		s.setState(addr, StateClassifying)
		work := s.classify(ctx, addr, txs)

		s.setState(addr, StateDispatching)
		s.dispatch(ctx, addr, work)
	}

	if err := s.deps.Cursors.Advance(ctx, addr, head); err != nil {
		// The range is fetched again next tick; dedup absorbs the overlap.
		slog.Warn("Failed to advance cursor", "address", addr, "block", head, "error", err)
		metrics.PollsTotal.WithLabelValues("error").Inc()
		return
	}
	metrics.PollsTotal.WithLabelValues("ok").Inc()
	slog.Debug("Address polled",
		"address", addr,
		"from", from,
		"to", head,
		"transactions", len(txs),
	)
}

func (s *Scheduler) fetchFailure(addr string, from, to uint64, err error) {
	delay := s.addrBackoff.Failure(addr, err)
	if errors.Is(err, domain.ErrRateLimited) {
		s.sourceFailure(s.deps.Source.Name(), err)
	}
	metrics.PollsTotal.WithLabelValues("error").Inc()
	slog.Warn("Failed to fetch activity",
		"address", addr,
		"from", from,
		"to", to,
		"retry_in", delay,
		"error", err,
	)
}

type notification struct {
	event domain.NotificationEvent
}

// classify enriches txs oldest first and evaluates each subscriber's filter.
func (s *Scheduler) classify(ctx context.Context, addr string, txs []domain.RawTransaction) []notification {
	subs, err := s.deps.Registry.ListFor(ctx, addr)
	if err != nil {
		slog.Warn("Failed to list subscriptions", "address", addr, "error", err)
	}

	chain.SortAscending(txs)
	var out []notification
	for _, tx := range txs {
		ct := s.deps.Classifier.Enrich(tx, addr)
		metrics.TransactionsClassified.WithLabelValues(ct.Kind.String()).Inc()

		significant := false
		for _, sub := range subs {
			if !s.deps.Significance.IsNotifyWorthy(ct, sub.Filter) {
				continue
			}
			significant = true
			sub.Channel = s.resolveChannel(ctx, sub)
			out = append(out, notification{
				event: notify.TransactionEvent(s.cfg.AppURL, ct, sub),
			})
		}
		s.deps.Observer.ObserveTransaction(ct, significant)
	}
	return out
}

// resolveChannel prefers the live registration for the subscriber's FID.
func (s *Scheduler) resolveChannel(ctx context.Context, sub domain.Subscription) domain.Channel {
	if s.deps.Channels == nil || sub.FID == 0 {
		return sub.Channel
	}
	ch, err := s.deps.Channels.Get(ctx, sub.FID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			slog.Warn("Failed to load channel", "fid", sub.FID, "error", err)
		}
		return sub.Channel
	}
	return ch
}

func (s *Scheduler) dispatch(ctx context.Context, addr string, work []notification) {
	for _, n := range work {
		ev := n.event
		if ev.Channel.IsZero() {
			slog.Debug("Skipping subscriber without channel",
				"address", addr,
				"channel", ev.ChannelKey,
				"tx", ev.TxHash,
			)
			continue
		}

		ok, err := s.deps.Ledger.ShouldDispatch(ctx, ev.ChannelKey, ev.TxHash)
		if err != nil {
			slog.Warn("Dedup ledger unavailable, skipping notification",
				"channel", ev.ChannelKey,
				"tx", ev.TxHash,
				"error", err,
			)
			continue
		}
		if !ok {
			continue
		}
		if !s.deliver(ctx, ev) {
			s.queueRedelivery(addr, redelivery{event: ev, attempts: 1})
		}
	}
}

// deliver sends ev and settles its dedup claim. It reports whether the
// event is done: delivered, or undeliverable until the user registers again.
func (s *Scheduler) deliver(ctx context.Context, ev domain.NotificationEvent) bool {
	res := s.deps.Dispatcher.Dispatch(ctx, ev)
	s.deps.Observer.ObserveDispatch(ev, res)

	if res.Delivered {
		if err := s.deps.Ledger.RecordDispatched(ctx, ev.ChannelKey, ev.TxHash); err != nil {
			slog.Warn("Failed to record dispatch", "notification_id", ev.NotificationID, "error", err)
		}
		return true
	}

	if err := s.deps.Ledger.Release(ctx, ev.ChannelKey, ev.TxHash); err != nil {
		slog.Warn("Failed to release dedup claim", "notification_id", ev.NotificationID, "error", err)
	}
	// A rejected token will not start working on its own.
	return res.InvalidToken || errors.Is(res.Err, domain.ErrChannelNotRegistered)
}

func (s *Scheduler) queueRedelivery(addr string, r redelivery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[addr] = append(s.pending[addr], r)
}

// redeliver retries failed dispatches from earlier ticks of addr.
func (s *Scheduler) redeliver(ctx context.Context, addr string) {
	s.mu.Lock()
	queue := s.pending[addr]
	delete(s.pending, addr)
	s.mu.Unlock()

	if len(queue) == 0 {
		return
	}
	s.setState(addr, StateDispatching)

	var keep []redelivery
	for _, r := range queue {
		ok, err := s.deps.Ledger.ShouldDispatch(ctx, r.event.ChannelKey, r.event.TxHash)
		if err != nil {
			keep = append(keep, r)
			continue
		}
		if !ok {
			continue
		}
		if s.deliver(ctx, r.event) {
			continue
		}
		r.attempts++
		if r.attempts > s.cfg.MaxRedeliveries {
			slog.Warn("Giving up on notification",
				"address", addr,
				"channel", r.event.ChannelKey,
				"notification_id", r.event.NotificationID,
				"attempts", r.attempts,
			)
			continue
		}
		keep = append(keep, r)
	}

	if len(keep) > 0 {
		s.mu.Lock()
		s.pending[addr] = append(keep, s.pending[addr]...)
		s.mu.Unlock()
	}
}
