package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingPrunable struct{ calls atomic.Int32 }

func (c *countingPrunable) Prune() int {
	c.calls.Add(1)
	return 1
}

func TestPrunerInterval(t *testing.T) {
	tests := []struct {
		window time.Duration
		want   time.Duration
	}{
		{time.Hour, 6 * time.Minute},
		{5 * time.Minute, time.Minute},
		{48 * time.Hour, time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.window.String(), func(t *testing.T) {
			p := NewPruner(&countingPrunable{}, tt.window)
			if got := p.Interval(); got != tt.want {
				t.Errorf("Interval() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPrunerDisabledReturns(t *testing.T) {
	target := &countingPrunable{}
	done := make(chan struct{})
	go func() {
		NewPruner(target, 0).Start(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled pruner should return immediately")
	}
	if target.calls.Load() != 0 {
		t.Errorf("expected no prune calls, got %d", target.calls.Load())
	}
}

type stubSender struct {
	sent int
	err  error
	runs atomic.Int32
}

func (s *stubSender) SendDailySummaries(ctx context.Context) (int, error) {
	s.runs.Add(1)
	return s.sent, s.err
}

func TestSummaryRunsOnInterval(t *testing.T) {
	sender := &stubSender{sent: 2}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewSummary(sender, 10*time.Millisecond).Start(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for sender.runs.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("summary did not run twice")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
}

func TestSummaryErrorDoesNotStopLoop(t *testing.T) {
	sender := &stubSender{err: errors.New("channel store down")}
	s := NewSummary(sender, time.Hour)
	s.run(context.Background())
	s.run(context.Background())
	if sender.runs.Load() != 2 {
		t.Errorf("expected 2 runs, got %d", sender.runs.Load())
	}
}
