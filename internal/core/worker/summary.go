package worker

import (
	"context"
	"log/slog"
	"time"
)

// SummarySender delivers one round of daily summaries and reports how many
// channels were notified.
type SummarySender interface {
	SendDailySummaries(ctx context.Context) (int, error)
}

// Summary sends periodic activity summaries to every registered channel.
type Summary struct {
	sender   SummarySender
	interval time.Duration
}

// NewSummary creates a summary worker. A non-positive interval disables it.
func NewSummary(sender SummarySender, interval time.Duration) *Summary {
	return &Summary{sender: sender, interval: interval}
}

// Start runs the summary loop.
func (s *Summary) Start(ctx context.Context) {
	if s.interval <= 0 {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.run(ctx)
		}
	}
}

func (s *Summary) run(ctx context.Context) {
	sent, err := s.sender.SendDailySummaries(ctx)
	if err != nil {
		slog.Warn("Daily summary failed", "sent", sent, "error", err)
		return
	}
	slog.Info("Daily summaries sent", "channels", sent)
}
