package emitter

import (
	"context"
	"log/slog"
)

// LogEmitter writes records to the structured log.
type LogEmitter struct {
	logger *slog.Logger
}

// NewLogEmitter creates a LogEmitter. A nil logger uses slog.Default.
func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{logger: logger}
}

func (e *LogEmitter) Emit(ctx context.Context, rec Record) error {
	e.logger.InfoContext(ctx, "Notification dispatched",
		"notification_id", rec.NotificationID,
		"channel", rec.ChannelKey,
		"kind", rec.Kind,
		"tx", rec.TxHash,
		"title", rec.Title,
	)
	return nil
}

func (e *LogEmitter) EmitBatch(ctx context.Context, recs []Record) error {
	for _, rec := range recs {
		_ = e.Emit(ctx, rec)
	}
	return nil
}

func (e *LogEmitter) Close() error { return nil }
