// Package emitter publishes records of dispatched notifications to
// downstream sinks.
package emitter

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/dropwatch/internal/core/domain"
)

// Record describes one delivered notification.
type Record struct {
	NotificationID string                 `json:"notificationId"`
	ChannelKey     string                 `json:"channelKey"`
	Kind           domain.TransactionKind `json:"kind,omitempty"`
	TxHash         string                 `json:"txHash,omitempty"`
	Title          string                 `json:"title"`
	Body           string                 `json:"body"`
	TargetURL      string                 `json:"targetUrl"`
	DispatchedAt   time.Time              `json:"dispatchedAt"`
}

// NewRecord builds a record from a delivered event.
func NewRecord(event domain.NotificationEvent, at time.Time) Record {
	return Record{
		NotificationID: event.NotificationID,
		ChannelKey:     event.ChannelKey,
		Kind:           event.Kind,
		TxHash:         event.TxHash,
		Title:          event.Title,
		Body:           event.Body,
		TargetURL:      event.TargetURL,
		DispatchedAt:   at,
	}
}

// Emitter defines the interface for emitting dispatch records
type Emitter interface {
	// Emit sends a single record
	Emit(ctx context.Context, rec Record) error

	// EmitBatch sends multiple records
	EmitBatch(ctx context.Context, recs []Record) error

	// Close closes the emitter connection
	Close() error
}

// Multi fans a record out to every emitter. Each emitter is attempted even
// if an earlier one fails.
type Multi []Emitter

func (m Multi) Emit(ctx context.Context, rec Record) error {
	var errs []error
	for _, e := range m {
		if err := e.Emit(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) EmitBatch(ctx context.Context, recs []Record) error {
	var errs []error
	for _, e := range m {
		if err := e.EmitBatch(ctx, recs); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, e := range m {
		if err := e.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
