// Package notify renders and delivers notifications to Farcaster
// notification channels.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/vietddude/dropwatch/internal/core/domain"
	"github.com/vietddude/dropwatch/internal/indexing/emitter"
	"github.com/vietddude/dropwatch/internal/indexing/metrics"
)

// Config controls delivery.
type Config struct {
	Timeout       time.Duration
	RetryAttempts int
	RetryBase     time.Duration
}

// DefaultConfig returns the delivery defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:       10 * time.Second,
		RetryAttempts: 3,
		RetryBase:     500 * time.Millisecond,
	}
}

// ChannelRemover drops a channel registration whose token was rejected.
type ChannelRemover interface {
	Delete(ctx context.Context, fid int64) error
}

// Dispatcher delivers NotificationEvents to channel URLs.
type Dispatcher struct {
	client   *http.Client
	cfg      Config
	channels ChannelRemover
	emitter  emitter.Emitter
	now      func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.client = c }
}

// WithEmitter forwards delivered events to e.
func WithEmitter(e emitter.Emitter) Option {
	return func(d *Dispatcher) { d.emitter = e }
}

// NewDispatcher creates a dispatcher. channels may be nil.
func NewDispatcher(cfg Config, channels ChannelRemover, opts ...Option) *Dispatcher {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = def.RetryAttempts
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = def.RetryBase
	}
	d := &Dispatcher{
		client:   &http.Client{},
		cfg:      cfg,
		channels: channels,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type deliveryResponse struct {
	Result *struct {
		SuccessfulTokens  []string `json:"successfulTokens"`
		InvalidTokens     []string `json:"invalidTokens"`
		RateLimitedTokens []string `json:"rateLimitedTokens"`
	} `json:"result"`
}

// statusError is a non-2xx response from a channel.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("channel responded with status %d", e.code)
}

// Dispatch delivers one event. Failures are reported in the result and
// never returned as a panic or error to the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, event domain.NotificationEvent) domain.DispatchResult {
	res := domain.DispatchResult{
		NotificationID: event.NotificationID,
		ChannelKey:     event.ChannelKey,
	}
	kind := metricKind(event)

	if event.Channel.IsZero() {
		res.Err = domain.ErrChannelNotRegistered
		metrics.NotificationsTotal.WithLabelValues(kind, "not_registered").Inc()
		return res
	}

	body, err := json.Marshal(event.Payload())
	if err != nil {
		res.Err = fmt.Errorf("failed to marshal payload: %w", err)
		metrics.NotificationsTotal.WithLabelValues(kind, "failed").Inc()
		return res
	}

	var out deliveryResponse
	backoff := retry.WithMaxRetries(uint64(d.cfg.RetryAttempts-1), retry.NewExponential(d.cfg.RetryBase))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		res.Attempts++
		code, err := d.post(ctx, event.Channel.URL, body, &out)
		res.StatusCode = code
		return err
	})
	if err != nil {
		res.Err = err
		res.RateLimited = errors.Is(err, domain.ErrRateLimited)
		metrics.NotificationsTotal.WithLabelValues(kind, "failed").Inc()
		slog.Warn("Notification delivery failed",
			"channel", event.ChannelKey,
			"notification_id", event.NotificationID,
			"attempts", res.Attempts,
			"error", err,
		)
		return res
	}

	if r := out.Result; r != nil {
		token := event.Channel.Token
		switch {
		case slices.Contains(r.InvalidTokens, token):
			res.InvalidToken = true
			res.Err = domain.ErrChannelNotRegistered
			metrics.NotificationsTotal.WithLabelValues(kind, "invalid_token").Inc()
			d.dropChannel(ctx, event)
			return res
		case slices.Contains(r.RateLimitedTokens, token):
			res.RateLimited = true
			res.Err = domain.ErrRateLimited
			metrics.NotificationsTotal.WithLabelValues(kind, "rate_limited").Inc()
			slog.Warn("Notification rate limited",
				"channel", event.ChannelKey,
				"notification_id", event.NotificationID,
			)
			return res
		}
	}

	res.Delivered = true
	metrics.NotificationsTotal.WithLabelValues(kind, "delivered").Inc()
	if d.emitter != nil {
		if err := d.emitter.Emit(ctx, emitter.NewRecord(event, d.now())); err != nil {
			slog.Warn("Failed to emit dispatch record", "notification_id", event.NotificationID, "error", err)
		}
	}
	return res
}

// DispatchAll delivers events in order. One failing channel does not stop
// the rest.
func (d *Dispatcher) DispatchAll(ctx context.Context, events []domain.NotificationEvent) []domain.DispatchResult {
	results := make([]domain.DispatchResult, 0, len(events))
	for _, ev := range events {
		results = append(results, d.Dispatch(ctx, ev))
	}
	return results
}

// post sends one attempt. Network errors, 429 and 5xx are retryable.
func (d *Dispatcher) post(ctx context.Context, target string, body []byte, out *deliveryResponse) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, retry.RetryableError(fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, retry.RetryableError(fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return resp.StatusCode, retry.RetryableError(
			fmt.Errorf("%w: %w", domain.ErrRateLimited, &statusError{code: resp.StatusCode}))
	case resp.StatusCode >= 500:
		return resp.StatusCode, retry.RetryableError(
			fmt.Errorf("%w: %w", domain.ErrUpstreamUnavailable, &statusError{code: resp.StatusCode}))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return resp.StatusCode, &statusError{code: resp.StatusCode}
	}

	*out = deliveryResponse{}
	if len(bytes.TrimSpace(data)) > 0 {
		// An unparsable body still counts as delivered.
		_ = json.Unmarshal(data, out)
	}
	return resp.StatusCode, nil
}

func (d *Dispatcher) dropChannel(ctx context.Context, event domain.NotificationEvent) {
	slog.Warn("Channel token rejected, removing registration",
		"channel", event.ChannelKey,
		"notification_id", event.NotificationID,
	)
	if d.channels == nil || event.Channel.FID == 0 {
		return
	}
	if err := d.channels.Delete(ctx, event.Channel.FID); err != nil {
		slog.Warn("Failed to remove channel", "channel", event.ChannelKey, "error", err)
	}
}

func metricKind(event domain.NotificationEvent) string {
	if event.Kind == "" {
		return "system"
	}
	return event.Kind.String()
}
