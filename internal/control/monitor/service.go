// Package monitor implements the MonitorService: wallet subscription
// management, on-demand activity lookups, channel registration from
// Farcaster webhooks, and ad hoc notifications.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/dropwatch/internal/core/domain"
	"github.com/vietddude/dropwatch/internal/indexing/classify"
	"github.com/vietddude/dropwatch/internal/indexing/notify"
	"github.com/vietddude/dropwatch/internal/infra/chain"
	"github.com/vietddude/dropwatch/internal/infra/storage"
)

// ErrInvalidRequest is returned for requests missing required fields.
var ErrInvalidRequest = errors.New("invalid request")

// Registry is the subscription registry surface the service needs.
type Registry interface {
	Add(ctx context.Context, sub domain.Subscription) (bool, error)
	Remove(ctx context.Context, address, userID string) (bool, error)
	RemoveByFID(ctx context.Context, fid int64) (int, error)
	ListByFID(ctx context.Context, fid int64) ([]domain.Subscription, error)
	Watched() []string
}

// HeadReader reports the current chain head.
type HeadReader interface {
	LatestBlock(ctx context.Context) (uint64, error)
}

// Dispatcher delivers one notification.
type Dispatcher interface {
	Dispatch(ctx context.Context, event domain.NotificationEvent) domain.DispatchResult
}

// Config holds service settings.
type Config struct {
	AppURL string
	// ActivityLookbackBlocks bounds on-demand range scans.
	ActivityLookbackBlocks uint64
	// RecentSize is how many observed transactions the snapshot keeps.
	RecentSize int
	CallTimeout time.Duration
}

// DefaultConfig returns the service defaults.
func DefaultConfig() Config {
	return Config{
		AppURL:                 notify.DefaultAppURL,
		ActivityLookbackBlocks: 100,
		RecentSize:             100,
		CallTimeout:            8 * time.Second,
	}
}

// Deps are the collaborators of a Service.
type Deps struct {
	Registry   Registry
	Channels   storage.ChannelStore
	Source     chain.Source
	Head       HeadReader // defaults to Source
	Classifier *classify.Classifier
	Dispatcher Dispatcher
	Verifier   WebhookVerifier // defaults to AcceptAll
}

// Service is the MonitorService.
type Service struct {
	cfg  Config
	deps Deps
	log  *slog.Logger

	trigger func()

	mu          sync.Mutex
	recent      []domain.ClassifiedTransaction
	significant []domain.ClassifiedTransaction
	detected    map[string]int // address -> transactions since last summary
	delivered   int
	failed      int
	lastUpdate  time.Time
	now         func() time.Time
}

// NewService creates a MonitorService.
func NewService(cfg Config, deps Deps) *Service {
	def := DefaultConfig()
	if cfg.AppURL == "" {
		cfg.AppURL = def.AppURL
	}
	if cfg.ActivityLookbackBlocks == 0 {
		cfg.ActivityLookbackBlocks = def.ActivityLookbackBlocks
	}
	if cfg.RecentSize <= 0 {
		cfg.RecentSize = def.RecentSize
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if deps.Head == nil {
		deps.Head = deps.Source
	}
	if deps.Verifier == nil {
		deps.Verifier = AcceptAll{}
	}
	return &Service{
		cfg:      cfg,
		deps:     deps,
		log:      slog.Default().With("component", "monitor"),
		trigger:  func() {},
		detected: make(map[string]int),
		now:      time.Now,
	}
}

// SetTrigger registers the hook run after a wallet is added, normally the
// scheduler's Trigger.
func (s *Service) SetTrigger(fn func()) {
	if fn != nil {
		s.trigger = fn
	}
}

// AddWalletRequest is the input of AddWallet.
type AddWalletRequest struct {
	Address string
	UserID  string
	FID     int64
	Filter  *domain.FilterConfig
}

// AddWallet subscribes a user to a wallet. The user's registered channel,
// if any, is attached and notified.
func (s *Service) AddWallet(ctx context.Context, req AddWalletRequest) error {
	if req.UserID == "" {
		return fmt.Errorf("%w: userId is required", ErrInvalidRequest)
	}
	if !domain.IsValidAddress(req.Address) {
		return fmt.Errorf("%w: %q", domain.ErrInvalidAddress, req.Address)
	}
	// Defaults only when no filter was sent; an explicit all-off filter stands
	filter := domain.DefaultFilterConfig()
	if req.Filter != nil {
		if err := req.Filter.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		filter = *req.Filter
	}

	sub := domain.Subscription{
		Address: req.Address,
		UserID:  req.UserID,
		FID:     req.FID,
		Channel: s.channelFor(ctx, req.FID),
		Filter:  filter,
	}

	created, err := s.deps.Registry.Add(ctx, sub)
	if err != nil {
		return err
	}
	if created {
		s.notifyBestEffort(ctx, notify.WalletAdded(s.cfg.AppURL, sub.Channel, sub.ChannelKey(), sub.Address))
	}
	s.trigger()
	return nil
}

// RemoveWallet unsubscribes a user from a wallet. Removing an absent
// subscription reports false without error.
func (s *Service) RemoveWallet(ctx context.Context, address, userID string, fid int64) (bool, error) {
	if userID == "" {
		return false, fmt.Errorf("%w: userId is required", ErrInvalidRequest)
	}
	if !domain.IsValidAddress(address) {
		return false, fmt.Errorf("%w: %q", domain.ErrInvalidAddress, address)
	}

	removed, err := s.deps.Registry.Remove(ctx, address, userID)
	if err != nil || !removed {
		return removed, err
	}
	sub := domain.Subscription{UserID: userID, FID: fid}
	s.notifyBestEffort(ctx, notify.WalletRemoved(s.cfg.AppURL, s.channelFor(ctx, fid), sub.ChannelKey(), address))
	return true, nil
}

// SendRequest is the input of SendNotification.
type SendRequest struct {
	FID            int64
	Title          string
	Body           string
	TargetURL      string
	NotificationID string
}

// SendNotification forwards an ad hoc notification to the channel
// registered for FID. It returns domain.ErrChannelNotRegistered when there
// is none.
func (s *Service) SendNotification(ctx context.Context, req SendRequest) (domain.DispatchResult, error) {
	if req.FID <= 0 || req.Title == "" || req.Body == "" {
		return domain.DispatchResult{}, fmt.Errorf("%w: fid, title and body are required", ErrInvalidRequest)
	}
	ch := s.channelFor(ctx, req.FID)
	if ch.IsZero() {
		return domain.DispatchResult{}, domain.ErrChannelNotRegistered
	}

	target := req.TargetURL
	if target == "" {
		target = s.cfg.AppURL
	}
	sub := domain.Subscription{FID: req.FID}
	ev := notify.SystemEvent(ch, sub.ChannelKey(), req.Title, req.Body, target)
	if req.NotificationID != "" {
		ev.NotificationID = req.NotificationID
	}

	res := s.deps.Dispatcher.Dispatch(ctx, ev)
	if !res.Delivered {
		if res.Err != nil {
			return res, res.Err
		}
		return res, domain.ErrUpstreamUnavailable
	}
	return res, nil
}

// SendDailySummaries notifies every registered channel with its tracked
// wallet count and the transactions detected since the previous round.
func (s *Service) SendDailySummaries(ctx context.Context) (int, error) {
	channels, err := s.deps.Channels.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list channels: %w", err)
	}

	counts := s.takeDetected()
	sent := 0
	var errs []error
	for _, ch := range channels {
		if ch.IsZero() {
			continue
		}
		subs, err := s.deps.Registry.ListByFID(ctx, ch.FID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if len(subs) == 0 {
			continue
		}
		txs := 0
		seen := make(map[string]bool, len(subs))
		for _, sub := range subs {
			if !seen[sub.Address] {
				seen[sub.Address] = true
				txs += counts[sub.Address]
			}
		}

		key := domain.Subscription{FID: ch.FID}.ChannelKey()
		res := s.deps.Dispatcher.Dispatch(ctx, notify.DailySummary(s.cfg.AppURL, ch, key, len(seen), txs))
		if res.Delivered {
			sent++
		} else if res.Err != nil {
			errs = append(errs, fmt.Errorf("fid %d: %w", ch.FID, res.Err))
		}
	}
	return sent, errors.Join(errs...)
}

// channelFor returns the registered channel of fid, or a zero Channel.
func (s *Service) channelFor(ctx context.Context, fid int64) domain.Channel {
	if fid <= 0 || s.deps.Channels == nil {
		return domain.Channel{}
	}
	ch, err := s.deps.Channels.Get(ctx, fid)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.log.Warn("Channel lookup failed", "fid", fid, "error", err)
		}
		return domain.Channel{}
	}
	return ch
}

func (s *Service) notifyBestEffort(ctx context.Context, ev domain.NotificationEvent) {
	if ev.Channel.IsZero() {
		return
	}
	res := s.deps.Dispatcher.Dispatch(ctx, ev)
	if !res.Delivered {
		s.log.Warn("Notification not delivered",
			"notification_id", ev.NotificationID,
			"channel", ev.ChannelKey,
			"error", res.Err,
		)
	}
}
