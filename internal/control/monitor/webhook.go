package monitor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/vietddude/dropwatch/internal/core/domain"
	"github.com/vietddude/dropwatch/internal/indexing/notify"
)

// Farcaster mini-app lifecycle events.
const (
	EventMiniAppAdded          = "miniapp_added"
	EventMiniAppRemoved        = "miniapp_removed"
	EventNotificationsEnabled  = "notifications_enabled"
	EventNotificationsDisabled = "notifications_disabled"
)

// ErrInvalidWebhook is returned for payloads that cannot be decoded or
// fail verification.
var ErrInvalidWebhook = errors.New("invalid webhook")

// NotificationDetails is the channel a client registers for a user.
type NotificationDetails struct {
	URL   string `json:"url"`
	Token string `json:"token"`
}

// WebhookEvent is a decoded lifecycle event.
type WebhookEvent struct {
	Event               string               `json:"event"`
	FID                 int64                `json:"fid"`
	NotificationDetails *NotificationDetails `json:"notificationDetails,omitempty"`
}

// Envelope is the signed form of a webhook body. Each part is base64url JSON.
type Envelope struct {
	Header    string `json:"header"`
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
}

// EnvelopeHeader identifies the signer of an Envelope.
type EnvelopeHeader struct {
	FID  int64  `json:"fid"`
	Type string `json:"type"`
	Key  string `json:"key"`
}

// WebhookVerifier authenticates a signed envelope.
type WebhookVerifier interface {
	Verify(ctx context.Context, header EnvelopeHeader, env Envelope) error
}

// AcceptAll is a WebhookVerifier that trusts every envelope.
type AcceptAll struct{}

func (AcceptAll) Verify(context.Context, EnvelopeHeader, Envelope) error { return nil }

// ParseWebhook decodes either a plain WebhookEvent or a signed Envelope.
func (s *Service) ParseWebhook(ctx context.Context, body []byte) (WebhookEvent, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}
	if env.Header == "" && env.Payload == "" {
		var ev WebhookEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
		}
		return ev, validateEvent(ev)
	}

	var header EnvelopeHeader
	if err := decodePart(env.Header, &header); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: header: %v", ErrInvalidWebhook, err)
	}
	if err := s.deps.Verifier.Verify(ctx, header, env); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}

	var ev WebhookEvent
	if err := decodePart(env.Payload, &ev); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: payload: %v", ErrInvalidWebhook, err)
	}
	ev.FID = header.FID
	return ev, validateEvent(ev)
}

func decodePart(part string, out any) error {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(part, "="))
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func validateEvent(ev WebhookEvent) error {
	if ev.FID <= 0 {
		return fmt.Errorf("%w: missing fid", ErrInvalidWebhook)
	}
	switch ev.Event {
	case EventMiniAppAdded, EventMiniAppRemoved, EventNotificationsEnabled, EventNotificationsDisabled:
		return nil
	}
	return fmt.Errorf("%w: unknown event %q", ErrInvalidWebhook, ev.Event)
}

// HandleWebhook applies a lifecycle event to the channel registrations.
func (s *Service) HandleWebhook(ctx context.Context, body []byte) (WebhookEvent, error) {
	ev, err := s.ParseWebhook(ctx, body)
	if err != nil {
		return ev, err
	}
	log := s.log.With("event", ev.Event, "fid", ev.FID)

	switch ev.Event {
	case EventMiniAppAdded, EventNotificationsEnabled:
		if ev.NotificationDetails == nil || ev.NotificationDetails.URL == "" || ev.NotificationDetails.Token == "" {
			log.Info("Webhook event without notification details")
			return ev, nil
		}
		ch := domain.Channel{
			FID:       ev.FID,
			URL:       ev.NotificationDetails.URL,
			Token:     ev.NotificationDetails.Token,
			UpdatedAt: s.now(),
		}
		if err := s.deps.Channels.Save(ctx, ch); err != nil {
			return ev, fmt.Errorf("failed to save channel: %w", err)
		}
		log.Info("Notification channel registered")
		if ev.Event == EventMiniAppAdded {
			key := domain.Subscription{FID: ev.FID}.ChannelKey()
			s.notifyBestEffort(ctx, notify.Welcome(s.cfg.AppURL, ch, key))
		}

	case EventNotificationsDisabled, EventMiniAppRemoved:
		if err := s.deps.Channels.Delete(ctx, ev.FID); err != nil {
			return ev, fmt.Errorf("failed to delete channel: %w", err)
		}
		removed, err := s.deps.Registry.RemoveByFID(ctx, ev.FID)
		if err != nil {
			return ev, err
		}
		log.Info("Notification channel removed", "subscriptions_removed", removed)
	}
	return ev, nil
}
