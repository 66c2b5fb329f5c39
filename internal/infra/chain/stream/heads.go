// Package stream turns WebSocket new-head notifications into poll triggers.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/vietddude/dropwatch/internal/indexing/recovery"
)

// HeadClient is the subset of ethclient.Client used for subscriptions.
type HeadClient interface {
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
	Close()
}

// DialFunc opens a HeadClient.
type DialFunc func(ctx context.Context, url string) (HeadClient, error)

// HeadSubscriber keeps a new-head subscription alive and calls OnHead for
// every block.
type HeadSubscriber struct {
	url     string
	dial    DialFunc
	onHead  func(number uint64)
	backoff recovery.RetryStrategy
	log     *slog.Logger
}

// NewHeadSubscriber creates a subscriber for a ws:// or wss:// endpoint.
func NewHeadSubscriber(url string, onHead func(number uint64), backoff recovery.RetryStrategy) *HeadSubscriber {
	if backoff == nil {
		backoff = recovery.DefaultBackoff(nil)
	}
	return &HeadSubscriber{
		url:     url,
		dial:    dialEthclient,
		onHead:  onHead,
		backoff: backoff,
		log:     slog.Default().With("component", "head_stream"),
	}
}

func dialEthclient(ctx context.Context, url string) (HeadClient, error) {
	return ethclient.DialContext(ctx, url)
}

// Run subscribes until ctx is done, reconnecting with backoff. Attempts
// reset after a subscription delivers a head.
func (h *HeadSubscriber) Run(ctx context.Context) error {
	attempt := 0
	for {
		delivered, err := h.subscribe(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if delivered {
			attempt = 0
		}

		delay := h.backoff.GetDelay(attempt)
		attempt++
		h.log.Warn("head subscription dropped, reconnecting", "error", err, "retry_in", delay)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

func (h *HeadSubscriber) subscribe(ctx context.Context) (bool, error) {
	client, err := h.dial(ctx, h.url)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer client.Close()

	headers := make(chan *types.Header, 64)
	sub, err := client.SubscribeNewHead(ctx, headers)
	if err != nil {
		return false, fmt.Errorf("SubscribeNewHead: %w", err)
	}
	defer sub.Unsubscribe()

	h.log.Info("head subscription established", "url", h.url)

	delivered := false
	for {
		select {
		case <-ctx.Done():
			return delivered, ctx.Err()

		case err := <-sub.Err():
			if err == nil {
				err = errors.New("subscription closed")
			}
			// Deliver heads that arrived before the failure
		drain:
			for {
				select {
				case head := <-headers:
					if head != nil && head.Number != nil {
						delivered = true
						h.onHead(head.Number.Uint64())
					}
				default:
					break drain
				}
			}
			return delivered, fmt.Errorf("subscription error: %w", err)

		case head := <-headers:
			if head == nil || head.Number == nil {
				continue
			}
			delivered = true
			h.onHead(head.Number.Uint64())
		}
	}
}
