package stream

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/dropwatch/internal/indexing/recovery"
)

type fakeSub struct {
	errCh chan error
}

func (s *fakeSub) Unsubscribe()      {}
func (s *fakeSub) Err() <-chan error { return s.errCh }

type fakeClient struct {
	heads []uint64
	fail  bool
	sub   *fakeSub
}

func (c *fakeClient) SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	if c.fail {
		return nil, errors.New("subscribe refused")
	}
	c.sub = &fakeSub{errCh: make(chan error, 1)}
	go func() {
		for _, n := range c.heads {
			ch <- &types.Header{Number: new(big.Int).SetUint64(n)}
		}
		c.sub.errCh <- errors.New("connection reset")
	}()
	return c.sub, nil
}

func (c *fakeClient) Close() {}

func TestHeadSubscriber_DeliversAndReconnects(t *testing.T) {
	var (
		mu    sync.Mutex
		heads []uint64
		dials int
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backoff := &recovery.ExponentialBackoff{InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, MaxAttempts: 3}
	h := NewHeadSubscriber("ws://example", func(n uint64) {
		mu.Lock()
		heads = append(heads, n)
		if len(heads) == 4 {
			cancel()
		}
		mu.Unlock()
	}, backoff)

	h.dial = func(ctx context.Context, url string) (HeadClient, error) {
		mu.Lock()
		defer mu.Unlock()
		dials++
		if dials == 2 {
			return nil, errors.New("dial refused")
		}
		return &fakeClient{heads: []uint64{uint64(dials*10 + 1), uint64(dials*10 + 2)}}, nil
	}

	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []uint64{11, 12, 31, 32}, heads)
	assert.GreaterOrEqual(t, dials, 3)
}
