package routing

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/vietddude/dropwatch/internal/core/domain"
	"github.com/vietddude/dropwatch/internal/infra/rpc/provider"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err    error
		expect ErrorAction
	}{
		{fmt.Errorf("%w: 429 from base", domain.ErrRateLimited), ActionFailover},
		{fmt.Errorf("%w: ip blocked (403)", domain.ErrRateLimited), ActionFailover},
		{&provider.RPCError{Code: -32600, Message: "invalid request"}, ActionFatal},
		{&provider.RPCError{Code: -32601, Message: "method not found"}, ActionFatal},
		{fmt.Errorf("wrapped: %w", &provider.RPCError{Code: -32700, Message: "parse error"}), ActionFatal},
		{&provider.RPCError{Code: -32000, Message: "header not found"}, ActionRetry},
		{fmt.Errorf("%w: connection reset by peer", domain.ErrUpstreamUnavailable), ActionRetry},
		{errors.New("timeout"), ActionRetry},
		{context.Canceled, ActionFatal},
	}

	for _, tt := range tests {
		if got := ClassifyError(tt.err); got != tt.expect {
			t.Errorf("ClassifyError(%q) = %v, want %v", tt.err, got, tt.expect)
		}
	}
}

var fastRetry = RetryConfig{
	MaxAttempts:     3,
	InitialDelay:    time.Millisecond,
	MaxDelay:        5 * time.Millisecond,
	BackoffMultiple: 2,
}

func TestCallWithRetry_RecoversFromTransient(t *testing.T) {
	calls := 0
	got, err := CallWithRetry(context.Background(), fastRetry, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", domain.ErrUpstreamUnavailable
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" || calls != 3 {
		t.Errorf("got %q after %d calls", got, calls)
	}
}

func TestCallWithRetry_StopsOnRateLimit(t *testing.T) {
	calls := 0
	_, err := CallWithRetry(context.Background(), fastRetry, func(context.Context) (int, error) {
		calls++
		return 0, domain.ErrRateLimited
	})
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected a single attempt, got %d", calls)
	}
}

type stubProvider struct {
	name string
	err  error
}

func (s *stubProvider) GetName() string                     { return s.name }
func (s *stubProvider) GetHealth() provider.HealthStatus    { return provider.HealthStatus{Available: true} }
func (s *stubProvider) IsAvailable() bool                   { return true }
func (s *stubProvider) Close() error                        { return nil }
func (s *stubProvider) Call(context.Context) (string, error) { return s.name, s.err }

func TestCallWithRetryAndFailover(t *testing.T) {
	r := NewRouter()
	r.AddProvider(&stubProvider{name: "primary", err: domain.ErrRateLimited})
	r.AddProvider(&stubProvider{name: "secondary"})

	got, used, err := CallWithRetryAndFailover(context.Background(), r, fastRetry,
		func(ctx context.Context, p *stubProvider) (string, error) {
			return p.Call(ctx)
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "secondary" || used != "secondary" {
		t.Errorf("expected failover to secondary, got %q via %q", got, used)
	}
}

func TestCallWithRetryAndFailover_AllFail(t *testing.T) {
	r := NewRouter()
	r.AddProvider(&stubProvider{name: "a", err: errors.New("boom")})
	r.AddProvider(&stubProvider{name: "b", err: errors.New("boom")})

	_, _, err := CallWithRetryAndFailover(context.Background(), r, fastRetry,
		func(ctx context.Context, p *stubProvider) (string, error) {
			return p.Call(ctx)
		})
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
}

func TestRouter_CircuitBreaker(t *testing.T) {
	r := NewRouter()
	now := time.Now()
	r.now = func() time.Time { return now }

	bad := &stubProvider{name: "bad"}
	good := &stubProvider{name: "good"}
	r.AddProvider(bad)
	r.AddProvider(good)

	for i := 0; i < circuitThreshold; i++ {
		r.RecordFailure("bad", errors.New("boom"))
	}
	if !r.CircuitOpen("bad") {
		t.Fatal("expected circuit to open")
	}

	all := r.GetAllProviders()
	if all[0].GetName() != "good" {
		t.Errorf("expected healthy provider first, got %s", all[0].GetName())
	}
	for i := 0; i < 4; i++ {
		p, err := r.GetProvider()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.GetName() != "good" {
			t.Errorf("open circuit provider selected")
		}
	}

	now = now.Add(circuitCooldown)
	if r.GetAllProviders()[0].GetName() != "bad" {
		t.Error("expected provider to be half-open after cooldown")
	}

	r.RecordSuccess("bad", time.Millisecond)
	if r.CircuitOpen("bad") {
		t.Error("expected circuit to close after success")
	}
}
