package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vietddude/dropwatch/internal/core/domain"
	"github.com/vietddude/dropwatch/internal/infra/rpc/budget"
	"github.com/vietddude/dropwatch/internal/infra/storage"
)

// =============================================================================
// Stubs
// =============================================================================

type stubHead struct {
	height uint64
	err    error
	calls  int
}

func (s *stubHead) LatestBlock(ctx context.Context) (uint64, error) {
	s.calls++
	return s.height, s.err
}

type stubCursors struct {
	cursors []domain.AddressCursor
	err     error
}

func (s *stubCursors) List(ctx context.Context) ([]domain.AddressCursor, error) {
	return s.cursors, s.err
}

type stubPinger struct{ err error }

func (s stubPinger) Health(ctx context.Context) error { return s.err }

func cursorsAt(blocks ...uint64) *stubCursors {
	out := make([]domain.AddressCursor, len(blocks))
	for i, b := range blocks {
		out[i] = domain.AddressCursor{Address: "0x" + string(rune('a'+i)), Block: b}
	}
	return &stubCursors{cursors: out}
}

func newMonitor(head *stubHead, cursors CursorLister, pingers map[string]storage.Pinger) *Monitor {
	return NewMonitor(map[string]HeadReader{"rpc": head}, cursors, pingers, nil, nil)
}

// =============================================================================
// Tests
// =============================================================================

func TestMonitor_Healthy(t *testing.T) {
	monitor := newMonitor(&stubHead{height: 1000}, cursorsAt(995, 990), nil)

	report := monitor.CheckHealth(context.Background())

	if report.SystemStatus != StatusHealthy {
		t.Errorf("expected healthy, got %s", report.SystemStatus)
	}
	if report.WatchedAddresses != 2 {
		t.Errorf("expected 2 watched addresses, got %d", report.WatchedAddresses)
	}
	if got := report.Sources["rpc"].MaxLag; got != 10 {
		t.Errorf("expected max lag 10, got %d", got)
	}
}

func TestMonitor_Degraded(t *testing.T) {
	monitor := newMonitor(&stubHead{height: 1000}, cursorsAt(995, 900), nil)

	report := monitor.CheckHealth(context.Background())

	if report.SystemStatus != StatusDegraded {
		t.Errorf("expected degraded, got %s", report.SystemStatus)
	}
}

func TestMonitor_Critical(t *testing.T) {
	monitor := newMonitor(&stubHead{height: 1000}, cursorsAt(100), nil)

	report := monitor.CheckHealth(context.Background())

	if report.SystemStatus != StatusCritical {
		t.Errorf("expected critical, got %s", report.SystemStatus)
	}
}

func TestMonitor_AllSourcesDown(t *testing.T) {
	monitor := newMonitor(&stubHead{err: errors.New("dial tcp: refused")}, cursorsAt(), nil)

	report := monitor.CheckHealth(context.Background())

	if report.SystemStatus != StatusCritical {
		t.Errorf("expected critical, got %s", report.SystemStatus)
	}
	if report.Sources["rpc"].Error == "" {
		t.Error("expected source error to be reported")
	}
}

func TestMonitor_OneSourceDown(t *testing.T) {
	monitor := NewMonitor(map[string]HeadReader{
		"rpc":      &stubHead{height: 1000},
		"explorer": &stubHead{err: errors.New("timeout")},
	}, cursorsAt(999), nil, nil, nil)

	report := monitor.CheckHealth(context.Background())

	if report.SystemStatus != StatusDegraded {
		t.Errorf("expected degraded, got %s", report.SystemStatus)
	}
}

func TestMonitor_ComponentDown(t *testing.T) {
	monitor := newMonitor(&stubHead{height: 1000}, cursorsAt(1000), map[string]storage.Pinger{
		"database": stubPinger{},
		"redis":    stubPinger{err: errors.New("connection reset")},
	})

	report := monitor.CheckHealth(context.Background())

	if report.SystemStatus != StatusDegraded {
		t.Errorf("expected degraded, got %s", report.SystemStatus)
	}
	if report.Components["database"].Status != StatusHealthy {
		t.Errorf("expected database healthy, got %s", report.Components["database"].Status)
	}
	if report.Components["redis"].Error == "" {
		t.Error("expected redis error to be reported")
	}
}

func TestMonitor_BudgetExhausted(t *testing.T) {
	tracker := budget.NewBudgetTracker(10, map[string]float64{"rpc": 1})
	for range 10 {
		tracker.RecordCall("rpc", "primary", "eth_blockNumber")
	}
	monitor := NewMonitor(map[string]HeadReader{"rpc": &stubHead{height: 1}}, cursorsAt(1), nil, tracker, []string{"rpc"})

	report := monitor.CheckHealth(context.Background())

	if report.SystemStatus != StatusDegraded {
		t.Errorf("expected degraded, got %s", report.SystemStatus)
	}
	if report.Budget["rpc"].TotalCalls != 10 {
		t.Errorf("expected 10 calls recorded, got %d", report.Budget["rpc"].TotalCalls)
	}
}

func TestMonitor_CachesReport(t *testing.T) {
	head := &stubHead{height: 1000}
	monitor := newMonitor(head, cursorsAt(1000), nil)
	now := time.Unix(1_700_000_000, 0)
	monitor.now = func() time.Time { return now }

	monitor.CheckHealth(context.Background())
	monitor.CheckHealth(context.Background())
	if head.calls != 1 {
		t.Fatalf("expected 1 head call while cached, got %d", head.calls)
	}

	now = now.Add(11 * time.Second)
	monitor.CheckHealth(context.Background())
	if head.calls != 2 {
		t.Errorf("expected refresh after ttl, got %d calls", head.calls)
	}
}

func TestServer_HealthStatusCode(t *testing.T) {
	monitor := newMonitor(&stubHead{height: 1000}, cursorsAt(1), nil)
	srv := NewServer(monitor, 0)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 for critical lag, got %d", rec.Code)
	}
}

func TestServer_LiveAndDetailed(t *testing.T) {
	monitor := newMonitor(&stubHead{height: 1000}, cursorsAt(1000), nil)
	srv := NewServer(monitor, 0)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 from liveness, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/detailed", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 from detailed, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"system_status"`) {
		t.Errorf("detailed report missing system_status: %s", rec.Body.String())
	}
}
