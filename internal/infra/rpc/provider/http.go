package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/dropwatch/internal/core/domain"
	"github.com/vietddude/dropwatch/internal/indexing/metrics"
)

// HTTPProvider implements Provider for JSON-RPC over HTTP and plain REST GETs.
type HTTPProvider struct {
	name       string
	endpoint   string
	httpClient *http.Client

	mu           sync.RWMutex
	health       HealthStatus
	totalLatency time.Duration
	successCount int
	failureCount int
	requestCount int

	Monitor *ProviderMonitor
}

// NewHTTPProvider creates a new HTTP-based provider.
func NewHTTPProvider(name, endpoint string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		name:     name,
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		health: HealthStatus{
			Available:     true,
			LastSuccessAt: time.Now(),
		},
		Monitor: NewProviderMonitor(),
	}
}

// Call makes a single JSON-RPC call.
func (p *HTTPProvider) Call(ctx context.Context, method string, params []any) (any, error) {
	if params == nil {
		params = []any{}
	}
	reqBody := map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      1,
	}

	start := time.Now()
	body, err := p.post(ctx, method, reqBody)
	if err != nil {
		return nil, err
	}

	var rpcResp struct {
		Result any       `json:"result"`
		Error  *RPCError `json:"error"`
	}
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		p.recordFailure(method, "parse")
		return nil, fmt.Errorf("parse response: %w", err)
	}

	if rpcResp.Error != nil {
		p.recordFailure(method, "rpc")
		if p.Monitor.DetectThrottlePattern(rpcResp.Error.Message) {
			return nil, fmt.Errorf("%w: %s", domain.ErrRateLimited, rpcResp.Error.Message)
		}
		return nil, rpcResp.Error
	}

	p.recordSuccess(method, time.Since(start))
	return rpcResp.Result, nil
}

// BatchCall makes multiple RPC calls in one request.
// Responses are returned in request order.
func (p *HTTPProvider) BatchCall(ctx context.Context, requests []BatchRequest) ([]BatchResponse, error) {
	batchReq := make([]map[string]any, len(requests))
	for i, req := range requests {
		params := req.Params
		if params == nil {
			params = []any{}
		}
		batchReq[i] = map[string]any{
			"jsonrpc": "2.0",
			"method":  req.Method,
			"params":  params,
			"id":      i + 1,
		}
	}

	start := time.Now()
	body, err := p.post(ctx, "batch", batchReq)
	if err != nil {
		return nil, err
	}

	var batchResp []struct {
		ID     int       `json:"id"`
		Result any       `json:"result"`
		Error  *RPCError `json:"error"`
	}
	if err := json.Unmarshal(body, &batchResp); err != nil {
		p.recordFailure("batch", "parse")
		return nil, fmt.Errorf("parse batch response: %w", err)
	}

	// Servers may reorder batch responses
	sort.Slice(batchResp, func(i, j int) bool { return batchResp[i].ID < batchResp[j].ID })

	responses := make([]BatchResponse, len(requests))
	for _, r := range batchResp {
		idx := r.ID - 1
		if idx < 0 || idx >= len(responses) {
			continue
		}
		if r.Error != nil {
			responses[idx] = BatchResponse{Error: r.Error}
		} else {
			responses[idx] = BatchResponse{Result: r.Result}
		}
	}

	p.recordSuccess("batch", time.Since(start))
	return responses, nil
}

// GetJSON performs a REST GET against the endpoint with query parameters and
// decodes the JSON body into out.
func (p *HTTPProvider) GetJSON(ctx context.Context, query url.Values, out any) error {
	start := time.Now()
	method := query.Get("action")
	if method == "" {
		method = "GET"
	}

	if status := p.Monitor.CheckProviderStatus(); status == StatusThrottled || status == StatusBlocked {
		return fmt.Errorf("%w: provider %s throttled, retry after %v",
			domain.ErrRateLimited, p.name, p.Monitor.GetRetryAfter())
	}

	u := p.endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		p.recordFailure(method, "request")
		return fmt.Errorf("create request: %w", err)
	}

	body, err := p.do(req, method)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		p.recordFailure(method, "parse")
		return fmt.Errorf("parse response: %w", err)
	}
	p.recordSuccess(method, time.Since(start))
	return nil
}

func (p *HTTPProvider) post(ctx context.Context, method string, payload any) ([]byte, error) {
	// Pre-call checks
	if status := p.Monitor.CheckProviderStatus(); status == StatusThrottled || status == StatusBlocked {
		return nil, fmt.Errorf("%w: provider %s throttled, retry after %v",
			domain.ErrRateLimited, p.name, p.Monitor.GetRetryAfter())
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		p.recordFailure(method, "marshal")
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		p.recordFailure(method, "request")
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return p.do(req, method)
}

// do executes req and maps transport failures onto the domain error taxonomy.
func (p *HTTPProvider) do(req *http.Request, method string) ([]byte, error) {
	metrics.RPCCallsTotal.WithLabelValues(p.name, method).Inc()

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.recordFailure(method, "network")
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrUpstreamUnavailable, p.name, err)
	}
	defer resp.Body.Close()

	// Rate limit detection
	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := resp.Header.Get("Retry-After")
		p.Monitor.RecordThrottle(http.StatusTooManyRequests, retryAfter)
		p.recordFailure(method, "429")
		return nil, fmt.Errorf("%w: 429 from %s, retry after: %s", domain.ErrRateLimited, p.name, retryAfter)
	}

	// IP blocked detection
	if resp.StatusCode == http.StatusForbidden {
		p.Monitor.RecordThrottle(http.StatusForbidden, "")
		p.recordFailure(method, "403")
		return nil, fmt.Errorf("%w: ip blocked (403) by %s", domain.ErrRateLimited, p.name)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		p.recordFailure(method, "read")
		return nil, fmt.Errorf("%w: read response: %w", domain.ErrUpstreamUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		p.recordFailure(method, fmt.Sprintf("%d", resp.StatusCode))
		if p.Monitor.DetectThrottlePattern(string(body)) {
			return nil, fmt.Errorf("%w: %s", domain.ErrRateLimited, string(body))
		}
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("%w: http %d: %s", domain.ErrUpstreamUnavailable, resp.StatusCode, string(body))
		}
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// GetName returns the provider's name.
func (p *HTTPProvider) GetName() string {
	return p.name
}

// GetHealth returns the provider's health status.
func (p *HTTPProvider) GetHealth() HealthStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h := p.health
	stats := p.Monitor.GetStats()
	h.MonitorStats = &stats
	return h
}

// Close cleans up resources.
func (p *HTTPProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

// IsAvailable checks if the provider is available.
func (p *HTTPProvider) IsAvailable() bool {
	status := p.Monitor.CheckProviderStatus()
	return status == StatusHealthy || status == StatusDegraded
}

func (p *HTTPProvider) recordSuccess(method string, latency time.Duration) {
	p.Monitor.RecordRequest(latency)
	metrics.RPCLatency.WithLabelValues(p.name, method).Observe(latency.Seconds())

	p.mu.Lock()
	defer p.mu.Unlock()

	p.successCount++
	p.requestCount++
	p.totalLatency += latency
	p.health.LastSuccessAt = time.Now()
	p.health.Available = true

	if p.requestCount > 0 {
		p.health.ErrorRate = float64(p.failureCount) / float64(p.requestCount)
	}
	if p.successCount > 0 {
		p.health.Latency = p.totalLatency / time.Duration(p.successCount)
	}
}

func (p *HTTPProvider) recordFailure(method, errType string) {
	metrics.RPCErrorsTotal.WithLabelValues(p.name, errType).Inc()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.failureCount++
	p.requestCount++
	p.health.LastFailureAt = time.Now()

	if p.requestCount > 0 {
		p.health.ErrorRate = float64(p.failureCount) / float64(p.requestCount)
	}

	if p.health.ErrorRate > 0.5 {
		p.health.Available = false
	}
}

// RPCError is a JSON-RPC error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// IsTimeout reports whether err is a network timeout.
func IsTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
