package provider

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

// ProviderStatus represents the health state of a provider.
type ProviderStatus int

const (
	StatusHealthy   ProviderStatus = iota // Provider is working normally
	StatusDegraded                        // Provider is slow but working
	StatusThrottled                       // Provider is rate limiting
	StatusBlocked                         // Provider has blocked this client
)

func (s ProviderStatus) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusThrottled:
		return "throttled"
	case StatusBlocked:
		return "blocked"
	}
	return "unknown"
}

// MonitorStats holds monitoring statistics for a provider.
type MonitorStats struct {
	Status            ProviderStatus `json:"status"`
	AverageLatency    time.Duration  `json:"average_latency"`
	ThrottleCount429  int            `json:"throttle_count_429"`
	ThrottleCount403  int            `json:"throttle_count_403"`
	RequestsLastHour  int            `json:"requests_last_hour"`
	RequestsLastDay   int            `json:"requests_last_day"`
	EstimatedDayLimit int            `json:"estimated_day_limit"`
	UsagePercentage   float64        `json:"usage_percentage"`
}

// ProviderMonitor tracks provider latency and throttling signals.
type ProviderMonitor struct {
	mu sync.RWMutex

	recentLatencies  []time.Duration
	maxLatencyWindow int

	status429Count   int
	status403Count   int
	throttlePatterns []string
	lastThrottleTime time.Time
	retryAfter       time.Duration

	// Sliding window of request timestamps
	requestTimestamps []time.Time
	EstimatedDayLimit int
	windowDuration    time.Duration

	slowResponseThreshold time.Duration

	now func() time.Time
}

// NewProviderMonitor creates a new monitor with default settings.
func NewProviderMonitor() *ProviderMonitor {
	return &ProviderMonitor{
		recentLatencies:  make([]time.Duration, 0, 100),
		maxLatencyWindow: 100,
		throttlePatterns: []string{
			"rate limit",
			"too many requests",
			"max rate limit reached",
			"daily request count exceeded",
			"project rate limit",
			"monthly quota exceeded",
		},
		requestTimestamps:     make([]time.Time, 0),
		EstimatedDayLimit:     100000, // Conservative estimate
		windowDuration:        24 * time.Hour,
		slowResponseThreshold: 3 * time.Second,
		now:                   time.Now,
	}
}

// RecordRequest records a successful request with its latency.
func (pm *ProviderMonitor) RecordRequest(latency time.Duration) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	now := pm.now()

	pm.recentLatencies = append(pm.recentLatencies, latency)
	if len(pm.recentLatencies) > pm.maxLatencyWindow {
		pm.recentLatencies = pm.recentLatencies[1:]
	}

	pm.requestTimestamps = append(pm.requestTimestamps, now)

	// Drop timestamps outside the window; they are in ascending order
	cutoff := now.Add(-pm.windowDuration)
	i := 0
	for i < len(pm.requestTimestamps) && !pm.requestTimestamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		pm.requestTimestamps = append(pm.requestTimestamps[:0], pm.requestTimestamps[i:]...)
	}
}

// RecordThrottle records a rate limiting or blocking response.
// retryAfter is the raw Retry-After header value (seconds), possibly empty.
func (pm *ProviderMonitor) RecordThrottle(statusCode int, retryAfter string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.lastThrottleTime = pm.now()

	switch statusCode {
	case 429:
		pm.status429Count++
		pm.retryAfter = time.Minute
		if secs, err := strconv.Atoi(strings.TrimSpace(retryAfter)); err == nil && secs > 0 {
			pm.retryAfter = time.Duration(secs) * time.Second
		}
	case 403:
		pm.status403Count++
		pm.retryAfter = 10 * time.Minute // Longer for IP block
	}
}

// DetectThrottlePattern checks if a message contains throttle patterns.
func (pm *ProviderMonitor) DetectThrottlePattern(message string) bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	lowerMsg := strings.ToLower(message)
	for _, pattern := range pm.throttlePatterns {
		if strings.Contains(lowerMsg, pattern) {
			return true
		}
	}
	return false
}

// CheckProviderStatus returns the current status of the provider.
func (pm *ProviderMonitor) CheckProviderStatus() ProviderStatus {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.statusLocked()
}

func (pm *ProviderMonitor) statusLocked() ProviderStatus {
	inCooldown := pm.now().Sub(pm.lastThrottleTime) < pm.retryAfter

	if pm.status403Count > 0 && inCooldown {
		return StatusBlocked
	}
	if pm.status429Count > 0 && inCooldown {
		return StatusThrottled
	}

	if len(pm.recentLatencies) > 10 && pm.averageLocked() > pm.slowResponseThreshold {
		return StatusDegraded
	}

	if pm.EstimatedDayLimit > 0 &&
		float64(len(pm.requestTimestamps))/float64(pm.EstimatedDayLimit) > 0.9 {
		return StatusThrottled
	}

	return StatusHealthy
}

// GetRetryAfter returns remaining time before retry is allowed.
func (pm *ProviderMonitor) GetRetryAfter() time.Duration {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	if pm.retryAfter > 0 {
		remaining := pm.retryAfter - pm.now().Sub(pm.lastThrottleTime)
		if remaining > 0 {
			return remaining
		}
	}
	return 0
}

// GetAverageLatency returns the average latency of recent requests.
func (pm *ProviderMonitor) GetAverageLatency() time.Duration {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.averageLocked()
}

func (pm *ProviderMonitor) averageLocked() time.Duration {
	if len(pm.recentLatencies) == 0 {
		return 0
	}
	var total time.Duration
	for _, lat := range pm.recentLatencies {
		total += lat
	}
	return total / time.Duration(len(pm.recentLatencies))
}

// GetRequestCount returns number of requests in the given duration.
func (pm *ProviderMonitor) GetRequestCount(duration time.Duration) int {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.countLocked(duration)
}

func (pm *ProviderMonitor) countLocked(duration time.Duration) int {
	cutoff := pm.now().Add(-duration)
	count := 0
	for _, t := range pm.requestTimestamps {
		if t.After(cutoff) {
			count++
		}
	}
	return count
}

// GetStats returns current monitoring statistics.
func (pm *ProviderMonitor) GetStats() MonitorStats {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	stats := MonitorStats{
		Status:            pm.statusLocked(),
		AverageLatency:    pm.averageLocked(),
		ThrottleCount429:  pm.status429Count,
		ThrottleCount403:  pm.status403Count,
		RequestsLastHour:  pm.countLocked(time.Hour),
		RequestsLastDay:   len(pm.requestTimestamps),
		EstimatedDayLimit: pm.EstimatedDayLimit,
	}
	if pm.EstimatedDayLimit > 0 {
		stats.UsagePercentage = float64(len(pm.requestTimestamps)) / float64(pm.EstimatedDayLimit) * 100
	}
	return stats
}

// SetDailyLimit updates the estimated daily limit.
func (pm *ProviderMonitor) SetDailyLimit(limit int) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.EstimatedDayLimit = limit
}
