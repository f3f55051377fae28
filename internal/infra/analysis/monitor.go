package analysis

import (
	"sync"
	"time"
)

// Status represents the health state of the upstream analysis API.
type Status int

const (
	StatusHealthy   Status = iota // Upstream is working normally
	StatusDegraded                // Upstream is slow but working
	StatusThrottled               // Upstream is rate limiting us
	StatusBlocked                 // Upstream has blocked this client
)

func (s Status) String() string {
	switch s {
	case StatusDegraded:
		return "degraded"
	case StatusThrottled:
		return "throttled"
	case StatusBlocked:
		return "blocked"
	default:
		return "healthy"
	}
}

// Stats holds monitoring statistics for the upstream API.
type Stats struct {
	Status              string        `json:"status"`
	AverageLatency      time.Duration `json:"average_latency"`
	ThrottleCount429    int           `json:"throttle_count_429"`
	ThrottleCount403    int           `json:"throttle_count_403"`
	RequestsLastHour    int           `json:"requests_last_hour"`
	RequestsLast24Hours int           `json:"requests_last_24_hours"`
	RetryAfter          time.Duration `json:"retry_after,omitempty"`
}

// Monitor tracks upstream health and rate limiting.
type Monitor struct {
	mu sync.RWMutex

	// Response time tracking
	recentLatencies  []time.Duration
	maxLatencyWindow int

	// Throttle tracking
	status429Count     int
	status403Count     int
	lastThrottleTime   time.Time
	retryAfterDuration time.Duration

	// Sliding window
	requestTimestamps []time.Time
	windowDuration    time.Duration

	slowResponseThreshold time.Duration

	now func() time.Time
}

// NewMonitor creates a monitor with default settings.
func NewMonitor() *Monitor {
	return &Monitor{
		recentLatencies:       make([]time.Duration, 0, 100),
		maxLatencyWindow:      100,
		windowDuration:        24 * time.Hour,
		slowResponseThreshold: 3 * time.Second,
		now:                   time.Now,
	}
}

// RecordRequest records a successful request with its latency.
func (m *Monitor) RecordRequest(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()

	m.recentLatencies = append(m.recentLatencies, latency)
	if len(m.recentLatencies) > m.maxLatencyWindow {
		m.recentLatencies = m.recentLatencies[1:]
	}

	m.requestTimestamps = append(m.requestTimestamps, now)

	// Drop timestamps outside the window
	cutoff := now.Add(-m.windowDuration)
	filtered := m.requestTimestamps[:0]
	for _, t := range m.requestTimestamps {
		if t.After(cutoff) {
			filtered = append(filtered, t)
		}
	}
	m.requestTimestamps = filtered
}

// RecordThrottle records a rate limiting or blocking response. For 429
// responses the server's Retry-After wins when present, otherwise a
// one minute pause is assumed. A 403 is treated as a longer block.
func (m *Monitor) RecordThrottle(statusCode int, retryAfter time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastThrottleTime = m.now()

	switch statusCode {
	case 429:
		m.status429Count++
		if retryAfter > 0 {
			m.retryAfterDuration = retryAfter
		} else {
			m.retryAfterDuration = time.Minute
		}
	case 403:
		m.status403Count++
		m.retryAfterDuration = 10 * time.Minute
	}
}

// CheckStatus returns the current status of the upstream.
func (m *Monitor) CheckStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.status403Count > 0 && m.now().Sub(m.lastThrottleTime) < m.retryAfterDuration {
		return StatusBlocked
	}

	if m.status429Count > 0 && m.now().Sub(m.lastThrottleTime) < m.retryAfterDuration {
		return StatusThrottled
	}

	if len(m.recentLatencies) > 10 {
		var total time.Duration
		for _, lat := range m.recentLatencies {
			total += lat
		}
		avg := total / time.Duration(len(m.recentLatencies))

		if avg > m.slowResponseThreshold {
			return StatusDegraded
		}
	}

	return StatusHealthy
}

// RetryAfter returns remaining time before the upstream should be called again.
func (m *Monitor) RetryAfter() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.retryAfterDuration > 0 {
		remaining := m.retryAfterDuration - m.now().Sub(m.lastThrottleTime)
		if remaining > 0 {
			return remaining
		}
	}

	return 0
}

// AverageLatency returns the average latency of recent requests.
func (m *Monitor) AverageLatency() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.recentLatencies) == 0 {
		return 0
	}

	var total time.Duration
	for _, lat := range m.recentLatencies {
		total += lat
	}

	return total / time.Duration(len(m.recentLatencies))
}

// RequestCount returns the number of requests within the given duration.
func (m *Monitor) RequestCount(duration time.Duration) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := m.now().Add(-duration)
	count := 0

	for _, t := range m.requestTimestamps {
		if t.After(cutoff) {
			count++
		}
	}

	return count
}

// GetStats returns current monitoring statistics.
func (m *Monitor) GetStats() Stats {
	status := m.CheckStatus()
	avgLatency := m.AverageLatency()
	lastHour := m.RequestCount(time.Hour)
	retryAfter := m.RetryAfter()

	m.mu.RLock()
	defer m.mu.RUnlock()

	return Stats{
		Status:              status.String(),
		AverageLatency:      avgLatency,
		ThrottleCount429:    m.status429Count,
		ThrottleCount403:    m.status403Count,
		RequestsLastHour:    lastHour,
		RequestsLast24Hours: len(m.requestTimestamps),
		RetryAfter:          retryAfter,
	}
}
