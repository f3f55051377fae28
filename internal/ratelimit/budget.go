package ratelimit

import (
	"sync"
	"time"
)

// UsageStats holds a snapshot of daily quota consumption.
type UsageStats struct {
	TotalCalls      int            `json:"total_calls"`
	CallsThisHour   int            `json:"calls_this_hour"`
	DailyQuota      int            `json:"daily_quota"`
	RemainingCalls  int            `json:"remaining_calls"`
	UsagePercentage float64        `json:"usage_percentage"`
	CallsByOp       map[string]int `json:"calls_by_op,omitempty"`
	NextResetAt     time.Time      `json:"next_reset_at"`
}

// Budget tracks calls to the upstream analysis service against a daily
// quota and translates consumption into extra pacing. Counters roll
// over at local midnight. A quota of 0 means unlimited: calls are
// recorded for visibility but never delayed or refused.
type Budget struct {
	mu            sync.Mutex
	dailyQuota    int
	totalCalls    int
	callsThisHour int
	hourStart     time.Time
	callsByOp     map[string]int
	resetAt       time.Time

	now func() time.Time
}

// NewBudget creates a tracker for the given daily quota.
func NewBudget(dailyQuota int) *Budget {
	b := &Budget{
		dailyQuota: dailyQuota,
		callsByOp:  make(map[string]int),
		now:        time.Now,
	}
	now := b.now()
	b.hourStart = now
	b.resetAt = nextMidnight(now)
	return b
}

// RecordCall counts one upstream call under the named operation.
func (b *Budget) RecordCall(op string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.rollover(now)

	if now.Sub(b.hourStart) >= time.Hour {
		b.callsThisHour = 0
		b.hourStart = now
	}

	b.totalCalls++
	b.callsThisHour++
	b.callsByOp[op]++
}

// CanMakeCall reports whether the quota still has room.
func (b *Budget) CanMakeCall() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rollover(b.now())
	if b.dailyQuota <= 0 {
		return true
	}
	return b.totalCalls < b.dailyQuota
}

// ThrottleDelay returns how much extra pacing current consumption
// warrants: nothing below half the quota, then progressively longer
// pauses, and a wait until the midnight reset once the quota is spent.
func (b *Budget) ThrottleDelay() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.rollover(now)
	if b.dailyQuota <= 0 {
		return 0
	}

	pct := float64(b.totalCalls) / float64(b.dailyQuota) * 100
	switch {
	case pct < 50:
		return 0
	case pct < 70:
		return 1 * time.Second
	case pct < 90:
		return 3 * time.Second
	case pct < 100:
		return 10 * time.Second
	default:
		return b.resetAt.Sub(now)
	}
}

// Usage returns a copy of the current counters.
func (b *Budget) Usage() UsageStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rollover(b.now())

	remaining := 0
	pct := 0.0
	if b.dailyQuota > 0 {
		remaining = b.dailyQuota - b.totalCalls
		if remaining < 0 {
			remaining = 0
		}
		pct = float64(b.totalCalls) / float64(b.dailyQuota) * 100
	}

	byOp := make(map[string]int, len(b.callsByOp))
	for op, n := range b.callsByOp {
		byOp[op] = n
	}

	return UsageStats{
		TotalCalls:      b.totalCalls,
		CallsThisHour:   b.callsThisHour,
		DailyQuota:      b.dailyQuota,
		RemainingCalls:  remaining,
		UsagePercentage: pct,
		CallsByOp:       byOp,
		NextResetAt:     b.resetAt,
	}
}

// Reset clears all counters and starts a fresh daily window.
func (b *Budget) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.totalCalls = 0
	b.callsThisHour = 0
	b.hourStart = now
	b.callsByOp = make(map[string]int)
	b.resetAt = nextMidnight(now)
}

// rollover resets the counters once the daily window has passed.
// Callers must hold b.mu.
func (b *Budget) rollover(now time.Time) {
	if now.Before(b.resetAt) {
		return
	}
	b.totalCalls = 0
	b.callsThisHour = 0
	b.hourStart = now
	b.callsByOp = make(map[string]int)
	b.resetAt = nextMidnight(now)
}

func nextMidnight(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
}
