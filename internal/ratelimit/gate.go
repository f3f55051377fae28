package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Gate enforces a minimum interval between successive dispatches to the
// upstream service. Waiters reserve dispatch slots under a mutex, so the
// spacing holds between any two grants even with concurrent callers, and
// the recorded dispatch time never moves backwards.
type Gate struct {
	mu           sync.Mutex
	minInterval  time.Duration
	lastDispatch time.Time

	now   func() time.Time
	sleep SleepFunc
}

// NewGate returns a gate that spaces dispatches at least minInterval
// apart. The first wait is always granted immediately.
func NewGate(minInterval time.Duration) *Gate {
	return &Gate{
		minInterval: minInterval,
		now:         time.Now,
		sleep:       DefaultSleep,
	}
}

// Wait blocks until the gate grants a dispatch slot, records the slot as
// the new last dispatch time, and returns. The only failure mode is
// context cancellation; a cancelled waiter leaves its reserved slot
// unused rather than giving it back, which keeps spacing conservative.
func (g *Gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	now := g.now()
	next := now
	if !g.lastDispatch.IsZero() {
		if earliest := g.lastDispatch.Add(g.minInterval); earliest.After(next) {
			next = earliest
		}
	}
	g.lastDispatch = next
	wait := next.Sub(now)
	sleep := g.sleep
	g.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	return sleep(ctx, wait)
}

// SetMinInterval changes the spacing applied to subsequent waits.
// Waiters already sleeping keep their reserved slots.
func (g *Gate) SetMinInterval(d time.Duration) {
	g.mu.Lock()
	g.minInterval = d
	g.mu.Unlock()
}

// MinInterval returns the current spacing.
func (g *Gate) MinInterval() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.minInterval
}

// LastDispatch returns the most recently granted dispatch time, which
// may be in the future while waiters hold reserved slots. Zero means
// nothing has been dispatched yet.
func (g *Gate) LastDispatch() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastDispatch
}
