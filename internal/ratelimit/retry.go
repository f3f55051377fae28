// Package ratelimit coordinates access to a rate-limited upstream
// service: a throttle gate spaces dispatches, a retry executor handles
// transient failures with exponential backoff, a request queue keeps at
// most one live call per logical key, and a budget tracks daily usage.
package ratelimit

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// SleepFunc pauses for d or returns early with the context's error.
// Tests inject their own to avoid sleeping for real.
type SleepFunc func(ctx context.Context, d time.Duration) error

// DefaultSleep waits on a timer, honoring cancellation.
func DefaultSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// jitterSpread widens each backoff delay by up to 10% so concurrent
// clients that failed together do not retry in lockstep.
const jitterSpread = 0.1

// Policy controls the retry executor. Zero field values are literal
// (MaxRetries 0 means a single attempt); use DefaultPolicy for the
// production configuration. Nil function fields fall back to Retryable,
// a real timer sleep and math/rand.
type Policy struct {
	MaxRetries int           // retries after the initial attempt
	BaseDelay  time.Duration // first backoff delay
	MaxDelay   time.Duration // cap applied after jitter, 0 means uncapped

	// RetryIf decides whether a failed attempt is worth repeating.
	RetryIf func(err error) bool

	// OnRetry observes each scheduled retry: the 1-based number of the
	// attempt that just failed, its classified error and the delay
	// before the next attempt. The executor itself never logs.
	OnRetry func(attempt int, err error, delay time.Duration)

	Sleep SleepFunc
	Rand  func() float64
}

// DefaultPolicy returns the standard upstream policy: two retries,
// 5s base delay, 30s cap.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 2,
		BaseDelay:  5 * time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// Do runs op, retrying failures that the policy considers transient.
// The first attempt starts immediately; the delay before attempt n+1 is
// BaseDelay * 2^(n-1) widened by jitter and capped at MaxDelay. op is
// invoked at most MaxRetries+1 times and never after Do returns. The
// returned error is always classified unless the caller's context ended
// first, in which case it is the context's error.
func Do[T any](ctx context.Context, policy Policy, op func(context.Context) (T, error)) (T, error) {
	var zero T

	sleep := policy.Sleep
	if sleep == nil {
		sleep = DefaultSleep
	}
	randFloat := policy.Rand
	if randFloat == nil {
		randFloat = rand.Float64
	}
	retryIf := policy.RetryIf
	if retryIf == nil {
		retryIf = Retryable
	}
	maxRetries := policy.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	for attempt := 1; ; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		cerr := Classify(err)
		if attempt > maxRetries || !retryIf(cerr) {
			return zero, cerr
		}

		delay := backoffDelay(policy, attempt, randFloat())
		if policy.OnRetry != nil {
			policy.OnRetry(attempt, cerr, delay)
		}
		if serr := sleep(ctx, delay); serr != nil {
			return zero, serr
		}
	}
}

// backoffDelay computes the pause after the given failed attempt:
// BaseDelay doubled per attempt, widened by jitter drawn from
// [0, jitterSpread), then capped at MaxDelay.
func backoffDelay(policy Policy, attempt int, r float64) time.Duration {
	base := float64(policy.BaseDelay)
	if base < 0 {
		base = 0
	}
	d := base * math.Pow(2, float64(attempt-1)) * (1 + r*jitterSpread)
	if policy.MaxDelay > 0 && d > float64(policy.MaxDelay) {
		d = float64(policy.MaxDelay)
	}
	return time.Duration(d)
}

// Requester pairs a gate with a retry policy so every upstream call
// shares one pacing and one retry discipline. Callers that need a typed
// result use the package-level Request helper.
type Requester struct {
	gate   *Gate
	policy Policy

	// OnWait, when set, observes time spent blocked on the gate.
	OnWait func(d time.Duration)
}

// NewRequester builds a requester around the shared gate.
func NewRequester(gate *Gate, policy Policy) *Requester {
	return &Requester{gate: gate, policy: policy}
}

// Do waits for the gate, then hands op to the retry executor. Retries
// do not re-enter the gate; backoff delays already exceed its spacing.
func (r *Requester) Do(ctx context.Context, op func(context.Context) (any, error)) (any, error) {
	return Request(ctx, r, op)
}

// Gate exposes the underlying gate for status reporting.
func (r *Requester) Gate() *Gate {
	return r.gate
}

// Policy returns the requester's retry policy.
func (r *Requester) Policy() Policy {
	return r.policy
}

// Request routes op through the requester's gate and retry policy,
// preserving op's result type.
func Request[T any](ctx context.Context, r *Requester, op func(context.Context) (T, error)) (T, error) {
	var zero T
	start := time.Now()
	if err := r.gate.Wait(ctx); err != nil {
		return zero, err
	}
	if r.OnWait != nil {
		r.OnWait(time.Since(start))
	}
	return Do(ctx, r.policy, op)
}
