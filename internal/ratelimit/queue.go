package ratelimit

import (
	"context"
	"errors"
	"sync"
)

// ErrSuperseded reports that a queued call was replaced by a newer call
// under the same key before it settled. The superseding caller owns the
// fresh result; the superseded caller must not apply anything.
var ErrSuperseded = errors.New("superseded by a newer request")

// Queue keeps at most one live upstream call per key. Submitting a call
// under a key that already has one in flight cancels the older call and
// takes its place, so only the newest request's outcome is ever
// observable. Dispatches go through the queue's requester, which
// applies the shared gate and retry policy.
type Queue struct {
	requester *Requester

	// OnSupersede, when set, observes each replaced call by key.
	OnSupersede func(key string)

	mu      sync.Mutex
	flights map[string]*flight
}

type flight struct {
	cancel     context.CancelFunc
	superseded bool
}

// NewQueue builds a queue dispatching through the given requester.
func NewQueue(requester *Requester) *Queue {
	return &Queue{
		requester: requester,
		flights:   make(map[string]*flight),
	}
}

// Do runs op as the current call for key. If an older call is in flight
// under the same key, its context is cancelled and its caller receives
// ErrSuperseded no matter how its op settles. The returned error is
// otherwise exactly the requester's outcome; the queue never invents
// failures of its own.
func (q *Queue) Do(ctx context.Context, key string, op func(context.Context) (any, error)) (any, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	f := &flight{cancel: cancel}
	q.mu.Lock()
	prev := q.flights[key]
	if prev != nil {
		prev.superseded = true
		prev.cancel()
	}
	q.flights[key] = f
	q.mu.Unlock()

	if prev != nil && q.OnSupersede != nil {
		q.OnSupersede(key)
	}

	out, err := q.requester.Do(ctx, op)

	q.mu.Lock()
	if q.flights[key] == f {
		delete(q.flights, key)
	}
	wasSuperseded := f.superseded
	q.mu.Unlock()

	if wasSuperseded {
		return nil, ErrSuperseded
	}
	return out, err
}

// InFlight returns the number of keys with a live call.
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.flights)
}
