package rpc

import (
	"math/rand"
	"sync"
)

// maxIDRetries bounds the number of collision retries when generating a
// fresh request id, matching invariant #7's "retried" collision policy.
const maxIDRetries = 10

// pending is the one-shot completion handle a Client registers for an
// in-flight request.
type pending struct {
	done   chan struct{}
	err    *CallError
	result any
}

// RequestTracker maps in-flight 32-bit request ids to their completion
// handles. It is single-process and single-loop in the original design;
// here it is guarded by a mutex so it tolerates being driven from
// multiple goroutines, which is the idiomatic Go shape of "single loop."
type RequestTracker struct {
	mu      sync.Mutex
	rng     *rand.Rand
	pending map[uint32]*pending
}

// NewRequestTracker builds an empty tracker. seed is exposed for
// deterministic tests; production callers pass a time-derived seed.
func NewRequestTracker(seed int64) *RequestTracker {
	return &RequestTracker{
		rng:     rand.New(rand.NewSource(seed)),
		pending: make(map[uint32]*pending),
	}
}

// Register allocates a fresh id with no currently-pending entry, retrying
// on collision up to maxIDRetries times, and returns its completion
// channel.
func (t *RequestTracker) Register() (uint32, *pending, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for attempt := 0; attempt < maxIDRetries; attempt++ {
		id := t.rng.Uint32()
		if _, taken := t.pending[id]; taken {
			continue
		}
		p := &pending{done: make(chan struct{})}
		t.pending[id] = p
		return id, p, nil
	}
	return 0, nil, ErrRequestCollision
}

// Complete resolves the pending entry for id with either callErr or
// result, whichever the RESPONSE carried, and removes it from the table.
func (t *RequestTracker) Complete(id uint32, callErr *CallError, result any) {
	t.mu.Lock()
	p, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	p.err = callErr
	p.result = result
	close(p.done)
}

// Forget removes id without resolving it, used when a Call times out and
// gives up waiting.
func (t *RequestTracker) Forget(id uint32) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}
