package rpc

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryNode is an in-process Node used for tests so the RPC fabric can
// be exercised without a real ZeroMQ or UDP transport. Two memoryNodes
// sharing the same pair of channels stand in for a connected DEALER pair.
type memoryNode struct {
	out    chan<- Inbound
	in     <-chan Inbound
	mu     sync.Mutex
	closed bool
}

func newMemoryNodePair() (*memoryNode, *memoryNode) {
	ab := make(chan Inbound, 256)
	ba := make(chan Inbound, 256)
	return &memoryNode{out: ab, in: ba}, &memoryNode{out: ba, in: ab}
}

func (n *memoryNode) Open(ctx context.Context) error { return nil }

func (n *memoryNode) Send(ctx context.Context, frames []Frame, address string) error {
	n.mu.Lock()
	closed := n.closed
	n.mu.Unlock()
	if closed {
		return ErrNodeClosed
	}
	n.out <- Inbound{Frames: frames, Address: address}
	return nil
}

func (n *memoryNode) Recv(ctx context.Context) (Inbound, error) {
	select {
	case msg := <-n.in:
		return msg, nil
	case <-ctx.Done():
		return Inbound{}, ctx.Err()
	}
}

func (n *memoryNode) Close() error {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()
	return nil
}

func (n *memoryNode) Closed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}

type echoHandler struct{ calls int32 }

func (h *echoHandler) Methods() map[string]Method {
	return map[string]Method{
		"echo_id": func(ctx context.Context, args []any) (any, *CallError) {
			atomic.AddInt32(&h.calls, 1)
			n, ok := args[0].(uint64)
			if !ok {
				if i, ok2 := args[0].(int64); ok2 {
					n = uint64(i)
				}
			}
			return n + 1, nil
		},
	}
}

// TestS6RequestResponse reproduces the request-response scenario: a
// client issuing echo_id(1) to a service returning arg+1 receives 2, and
// with concurrency=3 and 4 concurrent requests, all return the expected
// value.
func TestS6RequestResponse(t *testing.T) {
	clientNode, serviceNode := newMemoryNodePair()

	handler := &echoHandler{}
	svc := NewService(serviceNode, handler, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go svc.Run(ctx, 3)

	tracker := NewRequestTracker(42)
	client := NewClient(clientNode, tracker)
	go client.RecvLoop(ctx)

	result, err := client.Call(ctx, "", "echo_id", []any{uint64(1)}, time.Second)
	require.NoError(t, err)
	assert.EqualValues(t, 2, result)

	var wg sync.WaitGroup
	results := make([]any, 4)
	errs := make([]error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = client.Call(ctx, "", "echo_id", []any{uint64(i)}, time.Second)
		}(i)
	}
	wg.Wait()
	for i := 0; i < 4; i++ {
		require.NoError(t, errs[i])
		assert.EqualValues(t, i+1, results[i])
	}
}

func TestNoSuchMethod(t *testing.T) {
	clientNode, serviceNode := newMemoryNodePair()
	handler := &echoHandler{}
	svc := NewService(serviceNode, handler, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx, 1)

	tracker := NewRequestTracker(7)
	client := NewClient(clientNode, tracker)
	go client.RecvLoop(ctx)

	_, err := client.Call(ctx, "", "no_such_method", nil, time.Second)
	require.Error(t, err)
	var callErr *CallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, "no such method", callErr.Message)
}
