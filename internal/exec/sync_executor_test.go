package exec

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTimeoutEnforcement is invariant #8: a student function whose body
// sleeps longer than its configured timeout yields a timeout error
// within 2x the timeout.
func TestTimeoutEnforcement(t *testing.T) {
	exec := NewSyncExecutor(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go exec.Run(ctx)

	reply := make(chan Result, 1)
	start := time.Now()
	exec.Submit(Request{
		ID: "slow",
		Fn: func(ctx context.Context) (any, error) {
			time.Sleep(200 * time.Millisecond)
			return nil, nil
		},
		Timeout: 0.05, // 50ms
		Reply:   reply,
	})

	select {
	case result := <-reply:
		elapsed := time.Since(start)
		require.ErrorIs(t, result.Err, ErrTimeout)
		assert.Less(t, elapsed, 100*time.Millisecond, "timeout must fire within 2x the configured timeout")
	case <-time.After(time.Second):
		t.Fatal("executor never replied")
	}
}

// TestIdleIdempotence is invariant #9: idle() on an already-idle
// dispatcher is a no-op that returns successfully.
func TestIdleIdempotence(t *testing.T) {
	sync := NewSyncExecutor(nil)
	async := NewAsyncExecutor(4, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sync.Run(ctx)
	go async.Run(ctx)

	d := NewDispatcher(sync, async, noopModule{}, nil, nil, nil, nil)
	require.NoError(t, d.Idle(ctx))
	require.NoError(t, d.Idle(ctx))
}

// TestIdleNotifiesDeviceService confirms Idle's onIdle hook is invoked,
// the path an executor role wires to a device-service disable() call.
func TestIdleNotifiesDeviceService(t *testing.T) {
	sync := NewSyncExecutor(nil)
	async := NewAsyncExecutor(4, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sync.Run(ctx)
	go async.Run(ctx)

	var notified bool
	d := NewDispatcher(sync, async, noopModule{}, nil, nil, func(ctx context.Context) error {
		notified = true
		return nil
	}, nil)
	require.NoError(t, d.Idle(ctx))
	assert.True(t, notified)
}

// TestS7EmergencyStop reproduces: while the sync executor runs a
// periodic *_main, enqueuing estop() fires onEstop and exits the run loop,
// each within one second.
func TestS7EmergencyStop(t *testing.T) {
	sync := NewSyncExecutor(nil)
	async := NewAsyncExecutor(4, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- sync.Run(ctx) }()
	go async.Run(ctx)

	estopped := make(chan struct{})
	d := NewDispatcher(sync, async, noopModule{}, nil, func() { close(estopped) }, nil, nil)

	sync.Submit(Request{
		ID:       "teleop_main",
		Fn:       func(ctx context.Context) (any, error) { return nil, nil },
		Timeout:  0.01,
		Periodic: true,
	})

	require.NoError(t, d.Estop(ctx))

	select {
	case <-estopped:
	case <-time.After(time.Second):
		t.Fatal("onEstop never fired")
	}
	select {
	case <-runDone:
	case <-time.After(time.Second):
		t.Fatal("sync executor never exited after estop")
	}
}

type noopModule struct{}

func (noopModule) Reload(ctx context.Context) error         { return nil }
func (noopModule) Lookup(name string) (Func, bool)          { return nil, false }
