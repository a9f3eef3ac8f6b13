package exec

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultMaxActions bounds the number of concurrently running actions the
// async executor will admit before requeuing new requests.
const DefaultMaxActions = 16

// cooldown is how long a requeued-for-capacity request waits before
// being resubmitted.
const cooldown = 50 * time.Millisecond

type runningAction struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// AsyncExecutor is a cooperative dispatcher of cancellable actions,
// modeled on context.Context cancellation trees as the Go analogue of
// asyncio.Task: each action gets its own derived context, and CANCEL
// cancels every running action's context rather than killing a thread.
type AsyncExecutor struct {
	items      chan Item
	maxActions int
	logger     *zap.Logger

	mu      sync.Mutex
	running map[string]*runningAction
}

// NewAsyncExecutor builds an AsyncExecutor capped at maxActions
// concurrently running actions.
func NewAsyncExecutor(maxActions int, logger *zap.Logger) *AsyncExecutor {
	if maxActions <= 0 {
		maxActions = DefaultMaxActions
	}
	return &AsyncExecutor{
		items:      make(chan Item, queueDepth),
		maxActions: maxActions,
		logger:     logger,
		running:    make(map[string]*runningAction),
	}
}

// Submit enqueues an action request.
func (e *AsyncExecutor) Submit(r Request) { e.items <- requestItem(r) }

// SubmitControl enqueues Cancel or Stop.
func (e *AsyncExecutor) SubmitControl(c ControlRequest) { e.items <- controlItem(c) }

// IsRunning reports whether an action with the given id is currently in
// flight.
func (e *AsyncExecutor) IsRunning(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.running[id]
	return ok
}

// Run drains items until Stop or ctx cancellation, cancelling every
// running action on the way out.
func (e *AsyncExecutor) Run(ctx context.Context) error {
	defer e.cancelAll()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item := <-e.items:
			if item.Control != nil {
				switch item.Control.Kind {
				case sentinelCancel:
					e.cancelAll()
					continue
				case sentinelStop:
					e.cancelAll()
					return nil
				}
			}
			e.admit(ctx, *item.Request)
		}
	}
}

func (e *AsyncExecutor) admit(ctx context.Context, r Request) {
	e.mu.Lock()
	if _, already := e.running[r.ID]; already {
		e.mu.Unlock()
		e.log(fmt.Sprintf("action %s already running, dropping", r.ID))
		return
	}
	if len(e.running) >= e.maxActions {
		e.mu.Unlock()
		e.log(fmt.Sprintf("action %s at capacity, requeuing after cooldown", r.ID))
		go func() {
			time.Sleep(cooldown)
			e.Submit(r)
		}()
		return
	}
	actionCtx, cancel := context.WithCancel(ctx)
	ra := &runningAction{cancel: cancel, done: make(chan struct{})}
	e.running[r.ID] = ra
	e.mu.Unlock()

	go e.runAction(actionCtx, ra, r)
}

func (e *AsyncExecutor) runAction(ctx context.Context, ra *runningAction, r Request) {
	defer close(ra.done)
	defer e.remove(r.ID)

	if r.Periodic {
		e.runPeriodicAction(ctx, r)
		return
	}

	result := e.awaitWithTimeout(ctx, r.Fn, r.Timeout)
	if r.Reply != nil {
		r.Reply <- result
	}
}

// runPeriodicAction invokes the action every r.Timeout seconds, never
// overlapping invocations, until ctx is cancelled.
func (e *AsyncExecutor) runPeriodicAction(ctx context.Context, r Request) {
	interval := time.Duration(r.Timeout * float64(time.Second))
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result := e.awaitWithTimeout(ctx, r.Fn, r.Timeout)
			if result.Err != nil && result.Err != context.Canceled {
				e.log(fmt.Sprintf("action %s tick error: %v", r.ID, result.Err))
			}
		}
	}
}

// awaitWithTimeout runs fn to completion or until ctx is cancelled or
// timeout elapses, whichever first — the cooperative analogue of the
// sync executor's watchdog, except the callable is expected to observe
// ctx.Done() at its own suspension points rather than being abandoned.
func (e *AsyncExecutor) awaitWithTimeout(ctx context.Context, fn Func, timeout float64) Result {
	if timeout <= 0 {
		timeout = 30
	}
	callCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout*float64(time.Second)))
	defer cancel()

	done := make(chan Result, 1)
	go func() {
		value, err := fn(callCtx)
		done <- Result{Value: value, Err: err}
	}()

	select {
	case result := <-done:
		return result
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return Result{Err: context.Canceled}
		}
		return Result{Err: ErrTimeout}
	}
}

func (e *AsyncExecutor) remove(id string) {
	e.mu.Lock()
	delete(e.running, id)
	e.mu.Unlock()
}

func (e *AsyncExecutor) cancelAll() {
	e.mu.Lock()
	actions := make([]*runningAction, 0, len(e.running))
	for _, ra := range e.running {
		actions = append(actions, ra)
	}
	e.mu.Unlock()
	for _, ra := range actions {
		ra.cancel()
	}
}

func (e *AsyncExecutor) log(msg string) {
	if e.logger != nil {
		e.logger.Debug(msg)
	}
}
