package exec

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// ErrTimeout is returned, unwrapped, in the Result of a student callable
// that runs longer than its configured timeout.
var ErrTimeout = errors.New("exec: student call timed out")

// queueDepth bounds the sync executor's request channel.
const queueDepth = 8

// SyncExecutor pulls requests from a bounded channel and runs each one
// to a hard deadline. Go has no POSIX SIGALRM-style thread-directed
// signal to preempt a running goroutine, so timeout enforcement uses a
// watchdog: the callable runs on its own goroutine and, on timeout, the
// executor simply stops waiting and abandons it — the goroutine leaks
// until the callable itself returns, exactly as a runaway student
// function would leak a thread in the signal-based design.
//
// Run must be driven from a single, dedicated goroutine: the original
// requires the main thread because only it receives the timer signal;
// here the analogous requirement is that nothing else submit work
// concurrently with a Run loop expecting exclusive ownership of its
// items channel order.
type SyncExecutor struct {
	items  chan Item
	logger *zap.Logger
}

// NewSyncExecutor builds a SyncExecutor. Callers must call Run exactly
// once, from the thread that owns student-code execution.
func NewSyncExecutor(logger *zap.Logger) *SyncExecutor {
	return &SyncExecutor{items: make(chan Item, queueDepth), logger: logger}
}

// Submit enqueues a one-shot or periodic request.
func (e *SyncExecutor) Submit(r Request) { e.items <- requestItem(r) }

// SubmitControl enqueues Cancel or Stop.
func (e *SyncExecutor) SubmitControl(c ControlRequest) { e.items <- controlItem(c) }

// Run drains items until a Stop control request arrives or ctx is
// cancelled.
func (e *SyncExecutor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item := <-e.items:
			if item.Control != nil {
				switch item.Control.Kind {
				case sentinelCancel:
					e.log("cancel received, nothing in flight to cancel")
					continue
				case sentinelStop:
					return nil
				}
			}
			e.runItem(ctx, *item.Request)
		}
	}
}

func (e *SyncExecutor) runItem(ctx context.Context, r Request) {
	if r.Periodic {
		e.runPeriodic(ctx, r)
		return
	}
	result := e.runWithWatchdog(ctx, r.Fn, r.Timeout)
	if r.Reply != nil {
		r.Reply <- result
	}
}

// runPeriodic invokes r.Fn every r.Timeout seconds, swallowing each
// tick's timeout, until a new item appears on the queue (back-pressure
// cancellation) or ctx is cancelled.
func (e *SyncExecutor) runPeriodic(ctx context.Context, r Request) {
	interval := time.Duration(r.Timeout * float64(time.Second))
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if len(e.items) > 0 {
			return // back-pressure cancellation: a new item is waiting
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result := e.runWithWatchdog(ctx, r.Fn, r.Timeout)
			if result.Err != nil {
				e.log("periodic tick error: " + result.Err.Error())
			}
		}
	}
}

// runWithWatchdog runs fn on its own goroutine and returns ErrTimeout if
// it does not finish within timeout seconds.
func (e *SyncExecutor) runWithWatchdog(ctx context.Context, fn Func, timeout float64) Result {
	if timeout <= 0 {
		timeout = 1
	}
	done := make(chan Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Result{Err: errors.New("exec: student call panicked")}
			}
		}()
		value, err := fn(ctx)
		done <- Result{Value: value, Err: err}
	}()

	timer := time.NewTimer(time.Duration(timeout * float64(time.Second)))
	defer timer.Stop()
	select {
	case result := <-done:
		return result
	case <-timer.C:
		return Result{Err: ErrTimeout}
	}
}

func (e *SyncExecutor) log(msg string) {
	if e.logger != nil {
		e.logger.Debug(msg)
	}
}
