package exec

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"
)

// TimeoutRule pairs an ordered pattern with the timeout assigned to any
// function name it matches. The dispatcher evaluates rules in the order
// given and the first match wins, matching the original's ordered-dict
// pattern matching.
type TimeoutRule struct {
	Pattern *regexp.Regexp
	Timeout float64
}

// DefaultTimeout applies when no rule matches a function name.
const DefaultTimeout = 1.0

// Module is the student-code surface the dispatcher needs: reload it
// fresh on demand, and look up a named entry point. internal/studentcode
// provides the concrete implementation; exec only depends on this
// narrow interface to avoid importing it back.
type Module interface {
	Reload(ctx context.Context) error
	Lookup(name string) (Func, bool)
}

// Dispatcher is the RPC surface §4.4.3 describes: execute, idle, auto,
// teleop, estop. It owns both executors and the student module, and is
// registered as an rpc.Handler by the Executor process.
type Dispatcher struct {
	sync    *SyncExecutor
	async   *AsyncExecutor
	module  Module
	rules   []TimeoutRule
	onEstop func()
	onIdle  func(ctx context.Context) error
	logger  *zap.Logger
}

// NewDispatcher builds a Dispatcher. onEstop is invoked exactly once when
// estop() is dispatched; the caller typically wires it to the process
// supervisor's emergency-stop exit path. onIdle is invoked by Idle after
// both executors are cancelled; the executor role wires it to a device-
// service RPC client's disable() call. onIdle may be nil, in which case
// Idle skips it.
func NewDispatcher(sync *SyncExecutor, async *AsyncExecutor, module Module, rules []TimeoutRule, onEstop func(), onIdle func(ctx context.Context) error, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{sync: sync, async: async, module: module, rules: rules, onEstop: onEstop, onIdle: onIdle, logger: logger}
}

func (d *Dispatcher) timeoutFor(name string) float64 {
	for _, rule := range d.rules {
		if rule.Pattern.MatchString(name) {
			return rule.Timeout
		}
	}
	return DefaultTimeout
}

// Execute reloads the student module, enqueues a sync-executor request
// per named entry point, and — if block is true — awaits every reply.
func (d *Dispatcher) Execute(ctx context.Context, names []string, block, enableGamepads bool) ([]Result, error) {
	if err := d.module.Reload(ctx); err != nil {
		return nil, fmt.Errorf("exec: reload student module: %w", err)
	}
	_ = enableGamepads // accepted but not used: gamepad access is not gated per call

	replies := make([]chan Result, 0, len(names))
	for _, name := range names {
		fn, ok := d.module.Lookup(name)
		if !ok {
			if d.logger != nil {
				d.logger.Warn("execute: no such student entry point", zap.String("name", name))
			}
			continue
		}
		reply := make(chan Result, 1)
		d.sync.Submit(Request{ID: name, Fn: fn, Timeout: d.timeoutFor(name), Reply: reply})
		replies = append(replies, reply)
	}
	if !block {
		return nil, nil
	}
	results := make([]Result, len(replies))
	for i, r := range replies {
		results[i] = <-r
	}
	return results, nil
}

// Idle cancels both executors and sends disable() to the device service
// via onIdle, if one was wired in.
func (d *Dispatcher) Idle(ctx context.Context) error {
	d.sync.SubmitControl(Cancel)
	d.async.SubmitControl(Cancel)
	if d.onIdle != nil {
		if err := d.onIdle(ctx); err != nil {
			if d.logger != nil {
				d.logger.Warn("idle: device disable failed", zap.Error(err))
			}
			return fmt.Errorf("exec: idle disable: %w", err)
		}
	}
	return nil
}

// Auto runs autonomous_setup once, then autonomous_main periodically.
func (d *Dispatcher) Auto(ctx context.Context) error {
	return d.runPhase(ctx, "autonomous_setup", "autonomous_main", false)
}

// Teleop runs teleop_setup once, then teleop_main periodically.
func (d *Dispatcher) Teleop(ctx context.Context) error {
	return d.runPhase(ctx, "teleop_setup", "teleop_main", true)
}

func (d *Dispatcher) runPhase(ctx context.Context, setupName, mainName string, enableGamepads bool) error {
	if err := d.module.Reload(ctx); err != nil {
		return fmt.Errorf("exec: reload student module: %w", err)
	}
	if fn, ok := d.module.Lookup(setupName); ok {
		reply := make(chan Result, 1)
		d.sync.Submit(Request{ID: setupName, Fn: fn, Timeout: d.timeoutFor(setupName), Reply: reply})
		if res := <-reply; res.Err != nil {
			return fmt.Errorf("exec: %s failed: %w", setupName, res.Err)
		}
	}
	if fn, ok := d.module.Lookup(mainName); ok {
		d.sync.Submit(Request{ID: mainName, Fn: fn, Timeout: d.timeoutFor(mainName), Periodic: true})
	}
	return nil
}

// Estop enqueues the stop sentinel on both executors; onEstop propagates
// the emergency-stop exit code up through the process supervisor.
func (d *Dispatcher) Estop(ctx context.Context) error {
	d.sync.SubmitControl(Stop)
	d.async.SubmitControl(Stop)
	if d.onEstop != nil {
		d.onEstop()
	}
	return nil
}

// estopDeadline is 100ms. No code in this package reads it; the executors
// apply no deadline to observing estop().
const estopDeadline = 100 * time.Millisecond
