// Package process implements the root supervisor: it forks one OS
// process per role (broker, device, executor, challenge), waits on
// whichever of them exits first, and tears every resource down in
// strict reverse-acquisition order.
package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Role names the four OS processes the runtime is split across.
type Role string

const (
	RoleBroker    Role = "broker"
	RoleDevice    Role = "device"
	RoleExecutor  Role = "executor"
	RoleChallenge Role = "challenge"
)

// Exit codes returned by the root process. ExitEstop is distinguished
// from a generic failure so a wrapping launcher (systemd, a field-control
// supervisor) can tell an operator-triggered stop apart from a crash.
const (
	ExitNormal = 0
	ExitEstop  = 9
	ExitError  = 1
)

// EmergencyStop is the only error type permitted to propagate out of
// Supervisor.Run to cmd/runtime's main: every other error is logged and
// converted to a plain non-zero exit.
type EmergencyStop struct {
	Reason string
}

func (e *EmergencyStop) Error() string { return fmt.Sprintf("emergency stop: %s", e.Reason) }

// Closer is a single LIFO-ordered teardown step: a serial port close, a
// socket close, a shared-memory unmap. Collected in acquisition order and
// run in reverse, the same discipline the teacher's relay service applies
// to its connection/output lifecycle.
type Closer func() error

// ShutdownStack accumulates Closers and runs them most-recently-pushed
// first.
type ShutdownStack struct {
	mu      sync.Mutex
	closers []Closer
}

// Push registers c to run during Unwind, after every Closer already
// pushed.
func (s *ShutdownStack) Push(c Closer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closers = append(s.closers, c)
}

// Unwind runs every registered Closer in LIFO order, continuing past
// individual failures and returning the first error encountered.
func (s *ShutdownStack) Unwind(logger *zap.Logger) error {
	s.mu.Lock()
	closers := s.closers
	s.closers = nil
	s.mu.Unlock()

	var firstErr error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			if logger != nil {
				logger.Warn("shutdown step failed", zap.Error(err))
			}
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Spawner starts a role as a subprocess, re-invoking the current binary
// with --role <name> (the Go analogue of Python's multiprocessing.spawn).
type Spawner struct {
	Binary string
	Args   []string // extra args appended after --role <name>
	Logger *zap.Logger
}

// NewSpawner defaults Binary to the currently running executable.
func NewSpawner(logger *zap.Logger, extraArgs ...string) (*Spawner, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("process: resolve executable: %w", err)
	}
	return &Spawner{Binary: self, Args: extraArgs, Logger: logger}, nil
}

func (s *Spawner) command(ctx context.Context, role Role) *exec.Cmd {
	args := append([]string{"run", "--role", string(role)}, s.Args...)
	cmd := exec.CommandContext(ctx, s.Binary, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()
	return cmd
}

// gracePeriod is how long a subprocess is given to exit on its own after
// its context is cancelled before the supervisor sends SIGKILL.
const gracePeriod = 2 * time.Second

// Supervisor runs every role as a child process and waits for the first
// exit, then cancels the rest.
type Supervisor struct {
	spawner *Spawner
	logger  *zap.Logger
}

// NewSupervisor builds a Supervisor that spawns children via spawner.
func NewSupervisor(spawner *Spawner, logger *zap.Logger) *Supervisor {
	return &Supervisor{spawner: spawner, logger: logger}
}

// Run starts every role in roles as a subprocess and blocks until one
// exits or ctx is cancelled (typically by a SIGINT/SIGTERM handler
// installed by the caller), then terminates the rest. The first non-zero
// exit or spawn error is returned.
func (s *Supervisor) Run(ctx context.Context, roles []Role) error {
	childCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(childCtx)
	for _, role := range roles {
		role := role
		g.Go(func() error {
			return s.runChild(gctx, cancel, role)
		})
	}
	return g.Wait()
}

func (s *Supervisor) runChild(ctx context.Context, cancelSiblings context.CancelFunc, role Role) error {
	defer cancelSiblings()
	cmd := s.spawner.command(ctx, role)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("process: start %s: %w", role, err)
	}
	if s.logger != nil {
		s.logger.Info("role started", zap.String("role", string(role)), zap.Int("pid", cmd.Process.Pid))
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		return classifyExit(role, err)
	case <-ctx.Done():
		return s.terminate(cmd, role, done)
	}
}

// terminate asks the child to exit (SIGTERM), waits up to gracePeriod,
// then escalates to SIGKILL.
func (s *Supervisor) terminate(cmd *exec.Cmd, role Role, done <-chan error) error {
	_ = cmd.Process.Signal(syscall.SIGTERM)
	timer := time.NewTimer(gracePeriod)
	defer timer.Stop()
	select {
	case err := <-done:
		return classifyExit(role, err)
	case <-timer.C:
		_ = cmd.Process.Kill()
		<-done
		return nil
	}
}

func classifyExit(role Role, err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if exitErr.ExitCode() == ExitEstop {
			return &EmergencyStop{Reason: fmt.Sprintf("%s exited with estop code", role)}
		}
	}
	return fmt.Errorf("process: %s: %w", role, err)
}

// NotifyContext returns a context cancelled on SIGINT/SIGTERM, the root
// process's shutdown trigger, mirroring the teacher's sigChan-plus-cancel
// idiom in internal/cli/run.go.
func NotifyContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
