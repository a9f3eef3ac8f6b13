package buffer

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// ErrWouldDeadlock and ErrNotOwner mirror EDEADLK/EPERM: the caller already
// holds the lock, or tried to release a lock it does not hold. robustLock
// returns neither: acquire blocks while the lock is held, and release
// without a hold is a no-op.
var (
	ErrWouldDeadlock = errors.New("buffer: lock already held")
	ErrNotOwner      = errors.New("buffer: release without ownership")
)

// robustLock is the Go analogue of a POSIX PTHREAD_MUTEX_ROBUST mutex
// shared across processes. Go has no binding for a true process-shared
// futex-based mutex, so cross-process exclusion is implemented with an
// flock(2) advisory lock on a side-car file next to the shared-memory
// region; goroutine-level exclusion within one process is layered on top
// with a plain sync.Mutex, since flock is granted per open file
// description, not per goroutine.
type robustLock struct {
	path string
	file *os.File
	mu   sync.Mutex // serializes goroutines within this process
	held bool
}

func newRobustLock(path string) *robustLock {
	return &robustLock{path: path}
}

// open creates the lock file if absent. A creation race (two processes
// calling open concurrently) surfaces as EEXIST from O_CREATE|O_EXCL,
// which is suppressed and retried as a plain open, matching the original's
// EINVAL-suppressed retry around first initialization.
func (l *robustLock) open() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
	if errors.Is(err, os.ErrExist) {
		f, err = os.OpenFile(l.path, os.O_RDWR, 0o600)
	}
	if err != nil {
		return fmt.Errorf("buffer: open lock file: %w", err)
	}
	l.file = f
	return nil
}

func (l *robustLock) close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// acquire takes the lock. It is not re-entrant: l.mu is a plain
// sync.Mutex, so an acquire from a goroutine that already holds the lock
// (a nested withLock) blocks until the lock is released.
func (l *robustLock) acquire() error {
	l.mu.Lock()
	if l.held {
		// Already held by this process: treat like EDEADLK, suppressed.
		return nil
	}
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_EX); err != nil {
		l.mu.Unlock()
		return fmt.Errorf("buffer: flock acquire: %w", err)
	}
	l.held = true
	return nil
}

// release drops the lock, suppressing EPERM-equivalent double-release.
func (l *robustLock) release() error {
	if !l.held {
		return nil
	}
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	l.held = false
	l.mu.Unlock()
	if err != nil {
		return fmt.Errorf("buffer: flock release: %w", err)
	}
	return nil
}

// withLock runs fn while holding the lock, always releasing afterward even
// if fn panics or errors — the Go shape of the original's operation()
// context manager.
func (l *robustLock) withLock(fn func() error) error {
	if err := l.acquire(); err != nil {
		return err
	}
	defer l.release()
	return fn()
}
