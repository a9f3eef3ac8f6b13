// Package studentcode loads student-authored code and exposes its entry
// points to the execution dispatcher. Python's importlib.reload has no
// direct Go equivalent; the closest analogue is Go's plugin package,
// which (re)opens a freshly built .so and resolves symbols from it. A
// plugin can only be loaded once per process, so reload on Linux loads
// each new build under a unique path and keeps the latest generation's
// symbol table; everywhere else (plugin is Linux-only), an in-process
// registry lets tests and non-Linux hosts register entry points directly
// without a shared-object build step.
package studentcode

import (
	"context"
	"fmt"
	"sync"

	"github.com/fieldcore/runtime/internal/exec"
)

// EntryPoint is one named, callable piece of student code: *_setup,
// *_main, or an ad hoc action.
type EntryPoint = exec.Func

// Loader produces the current generation's entry points. The plugin-based
// Linux loader and the in-process test/dev loader both implement it.
type Loader interface {
	Load(ctx context.Context) (map[string]EntryPoint, error)
}

// Module adapts a Loader to exec.Module: Reload asks the Loader for a
// fresh generation of entry points; Lookup resolves a name against the
// most recently loaded generation.
type Module struct {
	loader Loader

	mu      sync.RWMutex
	entries map[string]EntryPoint
}

// NewModule builds a Module that reloads via loader.
func NewModule(loader Loader) *Module {
	return &Module{loader: loader}
}

// Reload asks the loader for a fresh set of entry points. The very first
// call is equivalent to the original's first import; every later call is
// a re-import, swapping in the new generation's symbol table atomically.
func (m *Module) Reload(ctx context.Context) error {
	entries, err := m.loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("studentcode: reload: %w", err)
	}
	m.mu.Lock()
	m.entries = entries
	m.mu.Unlock()
	return nil
}

// Lookup resolves name against the most recently loaded generation.
func (m *Module) Lookup(name string) (exec.Func, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn, ok := m.entries[name]
	return fn, ok
}

// StaticLoader is an in-process Loader whose entry points never change
// across reloads — used in tests and by any host that wants to register
// Go closures directly instead of compiling a plugin.
type StaticLoader map[string]EntryPoint

func (s StaticLoader) Load(ctx context.Context) (map[string]EntryPoint, error) {
	out := make(map[string]EntryPoint, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out, nil
}
