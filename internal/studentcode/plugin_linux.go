//go:build linux

package studentcode

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"plugin"
	"sync/atomic"

	"github.com/fieldcore/runtime/internal/exec"
)

// entrySymbol is the exported symbol every student-code plugin must
// define: func() map[string]exec.Func, returning its *_setup/*_main
// entry points plus any ad hoc actions.
const entrySymbol = "Entrypoints"

// PluginLoader opens the next generation of a student-code .so on every
// Reload; it does not build it. A plugin.Open'd path is cached forever by
// the Go runtime, so each generation is opened from a distinct path —
// callers are expected to have already produced buildDir/genNNNN.so via
// `go build -buildmode=plugin`
// before calling Load.
type PluginLoader struct {
	buildDir string
	gen      uint64
}

// NewPluginLoader builds a loader that looks for compiled generations
// under buildDir.
func NewPluginLoader(buildDir string) *PluginLoader {
	return &PluginLoader{buildDir: buildDir}
}

// Load opens the next generation's plugin and resolves its entry points.
func (l *PluginLoader) Load(ctx context.Context) (map[string]EntryPoint, error) {
	gen := atomic.AddUint64(&l.gen, 1)
	path := filepath.Join(l.buildDir, fmt.Sprintf("gen%04d.so", gen))
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("studentcode: generation %d not built at %s: %w", gen, path, err)
	}

	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("studentcode: open plugin %s: %w", path, err)
	}
	sym, err := p.Lookup(entrySymbol)
	if err != nil {
		return nil, fmt.Errorf("studentcode: plugin %s missing %s: %w", path, entrySymbol, err)
	}
	factory, ok := sym.(func() map[string]exec.Func)
	if !ok {
		return nil, fmt.Errorf("studentcode: plugin %s has wrong Entrypoints signature", path)
	}
	return factory(), nil
}
