package unit

import (
	"context"
	"fmt"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// Runner executes a program inside a process context and returns its exit code.
type Runner interface {
	Run(ctx context.Context, pc *Context) (int, error)
}

// RunnerFunc adapts a Go function to Runner.
type RunnerFunc func(ctx context.Context, pc *Context) (int, error)

func (f RunnerFunc) Run(ctx context.Context, pc *Context) (int, error) {
	return f(ctx, pc)
}

type route struct {
	pattern string
	runner  Runner
}

// Mux picks a Runner by program path. Patterns are doublestar globs,
// tried in registration order; unmatched paths go to the fallback.
type Mux struct {
	mu       sync.RWMutex
	routes   []route // Protected by mu
	fallback Runner
}

// NewMux creates a mux. fallback may be nil.
func NewMux(fallback Runner) *Mux {
	return &Mux{fallback: fallback}
}

// Handle routes programs matching pattern to r.
func (m *Mux) Handle(pattern string, r Runner) error {
	if !doublestar.ValidatePattern(pattern) {
		return fmt.Errorf("invalid program pattern %q", pattern)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes = append(m.routes, route{pattern: pattern, runner: r})
	return nil
}

// Lookup returns the runner registered for path, ignoring the fallback.
func (m *Mux) Lookup(path string) (Runner, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rt := range m.routes {
		if ok, _ := doublestar.Match(rt.pattern, path); ok {
			return rt.runner, true
		}
	}
	return nil, false
}

// Provides reports whether path is served without loading source.
func (m *Mux) Provides(path string) bool {
	_, ok := m.Lookup(path)
	return ok
}

func (m *Mux) Run(ctx context.Context, pc *Context) (int, error) {
	if r, ok := m.Lookup(pc.Path); ok {
		return r.Run(ctx, pc)
	}
	if m.fallback == nil {
		return 127, fmt.Errorf("no runner for %s", pc.Path)
	}
	return m.fallback.Run(ctx, pc)
}
