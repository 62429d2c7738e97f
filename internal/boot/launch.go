package boot

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/procman/internal/protocol"
)

// Syscalls is the part of the manager's client a launch needs.
type Syscalls interface {
	Create(ctx context.Context, req protocol.CreateRequest) (int, error)
	Pipe(ctx context.Context, out, in int) error
	Start(ctx context.Context, pid int) error
	Watch(pid int) (func(ctx context.Context) (int, error), error)
}

// Launched records what happened to one manifest entry.
type Launched struct {
	Name    string
	Path    string
	PID     int
	Started bool
	Exited  bool
	Code    int
}

// Launch runs the manifest in two passes. Every entry is created and piped
// first, so producers cannot exit before their consumers are joined; then
// entries are started in order, waiting where asked. It stops at the first
// failure and returns what was launched so far.
func Launch(ctx context.Context, sys Syscalls, m *Manifest, logger *zap.Logger) ([]Launched, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	// Producers named by a later stdin_from need a pipe-eligible stdout.
	producers := make(map[string]bool)
	for _, p := range m.Programs {
		if p.StdinFrom != "" {
			producers[p.StdinFrom] = true
		}
	}

	pids := make(map[string]int)
	out := make([]Launched, 0, len(m.Programs))
	for _, p := range m.Programs {
		req := protocol.CreateRequest{
			Path:       p.Path,
			Args:       p.Args,
			Cwd:        p.Cwd,
			PipeStdin:  p.PipeStdin || p.StdinFrom != "",
			PipeStdout: p.PipeStdout || (p.Name != "" && producers[p.Name]),
		}
		pid, err := sys.Create(ctx, req)
		if err != nil {
			return out, fmt.Errorf("create %s: %w", p.Path, err)
		}
		if p.Name != "" {
			pids[p.Name] = pid
		}
		out = append(out, Launched{Name: p.Name, Path: p.Path, PID: pid})

		if p.StdinFrom != "" {
			if err := sys.Pipe(ctx, pids[p.StdinFrom], pid); err != nil {
				return out, fmt.Errorf("pipe %s into %s: %w", p.StdinFrom, p.Path, err)
			}
		}
	}

	for i, p := range m.Programs {
		if !p.Start && !p.Wait {
			continue
		}
		l := &out[i]

		var wait func(context.Context) (int, error)
		if p.Wait {
			var err error
			if wait, err = sys.Watch(l.PID); err != nil {
				return out, fmt.Errorf("wait %s: %w", p.Path, err)
			}
		}
		if err := sys.Start(ctx, l.PID); err != nil {
			return out, fmt.Errorf("start %s: %w", p.Path, err)
		}
		l.Started = true
		logger.Info("Boot program started",
			zap.String("name", p.Name),
			zap.String("path", p.Path),
			zap.Int("pid", l.PID))

		if wait != nil {
			code, err := wait(ctx)
			if err != nil {
				return out, fmt.Errorf("wait %s: %w", p.Path, err)
			}
			l.Exited, l.Code = true, code
			logger.Info("Boot program finished", zap.String("path", p.Path), zap.Int("code", code))
		}
	}
	return out, nil
}
