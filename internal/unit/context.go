package unit

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/procman/internal/filesystem"
	"github.com/GriffinCanCode/AgentOS/procman/internal/ipc"
	"github.com/GriffinCanCode/AgentOS/procman/internal/protocol"
)

// ErrExited is returned by Context.Exit. Runners return it to unwind.
var ErrExited = errors.New("unit: process exited")

// Reader is the input side a program sees.
type Reader interface {
	io.Reader
	ReadLine() ([]byte, error)
	ReadAll() ([]byte, error)
	ReadExact(n int) ([]byte, error)
}

// Context is everything a running program owns. It is handed to the Runner
// explicitly rather than kept in package state.
type Context struct {
	PID    int
	Path   string
	Args   []string
	Cwd    string
	Source []byte

	Stdin    *ipc.Pipe
	Stdout   *ipc.Pipe
	Stderr   *ipc.Pipe
	Terminal protocol.Terminal

	PipeStdin      bool
	PipeStdout     bool
	RedirectStdin  string
	RedirectStdout string

	Sys    *protocol.Client
	FS     filesystem.Filesystem
	Logger *zap.Logger

	ctx        context.Context
	in         Reader
	out        io.Writer
	errOut     io.Writer
	redirected *bytes.Buffer

	releaseOnce sync.Once
	exited      bool
}

// NewContext builds a process context from a start payload. Pipes are bound
// to ctx so that cancelling it unblocks every stream operation.
func NewContext(ctx context.Context, p *protocol.StartPayload, sys *protocol.Client, fsys filesystem.Filesystem, logger *zap.Logger) (*Context, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	stderr := p.Stderr
	if stderr == nil {
		stderr = ipc.NewBuffer(1)
	}

	pc := &Context{
		PID:            p.PID,
		Path:           p.Path,
		Args:           p.Args,
		Cwd:            p.Cwd,
		Source:         p.Source,
		Stdin:          ipc.NewPipe(p.Stdin).WithContext(ctx),
		Stdout:         ipc.NewPipe(p.Stdout).WithContext(ctx),
		Stderr:         ipc.NewPipe(stderr).WithContext(ctx),
		Terminal:       p.Terminal,
		PipeStdin:      p.PipeStdin,
		PipeStdout:     p.PipeStdout,
		RedirectStdin:  p.RedirectStdin,
		RedirectStdout: p.RedirectStdout,
		Sys:            sys,
		FS:             fsys,
		Logger:         logger,
		ctx:            ctx,
	}

	switch {
	case pc.RedirectStdin != "":
		if fsys == nil {
			return nil, fmt.Errorf("redirect stdin from %s: no filesystem", pc.RedirectStdin)
		}
		data, err := filesystem.ReadFile(fsys, filesystem.Resolve(pc.Cwd, pc.RedirectStdin))
		if err != nil {
			return nil, fmt.Errorf("redirect stdin: %w", err)
		}
		pc.in = newStreamReader(bytes.NewReader(data))
	case pc.PipeStdin:
		pc.in = pc.Stdin
	case pc.Terminal != nil:
		pc.in = newStreamReader(pc.Terminal)
	default:
		pc.in = pc.Stdin
	}

	switch {
	case pc.RedirectStdout != "":
		pc.redirected = &bytes.Buffer{}
		pc.out = pc.redirected
	case pc.PipeStdout:
		pc.out = pc.Stdout
	case pc.Terminal != nil:
		pc.out = pc.Terminal
	default:
		pc.out = pc.Stdout
	}

	pc.errOut = pc.Stderr
	if pc.Terminal != nil && !pc.PipeStdout {
		pc.errOut = pc.Terminal
	}
	return pc, nil
}

// Context returns the context the process runs under.
func (c *Context) Context() context.Context {
	return c.ctx
}

// In is the resolved input: redirect file, then pipe, then terminal.
func (c *Context) In() Reader {
	return c.in
}

// Out is the resolved output: redirect file, then pipe, then terminal.
func (c *Context) Out() io.Writer {
	return c.out
}

// Err is where diagnostics go.
func (c *Context) Err() io.Writer {
	return c.errOut
}

// Exit flushes and closes the process's outputs, then asks the manager to
// end the process. It returns ErrExited once the manager has answered.
func (c *Context) Exit(code int) error {
	if c.exited {
		return ErrExited
	}
	c.exited = true
	c.release()
	if err := c.Sys.Exit(c.ctx, code); err != nil {
		return fmt.Errorf("exit %d: %w", code, err)
	}
	return ErrExited
}

// Exited reports whether Exit has been called.
func (c *Context) Exited() bool {
	return c.exited
}

// release writes redirected output and posts EOF on stdout and stderr.
func (c *Context) release() {
	c.releaseOnce.Do(func() {
		if c.redirected != nil && c.FS != nil {
			name := filesystem.Resolve(c.Cwd, c.RedirectStdout)
			if err := filesystem.WriteFile(c.FS, name, c.redirected.Bytes()); err != nil {
				c.Logger.Warn("Failed to write redirected output", zap.String("path", name), zap.Error(err))
			}
		}

		for _, p := range []*ipc.Pipe{c.Stdout, c.Stderr} {
			if err := p.Close(); err != nil && !errors.Is(err, ipc.ErrClosed) {
				c.Logger.Debug("Output not closed", zap.Error(err))
			}
		}
	})
}

// streamReader adapts a plain io.Reader to Reader.
type streamReader struct {
	r *bufio.Reader
}

func newStreamReader(r io.Reader) *streamReader {
	return &streamReader{r: bufio.NewReader(r)}
}

func (s *streamReader) Read(p []byte) (int, error) {
	return s.r.Read(p)
}

func (s *streamReader) ReadLine() ([]byte, error) {
	return s.r.ReadBytes('\n')
}

func (s *streamReader) ReadAll() ([]byte, error) {
	return io.ReadAll(s.r)
}

func (s *streamReader) ReadExact(n int) ([]byte, error) {
	buf := make([]byte, n)
	k, err := io.ReadFull(s.r, buf)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	return buf[:k], err
}
