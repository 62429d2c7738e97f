package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/procman/internal/filesystem"
	"github.com/GriffinCanCode/AgentOS/procman/internal/protocol"
	"github.com/GriffinCanCode/AgentOS/procman/internal/unit"
)

const defaultChunk = 4096

// errExit is the interrupt value exit() uses to unwind the VM.
var errExit = errors.New("sandbox: exit")

// Runner executes JavaScript program sources. It is safe for concurrent
// use; every Run gets a fresh VM.
type Runner struct {
	config Config
	logger *zap.Logger
}

// New creates a JavaScript runner
func New(config Config, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{config: config, logger: logger}
}

// Run compiles and executes pc.Source. A program that returns normally exits
// with 0 and one that throws exits with 1.
func (r *Runner) Run(ctx context.Context, pc *unit.Context) (int, error) {
	prog, err := goja.Compile(pc.Path, string(pc.Source), false)
	if err != nil {
		fmt.Fprintf(pc.Err(), "%s: %v\n", pc.Path, err)
		return 2, fmt.Errorf("compile %s: %w", pc.Path, err)
	}

	vm := goja.New()
	if r.config.StackSize > 0 {
		vm.SetMaxCallStackSize(r.config.StackSize)
	}

	p := &process{vm: vm, pc: pc, ctx: ctx}
	if err := r.setupGlobals(p); err != nil {
		return 1, err
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt("process killed")
		case <-stop:
		}
	}()

	_, err = vm.RunProgram(prog)
	switch {
	case p.exited:
		return p.code, unit.ErrExited
	case ctx.Err() != nil:
		return 0, ctx.Err()
	case err != nil:
		var exc *goja.Exception
		if errors.As(err, &exc) {
			fmt.Fprintf(pc.Err(), "%s: %s\n", pc.Path, exc.Value().String())
		}
		return 1, err
	}
	return 0, nil
}

// setupGlobals configures global objects and security
func (r *Runner) setupGlobals(p *process) error {
	vm := p.vm

	// Remove dangerous globals
	for _, name := range []string{"require", "process", "module", "exports"} {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return err
		}
	}

	globals := map[string]any{
		"pid":  p.pc.PID,
		"args": append([]string{}, p.pc.Args...),
		"cwd":  p.pc.Cwd,

		"input":      p.input,
		"inputLine":  p.inputLine,
		"inputAll":   p.inputAll,
		"inputExact": p.inputExact,
		"output":     p.output,
		"error":      p.errorOut,

		"create": p.create,
		"wait":   p.wait,
		"kill":   p.kill,
		"start":  p.start,
		"pipe":   p.pipe,
		"list":   p.list,
		"exit":   p.exit,
		"sleep":  p.sleep,

		"readFile":  p.readFile,
		"writeFile": p.writeFile,
		"glob":      p.glob,
	}
	for name, v := range globals {
		if err := vm.Set(name, v); err != nil {
			return fmt.Errorf("set %s: %w", name, err)
		}
	}

	if r.config.EnableConsole {
		console := vm.NewObject()
		for _, level := range []string{"log", "info", "warn", "error"} {
			if err := console.Set(level, r.makeConsoleFunc(p, level)); err != nil {
				return err
			}
		}
		if err := vm.Set("console", console); err != nil {
			return err
		}
	}
	return nil
}

// makeConsoleFunc creates a console function
func (r *Runner) makeConsoleFunc(p *process, level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		entry := LogEntry{Level: level, Message: strings.Join(parts, " "), Time: time.Now()}
		if err := p.pc.Sys.Forward(protocol.OpLog, entry); err != nil {
			r.logger.Debug("Console entry dropped", zap.Int("pid", p.pc.PID), zap.Error(err))
		}
		return goja.Undefined()
	}
}

// process holds the per-run state the bound globals close over.
type process struct {
	vm  *goja.Runtime
	pc  *unit.Context
	ctx context.Context

	exited bool
	code   int
}

// throw raises err inside the VM. Only valid from a bound function.
func (p *process) throw(err error) {
	panic(p.vm.NewGoError(err))
}

// text converts a read result; nil means end of input.
func (p *process) text(data []byte, err error) goja.Value {
	if err != nil && !errors.Is(err, io.EOF) {
		p.throw(err)
	}
	if len(data) == 0 && err != nil {
		return goja.Null()
	}
	return p.vm.ToValue(string(data))
}

func (p *process) input(call goja.FunctionCall) goja.Value {
	n := defaultChunk
	if arg := call.Argument(0); !goja.IsUndefined(arg) {
		n = int(arg.ToInteger())
	}
	if n <= 0 {
		return p.vm.ToValue("")
	}
	buf := make([]byte, n)
	k, err := p.pc.In().Read(buf)
	return p.text(buf[:k], err)
}

func (p *process) inputLine() goja.Value {
	return p.text(p.pc.In().ReadLine())
}

func (p *process) inputAll() goja.Value {
	data, err := p.pc.In().ReadAll()
	if err != nil && !errors.Is(err, io.EOF) {
		p.throw(err)
	}
	return p.vm.ToValue(string(data))
}

func (p *process) inputExact(n int) goja.Value {
	if n <= 0 {
		return p.vm.ToValue("")
	}
	return p.text(p.pc.In().ReadExact(n))
}

func (p *process) output(s string) {
	if _, err := io.WriteString(p.pc.Out(), s); err != nil {
		p.throw(err)
	}
}

func (p *process) errorOut(s string) {
	if _, err := io.WriteString(p.pc.Err(), s); err != nil {
		p.throw(err)
	}
}

// errno maps a syscall error to its negative code, 0 on success.
func errno(err error) int {
	return protocol.CodeOf(err)
}

func (p *process) create(call goja.FunctionCall) goja.Value {
	req := protocol.CreateRequest{Path: call.Argument(0).String()}
	if goja.IsUndefined(call.Argument(0)) {
		req.Path = ""
	}
	if a := call.Argument(1); !goja.IsUndefined(a) && !goja.IsNull(a) {
		if err := p.vm.ExportTo(a, &req.Args); err != nil {
			p.throw(fmt.Errorf("create: args: %w", err))
		}
	}
	if o := call.Argument(2); !goja.IsUndefined(o) && !goja.IsNull(o) {
		opts := o.ToObject(p.vm)
		req.PipeStdin = boolField(opts, "pipeStdin")
		req.PipeStdout = boolField(opts, "pipeStdout")
		req.Start = boolField(opts, "start")
		req.Cwd = stringField(opts, "cwd")
		req.RedirectStdin = stringField(opts, "stdin")
		req.RedirectStdout = stringField(opts, "stdout")
	}

	pid, err := p.pc.Sys.Create(p.ctx, req)
	if err != nil {
		return p.vm.ToValue(errno(err))
	}
	return p.vm.ToValue(pid)
}

func (p *process) wait(pid int) int {
	code, err := p.pc.Sys.Wait(p.ctx, pid)
	if err != nil {
		return errno(err)
	}
	return code
}

func (p *process) kill(pid int) int {
	return errno(p.pc.Sys.Kill(p.ctx, pid))
}

func (p *process) start(pid int) int {
	return errno(p.pc.Sys.Start(p.ctx, pid))
}

func (p *process) pipe(out, in int) int {
	return errno(p.pc.Sys.Pipe(p.ctx, out, in))
}

func (p *process) list() goja.Value {
	procs, err := p.pc.Sys.List(p.ctx)
	if err != nil {
		return p.vm.ToValue(errno(err))
	}
	rows := make([]any, len(procs))
	for i, info := range procs {
		rows[i] = map[string]any{
			"pid":   info.PID,
			"path":  info.Path,
			"state": string(info.State),
			"age":   info.AgeSeconds,
		}
	}
	return p.vm.ToValue(rows)
}

func (p *process) exit(call goja.FunctionCall) goja.Value {
	p.code = int(call.Argument(0).ToInteger())
	p.exited = true
	if err := p.pc.Exit(p.code); err != nil && !errors.Is(err, unit.ErrExited) {
		p.pc.Logger.Debug("Exit not acknowledged", zap.Error(err))
	}
	p.vm.Interrupt(errExit)
	return goja.Undefined()
}

func (p *process) sleep(ms int64) {
	t := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer t.Stop()
	select {
	case <-t.C:
	case <-p.ctx.Done():
		p.throw(p.ctx.Err())
	}
}

func (p *process) readFile(name string) goja.Value {
	if p.pc.FS == nil {
		return goja.Null()
	}
	data, err := filesystem.ReadFile(p.pc.FS, filesystem.Resolve(p.pc.Cwd, name))
	if err != nil {
		return goja.Null()
	}
	return p.vm.ToValue(string(data))
}

func (p *process) writeFile(name, data string) bool {
	if p.pc.FS == nil {
		return false
	}
	err := filesystem.WriteFile(p.pc.FS, filesystem.Resolve(p.pc.Cwd, name), []byte(data))
	return err == nil
}

func (p *process) glob(pattern string) []string {
	if p.pc.FS == nil {
		return nil
	}
	matches, err := p.pc.FS.Glob(filesystem.Resolve(p.pc.Cwd, pattern))
	if err != nil {
		p.throw(err)
	}
	return matches
}

func boolField(o *goja.Object, name string) bool {
	v := o.Get(name)
	return v != nil && v.ToBoolean()
}

func stringField(o *goja.Object, name string) string {
	v := o.Get(name)
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}
