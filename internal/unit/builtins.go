package unit

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/GriffinCanCode/AgentOS/procman/internal/filesystem"
)

// Builtins returns the native programs, keyed by path.
func Builtins() map[string]Runner {
	return map[string]Runner{
		"/bin/cat":   RunnerFunc(cat),
		"/bin/echo":  RunnerFunc(echo),
		"/bin/true":  RunnerFunc(func(context.Context, *Context) (int, error) { return 0, nil }),
		"/bin/false": RunnerFunc(func(context.Context, *Context) (int, error) { return 1, nil }),
		"/bin/wc":    RunnerFunc(wc),
		"/bin/sleep": RunnerFunc(sleep),
		"/bin/exit":  RunnerFunc(exit),
		"/bin/ps":    RunnerFunc(ps),
		"/bin/kill":  RunnerFunc(kill),
		"/bin/wait":  RunnerFunc(wait),
	}
}

// RegisterBuiltins routes every native program on m.
func RegisterBuiltins(m *Mux) error {
	for path, r := range Builtins() {
		if err := m.Handle(path, r); err != nil {
			return err
		}
	}
	return nil
}

func cat(_ context.Context, pc *Context) (int, error) {
	if len(pc.Args) == 0 {
		if _, err := io.Copy(pc.Out(), pc.In()); err != nil {
			return 1, err
		}
		return 0, nil
	}
	for _, name := range pc.Args {
		data, err := filesystem.ReadFile(pc.FS, filesystem.Resolve(pc.Cwd, name))
		if err != nil {
			return 1, err
		}
		if _, err := pc.Out().Write(data); err != nil {
			return 1, err
		}
	}
	return 0, nil
}

func echo(_ context.Context, pc *Context) (int, error) {
	if _, err := io.WriteString(pc.Out(), strings.Join(pc.Args, " ")+"\n"); err != nil {
		return 1, err
	}
	return 0, nil
}

func wc(_ context.Context, pc *Context) (int, error) {
	data, err := pc.In().ReadAll()
	if err != nil {
		return 1, err
	}
	lines := strings.Count(string(data), "\n")
	words := len(strings.Fields(string(data)))
	_, err = fmt.Fprintf(pc.Out(), "%d %d %d\n", lines, words, len(data))
	if err != nil {
		return 1, err
	}
	return 0, nil
}

func sleep(ctx context.Context, pc *Context) (int, error) {
	d := time.Second
	if len(pc.Args) > 0 {
		var err error
		if d, err = parseDuration(pc.Args[0]); err != nil {
			return 2, err
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return 0, nil
	case <-ctx.Done():
		return 1, ctx.Err()
	}
}

func parseDuration(s string) (time.Duration, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}

func exit(_ context.Context, pc *Context) (int, error) {
	code := 0
	if len(pc.Args) > 0 {
		var err error
		if code, err = strconv.Atoi(pc.Args[0]); err != nil {
			return 2, fmt.Errorf("exit: bad code %q", pc.Args[0])
		}
	}
	return code, pc.Exit(code)
}

func ps(ctx context.Context, pc *Context) (int, error) {
	list, err := pc.Sys.List(ctx)
	if err != nil {
		return 1, err
	}
	tw := tabwriter.NewWriter(pc.Out(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PID\tSTATE\tSTARTED\tPATH")
	for _, p := range list {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", p.PID, p.State, humanize.Time(p.CreatedAt), p.Path)
	}
	if err := tw.Flush(); err != nil {
		return 1, err
	}
	return 0, nil
}

func kill(ctx context.Context, pc *Context) (int, error) {
	pids, err := parsePIDs(pc.Args)
	if err != nil {
		return 2, err
	}
	for _, pid := range pids {
		if err := pc.Sys.Kill(ctx, pid); err != nil {
			return 1, err
		}
	}
	return 0, nil
}

func wait(ctx context.Context, pc *Context) (int, error) {
	pids, err := parsePIDs(pc.Args)
	if err != nil {
		return 2, err
	}
	code := 0
	for _, pid := range pids {
		if code, err = pc.Sys.Wait(ctx, pid); err != nil {
			return 1, err
		}
		fmt.Fprintf(pc.Out(), "%d exited with %d\n", pid, code)
	}
	return code, nil
}

func parsePIDs(args []string) ([]int, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("missing pid")
	}
	pids := make([]int, 0, len(args))
	for _, a := range args {
		pid, err := strconv.Atoi(a)
		if err != nil || pid <= 0 {
			return nil, fmt.Errorf("bad pid %q", a)
		}
		pids = append(pids, pid)
	}
	return pids, nil
}
