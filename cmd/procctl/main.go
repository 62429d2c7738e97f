package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/websocket"

	"github.com/GriffinCanCode/AgentOS/procman/internal/api/ws"
	"github.com/GriffinCanCode/AgentOS/procman/internal/client"
	"github.com/GriffinCanCode/AgentOS/procman/internal/protocol"
)

const usage = `usage: procctl [-addr URL] <command> [args]

commands:
  ps                     list processes
  run <path> [args...]   create, start and stream a process; exits with its code
  create <path> [args]   create a process without starting it
  start <pid>            start a created process
  kill <pid>             kill a process
  wait <pid>             wait for a process and print its exit code
  pipe <out> <in>        pipe one process's stdout into another's stdin
`

func main() {
	addr := flag.String("addr", envOr("PROCD_ADDR", "http://localhost:8000"), "procd base URL")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	opts := client.DefaultOptions()
	opts.BaseURL = *addr
	c := client.New(opts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	code, err := dispatch(ctx, c, os.Stdout, flag.Arg(0), flag.Args()[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "procctl: %v\n", err)
		if code == 0 {
			code = 1
		}
	}
	os.Exit(code)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

var errUsage = errors.New("bad arguments; see procctl -h")

func pids(args []string, n int) ([]int, error) {
	if len(args) != n {
		return nil, errUsage
	}
	out := make([]int, n)
	for i, a := range args {
		pid, err := strconv.Atoi(a)
		if err != nil {
			return nil, fmt.Errorf("bad pid %q", a)
		}
		out[i] = pid
	}
	return out, nil
}

// dispatch runs one command and returns the process exit code to use.
func dispatch(ctx context.Context, c *client.Client, w io.Writer, cmd string, args []string) (int, error) {
	switch cmd {
	case "ps":
		return 0, ps(ctx, c, w)
	case "run":
		if len(args) == 0 {
			return 2, errUsage
		}
		return run(ctx, c, w, protocol.CreateRequest{Path: args[0], Args: args[1:]})
	case "create":
		if len(args) == 0 {
			return 2, errUsage
		}
		pid, err := c.Create(ctx, protocol.CreateRequest{Path: args[0], Args: args[1:]})
		if err != nil {
			return 1, err
		}
		fmt.Fprintln(w, pid)
		return 0, nil
	case "start", "kill", "wait":
		p, err := pids(args, 1)
		if err != nil {
			return 2, err
		}
		switch cmd {
		case "start":
			return 0, c.Start(ctx, p[0])
		case "kill":
			return 0, c.Kill(ctx, p[0])
		}
		code, err := c.Wait(ctx, p[0])
		if err != nil {
			return 1, err
		}
		fmt.Fprintln(w, code)
		return 0, nil
	case "pipe":
		p, err := pids(args, 2)
		if err != nil {
			return 2, err
		}
		return 0, c.Pipe(ctx, p[0], p[1])
	default:
		return 2, fmt.Errorf("unknown command %q", cmd)
	}
}

func ps(ctx context.Context, c *client.Client, w io.Writer) error {
	list, err := c.List(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PID\tSTATE\tSTARTED\tPATH")
	for _, p := range list {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", p.PID, p.State, humanize.Time(p.CreatedAt), p.Path)
	}
	return tw.Flush()
}

// run attaches before starting so neither output nor the exit is missed.
func run(ctx context.Context, c *client.Client, w io.Writer, req protocol.CreateRequest) (int, error) {
	pid, err := c.Create(ctx, req)
	if err != nil {
		return 1, err
	}
	conn, err := c.Attach(ctx, pid)
	if err != nil {
		_ = c.Kill(context.Background(), pid)
		return 1, err
	}
	defer conn.Close()

	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteJSON(ws.Frame{Type: "kill"})
		case <-finished:
		}
	}()

	started := time.Now()
	if err := c.Start(ctx, pid); err != nil {
		return 1, err
	}

	var written uint64
	for {
		var f ws.Frame
		if err := conn.ReadJSON(&f); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return 1, errors.New("stream closed before exit")
			}
			return 1, err
		}
		switch f.Type {
		case "output":
			out := w
			if f.Stream == "stderr" {
				out = os.Stderr
			}
			n, _ := io.WriteString(out, f.Data)
			written += uint64(n)
		case "error":
			fmt.Fprintf(os.Stderr, "procctl: %s\n", f.Message)
		case "exit":
			code := 0
			if f.Code != nil {
				code = *f.Code
			}
			fmt.Fprintf(os.Stderr, "[pid %d exited %d after %s, %s output]\n",
				pid, code, time.Since(started).Round(time.Millisecond), humanize.Bytes(written))
			return code, nil
		}
	}
}
