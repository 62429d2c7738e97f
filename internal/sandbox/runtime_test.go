package sandbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/procman/internal/filesystem"
	"github.com/GriffinCanCode/AgentOS/procman/internal/ipc"
	"github.com/GriffinCanCode/AgentOS/procman/internal/protocol"
	"github.com/GriffinCanCode/AgentOS/procman/internal/unit"
)

// syscalls answers requests the way the manager would for a lone process.
type syscalls struct {
	mu   sync.Mutex
	seen []protocol.Message
}

func (s *syscalls) post(msg protocol.Message) error {
	s.mu.Lock()
	s.seen = append(s.seen, msg)
	s.mu.Unlock()

	if msg.Signal == nil {
		return nil
	}
	var r ipc.Reply
	switch msg.Op {
	case protocol.OpCreate:
		r = ipc.Number(5)
	case protocol.OpWaitOnPID:
		r = ipc.Number(3)
	case protocol.OpKill:
		r = ipc.Errno(protocol.CodeNoSuchProcess)
	case protocol.OpList:
		list, _ := protocol.EncodeList([]protocol.ProcessInfo{{PID: 4, Path: "/bin/test.js", State: protocol.StateRunning}})
		r = ipc.Text(list)
	default:
		r = ipc.Number(0)
	}
	_ = msg.Signal.Write(r)
	msg.Signal.Wake()
	return nil
}

func (s *syscalls) ops(op protocol.Op) []protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []protocol.Message
	for _, m := range s.seen {
		if m.Op == op {
			out = append(out, m)
		}
	}
	return out
}

type result struct {
	code   int
	err    error
	stdout string
	sys    *syscalls
}

func run(t *testing.T, ctx context.Context, cfg Config, src, stdin string, fsys filesystem.Filesystem) result {
	t.Helper()

	in := ipc.NewBuffer(256)
	out := ipc.NewBuffer(256)
	if stdin != "" {
		_, err := in.Write(ctx, []byte(stdin))
		require.NoError(t, err)
	}
	require.NoError(t, in.Close())

	sys := &syscalls{}
	payload := &protocol.StartPayload{
		PID:    4,
		Path:   "/bin/test.js",
		Args:   []string{"x", "y"},
		Cwd:    "/home",
		Source: []byte(src),
		Signal: ipc.NewSignal(0),
		Stdin:  in,
		Stdout: out,
		Stderr: ipc.NewBuffer(256),
	}
	client := protocol.NewClient(payload.PID, payload.Signal, sys.post)
	pc, err := unit.NewContext(ctx, payload, client, fsys, nil)
	require.NoError(t, err)

	code, err := New(cfg, nil).Run(ctx, pc)

	data, rerr := out.ReadExact(context.Background(), out.Len())
	require.NoError(t, rerr)
	return result{code: code, err: err, stdout: string(data), sys: sys}
}

func TestRunnerStreams(t *testing.T) {
	tests := []struct {
		name   string
		script string
		stdin  string
		want   string
	}{
		{
			name:   "line then rest",
			script: "output(inputLine().toUpperCase()); output(inputAll())",
			stdin:  "abc\ndef\n",
			want:   "ABC\ndef\n",
		},
		{
			name:   "count lines",
			script: "let n = 0; while (inputLine() !== null) n++; output(String(n))",
			stdin:  "a\nb\nc",
			want:   "3",
		},
		{
			name:   "exact reads",
			script: "output(inputExact(3) + '|' + inputExact(10) + '|' + inputExact(1))",
			stdin:  "abcdef",
			want:   "abc|def|null",
		},
		{
			name:   "chunked input",
			script: "let s, all = ''; while ((s = input(2)) !== null) all += s + '.'; output(all)",
			stdin:  "abcde",
			want:   "ab.cd.e.",
		},
		{
			name:   "process identity",
			script: "output(pid + ' ' + args.join(',') + ' ' + cwd)",
			want:   "4 x,y /home",
		},
		{
			name:   "node globals removed",
			script: "output([typeof require, typeof process, typeof module, typeof exports].join(' '))",
			want:   "undefined undefined undefined undefined",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := run(t, context.Background(), DefaultConfig(), tt.script, tt.stdin, nil)
			require.NoError(t, r.err)
			assert.Equal(t, 0, r.code)
			assert.Equal(t, tt.want, r.stdout)
		})
	}
}

func TestRunnerSyscalls(t *testing.T) {
	script := `
		const child = create("/bin/child.js", ["a"], {pipeStdout: true, start: true, cwd: "/tmp"});
		const code = wait(child);
		const k = kill(99);
		const ps = list();
		output([child, code, k, ps.length, ps[0].path, ps[0].state].join(" "));
	`
	r := run(t, context.Background(), DefaultConfig(), script, "", nil)
	require.NoError(t, r.err)
	assert.Equal(t, "5 3 -2 1 /bin/test.js RUNNING", r.stdout)

	creates := r.sys.ops(protocol.OpCreate)
	require.Len(t, creates, 1)
	req := creates[0].Create
	assert.Equal(t, "/bin/child.js", req.Path)
	assert.Equal(t, []string{"a"}, req.Args)
	assert.True(t, req.PipeStdout)
	assert.False(t, req.PipeStdin)
	assert.True(t, req.Start)
	assert.Equal(t, "/tmp", req.Cwd)

	kills := r.sys.ops(protocol.OpKill)
	require.Len(t, kills, 1)
	assert.Equal(t, 99, kills[0].Target)

	// Every blocking call is bracketed by SLEEPING and RUNNING reports.
	states := r.sys.ops(protocol.OpChangeState)
	require.Len(t, states, 8)
	assert.Equal(t, protocol.StateSleeping, states[0].State)
	assert.Equal(t, protocol.StateRunning, states[1].State)
}

func TestRunnerExit(t *testing.T) {
	r := run(t, context.Background(), DefaultConfig(), "output('a'); exit(9); output('b')", "", nil)
	assert.ErrorIs(t, r.err, unit.ErrExited)
	assert.Equal(t, 9, r.code)
	assert.Equal(t, "a", r.stdout)

	exits := r.sys.ops(protocol.OpExit)
	require.Len(t, exits, 1)
	assert.Equal(t, 9, exits[0].Code)
}

func TestRunnerErrors(t *testing.T) {
	tests := []struct {
		name   string
		script string
		code   int
	}{
		{"syntax error", "let = ;", 2},
		{"uncaught throw", "throw new Error('boom')", 1},
		{"runaway recursion", "function f() { return f() + 1 } f()", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := run(t, context.Background(), DefaultConfig(), tt.script, "", nil)
			assert.Error(t, r.err)
			assert.Equal(t, tt.code, r.code)
		})
	}
}

func TestRunnerInterruptedOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	r := run(t, ctx, DefaultConfig(), "let i = 0; while (true) { i++ }", "", nil)
	assert.ErrorIs(t, r.err, context.DeadlineExceeded)
}

func TestRunnerSleepHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	r := run(t, ctx, DefaultConfig(), "sleep(10000)", "", nil)
	assert.Error(t, r.err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRunnerConsole(t *testing.T) {
	script := "console.log('hello', 42); console.warn('careful')"

	r := run(t, context.Background(), DefaultConfig(), script, "", nil)
	require.NoError(t, r.err)
	logs := r.sys.ops(protocol.OpLog)
	require.Len(t, logs, 2)
	entry, ok := logs[0].Payload.(LogEntry)
	require.True(t, ok)
	assert.Equal(t, "log", entry.Level)
	assert.Equal(t, "hello 42", entry.Message)
	assert.Equal(t, "warn", logs[1].Payload.(LogEntry).Level)

	quiet := DefaultConfig()
	quiet.EnableConsole = false
	r = run(t, context.Background(), quiet, "output(typeof console)", "", nil)
	require.NoError(t, r.err)
	assert.Equal(t, "undefined", r.stdout)
}

func TestRunnerFiles(t *testing.T) {
	fsys := filesystem.NewMemory(map[string]string{"/home/notes.txt": "remember"})
	script := `
		writeFile("copy.txt", readFile("notes.txt").toUpperCase());
		output(glob("*.txt").join(",") + " " + readFile("missing.txt"));
	`
	r := run(t, context.Background(), DefaultConfig(), script, "", fsys)
	require.NoError(t, r.err)
	assert.Equal(t, "/home/copy.txt,/home/notes.txt null", r.stdout)

	data, ok := fsys.Get("/home/copy.txt")
	require.True(t, ok)
	assert.Equal(t, "REMEMBER", string(data))
}
