package process

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/GriffinCanCode/AgentOS/procman/internal/filesystem"
	"github.com/GriffinCanCode/AgentOS/procman/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/procman/internal/protocol"
	"github.com/GriffinCanCode/AgentOS/procman/internal/unit"
)

type harness struct {
	m    *Manager
	fs   *filesystem.Memory
	pool *unit.Pool
	logs *observer.ObservedLogs
}

func newHarness(t *testing.T, cfg Config, programs map[string]unit.Runner) *harness {
	t.Helper()

	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)

	fsys := filesystem.NewMemory(nil)
	mux := unit.NewMux(nil)
	for path, r := range programs {
		require.NoError(t, mux.Handle(path, r))
	}
	pool := unit.NewPool(unit.SpawnerConfig{Runner: mux, FS: fsys, Logger: logger})
	m := NewManager(cfg, NewFSLoader(fsys, mux.Provides), pool, logger).
		WithMetrics(monitoring.NewMetrics(nil))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Run(ctx)
	}()

	t.Cleanup(func() {
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer scancel()
		_ = pool.Shutdown(sctx)
		cancel()
		<-done
	})
	return &harness{m: m, fs: fsys, pool: pool, logs: logs}
}

func (h *harness) create(t *testing.T, req protocol.CreateRequest) int {
	t.Helper()
	pid, err := h.m.Host().Create(context.Background(), req)
	require.NoError(t, err)
	require.Greater(t, pid, 0)
	return pid
}

type waitResult struct {
	code int
	err  error
}

// waitAsync queues a WAIT_ON_PID, so later requests are serviced after it,
// and collects the result on a goroutine.
func (h *harness) waitAsync(t *testing.T, pid int) <-chan waitResult {
	t.Helper()
	wait, err := h.m.Host().Watch(pid)
	require.NoError(t, err)

	out := make(chan waitResult, 1)
	go func() {
		code, err := wait(context.Background())
		out <- waitResult{code, err}
	}()
	return out
}

func receive(t *testing.T, ch <-chan waitResult) waitResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(3 * time.Second):
		t.Fatal("wait was never released")
		return waitResult{}
	}
}

func exitWith(code int) unit.Runner {
	return unit.RunnerFunc(func(context.Context, *unit.Context) (int, error) {
		return code, nil
	})
}

func blockUntilKilled() unit.Runner {
	return unit.RunnerFunc(func(ctx context.Context, _ *unit.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
}

func TestCreateReturnsUniquePIDs(t *testing.T) {
	h := newHarness(t, DefaultConfig(), map[string]unit.Runner{"/bin/idle": blockUntilKilled()})

	seen := map[int]bool{}
	for i := 0; i < 5; i++ {
		pid := h.create(t, protocol.CreateRequest{Path: "/bin/idle"})
		assert.False(t, seen[pid], "pid %d handed out twice", pid)
		seen[pid] = true
	}

	list, err := h.m.Host().List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 5)
	for _, p := range list {
		assert.True(t, seen[p.PID])
		assert.Equal(t, "/bin/idle", p.Path)
		assert.Equal(t, protocol.StateStarting, p.State)
	}
}

func TestWaitReleasedOnExit(t *testing.T) {
	h := newHarness(t, DefaultConfig(), map[string]unit.Runner{"/bin/seven": exitWith(7)})

	pid := h.create(t, protocol.CreateRequest{Path: "/bin/seven"})
	waited := h.waitAsync(t, pid)
	require.NoError(t, h.m.Host().Start(context.Background(), pid))

	r := receive(t, waited)
	require.NoError(t, r.err)
	assert.Equal(t, 7, r.code)

	_, err := h.m.Table().Get(pid)
	assert.ErrorIs(t, err, protocol.ErrNoSuchProcess)
}

func TestWaitReleasedOnKill(t *testing.T) {
	h := newHarness(t, DefaultConfig(), map[string]unit.Runner{"/bin/idle": blockUntilKilled()})
	ctx := context.Background()

	pid := h.create(t, protocol.CreateRequest{Path: "/bin/idle", Start: true})
	first := h.waitAsync(t, pid)
	second := h.waitAsync(t, pid)

	require.NoError(t, h.m.Host().Kill(ctx, pid))

	for _, ch := range []<-chan waitResult{first, second} {
		r := receive(t, ch)
		require.NoError(t, r.err)
		assert.Equal(t, protocol.KilledExitCode, r.code)
	}

	assert.ErrorIs(t, h.m.Host().Kill(ctx, pid), protocol.ErrNoSuchProcess)
	_, err := h.m.Host().Wait(ctx, pid)
	assert.ErrorIs(t, err, protocol.ErrNoSuchProcess)
}

func TestPIDReusedAfterKill(t *testing.T) {
	h := newHarness(t, DefaultConfig(), map[string]unit.Runner{"/bin/idle": blockUntilKilled()})
	ctx := context.Background()

	a := h.create(t, protocol.CreateRequest{Path: "/bin/idle"})
	b := h.create(t, protocol.CreateRequest{Path: "/bin/idle"})
	require.NoError(t, h.m.Host().Kill(ctx, a))

	c := h.create(t, protocol.CreateRequest{Path: "/bin/idle"})
	assert.Equal(t, a, c)
	assert.NotEqual(t, b, c)
}

func TestCreateBeyondTableFails(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPID = 3
	h := newHarness(t, cfg, map[string]unit.Runner{"/bin/idle": blockUntilKilled()})

	h.create(t, protocol.CreateRequest{Path: "/bin/idle"})
	h.create(t, protocol.CreateRequest{Path: "/bin/idle"})

	pid, err := h.m.Host().Create(context.Background(), protocol.CreateRequest{Path: "/bin/idle"})
	assert.ErrorIs(t, err, protocol.ErrTableFull)
	assert.Equal(t, protocol.CodeTableFull, pid)

	list, err := h.m.Host().List(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestCreateErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RequireTerminal = true
	h := newHarness(t, cfg, map[string]unit.Runner{"/bin/idle": blockUntilKilled()})
	h.fs.Put("/bin/binary", []byte("\x7fELF\x02\x01\x01\x00\x00\x00\x00\x00\x00\x00\x00\x00"))

	tests := []struct {
		name string
		req  protocol.CreateRequest
		err  error
	}{
		{"missing program", protocol.CreateRequest{Path: "/bin/nope.js", PipeStdin: true, PipeStdout: true}, protocol.ErrProgramNotFound},
		{"empty path", protocol.CreateRequest{PipeStdin: true, PipeStdout: true}, protocol.ErrInvalidArguments},
		{"not text", protocol.CreateRequest{Path: "/bin/binary", PipeStdin: true, PipeStdout: true}, protocol.ErrInvalidArguments},
		{"no terminal", protocol.CreateRequest{Path: "/bin/idle", PipeStdout: true}, protocol.ErrNoTerminal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pid, err := h.m.Host().Create(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.err)
			assert.Less(t, pid, 0)
		})
	}

	h.create(t, protocol.CreateRequest{Path: "/bin/idle", PipeStdin: true, PipeStdout: true})
	assert.Equal(t, 1, h.m.Table().Len())
}

func TestDefaultProgramAndCwd(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DefaultProgram = "/bin/idle"
	h := newHarness(t, cfg, map[string]unit.Runner{
		"/bin/idle":     blockUntilKilled(),
		"/home/*/local": blockUntilKilled(),
	})

	pid := h.create(t, protocol.CreateRequest{})
	rec, err := h.m.Table().Get(pid)
	require.NoError(t, err)
	assert.Equal(t, "/bin/idle", rec.Path)
	assert.Equal(t, "/", rec.Cwd)

	pid = h.create(t, protocol.CreateRequest{Path: "local", Cwd: "/home/ada"})
	rec, err = h.m.Table().Get(pid)
	require.NoError(t, err)
	assert.Equal(t, "/home/ada/local", rec.Path)
}

func TestPipeProcesses(t *testing.T) {
	producer := unit.RunnerFunc(func(_ context.Context, pc *unit.Context) (int, error) {
		_, err := io.WriteString(pc.Out(), "hello\nworld\n")
		return 0, err
	})
	upper := unit.RunnerFunc(func(_ context.Context, pc *unit.Context) (int, error) {
		data, err := pc.In().ReadAll()
		if err != nil {
			return 1, err
		}
		_, err = io.WriteString(pc.Out(), strings.ToUpper(string(data)))
		return len(data), err
	})
	h := newHarness(t, DefaultConfig(), map[string]unit.Runner{"/bin/produce": producer, "/bin/upper": upper})
	ctx := context.Background()

	out := h.create(t, protocol.CreateRequest{Path: "/bin/produce", PipeStdout: true})
	in := h.create(t, protocol.CreateRequest{Path: "/bin/upper", PipeStdin: true})
	require.NoError(t, h.m.Host().Pipe(ctx, out, in))

	inRec, err := h.m.Table().Get(in)
	require.NoError(t, err)
	outRec, err := h.m.Table().Get(out)
	require.NoError(t, err)
	assert.Same(t, outRec.Stdout, inRec.Stdin)

	waited := h.waitAsync(t, in)
	require.NoError(t, h.m.Host().Start(ctx, in))
	require.NoError(t, h.m.Host().Start(ctx, out))

	r := receive(t, waited)
	require.NoError(t, r.err)
	assert.Equal(t, len("hello\nworld\n"), r.code)

	got, err := inRec.Stdout.ReadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, "HELLO\nWORLD\n", string(got))
}

func TestKillUnstartedProducerEndsConsumerStream(t *testing.T) {
	count := unit.RunnerFunc(func(_ context.Context, pc *unit.Context) (int, error) {
		data, err := pc.In().ReadAll()
		if err != nil {
			return 1, err
		}
		return 40 + len(data), nil
	})
	h := newHarness(t, DefaultConfig(), map[string]unit.Runner{
		"/bin/idle":  blockUntilKilled(),
		"/bin/count": count,
	})
	ctx := context.Background()

	out := h.create(t, protocol.CreateRequest{Path: "/bin/idle", PipeStdout: true})
	in := h.create(t, protocol.CreateRequest{Path: "/bin/count", PipeStdin: true})
	require.NoError(t, h.m.Host().Pipe(ctx, out, in))

	outRec, err := h.m.Table().Get(out)
	require.NoError(t, err)

	waited := h.waitAsync(t, in)
	require.NoError(t, h.m.Host().Start(ctx, in))
	require.NoError(t, h.m.Host().Kill(ctx, out))
	assert.True(t, outRec.Stdout.Closed())

	r := receive(t, waited)
	require.NoError(t, r.err)
	assert.Equal(t, 40, r.code)
}

func TestPipeRejections(t *testing.T) {
	h := newHarness(t, DefaultConfig(), map[string]unit.Runner{"/bin/idle": blockUntilKilled()})
	ctx := context.Background()
	host := h.m.Host()

	out := h.create(t, protocol.CreateRequest{Path: "/bin/idle", PipeStdout: true})
	started := h.create(t, protocol.CreateRequest{Path: "/bin/idle", PipeStdin: true, Start: true})
	plain := h.create(t, protocol.CreateRequest{Path: "/bin/idle"})

	before, err := h.m.Table().Get(started)
	require.NoError(t, err)

	assert.ErrorIs(t, host.Pipe(ctx, out, started), protocol.ErrTargetAlreadyStarted)
	assert.ErrorIs(t, host.Pipe(ctx, out, plain), protocol.ErrNotPipeEligible)
	assert.ErrorIs(t, host.Pipe(ctx, plain, started), protocol.ErrNotPipeEligible)
	assert.ErrorIs(t, host.Pipe(ctx, out, 99), protocol.ErrNoSuchProcess)

	after, err := h.m.Table().Get(started)
	require.NoError(t, err)
	assert.Same(t, before.Stdin, after.Stdin)
}

func TestStartTwice(t *testing.T) {
	h := newHarness(t, DefaultConfig(), map[string]unit.Runner{"/bin/idle": blockUntilKilled()})
	ctx := context.Background()

	pid := h.create(t, protocol.CreateRequest{Path: "/bin/idle"})
	require.NoError(t, h.m.Host().Start(ctx, pid))
	assert.ErrorIs(t, h.m.Host().Start(ctx, pid), protocol.ErrTargetAlreadyStarted)
	assert.ErrorIs(t, h.m.Host().Start(ctx, 77), protocol.ErrNoSuchProcess)

	assert.Eventually(t, func() bool {
		rec, err := h.m.Table().Get(pid)
		return err == nil && rec.State == protocol.StateRunning
	}, 2*time.Second, 10*time.Millisecond)
}

func TestProcessIssuesSyscalls(t *testing.T) {
	child := unit.RunnerFunc(func(ctx context.Context, pc *unit.Context) (int, error) {
		select {
		case <-time.After(100 * time.Millisecond):
			return 4, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	})
	parent := unit.RunnerFunc(func(ctx context.Context, pc *unit.Context) (int, error) {
		pid, err := pc.Sys.Create(ctx, protocol.CreateRequest{Path: "/bin/child", Start: true})
		if err != nil {
			return 100, err
		}
		code, err := pc.Sys.Wait(ctx, pid)
		if err != nil {
			return 101, err
		}
		return code + 1, nil
	})
	h := newHarness(t, DefaultConfig(), map[string]unit.Runner{"/bin/child": child, "/bin/parent": parent})

	pid := h.create(t, protocol.CreateRequest{Path: "/bin/parent", Cwd: "/work"})
	waited := h.waitAsync(t, pid)
	require.NoError(t, h.m.Host().Start(context.Background(), pid))

	r := receive(t, waited)
	require.NoError(t, r.err)
	assert.Equal(t, 5, r.code)
}

func TestExitHookAndReason(t *testing.T) {
	h := newHarness(t, DefaultConfig(), map[string]unit.Runner{
		"/bin/three": exitWith(3),
		"/bin/idle":  blockUntilKilled(),
	})

	var (
		mu     sync.Mutex
		events []ExitEvent
	)
	h.m.WithOnExit(func(ev ExitEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	ctx := context.Background()
	// Both slots are taken before either process can exit and free one.
	a := h.create(t, protocol.CreateRequest{Path: "/bin/three"})
	b := h.create(t, protocol.CreateRequest{Path: "/bin/idle"})
	require.NotEqual(t, a, b)
	require.NoError(t, h.m.Host().Start(ctx, a))
	require.NoError(t, h.m.Host().Start(ctx, b))
	require.NoError(t, h.m.Host().Kill(ctx, b))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	byPID := map[int]ExitEvent{}
	for _, ev := range events {
		byPID[ev.PID] = ev
	}
	assert.Equal(t, ExitEvent{PID: a, Path: "/bin/three", Code: 3, Reason: "exit"}, byPID[a])
	assert.Equal(t, ExitEvent{PID: b, Path: "/bin/idle", Code: protocol.KilledExitCode, Reason: "kill"}, byPID[b])
}

func TestUnknownOpForwardedToUnit(t *testing.T) {
	chatty := unit.RunnerFunc(func(ctx context.Context, pc *unit.Context) (int, error) {
		if err := pc.Sys.Forward(protocol.OpLog, "hello from "+strconv.Itoa(pc.PID)); err != nil {
			return 1, err
		}
		return 0, nil
	})
	h := newHarness(t, DefaultConfig(), map[string]unit.Runner{"/bin/chatty": chatty})

	pid := h.create(t, protocol.CreateRequest{Path: "/bin/chatty"})
	waited := h.waitAsync(t, pid)
	require.NoError(t, h.m.Host().Start(context.Background(), pid))
	receive(t, waited)

	assert.Eventually(t, func() bool {
		return h.logs.FilterMessage("Process output").Len() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestExitFromHostIsNoSuchProcess(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil)
	err := h.m.Host().Exit(context.Background(), 0)
	assert.ErrorIs(t, err, protocol.ErrNoSuchProcess)
}

// fakeHandle is a unit that never runs anything.
type fakeHandle struct {
	mu         sync.Mutex
	terminated bool
}

func (f *fakeHandle) ID() string                  { return "fake" }
func (f *fakeHandle) Send(protocol.Message) error { return nil }

func (f *fakeHandle) OnMessage(func(protocol.Message)) func(protocol.Message) {
	return nil
}

func (f *fakeHandle) Terminate() {
	f.mu.Lock()
	f.terminated = true
	f.mu.Unlock()
}

func (f *fakeHandle) isTerminated() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.terminated
}

func TestAnnounceWithoutPendingTerminates(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil)

	fake := &fakeHandle{}
	h.m.announce(fake)

	assert.Eventually(t, fake.isTerminated, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return h.logs.FilterMessage("Unit announced without a pending process").Len() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

type failingSpawner struct{}

func (failingSpawner) Spawn(unit.Bootstrap) (unit.Handle, error) {
	return nil, errors.New("out of threads")
}

type panicLoader struct{}

func (panicLoader) Load(string) ([]byte, error) {
	panic("loader exploded")
}

func runManager(t *testing.T, m *Manager) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestSpawnFailureFreesSlot(t *testing.T) {
	fsys := filesystem.NewMemory(map[string]string{"/bin/a.js": "output('a')\n"})
	m := NewManager(DefaultConfig(), NewFSLoader(fsys, nil), failingSpawner{}, nil)
	runManager(t, m)

	_, err := m.Host().Create(context.Background(), protocol.CreateRequest{Path: "/bin/a.js"})
	assert.ErrorIs(t, err, protocol.ErrExternal)
	assert.Equal(t, 0, m.Table().Len())
}

func TestHandlerPanicIsAnswered(t *testing.T) {
	m := NewManager(DefaultConfig(), panicLoader{}, failingSpawner{}, nil)
	runManager(t, m)

	_, err := m.Host().Create(context.Background(), protocol.CreateRequest{Path: "/bin/a.js"})
	assert.ErrorIs(t, err, protocol.ErrExternal)

	list, err := m.Host().List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRunStopsOnClose(t *testing.T) {
	m := NewManager(DefaultConfig(), panicLoader{}, failingSpawner{}, nil)
	done := make(chan error, 1)
	go func() { done <- m.Run(context.Background()) }()

	m.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}
}
