package unit

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/procman/internal/filesystem"
	"github.com/GriffinCanCode/AgentOS/procman/internal/protocol"
)

var errNoHandler = errors.New("unit: no message handler installed")

// Worker is a goroutine-backed execution unit.
type Worker struct {
	id     string
	runner Runner
	fs     filesystem.Filesystem
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	inbox  *Mailbox[protocol.Message]
	done   chan struct{}

	mu      sync.Mutex
	handler func(protocol.Message) // Protected by mu
}

func newWorker(cfg SpawnerConfig) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		id:     uuid.New().String(),
		runner: cfg.Runner,
		fs:     cfg.FS,
		ctx:    ctx,
		cancel: cancel,
		inbox:  NewMailbox[protocol.Message](),
		done:   make(chan struct{}),
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	w.logger = logger.With(zap.String("unit", w.id))
	w.handler = w.runtimeMessage
	return w
}

func (w *Worker) ID() string {
	return w.id
}

func (w *Worker) Send(msg protocol.Message) error {
	return w.inbox.Put(msg)
}

func (w *Worker) OnMessage(fn func(protocol.Message)) func(protocol.Message) {
	w.mu.Lock()
	defer w.mu.Unlock()
	prev := w.handler
	w.handler = fn
	return prev
}

func (w *Worker) Terminate() {
	w.cancel()
	w.inbox.Close()
}

// Done is closed once the worker goroutine has returned.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

func (w *Worker) post(msg protocol.Message) error {
	w.mu.Lock()
	h := w.handler
	w.mu.Unlock()

	if h == nil {
		return errNoHandler
	}
	h(msg)
	return nil
}

// runtimeMessage is the unit's own handler for what it emits. The manager
// forwards anything outside its op set back here.
func (w *Worker) runtimeMessage(msg protocol.Message) {
	switch msg.Op {
	case protocol.OpLog:
		w.logger.Info("Process output", zap.Int("pid", msg.PID), zap.Any("entry", msg.Payload))
	default:
		w.logger.Debug("Unhandled unit message", zap.String("op", string(msg.Op)), zap.Int("pid", msg.PID))
	}
}

func (w *Worker) run(b Bootstrap) {
	defer close(w.done)
	defer w.cancel()

	b.Announce(w)

	var start *protocol.StartPayload
	for start == nil {
		msg, err := w.inbox.Take(w.ctx)
		if err != nil {
			w.logger.Debug("Unit stopped before start", zap.Error(err))
			return
		}
		if msg.Op != protocol.OpInit || msg.Start == nil {
			w.logger.Debug("Ignoring message before start", zap.String("op", string(msg.Op)))
			continue
		}
		start = msg.Start
	}

	logger := w.logger.With(zap.Int("pid", start.PID), zap.String("path", start.Path))
	sys := protocol.NewClient(start.PID, start.Signal, w.post)

	pc, err := NewContext(w.ctx, start, sys, w.fs, logger)
	if err != nil {
		logger.Warn("Process setup failed", zap.Error(err))
		if exitErr := sys.Exit(w.ctx, 1); exitErr != nil {
			logger.Debug("Exit after failed setup", zap.Error(exitErr))
		}
		return
	}
	_ = sys.ChangeState(protocol.StateRunning)
	logger.Debug("Process started")

	code, err := w.runner.Run(w.ctx, pc)
	switch {
	case w.ctx.Err() != nil:
		logger.Debug("Process terminated")
		pc.release()
		return
	case errors.Is(err, ErrExited) || pc.Exited():
		return
	case err != nil:
		logger.Warn("Process failed", zap.Error(err))
		if code == 0 {
			code = 1
		}
	}

	if err := pc.Exit(code); !errors.Is(err, ErrExited) {
		logger.Debug("Exit not acknowledged", zap.Error(err))
	}
}

// SpawnerConfig configures the workers a Pool launches.
type SpawnerConfig struct {
	Runner Runner
	FS     filesystem.Filesystem
	Logger *zap.Logger
}

// Pool launches Workers and keeps track of the live ones.
type Pool struct {
	cfg     SpawnerConfig
	workers sync.Map // id -> *Worker
}

// NewPool creates a worker pool.
func NewPool(cfg SpawnerConfig) *Pool {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Pool{cfg: cfg}
}

// Spawn starts a worker goroutine. The worker announces itself through b.
func (p *Pool) Spawn(b Bootstrap) (Handle, error) {
	if b.Announce == nil {
		return nil, errors.New("unit: bootstrap has no announce callback")
	}
	if p.cfg.Runner == nil {
		return nil, errors.New("unit: pool has no runner")
	}

	w := newWorker(p.cfg)
	p.workers.Store(w.id, w)
	go func() {
		defer p.workers.Delete(w.id)
		w.run(b)
	}()
	return w, nil
}

// Active returns the number of live workers.
func (p *Pool) Active() int {
	n := 0
	p.workers.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Shutdown terminates every worker and waits for them to return.
func (p *Pool) Shutdown(ctx context.Context) error {
	var live []*Worker
	p.workers.Range(func(_, v any) bool {
		w := v.(*Worker)
		w.Terminate()
		live = append(live, w)
		return true
	})

	for _, w := range live {
		select {
		case <-w.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
