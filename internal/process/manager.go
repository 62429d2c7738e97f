package process

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/procman/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/procman/internal/ipc"
	"github.com/GriffinCanCode/AgentOS/procman/internal/protocol"
	"github.com/GriffinCanCode/AgentOS/procman/internal/unit"
)

// Config tunes the manager and its table.
type Config struct {
	MaxPID          int
	PipeSize        int
	ReplySize       int
	RequireTerminal bool
	DefaultProgram  string
}

// DefaultConfig returns the stock limits.
func DefaultConfig() Config {
	return Config{
		MaxPID:    128,
		PipeSize:  1024,
		ReplySize: ipc.DefaultReplySize,
	}
}

// ExitEvent describes a process leaving the table.
type ExitEvent struct {
	PID    int
	Path   string
	Code   int
	Reason string // "exit" or "kill"
}

// event is one item on the control loop's mailbox.
type event struct {
	msg      protocol.Message
	announce unit.Handle
}

type pendingRegistration struct {
	pid    int
	signal *ipc.Signal // creator's reply channel
}

// Manager services process requests on a single control loop.
type Manager struct {
	cfg     Config
	table   *Table
	loader  Loader
	spawner unit.Spawner
	logger  *zap.Logger
	metrics *monitoring.Metrics

	inbox    *unit.Mailbox[event]
	handlers map[protocol.Op]handler
	host     *protocol.Client

	// Owned by the control loop
	pending []pendingRegistration
	waiting waitingSets

	hookMu sync.RWMutex
	onExit []func(ExitEvent) // Protected by hookMu
}

// NewManager creates a manager. Call Run to start servicing requests.
func NewManager(cfg Config, loader Loader, spawner unit.Spawner, logger *zap.Logger) *Manager {
	def := DefaultConfig()
	if cfg.MaxPID <= 0 {
		cfg.MaxPID = def.MaxPID
	}
	if cfg.PipeSize <= 0 {
		cfg.PipeSize = def.PipeSize
	}
	if cfg.ReplySize <= 0 {
		cfg.ReplySize = def.ReplySize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{
		cfg:     cfg,
		table:   NewTable(cfg.MaxPID, cfg.PipeSize, cfg.ReplySize),
		loader:  loader,
		spawner: spawner,
		logger:  logger,
		inbox:   unit.NewMailbox[event](),
		waiting: make(waitingSets),
	}
	m.handlers = m.routes()
	m.host = protocol.NewHostClient(m.Submit, cfg.ReplySize)
	return m
}

// WithMetrics adds metrics tracking to the manager
func (m *Manager) WithMetrics(metrics *monitoring.Metrics) *Manager {
	m.metrics = metrics
	return m
}

// WithOnExit registers a hook called whenever a process is freed. Hooks run
// on the control loop and must not block.
func (m *Manager) WithOnExit(fn func(ExitEvent)) *Manager {
	m.hookMu.Lock()
	m.onExit = append(m.onExit, fn)
	m.hookMu.Unlock()
	return m
}

// Table exposes the process table for read access.
func (m *Manager) Table() *Table {
	return m.table
}

// Host returns a client for callers outside the table. Its PID is 0.
func (m *Manager) Host() *protocol.Client {
	return m.host
}

// Submit queues a request. It never blocks.
func (m *Manager) Submit(msg protocol.Message) error {
	return m.inbox.Put(event{msg: msg})
}

// Run services requests until ctx is cancelled or Close is called.
func (m *Manager) Run(ctx context.Context) error {
	m.logger.Info("Process manager started",
		zap.Int("max_pid", m.cfg.MaxPID),
		zap.Int("pipe_size", m.cfg.PipeSize))

	for {
		ev, err := m.inbox.Take(ctx)
		if errors.Is(err, unit.ErrMailboxClosed) {
			return nil
		}
		if err != nil {
			return err
		}

		if ev.announce != nil {
			m.register(ev.announce)
			continue
		}
		m.dispatch(ev.msg)
	}
}

// Close stops the control loop once queued requests are drained.
func (m *Manager) Close() {
	m.inbox.Close()
}

// announce is handed to every unit in its bootstrap.
func (m *Manager) announce(h unit.Handle) {
	if err := m.inbox.Put(event{announce: h}); err != nil {
		h.Terminate()
	}
}

// register pairs an announced unit with the oldest pending creation.
func (m *Manager) register(h unit.Handle) {
	if len(m.pending) == 0 {
		m.logger.Warn("Unit announced without a pending process",
			zap.String("unit", h.ID()),
			zap.Error(protocol.ErrNoPendingRegistration))
		h.Terminate()
		return
	}

	p := m.pending[0]
	m.pending = m.pending[1:]
	m.recordPending()

	fallback := h.OnMessage(m.unitHandler(p.pid))
	if err := m.table.Register(p.pid, h, fallback); err != nil {
		m.logger.Warn("Registration failed", zap.Int("pid", p.pid), zap.Error(err))
		h.Terminate()
		m.replyTo(p.signal, ipc.Errno(protocol.CodeOf(err)))
		return
	}

	rec, err := m.table.Get(p.pid)
	if err == nil && rec.Autostart {
		err = m.start(rec)
	}
	if err != nil {
		m.logger.Warn("Autostart failed", zap.Int("pid", p.pid), zap.Error(err))
	}

	m.logger.Debug("Process registered", zap.Int("pid", p.pid), zap.String("unit", h.ID()))
	m.replyTo(p.signal, ipc.Number(int64(p.pid)))
}

// unitHandler stamps the sender PID on everything a unit emits.
func (m *Manager) unitHandler(pid int) func(protocol.Message) {
	return func(msg protocol.Message) {
		msg.PID = pid
		if err := m.inbox.Put(event{msg: msg}); err != nil && msg.Signal != nil {
			m.replyTo(msg.Signal, ipc.Errno(protocol.CodeExternal))
		}
	}
}

// dispatch runs one handler and delivers its reply. A handler that panics
// is answered with CodeExternal so the caller is never left asleep.
func (m *Manager) dispatch(msg protocol.Message) {
	timer := monitoring.NewTimer(m.metrics, string(msg.Op))
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Request handler panicked",
				zap.String("op", string(msg.Op)),
				zap.Int("pid", msg.PID),
				zap.Any("panic", r))
			m.reply(msg, ipc.Errno(protocol.CodeExternal))
			timer.Stop("panic")
		}
	}()

	h, ok := m.handlers[msg.Op]
	if !ok {
		m.forward(msg)
		return
	}

	m.logger.Debug("Request", zap.String("op", string(msg.Op)), zap.Int("pid", msg.PID))
	reply, err := h(msg)
	switch {
	case errors.Is(err, errDeferred):
		timer.Stop("deferred")
	case err != nil:
		m.logger.Warn("Request failed",
			zap.String("op", string(msg.Op)),
			zap.Int("pid", msg.PID),
			zap.Error(err))
		m.reply(msg, ipc.Errno(protocol.CodeOf(err)))
		timer.Stop("error")
	default:
		m.reply(msg, reply)
		timer.Stop("ok")
	}
}

// forward hands an unrecognised message to the sender unit's own handler.
func (m *Manager) forward(msg protocol.Message) {
	rec, err := m.table.Get(msg.PID)
	if err != nil || rec.fallback == nil {
		m.logger.Debug("Dropping message", zap.String("op", string(msg.Op)), zap.Int("pid", msg.PID))
		return
	}
	if m.metrics != nil {
		m.metrics.RecordUnitMessage(string(msg.Op))
	}
	rec.fallback(msg)
}

func (m *Manager) reply(msg protocol.Message, r ipc.Reply) {
	m.replyTo(msg.Signal, r)
}

func (m *Manager) replyTo(sig *ipc.Signal, r ipc.Reply) {
	if sig == nil {
		return
	}
	if err := sig.Write(r); err != nil {
		m.logger.Warn("Reply dropped", zap.Error(err))
		_ = sig.Write(ipc.Errno(protocol.CodeExternal))
	}
	sig.Wake()
}

func (m *Manager) recordPending() {
	if m.metrics != nil {
		m.metrics.SetPendingRegistrations(len(m.pending))
	}
}

func (m *Manager) recordLive() {
	if m.metrics != nil {
		m.metrics.SetProcessesLive(m.table.Len())
	}
}
