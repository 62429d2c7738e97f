package process

import (
	"errors"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/procman/internal/filesystem"
	"github.com/GriffinCanCode/AgentOS/procman/internal/ipc"
	"github.com/GriffinCanCode/AgentOS/procman/internal/protocol"
	"github.com/GriffinCanCode/AgentOS/procman/internal/unit"
)

// errDeferred tells dispatch that the reply has been sent or is owed later.
var errDeferred = errors.New("reply deferred")

type handler func(msg protocol.Message) (ipc.Reply, error)

func (m *Manager) routes() map[protocol.Op]handler {
	return map[protocol.Op]handler{
		protocol.OpChangeState: m.handleChangeState,
		protocol.OpWaitOnPID:   m.handleWait,
		protocol.OpCreate:      m.handleCreate,
		protocol.OpKill:        m.handleKill,
		protocol.OpList:        m.handleList,
		protocol.OpPipe:        m.handlePipe,
		protocol.OpStart:       m.handleStart,
		protocol.OpExit:        m.handleExit,
	}
}

func (m *Manager) handleChangeState(msg protocol.Message) (ipc.Reply, error) {
	state, err := protocol.ParseState(string(msg.State))
	if err != nil {
		return ipc.Reply{}, err
	}
	if err := m.table.SetState(msg.PID, state); err != nil {
		return ipc.Reply{}, err
	}
	return ipc.Number(0), nil
}

func (m *Manager) handleWait(msg protocol.Message) (ipc.Reply, error) {
	if msg.Signal == nil {
		return ipc.Reply{}, protocol.Invalid("wait without a reply signal")
	}
	if msg.Target == msg.PID {
		return ipc.Reply{}, protocol.Invalid("pid %d cannot wait on itself", msg.PID)
	}
	if _, err := m.table.Get(msg.Target); err != nil {
		return ipc.Reply{}, protocol.ErrNoSuchProcess.For(protocol.OpWaitOnPID, msg.Target)
	}

	m.waiting.add(msg.Target, waiter{pid: msg.PID, signal: msg.Signal})
	m.logger.Debug("Waiting on process",
		zap.Int("pid", msg.PID),
		zap.Int("target", msg.Target),
		zap.Int("waiters", m.waiting.count()))
	return ipc.Reply{}, errDeferred
}

func (m *Manager) handleCreate(msg protocol.Message) (ipc.Reply, error) {
	if msg.Create == nil {
		return ipc.Reply{}, protocol.Invalid("create without a request")
	}
	if err := m.create(msg.PID, *msg.Create, msg.Signal); err != nil {
		return ipc.Reply{}, err
	}
	return ipc.Reply{}, errDeferred
}

// create loads the program, reserves a slot and spawns a unit for it. The
// creator is answered once the unit registers.
func (m *Manager) create(caller int, req protocol.CreateRequest, sig *ipc.Signal) error {
	cwd := req.Cwd
	term := req.Terminal
	if caller > 0 {
		if parent, err := m.table.Get(caller); err == nil {
			if term == nil {
				term = parent.Terminal
			}
			if cwd == "" {
				cwd = parent.Cwd
			}
		}
	}
	if cwd == "" {
		cwd = "/"
	}

	path := req.Path
	if path == "" {
		path = m.cfg.DefaultProgram
	}
	if path == "" {
		return protocol.Invalid("empty program path")
	}
	path = filesystem.Resolve(cwd, path)

	if m.cfg.RequireTerminal && term == nil && !(req.PipeStdin && req.PipeStdout) {
		return protocol.ErrNoTerminal.For(protocol.OpCreate, caller)
	}

	source, err := m.loader.Load(path)
	if err != nil {
		return err
	}

	rec, err := m.table.Allocate(Spec{
		Path:           path,
		Source:         source,
		Args:           req.Args,
		Cwd:            cwd,
		Terminal:       term,
		PipeStdin:      req.PipeStdin,
		PipeStdout:     req.PipeStdout,
		RedirectStdin:  req.RedirectStdin,
		RedirectStdout: req.RedirectStdout,
		Autostart:      req.Start,
	})
	if err != nil {
		return err
	}

	m.pending = append(m.pending, pendingRegistration{pid: rec.PID, signal: sig})
	h, err := m.spawner.Spawn(unit.Bootstrap{Announce: m.announce})
	if err != nil {
		m.pending = m.pending[:len(m.pending)-1]
		_ = m.table.Free(rec.PID)
		return protocol.External(err)
	}

	m.recordPending()
	m.recordLive()
	if m.metrics != nil {
		m.metrics.RecordProcessCreated()
	}
	m.logger.Debug("Process created",
		zap.Int("pid", rec.PID),
		zap.String("path", path),
		zap.Int("creator", caller),
		zap.String("unit", h.ID()))
	return nil
}

func (m *Manager) handleKill(msg protocol.Message) (ipc.Reply, error) {
	rec, err := m.table.Get(msg.Target)
	if err != nil {
		return ipc.Reply{}, protocol.ErrNoSuchProcess.For(protocol.OpKill, msg.Target)
	}
	if !rec.Registered() {
		return ipc.Reply{}, protocol.ErrNoWorkerRegistered.For(protocol.OpKill, msg.Target)
	}

	rec.Unit.Terminate()
	m.finish(rec, protocol.KilledExitCode, "kill")
	return ipc.Number(0), nil
}

func (m *Manager) handleList(protocol.Message) (ipc.Reply, error) {
	list, err := protocol.EncodeList(m.table.Snapshot())
	if err != nil {
		return ipc.Reply{}, protocol.External(err)
	}
	return ipc.Text(list), nil
}

func (m *Manager) handlePipe(msg protocol.Message) (ipc.Reply, error) {
	out, err := m.table.Get(msg.OutPID)
	if err != nil {
		return ipc.Reply{}, protocol.ErrNoSuchProcess.For(protocol.OpPipe, msg.OutPID)
	}
	in, err := m.table.Get(msg.InPID)
	if err != nil {
		return ipc.Reply{}, protocol.ErrNoSuchProcess.For(protocol.OpPipe, msg.InPID)
	}
	if !out.PipeStdout {
		return ipc.Reply{}, protocol.ErrNotPipeEligible.For(protocol.OpPipe, out.PID)
	}
	if !in.PipeStdin {
		return ipc.Reply{}, protocol.ErrNotPipeEligible.For(protocol.OpPipe, in.PID)
	}

	err = m.table.Update(in.PID, func(rec *Record) error {
		if rec.Started {
			return protocol.ErrTargetAlreadyStarted.For(protocol.OpPipe, rec.PID)
		}
		rec.Stdin = out.Stdout
		return nil
	})
	if err != nil {
		return ipc.Reply{}, err
	}

	m.logger.Debug("Processes piped", zap.Int("out", out.PID), zap.Int("in", in.PID))
	return ipc.Number(0), nil
}

func (m *Manager) handleStart(msg protocol.Message) (ipc.Reply, error) {
	rec, err := m.table.Get(msg.Target)
	if err != nil {
		return ipc.Reply{}, protocol.ErrNoSuchProcess.For(protocol.OpStart, msg.Target)
	}
	if err := m.start(rec); err != nil {
		return ipc.Reply{}, err
	}
	return ipc.Number(0), nil
}

// start delivers the start payload exactly once.
func (m *Manager) start(rec Record) error {
	if !rec.Registered() {
		return protocol.ErrNoWorkerRegistered.For(protocol.OpStart, rec.PID)
	}

	err := m.table.Update(rec.PID, func(r *Record) error {
		if r.Started {
			return protocol.ErrTargetAlreadyStarted.For(protocol.OpStart, r.PID)
		}
		r.Started = true
		rec = *r
		return nil
	})
	if err != nil {
		return err
	}

	if err := rec.Unit.Send(protocol.Message{Op: protocol.OpInit, Start: rec.payload()}); err != nil {
		return protocol.External(err)
	}
	return nil
}

func (m *Manager) handleExit(msg protocol.Message) (ipc.Reply, error) {
	rec, err := m.table.Get(msg.PID)
	if err != nil {
		return ipc.Reply{}, protocol.ErrNoSuchProcess.For(protocol.OpExit, msg.PID)
	}

	m.finish(rec, msg.Code, "exit")
	m.reply(msg, ipc.Number(0))
	if rec.Registered() {
		rec.Unit.Terminate()
	}
	return ipc.Reply{}, errDeferred
}

// finish frees the slot and releases everyone waiting on it with code.
func (m *Manager) finish(rec Record, code int, reason string) {
	_ = m.table.SetState(rec.PID, protocol.StateTerminating)
	if err := m.table.Free(rec.PID); err != nil {
		m.logger.Warn("Free failed", zap.Int("pid", rec.PID), zap.Error(err))
		return
	}

	for _, w := range m.waiting.release(rec.PID) {
		if w.pid != 0 {
			if wr, err := m.table.Get(w.pid); err != nil || wr.Signal != w.signal {
				m.logger.Warn("Waiter gone",
					zap.Int("pid", rec.PID),
					zap.Int("waiter", w.pid),
					zap.Error(protocol.ErrWaitingProcessVanished))
				continue
			}
		}
		m.replyTo(w.signal, ipc.Number(int64(code)))
	}

	// Units killed before start never close their own outputs.
	for _, out := range []*ipc.Buffer{rec.Stdout, rec.Stderr} {
		if out == nil {
			continue
		}
		if err := out.Close(); err != nil && !errors.Is(err, ipc.ErrClosed) {
			m.logger.Debug("Output not closed", zap.Int("pid", rec.PID), zap.Error(err))
		}
	}

	m.logger.Info("Process exited",
		zap.Int("pid", rec.PID),
		zap.String("path", rec.Path),
		zap.Int("code", code),
		zap.String("reason", reason))

	m.recordLive()
	if m.metrics != nil {
		m.metrics.RecordProcessExit(reason)
	}

	ev := ExitEvent{PID: rec.PID, Path: rec.Path, Code: code, Reason: reason}
	m.hookMu.RLock()
	hooks := m.onExit
	m.hookMu.RUnlock()
	for _, fn := range hooks {
		fn(ev)
	}
}
