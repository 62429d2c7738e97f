package process

import (
	"fmt"
	"sync"
	"time"

	"github.com/GriffinCanCode/AgentOS/procman/internal/ipc"
	"github.com/GriffinCanCode/AgentOS/procman/internal/protocol"
	"github.com/GriffinCanCode/AgentOS/procman/internal/unit"
)

// Spec is what the table needs to reserve a slot.
type Spec struct {
	Path           string
	Source         []byte
	Args           []string
	Cwd            string
	Terminal       protocol.Terminal
	PipeStdin      bool
	PipeStdout     bool
	RedirectStdin  string
	RedirectStdout string
	Autostart      bool
}

// Table allocates PIDs and stores process records. No method blocks.
type Table struct {
	mu    sync.RWMutex
	slots []*Record // index is the PID; Protected by mu
	next  int       // Protected by mu
	live  int       // Protected by mu

	pipeSize  int
	replySize int
	now       func() time.Time
}

// NewTable creates a table for PIDs 1..maxPID-1.
func NewTable(maxPID, pipeSize, replySize int) *Table {
	if maxPID < 2 {
		maxPID = 2
	}
	return &Table{
		slots:     make([]*Record, maxPID),
		next:      1,
		pipeSize:  pipeSize,
		replySize: replySize,
		now:       time.Now,
	}
}

// Cap returns the number of PIDs the table can hand out.
func (t *Table) Cap() int {
	return len(t.slots) - 1
}

// Len returns the number of live records.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.live
}

// Allocate reserves the next free PID at or after the rolling cursor,
// wrapping around once, and allocates the record's pipes and signal.
func (t *Table) Allocate(spec Spec) (Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pid := 0
	for i := 0; i < t.Cap(); i++ {
		candidate := (t.next-1+i)%t.Cap() + 1
		if t.slots[candidate] == nil {
			pid = candidate
			break
		}
	}
	if pid == 0 {
		return Record{}, protocol.ErrTableFull
	}

	rec := &Record{
		PID:            pid,
		State:          protocol.StateStarting,
		CreatedAt:      t.now(),
		Path:           spec.Path,
		Source:         spec.Source,
		Args:           append([]string(nil), spec.Args...),
		Cwd:            spec.Cwd,
		Stdin:          ipc.NewBuffer(t.pipeSize),
		Stdout:         ipc.NewBuffer(t.pipeSize),
		Stderr:         ipc.NewBuffer(t.pipeSize),
		Signal:         ipc.NewSignal(t.replySize),
		Terminal:       spec.Terminal,
		PipeStdin:      spec.PipeStdin,
		PipeStdout:     spec.PipeStdout,
		RedirectStdin:  spec.RedirectStdin,
		RedirectStdout: spec.RedirectStdout,
		Autostart:      spec.Autostart,
	}
	t.slots[pid] = rec
	t.next = pid%t.Cap() + 1
	t.live++
	return *rec, nil
}

func (t *Table) lookup(pid int) (*Record, error) {
	if pid <= 0 || pid >= len(t.slots) || t.slots[pid] == nil {
		return nil, protocol.ErrNoSuchProcess
	}
	return t.slots[pid], nil
}

// Get returns a copy of the record for pid.
func (t *Table) Get(pid int) (Record, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, err := t.lookup(pid)
	if err != nil {
		return Record{}, err
	}
	return *rec, nil
}

// Register attaches an execution unit to a record that has none.
func (t *Table) Register(pid int, h unit.Handle, fallback func(protocol.Message)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, err := t.lookup(pid)
	if err != nil {
		return err
	}
	if rec.Unit != nil {
		return protocol.Invalid("pid %d already has unit %s", pid, rec.Unit.ID())
	}
	rec.Unit = h
	rec.fallback = fallback
	return nil
}

// Update applies fn to the stored record under the table lock.
func (t *Table) Update(pid int, fn func(*Record) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, err := t.lookup(pid)
	if err != nil {
		return err
	}
	return fn(rec)
}

// SetState moves a record along the lifecycle.
func (t *Table) SetState(pid int, state protocol.State) error {
	return t.Update(pid, func(rec *Record) error {
		if rec.State == state {
			return nil
		}
		if !rec.State.CanTransition(state) {
			return fmt.Errorf("pid %d: %s -> %s: %w", pid, rec.State, state, protocol.ErrUnknownProcessState)
		}
		rec.State = state
		return nil
	})
}

// Free removes the record and makes its PID the next one handed out.
func (t *Table) Free(pid int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.lookup(pid); err != nil {
		return err
	}
	t.slots[pid] = nil
	t.next = pid
	t.live--
	return nil
}

// Snapshot lists every live process in PID order.
func (t *Table) Snapshot() []protocol.ProcessInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.now()
	list := make([]protocol.ProcessInfo, 0, t.live)
	for _, rec := range t.slots {
		if rec != nil {
			list = append(list, rec.Info(now))
		}
	}
	return list
}

// Records returns copies of every live record in PID order.
func (t *Table) Records() []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Record, 0, t.live)
	for _, rec := range t.slots {
		if rec != nil {
			out = append(out, *rec)
		}
	}
	return out
}
