package process

import (
	"time"

	"github.com/GriffinCanCode/AgentOS/procman/internal/ipc"
	"github.com/GriffinCanCode/AgentOS/procman/internal/protocol"
	"github.com/GriffinCanCode/AgentOS/procman/internal/unit"
)

// Record is one live process. The table owns it; everyone else works on copies.
type Record struct {
	PID       int
	State     protocol.State
	CreatedAt time.Time

	Path   string
	Source []byte
	Args   []string
	Cwd    string

	Stdin  *ipc.Buffer
	Stdout *ipc.Buffer
	Stderr *ipc.Buffer
	Signal *ipc.Signal

	Terminal       protocol.Terminal
	PipeStdin      bool
	PipeStdout     bool
	RedirectStdin  string
	RedirectStdout string

	Autostart bool
	Started   bool

	// Unit is nil until an execution unit registers.
	Unit unit.Handle
	// fallback is the unit's own message handler, displaced at registration.
	fallback func(protocol.Message)
}

// Registered reports whether an execution unit is attached.
func (r Record) Registered() bool {
	return r.Unit != nil
}

// Info returns the list row for the record.
func (r Record) Info(now time.Time) protocol.ProcessInfo {
	return protocol.ProcessInfo{
		PID:        r.PID,
		Path:       r.Path,
		CreatedAt:  r.CreatedAt,
		AgeSeconds: int64(now.Sub(r.CreatedAt) / time.Second),
		State:      r.State,
	}
}

func (r Record) payload() *protocol.StartPayload {
	return &protocol.StartPayload{
		PID:            r.PID,
		Path:           r.Path,
		Args:           r.Args,
		Source:         r.Source,
		Cwd:            r.Cwd,
		Signal:         r.Signal,
		Stdin:          r.Stdin,
		Stdout:         r.Stdout,
		Stderr:         r.Stderr,
		PipeStdin:      r.PipeStdin,
		PipeStdout:     r.PipeStdout,
		RedirectStdin:  r.RedirectStdin,
		RedirectStdout: r.RedirectStdout,
		Terminal:       r.Terminal,
	}
}
