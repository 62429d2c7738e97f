package protocol

import (
	"fmt"
	"io"

	"github.com/GriffinCanCode/AgentOS/procman/internal/ipc"
)

// Op names a request kind.
type Op string

const (
	OpChangeState Op = "CHANGE_STATE"
	OpWaitOnPID   Op = "WAIT_ON_PID"
	OpCreate      Op = "CREATE_PROCESS"
	OpKill        Op = "KILL_PROCESS"
	OpList        Op = "GET_PROCESS_LIST"
	OpPipe        Op = "PIPE_PROCESSES"
	OpStart       Op = "START_PROCESS"
	OpExit        Op = "EXIT_PROCESS"

	// OpInit carries the start payload from the manager to a unit.
	OpInit Op = "INIT"
	// OpLog carries console output from a unit's runtime.
	OpLog Op = "LOG"
)

// Ops lists the request kinds the manager services itself.
var Ops = []Op{OpChangeState, OpWaitOnPID, OpCreate, OpKill, OpList, OpPipe, OpStart, OpExit}

// State is a process lifecycle state.
type State string

const (
	StateStarting    State = "STARTING"
	StateRunning     State = "RUNNING"
	StateSleeping    State = "SLEEPING"
	StateTerminating State = "TERMINATING"
)

// ParseState validates a state name.
func ParseState(s string) (State, error) {
	switch st := State(s); st {
	case StateStarting, StateRunning, StateSleeping, StateTerminating:
		return st, nil
	default:
		return "", ErrUnknownProcessState.withMsg(fmt.Sprintf("unknown process state %q", s))
	}
}

// CanTransition reports whether a record in s may move to next.
func (s State) CanTransition(next State) bool {
	switch s {
	case StateStarting:
		return next == StateRunning || next == StateTerminating
	case StateRunning, StateSleeping:
		return next == StateRunning || next == StateSleeping || next == StateTerminating
	default:
		return false
	}
}

// Terminal is a controlling terminal a process can fall back to for stdio.
type Terminal interface {
	io.Reader
	io.Writer
	ID() string
}

// Message is a tagged request. Which fields matter depends on Op.
type Message struct {
	Op     Op
	PID    int         // sender; stamped by the manager for unit traffic
	Signal *ipc.Signal // reply channel, nil for one-way ops

	Target  int            // WAIT_ON_PID, KILL_PROCESS, START_PROCESS
	State   State          // CHANGE_STATE
	Code    int            // EXIT_PROCESS
	OutPID  int            // PIPE_PROCESSES
	InPID   int            // PIPE_PROCESSES
	Create  *CreateRequest // CREATE_PROCESS
	Start   *StartPayload  // INIT
	Payload any            // anything outside the core set
}

// CreateRequest describes a process to create.
type CreateRequest struct {
	Path           string   `json:"path"`
	Args           []string `json:"args,omitempty"`
	PipeStdin      bool     `json:"pipe_stdin"`
	PipeStdout     bool     `json:"pipe_stdout"`
	Start          bool     `json:"start"`
	Cwd            string   `json:"cwd,omitempty"`
	RedirectStdin  string   `json:"redirect_stdin,omitempty"`
	RedirectStdout string   `json:"redirect_stdout,omitempty"`
	Terminal       Terminal `json:"-"`
}

// StartPayload is everything a unit needs to run its program.
type StartPayload struct {
	PID    int
	Path   string
	Args   []string
	Source []byte
	Cwd    string
	Signal *ipc.Signal

	Stdin  *ipc.Buffer
	Stdout *ipc.Buffer
	Stderr *ipc.Buffer

	PipeStdin      bool
	PipeStdout     bool
	RedirectStdin  string
	RedirectStdout string
	Terminal       Terminal
}
