package protocol

import (
	"errors"
	"fmt"
)

// Wire codes. Replies >= 0 are success values.
const (
	CodeNoWorkerRegistered     = -1
	CodeNoSuchProcess          = -2
	CodeWaitingProcessVanished = -3
	CodeUnknownProcessState    = -4
	CodeNoTerminal             = -5
	CodeNoPendingRegistration  = -6
	CodeTableFull              = -7
	CodeExternal               = -8
	CodeUnknown                = -9
	CodeNotPipeEligible        = -10
	CodeTargetAlreadyStarted   = -15
	CodeProgramNotFound        = -16
	CodeInvalidArguments       = -17
)

// KilledExitCode is what waiters on a killed process receive.
const KilledExitCode = 137

// Error is a process-model failure that can cross the reply channel.
type Error struct {
	Code int
	Msg  string
	Op   Op
	PID  int
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.PID > 0:
		return fmt.Sprintf("%s pid %d: %s", e.Op, e.PID, e.Msg)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	default:
		return e.Msg
	}
}

// Is matches on code so wrapped and annotated errors compare equal.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// For annotates a copy of e with the op and pid it concerns.
func (e *Error) For(op Op, pid int) *Error {
	c := *e
	c.Op, c.PID = op, pid
	return &c
}

// Withf returns a copy of e with a more specific message.
func (e *Error) Withf(format string, args ...any) *Error {
	return e.withMsg(fmt.Sprintf(format, args...))
}

func (e *Error) withMsg(msg string) *Error {
	c := *e
	c.Msg = msg
	return &c
}

var (
	ErrNoWorkerRegistered     = &Error{Code: CodeNoWorkerRegistered, Msg: "no execution unit registered"}
	ErrNoSuchProcess          = &Error{Code: CodeNoSuchProcess, Msg: "no such process"}
	ErrWaitingProcessVanished = &Error{Code: CodeWaitingProcessVanished, Msg: "waiting process vanished"}
	ErrUnknownProcessState    = &Error{Code: CodeUnknownProcessState, Msg: "unknown process state"}
	ErrNoTerminal             = &Error{Code: CodeNoTerminal, Msg: "process requires a terminal"}
	ErrNoPendingRegistration  = &Error{Code: CodeNoPendingRegistration, Msg: "no pending process to register"}
	ErrTableFull              = &Error{Code: CodeTableFull, Msg: "process table full"}
	ErrExternal               = &Error{Code: CodeExternal, Msg: "external error"}
	ErrUnknown                = &Error{Code: CodeUnknown, Msg: "unknown error"}
	ErrNotPipeEligible        = &Error{Code: CodeNotPipeEligible, Msg: "process not set up for piping"}
	ErrTargetAlreadyStarted   = &Error{Code: CodeTargetAlreadyStarted, Msg: "process already started"}
	ErrProgramNotFound        = &Error{Code: CodeProgramNotFound, Msg: "program not found"}
	ErrInvalidArguments       = &Error{Code: CodeInvalidArguments, Msg: "invalid arguments"}
)

var byCode = map[int]*Error{}

func init() {
	for _, e := range []*Error{
		ErrNoWorkerRegistered, ErrNoSuchProcess, ErrWaitingProcessVanished,
		ErrUnknownProcessState, ErrNoTerminal, ErrNoPendingRegistration,
		ErrTableFull, ErrExternal, ErrUnknown, ErrNotPipeEligible,
		ErrTargetAlreadyStarted, ErrProgramNotFound, ErrInvalidArguments,
	} {
		byCode[e.Code] = e
	}
}

// External wraps a collaborator failure.
func External(err error) *Error {
	return ErrExternal.withMsg(err.Error())
}

// Invalid builds an InvalidArguments error with a reason.
func Invalid(format string, args ...any) *Error {
	return ErrInvalidArguments.withMsg(fmt.Sprintf(format, args...))
}

// CodeOf maps any error to a wire code. Foreign errors become CodeExternal.
func CodeOf(err error) int {
	if err == nil {
		return 0
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return CodeExternal
}

// FromCode maps a negative reply back to its error.
func FromCode(code int) error {
	if code >= 0 {
		return nil
	}
	if e, ok := byCode[code]; ok {
		return e
	}
	return ErrUnknown.withMsg(fmt.Sprintf("unknown error code %d", code))
}
