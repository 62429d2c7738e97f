package protocol

import (
	"context"
	"fmt"
	"sync"

	"github.com/GriffinCanCode/AgentOS/procman/internal/ipc"
)

// Poster delivers a message to the manager without waiting for it.
type Poster func(Message) error

// Client issues blocking requests to the manager on behalf of one caller.
type Client struct {
	pid       int
	post      Poster
	signal    *ipc.Signal
	replySize int

	// trackState makes blocking calls report SLEEPING/RUNNING around the wait.
	trackState bool

	mu sync.Mutex
}

// NewClient returns a client for process pid that receives replies on sig.
func NewClient(pid int, sig *ipc.Signal, post Poster) *Client {
	return &Client{
		pid:        pid,
		post:       post,
		signal:     sig,
		trackState: true,
	}
}

// NewHostClient returns a client for callers outside the process table.
// Each call gets its own signal, so calls may run concurrently.
func NewHostClient(post Poster, replySize int) *Client {
	return &Client{post: post, replySize: replySize}
}

// PID returns the caller's pid; 0 for the host.
func (c *Client) PID() int {
	return c.pid
}

func (c *Client) call(ctx context.Context, msg Message) (ipc.Reply, error) {
	sig := c.signal
	if sig == nil {
		sig = ipc.NewSignal(c.replySize)
	} else {
		c.mu.Lock()
		defer c.mu.Unlock()
	}

	msg.PID = c.pid
	msg.Signal = sig

	sleeping := c.trackState && msg.Op != OpExit
	if sleeping {
		_ = c.post(Message{Op: OpChangeState, PID: c.pid, State: StateSleeping})
	}
	if err := c.post(msg); err != nil {
		return ipc.Reply{}, External(err).For(msg.Op, c.pid)
	}
	if err := sig.Sleep(ctx); err != nil {
		return ipc.Reply{}, err
	}
	if sleeping {
		_ = c.post(Message{Op: OpChangeState, PID: c.pid, State: StateRunning})
	}

	return c.receive(msg.Op, sig)
}

func (c *Client) receive(op Op, sig *ipc.Signal) (ipc.Reply, error) {
	reply, ok := sig.Read()
	if !ok {
		return ipc.Reply{}, ErrUnknown.withMsg("woken without a reply").For(op, c.pid)
	}
	if reply.IsErr() {
		return reply, FromCode(reply.Int())
	}
	return reply, nil
}

// Wait blocks until pid exits and returns its exit code.
func (c *Client) Wait(ctx context.Context, pid int) (int, error) {
	r, err := c.call(ctx, Message{Op: OpWaitOnPID, Target: pid})
	return r.Int(), err
}

// Watch queues a wait on pid and returns a function that blocks for its
// exit code. Requests posted after Watch returns are serviced after the
// wait is registered, so a process started afterwards cannot be missed.
// Only host clients can watch.
func (c *Client) Watch(pid int) (func(ctx context.Context) (int, error), error) {
	if c.signal != nil {
		return nil, Invalid("only host clients can watch").For(OpWaitOnPID, c.pid)
	}
	sig := ipc.NewSignal(c.replySize)
	if err := c.post(Message{Op: OpWaitOnPID, PID: c.pid, Target: pid, Signal: sig}); err != nil {
		return nil, External(err).For(OpWaitOnPID, c.pid)
	}
	return func(ctx context.Context) (int, error) {
		if err := sig.Sleep(ctx); err != nil {
			return 0, err
		}
		r, err := c.receive(OpWaitOnPID, sig)
		return r.Int(), err
	}, nil
}

// Create asks for a new process. On failure the returned pid is the
// negative error code.
func (c *Client) Create(ctx context.Context, req CreateRequest) (int, error) {
	r, err := c.call(ctx, Message{Op: OpCreate, Create: &req})
	return r.Int(), err
}

// Kill forcibly terminates pid.
func (c *Client) Kill(ctx context.Context, pid int) error {
	_, err := c.call(ctx, Message{Op: OpKill, Target: pid})
	return err
}

// List returns a snapshot of the process table.
func (c *Client) List(ctx context.Context) ([]ProcessInfo, error) {
	r, err := c.call(ctx, Message{Op: OpList})
	if err != nil {
		return nil, err
	}
	list, err := DecodeList(r.Str)
	if err != nil {
		return nil, fmt.Errorf("decode process list: %w", err)
	}
	return list, nil
}

// Pipe connects out's stdout to in's stdin. in must not have started.
func (c *Client) Pipe(ctx context.Context, out, in int) error {
	_, err := c.call(ctx, Message{Op: OpPipe, OutPID: out, InPID: in})
	return err
}

// Start delivers the start payload to a process created without autostart.
func (c *Client) Start(ctx context.Context, pid int) error {
	_, err := c.call(ctx, Message{Op: OpStart, Target: pid})
	return err
}

// Exit terminates the calling process with code.
func (c *Client) Exit(ctx context.Context, code int) error {
	_, err := c.call(ctx, Message{Op: OpExit, Code: code})
	return err
}

// ChangeState reports a state transition. It does not wait for a reply.
func (c *Client) ChangeState(state State) error {
	return c.post(Message{Op: OpChangeState, PID: c.pid, State: state})
}

// Forward posts a message outside the core op set.
func (c *Client) Forward(op Op, payload any) error {
	return c.post(Message{Op: op, PID: c.pid, Payload: payload})
}
