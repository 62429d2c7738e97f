package http

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/procman/internal/ipc"
	"github.com/GriffinCanCode/AgentOS/procman/internal/protocol"
)

const maxChunk = 64 << 10

// CreateProcessRequest is the body of POST /processes. Terminal is a
// terminal id from POST /terminals.
type CreateProcessRequest struct {
	protocol.CreateRequest
	Terminal string `json:"terminal"`
}

// PipeRequest is the body of POST /processes/pipe.
type PipeRequest struct {
	OutPID int `json:"out_pid" binding:"required"`
	InPID  int `json:"in_pid" binding:"required"`
}

func pidParam(c *gin.Context) (int, bool) {
	pid, err := strconv.Atoi(c.Param("pid"))
	if err != nil || pid <= 0 {
		fail(c, protocol.Invalid("bad pid %q", c.Param("pid")))
		return 0, false
	}
	return pid, true
}

// ListProcesses returns the process table snapshot
func (h *Handlers) ListProcesses(c *gin.Context) {
	list, err := h.sys.List(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "processes": list})
}

// GetProcess returns one process's table entry
func (h *Handlers) GetProcess(c *gin.Context) {
	pid, ok := pidParam(c)
	if !ok {
		return
	}
	rec, err := h.manager.Table().Get(pid)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"process":     rec.Info(time.Now()),
		"args":        rec.Args,
		"cwd":         rec.Cwd,
		"pipe_stdin":  rec.PipeStdin,
		"pipe_stdout": rec.PipeStdout,
		"started":     rec.Started,
		"registered":  rec.Registered(),
	})
}

// CreateProcess creates a process, optionally starting it
func (h *Handlers) CreateProcess(c *gin.Context) {
	var req CreateProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, protocol.Invalid("invalid request: %v", err))
		return
	}

	create := req.CreateRequest
	if req.Terminal != "" {
		session, err := h.terminals.Get(req.Terminal)
		if err != nil {
			fail(c, err)
			return
		}
		create.Terminal = session
	}

	pid, err := h.sys.Create(c.Request.Context(), create)
	if err != nil {
		fail(c, err)
		return
	}
	h.logger.Info("Process created over HTTP", zap.Int("pid", pid), zap.String("path", create.Path))
	c.JSON(http.StatusCreated, gin.H{"success": true, "pid": pid})
}

// KillProcess forcibly terminates a process
func (h *Handlers) KillProcess(c *gin.Context) {
	pid, ok := pidParam(c)
	if !ok {
		return
	}
	if err := h.sys.Kill(c.Request.Context(), pid); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "pid": pid, "code": protocol.KilledExitCode})
}

// StartProcess delivers the start payload to a created process
func (h *Handlers) StartProcess(c *gin.Context) {
	pid, ok := pidParam(c)
	if !ok {
		return
	}
	if err := h.sys.Start(c.Request.Context(), pid); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "pid": pid})
}

// PipeProcesses joins one process's stdout to another's stdin
func (h *Handlers) PipeProcesses(c *gin.Context) {
	var req PipeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, protocol.Invalid("invalid request: %v", err))
		return
	}
	if err := h.sys.Pipe(c.Request.Context(), req.OutPID, req.InPID); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "out_pid": req.OutPID, "in_pid": req.InPID})
}

// WaitProcess blocks until the process exits
func (h *Handlers) WaitProcess(c *gin.Context) {
	pid, ok := pidParam(c)
	if !ok {
		return
	}
	code, err := h.sys.Wait(c.Request.Context(), pid)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "pid": pid, "code": code})
}

// WriteStdin feeds the request body to a process's stdin. close=true posts
// end-of-input afterwards.
func (h *Handlers) WriteStdin(c *gin.Context) {
	pid, ok := pidParam(c)
	if !ok {
		return
	}
	rec, err := h.manager.Table().Get(pid)
	if err != nil {
		fail(c, err)
		return
	}

	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxChunk+1))
	if err != nil {
		fail(c, protocol.Invalid("read body: %v", err))
		return
	}
	if len(data) > maxChunk {
		fail(c, protocol.Invalid("stdin chunk larger than %d bytes", maxChunk))
		return
	}

	ctx := c.Request.Context()
	if len(data) > 0 {
		if _, err := rec.Stdin.Write(ctx, data); err != nil {
			h.streamError(c, err)
			return
		}
	}
	closed := c.Query("close") == "true"
	if closed {
		if err := rec.Stdin.Close(); err != nil && !errors.Is(err, ipc.ErrClosed) {
			h.streamError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "written": len(data), "closed": closed})
}

// ReadStdout drains what a process has written so far. stream=stderr reads
// standard error; wait=true blocks until something is available.
func (h *Handlers) ReadStdout(c *gin.Context) {
	pid, ok := pidParam(c)
	if !ok {
		return
	}
	rec, err := h.manager.Table().Get(pid)
	if err != nil {
		fail(c, err)
		return
	}

	buf := rec.Stdout
	if c.Query("stream") == "stderr" {
		buf = rec.Stderr
	}

	p := make([]byte, maxChunk)
	n, err := buf.ReadAvailable(p)
	if n == 0 && err == nil && c.Query("wait") == "true" {
		n, err = buf.Read(c.Request.Context(), p)
	}
	eof := errors.Is(err, io.EOF)
	if err != nil && !eof {
		h.streamError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "pid": pid, "data": string(p[:n]), "eof": eof})
}

func (h *Handlers) streamError(c *gin.Context, err error) {
	if errors.Is(err, ipc.ErrClosed) {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"success": false, "error": "stream closed"})
		return
	}
	fail(c, err)
}
