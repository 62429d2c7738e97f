package ws

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/procman/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/procman/internal/ipc"
	"github.com/GriffinCanCode/AgentOS/procman/internal/process"
	"github.com/GriffinCanCode/AgentOS/procman/internal/protocol"
)

const (
	writeWait = 5 * time.Second
	drainWait = 250 * time.Millisecond
	chunkSize = 4096
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // origins are enforced by the CORS middleware
	},
}

// Frame is one JSON message in either direction.
type Frame struct {
	Type    string `json:"type"`
	PID     int    `json:"pid,omitempty"`
	Stream  string `json:"stream,omitempty"`
	Data    string `json:"data,omitempty"`
	Code    *int   `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Handler attaches WebSocket clients to running processes
type Handler struct {
	manager *process.Manager
	sys     *protocol.Client
	metrics *monitoring.Metrics
	logger  *zap.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(manager *process.Manager, metrics *monitoring.Metrics, logger *zap.Logger) *Handler {
	if metrics == nil {
		metrics = monitoring.NewMetrics(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		manager: manager,
		sys:     manager.Host(),
		metrics: metrics,
		logger:  logger,
	}
}

// Register mounts the attach endpoint.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/ws/processes/:pid", h.HandleProcess)
}

// conn serialises writes; gorilla allows one writer at a time.
type conn struct {
	ws      *websocket.Conn
	mu      sync.Mutex
	metrics *monitoring.Metrics
}

func (c *conn) send(f Frame) error {
	data, err := sonic.Marshal(f)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	c.metrics.RecordWSMessage("out", f.Type)
	return nil
}

func (c *conn) sendError(msg string) {
	_ = c.send(Frame{Type: "error", Message: msg})
}

func (c *conn) close(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

// pump forwards one output stream until it ends or ctx is cancelled.
func (c *conn) pump(ctx context.Context, stream string, buf *ipc.Buffer) {
	p := make([]byte, chunkSize)
	for {
		n, err := buf.Read(ctx, p)
		if n > 0 {
			if c.send(Frame{Type: "output", Stream: stream, Data: string(p[:n])}) != nil {
				return
			}
		}
		if errors.Is(err, io.EOF) {
			_ = c.send(Frame{Type: "eof", Stream: stream})
			return
		}
		if err != nil {
			return
		}
	}
}

// flush sends whatever is left in buf without blocking.
func (c *conn) flush(stream string, buf *ipc.Buffer) {
	p := make([]byte, chunkSize)
	for {
		n, _ := buf.ReadAvailable(p)
		if n == 0 {
			return
		}
		if c.send(Frame{Type: "output", Stream: stream, Data: string(p[:n])}) != nil {
			return
		}
	}
}

// HandleProcess upgrades the request and attaches it to a process. Output
// frames carry stdout and stderr; the client sends stdin, eof, kill and
// ping frames. An exit frame with the code ends the session.
func (h *Handler) HandleProcess(c *gin.Context) {
	pid, err := strconv.Atoi(c.Param("pid"))
	if err != nil || pid <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "bad pid"})
		return
	}
	rec, err := h.manager.Table().Get(pid)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": err.Error()})
		return
	}
	wait, err := h.sys.Watch(pid)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Int("pid", pid), zap.Error(err))
		return
	}
	defer ws.Close()

	h.metrics.IncWSConnections()
	defer h.metrics.DecWSConnections()
	h.logger.Debug("WebSocket attached", zap.Int("pid", pid))

	cn := &conn{ws: ws, metrics: h.metrics}
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	_ = cn.send(Frame{Type: "attached", PID: pid})

	streamCtx, stopStreams := context.WithCancel(ctx)
	defer stopStreams()
	var streams sync.WaitGroup
	streams.Add(2)
	go func() {
		defer streams.Done()
		cn.pump(streamCtx, "stdout", rec.Stdout)
	}()
	go func() {
		defer streams.Done()
		cn.pump(streamCtx, "stderr", rec.Stderr)
	}()

	exited := make(chan struct{})
	go func() {
		defer close(exited)
		code, err := wait(ctx)
		if err != nil {
			if ctx.Err() == nil {
				cn.sendError(err.Error())
			}
			return
		}

		// Give the pumps a moment to see end-of-stream; a killed process
		// may never close its outputs.
		drained := make(chan struct{})
		go func() {
			streams.Wait()
			close(drained)
		}()
		select {
		case <-drained:
		case <-time.After(drainWait):
			stopStreams()
			<-drained
		}
		cn.flush("stdout", rec.Stdout)
		cn.flush("stderr", rec.Stderr)

		_ = cn.send(Frame{Type: "exit", PID: pid, Code: &code})
		cn.close("process exited")
	}()

	h.readLoop(ctx, cn, pid)
	cancel()
	<-exited
	streams.Wait()
	h.logger.Debug("WebSocket detached", zap.Int("pid", pid))
}

func (h *Handler) readLoop(ctx context.Context, cn *conn, pid int) {
	for {
		_, data, err := cn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("WebSocket read error", zap.Int("pid", pid), zap.Error(err))
			}
			return
		}

		var f Frame
		if err := sonic.Unmarshal(data, &f); err != nil {
			cn.sendError("malformed frame")
			continue
		}
		h.metrics.RecordWSMessage("in", f.Type)

		switch f.Type {
		case "stdin":
			if err := h.writeStdin(ctx, pid, []byte(f.Data), false); err != nil {
				cn.sendError(err.Error())
			}
		case "eof":
			if err := h.writeStdin(ctx, pid, nil, true); err != nil {
				cn.sendError(err.Error())
			}
		case "kill":
			if err := h.sys.Kill(ctx, pid); err != nil {
				cn.sendError(err.Error())
			}
		case "ping":
			_ = cn.send(Frame{Type: "pong"})
		default:
			cn.sendError("unknown message type")
		}
	}
}

// writeStdin looks the record up each time since PIPE_PROCESSES may swap
// the stdin buffer before the process starts.
func (h *Handler) writeStdin(ctx context.Context, pid int, data []byte, eof bool) error {
	rec, err := h.manager.Table().Get(pid)
	if err != nil {
		return err
	}
	if len(data) > 0 {
		if _, err := rec.Stdin.Write(ctx, data); err != nil {
			return err
		}
	}
	if eof {
		if err := rec.Stdin.Close(); err != nil && !errors.Is(err, ipc.ErrClosed) {
			return err
		}
	}
	return nil
}
