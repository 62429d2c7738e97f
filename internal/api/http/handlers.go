package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/procman/internal/filesystem"
	"github.com/GriffinCanCode/AgentOS/procman/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/procman/internal/process"
	"github.com/GriffinCanCode/AgentOS/procman/internal/protocol"
	"github.com/GriffinCanCode/AgentOS/procman/internal/terminal"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	manager   *process.Manager
	sys       *protocol.Client
	terminals *terminal.Manager
	programs  filesystem.Filesystem
	metrics   *monitoring.Metrics
	logger    *zap.Logger
	started   time.Time
}

// Deps are the collaborators the handlers serve.
type Deps struct {
	Manager   *process.Manager
	Terminals *terminal.Manager
	Programs  filesystem.Filesystem
	Metrics   *monitoring.Metrics
	Logger    *zap.Logger
}

// NewHandlers creates a new handler set
func NewHandlers(d Deps) *Handlers {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	terms := d.Terminals
	if terms == nil {
		terms = terminal.NewManager(logger)
	}
	return &Handlers{
		manager:   d.Manager,
		sys:       d.Manager.Host(),
		terminals: terms,
		programs:  d.Programs,
		metrics:   d.Metrics,
		logger:    logger,
		started:   time.Now(),
	}
}

// Register mounts every route on r.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)
	r.GET("/metrics/json", h.MetricsSnapshot)
	r.GET("/programs", h.ListPrograms)

	procs := r.Group("/processes")
	procs.GET("", h.ListProcesses)
	procs.POST("", h.CreateProcess)
	procs.POST("/pipe", h.PipeProcesses)
	procs.GET("/:pid", h.GetProcess)
	procs.DELETE("/:pid", h.KillProcess)
	procs.POST("/:pid/start", h.StartProcess)
	procs.GET("/:pid/wait", h.WaitProcess)
	procs.POST("/:pid/stdin", h.WriteStdin)
	procs.GET("/:pid/stdout", h.ReadStdout)

	terms := r.Group("/terminals")
	terms.GET("", h.ListTerminals)
	terms.POST("", h.CreateTerminal)
	terms.DELETE("/:id", h.CloseTerminal)
	terms.POST("/:id/input", h.TerminalInput)
	terms.GET("/:id/output", h.TerminalOutput)
}

// Root handles the service banner
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "procman",
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	table := h.manager.Table()
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"processes":      table.Len(),
		"capacity":       table.Cap(),
		"terminals":      len(h.terminals.List()),
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	})
}

// MetricsSnapshot returns the metric values as JSON
func (h *Handlers) MetricsSnapshot(c *gin.Context) {
	if h.metrics == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "metrics disabled"})
		return
	}
	c.JSON(http.StatusOK, h.metrics.Snapshot())
}

// ListPrograms lists program files under the program root
func (h *Handlers) ListPrograms(c *gin.Context) {
	if h.programs == nil {
		c.JSON(http.StatusOK, gin.H{"success": true, "programs": []string{}})
		return
	}
	pattern := c.DefaultQuery("pattern", "**")
	matches, err := h.programs.Glob(pattern)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	if matches == nil {
		matches = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "programs": matches})
}
