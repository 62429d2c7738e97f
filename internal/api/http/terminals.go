package http

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CreateTerminalRequest is the body of POST /terminals
type CreateTerminalRequest struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

// ListTerminals returns every open terminal
func (h *Handlers) ListTerminals(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "terminals": h.terminals.List()})
}

// CreateTerminal opens a pseudo-terminal processes can be attached to
func (h *Handlers) CreateTerminal(c *gin.Context) {
	req := CreateTerminalRequest{Cols: 80, Rows: 24}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}
	}

	session, err := h.terminals.Create(req.Cols, req.Rows)
	if err != nil {
		h.logger.Error("Failed to open terminal", zap.Error(err))
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "terminal": session.Info()})
}

// CloseTerminal closes a terminal
func (h *Handlers) CloseTerminal(c *gin.Context) {
	if err := h.terminals.Close(c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// TerminalInput types the request body into the terminal
func (h *Handlers) TerminalInput(c *gin.Context) {
	session, err := h.terminals.Get(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxChunk))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	if err := session.Input(data); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "written": len(data)})
}

// TerminalOutput drains buffered terminal output
func (h *Handlers) TerminalOutput(c *gin.Context) {
	session, err := h.terminals.Get(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": string(session.Output())})
}
