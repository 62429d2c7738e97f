package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/AgentOS/procman/internal/protocol"
	"github.com/GriffinCanCode/AgentOS/procman/internal/terminal"
)

// statusFor maps a manager error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, protocol.ErrNoSuchProcess),
		errors.Is(err, protocol.ErrProgramNotFound),
		errors.Is(err, terminal.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, protocol.ErrInvalidArguments),
		errors.Is(err, protocol.ErrNoTerminal):
		return http.StatusBadRequest
	case errors.Is(err, protocol.ErrNotPipeEligible),
		errors.Is(err, protocol.ErrTargetAlreadyStarted),
		errors.Is(err, protocol.ErrNoWorkerRegistered),
		errors.Is(err, terminal.ErrClosed):
		return http.StatusConflict
	case errors.Is(err, protocol.ErrTableFull):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// fail writes the error envelope and aborts the request.
func fail(c *gin.Context, err error) {
	body := gin.H{
		"success": false,
		"error":   err.Error(),
	}
	if code := protocol.CodeOf(err); code != protocol.CodeExternal {
		body["code"] = code
	}
	c.AbortWithStatusJSON(statusFor(err), body)
}
