package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Middleware creates a Gin middleware for metrics collection
func Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method

		reqSize := c.Request.ContentLength
		if reqSize < 0 {
			reqSize = 0
		}

		c.Next()

		// Route template keeps label cardinality bounded
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		respSize := int64(c.Writer.Size())
		if respSize < 0 {
			respSize = 0
		}

		metrics.RecordHTTPRequest(method, path, status, time.Since(start), reqSize, respSize)
	}
}

// Timer measures how long the manager spends on one request
type Timer struct {
	start   time.Time
	metrics *Metrics
	op      string
}

// NewTimer creates a new timer. A nil metrics makes Stop a no-op.
func NewTimer(metrics *Metrics, op string) *Timer {
	return &Timer{
		start:   time.Now(),
		metrics: metrics,
		op:      op,
	}
}

// Stop stops the timer and records the duration
func (t *Timer) Stop(result string) {
	if t.metrics == nil {
		return
	}
	t.metrics.RecordOp(t.op, result, time.Since(t.start))
}
