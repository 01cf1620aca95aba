package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/scriptbox/internal/api/middleware"
	"github.com/GriffinCanCode/scriptbox/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/scriptbox/internal/sandbox"
	"github.com/GriffinCanCode/scriptbox/internal/worker"
)

// Version is reported by the root and health endpoints.
const Version = "0.3.0"

// Handlers contains all HTTP handlers
type Handlers struct {
	pool         *worker.Pool
	metrics      *monitoring.Metrics
	logger       *zap.Logger
	maxBodyBytes int64
}

// NewHandlers creates a new handler set. metrics may be nil.
func NewHandlers(pool *worker.Pool, metrics *monitoring.Metrics, logger *zap.Logger, maxBodyBytes int64) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		pool:         pool,
		metrics:      metrics,
		logger:       logger,
		maxBodyBytes: maxBodyBytes,
	}
}

// Root handles the liveness check
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "scriptbox",
		"version": Version,
	})
}

// Health reports pool occupancy and invocation counters
func (h *Handlers) Health(c *gin.Context) {
	stats := h.pool.Stats()
	status := "healthy"
	code := http.StatusOK
	if stats.Closed {
		status = "draining"
		code = http.StatusServiceUnavailable
	}

	body := gin.H{
		"status":  status,
		"version": Version,
		"pool":    stats,
		"limits": gin.H{
			"default_timeout_ms":   h.pool.Limits().DefaultTimeout.Milliseconds(),
			"max_timeout_ms":       h.pool.Limits().MaxTimeout.Milliseconds(),
			"default_memory_bytes": h.pool.Limits().DefaultMemoryBytes,
			"max_memory_bytes":     h.pool.Limits().MaxMemoryBytes,
			"max_code_bytes":       h.pool.Limits().MaxCodeBytes,
		},
	}
	if h.metrics != nil {
		body["metrics"] = h.metrics.Snapshot()
	}
	c.JSON(code, body)
}

// Execute runs one invocation. Every admitted request answers 200 with an
// outcome, whatever the script did.
func (h *Handlers) Execute(c *gin.Context) {
	if h.maxBodyBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes)
	}

	var req sandbox.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	out, err := h.pool.Execute(c.Request.Context(), req)
	if err != nil {
		h.logger.Warn("Invocation refused",
			zap.String("request_id", middleware.GetRequestID(c)),
			zap.Error(err),
		)
		switch {
		case errors.Is(err, worker.ErrPoolClosed), errors.Is(err, worker.ErrTimeout):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			// The client is gone; nobody reads this.
			c.AbortWithStatus(499)
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, out)
}
