package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/poolwarden/poolwarden/internal/config"
	"github.com/poolwarden/poolwarden/internal/domain"
	"github.com/poolwarden/poolwarden/internal/metrics"
	"github.com/poolwarden/poolwarden/internal/pool"
	"github.com/poolwarden/poolwarden/pkg/logging"
)

// Pool is the scheduler surface the API depends on.
type Pool interface {
	GetInstance(ctx context.Context, identity string) (string, error)
	ReportStopped(ctx context.Context, instanceID string) error
	ShutdownIdle(ctx context.Context) error
	Stats() domain.PoolStats
	Configure(cfg pool.Config)
}

// ErrorResponse is the JSON error envelope returned by every endpoint.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// Handler holds the HTTP handlers and dependencies.
type Handler struct {
	cfg     *config.Config
	pool    Pool
	metrics *metrics.Collector
	logger  *logging.Logger
}

// NewHandler creates a new API handler.
func NewHandler(cfg *config.Config, p Pool, m *metrics.Collector, logger *logging.Logger) *Handler {
	return &Handler{
		cfg:     cfg,
		pool:    p,
		metrics: m,
		logger:  logger.With("component", "api"),
	}
}

// Router returns the configured Gin router.
func (h *Handler) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	if h.metrics != nil {
		r.Use(RequestMetrics(h.metrics))
	}

	// Health check
	r.GET("/health", h.health)

	// API v1
	v1 := r.Group("/api/v1")
	v1.Use(APIKeyAuth(h.cfg.Server.APIKey))
	{
		instances := v1.Group("/instances")
		{
			instances.POST("/acquire", h.acquire)
			instances.POST("/:id/stopped", h.stopped)
		}

		poolGroup := v1.Group("/pool")
		{
			poolGroup.GET("/stats", h.poolStats)
			poolGroup.POST("/drain", h.drain)
			poolGroup.PUT("/config", h.configure)
		}
	}

	// Prometheus metrics
	if h.metrics != nil {
		r.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	}

	return r
}

// health returns a simple health check response.
func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"pool":   h.cfg.Pool.Name,
		"mode":   h.cfg.Backend.Mode,
	})
}

type acquireRequest struct {
	Identity string `json:"identity"`
}

type acquireResponse struct {
	InstanceID string `json:"instance_id"`
	Identity   string `json:"identity"`
}

// acquire binds an identity to an instance, reusing its existing one when
// the binding is still live.
func (h *Handler) acquire(c *gin.Context) {
	var req acquireRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	id, err := h.pool.GetInstance(c.Request.Context(), req.Identity)
	if err != nil {
		h.acquireError(c, req.Identity, err)
		return
	}

	c.JSON(http.StatusOK, acquireResponse{
		InstanceID: id,
		Identity:   req.Identity,
	})
}

func (h *Handler) acquireError(c *gin.Context, identity string, err error) {
	var capErr *domain.CapacityExceededError
	var startErr *domain.StartError

	switch {
	case errors.Is(err, domain.ErrIdentityRequired):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "identity is required",
			Code:  "IDENTITY_REQUIRED",
		})
	case errors.As(err, &capErr):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "pool capacity exceeded",
			Code:  "CAPACITY_EXCEEDED",
			Details: gin.H{
				"used":  capErr.Used,
				"limit": capErr.Limit,
			},
		})
	case errors.As(err, &startErr):
		h.logger.Error("Instance start failed during acquire", "identity", identity, "error", err)
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Error: "backend failed to start instance",
			Code:  "START_FAILED",
		})
	default:
		h.logger.Error("Acquire failed", "identity", identity, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "internal error",
			Code:  "INTERNAL",
		})
	}
}

// stopped records an out-of-band report that an instance has stopped.
// Unknown ids succeed: the report may race the reconciler's own removal.
func (h *Handler) stopped(c *gin.Context) {
	id := c.Param("id")

	if err := h.pool.ReportStopped(c.Request.Context(), id); err != nil {
		h.logger.Error("Failed to process stopped report", "instanceID", id, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "failed to process stopped report",
			Code:  "INTERNAL",
		})
		return
	}

	c.Status(http.StatusNoContent)
}

// poolStats returns current pool statistics.
func (h *Handler) poolStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.pool.Stats())
}

// drain stops and removes every warm unassigned instance. Assigned
// instances are untouched.
func (h *Handler) drain(c *gin.Context) {
	if err := h.pool.ShutdownIdle(c.Request.Context()); err != nil {
		h.logger.Error("Drain failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "failed to drain idle instances",
			Code:  "INTERNAL",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "drained"})
}

type configureRequest struct {
	WarmTarget      int    `json:"warm_target"`
	RefreshInterval string `json:"refresh_interval"`
	Mode            string `json:"mode,omitempty"`
	AcquireTimeout  string `json:"acquire_timeout,omitempty"`
}

// configure replaces the pool's operating parameters. Takes effect from the
// next operation; the new refresh interval applies after the current cycle.
func (h *Handler) configure(c *gin.Context) {
	var req configureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	refresh, err := time.ParseDuration(req.RefreshInterval)
	if err != nil || refresh <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "refresh_interval must be a positive duration",
			Code:  "INVALID_REQUEST",
		})
		return
	}
	if req.WarmTarget < 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "warm_target must be non-negative",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	cfg := pool.Config{
		WarmTarget:      req.WarmTarget,
		RefreshInterval: refresh,
		Mode:            pool.Mode(req.Mode),
	}
	if req.AcquireTimeout != "" {
		timeout, err := time.ParseDuration(req.AcquireTimeout)
		if err != nil || timeout < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "acquire_timeout must be a non-negative duration",
				Code:  "INVALID_REQUEST",
			})
			return
		}
		cfg.AcquireTimeout = timeout
	}

	h.pool.Configure(cfg)
	c.JSON(http.StatusOK, gin.H{"status": "configured"})
}
