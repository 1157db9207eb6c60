package http

import (
	"context"
	"net/http"

	"aivision/internal/core/domain"
	"aivision/internal/core/ports"
	"aivision/internal/infrastructure/monitoring"
	apperrors "aivision/pkg/errors"
	"aivision/pkg/validation"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HealthReporter is satisfied by monitoring.HealthChecker.
type HealthReporter interface {
	CheckAll(ctx context.Context) monitoring.HealthStatus
}

type StatusHandler struct {
	client  ports.VisionService
	health  HealthReporter
	metrics http.Handler
	logger  *zap.SugaredLogger
}

// NewStatusHandler builds the local control API. health and metrics may be nil.
func NewStatusHandler(
	client ports.VisionService,
	health HealthReporter,
	metrics http.Handler,
	logger *zap.SugaredLogger,
) *StatusHandler {
	return &StatusHandler{
		client:  client,
		health:  health,
		metrics: metrics,
		logger:  logger,
	}
}

func (h *StatusHandler) SetupRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)
	if h.metrics != nil {
		router.GET("/metrics", gin.WrapH(h.metrics))
	}

	api := router.Group("/api")
	{
		api.GET("/state", h.GetState)
		api.POST("/connect", h.Connect)
		api.POST("/disconnect", h.Disconnect)
		api.POST("/clear", h.ClearDetections)
		api.POST("/capture", h.Capture)
		api.POST("/session/reset", h.ResetSession)
		api.GET("/config", h.GetConfig)
		api.POST("/config", h.UpdateConfig)
	}
}

func (h *StatusHandler) Health(c *gin.Context) {
	if h.health == nil {
		c.JSON(http.StatusOK, gin.H{"status": monitoring.StatusHealthy})
		return
	}

	status := h.health.CheckAll(c.Request.Context())
	code := http.StatusOK
	if status.Status != monitoring.StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

func (h *StatusHandler) GetState(c *gin.Context) {
	snap := h.client.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"target":       h.client.Target(),
		"state":        snap,
		"camera_stats": snap.CameraStats(),
	})
}

func (h *StatusHandler) Connect(c *gin.Context) {
	var req struct {
		Address string `json:"address" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("address is required"))
		return
	}
	if err := validation.ValidateBackendURL(req.Address); err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}

	if err := h.client.Connect(req.Address); err != nil {
		c.Error(apperrors.WrapError(err, apperrors.ErrCodeInvalidInput, "connect failed", http.StatusBadRequest))
		return
	}

	h.logger.Infow("connect requested", "address", req.Address)
	c.JSON(http.StatusAccepted, gin.H{
		"target":     req.Address,
		"connection": h.client.Snapshot().Connection,
	})
}

func (h *StatusHandler) Disconnect(c *gin.Context) {
	h.client.Disconnect()
	c.JSON(http.StatusOK, gin.H{"connection": h.client.Snapshot().Connection})
}

func (h *StatusHandler) ClearDetections(c *gin.Context) {
	if err := h.client.ClearDetections(c.Request.Context()); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"detections": []domain.Detection{}})
}

func (h *StatusHandler) Capture(c *gin.Context) {
	if err := h.client.CaptureLatest(c.Request.Context()); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "capture requested"})
}

func (h *StatusHandler) ResetSession(c *gin.Context) {
	h.client.ResetSession()
	c.JSON(http.StatusOK, gin.H{"session_status": h.client.Snapshot().Session})
}

func (h *StatusHandler) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.client.Snapshot().Config)
}

func (h *StatusHandler) UpdateConfig(c *gin.Context) {
	var cfg domain.DetectionConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid config body"))
		return
	}

	err := h.client.UpdateConfig(c.Request.Context(), cfg)
	if apperrors.HasCode(err, apperrors.ErrCodeInvalidInput) {
		c.Error(err)
		return
	}

	// The config is applied locally even when pushing it fails.
	body := gin.H{"config": h.client.Snapshot().Config}
	if err != nil {
		h.logger.Warnw("config applied locally but not delivered", "error", err)
		body["warning"] = err.Error()
	}
	c.JSON(http.StatusOK, body)
}
