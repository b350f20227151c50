// internal/handler/health_handler.go
package handler

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/albireox/lvm-spec-pressure/internal/config"
	"github.com/albireox/lvm-spec-pressure/internal/model"
	"github.com/albireox/lvm-spec-pressure/internal/utils"
)

// BridgeLister reports the bridges of one spectrograph
type BridgeLister interface {
	Spec() string
	Status() []model.BridgeStatus
}

// HealthHandler handles health and bridge status requests
type HealthHandler struct {
	bridges   BridgeLister
	config    *config.Config
	logger    *utils.ServiceLogger
	startTime time.Time
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(bridges BridgeLister, config *config.Config, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		bridges:   bridges,
		config:    config,
		logger:    utils.NewServiceLogger(logger, "health-handler"),
		startTime: time.Now(),
	}
}

// RegisterRoutes registers health check routes
func (h *HealthHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/health", h.HealthCheck)
	router.GET("/live", h.LivenessCheck)
}

// RegisterBridgeRoutes registers bridge status routes
func (h *HealthHandler) RegisterBridgeRoutes(router *gin.RouterGroup) {
	router.GET("/bridges", h.ListBridges)
	router.GET("/bridges/:camera", h.GetBridge)
}

// HealthCheck reports healthy when every bridge is listening
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	health := &HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Service:   h.config.App.Name,
		Version:   h.config.App.Version,
		Spec:      h.bridges.Spec(),
		Uptime:    time.Since(h.startTime).String(),
		Checks:    make(map[string]CheckResult),
	}

	for _, status := range h.bridges.Status() {
		check := CheckResult{
			Status:  "healthy",
			Message: "Listening on " + status.Address,
			Data: map[string]interface{}{
				"active_clients": len(status.ActiveClients),
			},
		}
		if status.State != model.BridgeStateListening {
			health.Status = "unhealthy"
			check.Status = "unhealthy"
			check.Message = "Bridge is " + strings.ToLower(string(status.State))
		}
		if status.Link != nil {
			check.Data["transactions"] = status.Link.Transactions
			check.Data["errors"] = status.Link.ErrorCount
			check.Data["timeouts"] = status.Link.TimeoutCount
		}
		health.Checks[status.Camera] = check
	}

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		h.logger.Warn("Health check failed", zap.Any("checks", health.Checks))
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, health)
}

// LivenessCheck reports that the process is serving HTTP
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now(),
	})
}

// ListBridges returns the status of every bridge
func (h *HealthHandler) ListBridges(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Bridges retrieved successfully", h.bridges.Status())
}

// GetBridge returns the status of one bridge
func (h *HealthHandler) GetBridge(c *gin.Context) {
	camera := strings.ToLower(c.Param("camera"))

	for _, status := range h.bridges.Status() {
		if status.Camera == camera {
			utils.SuccessResponse(c, http.StatusOK, "Bridge retrieved successfully", status)
			return
		}
	}

	utils.ErrorResponse(c, http.StatusNotFound, "Bridge not found",
		fmt.Errorf("%w %s in spec %s", config.ErrCameraNotFound, camera, h.bridges.Spec()))
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Spec      string                 `json:"spec"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks"`
}

// CheckResult represents individual check result
type CheckResult struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}
