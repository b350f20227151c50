// internal/handler/discovery_handler.go
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/albireox/lvm-spec-pressure/internal/discovery"
	"github.com/albireox/lvm-spec-pressure/internal/utils"
)

const scanTimeout = 5 * time.Second

// DiscoveryHandler lists the host's serial ports and the bridges using them
type DiscoveryHandler struct {
	scanner *discovery.Scanner
	bridges BridgeLister
	logger  *utils.ServiceLogger
}

// NewDiscoveryHandler creates a new discovery handler
func NewDiscoveryHandler(scanner *discovery.Scanner, bridges BridgeLister, logger *zap.Logger) *DiscoveryHandler {
	return &DiscoveryHandler{
		scanner: scanner,
		bridges: bridges,
		logger:  utils.NewServiceLogger(logger, "discovery-handler"),
	}
}

// RegisterRoutes registers discovery routes
func (h *DiscoveryHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/ports", h.ScanPorts)
}

// ScanPorts lists serial ports, marking the ones configured for a bridge
func (h *DiscoveryHandler) ScanPorts(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), scanTimeout)
	defer cancel()

	assigned := make(map[string]string)
	for _, status := range h.bridges.Status() {
		if status.Device != nil && status.Device.URL != "" {
			assigned[status.Device.URL] = status.Camera
		}
	}

	result, err := h.scanner.Scan(ctx, assigned)
	if err != nil {
		h.logger.Error("Failed to scan serial ports", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to scan serial ports", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Serial port scan completed", result)
}
