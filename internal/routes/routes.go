// internal/routes/routes.go
package routes

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/albireox/lvm-spec-pressure/internal/config"
	"github.com/albireox/lvm-spec-pressure/internal/discovery"
	"github.com/albireox/lvm-spec-pressure/internal/handler"
	"github.com/albireox/lvm-spec-pressure/internal/middleware"
	"github.com/albireox/lvm-spec-pressure/internal/utils"
)

// Router holds all dependencies for routing
type Router struct {
	config    *config.Config
	logger    *zap.Logger
	bridges   handler.BridgeLister
	eventBus  *handler.EventBus
	websocket *handler.WebSocketHandler
}

// NewRouter creates a new router instance
func NewRouter(config *config.Config, logger *zap.Logger, bridges handler.BridgeLister, eventBus *handler.EventBus) *Router {
	return &Router{
		config:   config,
		logger:   logger,
		bridges:  bridges,
		eventBus: eventBus,
	}
}

// SetupRouter creates and configures the Gin router
func (r *Router) SetupRouter() *gin.Engine {
	if r.config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()

	r.addMiddleware(router)
	r.addRoutes(router)

	return router
}

// Close disconnects WebSocket clients
func (r *Router) Close() {
	if r.websocket != nil {
		r.websocket.Close()
	}
}

// addMiddleware adds middleware to the router
func (r *Router) addMiddleware(router *gin.Engine) {
	router.Use(middleware.RecoveryMiddleware(r.logger))
	router.Use(middleware.RequestIDMiddleware())

	serviceLogger := utils.NewServiceLogger(r.logger, "http-server")
	router.Use(middleware.LoggingMiddleware(serviceLogger))

	router.Use(middleware.CORSMiddleware(&r.config.Status))

	r.logger.Debug("Middleware configured")
}

// addRoutes sets up all application routes
func (r *Router) addRoutes(router *gin.Engine) {
	healthHandler := handler.NewHealthHandler(r.bridges, r.config, r.logger)
	healthHandler.RegisterRoutes(router.Group(""))

	apiV1 := router.Group("/api/v1")
	healthHandler.RegisterBridgeRoutes(apiV1)

	discoveryHandler := handler.NewDiscoveryHandler(discovery.NewScanner(nil, r.logger), r.bridges, r.logger)
	discoveryHandler.RegisterRoutes(apiV1)

	if r.eventBus != nil {
		r.websocket = handler.NewWebSocketHandler(r.eventBus, r.config.Status.AllowedOrigins, r.logger)
		r.websocket.RegisterRoutes(router.Group("/ws"))
	}

	r.logger.Debug("All routes configured successfully")
}
