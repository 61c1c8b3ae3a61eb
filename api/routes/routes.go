package routes

import (
	"example.com/backstage/services/irrigation/api/handlers"
	"example.com/backstage/services/irrigation/api/middleware"
	"example.com/backstage/services/irrigation/internal/service"
	"example.com/backstage/services/irrigation/internal/telemetry"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Options carries what the routes need beyond the service
type Options struct {
	Verifier    middleware.TokenVerifier
	Database    handlers.Pinger
	Metrics     *telemetry.Metrics
	Environment string
	Production  bool
}

// SetupRoutes sets up all the routes for the server
func SetupRoutes(r *gin.Engine, svc service.Service, opts Options, log *logrus.Logger) {
	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))
	}

	api := r.Group("/api")

	// Health check
	healthHandler := handlers.NewHealthHandler(opts.Database, opts.Environment, log)
	api.GET("/health", healthHandler.HealthCheck)

	// Device routes
	deviceHandler := handlers.NewDeviceHandler(svc, log, opts.Production)
	syncHandler := handlers.NewSyncHandler(svc, log, opts.Production)
	devices := api.Group("/devices")
	{
		devices.POST("/authenticate", deviceHandler.Authenticate)
		devices.POST("/sync", middleware.DeviceTokenAuth(opts.Verifier, svc, log), syncHandler.Sync)

		// Dashboard
		devices.GET("", deviceHandler.ListDevices)
		devices.GET("/:id/latest", deviceHandler.LatestReadings)
		devices.GET("/:id/logs", deviceHandler.ReadingHistory)
		devices.POST("/:id/command", deviceHandler.QueueCommand)
		devices.GET("/:id/commands", deviceHandler.ListCommands)
		devices.PATCH("/:id/zones/:zoneId", deviceHandler.UpdateZone)
		devices.PATCH("/:id/configuration", deviceHandler.UpdateConfiguration)
	}
}
