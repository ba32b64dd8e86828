package api

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/enersight/peakline/internal/api/handlers"
	"github.com/enersight/peakline/internal/middleware"
	"github.com/enersight/peakline/internal/telemetry"
)

// SetupRoutes wires the health endpoint, the trigger-secret guarded pipeline
// endpoints and the JWT guarded dashboard reads.
func SetupRoutes(
	router *gin.Engine,
	healthHandler *handlers.HealthHandler,
	peakHandler *handlers.PeakHandler,
	trigger *middleware.TriggerMiddleware,
	auth *middleware.AuthMiddleware,
) {
	router.Use(otelgin.Middleware(telemetry.ServiceName))

	router.GET("/health", healthHandler.HealthCheck)

	v1 := router.Group("/api/v1")
	{
		// Pipeline triggers, invoked by the external scheduler
		triggers := v1.Group("")
		triggers.Use(trigger.RequireTriggerSecret())
		{
			triggers.POST("/peaks/process", peakHandler.ProcessPeaks)
			triggers.POST("/classification/run", peakHandler.RunClassification)
			triggers.POST("/alerts/anomaly", peakHandler.CheckAnomaly)
		}

		// Dashboard reads
		peaks := v1.Group("/peaks")
		peaks.Use(auth.RequireAuth())
		{
			peaks.GET("", peakHandler.ListPeaks)
		}
	}
}
