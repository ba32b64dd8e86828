package handlers

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/enersight/peakline/internal/database"
)

var startTime = time.Now()

// HealthHandler reports service and dependency health.
type HealthHandler struct {
	db    *database.PostgresDB
	redis *database.RedisClient
}

// HealthResponse is the health endpoint payload.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Services  map[string]string      `json:"services"`
	Resources map[string]interface{} `json:"resources"`
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(db *database.PostgresDB, redis *database.RedisClient) *HealthHandler {
	return &HealthHandler{db: db, redis: redis}
}

// HealthCheck probes the database and Redis and reports host resource stats.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	services := make(map[string]string)

	if h.db != nil {
		if err := h.db.HealthCheck(c.Request.Context()); err != nil {
			services["database"] = "unhealthy: " + err.Error()
		} else {
			services["database"] = "healthy"
		}
	} else {
		services["database"] = "unhealthy: not configured"
	}

	if h.redis != nil {
		if err := h.redis.HealthCheck(c.Request.Context()); err != nil {
			services["redis"] = "unhealthy: " + err.Error()
		} else {
			services["redis"] = "healthy"
		}
	} else {
		services["redis"] = "unhealthy: not configured"
	}

	resources := map[string]interface{}{
		"goroutines": runtime.NumGoroutine(),
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		resources["memory_used_percent"] = vm.UsedPercent
	}

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   "1.0.0",
		Uptime:    time.Since(startTime).String(),
		Services:  services,
		Resources: resources,
	}

	statusCode := http.StatusOK
	for _, state := range services {
		if state != "healthy" {
			response.Status = "degraded"
			statusCode = http.StatusServiceUnavailable
			break
		}
	}

	c.JSON(statusCode, response)
}
