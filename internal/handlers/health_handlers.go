package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"labstock/internal/caching"
	"labstock/internal/repositories"
	"labstock/internal/services"

	"github.com/labstack/echo/v4"
)

// healthProbePath is read, never written, to prove the store answers.
const healthProbePath = "metadata/health"

// HealthHandlers handles health check and monitoring endpoints
type HealthHandlers struct {
	store    repositories.DocumentStore
	redisSvc caching.CacheService
	blobs    services.BlobStore
	timeout  time.Duration
	started  time.Time
}

// NewHealthHandlers creates a new health handlers instance. redisSvc and
// blobs may be nil when those backends are not configured.
func NewHealthHandlers(store repositories.DocumentStore, redisSvc caching.CacheService, blobs services.BlobStore, timeout time.Duration) *HealthHandlers {
	return &HealthHandlers{
		store:    store,
		redisSvc: redisSvc,
		blobs:    blobs,
		timeout:  timeout,
		started:  time.Now(),
	}
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  string            `json:"timestamp"`
	Services   map[string]string `json:"services"`
	Uptime     string            `json:"uptime"`
	Goroutines int               `json:"goroutines"`
}

// HealthCheck performs comprehensive health checks
func (h *HealthHandlers) HealthCheck(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), h.timeout)
	defer cancel()

	health := &HealthStatus{
		Status:     "healthy",
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Services:   make(map[string]string),
		Uptime:     time.Since(h.started).Round(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
	}

	report := func(name string, configured bool, err error) {
		switch {
		case !configured:
			health.Services[name] = "disabled"
		case err != nil:
			health.Services[name] = "unhealthy"
			health.Status = "degraded"
		default:
			health.Services[name] = "healthy"
		}
	}

	report("database", true, h.checkDatabase(ctx))
	report("redis", h.redisSvc != nil, h.checkRedis(ctx))
	report("storage", h.blobs != nil, h.checkMinIO(ctx))

	statusCode := http.StatusOK
	if health.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	return c.JSON(statusCode, health)
}

// checkDatabase verifies database connectivity
func (h *HealthHandlers) checkDatabase(ctx context.Context) error {
	_, err := h.store.GetDocument(ctx, healthProbePath)
	return err
}

// checkRedis verifies Redis connectivity
func (h *HealthHandlers) checkRedis(ctx context.Context) error {
	if h.redisSvc == nil {
		return nil
	}
	return h.redisSvc.Ping(ctx)
}

// checkMinIO verifies MinIO/S3 connectivity
func (h *HealthHandlers) checkMinIO(ctx context.Context) error {
	if h.blobs == nil {
		return nil
	}
	return h.blobs.Check(ctx)
}

// ReadinessCheck determines if the application is ready to serve traffic.
// Only the document store is critical; the cache and image storage degrade.
func (h *HealthHandlers) ReadinessCheck(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), h.timeout)
	defer cancel()

	if err := h.checkDatabase(ctx); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status":  "not_ready",
			"message": "Document store unavailable",
		})
	}

	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ready",
		"message": "All systems operational",
	})
}

// LivenessCheck determines if the application is running (basic liveness probe)
func (h *HealthHandlers) LivenessCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":    "alive",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
