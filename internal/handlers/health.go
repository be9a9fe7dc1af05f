package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"spectraq/internal/mcp"
	"spectraq/internal/services"
)

// HealthHandler aggregates liveness of the tool servers, Redis, and the
// LLM into one report.
type HealthHandler struct {
	registry *mcp.Registry
	redis    *services.RedisService
	llm      *services.GeminiService
	model    string
}

// NewHealthHandler creates a new health handler. redis and llm may be nil
// when those services are not configured.
func NewHealthHandler(registry *mcp.Registry, redis *services.RedisService, llm *services.GeminiService, model string) *HealthHandler {
	return &HealthHandler{registry: registry, redis: redis, llm: llm, model: model}
}

// Handle responds with the basic liveness probe.
func (h *HealthHandler) Handle(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// Detailed responds with the full dependency report. Degraded dependencies
// flip the status but the endpoint itself still returns 200 so probes can
// read the detail.
func (h *HealthHandler) Detailed(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 15*time.Second)
	defer cancel()

	status := "healthy"

	toolHealth := h.registry.HealthCheck(ctx)
	if !toolHealth.Healthy {
		status = "degraded"
	}

	redisStatus := "not_configured"
	if h.redis != nil {
		if err := h.redis.Ping(ctx); err != nil {
			redisStatus = "unreachable"
			status = "degraded"
		} else {
			redisStatus = "connected"
		}
	}

	llmStatus := "not_configured"
	if h.llm != nil {
		if err := h.llm.HealthCheck(ctx, h.model); err != nil {
			llmStatus = "unreachable"
			status = "degraded"
		} else {
			llmStatus = "available"
		}
	}

	return c.JSON(fiber.Map{
		"status":       status,
		"tool_servers": toolHealth,
		"redis":        redisStatus,
		"llm":          llmStatus,
		"timestamp":    time.Now().Format(time.RFC3339),
	})
}
