package handlers

import (
	"github.com/gofiber/fiber/v2"

	"spectraq/internal/services"
)

// ModelsHandler exposes the LLM models available to the configured API key.
type ModelsHandler struct {
	llm *services.GeminiService
}

// NewModelsHandler creates a new models handler
func NewModelsHandler(llm *services.GeminiService) *ModelsHandler {
	return &ModelsHandler{llm: llm}
}

// List handles GET /api/v1/models.
func (h *ModelsHandler) List(c *fiber.Ctx) error {
	ids, err := h.llm.ListModels(c.Context())
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Failed to list models",
		})
	}
	return c.JSON(fiber.Map{"models": ids})
}
