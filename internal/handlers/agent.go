package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"spectraq/internal/models"
	"spectraq/internal/services"
)

// AgentHandler serves the query endpoint and session management.
type AgentHandler struct {
	agent    *services.AgentService
	sessions *services.SessionService
}

// NewAgentHandler creates a new agent handler
func NewAgentHandler(agent *services.AgentService, sessions *services.SessionService) *AgentHandler {
	return &AgentHandler{agent: agent, sessions: sessions}
}

// Query handles POST /api/v1/agent/query: one full pipeline run, returning
// the synthesized response.
func (h *AgentHandler) Query(c *fiber.Ctx) error {
	var req models.QueryRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if strings.TrimSpace(req.Query) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "query is required",
		})
	}

	resp, err := h.agent.ProcessQuery(c.Context(), &req)
	if err != nil {
		var upstream *services.UpstreamError
		if errors.As(err, &upstream) {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"error": "LLM service unavailable",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Query processing failed",
		})
	}

	return c.JSON(resp)
}

// CreateSession handles POST /api/v1/agent/sessions.
func (h *AgentHandler) CreateSession(c *fiber.Ctx) error {
	var body struct {
		UserID string                `json:"user_id"`
		Config *models.SessionConfig `json:"config"`
	}
	if err := c.BodyParser(&body); err != nil && len(c.Body()) > 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	session, err := h.sessions.CreateSession(c.Context(), body.UserID, body.Config)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create session",
		})
	}
	return c.Status(fiber.StatusCreated).JSON(session)
}

// GetSession handles GET /api/v1/agent/sessions/:id.
func (h *AgentHandler) GetSession(c *fiber.Ctx) error {
	session, err := h.sessions.GetSession(c.Context(), c.Params("id"))
	if err != nil || session == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Session not found",
		})
	}
	return c.JSON(session)
}

// DeleteSession handles DELETE /api/v1/agent/sessions/:id.
func (h *AgentHandler) DeleteSession(c *fiber.Ctx) error {
	if !h.sessions.DeleteSession(c.Context(), c.Params("id")) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Session not found",
		})
	}
	return c.JSON(fiber.Map{"deleted": true})
}
