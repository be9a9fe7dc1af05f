package handlers

import (
	"github.com/gofiber/fiber/v2"

	"spectraq/internal/mcp"
)

// ToolsHandler exposes the registered tool servers and their tools.
type ToolsHandler struct {
	registry *mcp.Registry
}

// NewToolsHandler creates a new tools handler
func NewToolsHandler(registry *mcp.Registry) *ToolsHandler {
	return &ToolsHandler{registry: registry}
}

// ListServers handles GET /api/v1/tools: every registered server with its
// reachability.
func (h *ToolsHandler) ListServers(c *fiber.Ctx) error {
	names := h.registry.ServerNames()
	servers := make([]fiber.Map, 0, len(names))
	for _, name := range names {
		servers = append(servers, fiber.Map{
			"name":      name,
			"reachable": h.registry.IsReachable(name),
		})
	}
	return c.JSON(fiber.Map{"servers": servers})
}

// ListTools handles GET /api/v1/tools/:server: the tool catalog of one
// server.
func (h *ToolsHandler) ListTools(c *fiber.Ctx) error {
	server := c.Params("server")
	tools, err := h.registry.ListTools(c.Context(), server)
	if err != nil {
		if _, ok := err.(*mcp.ServerError); ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Failed to list tools",
		})
	}
	return c.JSON(fiber.Map{"server": server, "tools": tools})
}
