package handlers

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/gofiber/contrib/websocket"

	"spectraq/internal/models"
	"spectraq/internal/services"
)

// StreamHandler serves streaming queries over WebSocket. Each inbound
// message is a QueryRequest; the pipeline's progress events are written
// back as JSON frames.
type StreamHandler struct {
	agent *services.AgentService
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(agent *services.AgentService) *StreamHandler {
	return &StreamHandler{agent: agent}
}

// HandleConnection drives one WebSocket connection. Queries are processed
// one at a time; a malformed frame gets an error event without closing the
// connection.
func (h *StreamHandler) HandleConnection(c *websocket.Conn) {
	defer c.Close()

	// Detect hung connections. Reset on every successful read.
	const readTimeout = 5 * time.Minute
	c.SetReadDeadline(time.Now().Add(readTimeout))
	c.SetPongHandler(func(string) error {
		c.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		var req models.QueryRequest
		if err := c.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("⚠️  [STREAM] Connection error: %v", err)
			}
			return
		}
		c.SetReadDeadline(time.Now().Add(readTimeout))

		if strings.TrimSpace(req.Query) == "" {
			c.WriteJSON(models.StreamEvent{
				Type:      models.StreamEventError,
				Content:   "query is required",
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			})
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		for event := range h.agent.StreamQuery(ctx, &req) {
			if err := c.WriteJSON(event); err != nil {
				log.Printf("⚠️  [STREAM] Write failed, dropping connection: %v", err)
				cancel()
				return
			}
		}
		cancel()
	}
}
