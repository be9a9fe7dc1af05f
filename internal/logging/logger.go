package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures the global slog logger.
// In production (ENVIRONMENT=production) it uses JSON output for log aggregation.
// Otherwise it uses the human-readable text handler.
func Init() {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))

	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}

	slog.SetDefault(slog.New(handler))
}

// WithQuery returns a logger with query-processing context fields attached.
// Use this for all logging within a single query pipeline run.
func WithQuery(responseID, sessionID, userID string) *slog.Logger {
	return slog.With(
		"response_id", responseID,
		"session_id", sessionID,
		"user_id", userID,
	)
}

// WithServer returns a logger scoped to a specific tool server.
func WithServer(logger *slog.Logger, server string) *slog.Logger {
	return logger.With("server", server)
}
