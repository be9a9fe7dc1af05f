package mcp

import "fmt"

// ServerError is raised when a tool-server operation fails. It carries the
// originating server name so callers can attribute partial failures.
type ServerError struct {
	Server  string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("tool server %s: %s", e.Server, e.Message)
}

// NewServerError creates a ServerError for the given server.
func NewServerError(server, format string, args ...interface{}) *ServerError {
	return &ServerError{Server: server, Message: fmt.Sprintf(format, args...)}
}
