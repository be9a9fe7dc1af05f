package services

import "fmt"

// UpstreamError is raised when the LLM API call fails. StatusCode is zero
// when the failure happened before an HTTP status was received.
type UpstreamError struct {
	Message    string
	StatusCode int
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("llm upstream error (status %d): %s", e.StatusCode, e.Message)
	}
	return "llm upstream error: " + e.Message
}

// PipelineError wraps any unexpected fault inside query processing. It
// carries the session id for diagnostics and is translated into a generic
// failure response at the handler boundary.
type PipelineError struct {
	Message   string
	SessionID string
	Err       error
}

func (e *PipelineError) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("query processing failed (session %s): %s", e.SessionID, e.Message)
	}
	return "query processing failed: " + e.Message
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}
