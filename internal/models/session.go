package models

import "time"

// SessionConfig holds per-session model parameters. Values here override the
// pipeline defaults when set.
type SessionConfig struct {
	Model           string   `json:"model"`
	Temperature     float64  `json:"temperature"`
	MaxTokens       int      `json:"max_tokens"`
	ContextWindow   int      `json:"context_window"`
	ToolsEnabled    []string `json:"tools_enabled"`
	Personalization bool     `json:"personalization"`
	RiskTolerance   string   `json:"risk_tolerance"`
}

// Exchange is one query/response turn retained in session history,
// together with the tool data that informed the response.
type Exchange struct {
	Query     string                 `json:"query"`
	Response  string                 `json:"response"`
	Timestamp time.Time              `json:"timestamp"`
	ToolsData map[string]interface{} `json:"tools_data,omitempty"`
}

// Session is a bounded-lifetime conversational context. It is owned by the
// session service and mutated only through AppendExchange and DeleteSession;
// it expires on TTL or explicit deletion.
type Session struct {
	SessionID    string        `json:"session_id"`
	UserID       string        `json:"user_id,omitempty"`
	Config       SessionConfig `json:"config"`
	Status       string        `json:"status"`
	History      []Exchange    `json:"history"`
	MessageCount int           `json:"message_count"`
	CreatedAt    time.Time     `json:"created_at"`
	LastActivity time.Time     `json:"last_activity,omitempty"`
	ExpiresAt    time.Time     `json:"expires_at"`
}
