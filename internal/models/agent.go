package models

import "time"

// QueryType classifies a user query and selects which tools to invoke
// and which confidence weight to apply.
type QueryType string

const (
	QueryTypeMarketAnalysis  QueryType = "market_analysis"
	QueryTypePricePrediction QueryType = "price_prediction"
	QueryTypeNewsSentiment   QueryType = "news_sentiment"
	QueryTypeOnChainAnalysis QueryType = "on_chain_analysis"
	QueryTypeGeneralCrypto   QueryType = "general_crypto"
	QueryTypeTradingAdvice   QueryType = "trading_advice"
	QueryTypeComplianceAudit QueryType = "compliance_audit"
)

// ToolInvocation describes one tool call the classifier wants executed.
type ToolInvocation struct {
	Server     string                 `json:"server"`
	Tool       string                 `json:"tool"`
	Parameters map[string]interface{} `json:"parameters"`
}

// QueryAnalysis is the classifier output: a query type plus the ordered
// list of tool invocations required to answer it. Recomputed per request.
type QueryAnalysis struct {
	Type       QueryType        `json:"type"`
	Tools      []ToolInvocation `json:"tools"`
	Confidence float64          `json:"confidence"`
}

// ToolCall records the outcome of a single tool invocation. A failed call
// keeps its Error set and a nil Result; it is never retried.
type ToolCall struct {
	ToolName        string                 `json:"tool_name"`
	Parameters      map[string]interface{} `json:"parameters"`
	Result          interface{}            `json:"result,omitempty"`
	ExecutionTimeMs int64                  `json:"execution_time_ms"`
	Error           string                 `json:"error,omitempty"`
}

// DataSource describes where a piece of response data came from.
type DataSource struct {
	Name             string    `json:"name"`
	Type             string    `json:"type"`
	LastUpdated      time.Time `json:"last_updated"`
	ReliabilityScore float64   `json:"reliability_score"`
}

// AgentResponse is the final answer returned to the caller. Immutable once
// constructed.
type AgentResponse struct {
	ID                  string         `json:"id"`
	Response            string         `json:"response"`
	SessionID           string         `json:"session_id,omitempty"`
	QueryType           QueryType      `json:"query_type"`
	ConfidenceScore     float64        `json:"confidence_score"`
	ToolsUsed           []ToolCall     `json:"tools_used"`
	DataSources         []DataSource   `json:"data_sources"`
	ProcessingTimeMs    int64          `json:"processing_time_ms"`
	TokenUsage          map[string]int `json:"token_usage"`
	FollowUpSuggestions []string       `json:"follow_up_suggestions"`
}

// QueryRequest is the request body for agent queries.
type QueryRequest struct {
	Query     string                 `json:"query"`
	SessionID string                 `json:"session_id,omitempty"`
	UserID    string                 `json:"user_id,omitempty"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

// Stream event types emitted on the streaming query path. The sequence is
// forward-only: once "complete" or "error" is emitted, nothing follows.
const (
	StreamEventStart      = "start"
	StreamEventAnalysis   = "analysis"
	StreamEventTools      = "tools"
	StreamEventToolResult = "tool_result"
	StreamEventToolError  = "tool_error"
	StreamEventGenerating = "generating"
	StreamEventContent    = "content"
	StreamEventComplete   = "complete"
	StreamEventError      = "error"
)

// StreamEvent is one chunk of a streaming query response.
type StreamEvent struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	Tool      string `json:"tool,omitempty"`
	Timestamp string `json:"timestamp"`
}

// ChatMessage is a single role/content turn sent to the LLM.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completion is the non-streaming LLM result.
type Completion struct {
	Content      string         `json:"content"`
	FinishReason string         `json:"finish_reason"`
	TokenUsage   map[string]int `json:"token_usage"`
}
