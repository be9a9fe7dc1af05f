package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"spectraq/internal/logging"
	"spectraq/internal/mcp"
	"spectraq/internal/models"
)

// ToolDispatcher is the slice of the MCP registry the agent needs. Satisfied
// by *mcp.Registry; tests stub it.
type ToolDispatcher interface {
	CallTool(ctx context.Context, serverName, tool string, params map[string]interface{}) (interface{}, error)
	IsReachable(serverName string) bool
}

// LLMClient is the completion surface the agent needs. Satisfied by
// *GeminiService; tests stub it.
type LLMClient interface {
	Complete(ctx context.Context, messages []models.ChatMessage, model string, temperature float64, maxTokens int) (*models.Completion, error)
	StreamComplete(ctx context.Context, messages []models.ChatMessage, model string, temperature float64, maxTokens int, onDelta func(string)) (map[string]int, error)
}

const systemPrompt = `You are SpectraQ, an expert cryptocurrency market analyst. ` +
	`You answer using the live market data provided in the conversation when it is available, ` +
	`cite which data source supports each claim, and state uncertainty plainly. ` +
	`You never give financial advice as a guarantee; frame projections as scenarios with risks.`

// AgentService orchestrates the full query pipeline: classification, tool
// dispatch, optional compliance check, and LLM synthesis.
type AgentService struct {
	classifier      *Classifier
	registry        ToolDispatcher
	llm             LLMClient
	sessions        *SessionService
	model           string
	temperature     float64
	maxTokens       int
	promptExchanges int
}

// NewAgentService wires the pipeline together. promptExchanges bounds how
// many past exchanges are folded into the prompt.
func NewAgentService(classifier *Classifier, registry ToolDispatcher, llm LLMClient, sessions *SessionService, model string, temperature float64, maxTokens, promptExchanges int) *AgentService {
	if promptExchanges <= 0 {
		promptExchanges = 5
	}
	return &AgentService{
		classifier:      classifier,
		registry:        registry,
		llm:             llm,
		sessions:        sessions,
		model:           model,
		temperature:     temperature,
		maxTokens:       maxTokens,
		promptExchanges: promptExchanges,
	}
}

func newResponseID() string {
	return "resp_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}

// resolveSession returns an existing session or creates a new one. An
// unknown session id gets a fresh session rather than an error, so expired
// sessions degrade to a cold start.
func (a *AgentService) resolveSession(ctx context.Context, req *models.QueryRequest) *models.Session {
	if req.SessionID != "" {
		if session, _ := a.sessions.GetSession(ctx, req.SessionID); session != nil {
			return session
		}
	}
	session, err := a.sessions.CreateSession(ctx, req.UserID, nil)
	if err != nil {
		log.Printf("⚠️  [AGENT] Session creation failed: %v", err)
		return &models.Session{SessionID: "", History: []models.Exchange{}}
	}
	return session
}

// samplingParams resolves the LLM parameters for one query: the pipeline
// defaults, overridden by any non-zero values in the session config.
func (a *AgentService) samplingParams(session *models.Session) (model string, temperature float64, maxTokens int) {
	model, temperature, maxTokens = a.model, a.temperature, a.maxTokens
	if session.Config.Model != "" {
		model = session.Config.Model
	}
	if session.Config.Temperature > 0 {
		temperature = session.Config.Temperature
	}
	if session.Config.MaxTokens > 0 {
		maxTokens = session.Config.MaxTokens
	}
	return model, temperature, maxTokens
}

// ProcessQuery runs the complete pipeline for one query and returns the
// synthesized response. Tool failures are tolerated; only an LLM failure or
// an internal fault aborts the query.
func (a *AgentService) ProcessQuery(ctx context.Context, req *models.QueryRequest) (*models.AgentResponse, error) {
	start := time.Now()
	responseID := newResponseID()

	session := a.resolveSession(ctx, req)
	model, temperature, maxTokens := a.samplingParams(session)
	logger := logging.WithQuery(responseID, session.SessionID, req.UserID)

	analysis := a.classifier.Analyze(req.Query)
	logger.Info("query classified",
		"query_type", string(analysis.Type),
		"tool_count", len(analysis.Tools))

	contractCode := ""
	if analysis.Type == models.QueryTypeComplianceAudit {
		contractCode = extractContractCode(req.Query)
	}
	pc := pipelineContext{
		QueryType:       analysis.Type,
		HasContractCode: contractCode != "",
		NeedsCompliance: needsComplianceCheck(req.Query),
		RequiredTools:   len(analysis.Tools),
	}

	marketTools, complianceTools := splitInvocations(analysis.Tools)

	var toolsUsed []models.ToolCall
	var dataSources []models.DataSource
	toolResults := map[string]interface{}{}
	var completion *models.Completion

	for state := StateClassify; state != StateDone; {
		state = nextState(state, pc)
		switch state {
		case StateGatherData:
			a.executeTools(ctx, marketTools, &toolsUsed, &dataSources, toolResults, nil)
		case StateComplianceCheck:
			a.executeTools(ctx, complianceTools, &toolsUsed, &dataSources, toolResults, nil)
		case StateSynthesize:
			history := a.sessions.RecentHistory(ctx, session.SessionID, a.promptExchanges)
			messages := buildMessages(req.Query, history, toolResults)

			var err error
			completion, err = a.llm.Complete(ctx, messages, model, temperature, maxTokens)
			if err != nil {
				recordQuery(string(analysis.Type), true, time.Since(start).Seconds())
				if _, ok := err.(*UpstreamError); ok {
					return nil, err
				}
				return nil, &PipelineError{Message: err.Error(), SessionID: session.SessionID, Err: err}
			}
		}
	}

	confidence := ConfidenceScore(toolsUsed, len(analysis.Tools), analysis.Type)

	a.sessions.AppendExchange(ctx, session.SessionID, req.Query, completion.Content, toolResults)
	a.sessions.LogQuery(ctx, req.Query, completion.Content, session.SessionID, req.UserID)

	elapsed := time.Since(start)
	recordQuery(string(analysis.Type), false, elapsed.Seconds())
	recordTokenUsage(completion.TokenUsage)

	logger.Info("query complete",
		"query_type", string(analysis.Type),
		"confidence", confidence,
		"duration_ms", elapsed.Milliseconds())

	return &models.AgentResponse{
		ID:                  responseID,
		Response:            completion.Content,
		SessionID:           session.SessionID,
		QueryType:           analysis.Type,
		ConfidenceScore:     confidence,
		ToolsUsed:           toolsUsed,
		DataSources:         dataSources,
		ProcessingTimeMs:    elapsed.Milliseconds(),
		TokenUsage:          completion.TokenUsage,
		FollowUpSuggestions: FollowUpSuggestions(analysis.Type),
	}, nil
}

// executeTools dispatches the given invocations sequentially. Failures are
// recorded on the ToolCall and do not stop the remaining invocations. emit,
// when non-nil, receives a per-tool stream event.
func (a *AgentService) executeTools(ctx context.Context, invocations []models.ToolInvocation, toolsUsed *[]models.ToolCall, dataSources *[]models.DataSource, toolResults map[string]interface{}, emit func(models.StreamEvent)) {
	for _, inv := range invocations {
		toolName := inv.Server + "." + inv.Tool
		callStart := time.Now()

		result, err := a.registry.CallTool(ctx, inv.Server, inv.Tool, inv.Parameters)
		elapsed := time.Since(callStart)

		call := models.ToolCall{
			ToolName:        toolName,
			Parameters:      inv.Parameters,
			ExecutionTimeMs: elapsed.Milliseconds(),
		}
		if err != nil {
			call.Error = err.Error()
			logging.WithServer(slog.Default(), inv.Server).Warn("tool call failed",
				"tool", toolName, "error", err.Error())
			if emit != nil {
				emit(streamEvent(models.StreamEventToolError, err.Error(), toolName))
			}
		} else {
			call.Result = result
			toolResults[toolName] = result
			*dataSources = append(*dataSources, models.DataSource{
				Name:             inv.Server,
				Type:             "mcp_tool",
				LastUpdated:      time.Now().UTC(),
				ReliabilityScore: 0.9,
			})
			if emit != nil {
				emit(streamEvent(models.StreamEventToolResult, summarizeResult(result), toolName))
			}
		}
		recordToolCall(inv.Server, err != nil, elapsed.Seconds())
		*toolsUsed = append(*toolsUsed, call)
	}
}

// buildMessages assembles the LLM conversation: system framing, recent
// exchanges, then the current query with serialized tool data attached.
func buildMessages(query string, history []models.Exchange, toolResults map[string]interface{}) []models.ChatMessage {
	messages := []models.ChatMessage{{Role: "system", Content: systemPrompt}}

	for _, ex := range history {
		messages = append(messages, models.ChatMessage{Role: "user", Content: ex.Query})
		messages = append(messages, models.ChatMessage{Role: "assistant", Content: ex.Response})
	}

	var sb strings.Builder
	sb.WriteString(query)
	sb.WriteString("\n\n")
	if len(toolResults) == 0 {
		sb.WriteString("No additional data available.")
	} else {
		sb.WriteString("Live data gathered for this query:\n")
		data, err := json.MarshalIndent(toolResults, "", "  ")
		if err != nil {
			sb.WriteString(fmt.Sprintf("%v", toolResults))
		} else {
			sb.Write(data)
		}
	}
	messages = append(messages, models.ChatMessage{Role: "user", Content: sb.String()})

	return messages
}

func splitInvocations(tools []models.ToolInvocation) (market, compliance []models.ToolInvocation) {
	for _, inv := range tools {
		if inv.Tool == "compliance_audit" {
			compliance = append(compliance, inv)
			continue
		}
		market = append(market, inv)
	}
	return market, compliance
}

func summarizeResult(result interface{}) string {
	data, err := json.Marshal(result)
	if err != nil {
		return "ok"
	}
	const maxLen = 200
	if len(data) > maxLen {
		return string(data[:maxLen]) + "..."
	}
	return string(data)
}

func streamEvent(eventType, content, tool string) models.StreamEvent {
	return models.StreamEvent{
		Type:      eventType,
		Content:   content,
		Tool:      tool,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// StreamQuery runs the pipeline and emits progress events on the returned
// channel. The sequence is start, analysis, tool events, generating, content
// deltas, then exactly one terminal event: complete on success or error on
// failure. The channel is closed after the terminal event.
func (a *AgentService) StreamQuery(ctx context.Context, req *models.QueryRequest) <-chan models.StreamEvent {
	events := make(chan models.StreamEvent, 16)

	go func() {
		defer close(events)
		activeStreams.Inc()
		defer activeStreams.Dec()

		start := time.Now()
		emit := func(ev models.StreamEvent) {
			select {
			case events <- ev:
			case <-ctx.Done():
			}
		}

		emit(streamEvent(models.StreamEventStart, "Processing your query...", ""))

		session := a.resolveSession(ctx, req)
		model, temperature, maxTokens := a.samplingParams(session)
		analysis := a.classifier.Analyze(req.Query)
		emit(streamEvent(models.StreamEventAnalysis, string(analysis.Type), ""))

		contractCode := ""
		if analysis.Type == models.QueryTypeComplianceAudit {
			contractCode = extractContractCode(req.Query)
		}
		pc := pipelineContext{
			QueryType:       analysis.Type,
			HasContractCode: contractCode != "",
			NeedsCompliance: needsComplianceCheck(req.Query),
			RequiredTools:   len(analysis.Tools),
		}
		marketTools, complianceTools := splitInvocations(analysis.Tools)

		if len(analysis.Tools) > 0 {
			names := make([]string, 0, len(analysis.Tools))
			for _, inv := range analysis.Tools {
				names = append(names, inv.Server+"."+inv.Tool)
			}
			emit(streamEvent(models.StreamEventTools, strings.Join(names, ", "), ""))
		}

		var toolsUsed []models.ToolCall
		var dataSources []models.DataSource
		toolResults := map[string]interface{}{}
		var fullResponse strings.Builder
		var usage map[string]int

		for state := StateClassify; state != StateDone; {
			state = nextState(state, pc)
			switch state {
			case StateGatherData:
				a.executeTools(ctx, marketTools, &toolsUsed, &dataSources, toolResults, emit)
			case StateComplianceCheck:
				a.executeTools(ctx, complianceTools, &toolsUsed, &dataSources, toolResults, emit)
			case StateSynthesize:
				emit(streamEvent(models.StreamEventGenerating, "Generating response...", ""))

				history := a.sessions.RecentHistory(ctx, session.SessionID, a.promptExchanges)
				messages := buildMessages(req.Query, history, toolResults)

				var err error
				usage, err = a.llm.StreamComplete(ctx, messages, model, temperature, maxTokens, func(delta string) {
					fullResponse.WriteString(delta)
					emit(streamEvent(models.StreamEventContent, delta, ""))
				})
				if err != nil {
					recordQuery(string(analysis.Type), true, time.Since(start).Seconds())
					emit(streamEvent(models.StreamEventError, err.Error(), ""))
					return
				}
			}
		}

		a.sessions.AppendExchange(ctx, session.SessionID, req.Query, fullResponse.String(), toolResults)
		a.sessions.LogQuery(ctx, req.Query, fullResponse.String(), session.SessionID, req.UserID)

		recordQuery(string(analysis.Type), false, time.Since(start).Seconds())
		recordTokenUsage(usage)

		emit(streamEvent(models.StreamEventComplete, session.SessionID, ""))
	}()

	return events
}

// ensure the concrete registry satisfies the dispatcher surface
var _ ToolDispatcher = (*mcp.Registry)(nil)
