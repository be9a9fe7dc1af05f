package services

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"spectraq/internal/models"
)

// fakeDispatcher records tool calls and fails servers listed in failing.
type fakeDispatcher struct {
	calls   []string
	failing map[string]bool
}

func (f *fakeDispatcher) CallTool(ctx context.Context, serverName, tool string, params map[string]interface{}) (interface{}, error) {
	f.calls = append(f.calls, serverName+"."+tool)
	if f.failing[serverName] {
		return nil, fmt.Errorf("server %s unreachable", serverName)
	}
	return map[string]interface{}{"server": serverName, "ok": true}, nil
}

func (f *fakeDispatcher) IsReachable(serverName string) bool {
	return !f.failing[serverName]
}

// fakeLLM returns a canned response, or an error when failWith is set. It
// records the sampling parameters of the last call.
type fakeLLM struct {
	response string
	failWith error
	prompts  [][]models.ChatMessage

	lastModel       string
	lastTemperature float64
	lastMaxTokens   int
}

func (f *fakeLLM) record(messages []models.ChatMessage, model string, temperature float64, maxTokens int) {
	f.prompts = append(f.prompts, messages)
	f.lastModel = model
	f.lastTemperature = temperature
	f.lastMaxTokens = maxTokens
}

func (f *fakeLLM) Complete(ctx context.Context, messages []models.ChatMessage, model string, temperature float64, maxTokens int) (*models.Completion, error) {
	f.record(messages, model, temperature, maxTokens)
	if f.failWith != nil {
		return nil, f.failWith
	}
	return &models.Completion{
		Content:      f.response,
		FinishReason: "stop",
		TokenUsage:   map[string]int{"prompt_tokens": 10, "completion_tokens": 20, "total_tokens": 30},
	}, nil
}

func (f *fakeLLM) StreamComplete(ctx context.Context, messages []models.ChatMessage, model string, temperature float64, maxTokens int, onDelta func(string)) (map[string]int, error) {
	f.record(messages, model, temperature, maxTokens)
	if f.failWith != nil {
		return nil, f.failWith
	}
	for _, word := range strings.SplitAfter(f.response, " ") {
		onDelta(word)
	}
	return map[string]int{"total_tokens": 30}, nil
}

func newTestAgent(dispatcher *fakeDispatcher, llm *fakeLLM) (*AgentService, *SessionService) {
	sessions := NewSessionService(newFakeStore(), time.Hour, 20, "test-model")
	agent := NewAgentService(NewClassifier(), dispatcher, llm, sessions, "test-model", 0.7, 2000, 5)
	return agent, sessions
}

func TestProcessQueryHappyPath(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	llm := &fakeLLM{response: "ETH is trading at $3000."}
	agent, _ := newTestAgent(dispatcher, llm)

	resp, err := agent.ProcessQuery(context.Background(), &models.QueryRequest{
		Query: "What's the price of ethereum?",
	})
	if err != nil {
		t.Fatalf("ProcessQuery failed: %v", err)
	}

	if !strings.HasPrefix(resp.ID, "resp_") {
		t.Errorf("unexpected response id: %s", resp.ID)
	}
	if resp.QueryType != models.QueryTypePricePrediction {
		t.Errorf("expected price_prediction, got %s", resp.QueryType)
	}
	if resp.Response != "ETH is trading at $3000." {
		t.Errorf("unexpected response text: %s", resp.Response)
	}
	if len(resp.ToolsUsed) != 2 {
		t.Fatalf("expected 2 tool calls, got %d", len(resp.ToolsUsed))
	}
	if resp.ConfidenceScore != 0.7 {
		t.Errorf("expected full-success price confidence 0.7, got %f", resp.ConfidenceScore)
	}
	if len(resp.DataSources) != 2 {
		t.Errorf("expected 2 data sources, got %d", len(resp.DataSources))
	}
	if resp.SessionID == "" {
		t.Error("expected a session to be assigned")
	}
	if len(resp.FollowUpSuggestions) == 0 {
		t.Error("expected follow-up suggestions")
	}
	if resp.TokenUsage["total_tokens"] != 30 {
		t.Errorf("token usage not propagated: %v", resp.TokenUsage)
	}
}

func TestProcessQueryToleratesToolFailure(t *testing.T) {
	dispatcher := &fakeDispatcher{failing: map[string]bool{"ccxt": true}}
	llm := &fakeLLM{response: "partial answer"}
	agent, _ := newTestAgent(dispatcher, llm)

	resp, err := agent.ProcessQuery(context.Background(), &models.QueryRequest{
		Query: "bitcoin price please",
	})
	if err != nil {
		t.Fatalf("tool failure must not fail the query: %v", err)
	}

	var failed, succeeded int
	for _, call := range resp.ToolsUsed {
		if call.Error != "" {
			failed++
		} else {
			succeeded++
		}
	}
	if failed != 1 || succeeded != 1 {
		t.Errorf("expected 1 failed and 1 succeeded call, got %d/%d", failed, succeeded)
	}
	if resp.ConfidenceScore != 0.35 {
		t.Errorf("expected degraded confidence 0.35, got %f", resp.ConfidenceScore)
	}
	// Only successful results count as data sources.
	if len(resp.DataSources) != 1 {
		t.Errorf("expected 1 data source, got %d", len(resp.DataSources))
	}
}

func TestProcessQueryLLMFailure(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	llm := &fakeLLM{failWith: &UpstreamError{Message: "quota exceeded", StatusCode: 429}}
	agent, _ := newTestAgent(dispatcher, llm)

	_, err := agent.ProcessQuery(context.Background(), &models.QueryRequest{Query: "hello markets"})
	if err == nil {
		t.Fatal("expected error when LLM fails")
	}
	upstream, ok := err.(*UpstreamError)
	if !ok {
		t.Fatalf("expected UpstreamError, got %T", err)
	}
	if upstream.StatusCode != 429 {
		t.Errorf("status code lost: %d", upstream.StatusCode)
	}
}

func TestProcessQueryGreetingSkipsTools(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	llm := &fakeLLM{response: "Hello! Ask me about crypto."}
	agent, _ := newTestAgent(dispatcher, llm)

	resp, err := agent.ProcessQuery(context.Background(), &models.QueryRequest{Query: "hello"})
	if err != nil {
		t.Fatalf("ProcessQuery failed: %v", err)
	}
	if len(dispatcher.calls) != 0 {
		t.Errorf("greeting must not dispatch tools, got %v", dispatcher.calls)
	}
	if resp.ConfidenceScore != 0.7 {
		t.Errorf("expected base confidence for zero-tool query, got %f", resp.ConfidenceScore)
	}
}

func TestProcessQueryContinuity(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	llm := &fakeLLM{response: "answer"}
	agent, sessions := newTestAgent(dispatcher, llm)
	ctx := context.Background()

	first, err := agent.ProcessQuery(ctx, &models.QueryRequest{Query: "price of btc"})
	if err != nil {
		t.Fatalf("first query failed: %v", err)
	}

	_, err = agent.ProcessQuery(ctx, &models.QueryRequest{Query: "and ethereum?", SessionID: first.SessionID})
	if err != nil {
		t.Fatalf("second query failed: %v", err)
	}

	session, _ := sessions.GetSession(ctx, first.SessionID)
	if session == nil {
		t.Fatal("session lost")
	}
	if len(session.History) != 2 {
		t.Fatalf("expected 2 exchanges recorded, got %d", len(session.History))
	}

	// The second prompt must include the first exchange.
	lastPrompt := llm.prompts[len(llm.prompts)-1]
	var sawHistory bool
	for _, msg := range lastPrompt {
		if msg.Role == "user" && msg.Content == "price of btc" {
			sawHistory = true
		}
	}
	if !sawHistory {
		t.Error("prompt does not carry prior exchange")
	}
}

func TestProcessQueryUnknownSessionGetsFreshOne(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	llm := &fakeLLM{response: "answer"}
	agent, _ := newTestAgent(dispatcher, llm)

	resp, err := agent.ProcessQuery(context.Background(), &models.QueryRequest{
		Query:     "price of btc",
		SessionID: "session_expired9999",
	})
	if err != nil {
		t.Fatalf("ProcessQuery failed: %v", err)
	}
	if resp.SessionID == "" || resp.SessionID == "session_expired9999" {
		t.Errorf("expired session must be replaced, got %q", resp.SessionID)
	}
}

func TestProcessQuerySessionConfigOverrides(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	llm := &fakeLLM{response: "answer"}
	agent, sessions := newTestAgent(dispatcher, llm)
	ctx := context.Background()

	created, err := sessions.CreateSession(ctx, "", &models.SessionConfig{
		Model:       "session-model",
		Temperature: 0.2,
		MaxTokens:   512,
	})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	if _, err := agent.ProcessQuery(ctx, &models.QueryRequest{Query: "price of btc", SessionID: created.SessionID}); err != nil {
		t.Fatalf("ProcessQuery failed: %v", err)
	}

	if llm.lastModel != "session-model" {
		t.Errorf("session model not applied, got %q", llm.lastModel)
	}
	if llm.lastTemperature != 0.2 {
		t.Errorf("session temperature not applied, got %f", llm.lastTemperature)
	}
	if llm.lastMaxTokens != 512 {
		t.Errorf("session max tokens not applied, got %d", llm.lastMaxTokens)
	}
}

func TestProcessQueryPartialSessionConfigKeepsDefaults(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	llm := &fakeLLM{response: "answer"}
	agent, sessions := newTestAgent(dispatcher, llm)
	ctx := context.Background()

	// Only temperature set; model and max tokens fall back to the
	// pipeline defaults.
	created, _ := sessions.CreateSession(ctx, "", &models.SessionConfig{Temperature: 0.1})

	if _, err := agent.ProcessQuery(ctx, &models.QueryRequest{Query: "price of btc", SessionID: created.SessionID}); err != nil {
		t.Fatalf("ProcessQuery failed: %v", err)
	}

	if llm.lastModel != "test-model" {
		t.Errorf("expected default model, got %q", llm.lastModel)
	}
	if llm.lastTemperature != 0.1 {
		t.Errorf("session temperature not applied, got %f", llm.lastTemperature)
	}
	if llm.lastMaxTokens != 2000 {
		t.Errorf("expected default max tokens, got %d", llm.lastMaxTokens)
	}
}

func TestStreamQuerySessionConfigOverrides(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	llm := &fakeLLM{response: "answer"}
	agent, sessions := newTestAgent(dispatcher, llm)
	ctx := context.Background()

	created, _ := sessions.CreateSession(ctx, "", &models.SessionConfig{
		Model:     "session-model",
		MaxTokens: 256,
	})

	collectEvents(agent.StreamQuery(ctx, &models.QueryRequest{Query: "price of btc", SessionID: created.SessionID}))

	if llm.lastModel != "session-model" {
		t.Errorf("session model not applied on stream path, got %q", llm.lastModel)
	}
	if llm.lastMaxTokens != 256 {
		t.Errorf("session max tokens not applied on stream path, got %d", llm.lastMaxTokens)
	}
}

func collectEvents(ch <-chan models.StreamEvent) []models.StreamEvent {
	var events []models.StreamEvent
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func eventTypes(events []models.StreamEvent) []string {
	types := make([]string, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	return types
}

func TestStreamQuerySequence(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	llm := &fakeLLM{response: "BTC looks strong today"}
	agent, _ := newTestAgent(dispatcher, llm)

	events := collectEvents(agent.StreamQuery(context.Background(), &models.QueryRequest{
		Query: "bitcoin price",
	}))

	types := eventTypes(events)
	if types[0] != models.StreamEventStart {
		t.Errorf("expected start first, got %v", types)
	}
	if types[1] != models.StreamEventAnalysis {
		t.Errorf("expected analysis second, got %v", types)
	}
	last := types[len(types)-1]
	if last != models.StreamEventComplete {
		t.Errorf("expected complete last, got %v", types)
	}

	var contents, completes, errors int
	var generatingIdx, firstContentIdx int
	for i, ev := range events {
		switch ev.Type {
		case models.StreamEventContent:
			if contents == 0 {
				firstContentIdx = i
			}
			contents++
		case models.StreamEventComplete:
			completes++
		case models.StreamEventError:
			errors++
		case models.StreamEventGenerating:
			generatingIdx = i
		}
	}
	if contents == 0 {
		t.Error("expected content deltas")
	}
	if completes != 1 || errors != 0 {
		t.Errorf("expected exactly one complete and no errors, got %d/%d", completes, errors)
	}
	if generatingIdx > firstContentIdx {
		t.Error("generating must precede content")
	}

	// Accumulated deltas reproduce the full response.
	var full strings.Builder
	for _, ev := range events {
		if ev.Type == models.StreamEventContent {
			full.WriteString(ev.Content)
		}
	}
	if full.String() != "BTC looks strong today" {
		t.Errorf("deltas do not reassemble: %q", full.String())
	}
}

func TestStreamQueryToolEvents(t *testing.T) {
	dispatcher := &fakeDispatcher{failing: map[string]bool{"ccxt": true}}
	llm := &fakeLLM{response: "answer"}
	agent, _ := newTestAgent(dispatcher, llm)

	events := collectEvents(agent.StreamQuery(context.Background(), &models.QueryRequest{
		Query: "bitcoin price",
	}))

	var results, toolErrors int
	for _, ev := range events {
		switch ev.Type {
		case models.StreamEventToolResult:
			results++
		case models.StreamEventToolError:
			toolErrors++
			if ev.Tool != "ccxt.get_ticker" {
				t.Errorf("tool_error must name the tool, got %q", ev.Tool)
			}
		}
	}
	if results != 1 || toolErrors != 1 {
		t.Errorf("expected 1 tool_result and 1 tool_error, got %d/%d", results, toolErrors)
	}
	if eventTypes(events)[len(events)-1] != models.StreamEventComplete {
		t.Error("tool failure must not prevent completion")
	}
}

func TestStreamQueryLLMErrorIsTerminal(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	llm := &fakeLLM{failWith: &UpstreamError{Message: "model overloaded", StatusCode: 503}}
	agent, _ := newTestAgent(dispatcher, llm)

	events := collectEvents(agent.StreamQuery(context.Background(), &models.QueryRequest{
		Query: "bitcoin price",
	}))

	types := eventTypes(events)
	last := types[len(types)-1]
	if last != models.StreamEventError {
		t.Fatalf("expected error as terminal event, got %v", types)
	}
	for _, typ := range types {
		if typ == models.StreamEventComplete {
			t.Errorf("complete must not follow an error: %v", types)
		}
	}
	var errCount int
	for _, typ := range types {
		if typ == models.StreamEventError {
			errCount++
		}
	}
	if errCount != 1 {
		t.Errorf("expected exactly one error event, got %d", errCount)
	}
}

func TestBuildMessagesNoData(t *testing.T) {
	messages := buildMessages("what is a stablecoin?", nil, map[string]interface{}{})

	if messages[0].Role != "system" {
		t.Fatalf("expected system message first, got %s", messages[0].Role)
	}
	last := messages[len(messages)-1]
	if last.Role != "user" {
		t.Fatalf("expected user message last, got %s", last.Role)
	}
	if !strings.Contains(last.Content, "No additional data available.") {
		t.Errorf("missing no-data marker: %s", last.Content)
	}
}

func TestBuildMessagesWithToolData(t *testing.T) {
	results := map[string]interface{}{
		"coingecko.get_coin_price": map[string]interface{}{"price": 65000},
	}
	messages := buildMessages("btc price", nil, results)

	last := messages[len(messages)-1]
	if !strings.Contains(last.Content, "coingecko.get_coin_price") {
		t.Errorf("tool data missing from prompt: %s", last.Content)
	}
	if !strings.Contains(last.Content, "65000") {
		t.Errorf("tool result values missing from prompt: %s", last.Content)
	}
}
