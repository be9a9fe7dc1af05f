package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"spectraq/internal/models"
)

func geminiFixture(text string) map[string]interface{} {
	return map[string]interface{}{
		"candidates": []map[string]interface{}{
			{
				"content": map[string]interface{}{
					"parts": []map[string]string{{"text": text}},
				},
				"finishReason": "STOP",
			},
		},
		"usageMetadata": map[string]int{
			"promptTokenCount":     12,
			"candidatesTokenCount": 34,
			"totalTokenCount":      46,
		},
	}
}

func TestCompleteSuccess(t *testing.T) {
	var captured geminiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, ":generateContent") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("api key missing from query: %s", r.URL.RawQuery)
		}
		json.NewDecoder(r.Body).Decode(&captured)
		json.NewEncoder(w).Encode(geminiFixture("BTC is at $65,000."))
	}))
	defer server.Close()

	g := NewGeminiService(server.URL, "test-key", 100)
	completion, err := g.Complete(context.Background(), []models.ChatMessage{
		{Role: "system", Content: "You are an analyst."},
		{Role: "user", Content: "btc price?"},
	}, "gemini-2.0-flash-exp", 0.7, 2000)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if completion.Content != "BTC is at $65,000." {
		t.Errorf("unexpected content: %s", completion.Content)
	}
	if completion.TokenUsage["total_tokens"] != 46 {
		t.Errorf("unexpected usage: %v", completion.TokenUsage)
	}
	if len(captured.Contents) != 1 {
		t.Fatalf("expected system folded into one user turn, got %d contents", len(captured.Contents))
	}
	if !strings.HasPrefix(captured.Contents[0].Parts[0].Text, "You are an analyst.") {
		t.Errorf("system prompt not folded: %q", captured.Contents[0].Parts[0].Text)
	}
	if captured.GenerationConfig["topK"] != float64(40) {
		t.Errorf("topK not set: %v", captured.GenerationConfig["topK"])
	}
	if len(captured.SafetySettings) != 4 {
		t.Errorf("expected 4 safety settings, got %d", len(captured.SafetySettings))
	}
}

func TestCompleteUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": "quota exceeded"}`))
	}))
	defer server.Close()

	g := NewGeminiService(server.URL, "k", 100)
	_, err := g.Complete(context.Background(), []models.ChatMessage{{Role: "user", Content: "hi"}}, "m", 0.7, 100)
	if err == nil {
		t.Fatal("expected error on 429")
	}
	upstream, ok := err.(*UpstreamError)
	if !ok {
		t.Fatalf("expected UpstreamError, got %T", err)
	}
	if upstream.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status code not propagated: %d", upstream.StatusCode)
	}
}

func TestCompleteEmptyCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"candidates": []interface{}{}})
	}))
	defer server.Close()

	g := NewGeminiService(server.URL, "k", 100)
	completion, err := g.Complete(context.Background(), []models.ChatMessage{{Role: "user", Content: "hi"}}, "m", 0.7, 100)
	if err != nil {
		t.Fatalf("empty candidates must not error: %v", err)
	}
	if completion.Content != "" {
		t.Errorf("expected empty content, got %q", completion.Content)
	}
}

func TestStreamCompleteDeltas(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, ":streamGenerateContent") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, text := range []string{"BTC ", "is ", "rising"} {
			chunk, _ := json.Marshal(geminiFixture(text))
			w.Write([]byte("data: "))
			w.Write(chunk)
			w.Write([]byte("\n\n"))
		}
	}))
	defer server.Close()

	g := NewGeminiService(server.URL, "k", 100)
	var got strings.Builder
	usage, err := g.StreamComplete(context.Background(), []models.ChatMessage{{Role: "user", Content: "btc?"}}, "m", 0.7, 100, func(delta string) {
		got.WriteString(delta)
	})
	if err != nil {
		t.Fatalf("StreamComplete failed: %v", err)
	}
	if got.String() != "BTC is rising" {
		t.Errorf("deltas wrong: %q", got.String())
	}
	if usage["total_tokens"] != 46 {
		t.Errorf("usage not captured: %v", usage)
	}
}

func TestConvertMessagesLeadingModelTurn(t *testing.T) {
	contents := convertMessages([]models.ChatMessage{
		{Role: "assistant", Content: "previous answer"},
		{Role: "user", Content: "follow up"},
	})
	if contents[0].Role != "user" {
		t.Errorf("conversation must open with a user turn, got %s", contents[0].Role)
	}
	if len(contents) != 3 {
		t.Errorf("expected synthetic user turn prepended, got %d contents", len(contents))
	}
}

func TestConvertMessagesAssistantBecomesModel(t *testing.T) {
	contents := convertMessages([]models.ChatMessage{
		{Role: "user", Content: "q"},
		{Role: "assistant", Content: "a"},
	})
	if contents[1].Role != "model" {
		t.Errorf("assistant must map to model, got %s", contents[1].Role)
	}
}
