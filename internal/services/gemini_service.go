package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"spectraq/internal/models"
)

// GeminiService is the client for Google's Gemini generateContent API.
// Outbound calls are rate limited so a burst of queries cannot exhaust the
// API quota.
type GeminiService struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *logrus.Logger
	limiter *rate.Limiter
}

// NewGeminiService creates a Gemini client. rps bounds outbound requests
// per second.
func NewGeminiService(baseURL, apiKey string, rps float64) *GeminiService {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	if rps <= 0 {
		rps = 5
	}

	return &GeminiService{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 60 * time.Second},
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)+1),
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig map[string]interface{} `json:"generationConfig"`
	SafetySettings   []map[string]string    `json:"safetySettings,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

var safetySettings = []map[string]string{
	{"category": "HARM_CATEGORY_HARASSMENT", "threshold": "BLOCK_MEDIUM_AND_ABOVE"},
	{"category": "HARM_CATEGORY_HATE_SPEECH", "threshold": "BLOCK_MEDIUM_AND_ABOVE"},
	{"category": "HARM_CATEGORY_SEXUALLY_EXPLICIT", "threshold": "BLOCK_MEDIUM_AND_ABOVE"},
	{"category": "HARM_CATEGORY_DANGEROUS_CONTENT", "threshold": "BLOCK_MEDIUM_AND_ABOVE"},
}

// convertMessages maps role/content chat turns to Gemini contents. Gemini
// has no system role: system turns are folded into the first user turn, and
// assistant turns become "model".
func convertMessages(messages []models.ChatMessage) []geminiContent {
	var contents []geminiContent
	var systemPrefix string

	for _, msg := range messages {
		switch msg.Role {
		case "system":
			systemPrefix += msg.Content + "\n\n"
			continue
		case "assistant":
			contents = append(contents, geminiContent{Role: "model", Parts: []geminiPart{{Text: msg.Content}}})
		default:
			contents = append(contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: msg.Content}}})
		}
	}

	if systemPrefix != "" {
		for i := range contents {
			if contents[i].Role == "user" {
				contents[i].Parts[0].Text = systemPrefix + contents[i].Parts[0].Text
				break
			}
		}
	}

	if len(contents) > 0 && contents[0].Role != "user" {
		contents = append([]geminiContent{{Role: "user", Parts: []geminiPart{{Text: "Hello"}}}}, contents...)
	}

	return contents
}

func (g *GeminiService) buildRequest(messages []models.ChatMessage, temperature float64, maxTokens int) geminiRequest {
	if maxTokens <= 0 {
		maxTokens = 2000
	}
	return geminiRequest{
		Contents: convertMessages(messages),
		GenerationConfig: map[string]interface{}{
			"temperature":     temperature,
			"topK":            40,
			"topP":            0.95,
			"maxOutputTokens": maxTokens,
		},
		SafetySettings: safetySettings,
	}
}

// Complete performs a non-streaming chat completion.
func (g *GeminiService) Complete(ctx context.Context, messages []models.ChatMessage, model string, temperature float64, maxTokens int) (*models.Completion, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, &UpstreamError{Message: err.Error()}
	}

	reqBody, err := json.Marshal(g.buildRequest(messages, temperature, maxTokens))
	if err != nil {
		return nil, &UpstreamError{Message: fmt.Sprintf("failed to marshal request: %v", err)}
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", g.baseURL, model, g.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, &UpstreamError{Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, &UpstreamError{Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		g.logger.WithFields(logrus.Fields{
			"status": resp.StatusCode,
			"model":  model,
			"body":   string(body),
		}).Error("Gemini API request failed")
		return nil, &UpstreamError{
			Message:    fmt.Sprintf("API request failed: %s", string(body)),
			StatusCode: resp.StatusCode,
		}
	}

	var gr geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return nil, &UpstreamError{Message: fmt.Sprintf("failed to decode response: %v", err)}
	}

	completion := toCompletion(&gr)

	g.logger.WithFields(logrus.Fields{
		"model":       model,
		"duration_ms": time.Since(start).Milliseconds(),
		"tokens":      completion.TokenUsage["total_tokens"],
	}).Info("Gemini completion finished")

	return completion, nil
}

func toCompletion(gr *geminiResponse) *models.Completion {
	usage := map[string]int{
		"prompt_tokens":     gr.UsageMetadata.PromptTokenCount,
		"completion_tokens": gr.UsageMetadata.CandidatesTokenCount,
		"total_tokens":      gr.UsageMetadata.TotalTokenCount,
	}

	if len(gr.Candidates) == 0 {
		return &models.Completion{Content: "", FinishReason: "stop", TokenUsage: usage}
	}

	var text strings.Builder
	for _, part := range gr.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}

	finish := gr.Candidates[0].FinishReason
	if finish == "" {
		finish = "stop"
	}

	return &models.Completion{
		Content:      text.String(),
		FinishReason: finish,
		TokenUsage:   usage,
	}
}

// StreamComplete performs a streaming completion, invoking onDelta for each
// content fragment as it arrives. It returns the accumulated token usage.
func (g *GeminiService) StreamComplete(ctx context.Context, messages []models.ChatMessage, model string, temperature float64, maxTokens int, onDelta func(string)) (map[string]int, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, &UpstreamError{Message: err.Error()}
	}

	reqBody, err := json.Marshal(g.buildRequest(messages, temperature, maxTokens))
	if err != nil {
		return nil, &UpstreamError{Message: fmt.Sprintf("failed to marshal request: %v", err)}
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse&key=%s", g.baseURL, model, g.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, &UpstreamError{Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, &UpstreamError{Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		g.logger.WithFields(logrus.Fields{
			"status": resp.StatusCode,
			"model":  model,
		}).Error("Gemini streaming request failed")
		return nil, &UpstreamError{
			Message:    fmt.Sprintf("API request failed: %s", string(body)),
			StatusCode: resp.StatusCode,
		}
	}

	scanner := bufio.NewScanner(resp.Body)
	// 1MB buffer: SSE chunks can exceed the 64KB scanner default.
	buf := make([]byte, 1024*1024)
	scanner.Buffer(buf, len(buf))

	usage := map[string]int{}
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return usage, ctx.Err()
		default:
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk geminiResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}

		if chunk.UsageMetadata.TotalTokenCount > 0 {
			usage["prompt_tokens"] = chunk.UsageMetadata.PromptTokenCount
			usage["completion_tokens"] = chunk.UsageMetadata.CandidatesTokenCount
			usage["total_tokens"] = chunk.UsageMetadata.TotalTokenCount
		}

		for _, cand := range chunk.Candidates {
			for _, part := range cand.Content.Parts {
				if part.Text != "" {
					onDelta(part.Text)
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return usage, &UpstreamError{Message: fmt.Sprintf("stream read failed: %v", err)}
	}

	return usage, nil
}

// HealthCheck probes the API with a minimal request.
func (g *GeminiService) HealthCheck(ctx context.Context, model string) error {
	messages := []models.ChatMessage{{Role: "user", Content: "Hello"}}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := g.Complete(ctx, messages, model, 0.7, 50)
	return err
}

// ListModels returns the Gemini model ids available to this API key.
func (g *GeminiService) ListModels(ctx context.Context) ([]string, error) {
	url := fmt.Sprintf("%s/v1beta/models?key=%s", g.baseURL, g.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &UpstreamError{Message: err.Error()}
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, &UpstreamError{Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &UpstreamError{Message: string(body), StatusCode: resp.StatusCode}
	}

	var payload struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &UpstreamError{Message: fmt.Sprintf("failed to decode models: %v", err)}
	}

	var ids []string
	for _, m := range payload.Models {
		id := strings.TrimPrefix(m.Name, "models/")
		if strings.Contains(strings.ToLower(id), "gemini") {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
