package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	"spectraq/internal/services"
)

func TestModelsList(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"models": []map[string]string{
				{"name": "models/gemini-2.0-flash-exp"},
				{"name": "models/gemini-1.5-pro"},
				{"name": "models/embedding-001"},
			},
		})
	}))
	defer backend.Close()

	h := NewModelsHandler(services.NewGeminiService(backend.URL, "k", 100))
	app := fiber.New()
	app.Get("/api/v1/models", h.List)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/models", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body struct {
		Models []string `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if len(body.Models) != 2 {
		t.Fatalf("expected the 2 gemini models only, got %v", body.Models)
	}
	if body.Models[0] != "gemini-2.0-flash-exp" {
		t.Errorf("model name prefix not stripped: %s", body.Models[0])
	}
}

func TestModelsListUpstreamFailure(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer backend.Close()

	h := NewModelsHandler(services.NewGeminiService(backend.URL, "k", 100))
	app := fiber.New()
	app.Get("/api/v1/models", h.List)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/models", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("expected 502 on upstream failure, got %d", resp.StatusCode)
	}
}
