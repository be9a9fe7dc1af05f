package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Port     string
	RedisURL string

	// Gemini API configuration
	GeminiAPIKey  string
	GeminiBaseURL string
	DefaultModel  string

	// LLM sampling defaults (overridable per session)
	DefaultTemperature float64
	DefaultMaxTokens   int

	// Outbound LLM rate limit (requests per second)
	LLMRateLimit float64

	// Tool server registry
	ToolServersConfigPath string
	ClassifierRulesPath   string

	// Session store
	SessionTTL      time.Duration
	HistoryLimit    int // exchanges retained per session
	PromptExchanges int // exchanges included in the prompt
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8000"),
		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379"),

		GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),
		GeminiBaseURL: getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"),
		DefaultModel:  getEnv("DEFAULT_MODEL", "gemini-2.0-flash-exp"),

		DefaultTemperature: getFloatEnv("DEFAULT_TEMPERATURE", 0.7),
		DefaultMaxTokens:   getIntEnv("DEFAULT_MAX_TOKENS", 2000),

		LLMRateLimit: getFloatEnv("LLM_RATE_LIMIT", 5),

		ToolServersConfigPath: getEnv("TOOL_SERVERS_CONFIG_PATH", "tool_servers.json"),
		ClassifierRulesPath:   getEnv("CLASSIFIER_RULES_PATH", ""),

		SessionTTL:      getDurationEnv("SESSION_TTL", 2*time.Hour),
		HistoryLimit:    getIntEnv("SESSION_HISTORY_LIMIT", 20),
		PromptExchanges: getIntEnv("PROMPT_EXCHANGES", 5),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}
