package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	"spectraq/internal/config"
	"spectraq/internal/handlers"
	"spectraq/internal/logging"
	"spectraq/internal/mcp"
	"spectraq/internal/middleware"
	"spectraq/internal/services"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	logging.Init()
	cfg := config.Load()

	if cfg.GeminiAPIKey == "" {
		log.Println("⚠️  GEMINI_API_KEY not set - LLM synthesis will fail")
	}

	// Redis is optional: without it sessions and query logs are skipped
	// but queries still work.
	var redisService *services.RedisService
	var sessionStore services.SessionStore
	redisService, err := services.NewRedisService(cfg.RedisURL)
	if err != nil {
		log.Printf("⚠️  Redis unavailable, running without session persistence: %v", err)
	} else {
		sessionStore = redisService
		log.Println("✅ Redis connected")
	}

	// Tool server registry
	registry := mcp.NewRegistry(cfg.ToolServersConfigPath)
	ctx := context.Background()
	if err := registry.Initialize(ctx); err != nil {
		log.Printf("⚠️  Tool registry initialization incomplete: %v", err)
	}
	registry.StartHealthLoop()
	if err := registry.WatchConfig(ctx); err != nil {
		log.Printf("⚠️  Config watch disabled: %v", err)
	}
	log.Printf("🔧 Tool servers registered: %v", registry.ServerNames())

	// Classifier: compiled-in rules unless an override file is configured
	classifier := services.NewClassifier()
	if cfg.ClassifierRulesPath != "" {
		if c, err := services.NewClassifierFromFile(cfg.ClassifierRulesPath); err != nil {
			log.Printf("⚠️  Failed to load classifier rules from %s, using defaults: %v", cfg.ClassifierRulesPath, err)
		} else {
			classifier = c
			log.Printf("✅ Classifier rules loaded from %s", cfg.ClassifierRulesPath)
		}
	}

	gemini := services.NewGeminiService(cfg.GeminiBaseURL, cfg.GeminiAPIKey, cfg.LLMRateLimit)
	sessions := services.NewSessionService(sessionStore, cfg.SessionTTL, cfg.HistoryLimit, cfg.DefaultModel)
	agent := services.NewAgentService(classifier, registry, gemini, sessions,
		cfg.DefaultModel, cfg.DefaultTemperature, cfg.DefaultMaxTokens, cfg.PromptExchanges)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "SpectraQ v1.0",
		ReadTimeout:  120 * time.Second,
		WriteTimeout: 300 * time.Second, // streaming responses can run long
		IdleTimeout:  120 * time.Second,
		BodyLimit:    1 * 1024 * 1024, // queries are text, 1MB is plenty
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())

	// Prometheus metrics middleware
	prometheus := fiberprometheus.New("spectraq")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

	rateLimitConfig := middleware.LoadRateLimitConfig()
	log.Printf("🛡️  [RATE-LIMIT] Loaded config: Global=%d/min, Query=%d/min, WS=%d/min",
		rateLimitConfig.GlobalAPIMax,
		rateLimitConfig.QueryMax,
		rateLimitConfig.WebSocketMax,
	)

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		allowedOrigins = "http://localhost:5173,http://localhost:3000"
		log.Println("⚠️  ALLOWED_ORIGINS not set, using development defaults")
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     "GET,POST,DELETE,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization",
		AllowCredentials: allowedOrigins != "*",
	}))

	app.Use("/api", middleware.GlobalAPIRateLimiter(rateLimitConfig))

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(registry, redisService, gemini, cfg.DefaultModel)
	agentHandler := handlers.NewAgentHandler(agent, sessions)
	toolsHandler := handlers.NewToolsHandler(registry)
	modelsHandler := handlers.NewModelsHandler(gemini)
	streamHandler := handlers.NewStreamHandler(agent)

	// Routes
	app.Get("/health", healthHandler.Handle)
	app.Get("/health/detailed", healthHandler.Detailed)

	api := app.Group("/api/v1")
	api.Post("/agent/query", middleware.QueryRateLimiter(rateLimitConfig), agentHandler.Query)
	api.Post("/agent/sessions", agentHandler.CreateSession)
	api.Get("/agent/sessions/:id", agentHandler.GetSession)
	api.Delete("/agent/sessions/:id", agentHandler.DeleteSession)
	api.Get("/tools", toolsHandler.ListServers)
	api.Get("/tools/:server", toolsHandler.ListTools)
	api.Get("/models", modelsHandler.List)

	// WebSocket streaming endpoint
	app.Use("/ws", middleware.WebSocketRateLimiter(rateLimitConfig), func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/query", websocket.New(streamHandler.HandleConnection))

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("\n🛑 Shutting down server...")

		registry.Close()

		if redisService != nil {
			if err := redisService.Close(); err != nil {
				log.Printf("⚠️ Error closing Redis: %v", err)
			}
		}

		if err := app.Shutdown(); err != nil {
			log.Printf("⚠️ Error shutting down server: %v", err)
		}
	}()

	log.Printf("🚀 SpectraQ agent listening on :%s", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}
}
