package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/careloop-health/screener-engine/cmd/mainconfig"
	"github.com/careloop-health/screener-engine/internal/api/router"
	"github.com/careloop-health/screener-engine/internal/assessment"
	appconfig "github.com/careloop-health/screener-engine/internal/config"
	"github.com/careloop-health/screener-engine/internal/observability/metrics"
	"github.com/careloop-health/screener-engine/internal/screener"
	"github.com/careloop-health/screener-engine/pkg/logging"
)

func main() {
	// No .env in production; environment variables are already set.
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting screener-engine API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"llm_provider", cfg.LLMProvider,
	)

	ctx := context.Background()

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	redisOpts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	redisClient := redis.NewClient(redisOpts)
	defer func() { _ = redisClient.Close() }()

	llmClient, extractor, err := buildLLMStack(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build LLM stack", "error", err)
		os.Exit(1)
	}

	store := screener.NewPGStore(pool)
	history := screener.NewHistoryStore(redisClient, cfg.HistoryTTL)
	assessments := assessment.NewPGProvider(pool)
	screenerMetrics := metrics.NewScreenerMetrics(nil)

	engine := screener.NewEngine(screener.EngineConfig{
		Store:       store,
		History:     history,
		LLM:         llmClient,
		Extractor:   extractor,
		Assessments: assessments,
		Metrics:     screenerMetrics,
		Logger:      logger,
		Provider:    cfg.LLMProvider,
		LLMTimeout:  cfg.LLMTimeout,
	})

	handler := screener.NewHandler(engine, logger)
	streamHandler := screener.NewStreamHandler(handler, screenerMetrics)

	r := router.New(&router.Config{
		Logger:             logger,
		ScreenerHandler:    handler,
		StreamHandler:      streamHandler,
		MetricsHandler:     promhttp.Handler(),
		SessionJWTSecret:   cfg.SessionJWTSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		MessageRateLimit:   2,
		MessageRateBurst:   5,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
		// WriteTimeout must cover a full streamed LLM reply.
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

// buildLLMStack assembles the chat client (with optional fallback chain) and
// the structured extractor. Extraction always runs on OpenAI function
// calling, whichever provider generates chat replies.
func buildLLMStack(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (screener.LLMClient, screener.StructuredExtractor, error) {
	if cfg.OpenAIAPIKey == "" {
		return nil, nil, fmt.Errorf("OPENAI_API_KEY is required for response extraction")
	}
	openaiClient := screener.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIModel, logger)

	build := func(provider string) (screener.LLMClient, error) {
		switch provider {
		case "openai":
			return openaiClient, nil
		case "bedrock":
			awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
			if err != nil {
				return nil, fmt.Errorf("load aws config: %w", err)
			}
			return screener.NewBedrockClient(bedrockruntime.NewFromConfig(awsCfg), cfg.BedrockModelID), nil
		case "gemini":
			return screener.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		default:
			return nil, fmt.Errorf("unknown LLM provider %q", provider)
		}
	}

	primary, err := build(cfg.LLMProvider)
	if err != nil {
		return nil, nil, err
	}

	if cfg.LLMFallbackProvider != "" && cfg.LLMFallbackProvider != cfg.LLMProvider {
		fallback, err := build(cfg.LLMFallbackProvider)
		if err != nil {
			logger.Warn("fallback provider unavailable, continuing without it",
				"provider", cfg.LLMFallbackProvider, "error", err)
		} else {
			return screener.NewFallbackClient(primary, fallback, logger.Logger), openaiClient, nil
		}
	}

	return primary, openaiClient, nil
}
