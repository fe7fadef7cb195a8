package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/joho/godotenv"

	"github.com/careloop-health/screener-engine/cmd/mainconfig"
	appconfig "github.com/careloop-health/screener-engine/internal/config"
	"github.com/careloop-health/screener-engine/internal/screener"
	"github.com/careloop-health/screener-engine/pkg/logging"
)

// Smoke test for the chat providers against a realistic screener turn.
// Run with whichever API keys you have set; missing providers are skipped.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := appconfig.Load()
	logger := logging.New("info")

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	req := screener.LLMRequest{
		System: []string{
			"You are a warm, supportive check-in assistant for adolescents.",
			"Ask one question at a time and keep replies short.",
		},
		Messages: []screener.ChatMessage{
			{Role: screener.ChatRoleAssistant, Content: "Thanks for checking in today. Over the last two weeks, how often have you felt down, depressed, or hopeless?"},
			{Role: screener.ChatRoleUser, Content: "I guess more than half the days, honestly."},
		},
		MaxTokens:   200,
		Temperature: 0.7,
	}

	divider := strings.Repeat("=", 60)
	fmt.Println(divider)
	fmt.Println("Screener LLM Provider Test")
	fmt.Println(divider)

	if cfg.OpenAIAPIKey != "" {
		fmt.Println("\n[1] Testing OpenAI...")
		client := screener.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIModel, logger)
		runComplete(ctx, "OpenAI", client, req)
	} else {
		fmt.Println("\n[1] Skipping OpenAI test (OPENAI_API_KEY not set)")
	}

	if cfg.GeminiAPIKey != "" {
		fmt.Println("\n[2] Testing Gemini...")
		client, err := screener.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			fmt.Printf("    failed to create Gemini client: %v\n", err)
		} else {
			defer client.Close()
			runComplete(ctx, "Gemini", client, req)
		}
	} else {
		fmt.Println("\n[2] Skipping Gemini test (GEMINI_API_KEY not set)")
	}

	if os.Getenv("AWS_ACCESS_KEY_ID") != "" || cfg.AWSEndpointOverride != "" {
		fmt.Println("\n[3] Testing Bedrock...")
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			fmt.Printf("    failed to load AWS config: %v\n", err)
		} else {
			client := screener.NewBedrockClient(bedrockruntime.NewFromConfig(awsCfg), cfg.BedrockModelID)
			runComplete(ctx, "Bedrock", client, req)
		}
	} else {
		fmt.Println("\n[3] Skipping Bedrock test (no AWS credentials)")
	}

	fmt.Println("\n" + divider)
	fmt.Println("Done. Providers that responded above are safe to wire as")
	fmt.Println("LLM_PROVIDER or LLM_FALLBACK_PROVIDER for the API server.")
}

func runComplete(ctx context.Context, name string, client screener.LLMClient, req screener.LLMRequest) {
	start := time.Now()
	resp, err := client.Complete(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		fmt.Printf("    %s error: %v\n", name, err)
		return
	}
	fmt.Printf("    %s response (%v):\n", name, elapsed.Round(time.Millisecond))
	fmt.Printf("    %s\n", resp.Text)
	fmt.Printf("    Tokens: in=%d, out=%d\n", resp.Usage.InputTokens, resp.Usage.OutputTokens)
}
