package gemini_test

import (
	"context"
	"os"
	"testing"
	"time"

	"skytour/pkg/config"
	"skytour/pkg/llm"
	"skytour/pkg/llm/gemini"
)

func TestIntegration_GenerateText(t *testing.T) {
	key := os.Getenv("GEMINI_API_KEY")
	if key == "" {
		t.Skip("Skipping integration test: GEMINI_API_KEY not set")
	}

	c, err := gemini.NewClient("gemini", key, config.LLMConfig{Model: "gemini-2.0-flash"}, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	out, err := c.GenerateText(ctx, llm.IntentNarration, "Say 'pong'")
	if err != nil {
		t.Fatalf("GenerateText: %v", err)
	}
	if out == "" {
		t.Error("got empty response")
	}
	t.Logf("Response: %s", out)
}

func TestIntegration_HealthCheck(t *testing.T) {
	key := os.Getenv("GEMINI_API_KEY")
	if key == "" {
		t.Skip("Skipping integration test: GEMINI_API_KEY not set")
	}

	c, err := gemini.NewClient("gemini", key, config.LLMConfig{Model: "gemini-2.0-flash"}, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer c.Close()

	if err := c.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}
