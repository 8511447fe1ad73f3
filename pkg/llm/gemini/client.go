package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"google.golang.org/api/iterator"
	"google.golang.org/genai"

	"skytour/pkg/config"
	"skytour/pkg/llm"
	"skytour/pkg/tracker"
)

const defaultModel = "gemini-2.0-flash"

// Client implements llm.Provider for Google Gemini with a single API key.
type Client struct {
	genaiClient *genai.Client
	name        string // tracker and log label, e.g. "gemini" or "gemini-backup"
	apiKey      string
	modelName   string
	tracker     *tracker.Tracker
	logPath     string

	temperatureBase   float32
	temperatureJitter float32

	mu sync.RWMutex
}

// NewClient creates a Gemini client for key. An empty key yields a client
// whose calls fail with llm.ErrNotConfigured.
func NewClient(name, key string, cfg config.LLMConfig, t *tracker.Tracker) (*Client, error) {
	c := &Client{
		name:              name,
		tracker:           t,
		logPath:           cfg.LogPath,
		temperatureBase:   cfg.Temperature,
		temperatureJitter: cfg.TemperatureJitter,
	}
	if err := c.Configure(key, cfg.Model); err != nil {
		return nil, err
	}
	return c, nil
}

// Configure swaps the key and model.
func (c *Client) Configure(key, model string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.apiKey = key
	c.modelName = model
	if c.modelName == "" {
		c.modelName = defaultModel
	}

	if c.apiKey == "" {
		c.genaiClient = nil
		return nil
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  c.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return fmt.Errorf("failed to create genai client: %w", err)
	}
	c.genaiClient = client
	return nil
}

// Close cleans up resources.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.genaiClient = nil
}

// Name returns the client label.
func (c *Client) Name() string {
	return c.name
}

// GenerateText sends a prompt and returns the text response.
func (c *Client) GenerateText(ctx context.Context, name, prompt string) (string, error) {
	c.mu.RLock()
	client := c.genaiClient
	model := c.modelName
	c.mu.RUnlock()

	if client == nil {
		return "", fmt.Errorf("%s: %w", c.name, llm.ErrNotConfigured)
	}

	start := time.Now()
	resp, err := client.Models.GenerateContent(ctx, model, genai.Text(prompt), c.contentConfig(name))
	if err != nil {
		c.logPrompt(name, prompt, fmt.Sprintf("ERROR: %v", err))
		c.trackFailure()
		return "", fmt.Errorf("generate text error: %w", c.wrapError(err))
	}

	text, err := getResponseText(resp)
	if err != nil {
		c.logPrompt(name, prompt, fmt.Sprintf("TEXT_PARSE_ERROR: %v", err))
		c.trackFailure()
		return "", err
	}

	slog.Debug("Gemini: response received", "client", c.name, "intent", name, "latency", time.Since(start))
	c.logPrompt(name, prompt, text)
	if c.tracker != nil {
		c.tracker.TrackAPISuccess(c.name)
	}
	return text, nil
}

// HealthCheck verifies the key is set and the configured model exists.
func (c *Client) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	client := c.genaiClient
	c.mu.RUnlock()
	if client == nil {
		return fmt.Errorf("%s: %w", c.name, llm.ErrNotConfigured)
	}
	return c.validateModel(ctx)
}

func (c *Client) trackFailure() {
	if c.tracker != nil {
		c.tracker.TrackAPIFailure(c.name)
	}
}

// wrapError lifts the SDK's HTTP status into llm.StatusError so callers can
// tell quota rejections from transient failures.
func (c *Client) wrapError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &llm.StatusError{Provider: c.name, Code: apiErr.Code, Err: err}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return &llm.StatusError{Provider: c.name, Code: apiErrPtr.Code, Err: err}
	}
	return err
}

func (c *Client) logPrompt(name, prompt, response string) {
	if c.logPath == "" {
		return
	}

	if err := os.MkdirAll(filepath.Dir(c.logPath), 0o755); err != nil {
		return
	}

	f, err := os.OpenFile(c.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	entry := fmt.Sprintf("[%s] %s PROMPT: %s\nPROMPT_TEXT:\n%s\n\nRESPONSE:\n%s\n%s\n",
		timestamp, c.name, name, prompt, llm.WordWrap(response, 80), strings.Repeat("-", 80))

	_, _ = f.WriteString(entry)
}

func getResponseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates returned")
	}
	cand := resp.Candidates[0]
	if cand == nil || cand.Content == nil {
		return "", fmt.Errorf("empty candidate")
	}

	var sb strings.Builder
	for _, part := range cand.Content.Parts {
		if part != nil && part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("candidate has no text parts")
	}
	return sb.String(), nil
}

// validateModel checks if the configured model is available for the API key.
// On failure it logs the gemini models the key can see.
func (c *Client) validateModel(ctx context.Context) error {
	name := c.modelName
	if !strings.HasPrefix(name, "models/") {
		name = "models/" + name
	}

	_, err := c.genaiClient.Models.Get(ctx, name, nil)
	if err == nil {
		slog.Debug("Gemini model validation success", "client", c.name, "model", c.modelName)
		return nil
	}

	slog.Warn("Gemini model validation failed, fetching available models...", "model", c.modelName, "error", err)

	page, listErr := c.genaiClient.Models.List(ctx, nil)
	if listErr != nil {
		slog.Warn("Failed to list models for recovery", "error", listErr)
		return fmt.Errorf("model %s unavailable: %w", c.modelName, c.wrapError(err))
	}

	available, _ := geminiModels(newModelIterator(ctx, page))
	slog.Error("Configured model not found", "configured", c.modelName, "available", available)
	return fmt.Errorf("model %s unavailable: %w", c.modelName, c.wrapError(err))
}

// geminiModels drains it and returns the names containing "gemini".
func geminiModels(it *modelIterator) ([]string, error) {
	var names []string
	for {
		m, err := it.Next()
		if err == iterator.Done {
			return names, nil
		}
		if err != nil {
			return names, err
		}
		if strings.Contains(strings.ToLower(m.Name), "gemini") {
			names = append(names, m.Name)
		}
	}
}
