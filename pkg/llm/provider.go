package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Intents passed as the name argument; they select the prompt log label.
const (
	IntentNarration = "narration"
	IntentVoice     = "voice"
)

// ErrNotConfigured is returned by a provider that has no credentials.
var ErrNotConfigured = errors.New("llm provider not configured")

// Provider defines the interface for interacting with LLM services.
type Provider interface {
	// GenerateText sends a prompt and returns the text response.
	GenerateText(ctx context.Context, name, prompt string) (string, error)

	// HealthCheck verifies that the provider is configured and reachable.
	HealthCheck(ctx context.Context) error
}

// Client is the guarded narration call used by the scheduler and voice
// paths. Implementations must return within timeout.
type Client interface {
	Generate(ctx context.Context, name, prompt string, timeout time.Duration) (string, error)
}

// StatusError carries the HTTP status of a failed provider call.
type StatusError struct {
	Provider string
	Code     int
	Err      error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %v", e.Provider, e.Code, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// IsRateLimited reports whether err is a quota or rate-limit rejection from
// the provider.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusTooManyRequests {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"429", "resource_exhausted", "resource exhausted", "quota", "rate limit"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
