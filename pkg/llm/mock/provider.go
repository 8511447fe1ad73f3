// Package mock is an offline llm.Provider that answers from the prompt itself.
// It backs llm.provider: mock for local runs without an API key.
package mock

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"sync"
	"time"

	"skytour/pkg/llm"
)

var (
	poiLine      = regexp.MustCompile(`(?m)^POI: (.+?)(?: \([^)]*\))?$`)
	questionLine = regexp.MustCompile(`(?m)^QUESTION: (.+)$`)
)

// Provider echoes the prompt's POI or question back in the JSON shape the
// callers expect.
type Provider struct {
	Latency time.Duration
	Err     error

	mu      sync.Mutex
	prompts []string
}

// New creates a mock provider with the given artificial latency.
func New(latency time.Duration) *Provider {
	return &Provider{Latency: latency}
}

// GenerateText implements llm.Provider.
func (p *Provider) GenerateText(ctx context.Context, name, prompt string) (string, error) {
	p.mu.Lock()
	p.prompts = append(p.prompts, prompt)
	err := p.Err
	p.mu.Unlock()

	if p.Latency > 0 {
		select {
		case <-time.After(p.Latency):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}

	var out any
	switch name {
	case llm.IntentVoice:
		q := firstMatch(questionLine, prompt)
		out = map[string]any{
			"answer":           "You asked: " + q,
			"highlightKeyword": "",
			"relatedPOI":       nil,
		}
	default:
		poi := firstMatch(poiLine, prompt)
		out = map[string]string{
			"narration":        poi + " is coming into view.",
			"highlightKeyword": poi,
		}
	}
	data, _ := json.Marshal(out)
	return string(data), nil
}

// HealthCheck implements llm.Provider.
func (p *Provider) HealthCheck(ctx context.Context) error {
	return nil
}

// Prompts returns every prompt received so far.
func (p *Provider) Prompts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.prompts...)
}

func firstMatch(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}
