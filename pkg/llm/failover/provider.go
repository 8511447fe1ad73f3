package failover

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"skytour/pkg/llm"
	"skytour/pkg/tracker"
)

// Provider tries a primary provider and, on a non-quota failure, the next
// provider in the chain (the backup key). It implements llm.Client.
type Provider struct {
	providers []llm.Provider
	names     []string
	disabled  map[int]bool
	tracker   *tracker.Tracker
	mu        sync.RWMutex
}

// New creates a Provider. providers is the ordered chain, names labels each entry.
func New(providers []llm.Provider, names []string, t *tracker.Tracker) (*Provider, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("at least one provider required for failover")
	}
	if len(providers) != len(names) {
		return nil, fmt.Errorf("provider count (%d) does not match name count (%d)", len(providers), len(names))
	}

	return &Provider{
		providers: providers,
		names:     names,
		disabled:  make(map[int]bool),
		tracker:   t,
	}, nil
}

// GenerateText implements llm.Provider without a per-attempt deadline.
func (f *Provider) GenerateText(ctx context.Context, name, prompt string) (string, error) {
	return f.Generate(ctx, name, prompt, 0)
}

// Generate implements llm.Client. Each attempt gets its own timeout; a
// rate-limit error from any provider stops the chain since every key shares
// the same upstream quota.
func (f *Provider) Generate(ctx context.Context, name, prompt string, timeout time.Duration) (string, error) {
	f.mu.RLock()
	providers := f.providers
	names := f.names
	f.mu.RUnlock()

	var firstErr error
	for i, p := range providers {
		f.mu.RLock()
		isDisabled := f.disabled[i]
		f.mu.RUnlock()
		if isDisabled {
			continue
		}

		if i > 0 && f.tracker != nil {
			f.tracker.TrackBackupRetry(names[0])
		}

		text, err := attempt(ctx, p, name, prompt, timeout)
		if err == nil {
			return text, nil
		}
		if firstErr == nil {
			firstErr = err
		}

		if llm.IsRateLimited(err) {
			slog.Warn("LLM provider rate limited, not using backup", "provider", names[i], "intent", name)
			return "", err
		}
		if isUnrecoverable(err) {
			slog.Warn("LLM provider fatal error, disabling for the session", "provider", names[i], "error", err)
			f.mu.Lock()
			f.disabled[i] = true
			f.mu.Unlock()
		}
		if ctx.Err() != nil {
			break
		}
		if i < len(providers)-1 {
			slog.Info("LLM provider failed, trying backup", "provider", names[i], "next", names[i+1], "error", err)
		}
	}

	if firstErr == nil {
		return "", fmt.Errorf("no active provider for %q", name)
	}
	return "", firstErr
}

// HealthCheck verifies that at least one provider is healthy.
func (f *Provider) HealthCheck(ctx context.Context) error {
	f.mu.RLock()
	providers := f.providers
	names := f.names
	f.mu.RUnlock()

	var errs []string
	for i, p := range providers {
		if err := p.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", names[i], err))
			continue
		}
		return nil
	}
	return fmt.Errorf("all LLM providers failed health check: %s", strings.Join(errs, "; "))
}

func attempt(ctx context.Context, p llm.Provider, name, prompt string, timeout time.Duration) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return p.GenerateText(ctx, name, prompt)
}

// isUnrecoverable reports errors that will not go away by retrying the same key.
func isUnrecoverable(err error) bool {
	if errors.Is(err, llm.ErrNotConfigured) {
		return true
	}
	var se *llm.StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusUnauthorized || se.Code == http.StatusForbidden
	}
	return false
}
