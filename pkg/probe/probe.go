// Package probe runs the startup checks and decides whether the tour can
// start with what it found.
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultTimeout bounds a probe that sets no timeout of its own.
const DefaultTimeout = 5 * time.Second

// CheckFunc returns nil when the check passes.
type CheckFunc func(ctx context.Context) error

// Probe is a single startup check. A failed Critical probe stops startup;
// any other failure only degrades the tour (fallback narration, no zones).
type Probe struct {
	Name     string
	Check    CheckFunc
	Critical bool
	Timeout  time.Duration
}

// Result is the outcome of one probe.
type Result struct {
	Probe    Probe
	Error    error
	Duration time.Duration
}

// Run executes probes in order, each under its own deadline.
func Run(ctx context.Context, probes []Probe) []Result {
	results := make([]Result, len(probes))
	for i, p := range probes {
		timeout := p.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		pctx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		err := p.Check(pctx)
		cancel()
		results[i] = Result{Probe: p, Error: err, Duration: time.Since(start)}
	}
	return results
}

// AnalyzeResults logs one line per probe and joins the critical failures.
func AnalyzeResults(results []Result) error {
	var critical []error
	for _, r := range results {
		took := r.Duration.Round(time.Millisecond)
		switch {
		case r.Error == nil:
			slog.Info("Startup check passed", "check", r.Probe.Name, "took", took)
		case r.Probe.Critical:
			slog.Error("Startup check failed", "check", r.Probe.Name, "took", took, "error", r.Error)
			critical = append(critical, fmt.Errorf("%s: %w", r.Probe.Name, r.Error))
		default:
			slog.Warn("Startup check degraded", "check", r.Probe.Name, "took", took, "error", r.Error)
		}
	}
	return errors.Join(critical...)
}

// Counter is anything with a size, such as the POI catalog.
type Counter interface {
	Len() int
}

// HealthChecker is a provider that can verify its credentials.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// NonEmpty fails when c holds nothing.
func NonEmpty(name string, c Counter) Probe {
	return Probe{
		Name:     name,
		Critical: true,
		Check: func(context.Context) error {
			if c.Len() == 0 {
				return errors.New("empty")
			}
			return nil
		},
	}
}

// Health wraps a provider health check. LLM failures are not critical:
// narration falls back to canned text until the provider recovers.
func Health(name string, hc HealthChecker, timeout time.Duration) Probe {
	return Probe{Name: name, Check: hc.HealthCheck, Timeout: timeout}
}
