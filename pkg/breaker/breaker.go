// Package breaker implements a per-key circuit breaker that stops calling a
// failing dependency and lets a single probe through after a cooldown.
package breaker

import (
	"log/slog"
	"sync"
	"time"

	"skytour/pkg/config"
)

// State is the circuit state of one key.
type State string

const (
	Closed   State = "CLOSED"
	Open     State = "OPEN"
	HalfOpen State = "HALF_OPEN"
)

type circuit struct {
	state           State
	failures        int
	lastFailure     time.Time
	halfOpenSuccess int
}

// Snapshot is a read-only view of one circuit.
type Snapshot struct {
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailureAt       time.Time `json:"last_failure_at"`
}

// Breaker holds the circuits of all keys.
type Breaker struct {
	mu                sync.Mutex
	circuits          map[string]*circuit
	failureThreshold  int
	recoveryTimeout   time.Duration
	halfOpenSuccesses int
	now               func() time.Time
}

// New creates a Breaker.
func New(failureThreshold int, recoveryTimeout time.Duration, halfOpenSuccesses int) *Breaker {
	if failureThreshold < 1 {
		failureThreshold = 1
	}
	if halfOpenSuccesses < 1 {
		halfOpenSuccesses = 1
	}
	return &Breaker{
		circuits:          make(map[string]*circuit),
		failureThreshold:  failureThreshold,
		recoveryTimeout:   recoveryTimeout,
		halfOpenSuccesses: halfOpenSuccesses,
		now:               time.Now,
	}
}

// NewFromConfig builds a Breaker from the breaker config section.
func NewFromConfig(cfg *config.BreakerConfig) *Breaker {
	return New(cfg.FailureThreshold, cfg.RecoveryTimeout.Std(), cfg.HalfOpenSuccesses)
}

func (b *Breaker) get(key string) *circuit {
	c, ok := b.circuits[key]
	if !ok {
		c = &circuit{state: Closed}
		b.circuits[key] = c
	}
	return c
}

// CanExecute reports whether a call for key may proceed. An open circuit whose
// recovery timeout has elapsed moves to half-open and lets the call through.
func (b *Breaker) CanExecute(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.get(key)
	switch c.state {
	case Closed, HalfOpen:
		return true
	default:
		if b.now().Sub(c.lastFailure) >= b.recoveryTimeout {
			c.state = HalfOpen
			c.halfOpenSuccess = 0
			slog.Info("Circuit half-open", "key", key)
			return true
		}
		return false
	}
}

// RecordSuccess closes a half-open circuit once enough probes succeeded and
// resets the failure count of a closed one.
func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.get(key)
	if c.state == HalfOpen {
		c.halfOpenSuccess++
		if c.halfOpenSuccess >= b.halfOpenSuccesses {
			c.state = Closed
			c.failures = 0
			slog.Info("Circuit closed", "key", key)
		}
		return
	}
	c.failures = 0
}

// RecordFailure counts a failure and opens the circuit at the threshold.
// Any failure while half-open reopens it.
func (b *Breaker) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.get(key)
	c.failures++
	c.lastFailure = b.now()
	if c.state == HalfOpen || c.failures >= b.failureThreshold {
		if c.state != Open {
			slog.Warn("Circuit opened", "key", key, "failures", c.failures)
		}
		c.state = Open
	}
}

// State returns the current state of key without side effects.
func (b *Breaker) State(key string) Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.get(key)
	return Snapshot{State: c.state, ConsecutiveFailures: c.failures, LastFailureAt: c.lastFailure}
}
