// Package ratelimit gates outbound calls per key with a minimum spacing
// between requests and a sliding one-minute cap.
package ratelimit

import (
	"sync"
	"time"

	"skytour/pkg/config"
)

// Window is the sliding window length for the per-minute cap.
const Window = time.Minute

// Rule is the limit applied to one key.
type Rule struct {
	MinInterval  time.Duration
	MaxPerMinute int
}

// Result describes the outcome of a Check.
type Result struct {
	Allowed           bool
	RetryAfterSeconds int
	Remaining         int
	ResetEpochSeconds int64
}

// Limiter tracks accepted request times per key.
type Limiter struct {
	mu          sync.Mutex
	rules       map[string]Rule
	defaultRule Rule
	windows     map[string][]time.Time
	now         func() time.Time
}

// New creates a Limiter with per-key rules and a fallback for unknown keys.
func New(rules map[string]Rule, defaultRule Rule) *Limiter {
	r := make(map[string]Rule, len(rules))
	for k, v := range rules {
		r[k] = v
	}
	return &Limiter{
		rules:       r,
		defaultRule: defaultRule,
		windows:     make(map[string][]time.Time),
		now:         time.Now,
	}
}

// NewFromConfig builds a Limiter from the rate_limits config section.
func NewFromConfig(cfg *config.RateLimitsConfig) *Limiter {
	rules := make(map[string]Rule, len(cfg.Keys))
	for k, v := range cfg.Keys {
		rules[k] = Rule{MinInterval: v.MinInterval.Std(), MaxPerMinute: v.MaxPerMinute}
	}
	return New(rules, Rule{MinInterval: cfg.Default.MinInterval.Std(), MaxPerMinute: cfg.Default.MaxPerMinute})
}

// RuleFor returns the rule applied to key.
func (l *Limiter) RuleFor(key string) Rule {
	if r, ok := l.rules[key]; ok {
		return r
	}
	return l.defaultRule
}

// Check records a request for key if it is allowed and reports the outcome.
// A rejected request is not recorded.
func (l *Limiter) Check(key string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	rule := l.RuleFor(key)
	stamps := prune(l.windows[key], now)
	l.windows[key] = stamps

	if n := len(stamps); n > 0 {
		if elapsed := now.Sub(stamps[n-1]); elapsed < rule.MinInterval {
			return Result{
				Allowed:           false,
				RetryAfterSeconds: ceilSeconds(rule.MinInterval - elapsed),
				Remaining:         max(rule.MaxPerMinute-n, 0),
				ResetEpochSeconds: ceilEpoch(stamps[0].Add(Window)),
			}
		}
	}

	if len(stamps) >= rule.MaxPerMinute {
		var oldest time.Time
		if len(stamps) > 0 {
			oldest = stamps[0]
		} else {
			oldest = now.Add(-Window)
		}
		return Result{
			Allowed:           false,
			RetryAfterSeconds: ceilSeconds(oldest.Add(Window).Sub(now)),
			Remaining:         0,
			ResetEpochSeconds: ceilEpoch(oldest.Add(Window)),
		}
	}

	stamps = append(stamps, now)
	l.windows[key] = stamps
	return Result{
		Allowed:           true,
		Remaining:         rule.MaxPerMinute - len(stamps),
		ResetEpochSeconds: ceilEpoch(now.Add(Window)),
	}
}

// Housekeep drops expired timestamps and forgets keys with no recent requests.
// It returns the number of keys still tracked.
func (l *Limiter) Housekeep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for k, stamps := range l.windows {
		kept := prune(stamps, now)
		if len(kept) == 0 {
			delete(l.windows, k)
			continue
		}
		l.windows[k] = kept
	}
	return len(l.windows)
}

// prune keeps the timestamps strictly inside the trailing window.
func prune(stamps []time.Time, now time.Time) []time.Time {
	start := now.Add(-Window)
	i := 0
	for i < len(stamps) && !stamps[i].After(start) {
		i++
	}
	if i == 0 {
		return stamps
	}
	return append([]time.Time(nil), stamps[i:]...)
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

func ceilEpoch(t time.Time) int64 {
	ms := t.UnixMilli()
	return (ms + 999) / 1000
}
