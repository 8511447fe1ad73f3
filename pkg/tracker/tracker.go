package tracker

import (
	"sync"
	"sync/atomic"
)

// Tracker counts guarded-call outcomes per provider key ("gemini", "voice-guide", ...).
type Tracker struct {
	mu    sync.RWMutex
	stats map[string]*ProviderStats
}

// ProviderStats holds counters for one provider key.
// Fields are accessed atomically.
type ProviderStats struct {
	APISuccess       int64 `json:"api_success"`
	APIFailures      int64 `json:"api_failures"`
	Fallbacks        int64 `json:"fallbacks"`
	RateLimited      int64 `json:"rate_limited"`
	BreakerRejected  int64 `json:"breaker_rejected"`
	BackupKeyRetries int64 `json:"backup_key_retries"`
}

// New creates a new Tracker.
func New() *Tracker {
	return &Tracker{
		stats: make(map[string]*ProviderStats),
	}
}

func (t *Tracker) getStats(provider string) *ProviderStats {
	t.mu.RLock()
	s, ok := t.stats[provider]
	t.mu.RUnlock()
	if ok {
		return s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok = t.stats[provider]; ok {
		return s
	}
	s = &ProviderStats{}
	t.stats[provider] = s
	return s
}

func (t *Tracker) TrackAPISuccess(provider string) {
	atomic.AddInt64(&t.getStats(provider).APISuccess, 1)
}

func (t *Tracker) TrackAPIFailure(provider string) {
	atomic.AddInt64(&t.getStats(provider).APIFailures, 1)
}

// TrackFallback counts a response served from canned text.
func (t *Tracker) TrackFallback(provider string) {
	atomic.AddInt64(&t.getStats(provider).Fallbacks, 1)
}

func (t *Tracker) TrackRateLimited(provider string) {
	atomic.AddInt64(&t.getStats(provider).RateLimited, 1)
}

func (t *Tracker) TrackBreakerRejected(provider string) {
	atomic.AddInt64(&t.getStats(provider).BreakerRejected, 1)
}

func (t *Tracker) TrackBackupRetry(provider string) {
	atomic.AddInt64(&t.getStats(provider).BackupKeyRetries, 1)
}

// Snapshot returns a copy of the current stats.
func (t *Tracker) Snapshot() map[string]ProviderStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(map[string]ProviderStats, len(t.stats))
	for k, v := range t.stats {
		result[k] = ProviderStats{
			APISuccess:       atomic.LoadInt64(&v.APISuccess),
			APIFailures:      atomic.LoadInt64(&v.APIFailures),
			Fallbacks:        atomic.LoadInt64(&v.Fallbacks),
			RateLimited:      atomic.LoadInt64(&v.RateLimited),
			BreakerRejected:  atomic.LoadInt64(&v.BreakerRejected),
			BackupKeyRetries: atomic.LoadInt64(&v.BackupKeyRetries),
		}
	}
	return result
}
