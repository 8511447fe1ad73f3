package api

import (
	"net/http"
	"runtime"
	"sync"
	"time"

	"skytour/pkg/breaker"
	"skytour/pkg/core"
	"skytour/pkg/narrator"
	"skytour/pkg/tracker"
)

// ClientCounter reports connected stream clients.
type ClientCounter interface {
	Clients() int
}

// StatsHandler serves provider counters and process diagnostics.
type StatsHandler struct {
	tracker *tracker.Tracker
	breaker *breaker.Breaker
	tour    *core.Tour
	clients ClientCounter
	started time.Time

	mu     sync.Mutex
	maxMem uint64
}

func NewStatsHandler(t *tracker.Tracker, br *breaker.Breaker, tour *core.Tour, clients ClientCounter) *StatsHandler {
	return &StatsHandler{
		tracker: t,
		breaker: br,
		tour:    tour,
		clients: clients,
		started: time.Now(),
	}
}

// Diagnostics is the server process footprint.
type Diagnostics struct {
	MemoryMB    uint64  `json:"memory_mb"`
	MemoryMaxMB uint64  `json:"memory_max_mb"`
	Goroutines  int     `json:"goroutines"`
	UptimeSec   float64 `json:"uptime_sec"`
	Clients     int     `json:"clients"`
}

type StatsResponse struct {
	Diagnostics Diagnostics                      `json:"diagnostics"`
	Providers   map[string]tracker.ProviderStats `json:"providers"`
	Breaker     breaker.Snapshot                 `json:"breaker"`
	Tour        map[string]any                   `json:"tour"`
}

func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		Diagnostics: h.gatherDiagnostics(),
		Providers:   h.tracker.Snapshot(),
		Breaker:     h.breaker.State(narrator.BreakerKey),
		Tour:        h.tour.Stats(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *StatsHandler) gatherDiagnostics() Diagnostics {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	h.mu.Lock()
	if ms.Sys > h.maxMem {
		h.maxMem = ms.Sys
	}
	peak := h.maxMem
	h.mu.Unlock()

	d := Diagnostics{
		MemoryMB:    bToMb(ms.Sys),
		MemoryMaxMB: bToMb(peak),
		Goroutines:  runtime.NumGoroutine(),
		UptimeSec:   time.Since(h.started).Seconds(),
	}
	if h.clients != nil {
		d.Clients = h.clients.Clients()
	}
	return d
}

func bToMb(b uint64) uint64 {
	return b / 1024 / 1024
}
