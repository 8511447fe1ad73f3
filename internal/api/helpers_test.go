package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"skytour/pkg/breaker"
	"skytour/pkg/catalog"
	"skytour/pkg/config"
	"skytour/pkg/core"
	"skytour/pkg/llm"
	"skytour/pkg/llm/failover"
	"skytour/pkg/llm/mock"
	"skytour/pkg/llm/prompts"
	"skytour/pkg/narrator"
	"skytour/pkg/ratelimit"
	"skytour/pkg/session"
	"skytour/pkg/sim"
	"skytour/pkg/tracker"
	"skytour/pkg/voice"
)

type testEnv struct {
	cfg      *config.Config
	tour     *core.Tour
	hub      *Hub
	provider *mock.Provider
	router   http.Handler
	shutdown atomic.Int32
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Loops.FrameInterval = config.Duration(2 * time.Millisecond)
	cfg.Loops.PoseBroadcastInterval = config.Duration(5 * time.Millisecond)
	cfg.Voice.ResponseHold = config.Duration(20 * time.Millisecond)
	cfg.Voice.SilenceTimeout = config.Duration(50 * time.Millisecond)

	cat, err := catalog.LoadEmbedded()
	require.NoError(t, err)
	pm, err := prompts.NewDefault("")
	require.NoError(t, err)

	tr := tracker.New()
	prov := mock.New(0)
	client, err := failover.New([]llm.Provider{prov}, []string{"mock"}, tr)
	require.NoError(t, err)
	lim := ratelimit.NewFromConfig(&cfg.RateLimits)
	br := breaker.NewFromConfig(&cfg.Breaker)
	gen := narrator.NewGenerator(client, pm, lim, br, tr, cfg.Narrator.CallTimeout.Std())
	ans := voice.NewAnswerer(client, pm, lim, br, tr, cfg.Voice.CallTimeout.Std())

	tour := core.NewTour(context.Background(), cfg, core.Deps{
		Sim:       sim.New(cfg.Flight),
		Catalog:   cat,
		Session:   session.NewManager(),
		Generator: gen,
		Answerer:  ans,
		Limiter:   lim,
	})
	t.Cleanup(tour.Shutdown)

	origins := AllowedOrigins([]string{"https://tour.example"}, false)
	hub := NewHub(tour, origins)
	t.Cleanup(hub.Close)

	env := &testEnv{cfg: cfg, tour: tour, hub: hub, provider: prov}
	env.router = NewRouter(origins, Handlers{
		Guide:     NewGuideHandler(gen, ans, lim, cfg.Voice.NearbyLimit),
		Telemetry: NewTelemetryHandler(tour),
		Session:   NewSessionHandler(tour),
		Narrator:  NewNarratorHandler(tour),
		Controls:  NewControlsHandler(tour),
		POIs:      NewPOIHandler(tour, tour.Session()),
		Config:    NewConfigHandler(cfg, tour.Session()),
		Stats:     NewStatsHandler(tr, br, tour, hub),
		Stream:    hub,
	}, func() { env.shutdown.Add(1) })
	return env
}

// do runs one request through the router. body is JSON-encoded unless it is
// a string.
func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}
