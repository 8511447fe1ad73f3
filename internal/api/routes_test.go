package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skytour/pkg/session"
	"skytour/pkg/voice"
)

func TestHealthAndVersion(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/version", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decodeBody[map[string]string](t, rec)["version"])
}

func TestSessionRoutes(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/session", map[string]any{
		"language":     "en",
		"preferences":  []string{"culture", "nature"},
		"pilotProfile": map[string]any{"callsign": "ICEMAN", "experienceLevel": "beginner"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	snap := decodeBody[session.Snapshot](t, rec)
	assert.NotEmpty(t, snap.ID)
	assert.Equal(t, session.PhaseOnboarding, snap.Phase)
	assert.Equal(t, "ICEMAN", snap.Profile.Pilot.Callsign)

	rec = env.do(t, http.MethodPost, "/api/session/phase", map[string]any{"phase": "cruising"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, session.PhaseOnboarding, env.tour.Phase())

	rec = env.do(t, http.MethodPost, "/api/session/phase", map[string]any{"phase": "flying"})
	require.Equal(t, http.StatusOK, rec.Code)
	ph := decodeBody[PhaseResponse](t, rec)
	assert.Equal(t, session.PhaseOnboarding, ph.Previous)
	assert.Equal(t, session.PhaseFlying, ph.Phase)
	assert.True(t, env.tour.Scheduler().Running())

	rec = env.do(t, http.MethodGet, "/api/session", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, snap.ID, decodeBody[session.Snapshot](t, rec).ID)

	rec = env.do(t, http.MethodPost, "/api/session/phase", map[string]any{"phase": "result"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, env.tour.Scheduler().Running())

	rec = env.do(t, http.MethodGet, "/api/session/result", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeBody[session.Result](t, rec)
	assert.Equal(t, snap.ID, res.SessionID)
	assert.Equal(t, "ICEMAN", res.Callsign)
	assert.NotNil(t, res.Trail)
}

func TestSessionBegin_EmptyBody(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/session", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	snap := decodeBody[session.Snapshot](t, rec)
	assert.Equal(t, session.DefaultCallsign, snap.Profile.Pilot.Callsign)
	assert.EqualValues(t, "ko", snap.Profile.Language)
}

func TestTelemetryAndTrail(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/telemetry", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	tel := decodeBody[map[string]any](t, rec)
	pose, ok := tel["pose"].(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, env.cfg.Flight.StartLat, pose["lat"], 1e-6)
	assert.NotEmpty(t, tel["zone"])

	env.tour.Sim().RecordTrail(time.Now())
	env.tour.Sim().RecordTrail(time.Now())

	rec = env.do(t, http.MethodGet, "/api/trail", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/geo+json", rec.Header().Get("Content-Type"))
	fc := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "FeatureCollection", fc["type"])
	features := fc["features"].([]any)
	require.Len(t, features, 1)
	props := features[0].(map[string]any)["properties"].(map[string]any)
	assert.EqualValues(t, 2, props["points"])
}

func TestControls(t *testing.T) {
	env := newTestEnv(t)
	env.tour.Begin(session.Profile{})
	_, err := env.tour.SetPhase(session.PhaseFlying)
	require.NoError(t, err)

	tests := []struct {
		name       string
		body       any
		wantStatus int
		wantAction string
	}{
		{"hold forward", map[string]any{"key": "w", "down": true}, http.StatusOK, ""},
		{"release forward", map[string]any{"key": "w", "down": false}, http.StatusOK, ""},
		{"toggle cruise", map[string]any{"key": "Space", "down": true}, http.StatusOK, "toggle_cruise"},
		{"missing key", map[string]any{"down": true}, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/controls", tt.body)
			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusOK {
				assert.EqualValues(t, tt.wantAction, decodeBody[KeyResponse](t, rec).Action)
			}
		})
	}
	assert.True(t, env.tour.Sim().AutoCruise())
}

func TestVoiceRoutes(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/voice/toggle", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "voice needs a flying session")

	env.tour.Begin(session.Profile{})
	_, err := env.tour.SetPhase(session.PhaseFlying)
	require.NoError(t, err)

	// No stream client has offered a recognizer.
	rec = env.do(t, http.MethodPost, "/api/voice/toggle", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decodeBody[voice.Status](t, rec)
	assert.Equal(t, voice.PhaseIdle, st.Phase)
	assert.NotEmpty(t, st.Error)

	rec = env.do(t, http.MethodPost, "/api/voice/transcript", map[string]any{"text": "ignored", "final": true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, voice.PhaseIdle, decodeBody[voice.Status](t, rec).Phase)

	rec = env.do(t, http.MethodGet, "/api/voice/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeBody[voice.Status](t, rec).Supported)
}

func TestNarratorRoutes(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/narrator/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[map[string]any](t, rec)
	current := got["current"].(map[string]any)
	assert.Equal(t, false, current["isActive"])

	rec = env.do(t, http.MethodPost, "/api/narrator/speech-finished", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/narrator/speech-finished", map[string]any{"id": "stale"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeBody[map[string]bool](t, rec)["accepted"])

	rec = env.do(t, http.MethodPost, "/api/narrator/speech-finished", map[string]any{"id": "stale", "error": "synthesis-failed"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeBody[map[string]bool](t, rec)["accepted"])
}

func TestPOIRoutes(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/pois", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[[]map[string]any](t, rec)
	require.Len(t, list, env.tour.Catalog().Len())
	for i := 1; i < len(list); i++ {
		assert.LessOrEqual(t, list[i-1]["distance_m"], list[i]["distance_m"])
	}

	id := list[0]["id"].(string)
	rec = env.do(t, http.MethodGet, "/api/pois/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, decodeBody[map[string]any](t, rec)["id"])
	assert.Equal(t, false, decodeBody[map[string]any](t, rec)["visited"])

	rec = env.do(t, http.MethodGet, "/api/pois/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConfigRoutes(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/config", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cfg := decodeBody[ConfigResponse](t, rec)
	assert.EqualValues(t, "ko", cfg.Language)
	assert.Equal(t, env.cfg.Detector.FOVDeg, cfg.FOVDeg)
	assert.InDelta(t, 3000, cfg.MaxRangeM, 1e-9)

	rec = env.do(t, http.MethodPost, "/api/config", map[string]any{"language": "en"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, "en", decodeBody[ConfigResponse](t, rec).Language)

	rec = env.do(t, http.MethodPost, "/api/config", map[string]any{"language": "fr"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.EqualValues(t, "en", env.tour.Session().Language())
}

func TestStatsAndLog(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/narration", narrationBody())
	env.do(t, http.MethodPost, "/api/narration", narrationBody())

	rec := env.do(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decodeBody[StatsResponse](t, rec)
	assert.EqualValues(t, 1, stats.Providers["narration"].RateLimited)
	assert.Equal(t, "CLOSED", string(stats.Breaker.State))
	assert.Zero(t, stats.Diagnostics.Clients)
	assert.Contains(t, stats.Tour, "loops_running")

	rec = env.do(t, http.MethodGet, "/api/log/latest", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decodeBody[map[string]string](t, rec), "log")
}

func TestShutdownRoute(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/shutdown", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Eventually(t, func() bool { return env.shutdown.Load() == 1 }, time.Second, 10*time.Millisecond)
}
