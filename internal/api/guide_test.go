package api

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func narrationBody() map[string]any {
	return map[string]any{
		"vehiclePosition": map[string]any{"lat": 37.5665, "lon": 126.978, "altitude_m": 300},
		"heading":         45,
		"speed_kmh":       120,
		"targetPOI": map[string]any{
			"id":         "gyeongbokgung",
			"name":       "경복궁",
			"name_en":    "Gyeongbokgung Palace",
			"category":   "culture",
			"distance_m": 850,
			"bearing":    12,
		},
		"context":  "approaching",
		"language": "en",
	}
}

func TestHandleNarration(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/narration", narrationBody())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))

	got := decodeBody[map[string]any](t, rec)
	assert.NotEmpty(t, got["narration"])
	assert.Equal(t, false, got["isFallback"])
}

func TestHandleNarration_RateLimited(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/narration", narrationBody())
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/narration", narrationBody())
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	got := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "Rate limit exceeded", got.Error)
	assert.Positive(t, got.RetryAfter)
}

func TestHandleNarration_InvalidDoesNotConsumeQuota(t *testing.T) {
	env := newTestEnv(t)

	noTarget := narrationBody()
	delete(noTarget, "targetPOI")
	noPosition := narrationBody()
	delete(noPosition, "vehiclePosition")

	tests := []struct {
		name string
		body any
	}{
		{"missing target", noTarget},
		{"missing position", noPosition},
		{"malformed json", `{"targetPOI":`},
		{"empty body", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/narration", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, rec.Header().Get("Retry-After"))
		})
	}

	rec := env.do(t, http.MethodPost, "/api/narration", narrationBody())
	assert.Equal(t, http.StatusOK, rec.Code, "rejected requests must not count against the limit")
	assert.Len(t, env.provider.Prompts(), 1)
}

func TestHandleVoiceGuide(t *testing.T) {
	env := newTestEnv(t)

	body := map[string]any{
		"userQuestion":    "What is that palace?",
		"vehiclePosition": map[string]any{"lat": 37.5665, "lon": 126.978, "altitude_m": 300},
		"heading":         0,
		"language":        "en",
		"nearbyPOIs": []map[string]any{
			{"id": "lotte-tower", "name": "롯데월드타워", "category": "landmark", "distance_m": 4200, "bearing": 120},
			{"id": "gyeongbokgung", "name": "경복궁", "category": "culture", "distance_m": 900, "bearing": 10},
		},
	}

	rec := env.do(t, http.MethodPost, "/api/voice-guide", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decodeBody[map[string]any](t, rec)
	assert.NotEmpty(t, got["answer"])

	rec = env.do(t, http.MethodPost, "/api/voice-guide", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestHandleVoiceGuide_Validation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body any
	}{
		{"missing question", map[string]any{"vehiclePosition": map[string]any{"lat": 37.5, "lon": 127}}},
		{"blank question", map[string]any{"userQuestion": "   ", "vehiclePosition": map[string]any{"lat": 37.5, "lon": 127}}},
		{"missing position", map[string]any{"userQuestion": "hello"}},
		{"malformed", "{"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/voice-guide", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestHandleTTS(t *testing.T) {
	tests := []struct {
		name       string
		body       any
		wantStatus int
		wantLang   string
	}{
		{"korean default", map[string]any{"text": "안녕하세요"}, http.StatusOK, "ko"},
		{"english", map[string]any{"text": "hello", "language": "en"}, http.StatusOK, "en"},
		{"empty text", map[string]any{"text": ""}, http.StatusBadRequest, ""},
		{"too long", map[string]any{"text": strings.Repeat("가", 501)}, http.StatusBadRequest, ""},
		{"exactly max", map[string]any{"text": strings.Repeat("가", 500)}, http.StatusOK, "ko"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			rec := env.do(t, http.MethodPost, "/api/tts", tt.body)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantStatus != http.StatusOK {
				return
			}
			got := decodeBody[TTSResponse](t, rec)
			assert.True(t, got.FallbackToWebSpeech)
			assert.Equal(t, tt.wantLang, string(got.Language))
		})
	}
}

func TestHandleTTS_RateLimited(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/tts", map[string]any{"text": "one"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodPost, "/api/tts", map[string]any{"text": "two"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}
