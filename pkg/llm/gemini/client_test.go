package gemini

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/iterator"
	"google.golang.org/genai"

	"skytour/pkg/config"
	"skytour/pkg/llm"
	"skytour/pkg/tracker"
)

func TestClient_NotConfigured(t *testing.T) {
	c, err := NewClient("gemini", "", config.LLMConfig{}, tracker.New())
	require.NoError(t, err)

	_, err = c.GenerateText(context.Background(), llm.IntentNarration, "hi")
	assert.ErrorIs(t, err, llm.ErrNotConfigured)
	assert.ErrorIs(t, c.HealthCheck(context.Background()), llm.ErrNotConfigured)
	assert.Equal(t, defaultModel, c.modelName)
}

func TestClient_WrapError(t *testing.T) {
	c := &Client{name: "gemini-backup"}

	tests := []struct {
		name        string
		err         error
		wantLimited bool
		wantStatus  bool
	}{
		{"api 429", genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED"}, true, true},
		{"api 503", genai.APIError{Code: 503, Status: "UNAVAILABLE"}, false, true},
		{"plain", errors.New("dial tcp: timeout"), false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.wrapError(tt.err)
			var se *llm.StatusError
			assert.Equal(t, tt.wantStatus, errors.As(got, &se))
			assert.Equal(t, tt.wantLimited, llm.IsRateLimited(got))
		})
	}
}

func TestGetResponseText(t *testing.T) {
	tests := []struct {
		name    string
		resp    *genai.GenerateContentResponse
		want    string
		wantErr bool
	}{
		{"nil", nil, "", true},
		{"no candidates", &genai.GenerateContentResponse{}, "", true},
		{"nil content", &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{}}}, "", true},
		{
			name: "joined parts",
			resp: &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
				Content: &genai.Content{Parts: []*genai.Part{{Text: `{"narration":`}, {Text: `"hi"}`}}},
			}}},
			want: `{"narration":"hi"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := getResponseText(tt.resp)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSampleTemperature(t *testing.T) {
	assert.Equal(t, float32(0.7), sampleTemperature(0.7, 0))
	for i := 0; i < 200; i++ {
		v := sampleTemperature(0.9, 0.2)
		assert.GreaterOrEqual(t, v, float32(0.7)-1e-6)
		assert.LessOrEqual(t, v, float32(1.1)+1e-6)
	}
	assert.GreaterOrEqual(t, sampleTemperature(0.05, 0.04), float32(0.1))
}

func TestContentConfig(t *testing.T) {
	c := &Client{temperatureBase: 0.9, temperatureJitter: 0.1}
	assert.NotNil(t, c.contentConfig(llm.IntentNarration).Temperature)
	assert.Nil(t, c.contentConfig(llm.IntentVoice).Temperature)
}

func TestModelIterator(t *testing.T) {
	pages := []genai.Page[genai.Model]{
		{Items: []*genai.Model{{Name: "models/gemini-2.0-flash"}, {Name: "models/embedding-001"}}, NextPageToken: "p2"},
		{Items: []*genai.Model{{Name: "models/gemini-1.5-pro"}}},
	}
	it := newModelIterator(context.Background(), pages[0])
	it.next = func(_ context.Context, p genai.Page[genai.Model]) (genai.Page[genai.Model], error) {
		if p.NextPageToken == "" {
			return p, genai.ErrPageDone
		}
		return pages[1], nil
	}

	names, err := geminiModels(it)
	require.NoError(t, err)
	assert.Equal(t, []string{"models/gemini-2.0-flash", "models/gemini-1.5-pro"}, names)

	_, err = it.Next()
	assert.Equal(t, iterator.Done, err)
}

func TestLogPrompt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "gemini.log")
	c := &Client{name: "gemini", logPath: path}

	c.logPrompt(llm.IntentNarration, "POI: 남산서울타워", `{"narration":"ok"}`)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "gemini PROMPT: narration")
	assert.Contains(t, string(data), "POI: 남산서울타워")
	assert.Contains(t, string(data), `{"narration":"ok"}`)
}
