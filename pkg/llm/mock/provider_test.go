package mock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skytour/pkg/llm"
)

func TestProvider_Narration(t *testing.T) {
	p := New(0)
	out, err := p.GenerateText(context.Background(), llm.IntentNarration, "rules\nPOI: 63 Building (landmark)\nDistance: 800m")
	require.NoError(t, err)

	var got struct {
		Narration        string `json:"narration"`
		HighlightKeyword string `json:"highlightKeyword"`
	}
	require.True(t, llm.ExtractJSON(out, "narration", &got))
	assert.Equal(t, "63 Building is coming into view.", got.Narration)
	assert.Equal(t, "63 Building", got.HighlightKeyword)
	assert.Len(t, p.Prompts(), 1)
}

func TestProvider_Voice(t *testing.T) {
	p := New(0)
	out, err := p.GenerateText(context.Background(), llm.IntentVoice, "QUESTION: Where is Namsan?\n")
	require.NoError(t, err)
	assert.Contains(t, out, `"answer":"You asked: Where is Namsan?"`)
}

func TestProvider_ErrorAndCancel(t *testing.T) {
	p := New(0)
	p.Err = errors.New("boom")
	_, err := p.GenerateText(context.Background(), llm.IntentNarration, "POI: x")
	assert.EqualError(t, err, "boom")

	slow := New(time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = slow.GenerateText(ctx, llm.IntentNarration, "POI: x")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
