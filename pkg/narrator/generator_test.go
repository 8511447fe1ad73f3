package narrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"skytour/pkg/breaker"
	"skytour/pkg/model"
)

func TestParseNarration(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		wantText    string
		wantKeyword string
	}{
		{
			name:        "plain object",
			raw:         `{"narration":"Test POI ahead.","highlightKeyword":"Test"}`,
			wantText:    "Test POI ahead.",
			wantKeyword: "Test",
		},
		{
			name:        "fenced object with chatter",
			raw:         "Sure!\n```json\n{\"narration\": \"Namsan Tower on the left.\", \"highlightKeyword\": \"Namsan\"}\n```",
			wantText:    "Namsan Tower on the left.",
			wantKeyword: "Namsan",
		},
		{
			name:     "no json",
			raw:      "  Just some words.  ",
			wantText: "Just some words.",
		},
		{
			name:     "broken json",
			raw:      `{"narration": "cut off`,
			wantText: `{"narration": "cut off`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, kw := ParseNarration(tt.raw)
			assert.Equal(t, tt.wantText, text)
			assert.Equal(t, tt.wantKeyword, kw)
		})
	}
}

func TestGenerator_Narrate(t *testing.T) {
	poi := testPOI("p1", "Test POI")
	req := Request{POI: poi, DistanceM: 800, BearingDeg: 90, Trigger: model.Approaching, Pose: model.VehiclePose(seoulPose), Lang: model.LangEnglish}

	t.Run("success", func(t *testing.T) {
		client := &fakeClient{response: `{"narration":"Test POI ahead.","highlightKeyword":"Test"}`}
		res := newTestGenerator(t, client, nil).Narrate(context.Background(), req)
		assert.False(t, res.IsFallback)
		assert.Equal(t, "Test POI ahead.", res.Text)
		assert.Equal(t, "Test", res.HighlightKeyword)
		assert.Equal(t, ReasonNone, res.Reason)
		assert.True(t, strings.Contains(client.prompts[0], "Test POI"), "prompt names the target")
	})

	t.Run("open breaker uses category fallback", func(t *testing.T) {
		client := &fakeClient{response: `{"narration":"never"}`}
		br := breaker.New(1, time.Hour, 1)
		br.RecordFailure(BreakerKey)

		res := newTestGenerator(t, client, br).Narrate(context.Background(), req)
		assert.True(t, res.IsFallback)
		assert.Equal(t, ReasonCircuitOpen, res.Reason)
		assert.Equal(t, FallbackText(model.CatLandmark, model.LangEnglish), res.Text)
		assert.Equal(t, 0, client.Calls())
	})

	t.Run("rate limited", func(t *testing.T) {
		client := &fakeClient{response: `{"narration":"ok"}`}
		g := newTestGenerator(t, client, nil)
		for range 100 {
			g.limiter.Check(LimiterKey)
		}
		res := g.Narrate(context.Background(), req)
		assert.True(t, res.IsFallback)
		assert.Equal(t, ReasonRateLimited, res.Reason)
		assert.False(t, res.Limit.Allowed)
		assert.Equal(t, 0, client.Calls())
	})

	t.Run("call failure counts against breaker", func(t *testing.T) {
		client := &fakeClient{err: errors.New("boom")}
		br := breaker.New(1, time.Hour, 1)
		res := newTestGenerator(t, client, br).Narrate(context.Background(), req)
		assert.True(t, res.IsFallback)
		assert.Equal(t, ReasonCallFailed, res.Reason)
		assert.Equal(t, "Test POI is visible. Test POI description", res.Text)
		assert.Equal(t, breaker.Open, br.State(BreakerKey).State)
	})

	t.Run("empty answer", func(t *testing.T) {
		client := &fakeClient{response: "   "}
		res := newTestGenerator(t, client, nil).Narrate(context.Background(), req)
		assert.True(t, res.IsFallback)
		assert.Equal(t, ReasonEmpty, res.Reason)
		assert.NotEmpty(t, res.Text)
	})

	t.Run("cancelled call is not a failure", func(t *testing.T) {
		client := &fakeClient{response: "late", delay: time.Second}
		br := breaker.New(1, time.Hour, 1)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		res := newTestGenerator(t, client, br).Narrate(ctx, req)
		assert.Equal(t, ReasonCancelled, res.Reason)
		assert.Equal(t, breaker.Closed, br.State(BreakerKey).State)
	})
}

func TestRequest_Validate(t *testing.T) {
	r := Request{}
	assert.ErrorIs(t, r.Validate(), ErrInvalidRequest)
	r.POI = testPOI("a", "A")
	assert.NoError(t, r.Validate())
}

func TestFallbackText(t *testing.T) {
	tests := []struct {
		cat  model.Category
		lang model.Language
		want string
	}{
		{model.CatNature, model.LangKorean, "자연의 아름다움을 느낄 수 있는 곳입니다. 도심 속 휴식처를 만끽하세요."},
		{model.CatShopping, model.LangEnglish, "A street for shopping and leisure. Feel the trendy culture of Seoul."},
		{"unknown", model.LangEnglish, "You are flying over Seoul. Enjoy the beautiful scenery."},
		{model.CatLandmark, "fr", "멋진 랜드마크가 보입니다. 서울의 아름다운 풍경을 즐겨보세요."},
	}
	for _, tt := range tests {
		if got := FallbackText(tt.cat, tt.lang); got != tt.want {
			t.Errorf("FallbackText(%q, %q) = %q, want %q", tt.cat, tt.lang, got, tt.want)
		}
	}

	p := &model.POI{ID: "x", Name: "경복궁", Category: model.CatCulture, Description: "조선의 법궁."}
	if got := POIFallbackText(p, model.LangKorean); got != "경복궁이(가) 보입니다. 조선의 법궁." {
		t.Errorf("POIFallbackText = %q", got)
	}
	p.Description = ""
	if got := POIFallbackText(p, model.LangKorean); got != FallbackText(model.CatCulture, model.LangKorean) {
		t.Errorf("POIFallbackText without description = %q", got)
	}
}
