package voice

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"skytour/pkg/breaker"
	"skytour/pkg/config"
	"skytour/pkg/geo"
	"skytour/pkg/llm/prompts"
	"skytour/pkg/model"
	"skytour/pkg/ratelimit"
)

type fakeClient struct {
	mu       sync.Mutex
	response string
	err      error
	delay    time.Duration
	calls    int
	prompts  []string
}

func (c *fakeClient) Generate(ctx context.Context, name, prompt string, timeout time.Duration) (string, error) {
	c.mu.Lock()
	c.calls++
	c.prompts = append(c.prompts, prompt)
	resp, err, delay := c.response, c.err, c.delay
	c.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return resp, err
}

func (c *fakeClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type fakeTraveler struct{ lang model.Language }

func (f fakeTraveler) Language() model.Language { return f.lang }
func (f fakeTraveler) Pilot() model.PilotProfile {
	return model.PilotProfile{Callsign: "GOOSE", Experience: model.Beginner}
}

type fakeSurroundings struct{ pois []*model.POI }

func (f fakeSurroundings) Pose() model.VehiclePose { return seoulPose() }
func (f fakeSurroundings) POIs() []*model.POI     { return f.pois }
func (f fakeSurroundings) ZoneLabel(geo.Point, model.Language) string {
	return "Jung-gu"
}

type fakeCapture struct {
	mu       sync.Mutex
	startErr error
	started  int
	stopped  int
	aborted  int
}

func (c *fakeCapture) Start(model.Language) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started++
	return c.startErr
}

func (c *fakeCapture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped++
}

func (c *fakeCapture) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aborted++
}

// fakeSlot records what the interaction does with the narration slot.
type fakeSlot struct {
	mu       sync.Mutex
	speaks   bool
	nextID   int
	current  string
	answer   string
	fallback bool
	spoken   []string
	ended    []string
	aborted  []string
}

func (s *fakeSlot) BeginVoice() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.current = fmt.Sprintf("voice-%d", s.nextID)
	return s.current
}

func (s *fakeSlot) SetVoiceAnswer(id, text, keyword string, fallback bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != s.current {
		return false
	}
	s.answer, s.fallback = text, fallback
	return true
}

func (s *fakeSlot) Speak(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spoken = append(s.spoken, id)
	return s.speaks
}

func (s *fakeSlot) Abort(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborted = append(s.aborted, id)
	if id == s.current {
		s.current = ""
		return true
	}
	return false
}

func (s *fakeSlot) End(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = append(s.ended, id)
	if id == s.current {
		s.current = ""
		return true
	}
	return false
}

func (s *fakeSlot) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *fakeSlot) Answer() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.answer, s.fallback
}

type recordingPublisher struct {
	mu  sync.Mutex
	got []Status
}

func (p *recordingPublisher) PublishVoice(st Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, st)
}

func (p *recordingPublisher) Phases() []Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Phase, len(p.got))
	for i, st := range p.got {
		out[i] = st.Phase
	}
	return out
}

func seoulPose() model.VehiclePose {
	return model.VehiclePose{Lat: 37.5665, Lon: 126.9780, AltitudeM: 300, Heading: 0, SpeedKmh: 150}
}

func testPOIs() []*model.POI {
	return []*model.POI{
		{ID: "city-hall", Name: "서울시청", NameEn: "Seoul City Hall", Category: model.CatLandmark, Lat: 37.5663, Lon: 126.9779, VisibleRangeM: 1000},
		{ID: "gyeongbokgung", Name: "경복궁", NameEn: "Gyeongbokgung", Category: model.CatCulture, Lat: 37.5796, Lon: 126.9770, VisibleRangeM: 500},
		{ID: "lotte-tower", Name: "롯데월드타워", NameEn: "Lotte World Tower", Category: model.CatLandmark, Lat: 37.5126, Lon: 127.1025, VisibleRangeM: 20000},
	}
}

func testVoiceConfig() config.VoiceConfig {
	return config.VoiceConfig{
		MaxListen:      config.Duration(time.Hour),
		SilenceTimeout: config.Duration(time.Hour),
		NearbyRadius:   5000,
		NearbyLimit:    5,
		ResponseHold:   config.Duration(10 * time.Millisecond),
		SpeechTimeout:  config.Duration(30 * time.Millisecond),
		CallTimeout:    config.Duration(time.Second),
	}
}

func newTestAnswerer(t *testing.T, c *fakeClient, rule ratelimit.Rule) (*Answerer, *breaker.Breaker) {
	t.Helper()
	pm, err := prompts.NewDefault("")
	if err != nil {
		t.Fatalf("prompts: %v", err)
	}
	br := breaker.New(2, time.Hour, 1)
	lim := ratelimit.New(map[string]ratelimit.Rule{LimiterKey: rule}, ratelimit.Rule{MaxPerMinute: 100})
	return NewAnswerer(c, pm, lim, br, nil, time.Second), br
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
