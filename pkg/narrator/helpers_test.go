package narrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"skytour/pkg/breaker"
	"skytour/pkg/config"
	"skytour/pkg/llm/prompts"
	"skytour/pkg/model"
	"skytour/pkg/ratelimit"
	"skytour/pkg/tracker"
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

type fakeSession struct {
	mu       sync.Mutex
	lang     model.Language
	visited  map[string]bool
	recorded []string
	texts    []string
}

func newFakeSession() *fakeSession {
	return &fakeSession{lang: model.LangEnglish, visited: make(map[string]bool)}
}

func (s *fakeSession) Language() model.Language { return s.lang }
func (s *fakeSession) Pilot() model.PilotProfile {
	return model.PilotProfile{Callsign: "MAVERICK", Experience: model.Beginner}
}
func (s *fakeSession) Preferences() []model.Category { return nil }

func (s *fakeSession) IsVisited(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visited[id]
}

func (s *fakeSession) RecordNarration(v model.VisiblePOI, text string, fallback bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visited[v.POI.ID] = true
	s.recorded = append(s.recorded, v.POI.ID)
	s.texts = append(s.texts, text)
}

func (s *fakeSession) Recorded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.recorded...)
}

type fixedPose model.VehiclePose

func (p fixedPose) Pose() model.VehiclePose { return model.VehiclePose(p) }

type fakeSpeaker struct {
	mu        sync.Mutex
	published []Snapshot
	spoken    []Snapshot
	silenced  int
	willEnd   bool
}

func (s *fakeSpeaker) Publish(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published = append(s.published, snap)
}

func (s *fakeSpeaker) Speak(snap Snapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spoken = append(s.spoken, snap)
	return s.willEnd
}

func (s *fakeSpeaker) Silence() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silenced++
}

func (s *fakeSpeaker) Spoken() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Snapshot(nil), s.spoken...)
}

func newTestGenerator(t *testing.T, client *fakeClient, br *breaker.Breaker) *Generator {
	t.Helper()
	pm, err := prompts.NewDefault("")
	if err != nil {
		t.Fatalf("prompts: %v", err)
	}
	if br == nil {
		br = breaker.New(3, time.Minute, 1)
	}
	lim := ratelimit.New(nil, ratelimit.Rule{MaxPerMinute: 100})
	return NewGenerator(client, pm, lim, br, tracker.New(), time.Second)
}

func testNarratorConfig() config.NarratorConfig {
	return config.NarratorConfig{
		Cooldown:          config.Duration(time.Hour),
		ReplayDelay:       config.Duration(10 * time.Millisecond),
		SpeechTimeout:     config.Duration(30 * time.Millisecond),
		MaxSpeechDuration: config.Duration(time.Minute),
		HistorySize:       3,
		RunnersUp:         2,
		CallTimeout:       config.Duration(time.Second),
	}
}

var seoulPose = fixedPose{Lat: 37.5219, Lon: 126.9245, AltitudeM: 300, Heading: 90, SpeedKmh: 120}

func testPOI(id, name string) *model.POI {
	return &model.POI{
		ID:          id,
		Name:        name,
		NameEn:      name,
		Category:    model.CatLandmark,
		Lat:         37.5220,
		Lon:         126.9400,
		Description: name + " description",
		Images:      []model.Image{{URL: "/img/" + id + ".jpg", Order: 1}},
	}
}
