package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"skytour/pkg/breaker"
	"skytour/pkg/geo"
	"skytour/pkg/llm"
	"skytour/pkg/llm/prompts"
	"skytour/pkg/model"
	"skytour/pkg/ratelimit"
	"skytour/pkg/tracker"
)

// Guard keys. Voice has its own rate-limit budget but shares the narration
// circuit since both hit the same upstream.
const (
	LimiterKey = "voice-guide"
	BreakerKey = "gemini"
	statsName  = "voice-guide"
)

// ErrInvalidQuestion is returned for questions without text.
var ErrInvalidQuestion = errors.New("voice question needs text")

// RateLimitError is returned when the voice budget is exhausted. Unlike
// ambient narration the user asked for this, so it is surfaced.
type RateLimitError struct {
	Limit ratelimit.Result
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("voice rate limited, retry after %ds", e.Limit.RetryAfterSeconds)
}

// ErrRateLimited matches any *RateLimitError with errors.Is.
var ErrRateLimited = errors.New("voice rate limited")

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

var fallbackAnswers = map[model.Language]string{
	model.LangKorean:  "죄송합니다, 잠시 후 다시 말씀해 주세요.",
	model.LangEnglish: "Sorry, please try again in a moment.",
}

// FallbackAnswer is the canned voice reply in lang.
func FallbackAnswer(lang model.Language) string {
	if s, ok := fallbackAnswers[lang]; ok {
		return s
	}
	return fallbackAnswers[model.LangKorean]
}

// Nearby is a catalog POI near the vehicle, as sent with a voice question.
type Nearby struct {
	ID          string         `json:"id,omitempty"`
	Name        string         `json:"name"`
	NameEn      string         `json:"name_en"`
	Category    model.Category `json:"category"`
	Description string         `json:"description"`
	DistanceM   int            `json:"distance_m"`
	Bearing     int            `json:"bearing"`
}

// FindNearby returns up to limit POIs within radiusM of pose, nearest first.
// Declared visible ranges do not apply here.
func FindNearby(pose model.VehiclePose, pois []*model.POI, radiusM float64, limit int) []Nearby {
	pos := geo.PoseToPoint(pose)
	var out []Nearby
	for _, p := range pois {
		target := geo.POIToPoint(p)
		d := geo.Distance(pos, target)
		if d > radiusM {
			continue
		}
		out = append(out, Nearby{
			ID:          p.ID,
			Name:        p.Name,
			NameEn:      p.NameEn,
			Category:    p.Category,
			Description: p.Description,
			DistanceM:   int(math.Round(d)),
			Bearing:     int(math.Round(geo.Bearing(pos, target))) % 360,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DistanceM < out[j].DistanceM })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Question is a transcribed voice question with its flight context.
type Question struct {
	Text   string
	Pose   model.VehiclePose
	Lang   model.Language
	Pilot  model.PilotProfile
	Zone   string
	Nearby []Nearby
}

// Validate rejects questions that cannot be asked.
func (q *Question) Validate() error {
	if strings.TrimSpace(q.Text) == "" {
		return ErrInvalidQuestion
	}
	return nil
}

func (q *Question) promptData() prompts.VoiceData {
	nearby := make([]prompts.NearbyPOI, len(q.Nearby))
	for i, n := range q.Nearby {
		name := n.Name
		if q.Lang == model.LangEnglish && n.NameEn != "" {
			name = n.NameEn
		}
		nearby[i] = prompts.NearbyPOI{
			Name:        name,
			Category:    n.Category,
			Description: n.Description,
			DistanceM:   float64(n.DistanceM),
			Direction:   geo.RelativeDirection(q.Pose.Heading, float64(n.Bearing)).Label(q.Lang),
		}
	}
	return prompts.VoiceData{
		Lang:       q.Lang,
		Callsign:   q.Pilot.Callsign,
		Experience: q.Pilot.Experience,
		Question:   strings.TrimSpace(q.Text),
		Lat:        q.Pose.Lat,
		Lon:        q.Pose.Lon,
		AltitudeM:  q.Pose.AltitudeM,
		SpeedKmh:   q.Pose.SpeedKmh,
		Heading:    q.Pose.Heading,
		Zone:       q.Zone,
		Nearby:     nearby,
	}
}

// Answer is the guide's reply to a question.
type Answer struct {
	Text             string           `json:"answer"`
	HighlightKeyword string           `json:"highlightKeyword"`
	RelatedPOI       *string          `json:"relatedPOI"`
	IsFallback       bool             `json:"isFallback"`
	Limit            ratelimit.Result `json:"-"`
}

// Answerer asks the AI service through the voice rate limit and the shared
// circuit breaker.
type Answerer struct {
	client  llm.Client
	prompts *prompts.Manager
	limiter *ratelimit.Limiter
	breaker *breaker.Breaker
	tracker *tracker.Tracker
	timeout time.Duration
}

// NewAnswerer creates an Answerer. tr may be nil.
func NewAnswerer(client llm.Client, pm *prompts.Manager, lim *ratelimit.Limiter, br *breaker.Breaker, tr *tracker.Tracker, timeout time.Duration) *Answerer {
	if tr == nil {
		tr = tracker.New()
	}
	return &Answerer{client: client, prompts: pm, limiter: lim, breaker: br, tracker: tr, timeout: timeout}
}

// Answer returns the reply to q. A rate-limit rejection is returned as a
// *RateLimitError; every other dependency problem yields the fallback answer.
func (a *Answerer) Answer(ctx context.Context, q Question) (Answer, error) {
	if err := q.Validate(); err != nil {
		return Answer{}, err
	}

	lim := a.limiter.Check(LimiterKey)
	if !lim.Allowed {
		a.tracker.TrackRateLimited(statsName)
		return Answer{}, &RateLimitError{Limit: lim}
	}
	if !a.breaker.CanExecute(BreakerKey) {
		a.tracker.TrackBreakerRejected(statsName)
		return a.fallback(q, lim), nil
	}

	prompt, err := a.prompts.Voice(q.promptData())
	if err != nil {
		slog.Error("Failed to render voice prompt", "error", err)
		return a.fallback(q, lim), nil
	}

	raw, err := a.client.Generate(ctx, llm.IntentVoice, prompt, a.timeout)
	if err != nil {
		if ctx.Err() != nil {
			return Answer{}, ctx.Err()
		}
		a.breaker.RecordFailure(BreakerKey)
		slog.Warn("Voice call failed", "error", err)
		return a.fallback(q, lim), nil
	}
	a.breaker.RecordSuccess(BreakerKey)

	ans := ParseAnswer(raw)
	if ans.Text == "" {
		return a.fallback(q, lim), nil
	}
	ans.Limit = lim
	return ans, nil
}

func (a *Answerer) fallback(q Question, lim ratelimit.Result) Answer {
	a.tracker.TrackFallback(statsName)
	return Answer{Text: FallbackAnswer(q.Lang), IsFallback: true, Limit: lim}
}

// ParseAnswer pulls {answer, highlightKeyword, relatedPOI} out of an AI
// response, using the trimmed raw text when no object is found.
func ParseAnswer(raw string) Answer {
	var resp struct {
		Answer           string  `json:"answer"`
		HighlightKeyword string  `json:"highlightKeyword"`
		RelatedPOI       *string `json:"relatedPOI"`
	}
	text := strings.TrimSpace(raw)
	if !llm.ExtractJSON(raw, "answer", &resp) {
		return Answer{Text: text}
	}
	ans := Answer{Text: resp.Answer, HighlightKeyword: resp.HighlightKeyword, RelatedPOI: resp.RelatedPOI}
	if ans.Text == "" {
		ans.Text = text
	}
	if ans.RelatedPOI != nil && (*ans.RelatedPOI == "" || *ans.RelatedPOI == "null") {
		ans.RelatedPOI = nil
	}
	return ans
}
