package narrator

import (
	"context"
	"errors"
	"log/slog"
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

// Guard keys shared with the HTTP boundary.
const (
	LimiterKey = "gemini"
	BreakerKey = "gemini"
	statsName  = "narration"
)

// ErrInvalidRequest is returned for requests missing the target POI.
var ErrInvalidRequest = errors.New("narration request needs a target poi")

// FallbackReason says why canned text was used.
type FallbackReason string

const (
	ReasonNone        FallbackReason = ""
	ReasonRateLimited FallbackReason = "rate_limited"
	ReasonCircuitOpen FallbackReason = "circuit_open"
	ReasonCallFailed  FallbackReason = "call_failed"
	ReasonEmpty       FallbackReason = "empty_response"
	ReasonCancelled   FallbackReason = "cancelled"
)

// Request is everything a narration prompt is built from.
type Request struct {
	POI         *model.POI
	DistanceM   float64
	BearingDeg  float64
	Trigger     model.TriggerPhase
	Pose        model.VehiclePose
	Lang        model.Language
	Pilot       model.PilotProfile
	Preferences []model.Category
	History     []model.HistoryEntry
	Zone        string
	Now         time.Time
}

// Validate rejects requests that cannot produce a prompt.
func (r *Request) Validate() error {
	if r.POI == nil || r.POI.DisplayName(r.Lang) == "" {
		return ErrInvalidRequest
	}
	return nil
}

func (r *Request) promptData() prompts.NarrationData {
	prefs := make([]string, len(r.Preferences))
	for i, p := range r.Preferences {
		prefs[i] = string(p)
	}
	now := r.Now
	if now.IsZero() {
		now = time.Now()
	}
	return prompts.NarrationData{
		Lang:        r.Lang,
		Callsign:    r.Pilot.Callsign,
		Experience:  r.Pilot.Experience,
		POIName:     r.POI.DisplayName(r.Lang),
		Category:    r.POI.Category,
		Description: r.POI.DescriptionFor(r.Lang),
		DistanceM:   r.DistanceM,
		Direction:   geo.RelativeDirection(r.Pose.Heading, r.BearingDeg).Label(r.Lang),
		AltitudeM:   r.Pose.AltitudeM,
		SpeedKmh:    r.Pose.SpeedKmh,
		Trigger:     r.Trigger,
		TimeOfDay:   geo.TimeOfDayAt(now),
		Zone:        r.Zone,
		Preferences: prefs,
		History:     r.History,
	}
}

// Result is the narration text and how it was obtained.
type Result struct {
	Text             string           `json:"narration"`
	HighlightKeyword string           `json:"highlightKeyword"`
	IsFallback       bool             `json:"isFallback"`
	Reason           FallbackReason   `json:"-"`
	Limit            ratelimit.Result `json:"-"`
}

// Generator produces narration text through the rate limiter and circuit
// breaker, falling back to canned text whenever the AI call cannot be used.
type Generator struct {
	client  llm.Client
	prompts *prompts.Manager
	limiter *ratelimit.Limiter
	breaker *breaker.Breaker
	tracker *tracker.Tracker
	timeout time.Duration
}

// NewGenerator creates a Generator. tr may be nil.
func NewGenerator(client llm.Client, pm *prompts.Manager, lim *ratelimit.Limiter, br *breaker.Breaker, tr *tracker.Tracker, timeout time.Duration) *Generator {
	if tr == nil {
		tr = tracker.New()
	}
	return &Generator{
		client:  client,
		prompts: pm,
		limiter: lim,
		breaker: br,
		tracker: tr,
		timeout: timeout,
	}
}

// Narrate never fails: every dependency problem is turned into a fallback
// Result. Callers must Validate req first.
func (g *Generator) Narrate(ctx context.Context, req Request) Result {
	lim := g.limiter.Check(LimiterKey)
	if !lim.Allowed {
		g.tracker.TrackRateLimited(statsName)
		return g.fallback(req, ReasonRateLimited, lim)
	}
	if !g.breaker.CanExecute(BreakerKey) {
		g.tracker.TrackBreakerRejected(statsName)
		return g.fallback(req, ReasonCircuitOpen, lim)
	}

	prompt, err := g.prompts.Narration(req.promptData())
	if err != nil {
		slog.Error("Failed to render narration prompt", "poi", req.POI.ID, "error", err)
		return g.fallback(req, ReasonCallFailed, lim)
	}

	raw, err := g.client.Generate(ctx, llm.IntentNarration, prompt, g.timeout)
	if err != nil {
		if ctx.Err() != nil {
			return Result{IsFallback: true, Reason: ReasonCancelled, Limit: lim}
		}
		g.breaker.RecordFailure(BreakerKey)
		slog.Warn("Narration call failed", "poi", req.POI.ID, "error", err)
		return g.fallback(req, ReasonCallFailed, lim)
	}
	g.breaker.RecordSuccess(BreakerKey)

	text, keyword := ParseNarration(raw)
	if text == "" {
		return g.fallback(req, ReasonEmpty, lim)
	}
	return Result{Text: text, HighlightKeyword: keyword, Limit: lim}
}

func (g *Generator) fallback(req Request, reason FallbackReason, lim ratelimit.Result) Result {
	g.tracker.TrackFallback(statsName)
	text := FallbackText(req.POI.Category, req.Lang)
	if reason == ReasonCallFailed {
		text = POIFallbackText(req.POI, req.Lang)
	}
	return Result{Text: text, IsFallback: true, Reason: reason, Limit: lim}
}

// ParseNarration pulls {narration, highlightKeyword} out of an AI response.
// The response is untrusted free text: when no parseable object is found the
// trimmed raw text is the narration and the keyword is empty.
func ParseNarration(raw string) (string, string) {
	var resp struct {
		Narration        string `json:"narration"`
		HighlightKeyword string `json:"highlightKeyword"`
	}
	if llm.ExtractJSON(raw, "narration", &resp) {
		text := resp.Narration
		if text == "" {
			text = strings.TrimSpace(raw)
		}
		return text, resp.HighlightKeyword
	}
	return strings.TrimSpace(raw), ""
}
