package api

import (
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"skytour/pkg/model"
	"skytour/pkg/narrator"
	"skytour/pkg/ratelimit"
	"skytour/pkg/voice"
)

// ttsKey is the limiter key of the speech route.
const ttsKey = "tts"

// maxTTSChars bounds the text accepted by the speech route.
const maxTTSChars = 500

var errMissingFields = errors.New("missing required fields")

// GuideHandler serves the stateless AI routes used by clients that run the
// tour themselves.
type GuideHandler struct {
	gen         *narrator.Generator
	answerer    *voice.Answerer
	limiter     *ratelimit.Limiter
	nearbyLimit int
	now         func() time.Time
}

// NewGuideHandler creates a GuideHandler.
func NewGuideHandler(gen *narrator.Generator, a *voice.Answerer, lim *ratelimit.Limiter, nearbyLimit int) *GuideHandler {
	return &GuideHandler{gen: gen, answerer: a, limiter: lim, nearbyLimit: nearbyLimit, now: time.Now}
}

// Position is a vehicle position in request bodies.
type Position struct {
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	AltitudeM float64 `json:"altitude_m"`
}

// TargetPOI is the POI a narration request is about.
type TargetPOI struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	NameEn      string         `json:"name_en"`
	Category    model.Category `json:"category"`
	Description string         `json:"description"`
	DistanceM   float64        `json:"distance_m"`
	Bearing     float64        `json:"bearing"`
}

// HistoryItem is one earlier narration sent back for continuity.
type HistoryItem struct {
	POIName   string `json:"poiName"`
	Narration string `json:"narration"`
	Context   string `json:"context"`
}

// NarrationRequest is the body of POST /api/narration.
type NarrationRequest struct {
	VehiclePosition      *Position          `json:"vehiclePosition"`
	Heading              float64            `json:"heading"`
	SpeedKmh             float64            `json:"speed_kmh"`
	TargetPOI            *TargetPOI         `json:"targetPOI"`
	PassengerPreferences []model.Category   `json:"passengerPreferences"`
	Context              model.TriggerPhase `json:"context"`
	Language             string             `json:"language"`
	NarrationHistory     []HistoryItem      `json:"narrationHistory"`
	PilotProfile         model.PilotProfile `json:"pilotProfile"`
	Zone                 string             `json:"zone"`
}

func (req *NarrationRequest) validate() error {
	if req.TargetPOI == nil || req.VehiclePosition == nil {
		return errMissingFields
	}
	if strings.TrimSpace(req.TargetPOI.Name) == "" && strings.TrimSpace(req.TargetPOI.NameEn) == "" {
		return errors.New("targetPOI needs a name")
	}
	return nil
}

func (req *NarrationRequest) toRequest(now time.Time) narrator.Request {
	lang := model.ParseLanguage(req.Language)
	t := req.TargetPOI
	trigger := req.Context
	switch trigger {
	case model.Approaching, model.Passing, model.Departing:
	default:
		trigger = model.Approaching
	}
	history := make([]model.HistoryEntry, 0, len(req.NarrationHistory))
	for _, h := range req.NarrationHistory {
		history = append(history, model.HistoryEntry{
			POIName: h.POIName,
			Text:    h.Narration,
			Trigger: model.TriggerPhase(h.Context),
		})
	}
	return narrator.Request{
		POI: &model.POI{
			ID:          t.ID,
			Name:        t.Name,
			NameEn:      t.NameEn,
			Category:    t.Category,
			Description: t.Description,
		},
		DistanceM:  t.DistanceM,
		BearingDeg: t.Bearing,
		Trigger:    trigger,
		Pose: model.VehiclePose{
			Lat:       req.VehiclePosition.Lat,
			Lon:       req.VehiclePosition.Lon,
			AltitudeM: req.VehiclePosition.AltitudeM,
			Heading:   req.Heading,
			SpeedKmh:  req.SpeedKmh,
		},
		Lang:        lang,
		Pilot:       req.PilotProfile,
		Preferences: req.PassengerPreferences,
		History:     history,
		Zone:        req.Zone,
		Now:         now,
	}
}

// HandleNarration handles POST /api/narration. Invalid bodies are rejected
// before the limiter is consulted.
func (h *GuideHandler) HandleNarration(w http.ResponseWriter, r *http.Request) {
	var body NarrationRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := body.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req := body.toRequest(h.now())
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res := h.gen.Narrate(r.Context(), req)
	if res.Reason == narrator.ReasonRateLimited {
		writeRateLimited(w, res.Limit)
		return
	}
	setRateHeaders(w, res.Limit)
	writeJSON(w, http.StatusOK, res)
}

// NearbyItem is one POI listed with a voice question.
type NearbyItem struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	NameEn      string         `json:"name_en"`
	Category    model.Category `json:"category"`
	Description string         `json:"description"`
	DistanceM   float64        `json:"distance_m"`
	Bearing     float64        `json:"bearing"`
}

// VoiceGuideRequest is the body of POST /api/voice-guide.
type VoiceGuideRequest struct {
	UserQuestion    string             `json:"userQuestion"`
	VehiclePosition *Position          `json:"vehiclePosition"`
	Heading         float64            `json:"heading"`
	SpeedKmh        float64            `json:"speed_kmh"`
	NearbyPOIs      []NearbyItem       `json:"nearbyPOIs"`
	Zone            string             `json:"zone"`
	Language        string             `json:"language"`
	PilotProfile    model.PilotProfile `json:"pilotProfile"`
}

func (req *VoiceGuideRequest) toQuestion(limit int) voice.Question {
	pose := model.VehiclePose{
		Lat:       req.VehiclePosition.Lat,
		Lon:       req.VehiclePosition.Lon,
		AltitudeM: req.VehiclePosition.AltitudeM,
		Heading:   req.Heading,
		SpeedKmh:  req.SpeedKmh,
	}
	nearby := make([]voice.Nearby, 0, len(req.NearbyPOIs))
	for _, n := range req.NearbyPOIs {
		nearby = append(nearby, voice.Nearby{
			ID:          n.ID,
			Name:        n.Name,
			NameEn:      n.NameEn,
			Category:    n.Category,
			Description: n.Description,
			DistanceM:   int(n.DistanceM + 0.5),
			Bearing:     int(n.Bearing+0.5) % 360,
		})
	}
	sort.SliceStable(nearby, func(i, j int) bool { return nearby[i].DistanceM < nearby[j].DistanceM })
	if limit > 0 && len(nearby) > limit {
		nearby = nearby[:limit]
	}
	return voice.Question{
		Text:   req.UserQuestion,
		Pose:   pose,
		Lang:   model.ParseLanguage(req.Language),
		Pilot:  req.PilotProfile,
		Zone:   req.Zone,
		Nearby: nearby,
	}
}

// HandleVoiceGuide handles POST /api/voice-guide.
func (h *GuideHandler) HandleVoiceGuide(w http.ResponseWriter, r *http.Request) {
	var body VoiceGuideRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(body.UserQuestion) == "" || body.VehiclePosition == nil {
		writeError(w, http.StatusBadRequest, errMissingFields.Error())
		return
	}

	ans, err := h.answerer.Answer(r.Context(), body.toQuestion(h.nearbyLimit))
	var rl *voice.RateLimitError
	switch {
	case errors.As(err, &rl):
		writeRateLimited(w, rl.Limit)
		return
	case errors.Is(err, voice.ErrInvalidQuestion):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		// Client went away.
		return
	}
	setRateHeaders(w, ans.Limit)
	writeJSON(w, http.StatusOK, ans)
}

// TTSRequest is the body of POST /api/tts.
type TTSRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// TTSResponse tells the client to synthesize locally.
type TTSResponse struct {
	FallbackToWebSpeech bool           `json:"fallbackToWebSpeech"`
	Text                string         `json:"text"`
	Language            model.Language `json:"language"`
}

// HandleTTS handles POST /api/tts. No server-side voice is configured, so
// the reply always points the client at its own synthesizer.
func (h *GuideHandler) HandleTTS(w http.ResponseWriter, r *http.Request) {
	lim := h.limiter.Check(ttsKey)
	if !lim.Allowed {
		writeRateLimited(w, lim)
		return
	}
	var body TTSRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.Text == "" || utf8.RuneCountInString(body.Text) > maxTTSChars {
		writeError(w, http.StatusBadRequest, "text required, max 500 chars")
		return
	}
	writeJSON(w, http.StatusOK, TTSResponse{
		FallbackToWebSpeech: true,
		Text:                body.Text,
		Language:            model.ParseLanguage(body.Language),
	})
}
