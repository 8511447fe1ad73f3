package model

import (
	"time"
)

// Language is the narration language.
type Language string

const (
	LangKorean  Language = "ko"
	LangEnglish Language = "en"
)

// ParseLanguage returns the language for s, defaulting to Korean.
func ParseLanguage(s string) Language {
	if Language(s) == LangEnglish {
		return LangEnglish
	}
	return LangKorean
}

// Category is a POI category code.
type Category string

const (
	CatLandmark   Category = "landmark"
	CatRestaurant Category = "restaurant"
	CatCulture    Category = "culture"
	CatNature     Category = "nature"
	CatShopping   Category = "shopping"
)

// ExperienceLevel modulates narration tone.
type ExperienceLevel string

const (
	Beginner     ExperienceLevel = "beginner"
	Intermediate ExperienceLevel = "intermediate"
	Veteran      ExperienceLevel = "veteran"
)

// TriggerPhase is how a POI was moving relative to the vehicle when detected.
type TriggerPhase string

const (
	Approaching TriggerPhase = "approaching"
	Passing     TriggerPhase = "passing"
	Departing   TriggerPhase = "departing"
)

// TimeOfDay buckets the local hour for prompt context.
type TimeOfDay string

const (
	Morning   TimeOfDay = "morning"
	Afternoon TimeOfDay = "afternoon"
	Evening   TimeOfDay = "evening"
	Night     TimeOfDay = "night"
)

// Image is a display image attached to a POI.
type Image struct {
	ID    string `json:"id"`
	URL   string `json:"image_url"`
	Order int    `json:"display_order"`
}

// POI is an immutable catalog entry.
type POI struct {
	ID            string   `json:"id"`
	ZoneCode      string   `json:"zone_code"`
	Category      Category `json:"category_code"`
	Name          string   `json:"name"`    // local (Korean) name
	NameEn        string   `json:"name_en"` // English name
	Lat           float64  `json:"lat"`
	Lon           float64  `json:"lon"`
	AltitudeM     float64  `json:"altitude_m"`
	Description   string   `json:"description"`
	DescriptionEn string   `json:"description_en"`
	Images        []Image  `json:"images"`
	Tags          []string `json:"tags"`
	VisibleRangeM float64  `json:"visible_range_m"`
	Direction     string   `json:"direction"`
}

// DisplayName returns the name in lang, falling back to whichever name exists.
func (p *POI) DisplayName(lang Language) string {
	if lang == LangEnglish && p.NameEn != "" {
		return p.NameEn
	}
	if p.Name != "" {
		return p.Name
	}
	if p.NameEn != "" {
		return p.NameEn
	}
	return p.ID
}

// DescriptionFor returns the description in lang with the same fallback rules.
func (p *POI) DescriptionFor(lang Language) string {
	if lang == LangEnglish && p.DescriptionEn != "" {
		return p.DescriptionEn
	}
	return p.Description
}

// PrimaryImage returns the URL of the lowest-ordered image, or "".
func (p *POI) PrimaryImage() string {
	best := -1
	for i, img := range p.Images {
		if best < 0 || img.Order < p.Images[best].Order {
			best = i
		}
	}
	if best < 0 {
		return ""
	}
	return p.Images[best].URL
}

// VehiclePose is the simulated vehicle state.
type VehiclePose struct {
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	AltitudeM float64 `json:"altitude_m"`
	Heading   float64 `json:"heading"`
	SpeedKmh  float64 `json:"speed_kmh"`
	Pitch     float64 `json:"pitch"`
	Roll      float64 `json:"roll"`
}

// VisiblePOI is a POI that passed the detector's range and FOV tests this tick.
type VisiblePOI struct {
	POI        *POI         `json:"poi"`
	DistanceM  float64      `json:"distance_m"`
	BearingDeg float64      `json:"bearing"`
	Trigger    TriggerPhase `json:"trigger"`
}

// PilotProfile identifies the traveler.
type PilotProfile struct {
	Callsign   string          `json:"callsign"`
	Experience ExperienceLevel `json:"experienceLevel"`
}

// HistoryEntry is one completed narration kept for prompt continuity.
type HistoryEntry struct {
	POIID     string       `json:"poiId"`
	POIName   string       `json:"poiName"`
	Text      string       `json:"narration"`
	Trigger   TriggerPhase `json:"context"`
	Timestamp time.Time    `json:"timestamp"`
}

// TrailPoint is one recorded pose on the flight path.
type TrailPoint struct {
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	AltitudeM  float64   `json:"altitude_m"`
	Heading    float64   `json:"heading"`
	SpeedKmh   float64   `json:"speed_kmh"`
	Sequence   int64     `json:"sequence"`
	RecordedAt time.Time `json:"recorded_at"`
}
