package narrator

import (
	"skytour/pkg/geo"
	"skytour/pkg/model"
)

// Session is the traveler state a narration reads and records into.
type Session interface {
	Language() model.Language
	Pilot() model.PilotProfile
	Preferences() []model.Category
	IsVisited(id string) bool
	// RecordNarration marks the POI visited, counts the narration and
	// appends it to the guide log.
	RecordNarration(v model.VisiblePOI, text string, fallback bool)
}

// PoseSource provides the current vehicle pose.
type PoseSource interface {
	Pose() model.VehiclePose
}

// ZoneLabeler names the district around a point.
type ZoneLabeler interface {
	ZoneLabel(p geo.Point, lang model.Language) string
}

// Speaker is the presentation side of the narration slot.
type Speaker interface {
	// Publish pushes a state change.
	Publish(s Snapshot)
	// Speak hands finished text to speech synthesis and reports whether a
	// speech-finished signal carrying s.ID will follow.
	Speak(s Snapshot) bool
	// Silence cancels any speech in progress.
	Silence()
}

type nopSpeaker struct{}

func (nopSpeaker) Publish(Snapshot)    {}
func (nopSpeaker) Speak(Snapshot) bool { return false }
func (nopSpeaker) Silence()            {}
