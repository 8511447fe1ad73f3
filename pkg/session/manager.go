// Package session holds the state of one tour: phase, traveler profile,
// visited POIs and the guide log.
package session

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"skytour/pkg/model"
)

// Phase is the game phase.
type Phase string

const (
	PhaseLoading    Phase = "loading"
	PhaseOnboarding Phase = "onboarding"
	PhaseTakeoff    Phase = "takeoff"
	PhaseFlying     Phase = "flying"
	PhaseLanding    Phase = "landing"
	PhaseResult     Phase = "result"
)

// DefaultCallsign is used when onboarding leaves the callsign blank.
const DefaultCallsign = "PILOT"

// ErrUnknownPhase is returned for phase names outside the game flow.
var ErrUnknownPhase = errors.New("unknown game phase")

// ParsePhase validates a phase name.
func ParsePhase(s string) (Phase, error) {
	switch p := Phase(strings.ToLower(strings.TrimSpace(s))); p {
	case PhaseLoading, PhaseOnboarding, PhaseTakeoff, PhaseFlying, PhaseLanding, PhaseResult:
		return p, nil
	}
	return "", ErrUnknownPhase
}

// IsFlying reports whether the flight loops run in p.
func (p Phase) IsFlying() bool {
	return p == PhaseFlying || p == PhaseTakeoff
}

// Profile is what onboarding collects.
type Profile struct {
	Language    model.Language     `json:"language"`
	Preferences []model.Category   `json:"preferences"`
	Pilot       model.PilotProfile `json:"pilotProfile"`
}

func (p Profile) normalized() Profile {
	p.Language = model.ParseLanguage(string(p.Language))
	p.Pilot.Callsign = strings.TrimSpace(p.Pilot.Callsign)
	if p.Pilot.Callsign == "" {
		p.Pilot.Callsign = DefaultCallsign
	}
	switch p.Pilot.Experience {
	case model.Beginner, model.Intermediate, model.Veteran:
	default:
		p.Pilot.Experience = model.Beginner
	}
	seen := make(map[model.Category]bool, len(p.Preferences))
	prefs := make([]model.Category, 0, len(p.Preferences))
	for _, c := range p.Preferences {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		prefs = append(prefs, c)
	}
	p.Preferences = prefs
	return p
}

// LogEntry is one narration in the guide log. Entries form a chain through
// PreviousID.
type LogEntry struct {
	ID          string             `json:"id"`
	POIID       string             `json:"poiId"`
	POIName     string             `json:"poiName"`
	Trigger     model.TriggerPhase `json:"trigger"`
	Text        string             `json:"text"`
	DistanceM   float64            `json:"distance"`
	BearingDeg  float64            `json:"bearing"`
	Fallback    bool               `json:"isFallback"`
	TriggeredAt time.Time          `json:"triggeredAt"`
	Sequence    int                `json:"sequence"`
	PreviousID  string             `json:"previousId,omitempty"`
}

// Flight is the flown path and totals a Result is built from.
type Flight struct {
	DistanceKm   float64
	MaxAltitudeM float64
	MaxSpeedKmh  float64
	Trail        []model.TrailPoint
}

// Result is the end-of-flight summary.
type Result struct {
	SessionID       string             `json:"sessionId"`
	Callsign        string             `json:"callsign"`
	TotalFlightTime float64            `json:"totalFlightTime"` // seconds
	TotalDistanceKm float64            `json:"totalDistanceKm"`
	MaxAltitude     float64            `json:"maxAltitude"`
	MaxSpeed        float64            `json:"maxSpeed"`
	VisitedPOIs     []string           `json:"visitedPOIs"`
	TotalNarrations int                `json:"totalNarrations"`
	Trail           []model.TrailPoint `json:"trail"`
	GuideLog        []LogEntry         `json:"guideLog"`
	StartedAt       time.Time          `json:"startedAt"`
	EndedAt         time.Time          `json:"endedAt,omitzero"`
}

// Snapshot is the session state exposed to the presentation layer.
type Snapshot struct {
	ID              string    `json:"sessionId"`
	Phase           Phase     `json:"gamePhase"`
	Profile         Profile   `json:"profile"`
	VisitedPOIs     []string  `json:"visitedPOIIds"`
	TotalNarrations int       `json:"totalNarrations"`
	StartedAt       time.Time `json:"startedAt,omitzero"`
	ElapsedSeconds  int       `json:"elapsedSeconds"`
}

// Manager is the single tour session. It is safe for concurrent use.
type Manager struct {
	mu            sync.RWMutex
	id            string
	phase         Phase
	profile       Profile
	visited       map[string]bool
	visitedOrder  []string
	narratedCount int
	startedAt     time.Time
	endedAt       time.Time
	log           []LogEntry
	now           func() time.Time
}

// NewManager creates a session in the loading phase with the default profile.
func NewManager() *Manager {
	m := &Manager{now: time.Now}
	m.resetLocked(Profile{})
	m.phase = PhaseLoading
	return m
}

func (m *Manager) resetLocked(p Profile) {
	m.id = uuid.NewString()
	m.phase = PhaseOnboarding
	m.profile = p.normalized()
	m.visited = make(map[string]bool)
	m.visitedOrder = nil
	m.narratedCount = 0
	m.startedAt = time.Time{}
	m.endedAt = time.Time{}
	m.log = nil
}

// Begin starts a new session for p. Everything from the previous session is
// dropped.
func (m *Manager) Begin(p Profile) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked(p)
	slog.Info("Session started", "session", m.id, "callsign", m.profile.Pilot.Callsign, "language", m.profile.Language)
	return m.snapshotLocked()
}

// Reset is Begin with the current profile.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked(m.profile)
}

// SetPhase moves to next and returns the phase it left. Entering a flying
// phase starts the flight clock once; entering result stops it.
func (m *Manager) SetPhase(next Phase) (Phase, error) {
	next, err := ParsePhase(string(next))
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.phase
	m.phase = next
	switch {
	case next.IsFlying() && m.startedAt.IsZero():
		m.startedAt = m.now()
	case next == PhaseResult && m.endedAt.IsZero() && !m.startedAt.IsZero():
		m.endedAt = m.now()
	}
	if prev != next {
		slog.Info("Game phase changed", "session", m.id, "from", prev, "to", next)
	}
	return prev, nil
}

// Phase returns the current phase.
func (m *Manager) Phase() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.phase
}

// ID returns the session id.
func (m *Manager) ID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.id
}

// Profile returns the traveler profile.
func (m *Manager) Profile() Profile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p := m.profile
	p.Preferences = append([]model.Category(nil), p.Preferences...)
	return p
}

// SetLanguage switches the narration language mid-flight.
func (m *Manager) SetLanguage(lang model.Language) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profile.Language = model.ParseLanguage(string(lang))
}

func (m *Manager) Language() model.Language {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.profile.Language
}

func (m *Manager) Pilot() model.PilotProfile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.profile.Pilot
}

func (m *Manager) Preferences() []model.Category {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.Category(nil), m.profile.Preferences...)
}

// IsVisited reports whether id was narrated in this session.
func (m *Manager) IsVisited(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.visited[id]
}

// MarkVisited adds id to the visited set without logging a narration.
func (m *Manager) MarkVisited(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markLocked(id)
}

func (m *Manager) markLocked(id string) bool {
	if m.visited[id] {
		return false
	}
	m.visited[id] = true
	m.visitedOrder = append(m.visitedOrder, id)
	return true
}

// RecordNarration marks the POI visited, counts the narration and appends it
// to the guide log.
func (m *Manager) RecordNarration(v model.VisiblePOI, text string, fallback bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.markLocked(v.POI.ID)
	m.narratedCount++

	e := LogEntry{
		ID:          uuid.NewString(),
		POIID:       v.POI.ID,
		POIName:     v.POI.DisplayName(m.profile.Language),
		Trigger:     v.Trigger,
		Text:        text,
		DistanceM:   v.DistanceM,
		BearingDeg:  v.BearingDeg,
		Fallback:    fallback,
		TriggeredAt: m.now(),
		Sequence:    len(m.log) + 1,
	}
	if n := len(m.log); n > 0 {
		e.PreviousID = m.log[n-1].ID
	}
	m.log = append(m.log, e)
}

// NarratedCount returns the number of narrations recorded.
func (m *Manager) NarratedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.narratedCount
}

// VisitedIDs returns visited POI ids in visit order.
func (m *Manager) VisitedIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string{}, m.visitedOrder...)
}

// GuideLog returns a copy of the guide log.
func (m *Manager) GuideLog() []LogEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]LogEntry{}, m.log...)
}

// Snapshot returns the current session state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() Snapshot {
	s := Snapshot{
		ID:              m.id,
		Phase:           m.phase,
		Profile:         m.profile,
		VisitedPOIs:     append([]string{}, m.visitedOrder...),
		TotalNarrations: m.narratedCount,
		StartedAt:       m.startedAt,
	}
	s.Profile.Preferences = append([]model.Category{}, m.profile.Preferences...)
	s.ElapsedSeconds = int(m.elapsedLocked().Seconds())
	return s
}

func (m *Manager) elapsedLocked() time.Duration {
	switch {
	case m.startedAt.IsZero():
		return 0
	case !m.endedAt.IsZero():
		return m.endedAt.Sub(m.startedAt)
	default:
		return m.now().Sub(m.startedAt)
	}
}

// Result summarizes the session together with the flown path.
func (m *Manager) Result(f Flight) Result {
	m.mu.RLock()
	defer m.mu.RUnlock()

	trail := f.Trail
	if trail == nil {
		trail = []model.TrailPoint{}
	}
	return Result{
		SessionID:       m.id,
		Callsign:        m.profile.Pilot.Callsign,
		TotalFlightTime: m.elapsedLocked().Seconds(),
		TotalDistanceKm: f.DistanceKm,
		MaxAltitude:     f.MaxAltitudeM,
		MaxSpeed:        f.MaxSpeedKmh,
		VisitedPOIs:     append([]string{}, m.visitedOrder...),
		TotalNarrations: m.narratedCount,
		Trail:           trail,
		GuideLog:        append([]LogEntry{}, m.log...),
		StartedAt:       m.startedAt,
		EndedAt:         m.endedAt,
	}
}
