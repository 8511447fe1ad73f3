// Package narrator owns the single narration slot: which POI is being
// narrated, the queue of POIs waiting for it, and the short history fed back
// into prompts.
package narrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"skytour/pkg/config"
	"skytour/pkg/geo"
	"skytour/pkg/logging"
	"skytour/pkg/model"
	"skytour/pkg/playback"
)

// ErrBusy is returned when the slot is already taken.
var ErrBusy = errors.New("narrator is busy")

// State is the slot state.
type State string

const (
	StateIdle      State = "idle"
	StateNarrating State = "narrating"
)

// Kind tells ambient POI narrations from voice answers.
type Kind string

const (
	KindPOI   Kind = "poi"
	KindVoice Kind = "voice"
)

// VoicePOI stands in for the target while a voice answer holds the slot.
var VoicePOI = &model.POI{ID: "voice", Name: "음성 대화", NameEn: "Voice Chat", Category: model.CatLandmark}

// Snapshot is an immutable view of the slot for the presentation layer.
type Snapshot struct {
	ID               string             `json:"id,omitempty"`
	State            State              `json:"state"`
	Kind             Kind               `json:"kind,omitempty"`
	POI              *model.POI         `json:"poi,omitempty"`
	Trigger          model.TriggerPhase `json:"trigger,omitempty"`
	DistanceM        float64            `json:"distance_m,omitempty"`
	BearingDeg       float64            `json:"bearing,omitempty"`
	Text             string             `json:"narrationText"`
	HighlightKeyword string             `json:"highlightKeyword"`
	DisplayImage     string             `json:"displayImage"`
	Lang             model.Language     `json:"language,omitempty"`
	IsFallback       bool               `json:"isFallback"`
	IsActive         bool               `json:"isActive"`
	StartedAt        time.Time          `json:"startedAt,omitzero"`
	LastNarrationAt  time.Time          `json:"lastNarrationAt,omitzero"`
	Queue            []string           `json:"queue"`
}

type slot struct {
	id        string
	kind      Kind
	visible   model.VisiblePOI
	lang      model.Language
	text      string
	keyword   string
	fallback  bool
	startedAt time.Time
	cancel    context.CancelFunc
	endTimer  *time.Timer
}

// Service is the narration scheduler. All state changes happen under mu;
// AI calls and speaker callbacks run outside it.
type Service struct {
	cfg     config.NarratorConfig
	gen     *Generator
	session Session
	pose    PoseSource
	zones   ZoneLabeler
	speaker Speaker
	queue   *playback.Manager
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	enabled  bool
	current  *slot
	history  []model.HistoryEntry
	lastEnd  time.Time
	replay   *time.Timer
	finished int
}

// NewService wires the scheduler. zones and speaker may be nil.
func NewService(cfg config.NarratorConfig, gen *Generator, sess Session, pose PoseSource, zones ZoneLabeler, speaker Speaker) *Service {
	if speaker == nil {
		speaker = nopSpeaker{}
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 3
	}
	return &Service{
		cfg:     cfg,
		gen:     gen,
		session: sess,
		pose:    pose,
		zones:   zones,
		speaker: speaker,
		queue:   playback.NewManager(),
		logger:  slog.With("component", "narrator"),
		now:     time.Now,
		enabled: true,
	}
}

// SetSpeaker replaces the presentation hook.
func (s *Service) SetSpeaker(sp Speaker) {
	if sp == nil {
		sp = nopSpeaker{}
	}
	s.mu.Lock()
	s.speaker = sp
	s.mu.Unlock()
}

// SetEnabled gates new narrations. A disabled scheduler lets the current
// narration finish but starts nothing, including queued POIs.
func (s *Service) SetEnabled(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = on
	if !on && s.replay != nil {
		s.replay.Stop()
		s.replay = nil
	}
}

// CanNarrate is true when idle and the cooldown since the last narration has
// elapsed.
func (s *Service) CanNarrate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canNarrateLocked()
}

func (s *Service) canNarrateLocked() bool {
	if !s.enabled || s.current != nil {
		return false
	}
	return s.lastEnd.IsZero() || s.now().Sub(s.lastEnd) >= s.cfg.Cooldown.Std()
}

// IsNarrating reports whether the slot is taken.
func (s *Service) IsNarrating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// CurrentPOIID returns the id of the POI being narrated, or "".
func (s *Service) CurrentPOIID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ""
	}
	return s.current.visible.POI.ID
}

// Start claims the slot for v and requests its narration in the background.
func (s *Service) Start(v model.VisiblePOI) error {
	if v.POI == nil {
		return ErrInvalidRequest
	}

	s.mu.Lock()
	if s.current != nil {
		s.mu.Unlock()
		return ErrBusy
	}
	ctx, req, snap := s.beginLocked(v)
	speaker := s.speaker
	s.mu.Unlock()

	s.announceStart(speaker, snap)
	go s.narrate(ctx, snap.ID, v, req)
	return nil
}

// beginLocked fills the slot for v and returns the call context, the prompt
// request and the resulting snapshot.
func (s *Service) beginLocked(v model.VisiblePOI) (context.Context, Request, Snapshot) {
	ctx, cancel := context.WithCancel(context.Background())
	lang := s.session.Language()
	s.current = &slot{
		id:        uuid.NewString(),
		kind:      KindPOI,
		visible:   v,
		lang:      lang,
		startedAt: s.now(),
		cancel:    cancel,
	}
	s.queue.Remove(v.POI.ID)

	pose := s.pose.Pose()
	req := Request{
		POI:         v.POI,
		DistanceM:   v.DistanceM,
		BearingDeg:  v.BearingDeg,
		Trigger:     v.Trigger,
		Pose:        pose,
		Lang:        lang,
		Pilot:       s.session.Pilot(),
		Preferences: s.session.Preferences(),
		History:     s.recentLocked(s.cfg.HistorySize),
		Now:         s.now(),
	}
	if s.zones != nil {
		req.Zone = s.zones.ZoneLabel(geo.PoseToPoint(pose), lang)
	}
	return ctx, req, s.snapshotLocked()
}

func (s *Service) announceStart(speaker Speaker, snap Snapshot) {
	s.logger.Info("Narration started", "poi", snap.POI.ID, "trigger", snap.Trigger, "distance", int(snap.DistanceM))
	logging.Narration("start", snap.POI.ID, "id", snap.ID, "trigger", snap.Trigger, "distance_m", int(snap.DistanceM))
	speaker.Publish(snap)
}

func (s *Service) narrate(ctx context.Context, id string, v model.VisiblePOI, req Request) {
	res := s.gen.Narrate(ctx, req)
	if res.Reason == ReasonCancelled {
		return
	}

	s.mu.Lock()
	if s.current == nil || s.current.id != id {
		s.mu.Unlock()
		return
	}
	s.current.text = res.Text
	s.current.keyword = res.HighlightKeyword
	s.current.fallback = res.IsFallback
	snap := s.snapshotLocked()
	speaker := s.speaker
	s.mu.Unlock()

	s.session.RecordNarration(v, res.Text, res.IsFallback)

	if res.IsFallback {
		s.logger.Warn("Using fallback narration", "poi", v.POI.ID, "reason", res.Reason)
		logging.Narration("fallback", v.POI.ID, "id", id, "reason", res.Reason, "text", res.Text)
	} else {
		logging.Narration("text", v.POI.ID, "id", id, "keyword", res.HighlightKeyword, "text", res.Text)
	}

	speaker.Publish(snap)
	timeout := s.cfg.SpeechTimeout.Std()
	if speaker.Speak(snap) {
		timeout = s.cfg.MaxSpeechDuration.Std()
	}
	s.armEnd(id, timeout)
}

// armEnd ends narration id after d unless it ended already.
func (s *Service) armEnd(id string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || s.current.id != id {
		return
	}
	if s.current.endTimer != nil {
		s.current.endTimer.Stop()
	}
	s.current.endTimer = time.AfterFunc(d, func() {
		if s.End(id) {
			s.logger.Debug("Narration ended by timeout", "id", id)
		}
	})
}

// End finishes the narration with the given id, or whatever holds the slot
// when id is empty. A finished narration with text is appended to history.
// When POIs are queued the next one starts after the replay delay. It reports
// whether anything was ended.
func (s *Service) End(id string) bool {
	s.mu.Lock()
	cur := s.current
	if cur == nil || (id != "" && cur.id != id) {
		s.mu.Unlock()
		return false
	}
	s.finishLocked(cur)
	s.scheduleReplayLocked()
	snap := s.snapshotLocked()
	speaker := s.speaker
	s.mu.Unlock()

	logging.Narration("end", cur.visible.POI.ID, "id", cur.id, "kind", cur.kind)
	speaker.Publish(snap)
	return true
}

// SpeechFinished is the presentation layer's end-of-speech signal.
func (s *Service) SpeechFinished(id string) bool {
	if id == "" {
		return false
	}
	return s.End(id)
}

func (s *Service) finishLocked(cur *slot) {
	if cur.endTimer != nil {
		cur.endTimer.Stop()
	}
	cur.cancel()

	if cur.text != "" {
		s.history = append(s.history, model.HistoryEntry{
			POIID:     cur.visible.POI.ID,
			POIName:   cur.visible.POI.Name,
			Text:      cur.text,
			Trigger:   cur.visible.Trigger,
			Timestamp: s.now(),
		})
		if over := len(s.history) - s.cfg.HistorySize; over > 0 {
			s.history = append([]model.HistoryEntry(nil), s.history[over:]...)
		}
		s.finished++
	}
	s.current = nil
	s.lastEnd = s.now()
}

func (s *Service) scheduleReplayLocked() {
	if !s.enabled || s.replay != nil || s.queue.Count() == 0 {
		return
	}
	s.replay = time.AfterFunc(s.cfg.ReplayDelay.Std(), s.replayNext)
}

// replayNext starts the head of the queue as an approaching POI, bypassing
// the cooldown. If the slot was taken in the meantime the queue is left as is.
func (s *Service) replayNext() {
	s.mu.Lock()
	s.replay = nil
	if !s.enabled || s.current != nil {
		s.mu.Unlock()
		return
	}

	var next *model.POI
	for next == nil {
		p := s.queue.Pop()
		if p == nil {
			s.mu.Unlock()
			return
		}
		if !s.session.IsVisited(p.ID) {
			next = p
		}
	}

	pose := geo.PoseToPoint(s.pose.Pose())
	target := geo.POIToPoint(next)
	v := model.VisiblePOI{
		POI:        next,
		DistanceM:  geo.Distance(pose, target),
		BearingDeg: geo.Bearing(pose, target),
		Trigger:    model.Approaching,
	}
	ctx, req, snap := s.beginLocked(v)
	speaker := s.speaker
	s.mu.Unlock()

	s.announceStart(speaker, snap)
	go s.narrate(ctx, snap.ID, v, req)
}

// Enqueue appends p to the queue unless it is queued already or being
// narrated.
func (s *Service) Enqueue(p *model.POI) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && s.current.visible.POI.ID == p.ID {
		return false
	}
	return s.queue.Enqueue(p)
}

// BeginVoice ends any ambient narration, silences speech and claims the slot
// for a voice answer. It returns the slot id.
func (s *Service) BeginVoice() string {
	s.mu.Lock()
	var ended *slot
	if s.current != nil {
		ended = s.current
		s.finishLocked(ended)
	}
	s.current = &slot{
		id:        uuid.NewString(),
		kind:      KindVoice,
		visible:   model.VisiblePOI{POI: VoicePOI, Trigger: model.Passing},
		lang:      s.session.Language(),
		startedAt: s.now(),
		cancel:    func() {},
	}
	snap := s.snapshotLocked()
	speaker := s.speaker
	s.mu.Unlock()

	if ended != nil {
		logging.Narration("end", ended.visible.POI.ID, "id", ended.id, "kind", ended.kind, "preempted", true)
	}
	speaker.Silence()
	speaker.Publish(snap)
	return snap.ID
}

// SetVoiceAnswer shows a voice answer in slot id.
func (s *Service) SetVoiceAnswer(id, text, keyword string, fallback bool) bool {
	s.mu.Lock()
	if s.current == nil || s.current.id != id || s.current.kind != KindVoice {
		s.mu.Unlock()
		return false
	}
	s.current.text = text
	s.current.keyword = keyword
	s.current.fallback = fallback
	snap := s.snapshotLocked()
	speaker := s.speaker
	s.mu.Unlock()

	logging.Narration("voice", VoicePOI.ID, "id", id, "fallback", fallback, "text", text)
	speaker.Publish(snap)
	return true
}

// Speak forwards slot id to the speaker if it still holds the slot.
func (s *Service) Speak(id string) bool {
	s.mu.Lock()
	if s.current == nil || s.current.id != id {
		s.mu.Unlock()
		return false
	}
	snap := s.snapshotLocked()
	speaker := s.speaker
	s.mu.Unlock()
	return speaker.Speak(snap)
}

// Abort silences speech and ends narration id if it still holds the slot.
func (s *Service) Abort(id string) bool {
	s.mu.Lock()
	if s.current == nil || s.current.id != id {
		s.mu.Unlock()
		return false
	}
	speaker := s.speaker
	s.mu.Unlock()
	speaker.Silence()
	return s.End(id)
}

// Interrupt silences speech and ends whatever holds the slot.
func (s *Service) Interrupt() bool {
	s.mu.Lock()
	speaker := s.speaker
	s.mu.Unlock()
	speaker.Silence()
	return s.End("")
}

// Reset clears the slot, queue, history and cooldown.
func (s *Service) Reset() {
	s.mu.Lock()
	if s.current != nil {
		if s.current.endTimer != nil {
			s.current.endTimer.Stop()
		}
		s.current.cancel()
		s.current = nil
	}
	if s.replay != nil {
		s.replay.Stop()
		s.replay = nil
	}
	s.queue.Clear()
	s.history = nil
	s.lastEnd = time.Time{}
	s.finished = 0
	snap := s.snapshotLocked()
	speaker := s.speaker
	s.mu.Unlock()

	speaker.Silence()
	speaker.Publish(snap)
}

// Snapshot returns the current slot state.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Service) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:           StateIdle,
		LastNarrationAt: s.lastEnd,
		Queue:           s.queue.IDs(),
	}
	if cur := s.current; cur != nil {
		snap.ID = cur.id
		snap.State = StateNarrating
		snap.Kind = cur.kind
		snap.POI = cur.visible.POI
		snap.Trigger = cur.visible.Trigger
		snap.DistanceM = cur.visible.DistanceM
		snap.BearingDeg = cur.visible.BearingDeg
		snap.Text = cur.text
		snap.HighlightKeyword = cur.keyword
		snap.DisplayImage = cur.visible.POI.PrimaryImage()
		snap.Lang = cur.lang
		snap.IsFallback = cur.fallback
		snap.IsActive = true
		snap.StartedAt = cur.startedAt
	}
	return snap
}

// History returns up to n of the most recent entries, oldest first.
func (s *Service) History(n int) []model.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recentLocked(n)
}

func (s *Service) recentLocked(n int) []model.HistoryEntry {
	if n <= 0 || n > len(s.history) {
		n = len(s.history)
	}
	out := make([]model.HistoryEntry, n)
	copy(out, s.history[len(s.history)-n:])
	return out
}

// Stats returns scheduler counters.
func (s *Service) Stats() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := StateIdle
	if s.current != nil {
		state = StateNarrating
	}
	return map[string]any{
		"state":             state,
		"queue_length":      s.queue.Count(),
		"history_length":    len(s.history),
		"finished":          s.finished,
		"can_narrate":       s.canNarrateLocked(),
		"last_narration_at": s.lastEnd,
	}
}
