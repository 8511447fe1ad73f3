// Package voice runs the push-to-talk question loop: capture a transcript,
// ask the guide, show and speak the answer in the narration slot.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"skytour/pkg/config"
	"skytour/pkg/geo"
	"skytour/pkg/model"
)

// Phase is the voice interaction phase.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseListening  Phase = "listening"
	PhaseProcessing Phase = "processing"
	PhaseResponding Phase = "responding"
)

// Permission is the microphone permission reported by the presentation layer.
type Permission string

const (
	PermissionPrompt  Permission = "prompt"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

var (
	ErrUnsupported      = errors.New("speech recognition unsupported")
	ErrPermissionDenied = errors.New("microphone permission denied")
	ErrCaptureFailed    = errors.New("could not start capture")
	ErrNoSpeech         = errors.New("no speech detected")
	ErrAIUnavailable    = errors.New("ai response unavailable")
)

var errorMessages = map[error][2]string{
	ErrUnsupported:      {"이 브라우저에서는 음성 인식을 지원하지 않습니다.", "Speech recognition is not supported in this browser."},
	ErrPermissionDenied: {"마이크 권한이 거부되었습니다. 브라우저 설정에서 허용해주세요.", "Microphone permission denied. Please allow it in browser settings."},
	ErrCaptureFailed:    {"마이크를 시작할 수 없습니다.", "Could not start microphone."},
	ErrNoSpeech:         {"음성이 인식되지 않았습니다. 다시 시도해주세요.", "No speech detected. Please try again."},
	ErrAIUnavailable:    {"AI 응답을 받을 수 없습니다. 다시 시도해주세요.", "Could not get AI response. Please try again."},
}

// Message is the user-facing text for err in lang.
func Message(err error, lang model.Language) string {
	en := lang == model.LangEnglish
	var rl *RateLimitError
	if errors.As(err, &rl) {
		if en {
			return fmt.Sprintf("Please try again in %d seconds", rl.Limit.RetryAfterSeconds)
		}
		return fmt.Sprintf("잠시 후 다시 시도해주세요 (%d초)", rl.Limit.RetryAfterSeconds)
	}
	for target, msgs := range errorMessages {
		if errors.Is(err, target) {
			if en {
				return msgs[1]
			}
			return msgs[0]
		}
	}
	return Message(ErrAIUnavailable, lang)
}

// Capture is speech-to-text in the presentation layer. Results come back
// through Transcript, CaptureEnded and CaptureError.
type Capture interface {
	Start(lang model.Language) error
	Stop()
	Abort()
}

// Slot is the narration slot a voice answer is shown in.
type Slot interface {
	BeginVoice() string
	SetVoiceAnswer(id, text, keyword string, fallback bool) bool
	Speak(id string) bool
	Abort(id string) bool
	End(id string) bool
}

// Traveler is the session state a question is asked with.
type Traveler interface {
	Language() model.Language
	Pilot() model.PilotProfile
}

// Surroundings supplies the flight context of a question.
type Surroundings interface {
	Pose() model.VehiclePose
	POIs() []*model.POI
	ZoneLabel(p geo.Point, lang model.Language) string
}

// Publisher receives every voice state change.
type Publisher interface {
	PublishVoice(Status)
}

// Status is the voice state exposed to the presentation layer.
type Status struct {
	Phase             Phase      `json:"voicePhase"`
	Permission        Permission `json:"micPermission"`
	Supported         bool       `json:"isSupported"`
	Transcript        string     `json:"transcript"`
	Interim           string     `json:"interimTranscript"`
	Response          string     `json:"voiceResponse"`
	HighlightKeyword  string     `json:"voiceHighlightKeyword"`
	RelatedPOI        *string    `json:"voiceRelatedPOI"`
	IsFallback        bool       `json:"isFallback"`
	Error             string     `json:"errorMessage"`
	RetryAfterSeconds int        `json:"retryAfter,omitempty"`
	SlotID            string     `json:"narrationId,omitempty"`
}

type nopCapture struct{}

func (nopCapture) Start(model.Language) error { return ErrUnsupported }
func (nopCapture) Stop()                      {}
func (nopCapture) Abort()                     {}

type nopPublisher struct{}

func (nopPublisher) PublishVoice(Status) {}

// Interaction is the voice state machine. Every timer and async answer
// carries the epoch it was started in and is dropped once the epoch moved on.
type Interaction struct {
	cfg      config.VoiceConfig
	answerer *Answerer
	traveler Traveler
	around   Surroundings
	slot     Slot
	logger   *slog.Logger

	mu        sync.Mutex
	capture   Capture
	publisher Publisher
	status    Status
	epoch     uint64
	listenT   *time.Timer
	silenceT  *time.Timer
	holdT     *time.Timer
	cancel    context.CancelFunc
}

// NewInteraction wires the voice loop. Capture starts unsupported until the
// presentation layer attaches one.
func NewInteraction(cfg config.VoiceConfig, a *Answerer, t Traveler, around Surroundings, slot Slot) *Interaction {
	return &Interaction{
		cfg:       cfg,
		answerer:  a,
		traveler:  t,
		around:    around,
		slot:      slot,
		logger:    slog.With("component", "voice"),
		capture:   nopCapture{},
		publisher: nopPublisher{},
		status:    Status{Phase: PhaseIdle, Permission: PermissionPrompt},
	}
}

// SetPublisher replaces the status sink.
func (v *Interaction) SetPublisher(p Publisher) {
	if p == nil {
		p = nopPublisher{}
	}
	v.mu.Lock()
	v.publisher = p
	v.mu.Unlock()
}

// Attach installs the presentation layer's capture and what it reported
// about recognizer support and microphone permission.
func (v *Interaction) Attach(c Capture, supported bool, perm Permission) {
	v.mu.Lock()
	if c == nil {
		c, supported = nopCapture{}, false
	}
	v.capture = c
	v.status.Supported = supported
	if perm != "" {
		v.status.Permission = perm
	}
	st, pub := v.status, v.publisher
	v.mu.Unlock()
	pub.PublishVoice(st)
}

// Status returns the current voice state.
func (v *Interaction) Status() Status {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.status
}

// Toggle is the push-to-talk button: idle starts listening, listening stops
// capture and asks, responding cuts the answer short. Toggling while
// processing does nothing.
func (v *Interaction) Toggle() (Status, error) {
	v.mu.Lock()
	var err error
	switch v.status.Phase {
	case PhaseIdle:
		err = v.startLocked()
	case PhaseListening:
		v.capture.Stop()
		v.finishCaptureLocked()
	case PhaseResponding:
		id := v.status.SlotID
		v.resetLocked()
		v.slot.Abort(id)
	}
	st, pub := v.status, v.publisher
	v.mu.Unlock()

	pub.PublishVoice(st)
	return st, err
}

func (v *Interaction) startLocked() error {
	lang := v.traveler.Language()
	if !v.status.Supported {
		v.failLocked(ErrUnsupported, lang)
		return ErrUnsupported
	}
	if v.status.Permission == PermissionDenied {
		v.failLocked(ErrPermissionDenied, lang)
		return ErrPermissionDenied
	}

	v.epoch++
	v.status = Status{
		Phase:      PhaseListening,
		Permission: v.status.Permission,
		Supported:  true,
		SlotID:     v.slot.BeginVoice(),
	}

	if err := v.capture.Start(lang); err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			v.status.Permission = PermissionDenied
		} else {
			err = fmt.Errorf("%w: %v", ErrCaptureFailed, err)
		}
		v.logger.Warn("Voice capture failed to start", "error", err)
		v.failLocked(err, lang)
		return err
	}
	v.status.Permission = PermissionGranted

	epoch := v.epoch
	v.listenT = time.AfterFunc(v.cfg.MaxListen.Std(), func() { v.stopCapture(epoch) })
	v.logger.Info("Voice listening started", "narration", v.status.SlotID)
	return nil
}

// Transcript feeds a recognition result. Final results replace the
// transcript; interim ones only update the preview. Either kind restarts the
// silence timer.
func (v *Interaction) Transcript(text string, final bool) {
	v.mu.Lock()
	if v.status.Phase != PhaseListening {
		v.mu.Unlock()
		return
	}
	if final {
		v.status.Transcript = text
		v.status.Interim = ""
	} else {
		v.status.Interim = text
	}
	if v.silenceT != nil {
		v.silenceT.Stop()
	}
	epoch := v.epoch
	v.silenceT = time.AfterFunc(v.cfg.SilenceTimeout.Std(), func() { v.stopCapture(epoch) })
	st, pub := v.status, v.publisher
	v.mu.Unlock()

	pub.PublishVoice(st)
}

// CaptureEnded is the recognizer's end signal.
func (v *Interaction) CaptureEnded() {
	v.mu.Lock()
	if v.status.Phase != PhaseListening {
		v.mu.Unlock()
		return
	}
	v.finishCaptureLocked()
	st, pub := v.status, v.publisher
	v.mu.Unlock()
	pub.PublishVoice(st)
}

// CaptureError handles a recognizer error code. Only a permission refusal
// stops the interaction; no-speech and aborted are expected in continuous
// capture.
func (v *Interaction) CaptureError(code string) {
	v.mu.Lock()
	switch code {
	case "not-allowed", "service-not-allowed":
		v.status.Permission = PermissionDenied
		v.capture.Abort()
		v.failLocked(ErrPermissionDenied, v.traveler.Language())
	case "no-speech", "aborted":
		v.mu.Unlock()
		return
	default:
		v.logger.Warn("Speech recognition error", "code", code)
		v.mu.Unlock()
		return
	}
	st, pub := v.status, v.publisher
	v.mu.Unlock()
	pub.PublishVoice(st)
}

func (v *Interaction) stopCapture(epoch uint64) {
	v.mu.Lock()
	if epoch != v.epoch || v.status.Phase != PhaseListening {
		v.mu.Unlock()
		return
	}
	v.capture.Stop()
	v.finishCaptureLocked()
	st, pub := v.status, v.publisher
	v.mu.Unlock()
	pub.PublishVoice(st)
}

func (v *Interaction) finishCaptureLocked() {
	v.stopTimersLocked()
	lang := v.traveler.Language()

	text := strings.TrimSpace(v.status.Transcript)
	if text == "" {
		text = strings.TrimSpace(v.status.Interim)
	}
	if text == "" {
		v.failLocked(ErrNoSpeech, lang)
		return
	}

	v.status.Phase = PhaseProcessing
	v.status.Transcript = text
	v.status.Interim = ""

	pose := v.around.Pose()
	q := Question{
		Text:   text,
		Pose:   pose,
		Lang:   lang,
		Pilot:  v.traveler.Pilot(),
		Zone:   v.around.ZoneLabel(geo.PoseToPoint(pose), lang),
		Nearby: FindNearby(pose, v.around.POIs(), v.cfg.NearbyRadius.Meters(), v.cfg.NearbyLimit),
	}
	ctx, cancel := context.WithCancel(context.Background())
	v.cancel = cancel
	v.logger.Info("Voice question", "question", text, "nearby", len(q.Nearby), "zone", q.Zone)
	go v.ask(ctx, v.epoch, v.status.SlotID, q)
}

func (v *Interaction) ask(ctx context.Context, epoch uint64, slotID string, q Question) {
	ans, err := v.answerer.Answer(ctx, q)
	if errors.Is(err, context.Canceled) {
		return
	}

	v.mu.Lock()
	if epoch != v.epoch || v.status.Phase != PhaseProcessing {
		v.mu.Unlock()
		return
	}
	v.cancel = nil

	if err != nil {
		var rl *RateLimitError
		if errors.As(err, &rl) {
			v.logger.Warn("Voice question rate limited", "retry_after", rl.Limit.RetryAfterSeconds)
		} else {
			v.logger.Error("Voice question failed", "error", err)
			err = ErrAIUnavailable
		}
		v.failLocked(err, q.Lang)
		if rl != nil {
			v.status.RetryAfterSeconds = rl.Limit.RetryAfterSeconds
		}
		st, pub := v.status, v.publisher
		v.mu.Unlock()
		pub.PublishVoice(st)
		return
	}

	v.status.Phase = PhaseResponding
	v.status.Response = ans.Text
	v.status.HighlightKeyword = ans.HighlightKeyword
	v.status.RelatedPOI = ans.RelatedPOI
	v.status.IsFallback = ans.IsFallback
	st, pub := v.status, v.publisher
	v.mu.Unlock()

	pub.PublishVoice(st)
	v.slot.SetVoiceAnswer(slotID, ans.Text, ans.HighlightKeyword, ans.IsFallback)
	if !v.slot.Speak(slotID) {
		v.hold(epoch, v.cfg.SpeechTimeout.Std())
	}
}

// SpeechFinished handles the end-of-speech signal for narration id. It
// reports whether id belonged to a voice answer.
func (v *Interaction) SpeechFinished(id string) bool {
	v.mu.Lock()
	ours := id != "" && id == v.status.SlotID && v.status.Phase == PhaseResponding
	epoch := v.epoch
	v.mu.Unlock()
	if ours {
		v.hold(epoch, v.cfg.ResponseHold.Std())
	}
	return ours
}

// SpeechFailed is the speech synthesis error signal. The answer stays on
// screen for the TTS-less duration.
func (v *Interaction) SpeechFailed(id string) bool {
	v.mu.Lock()
	ours := id != "" && id == v.status.SlotID && v.status.Phase == PhaseResponding
	epoch := v.epoch
	v.mu.Unlock()
	if ours {
		v.hold(epoch, v.cfg.SpeechTimeout.Std())
	}
	return ours
}

// hold keeps the answer up for d, then returns to idle and frees the slot.
func (v *Interaction) hold(epoch uint64, d time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if epoch != v.epoch {
		return
	}
	if v.holdT != nil {
		v.holdT.Stop()
	}
	v.holdT = time.AfterFunc(d, func() {
		v.mu.Lock()
		if epoch != v.epoch {
			v.mu.Unlock()
			return
		}
		id := v.status.SlotID
		v.resetLocked()
		st, pub := v.status, v.publisher
		v.mu.Unlock()

		v.slot.End(id)
		pub.PublishVoice(st)
	})
}

// Reset abandons any interaction in progress.
func (v *Interaction) Reset() {
	v.mu.Lock()
	if v.status.Phase == PhaseListening {
		v.capture.Abort()
	}
	id := v.status.SlotID
	v.resetLocked()
	st, pub := v.status, v.publisher
	v.mu.Unlock()

	if id != "" {
		v.slot.Abort(id)
	}
	pub.PublishVoice(st)
}

func (v *Interaction) stopTimersLocked() {
	for _, t := range []*time.Timer{v.listenT, v.silenceT, v.holdT} {
		if t != nil {
			t.Stop()
		}
	}
	v.listenT, v.silenceT, v.holdT = nil, nil, nil
}

// resetLocked returns to idle keeping capability and permission.
func (v *Interaction) resetLocked() {
	v.stopTimersLocked()
	if v.cancel != nil {
		v.cancel()
		v.cancel = nil
	}
	v.epoch++
	v.status = Status{Phase: PhaseIdle, Permission: v.status.Permission, Supported: v.status.Supported}
}

// failLocked returns to idle showing err and frees the slot.
func (v *Interaction) failLocked(err error, lang model.Language) {
	id := v.status.SlotID
	v.resetLocked()
	v.status.Error = Message(err, lang)
	if id != "" {
		v.slot.End(id)
	}
}
