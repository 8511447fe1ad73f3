package core

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"skytour/pkg/catalog"
	"skytour/pkg/config"
	"skytour/pkg/geo"
	"skytour/pkg/logging"
	"skytour/pkg/model"
	"skytour/pkg/narrator"
	"skytour/pkg/poi"
	"skytour/pkg/ratelimit"
	"skytour/pkg/session"
	"skytour/pkg/sim"
	"skytour/pkg/voice"
)

// zoneRefreshM is how far the vehicle flies between zone lookups.
const zoneRefreshM = 250

// Telemetry is the periodic pose broadcast.
type Telemetry struct {
	Pose       model.VehiclePose `json:"pose"`
	Zone       string            `json:"zone"`
	AutoCruise bool              `json:"autoCruise"`
	Phase      session.Phase     `json:"gamePhase"`
	Stats      sim.FlightStats   `json:"stats"`
	Timestamp  time.Time         `json:"timestamp"`
}

// TelemetrySink consumes the pose broadcast.
type TelemetrySink interface {
	PublishTelemetry(t Telemetry)
}

// Deps are the long-lived services a Tour ties together.
type Deps struct {
	Sim       *sim.Simulator
	Catalog   *catalog.Catalog
	Session   *session.Manager
	Generator *narrator.Generator
	Answerer  *voice.Answerer
	Limiter   *ratelimit.Limiter
}

// Tour wires the flight, detection, narration and voice loops to the game
// phase. The loops run only while the session is flying.
type Tour struct {
	cfg      *config.Config
	sim      *sim.Simulator
	catalog  *catalog.Catalog
	session  *session.Manager
	narrator *narrator.Service
	voice    *voice.Interaction
	detector *poi.Detector
	limiter  *ratelimit.Limiter
	sched    *Scheduler
	baseCtx  context.Context

	phaseMu sync.Mutex

	mu   sync.RWMutex
	sink TelemetrySink
	zone string
}

// NewTour builds the tour services. Loops are started by SetPhase; ctx
// bounds them.
func NewTour(ctx context.Context, cfg *config.Config, d Deps) *Tour {
	t := &Tour{
		cfg:      cfg,
		sim:      d.Sim,
		catalog:  d.Catalog,
		session:  d.Session,
		limiter:  d.Limiter,
		detector: poi.NewDetector(cfg.Detector, cfg.Narrator.RunnersUp, d.Catalog.POIs()),
		baseCtx:  ctx,
	}
	t.narrator = narrator.NewService(cfg.Narrator, d.Generator, d.Session, d.Sim, d.Catalog, nil)
	t.narrator.SetEnabled(false)
	t.voice = voice.NewInteraction(cfg.Voice, d.Answerer, d.Session, t, t.narrator)

	t.sched = NewScheduler(cfg.Loops.FrameInterval.Std(), d.Sim)
	t.sched.AddJob(NewTimeJob("detector", cfg.Detector.Interval.Std(), t.detect))
	t.sched.AddJob(NewTimeJob("trail", cfg.Loops.TrailInterval.Std(), func(_ context.Context, tk Tick) {
		t.sim.RecordTrail(tk.Now)
	}))
	t.sched.AddJob(NewDistanceJob("zone", zoneRefreshM, func(_ context.Context, tk Tick) {
		t.refreshZone(tk.Pose)
	}))
	t.sched.AddJob(NewTimeJob("telemetry", cfg.Loops.PoseBroadcastInterval.Std(), func(_ context.Context, tk Tick) {
		t.broadcast(tk.Now)
	}))
	t.sched.AddJob(NewTimeJob("housekeeping", cfg.RateLimits.HousekeepingInterval.Std(), func(context.Context, Tick) {
		keys := t.limiter.Housekeep()
		slog.Debug("Rate limiter housekeeping", "keys", keys)
	}))
	return t
}

// SetSink installs the telemetry consumer.
func (t *Tour) SetSink(s TelemetrySink) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sink = s
}

func (t *Tour) Sim() *sim.Simulator         { return t.sim }
func (t *Tour) Catalog() *catalog.Catalog   { return t.catalog }
func (t *Tour) Session() *session.Manager   { return t.session }
func (t *Tour) Narrator() *narrator.Service { return t.narrator }
func (t *Tour) Voice() *voice.Interaction   { return t.voice }
func (t *Tour) Limiter() *ratelimit.Limiter { return t.limiter }
func (t *Tour) Scheduler() *Scheduler       { return t.sched }
func (t *Tour) Detector() *poi.Detector     { return t.detector }
func (t *Tour) Config() *config.Config      { return t.cfg }
func (t *Tour) Pose() model.VehiclePose     { return t.sim.Pose() }
func (t *Tour) POIs() []*model.POI          { return t.catalog.POIs() }
func (t *Tour) Trail() []model.TrailPoint   { return t.sim.Trail() }
func (t *Tour) Phase() session.Phase        { return t.session.Phase() }

// ZoneLabel names the district around p.
func (t *Tour) ZoneLabel(p geo.Point, lang model.Language) string {
	return t.catalog.ZoneLabel(p, lang)
}

func (t *Tour) detect(_ context.Context, tk Tick) {
	cands := t.detector.Tick(tk.Pose, t.session, t.narrator)
	if len(cands) > 0 {
		logging.Trace("Detector tick", "candidates", len(cands), "top", cands[0].POI.ID)
	}
}

func (t *Tour) refreshZone(pose model.VehiclePose) {
	label := t.catalog.ZoneLabel(geo.PoseToPoint(pose), t.session.Language())
	t.mu.Lock()
	changed := label != t.zone
	t.zone = label
	t.mu.Unlock()
	if changed {
		slog.Info("Entered zone", "zone", label)
	}
}

func (t *Tour) broadcast(now time.Time) {
	t.mu.RLock()
	sink := t.sink
	t.mu.RUnlock()
	if sink != nil {
		tel := t.Telemetry()
		tel.Timestamp = now
		sink.PublishTelemetry(tel)
	}
}

// Telemetry returns the current pose broadcast.
func (t *Tour) Telemetry() Telemetry {
	t.mu.RLock()
	zone := t.zone
	t.mu.RUnlock()
	if zone == "" {
		zone = t.catalog.ZoneLabel(geo.PoseToPoint(t.sim.Pose()), t.session.Language())
	}
	return Telemetry{
		Pose:       t.sim.Pose(),
		Zone:       zone,
		AutoCruise: t.sim.AutoCruise(),
		Phase:      t.session.Phase(),
		Stats:      t.sim.Stats(),
		Timestamp:  time.Now(),
	}
}

// Begin stops everything and starts a fresh session for p.
func (t *Tour) Begin(p session.Profile) session.Snapshot {
	t.phaseMu.Lock()
	defer t.phaseMu.Unlock()

	t.sched.Stop()
	t.sched.ResetJobs()
	t.voice.Reset()
	t.narrator.Reset()
	t.narrator.SetEnabled(false)
	t.detector.Reset()
	t.sim.Reset()
	t.mu.Lock()
	t.zone = ""
	t.mu.Unlock()
	return t.session.Begin(p)
}

// SetPhase moves the session to next, starting the loops on entering a
// flying phase and tearing them down on leaving it.
func (t *Tour) SetPhase(next session.Phase) (session.Phase, error) {
	t.phaseMu.Lock()
	defer t.phaseMu.Unlock()

	prev, err := t.session.SetPhase(next)
	if err != nil {
		return "", err
	}
	now := t.session.Phase()
	switch {
	case now.IsFlying() && !t.sched.Running():
		t.narrator.SetEnabled(true)
		t.sched.Start(t.baseCtx)
	case !now.IsFlying() && prev.IsFlying():
		t.sched.Stop()
		t.sim.Input().Release()
		t.narrator.SetEnabled(false)
		t.voice.Reset()
		t.narrator.Interrupt()
	}
	return prev, nil
}

// KeyDown forwards a key press from the presentation layer and performs the
// edge-triggered action it carries. Actions only apply while flying.
func (t *Tour) KeyDown(key string) sim.Action {
	action := t.sim.Input().KeyDown(key)
	if !t.session.Phase().IsFlying() {
		return sim.ActionNone
	}
	switch action {
	case sim.ActionToggleCruise:
		t.sim.ToggleAutoCruise()
	case sim.ActionToggleVoice:
		t.voice.Toggle()
	case sim.ActionLand:
		if _, err := t.SetPhase(session.PhaseLanding); err != nil {
			slog.Warn("Landing request failed", "error", err)
		}
	}
	return action
}

// KeyUp releases a held key.
func (t *Tour) KeyUp(key string) {
	t.sim.Input().KeyUp(key)
}

// SpeechFinished routes an end-of-speech signal to whichever side owns the
// narration id.
func (t *Tour) SpeechFinished(id string) bool {
	if t.voice.SpeechFinished(id) {
		return true
	}
	return t.narrator.SpeechFinished(id)
}

// SpeechFailed is the synthesis error signal. A voice answer stays up for
// the TTS-less hold; an ambient narration simply ends.
func (t *Tour) SpeechFailed(id string) bool {
	if t.voice.SpeechFailed(id) {
		return true
	}
	return t.narrator.SpeechFinished(id)
}

// Result is the flight summary for the result screen.
func (t *Tour) Result() session.Result {
	st := t.sim.Stats()
	return t.session.Result(session.Flight{
		DistanceKm:   st.DistanceKm,
		MaxAltitudeM: st.MaxAltitudeM,
		MaxSpeedKmh:  st.MaxSpeedKmh,
		Trail:        t.sim.Trail(),
	})
}

// Stats returns narrator counters for the stats route.
func (t *Tour) Stats() map[string]any {
	st := t.narrator.Stats()
	st["visited"] = len(t.session.VisitedIDs())
	st["narrations"] = t.session.NarratedCount()
	st["loops_running"] = t.sched.Running()
	return st
}

// Shutdown stops the loops and abandons any narration or voice interaction.
func (t *Tour) Shutdown() {
	t.phaseMu.Lock()
	defer t.phaseMu.Unlock()
	t.sched.Stop()
	t.voice.Reset()
	t.narrator.Reset()
}
