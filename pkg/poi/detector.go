package poi

import (
	"log/slog"
	"sort"
	"sync"

	"skytour/pkg/config"
	"skytour/pkg/geo"
	"skytour/pkg/model"
)

// Scheduler is the narration side of a detection tick.
type Scheduler interface {
	// CanNarrate reports whether a new narration may start right now.
	CanNarrate() bool
	IsNarrating() bool
	CurrentPOIID() string
	Start(v model.VisiblePOI) error
	Enqueue(p *model.POI) bool
}

// Traveler exposes the session state the detector filters and ranks with.
type Traveler interface {
	IsVisited(id string) bool
	Preferences() []model.Category
}

// Detector finds newly visible, unvisited POIs around the vehicle.
type Detector struct {
	cfg       config.DetectorConfig
	runnersUp int
	pois      []*model.POI
	logger    *slog.Logger

	mu       sync.Mutex
	prevDist map[string]float64
}

// NewDetector creates a detector over the given catalog slice.
func NewDetector(cfg config.DetectorConfig, runnersUp int, pois []*model.POI) *Detector {
	return &Detector{
		cfg:       cfg,
		runnersUp: runnersUp,
		pois:      pois,
		logger:    slog.With("component", "poi_detector"),
		prevDist:  make(map[string]float64),
	}
}

// Reset forgets the per-POI distance history.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.prevDist = make(map[string]float64)
}

// Tick runs one detection pass and hands the result to s.
func (d *Detector) Tick(pose model.VehiclePose, t Traveler, s Scheduler) []model.VisiblePOI {
	candidates := d.Scan(pose, t.IsVisited, t.Preferences())
	if len(candidates) == 0 {
		return nil
	}
	started, queued := Dispatch(candidates, s, d.runnersUp)
	d.logger.Debug("Detection tick",
		"visible", len(candidates),
		"started", started,
		"queued", queued)
	return candidates
}

// Scan returns the unvisited POIs inside the view cone, each tagged with its
// trigger phase and ranked for narration. Preferred categories sort first,
// then ascending distance.
func (d *Detector) Scan(pose model.VehiclePose, visited func(id string) bool, prefs []model.Category) []model.VisiblePOI {
	pos := geo.PoseToPoint(pose)

	unvisited := make([]*model.POI, 0, len(d.pois))
	for _, p := range d.pois {
		if visited != nil && visited(p.ID) {
			continue
		}
		unvisited = append(unvisited, p)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var out []model.VisiblePOI
	for _, r := range geo.FindInView(pos, pose.Heading, unvisited, d.cfg.FOVDeg, d.cfg.MaxRange.Meters()) {
		prev, seen := d.prevDist[r.POI.ID]
		trigger := ClassifyTrigger(r.DistanceM, prev, seen,
			d.cfg.NearThreshold.Meters(), d.cfg.ProximityThreshold.Meters())
		d.prevDist[r.POI.ID] = r.DistanceM

		out = append(out, model.VisiblePOI{
			POI:        r.POI,
			DistanceM:  r.DistanceM,
			BearingDeg: r.BearingDeg,
			Trigger:    trigger,
		})
	}

	Rank(out, prefs)
	return out
}

// ClassifyTrigger derives the trigger phase from the current and previous
// distance. A POI seen for the first time is approaching. Inside the
// proximity threshold it is always passing.
func ClassifyTrigger(dist, prev float64, seen bool, nearM, proximityM float64) model.TriggerPhase {
	trigger := model.Approaching
	if seen {
		switch {
		case dist < prev && dist < nearM:
			trigger = model.Approaching
		case dist > prev:
			trigger = model.Departing
		default:
			trigger = model.Passing
		}
	}
	if dist < proximityM {
		trigger = model.Passing
	}
	return trigger
}

// Rank sorts candidates in place: preferred categories first, then by distance.
func Rank(candidates []model.VisiblePOI, prefs []model.Category) {
	preferred := make(map[model.Category]bool, len(prefs))
	for _, c := range prefs {
		preferred[c] = true
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		pi, pj := preferred[candidates[i].POI.Category], preferred[candidates[j].POI.Category]
		if pi != pj {
			return pi
		}
		return candidates[i].DistanceM < candidates[j].DistanceM
	})
}

// Dispatch submits the top candidate when the scheduler is eligible and
// queues up to runnersUp of the rest. While a narration is running every
// candidate except the current one is queued instead, including when Start
// loses the slot to another narration. It returns the started
// POI id (or "") and the number of newly queued POIs.
func Dispatch(candidates []model.VisiblePOI, s Scheduler, runnersUp int) (string, int) {
	if len(candidates) == 0 {
		return "", 0
	}

	queued := 0
	if s.CanNarrate() {
		top := candidates[0]
		err := s.Start(top)
		if err == nil {
			for i := 1; i < len(candidates) && i <= runnersUp; i++ {
				if s.Enqueue(candidates[i].POI) {
					queued++
				}
			}
			return top.POI.ID, queued
		}
		// Lost the slot to a queue replay: queue like any other busy tick.
		slog.Debug("Narration not started", "poi", top.POI.ID, "error", err)
	}

	if s.IsNarrating() {
		current := s.CurrentPOIID()
		for _, c := range candidates {
			if c.POI.ID == current {
				continue
			}
			if s.Enqueue(c.POI) {
				queued++
			}
		}
	}
	return "", queued
}
