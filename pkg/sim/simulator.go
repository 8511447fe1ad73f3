// Package sim integrates held flight controls into a vehicle pose over a
// bounded city area and records the flown trail.
package sim

import (
	"math"
	"sync"
	"time"

	"skytour/pkg/config"
	"skytour/pkg/geo"
	"skytour/pkg/model"
)

// FlightStats are running totals for the result screen.
type FlightStats struct {
	DistanceKm   float64 `json:"total_distance_km"`
	MaxAltitudeM float64 `json:"max_altitude_m"`
	MaxSpeedKmh  float64 `json:"max_speed_kmh"`
}

// Simulator owns the vehicle pose. All methods are safe for concurrent use.
type Simulator struct {
	mu         sync.RWMutex
	cfg        config.FlightConfig
	bounds     geo.Bounds
	input      *Input
	pose       model.VehiclePose
	autoCruise bool
	stats      FlightStats
	trail      *Trail
}

// New creates a simulator at the configured start pose.
func New(cfg config.FlightConfig) *Simulator {
	s := &Simulator{
		cfg: cfg,
		bounds: geo.NewBounds(cfg.Bounds.MinLat, cfg.Bounds.MinLon,
			cfg.Bounds.MaxLat, cfg.Bounds.MaxLon),
		input: NewInput(),
		trail: NewTrail(cfg.TrailCap),
	}
	s.resetLocked()
	return s
}

// Input returns the key state feeding the simulator.
func (s *Simulator) Input() *Input {
	return s.input
}

// Reset returns to the start pose and clears the trail and totals.
func (s *Simulator) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

func (s *Simulator) resetLocked() {
	start, _ := s.bounds.Clamp(geo.Point{Lat: s.cfg.StartLat, Lon: s.cfg.StartLon})
	s.pose = model.VehiclePose{
		Lat:       start.Lat,
		Lon:       start.Lon,
		AltitudeM: clamp(s.cfg.StartAlt, s.cfg.MinAlt, s.cfg.MaxAlt),
		Heading:   geo.NormalizeHeading(s.cfg.StartHeading),
		SpeedKmh:  clamp(0, s.cfg.MinSpeed, s.cfg.MaxSpeed),
	}
	s.autoCruise = false
	s.stats = FlightStats{MaxAltitudeM: s.pose.AltitudeM, MaxSpeedKmh: s.pose.SpeedKmh}
	s.trail.Reset()
	s.input.Release()
}

// Pose returns the current pose.
func (s *Simulator) Pose() model.VehiclePose {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pose
}

// AutoCruise reports the cruise flag.
func (s *Simulator) AutoCruise() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.autoCruise
}

// ToggleAutoCruise flips the cruise flag. It has no physical effect.
func (s *Simulator) ToggleAutoCruise() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoCruise = !s.autoCruise
	return s.autoCruise
}

// Stats returns the running totals.
func (s *Simulator) Stats() FlightStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// Step advances the pose by dt using the currently held keys.
func (s *Simulator) Step(dt time.Duration) model.VehiclePose {
	return s.Apply(s.input.Controls(), dt)
}

// Apply advances the pose by dt under controls c.
func (s *Simulator) Apply(c Controls, dt time.Duration) model.VehiclePose {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, distKm := Integrate(&s.cfg, s.bounds, s.pose, c, dt)
	s.pose = next
	s.stats.DistanceKm += distKm
	s.stats.MaxAltitudeM = math.Max(s.stats.MaxAltitudeM, next.AltitudeM)
	s.stats.MaxSpeedKmh = math.Max(s.stats.MaxSpeedKmh, next.SpeedKmh)
	return next
}

// RecordTrail appends the current pose to the trail.
func (s *Simulator) RecordTrail(now time.Time) model.TrailPoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trail.Add(model.TrailPoint{
		Lat:        s.pose.Lat,
		Lon:        s.pose.Lon,
		AltitudeM:  s.pose.AltitudeM,
		Heading:    s.pose.Heading,
		SpeedKmh:   s.pose.SpeedKmh,
		RecordedAt: now,
	})
}

// Trail returns the recorded trail oldest first.
func (s *Simulator) Trail() []model.TrailPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trail.Points()
}

// Integrate computes the pose after dt under controls c. dt is clamped to
// cfg.MaxStep. It returns the new pose and the horizontal distance flown in km.
func Integrate(cfg *config.FlightConfig, bounds geo.Bounds, p model.VehiclePose, c Controls, dt time.Duration) (model.VehiclePose, float64) {
	sec := dt.Seconds()
	if maxStep := cfg.MaxStep.Std().Seconds(); maxStep > 0 && sec > maxStep {
		sec = maxStep
	}
	if sec < 0 {
		sec = 0
	}

	switch {
	case c.Forward:
		p.SpeedKmh = math.Min(cfg.MaxSpeed, p.SpeedKmh+cfg.Acceleration*sec)
	case c.Backward:
		p.SpeedKmh = math.Max(cfg.MinSpeed, p.SpeedKmh-cfg.Deceleration*sec)
	}

	switch {
	case c.Left:
		p.Heading -= cfg.YawRate * sec
		p.Roll = math.Max(-cfg.MaxRoll, p.Roll-cfg.RollRate*sec)
	case c.Right:
		p.Heading += cfg.YawRate * sec
		p.Roll = math.Min(cfg.MaxRoll, p.Roll+cfg.RollRate*sec)
	default:
		p.Roll *= cfg.InertiaDecay
	}

	switch {
	case c.Up:
		p.AltitudeM = math.Min(cfg.MaxAlt, p.AltitudeM+cfg.ClimbRate*sec)
		p.Pitch = math.Min(cfg.MaxPitch, p.Pitch+cfg.PitchRate*sec)
	case c.Down:
		p.AltitudeM = math.Max(cfg.MinAlt, p.AltitudeM-cfg.ClimbRate*sec)
		p.Pitch = math.Max(-cfg.MaxPitch, p.Pitch-cfg.PitchRate*sec)
	default:
		p.Pitch *= cfg.InertiaDecay
	}

	p.Heading = geo.NormalizeHeading(p.Heading)

	speedMs := p.SpeedKmh / 3.6
	hdg := p.Heading * math.Pi / 180
	dLat := speedMs * math.Cos(hdg) * sec / geo.MetersPerDegreeLat
	dLon := speedMs * math.Sin(hdg) * sec / (geo.MetersPerDegreeLat * math.Cos(p.Lat*math.Pi/180))

	from := geo.Point{Lat: p.Lat, Lon: p.Lon}
	pos, clamped := bounds.Clamp(geo.Point{Lat: p.Lat + dLat, Lon: p.Lon + dLon})
	p.Lat, p.Lon = pos.Lat, pos.Lon
	if clamped {
		p.SpeedKmh *= cfg.EdgePenalty
	}
	p.SpeedKmh = clamp(p.SpeedKmh, cfg.MinSpeed, cfg.MaxSpeed)

	return p, geo.Distance(from, pos) / 1000
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
