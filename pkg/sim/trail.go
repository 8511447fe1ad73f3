package sim

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"skytour/pkg/model"
)

// Trail is a fixed-capacity ring of recorded poses. The oldest point is
// overwritten once the ring is full.
type Trail struct {
	points []model.TrailPoint
	head   int // index of the oldest point once full
	full   bool
	seq    int64
}

// NewTrail creates a trail that keeps at most capacity points.
func NewTrail(capacity int) *Trail {
	if capacity < 1 {
		capacity = 1
	}
	return &Trail{points: make([]model.TrailPoint, 0, capacity)}
}

// Add appends p, assigning the next sequence number, and returns the stored point.
func (t *Trail) Add(p model.TrailPoint) model.TrailPoint {
	t.seq++
	p.Sequence = t.seq
	if !t.full {
		t.points = append(t.points, p)
		if len(t.points) == cap(t.points) {
			t.full = true
		}
		return p
	}
	t.points[t.head] = p
	t.head = (t.head + 1) % len(t.points)
	return p
}

// Len returns the number of stored points.
func (t *Trail) Len() int {
	return len(t.points)
}

// Points returns the stored points oldest first.
func (t *Trail) Points() []model.TrailPoint {
	out := make([]model.TrailPoint, 0, len(t.points))
	out = append(out, t.points[t.head:]...)
	out = append(out, t.points[:t.head]...)
	return out
}

// Reset empties the trail and restarts sequence numbering.
func (t *Trail) Reset() {
	t.points = t.points[:0]
	t.head = 0
	t.full = false
	t.seq = 0
}

// TrailFeature renders points as a GeoJSON LineString feature with the first
// and last sequence numbers as properties.
func TrailFeature(points []model.TrailPoint) *geojson.Feature {
	line := make(orb.LineString, 0, len(points))
	for _, p := range points {
		line = append(line, orb.Point{p.Lon, p.Lat})
	}
	f := geojson.NewFeature(line)
	f.Properties["points"] = len(points)
	if len(points) > 0 {
		f.Properties["first_sequence"] = points[0].Sequence
		f.Properties["last_sequence"] = points[len(points)-1].Sequence
	}
	return f
}
