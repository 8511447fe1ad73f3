package geo

import (
	"math"
	"time"

	"skytour/pkg/model"
)

// EarthRadius is the mean Earth radius in meters used by every distance helper.
const EarthRadius = 6371000.0

// MetersPerDegreeLat is the equirectangular scale used by the flight model.
const MetersPerDegreeLat = 111320.0

// Point represents a geographic coordinate.
type Point struct {
	Lat float64
	Lon float64
}

// PoseToPoint returns the horizontal position of a pose.
func PoseToPoint(p model.VehiclePose) Point {
	return Point{Lat: p.Lat, Lon: p.Lon}
}

// POIToPoint returns the position of a POI.
func POIToPoint(p *model.POI) Point {
	return Point{Lat: p.Lat, Lon: p.Lon}
}

func toRad(deg float64) float64 { return deg * (math.Pi / 180.0) }
func toDeg(rad float64) float64 { return rad * (180.0 / math.Pi) }

// Distance calculates the haversine distance between two points in meters.
func Distance(p1, p2 Point) float64 {
	dLat := toRad(p2.Lat - p1.Lat)
	dLon := toRad(p2.Lon - p1.Lon)
	lat1 := toRad(p1.Lat)
	lat2 := toRad(p2.Lat)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadius * c
}

// Bearing calculates the initial bearing from p1 to p2 in degrees [0,360).
func Bearing(p1, p2 Point) float64 {
	lat1 := toRad(p1.Lat)
	lat2 := toRad(p2.Lat)
	dLon := toRad(p2.Lon - p1.Lon)

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)

	return math.Mod(toDeg(math.Atan2(y, x))+360.0, 360.0)
}

// NormalizeHeading maps any angle into [0,360).
func NormalizeHeading(deg float64) float64 {
	h := math.Mod(deg, 360)
	if h < 0 {
		h += 360
	}
	// -0 and values that round up to 360 after the modulo
	if h >= 360 {
		h = 0
	}
	return h
}

// AngleDiff returns the absolute difference between two headings, wrapped to [0,180].
func AngleDiff(a, b float64) float64 {
	d := math.Abs(NormalizeHeading(a) - NormalizeHeading(b))
	if d > 180 {
		d = 360 - d
	}
	return d
}

// InViewFrustum reports whether target lies within maxRangeM of pos and inside
// the cone of fovDeg centered on heading. Both limits are inclusive.
func InViewFrustum(pos Point, heading float64, target Point, fovDeg, maxRangeM float64) bool {
	if Distance(pos, target) > maxRangeM {
		return false
	}
	return AngleDiff(Bearing(pos, target), heading) <= fovDeg/2
}

// Direction is the position of a target relative to the vehicle's nose.
type Direction string

const (
	Ahead  Direction = "ahead"
	Right  Direction = "right"
	Left   Direction = "left"
	Behind Direction = "behind"
)

var directionLabels = map[Direction]string{
	Ahead:  "정면",
	Right:  "오른쪽",
	Left:   "왼쪽",
	Behind: "후방",
}

// RelativeDirection classifies bearing against heading, split at 30/150/210/330 degrees.
func RelativeDirection(heading, bearing float64) Direction {
	rel := math.Mod(bearing-heading+360, 360)
	if rel < 0 {
		rel += 360
	}
	switch {
	case rel < 30 || rel > 330:
		return Ahead
	case rel < 150:
		return Right
	case rel > 210:
		return Left
	default:
		return Behind
	}
}

// Label returns the direction in lang.
func (d Direction) Label(lang model.Language) string {
	if lang == model.LangKorean {
		return directionLabels[d]
	}
	return string(d)
}

// TimeOfDayAt buckets the local hour of t.
func TimeOfDayAt(t time.Time) model.TimeOfDay {
	h := t.Hour()
	switch {
	case h >= 6 && h < 12:
		return model.Morning
	case h >= 12 && h < 17:
		return model.Afternoon
	case h >= 17 && h < 21:
		return model.Evening
	default:
		return model.Night
	}
}
