package geo

import (
	"sort"

	"skytour/pkg/model"
)

// InRange is a catalog POI with its distance and bearing from a reference point.
type InRange struct {
	POI        *model.POI
	DistanceM  float64
	BearingDeg float64
}

// FindInView returns the POIs inside the view frustum of a vehicle at pos
// facing heading, sorted by ascending distance. Each POI is limited to
// min(maxRangeM, poi.VisibleRangeM); a POI without a declared range uses
// maxRangeM.
func FindInView(pos Point, heading float64, pois []*model.POI, fovDeg, maxRangeM float64) []InRange {
	var out []InRange
	for _, p := range pois {
		limit := maxRangeM
		if p.VisibleRangeM > 0 && p.VisibleRangeM < limit {
			limit = p.VisibleRangeM
		}
		target := POIToPoint(p)
		if !InViewFrustum(pos, heading, target, fovDeg, limit) {
			continue
		}
		out = append(out, InRange{POI: p, DistanceM: Distance(pos, target), BearingDeg: Bearing(pos, target)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DistanceM < out[j].DistanceM
	})
	return out
}
