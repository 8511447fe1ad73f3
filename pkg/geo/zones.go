package geo

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"skytour/pkg/model"
)

// Zone is a named district. A zone covers either a polygon or a circle of
// RadiusKm around its center.
type Zone struct {
	Code     string
	Name     string
	NameEn   string
	Center   Point
	RadiusKm float64
	shape    orb.Polygon
}

// Label returns the zone name in lang.
func (z *Zone) Label(lang model.Language) string {
	if lang == model.LangEnglish && z.NameEn != "" {
		return z.NameEn
	}
	return z.Name
}

// Contains reports whether p lies inside the zone.
func (z *Zone) Contains(p Point) bool {
	if z.shape != nil {
		pt := orb.Point{p.Lon, p.Lat}
		return z.shape.Bound().Contains(pt) && planar.PolygonContains(z.shape, pt)
	}
	return Distance(z.Center, p) <= z.RadiusKm*1000
}

// ZoneIndex resolves positions to zones.
type ZoneIndex struct {
	zones []*Zone
}

// ParseZones builds an index from a GeoJSON FeatureCollection. Point features
// need a radius_km property; Polygon features may carry center_lat/center_lon,
// otherwise their centroid is used.
func ParseZones(data []byte) (*ZoneIndex, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse zones: %w", err)
	}

	idx := &ZoneIndex{}
	for i, f := range fc.Features {
		z := &Zone{
			Code:     f.Properties.MustString("code", ""),
			Name:     f.Properties.MustString("name", ""),
			NameEn:   f.Properties.MustString("name_en", ""),
			RadiusKm: f.Properties.MustFloat64("radius_km", 0),
		}
		if z.Code == "" {
			return nil, fmt.Errorf("zone feature %d has no code", i)
		}

		switch g := f.Geometry.(type) {
		case orb.Point:
			if z.RadiusKm <= 0 {
				return nil, fmt.Errorf("zone %s: point geometry needs radius_km", z.Code)
			}
			z.Center = Point{Lat: g.Lat(), Lon: g.Lon()}
		case orb.Polygon:
			z.shape = g
			c, _ := planar.CentroidArea(g)
			z.Center = Point{
				Lat: f.Properties.MustFloat64("center_lat", c.Lat()),
				Lon: f.Properties.MustFloat64("center_lon", c.Lon()),
			}
		default:
			return nil, fmt.Errorf("zone %s: unsupported geometry %s", z.Code, f.Geometry.GeoJSONType())
		}
		idx.zones = append(idx.zones, z)
	}
	return idx, nil
}

// NewZoneIndex builds an index from already constructed circle zones.
func NewZoneIndex(zones ...*Zone) *ZoneIndex {
	return &ZoneIndex{zones: zones}
}

// Zones returns all zones in load order.
func (idx *ZoneIndex) Zones() []*Zone {
	return idx.zones
}

// ZoneFor returns the enclosing zone whose center is nearest to p, or nil.
func (idx *ZoneIndex) ZoneFor(p Point) *Zone {
	if idx == nil {
		return nil
	}
	var best *Zone
	bestDist := math.MaxFloat64
	for _, z := range idx.zones {
		if !z.Contains(p) {
			continue
		}
		if d := Distance(z.Center, p); d < bestDist {
			best, bestDist = z, d
		}
	}
	return best
}

// Bounds is the operational lat/lon box of the flight.
type Bounds struct {
	orb.Bound
}

// NewBounds builds a box from its corners.
func NewBounds(minLat, minLon, maxLat, maxLon float64) Bounds {
	return Bounds{orb.Bound{Min: orb.Point{minLon, minLat}, Max: orb.Point{maxLon, maxLat}}}
}

// Clamp pulls p inside the box and reports whether any axis was clamped.
func (b Bounds) Clamp(p Point) (Point, bool) {
	out := Point{
		Lat: math.Max(b.Min.Lat(), math.Min(b.Max.Lat(), p.Lat)),
		Lon: math.Max(b.Min.Lon(), math.Min(b.Max.Lon(), p.Lon)),
	}
	return out, out != p
}

// ContainsPoint reports whether p is inside the box (edges included).
func (b Bounds) ContainsPoint(p Point) bool {
	return b.Contains(orb.Point{p.Lon, p.Lat})
}
