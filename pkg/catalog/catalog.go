// Package catalog loads the read-only POI and zone reference data.
package catalog

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/paulmach/orb/geojson"

	"skytour/pkg/config"
	"skytour/pkg/db"
	"skytour/pkg/db/maintenance"
	"skytour/pkg/geo"
	"skytour/pkg/model"
	"skytour/pkg/store"
)

//go:embed data/pois.json data/zones.geojson
var embedded embed.FS

// ErrEmpty is returned when a source yields no POIs.
var ErrEmpty = errors.New("catalog has no POIs")

// Catalog is the immutable POI set plus the zone index.
type Catalog struct {
	pois  []*model.POI
	byID  map[string]*model.POI
	zones *geo.ZoneIndex
}

// New validates pois and builds a Catalog. zones may be nil.
func New(pois []*model.POI, zones *geo.ZoneIndex) (*Catalog, error) {
	if len(pois) == 0 {
		return nil, ErrEmpty
	}
	if zones == nil {
		zones = geo.NewZoneIndex()
	}

	c := &Catalog{byID: make(map[string]*model.POI, len(pois)), zones: zones}
	for i, p := range pois {
		if p == nil || p.ID == "" {
			return nil, fmt.Errorf("poi %d has no id", i)
		}
		if _, dup := c.byID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate poi id %q", p.ID)
		}
		if p.Lat < -90 || p.Lat > 90 || p.Lon < -180 || p.Lon > 180 {
			return nil, fmt.Errorf("poi %s: coordinates out of range (%v, %v)", p.ID, p.Lat, p.Lon)
		}
		c.byID[p.ID] = p
		c.pois = append(c.pois, p)
	}
	return c, nil
}

// POIs returns every POI in load order. The slice must not be modified.
func (c *Catalog) POIs() []*model.POI {
	return c.pois
}

// Get returns the POI with id, or nil.
func (c *Catalog) Get(id string) *model.POI {
	return c.byID[id]
}

// Len returns the number of POIs.
func (c *Catalog) Len() int {
	return len(c.pois)
}

// Zones returns the zone index.
func (c *Catalog) Zones() *geo.ZoneIndex {
	return c.zones
}

// ZoneLabel names the zone containing p, or the city when none does.
func (c *Catalog) ZoneLabel(p geo.Point, lang model.Language) string {
	if z := c.zones.ZoneFor(p); z != nil {
		return z.Label(lang)
	}
	if lang == model.LangEnglish {
		return "Seoul"
	}
	return "서울"
}

// ParsePOIs decodes a JSON array of POI records.
func ParsePOIs(data []byte) ([]*model.POI, error) {
	var pois []*model.POI
	if err := json.Unmarshal(data, &pois); err != nil {
		return nil, fmt.Errorf("failed to parse pois: %w", err)
	}
	return pois, nil
}

// Open loads the catalog from the source named in cfg.
func Open(ctx context.Context, cfg config.CatalogConfig) (*Catalog, error) {
	switch cfg.Source {
	case "", "embedded":
		return LoadEmbedded()
	case "json":
		return LoadFiles(cfg.POIPath, cfg.ZonesPath)
	case "sqlite":
		return LoadSQLite(ctx, cfg.DBPath, cfg.POIPath, cfg.ZonesPath)
	default:
		return nil, fmt.Errorf("unknown catalog source %q", cfg.Source)
	}
}

// LoadEmbedded loads the built-in Seoul dataset.
func LoadEmbedded() (*Catalog, error) {
	poiData, err := embedded.ReadFile("data/pois.json")
	if err != nil {
		return nil, err
	}
	zoneData, err := embedded.ReadFile("data/zones.geojson")
	if err != nil {
		return nil, err
	}
	return fromBytes(poiData, zoneData)
}

// LoadFiles loads POIs from a JSON file and zones from a GeoJSON file.
// An empty zonesPath yields a catalog without zones.
func LoadFiles(poiPath, zonesPath string) (*Catalog, error) {
	poiData, err := os.ReadFile(poiPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read poi file: %w", err)
	}
	var zoneData []byte
	if zonesPath != "" {
		if zoneData, err = os.ReadFile(zonesPath); err != nil {
			return nil, fmt.Errorf("failed to read zones file: %w", err)
		}
	}
	return fromBytes(poiData, zoneData)
}

// LoadSQLite opens the catalog database, refreshes it from the source files
// when they changed, and loads it.
func LoadSQLite(ctx context.Context, dbPath, poiPath, zonesPath string) (*Catalog, error) {
	d, err := db.Init(dbPath)
	if err != nil {
		return nil, err
	}
	s := store.NewSQLiteStore(d)
	defer s.Close()

	if _, err := maintenance.Run(ctx, s, poiPath, zonesPath); err != nil {
		slog.Warn("Catalog import failed, using existing database contents", "error", err)
	}
	return LoadStore(ctx, s)
}

// LoadStore reads POIs and zone features from s.
func LoadStore(ctx context.Context, s store.Store) (*Catalog, error) {
	pois, err := s.ListPOIs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pois: %w", err)
	}

	features, err := s.ListZoneFeatures(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list zones: %w", err)
	}
	fc := geojson.NewFeatureCollection()
	for _, raw := range features {
		f, err := geojson.UnmarshalFeature(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decode zone feature: %w", err)
		}
		fc.Append(f)
	}
	zoneData, err := fc.MarshalJSON()
	if err != nil {
		return nil, err
	}
	zones, err := geo.ParseZones(zoneData)
	if err != nil {
		return nil, err
	}
	return New(pois, zones)
}

func fromBytes(poiData, zoneData []byte) (*Catalog, error) {
	pois, err := ParsePOIs(poiData)
	if err != nil {
		return nil, err
	}
	var zones *geo.ZoneIndex
	if len(zoneData) > 0 {
		if zones, err = geo.ParseZones(zoneData); err != nil {
			return nil, err
		}
	}
	return New(pois, zones)
}
