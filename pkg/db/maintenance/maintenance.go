package maintenance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/paulmach/orb/geojson"

	"skytour/pkg/model"
	"skytour/pkg/store"
)

const (
	poiStateKey   = "catalog_poi_mtime"
	zoneStateKey  = "catalog_zones_mtime"
	importedAtKey = "catalog_imported_at"
)

var bom = []byte("\xef\xbb\xbf")

// Run imports the POI JSON and zone GeoJSON files into s when their
// modification time differs from the last import. Missing files are skipped.
// It reports whether anything was imported.
func Run(ctx context.Context, s store.Store, poiPath, zonesPath string) (bool, error) {
	slog.Info("Starting catalog maintenance...")

	imported := false
	changed, err := importIfChanged(ctx, s, poiPath, poiStateKey, ImportPOIs)
	if err != nil {
		return false, fmt.Errorf("poi import failed: %w", err)
	}
	imported = imported || changed

	changed, err = importIfChanged(ctx, s, zonesPath, zoneStateKey, ImportZones)
	if err != nil {
		return imported, fmt.Errorf("zone import failed: %w", err)
	}
	imported = imported || changed

	if imported {
		if err := s.SetState(ctx, importedAtKey, time.Now().UTC().Format(time.RFC3339)); err != nil {
			return imported, fmt.Errorf("failed to update state: %w", err)
		}
	}
	slog.Info("Catalog maintenance completed", "imported", imported)
	return imported, nil
}

type importFunc func(ctx context.Context, s store.Store, data []byte) (int, error)

func importIfChanged(ctx context.Context, s store.Store, path, stateKey string, fn importFunc) (bool, error) {
	if path == "" {
		return false, nil
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	fileMTime := info.ModTime().UTC().Format(time.RFC3339Nano)
	if stored, found := s.GetState(ctx, stateKey); found && stored == fileMTime {
		return false, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}

	count, err := fn(ctx, s, data)
	if err != nil {
		return false, err
	}
	slog.Info("Imported catalog file", "path", path, "count", count)

	if err := s.SetState(ctx, stateKey, fileMTime); err != nil {
		return true, fmt.Errorf("failed to update state: %w", err)
	}
	return true, nil
}

// ImportPOIs replaces the POI table with the records in data (a JSON array).
func ImportPOIs(ctx context.Context, s store.Store, data []byte) (int, error) {
	var pois []*model.POI
	if err := json.Unmarshal(bytes.TrimPrefix(data, bom), &pois); err != nil {
		return 0, fmt.Errorf("failed to parse poi json: %w", err)
	}

	// The table is fully derived from the file, so a full replace is safe.
	if err := s.ClearPOIs(ctx); err != nil {
		return 0, fmt.Errorf("failed to clear poi: %w", err)
	}
	for i, p := range pois {
		if p == nil || p.ID == "" {
			return i, fmt.Errorf("poi record %d has no id", i)
		}
		if err := s.SavePOI(ctx, p); err != nil {
			return i, fmt.Errorf("failed to save poi %s: %w", p.ID, err)
		}
	}
	return len(pois), nil
}

// ImportZones replaces the zone table with the features of a GeoJSON
// FeatureCollection, keyed by their "code" property.
func ImportZones(ctx context.Context, s store.Store, data []byte) (int, error) {
	fc, err := geojson.UnmarshalFeatureCollection(bytes.TrimPrefix(data, bom))
	if err != nil {
		return 0, fmt.Errorf("failed to parse zones: %w", err)
	}

	if err := s.ClearZones(ctx); err != nil {
		return 0, fmt.Errorf("failed to clear zones: %w", err)
	}
	for i, f := range fc.Features {
		code := f.Properties.MustString("code", "")
		if code == "" {
			return i, fmt.Errorf("zone feature %d has no code", i)
		}
		raw, err := f.MarshalJSON()
		if err != nil {
			return i, fmt.Errorf("zone %s: %w", code, err)
		}
		if err := s.SaveZone(ctx, code, raw); err != nil {
			return i, fmt.Errorf("failed to save zone %s: %w", code, err)
		}
	}
	return len(fc.Features), nil
}
