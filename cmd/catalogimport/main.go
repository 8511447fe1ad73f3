// Command catalogimport loads the POI JSON and zone GeoJSON files into the
// SQLite catalog database used by the "sqlite" catalog source.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"skytour/pkg/catalog"
	"skytour/pkg/config"
	"skytour/pkg/db"
	"skytour/pkg/db/maintenance"
	"skytour/pkg/store"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfgPath := flag.String("config", "configs/skytour.yaml", "Path to config file")
	poiPath := flag.String("pois", "", "POI JSON file (defaults to catalog.poi_path)")
	zonesPath := flag.String("zones", "", "Zone GeoJSON file (defaults to catalog.zones_path)")
	dbPath := flag.String("db", "", "SQLite database (defaults to catalog.db_path)")
	force := flag.Bool("force", false, "Re-import even if the files are unchanged")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if *poiPath == "" {
		*poiPath = cfg.Catalog.POIPath
	}
	if *zonesPath == "" {
		*zonesPath = cfg.Catalog.ZonesPath
	}
	if *dbPath == "" {
		*dbPath = cfg.Catalog.DBPath
	}

	ctx := context.Background()
	d, err := db.Init(*dbPath)
	if err != nil {
		return err
	}
	s := store.NewSQLiteStore(d)
	defer s.Close()

	if *force {
		for _, key := range []string{"catalog_poi_mtime", "catalog_zones_mtime"} {
			if err := s.DeleteState(ctx, key); err != nil {
				return fmt.Errorf("failed to reset import state: %w", err)
			}
		}
	}

	imported, err := maintenance.Run(ctx, s, *poiPath, *zonesPath)
	if err != nil {
		return err
	}

	c, err := catalog.LoadStore(ctx, s)
	if err != nil {
		return fmt.Errorf("imported catalog does not load: %w", err)
	}
	fmt.Printf("Database: %s\n", *dbPath)
	fmt.Printf("Imported: %v\n", imported)
	fmt.Printf("POIs:     %d\n", c.Len())
	fmt.Printf("Zones:    %d\n", len(c.Zones().Zones()))
	return nil
}
