package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"skytour/pkg/db"
	"skytour/pkg/model"
)

// Store composes all sub-interfaces for full store access.
// Consumers should depend on specific sub-interfaces when possible.
type Store interface {
	POIStore
	ZoneStore
	StateStore

	// Close closes the store connection.
	Close() error
}

// SQLiteStore implements Store.
type SQLiteStore struct {
	db *db.DB
}

// NewSQLiteStore creates a new store.
func NewSQLiteStore(db *db.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- POI ---

const poiColumns = `id, zone_code, category_code, name, name_en, lat, lon, altitude_m,
	description, description_en, images, tags, visible_range_m, direction`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPOI(row rowScanner) (*model.POI, error) {
	var p model.POI
	var images, tags, direction sql.NullString
	err := row.Scan(
		&p.ID, &p.ZoneCode, &p.Category, &p.Name, &p.NameEn,
		&p.Lat, &p.Lon, &p.AltitudeM,
		&p.Description, &p.DescriptionEn,
		&images, &tags, &p.VisibleRangeM, &direction,
	)
	if err != nil {
		return nil, err
	}
	p.Direction = direction.String
	if images.Valid && images.String != "" {
		if err := json.Unmarshal([]byte(images.String), &p.Images); err != nil {
			return nil, fmt.Errorf("poi %s: bad images column: %w", p.ID, err)
		}
	}
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &p.Tags); err != nil {
			return nil, fmt.Errorf("poi %s: bad tags column: %w", p.ID, err)
		}
	}
	return &p, nil
}

func (s *SQLiteStore) GetPOI(ctx context.Context, id string) (*model.POI, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+poiColumns+` FROM poi WHERE id = ?`, id)
	p, err := scanPOI(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found
	}
	return p, err
}

func (s *SQLiteStore) ListPOIs(ctx context.Context) ([]*model.POI, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+poiColumns+` FROM poi ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.POI
	for rows.Next() {
		p, err := scanPOI(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SavePOI(ctx context.Context, p *model.POI) error {
	images, err := json.Marshal(p.Images)
	if err != nil {
		return err
	}
	tags, err := json.Marshal(p.Tags)
	if err != nil {
		return err
	}

	query := `INSERT OR REPLACE INTO poi (` + poiColumns + `, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		p.ID, p.ZoneCode, p.Category, p.Name, p.NameEn,
		p.Lat, p.Lon, p.AltitudeM,
		p.Description, p.DescriptionEn,
		string(images), string(tags), p.VisibleRangeM, p.Direction,
		time.Now(),
	)
	return err
}

func (s *SQLiteStore) CountPOIs(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM poi").Scan(&n)
	return n, err
}

func (s *SQLiteStore) ClearPOIs(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM poi")
	return err
}

// --- Zones ---

func (s *SQLiteStore) ClearZones(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM zone")
	return err
}

func (s *SQLiteStore) SaveZone(ctx context.Context, code string, feature []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO zone (code, feature, created_at) VALUES (?, ?, ?)`,
		code, string(feature), time.Now())
	return err
}

func (s *SQLiteStore) ListZoneFeatures(ctx context.Context) ([][]byte, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT feature FROM zone ORDER BY rowid")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, err
		}
		out = append(out, []byte(f))
	}
	return out, rows.Err()
}

// --- State ---

func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, bool) {
	var val string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM persistent_state WHERE key = ?", key).Scan(&val)
	if err != nil {
		return "", false
	}
	return val, true
}

func (s *SQLiteStore) SetState(ctx context.Context, key, val string) error {
	query := `INSERT OR REPLACE INTO persistent_state (key, value, created_at) VALUES (?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, key, val, time.Now())
	return err
}

func (s *SQLiteStore) DeleteState(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM persistent_state WHERE key = ?", key)
	return err
}
