package store

import (
	"context"

	"skytour/pkg/model"
)

// POIStore handles catalog POI persistence.
type POIStore interface {
	GetPOI(ctx context.Context, id string) (*model.POI, error)
	ListPOIs(ctx context.Context) ([]*model.POI, error)
	SavePOI(ctx context.Context, poi *model.POI) error
	CountPOIs(ctx context.Context) (int, error)
	ClearPOIs(ctx context.Context) error
}

// ZoneStore keeps one GeoJSON feature per zone code.
type ZoneStore interface {
	SaveZone(ctx context.Context, code string, feature []byte) error
	ListZoneFeatures(ctx context.Context) ([][]byte, error)
	ClearZones(ctx context.Context) error
}

// StateStore handles persistent key/value state (import markers).
type StateStore interface {
	GetState(ctx context.Context, key string) (string, bool)
	SetState(ctx context.Context, key, val string) error
	DeleteState(ctx context.Context, key string) error
}
