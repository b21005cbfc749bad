package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/italolelis/offline_maps/internal/geo"
)

// ErrNotFound is returned when a tile or an area is missing, or when a tile is older than
// the expiry horizon.
var ErrNotFound = errors.New("not found")

// AvgTileSizeKB is the per tile estimate used to size an area.
const AvgTileSizeKB = 15

// TileKey identifies a cached tile.
type TileKey struct {
	X    int `json:"x"`
	Y    int `json:"y"`
	Zoom int `json:"z"`
}

func (k TileKey) String() string {
	return fmt.Sprintf("%d/%d/%d", k.Zoom, k.X, k.Y)
}

// Tile is a cached raster tile.
type Tile struct {
	Key          TileKey
	URL          string
	Data         []byte
	DownloadedAt time.Time
}

// AreaStatus is the lifecycle state of a downloaded area.
type AreaStatus string

const (
	AreaStatusDownloading AreaStatus = "downloading"
	AreaStatusCompleted   AreaStatus = "completed"
	AreaStatusFailed      AreaStatus = "failed"
	AreaStatusExpired     AreaStatus = "expired"
)

// IsFinished reports whether no download pass is in flight for this status.
func (s AreaStatus) IsFinished() bool {
	return s != AreaStatusDownloading
}

// Area is a circular region whose tiles have been, or are being, cached.
type Area struct {
	ID          string
	Name        string
	Center      geo.Point
	RadiusKm    float64
	Bounds      geo.Bounds
	TileKeys    []TileKey
	PropertyIDs []string
	SizeMB      float64
	Progress    float64
	Status      AreaStatus
	CreatedAt   time.Time
	LastUsedAt  time.Time
}

// Covers reports whether the area was downloaded for the given property.
func (a Area) Covers(propertyID string) bool {
	for _, id := range a.PropertyIDs {
		if id == propertyID {
			return true
		}
	}

	return false
}

// IsExpired reports whether a completed area has outlived the expiry horizon.
func (a Area) IsExpired(now time.Time, horizon time.Duration) bool {
	if a.Status == AreaStatusExpired {
		return true
	}

	return a.Status == AreaStatusCompleted && horizon > 0 && now.Sub(a.CreatedAt) > horizon
}

// EstimateSizeMB returns the expected on-disk size of tileCount tiles.
func EstimateSizeMB(tileCount int) float64 {
	return float64(tileCount) * AvgTileSizeKB / 1024
}

// TileStats summarises the tile store.
type TileStats struct {
	Count     int
	SizeBytes int64
}

// TileStore persists tiles keyed by (x, y, zoom). A Get of a tile older than the store's
// expiry horizon behaves as if the tile were missing.
type TileStore interface {
	Put(ctx context.Context, tile Tile) error
	Get(ctx context.Context, key TileKey) (Tile, error)
	Delete(ctx context.Context, key TileKey) error
	DeleteMany(ctx context.Context, keys []TileKey) error
	DeleteExpired(ctx context.Context, cutoff time.Time) (int, error)
	Stats(ctx context.Context) (TileStats, error)
}

// AreaStore persists area records.
type AreaStore interface {
	Save(ctx context.Context, area Area) error
	Get(ctx context.Context, id string) (Area, error)
	List(ctx context.Context) ([]Area, error)
	Delete(ctx context.Context, id string) error
}
