package storage

import (
	"context"
	"time"

	"github.com/italolelis/offline_maps/internal/telemetry"
)

// InstrumentedTileStore wraps a TileStore with telemetry.
type InstrumentedTileStore struct {
	next      TileStore
	telemetry *telemetry.Telemetry
}

// NewInstrumentedTileStore creates a new instrumented tile store.
func NewInstrumentedTileStore(next TileStore, tel *telemetry.Telemetry) *InstrumentedTileStore {
	return &InstrumentedTileStore{next: next, telemetry: tel}
}

func (s *InstrumentedTileStore) Put(ctx context.Context, tile Tile) error {
	return s.telemetry.InstrumentDBOperation(ctx, "put_tile", func(ctx context.Context) error {
		return s.next.Put(ctx, tile)
	})
}

func (s *InstrumentedTileStore) Get(ctx context.Context, key TileKey) (Tile, error) {
	var tile Tile

	err := s.telemetry.InstrumentDBOperation(ctx, "get_tile", func(ctx context.Context) error {
		var err error

		tile, err = s.next.Get(ctx, key)

		return err
	})

	return tile, err
}

func (s *InstrumentedTileStore) Delete(ctx context.Context, key TileKey) error {
	return s.telemetry.InstrumentDBOperation(ctx, "delete_tile", func(ctx context.Context) error {
		return s.next.Delete(ctx, key)
	})
}

func (s *InstrumentedTileStore) DeleteMany(ctx context.Context, keys []TileKey) error {
	return s.telemetry.InstrumentDBOperation(ctx, "delete_tiles", func(ctx context.Context) error {
		return s.next.DeleteMany(ctx, keys)
	})
}

func (s *InstrumentedTileStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int, error) {
	var n int

	err := s.telemetry.InstrumentDBOperation(ctx, "delete_expired_tiles", func(ctx context.Context) error {
		var err error

		n, err = s.next.DeleteExpired(ctx, cutoff)

		return err
	})

	s.telemetry.RecordExpiredTiles(n)

	return n, err
}

func (s *InstrumentedTileStore) Stats(ctx context.Context) (TileStats, error) {
	var stats TileStats

	err := s.telemetry.InstrumentDBOperation(ctx, "tile_stats", func(ctx context.Context) error {
		var err error

		stats, err = s.next.Stats(ctx)

		return err
	})

	return stats, err
}

// InstrumentedAreaStore wraps an AreaStore with telemetry.
type InstrumentedAreaStore struct {
	next      AreaStore
	telemetry *telemetry.Telemetry
}

func NewInstrumentedAreaStore(next AreaStore, tel *telemetry.Telemetry) *InstrumentedAreaStore {
	return &InstrumentedAreaStore{next: next, telemetry: tel}
}

func (s *InstrumentedAreaStore) Save(ctx context.Context, area Area) error {
	return s.telemetry.InstrumentDBOperation(ctx, "save_area", func(ctx context.Context) error {
		return s.next.Save(ctx, area)
	})
}

func (s *InstrumentedAreaStore) Get(ctx context.Context, id string) (Area, error) {
	var area Area

	err := s.telemetry.InstrumentDBOperation(ctx, "get_area", func(ctx context.Context) error {
		var err error

		area, err = s.next.Get(ctx, id)

		return err
	})

	return area, err
}

func (s *InstrumentedAreaStore) List(ctx context.Context) ([]Area, error) {
	var areas []Area

	err := s.telemetry.InstrumentDBOperation(ctx, "list_areas", func(ctx context.Context) error {
		var err error

		areas, err = s.next.List(ctx)

		return err
	})

	return areas, err
}

func (s *InstrumentedAreaStore) Delete(ctx context.Context, id string) error {
	return s.telemetry.InstrumentDBOperation(ctx, "delete_area", func(ctx context.Context) error {
		return s.next.Delete(ctx, id)
	})
}
