// Package storagetest provides in-memory stores for tests.
package storagetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/italolelis/offline_maps/internal/storage"
)

// TileStore is an in-memory storage.TileStore. When PutErr is set every Put fails with it.
type TileStore struct {
	mu     sync.Mutex
	tiles  map[storage.TileKey]storage.Tile
	Expiry time.Duration
	Now    func() time.Time
	PutErr error
	Gets   int
}

func NewTileStore() *TileStore {
	return &TileStore{tiles: make(map[storage.TileKey]storage.Tile), Now: time.Now}
}

func (s *TileStore) Put(_ context.Context, tile storage.Tile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.PutErr != nil {
		return s.PutErr
	}

	if tile.DownloadedAt.IsZero() {
		tile.DownloadedAt = s.Now()
	}

	s.tiles[tile.Key] = tile

	return nil
}

func (s *TileStore) Get(_ context.Context, key storage.TileKey) (storage.Tile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Gets++

	tile, ok := s.tiles[key]
	if !ok {
		return storage.Tile{}, storage.ErrNotFound
	}

	if s.Expiry > 0 && s.Now().Sub(tile.DownloadedAt) > s.Expiry {
		return storage.Tile{}, storage.ErrNotFound
	}

	return tile, nil
}

func (s *TileStore) Delete(_ context.Context, key storage.TileKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tiles, key)

	return nil
}

func (s *TileStore) DeleteMany(ctx context.Context, keys []storage.TileKey) error {
	for _, key := range keys {
		_ = s.Delete(ctx, key)
	}

	return nil
}

func (s *TileStore) DeleteExpired(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0

	for key, tile := range s.tiles {
		if tile.DownloadedAt.Before(cutoff) {
			delete(s.tiles, key)
			n++
		}
	}

	return n, nil
}

func (s *TileStore) Stats(_ context.Context) (storage.TileStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := storage.TileStats{Count: len(s.tiles)}
	for _, tile := range s.tiles {
		stats.SizeBytes += int64(len(tile.Data))
	}

	return stats, nil
}

// Keys returns the stored keys in a stable order.
func (s *TileStore) Keys() []storage.TileKey {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]storage.TileKey, 0, len(s.tiles))
	for key := range s.tiles {
		keys = append(keys, key)
	}

	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.Zoom != b.Zoom {
			return a.Zoom < b.Zoom
		}

		if a.X != b.X {
			return a.X < b.X
		}

		return a.Y < b.Y
	})

	return keys
}

// AreaStore is an in-memory storage.AreaStore that records every save.
type AreaStore struct {
	mu    sync.Mutex
	areas map[string]storage.Area
	saves []storage.Area
}

func NewAreaStore() *AreaStore {
	return &AreaStore{areas: make(map[string]storage.Area)}
}

func (s *AreaStore) Save(_ context.Context, area storage.Area) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	area.TileKeys = append([]storage.TileKey(nil), area.TileKeys...)
	area.PropertyIDs = append([]string(nil), area.PropertyIDs...)

	s.areas[area.ID] = area
	s.saves = append(s.saves, area)

	return nil
}

func (s *AreaStore) Get(_ context.Context, id string) (storage.Area, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	area, ok := s.areas[id]
	if !ok {
		return storage.Area{}, storage.ErrNotFound
	}

	return area, nil
}

func (s *AreaStore) List(_ context.Context) ([]storage.Area, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	areas := make([]storage.Area, 0, len(s.areas))
	for _, area := range s.areas {
		areas = append(areas, area)
	}

	sort.Slice(areas, func(i, j int) bool {
		if !areas[i].CreatedAt.Equal(areas[j].CreatedAt) {
			return areas[i].CreatedAt.Before(areas[j].CreatedAt)
		}

		return areas[i].ID < areas[j].ID
	})

	return areas, nil
}

func (s *AreaStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.areas[id]; !ok {
		return storage.ErrNotFound
	}

	delete(s.areas, id)

	return nil
}

// Saves returns every area passed to Save, in order.
func (s *AreaStore) Saves() []storage.Area {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]storage.Area(nil), s.saves...)
}
