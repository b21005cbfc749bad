// Package memcache keeps recently served tiles in memory in front of a slower TileStore.
package memcache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/italolelis/offline_maps/internal/storage"
)

var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tile_cache_hits_total",
		Help: "Total number of tiles served from the in-memory cache.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tile_cache_misses_total",
		Help: "Total number of tile reads that fell through to the backing store.",
	})
)

// TileStore is a read-through, write-through LRU over another TileStore. Entries are
// evicted after ttl regardless of use, and a cached tile older than the expiry horizon is
// never served.
type TileStore struct {
	next   storage.TileStore
	cache  *expirable.LRU[storage.TileKey, storage.Tile]
	expiry time.Duration
	now    func() time.Time
}

// New wraps next with an LRU of at most size tiles.
func New(next storage.TileStore, size int, ttl, expiry time.Duration) *TileStore {
	return &TileStore{
		next:   next,
		cache:  expirable.NewLRU[storage.TileKey, storage.Tile](size, nil, ttl),
		expiry: expiry,
		now:    time.Now,
	}
}

func (s *TileStore) Put(ctx context.Context, tile storage.Tile) error {
	if tile.DownloadedAt.IsZero() {
		tile.DownloadedAt = s.now()
	}

	if err := s.next.Put(ctx, tile); err != nil {
		s.cache.Remove(tile.Key)

		return err
	}

	s.cache.Add(tile.Key, tile)

	return nil
}

func (s *TileStore) Get(ctx context.Context, key storage.TileKey) (storage.Tile, error) {
	if tile, ok := s.cache.Get(key); ok {
		if s.expired(tile) {
			s.cache.Remove(key)

			return storage.Tile{}, storage.ErrNotFound
		}

		cacheHitsTotal.Inc()

		return tile, nil
	}

	cacheMissesTotal.Inc()

	tile, err := s.next.Get(ctx, key)
	if err != nil {
		return storage.Tile{}, err
	}

	s.cache.Add(key, tile)

	return tile, nil
}

func (s *TileStore) Delete(ctx context.Context, key storage.TileKey) error {
	s.cache.Remove(key)

	return s.next.Delete(ctx, key)
}

func (s *TileStore) DeleteMany(ctx context.Context, keys []storage.TileKey) error {
	for _, key := range keys {
		s.cache.Remove(key)
	}

	return s.next.DeleteMany(ctx, keys)
}

func (s *TileStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int, error) {
	n, err := s.next.DeleteExpired(ctx, cutoff)

	for _, key := range s.cache.Keys() {
		if tile, ok := s.cache.Peek(key); ok && tile.DownloadedAt.Before(cutoff) {
			s.cache.Remove(key)
		}
	}

	return n, err
}

func (s *TileStore) Stats(ctx context.Context) (storage.TileStats, error) {
	return s.next.Stats(ctx)
}

// Len returns the number of cached tiles.
func (s *TileStore) Len() int {
	return s.cache.Len()
}

func (s *TileStore) expired(tile storage.Tile) bool {
	return s.expiry > 0 && s.now().Sub(tile.DownloadedAt) > s.expiry
}

var _ storage.TileStore = (*TileStore)(nil)
