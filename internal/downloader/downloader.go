package downloader

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/italolelis/offline_maps/internal/downloader/progress"
	"github.com/italolelis/offline_maps/internal/events"
	"github.com/italolelis/offline_maps/internal/geo"
	"github.com/italolelis/offline_maps/internal/logctx"
	"github.com/italolelis/offline_maps/internal/storage"
	"github.com/italolelis/offline_maps/internal/telemetry"
)

// ErrCancelled is returned in a Result when the pass was stopped through its context.
var ErrCancelled = errors.New("download cancelled")

// TileFetcher downloads the bytes of a single tile.
type TileFetcher interface {
	Fetch(ctx context.Context, key storage.TileKey) ([]byte, error)
	TileURL(key storage.TileKey) string
}

// Config tunes a download pass.
type Config struct {
	ZoomLevels []int
	BatchSize  int
	BatchDelay time.Duration
	// SkipExisting avoids refetching tiles already present and unexpired in the store.
	SkipExisting bool
}

// DefaultConfig returns zoom levels 10, 12, 14 and 16 with batches of 10 tiles 100ms apart.
func DefaultConfig() Config {
	return Config{
		ZoomLevels: []int{10, 12, 14, 16},
		BatchSize:  10,
		BatchDelay: 100 * time.Millisecond,
	}
}

// Result summarises a finished pass.
type Result struct {
	AreaID     string
	Status     storage.AreaStatus
	Total      int
	Downloaded int
	Err        error
}

// Coordinator runs download passes: it fetches the tiles of an area in fixed size batches,
// stores them, persists progress and reports events.
type Coordinator struct {
	tiles     storage.TileStore
	areas     storage.AreaStore
	fetcher   TileFetcher
	observer  events.Observer
	telemetry *telemetry.Telemetry
	cfg       Config
	now       func() time.Time
}

func NewCoordinator(
	tiles storage.TileStore,
	areas storage.AreaStore,
	fetcher TileFetcher,
	observer events.Observer,
	tel *telemetry.Telemetry,
	cfg Config,
) *Coordinator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}

	if len(cfg.ZoomLevels) == 0 {
		cfg.ZoomLevels = DefaultConfig().ZoomLevels
	}

	if observer == nil {
		observer = events.ObserverFunc(func(events.Event) {})
	}

	return &Coordinator{
		tiles:     tiles,
		areas:     areas,
		fetcher:   fetcher,
		observer:  observer,
		telemetry: tel,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Plan returns the tiles covering a circle, zoom level by zoom level.
func (c *Coordinator) Plan(center geo.Point, radiusKm float64) []storage.TileKey {
	coords := geo.TilesForZooms(geo.BoundingBox(center, radiusKm), c.cfg.ZoomLevels)

	keys := make([]storage.TileKey, len(coords))
	for i, coord := range coords {
		keys[i] = storage.TileKey(coord)
	}

	return keys
}

// Run executes one download pass for area and blocks until it finishes. The area's
// TileKeys are the target set; when empty they are planned from its center and radius.
// The final record keeps only the tiles actually stored, and is completed when at least
// one tile was stored and failed otherwise. Individual tile failures never abort the pass.
func (c *Coordinator) Run(ctx context.Context, area storage.Area) (result Result) {
	ctx, logger := logctx.With(ctx, "area_id", area.ID)
	start := c.now()

	c.telemetry.IncrementActiveDownloads()
	defer c.telemetry.DecrementActiveDownloads()

	var stored []storage.TileKey

	defer func() {
		if r := recover(); r != nil {
			logger.Error("download pass panicked", "panic", r, "stack", string(debug.Stack()))
			c.telemetry.RecordSystemError("downloader", "panic")

			result = c.finish(ctx, area, stored, fmt.Errorf("download pass panicked: %v", r))
		}

		c.telemetry.RecordAreaDownload(string(result.Status), c.now().Sub(start))
	}()

	if len(area.TileKeys) == 0 {
		area.TileKeys = c.Plan(area.Center, area.RadiusKm)
	}

	area.Bounds = geo.BoundingBox(area.Center, area.RadiusKm)
	area.Status = storage.AreaStatusDownloading

	logger.Info("starting area download", "tiles", len(area.TileKeys), "radius_km", area.RadiusKm)

	err := c.download(ctx, &area, &stored)

	return c.finish(ctx, area, stored, err)
}

func (c *Coordinator) download(ctx context.Context, area *storage.Area, stored *[]storage.TileKey) error {
	keys := area.TileKeys
	total := len(keys)

	tracker := progress.NewTracker(total, 0, func(s progress.Snapshot) {
		c.observer.Notify(events.Event{
			Kind:       events.KindProgress,
			AreaID:     area.ID,
			Progress:   s.Percent,
			Downloaded: s.Stored,
			Total:      s.Total,
			Status:     storage.AreaStatusDownloading,
			At:         c.now(),
		})
	})

	for start := 0; start < total; start += c.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrCancelled, err)
		}

		end := min(start+c.cfg.BatchSize, total)

		ok, err := c.fetchBatch(ctx, keys[start:end])
		if err != nil {
			return err
		}

		*stored = append(*stored, ok...)

		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrCancelled, err)
		}

		snap := tracker.Add(end-start, len(ok))

		area.Progress = snap.Percent
		area.LastUsedAt = c.now()

		if err := c.areas.Save(ctx, *area); err != nil {
			return fmt.Errorf("failed to persist progress: %w", err)
		}

		if end < total {
			if err := sleep(ctx, c.cfg.BatchDelay); err != nil {
				return fmt.Errorf("%w: %w", ErrCancelled, err)
			}
		}
	}

	return nil
}

// fetchBatch fetches the batch concurrently and returns the stored keys in batch order.
// Fetch failures are logged and skipped; a storage failure or a panic fails the batch.
func (c *Coordinator) fetchBatch(ctx context.Context, batch []storage.TileKey) ([]storage.TileKey, error) {
	ok := make([]bool, len(batch))

	g, gctx := errgroup.WithContext(ctx)

	for i, key := range batch {
		g.Go(func() error {
			stored, err := c.fetchTile(gctx, key)
			ok[i] = stored

			return err
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	stored := make([]storage.TileKey, 0, len(batch))

	for i, key := range batch {
		if ok[i] {
			stored = append(stored, key)
		}
	}

	return stored, nil
}

// fetchTile fetches and stores one tile. A fetch failure is logged and reported as not
// stored. Panics are recovered here as errors; the recover in Run does not reach errgroup
// goroutines.
func (c *Coordinator) fetchTile(ctx context.Context, key storage.TileKey) (stored bool, err error) {
	logger := logctx.LoggerFromContext(ctx)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("tile download panicked", "tile", key.String(), "panic", r, "stack", string(debug.Stack()))
			c.telemetry.RecordSystemError("downloader", "panic")

			stored, err = false, fmt.Errorf("tile %s: panic: %v", key, r)
		}
	}()

	if c.cfg.SkipExisting {
		if _, err := c.tiles.Get(ctx, key); err == nil {
			return true, nil
		}
	}

	data, err := c.fetcher.Fetch(ctx, key)
	if err != nil {
		logger.Warn("failed to fetch tile", "tile", key.String(), "err", err)

		return false, nil
	}

	tile := storage.Tile{Key: key, URL: c.fetcher.TileURL(key), Data: data, DownloadedAt: c.now()}
	if err := c.tiles.Put(ctx, tile); err != nil {
		return false, fmt.Errorf("failed to store tile %s: %w", key, err)
	}

	return true, nil
}

// finish persists the final record and emits the completion event. It uses a context
// detached from cancellation so a cancelled pass is still recorded as failed.
func (c *Coordinator) finish(ctx context.Context, area storage.Area, stored []storage.TileKey, cause error) Result {
	logger := logctx.LoggerFromContext(ctx)
	ctx = context.WithoutCancel(ctx)

	planned := len(area.TileKeys)

	area.TileKeys = append([]storage.TileKey(nil), stored...)
	area.SizeMB = storage.EstimateSizeMB(len(stored))
	area.LastUsedAt = c.now()

	switch {
	case cause != nil:
		area.Status = storage.AreaStatusFailed
	case len(stored) == 0:
		area.Status = storage.AreaStatusFailed
		area.Progress = 100
		cause = fmt.Errorf("no tiles could be downloaded")
	default:
		area.Status = storage.AreaStatusCompleted
		area.Progress = 100
	}

	if err := c.areas.Save(ctx, area); err != nil {
		logger.Error("failed to save area", "err", err)

		if cause == nil {
			cause = err
		}
	}

	event := events.Event{
		Kind:       events.KindComplete,
		AreaID:     area.ID,
		Progress:   area.Progress,
		Downloaded: len(stored),
		Total:      planned,
		Status:     area.Status,
		At:         c.now(),
	}

	if cause != nil {
		event.Err = cause.Error()

		logger.Error("area download failed", "downloaded", len(stored), "total", planned, "err", cause)
	} else {
		logger.Info("area download completed", "downloaded", len(stored), "total", planned, "size_mb", area.SizeMB)
	}

	c.observer.Notify(event)

	return Result{
		AreaID:     area.ID,
		Status:     area.Status,
		Total:      planned,
		Downloaded: len(stored),
		Err:        cause,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
