// Package app assembles the tile cache from configuration. The service and the CLI share
// it so both run against the same stores with the same settings.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/italolelis/offline_maps/internal/config"
	"github.com/italolelis/offline_maps/internal/downloader"
	"github.com/italolelis/offline_maps/internal/events"
	"github.com/italolelis/offline_maps/internal/fetcher"
	"github.com/italolelis/offline_maps/internal/logctx"
	"github.com/italolelis/offline_maps/internal/netstatus"
	"github.com/italolelis/offline_maps/internal/offline"
	"github.com/italolelis/offline_maps/internal/storage"
	"github.com/italolelis/offline_maps/internal/storage/memcache"
	"github.com/italolelis/offline_maps/internal/storage/objectstore"
	"github.com/italolelis/offline_maps/internal/storage/sqlite"
	"github.com/italolelis/offline_maps/internal/telemetry"
)

type App struct {
	Manager *offline.Manager
	Broker  *events.Broker
	Prober  *netstatus.Prober

	db *sql.DB
}

// New opens the database, builds the configured tile store and starts nothing; downloads
// begin only when requested through the manager. tel may be nil.
func New(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry) (*App, error) {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Database
	db, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	tiles, err := buildTileStore(ctx, cfg, db)
	if err != nil {
		db.Close()

		return nil, err
	}

	if cfg.HotCacheSize > 0 {
		tiles = memcache.New(tiles, cfg.HotCacheSize, cfg.HotCacheTTL, cfg.TileExpiry)
	}

	instrumentedTiles := storage.NewInstrumentedTileStore(tiles, tel)
	areas := storage.NewInstrumentedAreaStore(sqlite.NewAreaRepository(db), tel)

	logger.Info("storage ready", "tile_store", cfg.TileStore, "db_path", cfg.DBPath, "hot_cache_size", cfg.HotCacheSize)

	// =========================================================================
	// Start Tile Fetcher
	client := fetcher.NewInstrumentedClient(fetcher.NewClient(fetcher.Config{
		BaseURL:       cfg.TileServerURL,
		Token:         cfg.TileServerToken,
		UserAgent:     cfg.TileUserAgent,
		Timeout:       cfg.FetchTimeout,
		Retries:       cfg.FetchRetries,
		RetryInterval: cfg.FetchRetryDelay,
	}), tel)

	// =========================================================================
	// Start Download Coordinator
	broker := events.NewBroker(cfg.EventBuffer)

	coordinator := downloader.NewCoordinator(instrumentedTiles, areas, client, broker, tel, downloader.Config{
		ZoomLevels:   cfg.ZoomLevels,
		BatchSize:    cfg.BatchSize,
		BatchDelay:   cfg.BatchDelay,
		SkipExisting: cfg.SkipExisting,
	})

	manager := offline.NewManager(ctx, instrumentedTiles, areas, coordinator, broker, offline.Config{
		DefaultRadiusKm:      cfg.DefaultRadiusKm,
		DefaultMultiRadiusKm: cfg.DefaultMultiRadiusKm,
		Expiry:               cfg.TileExpiry,
		MaxStorageMB:         cfg.MaxStorageMB,
	})

	if _, err := manager.FailInterrupted(ctx); err != nil {
		db.Close()

		return nil, err
	}

	return &App{
		Manager: manager,
		Broker:  broker,
		Prober:  netstatus.NewProber(cfg.TileServerURL, cfg.FetchTimeout, cfg.NetworkSlowThreshold),
		db:      db,
	}, nil
}

// This is an abstract factory for the tile store.
func buildTileStore(ctx context.Context, cfg *config.Config, db *sql.DB) (storage.TileStore, error) {
	switch cfg.TileStore {
	case config.TileStoreSQLite:
		return sqlite.NewTileRepository(db, cfg.TileExpiry), nil
	case config.TileStoreObjectStore:
		store, err := objectstore.New(ctx, objectstore.Config{
			Endpoint:  cfg.Minio.Endpoint,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			Bucket:    cfg.Minio.Bucket,
			Prefix:    cfg.Minio.Prefix,
			UseSSL:    cfg.Minio.UseSSL,
			Expiry:    cfg.TileExpiry,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to object store: %w", err)
		}

		return store, nil
	}

	return nil, fmt.Errorf("invalid tile store: %s", cfg.TileStore)
}

// Close stops the running downloads, recording them as failed, and closes the database.
func (a *App) Close() error {
	a.Manager.Close()

	return a.db.Close()
}
