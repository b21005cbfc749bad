package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/offline_maps/internal/config"
	"github.com/italolelis/offline_maps/internal/events"
	"github.com/italolelis/offline_maps/internal/offline"
	"github.com/italolelis/offline_maps/internal/storage"
	"github.com/italolelis/offline_maps/internal/storage/sqlite"
)

func testConfig(t *testing.T, tileServer string) *config.Config {
	t.Helper()

	cfg := &config.Config{
		DBPath:               filepath.Join(t.TempDir(), "maps.db"),
		TileStore:            config.TileStoreSQLite,
		TileServerURL:        tileServer,
		TileExpiry:           24 * time.Hour,
		FetchTimeout:         time.Second,
		ZoomLevels:           []int{10},
		BatchSize:            10,
		MaxStorageMB:         100,
		HotCacheSize:         64,
		HotCacheTTL:          time.Minute,
		NetworkSlowThreshold: time.Second,
		EventBuffer:          8,
	}

	return cfg
}

func TestNewDownloadsThroughTheStack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ".png") {
			w.WriteHeader(http.StatusOK)

			return
		}

		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("\x89PNG" + r.URL.Path))
	}))
	defer srv.Close()

	ctx := context.Background()

	a, err := New(ctx, testConfig(t, srv.URL), nil)
	require.NoError(t, err)

	defer func() { require.NoError(t, a.Close()) }()

	ch, cancel := a.Manager.Subscribe(offline.AreaIDForProperty("p1", 2))
	defer cancel()

	id, err := a.Manager.DownloadAreaAroundProperty(ctx, offline.Property{
		ID:          "p1",
		Title:       "Flat",
		Coordinates: [2]float64{52.52, 13.405},
	}, 2)
	require.NoError(t, err)

	var last events.Event
	for e := range ch {
		last = e
	}

	assert.Equal(t, events.KindComplete, last.Kind)
	assert.Equal(t, storage.AreaStatusCompleted, last.Status)

	a.Manager.Wait()

	area, err := a.Manager.GetArea(ctx, id)
	require.NoError(t, err)
	require.NotEmpty(t, area.TileKeys)

	tile, err := a.Manager.GetTile(ctx, area.TileKeys[0])
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG/"+area.TileKeys[0].String()+".png", string(tile.Data))

	stats, err := a.Manager.GetStorageStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalAreas)
	assert.Equal(t, len(area.TileKeys), stats.TileCount)
}

func TestNewRejectsUnknownTileStore(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:0")
	cfg.TileStore = "tape"

	_, err := New(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid tile store")
}

func TestNewFailsAreasInterruptedByACrash(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, "http://127.0.0.1:1")

	db, err := sqlite.InitDB(cfg.DBPath)
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, sqlite.NewAreaRepository(db).Save(ctx, storage.Area{
		ID:         "area_p1_5",
		Status:     storage.AreaStatusDownloading,
		Progress:   30,
		CreatedAt:  now,
		LastUsedAt: now,
	}))
	require.NoError(t, db.Close())

	a, err := New(ctx, cfg, nil)
	require.NoError(t, err)

	defer func() { require.NoError(t, a.Close()) }()

	area, err := a.Manager.GetArea(ctx, "area_p1_5")
	require.NoError(t, err)
	assert.Equal(t, storage.AreaStatusFailed, area.Status)
}
