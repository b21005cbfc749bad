package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "offline_maps.db", cfg.DBPath)
	assert.Equal(t, TileStoreSQLite, cfg.TileStore)
	assert.Equal(t, []int{10, 12, 14, 16}, cfg.ZoomLevels)
	assert.Equal(t, 10, cfg.BatchSize)
	assert.Equal(t, 100*time.Millisecond, cfg.BatchDelay)
	assert.Equal(t, 30*24*time.Hour, cfg.TileExpiry)
	assert.Zero(t, cfg.FetchRetries)
	assert.InDelta(t, 5.0, cfg.DefaultRadiusKm, 1e-9)
	assert.InDelta(t, 3.0, cfg.DefaultMultiRadiusKm, 1e-9)
	assert.InDelta(t, 500.0, cfg.MaxStorageMB, 1e-9)
	assert.Equal(t, "0.0.0.0:9091", cfg.Web.BindAddress)
	assert.True(t, cfg.Telemetry.Enabled)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("TILE_STORE", "objectstore")
	t.Setenv("MINIO_ENDPOINT", "localhost:9000")
	t.Setenv("MINIO_ACCESS_KEY", "minio")
	t.Setenv("MINIO_USE_SSL", "true")
	t.Setenv("POSTHOG_API_KEY", "phc_test")
	t.Setenv("TELEMETRY_OTLP_ENDPOINT", "otel:4317")
	t.Setenv("ZOOM_LEVELS", "12,15")
	t.Setenv("WEB_BIND_ADDRESS", "127.0.0.1:8080")
	t.Setenv("SKIP_EXISTING", "true")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, TileStoreObjectStore, cfg.TileStore)
	assert.Equal(t, "localhost:9000", cfg.Minio.Endpoint)
	assert.Equal(t, "minio", cfg.Minio.AccessKey)
	assert.True(t, cfg.Minio.UseSSL)
	assert.Equal(t, "phc_test", cfg.Posthog.APIKey)
	assert.Equal(t, "otel:4317", cfg.Telemetry.OTLPEndpoint)
	assert.Equal(t, []int{12, 15}, cfg.ZoomLevels)
	assert.Equal(t, "127.0.0.1:8080", cfg.Web.BindAddress)
	assert.True(t, cfg.SkipExisting)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{TileStore: TileStoreSQLite, ZoomLevels: []int{10}, BatchSize: 10, CleanupInterval: time.Hour}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "unknown store", mutate: func(c *Config) { c.TileStore = "redis" }, wantErr: "invalid TILE_STORE"},
		{name: "objectstore without endpoint", mutate: func(c *Config) { c.TileStore = TileStoreObjectStore }, wantErr: "MINIO_ENDPOINT"},
		{name: "no zoom levels", mutate: func(c *Config) { c.ZoomLevels = nil }, wantErr: "ZOOM_LEVELS"},
		{name: "zoom out of range", mutate: func(c *Config) { c.ZoomLevels = []int{23} }, wantErr: "invalid zoom level 23"},
		{name: "zero batch", mutate: func(c *Config) { c.BatchSize = 0 }, wantErr: "BATCH_SIZE"},
		{name: "zero cleanup interval", mutate: func(c *Config) { c.CleanupInterval = 0 }, wantErr: "CLEANUP_INTERVAL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)

				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSlogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"ERROR":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}

	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			cfg := Config{LogLevel: in}
			assert.Equal(t, want, cfg.SlogLevel())
		})
	}
}
