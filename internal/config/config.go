package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	TileStoreSQLite      = "sqlite"
	TileStoreObjectStore = "objectstore"
)

// Config struct for environment variables.
type Config struct {
	DBPath    string `envconfig:"DB_PATH" default:"offline_maps.db"`
	TileStore string `envconfig:"TILE_STORE" default:"sqlite"`

	TileServerURL   string        `envconfig:"TILE_SERVER_URL" default:"https://tile.openstreetmap.org"`
	TileServerToken string        `envconfig:"TILE_SERVER_TOKEN"`
	TileUserAgent   string        `envconfig:"TILE_USER_AGENT" default:"offline-maps/1.0"`
	TileExpiry      time.Duration `envconfig:"TILE_EXPIRY" default:"720h"`
	FetchTimeout    time.Duration `envconfig:"FETCH_TIMEOUT" default:"30s"`
	FetchRetries    int           `envconfig:"FETCH_RETRIES" default:"0"`
	FetchRetryDelay time.Duration `envconfig:"FETCH_RETRY_DELAY" default:"500ms"`

	ZoomLevels   []int         `envconfig:"ZOOM_LEVELS" default:"10,12,14,16"`
	BatchSize    int           `envconfig:"BATCH_SIZE" default:"10"`
	BatchDelay   time.Duration `envconfig:"BATCH_DELAY" default:"100ms"`
	SkipExisting bool          `envconfig:"SKIP_EXISTING" default:"false"`

	DefaultRadiusKm      float64 `envconfig:"DEFAULT_RADIUS_KM" default:"5"`
	DefaultMultiRadiusKm float64 `envconfig:"DEFAULT_MULTI_RADIUS_KM" default:"3"`
	MaxStorageMB         float64 `envconfig:"MAX_STORAGE_MB" default:"500"`

	CleanupInterval      time.Duration `envconfig:"CLEANUP_INTERVAL" default:"1h"`
	HotCacheSize         int           `envconfig:"HOT_CACHE_SIZE" default:"0"`
	HotCacheTTL          time.Duration `envconfig:"HOT_CACHE_TTL" default:"10m"`
	NetworkSlowThreshold time.Duration `envconfig:"NETWORK_SLOW_THRESHOLD" default:"2s"`
	EventBuffer          int           `envconfig:"EVENT_BUFFER" default:"16"`

	LogLevel          string `envconfig:"LOG_LEVEL" default:"INFO"`
	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`

	Minio struct {
		Endpoint  string `split_words:"true"`
		AccessKey string `split_words:"true"`
		SecretKey string `split_words:"true"`
		Bucket    string `split_words:"true" default:"offline-maps"`
		Prefix    string `split_words:"true" default:"tiles"`
		UseSSL    bool   `envconfig:"USE_SSL" default:"false"`
	}

	Posthog struct {
		APIKey   string `envconfig:"API_KEY"`
		Endpoint string `split_words:"true"`
	}

	Telemetry struct {
		Enabled      bool   `split_words:"true" default:"true"`
		ServiceName  string `split_words:"true" default:"offline_maps"`
		OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:9091"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"0s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects combinations envconfig cannot check on its own.
func (c *Config) Validate() error {
	var errs []error

	switch c.TileStore {
	case TileStoreSQLite:
	case TileStoreObjectStore:
		if c.Minio.Endpoint == "" {
			errs = append(errs, errors.New("MINIO_ENDPOINT is required when TILE_STORE is objectstore"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid TILE_STORE: %q", c.TileStore))
	}

	if len(c.ZoomLevels) == 0 {
		errs = append(errs, errors.New("ZOOM_LEVELS must not be empty"))
	}

	for _, z := range c.ZoomLevels {
		if z < 0 || z > 22 {
			errs = append(errs, fmt.Errorf("invalid zoom level %d", z))
		}
	}

	if c.BatchSize <= 0 {
		errs = append(errs, errors.New("BATCH_SIZE must be positive"))
	}

	if c.CleanupInterval <= 0 {
		errs = append(errs, errors.New("CLEANUP_INTERVAL must be positive"))
	}

	return errors.Join(errs...)
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
