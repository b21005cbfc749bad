// Package offline is the entry point for caching map areas around properties and for
// serving the cached tiles back.
package offline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/italolelis/offline_maps/internal/downloader"
	"github.com/italolelis/offline_maps/internal/events"
	"github.com/italolelis/offline_maps/internal/geo"
	"github.com/italolelis/offline_maps/internal/logctx"
	"github.com/italolelis/offline_maps/internal/storage"
)

// ErrClosed is returned when a download is requested after Close.
var ErrClosed = errors.New("offline manager is closed")

// Property is a listing with a location. Coordinates are [lat, lng].
type Property struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Coordinates [2]float64 `json:"coordinates"`
}

// Point returns the property location.
func (p Property) Point() geo.Point {
	return geo.Point{Lat: p.Coordinates[0], Lng: p.Coordinates[1]}
}

// Config holds the manager defaults.
type Config struct {
	DefaultRadiusKm      float64
	DefaultMultiRadiusKm float64
	Expiry               time.Duration
	MaxStorageMB         float64
}

// DefaultConfig returns a 5km single property radius, a 3km multi property radius, a 30
// day expiry and a 500MB storage quota.
func DefaultConfig() Config {
	return Config{
		DefaultRadiusKm:      5,
		DefaultMultiRadiusKm: 3,
		Expiry:               30 * 24 * time.Hour,
		MaxStorageMB:         500,
	}
}

// StorageStats summarises the cache.
type StorageStats struct {
	TotalAreas  int
	TotalSizeMB float64
	MaxSizeMB   float64
	AvailableMB float64
	TileCount   int
	TileBytes   int64
}

type download struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager owns the stores and the running download passes. Downloads run in the
// background on a context derived from the one given to NewManager, not from the
// request that started them.
type Manager struct {
	tiles       storage.TileStore
	areas       storage.AreaStore
	coordinator *downloader.Coordinator
	broker      *events.Broker
	cfg         Config
	now         func() time.Time

	baseCtx context.Context
	mu      sync.Mutex
	running map[string]*download
	wg      sync.WaitGroup
	closed  bool
}

func NewManager(
	ctx context.Context,
	tiles storage.TileStore,
	areas storage.AreaStore,
	coordinator *downloader.Coordinator,
	broker *events.Broker,
	cfg Config,
) *Manager {
	defaults := DefaultConfig()
	if cfg.DefaultRadiusKm <= 0 {
		cfg.DefaultRadiusKm = defaults.DefaultRadiusKm
	}

	if cfg.DefaultMultiRadiusKm <= 0 {
		cfg.DefaultMultiRadiusKm = defaults.DefaultMultiRadiusKm
	}

	return &Manager{
		tiles:       tiles,
		areas:       areas,
		coordinator: coordinator,
		broker:      broker,
		cfg:         cfg,
		now:         time.Now,
		baseCtx:     context.WithoutCancel(ctx),
		running:     make(map[string]*download),
	}
}

// AreaIDForProperty returns the id of the area cached around a single property.
func AreaIDForProperty(propertyID string, radiusKm float64) string {
	return "area_" + propertyID + "_" + strconv.FormatFloat(radiusKm, 'f', -1, 64)
}

// DownloadAreaAroundProperty starts caching the circle of radiusKm around the property and
// returns the area id immediately. A radius <= 0 selects the default. Requesting an area
// whose download is still running returns its id without starting a second pass;
// requesting a finished one starts a fresh pass that replaces its record.
func (m *Manager) DownloadAreaAroundProperty(ctx context.Context, p Property, radiusKm float64) (string, error) {
	if radiusKm <= 0 {
		radiusKm = m.cfg.DefaultRadiusKm
	}

	area := m.newArea(AreaIDForProperty(p.ID, radiusKm), "Area around "+p.Title, p.Point(), radiusKm, []string{p.ID})

	if err := m.start(ctx, area); err != nil {
		return "", err
	}

	return area.ID, nil
}

// DownloadMultipleProperties caches one area centred on the centroid of the properties,
// large enough to cover each of them with radiusKm to spare. It returns "" and no error
// for an empty list. A radius <= 0 selects the multi property default.
func (m *Manager) DownloadMultipleProperties(ctx context.Context, props []Property, radiusKm float64) (string, error) {
	if len(props) == 0 {
		return "", nil
	}

	if radiusKm <= 0 {
		radiusKm = m.cfg.DefaultMultiRadiusKm
	}

	points := make([]geo.Point, len(props))
	ids := make([]string, len(props))

	for i, p := range props {
		points[i] = p.Point()
		ids[i] = p.ID
	}

	center := geo.Centroid(points)

	maxDist := 0.0
	for _, p := range points {
		maxDist = math.Max(maxDist, geo.DistanceKm(center, p))
	}

	effective := math.Max(maxDist+radiusKm, 2*radiusKm)

	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate area id: %w", err)
	}

	area := m.newArea("multi_"+id.String(), fmt.Sprintf("Area around %d properties", len(props)), center, effective, ids)

	if err := m.start(ctx, area); err != nil {
		return "", err
	}

	return area.ID, nil
}

func (m *Manager) newArea(id, name string, center geo.Point, radiusKm float64, propertyIDs []string) storage.Area {
	now := m.now()
	tileKeys := m.coordinator.Plan(center, radiusKm)

	return storage.Area{
		ID:          id,
		Name:        name,
		Center:      center,
		RadiusKm:    radiusKm,
		Bounds:      geo.BoundingBox(center, radiusKm),
		TileKeys:    tileKeys,
		PropertyIDs: propertyIDs,
		SizeMB:      storage.EstimateSizeMB(len(tileKeys)),
		Status:      storage.AreaStatusDownloading,
		CreatedAt:   now,
		LastUsedAt:  now,
	}
}

func (m *Manager) start(ctx context.Context, area storage.Area) error {
	logger := logctx.LoggerFromContext(ctx).With("area_id", area.ID)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	if _, ok := m.running[area.ID]; ok {
		logger.Info("area download already running")

		return nil
	}

	if err := m.areas.Save(ctx, area); err != nil {
		return fmt.Errorf("failed to save area: %w", err)
	}

	dctx, cancel := context.WithCancel(logctx.WithLogger(m.baseCtx, logger))
	d := &download{cancel: cancel, done: make(chan struct{})}

	m.running[area.ID] = d
	m.wg.Add(1)

	go func() {
		defer m.wg.Done()
		defer close(d.done)
		defer cancel()
		defer m.forget(area.ID, d)

		m.coordinator.Run(dctx, area)
	}()

	logger.Info("area download started", "tiles", len(area.TileKeys), "radius_km", area.RadiusKm)

	return nil
}

func (m *Manager) forget(id string, d *download) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running[id] == d {
		delete(m.running, id)
	}
}

// FailInterrupted marks areas left downloading by a process that stopped without Close as
// failed, so they can be requested again. Areas with a pass running in this manager are
// left alone. It returns the number of areas changed.
func (m *Manager) FailInterrupted(ctx context.Context) (int, error) {
	logger := logctx.LoggerFromContext(ctx)

	areas, err := m.areas.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list areas: %w", err)
	}

	failed := 0

	for _, a := range areas {
		if a.Status != storage.AreaStatusDownloading || m.IsDownloading(a.ID) {
			continue
		}

		a.Status = storage.AreaStatusFailed
		a.LastUsedAt = m.now()

		if err := m.areas.Save(ctx, a); err != nil {
			return failed, fmt.Errorf("failed to mark area %s failed: %w", a.ID, err)
		}

		logger.Warn("interrupted area download marked failed", "area_id", a.ID, "progress", a.Progress)

		failed++
	}

	return failed, nil
}

// IsDownloading reports whether a pass for the area is in flight.
func (m *Manager) IsDownloading(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.running[id]

	return ok
}

// CancelDownload stops the running pass for the area and waits for it to record its
// failure. It reports whether a pass was running.
func (m *Manager) CancelDownload(id string) bool {
	m.mu.Lock()
	d, ok := m.running[id]
	m.mu.Unlock()

	if !ok {
		return false
	}

	d.cancel()
	<-d.done

	return true
}

// GetDownloadedAreas lists every area. Completed areas older than the expiry horizon are
// reported as expired.
func (m *Manager) GetDownloadedAreas(ctx context.Context) ([]storage.Area, error) {
	areas, err := m.areas.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list areas: %w", err)
	}

	now := m.now()
	for i := range areas {
		if areas[i].IsExpired(now, m.cfg.Expiry) {
			areas[i].Status = storage.AreaStatusExpired
		}
	}

	return areas, nil
}

// GetArea returns one area with the same expiry view as GetDownloadedAreas.
func (m *Manager) GetArea(ctx context.Context, id string) (storage.Area, error) {
	area, err := m.areas.Get(ctx, id)
	if err != nil {
		return storage.Area{}, fmt.Errorf("failed to get area %s: %w", id, err)
	}

	if area.IsExpired(m.now(), m.cfg.Expiry) {
		area.Status = storage.AreaStatusExpired
	}

	return area, nil
}

// GetStorageStats sums the estimated area sizes against the storage quota.
func (m *Manager) GetStorageStats(ctx context.Context) (StorageStats, error) {
	areas, err := m.areas.List(ctx)
	if err != nil {
		return StorageStats{}, fmt.Errorf("failed to list areas: %w", err)
	}

	stats := StorageStats{TotalAreas: len(areas), MaxSizeMB: m.cfg.MaxStorageMB}
	for _, a := range areas {
		stats.TotalSizeMB += a.SizeMB
	}

	stats.AvailableMB = math.Max(0, stats.MaxSizeMB-stats.TotalSizeMB)

	tileStats, err := m.tiles.Stats(ctx)
	if err != nil {
		return StorageStats{}, fmt.Errorf("failed to read tile stats: %w", err)
	}

	stats.TileCount = tileStats.Count
	stats.TileBytes = tileStats.SizeBytes

	return stats, nil
}

// IsAreaAvailableOffline reports whether a completed, unexpired area was downloaded for
// the property.
func (m *Manager) IsAreaAvailableOffline(ctx context.Context, propertyID string) (bool, error) {
	areas, err := m.GetDownloadedAreas(ctx)
	if err != nil {
		return false, err
	}

	for _, a := range areas {
		if a.Status == storage.AreaStatusCompleted && a.Covers(propertyID) {
			return true, nil
		}
	}

	return false, nil
}

// GetTile returns a cached tile, or storage.ErrNotFound when it is missing or expired.
func (m *Manager) GetTile(ctx context.Context, key storage.TileKey) (storage.Tile, error) {
	return m.tiles.Get(ctx, key)
}

// DeleteArea cancels any running pass for the area, then removes its tiles and its record.
// Tiles shared with other areas are removed as well.
func (m *Manager) DeleteArea(ctx context.Context, id string) error {
	m.CancelDownload(id)

	area, err := m.areas.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get area %s: %w", id, err)
	}

	if err := m.tiles.DeleteMany(ctx, area.TileKeys); err != nil {
		return fmt.Errorf("failed to delete tiles of area %s: %w", id, err)
	}

	if err := m.areas.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete area %s: %w", id, err)
	}

	logctx.LoggerFromContext(ctx).Info("area deleted", "area_id", id, "tiles", len(area.TileKeys))

	return nil
}

// CleanupExpiredTiles removes tiles older than the expiry horizon, marks completed areas
// past the horizon as expired and returns the number of tiles removed.
func (m *Manager) CleanupExpiredTiles(ctx context.Context) (int, error) {
	logger := logctx.LoggerFromContext(ctx)
	now := m.now()

	removed, err := m.tiles.DeleteExpired(ctx, now.Add(-m.cfg.Expiry))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired tiles: %w", err)
	}

	areas, err := m.areas.List(ctx)
	if err != nil {
		return removed, fmt.Errorf("failed to list areas: %w", err)
	}

	for _, a := range areas {
		if a.Status != storage.AreaStatusCompleted || !a.IsExpired(now, m.cfg.Expiry) {
			continue
		}

		a.Status = storage.AreaStatusExpired
		if err := m.areas.Save(ctx, a); err != nil {
			return removed, fmt.Errorf("failed to mark area %s expired: %w", a.ID, err)
		}

		logger.Info("area expired", "area_id", a.ID)
	}

	logger.Info("expired tiles removed", "count", removed)

	return removed, nil
}

// Subscribe returns progress and completion events for one area, or for all areas when id
// is empty. Call the returned function to stop receiving.
func (m *Manager) Subscribe(id string) (<-chan events.Event, func()) {
	return m.broker.Subscribe(id)
}

// Wait blocks until every running download pass has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Close refuses new downloads, cancels the running ones and waits for them to record
// their final state.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true

	for _, d := range m.running {
		d.cancel()
	}
	m.mu.Unlock()

	m.wg.Wait()
}
