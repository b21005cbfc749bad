package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/italolelis/offline_maps/internal/storage"
)

const areaColumns = `id, name, center_lat, center_lng, radius_km, north, south, east, west,
	tile_keys, property_ids, size_mb, progress, status, created_at, last_used_at`

// AreaRepository stores area records in the map_areas table. Tile keys and property ids
// are kept as JSON arrays.
type AreaRepository struct {
	db *sql.DB
}

func NewAreaRepository(db *sql.DB) *AreaRepository {
	return &AreaRepository{db: db}
}

// Save inserts the area or replaces the stored record with the same id.
func (r *AreaRepository) Save(ctx context.Context, area storage.Area) error {
	tileKeys, err := json.Marshal(nonNilKeys(area.TileKeys))
	if err != nil {
		return fmt.Errorf("failed to encode tile keys: %w", err)
	}

	propertyIDs, err := json.Marshal(nonNilStrings(area.PropertyIDs))
	if err != nil {
		return fmt.Errorf("failed to encode property ids: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `INSERT OR REPLACE INTO map_areas (`+areaColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		area.ID, area.Name, area.Center.Lat, area.Center.Lng, area.RadiusKm,
		area.Bounds.North, area.Bounds.South, area.Bounds.East, area.Bounds.West,
		string(tileKeys), string(propertyIDs), area.SizeMB, area.Progress, string(area.Status),
		area.CreatedAt.UnixNano(), area.LastUsedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save area %s: %w", area.ID, err)
	}

	return nil
}

func (r *AreaRepository) Get(ctx context.Context, id string) (storage.Area, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+areaColumns+` FROM map_areas WHERE id = ?`, id)

	area, err := scanArea(row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Area{}, storage.ErrNotFound
	}

	if err != nil {
		return storage.Area{}, fmt.Errorf("failed to read area %s: %w", id, err)
	}

	return area, nil
}

// List returns every area, oldest first.
func (r *AreaRepository) List(ctx context.Context) ([]storage.Area, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+areaColumns+` FROM map_areas ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list areas: %w", err)
	}
	defer rows.Close()

	var areas []storage.Area

	for rows.Next() {
		area, err := scanArea(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan area: %w", err)
		}

		areas = append(areas, area)
	}

	return areas, rows.Err()
}

func (r *AreaRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM map_areas WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete area %s: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return storage.ErrNotFound
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanArea(s scanner) (storage.Area, error) {
	var (
		area                  storage.Area
		tileKeys, propertyIDs string
		status                string
		createdAt, lastUsedAt int64
	)

	err := s.Scan(
		&area.ID, &area.Name, &area.Center.Lat, &area.Center.Lng, &area.RadiusKm,
		&area.Bounds.North, &area.Bounds.South, &area.Bounds.East, &area.Bounds.West,
		&tileKeys, &propertyIDs, &area.SizeMB, &area.Progress, &status, &createdAt, &lastUsedAt,
	)
	if err != nil {
		return storage.Area{}, err
	}

	if err := json.Unmarshal([]byte(tileKeys), &area.TileKeys); err != nil {
		return storage.Area{}, fmt.Errorf("failed to decode tile keys: %w", err)
	}

	if err := json.Unmarshal([]byte(propertyIDs), &area.PropertyIDs); err != nil {
		return storage.Area{}, fmt.Errorf("failed to decode property ids: %w", err)
	}

	area.Status = storage.AreaStatus(status)
	area.CreatedAt = time.Unix(0, createdAt)
	area.LastUsedAt = time.Unix(0, lastUsedAt)

	return area, nil
}

func nonNilKeys(keys []storage.TileKey) []storage.TileKey {
	if keys == nil {
		return []storage.TileKey{}
	}

	return keys
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}

	return s
}
