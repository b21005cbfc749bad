package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/italolelis/offline_maps/internal/storage"
)

// TileRepository stores tile blobs in the map_tiles table.
type TileRepository struct {
	db     *sql.DB
	expiry time.Duration
	now    func() time.Time
}

// NewTileRepository returns a repository that hides tiles older than expiry. A zero expiry
// disables the check.
func NewTileRepository(db *sql.DB, expiry time.Duration) *TileRepository {
	return &TileRepository{db: db, expiry: expiry, now: time.Now}
}

func (r *TileRepository) Put(ctx context.Context, tile storage.Tile) error {
	downloadedAt := tile.DownloadedAt
	if downloadedAt.IsZero() {
		downloadedAt = r.now()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO map_tiles (x, y, zoom, url, data, downloaded_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(x, y, zoom) DO UPDATE SET
			url = excluded.url,
			data = excluded.data,
			downloaded_at = excluded.downloaded_at
	`, tile.Key.X, tile.Key.Y, tile.Key.Zoom, tile.URL, tile.Data, downloadedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to store tile %s: %w", tile.Key, err)
	}

	return nil
}

func (r *TileRepository) Get(ctx context.Context, key storage.TileKey) (storage.Tile, error) {
	tile := storage.Tile{Key: key}

	var downloadedAt int64

	err := r.db.QueryRowContext(ctx,
		`SELECT url, data, downloaded_at FROM map_tiles WHERE x = ? AND y = ? AND zoom = ?`,
		key.X, key.Y, key.Zoom,
	).Scan(&tile.URL, &tile.Data, &downloadedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Tile{}, storage.ErrNotFound
	}

	if err != nil {
		return storage.Tile{}, fmt.Errorf("failed to read tile %s: %w", key, err)
	}

	tile.DownloadedAt = time.Unix(0, downloadedAt)

	if r.expiry > 0 && r.now().Sub(tile.DownloadedAt) > r.expiry {
		return storage.Tile{}, storage.ErrNotFound
	}

	return tile, nil
}

func (r *TileRepository) Delete(ctx context.Context, key storage.TileKey) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM map_tiles WHERE x = ? AND y = ? AND zoom = ?`, key.X, key.Y, key.Zoom)
	if err != nil {
		return fmt.Errorf("failed to delete tile %s: %w", key, err)
	}

	return nil
}

// DeleteMany removes the given tiles in a single transaction. Missing tiles are ignored.
func (r *TileRepository) DeleteMany(ctx context.Context, keys []storage.TileKey) error {
	if len(keys) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM map_tiles WHERE x = ? AND y = ? AND zoom = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete: %w", err)
	}
	defer stmt.Close()

	for _, key := range keys {
		if _, err := stmt.ExecContext(ctx, key.X, key.Y, key.Zoom); err != nil {
			return fmt.Errorf("failed to delete tile %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit tile deletion: %w", err)
	}

	return nil
}

// DeleteExpired removes every tile downloaded before cutoff and returns how many were removed.
func (r *TileRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM map_tiles WHERE downloaded_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired tiles: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	return int(affected), nil
}

func (r *TileRepository) Stats(ctx context.Context) (storage.TileStats, error) {
	var stats storage.TileStats

	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(LENGTH(data)), 0) FROM map_tiles`,
	).Scan(&stats.Count, &stats.SizeBytes)
	if err != nil {
		return storage.TileStats{}, fmt.Errorf("failed to read tile stats: %w", err)
	}

	return stats, nil
}
