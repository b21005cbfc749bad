// Package objectstore keeps tiles in an S3 compatible bucket, one object per tile.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/italolelis/offline_maps/internal/storage"
)

const (
	sourceURLMeta    = "source-url"
	downloadedAtMeta = "downloaded-at"
)

// Config describes the bucket holding the tiles.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
	Expiry    time.Duration
}

// TileStore implements storage.TileStore on MinIO. Objects are named
// <prefix>/<z>/<x>/<y>.png. The download time is kept in the downloaded-at user metadata;
// objects without it fall back to their last modified time.
type TileStore struct {
	client *minio.Client
	bucket string
	prefix string
	expiry time.Duration
	now    func() time.Time
}

// New connects to the object store and creates the bucket if it does not exist.
func New(ctx context.Context, cfg Config) (*TileStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", cfg.Bucket, err)
	}

	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.Bucket, err)
		}
	}

	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix == "" {
		prefix = "tiles"
	}

	return &TileStore{client: client, bucket: cfg.Bucket, prefix: prefix, expiry: cfg.Expiry, now: time.Now}, nil
}

func (s *TileStore) Put(ctx context.Context, tile storage.Tile) error {
	if tile.DownloadedAt.IsZero() {
		tile.DownloadedAt = s.now()
	}

	_, err := s.client.PutObject(ctx, s.bucket, s.objectName(tile.Key),
		bytes.NewReader(tile.Data), int64(len(tile.Data)),
		minio.PutObjectOptions{
			ContentType:  "image/png",
			UserMetadata: map[string]string{
				sourceURLMeta:    tile.URL,
				downloadedAtMeta: tile.DownloadedAt.UTC().Format(time.RFC3339Nano),
			},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to upload tile %s: %w", tile.Key, err)
	}

	return nil
}

func (s *TileStore) Get(ctx context.Context, key storage.TileKey) (storage.Tile, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.objectName(key), minio.GetObjectOptions{})
	if err != nil {
		return storage.Tile{}, s.translate(key, err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		return storage.Tile{}, s.translate(key, err)
	}

	downloadedAt := downloadedAt(info)

	if s.expiry > 0 && s.now().Sub(downloadedAt) > s.expiry {
		return storage.Tile{}, storage.ErrNotFound
	}

	data, err := io.ReadAll(obj)
	if err != nil {
		return storage.Tile{}, fmt.Errorf("failed to read tile %s: %w", key, err)
	}

	return storage.Tile{
		Key:          key,
		URL:          userMetadata(info, sourceURLMeta),
		Data:         data,
		DownloadedAt: downloadedAt,
	}, nil
}

func (s *TileStore) Delete(ctx context.Context, key storage.TileKey) error {
	if err := s.client.RemoveObject(ctx, s.bucket, s.objectName(key), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete tile %s: %w", key, err)
	}

	return nil
}

func (s *TileStore) DeleteMany(ctx context.Context, keys []storage.TileKey) error {
	for _, key := range keys {
		if err := s.Delete(ctx, key); err != nil {
			return err
		}
	}

	return nil
}

// DeleteExpired walks every tile object and removes the ones downloaded before cutoff.
func (s *TileStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int, error) {
	removed := 0

	opts := minio.ListObjectsOptions{Prefix: s.prefix + "/", Recursive: true, WithMetadata: true}

	for obj := range s.client.ListObjects(ctx, s.bucket, opts) {
		if obj.Err != nil {
			return removed, fmt.Errorf("failed to list tiles: %w", obj.Err)
		}

		if _, ok := s.parseObjectName(obj.Key); !ok || !downloadedAt(obj).Before(cutoff) {
			continue
		}

		if err := s.client.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return removed, fmt.Errorf("failed to delete expired tile %s: %w", obj.Key, err)
		}

		removed++
	}

	return removed, nil
}

func (s *TileStore) Stats(ctx context.Context) (storage.TileStats, error) {
	var stats storage.TileStats

	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: s.prefix + "/", Recursive: true}) {
		if obj.Err != nil {
			return storage.TileStats{}, fmt.Errorf("failed to list tiles: %w", obj.Err)
		}

		if _, ok := s.parseObjectName(obj.Key); !ok {
			continue
		}

		stats.Count++
		stats.SizeBytes += obj.Size
	}

	return stats, nil
}

// downloadedAt reads the download time stored with the object, or its last modified time
// when the metadata is missing or malformed.
func downloadedAt(info minio.ObjectInfo) time.Time {
	if v := userMetadata(info, downloadedAtMeta); v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t
		}
	}

	return info.LastModified
}

// userMetadata looks a key up in the user metadata, which listings and stats return with
// different casing and prefixes.
func userMetadata(info minio.ObjectInfo, key string) string {
	for k, v := range info.UserMetadata {
		if strings.EqualFold(strings.TrimPrefix(strings.ToLower(k), "x-amz-meta-"), key) {
			return v
		}
	}

	return info.Metadata.Get("X-Amz-Meta-" + key)
}

func (s *TileStore) objectName(key storage.TileKey) string {
	return fmt.Sprintf("%s/%d/%d/%d.png", s.prefix, key.Zoom, key.X, key.Y)
}

// parseObjectName is the inverse of objectName. Objects under the prefix that do not
// follow the tile layout are reported as not ok and left alone.
func (s *TileStore) parseObjectName(name string) (storage.TileKey, bool) {
	rest, ok := strings.CutPrefix(name, s.prefix+"/")
	if !ok {
		return storage.TileKey{}, false
	}

	parts := strings.Split(strings.TrimSuffix(rest, ".png"), "/")
	if len(parts) != 3 {
		return storage.TileKey{}, false
	}

	var nums [3]int

	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return storage.TileKey{}, false
		}

		nums[i] = n
	}

	return storage.TileKey{Zoom: nums[0], X: nums[1], Y: nums[2]}, true
}

func (s *TileStore) translate(key storage.TileKey, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return storage.ErrNotFound
	}

	return fmt.Errorf("failed to fetch tile %s: %w", key, err)
}
