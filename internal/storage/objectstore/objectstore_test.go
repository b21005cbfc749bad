package objectstore

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"

	"github.com/italolelis/offline_maps/internal/storage"
)

func TestObjectNameRoundTrip(t *testing.T) {
	s := &TileStore{prefix: "tiles"}
	key := storage.TileKey{X: 2048, Y: 1361, Zoom: 12}

	name := s.objectName(key)
	assert.Equal(t, "tiles/12/2048/1361.png", name)

	got, ok := s.parseObjectName(name)
	assert.True(t, ok)
	assert.Equal(t, key, got)
}

func TestParseObjectNameRejectsForeignObjects(t *testing.T) {
	s := &TileStore{prefix: "tiles"}

	for _, name := range []string{
		"other/12/1/1.png",
		"tiles/12/1.png",
		"tiles/a/b/c.png",
		"tiles/README",
	} {
		_, ok := s.parseObjectName(name)
		assert.False(t, ok, name)
	}
}

func TestTranslateNotFound(t *testing.T) {
	s := &TileStore{prefix: "tiles"}
	key := storage.TileKey{X: 1, Y: 1, Zoom: 1}

	err := s.translate(key, minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = s.translate(key, errors.New("connection reset"))
	assert.NotErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorContains(t, err, "connection reset")
}

func TestDownloadedAt(t *testing.T) {
	modified := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	downloaded := time.Date(2024, 3, 9, 8, 30, 15, 500, time.UTC)

	tests := []struct {
		name string
		info minio.ObjectInfo
		want time.Time
	}{
		{
			name: "user metadata from a listing",
			info: minio.ObjectInfo{
				LastModified: modified,
				UserMetadata: minio.StringMap{"X-Amz-Meta-Downloaded-At": downloaded.Format(time.RFC3339Nano)},
			},
			want: downloaded,
		},
		{
			name: "user metadata from a stat",
			info: minio.ObjectInfo{
				LastModified: modified,
				UserMetadata: minio.StringMap{"Downloaded-At": downloaded.Format(time.RFC3339Nano)},
			},
			want: downloaded,
		},
		{
			name: "raw headers only",
			info: minio.ObjectInfo{
				LastModified: modified,
				Metadata:     http.Header{"X-Amz-Meta-Downloaded-At": []string{downloaded.Format(time.RFC3339Nano)}},
			},
			want: downloaded,
		},
		{
			name: "missing metadata",
			info: minio.ObjectInfo{LastModified: modified},
			want: modified,
		},
		{
			name: "malformed metadata",
			info: minio.ObjectInfo{
				LastModified: modified,
				UserMetadata: minio.StringMap{"Downloaded-At": "yesterday"},
			},
			want: modified,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.want.Equal(downloadedAt(tt.info)), downloadedAt(tt.info))
		})
	}
}
