package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAreaIsExpired(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	horizon := 30 * 24 * time.Hour

	tests := []struct {
		name   string
		status AreaStatus
		age    time.Duration
		want   bool
	}{
		{name: "fresh completed area", status: AreaStatusCompleted, age: 24 * time.Hour, want: false},
		{name: "old completed area", status: AreaStatusCompleted, age: 31 * 24 * time.Hour, want: true},
		{name: "old failed area stays failed", status: AreaStatusFailed, age: 31 * 24 * time.Hour, want: false},
		{name: "old downloading area", status: AreaStatusDownloading, age: 31 * 24 * time.Hour, want: false},
		{name: "already expired", status: AreaStatusExpired, age: time.Hour, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			area := Area{Status: tt.status, CreatedAt: now.Add(-tt.age)}
			assert.Equal(t, tt.want, area.IsExpired(now, horizon))
		})
	}
}

func TestAreaCovers(t *testing.T) {
	area := Area{PropertyIDs: []string{"p1", "p2"}}

	assert.True(t, area.Covers("p2"))
	assert.False(t, area.Covers("p3"))
}

func TestEstimateSizeMB(t *testing.T) {
	assert.InDelta(t, 15.0/1024, EstimateSizeMB(1), 1e-12)
	assert.InDelta(t, 0, EstimateSizeMB(0), 1e-12)
	assert.InDelta(t, 1024*15.0/1024, EstimateSizeMB(1024), 1e-9)
}

func TestAreaStatusIsFinished(t *testing.T) {
	assert.False(t, AreaStatusDownloading.IsFinished())
	assert.True(t, AreaStatusCompleted.IsFinished())
	assert.True(t, AreaStatusFailed.IsFinished())
	assert.True(t, AreaStatusExpired.IsFinished())
}

func TestTileKeyString(t *testing.T) {
	assert.Equal(t, "12/2048/1361", TileKey{X: 2048, Y: 1361, Zoom: 12}.String())
}
