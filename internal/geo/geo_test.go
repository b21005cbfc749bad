package geo

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTileCoordinate(t *testing.T) {
	tests := []struct {
		name  string
		lat   float64
		lng   float64
		zoom  int
		wantX int
		wantY int
	}{
		{name: "origin at zoom 0", lat: 0, lng: 0, zoom: 0, wantX: 0, wantY: 0},
		{name: "origin at zoom 1", lat: 0, lng: 0, zoom: 1, wantX: 1, wantY: 1},
		{name: "london at zoom 10", lat: 51.5074, lng: -0.1278, zoom: 10, wantX: 511, wantY: 340},
		{name: "north pole is clamped", lat: 90, lng: 0, zoom: 4, wantX: 8, wantY: 0},
		{name: "south pole is clamped", lat: -90, lng: 0, zoom: 4, wantX: 8, wantY: 15},
		{name: "east edge stays in range", lat: 0, lng: 180, zoom: 3, wantX: 7, wantY: 4},
		{name: "west edge", lat: 0, lng: -180, zoom: 3, wantX: 0, wantY: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x, y := TileCoordinate(tt.lat, tt.lng, tt.zoom)
			assert.Equal(t, tt.wantX, x)
			assert.Equal(t, tt.wantY, y)
		})
	}
}

func TestTileCoordinateStaysInRange(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))

	for i := 0; i < 1000; i++ {
		lat := rnd.Float64()*200 - 100
		lng := rnd.Float64()*400 - 200
		zoom := rnd.Intn(19)

		x, y := TileCoordinate(lat, lng, zoom)
		limit := 1<<zoom - 1

		require.GreaterOrEqual(t, x, 0)
		require.LessOrEqual(t, x, limit)
		require.GreaterOrEqual(t, y, 0)
		require.LessOrEqual(t, y, limit)
	}
}

func TestTileCoordinateChildContainsParent(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))

	for i := 0; i < 1000; i++ {
		lat := rnd.Float64()*170 - 85
		lng := rnd.Float64()*360 - 180
		zoom := rnd.Intn(18)

		x, y := TileCoordinate(lat, lng, zoom)
		cx, cy := TileCoordinate(lat, lng, zoom+1)

		require.Contains(t, []int{2 * x, 2*x + 1}, cx, "lat=%v lng=%v zoom=%d", lat, lng, zoom)
		require.Contains(t, []int{2 * y, 2*y + 1}, cy, "lat=%v lng=%v zoom=%d", lat, lng, zoom)
	}
}

func TestDistanceKm(t *testing.T) {
	london := Point{Lat: 51.5074, Lng: -0.1278}
	paris := Point{Lat: 48.8566, Lng: 2.3522}

	assert.InDelta(t, 0, DistanceKm(london, london), 1e-9)
	assert.InDelta(t, 111.19, DistanceKm(Point{}, Point{Lng: 1}), 0.01)
	assert.InDelta(t, 344, DistanceKm(london, paris), 2)
	assert.InDelta(t, DistanceKm(london, paris), DistanceKm(paris, london), 1e-9)
}

func TestBoundingBox(t *testing.T) {
	center := Point{Lat: 52.52, Lng: 13.405}

	b := BoundingBox(center, 5)

	assert.True(t, b.Contains(center))
	assert.InDelta(t, 10.0/KmPerDegreeLat, b.North-b.South, 1e-9)
	assert.InDelta(t, 0.0740, (b.East-b.West)/2, 1e-3)
}

func TestBoundingBoxZeroRadius(t *testing.T) {
	center := Point{Lat: 10, Lng: 20}

	b := BoundingBox(center, 0)

	assert.Equal(t, Bounds{North: 10, South: 10, East: 20, West: 20}, b)
}

func TestBoundingBoxContainsCenter(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))

	for i := 0; i < 500; i++ {
		center := Point{Lat: rnd.Float64()*180 - 90, Lng: rnd.Float64()*360 - 180}
		radius := rnd.Float64() * 50

		require.True(t, BoundingBox(center, radius).Contains(center), "center=%+v radius=%v", center, radius)
	}
}

func TestTileRange(t *testing.T) {
	b := BoundingBox(Point{Lat: 51.5074, Lng: -0.1278}, 5)

	r := TileRange(b, 10)

	assert.LessOrEqual(t, r.MinX, 511)
	assert.GreaterOrEqual(t, r.MaxX, 511)
	assert.LessOrEqual(t, r.MinY, 340)
	assert.GreaterOrEqual(t, r.MaxY, 340)
	assert.Equal(t, (r.MaxX-r.MinX+1)*(r.MaxY-r.MinY+1), r.Count())
	assert.Len(t, r.Tiles(), r.Count())
}

func TestTileRangeSinglePoint(t *testing.T) {
	r := TileRange(BoundingBox(Point{}, 0), 0)

	assert.Equal(t, 1, r.Count())
	assert.Equal(t, []Coord{{X: 0, Y: 0, Zoom: 0}}, r.Tiles())
}

func TestTileRangesAcrossAntimeridian(t *testing.T) {
	b := BoundingBox(Point{Lat: 0, Lng: 179.99}, 5)
	require.Greater(t, b.East, 180.0)

	ranges := TileRanges(b, 10)

	require.Len(t, ranges, 2)
	assert.Equal(t, 1023, ranges[0].MaxX)
	assert.Equal(t, 0, ranges[1].MinX)

	for _, r := range ranges {
		assert.Less(t, r.MaxX-r.MinX, 10, "a split range must not span the whole world")
	}
}

func TestTileRangesWholeWorld(t *testing.T) {
	b := Bounds{North: 10, South: -10, West: -200, East: 200}

	ranges := TileRanges(b, 2)

	require.Len(t, ranges, 1)
	assert.Equal(t, 0, ranges[0].MinX)
	assert.Equal(t, 3, ranges[0].MaxX)
}

func TestTilesForZooms(t *testing.T) {
	b := BoundingBox(Point{Lat: 48.8566, Lng: 2.3522}, 2)

	tiles := TilesForZooms(b, []int{10, 12})

	want := TileRange(b, 10).Count() + TileRange(b, 12).Count()
	require.Len(t, tiles, want)
	assert.Equal(t, 10, tiles[0].Zoom)
	assert.Equal(t, 12, tiles[len(tiles)-1].Zoom)
}

func TestCentroid(t *testing.T) {
	assert.Equal(t, Point{}, Centroid(nil))

	c := Centroid([]Point{{Lat: 0, Lng: 0}, {Lat: 10, Lng: 20}})

	assert.InDelta(t, 5, c.Lat, 1e-9)
	assert.InDelta(t, 10, c.Lng, 1e-9)
	assert.False(t, math.IsNaN(c.Lat))
}
