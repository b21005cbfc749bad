package geo

import (
	"fmt"
	"math"
)

// Coord addresses a single slippy-map tile.
type Coord struct {
	X    int
	Y    int
	Zoom int
}

func (c Coord) String() string {
	return fmt.Sprintf("%d/%d/%d", c.Zoom, c.X, c.Y)
}

// TileCoordinate converts a coordinate to the tile containing it at the given zoom.
// Latitudes are clamped to the Mercator limits and longitudes to [-180, 180]; the
// resulting indices are always within [0, 2^zoom - 1].
func TileCoordinate(lat, lng float64, zoom int) (x, y int) {
	lat = clamp(lat, MinLatitude, MaxLatitude)
	lng = clamp(lng, -180, 180)

	n := math.Exp2(float64(zoom))
	latRad := toRadians(lat)

	fx := (lng + 180) / 360 * n
	fy := (1 - math.Asinh(math.Tan(latRad))/math.Pi) / 2 * n

	limit := int(n) - 1

	return clampIndex(int(math.Floor(fx)), limit), clampIndex(int(math.Floor(fy)), limit)
}

func clampIndex(v, limit int) int {
	if v < 0 {
		return 0
	}

	if v > limit {
		return limit
	}

	return v
}

// Range is an inclusive rectangle of tiles at one zoom level.
type Range struct {
	Zoom int
	MinX int
	MaxX int
	MinY int
	MaxY int
}

// Count returns the number of tiles in the range.
func (r Range) Count() int {
	return (r.MaxX - r.MinX + 1) * (r.MaxY - r.MinY + 1)
}

// Tiles enumerates the range row by row.
func (r Range) Tiles() []Coord {
	tiles := make([]Coord, 0, r.Count())

	for x := r.MinX; x <= r.MaxX; x++ {
		for y := r.MinY; y <= r.MaxY; y++ {
			tiles = append(tiles, Coord{X: x, Y: y, Zoom: r.Zoom})
		}
	}

	return tiles
}

// TileRange returns the tiles covering b at zoom, treating b as not crossing the
// antimeridian. The north-west corner gives the minimum indices.
func TileRange(b Bounds, zoom int) Range {
	x1, y1 := TileCoordinate(b.North, b.West, zoom)
	x2, y2 := TileCoordinate(b.South, b.East, zoom)

	return Range{
		Zoom: zoom,
		MinX: min(x1, x2),
		MaxX: max(x1, x2),
		MinY: min(y1, y2),
		MaxY: max(y1, y2),
	}
}

// TileRanges is like TileRange but splits a box that crosses the antimeridian into its
// eastern and western parts.
func TileRanges(b Bounds, zoom int) []Range {
	switch {
	case b.East-b.West >= 360:
		b.West, b.East = -180, 180

		return []Range{TileRange(b, zoom)}
	case b.West < -180:
		east := b
		east.West, east.East = b.West+360, 180

		west := b
		west.West = -180

		return []Range{TileRange(west, zoom), TileRange(east, zoom)}
	case b.East > 180:
		west := b
		west.West, west.East = -180, b.East-360

		east := b
		east.East = 180

		return []Range{TileRange(east, zoom), TileRange(west, zoom)}
	default:
		return []Range{TileRange(b, zoom)}
	}
}

// TilesForZooms enumerates every tile covering b, zoom level by zoom level in the order
// given.
func TilesForZooms(b Bounds, zooms []int) []Coord {
	var tiles []Coord

	for _, zoom := range zooms {
		for _, r := range TileRanges(b, zoom) {
			tiles = append(tiles, r.Tiles()...)
		}
	}

	return tiles
}
