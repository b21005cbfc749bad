// Package geo holds the spherical and Web Mercator math used to turn a point and a
// radius into the set of slippy-map tiles that cover it.
package geo

import "math"

const (
	// EarthRadiusKm is the mean earth radius used by the haversine distance.
	EarthRadiusKm = 6371.0
	// KmPerDegreeLat is the flat approximation used for bounding boxes.
	KmPerDegreeLat = 111.0
	// MaxLatitude is the northern limit of the Web Mercator projection.
	MaxLatitude = 85.0511287798066
	// MinLatitude is the southern limit of the Web Mercator projection.
	MinLatitude = -MaxLatitude
)

// Point is a WGS84 coordinate in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Bounds is an axis aligned box in degrees. East and West are not wrapped, so a box
// around a point near the antimeridian may have West < -180 or East > 180.
type Bounds struct {
	North float64 `json:"north"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	West  float64 `json:"west"`
}

// Contains reports whether p lies inside the box.
func (b Bounds) Contains(p Point) bool {
	return p.Lat >= b.South && p.Lat <= b.North && p.Lng >= b.West && p.Lng <= b.East
}

// BoundingBox returns the box of half-size radiusKm around center. The latitude delta is
// radius/111 and the longitude delta is radius/(111*cos(lat)), capped at a full turn.
func BoundingBox(center Point, radiusKm float64) Bounds {
	if radiusKm < 0 {
		radiusKm = 0
	}

	latDelta := radiusKm / KmPerDegreeLat

	lngDelta := 0.0
	if radiusKm > 0 {
		cos := math.Cos(toRadians(center.Lat))
		if cos < 1e-12 {
			lngDelta = 180
		} else {
			lngDelta = math.Min(radiusKm/(KmPerDegreeLat*cos), 180)
		}
	}

	return Bounds{
		North: math.Min(center.Lat+latDelta, 90),
		South: math.Max(center.Lat-latDelta, -90),
		East:  center.Lng + lngDelta,
		West:  center.Lng - lngDelta,
	}
}

// DistanceKm returns the great circle distance between a and b.
func DistanceKm(a, b Point) float64 {
	dLat := toRadians(b.Lat - a.Lat)
	dLng := toRadians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(a.Lat))*math.Cos(toRadians(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)

	return 2 * EarthRadiusKm * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Centroid returns the arithmetic mean of the points. It returns the zero point for an
// empty slice.
func Centroid(points []Point) Point {
	if len(points) == 0 {
		return Point{}
	}

	var lat, lng float64
	for _, p := range points {
		lat += p.Lat
		lng += p.Lng
	}

	n := float64(len(points))

	return Point{Lat: lat / n, Lng: lng / n}
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
