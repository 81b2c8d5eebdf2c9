package geo

import "math"

// BoundingBox is a latitude/longitude aligned rectangle.
// Boxes never cross the antimeridian; MinLon <= MaxLon always holds.
type BoundingBox struct {
	MinLat float64 `json:"min_lat"`
	MaxLat float64 `json:"max_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLon float64 `json:"max_lon"`
}

// Contains reports whether c lies inside the box, edges included.
func (b BoundingBox) Contains(c Coordinate) bool {
	return c.Latitude >= b.MinLat && c.Latitude <= b.MaxLat &&
		c.Longitude >= b.MinLon && c.Longitude <= b.MaxLon
}

// Center returns the midpoint of the box in degree space.
func (b BoundingBox) Center() Coordinate {
	return Coordinate{
		Latitude:  (b.MinLat + b.MaxLat) / 2,
		Longitude: (b.MinLon + b.MaxLon) / 2,
	}
}

// RegionAround builds a square region with the given half-width around
// center. The longitude span is widened by 1/cos(latitude) to compensate
// for meridian convergence, and clamped to the coordinate domain. Near
// the antimeridian the clamped box misses the far side; use RegionsAround
// when that matters.
func RegionAround(center Coordinate, halfWidthKm float64) BoundingBox {
	latDelta, lonDelta := regionDeltas(center, halfWidthKm)
	return BoundingBox{
		MinLat: math.Max(-90, center.Latitude-latDelta),
		MaxLat: math.Min(90, center.Latitude+latDelta),
		MinLon: math.Max(-180, center.Longitude-lonDelta),
		MaxLon: math.Min(180, center.Longitude+lonDelta),
	}
}

// RegionsAround covers the same region as RegionAround but wraps at the
// antimeridian: a region spilling past ±180 comes back as two boxes, one
// on each side.
func RegionsAround(center Coordinate, halfWidthKm float64) []BoundingBox {
	box := RegionAround(center, halfWidthKm)
	_, lonDelta := regionDeltas(center, halfWidthKm)
	if lonDelta >= 180 {
		return []BoundingBox{box}
	}

	lo := center.Longitude - lonDelta
	hi := center.Longitude + lonDelta
	switch {
	case lo < -180:
		far := box
		far.MinLon, far.MaxLon = lo+360, 180
		return []BoundingBox{box, far}
	case hi > 180:
		far := box
		far.MinLon, far.MaxLon = -180, hi-360
		return []BoundingBox{box, far}
	}
	return []BoundingBox{box}
}

// AnyContains reports whether any of boxes contains c.
func AnyContains(boxes []BoundingBox, c Coordinate) bool {
	for _, b := range boxes {
		if b.Contains(c) {
			return true
		}
	}
	return false
}

func regionDeltas(center Coordinate, halfWidthKm float64) (latDelta, lonDelta float64) {
	latDelta = halfWidthKm / KilometersPerDegreeLatitude

	cosLat := math.Cos(center.Latitude * DegreesToRadians)
	lonDelta = 180.0
	if cosLat > 1e-6 {
		lonDelta = math.Min(180.0, halfWidthKm/(KilometersPerDegreeLatitude*cosLat))
	}
	return latDelta, lonDelta
}

// Union returns the smallest box that contains both a and b.
func Union(a, b BoundingBox) BoundingBox {
	return BoundingBox{
		MinLat: math.Min(a.MinLat, b.MinLat),
		MaxLat: math.Max(a.MaxLat, b.MaxLat),
		MinLon: math.Min(a.MinLon, b.MinLon),
		MaxLon: math.Max(a.MaxLon, b.MaxLon),
	}
}
