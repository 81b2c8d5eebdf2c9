// Package geo provides the spherical-geometry primitives used by the
// flight progress engine: great-circle distance, interpolation, bearing
// and forward projection on a spherical Earth.
//
// All functions are pure and safe for concurrent use.
package geo

import (
	"iter"
	"math"
)

// Constants for coordinate calculations
const (
	// DegreesToRadians converts degrees to radians
	DegreesToRadians = math.Pi / 180.0

	// RadiansToDegrees converts radians to degrees
	RadiansToDegrees = 180.0 / math.Pi

	// EarthRadiusKm is the Earth's mean radius in kilometers
	EarthRadiusKm = 6371.0

	// FeetToMeters converts feet to meters
	FeetToMeters = 0.3048

	// KnotsToMetersPerSecond converts knots to meters per second
	KnotsToMetersPerSecond = 1852.0 / 3600.0

	// KilometersPerDegreeLatitude is the approximate length of one degree of latitude
	KilometersPerDegreeLatitude = 111.0

	// coincidentEpsilon is the central angle (radians) below which two
	// points are treated as the same point.
	coincidentEpsilon = 1e-9
)

// Coordinate is a position on the Earth's surface in decimal degrees.
type Coordinate struct {
	// Latitude in decimal degrees (-90 to +90)
	// Positive = North, Negative = South
	Latitude float64 `json:"latitude" msgpack:"lat"`

	// Longitude in decimal degrees (-180 to +180)
	// Positive = East, Negative = West
	Longitude float64 `json:"longitude" msgpack:"lon"`
}

// toRadians returns the coordinate as (latRad, lonRad).
func (c Coordinate) toRadians() (float64, float64) {
	return c.Latitude * DegreesToRadians, c.Longitude * DegreesToRadians
}

// Valid reports whether the coordinate lies inside the latitude and
// longitude domain.
func (c Coordinate) Valid() bool {
	return c.Latitude >= -90 && c.Latitude <= 90 &&
		c.Longitude >= -180 && c.Longitude <= 180 &&
		!math.IsNaN(c.Latitude) && !math.IsNaN(c.Longitude)
}

// NormalizeAzimuth ensures azimuth is in the range [0, 360).
func NormalizeAzimuth(azimuth float64) float64 {
	az := math.Mod(azimuth, 360.0)
	if az < 0 {
		az += 360.0
	}
	return az
}

// NormalizeLongitude wraps a longitude into [-180, 180].
func NormalizeLongitude(lon float64) float64 {
	if lon > 180.0 {
		lon -= 360.0
	} else if lon < -180.0 {
		lon += 360.0
	}
	return lon
}

// centralAngle returns the great-circle angle in radians between a and b
// using the haversine formula.
func centralAngle(a, b Coordinate) float64 {
	lat1, lon1 := a.toRadians()
	lat2, lon2 := b.toRadians()

	dLat := lat2 - lat1
	dLon := lon2 - lon1

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// DistanceKm calculates the great-circle distance between two points.
// Uses the Haversine formula for accuracy over short and long distances.
// Returns distance in kilometers. The result is symmetric and zero for
// identical points.
func DistanceKm(a, b Coordinate) float64 {
	return EarthRadiusKm * centralAngle(a, b)
}

// BearingDeg calculates the initial bearing (forward azimuth) from one point to another.
// Returns bearing in degrees [0, 360), where 0 = North, 90 = East, 180 = South, 270 = West.
func BearingDeg(from, to Coordinate) float64 {
	lat1, lon1 := from.toRadians()
	lat2, lon2 := to.toRadians()

	dLon := lon2 - lon1
	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)

	return NormalizeAzimuth(math.Atan2(y, x) * RadiansToDegrees)
}

// Interpolate returns the point at fraction along the great-circle arc
// from a to b, where 0 yields a and 1 yields b.
//
// Coincident points (central angle below 1e-9 rad) return a.
// Antipodal points have no unique great circle; sin(d) approaches zero
// and the result is undefined and may contain NaN. Callers that can
// see antipodal input must check Valid on the result.
func Interpolate(a, b Coordinate, fraction float64) Coordinate {
	d := centralAngle(a, b)
	if d < coincidentEpsilon {
		return a
	}

	lat1, lon1 := a.toRadians()
	lat2, lon2 := b.toRadians()

	sinD := math.Sin(d)
	wa := math.Sin((1-fraction)*d) / sinD
	wb := math.Sin(fraction*d) / sinD

	x := wa*math.Cos(lat1)*math.Cos(lon1) + wb*math.Cos(lat2)*math.Cos(lon2)
	y := wa*math.Cos(lat1)*math.Sin(lon1) + wb*math.Cos(lat2)*math.Sin(lon2)
	z := wa*math.Sin(lat1) + wb*math.Sin(lat2)

	lat := math.Atan2(z, math.Sqrt(x*x+y*y))
	lon := math.Atan2(y, x)

	return Coordinate{
		Latitude:  lat * RadiansToDegrees,
		Longitude: lon * RadiansToDegrees,
	}
}

// GenerateWaypoints yields n+1 points sampled along the great circle from
// a to b at fractions i/n for i in 0..n. The sequence is lazy and may be
// ranged over any number of times. For n <= 0 only a is yielded.
func GenerateWaypoints(a, b Coordinate, n int) iter.Seq[Coordinate] {
	return func(yield func(Coordinate) bool) {
		if n <= 0 {
			yield(a)
			return
		}
		for i := 0; i <= n; i++ {
			if !yield(Interpolate(a, b, float64(i)/float64(n))) {
				return
			}
		}
	}
}

// Destination calculates the point reached by travelling distanceKm from
// start along the given initial bearing. This is the forward azimuth
// formula used for dead reckoning.
func Destination(start Coordinate, bearingDeg, distanceKm float64) Coordinate {
	latRad, lonRad := start.toRadians()
	trackRad := bearingDeg * DegreesToRadians

	// Angular distance (distance / Earth radius)
	angular := distanceKm / EarthRadiusKm

	// lat2 = asin(sin(lat1)*cos(d) + cos(lat1)*sin(d)*cos(track))
	newLatRad := math.Asin(
		math.Sin(latRad)*math.Cos(angular) +
			math.Cos(latRad)*math.Sin(angular)*math.Cos(trackRad),
	)

	// lon2 = lon1 + atan2(sin(track)*sin(d)*cos(lat1), cos(d)-sin(lat1)*sin(lat2))
	newLonRad := lonRad + math.Atan2(
		math.Sin(trackRad)*math.Sin(angular)*math.Cos(latRad),
		math.Cos(angular)-math.Sin(latRad)*math.Sin(newLatRad),
	)

	return Coordinate{
		Latitude:  newLatRad * RadiansToDegrees,
		Longitude: NormalizeLongitude(newLonRad * RadiansToDegrees),
	}
}
