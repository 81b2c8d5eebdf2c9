package flight

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/unklstewy/flight-tracker/pkg/geo"
)

const (
	// CruiseSpeedKmh is the constant ground speed assumed when a schedule
	// has no independently known duration.
	CruiseSpeedKmh = 850.0

	// RouteSegments is the number of great-circle segments stored on a
	// generated schedule.
	RouteSegments = 20

	// endpointToleranceKm is how far a waypoint list may start or end from
	// the airport it claims to connect.
	endpointToleranceKm = 0.01
)

// ErrInvalidSchedule is returned by Validate.
var ErrInvalidSchedule = errors.New("invalid route schedule")

// RouteSchedule is the planned route and timing of one flight.
// It is read-only once built; re-downloading a route replaces it.
type RouteSchedule struct {
	// Departure and Arrival are the route endpoints
	Departure Airport `json:"departure"`
	Arrival   Airport `json:"arrival"`

	// DepartureTime is the actual or scheduled off-block time (UTC)
	DepartureTime time.Time `json:"departure_time"`

	// EstimatedDuration is the expected time en route
	EstimatedDuration time.Duration `json:"estimated_duration"`

	// EstimatedDistanceKm is the planned route length
	EstimatedDistanceKm float64 `json:"estimated_distance_km"`

	// Waypoints is an optional great-circle polyline from Departure to Arrival
	Waypoints []geo.Coordinate `json:"waypoints,omitempty"`
}

// NewRouteSchedule builds a great-circle schedule between dep and arr,
// assuming CruiseSpeedKmh for the duration.
func NewRouteSchedule(dep, arr Airport, departureTime time.Time) RouteSchedule {
	dist := geo.DistanceKm(dep.Location, arr.Location)
	hours := dist / CruiseSpeedKmh

	return RouteSchedule{
		Departure:           dep,
		Arrival:             arr,
		DepartureTime:       departureTime,
		EstimatedDuration:   time.Duration(hours * float64(time.Hour)),
		EstimatedDistanceKm: dist,
		Waypoints:           slices.Collect(geo.GenerateWaypoints(dep.Location, arr.Location, RouteSegments)),
	}
}

// ArrivalTime returns DepartureTime plus EstimatedDuration.
func (s RouteSchedule) ArrivalTime() time.Time {
	return s.DepartureTime.Add(s.EstimatedDuration)
}

// Validate checks that the duration is positive and that waypoints, if
// present, start at the departure and end at the arrival.
func (s RouteSchedule) Validate() error {
	if s.EstimatedDuration <= 0 {
		return fmt.Errorf("%w: duration %v must be positive", ErrInvalidSchedule, s.EstimatedDuration)
	}
	if len(s.Waypoints) == 0 {
		return nil
	}
	if d := geo.DistanceKm(s.Waypoints[0], s.Departure.Location); d > endpointToleranceKm {
		return fmt.Errorf("%w: waypoints start %.3f km from %s", ErrInvalidSchedule, d, s.Departure.Code())
	}
	last := s.Waypoints[len(s.Waypoints)-1]
	if d := geo.DistanceKm(last, s.Arrival.Location); d > endpointToleranceKm {
		return fmt.Errorf("%w: waypoints end %.3f km from %s", ErrInvalidSchedule, d, s.Arrival.Code())
	}
	return nil
}

// Flight is a tracked flight record.
type Flight struct {
	// ID is the record's primary key
	ID uuid.UUID `json:"id"`

	// FlightNumber is the marketed number or ATC callsign (e.g., "UA123")
	FlightNumber string `json:"flight_number"`

	// Airline and Aircraft are informational (e.g., "United", "B789")
	Airline  string `json:"airline,omitempty"`
	Aircraft string `json:"aircraft,omitempty"`

	// Schedule is the planned route
	Schedule RouteSchedule `json:"schedule"`

	// VehicleID is the transponder id remembered from a previous match
	VehicleID string `json:"vehicle_id,omitempty"`

	// CreatedAt is when the record was first stored
	CreatedAt time.Time `json:"created_at"`
}

// New creates a flight record with a fresh id.
func New(flightNumber string, schedule RouteSchedule) Flight {
	return Flight{
		ID:           uuid.New(),
		FlightNumber: strings.ToUpper(strings.TrimSpace(flightNumber)),
		Schedule:     schedule,
		CreatedAt:    time.Now().UTC(),
	}
}
