package telemetry

import (
	"math"
	"strings"

	"github.com/unklstewy/flight-tracker/pkg/geo"
)

// DefaultSearchHalfWidthKm is the half-width of the search square placed
// around each airport by the region strategy.
const DefaultSearchHalfWidthKm = 100.0

// Strategy names reported in Match.Strategy.
const (
	StrategyCallsign     = "callsign"
	StrategyVehicleID    = "vehicle-id"
	StrategyRegionPrefix = "region-prefix"
)

// Query identifies the flight to look for.
type Query struct {
	// FlightID is the flight number or ATC callsign (e.g., "UAL123" or "UA123")
	FlightID string

	// KnownVehicleID is a transponder id remembered from an earlier match
	KnownVehicleID string

	// Departure and Arrival are the route endpoints
	Departure geo.Coordinate
	Arrival   geo.Coordinate
}

// Match is a successful lookup.
type Match struct {
	Report   Report
	Strategy string
}

// ShouldRemember reports whether the caller should persist the vehicle id
// for future vehicle-id lookups.
func (m Match) ShouldRemember() bool {
	return m.Strategy == StrategyCallsign || m.Strategy == StrategyRegionPrefix
}

// Strategy is one step of the ordered match.
type Strategy struct {
	Name string
	Find func(q Query, reports []Report) (Report, bool)
}

// Matcher finds the report belonging to a flight by trying strategies in
// order and returning the first success.
type Matcher struct {
	strategies []Strategy
}

// NewMatcher returns a matcher with the standard strategy order:
// exact callsign, remembered vehicle id, then airport region plus
// carrier prefix.
func NewMatcher() *Matcher {
	return NewMatcherWithStrategies(
		Strategy{Name: StrategyCallsign, Find: byCallsign},
		Strategy{Name: StrategyVehicleID, Find: byVehicleID},
		Strategy{Name: StrategyRegionPrefix, Find: byRegionPrefix(DefaultSearchHalfWidthKm)},
	)
}

// NewMatcherWithStrategies returns a matcher over a custom strategy list.
func NewMatcherWithStrategies(strategies ...Strategy) *Matcher {
	return &Matcher{strategies: strategies}
}

// Match searches snap for q. An empty or nil snapshot never matches.
func (m *Matcher) Match(q Query, snap *Snapshot) (Match, bool) {
	if snap.Len() == 0 {
		return Match{}, false
	}
	for _, s := range m.strategies {
		if r, ok := s.Find(q, snap.Reports); ok {
			return Match{Report: r, Strategy: s.Name}, true
		}
	}
	return Match{}, false
}

func normalizeIdent(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func byCallsign(q Query, reports []Report) (Report, bool) {
	want := normalizeIdent(q.FlightID)
	if want == "" {
		return Report{}, false
	}
	for _, r := range reports {
		if normalizeIdent(r.CallsignValue()) == want {
			return r, true
		}
	}
	return Report{}, false
}

func byVehicleID(q Query, reports []Report) (Report, bool) {
	want := strings.ToLower(strings.TrimSpace(q.KnownVehicleID))
	if want == "" {
		return Report{}, false
	}
	for _, r := range reports {
		if strings.ToLower(r.VehicleID) == want {
			return r, true
		}
	}
	return Report{}, false
}

// CarrierPrefix returns the two-character airline designator of a flight
// number, or "" if the flight number is too short.
func CarrierPrefix(flightID string) string {
	id := normalizeIdent(flightID)
	if len(id) < 2 {
		return ""
	}
	return id[:2]
}

func byRegionPrefix(halfWidthKm float64) func(Query, []Report) (Report, bool) {
	return func(q Query, reports []Report) (Report, bool) {
		prefix := CarrierPrefix(q.FlightID)
		if prefix == "" {
			return Report{}, false
		}
		dep := geo.RegionsAround(q.Departure, halfWidthKm)
		arr := geo.RegionsAround(q.Arrival, halfWidthKm)

		for _, r := range reports {
			if r.Position == nil {
				continue
			}
			if !geo.AnyContains(dep, *r.Position) && !geo.AnyContains(arr, *r.Position) {
				continue
			}
			if strings.Contains(normalizeIdent(r.CallsignValue()), prefix) {
				return r, true
			}
		}
		return Report{}, false
	}
}

// RouteArea covers the great-circle corridor from dep to arr with square
// regions of the given half-width, for providers that cannot be queried
// globally. Regions overlap by about ten percent so no part of the
// corridor falls between two of them. Regions crossing the antimeridian
// are split in two.
func RouteArea(dep, arr geo.Coordinate, halfWidthKm float64) Area {
	if halfWidthKm <= 0 {
		halfWidthKm = DefaultSearchHalfWidthKm
	}
	step := 2 * halfWidthKm * 0.9
	n := int(math.Ceil(geo.DistanceKm(dep, arr) / step))

	var area Area
	for c := range geo.GenerateWaypoints(dep, arr, n) {
		area.Regions = append(area.Regions, geo.RegionsAround(c, halfWidthKm)...)
	}
	return area
}
