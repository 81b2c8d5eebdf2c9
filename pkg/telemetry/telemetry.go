// Package telemetry models live aircraft state reports and the providers
// that fetch them.
//
// A Provider returns a Snapshot: every report the receiver network knew
// about at one instant. Snapshots are replaced wholesale on each refresh
// and never patched in place. The Matcher picks the report that belongs
// to a tracked flight.
package telemetry

import (
	"context"
	"time"

	"github.com/unklstewy/flight-tracker/pkg/geo"
)

// Report is a single aircraft's broadcast state.
// Optional values are pointers; a nil pointer means the receiver network
// did not supply the value.
type Report struct {
	// VehicleID is the transponder's 24-bit ICAO address in hex (e.g., "a1b2c3")
	VehicleID string `json:"vehicle_id" msgpack:"id"`

	// Callsign as broadcast, untrimmed (e.g., "UAL123  ")
	Callsign *string `json:"callsign,omitempty" msgpack:"cs,omitempty"`

	// Position is the last reported location
	Position *geo.Coordinate `json:"position,omitempty" msgpack:"pos,omitempty"`

	// LastContact is when the network last heard from the transponder (UTC)
	LastContact time.Time `json:"last_contact" msgpack:"lc"`

	// OnGround is true when the aircraft reports a surface position
	OnGround bool `json:"on_ground" msgpack:"gnd"`

	// VelocityMps is ground speed in meters per second
	VelocityMps *float64 `json:"velocity_mps,omitempty" msgpack:"v,omitempty"`

	// HeadingDeg is true track in degrees (0 = North, clockwise)
	HeadingDeg *float64 `json:"heading_deg,omitempty" msgpack:"hdg,omitempty"`

	// BaroAltitudeM is barometric altitude in meters
	BaroAltitudeM *float64 `json:"baro_altitude_m,omitempty" msgpack:"balt,omitempty"`

	// GeoAltitudeM is geometric (GNSS) altitude in meters
	GeoAltitudeM *float64 `json:"geo_altitude_m,omitempty" msgpack:"galt,omitempty"`

	// OriginCountry is the country the transponder is registered in, if known
	OriginCountry string `json:"origin_country,omitempty" msgpack:"oc,omitempty"`
}

// CallsignValue returns the callsign or "" when absent.
func (r Report) CallsignValue() string {
	if r.Callsign == nil {
		return ""
	}
	return *r.Callsign
}

// HasPosition reports whether the report carries a position.
func (r Report) HasPosition() bool {
	return r.Position != nil
}

// Snapshot is the full set of reports captured at one instant.
type Snapshot struct {
	// CapturedAt is the provider's timestamp for this snapshot (UTC)
	CapturedAt time.Time `json:"captured_at" msgpack:"at"`

	// Source names the provider that produced the snapshot (e.g., "opensky")
	Source string `json:"source" msgpack:"src"`

	// Reports in provider order
	Reports []Report `json:"reports" msgpack:"r"`
}

// Len returns the number of reports, treating a nil snapshot as empty.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Reports)
}

// Age returns how old the snapshot is relative to now.
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.CapturedAt)
}

// Area restricts a fetch to the regions a tracked flight cares about.
// An empty Area means the whole world.
type Area struct {
	Regions []geo.BoundingBox
}

// Provider is the interface that all live-telemetry sources must implement.
// This abstraction allows switching between OpenSky, airplanes.live or a
// local receiver without touching the tracking session.
type Provider interface {
	// Name identifies the provider in logs and persisted records.
	Name() string

	// FetchSnapshot performs one pull of the current state reports.
	// Implementations must honour ctx cancellation.
	FetchSnapshot(ctx context.Context, area Area) (*Snapshot, error)

	// Close cleanly shuts down the provider.
	Close() error
}

func strPtr(s string) *string { return &s }
func floatPtr(f float64) *float64 { return &f }
