// Package progress computes where a flight is and how far along its route
// it has come, either from a live telemetry report or by dead reckoning
// from the schedule alone.
package progress

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/unklstewy/flight-tracker/pkg/flight"
	"github.com/unklstewy/flight-tracker/pkg/geo"
	"github.com/unklstewy/flight-tracker/pkg/location"
	"github.com/unklstewy/flight-tracker/pkg/telemetry"
)

var (
	// ErrData means the schedule cannot yield a ratio: zero or negative
	// duration, or a zero-length route with the aircraft away from it.
	ErrData = errors.New("inconsistent flight data")

	// ErrNoPosition means the report passed to EstimateLive has no position.
	ErrNoPosition = errors.New("telemetry report has no position")
)

// coincidentKm is how close to the departure airport an aircraft on a
// zero-length route must be to count as complete.
const coincidentKm = 0.01

// Namer turns a coordinate into a human-readable place name.
// location.Classifier and location.Resolver both satisfy it.
type Namer interface {
	Classify(c geo.Coordinate) string
}

// Mode says which estimate a Result carries.
type Mode string

const (
	ModeLive    Mode = "live"
	ModeOffline Mode = "offline"
)

// FlightProgress is the telemetry-driven estimate.
type FlightProgress struct {
	CurrentPosition     geo.Coordinate `json:"current_position"`
	ProgressFraction    float64        `json:"progress_fraction"`
	DistanceRemainingKm float64        `json:"distance_remaining_km"`

	// ETASeconds is 0 when the aircraft reports no forward speed
	ETASeconds float64 `json:"eta_seconds"`

	CurrentLocationName string  `json:"current_location_name"`
	AltitudeM           float64 `json:"altitude_m"`
	SpeedMps            float64 `json:"speed_mps"`
	HeadingDeg          float64 `json:"heading_deg"`
	OnGround            bool    `json:"on_ground"`

	// VehicleID is the transponder the estimate was computed from
	VehicleID string `json:"vehicle_id"`

	ComputedAt time.Time `json:"computed_at"`
}

// OfflineEstimate is the schedule-driven estimate.
type OfflineEstimate struct {
	EstimatedPosition     geo.Coordinate `json:"estimated_position"`
	ProgressFraction      float64        `json:"progress_fraction"`
	EstimatedLocationName string         `json:"estimated_location_name"`
	ElapsedSeconds        float64        `json:"elapsed_seconds"`
	RemainingSeconds      float64        `json:"remaining_seconds"`
	ComputedAt            time.Time      `json:"computed_at"`
}

// Result carries exactly one of Live or Offline, selected by Mode.
type Result struct {
	Mode    Mode             `json:"mode"`
	Live    *FlightProgress  `json:"live,omitempty"`
	Offline *OfflineEstimate `json:"offline,omitempty"`
}

// Fraction returns the progress fraction of whichever estimate is set.
func (r Result) Fraction() float64 {
	switch {
	case r.Live != nil:
		return r.Live.ProgressFraction
	case r.Offline != nil:
		return r.Offline.ProgressFraction
	}
	return 0
}

// Position returns the current or estimated position.
func (r Result) Position() geo.Coordinate {
	switch {
	case r.Live != nil:
		return r.Live.CurrentPosition
	case r.Offline != nil:
		return r.Offline.EstimatedPosition
	}
	return geo.Coordinate{}
}

// LocationName returns the place name of whichever estimate is set.
func (r Result) LocationName() string {
	switch {
	case r.Live != nil:
		return r.Live.CurrentLocationName
	case r.Offline != nil:
		return r.Offline.EstimatedLocationName
	}
	return ""
}

// ComputedAt returns when the estimate was produced.
func (r Result) ComputedAt() time.Time {
	switch {
	case r.Live != nil:
		return r.Live.ComputedAt
	case r.Offline != nil:
		return r.Offline.ComputedAt
	}
	return time.Time{}
}

// Estimator combines schedules and reports into progress values.
// The zero value is usable: it names places with the static classifier
// and reads the wall clock.
type Estimator struct {
	// Classifier names positions. Nil means location.NewClassifier().
	Classifier Namer

	// Now is the time source for ComputedAt. Nil means time.Now.
	Now func() time.Time

	// MaxExtrapolation enables dead reckoning of live reports from their
	// last contact up to the estimate time, for contacts no older than
	// this. Zero disables it. Predictions that have decayed to zero
	// confidence (a minute or more) are not applied either.
	MaxExtrapolation time.Duration
}

// NewEstimator returns an estimator that names places with namer.
func NewEstimator(namer Namer) *Estimator {
	return &Estimator{Classifier: namer}
}

func (e *Estimator) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

var staticNamer = location.NewClassifier()

func (e *Estimator) name(c geo.Coordinate) string {
	if e.Classifier == nil {
		return staticNamer.Classify(c)
	}
	return e.Classifier.Classify(c)
}

// EstimateLive computes progress from a report's position.
//
// Total distance is always the live great-circle distance between the
// two airports; the schedule's EstimatedDistanceKm is not used, so the
// fraction stays consistent with DistanceRemainingKm.
func (e *Estimator) EstimateLive(schedule flight.RouteSchedule, report telemetry.Report) (FlightProgress, error) {
	return e.estimateLive(schedule, report, e.now())
}

func (e *Estimator) estimateLive(schedule flight.RouteSchedule, report telemetry.Report, now time.Time) (FlightProgress, error) {
	if report.Position == nil {
		return FlightProgress{}, ErrNoPosition
	}

	pos := *report.Position
	if e.MaxExtrapolation > 0 && now.Sub(report.LastContact) <= e.MaxExtrapolation {
		// A zero-confidence prediction is no better than the last fix
		if p, ok := Predict(report, now); ok && p.Confidence > 0 {
			pos = p.Position
		}
	}

	dep := schedule.Departure.Location
	arr := schedule.Arrival.Location
	fromDeparture := geo.DistanceKm(dep, pos)
	total := geo.DistanceKm(dep, arr)

	var fraction float64
	if total == 0 {
		if fromDeparture > coincidentKm {
			return FlightProgress{}, fmt.Errorf("%w: zero-length route %s-%s with aircraft %.2f km away",
				ErrData, schedule.Departure.Code(), schedule.Arrival.Code(), fromDeparture)
		}
		fraction = 1
	} else {
		fraction = clamp01(fromDeparture / total)
	}

	remaining := geo.DistanceKm(pos, arr)
	speed := deref(report.VelocityMps)

	var eta float64
	if speed > 0 {
		eta = remaining * 1000 / speed
	}

	altitude := 0.0
	switch {
	case report.BaroAltitudeM != nil:
		altitude = *report.BaroAltitudeM
	case report.GeoAltitudeM != nil:
		altitude = *report.GeoAltitudeM
	}

	return FlightProgress{
		CurrentPosition:     pos,
		ProgressFraction:    fraction,
		DistanceRemainingKm: remaining,
		ETASeconds:          eta,
		CurrentLocationName: e.name(pos),
		AltitudeM:           altitude,
		SpeedMps:            speed,
		HeadingDeg:          deref(report.HeadingDeg),
		OnGround:            report.OnGround,
		VehicleID:           report.VehicleID,
		ComputedAt:          now,
	}, nil
}

// EstimateOffline dead-reckons the flight from its schedule, assuming a
// constant speed along the great circle.
//
// Before departure the aircraft is placed at the departure airport and
// named after the departure city.
func (e *Estimator) EstimateOffline(schedule flight.RouteSchedule, now time.Time) (OfflineEstimate, error) {
	duration := schedule.EstimatedDuration.Seconds()
	if duration <= 0 {
		return OfflineEstimate{}, fmt.Errorf("%w: estimated duration %v must be positive", ErrData, schedule.EstimatedDuration)
	}

	elapsed := now.Sub(schedule.DepartureTime).Seconds()
	if elapsed < 0 {
		name := schedule.Departure.PlaceName()
		if name == "" {
			name = e.name(schedule.Departure.Location)
		}
		return OfflineEstimate{
			EstimatedPosition:     schedule.Departure.Location,
			ProgressFraction:      0,
			EstimatedLocationName: name,
			ElapsedSeconds:        0,
			RemainingSeconds:      duration,
			ComputedAt:            now,
		}, nil
	}

	fraction := clamp01(elapsed / duration)
	pos := geo.Interpolate(schedule.Departure.Location, schedule.Arrival.Location, fraction)

	return OfflineEstimate{
		EstimatedPosition:     pos,
		ProgressFraction:      fraction,
		EstimatedLocationName: e.name(pos),
		ElapsedSeconds:        elapsed,
		RemainingSeconds:      math.Max(duration-elapsed, 0),
		ComputedAt:            now,
	}, nil
}

// Estimate applies the dispatch policy: a live estimate when a matched
// report has a position and offline mode is not forced, otherwise an
// offline estimate. A nil match means no telemetry.
func (e *Estimator) Estimate(schedule flight.RouteSchedule, match *telemetry.Report, offline bool, now time.Time) (Result, error) {
	if !offline && match != nil && match.HasPosition() {
		p, err := e.estimateLive(schedule, *match, now)
		if err != nil {
			return Result{}, err
		}
		return Result{Mode: ModeLive, Live: &p}, nil
	}

	o, err := e.EstimateOffline(schedule, now)
	if err != nil {
		return Result{}, err
	}
	return Result{Mode: ModeOffline, Offline: &o}, nil
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
