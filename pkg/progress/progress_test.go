package progress

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/unklstewy/flight-tracker/pkg/flight"
	"github.com/unklstewy/flight-tracker/pkg/geo"
	"github.com/unklstewy/flight-tracker/pkg/location"
	"github.com/unklstewy/flight-tracker/pkg/telemetry"
)

var departure = time.Date(2024, 6, 1, 15, 0, 0, 0, time.UTC)

func laxJFK(t *testing.T) flight.RouteSchedule {
	t.Helper()
	dir := flight.DefaultDirectory()
	lax, _ := dir.Find("LAX")
	jfk, _ := dir.Find("JFK")
	s := flight.NewRouteSchedule(lax, jfk, departure)
	s.EstimatedDuration = 4 * time.Hour
	return s
}

type countingNamer struct {
	calls int
}

func (n *countingNamer) Classify(c geo.Coordinate) string {
	n.calls++
	return "somewhere"
}

func f64(v float64) *float64 { return &v }

func approx(t *testing.T, name string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: expected %v (±%v), got %v", name, want, tol, got)
	}
}

// TestEstimateOffline tests schedule-only dead reckoning.
func TestEstimateOffline(t *testing.T) {
	s := laxJFK(t)
	e := NewEstimator(location.NewClassifier())

	t.Run("Halfway", func(t *testing.T) {
		got, err := e.EstimateOffline(s, departure.Add(2*time.Hour))
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		approx(t, "fraction", got.ProgressFraction, 0.5, 1e-9)
		approx(t, "elapsed", got.ElapsedSeconds, 7200, 1e-9)
		approx(t, "remaining", got.RemainingSeconds, 7200, 1e-9)

		want := geo.Interpolate(s.Departure.Location, s.Arrival.Location, 0.5)
		if geo.DistanceKm(got.EstimatedPosition, want) > 1e-6 {
			t.Errorf("Expected position %v, got %v", want, got.EstimatedPosition)
		}
		if got.EstimatedLocationName != location.NewClassifier().Classify(want) {
			t.Errorf("Unexpected location name %q", got.EstimatedLocationName)
		}
		if !got.ComputedAt.Equal(departure.Add(2 * time.Hour)) {
			t.Errorf("Expected ComputedAt to be the supplied time, got %v", got.ComputedAt)
		}
	})

	t.Run("Before departure", func(t *testing.T) {
		got, err := e.EstimateOffline(s, departure.Add(-30*time.Minute))
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if got.ProgressFraction != 0 {
			t.Errorf("Expected progress 0, got %f", got.ProgressFraction)
		}
		if got.EstimatedPosition != s.Departure.Location {
			t.Errorf("Expected departure position, got %v", got.EstimatedPosition)
		}
		if got.RemainingSeconds != 4*3600 {
			t.Errorf("Expected full duration remaining, got %f", got.RemainingSeconds)
		}
		if got.EstimatedLocationName != "Los Angeles, United States" {
			t.Errorf("Expected departure city, got %q", got.EstimatedLocationName)
		}
	})

	t.Run("After arrival", func(t *testing.T) {
		got, err := e.EstimateOffline(s, departure.Add(6*time.Hour))
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if got.ProgressFraction != 1 {
			t.Errorf("Expected progress 1, got %f", got.ProgressFraction)
		}
		if got.RemainingSeconds != 0 {
			t.Errorf("Expected 0 remaining, got %f", got.RemainingSeconds)
		}
		if geo.DistanceKm(got.EstimatedPosition, s.Arrival.Location) > 1e-6 {
			t.Errorf("Expected arrival position, got %v", got.EstimatedPosition)
		}
	})

	t.Run("Monotonic progress", func(t *testing.T) {
		prev := -1.0
		for m := -60; m <= 360; m += 7 {
			got, err := e.EstimateOffline(s, departure.Add(time.Duration(m)*time.Minute))
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if got.ProgressFraction < prev {
				t.Fatalf("Progress went backwards at %dm: %f < %f", m, got.ProgressFraction, prev)
			}
			if got.ProgressFraction < 0 || got.ProgressFraction > 1 {
				t.Fatalf("Progress out of range at %dm: %f", m, got.ProgressFraction)
			}
			prev = got.ProgressFraction
		}
	})

	t.Run("Zero duration", func(t *testing.T) {
		bad := s
		bad.EstimatedDuration = 0
		if _, err := e.EstimateOffline(bad, departure); !errors.Is(err, ErrData) {
			t.Errorf("Expected ErrData, got %v", err)
		}
	})
}

// TestEstimateLive tests the telemetry-driven estimate.
func TestEstimateLive(t *testing.T) {
	s := laxJFK(t)
	now := departure.Add(2 * time.Hour)
	namer := &countingNamer{}
	e := &Estimator{Classifier: namer, Now: func() time.Time { return now }}

	total := geo.DistanceKm(s.Departure.Location, s.Arrival.Location)
	mid := geo.Interpolate(s.Departure.Location, s.Arrival.Location, 0.5)

	t.Run("Midpoint", func(t *testing.T) {
		r := telemetry.Report{
			VehicleID:     "a1b2c3",
			Position:      &mid,
			VelocityMps:   f64(250),
			HeadingDeg:    f64(70),
			BaroAltitudeM: f64(10668),
			GeoAltitudeM:  f64(10900),
		}
		got, err := e.EstimateLive(s, r)
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		approx(t, "fraction", got.ProgressFraction, 0.5, 1e-6)
		approx(t, "remaining", got.DistanceRemainingKm, total/2, 1e-3)
		approx(t, "eta", got.ETASeconds, got.DistanceRemainingKm*1000/250, 1e-9)
		if got.AltitudeM != 10668 {
			t.Errorf("Expected baro altitude preferred, got %f", got.AltitudeM)
		}
		if got.HeadingDeg != 70 || got.SpeedMps != 250 {
			t.Errorf("Expected heading/speed copied through, got %f/%f", got.HeadingDeg, got.SpeedMps)
		}
		if got.CurrentLocationName != "somewhere" || namer.calls == 0 {
			t.Errorf("Expected classifier to name position, got %q", got.CurrentLocationName)
		}
		if !got.ComputedAt.Equal(now) || got.VehicleID != "a1b2c3" {
			t.Errorf("Unexpected metadata: %v %s", got.ComputedAt, got.VehicleID)
		}
	})

	t.Run("Zero speed gives zero ETA", func(t *testing.T) {
		got, err := e.EstimateLive(s, telemetry.Report{Position: &mid, GeoAltitudeM: f64(9000)})
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if got.ETASeconds != 0 {
			t.Errorf("Expected ETA 0, got %f", got.ETASeconds)
		}
		if got.AltitudeM != 9000 {
			t.Errorf("Expected geo altitude fallback, got %f", got.AltitudeM)
		}
	})

	t.Run("No altitude", func(t *testing.T) {
		got, _ := e.EstimateLive(s, telemetry.Report{Position: &mid})
		if got.AltitudeM != 0 {
			t.Errorf("Expected altitude 0, got %f", got.AltitudeM)
		}
	})

	t.Run("Beyond arrival clamps", func(t *testing.T) {
		past := geo.Coordinate{Latitude: 42.0, Longitude: -60.0}
		got, err := e.EstimateLive(s, telemetry.Report{Position: &past})
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if got.ProgressFraction != 1 {
			t.Errorf("Expected progress clamped to 1, got %f", got.ProgressFraction)
		}
	})

	t.Run("No position", func(t *testing.T) {
		if _, err := e.EstimateLive(s, telemetry.Report{VehicleID: "x"}); !errors.Is(err, ErrNoPosition) {
			t.Errorf("Expected ErrNoPosition, got %v", err)
		}
	})
}

func TestEstimateLiveZeroLengthRoute(t *testing.T) {
	dir := flight.DefaultDirectory()
	lax, _ := dir.Find("LAX")
	s := flight.NewRouteSchedule(lax, lax, departure)
	e := NewEstimator(nil)

	t.Run("At the airport", func(t *testing.T) {
		at := lax.Location
		got, err := e.EstimateLive(s, telemetry.Report{Position: &at})
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if got.ProgressFraction != 1 {
			t.Errorf("Expected progress 1, got %f", got.ProgressFraction)
		}
	})

	t.Run("Away from the airport", func(t *testing.T) {
		away := geo.Coordinate{Latitude: 34.5, Longitude: -118.0}
		if _, err := e.EstimateLive(s, telemetry.Report{Position: &away}); !errors.Is(err, ErrData) {
			t.Errorf("Expected ErrData, got %v", err)
		}
	})
}

// TestEstimateDispatch tests the live/offline selection.
func TestEstimateDispatch(t *testing.T) {
	s := laxJFK(t)
	e := NewEstimator(&countingNamer{})
	now := departure.Add(time.Hour)
	pos := geo.Interpolate(s.Departure.Location, s.Arrival.Location, 0.3)
	withPos := &telemetry.Report{VehicleID: "a", Position: &pos}
	noPos := &telemetry.Report{VehicleID: "b"}

	tests := []struct {
		name     string
		match    *telemetry.Report
		offline  bool
		wantMode Mode
	}{
		{"Live report", withPos, false, ModeLive},
		{"Offline forced", withPos, true, ModeOffline},
		{"No match", nil, false, ModeOffline},
		{"Report without position", noPos, false, ModeOffline},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Estimate(s, tt.match, tt.offline, now)
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if got.Mode != tt.wantMode {
				t.Errorf("Expected mode %s, got %s", tt.wantMode, got.Mode)
			}
			if (got.Live != nil) == (got.Offline != nil) {
				t.Errorf("Expected exactly one estimate, got %+v", got)
			}
			if !got.ComputedAt().Equal(now) {
				t.Errorf("Expected ComputedAt %v, got %v", now, got.ComputedAt())
			}
		})
	}

	t.Run("Offline error surfaces", func(t *testing.T) {
		bad := s
		bad.EstimatedDuration = -time.Second
		if _, err := e.Estimate(bad, nil, false, now); !errors.Is(err, ErrData) {
			t.Errorf("Expected ErrData, got %v", err)
		}
	})
}

func TestMaxExtrapolation(t *testing.T) {
	s := laxJFK(t)
	now := departure.Add(2 * time.Hour)
	pos := geo.Interpolate(s.Departure.Location, s.Arrival.Location, 0.5)
	bearing := geo.BearingDeg(pos, s.Arrival.Location)
	r := telemetry.Report{
		Position:    &pos,
		LastContact: now.Add(-20 * time.Second),
		VelocityMps: f64(250),
		HeadingDeg:  f64(bearing),
	}

	plain := &Estimator{Classifier: &countingNamer{}}
	moving := &Estimator{Classifier: &countingNamer{}, MaxExtrapolation: time.Minute}

	a, _ := plain.Estimate(s, &r, false, now)
	b, _ := moving.Estimate(s, &r, false, now)

	// 250 m/s for 20 s is 5 km closer to arrival
	approx(t, "extrapolated distance", a.Live.DistanceRemainingKm-b.Live.DistanceRemainingKm, 5.0, 0.05)

	stale := r
	stale.LastContact = now.Add(-2 * time.Minute)
	c, _ := moving.Estimate(s, &stale, false, now)
	if c.Live.CurrentPosition != pos {
		t.Errorf("Expected stale contact not to be extrapolated, got %v", c.Live.CurrentPosition)
	}

	// Inside a generous window, but the prediction has no confidence left
	patient := &Estimator{Classifier: &countingNamer{}, MaxExtrapolation: 10 * time.Minute}
	old := r
	old.LastContact = now.Add(-90 * time.Second)
	d, _ := patient.Estimate(s, &old, false, now)
	if d.Live.CurrentPosition != pos {
		t.Errorf("Expected zero-confidence prediction to be ignored, got %v", d.Live.CurrentPosition)
	}
}

// TestPredict tests dead reckoning of a single report.
func TestPredict(t *testing.T) {
	now := time.Now().UTC()
	start := geo.Coordinate{Latitude: 0, Longitude: 0}

	t.Run("Zero delta time returns current position", func(t *testing.T) {
		p, ok := Predict(telemetry.Report{Position: &start, LastContact: now, VelocityMps: f64(250), HeadingDeg: f64(90)}, now)
		if !ok || p.Position != start || p.Confidence != 1.0 {
			t.Errorf("Expected unchanged position with confidence 1, got %+v", p)
		}
	})

	t.Run("Moves east along the equator", func(t *testing.T) {
		p, ok := Predict(telemetry.Report{Position: &start, LastContact: now, VelocityMps: f64(250), HeadingDeg: f64(90)}, now.Add(30*time.Second))
		if !ok {
			t.Fatal("Expected prediction")
		}
		approx(t, "latitude", p.Position.Latitude, 0, 1e-9)
		approx(t, "moved km", geo.DistanceKm(start, p.Position), 7.5, 1e-6)
		if p.Position.Longitude <= 0 {
			t.Errorf("Expected eastward movement, got %f", p.Position.Longitude)
		}
		approx(t, "confidence", p.Confidence, 0.5, 1e-9)
	})

	t.Run("On ground stays put", func(t *testing.T) {
		p, _ := Predict(telemetry.Report{Position: &start, OnGround: true, LastContact: now, VelocityMps: f64(10), HeadingDeg: f64(0)}, now.Add(time.Minute))
		if p.Position != start {
			t.Errorf("Expected no movement on ground, got %v", p.Position)
		}
	})

	t.Run("No position", func(t *testing.T) {
		if _, ok := Predict(telemetry.Report{}, now); ok {
			t.Error("Expected no prediction without position")
		}
	})
}
