package progress

import (
	"math"
	"time"

	"github.com/unklstewy/flight-tracker/pkg/geo"
	"github.com/unklstewy/flight-tracker/pkg/telemetry"
)

// Prediction is a report's position carried forward in time.
type Prediction struct {
	// Position is the predicted location
	Position geo.Coordinate

	// At is when the prediction is valid
	At time.Time

	// Confidence in [0,1]; 1.0 at last contact, 0.0 a minute later
	Confidence float64
}

// Predict dead-reckons r from its last contact to at, assuming the
// aircraft holds its ground speed and track. Reports on the ground or
// without speed and track are not moved.
//
// Returns false if the report has no position.
func Predict(r telemetry.Report, at time.Time) (Prediction, bool) {
	if r.Position == nil {
		return Prediction{}, false
	}

	deltaT := at.Sub(r.LastContact).Seconds()
	if deltaT <= 0 || r.OnGround || r.VelocityMps == nil || r.HeadingDeg == nil {
		return Prediction{Position: *r.Position, At: at, Confidence: 1.0}, true
	}

	// 1.0 at 0s, 0.5 at 30s, 0.0 at 60s+
	confidence := math.Max(0.0, 1.0-deltaT/60.0)

	distanceKm := *r.VelocityMps * deltaT / 1000.0
	return Prediction{
		Position:   geo.Destination(*r.Position, *r.HeadingDeg, distanceKm),
		At:         at,
		Confidence: confidence,
	}, true
}
