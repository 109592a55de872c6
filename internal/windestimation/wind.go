package windestimation

import (
	"math"
	"time"

	"github.com/paulmach/orb"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/wind.report/internal/maneuver"
	"github.com/banshee-data/wind.report/internal/windcourse"
)

// Wind is a true wind estimate at a time and place.
type Wind struct {
	Time     time.Time
	Position orb.Point
	// DirectionDegrees is the direction the wind blows from (TWD).
	DirectionDegrees float64
	// SpeedKnots is zero when the classifier gave no estimate.
	SpeedKnots float64
}

// Vector returns the wind velocity in knots as east and north components of
// the direction the wind blows toward.
func (w Wind) Vector() (east, north float64) {
	rad := windcourse.CourseFromTWD(w.DirectionDegrees) * math.Pi / 180
	return w.SpeedKnots * math.Sin(rad), w.SpeedKnots * math.Cos(rad)
}

// WindWithConfidence is one sample of an estimated wind track.
type WindWithConfidence struct {
	Wind
	// Confidence in [0, 1].
	Confidence float64

	ManeuverID   string
	CompetitorID string
	Label        maneuver.Label
	TackAfter    maneuver.Tack
	// WindRange is the range of wind courses of the chosen hypothesis.
	WindRange windcourse.Range
}

// MeanDirection returns the confidence-weighted circular mean of the wind
// directions in degrees. ok is false when there is nothing to average.
func MeanDirection(winds []WindWithConfidence) (mean float64, ok bool) {
	if len(winds) == 0 {
		return 0, false
	}
	angles := make([]float64, len(winds))
	weights := make([]float64, len(winds))
	total := 0.0
	for i, w := range winds {
		angles[i] = w.DirectionDegrees * math.Pi / 180
		weights[i] = w.Confidence
		total += w.Confidence
	}
	if total <= 0 {
		weights = nil
	}
	return windcourse.Normalize(stat.CircularMean(angles, weights) * 180 / math.Pi), true
}
