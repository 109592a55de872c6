package maneuver

import (
	"math"

	"github.com/banshee-data/wind.report/internal/windcourse"
)

// Polars reports target boat speed for a true wind angle and speed. It is an
// opaque collaborator: the estimation core only hands it to classifiers.
type Polars interface {
	BoatSpeedKnots(bc BoatClass, twaDegrees, twsKnots float64) (float64, bool)
}

// GeometricConfig tunes GeometricClassifier.
type GeometricConfig struct {
	// CrossingTurnDegrees is the absolute course change above which a
	// maneuver most likely passed through the wind (tack or jibe).
	CrossingTurnDegrees float64
	// TackJibeToleranceDegrees is the half width of the wind range around the
	// middle course of a tack or jibe.
	TackJibeToleranceDegrees float64
	// MinSideAngleDegrees and MaxSideAngleDegrees bound the true wind angle
	// after a head-up or bear-away.
	MinSideAngleDegrees float64
	MaxSideAngleDegrees float64
	// OtherProbability is the weight of the uninformative full-circle
	// hypothesis that every maneuver receives.
	OtherProbability float64
}

// DefaultGeometricConfig returns production defaults.
func DefaultGeometricConfig() GeometricConfig {
	return GeometricConfig{
		CrossingTurnDegrees:      50,
		TackJibeToleranceDegrees: 10,
		MinSideAngleDegrees:      30,
		MaxSideAngleDegrees:      150,
		OtherProbability:         0.05,
	}
}

// GeometricClassifier derives hypotheses from course geometry alone. It
// serves boat classes for which no trained classifier is registered.
type GeometricClassifier struct {
	cfg    GeometricConfig
	polars Polars
}

// NewGeometricClassifier creates a classifier; polars may be nil.
func NewGeometricClassifier(cfg GeometricConfig, polars Polars) *GeometricClassifier {
	return &GeometricClassifier{cfg: cfg, polars: polars}
}

// Classify returns tack, jibe, head-up, bear-away and other hypotheses with
// probabilities summing to one.
func (c *GeometricClassifier) Classify(m *Maneuver) ([]Hypothesis, error) {
	absChange := math.Abs(m.CourseChange)
	crossing := 0.2
	if absChange >= c.cfg.CrossingTurnDegrees {
		crossing = 0.8
	}
	if absChange >= 300 {
		// Penalty circles pass the wind twice; nothing to learn.
		crossing = 0
	}

	// Tacks lose far more speed than jibes.
	tackShare := clamp(1.3-m.SpeedLossRatio(), 0.2, 0.8)
	if m.SpeedLossRatio() == 0 {
		tackShare = 0.5
	}

	headUpShare := 0.5
	if m.SpeedBeforeKnots > 0 {
		headUpShare = clamp(0.5+(m.SpeedBeforeKnots-m.SpeedAfterKnots)/m.SpeedBeforeKnots, 0.2, 0.8)
	}

	rest := 1 - crossing - c.cfg.OtherProbability
	if rest < 0 {
		rest = 0
	}

	middle := m.MiddleCourse()
	after := m.CourseAfter
	tol := c.cfg.TackJibeToleranceDegrees
	sideSpan := c.cfg.MaxSideAngleDegrees - c.cfg.MinSideAngleDegrees

	// Wind from ahead at mid-tack, wind from astern at mid-jibe.
	tack := Hypothesis{
		Label:       LabelTack,
		WindRange:   windcourse.Centered(windcourse.CourseFromTWD(middle), tol),
		Probability: crossing * tackShare,
	}
	jibe := Hypothesis{
		Label:       LabelJibe,
		WindRange:   windcourse.Centered(middle, tol),
		Probability: crossing * (1 - tackShare),
	}
	// Course ranges of a wind coming from the starboard/port side of the
	// course after the maneuver.
	fromStarboard := windcourse.NewRange(after+180+c.cfg.MinSideAngleDegrees, sideSpan)
	fromPort := windcourse.NewRange(after+180-c.cfg.MaxSideAngleDegrees, sideSpan)
	headUp := Hypothesis{Label: LabelHeadUp, Probability: rest * headUpShare}
	bearAway := Hypothesis{Label: LabelBearAway, Probability: rest * (1 - headUpShare)}

	if m.Clockwise() {
		tack.TackAfter, jibe.TackAfter = TackPort, TackStarboard
		headUp.TackAfter, headUp.WindRange = TackStarboard, fromStarboard
		bearAway.TackAfter, bearAway.WindRange = TackPort, fromPort
	} else {
		tack.TackAfter, jibe.TackAfter = TackStarboard, TackPort
		headUp.TackAfter, headUp.WindRange = TackPort, fromPort
		bearAway.TackAfter, bearAway.WindRange = TackStarboard, fromStarboard
	}

	if c.polars != nil {
		tack.WindSpeedKnots = c.windSpeedFromPolars(m, 45)
		jibe.WindSpeedKnots = c.windSpeedFromPolars(m, 150)
	}

	other := Hypothesis{
		Label:       LabelOther,
		WindRange:   windcourse.NewRange(0, windcourse.FullCircle),
		Probability: c.cfg.OtherProbability,
	}
	return EnsureHypotheses([]Hypothesis{tack, jibe, headUp, bearAway, other}, c.cfg.OtherProbability), nil
}

// windSpeedFromPolars searches the wind speed whose polar boat speed at twa
// best matches the exit speed of the maneuver.
func (c *GeometricClassifier) windSpeedFromPolars(m *Maneuver, twa float64) float64 {
	if m.SpeedAfterKnots <= 0 {
		return 0
	}
	best, bestErr := 0.0, math.Inf(1)
	for tws := 2.0; tws <= 40; tws += 0.5 {
		speed, ok := c.polars.BoatSpeedKnots(m.BoatClass, twa, tws)
		if !ok {
			continue
		}
		if e := math.Abs(speed - m.SpeedAfterKnots); e < bestErr {
			best, bestErr = tws, e
		}
	}
	return best
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
