// Package maneuver holds the maneuver records consumed by wind estimation and
// the classifier capability that turns a maneuver into wind-course
// hypotheses.
//
// Maneuver detection from raw GPS tracks and classifier training happen
// upstream; this package only models their outputs.
package maneuver

import (
	"fmt"
	"math"
	"time"

	"github.com/paulmach/orb"

	"github.com/banshee-data/wind.report/internal/windcourse"
)

// BoatClass identifies the class of boat sailing a track, e.g. "505".
type BoatClass string

// Tack is the side the wind comes from relative to the boat.
type Tack int

const (
	TackUnknown Tack = iota
	TackPort
	TackStarboard
)

func (t Tack) String() string {
	switch t {
	case TackPort:
		return "port"
	case TackStarboard:
		return "starboard"
	default:
		return "unknown"
	}
}

// ParseTack converts the String form back into a Tack. Unrecognized input
// yields TackUnknown.
func ParseTack(s string) Tack {
	switch s {
	case "port":
		return TackPort
	case "starboard":
		return TackStarboard
	default:
		return TackUnknown
	}
}

// Label is the maneuver type a hypothesis assumes.
type Label int

const (
	LabelTack Label = iota
	LabelJibe
	LabelHeadUp
	LabelBearAway
	LabelOther

	// NumLabels is the number of distinct labels; usable as an array length.
	NumLabels = int(LabelOther) + 1
)

var labelNames = [NumLabels]string{"tack", "jibe", "head_up", "bear_away", "other"}

func (l Label) String() string {
	if l < 0 || int(l) >= NumLabels {
		return fmt.Sprintf("label(%d)", int(l))
	}
	return labelNames[l]
}

// ParseLabel converts the String form back into a Label.
func ParseLabel(s string) (Label, error) {
	for i, name := range labelNames {
		if name == s {
			return Label(i), nil
		}
	}
	return LabelOther, fmt.Errorf("unknown maneuver label %q", s)
}

// Maneuver is one detected course/speed change of a competitor
// (ManeuverForEstimation). Values are owned by the caller and never mutated
// by the estimation core.
type Maneuver struct {
	ID           string    `json:"id"`
	CompetitorID string    `json:"competitor_id"`
	BoatClass    BoatClass `json:"boat_class"`
	Time         time.Time `json:"time"`
	Position     orb.Point `json:"position"` // lon/lat

	// Courses over ground in degrees.
	CourseBefore float64 `json:"course_before"`
	CourseAfter  float64 `json:"course_after"`
	// CourseChange is the signed direction change in degrees; positive values
	// are clockwise (starboard) turns.
	CourseChange float64 `json:"course_change"`

	SpeedBeforeKnots float64 `json:"speed_before_knots"`
	SpeedAfterKnots  float64 `json:"speed_after_knots"`
	LowestSpeedKnots float64 `json:"lowest_speed_knots"`

	MaxTurningRate float64 `json:"max_turning_rate"` // degrees per second
	Clean          bool    `json:"clean"`            // no neighbouring maneuver disturbs the curve
	MarkPassing    bool    `json:"mark_passing"`
}

// MiddleCourse returns the course halfway through the turn.
func (m *Maneuver) MiddleCourse() float64 {
	return windcourse.Normalize(m.CourseBefore + m.CourseChange/2)
}

// Clockwise reports whether the maneuver turned toward starboard.
func (m *Maneuver) Clockwise() bool {
	return m.CourseChange > 0
}

// SpeedLossRatio is the lowest speed during the maneuver divided by the entry
// speed. Zero when the entry speed is unknown.
func (m *Maneuver) SpeedLossRatio() float64 {
	if m.SpeedBeforeKnots <= 0 {
		return 0
	}
	return m.LowestSpeedKnots / m.SpeedBeforeKnots
}

// Features returns the numeric feature vector classifiers consume.
func (m *Maneuver) Features() []float64 {
	clean := 0.0
	if m.Clean {
		clean = 1
	}
	markPassing := 0.0
	if m.MarkPassing {
		markPassing = 1
	}
	return []float64{
		m.CourseBefore,
		m.CourseAfter,
		m.CourseChange,
		m.SpeedBeforeKnots,
		m.SpeedAfterKnots,
		m.LowestSpeedKnots,
		m.MaxTurningRate,
		clean,
		markPassing,
	}
}

// Validate checks the fields the estimation core relies on.
func (m *Maneuver) Validate() error {
	if m == nil {
		return fmt.Errorf("nil maneuver")
	}
	if m.CompetitorID == "" {
		return fmt.Errorf("maneuver %q: missing competitor", m.ID)
	}
	if m.Time.IsZero() {
		return fmt.Errorf("maneuver %q: missing time", m.ID)
	}
	for _, v := range m.Features() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("maneuver %q: non-finite feature", m.ID)
		}
	}
	return nil
}

// Hypothesis is one candidate explanation of a maneuver: the maneuver type,
// the tack sailed afterwards and the wind courses compatible with both.
type Hypothesis struct {
	Label     Label
	TackAfter Tack
	WindRange windcourse.Range
	// Probability is the classifier's confidence in this hypothesis.
	Probability float64
	// WindSpeedKnots is an optional estimate; zero when unknown.
	WindSpeedKnots float64
}
