package maneuvergraph

import (
	"math"
	"time"

	"github.com/banshee-data/wind.report/internal/windcourse"
)

// Thresholds of the default penalty policy.
const (
	DefaultPenaltyFreeShiftDegrees  = 10.0
	DefaultSmallPenaltyShiftDegrees = 45.0
)

// PenaltyPolicy maps the violation between two wind-course ranges to a
// compatibility factor in [0, 1]. Implementations must return 1 for a zero
// violation and be monotonically non-increasing.
type PenaltyPolicy interface {
	Penalty(violationDegrees float64) float64
}

// PenaltyFunc adapts a plain function to PenaltyPolicy.
type PenaltyFunc func(violationDegrees float64) float64

func (f PenaltyFunc) Penalty(violationDegrees float64) float64 {
	return f(violationDegrees)
}

// ThresholdPenalty leaves shifts up to FreeDegrees unpenalized, applies a
// mild penalty up to SmallDegrees and a quadratic one beyond.
type ThresholdPenalty struct {
	FreeDegrees  float64
	SmallDegrees float64
}

// DefaultThresholdPenalty returns the tuned production thresholds.
func DefaultThresholdPenalty() ThresholdPenalty {
	return ThresholdPenalty{
		FreeDegrees:  DefaultPenaltyFreeShiftDegrees,
		SmallDegrees: DefaultSmallPenaltyShiftDegrees,
	}
}

func (p ThresholdPenalty) Penalty(v float64) float64 {
	switch {
	case v <= p.FreeDegrees:
		return 1
	case v <= p.SmallDegrees:
		return 1 / (1 + v/p.SmallDegrees)
	default:
		excess := (v - p.SmallDegrees) / 5
		return 1 / (4 + excess*excess)
	}
}

// GaussianPenalty decays with a half-normal curve of width SigmaDegrees.
type GaussianPenalty struct {
	SigmaDegrees float64
}

func (p GaussianPenalty) Penalty(v float64) float64 {
	if v <= 0 {
		return 1
	}
	if p.SigmaDegrees <= 0 {
		return 0
	}
	z := v / p.SigmaDegrees
	return math.Exp(-z * z / 2)
}

// TransitionCalculator scores the plausibility of moving from a hypothesis
// of one level to a hypothesis of a following level.
type TransitionCalculator struct {
	Policy PenaltyPolicy
	// DriftDegreesPerHour is the wind shift tolerated per hour between the
	// two maneuvers before the violation is penalized. Zero disables it.
	DriftDegreesPerHour float64
}

// DefaultTransitionCalculator uses the threshold policy without drift.
func DefaultTransitionCalculator() TransitionCalculator {
	return TransitionCalculator{Policy: DefaultThresholdPenalty()}
}

// Compatibility returns the penalty factor for moving from node i of prev to
// node j of next, and the raw violation between their ranges. The transition
// probability is this factor times the emission of node j; levels cache it
// (see Level.TransitionProbability).
func (tc TransitionCalculator) Compatibility(prev, next *Level, i, j int) (compat, violation float64) {
	ir := prev.Nodes[i].Hypothesis.WindRange.Intersect(next.Nodes[j].Hypothesis.WindRange)
	return tc.penalty(ir, prev.Maneuver.Time.Sub(next.Maneuver.Time)), ir.Violation
}

func (tc TransitionCalculator) penalty(ir windcourse.IntersectedRange, dt time.Duration) float64 {
	v := ir.Violation
	if tc.DriftDegreesPerHour > 0 {
		v -= tc.DriftDegreesPerHour * math.Abs(dt.Hours())
	}
	if v <= 0 {
		return 1
	}
	policy := tc.Policy
	if policy == nil {
		policy = DefaultThresholdPenalty()
	}
	p := policy.Penalty(v)
	if math.IsNaN(p) || p < 0 {
		return 0
	}
	return math.Min(p, 1)
}
