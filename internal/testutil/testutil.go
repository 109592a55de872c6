// Package testutil provides shared test utilities and fixtures.
//
// This package centralises the maneuver fixtures and stub classifiers used
// by the estimation tests.
package testutil

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/paulmach/orb"

	"github.com/banshee-data/wind.report/internal/maneuver"
	"github.com/banshee-data/wind.report/internal/windcourse"
)

// RaceStart is the start time of all fixture races.
var RaceStart = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertDirection fails the test if got and want differ by more than tol
// degrees on the compass circle.
func AssertDirection(t testing.TB, got, want, tol float64) {
	t.Helper()
	if d := math.Abs(windcourse.Difference(want, got)); d > tol {
		t.Errorf("direction = %.6f°, want %.6f° (off by %.6f°)", got, want, d)
	}
}

// Hypothesis returns a hypothesis for wind from twd with a course range of
// ±halfWidth degrees.
func Hypothesis(label maneuver.Label, twd, halfWidth, p float64) maneuver.Hypothesis {
	return maneuver.Hypothesis{
		Label:       label,
		WindRange:   windcourse.Centered(windcourse.CourseFromTWD(twd), halfWidth),
		Probability: p,
	}
}

// StubClassifier returns fixed hypotheses per maneuver ID. Unknown
// maneuvers get no hypotheses.
type StubClassifier map[string][]maneuver.Hypothesis

// Classify implements maneuver.Classifier.
func (s StubClassifier) Classify(m *maneuver.Maneuver) ([]maneuver.Hypothesis, error) {
	return append([]maneuver.Hypothesis(nil), s[m.ID]...), nil
}

// Maneuver builds a maneuver of competitor at RaceStart plus offset.
func Maneuver(id, competitor string, offset time.Duration, before, change float64) maneuver.Maneuver {
	return maneuver.Maneuver{
		ID:               id,
		CompetitorID:     competitor,
		BoatClass:        "505",
		Time:             RaceStart.Add(offset),
		Position:         orb.Point{10.15, 54.45},
		CourseBefore:     before,
		CourseAfter:      windcourse.Normalize(before + change),
		CourseChange:     change,
		SpeedBeforeKnots: 6,
		SpeedAfterKnots:  5.5,
		LowestSpeedKnots: 3,
		MaxTurningRate:   30,
		Clean:            true,
	}
}

// TacksAndJibe returns two tacks and a jibe of one competitor sailing in a
// northerly breeze, one minute apart.
func TacksAndJibe(competitor string, start time.Duration) []maneuver.Maneuver {
	tack1 := Maneuver(fmt.Sprintf("%s-tack-1", competitor), competitor, start, 45, -90)
	tack2 := Maneuver(fmt.Sprintf("%s-tack-2", competitor), competitor, start+time.Minute, 315, 90)
	jibe := Maneuver(fmt.Sprintf("%s-jibe", competitor), competitor, start+2*time.Minute, 135, 90)
	jibe.SpeedBeforeKnots, jibe.LowestSpeedKnots, jibe.SpeedAfterKnots = 10, 9.5, 10
	return []maneuver.Maneuver{tack1, tack2, jibe}
}

// TacksAndJibeClassifier classifies the TacksAndJibe maneuvers of competitor
// with the true wind shifting from 2° to 358° to 5°, each backed by a less
// likely opposite hypothesis.
func TacksAndJibeClassifier(competitor string) (StubClassifier, []float64) {
	ms := TacksAndJibe(competitor, 0)
	want := []float64{2, 358, 5}
	return StubClassifier{
		ms[0].ID: {
			Hypothesis(maneuver.LabelTack, want[0], 5, 0.7),
			Hypothesis(maneuver.LabelJibe, want[0]+180, 5, 0.3),
		},
		ms[1].ID: {
			Hypothesis(maneuver.LabelTack, want[1], 5, 0.6),
			Hypothesis(maneuver.LabelJibe, want[1]+180, 5, 0.4),
		},
		ms[2].ID: {
			Hypothesis(maneuver.LabelJibe, want[2], 5, 0.5),
			Hypothesis(maneuver.LabelTack, want[2]+180, 5, 0.5),
		},
	}, want
}
