package testutil

import (
	"errors"
	"testing"
	"time"

	"github.com/banshee-data/wind.report/internal/maneuver"
	"github.com/banshee-data/wind.report/internal/windcourse"
)

func TestAssertHelpers(t *testing.T) {
	fakeT := &testing.T{}
	AssertNoError(fakeT, nil)
	AssertDirection(fakeT, 359.99995, 0, 1e-4)
	if fakeT.Failed() {
		t.Error("expected no failure")
	}

	AssertError(t, errors.New("something wrong"))
}

func TestTacksAndJibe(t *testing.T) {
	ms := TacksAndJibe("GER 1", time.Minute)
	if len(ms) != 3 {
		t.Fatalf("len = %d, want 3", len(ms))
	}
	for i, m := range ms {
		if err := m.Validate(); err != nil {
			t.Errorf("maneuver %d invalid: %v", i, err)
		}
		if want := RaceStart.Add(time.Duration(i+1) * time.Minute); !m.Time.Equal(want) {
			t.Errorf("maneuver %d at %v, want %v", i, m.Time, want)
		}
	}
	if ms[0].CourseAfter != 315 || ms[1].CourseAfter != 45 || ms[2].CourseAfter != 225 {
		t.Errorf("unexpected courses after: %v %v %v", ms[0].CourseAfter, ms[1].CourseAfter, ms[2].CourseAfter)
	}
}

func TestStubClassifier(t *testing.T) {
	stub, want := TacksAndJibeClassifier("GER 1")
	ms := TacksAndJibe("GER 1", 0)

	hs, err := stub.Classify(&ms[0])
	AssertNoError(t, err)
	if len(hs) != 2 || hs[0].Label != maneuver.LabelTack {
		t.Fatalf("unexpected hypotheses %+v", hs)
	}
	AssertDirection(t, windcourse.TWDFromCourse(hs[0].WindRange.Middle()), want[0], 1e-9)

	other := ms[0]
	other.ID = "unknown"
	hs, err = stub.Classify(&other)
	AssertNoError(t, err)
	if len(hs) != 0 {
		t.Errorf("expected no hypotheses for unknown maneuver, got %d", len(hs))
	}
}
