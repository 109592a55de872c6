package maneuver

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/wind.report/internal/windcourse"
)

func testManeuver() *Maneuver {
	return &Maneuver{
		ID:               "m1",
		CompetitorID:     "GER 1",
		BoatClass:        "505",
		Time:             time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		Position:         orb.Point{10.15, 54.45},
		CourseBefore:     45,
		CourseAfter:      315,
		CourseChange:     -90,
		SpeedBeforeKnots: 6,
		SpeedAfterKnots:  5.5,
		LowestSpeedKnots: 3,
		MaxTurningRate:   30,
		Clean:            true,
	}
}

func fixed(hs ...Hypothesis) Classifier {
	return ClassifierFunc(func(*Maneuver) ([]Hypothesis, error) { return hs, nil })
}

func TestRegistry_ClassifierFor(t *testing.T) {
	t.Parallel()

	dedicated := fixed(Hypothesis{Label: LabelTack, Probability: 1})
	fallback := fixed(Hypothesis{Label: LabelOther, Probability: 1})

	r := NewRegistry(nil)
	_, err := r.ClassifierFor("505")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoClassifier))

	r.Register("505", dedicated)
	hs, err := r.Classify(testManeuver())
	require.NoError(t, err)
	assert.Equal(t, LabelTack, hs[0].Label)

	r = NewRegistry(fallback)
	hs, err = r.Classify(testManeuver())
	require.NoError(t, err)
	assert.Equal(t, LabelOther, hs[0].Label)
}

func TestEnsureHypotheses(t *testing.T) {
	t.Parallel()

	t.Run("drops invalid probabilities", func(t *testing.T) {
		hs := EnsureHypotheses([]Hypothesis{
			{Label: LabelTack, Probability: 0.7, WindRange: windcourse.Range{From: 370, Span: 10}},
			{Label: LabelJibe, Probability: 0},
			{Label: LabelHeadUp, Probability: math.NaN()},
			{Label: LabelBearAway, Probability: -1},
		}, 0)
		require.Len(t, hs, 1)
		assert.Equal(t, LabelTack, hs[0].Label)
		assert.InDelta(t, 10, hs[0].WindRange.From, 1e-9)
	})

	t.Run("adds fallback when empty", func(t *testing.T) {
		hs := EnsureHypotheses(nil, 0.02)
		require.Len(t, hs, 1)
		assert.Equal(t, LabelOther, hs[0].Label)
		assert.True(t, hs[0].WindRange.IsFullCircle())
		assert.InDelta(t, 0.02, hs[0].Probability, 1e-12)
	})

	t.Run("default fallback probability", func(t *testing.T) {
		hs := EnsureHypotheses([]Hypothesis{{Probability: math.Inf(1)}}, 0)
		require.Len(t, hs, 1)
		assert.InDelta(t, DefaultFallbackProbability, hs[0].Probability, 1e-12)
	})
}

func TestManeuver_Validate(t *testing.T) {
	t.Parallel()

	require.NoError(t, testManeuver().Validate())

	var nilManeuver *Maneuver
	assert.Error(t, nilManeuver.Validate())

	m := testManeuver()
	m.CompetitorID = ""
	assert.Error(t, m.Validate())

	m = testManeuver()
	m.Time = time.Time{}
	assert.Error(t, m.Validate())

	m = testManeuver()
	m.SpeedAfterKnots = math.NaN()
	assert.Error(t, m.Validate())
}

func TestManeuver_Geometry(t *testing.T) {
	t.Parallel()

	m := testManeuver()
	assert.InDelta(t, 0, m.MiddleCourse(), 1e-9)
	assert.False(t, m.Clockwise())
	assert.InDelta(t, 0.5, m.SpeedLossRatio(), 1e-9)

	m.SpeedBeforeKnots = 0
	assert.Zero(t, m.SpeedLossRatio())
}

func TestLabel_RoundTrip(t *testing.T) {
	t.Parallel()

	for i := 0; i < NumLabels; i++ {
		l := Label(i)
		parsed, err := ParseLabel(l.String())
		require.NoError(t, err)
		assert.Equal(t, l, parsed)
	}
	_, err := ParseLabel("gybe")
	assert.Error(t, err)
	assert.Equal(t, "label(9)", Label(9).String())
	assert.Equal(t, "port", TackPort.String())
}
