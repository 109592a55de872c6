package maneuver

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/banshee-data/wind.report/internal/windcourse"
)

// ErrNoClassifier is returned when no classifier serves a boat class and no
// fallback is registered.
var ErrNoClassifier = errors.New("no maneuver classifier for boat class")

// DefaultFallbackProbability is the weight of the hypothesis added when a
// classifier has no opinion about a maneuver.
const DefaultFallbackProbability = 0.01

// Classifier assigns emission probabilities to candidate wind-course
// hypotheses for a maneuver. Implementations must be pure: the same maneuver
// yields the same hypotheses.
type Classifier interface {
	Classify(m *Maneuver) ([]Hypothesis, error)
}

// ClassifierFunc adapts a plain function to Classifier.
type ClassifierFunc func(m *Maneuver) ([]Hypothesis, error)

// Classify calls f(m).
func (f ClassifierFunc) Classify(m *Maneuver) ([]Hypothesis, error) {
	return f(m)
}

// Registry selects a classifier per boat class. It is injected into the
// estimators instead of being looked up globally.
type Registry struct {
	mu       sync.RWMutex
	byClass  map[BoatClass]Classifier
	fallback Classifier
}

// NewRegistry creates a registry; fallback (may be nil) serves boat classes
// without a dedicated classifier.
func NewRegistry(fallback Classifier) *Registry {
	return &Registry{
		byClass:  make(map[BoatClass]Classifier),
		fallback: fallback,
	}
}

// Register installs c for boat class bc, replacing any previous classifier.
func (r *Registry) Register(bc BoatClass, c Classifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byClass[bc] = c
}

// ClassifierFor returns the classifier serving bc.
func (r *Registry) ClassifierFor(bc BoatClass) (Classifier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.byClass[bc]; ok {
		return c, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrNoClassifier, bc)
}

// Classify dispatches m to the classifier of its boat class.
func (r *Registry) Classify(m *Maneuver) ([]Hypothesis, error) {
	c, err := r.ClassifierFor(m.BoatClass)
	if err != nil {
		return nil, err
	}
	return c.Classify(m)
}

// EnsureHypotheses drops hypotheses without positive finite probability and
// guarantees at least one remains: a maneuver nobody can label gets a
// full-circle hypothesis with fallbackProbability, so it weakens the path
// instead of halting inference.
func EnsureHypotheses(hs []Hypothesis, fallbackProbability float64) []Hypothesis {
	if fallbackProbability <= 0 {
		fallbackProbability = DefaultFallbackProbability
	}
	out := make([]Hypothesis, 0, len(hs))
	for _, h := range hs {
		if h.Probability > 0 && !math.IsInf(h.Probability, 0) && !math.IsNaN(h.Probability) {
			h.WindRange = windcourse.NewRange(h.WindRange.From, h.WindRange.Span)
			out = append(out, h)
		}
	}
	if len(out) == 0 {
		out = append(out, Hypothesis{
			Label:       LabelOther,
			TackAfter:   TackUnknown,
			WindRange:   windcourse.NewRange(0, windcourse.FullCircle),
			Probability: fallbackProbability,
		})
	}
	return out
}
