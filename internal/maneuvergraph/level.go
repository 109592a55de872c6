package maneuvergraph

import (
	"slices"

	"github.com/banshee-data/wind.report/internal/maneuver"
)

// LevelID addresses a level in the graph arena.
type LevelID int

// NoLevel marks a missing link.
const NoLevel LevelID = -1

// LevelState tracks whether the best-path info of a level is current.
type LevelState int

const (
	StatePending LevelState = iota
	StateComputed
)

func (s LevelState) String() string {
	if s == StateComputed {
		return "computed"
	}
	return "pending"
}

// edge caches the transition data from one incoming level.
type edge struct {
	from      LevelID
	compat    [][]float64 // [from node][this node]
	violation [][]float64
}

// Level wraps one maneuver and its competing hypotheses.
type Level struct {
	ID       LevelID
	Maneuver *maneuver.Maneuver
	Nodes    []Node

	// Previous and Next link the levels in temporal order.
	Previous LevelID
	Next     LevelID

	incoming          []LevelID
	consumer          LevelID
	edges             []edge
	transitionsNeeded bool
	state             LevelState
	logScale          float64
	insideLogScale    float64
}

// Incoming returns the levels whose best paths feed this level.
func (l *Level) Incoming() []LevelID {
	return slices.Clone(l.incoming)
}

// Consumer returns the level this level feeds, or NoLevel for a root.
func (l *Level) Consumer() LevelID {
	return l.consumer
}

// State reports whether the best-path info is current.
func (l *Level) State() LevelState {
	return l.state
}

// IsCalculationOfTransitionProbabilitiesNeeded reports whether the cached
// transition matrices are missing or stale.
func (l *Level) IsCalculationOfTransitionProbabilitiesNeeded() bool {
	return l.transitionsNeeded
}

// LogScale is the accumulated log normalization factor of the best-path
// probabilities of this level and its subtree.
func (l *Level) LogScale() float64 {
	return l.logScale
}

// TransitionProbability returns the cached transition probability from node
// i of incoming level from to node j of this level.
func (l *Level) TransitionProbability(from LevelID, i, j int) (float64, bool) {
	for _, e := range l.edges {
		if e.from == from && e.compat != nil {
			return e.compat[i][j] * l.Nodes[j].Emission, true
		}
	}
	return 0, false
}

func (l *Level) markStale() {
	l.transitionsNeeded = true
	l.state = StatePending
}
