// Package maneuvergraph holds the hypothesis graph of wind estimation: one
// level per maneuver, one node per wind-course hypothesis, and a max-product
// best-path engine over levels that may have any number of incoming levels.
//
// Levels live in an arena and reference each other by LevelID. A Topology
// decides which levels feed which: a Chain feeds every level from its
// temporal predecessor, a spanning tree fuses several competitors.
package maneuvergraph

import (
	"errors"
	"fmt"
	"iter"
	"math"
	"slices"

	"github.com/banshee-data/wind.report/internal/maneuver"
	"github.com/banshee-data/wind.report/internal/monitoring"
)

var (
	// ErrLevelNotFound is returned for a LevelID outside the arena.
	ErrLevelNotFound = errors.New("maneuver graph level not found")
	// ErrInvalidTopology is returned when incoming links do not form a forest.
	ErrInvalidTopology = errors.New("incoming links do not form a forest")
)

// DefaultMinEmissionProbability floors classifier probabilities so that no
// hypothesis is ruled out entirely.
const DefaultMinEmissionProbability = 1e-6

// Options configure a Graph.
type Options struct {
	Transition             TransitionCalculator
	MinEmissionProbability float64
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		Transition:             DefaultTransitionCalculator(),
		MinEmissionProbability: DefaultMinEmissionProbability,
	}
}

// Topology derives the incoming levels of every level of a graph.
type Topology interface {
	Incoming(g *Graph) (map[LevelID][]LevelID, error)
}

// Chain feeds every level from its temporal predecessor.
type Chain struct{}

func (Chain) Incoming(g *Graph) (map[LevelID][]LevelID, error) {
	incoming := make(map[LevelID][]LevelID, g.Len())
	for l := range g.Ordered() {
		if l.Previous != NoLevel {
			incoming[l.ID] = []LevelID{l.Previous}
		}
	}
	return incoming, nil
}

// Graph is an arena of levels kept in temporal order. It is not safe for
// concurrent mutation.
type Graph struct {
	opts   Options
	levels []*Level
	first  LevelID
	last   LevelID
}

// NewGraph creates an empty graph.
func NewGraph(opts Options) *Graph {
	if opts.MinEmissionProbability <= 0 {
		opts.MinEmissionProbability = DefaultMinEmissionProbability
	}
	return &Graph{opts: opts, first: NoLevel, last: NoLevel}
}

// Len returns the number of levels.
func (g *Graph) Len() int {
	return len(g.levels)
}

// First returns the earliest level, or NoLevel.
func (g *Graph) First() LevelID {
	return g.first
}

// Last returns the latest level, or NoLevel.
func (g *Graph) Last() LevelID {
	return g.last
}

// Level returns the level with the given ID.
func (g *Graph) Level(id LevelID) (*Level, error) {
	if id < 0 || int(id) >= len(g.levels) {
		return nil, fmt.Errorf("%w: %d", ErrLevelNotFound, id)
	}
	return g.levels[id], nil
}

func (g *Graph) level(id LevelID) *Level {
	return g.levels[id]
}

// Ordered yields the linked levels from earliest to latest.
func (g *Graph) Ordered() iter.Seq[*Level] {
	return func(yield func(*Level) bool) {
		for id := g.first; id != NoLevel; id = g.levels[id].Next {
			if !yield(g.levels[id]) {
				return
			}
		}
	}
}

// NewLevel adds an unlinked level for m to the arena. Emission probabilities
// are floored and normalized to sum to one.
func (g *Graph) NewLevel(m *maneuver.Maneuver, hs []maneuver.Hypothesis) *Level {
	hs = maneuver.EnsureHypotheses(hs, 0)
	l := &Level{
		ID:       LevelID(len(g.levels)),
		Maneuver: m,
		Nodes:    make([]Node, len(hs)),
		Previous: NoLevel,
		Next:     NoLevel,
		consumer: NoLevel,
	}
	total := 0.0
	for i, h := range hs {
		p := math.Max(h.Probability, g.opts.MinEmissionProbability)
		l.Nodes[i] = Node{Index: i, Hypothesis: h, Emission: p}
		total += p
	}
	for i := range l.Nodes {
		l.Nodes[i].Emission /= total
	}
	l.markStale()
	g.levels = append(g.levels, l)
	return l
}

// AppendNextManeuverNodesLevel links level id after the current last level.
func (g *Graph) AppendNextManeuverNodesLevel(id LevelID) error {
	l, err := g.Level(id)
	if err != nil {
		return err
	}
	l.Previous, l.Next = g.last, NoLevel
	if g.last != NoLevel {
		g.level(g.last).Next = id
	} else {
		g.first = id
	}
	g.last = id
	return nil
}

// InsertInTimeOrder links level id at its temporal position, after every
// level with an earlier or equal maneuver time. It reports whether the level
// went anywhere but the tail.
func (g *Graph) InsertInTimeOrder(id LevelID) (outOfOrder bool, err error) {
	l, err := g.Level(id)
	if err != nil {
		return false, err
	}
	after := g.last
	for after != NoLevel && g.level(after).Maneuver.Time.After(l.Maneuver.Time) {
		after = g.level(after).Previous
	}
	if after == g.last {
		return false, g.AppendNextManeuverNodesLevel(id)
	}

	var next LevelID
	if after == NoLevel {
		next = g.first
		g.first = id
	} else {
		next = g.level(after).Next
		g.level(after).Next = id
	}
	l.Previous, l.Next = after, next
	g.level(next).Previous = id
	return true, nil
}

// ApplyTopology replaces the incoming levels of every linked level. Levels
// whose incoming set changed are marked stale. It returns the number of
// changed levels. A topology that is not a forest over the linked levels is
// rejected with ErrInvalidTopology and leaves the graph unchanged.
func (g *Graph) ApplyTopology(t Topology) (int, error) {
	incoming, err := t.Incoming(g)
	if err != nil {
		return 0, err
	}

	linked := make([]bool, g.Len())
	nLinked := 0
	for l := range g.Ordered() {
		linked[l.ID] = true
		nLinked++
	}
	consumer := make(map[LevelID]LevelID, len(incoming))
	for to, froms := range incoming {
		if _, err := g.Level(to); err != nil {
			return 0, err
		}
		if !linked[to] {
			return 0, fmt.Errorf("%w: level %d is not linked", ErrInvalidTopology, to)
		}
		for _, from := range froms {
			if _, err := g.Level(from); err != nil {
				return 0, err
			}
			if !linked[from] {
				return 0, fmt.Errorf("%w: level %d is not linked", ErrInvalidTopology, from)
			}
			if prev, dup := consumer[from]; dup {
				return 0, fmt.Errorf("%w: level %d feeds both %d and %d", ErrInvalidTopology, from, prev, to)
			}
			consumer[from] = to
		}
	}

	var roots []LevelID
	for l := range g.Ordered() {
		if _, ok := consumer[l.ID]; !ok {
			roots = append(roots, l.ID)
		}
	}
	next := func(id LevelID) []LevelID { return incoming[id] }
	if visited := len(postOrder(g.Len(), roots, next)); visited != nLinked {
		return 0, fmt.Errorf("%w: %d of %d levels reachable from a root", ErrInvalidTopology, visited, nLinked)
	}

	changed := 0
	for l := range g.Ordered() {
		want := incoming[l.ID]
		if c, ok := consumer[l.ID]; ok {
			l.consumer = c
		} else {
			l.consumer = NoLevel
		}
		if slices.Equal(l.incoming, want) {
			continue
		}
		l.incoming = slices.Clone(want)
		l.edges = nil
		l.markStale()
		changed++
	}
	if changed > 0 {
		monitoring.Debugf("maneuver graph: topology changed %d of %d levels", changed, nLinked)
	}
	return changed, nil
}

// Unlink takes level id out of the temporal order and clears its links. The
// level stays in the arena but no longer takes part in any computation.
// Callers must not unlink a level that other levels still consume.
func (g *Graph) Unlink(id LevelID) error {
	l, err := g.Level(id)
	if err != nil {
		return err
	}
	if l.Previous != NoLevel {
		g.level(l.Previous).Next = l.Next
	} else if g.first == id {
		g.first = l.Next
	}
	if l.Next != NoLevel {
		g.level(l.Next).Previous = l.Previous
	} else if g.last == id {
		g.last = l.Previous
	}
	l.Previous, l.Next = NoLevel, NoLevel
	l.incoming, l.edges, l.consumer = nil, nil, NoLevel
	l.markStale()
	return nil
}

// Linked returns the number of levels in the temporal order.
func (g *Graph) Linked() int {
	n := 0
	for range g.Ordered() {
		n++
	}
	return n
}

// ComputeProbabilitiesFromPreviousLevelToThisLevel evaluates the transition
// calculator for every pair of nodes on every incoming link of level id and
// caches the results.
func (g *Graph) ComputeProbabilitiesFromPreviousLevelToThisLevel(id LevelID) error {
	l, err := g.Level(id)
	if err != nil {
		return err
	}
	l.edges = make([]edge, len(l.incoming))
	for k, from := range l.incoming {
		prev := g.level(from)
		e := edge{
			from:      from,
			compat:    make([][]float64, len(prev.Nodes)),
			violation: make([][]float64, len(prev.Nodes)),
		}
		for i := range prev.Nodes {
			e.compat[i] = make([]float64, len(l.Nodes))
			e.violation[i] = make([]float64, len(l.Nodes))
			for j := range l.Nodes {
				e.compat[i][j], e.violation[i][j] = g.opts.Transition.Compatibility(prev, l, i, j)
			}
		}
		l.edges[k] = e
	}
	l.transitionsNeeded = false
	l.state = StatePending
	return nil
}

// RecomputeTransitionProbabilitiesAtLevelsWhereNeeded walks back from the
// latest level and refreshes every stale transition cache. It returns the
// earliest level touched, or NoLevel when nothing was stale.
func (g *Graph) RecomputeTransitionProbabilitiesAtLevelsWhereNeeded() (LevelID, error) {
	earliest := NoLevel
	for id := g.last; id != NoLevel; id = g.level(id).Previous {
		if !g.level(id).transitionsNeeded {
			continue
		}
		if err := g.ComputeProbabilitiesFromPreviousLevelToThisLevel(id); err != nil {
			return earliest, err
		}
		earliest = id
	}
	return earliest, nil
}

// Roots returns the levels no other level consumes, in temporal order.
func (g *Graph) Roots() []LevelID {
	var roots []LevelID
	for l := range g.Ordered() {
		if l.consumer == NoLevel {
			roots = append(roots, l.ID)
		}
	}
	return roots
}

// postOrder lists every level reachable from a root with incoming levels
// before the levels they feed.
func (g *Graph) postOrder() []LevelID {
	return postOrder(g.Len(), g.Roots(), func(id LevelID) []LevelID { return g.level(id).incoming })
}

// postOrder walks the trees below roots iteratively. Levels already seen are
// skipped, so a cycle cannot be entered from a root.
func postOrder(n int, roots []LevelID, incoming func(LevelID) []LevelID) []LevelID {
	order := make([]LevelID, 0, n)
	seen := make([]bool, n)
	type frame struct {
		id   LevelID
		next int
	}
	for _, root := range roots {
		if seen[root] {
			continue
		}
		stack := []frame{{id: root}}
		seen[root] = true
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			in := incoming(top.id)
			if top.next < len(in) {
				child := in[top.next]
				top.next++
				if !seen[child] {
					seen[child] = true
					stack = append(stack, frame{id: child})
				}
				continue
			}
			order = append(order, top.id)
			stack = stack[:len(stack)-1]
		}
	}
	return order
}
