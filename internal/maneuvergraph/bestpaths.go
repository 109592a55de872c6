package maneuvergraph

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/wind.report/internal/monitoring"
)

var (
	// ErrNoViablePath is returned when every node of a level ends up with a
	// zero path probability.
	ErrNoViablePath = errors.New("no viable path through maneuver graph")
	// ErrNotComputed is returned when best paths are read while levels are
	// still pending.
	ErrNotComputed = errors.New("best paths not computed")
)

// Assignment is the node chosen for one level by the best path.
type Assignment struct {
	Level LevelID
	Node  int
	// Confidence is the posterior probability of the chosen node, or its
	// best-path share when precise confidence is disabled.
	Confidence float64
}

// BestPathsCalculator runs max-product dynamic programming over a graph. A
// level combines the best contributions of all its incoming levels, so a
// chain and a spanning tree share the same engine.
type BestPathsCalculator struct {
	// Precise enables the outside pass that turns inside probabilities into
	// exact per-level posteriors.
	Precise bool
}

// Compute recomputes every pending level, incoming levels first. A level
// whose incoming level was recomputed is recomputed as well, so changes
// propagate toward the roots. It returns the number of levels recomputed.
func (c BestPathsCalculator) Compute(g *Graph) (int, error) {
	recomputed := make([]bool, g.Len())
	n := 0
	for _, id := range g.postOrder() {
		l := g.level(id)
		for _, from := range l.incoming {
			if recomputed[from] {
				l.state = StatePending
			}
		}
		if l.state == StateComputed {
			continue
		}
		if l.transitionsNeeded {
			if err := g.ComputeProbabilitiesFromPreviousLevelToThisLevel(id); err != nil {
				return n, err
			}
		}
		if err := c.computeLevel(g, l); err != nil {
			monitoring.Logf("maneuver graph: level %d (%s): %v", id, l.Maneuver.ID, err)
			return n, err
		}
		recomputed[id] = true
		n++
	}
	return n, nil
}

func (c BestPathsCalculator) computeLevel(g *Graph, l *Level) error {
	best := make([]float64, len(l.Nodes))
	inside := make([]float64, len(l.Nodes))
	logScale, insideLogScale := 0.0, 0.0
	for _, from := range l.incoming {
		logScale += g.level(from).logScale
		insideLogScale += g.level(from).insideLogScale
	}

	for j := range l.Nodes {
		node := &l.Nodes[j]
		b, in := node.Emission, node.Emission
		back := make([]int, len(l.edges))
		var stats PathStats
		stats.add(l.Maneuver.BoatClass, node.Hypothesis.Label, math.Abs(l.Maneuver.CourseChange), node.Hypothesis.WindRange)

		for k, e := range l.edges {
			prev := g.level(e.from)
			bestContribution, arg, sum := -1.0, 0, 0.0
			for i := range prev.Nodes {
				v := prev.Nodes[i].Best.Probability * e.compat[i][j]
				if v > bestContribution {
					bestContribution, arg = v, i
				}
				sum += prev.Nodes[i].Best.Inside * e.compat[i][j]
			}
			b *= bestContribution
			in *= sum
			back[k] = arg
			stats.merge(prev.Nodes[arg].Best.Stats, e.violation[arg][j])
		}
		best[j], inside[j] = b, in
		node.Best.Back = back
		node.Best.Stats = stats
	}

	total := floats.Sum(best)
	insideTotal := floats.Sum(inside)
	if !(total > 0) || math.IsInf(total, 0) || !(insideTotal > 0) || math.IsInf(insideTotal, 0) {
		for j := range l.Nodes {
			l.Nodes[j].Best.Probability, l.Nodes[j].Best.Inside = 0, 0
		}
		return fmt.Errorf("%w: level %d", ErrNoViablePath, l.ID)
	}
	floats.Scale(1/total, best)
	floats.Scale(1/insideTotal, inside)
	for j := range l.Nodes {
		l.Nodes[j].Best.Probability = best[j]
		l.Nodes[j].Best.Inside = inside[j]
	}
	l.logScale = logScale + math.Log(total)
	l.insideLogScale = insideLogScale + math.Log(insideTotal)
	l.state = StateComputed
	return nil
}

// PathLogProbability returns the log of the unnormalized probability of the
// best explanation of the whole graph: the product over all roots of their
// best node probability.
func (c BestPathsCalculator) PathLogProbability(g *Graph) (float64, error) {
	if err := c.checkComputed(g); err != nil {
		return 0, err
	}
	if g.Len() == 0 {
		return 0, nil
	}
	sum := 0.0
	for _, root := range g.Roots() {
		r := g.level(root)
		sum += r.logScale + math.Log(r.Nodes[bestNode(r)].Best.Probability)
	}
	return sum, nil
}

// BestPath backtracks from every root and returns one assignment per linked
// level in temporal order. It does not mutate the graph.
func (c BestPathsCalculator) BestPath(g *Graph) ([]Assignment, error) {
	if err := c.checkComputed(g); err != nil {
		return nil, err
	}
	chosen := make([]int, g.Len())
	for i := range chosen {
		chosen[i] = -1
	}
	roots := g.Roots()
	for _, root := range roots {
		r := g.level(root)
		chosen[root] = bestNode(r)
	}
	// Reverse post-order visits every level before its incoming levels.
	order := g.postOrder()
	for i := len(order) - 1; i >= 0; i-- {
		l := g.level(order[i])
		node := l.Nodes[chosen[l.ID]]
		for k, from := range l.incoming {
			chosen[from] = node.Best.Back[k]
		}
	}

	var posterior [][]float64
	if c.Precise {
		posterior = c.posteriors(g, order)
	}

	out := make([]Assignment, 0, g.Len())
	for l := range g.Ordered() {
		a := Assignment{Level: l.ID, Node: chosen[l.ID]}
		if posterior != nil {
			a.Confidence = posterior[l.ID][a.Node]
		} else {
			a.Confidence = l.Nodes[a.Node].Best.Probability
		}
		out = append(out, a)
	}
	return out, nil
}

// posteriors runs the outside pass from the roots down and combines it with
// the inside probabilities into normalized per-level posteriors.
func (c BestPathsCalculator) posteriors(g *Graph, order []LevelID) [][]float64 {
	outside := make([][]float64, g.Len())
	posterior := make([][]float64, g.Len())
	for _, root := range g.Roots() {
		o := make([]float64, len(g.level(root).Nodes))
		floats.AddConst(1, o)
		outside[root] = o
	}

	for i := len(order) - 1; i >= 0; i-- {
		l := g.level(order[i])
		out := outside[l.ID]

		messages := make([][]float64, len(l.edges))
		for k, e := range l.edges {
			prev := g.level(e.from)
			msg := make([]float64, len(l.Nodes))
			for j := range l.Nodes {
				for p := range prev.Nodes {
					msg[j] += prev.Nodes[p].Best.Inside * e.compat[p][j]
				}
			}
			messages[k] = msg
		}

		for k, e := range l.edges {
			prev := g.level(e.from)
			// Everything this level contributes to node j except the
			// message coming from level k.
			rest := make([]float64, len(l.Nodes))
			for j := range l.Nodes {
				rest[j] = out[j] * l.Nodes[j].Emission
				for m, msg := range messages {
					if m != k {
						rest[j] *= msg[j]
					}
				}
			}
			o := make([]float64, len(prev.Nodes))
			for p := range prev.Nodes {
				for j := range l.Nodes {
					o[p] += rest[j] * e.compat[p][j]
				}
			}
			normalize(o)
			outside[e.from] = o
		}

		post := make([]float64, len(l.Nodes))
		for j := range l.Nodes {
			post[j] = l.Nodes[j].Best.Inside * out[j]
		}
		normalize(post)
		posterior[l.ID] = post
	}
	return posterior
}

func (c BestPathsCalculator) checkComputed(g *Graph) error {
	for l := range g.Ordered() {
		if l.state != StateComputed {
			return fmt.Errorf("%w: level %d is %s", ErrNotComputed, l.ID, l.state)
		}
	}
	return nil
}

// bestNode returns the index of the most probable node; ties go to the
// lowest index.
func bestNode(l *Level) int {
	p := make([]float64, len(l.Nodes))
	for i := range l.Nodes {
		p[i] = l.Nodes[i].Best.Probability
	}
	return floats.MaxIdx(p)
}

func normalize(v []float64) {
	if total := floats.Sum(v); total > 0 {
		floats.Scale(1/total, v)
	}
}
