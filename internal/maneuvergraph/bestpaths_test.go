package maneuvergraph

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/wind.report/internal/maneuver"
	"github.com/banshee-data/wind.report/internal/windcourse"
)

// tenthPenalty makes every non-overlapping transition ten times less likely.
var tenthPenalty = PenaltyFunc(func(v float64) float64 {
	if v > 0 {
		return 0.1
	}
	return 1
})

func graphWithPenalty(p PenaltyPolicy) *Graph {
	opts := DefaultOptions()
	opts.Transition.Policy = p
	return NewGraph(opts)
}

func computeAll(t *testing.T, g *Graph, topo Topology, calc BestPathsCalculator) int {
	t.Helper()
	_, err := g.ApplyTopology(topo)
	require.NoError(t, err)
	_, err = g.RecomputeTransitionProbabilitiesAtLevelsWhereNeeded()
	require.NoError(t, err)
	n, err := calc.Compute(g)
	require.NoError(t, err)
	return n
}

func TestBestPaths_TrivialChain(t *testing.T) {
	t.Parallel()

	g := NewGraph(DefaultOptions())
	for i := 0; i < 5; i++ {
		addLevel(t, g, i, hyp(float64(i), 20, 0.3))
	}
	calc := BestPathsCalculator{}
	assert.Equal(t, 5, computeAll(t, g, Chain{}, calc))

	path, err := calc.BestPath(g)
	require.NoError(t, err)
	require.Len(t, path, 5)
	for i, a := range path {
		assert.Equal(t, LevelID(i), a.Level)
		assert.Equal(t, 0, a.Node)
		assert.InDelta(t, 1, a.Confidence, 1e-12)
	}

	p, err := pathProbability(calc, g)
	require.NoError(t, err)
	assert.InDelta(t, 1, p, 1e-12, "product of normalized single-hypothesis emissions")
}

func TestBestPaths_ProductOfEmissions(t *testing.T) {
	t.Parallel()

	// All ranges overlap, so the best path takes the most likely
	// hypothesis everywhere and its probability is the product of the
	// per-level maxima.
	g := NewGraph(DefaultOptions())
	emissions := [][2]float64{{0.7, 0.3}, {0.4, 0.6}, {0.9, 0.1}, {0.5, 0.5}}
	want := 1.0
	for i, e := range emissions {
		addLevel(t, g, i, hyp(0, 90, e[0]), hyp(45, 90, e[1]))
		want *= math.Max(e[0], e[1])
	}
	calc := BestPathsCalculator{}
	computeAll(t, g, Chain{}, calc)

	p, err := pathProbability(calc, g)
	require.NoError(t, err)
	assert.InDelta(t, want, p, 1e-12)

	lp, err := calc.PathLogProbability(g)
	require.NoError(t, err)
	assert.InDelta(t, math.Log(want), lp, 1e-12)

	path, err := calc.BestPath(g)
	require.NoError(t, err)
	nodes := make([]int, len(path))
	for i, a := range path {
		nodes[i] = a.Node
	}
	assert.Equal(t, []int{0, 1, 0, 0}, nodes)
}

func TestBestPaths_ChainConfidence(t *testing.T) {
	t.Parallel()

	build := func() *Graph {
		g := graphWithPenalty(tenthPenalty)
		addLevel(t, g, 0, hyp(0, 10, 0.5), hyp(180, 10, 0.5))
		addLevel(t, g, 1, hyp(0, 10, 0.8), hyp(180, 10, 0.2))
		return g
	}

	// Joint weights: a0b0 .4, a0b1 .01, a1b0 .04, a1b1 .1.
	t.Run("imprecise", func(t *testing.T) {
		g := build()
		calc := BestPathsCalculator{}
		computeAll(t, g, Chain{}, calc)
		path, err := calc.BestPath(g)
		require.NoError(t, err)
		want := []Assignment{{Level: 0, Node: 0, Confidence: 0.5}, {Level: 1, Node: 0, Confidence: 0.8}}
		if diff := cmp.Diff(want, path, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
			t.Errorf("BestPath mismatch (-want +got):\n%s", diff)
		}
		p, err := pathProbability(calc, g)
		require.NoError(t, err)
		assert.InDelta(t, 0.4, p, 1e-12)
	})

	t.Run("precise", func(t *testing.T) {
		g := build()
		calc := BestPathsCalculator{Precise: true}
		computeAll(t, g, Chain{}, calc)
		path, err := calc.BestPath(g)
		require.NoError(t, err)
		want := []Assignment{{Level: 0, Node: 0, Confidence: 0.41 / 0.55}, {Level: 1, Node: 0, Confidence: 0.8}}
		if diff := cmp.Diff(want, path, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
			t.Errorf("BestPath mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestBestPaths_Tree(t *testing.T) {
	t.Parallel()

	g := graphWithPenalty(tenthPenalty)
	a := addLevel(t, g, 0, hyp(0, 10, 0.9), hyp(180, 10, 0.1))
	b := addLevel(t, g, 1, hyp(0, 10, 0.2), hyp(180, 10, 0.8))
	c := addLevel(t, g, 2, hyp(0, 10, 0.5), hyp(180, 10, 0.5))
	tree := topologyFunc(func(*Graph) (map[LevelID][]LevelID, error) {
		return map[LevelID][]LevelID{c: {a, b}}, nil
	})

	calc := BestPathsCalculator{Precise: true}
	computeAll(t, g, tree, calc)

	// c0: .5 * max(.9, .01) * max(.2, .08) = .09
	// c1: .5 * max(.09, .1) * max(.02, .8) = .04
	p, err := pathProbability(calc, g)
	require.NoError(t, err)
	assert.InDelta(t, 0.09, p, 1e-12)

	lc, _ := g.Level(c)
	assert.Equal(t, []int{0, 0}, lc.Nodes[0].Best.Back)
	assert.Equal(t, []int{1, 1}, lc.Nodes[1].Best.Back)
	assert.Equal(t, 3, lc.Nodes[0].Best.Stats.Levels)
	assert.Zero(t, lc.Nodes[0].Best.Stats.ViolationDegrees)
	assert.Equal(t, windcourse.NewRange(0, 10).ToIntersected(), lc.Nodes[0].Best.Stats.WindRange)
	assert.Equal(t, 3, lc.Nodes[0].Best.Stats.Classes["505"].Count[maneuver.LabelTack])
	assert.InDelta(t, 90, lc.Nodes[0].Best.Stats.Classes["505"].MeanAbsCourseChange(maneuver.LabelTack), 1e-12)

	path, err := calc.BestPath(g)
	require.NoError(t, err)
	for _, a := range path {
		assert.Equal(t, 0, a.Node, "level %d", a.Level)
	}

	// Brute-force posteriors over all 8 joint assignments.
	levels := []LevelID{a, b, c}
	marginals := make([][2]float64, 3)
	total := 0.0
	for x := 0; x < 2; x++ {
		for y := 0; y < 2; y++ {
			for z := 0; z < 2; z++ {
				w := emission(g, a, x) * emission(g, b, y) * emission(g, c, z) *
					compat(x, z) * compat(y, z)
				marginals[0][x] += w
				marginals[1][y] += w
				marginals[2][z] += w
				total += w
			}
		}
	}
	for i, id := range levels {
		assert.InDelta(t, marginals[i][0]/total, path[id].Confidence, 1e-12, "level %d", id)
	}
}

func emission(g *Graph, id LevelID, node int) float64 {
	l, _ := g.Level(id)
	return l.Nodes[node].Emission
}

func compat(i, j int) float64 {
	if i == j {
		return 1
	}
	return 0.1
}

func TestBestPaths_Forest(t *testing.T) {
	t.Parallel()

	g := graphWithPenalty(tenthPenalty)
	addLevel(t, g, 0, hyp(0, 10, 0.6), hyp(180, 10, 0.4))
	addLevel(t, g, 1, hyp(0, 10, 0.3), hyp(180, 10, 0.7))
	none := topologyFunc(func(*Graph) (map[LevelID][]LevelID, error) { return nil, nil })

	calc := BestPathsCalculator{Precise: true}
	computeAll(t, g, none, calc)
	assert.Len(t, g.Roots(), 2)

	path, err := calc.BestPath(g)
	require.NoError(t, err)
	assert.Equal(t, 0, path[0].Node)
	assert.Equal(t, 1, path[1].Node)
	assert.InDelta(t, 0.6, path[0].Confidence, 1e-12)
	assert.InDelta(t, 0.7, path[1].Confidence, 1e-12)

	p, err := pathProbability(calc, g)
	require.NoError(t, err)
	assert.InDelta(t, 0.42, p, 1e-12)
}

func TestBestPaths_MonotonicStability(t *testing.T) {
	t.Parallel()

	g := graphWithPenalty(tenthPenalty)
	calc := BestPathsCalculator{}
	addLevel(t, g, 0, hyp(0, 10, 0.6), hyp(180, 10, 0.4))
	addLevel(t, g, 10, hyp(0, 10, 0.3), hyp(180, 10, 0.7))
	computeAll(t, g, Chain{}, calc)

	snapshot := func() [][]Node {
		var out [][]Node
		for l := range g.Ordered() {
			out = append(out, append([]Node(nil), l.Nodes...))
		}
		return out
	}
	before := snapshot()

	addLevel(t, g, 20, hyp(0, 10, 0.5), hyp(180, 10, 0.5))
	assert.Equal(t, 1, computeAll(t, g, Chain{}, calc))
	after := snapshot()
	if diff := cmp.Diff(before, after[:2]); diff != "" {
		t.Errorf("finalized levels changed (-before +after):\n%s", diff)
	}

	// An out-of-order maneuver invalidates everything after it.
	addLevel(t, g, 5, hyp(0, 10, 0.5), hyp(180, 10, 0.5))
	assert.Equal(t, 3, computeAll(t, g, Chain{}, calc))
	first, _ := g.Level(0)
	if diff := cmp.Diff(before[0], first.Nodes); diff != "" {
		t.Errorf("level before the insertion changed (-before +after):\n%s", diff)
	}
}

func TestBestPaths_NoViablePath(t *testing.T) {
	t.Parallel()

	g := graphWithPenalty(PenaltyFunc(func(v float64) float64 {
		if v > 0 {
			return 0
		}
		return 1
	}))
	addLevel(t, g, 0, hyp(0, 10, 1))
	addLevel(t, g, 1, hyp(180, 10, 1))
	_, err := g.ApplyTopology(Chain{})
	require.NoError(t, err)

	calc := BestPathsCalculator{}
	_, err = calc.Compute(g)
	assert.True(t, errors.Is(err, ErrNoViablePath))

	_, err = calc.BestPath(g)
	assert.True(t, errors.Is(err, ErrNotComputed))
}

func TestBestPaths_EmptyGraph(t *testing.T) {
	t.Parallel()

	g := NewGraph(DefaultOptions())
	calc := BestPathsCalculator{Precise: true}
	n, err := calc.Compute(g)
	require.NoError(t, err)
	assert.Zero(t, n)

	path, err := calc.BestPath(g)
	require.NoError(t, err)
	assert.Empty(t, path)

	lp, err := calc.PathLogProbability(g)
	require.NoError(t, err)
	assert.Zero(t, lp)
}

func TestBestPaths_PathWindRange(t *testing.T) {
	t.Parallel()

	g := NewGraph(DefaultOptions())
	addLevel(t, g, 0, hyp(0, 10, 1))
	addLevel(t, g, 1, hyp(20, 10, 1))
	c := addLevel(t, g, 2, hyp(15, 20, 1))
	computeAll(t, g, Chain{}, BestPathsCalculator{})

	lc, _ := g.Level(c)
	stats := lc.Nodes[0].Best.Stats
	// 0-10 and 20-30 leave a 10° gap; 15-35 overlaps the widened range.
	assert.InDelta(t, 0, stats.WindRange.From, 1e-12)
	assert.InDelta(t, 35, stats.WindRange.Span, 1e-12)
	assert.InDelta(t, 10, stats.WindRange.Violation, 1e-12)
	assert.InDelta(t, 10, stats.ViolationDegrees, 1e-12)
	assert.Equal(t, 3, stats.Levels)
}

func pathProbability(calc BestPathsCalculator, g *Graph) (float64, error) {
	lp, err := calc.PathLogProbability(g)
	return math.Exp(lp), err
}
