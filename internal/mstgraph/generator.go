// Package mstgraph fuses the maneuvers of several competitors into one
// hypothesis forest. Candidate edges connect consecutive maneuvers of a track
// and maneuvers of different competitors that happened close in time and
// space; a minimum spanning forest over them decides which levels feed
// which.
package mstgraph

import (
	"math"
	"slices"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/tidwall/rtree"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/banshee-data/wind.report/internal/maneuvergraph"
	"github.com/banshee-data/wind.report/internal/monitoring"
)

// Defaults for Generator.
const (
	DefaultTimeWindow      = 5 * time.Minute
	DefaultMetresPerSecond = 5.0
)

// tieBreak separates otherwise equal edge weights so the spanning forest
// does not depend on sort stability or map order.
const tieBreak = 1e-12

// Generator builds the spanning-forest topology of a maneuver graph. It
// implements maneuvergraph.Topology.
type Generator struct {
	// TimeWindow bounds the time between two maneuvers of different
	// competitors for them to be linked directly.
	TimeWindow time.Duration
	// MetresPerSecond converts the distance between two maneuvers into
	// seconds of edge weight. Zero ignores positions.
	MetresPerSecond float64
}

// NewGenerator returns a generator with the default window and speed.
func NewGenerator() Generator {
	return Generator{TimeWindow: DefaultTimeWindow, MetresPerSecond: DefaultMetresPerSecond}
}

// Edge is one edge of the spanning forest.
type Edge struct {
	From, To maneuvergraph.LevelID
	Weight   float64
}

// Forest is the result of Build.
type Forest struct {
	// Incoming lists, per level, the levels it is fed by in temporal order.
	Incoming       map[maneuvergraph.LevelID][]maneuvergraph.LevelID
	Edges          []Edge
	CandidateEdges int
	Roots          []maneuvergraph.LevelID
}

// Incoming implements maneuvergraph.Topology.
func (gen Generator) Incoming(g *maneuvergraph.Graph) (map[maneuvergraph.LevelID][]maneuvergraph.LevelID, error) {
	f := gen.Build(g)
	return f.Incoming, nil
}

// Build computes the minimum spanning forest over the candidate edges and
// roots every component at its latest level. Components never linked by a
// candidate edge stay separate trees.
func (gen Generator) Build(g *maneuvergraph.Graph) Forest {
	var levels []*maneuvergraph.Level
	for l := range g.Ordered() {
		levels = append(levels, l)
	}
	// Graph node IDs are positions in temporal order.
	candidates := simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	for i := range levels {
		candidates.AddNode(simple.Node(i))
	}
	n := 0
	addEdge := func(a, b int) {
		if a == b || candidates.HasEdgeBetween(int64(a), int64(b)) {
			return
		}
		w := gen.weight(levels[a], levels[b])
		k := float64(n)
		candidates.SetWeightedEdge(simple.WeightedEdge{
			F: simple.Node(a),
			T: simple.Node(b),
			W: w*(1+k*tieBreak) + k*tieBreak,
		})
		n++
	}

	// Consecutive maneuvers of the same competitor.
	lastOf := make(map[string]int)
	for i, l := range levels {
		if prev, ok := lastOf[l.Maneuver.CompetitorID]; ok {
			addEdge(prev, i)
		}
		lastOf[l.Maneuver.CompetitorID] = i
	}

	// Maneuvers of other competitors within the time window.
	var byTime rtree.RTreeG[int]
	for i, l := range levels {
		t := float64(l.Maneuver.Time.UnixNano()) / 1e9
		byTime.Insert([2]float64{t, 0}, [2]float64{t, 0}, i)
	}
	window := gen.TimeWindow.Seconds()
	for i, l := range levels {
		t := float64(l.Maneuver.Time.UnixNano()) / 1e9
		var near []int
		byTime.Search([2]float64{t - window, 0}, [2]float64{t + window, 0},
			func(_, _ [2]float64, j int) bool {
				if j > i && levels[j].Maneuver.CompetitorID != l.Maneuver.CompetitorID {
					near = append(near, j)
				}
				return true
			})
		slices.Sort(near)
		for _, j := range near {
			addEdge(i, j)
		}
	}

	mst := simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	path.Kruskal(mst, candidates)

	f := Forest{
		Incoming:       make(map[maneuvergraph.LevelID][]maneuvergraph.LevelID),
		CandidateEdges: n,
	}
	visited := make([]bool, len(levels))
	for r := len(levels) - 1; r >= 0; r-- {
		if visited[r] {
			continue
		}
		f.Roots = append(f.Roots, levels[r].ID)
		visited[r] = true
		queue := []int{r}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			var children []int
			for _, nb := range graph.NodesOf(mst.From(int64(cur))) {
				if c := int(nb.ID()); !visited[c] {
					visited[c] = true
					children = append(children, c)
				}
			}
			if len(children) == 0 {
				continue
			}
			slices.Sort(children)
			ids := make([]maneuvergraph.LevelID, len(children))
			for k, c := range children {
				ids[k] = levels[c].ID
				f.Edges = append(f.Edges, Edge{
					From:   levels[c].ID,
					To:     levels[cur].ID,
					Weight: mst.WeightedEdge(int64(c), int64(cur)).Weight(),
				})
			}
			f.Incoming[levels[cur].ID] = ids
			queue = append(queue, children...)
		}
	}
	slices.Reverse(f.Roots)

	monitoring.Debugf("mst: %d levels, %d candidate edges, %d tree edges, %d components",
		len(levels), n, len(f.Edges), len(f.Roots))
	return f
}

// weight is the time between two maneuvers in seconds plus their distance
// expressed in seconds of sailing.
func (gen Generator) weight(a, b *maneuvergraph.Level) float64 {
	w := math.Abs(a.Maneuver.Time.Sub(b.Maneuver.Time).Seconds())
	if gen.MetresPerSecond > 0 && hasPosition(a.Maneuver.Position) && hasPosition(b.Maneuver.Position) {
		w += geo.Distance(a.Maneuver.Position, b.Maneuver.Position) / gen.MetresPerSecond
	}
	return w
}

func hasPosition(p orb.Point) bool {
	return p != orb.Point{}
}
