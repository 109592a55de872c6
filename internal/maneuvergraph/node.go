package maneuvergraph

import (
	"maps"

	"github.com/banshee-data/wind.report/internal/maneuver"
	"github.com/banshee-data/wind.report/internal/windcourse"
)

// Node is one wind-course hypothesis of a level.
type Node struct {
	Index      int
	Hypothesis maneuver.Hypothesis
	// Emission is the classifier probability normalized within the level.
	Emission float64
	Best     BestPathInfo
}

// BestPathInfo is the dynamic-programming state of a node.
type BestPathInfo struct {
	// Probability is the max-product probability of the best subtree ending
	// in this node, normalized within the level.
	Probability float64
	// Inside is the sum-product probability over all subtrees ending in this
	// node, normalized within the level.
	Inside float64
	// Back holds, per incoming level of the owning level, the index of the
	// node chosen by the best path.
	Back []int
	// Stats aggregates the best path that ends in this node.
	Stats PathStats
}

// ClassStats counts best-path labels of one boat class.
type ClassStats struct {
	Count           [maneuver.NumLabels]int
	AbsCourseChange [maneuver.NumLabels]float64
}

// MeanAbsCourseChange returns the average absolute course change of the
// maneuvers labelled l, or zero when there are none.
func (cs ClassStats) MeanAbsCourseChange(l maneuver.Label) float64 {
	if cs.Count[l] == 0 {
		return 0
	}
	return cs.AbsCourseChange[l] / float64(cs.Count[l])
}

// PathStats are running aggregates along a best path.
type PathStats struct {
	Levels int
	// ViolationDegrees sums the range violations of all chosen transitions.
	ViolationDegrees float64
	// WindRange spans the wind ranges of all hypotheses on the path. Its
	// Violation sums the gaps bridged while widening it.
	WindRange windcourse.IntersectedRange
	Classes   map[maneuver.BoatClass]ClassStats
}

// Merge adds other to ps.
func (ps *PathStats) Merge(other PathStats) {
	ps.merge(other, 0)
}

func (ps *PathStats) add(bc maneuver.BoatClass, l maneuver.Label, absCourseChange float64, r windcourse.Range) {
	if ps.Levels == 0 {
		ps.WindRange = r.ToIntersected()
	} else {
		ps.WindRange = ps.WindRange.Extend(r)
	}
	if ps.Classes == nil {
		ps.Classes = make(map[maneuver.BoatClass]ClassStats)
	}
	cs := ps.Classes[bc]
	cs.Count[l]++
	cs.AbsCourseChange[l] += absCourseChange
	ps.Classes[bc] = cs
	ps.Levels++
}

func (ps *PathStats) merge(other PathStats, violation float64) {
	switch {
	case other.Levels == 0:
	case ps.Levels == 0:
		ps.WindRange = other.WindRange
	default:
		wr := other.WindRange.Extend(ps.WindRange.Range)
		wr.Violation += ps.WindRange.Violation
		ps.WindRange = wr
	}
	ps.Levels += other.Levels
	ps.ViolationDegrees += other.ViolationDegrees + violation
	if len(other.Classes) == 0 {
		return
	}
	if ps.Classes == nil {
		ps.Classes = maps.Clone(other.Classes)
		return
	}
	for bc, o := range other.Classes {
		cs := ps.Classes[bc]
		for i := range cs.Count {
			cs.Count[i] += o.Count[i]
			cs.AbsCourseChange[i] += o.AbsCourseChange[i]
		}
		ps.Classes[bc] = cs
	}
}
