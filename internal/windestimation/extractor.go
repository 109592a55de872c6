package windestimation

import (
	"iter"

	"github.com/banshee-data/wind.report/internal/maneuvergraph"
	"github.com/banshee-data/wind.report/internal/windcourse"
)

// WindTrackExtractor turns the best path of a graph into wind samples.
type WindTrackExtractor struct {
	Graph     *maneuvergraph.Graph
	BestPaths maneuvergraph.BestPathsCalculator
}

// Extract backtracks the best path and returns a sequence over its wind
// samples in temporal order. Levels whose chosen hypothesis admits every
// wind course carry no direction and are skipped. The sequence can be
// ranged over repeatedly and always yields the same samples.
func (x WindTrackExtractor) Extract() (iter.Seq[WindWithConfidence], error) {
	path, err := x.BestPaths.BestPath(x.Graph)
	if err != nil {
		return nil, err
	}
	return func(yield func(WindWithConfidence) bool) {
		for _, a := range path {
			l, err := x.Graph.Level(a.Level)
			if err != nil {
				return
			}
			h := l.Nodes[a.Node].Hypothesis
			if h.WindRange.IsFullCircle() {
				continue
			}
			w := WindWithConfidence{
				Wind: Wind{
					Time:             l.Maneuver.Time,
					Position:         l.Maneuver.Position,
					DirectionDegrees: windcourse.TWDFromCourse(h.WindRange.Middle()),
					SpeedKnots:       h.WindSpeedKnots,
				},
				Confidence:   a.Confidence,
				ManeuverID:   l.Maneuver.ID,
				CompetitorID: l.Maneuver.CompetitorID,
				Label:        h.Label,
				TackAfter:    h.TackAfter,
				WindRange:    h.WindRange,
			}
			if !yield(w) {
				return
			}
		}
	}, nil
}
