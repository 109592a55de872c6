// Package windestimation estimates a true wind track from the maneuvers of
// the competitors of a race. Each maneuver becomes a level of hypotheses in
// a maneuver graph; the best explanation of all levels yields the wind.
package windestimation

import (
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/banshee-data/wind.report/internal/config"
	"github.com/banshee-data/wind.report/internal/maneuver"
	"github.com/banshee-data/wind.report/internal/maneuvergraph"
	"github.com/banshee-data/wind.report/internal/monitoring"
	"github.com/banshee-data/wind.report/internal/mstgraph"
)

// Mode selects how levels are linked.
type Mode string

const (
	// ModeChain links every maneuver to the previous one in time.
	ModeChain Mode = config.ModeChain
	// ModeMST fuses competitors through a minimum spanning forest.
	ModeMST Mode = config.ModeMST
)

// Config configures an Estimator.
type Config struct {
	Mode                Mode
	Graph               maneuvergraph.Options
	PreciseConfidence   bool
	MST                 mstgraph.Generator
	FallbackProbability float64
	MaxWorkers          int
	ClassifierCacheTTL  time.Duration
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return ConfigFrom(config.EmptyEstimationConfig())
}

// ConfigFrom translates a loaded estimation config.
func ConfigFrom(ec *config.EstimationConfig) Config {
	tc := maneuvergraph.TransitionCalculator{
		Policy: maneuvergraph.ThresholdPenalty{
			FreeDegrees:  ec.GetPenaltyFreeShiftDegrees(),
			SmallDegrees: ec.GetSmallPenaltyShiftDegrees(),
		},
		DriftDegreesPerHour: ec.GetDriftDegreesPerHour(),
	}
	if ec.GetPenaltyPolicy() == config.PenaltyPolicyGaussian {
		tc.Policy = maneuvergraph.GaussianPenalty{SigmaDegrees: ec.GetGaussianSigmaDegrees()}
	}
	return Config{
		Mode: Mode(ec.GetMode()),
		Graph: maneuvergraph.Options{
			Transition:             tc,
			MinEmissionProbability: ec.GetMinEmissionProbability(),
		},
		PreciseConfidence: ec.GetPreciseConfidence(),
		MST: mstgraph.Generator{
			TimeWindow:      ec.GetMSTTimeWindow(),
			MetresPerSecond: ec.GetMSTMetresPerSecond(),
		},
		FallbackProbability: ec.GetFallbackHypothesisProbability(),
		MaxWorkers:          ec.GetMaxWorkers(),
		ClassifierCacheTTL:  ec.GetClassifierCacheTTL(),
	}
}

// Topology returns the graph topology for the configured mode.
func (c Config) Topology() maneuvergraph.Topology {
	if c.Mode == ModeChain {
		return maneuvergraph.Chain{}
	}
	return c.MST
}

// Estimator incrementally builds the maneuver graph of one race and keeps
// its best paths current. It is not safe for concurrent use: callers
// serialize appends and reads.
type Estimator struct {
	classifier maneuver.Classifier
	cfg        Config
	graph      *maneuvergraph.Graph
	topology   maneuvergraph.Topology
	bestPaths  maneuvergraph.BestPathsCalculator
	// err holds the failure of the last best-path update.
	err error
}

// NewEstimator creates an estimator that labels maneuvers with classifier.
func NewEstimator(classifier maneuver.Classifier, cfg Config) *Estimator {
	return &Estimator{
		classifier: classifier,
		cfg:        cfg,
		graph:      maneuvergraph.NewGraph(cfg.Graph),
		topology:   cfg.Topology(),
		bestPaths:  maneuvergraph.BestPathsCalculator{Precise: cfg.PreciseConfidence},
	}
}

// Graph exposes the underlying maneuver graph for inspection.
func (e *Estimator) Graph() *maneuvergraph.Graph {
	return e.graph
}

// Len returns the number of maneuvers in the graph.
func (e *Estimator) Len() int {
	return e.graph.Linked()
}

// AppendManeuverAsGraphLevel classifies m, inserts it as a level at its
// temporal position and brings the best paths up to date. A maneuver older
// than the latest one invalidates every level after it.
func (e *Estimator) AppendManeuverAsGraphLevel(m *maneuver.Maneuver) error {
	if err := m.Validate(); err != nil {
		return err
	}
	hs, err := e.classifier.Classify(m)
	if err != nil {
		return fmt.Errorf("classify maneuver %q: %w", m.ID, err)
	}
	hs = maneuver.EnsureHypotheses(hs, e.cfg.FallbackProbability)

	l := e.graph.NewLevel(m, hs)
	outOfOrder, err := e.graph.InsertInTimeOrder(l.ID)
	if err != nil {
		return err
	}
	changed, err := e.graph.ApplyTopology(e.topology)
	if err != nil {
		// The rejected topology was not installed; dropping the level
		// restores the graph as it was before this append.
		if uerr := e.graph.Unlink(l.ID); uerr != nil {
			return errors.Join(err, uerr)
		}
		return fmt.Errorf("link maneuver %q: %w", m.ID, err)
	}
	if outOfOrder {
		monitoring.Debugf("wind estimation: maneuver %q at %s arrived out of order, %d levels relinked",
			m.ID, m.Time.Format(time.RFC3339), changed)
	}

	earliest, err := e.RecomputeTransitionProbabilitiesAtLevelsWhereNeeded()
	if err != nil {
		e.err = err
		return err
	}
	n, err := e.bestPaths.Compute(e.graph)
	e.err = err
	if err != nil {
		return err
	}
	if monitoring.DebugEnabled() {
		lp, _ := e.bestPaths.PathLogProbability(e.graph)
		monitoring.Debugf("wind estimation: maneuver %q appended, transitions from level %d, %d levels recomputed, best path log probability %.3f",
			m.ID, earliest, n, lp)
	}
	return nil
}

// RecomputeTransitionProbabilitiesAtLevelsWhereNeeded refreshes stale
// transition caches and returns the earliest level touched, or
// maneuvergraph.NoLevel.
func (e *Estimator) RecomputeTransitionProbabilitiesAtLevelsWhereNeeded() (maneuvergraph.LevelID, error) {
	return e.graph.RecomputeTransitionProbabilitiesAtLevelsWhereNeeded()
}

// EstimateWindTrack returns the wind samples of the current best path. The
// returned sequence is finite and restartable; ranging over it twice without
// appending in between yields identical samples.
func (e *Estimator) EstimateWindTrack() (iter.Seq[WindWithConfidence], error) {
	if e.err != nil {
		return nil, e.err
	}
	return WindTrackExtractor{Graph: e.graph, BestPaths: e.bestPaths}.Extract()
}

// PathLogProbability returns the log probability of the best explanation
// of all maneuvers appended so far.
func (e *Estimator) PathLogProbability() (float64, error) {
	if e.err != nil {
		return 0, e.err
	}
	return e.bestPaths.PathLogProbability(e.graph)
}

// PathStats merges the statistics of the best paths of all roots.
func (e *Estimator) PathStats() (maneuvergraph.PathStats, error) {
	var stats maneuvergraph.PathStats
	if e.err != nil {
		return stats, e.err
	}
	path, err := e.bestPaths.BestPath(e.graph)
	if err != nil {
		return stats, err
	}
	chosen := make(map[maneuvergraph.LevelID]int, len(path))
	for _, a := range path {
		chosen[a.Level] = a.Node
	}
	for _, root := range e.graph.Roots() {
		l, err := e.graph.Level(root)
		if err != nil {
			return stats, err
		}
		stats.Merge(l.Nodes[chosen[root]].Best.Stats)
	}
	return stats, nil
}
