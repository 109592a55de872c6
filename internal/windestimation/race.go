package windestimation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/wind.report/internal/maneuver"
	"github.com/banshee-data/wind.report/internal/maneuvergraph"
	"github.com/banshee-data/wind.report/internal/monitoring"
)

// maxRaceFileSize bounds race files read by LoadRace.
const maxRaceFileSize = 64 * 1024 * 1024

// Race is the maneuver input of one race.
type Race struct {
	ID        string              `json:"id"`
	Name      string              `json:"name,omitempty"`
	Maneuvers []maneuver.Maneuver `json:"maneuvers"`
}

// LoadRace reads a race from a JSON file. Races without an ID get a random
// one.
func LoadRace(path string) (*Race, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("race file must have .json extension, got %q", ext)
	}
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat race file: %w", err)
	}
	if fileInfo.Size() > maxRaceFileSize {
		return nil, fmt.Errorf("race file too large: %d bytes (max %d)", fileInfo.Size(), maxRaceFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read race file: %w", err)
	}

	var race Race
	if err := json.Unmarshal(data, &race); err != nil {
		return nil, fmt.Errorf("failed to parse race %s: %w", cleanPath, err)
	}
	if race.ID == "" {
		race.ID = uuid.New().String()
	}
	for i := range race.Maneuvers {
		if err := race.Maneuvers[i].Validate(); err != nil {
			return nil, fmt.Errorf("race %s: %w", race.ID, err)
		}
	}
	return &race, nil
}

// RaceResult is the estimated wind track of one race.
type RaceResult struct {
	RunID              string
	RaceID             string
	Winds              []WindWithConfidence
	PathLogProbability float64
	// Err records why the race produced no track, e.g.
	// maneuvergraph.ErrNoViablePath. Other races are unaffected.
	Err error
}

// MeanDirection returns the confidence-weighted mean wind direction.
func (r RaceResult) MeanDirection() (float64, bool) {
	return MeanDirection(r.Winds)
}

// EstimateRace appends all maneuvers of race to a fresh estimator in the
// order given and extracts the wind track.
func EstimateRace(classifier maneuver.Classifier, cfg Config, race *Race) RaceResult {
	res := RaceResult{RaceID: race.ID}
	est := NewEstimator(classifier, cfg)
	for i := range race.Maneuvers {
		if err := est.AppendManeuverAsGraphLevel(&race.Maneuvers[i]); err != nil {
			// A level without viable path may be repaired by later
			// maneuvers; anything else is fatal for this race.
			if errors.Is(err, maneuvergraph.ErrNoViablePath) {
				continue
			}
			res.Err = err
			return res
		}
	}
	track, err := est.EstimateWindTrack()
	if err != nil {
		res.Err = err
		return res
	}
	res.Winds = slices.Collect(track)
	res.PathLogProbability, res.Err = est.PathLogProbability()
	return res
}

// EstimateRaces estimates independent races concurrently on at most
// cfg.MaxWorkers goroutines. Results are returned in input order and share
// one run ID. Per-race failures are reported in RaceResult.Err; the returned
// error is only set when ctx is done.
func EstimateRaces(ctx context.Context, classifier maneuver.Classifier, cfg Config, races []*Race) ([]RaceResult, error) {
	runID := uuid.New().String()
	results := make([]RaceResult, len(races))

	g, ctx := errgroup.WithContext(ctx)
	workers := cfg.MaxWorkers
	if workers < 1 {
		workers = 1
	}
	g.SetLimit(workers)

	for i, race := range races {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res := EstimateRace(classifier, cfg, race)
			res.RunID = runID
			if res.Err != nil {
				monitoring.Logf("wind estimation: race %s: %v", race.ID, res.Err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
