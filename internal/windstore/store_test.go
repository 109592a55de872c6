package windstore

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/wind.report/internal/maneuver"
	"github.com/banshee-data/wind.report/internal/testutil"
	"github.com/banshee-data/wind.report/internal/timeutil"
	"github.com/banshee-data/wind.report/internal/windcourse"
	"github.com/banshee-data/wind.report/internal/windestimation"
)

func openTestStore(t *testing.T) (*Store, *timeutil.MockClock) {
	t.Helper()
	clock := timeutil.NewMockClock(testutil.RaceStart.Add(24 * time.Hour))
	s, err := OpenWithClock(filepath.Join(t.TempDir(), "wind.db"), clock)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, clock
}

func testRace(id string) *windestimation.Race {
	return &windestimation.Race{
		ID:        id,
		Name:      "Race " + id,
		Maneuvers: testutil.TacksAndJibe("GER 1", 0),
	}
}

func TestOpen_AppliesPragmas(t *testing.T) {
	s, _ := openTestStore(t)

	var journalMode string
	require.NoError(t, s.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var busyTimeout, synchronous, tempStore, foreignKeys int
	require.NoError(t, s.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	require.NoError(t, s.QueryRow("PRAGMA synchronous").Scan(&synchronous))
	require.NoError(t, s.QueryRow("PRAGMA temp_store").Scan(&tempStore))
	require.NoError(t, s.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys))
	assert.Equal(t, 5000, busyTimeout)
	assert.Equal(t, 1, synchronous, "NORMAL")
	assert.Equal(t, 2, tempStore, "MEMORY")
	assert.Equal(t, 1, foreignKeys)
}

func TestMigrations(t *testing.T) {
	s, _ := openTestStore(t)

	version, dirty, err := s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	require.NoError(t, s.MigrateDown())
	version, _, err = s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	var n int
	err = s.QueryRow("SELECT COUNT(*) FROM wind_fixes").Scan(&n)
	assert.Error(t, err, "wind_fixes is dropped by the down migration")

	require.NoError(t, s.MigrateUp())
	require.NoError(t, s.MigrateUp(), "no change is not an error")
	version, _, err = s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)

	require.NoError(t, s.MigrateForce(2))
}

func TestMigrationsFS(t *testing.T) {
	names, err := fs.Glob(MigrationsFS(), "*.up.sql")
	require.NoError(t, err)
	assert.Equal(t, []string{"000001_create_races.up.sql", "000002_create_wind_fixes.up.sql"}, names)
}

func TestSaveAndLoadRace(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	race := testRace("r1")
	// Stored out of order; loading sorts by time.
	race.Maneuvers[0], race.Maneuvers[2] = race.Maneuvers[2], race.Maneuvers[0]
	require.NoError(t, s.SaveRace(ctx, race))

	loaded, err := s.LoadRace(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "Race r1", loaded.Name)

	want := testutil.TacksAndJibe("GER 1", 0)
	if diff := cmp.Diff(want, loaded.Maneuvers); diff != "" {
		t.Errorf("LoadRace() mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveRace_ReplacesManeuvers(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	race := testRace("r1")
	require.NoError(t, s.SaveRace(ctx, race))

	race.Name = "renamed"
	race.Maneuvers = race.Maneuvers[:1]
	require.NoError(t, s.SaveRace(ctx, race))

	loaded, err := s.LoadRace(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", loaded.Name)
	assert.Len(t, loaded.Maneuvers, 1)
}

func TestLoadRace_NotFound(t *testing.T) {
	s, _ := openTestStore(t)

	_, err := s.LoadRace(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrRaceNotFound))
}

func TestListRaces(t *testing.T) {
	s, clock := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveRace(ctx, testRace("r2")))
	clock.Advance(time.Minute)
	empty := &windestimation.Race{ID: "r1", Name: "empty"}
	require.NoError(t, s.SaveRace(ctx, empty))

	races, err := s.ListRaces(ctx)
	require.NoError(t, err)
	require.Len(t, races, 2)
	assert.Equal(t, "r2", races[0].ID)
	assert.Equal(t, 3, races[0].Maneuvers)
	assert.Equal(t, "r1", races[1].ID)
	assert.Equal(t, 0, races[1].Maneuvers)
	assert.True(t, races[1].Created.Equal(clock.Now()))
}

func TestSaveRunAndWindFixes(t *testing.T) {
	s, clock := openTestStore(t)
	ctx := context.Background()

	race := testRace("r1")
	require.NoError(t, s.SaveRace(ctx, race))

	classifier, _ := testutil.TacksAndJibeClassifier("GER 1")
	cfg := windestimation.DefaultConfig()
	cfg.Mode = windestimation.ModeChain

	results, err := windestimation.EstimateRaces(ctx, classifier, cfg, []*windestimation.Race{race})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	require.NoError(t, s.SaveRun(ctx, cfg.Mode, results[0]))

	fixes, err := s.WindFixes(ctx, results[0].RunID, "r1")
	require.NoError(t, err)
	if diff := cmp.Diff(results[0].Winds, fixes); diff != "" {
		t.Errorf("WindFixes() mismatch (-want +got):\n%s", diff)
	}

	// A failed later run is recorded and becomes the latest.
	clock.Advance(time.Hour)
	failed := windestimation.RaceResult{RunID: "run-2", RaceID: "r1", Err: errors.New("no viable path")}
	require.NoError(t, s.SaveRun(ctx, cfg.Mode, failed))

	latest, err := s.LatestRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "run-2", latest)

	var stored string
	require.NoError(t, s.QueryRow("SELECT error FROM estimation_runs WHERE run_id = ?", "run-2").Scan(&stored))
	assert.Equal(t, "no viable path", stored)

	fixes, err = s.WindFixes(ctx, "run-2", "r1")
	require.NoError(t, err)
	assert.Empty(t, fixes)
}

func TestSaveRun_UnknownRace(t *testing.T) {
	s, _ := openTestStore(t)

	err := s.SaveRun(context.Background(), windestimation.ModeChain,
		windestimation.RaceResult{RunID: "run", RaceID: "missing"})
	assert.Error(t, err, "foreign keys are enforced")
}

func TestLatestRun_None(t *testing.T) {
	s, _ := openTestStore(t)

	_, err := s.LatestRun(context.Background(), "r1")
	assert.True(t, errors.Is(err, ErrRaceNotFound))
}

func TestWindFixes_RoundTripsLabels(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveRace(ctx, testRace("r1")))

	w := windestimation.WindWithConfidence{
		Wind:         windestimation.Wind{Time: testutil.RaceStart, DirectionDegrees: 270},
		Confidence:   0.9,
		ManeuverID:   "m1",
		CompetitorID: "GER 1",
		Label:        maneuver.LabelBearAway,
		TackAfter:    maneuver.TackPort,
		WindRange:    windcourse.NewRange(60, 30),
	}
	require.NoError(t, s.SaveRun(ctx, windestimation.ModeMST,
		windestimation.RaceResult{RunID: "run", RaceID: "r1", Winds: []windestimation.WindWithConfidence{w}}))

	fixes, err := s.WindFixes(ctx, "run", "r1")
	require.NoError(t, err)
	require.Len(t, fixes, 1)
	assert.Equal(t, maneuver.LabelBearAway, fixes[0].Label)
	assert.Equal(t, maneuver.TackPort, fixes[0].TackAfter)
	assert.Equal(t, windcourse.NewRange(60, 30), fixes[0].WindRange)
}
