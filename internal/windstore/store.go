// Package windstore persists races, their maneuvers and estimated wind
// tracks in SQLite.
package windstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/paulmach/orb"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/wind.report/internal/maneuver"
	"github.com/banshee-data/wind.report/internal/timeutil"
	"github.com/banshee-data/wind.report/internal/windcourse"
	"github.com/banshee-data/wind.report/internal/windestimation"
)

// ErrRaceNotFound is returned when a race ID is unknown.
var ErrRaceNotFound = errors.New("race not found")

// Store wraps a migrated SQLite database.
type Store struct {
	*sql.DB
	clock timeutil.Clock
}

// Open opens (or creates) the database at path, applies the connection
// pragmas and runs pending migrations.
func Open(path string) (*Store, error) {
	return OpenWithClock(path, timeutil.RealClock{})
}

// OpenWithClock is Open with an injected clock for creation timestamps.
func OpenWithClock(path string, clock timeutil.Clock) (*Store, error) {
	s, err := openDB(path, clock)
	if err != nil {
		return nil, err
	}
	if err := s.MigrateUp(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// OpenWithoutMigrations opens the database at path and applies the
// connection pragmas only. The migrate command uses it so the schema
// version is left to the requested action.
func OpenWithoutMigrations(path string) (*Store, error) {
	return openDB(path, timeutil.RealClock{})
}

func openDB(path string, clock timeutil.Clock) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{DB: db, clock: clock}, nil
}

func applyPragmas(db *sql.DB) error {
	// A single connection keeps the pragmas and avoids SQLITE_BUSY between
	// our own connections.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	return nil
}

// RaceSummary describes a stored race.
type RaceSummary struct {
	ID        string
	Name      string
	Maneuvers int
	Created   time.Time
}

// SaveRace stores race and replaces any maneuvers stored for it before.
func (s *Store) SaveRace(ctx context.Context, race *windestimation.Race) error {
	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO races (race_id, name, created_unix_nanos) VALUES (?, ?, ?)
		ON CONFLICT (race_id) DO UPDATE SET name = excluded.name`,
		race.ID, race.Name, s.clock.Now().UnixNano()); err != nil {
		return fmt.Errorf("failed to save race %s: %w", race.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM maneuvers WHERE race_id = ?`, race.ID); err != nil {
		return fmt.Errorf("failed to clear maneuvers of race %s: %w", race.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO maneuvers (
			race_id, maneuver_id, competitor_id, boat_class, time_unix_nanos, lon, lat,
			course_before, course_after, course_change,
			speed_before_knots, speed_after_knots, lowest_speed_knots,
			max_turning_rate, clean, mark_passing
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, m := range race.Maneuvers {
		if _, err := stmt.ExecContext(ctx,
			race.ID, m.ID, m.CompetitorID, string(m.BoatClass), m.Time.UnixNano(), m.Position.Lon(), m.Position.Lat(),
			m.CourseBefore, m.CourseAfter, m.CourseChange,
			m.SpeedBeforeKnots, m.SpeedAfterKnots, m.LowestSpeedKnots,
			m.MaxTurningRate, m.Clean, m.MarkPassing,
		); err != nil {
			return fmt.Errorf("failed to save maneuver %s: %w", m.ID, err)
		}
	}
	return tx.Commit()
}

// LoadRace returns a stored race with its maneuvers in temporal order.
func (s *Store) LoadRace(ctx context.Context, raceID string) (*windestimation.Race, error) {
	race := &windestimation.Race{ID: raceID}
	err := s.QueryRowContext(ctx, `SELECT name FROM races WHERE race_id = ?`, raceID).Scan(&race.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRaceNotFound, raceID)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.QueryContext(ctx, `
		SELECT maneuver_id, competitor_id, boat_class, time_unix_nanos, lon, lat,
			course_before, course_after, course_change,
			speed_before_knots, speed_after_knots, lowest_speed_knots,
			max_turning_rate, clean, mark_passing
		FROM maneuvers WHERE race_id = ?
		ORDER BY time_unix_nanos, maneuver_id`, raceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			m         maneuver.Maneuver
			boatClass string
			unixNanos int64
			lon, lat  float64
		)
		if err := rows.Scan(&m.ID, &m.CompetitorID, &boatClass, &unixNanos, &lon, &lat,
			&m.CourseBefore, &m.CourseAfter, &m.CourseChange,
			&m.SpeedBeforeKnots, &m.SpeedAfterKnots, &m.LowestSpeedKnots,
			&m.MaxTurningRate, &m.Clean, &m.MarkPassing); err != nil {
			return nil, err
		}
		m.BoatClass = maneuver.BoatClass(boatClass)
		m.Time = time.Unix(0, unixNanos).UTC()
		m.Position = orb.Point{lon, lat}
		race.Maneuvers = append(race.Maneuvers, m)
	}
	return race, rows.Err()
}

// ListRaces returns all stored races ordered by creation time.
func (s *Store) ListRaces(ctx context.Context) ([]RaceSummary, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT r.race_id, r.name, r.created_unix_nanos, COUNT(m.maneuver_id)
		FROM races r LEFT JOIN maneuvers m ON m.race_id = r.race_id
		GROUP BY r.race_id
		ORDER BY r.created_unix_nanos, r.race_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RaceSummary
	for rows.Next() {
		var (
			rs      RaceSummary
			created int64
		)
		if err := rows.Scan(&rs.ID, &rs.Name, &created, &rs.Maneuvers); err != nil {
			return nil, err
		}
		rs.Created = time.Unix(0, created).UTC()
		out = append(out, rs)
	}
	return out, rows.Err()
}

// SaveRun stores the outcome of estimating one race.
func (s *Store) SaveRun(ctx context.Context, mode windestimation.Mode, res windestimation.RaceResult) error {
	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var errText sql.NullString
	if res.Err != nil {
		errText = sql.NullString{String: res.Err.Error(), Valid: true}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO estimation_runs (run_id, race_id, mode, created_unix_nanos, path_log_probability, error)
		VALUES (?, ?, ?, ?, ?, ?)`,
		res.RunID, res.RaceID, string(mode), s.clock.Now().UnixNano(), res.PathLogProbability, errText); err != nil {
		return fmt.Errorf("failed to save run %s for race %s: %w", res.RunID, res.RaceID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO wind_fixes (
			run_id, race_id, seq, maneuver_id, competitor_id, time_unix_nanos, lon, lat,
			direction_degrees, speed_knots, confidence, label, tack_after, range_from, range_span
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, w := range res.Winds {
		if _, err := stmt.ExecContext(ctx,
			res.RunID, res.RaceID, i, w.ManeuverID, w.CompetitorID, w.Time.UnixNano(), w.Position.Lon(), w.Position.Lat(),
			w.DirectionDegrees, w.SpeedKnots, w.Confidence, w.Label.String(), w.TackAfter.String(),
			w.WindRange.From, w.WindRange.Span,
		); err != nil {
			return fmt.Errorf("failed to save wind fix %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// LatestRun returns the ID of the most recent run stored for raceID.
func (s *Store) LatestRun(ctx context.Context, raceID string) (string, error) {
	var runID string
	err := s.QueryRowContext(ctx, `
		SELECT run_id FROM estimation_runs WHERE race_id = ?
		ORDER BY created_unix_nanos DESC, run_id DESC LIMIT 1`, raceID).Scan(&runID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: no runs for %s", ErrRaceNotFound, raceID)
	}
	return runID, err
}

// WindFixes returns the wind track stored by run runID for raceID.
func (s *Store) WindFixes(ctx context.Context, runID, raceID string) ([]windestimation.WindWithConfidence, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT maneuver_id, competitor_id, time_unix_nanos, lon, lat,
			direction_degrees, speed_knots, confidence, label, tack_after, range_from, range_span
		FROM wind_fixes WHERE run_id = ? AND race_id = ?
		ORDER BY seq`, runID, raceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []windestimation.WindWithConfidence
	for rows.Next() {
		var (
			w                    windestimation.WindWithConfidence
			unixNanos            int64
			lon, lat             float64
			label, tack          string
			rangeFrom, rangeSpan float64
		)
		if err := rows.Scan(&w.ManeuverID, &w.CompetitorID, &unixNanos, &lon, &lat,
			&w.DirectionDegrees, &w.SpeedKnots, &w.Confidence, &label, &tack, &rangeFrom, &rangeSpan); err != nil {
			return nil, err
		}
		w.Time = time.Unix(0, unixNanos).UTC()
		w.Position = orb.Point{lon, lat}
		if w.Label, err = maneuver.ParseLabel(label); err != nil {
			return nil, err
		}
		w.TackAfter = maneuver.ParseTack(tack)
		w.WindRange = windcourse.NewRange(rangeFrom, rangeSpan)
		out = append(out, w)
	}
	return out, rows.Err()
}
