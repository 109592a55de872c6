// Command windest estimates true wind tracks from the maneuvers of the
// competitors of one or more races.
//
// Usage:
//
//	windest [flags] race.json [race.json ...]
//	windest -db wind.db -load race-1,race-2
//	windest -db wind.db -list
//	windest -db wind.db migrate up|down|status|force N
package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/wind.report/internal/config"
	"github.com/banshee-data/wind.report/internal/maneuver"
	"github.com/banshee-data/wind.report/internal/monitoring"
	"github.com/banshee-data/wind.report/internal/security"
	"github.com/banshee-data/wind.report/internal/timeutil"
	"github.com/banshee-data/wind.report/internal/units"
	"github.com/banshee-data/wind.report/internal/version"
	"github.com/banshee-data/wind.report/internal/windestimation"
	"github.com/banshee-data/wind.report/internal/windplot"
	"github.com/banshee-data/wind.report/internal/windstore"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, timeutil.RealClock{}); err != nil {
		log.Fatalf("windest: %v", err)
	}
}

type options struct {
	configPath string
	mode       string
	workers    int
	dbPath     string
	load       string
	list       bool
	output     string
	pngDir     string
	htmlDir    string
	speedUnits string
	debug      bool
	version    bool
	races      []string
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("windest", flag.ContinueOnError)
	fs.SetOutput(stderr)

	o := &options{}
	fs.StringVar(&o.configPath, "config", "", "Estimation config JSON (defaults to built-in values)")
	fs.StringVar(&o.mode, "mode", "", "Graph mode: 'chain' or 'mst' (overrides config)")
	fs.IntVar(&o.workers, "workers", 0, "Races estimated concurrently (overrides config)")
	fs.StringVar(&o.dbPath, "db", "", "SQLite database to store races and wind tracks in")
	fs.StringVar(&o.load, "load", "", "Comma-separated race IDs to load from -db")
	fs.BoolVar(&o.list, "list", false, "List races stored in -db and exit")
	fs.StringVar(&o.output, "output", "", "Output CSV filename (defaults to stdout)")
	fs.StringVar(&o.pngDir, "png", "", "Directory for one wind plot image per race")
	fs.StringVar(&o.htmlDir, "html", "", "Directory for one interactive wind chart per race")
	fs.StringVar(&o.speedUnits, "units", units.KTS, "Wind speed units: kts, mps, kmph or mph")
	fs.BoolVar(&o.debug, "debug", false, "Enable debug logging")
	fs.BoolVar(&o.version, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	o.races = fs.Args()
	if err := units.Validate(o.speedUnits); err != nil {
		return nil, err
	}
	if (o.load != "" || o.list) && o.dbPath == "" {
		return nil, errors.New("-load and -list require -db")
	}
	return o, nil
}

// estimationConfig loads the config file, applies flag overrides and
// validates the result.
func (o *options) estimationConfig() (*config.EstimationConfig, error) {
	ec := config.DefaultEstimationConfig()
	if o.configPath != "" {
		var err error
		if ec, err = config.LoadEstimationConfig(o.configPath); err != nil {
			return nil, err
		}
	}
	if o.mode != "" {
		ec.Mode = &o.mode
	}
	if o.workers > 0 {
		ec.MaxWorkers = &o.workers
	}
	if err := ec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return ec, nil
}

func run(ctx context.Context, args []string, stdout io.Writer, clock timeutil.Clock) error {
	o, err := parseFlags(args, os.Stderr)
	if err != nil {
		return err
	}
	if o.version {
		fmt.Fprintln(stdout, version.String())
		return nil
	}
	monitoring.SetDebug(o.debug)

	if len(o.races) > 0 && o.races[0] == "migrate" {
		return runMigrate(o.races[1:], o.dbPath, stdout)
	}

	ec, err := o.estimationConfig()
	if err != nil {
		return err
	}
	cfg := windestimation.ConfigFrom(ec)

	var store *windstore.Store
	if o.dbPath != "" {
		if store, err = windstore.Open(o.dbPath); err != nil {
			return fmt.Errorf("failed to open database %s: %w", o.dbPath, err)
		}
		defer store.Close()
	}
	if o.list {
		return listRaces(ctx, store, stdout)
	}

	races, err := o.loadRaces(ctx, store)
	if err != nil {
		return err
	}
	if len(races) == 0 {
		return errors.New("no races given")
	}

	classifier := maneuver.NewCachingClassifier(
		maneuver.NewRegistry(maneuver.NewGeometricClassifier(maneuver.DefaultGeometricConfig(), nil)),
		cfg.ClassifierCacheTTL,
	)

	started := clock.Now()
	results, err := windestimation.EstimateRaces(ctx, classifier, cfg, races)
	if err != nil {
		return err
	}
	log.Printf("Estimated %d races in %v (mode %s, %d classifications cached)",
		len(races), clock.Since(started).Round(time.Millisecond), cfg.Mode, classifier.Len())

	for _, res := range results {
		if res.Err != nil {
			log.Printf("WARNING: race %s: %v", res.RaceID, res.Err)
			continue
		}
		if mean, ok := res.MeanDirection(); ok {
			log.Printf("Race %s: %d wind fixes, mean direction %.1f°, log probability %.3f",
				res.RaceID, len(res.Winds), mean, res.PathLogProbability)
		}
	}

	if store != nil {
		for i, res := range results {
			if o.load == "" {
				if err := store.SaveRace(ctx, races[i]); err != nil {
					return err
				}
			}
			if err := store.SaveRun(ctx, cfg.Mode, res); err != nil {
				return err
			}
		}
	}

	if err := o.writeCSV(stdout, results); err != nil {
		return err
	}
	return o.writePlots(results)
}

func (o *options) loadRaces(ctx context.Context, store *windstore.Store) ([]*windestimation.Race, error) {
	var races []*windestimation.Race
	for _, path := range o.races {
		race, err := windestimation.LoadRace(path)
		if err != nil {
			return nil, err
		}
		races = append(races, race)
	}
	if o.load == "" {
		return races, nil
	}
	for _, id := range strings.Split(o.load, ",") {
		race, err := store.LoadRace(ctx, strings.TrimSpace(id))
		if err != nil {
			return nil, err
		}
		races = append(races, race)
	}
	return races, nil
}

func listRaces(ctx context.Context, store *windstore.Store, stdout io.Writer) error {
	races, err := store.ListRaces(ctx)
	if err != nil {
		return err
	}
	for _, r := range races {
		fmt.Fprintf(stdout, "%s\t%s\t%d maneuvers\t%s\n", r.ID, r.Name, r.Maneuvers, r.Created.Format(time.RFC3339))
	}
	return nil
}

var csvHeader = []string{
	"race_id", "run_id", "seq", "time", "maneuver_id", "competitor_id", "label", "tack_after",
	"direction_deg", "speed", "confidence", "lon", "lat",
}

func (o *options) writeCSV(stdout io.Writer, results []windestimation.RaceResult) (err error) {
	out := stdout
	if o.output != "" {
		if err := security.ValidateOutputPath(o.output, []string{".csv"}); err != nil {
			return err
		}
		f, ferr := os.Create(o.output)
		if ferr != nil {
			return fmt.Errorf("could not create output file %s: %w", o.output, ferr)
		}
		defer func() {
			if cerr := f.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("could not close output file %s: %w", o.output, cerr)
			}
		}()
		out = f
	}

	w := csv.NewWriter(out)
	if err := w.Write(csvHeader); err != nil {
		return err
	}
	ff := func(v float64, prec int) string { return strconv.FormatFloat(v, 'f', prec, 64) }
	for _, res := range results {
		for i, wind := range res.Winds {
			if err := w.Write([]string{
				res.RaceID, res.RunID, strconv.Itoa(i), wind.Time.Format(time.RFC3339Nano),
				wind.ManeuverID, wind.CompetitorID, wind.Label.String(), wind.TackAfter.String(),
				ff(wind.DirectionDegrees, 1), ff(units.ConvertSpeed(wind.SpeedKnots, o.speedUnits), 2),
				ff(wind.Confidence, 4), ff(wind.Position.Lon(), 6), ff(wind.Position.Lat(), 6),
			}); err != nil {
				return err
			}
		}
	}
	w.Flush()
	return w.Error()
}

func (o *options) writePlots(results []windestimation.RaceResult) error {
	for _, res := range results {
		if len(res.Winds) == 0 {
			continue
		}
		title := "Wind " + res.RaceID
		if o.pngDir != "" {
			path := security.RaceOutputPath(o.pngDir, res.RaceID, ".png")
			if err := security.ValidateOutputPath(path, []string{".png"}); err != nil {
				return err
			}
			if err := windplot.SaveImage(path, title, res.Winds); err != nil {
				return err
			}
		}
		if o.htmlDir != "" {
			path := security.RaceOutputPath(o.htmlDir, res.RaceID, ".html")
			if err := security.ValidateOutputPath(path, []string{".html"}); err != nil {
				return err
			}
			if err := windplot.SaveHTML(path, title, res.Winds); err != nil {
				return err
			}
		}
	}
	return nil
}
