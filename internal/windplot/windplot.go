// Package windplot renders estimated wind tracks as static images and
// interactive HTML charts.
package windplot

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/wind.report/internal/windestimation"
)

// ErrNoWinds is returned when there is nothing to plot.
var ErrNoWinds = errors.New("no wind fixes to plot")

// series is the wind track of one competitor.
type series struct {
	competitor string
	winds      []windestimation.WindWithConfidence
}

// byCompetitor groups winds by competitor in sorted competitor order.
// Track order within a competitor is kept.
func byCompetitor(winds []windestimation.WindWithConfidence) []series {
	idx := make(map[string]int)
	var out []series
	for _, w := range winds {
		i, ok := idx[w.CompetitorID]
		if !ok {
			i = len(out)
			idx[w.CompetitorID] = i
			out = append(out, series{competitor: w.CompetitorID})
		}
		out[i].winds = append(out[i].winds, w)
	}
	slices.SortFunc(out, func(a, b series) int {
		if a.competitor < b.competitor {
			return -1
		}
		if a.competitor > b.competitor {
			return 1
		}
		return 0
	})
	return out
}

func start(winds []windestimation.WindWithConfidence) time.Time {
	t0 := winds[0].Time
	for _, w := range winds[1:] {
		if w.Time.Before(t0) {
			t0 = w.Time
		}
	}
	return t0
}

func minutesSince(t0, t time.Time) float64 {
	return t.Sub(t0).Minutes()
}

// SaveImage plots wind direction over time, one colour per competitor. The
// format follows the extension of path (.png, .svg or .pdf).
func SaveImage(path, title string, winds []windestimation.WindWithConfidence) error {
	if len(winds) == 0 {
		return ErrNoWinds
	}
	t0 := start(winds)

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = fmt.Sprintf("Minutes since %s", t0.Format(time.RFC3339))
	p.Y.Label.Text = "Wind direction (°)"
	p.Y.Min = 0
	p.Y.Max = 360

	all := make(plotter.XYs, len(winds))
	for i, w := range winds {
		all[i] = plotter.XY{X: minutesSince(t0, w.Time), Y: w.DirectionDegrees}
	}
	track, err := plotter.NewLine(all)
	if err != nil {
		return err
	}
	track.Width = vg.Points(0.5)
	track.Dashes = []vg.Length{vg.Points(2), vg.Points(2)}
	p.Add(track)

	for i, s := range byCompetitor(winds) {
		pts := make(plotter.XYs, len(s.winds))
		for j, w := range s.winds {
			pts[j] = plotter.XY{X: minutesSince(t0, w.Time), Y: w.DirectionDegrees}
		}
		sc, err := plotter.NewScatter(pts)
		if err != nil {
			return err
		}
		sc.GlyphStyle.Color = plotutil.Color(i)
		sc.GlyphStyle.Shape = plotutil.Shape(i)
		sc.GlyphStyle.Radius = vg.Points(3)
		p.Add(sc)
		p.Legend.Add(s.competitor, sc)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	if err := p.Save(14*vg.Inch, 6*vg.Inch, filepath.Clean(path)); err != nil {
		return fmt.Errorf("failed to save plot %s: %w", path, err)
	}
	return nil
}

// RenderHTML writes an interactive page with a direction scatter per
// competitor and the confidence of each fix.
func RenderHTML(w io.Writer, title string, winds []windestimation.WindWithConfidence) error {
	if len(winds) == 0 {
		return ErrNoWinds
	}
	t0 := start(winds)

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "1200px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("start=%s fixes=%d", t0.Format(time.RFC3339), len(winds))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "Minutes", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 360, Name: "Wind direction (°)", NameLocation: "middle", NameGap: 40}),
	)
	for _, s := range byCompetitor(winds) {
		data := make([]opts.ScatterData, len(s.winds))
		for i, w := range s.winds {
			data[i] = opts.ScatterData{
				Name:  w.ManeuverID,
				Value: []interface{}{minutesSince(t0, w.Time), w.DirectionDegrees, w.Confidence},
			}
		}
		scatter.AddSeries(s.competitor, data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))
	}

	labels := make([]string, len(winds))
	confidence := make([]opts.LineData, len(winds))
	for i, w := range winds {
		labels[i] = w.Time.Format("15:04:05")
		confidence[i] = opts.LineData{Value: w.Confidence, Name: w.ManeuverID}
	}
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "1200px", Height: "300px"}),
		charts.WithTitleOpts(opts.Title{Title: "Confidence"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 1}),
	)
	line.SetXAxis(labels).AddSeries("confidence", confidence)

	page := components.NewPage()
	page.PageTitle = title
	page.AddCharts(scatter, line)
	return page.Render(w)
}

// SaveHTML renders the page to path.
func SaveHTML(path, title string, winds []windestimation.WindWithConfidence) error {
	var buf bytes.Buffer
	if err := RenderHTML(&buf, title, winds); err != nil {
		return err
	}
	return os.WriteFile(filepath.Clean(path), buf.Bytes(), 0644)
}
