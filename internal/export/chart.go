package export

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/trackcount/internal/counting"
)

// flowSeries is the per-interval count of one flow, summed over
// classifications.
type flowSeries struct {
	name   string
	values []int
}

// seriesByFlow lays records out on a shared, sorted interval axis with one
// series per flow name, in name order.
func seriesByFlow(records []counting.CountRecord) ([]time.Time, []flowSeries) {
	slot := make(map[int64]int)
	var axis []time.Time
	for _, r := range records {
		key := r.IntervalStart.UnixNano()
		if _, ok := slot[key]; !ok {
			slot[key] = 0
			axis = append(axis, r.IntervalStart)
		}
	}
	sort.Slice(axis, func(i, j int) bool { return axis[i].Before(axis[j]) })
	for i, t := range axis {
		slot[t.UnixNano()] = i
	}

	byName := make(map[string][]int)
	var names []string
	for _, r := range records {
		values, ok := byName[r.FlowName]
		if !ok {
			values = make([]int, len(axis))
			names = append(names, r.FlowName)
		}
		values[slot[r.IntervalStart.UnixNano()]] += r.Count
		byName[r.FlowName] = values
	}
	sort.Strings(names)

	series := make([]flowSeries, len(names))
	for i, n := range names {
		series[i] = flowSeries{name: n, values: byName[n]}
	}
	return axis, series
}

// MaxChartPoints bounds the interval and flow pairs one chart run holds.
const MaxChartPoints = 100_000

// ErrChartTooLarge is returned when a count table has more interval and flow
// pairs than a chart buffers.
var ErrChartTooLarge = errors.New("count table too large to chart")

type chartKey struct {
	start int64
	flow  string
}

// chartBuffer sums the records of a chart run per interval and flow until
// the final write. Classifications are folded together, so the buffer grows
// with intervals times flows rather than with the count table.
type chartBuffer struct {
	records []counting.CountRecord
	index   map[chartKey]int
	started bool
	max     int // 0 means MaxChartPoints
}

// add buffers rows and reports whether the run is complete.
func (b *chartBuffer) add(mode Mode, path string, rows []counting.CountRecord) (bool, error) {
	if mode.IsFirst() {
		b.records, b.index, b.started = nil, make(map[chartKey]int), true
	} else if !b.started {
		return false, fmt.Errorf("%s write to %s: %w", mode, path, ErrSinkNotStarted)
	}
	limit := b.max
	if limit <= 0 {
		limit = MaxChartPoints
	}
	for _, r := range rows {
		key := chartKey{start: r.IntervalStart.UnixNano(), flow: r.FlowName}
		if i, ok := b.index[key]; ok {
			b.records[i].Count += r.Count
			continue
		}
		if len(b.records) >= limit {
			b.records, b.index, b.started = nil, nil, false
			return false, fmt.Errorf("%s: %w: more than %d interval and flow pairs", path, ErrChartTooLarge, limit)
		}
		b.index[key] = len(b.records)
		b.records = append(b.records, counting.CountRecord{
			IntervalStart: r.IntervalStart,
			FlowName:      r.FlowName,
			Count:         r.Count,
		})
	}
	if !mode.IsFinal() {
		return false, nil
	}
	b.started = false
	return true, nil
}

// HTML renders count records as an interactive stacked bar chart. Counts
// are buffered per interval and flow until the final write.
type HTML struct {
	path  string
	title string
	buf   chartBuffer
}

// NewCountsHTML creates an HTML chart exporter.
func NewCountsHTML(path, title string) *HTML {
	return &HTML{path: path, title: title}
}

// Export implements Exporter.
func (h *HTML) Export(ctx context.Context, mode Mode, rows []counting.CountRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done, err := h.buf.add(mode, h.path, rows)
	if err != nil || !done {
		return err
	}
	return h.render(h.buf.records)
}

func (h *HTML) render(records []counting.CountRecord) error {
	axis, series := seriesByFlow(records)
	x := make([]string, len(axis))
	for i, t := range axis {
		x[i] = t.Format("2006-01-02 15:04")
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: h.title, Width: "100%", Height: "720px"}),
		charts.WithTitleOpts(opts.Title{Title: h.title, Subtitle: fmt.Sprintf("%d intervals, %d flows", len(axis), len(series))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
	)
	bar.SetXAxis(x)
	for _, s := range series {
		data := make([]opts.BarData, len(s.values))
		for i, v := range s.values {
			data[i] = opts.BarData{Value: v}
		}
		bar.AddSeries(s.name, data, charts.WithBarChartOpts(opts.BarChart{Stack: "counts"}))
	}

	page := components.NewPage()
	page.AddCharts(bar)

	f, err := createOutput(h.path)
	if err != nil {
		return err
	}
	if err := page.Render(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to render %s: %w", h.path, err)
	}
	return f.Close()
}

// Close implements Exporter. Buffered counts of an unfinished run are
// discarded.
func (h *HTML) Close() error {
	h.buf = chartBuffer{}
	return nil
}

// PNG renders count records as a line plot, one line per flow. Counts are
// buffered per interval and flow until the final write.
type PNG struct {
	path  string
	title string
	buf   chartBuffer
}

// NewCountsPNG creates a PNG plot exporter.
func NewCountsPNG(path, title string) *PNG {
	return &PNG{path: path, title: title}
}

// Export implements Exporter.
func (p *PNG) Export(ctx context.Context, mode Mode, rows []counting.CountRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done, err := p.buf.add(mode, p.path, rows)
	if err != nil || !done {
		return err
	}
	return p.render(p.buf.records)
}

func (p *PNG) render(records []counting.CountRecord) error {
	axis, series := seriesByFlow(records)

	pl := plot.New()
	pl.Title.Text = p.title
	pl.X.Label.Text = "interval start"
	pl.Y.Label.Text = "count"
	pl.X.Tick.Marker = plot.TimeTicks{Format: "15:04"}

	for i, s := range series {
		pts := make(plotter.XYs, len(axis))
		for j, t := range axis {
			pts[j] = plotter.XY{X: float64(t.Unix()), Y: float64(s.values[j])}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return fmt.Errorf("failed to plot %s: %w", s.name, err)
		}
		line.Color = seriesColor(i)
		line.Width = vg.Points(1)
		pl.Add(line)
		pl.Legend.Add(s.name, line)
	}
	pl.Legend.Top = true
	pl.Legend.Left = false
	pl.Legend.XOffs = -10
	pl.Legend.YOffs = -10

	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := pl.Save(14*vg.Inch, 6*vg.Inch, p.path); err != nil {
		return fmt.Errorf("failed to save %s: %w", p.path, err)
	}
	return nil
}

// Close implements Exporter. Buffered counts of an unfinished run are
// discarded.
func (p *PNG) Close() error {
	p.buf = chartBuffer{}
	return nil
}

func seriesColor(i int) color.Color { return plotutil.Color(i) }

func createOutput(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	return f, nil
}
