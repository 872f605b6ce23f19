// Package analysis runs the counting pipeline over a track stream: filter,
// intersect, assign, count and export, one bounded chunk at a time.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/multierr"

	"github.com/banshee-data/trackcount/internal/config"
	"github.com/banshee-data/trackcount/internal/counting"
	"github.com/banshee-data/trackcount/internal/event"
	"github.com/banshee-data/trackcount/internal/export"
	"github.com/banshee-data/trackcount/internal/flow"
	"github.com/banshee-data/trackcount/internal/intersect"
	"github.com/banshee-data/trackcount/internal/section"
	"github.com/banshee-data/trackcount/internal/timeutil"
	"github.com/banshee-data/trackcount/internal/track"
	"github.com/banshee-data/trackcount/internal/trackfilter"
)

// Settings are the run parameters.
type Settings struct {
	// Start and End bound the counting window [Start, End). Zero leaves a
	// side open.
	Start time.Time
	End   time.Time

	// Classifications restricts the run to these track classes. Empty
	// accepts all.
	Classifications []string

	IntervalMinutes int
	// Location is the zone intervals are laid out in. Nil follows the
	// window bounds.
	Location *time.Location

	ChunkSize int
	Workers   int // 0 runs intersection sequentially
}

// SettingsFrom extracts run settings from a loaded configuration.
func SettingsFrom(c *config.AnalysisConfig) Settings {
	return Settings{
		Start:           c.GetStartTime(),
		End:             c.GetEndTime(),
		Classifications: c.Classifications,
		IntervalMinutes: c.GetIntervalMinutes(),
		Location:        c.GetLocation(),
		ChunkSize:       c.GetChunkSize(),
		Workers:         c.GetWorkers(),
	}
}

// Option configures a Runner.
type Option func(*Runner)

// WithObserver sets the chunk observer.
func WithObserver(o Observer) Option {
	return func(r *Runner) { r.observer = o }
}

// WithMetrics sets the metrics updated after every chunk.
func WithMetrics(m *Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithClock sets the clock used to time chunks.
func WithClock(c timeutil.Clock) Option {
	return func(r *Runner) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithStrategy overrides the intersection strategy derived from
// Settings.Workers.
func WithStrategy(s intersect.Strategy) Option {
	return func(r *Runner) { r.strategy = s }
}

// Runner executes analysis runs against one section registry. A Runner is
// not safe for concurrent runs.
type Runner struct {
	settings Settings
	sections *section.Registry
	engine   *intersect.Engine
	assigner *flow.Assigner
	filter   trackfilter.Filter

	strategy intersect.Strategy
	observer Observer
	metrics  *Metrics
	clock    timeutil.Clock
}

// NewRunner validates settings and builds a runner.
func NewRunner(sections *section.Registry, settings Settings, opts ...Option) (*Runner, error) {
	if sections == nil {
		return nil, errors.New("analysis: nil section registry")
	}
	if settings.IntervalMinutes <= 0 {
		return nil, fmt.Errorf("analysis: %w: %d", counting.ErrInvalidInterval, settings.IntervalMinutes)
	}
	if settings.ChunkSize <= 0 {
		return nil, fmt.Errorf("analysis: chunk size must be positive, got %d", settings.ChunkSize)
	}
	if !settings.Start.IsZero() && !settings.End.IsZero() && settings.End.Before(settings.Start) {
		return nil, fmt.Errorf("analysis: window end %s before start %s",
			settings.End.Format(time.RFC3339), settings.Start.Format(time.RFC3339))
	}

	r := &Runner{
		settings: settings,
		sections: sections,
		assigner: flow.NewAssigner(sections),
		clock:    timeutil.RealClock{},
	}
	if settings.Workers > 0 {
		r.strategy = intersect.NewParallel(settings.Workers)
	}
	for _, opt := range opts {
		opt(r)
	}

	engine, err := intersect.NewEngine(sections, intersect.WithStrategy(r.strategy))
	if err != nil {
		return nil, err
	}
	r.engine = engine

	r.filter = trackfilter.NewBuilder().
		AddDateRange(settings.Start, settings.End).
		AddClassifications(settings.Classifications...).
		Build()
	return r, nil
}

// Settings returns the run settings.
func (r *Runner) Settings() Settings { return r.settings }

// Engine returns the intersection engine.
func (r *Runner) Engine() *intersect.Engine { return r.engine }

// chunk is one bounded slice of the filtered, start-ordered track stream.
type chunk struct {
	index  int
	tracks []*track.Track
	final  bool
	// watermark is a lower bound on the start of every track in later
	// chunks. It is zero for the final chunk.
	watermark time.Time
}

// chunker pulls tracks from a source, filters them and groups them into
// chunks of at most size tracks. It holds one accepted track of lookahead,
// which tells it whether a chunk is the last one and bounds the starts of
// the chunks after it. Only the current chunk and the lookahead are held.
type chunker struct {
	src    track.Source
	filter trackfilter.Filter
	size   int

	ahead  *track.Track
	latest *track.Track
	index  int
	primed bool
	done   bool
}

func (r *Runner) chunker(src track.Source) *chunker {
	return &chunker{src: src, filter: r.filter, size: r.settings.ChunkSize}
}

// pull returns the next track passing the filter, or nil at the end of the
// source. Order is checked on every track, filtered or not.
func (c *chunker) pull(ctx context.Context) (*track.Track, error) {
	for {
		t, err := c.src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if c.latest != nil && t.Start().Before(c.latest.Start()) {
			return nil, fmt.Errorf("%w: track %s starts at %s, before track %s at %s", track.ErrUnorderedSource,
				t.ID(), t.Start().Format(time.RFC3339Nano), c.latest.ID(), c.latest.Start().Format(time.RFC3339Nano))
		}
		c.latest = t
		if c.filter.Test(t) {
			return t, nil
		}
	}
}

// next returns the following chunk, or io.EOF after the final one. An empty
// source still produces one empty final chunk, so an empty run writes its
// headers.
func (c *chunker) next(ctx context.Context) (chunk, error) {
	if c.done {
		return chunk{}, io.EOF
	}
	if !c.primed {
		t, err := c.pull(ctx)
		if err != nil {
			return chunk{}, err
		}
		c.ahead, c.primed = t, true
	}

	out := chunk{index: c.index}
	for c.ahead != nil && len(out.tracks) < c.size {
		out.tracks = append(out.tracks, c.ahead)
		t, err := c.pull(ctx)
		if err != nil {
			return chunk{}, err
		}
		c.ahead = t
	}
	c.index++
	if c.ahead == nil {
		out.final = true
		c.done = true
	} else {
		out.watermark = c.ahead.Start()
	}
	return out, nil
}

func (c chunk) mode() export.Mode {
	return export.Create(c.index == 0, c.final)
}

// chunkResult is what one chunk step hands to the export loop.
type chunkResult[T any] struct {
	rows   []T
	events []event.Event
	stats  *counting.Statistics
}

// run drives the chunk loop shared by every run kind. Exporter failures are
// collected and the run continues; any other failure stops the run. exp is
// closed before run returns.
func run[T any](ctx context.Context, r *Runner, kind Kind, src track.Source, exp export.Exporter[T],
	step func(c chunk) (chunkResult[T], error),
) (err error) {
	defer func() {
		if exp != nil {
			err = multierr.Append(err, exp.Close())
		}
	}()

	chunks := r.chunker(src)
	var exportErrs error
	for {
		if err := ctx.Err(); err != nil {
			return multierr.Append(exportErrs, err)
		}
		began := r.clock.Now()
		c, err := chunks.next(ctx)
		if errors.Is(err, io.EOF) {
			return exportErrs
		}
		if err != nil {
			return multierr.Append(exportErrs, fmt.Errorf("%s chunk %d: %w", kind, chunks.index+1, err))
		}
		mode := c.mode()

		res, err := step(c)
		if err != nil {
			return multierr.Append(exportErrs, fmt.Errorf("%s chunk %d: %w", kind, c.index+1, err))
		}

		var chunkErr error
		if exp != nil {
			chunkErr = exp.Export(ctx, mode, res.rows)
			exportErrs = multierr.Append(exportErrs, chunkErr)
		}

		p := Progress{
			Kind:     kind,
			Chunk:    c.index,
			Mode:     mode,
			Tracks:   len(c.tracks),
			Rows:     len(res.rows),
			Stats:    res.stats,
			Duration: r.clock.Since(began),
			Err:      chunkErr,
		}
		if c.final {
			p.Chunks = c.index + 1
		}
		if kind != KindTracks {
			p.Events = countByType(res.events)
		}
		r.metrics.observe(p)
		if r.observer != nil {
			r.observer.ChunkDone(p)
		}
		if c.final {
			return exportErrs
		}
	}
}

func countByType(events []event.Event) map[event.Type]int {
	out := make(map[event.Type]int, len(event.Types))
	for _, e := range events {
		out[e.Type]++
	}
	return out
}

// ExportCounts counts the tracks per interval, classification and flow and
// writes the table to exp. It is ExportCountsFrom over the tracks ordered by
// start.
func (r *Runner) ExportCounts(ctx context.Context, tracks []*track.Track, exp export.Exporter[counting.CountRecord]) (counting.Statistics, error) {
	return r.ExportCountsFrom(ctx, track.NewSliceSource(tracks), exp)
}

// ExportCountsFrom counts the tracks of src per interval, classification and
// flow and writes the table to exp. Intervals are released as soon as no
// later chunk can add to them, so only open intervals and one chunk of
// tracks are held in memory. exp is closed before ExportCountsFrom returns.
// The returned statistics cover every filtered track read, even when an
// exporter failed.
func (r *Runner) ExportCountsFrom(ctx context.Context, src track.Source, exp export.Exporter[counting.CountRecord]) (counting.Statistics, error) {
	var stats counting.Statistics
	agg, err := counting.NewAggregator(counting.Options{
		Start:           r.settings.Start,
		End:             r.settings.End,
		IntervalMinutes: r.settings.IntervalMinutes,
		ChunkSize:       r.settings.ChunkSize,
		Location:        r.settings.Location,
	})
	if err != nil {
		if exp != nil {
			err = multierr.Append(err, exp.Close())
		}
		return stats, err
	}

	err = run(ctx, r, KindCounts, src, exp, func(c chunk) (chunkResult[counting.CountRecord], error) {
		events, err := r.engine.Run(ctx, c.tracks)
		if err != nil {
			return chunkResult[counting.CountRecord]{}, err
		}
		assignments := r.assigner.AssignAll(c.tracks, events)
		var chunkStats counting.Statistics
		chunkStats.Add(assignments)
		stats.Merge(chunkStats)

		if err := agg.Add(assignments); err != nil {
			return chunkResult[counting.CountRecord]{}, err
		}
		var records []counting.CountRecord
		if c.final {
			records = agg.Drain()
		} else {
			// An event never precedes its track's start, so nothing later
			// lands before the watermark.
			records = agg.Seal(c.watermark)
		}
		return chunkResult[counting.CountRecord]{rows: records, events: events, stats: &chunkStats}, nil
	})
	return stats, err
}

// ExportEvents writes the section events of every filtered track to exp.
// It is ExportEventsFrom over the tracks ordered by start.
func (r *Runner) ExportEvents(ctx context.Context, tracks []*track.Track, exp export.Exporter[event.Event]) error {
	return r.ExportEventsFrom(ctx, track.NewSliceSource(tracks), exp)
}

// ExportEventsFrom writes the section events of every filtered track of src
// to exp, chunk by chunk. Events of one track keep their order. exp is
// closed before ExportEventsFrom returns.
func (r *Runner) ExportEventsFrom(ctx context.Context, src track.Source, exp export.Exporter[event.Event]) error {
	return run(ctx, r, KindEvents, src, exp, func(c chunk) (chunkResult[event.Event], error) {
		events, err := r.engine.Run(ctx, c.tracks)
		if err != nil {
			return chunkResult[event.Event]{}, err
		}
		return chunkResult[event.Event]{rows: events, events: events}, nil
	})
}

// ExportTracks writes every filtered track to exp ordered by start time.
func (r *Runner) ExportTracks(ctx context.Context, tracks []*track.Track, exp export.Exporter[*track.Track]) error {
	return r.ExportTracksFrom(ctx, track.NewSliceSource(tracks), exp)
}

// ExportTracksFrom writes every filtered track of src to exp, chunk by
// chunk. exp is closed before ExportTracksFrom returns.
func (r *Runner) ExportTracksFrom(ctx context.Context, src track.Source, exp export.Exporter[*track.Track]) error {
	return run(ctx, r, KindTracks, src, exp, func(c chunk) (chunkResult[*track.Track], error) {
		return chunkResult[*track.Track]{rows: c.tracks}, nil
	})
}

// Statistics computes the flow assignment statistics of every filtered
// track without exporting anything.
func (r *Runner) Statistics(ctx context.Context, tracks []*track.Track) (counting.Statistics, error) {
	return r.StatisticsFrom(ctx, track.NewSliceSource(tracks))
}

// StatisticsFrom computes the flow assignment statistics of every filtered
// track of src.
func (r *Runner) StatisticsFrom(ctx context.Context, src track.Source) (counting.Statistics, error) {
	var stats counting.Statistics
	err := run[flow.Assignment](ctx, r, KindStatistics, src, nil, func(c chunk) (chunkResult[flow.Assignment], error) {
		events, err := r.engine.Run(ctx, c.tracks)
		if err != nil {
			return chunkResult[flow.Assignment]{}, err
		}
		assignments := r.assigner.AssignAll(c.tracks, events)
		var chunkStats counting.Statistics
		chunkStats.Add(assignments)
		stats.Merge(chunkStats)
		return chunkResult[flow.Assignment]{events: events, stats: &chunkStats}, nil
	})
	return stats, err
}
