package analysis

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/banshee-data/trackcount/internal/config"
	"github.com/banshee-data/trackcount/internal/counting"
	"github.com/banshee-data/trackcount/internal/event"
	"github.com/banshee-data/trackcount/internal/export"
	"github.com/banshee-data/trackcount/internal/intersect"
	"github.com/banshee-data/trackcount/internal/testutil"
	"github.com/banshee-data/trackcount/internal/timeutil"
	"github.com/banshee-data/trackcount/internal/track"
)

// movement selects which gate lines a fixture track crosses.
type movement int

const (
	both movement = iota // s1 then s2
	firstOnly            // s1 only
	neither              // no section
)

func gateTrack(t *testing.T, id, label string, start time.Time, m movement) *track.Track {
	t.Helper()
	switch m {
	case both:
		return testutil.Track(t, id, label, start, testutil.Pt(0, 50), testutil.Pt(15, 50), testutil.Pt(25, 50))
	case firstOnly:
		return testutil.Track(t, id, label, start, testutil.Pt(0, 50), testutil.Pt(15, 50))
	default:
		return testutil.Track(t, id, label, start, testutil.Pt(30, 50), testutil.Pt(40, 50))
	}
}

// fleet builds n tracks spread over several hours, in shuffled start order.
func fleet(t *testing.T, n int) []*track.Track {
	t.Helper()
	labels := []string{"car", "bicyclist", "pedestrian"}
	tracks := make([]*track.Track, n)
	for i := range tracks {
		start := testutil.Epoch.Add(time.Duration((i*37)%n) * 4 * time.Minute)
		tracks[i] = gateTrack(t, testutil.NumberedID("track", i), labels[i%3], start, movement(i%3))
	}
	return tracks
}

func newRunner(t *testing.T, settings Settings, opts ...Option) *Runner {
	t.Helper()
	r, err := NewRunner(testutil.Gate(t), settings, opts...)
	require.NoError(t, err)
	return r
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

// recorder is an exporter that keeps every call.
type recorder[T any] struct {
	modes  []export.Mode
	rows   [][]T
	closed int
	err    error
}

func (r *recorder[T]) Export(_ context.Context, mode export.Mode, rows []T) error {
	r.modes = append(r.modes, mode)
	r.rows = append(r.rows, rows)
	return r.err
}

func (r *recorder[T]) Close() error {
	r.closed++
	return nil
}

func TestExportCountsTwoTrackExample(t *testing.T) {
	tracks := []*track.Track{
		gateTrack(t, "A", "car", testutil.Epoch.Add(5*time.Minute), both),
		gateTrack(t, "B", "pedestrian", testutil.Epoch.Add(20*time.Minute), firstOnly),
	}
	path := filepath.Join(t.TempDir(), "counts.csv")
	r := newRunner(t, Settings{IntervalMinutes: 60, ChunkSize: 10})

	stats, err := r.ExportCounts(context.Background(), tracks, export.NewCountsCSV(path))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"interval_start,classification,flow,count",
		"2024-05-14T08:00:00Z,car,s1 -> s2,1",
		"2024-05-14T08:00:00Z,pedestrian,unassigned,1",
	}, readLines(t, path))
	assert.Equal(t, counting.Statistics{Total: 2, Assigned: 1, Unassigned: 1}, stats)
}

func TestChunkedCountsMatchSingleChunk(t *testing.T) {
	tracks := fleet(t, 60)
	dir := t.TempDir()

	single := filepath.Join(dir, "single.csv")
	r := newRunner(t, Settings{IntervalMinutes: 15, ChunkSize: 1000})
	want, err := r.ExportCounts(context.Background(), tracks, export.NewCountsCSV(single))
	require.NoError(t, err)

	for _, chunkSize := range []int{1, 7, 59} {
		chunked := filepath.Join(dir, "chunked.csv")
		r := newRunner(t, Settings{IntervalMinutes: 15, ChunkSize: chunkSize})
		got, err := r.ExportCounts(context.Background(), tracks, export.NewCountsCSV(chunked))
		require.NoError(t, err)

		assert.Equal(t, want, got, "chunk size %d", chunkSize)
		assert.Equal(t, readLines(t, single), readLines(t, chunked), "chunk size %d", chunkSize)
	}
	assert.Equal(t, 60, want.Total)
	assert.Equal(t, 20, want.NotIntersecting)
}

// split deals start-ordered tracks into n consecutive slice sources.
func split(tracks []*track.Track, n int) []track.Source {
	ordered := track.NewSliceSource(tracks)
	var all []*track.Track
	for {
		tr, err := ordered.Next(context.Background())
		if err != nil {
			break
		}
		all = append(all, tr)
	}
	sources := make([]track.Source, n)
	per := (len(all) + n - 1) / n
	for i := range sources {
		lo, hi := min(i*per, len(all)), min((i+1)*per, len(all))
		sources[i] = track.NewSliceSource(all[lo:hi])
	}
	return sources
}

func TestStreamedCountsMatchSingleChunk(t *testing.T) {
	tracks := fleet(t, 60)
	dir := t.TempDir()

	single := filepath.Join(dir, "single.csv")
	want, err := newRunner(t, Settings{IntervalMinutes: 15, ChunkSize: 1000}).
		ExportCounts(context.Background(), tracks, export.NewCountsCSV(single))
	require.NoError(t, err)

	for _, tt := range []struct{ sources, chunkSize int }{{1, 7}, {3, 1}, {4, 9}, {7, 25}} {
		chunked := filepath.Join(dir, "chunked.csv")
		var chunks int
		r := newRunner(t, Settings{IntervalMinutes: 15, ChunkSize: tt.chunkSize},
			WithObserver(ObserverFunc(func(p Progress) {
				assert.LessOrEqual(t, p.Tracks, tt.chunkSize)
				chunks++
			})))
		got, err := r.ExportCountsFrom(context.Background(), track.Concat(split(tracks, tt.sources)...), export.NewCountsCSV(chunked))
		require.NoError(t, err)

		assert.Equal(t, want, got, "%d sources, chunk size %d", tt.sources, tt.chunkSize)
		assert.Equal(t, readLines(t, single), readLines(t, chunked), "%d sources, chunk size %d", tt.sources, tt.chunkSize)
		assert.Equal(t, (60+tt.chunkSize-1)/tt.chunkSize, chunks)
	}
}

// orderedSource yields tracks exactly as given.
type orderedSource struct {
	tracks []*track.Track
}

func (s *orderedSource) Next(context.Context) (*track.Track, error) {
	if len(s.tracks) == 0 {
		return nil, io.EOF
	}
	t := s.tracks[0]
	s.tracks = s.tracks[1:]
	return t, nil
}

func TestUnorderedSourceStopsRun(t *testing.T) {
	src := &orderedSource{tracks: []*track.Track{
		gateTrack(t, "first", "car", testutil.Epoch.Add(10*time.Minute), both),
		gateTrack(t, "second", "car", testutil.Epoch.Add(40*time.Minute), both),
		gateTrack(t, "early", "car", testutil.Epoch, both),
	}}
	rec := &recorder[counting.CountRecord]{}
	_, err := newRunner(t, Settings{IntervalMinutes: 15, ChunkSize: 1}).
		ExportCountsFrom(context.Background(), src, rec)

	require.ErrorIs(t, err, track.ErrUnorderedSource)
	assert.Contains(t, err.Error(), "track early")
	// The first chunk went out before the out-of-order track was read.
	assert.Equal(t, []export.Mode{export.InitialMerge}, rec.modes)
	assert.Equal(t, 1, rec.closed)
}

func TestFilteredTracksStillChecked(t *testing.T) {
	src := &orderedSource{tracks: []*track.Track{
		gateTrack(t, "car", "car", testutil.Epoch.Add(10*time.Minute), both),
		gateTrack(t, "bike", "bicyclist", testutil.Epoch, both),
	}}
	_, err := newRunner(t, Settings{IntervalMinutes: 15, ChunkSize: 5, Classifications: []string{"car"}}).
		StatisticsFrom(context.Background(), src)
	assert.ErrorIs(t, err, track.ErrUnorderedSource)
}

func TestParallelCountsMatchSequential(t *testing.T) {
	defer goleak.VerifyNone(t)

	tracks := fleet(t, 45)
	seq := &recorder[counting.CountRecord]{}
	_, err := newRunner(t, Settings{IntervalMinutes: 15, ChunkSize: 10}).
		ExportCounts(context.Background(), tracks, seq)
	require.NoError(t, err)

	par := &recorder[counting.CountRecord]{}
	_, err = newRunner(t, Settings{IntervalMinutes: 15, ChunkSize: 10, Workers: 4}).
		ExportCounts(context.Background(), tracks, par)
	require.NoError(t, err)

	assert.Equal(t, seq.rows, par.rows)
}

func TestEmptyRunWritesHeaderOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counts.csv")
	stats, err := newRunner(t, Settings{IntervalMinutes: 15, ChunkSize: 10}).
		ExportCounts(context.Background(), nil, export.NewCountsCSV(path))
	require.NoError(t, err)
	assert.Equal(t, counting.Statistics{}, stats)
	assert.Equal(t, []string{"interval_start,classification,flow,count"}, readLines(t, path))
}

func TestFilterAppliesBeforeCounting(t *testing.T) {
	tracks := fleet(t, 30)
	rec := &recorder[counting.CountRecord]{}
	r := newRunner(t, Settings{
		Start:           testutil.Epoch.Add(time.Hour),
		End:             testutil.Epoch.Add(90 * time.Minute),
		Classifications: []string{"car"},
		IntervalMinutes: 15,
		ChunkSize:       4,
	})
	stats, err := r.ExportCounts(context.Background(), tracks, rec)
	require.NoError(t, err)

	for _, rows := range rec.rows {
		for _, row := range rows {
			assert.Equal(t, "car", row.Classification)
			assert.False(t, row.IntervalStart.Before(testutil.Epoch.Add(time.Hour)))
		}
	}
	assert.Positive(t, stats.Total)
	assert.Equal(t, stats.Total, stats.Assigned)
}

func TestObserverAndMetrics(t *testing.T) {
	tracks := fleet(t, 9)
	registry := prometheus.NewRegistry()
	metrics, err := NewMetrics(registry)
	require.NoError(t, err)

	clock := timeutil.NewSteppingClock(testutil.Epoch, time.Second)
	var seen []Progress
	observer := ObserverFunc(func(p Progress) { seen = append(seen, p) })
	rec := &recorder[counting.CountRecord]{}
	r := newRunner(t, Settings{IntervalMinutes: 15, ChunkSize: 4},
		WithObserver(observer), WithMetrics(metrics), WithClock(clock))

	_, err = r.ExportCounts(context.Background(), tracks, rec)
	require.NoError(t, err)

	require.Len(t, seen, 3)
	assert.Equal(t, []export.Mode{export.InitialMerge, export.Merge, export.Flush}, rec.modes)
	assert.Equal(t, []int{0, 0, 3}, []int{seen[0].Chunks, seen[1].Chunks, seen[2].Chunks})
	for i, p := range seen {
		assert.Equal(t, KindCounts, p.Kind)
		assert.Equal(t, i, p.Chunk)
		assert.Equal(t, rec.modes[i], p.Mode)
		assert.Equal(t, len(rec.rows[i]), p.Rows)
		require.NotNil(t, p.Stats)
		assert.Equal(t, time.Second, p.Duration)
	}
	assert.Equal(t, []int{4, 4, 1}, []int{seen[0].Tracks, seen[1].Tracks, seen[2].Tracks})
	assert.Equal(t, 1, rec.closed)

	assert.Equal(t, 3.0, promtestutil.ToFloat64(metrics.chunksTotal.WithLabelValues("counts")))
	assert.Equal(t, 9.0, promtestutil.ToFloat64(metrics.tracksTotal.WithLabelValues("counts")))
	assert.Equal(t, 3.0, promtestutil.ToFloat64(metrics.trackOutcomesTotal.WithLabelValues("assigned")))
	assert.Equal(t, 3.0, promtestutil.ToFloat64(metrics.trackOutcomesTotal.WithLabelValues("not-intersecting")))
	// Three full crossings produce two events each, three partial ones one.
	assert.Equal(t, 9.0, promtestutil.ToFloat64(metrics.eventsTotal.WithLabelValues(string(event.TypeSectionCrossing))))
	assert.Equal(t, 0.0, promtestutil.ToFloat64(metrics.exportFailuresTotal.WithLabelValues("counts")))

	_, err = NewMetrics(registry)
	assert.Error(t, err, "registering twice should fail")
}

func TestExportFailureDoesNotStopOtherExporters(t *testing.T) {
	tracks := fleet(t, 12)
	path := filepath.Join(t.TempDir(), "counts.csv")
	broken := &recorder[counting.CountRecord]{err: errors.New("disk full")}
	multi := export.NewMulti(
		export.Named[counting.CountRecord]{Name: "broken", Exporter: broken},
		export.Named[counting.CountRecord]{Name: "csv", Exporter: export.NewCountsCSV(path)},
	)

	var failures int
	r := newRunner(t, Settings{IntervalMinutes: 15, ChunkSize: 5},
		WithObserver(ObserverFunc(func(p Progress) {
			if p.Err != nil {
				failures++
			}
		})))
	stats, err := r.ExportCounts(context.Background(), tracks, multi)
	require.Error(t, err)

	assert.Equal(t, []string{"broken: disk full"}, export.FlattenMessages(err))
	assert.Equal(t, 1, failures)
	assert.Equal(t, 12, stats.Total)
	assert.Len(t, broken.modes, 1)
	assert.Equal(t, 1, broken.closed)

	want := filepath.Join(t.TempDir(), "want.csv")
	_, err = newRunner(t, Settings{IntervalMinutes: 15, ChunkSize: 100}).
		ExportCounts(context.Background(), tracks, export.NewCountsCSV(want))
	require.NoError(t, err)
	assert.Equal(t, readLines(t, want), readLines(t, path))
}

func TestCancelledRunClosesExporter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := &recorder[counting.CountRecord]{}
	_, err := newRunner(t, Settings{IntervalMinutes: 15, ChunkSize: 5}).
		ExportCounts(ctx, fleet(t, 10), rec)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, rec.modes)
	assert.Equal(t, 1, rec.closed)
}

func TestCancellationBetweenChunksStopsRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rec := &recorder[event.Event]{}
	r := newRunner(t, Settings{IntervalMinutes: 15, ChunkSize: 3},
		WithStrategy(intersect.Parallel{Workers: 2}),
		WithObserver(ObserverFunc(func(Progress) { cancel() })))

	err := r.ExportEvents(ctx, fleet(t, 9), rec)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, rec.modes, 1)
	assert.Equal(t, 1, rec.closed)
}

func TestExportEvents(t *testing.T) {
	tracks := []*track.Track{
		gateTrack(t, "late", "car", testutil.Epoch.Add(time.Minute), both),
		gateTrack(t, "early", "car", testutil.Epoch, firstOnly),
	}
	path := filepath.Join(t.TempDir(), "events.csv")
	err := newRunner(t, Settings{IntervalMinutes: 15, ChunkSize: 1}).
		ExportEvents(context.Background(), tracks, export.NewEventsCSV(path))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"track_id,section_id,event_type,timestamp,x,y",
		"early,s1,section-crossing,2024-05-14T08:00:01Z,10.000000,50.000000",
		"late,s1,section-crossing,2024-05-14T08:01:01Z,10.000000,50.000000",
		"late,s2,section-crossing,2024-05-14T08:01:02Z,20.000000,50.000000",
	}, readLines(t, path))
}

func TestExportTracksOrdersByStart(t *testing.T) {
	tracks := fleet(t, 7)
	rec := &recorder[*track.Track]{}
	err := newRunner(t, Settings{IntervalMinutes: 15, ChunkSize: 3}).
		ExportTracks(context.Background(), tracks, rec)
	require.NoError(t, err)

	var got []*track.Track
	for _, rows := range rec.rows {
		got = append(got, rows...)
	}
	require.Len(t, got, 7)
	for i := 1; i < len(got); i++ {
		assert.False(t, got[i].Start().Before(got[i-1].Start()))
	}
	assert.Equal(t, []export.Mode{export.InitialMerge, export.Merge, export.Flush}, rec.modes)
}

func TestStatistics(t *testing.T) {
	tracks := append(fleet(t, 6),
		// Crosses both lines in one segment: simultaneous by timestamp.
		testutil.Track(t, "jump", "car", testutil.Epoch, testutil.Pt(0, 50), testutil.Pt(30, 50)))

	stats, err := newRunner(t, Settings{IntervalMinutes: 15, ChunkSize: 2}).
		Statistics(context.Background(), tracks)
	require.NoError(t, err)
	assert.Equal(t, counting.Statistics{
		Total:                 7,
		Assigned:              3,
		Unassigned:            2,
		NotIntersecting:       2,
		SimultaneousCrossings: 1,
	}, stats)
}

func TestNewRunnerValidation(t *testing.T) {
	gate := testutil.Gate(t)
	_, err := NewRunner(nil, Settings{IntervalMinutes: 15, ChunkSize: 1})
	assert.Error(t, err)
	_, err = NewRunner(gate, Settings{IntervalMinutes: 0, ChunkSize: 1})
	assert.ErrorIs(t, err, counting.ErrInvalidInterval)
	_, err = NewRunner(gate, Settings{IntervalMinutes: 15})
	assert.Error(t, err)
	_, err = NewRunner(gate, Settings{
		IntervalMinutes: 15, ChunkSize: 1,
		Start: testutil.Epoch, End: testutil.Epoch.Add(-time.Minute),
	})
	assert.Error(t, err)

	r, err := NewRunner(gate, Settings{IntervalMinutes: 15, ChunkSize: 1, Workers: 3})
	require.NoError(t, err)
	assert.Equal(t, intersect.NewParallel(3), r.Engine().Strategy())
}

func TestSettingsFrom(t *testing.T) {
	cfg := config.EmptyAnalysisConfig()
	start := "2024-05-14T08:00:00Z"
	cfg.StartTime = &start
	cfg.Classifications = []string{"car"}

	s := SettingsFrom(cfg)
	assert.Equal(t, 15, s.IntervalMinutes)
	assert.Equal(t, 1000, s.ChunkSize)
	assert.Equal(t, 0, s.Workers)
	assert.True(t, s.Start.Equal(testutil.Epoch))
	assert.True(t, s.End.IsZero())
	assert.Equal(t, []string{"car"}, s.Classifications)
	assert.Nil(t, s.Location)

	zone := "Europe/Berlin"
	cfg.Timezone = &zone
	assert.Equal(t, "Europe/Berlin", SettingsFrom(cfg).Location.String())
}
