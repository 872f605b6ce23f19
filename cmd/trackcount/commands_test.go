package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/banshee-data/trackcount/internal/counting"
	"github.com/banshee-data/trackcount/internal/export"
	"github.com/banshee-data/trackcount/internal/ingest"
	"github.com/banshee-data/trackcount/internal/monitoring"
	"github.com/banshee-data/trackcount/internal/version"
)

const sectionsJSON = `{
  "sections": [
    {"id": "s1", "name": "West", "type": "line", "coordinates": [{"x": 10, "y": 0}, {"x": 10, "y": 100}]},
    {"id": "s2", "name": "East", "type": "line", "coordinates": [{"x": 20, "y": 0}, {"x": 20, "y": 100}]}
  ],
  "flows": [{"id": "f1", "start": "s1", "end": "s2"}]
}`

const tracksJSON = `{"tracks": [
  {"id": "A", "detections": [
    {"timestamp": "2024-05-14T08:05:00Z", "frame": 0, "x": -1, "y": 49, "w": 2, "h": 2, "label": "car", "confidence": 0.9},
    {"timestamp": "2024-05-14T08:05:01Z", "frame": 1, "x": 14, "y": 49, "w": 2, "h": 2, "label": "car", "confidence": 0.9},
    {"timestamp": "2024-05-14T08:05:02Z", "frame": 2, "x": 24, "y": 49, "w": 2, "h": 2, "label": "car", "confidence": 0.9}
  ]},
  {"id": "B", "detections": [
    {"timestamp": "2024-05-14T08:20:00Z", "frame": 0, "x": -1, "y": 49, "w": 2, "h": 2, "label": "pedestrian", "confidence": 0.8},
    {"timestamp": "2024-05-14T08:20:01Z", "frame": 1, "x": 14, "y": 49, "w": 2, "h": 2, "label": "pedestrian", "confidence": 0.8}
  ]}
]}`

type fixture struct {
	dir      string
	sections string
	tracks   string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	t.Cleanup(monitoring.Quiet())
	dir := t.TempDir()
	f := fixture{
		dir:      dir,
		sections: filepath.Join(dir, "sections.json"),
		tracks:   filepath.Join(dir, "tracks.json"),
	}
	require.NoError(t, os.WriteFile(f.sections, []byte(sectionsJSON), 0o644))
	require.NoError(t, os.WriteFile(f.tracks, []byte(tracksJSON), 0o644))
	return f
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := rootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestCountsCommand(t *testing.T) {
	f := newFixture(t)
	out := filepath.Join(f.dir, "out")

	stdout, _, err := execute(t, "counts", "--sections", f.sections, "--output", out,
		"--interval", "60", "--format", "csv,sqlite", f.tracks)
	require.NoError(t, err)
	assert.Contains(t, stdout, "assigned")

	data, err := os.ReadFile(filepath.Join(out, "counts.csv"))
	require.NoError(t, err)
	assert.Equal(t,
		"interval_start,classification,flow,count\n"+
			"2024-05-14T08:00:00Z,car,West -> East,1\n"+
			"2024-05-14T08:00:00Z,pedestrian,unassigned,1\n",
		string(data))
	assert.FileExists(t, filepath.Join(out, "counts.sqlite"))
}

func TestCountsCommandWithConfigFile(t *testing.T) {
	f := newFixture(t)
	cfg := filepath.Join(f.dir, "analysis.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("interval_minutes: 15\nclassifications: [car]\n"), 0o644))

	_, _, err := execute(t, "counts", "--config", cfg, "--sections", f.sections,
		"--output", f.dir, "--prefix", "run1_", f.tracks)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(f.dir, "run1_counts.csv"))
	require.NoError(t, err)
	assert.Equal(t,
		"interval_start,classification,flow,count\n"+
			"2024-05-14T08:00:00Z,car,West -> East,1\n",
		string(data))
}

func TestCountsCommandTimezone(t *testing.T) {
	f := newFixture(t)

	_, _, err := execute(t, "counts", "--sections", f.sections, "--output", f.dir,
		"--interval", "60", "--timezone", "Europe/Berlin", "--class", "car", f.tracks)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(f.dir, "counts.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "2024-05-14T10:00:00+02:00,car,West -> East,1\n")

	_, _, err = execute(t, "counts", "--sections", f.sections, "--output", f.dir,
		"--timezone", "Nowhere/Special", f.tracks)
	assert.ErrorContains(t, err, "timezone")
}

func TestPrefixStaysInOutputDir(t *testing.T) {
	f := newFixture(t)
	out := filepath.Join(f.dir, "out")

	_, _, err := execute(t, "counts", "--sections", f.sections, "--output", out,
		"--prefix", "../escape", f.tracks)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(out, "_escapecounts.csv"))
	assert.NoFileExists(t, filepath.Join(f.dir, "escapecounts.csv"))
}

func TestSymlinkedOutputRejected(t *testing.T) {
	f := newFixture(t)
	out := filepath.Join(f.dir, "out")
	require.NoError(t, os.MkdirAll(out, 0o755))
	require.NoError(t, os.Symlink(f.sections, filepath.Join(out, "counts.csv")))

	_, _, err := execute(t, "counts", "--sections", f.sections, "--output", out, f.tracks)
	assert.ErrorContains(t, err, "escapes output directory")

	data, err := os.ReadFile(f.sections)
	require.NoError(t, err)
	assert.Equal(t, sectionsJSON, string(data))
}

func TestEventsAndTracksCommands(t *testing.T) {
	f := newFixture(t)

	_, _, err := execute(t, "events", "--sections", f.sections, "--output", f.dir, f.tracks)
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(f.dir, "events.csv"))
	require.NoError(t, err)
	assert.Equal(t, 4, strings.Count(string(data), "\n"))

	_, _, err = execute(t, "tracks", "--sections", f.sections, "--output", f.dir, "--format", "csv,protobuf", f.tracks)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(f.dir, "tracks.csv"))
	assert.FileExists(t, filepath.Join(f.dir, "tracks.pb"))
}

func TestStatsCommandJSON(t *testing.T) {
	f := newFixture(t)
	stdout, _, err := execute(t, "stats", "--sections", f.sections, "--json", f.tracks)
	require.NoError(t, err)

	var stats counting.Statistics
	require.NoError(t, json.Unmarshal([]byte(stdout), &stats))
	assert.Equal(t, counting.Statistics{Total: 2, Assigned: 1, Unassigned: 1}, stats)
}

// lateTrack starts between A and B of tracksJSON.
const lateTrack = `{"tracks": [
  {"id": "C", "detections": [
    {"timestamp": "2024-05-14T08:10:00Z", "frame": 0, "x": -1, "y": 49, "w": 2, "h": 2, "label": "car", "confidence": 0.9},
    {"timestamp": "2024-05-14T08:10:01Z", "frame": 1, "x": 14, "y": 49, "w": 2, "h": 2, "label": "car", "confidence": 0.9},
    {"timestamp": "2024-05-14T08:10:02Z", "frame": 2, "x": 24, "y": 49, "w": 2, "h": 2, "label": "car", "confidence": 0.9}
  ]}
]}`

func TestStreamedFilesMustBeOrderedByStart(t *testing.T) {
	f := newFixture(t)
	late := filepath.Join(f.dir, "late.json")
	require.NoError(t, os.WriteFile(late, []byte(lateTrack), 0o644))

	_, _, err := execute(t, "stats", "--sections", f.sections, "--json", f.tracks, late)
	assert.ErrorContains(t, err, "ordered by start")

	stdout, _, err := execute(t, "stats", "--sections", f.sections, "--json", "--in-memory", f.tracks, late)
	require.NoError(t, err)
	var stats counting.Statistics
	require.NoError(t, json.Unmarshal([]byte(stdout), &stats))
	assert.Equal(t, counting.Statistics{Total: 3, Assigned: 2, Unassigned: 1}, stats)

	stdout, _, err = execute(t, "stats", "--sections", f.sections, "--json", late, f.tracks)
	assert.ErrorContains(t, err, "ordered by start", "A starts before C")
	assert.Empty(t, stdout)
}

func TestStreamedCountsAcrossFiles(t *testing.T) {
	f := newFixture(t)
	early := filepath.Join(f.dir, "early.json")
	require.NoError(t, os.WriteFile(early, []byte(strings.ReplaceAll(
		strings.ReplaceAll(lateTrack, "08:10", "07:10"), `"C"`, `"Z"`)), 0o644))

	_, _, err := execute(t, "counts", "--sections", f.sections, "--output", f.dir,
		"--interval", "60", "--chunk-size", "1", early, f.tracks)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(f.dir, "counts.csv"))
	require.NoError(t, err)
	assert.Equal(t,
		"interval_start,classification,flow,count\n"+
			"2024-05-14T07:00:00Z,car,West -> East,1\n"+
			"2024-05-14T08:00:00Z,car,West -> East,1\n"+
			"2024-05-14T08:00:00Z,pedestrian,unassigned,1\n",
		string(data))

	_, _, err = execute(t, "counts", "--sections", f.sections, "--output", f.dir, f.tracks, f.tracks)
	assert.ErrorContains(t, err, "duplicate track id")
}

func TestReportExportError(t *testing.T) {
	var stderr bytes.Buffer
	assert.NoError(t, reportExportError(&stderr, nil))

	assert.Equal(t, context.Canceled, reportExportError(&stderr, context.Canceled))
	assert.Empty(t, stderr.String())

	failed := &export.Error{Op: "export MERGE", Errs: []error{
		&export.Failure{Exporter: "sqlite", Err: errors.New("disk full")},
	}}
	err := reportExportError(&stderr, failed)
	assert.EqualError(t, err, "1 export failure(s)")
	assert.Equal(t, "export failure: sqlite: disk full\n", stderr.String())

	stderr.Reset()
	err = reportExportError(&stderr, multierr.Append(failed, context.Canceled))
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotContains(t, err.Error(), "disk full")
	assert.Equal(t, "export failure: sqlite: disk full\n", stderr.String())
}

func TestGenerateFlowsCommand(t *testing.T) {
	f := newFixture(t)
	out := filepath.Join(f.dir, "generated.json")
	_, _, err := execute(t, "generate-flows", "--sections", f.sections, "--out", out)
	require.NoError(t, err)

	registry, err := ingest.LoadSections(out)
	require.NoError(t, err)
	require.Len(t, registry.Flows(), 2)
	back, ok := registry.FlowFor("s2", "s1")
	require.True(t, ok)
	assert.Equal(t, "East -> West", back.Name)
}

func TestCommandErrors(t *testing.T) {
	f := newFixture(t)

	_, _, err := execute(t, "counts", f.tracks)
	assert.ErrorContains(t, err, "--sections")

	_, _, err = execute(t, "counts", "--sections", f.sections, "--format", "xml", "--output", f.dir, f.tracks)
	assert.ErrorContains(t, err, "unsupported export format")

	_, _, err = execute(t, "counts", "--sections", f.sections, "--interval", "0", f.tracks)
	assert.ErrorContains(t, err, "interval_minutes")

	_, _, err = execute(t, "counts", "--sections", f.sections)
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	stdout, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stdout, "trackcount "))

	stdout, _, err = execute(t, "version", "--json")
	require.NoError(t, err)
	var info version.Info
	require.NoError(t, json.Unmarshal([]byte(stdout), &info))
	assert.Equal(t, version.Version, info.Version)
}
