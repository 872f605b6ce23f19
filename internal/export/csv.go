package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/banshee-data/trackcount/internal/counting"
	"github.com/banshee-data/trackcount/internal/event"
	"github.com/banshee-data/trackcount/internal/track"
)

// TimeLayout formats timestamps in tabular output.
const TimeLayout = time.RFC3339Nano

// Column headers of the tabular formats.
var (
	CountsHeader = []string{"interval_start", "classification", "flow", "count"}
	EventsHeader = []string{"track_id", "section_id", "event_type", "timestamp", "x", "y"}
	TracksHeader = []string{"track_id", "classification", "frame", "timestamp", "x", "y", "w", "h", "label", "confidence"}
)

// CSV writes rows to a CSV file. Each row value expands to zero or more
// records.
type CSV[T any] struct {
	path    string
	header  []string
	records func(T) [][]string

	file    *os.File
	w       *csv.Writer
	started bool
}

// NewCSV creates a CSV exporter. Nothing is opened until the first write.
func NewCSV[T any](path string, header []string, records func(T) [][]string) *CSV[T] {
	return &CSV[T]{path: path, header: header, records: records}
}

// Path returns the output file path.
func (c *CSV[T]) Path() string { return c.path }

// Export implements Exporter.
func (c *CSV[T]) Export(ctx context.Context, mode Mode, rows []T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.open(mode); err != nil {
		return err
	}
	for _, row := range rows {
		for _, rec := range c.records(row) {
			if err := c.w.Write(rec); err != nil {
				return fmt.Errorf("failed to write %s: %w", c.path, err)
			}
		}
	}
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", c.path, err)
	}
	if mode.IsFinal() {
		return c.Close()
	}
	return nil
}

func (c *CSV[T]) open(mode Mode) error {
	if mode.IsFirst() {
		if err := c.Close(); err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
		f, err := os.Create(c.path)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", c.path, err)
		}
		c.file, c.w, c.started = f, csv.NewWriter(f), true
		if err := c.w.Write(c.header); err != nil {
			return fmt.Errorf("failed to write header to %s: %w", c.path, err)
		}
		return nil
	}
	if !c.started {
		return fmt.Errorf("%s write to %s: %w", mode, c.path, ErrSinkNotStarted)
	}
	if c.file == nil {
		f, err := os.OpenFile(c.path, os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to reopen %s: %w", c.path, err)
		}
		c.file, c.w = f, csv.NewWriter(f)
	}
	return nil
}

// Close implements Exporter.
func (c *CSV[T]) Close() error {
	if c.file == nil {
		return nil
	}
	c.w.Flush()
	werr := c.w.Error()
	cerr := c.file.Close()
	c.file, c.w = nil, nil
	if werr != nil {
		return fmt.Errorf("failed to flush %s: %w", c.path, werr)
	}
	if cerr != nil {
		return fmt.Errorf("failed to close %s: %w", c.path, cerr)
	}
	return nil
}

func formatFloat(v float64) string { return fmt.Sprintf("%.6f", v) }

// CountRecords returns the CSV records of a count record.
func CountRecords(r counting.CountRecord) [][]string {
	return [][]string{{
		r.IntervalStart.Format(TimeLayout),
		r.Classification,
		r.FlowName,
		strconv.Itoa(r.Count),
	}}
}

// EventRecords returns the CSV records of an event.
func EventRecords(e event.Event) [][]string {
	return [][]string{{
		e.TrackID,
		e.SectionID,
		string(e.Type),
		e.Timestamp.Format(TimeLayout),
		formatFloat(e.Coordinate.X),
		formatFloat(e.Coordinate.Y),
	}}
}

// TrackRecords returns one CSV record per detection of a track.
func TrackRecords(t *track.Track) [][]string {
	out := make([][]string, 0, t.Len())
	for _, d := range t.Detections() {
		out = append(out, []string{
			t.ID(),
			t.Classification(),
			strconv.Itoa(d.Frame),
			d.Timestamp.Format(TimeLayout),
			formatFloat(d.X),
			formatFloat(d.Y),
			formatFloat(d.Width),
			formatFloat(d.Height),
			d.Label,
			formatFloat(d.Confidence),
		})
	}
	return out
}

// NewCountsCSV creates a CSV exporter for count records.
func NewCountsCSV(path string) *CSV[counting.CountRecord] {
	return NewCSV(path, CountsHeader, CountRecords)
}

// NewEventsCSV creates a CSV exporter for events.
func NewEventsCSV(path string) *CSV[event.Event] {
	return NewCSV(path, EventsHeader, EventRecords)
}

// NewTracksCSV creates a CSV exporter for tracks, one row per detection.
func NewTracksCSV(path string) *CSV[*track.Track] {
	return NewCSV(path, TracksHeader, TrackRecords)
}
