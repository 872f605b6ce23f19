package export

import (
	"fmt"
	"slices"

	"github.com/banshee-data/trackcount/internal/counting"
	"github.com/banshee-data/trackcount/internal/db"
	"github.com/banshee-data/trackcount/internal/event"
	"github.com/banshee-data/trackcount/internal/track"
)

// parseFormats resolves format names against the formats allowed for a data
// kind. Repeated names are written once.
func parseFormats(kind string, names []string, allowed []Format) ([]Format, error) {
	var out []Format
	for _, name := range names {
		f, err := ParseFormat(name)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(allowed, f) {
			return nil, fmt.Errorf("%w: %s cannot be exported as %s", ErrUnsupportedFormat, kind, f)
		}
		if !slices.Contains(out, f) {
			out = append(out, f)
		}
	}
	return out, nil
}

// NewCountsExporter builds a Multi writing count records to base plus the
// extension of every requested format.
func NewCountsExporter(formats []string, base string, opts ...db.Option) (*Multi[counting.CountRecord], error) {
	fs, err := parseFormats("counts", formats, CountFormats)
	if err != nil {
		return nil, err
	}
	var named []Named[counting.CountRecord]
	for _, f := range fs {
		path := OutputPath(base, f)
		var e Exporter[counting.CountRecord]
		switch f {
		case FormatCSV:
			e = NewCountsCSV(path)
		case FormatSQLite:
			e = NewCountsSQLite(path, opts...)
		case FormatHTML:
			e = NewCountsHTML(path, "Counts")
		case FormatPNG:
			e = NewCountsPNG(path, "Counts")
		}
		named = append(named, Named[counting.CountRecord]{Name: path, Exporter: e})
	}
	return NewMulti(named...), nil
}

// NewEventsExporter builds a Multi writing events.
func NewEventsExporter(formats []string, base string, opts ...db.Option) (*Multi[event.Event], error) {
	fs, err := parseFormats("events", formats, EventFormats)
	if err != nil {
		return nil, err
	}
	var named []Named[event.Event]
	for _, f := range fs {
		path := OutputPath(base, f)
		var e Exporter[event.Event]
		switch f {
		case FormatCSV:
			e = NewEventsCSV(path)
		case FormatSQLite:
			e = NewEventsSQLite(path, opts...)
		}
		named = append(named, Named[event.Event]{Name: path, Exporter: e})
	}
	return NewMulti(named...), nil
}

// NewTracksExporter builds a Multi writing tracks.
func NewTracksExporter(formats []string, base string) (*Multi[*track.Track], error) {
	fs, err := parseFormats("tracks", formats, TrackFormats)
	if err != nil {
		return nil, err
	}
	var named []Named[*track.Track]
	for _, f := range fs {
		path := OutputPath(base, f)
		var e Exporter[*track.Track]
		switch f {
		case FormatCSV:
			e = NewTracksCSV(path)
		case FormatProtobuf:
			e = NewTracksProtobuf(path)
		}
		named = append(named, Named[*track.Track]{Name: path, Exporter: e})
	}
	return NewMulti(named...), nil
}
