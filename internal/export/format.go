package export

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedFormat is returned for a format name that is unknown or not
// available for the requested data kind.
var ErrUnsupportedFormat = errors.New("unsupported export format")

// Format names an output container.
type Format string

const (
	FormatCSV      Format = "csv"
	FormatSQLite   Format = "sqlite"
	FormatHTML     Format = "html"
	FormatPNG      Format = "png"
	FormatProtobuf Format = "protobuf"
)

var extensions = map[Format]string{
	FormatCSV:      ".csv",
	FormatSQLite:   ".sqlite",
	FormatHTML:     ".html",
	FormatPNG:      ".png",
	FormatProtobuf: ".pb",
}

// Formats available per data kind.
var (
	CountFormats = []Format{FormatCSV, FormatSQLite, FormatHTML, FormatPNG}
	EventFormats = []Format{FormatCSV, FormatSQLite}
	TrackFormats = []Format{FormatCSV, FormatProtobuf}
)

// ParseFormat converts a case-insensitive name to a Format.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := extensions[f]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
	return f, nil
}

// Extension returns the file extension of f, including the dot.
func (f Format) Extension() string { return extensions[f] }

// OutputPath appends the extension of f to base.
func OutputPath(base string, f Format) string { return base + f.Extension() }
