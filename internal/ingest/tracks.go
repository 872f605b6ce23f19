package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/banshee-data/trackcount/internal/track"
)

type decodeState int

const (
	beforeDocument decodeState = iota
	inDocument
	inTracks
	finished
)

// trackDecoder walks a tracks document token by token and decodes one
// element of its "tracks" array per call, so a file is never held in memory
// as a whole. Other top-level keys are skipped.
type trackDecoder struct {
	dec   *json.Decoder
	state decodeState
}

func newTrackDecoder(r io.Reader) *trackDecoder {
	return &trackDecoder{dec: json.NewDecoder(r)}
}

// next returns the following track, or io.EOF once the document is done.
func (d *trackDecoder) next() (TrackJSON, error) {
	for {
		switch d.state {
		case beforeDocument:
			if err := d.expect('{'); err != nil {
				return TrackJSON{}, err
			}
			d.state = inDocument

		case inDocument:
			if !d.dec.More() {
				if err := d.expect('}'); err != nil {
					return TrackJSON{}, err
				}
				d.state = finished
				continue
			}
			key, err := d.token()
			if err != nil {
				return TrackJSON{}, err
			}
			if key != "tracks" {
				var skip json.RawMessage
				if err := d.dec.Decode(&skip); err != nil {
					return TrackJSON{}, decodeError(err)
				}
				continue
			}
			tok, err := d.token()
			if err != nil {
				return TrackJSON{}, err
			}
			switch tok {
			case json.Delim('['):
				d.state = inTracks
			case nil:
				// "tracks": null holds no tracks.
			default:
				return TrackJSON{}, fmt.Errorf("failed to decode tracks: \"tracks\" is %v, not an array", tok)
			}

		case inTracks:
			if !d.dec.More() {
				if err := d.expect(']'); err != nil {
					return TrackJSON{}, err
				}
				d.state = inDocument
				continue
			}
			var tj TrackJSON
			if err := d.dec.Decode(&tj); err != nil {
				return TrackJSON{}, decodeError(err)
			}
			return tj, nil

		default:
			return TrackJSON{}, io.EOF
		}
	}
}

func (d *trackDecoder) token() (json.Token, error) {
	tok, err := d.dec.Token()
	if err != nil {
		return nil, decodeError(err)
	}
	return tok, nil
}

func (d *trackDecoder) expect(delim json.Delim) error {
	tok, err := d.token()
	if err != nil {
		return err
	}
	if tok != delim {
		return fmt.Errorf("failed to decode tracks: expected %v, got %v", delim, tok)
	}
	return nil
}

// decodeError wraps a decoding failure. A document that ends early is never
// a clean end of input.
func decodeError(err error) error {
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return fmt.Errorf("failed to decode tracks: %w", err)
}

func (tj TrackJSON) detections() []track.Detection {
	detections := make([]track.Detection, len(tj.Detections))
	for i, d := range tj.Detections {
		detections[i] = d.detection()
	}
	return detections
}

// TrackFiles streams the tracks of several tracks files, in argument order,
// with one file open at a time. It implements track.Source, so tracks must
// be ordered by start across the whole sequence of files; the analysis
// runner rejects a sequence that is not. Memory use is one track plus the
// ids already read, which are kept to reject duplicates across files.
type TrackFiles struct {
	paths    []string
	resolver *track.ClassResolver

	file *os.File
	name string
	dec  *trackDecoder

	seen      map[string]string // id to file name
	files     int
	discarded int
}

// OpenTracks returns a source over the tracks files. Files are opened as
// they are reached.
func OpenTracks(paths []string, resolver *track.ClassResolver) *TrackFiles {
	return &TrackFiles{paths: paths, resolver: resolver, seen: make(map[string]string)}
}

// Next implements track.Source. Tracks with fewer than two detections are
// discarded with a log line; any other malformed track is an error naming
// its file.
func (f *TrackFiles) Next(ctx context.Context) (*track.Track, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if f.dec == nil {
			if len(f.paths) == 0 {
				return nil, io.EOF
			}
			if err := f.open(f.paths[0]); err != nil {
				return nil, err
			}
			f.paths = f.paths[1:]
		}

		tj, err := f.dec.next()
		if errors.Is(err, io.EOF) {
			if err := f.closeFile(); err != nil {
				return nil, err
			}
			if len(f.paths) == 0 {
				logf("Read %d tracks from %d file(s), discarded %d", len(f.seen), f.files, f.discarded)
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.name, err)
		}

		t, err := track.New(tj.ID, tj.detections(), f.resolver)
		if errors.Is(err, track.ErrTooFewDetections) {
			f.discarded++
			logf("Discarding track %s: %d detection(s)", tj.ID, len(tj.Detections))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.name, err)
		}
		if first, ok := f.seen[t.ID()]; ok {
			return nil, fmt.Errorf("%s: %w: %s, first read from %s", f.name, track.ErrDuplicateTrack, t.ID(), first)
		}
		f.seen[t.ID()] = f.name
		return t, nil
	}
}

// Yielded returns how many tracks have been returned so far.
func (f *TrackFiles) Yielded() int { return len(f.seen) }

// Discarded returns how many tracks were dropped for having fewer than two
// detections.
func (f *TrackFiles) Discarded() int { return f.discarded }

// Close closes the file being read, if any.
func (f *TrackFiles) Close() error {
	if f.file == nil {
		return nil
	}
	return f.closeFile()
}

func (f *TrackFiles) open(path string) error {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	f.file = file
	f.name = filepath.Base(path)
	f.dec = newTrackDecoder(file)
	f.files++
	return nil
}

func (f *TrackFiles) closeFile() error {
	err := f.file.Close()
	f.file, f.dec = nil, nil
	if err != nil {
		return fmt.Errorf("failed to close %s: %w", f.name, err)
	}
	return nil
}
