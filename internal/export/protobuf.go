package export

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"google.golang.org/protobuf/encoding/protodelim"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/trackcount/internal/track"
)

// Protobuf writes tracks as a stream of length-delimited
// google.protobuf.Struct messages, one per track.
type Protobuf struct {
	path string

	file    *os.File
	w       *bufio.Writer
	started bool
}

// NewTracksProtobuf creates a protobuf track exporter.
func NewTracksProtobuf(path string) *Protobuf {
	return &Protobuf{path: path}
}

// Path returns the output file path.
func (p *Protobuf) Path() string { return p.path }

// TrackMessage converts a track into its Struct message.
func TrackMessage(t *track.Track) (*structpb.Struct, error) {
	detections := make([]any, 0, t.Len())
	for _, d := range t.Detections() {
		detections = append(detections, map[string]any{
			"timestamp":  d.Timestamp.Format(TimeLayout),
			"frame":      d.Frame,
			"x":          d.X,
			"y":          d.Y,
			"w":          d.Width,
			"h":          d.Height,
			"label":      d.Label,
			"confidence": d.Confidence,
		})
	}
	return structpb.NewStruct(map[string]any{
		"track_id":       t.ID(),
		"classification": t.Classification(),
		"detections":     detections,
	})
}

// Export implements Exporter.
func (p *Protobuf) Export(ctx context.Context, mode Mode, rows []*track.Track) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.open(mode); err != nil {
		return err
	}
	for _, t := range rows {
		msg, err := TrackMessage(t)
		if err != nil {
			return fmt.Errorf("failed to encode track %s: %w", t.ID(), err)
		}
		if _, err := protodelim.MarshalTo(p.w, msg); err != nil {
			return fmt.Errorf("failed to write %s: %w", p.path, err)
		}
	}
	if err := p.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", p.path, err)
	}
	if mode.IsFinal() {
		return p.Close()
	}
	return nil
}

func (p *Protobuf) open(mode Mode) error {
	if mode.IsFirst() {
		if err := p.Close(); err != nil {
			return err
		}
		f, err := createOutput(p.path)
		if err != nil {
			return err
		}
		p.file, p.w, p.started = f, bufio.NewWriter(f), true
		return nil
	}
	if !p.started {
		return fmt.Errorf("%s write to %s: %w", mode, p.path, ErrSinkNotStarted)
	}
	if p.file == nil {
		f, err := os.OpenFile(filepath.Clean(p.path), os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to reopen %s: %w", p.path, err)
		}
		p.file, p.w = f, bufio.NewWriter(f)
	}
	return nil
}

// Close implements Exporter.
func (p *Protobuf) Close() error {
	if p.file == nil {
		return nil
	}
	ferr := p.w.Flush()
	cerr := p.file.Close()
	p.file, p.w = nil, nil
	if ferr != nil {
		return fmt.Errorf("failed to flush %s: %w", p.path, ferr)
	}
	if cerr != nil {
		return fmt.Errorf("failed to close %s: %w", p.path, cerr)
	}
	return nil
}

// ReadTrackMessages reads every message of a protobuf track stream.
func ReadTrackMessages(r io.Reader) ([]*structpb.Struct, error) {
	br := bufio.NewReader(r)
	var out []*structpb.Struct
	for {
		msg := &structpb.Struct{}
		err := protodelim.UnmarshalFrom(br, msg)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("failed to read track message %d: %w", len(out), err)
		}
		out = append(out, msg)
	}
}
