package track

import (
	"context"
	"errors"
	"io"
	"slices"
)

// ErrUnorderedSource is returned when a Source yields a track that starts
// before a track it yielded earlier.
var ErrUnorderedSource = errors.New("tracks must be ordered by start time")

// Source yields tracks one at a time in non-decreasing start order. Next
// returns io.EOF once the source is exhausted. Because of the ordering, the
// start of the last track returned is a lower bound on the start of every
// track still to come.
type Source interface {
	Next(ctx context.Context) (*Track, error)
}

// SliceSource yields an in-memory track list ordered by start. Tracks with
// equal starts keep their list order.
type SliceSource struct {
	tracks []*Track
	pos    int
}

// NewSliceSource sorts a copy of tracks by start.
func NewSliceSource(tracks []*Track) *SliceSource {
	sorted := slices.Clone(tracks)
	slices.SortStableFunc(sorted, func(a, b *Track) int {
		return a.Start().Compare(b.Start())
	})
	return &SliceSource{tracks: sorted}
}

// Next implements Source.
func (s *SliceSource) Next(ctx context.Context) (*Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.tracks) {
		return nil, io.EOF
	}
	t := s.tracks[s.pos]
	s.pos++
	return t, nil
}

// Len returns the number of tracks not yet yielded.
func (s *SliceSource) Len() int { return len(s.tracks) - s.pos }

// Concat yields every track of the first source, then of the second, and
// so on. The result is only ordered when each source starts no earlier
// than the previous one ended; consumers check that with ErrUnorderedSource.
func Concat(sources ...Source) Source {
	return &concat{sources: sources}
}

type concat struct {
	sources []Source
}

func (c *concat) Next(ctx context.Context) (*Track, error) {
	for len(c.sources) > 0 {
		t, err := c.sources[0].Next(ctx)
		if errors.Is(err, io.EOF) {
			c.sources = c.sources[1:]
			continue
		}
		return t, err
	}
	return nil, io.EOF
}
