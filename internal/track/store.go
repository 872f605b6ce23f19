package track

import (
	"errors"
	"fmt"

	"github.com/banshee-data/trackcount/internal/monitoring"
)

// ErrDuplicateTrack is returned when a track id is added to a store twice.
var ErrDuplicateTrack = errors.New("duplicate track id")

var logf = monitoring.Component("track")

// Store is an insertion-ordered collection of tracks. It is filled once by
// the ingest side and read by everything else; it is not safe for concurrent
// writes.
type Store struct {
	tracks []*Track
	index  map[string]int

	discarded int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{index: make(map[string]int)}
}

// Add appends a built track.
func (s *Store) Add(t *Track) error {
	if _, ok := s.index[t.ID()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTrack, t.ID())
	}
	s.index[t.ID()] = len(s.tracks)
	s.tracks = append(s.tracks, t)
	return nil
}

// AddDetections builds and appends a track from raw detections. Tracks with
// fewer than two detections are discarded with a log line rather than
// rejected, since single detections are routine tracker output. Any other
// validation failure is returned.
func (s *Store) AddDetections(id string, detections []Detection, resolver *ClassResolver) error {
	t, err := New(id, detections, resolver)
	if errors.Is(err, ErrTooFewDetections) {
		s.discarded++
		logf("Discarding track %s: %d detection(s)", id, len(detections))
		return nil
	}
	if err != nil {
		return err
	}
	return s.Add(t)
}

// Get returns the track with the given id.
func (s *Store) Get(id string) (*Track, bool) {
	i, ok := s.index[id]
	if !ok {
		return nil, false
	}
	return s.tracks[i], true
}

// Len returns the number of stored tracks.
func (s *Store) Len() int { return len(s.tracks) }

// Discarded returns how many tracks AddDetections dropped for having fewer
// than two detections.
func (s *Store) Discarded() int { return s.discarded }

// Tracks returns all tracks in insertion order. The slice is shared and must
// not be modified.
func (s *Store) Tracks() []*Track { return s.tracks }

// Source returns a Source over the stored tracks ordered by start.
func (s *Store) Source() *SliceSource {
	return NewSliceSource(s.tracks)
}
