// Package track holds road-user trajectories as produced by the external
// detector/tracker, and the in-memory store the analysis reads them from.
//
// A Track is immutable once built. Every consumer downstream of the store
// (filters, the intersection engine, the counting aggregator) treats tracks
// as read-only, which is what allows the intersection phase to share them
// between workers without locking.
package track

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/paulmach/orb"

	"github.com/banshee-data/trackcount/internal/geometry"
)

var (
	// ErrEmptyID is returned when a track is built without an identifier.
	ErrEmptyID = errors.New("track id must not be empty")
	// ErrTooFewDetections is returned for tracks with fewer than two detections.
	ErrTooFewDetections = errors.New("track requires at least two detections")
	// ErrUnorderedDetections is returned when detection timestamps do not
	// strictly increase.
	ErrUnorderedDetections = errors.New("detections must be strictly ordered by time")
)

// Detection is one observation of a road user in a single video frame.
type Detection struct {
	Timestamp time.Time
	Frame     int

	// X and Y locate the top-left corner of the bounding box. The tracker has
	// already corrected them for any frame offset.
	X      float64
	Y      float64
	Width  float64
	Height float64

	Label      string  // per-detection class label
	Confidence float64 // detector confidence for Label, in [0, 1]
}

// ReferencePoint returns the point inside the bounding box selected by o.
func (d Detection) ReferencePoint(o geometry.RelativeOffset) geometry.Point {
	return geometry.ReferencePoint(d.X, d.Y, d.Width, d.Height, o)
}

// Bound returns the bounding box of the detection.
func (d Detection) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{d.X, d.Y},
		Max: orb.Point{d.X + d.Width, d.Y + d.Height},
	}
}

// Track is the time-ordered detection sequence of one road user.
type Track struct {
	id             string
	detections     []Detection
	classification string
	bound          orb.Bound
}

// New builds a Track. The detections are copied; the resolver picks the
// track classification from the per-detection labels.
func New(id string, detections []Detection, resolver *ClassResolver) (*Track, error) {
	if id == "" {
		return nil, ErrEmptyID
	}
	if len(detections) < 2 {
		return nil, fmt.Errorf("track %s has %d detections: %w", id, len(detections), ErrTooFewDetections)
	}
	for i := 1; i < len(detections); i++ {
		if !detections[i].Timestamp.After(detections[i-1].Timestamp) {
			return nil, fmt.Errorf("track %s detection %d at %s: %w",
				id, i, detections[i].Timestamp.Format(time.RFC3339Nano), ErrUnorderedDetections)
		}
	}
	if resolver == nil {
		resolver = DefaultClassResolver()
	}

	owned := make([]Detection, len(detections))
	copy(owned, detections)

	bound := owned[0].Bound()
	for _, d := range owned[1:] {
		bound = bound.Union(d.Bound())
	}

	return &Track{
		id:             id,
		detections:     owned,
		classification: resolver.Resolve(owned),
		bound:          bound,
	}, nil
}

// ID returns the track identifier.
func (t *Track) ID() string { return t.id }

// Classification returns the resolved track classification.
func (t *Track) Classification() string { return t.classification }

// Detections returns the detections in time order. The slice is shared and
// must not be modified.
func (t *Track) Detections() []Detection { return t.detections }

// Len returns the number of detections.
func (t *Track) Len() int { return len(t.detections) }

// Start returns the first detection timestamp.
func (t *Track) Start() time.Time { return t.detections[0].Timestamp }

// End returns the last detection timestamp.
func (t *Track) End() time.Time { return t.detections[len(t.detections)-1].Timestamp }

// Bound returns the union of all detection bounding boxes. Every reference
// point with an offset in [0, 1] lies inside it.
func (t *Track) Bound() orb.Bound { return t.bound }

// ReferencePolyline returns the path through the reference points selected by o.
func (t *Track) ReferencePolyline(o geometry.RelativeOffset) geometry.Polyline {
	line := make(geometry.Polyline, len(t.detections))
	for i, d := range t.detections {
		line[i] = d.ReferencePoint(o)
	}
	return line
}

// DefaultFallbackClassification is used for labels the resolver does not know.
const DefaultFallbackClassification = "unknown"

// ClassResolver turns per-detection labels into a single track classification.
type ClassResolver struct {
	known    map[string]struct{}
	fallback string
}

// NewClassResolver creates a resolver. An empty known list accepts every
// non-empty label. An empty fallback uses DefaultFallbackClassification.
func NewClassResolver(known []string, fallback string) *ClassResolver {
	if fallback == "" {
		fallback = DefaultFallbackClassification
	}
	r := &ClassResolver{fallback: fallback}
	if len(known) > 0 {
		r.known = make(map[string]struct{}, len(known))
		for _, k := range known {
			r.known[k] = struct{}{}
		}
	}
	return r
}

// DefaultClassResolver accepts every label and falls back to "unknown".
func DefaultClassResolver() *ClassResolver {
	return NewClassResolver(nil, "")
}

// Fallback returns the designated fallback classification.
func (r *ClassResolver) Fallback() string { return r.fallback }

// Normalize maps unknown or empty labels to the fallback classification.
func (r *ClassResolver) Normalize(label string) string {
	if label == "" {
		return r.fallback
	}
	if r.known != nil {
		if _, ok := r.known[label]; !ok {
			return r.fallback
		}
	}
	return label
}

// Resolve returns the label with the highest cumulative confidence across
// the detections. Ties go to the lexically smallest label so the result does
// not depend on map iteration order.
func (r *ClassResolver) Resolve(detections []Detection) string {
	if len(detections) == 0 {
		return r.fallback
	}
	scores := make(map[string]float64)
	for _, d := range detections {
		scores[r.Normalize(d.Label)] += d.Confidence
	}

	labels := make([]string, 0, len(scores))
	for label := range scores {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	best := labels[0]
	for _, label := range labels[1:] {
		if scores[label] > scores[best] {
			best = label
		}
	}
	return best
}
