// Package section holds the user-drawn counting sections and the flows that
// pair them. Both are validated when the Registry is built, so the
// intersection engine never meets malformed geometry in its hot loop.
package section

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"

	"github.com/banshee-data/trackcount/internal/event"
	"github.com/banshee-data/trackcount/internal/geometry"
)

var (
	// ErrInvalidGeometry is returned for sections with too few points.
	ErrInvalidGeometry = errors.New("invalid section geometry")
	// ErrInvalidOffset is returned for relative offsets outside [0, 1].
	ErrInvalidOffset = errors.New("relative offset must lie within [0, 1]")
	// ErrEmptyID is returned for sections or flows without an identifier.
	ErrEmptyID = errors.New("id must not be empty")
)

// Kind distinguishes line sections from area sections.
type Kind string

const (
	KindLine Kind = "line"
	KindArea Kind = "area"
)

// Minimum point counts per section kind.
const (
	MinLinePoints = 2
	MinAreaPoints = 3
)

// Offsets maps event types to the reference point used when testing them.
type Offsets map[event.Type]geometry.RelativeOffset

// Section is a virtual counting boundary: a polyline for line sections or a
// polygon for area sections.
type Section struct {
	id      string
	name    string
	kind    Kind
	points  []geometry.Point
	offsets Offsets
	bound   orb.Bound
}

// NewLineSection builds a line section from at least two points.
func NewLineSection(id, name string, points []geometry.Point, offsets Offsets) (*Section, error) {
	return newSection(id, name, KindLine, points, offsets)
}

// NewAreaSection builds an area section from a ring of at least three points.
func NewAreaSection(id, name string, points []geometry.Point, offsets Offsets) (*Section, error) {
	return newSection(id, name, KindArea, points, offsets)
}

func newSection(id, name string, kind Kind, points []geometry.Point, offsets Offsets) (*Section, error) {
	if id == "" {
		return nil, fmt.Errorf("section: %w", ErrEmptyID)
	}

	required := MinLinePoints
	if kind == KindArea {
		required = MinAreaPoints
	}
	distinct := countDistinct(points)
	if distinct < required {
		return nil, fmt.Errorf("section %s: %s needs %d distinct points, got %d: %w",
			id, kind, required, distinct, ErrInvalidGeometry)
	}

	owned := Offsets{}
	for typ, o := range offsets {
		if !o.Valid() {
			return nil, fmt.Errorf("section %s: offset for %s is {%g, %g}: %w", id, typ, o.X, o.Y, ErrInvalidOffset)
		}
		owned[typ] = o
	}

	if name == "" {
		name = id
	}
	pts := make([]geometry.Point, len(points))
	copy(pts, points)

	return &Section{
		id:      id,
		name:    name,
		kind:    kind,
		points:  pts,
		offsets: owned,
		bound:   geometry.BoundOf(pts...),
	}, nil
}

func countDistinct(points []geometry.Point) int {
	seen := make(map[geometry.Point]struct{}, len(points))
	for _, p := range points {
		seen[p] = struct{}{}
	}
	return len(seen)
}

// ID returns the section identifier.
func (s *Section) ID() string { return s.id }

// Name returns the display name; it defaults to the id.
func (s *Section) Name() string { return s.name }

// Kind returns whether the section is a line or an area.
func (s *Section) Kind() Kind { return s.kind }

// Points returns the section coordinates. The slice must not be modified.
func (s *Section) Points() []geometry.Point { return s.points }

// Bound returns the axis-aligned bounds of the section.
func (s *Section) Bound() orb.Bound { return s.bound }

// Offset returns the relative offset configured for the event type, or the
// bounding box centre if none is configured.
func (s *Section) Offset(t event.Type) geometry.RelativeOffset {
	if o, ok := s.offsets[t]; ok {
		return o
	}
	return geometry.CenterOffset
}

// Line returns the section as a polyline. Only meaningful for line sections.
func (s *Section) Line() geometry.Polyline { return geometry.Polyline(s.points) }

// Area returns the section as a polygon. Only meaningful for area sections.
func (s *Section) Area() geometry.Polygon { return geometry.Polygon(s.points) }
