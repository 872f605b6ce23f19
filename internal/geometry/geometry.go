package geometry

import (
	"fmt"
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"gonum.org/v1/gonum/spatial/r2"
)

// epsilon absorbs floating point noise in the parametric intersection test.
const epsilon = 1e-9

// Point is a position in frame coordinates (pixels).
type Point struct {
	X float64
	Y float64
}

// Vec returns the point as a gonum vector.
func (p Point) Vec() r2.Vec { return r2.Vec{X: p.X, Y: p.Y} }

// Orb returns the point as an orb point.
func (p Point) Orb() orb.Point { return orb.Point{p.X, p.Y} }

// FromVec converts a gonum vector back to a Point.
func FromVec(v r2.Vec) Point { return Point{X: v.X, Y: v.Y} }

func (p Point) String() string { return fmt.Sprintf("(%.3f, %.3f)", p.X, p.Y) }

// RelativeOffset selects a point inside a bounding box as fractions of its
// width and height. {0, 0} is the top-left corner, {0.5, 0.5} the centre and
// {0.5, 1} the bottom centre.
type RelativeOffset struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// CenterOffset is the default offset used when a section does not configure one.
var CenterOffset = RelativeOffset{X: 0.5, Y: 0.5}

// Valid reports whether both fractions lie in [0, 1].
func (o RelativeOffset) Valid() bool {
	inRange := func(v float64) bool { return !math.IsNaN(v) && v >= 0 && v <= 1 }
	return inRange(o.X) && inRange(o.Y)
}

// ReferencePoint returns the point at offset o inside the bounding box whose
// top-left corner is (x, y) and whose size is w by h.
func ReferencePoint(x, y, w, h float64, o RelativeOffset) Point {
	return Point{X: x + w*o.X, Y: y + h*o.Y}
}

// Segment is a directed line segment from Start to End.
type Segment struct {
	Start Point
	End   Point
}

// Direction returns the vector from Start to End.
func (s Segment) Direction() r2.Vec { return r2.Sub(s.End.Vec(), s.Start.Vec()) }

// At returns the point at parameter t along the segment (0 = Start, 1 = End).
func (s Segment) At(t float64) Point {
	return FromVec(r2.Add(s.Start.Vec(), r2.Scale(t, s.Direction())))
}

// Bound returns the axis-aligned bounds of the segment.
func (s Segment) Bound() orb.Bound {
	return orb.MultiPoint{s.Start.Orb(), s.End.Orb()}.Bound()
}

// Crossing is the result of a moving segment crossing a boundary.
type Crossing struct {
	// Point is the interpolated crossing coordinate.
	Point Point
	// T is the position of the crossing along the moving segment, in (0, 1].
	T float64
}

// IntersectSegments tests whether the moving segment crosses the boundary
// segment. The moving segment is half-open: a crossing exactly at its start
// is not reported, one exactly at its end is. This way a polyline vertex that
// lies on a boundary is counted once, against the segment that ends there.
// The boundary is closed at both ends. Parallel and collinear segments never
// cross, and a zero-length moving segment (a stationary road user) never
// crosses anything.
func IntersectSegments(moving, boundary Segment) (Crossing, bool) {
	r := moving.Direction()
	s := boundary.Direction()
	denom := r2.Cross(r, s)
	if math.Abs(denom) < epsilon {
		return Crossing{}, false
	}

	qp := r2.Sub(boundary.Start.Vec(), moving.Start.Vec())
	t := r2.Cross(qp, s) / denom
	u := r2.Cross(qp, r) / denom
	if t <= epsilon || t > 1+epsilon || u < -epsilon || u > 1+epsilon {
		return Crossing{}, false
	}
	t = math.Min(t, 1)
	return Crossing{Point: moving.At(t), T: t}, true
}

// Polyline is an ordered list of points joined by segments.
type Polyline []Point

// Segments returns the consecutive segments of the polyline. A polyline with
// fewer than two points has none.
func (l Polyline) Segments() []Segment {
	if len(l) < 2 {
		return nil
	}
	segments := make([]Segment, 0, len(l)-1)
	for i := 1; i < len(l); i++ {
		segments = append(segments, Segment{Start: l[i-1], End: l[i]})
	}
	return segments
}

// Bound returns the axis-aligned bounds of all points.
func (l Polyline) Bound() orb.Bound {
	return BoundOf(l...)
}

// Polygon is a ring of points. The closing edge from the last point back to
// the first is implicit.
type Polygon []Point

func (p Polygon) ring() orb.Ring {
	ring := make(orb.Ring, 0, len(p)+1)
	for _, pt := range p {
		ring = append(ring, pt.Orb())
	}
	if len(p) > 0 && p[0] != p[len(p)-1] {
		ring = append(ring, p[0].Orb())
	}
	return ring
}

// Contains reports whether pt lies inside the polygon.
func (p Polygon) Contains(pt Point) bool {
	if len(p) < 3 {
		return false
	}
	return planar.RingContains(p.ring(), pt.Orb())
}

// Edges returns the boundary segments including the closing edge.
func (p Polygon) Edges() []Segment {
	if len(p) < 2 {
		return nil
	}
	edges := make([]Segment, 0, len(p))
	for i := range p {
		next := p[(i+1)%len(p)]
		if next == p[i] {
			continue
		}
		edges = append(edges, Segment{Start: p[i], End: next})
	}
	return edges
}

// BoundaryCrossings returns every crossing of the moving segment with the
// polygon boundary, ordered by position along the segment. Crossings that
// coincide (a path through a polygon vertex) are reported once.
func (p Polygon) BoundaryCrossings(moving Segment) []Crossing {
	var crossings []Crossing
	for _, edge := range p.Edges() {
		if c, ok := IntersectSegments(moving, edge); ok {
			crossings = append(crossings, c)
		}
	}
	sort.Slice(crossings, func(i, j int) bool { return crossings[i].T < crossings[j].T })

	deduped := crossings[:0]
	for _, c := range crossings {
		if len(deduped) > 0 && c.T-deduped[len(deduped)-1].T < epsilon {
			continue
		}
		deduped = append(deduped, c)
	}
	return deduped
}

// FirstBoundaryCrossing returns the crossing of the moving segment with the
// polygon boundary that lies closest to the segment's start.
func (p Polygon) FirstBoundaryCrossing(moving Segment) (Crossing, bool) {
	crossings := p.BoundaryCrossings(moving)
	if len(crossings) == 0 {
		return Crossing{}, false
	}
	return crossings[0], true
}

// Bound returns the axis-aligned bounds of the polygon.
func (p Polygon) Bound() orb.Bound {
	return BoundOf(p...)
}

// BoundOf returns the axis-aligned bounds of the given points. The bound of
// no points is the zero bound.
func BoundOf(points ...Point) orb.Bound {
	if len(points) == 0 {
		return orb.Bound{}
	}
	mp := make(orb.MultiPoint, 0, len(points))
	for _, pt := range points {
		mp = append(mp, pt.Orb())
	}
	return mp.Bound()
}

// Normalize returns the unit vector of v, or the zero vector if v has no length.
func Normalize(v r2.Vec) r2.Vec {
	if r2.Norm(v) == 0 {
		return r2.Vec{}
	}
	return r2.Unit(v)
}
