// Package intersect turns tracks into section crossing events.
//
// IntersectTrack evaluates one track against every candidate section of a
// registry. The per-track work shares nothing mutable, so the Engine runs it
// through an injected Strategy: Sequential by default, Parallel when a
// worker pool is wanted. Only the order of events within one track is part
// of the contract; the order across tracks is not.
//
// Event timing policy: a crossing between two consecutive detections is
// stamped with the timestamp and frame of the later detection.
package intersect

import (
	"sort"

	"github.com/banshee-data/trackcount/internal/event"
	"github.com/banshee-data/trackcount/internal/geometry"
	"github.com/banshee-data/trackcount/internal/section"
	"github.com/banshee-data/trackcount/internal/track"
)

// IntersectFunc computes all events of one track against the registry. It
// must not modify the track or the registry.
type IntersectFunc func(t *track.Track, sections *section.Registry) []event.Event

// candidate carries the ordering keys of an event until the track's events
// are sorted.
type candidate struct {
	event.Event
	detection int     // index of the detection that stamps the event
	position  float64 // crossing position along the producing segment
	order     int     // section registry position
}

var typeRank = map[event.Type]int{
	event.TypeSectionEnter:    0,
	event.TypeSectionCrossing: 1,
	event.TypeSectionLeave:    2,
}

// IntersectTrack is the default IntersectFunc. Tracks with fewer than two
// detections produce no events.
func IntersectTrack(t *track.Track, sections *section.Registry) []event.Event {
	if t == nil || t.Len() < 2 || sections == nil {
		return nil
	}

	var found []candidate
	for _, s := range sections.Candidates(t.Bound()) {
		order := sections.Order(s.ID())
		var cs []candidate
		switch s.Kind() {
		case section.KindLine:
			cs = intersectLine(t, s)
		case section.KindArea:
			cs = intersectArea(t, s)
		}
		for i := range cs {
			cs[i].order = order
		}
		found = append(found, cs...)
	}
	if len(found) == 0 {
		return nil
	}

	sort.SliceStable(found, func(i, j int) bool {
		a, b := found[i], found[j]
		if a.detection != b.detection {
			return a.detection < b.detection
		}
		if a.position != b.position {
			return a.position < b.position
		}
		if a.order != b.order {
			return a.order < b.order
		}
		return typeRank[a.Type] < typeRank[b.Type]
	})

	events := make([]event.Event, len(found))
	for i, c := range found {
		events[i] = c.Event
	}
	return events
}

func newCandidate(t *track.Track, s *section.Section, typ event.Type, detection int, c geometry.Crossing, seg geometry.Segment) candidate {
	d := t.Detections()[detection]
	return candidate{
		Event: event.Event{
			TrackID:        t.ID(),
			SectionID:      s.ID(),
			Type:           typ,
			Classification: t.Classification(),
			Timestamp:      d.Timestamp,
			Frame:          d.Frame,
			Coordinate:     c.Point,
			Direction:      seg.Direction(),
		},
		detection: detection,
		position:  c.T,
	}
}

// intersectLine reports one crossing event per crossing of the reference
// path with any segment of the line section.
func intersectLine(t *track.Track, s *section.Section) []candidate {
	path := t.ReferencePolyline(s.Offset(event.TypeSectionCrossing))
	boundary := s.Line().Segments()

	var out []candidate
	for i, seg := range path.Segments() {
		var lastT float64 = -1
		crossings := make([]geometry.Crossing, 0, 1)
		for _, edge := range boundary {
			if c, ok := geometry.IntersectSegments(seg, edge); ok {
				crossings = append(crossings, c)
			}
		}
		sort.Slice(crossings, func(a, b int) bool { return crossings[a].T < crossings[b].T })
		for _, c := range crossings {
			// A path through a vertex of the section polyline touches two
			// section segments at the same spot; count it once.
			if lastT >= 0 && c.T-lastT < 1e-9 {
				continue
			}
			lastT = c.T
			out = append(out, newCandidate(t, s, event.TypeSectionCrossing, i+1, c, seg))
		}
	}
	return out
}

// intersectArea reports enter and leave events for an area section. Enter
// transitions are tested on the path through the enter offset, leave
// transitions on the path through the leave offset. A track that starts
// inside the area enters it at its first detection.
func intersectArea(t *track.Track, s *section.Section) []candidate {
	area := s.Area()
	var out []candidate

	enterPath := t.ReferencePolyline(s.Offset(event.TypeSectionEnter))
	enterSegs := enterPath.Segments()
	inside := area.Contains(enterPath[0])
	if inside {
		c := geometry.Crossing{Point: enterPath[0], T: 0}
		out = append(out, newCandidate(t, s, event.TypeSectionEnter, 0, c, enterSegs[0]))
	}
	for i, seg := range enterSegs {
		next := area.Contains(seg.End)
		switch {
		case !inside && next:
			c, ok := area.FirstBoundaryCrossing(seg)
			if !ok {
				c = geometry.Crossing{Point: seg.End, T: 1}
			}
			out = append(out, newCandidate(t, s, event.TypeSectionEnter, i+1, c, seg))
		case !inside && !next:
			// Passing straight through between two detections.
			if crossings := area.BoundaryCrossings(seg); len(crossings) >= 2 {
				out = append(out, newCandidate(t, s, event.TypeSectionEnter, i+1, crossings[0], seg))
			}
		}
		inside = next
	}

	leavePath := t.ReferencePolyline(s.Offset(event.TypeSectionLeave))
	inside = area.Contains(leavePath[0])
	for i, seg := range leavePath.Segments() {
		next := area.Contains(seg.End)
		switch {
		case inside && !next:
			c, ok := area.FirstBoundaryCrossing(seg)
			if !ok {
				c = geometry.Crossing{Point: seg.End, T: 1}
			}
			out = append(out, newCandidate(t, s, event.TypeSectionLeave, i+1, c, seg))
		case !inside && !next:
			if crossings := area.BoundaryCrossings(seg); len(crossings) >= 2 {
				out = append(out, newCandidate(t, s, event.TypeSectionLeave, i+1, crossings[len(crossings)-1], seg))
			}
		}
		inside = next
	}

	return out
}
