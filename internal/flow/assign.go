// Package flow assigns tracks to configured flows from their crossing
// events.
//
// Only the first and the last crossed section of a track take part in the
// lookup; intermediate crossings stay in the event stream. A missing flow is
// a normal outcome, never an error.
package flow

import (
	"time"

	"github.com/banshee-data/trackcount/internal/event"
	"github.com/banshee-data/trackcount/internal/section"
	"github.com/banshee-data/trackcount/internal/track"
)

// Outcome is the flow assignment category of one track.
type Outcome int

const (
	// NotIntersecting tracks crossed no section at all.
	NotIntersecting Outcome = iota
	// Unassigned tracks crossed at least one section but match no flow.
	Unassigned
	// Assigned tracks match exactly one flow.
	Assigned
)

func (o Outcome) String() string {
	switch o {
	case NotIntersecting:
		return "not-intersecting"
	case Unassigned:
		return "unassigned"
	case Assigned:
		return "assigned"
	default:
		return "unknown"
	}
}

// Assignment is the result of assigning one track.
type Assignment struct {
	TrackID        string
	Classification string
	Outcome        Outcome

	// Flow is set only when Outcome is Assigned.
	Flow section.Flow

	// CanonicalTime is the timestamp of the track's first event, or of its
	// first detection when it crossed nothing. It decides the counting
	// interval.
	CanonicalTime time.Time

	// Events are the track's events in the order the engine produced them.
	Events []event.Event
}

// Endpoints returns the first and last crossed section ids. ok is false for
// tracks without events.
func (a Assignment) Endpoints() (start, end string, ok bool) {
	if len(a.Events) == 0 {
		return "", "", false
	}
	return a.Events[0].SectionID, a.Events[len(a.Events)-1].SectionID, true
}

// Assigner looks up flows in a registry.
type Assigner struct {
	registry *section.Registry
}

// NewAssigner returns an assigner over the registry's flows.
func NewAssigner(registry *section.Registry) *Assigner {
	return &Assigner{registry: registry}
}

// Assign assigns a track given its ordered events. The events must all
// belong to t.
func (a *Assigner) Assign(t *track.Track, events []event.Event) Assignment {
	out := Assignment{
		TrackID:        t.ID(),
		Classification: t.Classification(),
		Events:         events,
		CanonicalTime:  t.Start(),
	}
	if len(events) == 0 {
		out.Outcome = NotIntersecting
		return out
	}

	out.CanonicalTime = events[0].Timestamp
	start, end, _ := out.Endpoints()
	if f, ok := a.registry.FlowFor(start, end); ok {
		out.Outcome = Assigned
		out.Flow = f
		return out
	}
	out.Outcome = Unassigned
	return out
}

// AssignAll assigns every track of a batch. events may be in any order
// across tracks as long as each track's events keep their relative order.
// The result follows the order of tracks.
func (a *Assigner) AssignAll(tracks []*track.Track, events []event.Event) []Assignment {
	_, byTrack := event.GroupByTrack(events)
	out := make([]Assignment, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, a.Assign(t, byTrack[t.ID()]))
	}
	return out
}
