// Package event defines the crossing events the intersection engine emits
// and the flow assigner and counting aggregator consume.
package event

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/trackcount/internal/geometry"
)

// Type identifies what kind of section crossing an event records.
type Type string

const (
	// TypeSectionEnter marks a road user entering an area section.
	TypeSectionEnter Type = "section-enter"
	// TypeSectionLeave marks a road user leaving an area section.
	TypeSectionLeave Type = "section-leave"
	// TypeSectionCrossing marks a road user crossing a line section.
	TypeSectionCrossing Type = "section-crossing"
)

// Types lists every event type in a stable order.
var Types = []Type{TypeSectionEnter, TypeSectionLeave, TypeSectionCrossing}

// ParseType converts a string to a Type.
func ParseType(s string) (Type, error) {
	for _, t := range Types {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown event type %q", s)
}

// Event is one crossing of a section by a track.
type Event struct {
	TrackID        string
	SectionID      string
	Type           Type
	Classification string

	// Timestamp and Frame come from the later of the two detections that
	// bracket the crossing.
	Timestamp time.Time
	Frame     int

	// Coordinate is the interpolated crossing point of the reference path.
	Coordinate geometry.Point
	// Direction is the travel vector of the reference path segment that
	// produced the crossing.
	Direction r2.Vec
}

func (e Event) String() string {
	return fmt.Sprintf("%s %s %s@%s %v", e.TrackID, e.Type, e.SectionID,
		e.Timestamp.Format(time.RFC3339Nano), e.Coordinate)
}

// GroupByTrack splits events by track id, preserving the relative order of
// each track's events. The returned ids list the tracks in order of first
// appearance.
func GroupByTrack(events []Event) (ids []string, byTrack map[string][]Event) {
	byTrack = make(map[string][]Event)
	for _, e := range events {
		if _, ok := byTrack[e.TrackID]; !ok {
			ids = append(ids, e.TrackID)
		}
		byTrack[e.TrackID] = append(byTrack[e.TrackID], e)
	}
	return ids, byTrack
}
