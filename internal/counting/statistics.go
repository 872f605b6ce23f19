package counting

import (
	"fmt"
	"time"

	"github.com/banshee-data/trackcount/internal/flow"
)

// Statistics summarises flow assignment outcomes over a set of tracks.
//
// SimultaneousCrossings counts tracks that produced events on two distinct
// sections at the same detection. It is a data quality signal; those tracks
// are still counted normally.
type Statistics struct {
	Total                 int `json:"total"`
	Assigned              int `json:"assigned"`
	Unassigned            int `json:"unassigned"`
	NotIntersecting       int `json:"not_intersecting"`
	SimultaneousCrossings int `json:"simultaneous_crossings"`
}

// Add accumulates a batch of assignments.
func (s *Statistics) Add(assignments []flow.Assignment) {
	for _, as := range assignments {
		s.Total++
		switch as.Outcome {
		case flow.Assigned:
			s.Assigned++
		case flow.Unassigned:
			s.Unassigned++
		default:
			s.NotIntersecting++
		}
		if HasSimultaneousCrossing(as) {
			s.SimultaneousCrossings++
		}
	}
}

// Merge adds the counters of o.
func (s *Statistics) Merge(o Statistics) {
	s.Total += o.Total
	s.Assigned += o.Assigned
	s.Unassigned += o.Unassigned
	s.NotIntersecting += o.NotIntersecting
	s.SimultaneousCrossings += o.SimultaneousCrossings
}

// Intersecting returns the number of tracks that crossed at least one
// section.
func (s Statistics) Intersecting() int { return s.Assigned + s.Unassigned }

// Percent returns n as a percentage of Total, or 0 for an empty set.
func (s Statistics) Percent(n int) float64 {
	if s.Total == 0 {
		return 0
	}
	return 100 * float64(n) / float64(s.Total)
}

// Row is one line of the statistics table.
type Row struct {
	Name    string
	Count   int
	Percent float64
}

// Rows returns the statistics as a table with percentages of the total.
func (s Statistics) Rows() []Row {
	return []Row{
		{Name: "total", Count: s.Total, Percent: s.Percent(s.Total)},
		{Name: "assigned", Count: s.Assigned, Percent: s.Percent(s.Assigned)},
		{Name: "intersecting, unassigned", Count: s.Unassigned, Percent: s.Percent(s.Unassigned)},
		{Name: "not intersecting", Count: s.NotIntersecting, Percent: s.Percent(s.NotIntersecting)},
		{Name: "simultaneous crossings", Count: s.SimultaneousCrossings, Percent: s.Percent(s.SimultaneousCrossings)},
	}
}

func (s Statistics) String() string {
	return fmt.Sprintf("total=%d assigned=%d (%.1f%%) unassigned=%d (%.1f%%) not_intersecting=%d (%.1f%%) simultaneous=%d (%.1f%%)",
		s.Total,
		s.Assigned, s.Percent(s.Assigned),
		s.Unassigned, s.Percent(s.Unassigned),
		s.NotIntersecting, s.Percent(s.NotIntersecting),
		s.SimultaneousCrossings, s.Percent(s.SimultaneousCrossings))
}

// HasSimultaneousCrossing reports whether the assignment's events include two
// distinct sections crossed at the same timestamp.
func HasSimultaneousCrossing(as flow.Assignment) bool {
	if len(as.Events) < 2 {
		return false
	}
	sections := make(map[time.Time]string, len(as.Events))
	for _, e := range as.Events {
		ts := e.Timestamp.UTC()
		prev, ok := sections[ts]
		if ok && prev != e.SectionID {
			return true
		}
		if !ok {
			sections[ts] = e.SectionID
		}
	}
	return false
}
