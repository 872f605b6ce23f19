// Package trackfilter restricts the working set of tracks before
// intersection. Filters are composed from boolean predicates; the builder
// folds any number of them into one conjunction.
package trackfilter

import (
	"time"

	"github.com/banshee-data/trackcount/internal/track"
)

// Predicate decides whether a track stays in the working set.
type Predicate interface {
	Test(t *track.Track) bool
}

// PredicateFunc adapts a function to Predicate.
type PredicateFunc func(t *track.Track) bool

// Test calls f.
func (f PredicateFunc) Test(t *track.Track) bool { return f(t) }

// conjunction evaluates first and only consults second when first passes.
type conjunction struct {
	first  Predicate
	second Predicate
}

func (c conjunction) Test(t *track.Track) bool {
	return c.first.Test(t) && c.second.Test(t)
}

// ConjunctWith returns a predicate that holds when both hold. first is
// always evaluated first and short-circuits on failure.
func ConjunctWith(first, second Predicate) Predicate {
	return conjunction{first: first, second: second}
}

// IsWithinDate holds when the track's first detection falls in
// [Start, End). A zero Start or End leaves that side unbounded, so a
// zero-width range [d, d) accepts nothing.
type IsWithinDate struct {
	Start time.Time
	End   time.Time
}

// Test implements Predicate.
func (p IsWithinDate) Test(t *track.Track) bool {
	ts := t.Start()
	if !p.Start.IsZero() && ts.Before(p.Start) {
		return false
	}
	if !p.End.IsZero() && !ts.Before(p.End) {
		return false
	}
	return true
}

// HasClassification holds when the resolved track classification is in the set.
type HasClassification struct {
	classes map[string]struct{}
}

// NewHasClassification builds a classification membership predicate.
func NewHasClassification(classes ...string) HasClassification {
	set := make(map[string]struct{}, len(classes))
	for _, c := range classes {
		set[c] = struct{}{}
	}
	return HasClassification{classes: set}
}

// Test implements Predicate.
func (p HasClassification) Test(t *track.Track) bool {
	_, ok := p.classes[t.Classification()]
	return ok
}

// Filter applies a composed predicate to a list of tracks.
type Filter struct {
	predicate Predicate // nil accepts everything
}

// Apply returns the tracks satisfying the filter, in input order. The no-op
// filter returns its input unchanged.
func (f Filter) Apply(tracks []*track.Track) []*track.Track {
	if f.predicate == nil {
		return tracks
	}
	out := make([]*track.Track, 0, len(tracks))
	for _, t := range tracks {
		if f.predicate.Test(t) {
			out = append(out, t)
		}
	}
	return out
}

// Test reports whether a single track passes the filter.
func (f Filter) Test(t *track.Track) bool {
	return f.predicate == nil || f.predicate.Test(t)
}

// Builder accumulates predicates in the order they are added.
type Builder struct {
	predicates []Predicate
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Add appends an arbitrary predicate.
func (b *Builder) Add(p Predicate) *Builder {
	if p != nil {
		b.predicates = append(b.predicates, p)
	}
	return b
}

// AddDateRange restricts tracks to those starting in [start, end). A call
// with both bounds zero adds nothing.
func (b *Builder) AddDateRange(start, end time.Time) *Builder {
	if start.IsZero() && end.IsZero() {
		return b
	}
	return b.Add(IsWithinDate{Start: start, End: end})
}

// AddClassifications restricts tracks to the given classifications. An
// empty list adds nothing.
func (b *Builder) AddClassifications(classes ...string) *Builder {
	if len(classes) == 0 {
		return b
	}
	return b.Add(NewHasClassification(classes...))
}

// Build folds the predicates with ConjunctWith. With no predicates it returns
// the no-op filter that accepts every track.
func (b *Builder) Build() Filter {
	if len(b.predicates) == 0 {
		return Filter{}
	}
	p := b.predicates[0]
	for _, next := range b.predicates[1:] {
		p = ConjunctWith(p, next)
	}
	return Filter{predicate: p}
}
