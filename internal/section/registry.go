package section

import (
	"errors"
	"fmt"
	"sort"

	flatbush "github.com/bmharper/flatbush-go"
	"github.com/paulmach/orb"
)

var (
	// ErrDuplicateSection is returned when two sections share an id.
	ErrDuplicateSection = errors.New("duplicate section id")
	// ErrDuplicateFlow is returned when two flows share an id or a
	// (start, end) section pair.
	ErrDuplicateFlow = errors.New("duplicate flow")
	// ErrUnknownSection is returned when a flow references a missing section.
	ErrUnknownSection = errors.New("unknown section")
)

// Registry is the validated, read-only set of sections and flows used by one
// analysis run. It is safe for concurrent readers.
type Registry struct {
	sections []*Section
	byID     map[string]int

	flows      []Flow
	flowByID   map[string]int
	flowByPair map[Pair]int

	// index holds section bounds in registry order. Nil when there are no
	// sections.
	index *flatbush.Flatbush[float64]
}

// NewRegistry validates the sections and flows and builds the spatial index.
func NewRegistry(sections []*Section, flows []Flow) (*Registry, error) {
	r := &Registry{
		byID:       make(map[string]int, len(sections)),
		flowByID:   make(map[string]int, len(flows)),
		flowByPair: make(map[Pair]int, len(flows)),
	}

	for _, s := range sections {
		if s == nil {
			return nil, fmt.Errorf("nil section: %w", ErrInvalidGeometry)
		}
		if _, ok := r.byID[s.ID()]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSection, s.ID())
		}
		r.byID[s.ID()] = len(r.sections)
		r.sections = append(r.sections, s)
	}

	for _, f := range flows {
		if f.ID == "" {
			return nil, fmt.Errorf("flow %q: %w", f.Name, ErrEmptyID)
		}
		if _, ok := r.flowByID[f.ID]; ok {
			return nil, fmt.Errorf("%w: id %s", ErrDuplicateFlow, f.ID)
		}
		for _, sid := range []string{f.Start, f.End} {
			if _, ok := r.byID[sid]; !ok {
				return nil, fmt.Errorf("flow %s references section %q: %w", f.ID, sid, ErrUnknownSection)
			}
		}
		if prev, ok := r.flowByPair[f.Pair()]; ok {
			return nil, fmt.Errorf("%w: flows %s and %s both run %s -> %s",
				ErrDuplicateFlow, r.flows[prev].ID, f.ID, f.Start, f.End)
		}
		if f.Name == "" {
			f.Name = GenerateFlowName(r.sections[r.byID[f.Start]].Name(), r.sections[r.byID[f.End]].Name())
		}
		r.flowByID[f.ID] = len(r.flows)
		r.flowByPair[f.Pair()] = len(r.flows)
		r.flows = append(r.flows, f)
	}

	if len(r.sections) > 0 {
		r.index = flatbush.NewFlatbush[float64]()
		r.index.Reserve(len(r.sections))
		for _, s := range r.sections {
			b := s.Bound()
			r.index.Add(b.Min[0], b.Min[1], b.Max[0], b.Max[1])
		}
		r.index.Finish()
	}

	return r, nil
}

// GenerateFlowName derives a display name from the start and end section
// names. The result depends only on its inputs.
func GenerateFlowName(start, end string) string {
	return start + " -> " + end
}

// Sections returns all sections in registry order. The slice must not be
// modified.
func (r *Registry) Sections() []*Section { return r.sections }

// Section returns the section with the given id.
func (r *Registry) Section(id string) (*Section, bool) {
	i, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return r.sections[i], true
}

// Flows returns all flows in registry order. The slice must not be modified.
func (r *Registry) Flows() []Flow { return r.flows }

// Flow returns the flow with the given id.
func (r *Registry) Flow(id string) (Flow, bool) {
	i, ok := r.flowByID[id]
	if !ok {
		return Flow{}, false
	}
	return r.flows[i], true
}

// FlowFor returns the flow running from start to end, if one is configured.
func (r *Registry) FlowFor(start, end string) (Flow, bool) {
	i, ok := r.flowByPair[Pair{Start: start, End: end}]
	if !ok {
		return Flow{}, false
	}
	return r.flows[i], true
}

// Candidates returns the sections whose bounds intersect b, in registry
// order. Sections outside b cannot be crossed by a path contained in b.
func (r *Registry) Candidates(b orb.Bound) []*Section {
	if r.index == nil {
		return nil
	}
	hits := r.index.SearchFast(b.Min[0], b.Min[1], b.Max[0], b.Max[1], nil)
	if len(hits) == 0 {
		return nil
	}
	sort.Ints(hits)
	out := make([]*Section, 0, len(hits))
	for _, i := range hits {
		out = append(out, r.sections[i])
	}
	return out
}

// Order returns the registry position of a section, used to break ties
// between simultaneous events. Unknown ids sort last.
func (r *Registry) Order(sectionID string) int {
	if i, ok := r.byID[sectionID]; ok {
		return i
	}
	return len(r.sections)
}
