package flow

import (
	"github.com/google/uuid"

	"github.com/banshee-data/trackcount/internal/section"
)

// GenerateName returns the auto-generated display name for a flow between
// two sections.
func GenerateName(start, end string) string {
	return section.GenerateFlowName(start, end)
}

// NameAutoFill keeps a flow name in sync with its sections until the user
// types their own. It remembers the last name it filled in and only
// regenerates while the current name is still that value, or empty.
type NameAutoFill struct {
	last string
}

// Fill returns the name to show for a flow from start to end given the
// current name.
func (a *NameAutoFill) Fill(current, start, end string) string {
	if current != "" && current != a.last {
		return current
	}
	a.last = GenerateName(start, end)
	return a.last
}

// Last returns the most recently auto-filled name.
func (a *NameAutoFill) Last() string { return a.last }

// IDFunc produces identifiers for generated flows.
type IDFunc func() string

// NewID returns a random UUID string.
func NewID() string { return uuid.NewString() }

// GenerateFlows proposes one flow for every ordered pair of distinct
// sections in the registry that has no flow yet. Pairs follow registry
// order. A nil newID uses NewID.
func GenerateFlows(registry *section.Registry, newID IDFunc) []section.Flow {
	if newID == nil {
		newID = NewID
	}
	sections := registry.Sections()
	var flows []section.Flow
	for _, start := range sections {
		for _, end := range sections {
			if start.ID() == end.ID() {
				continue
			}
			if _, ok := registry.FlowFor(start.ID(), end.ID()); ok {
				continue
			}
			flows = append(flows, section.Flow{
				ID:    newID(),
				Name:  GenerateName(start.Name(), end.Name()),
				Start: start.ID(),
				End:   end.ID(),
			})
		}
	}
	return flows
}
