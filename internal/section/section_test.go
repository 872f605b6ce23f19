package section

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/trackcount/internal/event"
	"github.com/banshee-data/trackcount/internal/geometry"
)

func pts(coords ...float64) []geometry.Point {
	out := make([]geometry.Point, 0, len(coords)/2)
	for i := 0; i+1 < len(coords); i += 2 {
		out = append(out, geometry.Point{X: coords[i], Y: coords[i+1]})
	}
	return out
}

func TestNewSectionValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		build   func() (*Section, error)
		wantErr error
	}{
		{
			name:    "line with one point",
			build:   func() (*Section, error) { return NewLineSection("l", "", pts(0, 0), nil) },
			wantErr: ErrInvalidGeometry,
		},
		{
			name:    "line with repeated point",
			build:   func() (*Section, error) { return NewLineSection("l", "", pts(1, 1, 1, 1), nil) },
			wantErr: ErrInvalidGeometry,
		},
		{
			name:    "area with two points",
			build:   func() (*Section, error) { return NewAreaSection("a", "", pts(0, 0, 5, 5), nil) },
			wantErr: ErrInvalidGeometry,
		},
		{
			name: "offset out of range",
			build: func() (*Section, error) {
				return NewLineSection("l", "", pts(0, 0, 5, 5), Offsets{
					event.TypeSectionCrossing: {X: 1.5, Y: 0.5},
				})
			},
			wantErr: ErrInvalidOffset,
		},
		{
			name:    "empty id",
			build:   func() (*Section, error) { return NewLineSection("", "", pts(0, 0, 5, 5), nil) },
			wantErr: ErrEmptyID,
		},
		{
			name:  "valid line",
			build: func() (*Section, error) { return NewLineSection("l", "North", pts(0, 0, 5, 5), nil) },
		},
		{
			name:  "valid area",
			build: func() (*Section, error) { return NewAreaSection("a", "", pts(0, 0, 5, 0, 5, 5), nil) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := tt.build()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, s)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, s)
		})
	}
}

func TestSectionAccessors(t *testing.T) {
	s, err := NewLineSection("s1", "", pts(0, 0, 10, 5), Offsets{
		event.TypeSectionCrossing: {X: 0.5, Y: 1},
	})
	require.NoError(t, err)

	assert.Equal(t, "s1", s.Name(), "name defaults to id")
	assert.Equal(t, KindLine, s.Kind())
	assert.Equal(t, geometry.RelativeOffset{X: 0.5, Y: 1}, s.Offset(event.TypeSectionCrossing))
	assert.Equal(t, geometry.CenterOffset, s.Offset(event.TypeSectionEnter))
	assert.Equal(t, orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{10, 5}}, s.Bound())
	assert.Len(t, s.Line().Segments(), 1)
}

func newTestRegistry(t *testing.T, flows ...Flow) *Registry {
	t.Helper()
	north, err := NewLineSection("north", "North", pts(0, 0, 100, 0), nil)
	require.NoError(t, err)
	south, err := NewLineSection("south", "South", pts(0, 100, 100, 100), nil)
	require.NoError(t, err)
	plaza, err := NewAreaSection("plaza", "Plaza", pts(500, 500, 600, 500, 600, 600, 500, 600), nil)
	require.NoError(t, err)

	r, err := NewRegistry([]*Section{north, south, plaza}, flows)
	require.NoError(t, err)
	return r
}

func TestRegistryFlows(t *testing.T) {
	r := newTestRegistry(t,
		Flow{ID: "f1", Start: "north", End: "south"},
		Flow{ID: "f2", Name: "Back", Start: "south", End: "north"},
	)

	f, ok := r.FlowFor("north", "south")
	require.True(t, ok)
	assert.Equal(t, "f1", f.ID)
	assert.Equal(t, "North -> South", f.Name, "missing names are generated")

	f, ok = r.Flow("f2")
	require.True(t, ok)
	assert.Equal(t, "Back", f.Name)

	_, ok = r.FlowFor("north", "plaza")
	assert.False(t, ok)
	assert.Len(t, r.Flows(), 2)
}

func TestRegistryValidation(t *testing.T) {
	a, err := NewLineSection("a", "", pts(0, 0, 1, 1), nil)
	require.NoError(t, err)
	b, err := NewLineSection("b", "", pts(2, 2, 3, 3), nil)
	require.NoError(t, err)

	_, err = NewRegistry([]*Section{a, a}, nil)
	assert.ErrorIs(t, err, ErrDuplicateSection)

	_, err = NewRegistry([]*Section{a, b}, []Flow{{ID: "f", Start: "a", End: "missing"}})
	assert.ErrorIs(t, err, ErrUnknownSection)

	_, err = NewRegistry([]*Section{a, b}, []Flow{
		{ID: "f1", Start: "a", End: "b"},
		{ID: "f2", Start: "a", End: "b"},
	})
	assert.ErrorIs(t, err, ErrDuplicateFlow)

	_, err = NewRegistry([]*Section{a, b}, []Flow{
		{ID: "f1", Start: "a", End: "b"},
		{ID: "f1", Start: "b", End: "a"},
	})
	assert.ErrorIs(t, err, ErrDuplicateFlow)

	_, err = NewRegistry([]*Section{a, b}, []Flow{{Start: "a", End: "b"}})
	assert.ErrorIs(t, err, ErrEmptyID)
}

func TestRegistryCandidates(t *testing.T) {
	r := newTestRegistry(t)

	ids := func(ss []*Section) []string {
		out := []string{}
		for _, s := range ss {
			out = append(out, s.ID())
		}
		return out
	}

	// A path spanning both lines but nowhere near the plaza.
	got := r.Candidates(orb.Bound{Min: orb.Point{40, -10}, Max: orb.Point{60, 110}})
	assert.Equal(t, []string{"north", "south"}, ids(got))

	got = r.Candidates(orb.Bound{Min: orb.Point{550, 550}, Max: orb.Point{560, 560}})
	assert.Equal(t, []string{"plaza"}, ids(got))

	assert.Empty(t, r.Candidates(orb.Bound{Min: orb.Point{1000, 1000}, Max: orb.Point{1100, 1100}}))

	empty, err := NewRegistry(nil, nil)
	require.NoError(t, err)
	assert.Empty(t, empty.Candidates(orb.Bound{Max: orb.Point{10, 10}}))
}

func TestRegistryOrder(t *testing.T) {
	r := newTestRegistry(t)
	assert.Equal(t, 0, r.Order("north"))
	assert.Equal(t, 2, r.Order("plaza"))
	assert.Equal(t, 3, r.Order("nowhere"))
}

func TestGenerateFlowNameIsIdempotent(t *testing.T) {
	assert.Equal(t, "A -> B", GenerateFlowName("A", "B"))
	assert.Equal(t, GenerateFlowName("A", "B"), GenerateFlowName("A", "B"))
}
