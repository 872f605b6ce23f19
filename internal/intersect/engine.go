package intersect

import (
	"context"
	"fmt"

	"github.com/banshee-data/trackcount/internal/event"
	"github.com/banshee-data/trackcount/internal/section"
	"github.com/banshee-data/trackcount/internal/track"
)

// Engine computes events for batches of tracks against a fixed registry.
type Engine struct {
	sections *section.Registry
	strategy Strategy
	fn       IntersectFunc
}

// Option configures an Engine.
type Option func(*Engine)

// WithStrategy selects how tracks are scheduled. nil keeps Sequential.
func WithStrategy(s Strategy) Option {
	return func(e *Engine) {
		if s != nil {
			e.strategy = s
		}
	}
}

// WithIntersectFunc replaces the per-track computation.
func WithIntersectFunc(fn IntersectFunc) Option {
	return func(e *Engine) {
		if fn != nil {
			e.fn = fn
		}
	}
}

// NewEngine returns an engine over sections. By default it runs
// IntersectTrack sequentially.
func NewEngine(sections *section.Registry, opts ...Option) (*Engine, error) {
	if sections == nil {
		return nil, fmt.Errorf("intersect: nil section registry")
	}
	e := &Engine{
		sections: sections,
		strategy: Sequential{},
		fn:       IntersectTrack,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Sections returns the registry the engine intersects against.
func (e *Engine) Sections() *section.Registry { return e.sections }

// Strategy returns the configured scheduling strategy.
func (e *Engine) Strategy() Strategy { return e.strategy }

// Run computes the events of all tracks. An empty registry or an empty batch
// yields no events and no error.
func (e *Engine) Run(ctx context.Context, tracks []*track.Track) ([]event.Event, error) {
	if len(tracks) == 0 || len(e.sections.Sections()) == 0 {
		return nil, nil
	}
	events, err := e.strategy.Execute(ctx, e.fn, tracks, e.sections)
	if err != nil {
		return nil, fmt.Errorf("intersect %d tracks: %w", len(tracks), err)
	}
	return events, nil
}
