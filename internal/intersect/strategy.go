package intersect

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/trackcount/internal/event"
	"github.com/banshee-data/trackcount/internal/section"
	"github.com/banshee-data/trackcount/internal/track"
)

// Strategy applies an IntersectFunc to a batch of tracks and concatenates
// the results. Implementations must keep the events of one track together
// and in the order fn returned them.
type Strategy interface {
	Execute(ctx context.Context, fn IntersectFunc, tracks []*track.Track, sections *section.Registry) ([]event.Event, error)
}

// Sequential runs fn on each track in input order.
type Sequential struct{}

// Execute implements Strategy.
func (Sequential) Execute(ctx context.Context, fn IntersectFunc, tracks []*track.Track, sections *section.Registry) ([]event.Event, error) {
	var events []event.Event
	for _, t := range tracks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		events = append(events, fn(t, sections)...)
	}
	return events, nil
}

// Parallel distributes tracks over a bounded pool of goroutines. Results are
// collected per track and concatenated in input order, so the output matches
// Sequential exactly.
type Parallel struct {
	Workers int
}

// NewParallel returns a Parallel strategy. A non-positive worker count uses
// GOMAXPROCS.
func NewParallel(workers int) Parallel {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return Parallel{Workers: workers}
}

// Execute implements Strategy. All goroutines have returned when Execute
// returns.
func (p Parallel) Execute(ctx context.Context, fn IntersectFunc, tracks []*track.Track, sections *section.Registry) ([]event.Event, error) {
	workers := p.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	results := make([][]event.Event, len(tracks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, t := range tracks {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = fn(t, sections)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	total := 0
	for _, r := range results {
		total += len(r)
	}
	events := make([]event.Event, 0, total)
	for _, r := range results {
		events = append(events, r...)
	}
	return events, nil
}
