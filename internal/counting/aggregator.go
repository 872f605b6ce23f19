// Package counting buckets flow assignments into fixed-length time
// intervals and keeps per-run track statistics.
//
// The Aggregator is built for chunked runs. Each chunk of assignments is
// added, then intervals that can no longer receive tracks are sealed and
// released. Released records are never revisited, so a caller writing them
// out with merge semantics never rewrites a row.
package counting

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/banshee-data/trackcount/internal/flow"
)

// UnassignedFlow is the flow name used for tracks that crossed a section but
// matched no flow.
const UnassignedFlow = "unassigned"

var (
	// ErrChunkTooLarge is returned when a batch holds more distinct tracks
	// than the configured chunk size.
	ErrChunkTooLarge = errors.New("chunk exceeds configured size")
	// ErrIntervalSealed is returned when a track falls into an interval that
	// was already released.
	ErrIntervalSealed = errors.New("interval already sealed")
	// ErrInvalidInterval is returned for non-positive interval lengths.
	ErrInvalidInterval = errors.New("interval length must be positive")
)

// CountRecord is one row of the count table.
type CountRecord struct {
	IntervalStart  time.Time
	IntervalEnd    time.Time
	Classification string
	FlowID         string // empty for unassigned tracks
	FlowName       string // UnassignedFlow for unassigned tracks
	Count          int
}

// Less orders records by interval start, classification and flow name.
func (r CountRecord) Less(o CountRecord) bool {
	if !r.IntervalStart.Equal(o.IntervalStart) {
		return r.IntervalStart.Before(o.IntervalStart)
	}
	if r.Classification != o.Classification {
		return r.Classification < o.Classification
	}
	if r.FlowName != o.FlowName {
		return r.FlowName < o.FlowName
	}
	return r.FlowID < o.FlowID
}

// SortRecords sorts records in table order.
func SortRecords(records []CountRecord) {
	sort.SliceStable(records, func(i, j int) bool { return records[i].Less(records[j]) })
}

type bucketKey struct {
	start          int64 // interval start, unix nanoseconds
	classification string
	flowID         string
	flowName       string
}

// Options configure an Aggregator.
type Options struct {
	// Start and End bound the counting window [Start, End). A zero value
	// leaves that side open.
	Start time.Time
	End   time.Time

	// IntervalMinutes is the bucket length.
	IntervalMinutes int

	// ChunkSize caps the distinct tracks accepted per Add. Zero disables
	// the cap.
	ChunkSize int

	// Location is the zone intervals are laid out in. Nil follows the
	// window bounds, falling back to UTC.
	Location *time.Location
}

// Aggregator accumulates counts for one run. It is not safe for concurrent
// use.
type Aggregator struct {
	opts    Options
	buckets map[bucketKey]*CountRecord

	sealed    bool
	watermark time.Time
}

// NewAggregator validates opts and returns an empty aggregator.
func NewAggregator(opts Options) (*Aggregator, error) {
	if opts.IntervalMinutes <= 0 {
		return nil, fmt.Errorf("counting: %w: %d", ErrInvalidInterval, opts.IntervalMinutes)
	}
	if opts.ChunkSize < 0 {
		return nil, fmt.Errorf("counting: chunk size must not be negative: %d", opts.ChunkSize)
	}
	return &Aggregator{
		opts:    opts,
		buckets: make(map[bucketKey]*CountRecord),
	}, nil
}

// Options returns the aggregator's configuration.
func (a *Aggregator) Options() Options { return a.opts }

// InWindow reports whether ts falls in the counting window.
func (a *Aggregator) InWindow(ts time.Time) bool {
	if !a.opts.Start.IsZero() && ts.Before(a.opts.Start) {
		return false
	}
	if !a.opts.End.IsZero() && !ts.Before(a.opts.End) {
		return false
	}
	return true
}

// Add counts a batch of assignments. Each track contributes at most once.
// Tracks that crossed no section, or whose canonical time lies outside the
// window, are not counted. The batch is rejected as a whole if it is larger
// than the chunk size or touches a sealed interval.
func (a *Aggregator) Add(assignments []flow.Assignment) error {
	seen := make(map[string]struct{}, len(assignments))
	for _, as := range assignments {
		seen[as.TrackID] = struct{}{}
	}
	if a.opts.ChunkSize > 0 && len(seen) > a.opts.ChunkSize {
		return fmt.Errorf("counting: %w: %d tracks, limit %d", ErrChunkTooLarge, len(seen), a.opts.ChunkSize)
	}

	keys := make([]bucketKey, 0, len(assignments))
	for _, as := range assignments {
		if _, ok := seen[as.TrackID]; !ok {
			continue
		}
		delete(seen, as.TrackID)

		key, ok := a.keyFor(as)
		if !ok {
			continue
		}
		if a.sealed {
			end := IntervalEnd(time.Unix(0, key.start).In(a.location()), a.opts.IntervalMinutes)
			if !end.After(a.watermark) {
				return fmt.Errorf("counting: track %s at %s: %w (watermark %s)",
					as.TrackID, as.CanonicalTime.Format(time.RFC3339), ErrIntervalSealed, a.watermark.Format(time.RFC3339))
			}
		}
		keys = append(keys, key)
	}

	for _, key := range keys {
		rec, ok := a.buckets[key]
		if !ok {
			start := time.Unix(0, key.start)
			rec = &CountRecord{
				IntervalStart:  start,
				Classification: key.classification,
				FlowID:         key.flowID,
				FlowName:       key.flowName,
			}
			a.buckets[key] = rec
		}
		rec.Count++
	}
	return nil
}

func (a *Aggregator) keyFor(as flow.Assignment) (bucketKey, bool) {
	if as.Outcome == flow.NotIntersecting || !a.InWindow(as.CanonicalTime) {
		return bucketKey{}, false
	}
	key := bucketKey{
		start:          Truncate(as.CanonicalTime.In(a.location()), a.opts.IntervalMinutes).UnixNano(),
		classification: as.Classification,
		flowName:       UnassignedFlow,
	}
	if as.Outcome == flow.Assigned {
		key.flowID = as.Flow.ID
		key.flowName = as.Flow.Name
	}
	return key, true
}

// Seal releases every record whose interval ends at or before watermark, in
// table order, and rejects later additions to those intervals. The caller
// promises that no later track has a canonical time before watermark.
func (a *Aggregator) Seal(watermark time.Time) []CountRecord {
	if !a.sealed || watermark.After(a.watermark) {
		a.watermark = watermark
		a.sealed = true
	}
	return a.release(func(end time.Time) bool { return !end.After(watermark) })
}

// Drain releases every remaining record in table order.
func (a *Aggregator) Drain() []CountRecord {
	return a.release(func(time.Time) bool { return true })
}

// Pending returns the number of records not yet released.
func (a *Aggregator) Pending() int { return len(a.buckets) }

func (a *Aggregator) release(ready func(end time.Time) bool) []CountRecord {
	var out []CountRecord
	loc := a.location()
	for key, rec := range a.buckets {
		start := rec.IntervalStart.In(loc)
		end := IntervalEnd(start, a.opts.IntervalMinutes)
		if !ready(end) {
			continue
		}
		r := *rec
		r.IntervalStart = start
		r.IntervalEnd = end
		out = append(out, r)
		delete(a.buckets, key)
	}
	SortRecords(out)
	return out
}

// location is the zone intervals are laid out and reported in.
func (a *Aggregator) location() *time.Location {
	switch {
	case a.opts.Location != nil:
		return a.opts.Location
	case !a.opts.Start.IsZero():
		return a.opts.Start.Location()
	case !a.opts.End.IsZero():
		return a.opts.End.Location()
	default:
		return time.UTC
	}
}
