package analysis

import (
	"fmt"
	"time"

	"github.com/banshee-data/trackcount/internal/counting"
	"github.com/banshee-data/trackcount/internal/event"
	"github.com/banshee-data/trackcount/internal/export"
	"github.com/banshee-data/trackcount/internal/monitoring"
)

// Kind names the output a run produces.
type Kind string

const (
	KindCounts     Kind = "counts"
	KindEvents     Kind = "events"
	KindTracks     Kind = "tracks"
	KindStatistics Kind = "statistics"
)

// Progress describes one finished chunk.
type Progress struct {
	Kind   Kind
	Chunk int // 0-based
	// Chunks is the number of chunks in the run. Tracks are streamed, so it
	// is only known on the final chunk and zero before.
	Chunks int
	Mode   export.Mode

	Tracks int                // tracks in the chunk
	Events map[event.Type]int // events generated, by type; nil for track exports
	Rows   int                // rows handed to the exporter

	// Stats holds the chunk's assignment outcomes for counting and
	// statistics runs.
	Stats *counting.Statistics

	Duration time.Duration
	Err      error // export failure of this chunk, if any
}

// Observer is notified after every chunk of a run.
//
// ChunkDone is called synchronously on the goroutine running the analysis,
// once per chunk in chunk order, never concurrently. The run does not
// continue until it returns. Observers must not retain Progress.Events or
// Progress.Stats beyond the call.
type Observer interface {
	ChunkDone(p Progress)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(p Progress)

// ChunkDone implements Observer.
func (f ObserverFunc) ChunkDone(p Progress) { f(p) }

var logf = monitoring.Component("analysis")

// LogObserver logs every chunk through the monitoring logger.
type LogObserver struct{}

// ChunkDone implements Observer.
func (LogObserver) ChunkDone(p Progress) {
	position := fmt.Sprintf("%d", p.Chunk+1)
	if p.Chunks > 0 {
		position = fmt.Sprintf("%d/%d", p.Chunk+1, p.Chunks)
	}
	if p.Err != nil {
		logf("%s chunk %s (%s): %d tracks, %d rows in %v, export failed: %v",
			p.Kind, position, p.Mode, p.Tracks, p.Rows, p.Duration, p.Err)
		return
	}
	logf("%s chunk %s (%s): %d tracks, %d rows in %v",
		p.Kind, position, p.Mode, p.Tracks, p.Rows, p.Duration)
}
