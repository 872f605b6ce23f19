package export

import (
	"context"
	"errors"
)

// ErrSinkNotStarted is returned when a Merge or Flush write reaches an
// exporter that never saw a first write.
var ErrSinkNotStarted = errors.New("export sink not started")

// Exporter writes rows of one data kind to one sink.
//
// A run calls Export once per chunk with the Mode from Create. Sinks stay
// open between the first and final write. Close releases the sink on every
// exit path and is safe to call more than once or after a final write.
type Exporter[T any] interface {
	Export(ctx context.Context, mode Mode, rows []T) error
	Close() error
}
