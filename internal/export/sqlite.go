package export

import (
	"context"
	"fmt"

	"github.com/banshee-data/trackcount/internal/counting"
	"github.com/banshee-data/trackcount/internal/db"
	"github.com/banshee-data/trackcount/internal/event"
)

// SQLite appends rows to a result database. Every first write opens the
// database and registers a new run; rows of earlier runs in the same file
// are kept.
type SQLite[T any] struct {
	path   string
	kind   string
	insert func(d *db.DB, runID string, rows []T) error
	opts   []db.Option

	db  *db.DB
	run db.Run
}

// NewCountsSQLite creates a SQLite exporter for count records.
func NewCountsSQLite(path string, opts ...db.Option) *SQLite[counting.CountRecord] {
	return &SQLite[counting.CountRecord]{path: path, kind: db.KindCounts, insert: (*db.DB).InsertCounts, opts: opts}
}

// NewEventsSQLite creates a SQLite exporter for events.
func NewEventsSQLite(path string, opts ...db.Option) *SQLite[event.Event] {
	return &SQLite[event.Event]{path: path, kind: db.KindEvents, insert: (*db.DB).InsertEvents, opts: opts}
}

// Path returns the database path.
func (s *SQLite[T]) Path() string { return s.path }

// RunID returns the id of the current or last run, or "" before the first
// write.
func (s *SQLite[T]) RunID() string { return s.run.ID }

// Export implements Exporter.
func (s *SQLite[T]) Export(ctx context.Context, mode Mode, rows []T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if mode.IsFirst() {
		if err := s.Close(); err != nil {
			return err
		}
		d, err := db.OpenDB(s.path, s.opts...)
		if err != nil {
			return err
		}
		run, err := d.CreateRun(s.kind)
		if err != nil {
			d.Close()
			return err
		}
		s.db, s.run = d, run
	} else if s.db == nil {
		return fmt.Errorf("%s write to %s: %w", mode, s.path, ErrSinkNotStarted)
	}

	if err := s.insert(s.db, s.run.ID, rows); err != nil {
		return fmt.Errorf("failed to write %s run %s: %w", s.kind, s.run.ID, err)
	}
	if mode.IsFinal() {
		return s.Close()
	}
	return nil
}

// Close implements Exporter.
func (s *SQLite[T]) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return fmt.Errorf("failed to close %s: %w", s.path, err)
	}
	return nil
}
