// Package db stores analysis results in SQLite.
//
// Every export run gets a row in the runs table and its own uuid; counts and
// events rows reference it. Rows are only ever appended, in the order they
// were exported.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r2"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/trackcount/internal/counting"
	"github.com/banshee-data/trackcount/internal/event"
	"github.com/banshee-data/trackcount/internal/geometry"
	"github.com/banshee-data/trackcount/internal/timeutil"
)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

// Run kinds.
const (
	KindCounts = "counts"
	KindEvents = "events"
)

type DB struct {
	*sql.DB
	clock timeutil.Clock
}

// Option configures a DB.
type Option func(*DB)

// WithClock sets the clock used for run timestamps.
func WithClock(c timeutil.Clock) Option {
	return func(db *DB) {
		if c != nil {
			db.clock = c
		}
	}
}

// OpenDB opens (creating if needed) the SQLite database at path and applies
// the embedded migrations.
func OpenDB(path string, opts ...Option) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	// A single connection keeps PRAGMAs and in-memory databases consistent.
	sqlDB.SetMaxOpenConns(1)

	if _, err := sqlDB.Exec(`PRAGMA foreign_keys = ON; PRAGMA busy_timeout = 5000;`); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to configure %s: %w", path, err)
	}

	db := &DB{DB: sqlDB, clock: timeutil.RealClock{}}
	for _, opt := range opts {
		opt(db)
	}
	if err := db.MigrateUp(MigrationsFS()); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Run is one export run.
type Run struct {
	ID        string
	Kind      string
	CreatedAt time.Time
}

// CreateRun registers a new run of the given kind.
func (db *DB) CreateRun(kind string) (Run, error) {
	run := Run{
		ID:        uuid.NewString(),
		Kind:      kind,
		CreatedAt: db.clock.Now().UTC(),
	}
	_, err := db.Exec(`INSERT INTO runs (run_id, kind, created_unix_nanos) VALUES (?, ?, ?)`,
		run.ID, run.Kind, run.CreatedAt.UnixNano())
	if err != nil {
		return Run{}, fmt.Errorf("failed to create %s run: %w", kind, err)
	}
	return run, nil
}

// Runs lists runs, oldest first.
func (db *DB) Runs() ([]Run, error) {
	rows, err := db.Query(`SELECT run_id, kind, created_unix_nanos FROM runs ORDER BY created_unix_nanos, rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var created int64
		if err := rows.Scan(&r.ID, &r.Kind, &created); err != nil {
			return nil, err
		}
		r.CreatedAt = time.Unix(0, created).UTC()
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Run returns the run with the given id.
func (db *DB) Run(id string) (Run, error) {
	var r Run
	var created int64
	err := db.QueryRow(`SELECT run_id, kind, created_unix_nanos FROM runs WHERE run_id = ?`, id).
		Scan(&r.ID, &r.Kind, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return Run{}, err
	}
	r.CreatedAt = time.Unix(0, created).UTC()
	return r, nil
}

// nextSeq returns the next row sequence number of a run in table.
func nextSeq(tx *sql.Tx, table, runID string) (int64, error) {
	var seq sql.NullInt64
	if err := tx.QueryRow(`SELECT MAX(seq) FROM `+table+` WHERE run_id = ?`, runID).Scan(&seq); err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64 + 1, nil
}

// InsertCounts appends count records to a run in one transaction.
func (db *DB) InsertCounts(runID string, records []counting.CountRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	seq, err := nextSeq(tx, "counts", runID)
	if err != nil {
		return fmt.Errorf("failed to read counts sequence: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO counts (
			run_id, seq, interval_start_nanos, interval_end_nanos, classification, flow_id, flow_name, count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.Exec(runID, seq, r.IntervalStart.UnixNano(), r.IntervalEnd.UnixNano(),
			r.Classification, r.FlowID, r.FlowName, r.Count); err != nil {
			return fmt.Errorf("failed to insert count row: %w", err)
		}
		seq++
	}
	return tx.Commit()
}

// Counts returns a run's count records in insertion order. Interval times
// are reported in UTC.
func (db *DB) Counts(runID string) ([]counting.CountRecord, error) {
	rows, err := db.Query(`SELECT interval_start_nanos, interval_end_nanos, classification, flow_id, flow_name, count
		FROM counts WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query counts: %w", err)
	}
	defer rows.Close()

	var out []counting.CountRecord
	for rows.Next() {
		var r counting.CountRecord
		var start, end int64
		if err := rows.Scan(&start, &end, &r.Classification, &r.FlowID, &r.FlowName, &r.Count); err != nil {
			return nil, err
		}
		r.IntervalStart = time.Unix(0, start).UTC()
		r.IntervalEnd = time.Unix(0, end).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// InsertEvents appends events to a run in one transaction.
func (db *DB) InsertEvents(runID string, events []event.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	seq, err := nextSeq(tx, "events", runID)
	if err != nil {
		return fmt.Errorf("failed to read events sequence: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO events (
			run_id, seq, track_id, section_id, event_type, classification,
			timestamp_nanos, frame, x, y, direction_x, direction_y
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.Exec(runID, seq, e.TrackID, e.SectionID, string(e.Type), e.Classification,
			e.Timestamp.UnixNano(), e.Frame, e.Coordinate.X, e.Coordinate.Y, e.Direction.X, e.Direction.Y); err != nil {
			return fmt.Errorf("failed to insert event row: %w", err)
		}
		seq++
	}
	return tx.Commit()
}

// Events returns a run's events in insertion order.
func (db *DB) Events(runID string) ([]event.Event, error) {
	rows, err := db.Query(`SELECT track_id, section_id, event_type, classification,
			timestamp_nanos, frame, x, y, direction_x, direction_y
		FROM events WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []event.Event
	for rows.Next() {
		var (
			e      event.Event
			typ    string
			ts     int64
			pt     geometry.Point
			dx, dy float64
		)
		if err := rows.Scan(&e.TrackID, &e.SectionID, &typ, &e.Classification,
			&ts, &e.Frame, &pt.X, &pt.Y, &dx, &dy); err != nil {
			return nil, err
		}
		e.Type = event.Type(typ)
		e.Timestamp = time.Unix(0, ts).UTC()
		e.Coordinate = pt
		e.Direction = r2.Vec{X: dx, Y: dy}
		out = append(out, e)
	}
	return out, rows.Err()
}
