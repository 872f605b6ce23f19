package export

import (
	"context"
	"strings"

	"go.uber.org/multierr"
)

// Failure is the error of a single named exporter.
type Failure struct {
	Exporter string
	Err      error
}

func (f *Failure) Error() string { return f.Exporter + ": " + f.Err.Error() }

func (f *Failure) Unwrap() error { return f.Err }

// Error collects every failure of one Multi operation.
type Error struct {
	Op   string
	Errs []error
}

func (e *Error) Error() string {
	return e.Op + " failed: " + strings.Join(FlattenMessages(e), "; ")
}

func (e *Error) Unwrap() []error { return e.Errs }

// FlattenMessages turns a possibly nested error batch into one message per
// leaf failure. Failure names prefix the messages beneath them.
func FlattenMessages(err error) []string {
	if err == nil {
		return nil
	}
	if f, ok := err.(*Failure); ok {
		children := FlattenMessages(f.Err)
		for i, msg := range children {
			children[i] = f.Exporter + ": " + msg
		}
		return children
	}
	if batch, ok := err.(interface{ Unwrap() []error }); ok {
		var msgs []string
		for _, child := range batch.Unwrap() {
			msgs = append(msgs, FlattenMessages(child)...)
		}
		return msgs
	}
	return []string{err.Error()}
}

// Named pairs an exporter with the name used in failure messages.
type Named[T any] struct {
	Name     string
	Exporter Exporter[T]
}

// Multi dispatches every write to all its exporters. A failing exporter
// never stops the others; all failures come back together as an *Error.
// An exporter that failed is skipped for the rest of its run, since its
// sink no longer holds a consistent prefix of the output.
type Multi[T any] struct {
	exporters []Named[T]
	failed    []bool
}

// NewMulti creates a Multi over exporters, in dispatch order.
func NewMulti[T any](exporters ...Named[T]) *Multi[T] {
	return &Multi[T]{exporters: exporters, failed: make([]bool, len(exporters))}
}

// Failed returns the names of the exporters that failed in the current run.
func (m *Multi[T]) Failed() []string {
	var names []string
	for i, e := range m.exporters {
		if m.failed[i] {
			names = append(names, e.Name)
		}
	}
	return names
}

// Len returns the number of exporters.
func (m *Multi[T]) Len() int { return len(m.exporters) }

// Names returns the exporter names in dispatch order.
func (m *Multi[T]) Names() []string {
	names := make([]string, len(m.exporters))
	for i, e := range m.exporters {
		names[i] = e.Name
	}
	return names
}

// Export writes rows to every exporter.
func (m *Multi[T]) Export(ctx context.Context, mode Mode, rows []T) error {
	if mode.IsFirst() {
		clear(m.failed)
	}
	var errs error
	for i, e := range m.exporters {
		if m.failed[i] {
			continue
		}
		if err := e.Exporter.Export(ctx, mode, rows); err != nil {
			m.failed[i] = true
			errs = multierr.Append(errs, &Failure{Exporter: e.Name, Err: err})
		}
	}
	return batch("export "+mode.String(), errs)
}

// Close closes every exporter.
func (m *Multi[T]) Close() error {
	var errs error
	for _, e := range m.exporters {
		if err := e.Exporter.Close(); err != nil {
			errs = multierr.Append(errs, &Failure{Exporter: e.Name, Err: err})
		}
	}
	return batch("close", errs)
}

func batch(op string, errs error) error {
	if errs == nil {
		return nil
	}
	return &Error{Op: op, Errs: multierr.Errors(errs)}
}
