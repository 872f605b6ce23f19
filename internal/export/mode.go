// Package export writes analysis results to files.
//
// Every export run is a sequence of chunks. The Mode of each write is
// derived from the chunk position: a single chunk is written with
// Overwrite, several chunks with InitialMerge, Merge* and Flush. Exporters
// truncate on the first write, append afterwards and finalise on the last,
// so rows already written are never rewritten.
package export

import "fmt"

// Mode is the write phase of one Export call.
type Mode int

const (
	// Overwrite is the only write of a run: truncate, write, finalise.
	Overwrite Mode = iota
	// InitialMerge is the first of several writes: truncate, write, keep open.
	InitialMerge
	// Merge is a middle write: append.
	Merge
	// Flush is the last of several writes: append, finalise.
	Flush
)

// Create derives the Mode from the position of a write.
func Create(isFirst, isFinal bool) Mode {
	switch {
	case isFirst && isFinal:
		return Overwrite
	case isFirst:
		return InitialMerge
	case isFinal:
		return Flush
	default:
		return Merge
	}
}

// IsFirst reports whether the write starts a new output.
func (m Mode) IsFirst() bool { return m == Overwrite || m == InitialMerge }

// IsFinal reports whether the write finalises the output.
func (m Mode) IsFinal() bool { return m == Overwrite || m == Flush }

func (m Mode) String() string {
	switch m {
	case Overwrite:
		return "OVERWRITE"
	case InitialMerge:
		return "INITIAL_MERGE"
	case Merge:
		return "MERGE"
	case Flush:
		return "FLUSH"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}
