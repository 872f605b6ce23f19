package section

// Flow is a directed pairing of two sections describing an origin and
// destination movement.
type Flow struct {
	ID    string
	Name  string
	Start string // start section id
	End   string // end section id

	// Distance is the physical distance between the sections in metres, if
	// known. It is carried for speed estimation and not used by counting.
	Distance *float64
}

// Pair is an ordered (start, end) section pair.
type Pair struct {
	Start string
	End   string
}

// Pair returns the flow's (start, end) section pair.
func (f Flow) Pair() Pair { return Pair{Start: f.Start, End: f.End} }
