package counting

import "time"

// Truncate returns the start of the interval containing ts. Intervals are
// laid out from midnight of ts's day in ts's location, so a 15 minute
// interval truncates to the most recent quarter-hour. A non-positive
// interval returns ts unchanged.
func Truncate(ts time.Time, minutes int) time.Time {
	if minutes <= 0 {
		return ts
	}
	day := startOfDay(ts)
	step := time.Duration(minutes) * time.Minute
	return day.Add(ts.Sub(day).Truncate(step))
}

// IntervalEnd returns the exclusive end of the interval starting at start.
// The last interval of a day ends at the following midnight when the
// interval length does not divide the day evenly.
func IntervalEnd(start time.Time, minutes int) time.Time {
	end := start.Add(time.Duration(minutes) * time.Minute)
	if midnight := startOfDay(start).AddDate(0, 0, 1); end.After(midnight) {
		return midnight
	}
	return end
}

func startOfDay(ts time.Time) time.Time {
	y, m, d := ts.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, ts.Location())
}
