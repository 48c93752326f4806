package sync

// Stats counts what a conversion or apply pass did.  It is an explicit
// result value returned by every conversion call, never shared state.
type Stats struct {
	Inserts int `json:"inserts"`
	Deletes int `json:"deletes"`
	// Skipped counts malformed input items that were logged and dropped.
	Skipped int `json:"skipped"`
}

// Add accumulates other into s and returns the sum.
func (s Stats) Add(other Stats) Stats {
	s.Inserts += other.Inserts
	s.Deletes += other.Deletes
	s.Skipped += other.Skipped
	return s
}
