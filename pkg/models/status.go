package models

// PathStatus represents the processing status of a site path
type PathStatus string

const (
	PathStatusUnset    PathStatus = ""          // Zero value = unset/unknown
	PathStatusPending  PathStatus = "pending"   // Path seen and queued or in flight
	PathStatusDone     PathStatus = "done"      // Path fetched and saved
	PathStatusFailed   PathStatus = "failed"    // Fetch, resolution or save failed
	PathStatusNotFound PathStatus = "not_found" // Path not in ledger
	PathStatusDBError  PathStatus = "db_error"  // Ledger error occurred
)

// String implements fmt.Stringer for logging
func (s PathStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a known operational value
func (s PathStatus) IsValid() bool {
	switch s {
	case PathStatusPending, PathStatusDone, PathStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is expected for the path in this run.
func (s PathStatus) IsTerminal() bool {
	return s == PathStatusDone || s == PathStatusFailed
}
