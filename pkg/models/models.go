package models

import "time"

// PathEntry stores the outcome for one site path in the status ledger
type PathEntry struct {
	Status      PathStatus `json:"status"`
	RunID       string     `json:"run_id,omitempty"`
	ErrorType   string     `json:"error_type,omitempty"`   // Error category (on failure)
	Error       string     `json:"error,omitempty"`        // Error message (on failure)
	LocalPath   string     `json:"local_path,omitempty"`   // Path relative to the mirror root (on success)
	Bytes       int64      `json:"bytes,omitempty"`        // Bytes written (on success)
	ProcessedAt time.Time  `json:"processed_at,omitempty"` // Timestamp of successful processing
	LastAttempt time.Time  `json:"last_attempt"`
	WorkerID    int        `json:"worker_id,omitempty"`
}

// Progress is a point-in-time view of a crawl's counters
type Progress struct {
	Seen       int     // Site paths ever enqueued
	Queued     int     // Site paths waiting in the queue
	Done       int     // Site paths completed successfully
	Failed     int     // Site paths that failed
	BytesSaved int64   // Bytes written to the mirror
	PerSecond  float64 // Completed items over the last second
}

// InFlight returns the number of paths dequeued but not yet completed.
func (p Progress) InFlight() int {
	return p.Seen - p.Queued - p.Done - p.Failed
}

// RunInfo summarises the most recent crawl recorded in the status ledger
type RunInfo struct {
	RunID      string    `json:"run_id"`
	SiteKey    string    `json:"site_key"`
	SiteURL    string    `json:"site_url"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Seen       int       `json:"seen"`
	Done       int       `json:"done"`
	Failed     int       `json:"failed"`
	Outcome    string    `json:"outcome,omitempty"` // "completed", "cancelled" or "timeout"
}
