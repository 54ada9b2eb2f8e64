package storage

import (
	"context"
	"io"
	"time"

	"github.com/Sriram-PR/site-mirror/pkg/models"
)

// StatusRecorder receives path state changes from the crawl engine
type StatusRecorder interface {
	// MarkPathSeen records a newly discovered path as pending for runID.
	// Returns true if the path was newly added, false if it already existed
	MarkPathSeen(sitePath, runID string) (bool, error)

	// RecordStatus stores the outcome for a path, overwriting any previous entry
	RecordStatus(sitePath string, entry *models.PathEntry) error
}

// StatusReader answers questions about a finished or running crawl
type StatusReader interface {
	// CheckPathStatus retrieves the status and details of a path
	// Returns status (done, failed, pending, not_found, db_error), the entry if found and parsed, and any error
	CheckPathStatus(sitePath string) (status models.PathStatus, entry *models.PathEntry, err error)

	// ListByStatus returns every path with the given status, in key order
	ListByStatus(ctx context.Context, status models.PathStatus) ([]PathRecord, error)

	// GetRunInfo returns the last recorded run summary, or nil if none was recorded
	GetRunInfo() (*models.RunInfo, error)
}

// StoreAdmin handles lifecycle and administrative operations
type StoreAdmin interface {
	// GetCount returns the number of paths in the ledger
	GetCount() int

	// RecordRunInfo stores the run summary
	RecordRunInfo(info *models.RunInfo) error

	// WriteStatusLog writes every path with its status as TSV to w
	WriteStatusLog(ctx context.Context, w io.Writer) (int, error)

	// RunGC runs periodic garbage collection. Should be run in a goroutine
	RunGC(ctx context.Context, interval time.Duration)

	// Close cleanly closes the database connection
	Close() error
}

// LedgerStore combines all store interfaces for components that need full access
type LedgerStore interface {
	StatusRecorder
	StatusReader
	StoreAdmin
}

// PathRecord pairs a site path with its ledger entry
type PathRecord struct {
	Path  string
	Entry models.PathEntry
}
