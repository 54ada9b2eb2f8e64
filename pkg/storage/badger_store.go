package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/site-mirror/pkg/log"
	"github.com/Sriram-PR/site-mirror/pkg/models"
	"github.com/Sriram-PR/site-mirror/pkg/utils"
)

const (
	pathKeyPrefix = "path:"     // Prefix for site path keys in DB
	runInfoKey    = "meta:run"  // Single key holding the last RunInfo
	ledgerDBDir   = "ledger_db" // Subdirectory name within stateDir for Badger DB files
)

// ErrStoreClosed is returned when the ledger is used after Close
var ErrStoreClosed = errors.New("status ledger not open")

// BadgerStore implements the LedgerStore interface using BadgerDB
type BadgerStore struct {
	db       *badger.DB
	log      *logrus.Entry
	keyCount atomic.Int64 // Cached path count for O(1) GetCount
}

// LedgerPath returns the directory holding the ledger for siteKey under stateDir
func LedgerPath(stateDir, siteKey string) string {
	return filepath.Join(stateDir, utils.SanitizeFilename(siteKey)+"_"+ledgerDBDir)
}

// NewBadgerStore opens the ledger for siteKey. With fresh set, any ledger from a previous run is removed first.
func NewBadgerStore(stateDir, siteKey string, fresh bool, logger *logrus.Entry) (*BadgerStore, error) {
	store := &BadgerStore{log: logger}
	dbPath := LedgerPath(stateDir, siteKey)

	if fresh {
		logger.Infof("Removing status ledger from previous run: %s", dbPath)
		if err := os.RemoveAll(dbPath); err != nil {
			logger.Errorf("Failed to remove existing ledger directory %s: %v", dbPath, err)
		}
	}

	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("%w: cannot create ledger directory %s: %w", utils.ErrFilesystem, dbPath, err)
	}

	opts := badger.DefaultOptions(dbPath).
		WithLogger(log.NewBadgerLogger(logger)).
		WithNumVersionsToKeep(1)

	var err error
	store.db, err = badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open badger database at %s: %w", utils.ErrDatabase, dbPath, err)
	}

	if !fresh {
		count, err := store.countKeys()
		if err != nil {
			logger.Warnf("Failed to count existing ledger keys: %v", err)
		} else {
			store.keyCount.Store(int64(count))
		}
	}

	logger.WithField("ledger", dbPath).Debugf("Status ledger opened (%d existing paths)", store.keyCount.Load())
	return store, nil
}

// countKeys performs a one-time full scan of path keys
func (s *BadgerStore) countKeys() (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(pathKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

func (s *BadgerStore) open() bool {
	return s.db != nil && !s.db.IsClosed()
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction conflicts.
// Concurrent MVCC transactions on overlapping keys can return badger.ErrConflict;
// these resolve in microseconds, so a tight retry loop is sufficient.
func (s *BadgerStore) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

// MarkPathSeen implements the StatusRecorder interface
func (s *BadgerStore) MarkPathSeen(sitePath, runID string) (bool, error) {
	if !s.open() {
		return false, fmt.Errorf("%w: %w", utils.ErrDatabase, ErrStoreClosed)
	}
	key := []byte(pathKeyPrefix + sitePath)
	val, err := json.Marshal(models.PathEntry{Status: models.PathStatusPending, RunID: runID, LastAttempt: time.Now()})
	if err != nil {
		return false, fmt.Errorf("%w: marshal pending entry for '%s': %w", utils.ErrParsing, sitePath, err)
	}

	added := false
	err = s.dbUpdate(func(txn *badger.Txn) error {
		added = false
		_, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			if errSet := txn.SetEntry(badger.NewEntry(key, val)); errSet != nil {
				return errSet
			}
			added = true
			return nil
		}
		return errGet // nil if key exists
	})
	if err != nil {
		s.log.WithField("key", string(key)).Errorf("DB Update error in MarkPathSeen: %v", err)
		return false, fmt.Errorf("%w: marking path key '%s': %w", utils.ErrDatabase, string(key), err)
	}
	if added {
		s.keyCount.Add(1)
	}
	return added, nil
}

// RecordStatus implements the StatusRecorder interface
func (s *BadgerStore) RecordStatus(sitePath string, entry *models.PathEntry) error {
	if !s.open() {
		return fmt.Errorf("%w: %w", utils.ErrDatabase, ErrStoreClosed)
	}
	key := []byte(pathKeyPrefix + sitePath)

	entryBytes, errJSON := json.Marshal(entry)
	if errJSON != nil {
		return fmt.Errorf("%w: failed to marshal PathEntry for key '%s': %w", utils.ErrParsing, string(key), errJSON)
	}

	isNew := false
	err := s.dbUpdate(func(txn *badger.Txn) error {
		_, errGet := txn.Get(key)
		isNew = errors.Is(errGet, badger.ErrKeyNotFound)
		return txn.SetEntry(badger.NewEntry(key, entryBytes))
	})
	if err != nil {
		s.log.WithField("key", string(key)).Errorf("DB Update error in RecordStatus: %v", err)
		return fmt.Errorf("%w: failed setting path status for key '%s': %w", utils.ErrDatabase, string(key), err)
	}
	if isNew {
		s.keyCount.Add(1)
	}
	return nil
}

// CheckPathStatus implements the StatusReader interface
func (s *BadgerStore) CheckPathStatus(sitePath string) (models.PathStatus, *models.PathEntry, error) {
	if !s.open() {
		return models.PathStatusDBError, nil, fmt.Errorf("%w: %w", utils.ErrDatabase, ErrStoreClosed)
	}
	status := models.PathStatusNotFound
	var entry *models.PathEntry
	key := []byte(pathKeyPrefix + sitePath)

	errView := s.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return nil
		}
		if errGet != nil {
			return fmt.Errorf("%w: failed getting path key '%s': %w", utils.ErrDatabase, string(key), errGet)
		}
		return item.Value(func(val []byte) error {
			var decoded models.PathEntry
			if errJSON := json.Unmarshal(val, &decoded); errJSON != nil || !decoded.Status.IsValid() {
				s.log.Warnf("Unreadable PathEntry for key '%s' (%v). Treating as 'pending'.", string(key), errJSON)
				status = models.PathStatusPending
				return nil
			}
			entry = &decoded
			status = decoded.Status
			return nil
		})
	})
	if errView != nil {
		s.log.Errorf("DB View error in CheckPathStatus for key '%s': %v", string(key), errView)
		return models.PathStatusDBError, nil, errView
	}
	return status, entry, nil
}

// scan calls fn for every path entry in key order until fn returns false or ctx is done.
func (s *BadgerStore) scan(ctx context.Context, fn func(path string, entry models.PathEntry) bool) error {
	if !s.open() {
		return fmt.Errorf("%w: %w", utils.ErrDatabase, ErrStoreClosed)
	}
	prefix := []byte(pathKeyPrefix)
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			path := string(item.Key()[len(prefix):])

			var entry models.PathEntry
			errValue := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if errValue != nil {
				s.log.Warnf("Skipping unreadable ledger entry '%s': %v", path, errValue)
				continue
			}
			if !fn(path, entry) {
				return nil
			}
		}
		return nil
	})
}

// ListByStatus implements the StatusReader interface
func (s *BadgerStore) ListByStatus(ctx context.Context, status models.PathStatus) ([]PathRecord, error) {
	var records []PathRecord
	err := s.scan(ctx, func(path string, entry models.PathEntry) bool {
		if entry.Status == status {
			records = append(records, PathRecord{Path: path, Entry: entry})
		}
		return true
	})
	if err != nil {
		return records, fmt.Errorf("%w: listing '%s' paths: %w", utils.ErrDatabase, status, err)
	}
	return records, nil
}

// RecordRunInfo implements the StoreAdmin interface
func (s *BadgerStore) RecordRunInfo(info *models.RunInfo) error {
	if !s.open() {
		return fmt.Errorf("%w: %w", utils.ErrDatabase, ErrStoreClosed)
	}
	val, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("%w: marshal run info: %w", utils.ErrParsing, err)
	}
	if err := s.dbUpdate(func(txn *badger.Txn) error {
		return txn.Set([]byte(runInfoKey), val)
	}); err != nil {
		return fmt.Errorf("%w: storing run info: %w", utils.ErrDatabase, err)
	}
	return nil
}

// GetRunInfo implements the StatusReader interface
func (s *BadgerStore) GetRunInfo() (*models.RunInfo, error) {
	if !s.open() {
		return nil, fmt.Errorf("%w: %w", utils.ErrDatabase, ErrStoreClosed)
	}
	var info *models.RunInfo
	err := s.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get([]byte(runInfoKey))
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return nil
		}
		if errGet != nil {
			return errGet
		}
		return item.Value(func(val []byte) error {
			info = &models.RunInfo{}
			return json.Unmarshal(val, info)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: reading run info: %w", utils.ErrDatabase, err)
	}
	return info, nil
}

// GetCount implements the StoreAdmin interface.
// Returns the cached path count maintained by atomic increments on writes.
func (s *BadgerStore) GetCount() int {
	return int(s.keyCount.Load())
}

// WriteStatusLog implements the StoreAdmin interface.
// Each line is: path, status, error category, local path.
func (s *BadgerStore) WriteStatusLog(ctx context.Context, w io.Writer) (int, error) {
	bw := bufio.NewWriter(w)
	written := 0
	var writeErr error

	if _, err := bw.WriteString("path\tstatus\terror_type\tlocal_path\n"); err != nil {
		return 0, fmt.Errorf("%w: writing status log header: %w", utils.ErrFilesystem, err)
	}

	scanErr := s.scan(ctx, func(path string, entry models.PathEntry) bool {
		line := strings.Join([]string{path, entry.Status.String(), entry.ErrorType, entry.LocalPath}, "\t")
		if _, err := bw.WriteString(line + "\n"); err != nil {
			writeErr = err
			return false
		}
		written++
		if written%5000 == 0 {
			if err := bw.Flush(); err != nil {
				writeErr = err
				return false
			}
		}
		return true
	})

	if flushErr := bw.Flush(); flushErr != nil && writeErr == nil {
		writeErr = flushErr
	}
	if scanErr != nil {
		return written, scanErr
	}
	if writeErr != nil {
		return written, fmt.Errorf("%w: writing status log: %w", utils.ErrFilesystem, writeErr)
	}
	s.log.Infof("Wrote %d paths to status log", written)
	return written, nil
}

// RunGC runs BadgerDB's garbage collection periodically
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !s.open() {
				s.log.Debug("DB GC: Database is closed, stopping GC goroutine.")
				return
			}
			var err error
			// Loop GC until it returns ErrNoRewrite or another error
			for err == nil {
				err = s.db.RunValueLogGC(0.5)
			}
			if !errors.Is(err, badger.ErrNoRewrite) {
				s.log.Errorf("BadgerDB GC error: %v", err)
			}

		case <-ctx.Done():
			s.log.Debugf("Stopping BadgerDB garbage collection goroutine: %v", ctx.Err())
			return
		}
	}
}

// Close implements the StoreAdmin interface
func (s *BadgerStore) Close() error {
	if !s.open() {
		return nil
	}
	if err := s.db.Close(); err != nil {
		s.log.Errorf("Error closing status ledger: %v", err)
		return fmt.Errorf("%w: closing ledger: %w", utils.ErrDatabase, err)
	}
	s.log.Debug("Status ledger closed.")
	return nil
}
