// Package crawler drives the concurrent mirroring of one site: a shared frontier of Site Paths,
// a pool of workers that fetch, scan and save them, and progress reporting.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/paulbellamy/ratecounter"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/site-mirror/pkg/links"
	"github.com/Sriram-PR/site-mirror/pkg/models"
	"github.com/Sriram-PR/site-mirror/pkg/queue"
	"github.com/Sriram-PR/site-mirror/pkg/sitepath"
	"github.com/Sriram-PR/site-mirror/pkg/storage"
	"github.com/Sriram-PR/site-mirror/pkg/utils"
)

// ErrAlreadyProcessed is returned by ProcessOne for a path that already reached done or failed.
var ErrAlreadyProcessed = errors.New("path already processed")

// ErrInFlight is returned by ProcessOne for a path a worker is currently processing.
var ErrInFlight = errors.New("path is being processed")

const (
	DefaultSeedPath       = "index.html"
	DefaultIdleRetryDelay = 100 * time.Millisecond
)

// Capability fetches Site Paths and persists them to the mirror.
// Implementations must be safe for concurrent calls with distinct paths.
type Capability interface {
	CanParseAsText(path string) bool
	FetchText(ctx context.Context, path string) (string, error)
	FetchBinary(ctx context.Context, path string) ([]byte, error)
	SaveText(path, text string) error
	SaveBinary(path string, data []byte) error
}

// Options configures an Engine. Zero values select the defaults.
type Options struct {
	SeedPath       string
	IdleRetryDelay time.Duration
	Policy         sitepath.Policy
	Recorder       storage.StatusRecorder // Optional ledger of path outcomes
	RunID          string                 // Generated when empty
}

// Engine owns the frontier for one crawl run and the capability used to process it
type Engine struct {
	capability     Capability
	policy         sitepath.Policy
	frontier       *queue.Frontier
	recorder       storage.StatusRecorder
	seedPath       string
	idleRetryDelay time.Duration
	runID          string
	log            *logrus.Entry

	bytesSaved atomic.Int64
	completed  *ratecounter.RateCounter
}

// NewEngine creates an engine with an empty frontier
func NewEngine(capability Capability, opts Options, log *logrus.Entry) *Engine {
	if opts.SeedPath == "" {
		opts.SeedPath = DefaultSeedPath
	}
	if opts.IdleRetryDelay <= 0 {
		opts.IdleRetryDelay = DefaultIdleRetryDelay
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if opts.Policy.VersionSuffix == "" && len(opts.Policy.TextExtensions) == 0 && len(opts.Policy.BinaryExtensions) == 0 {
		opts.Policy = sitepath.DefaultPolicy()
	}

	engineLog := log.WithField("run_id", opts.RunID)
	return &Engine{
		capability:     capability,
		policy:         opts.Policy,
		frontier:       queue.NewFrontier(engineLog),
		recorder:       opts.Recorder,
		seedPath:       opts.SeedPath,
		idleRetryDelay: opts.IdleRetryDelay,
		runID:          opts.RunID,
		log:            engineLog,
		completed:      ratecounter.NewRateCounter(time.Second),
	}
}

// RunID returns the identifier attached to this run's log lines and ledger entries
func (e *Engine) RunID() string { return e.runID }

// Status returns the current status of a Site Path
func (e *Engine) Status(path string) models.PathStatus { return e.frontier.Status(path) }

// Snapshot returns a copy of every seen Site Path with its status
func (e *Engine) Snapshot() map[string]models.PathStatus { return e.frontier.Snapshot() }

// Seed claims the seed path, processes it synchronously and returns the number of paths it queued.
// Calling Seed again, or after workers have started, only reports the current queue depth.
func (e *Engine) Seed(ctx context.Context) (int, error) {
	if !e.frontier.Claim(e.seedPath) {
		return e.frontier.Len(), nil
	}
	e.markSeen(e.seedPath)

	err := e.processOne(ctx, e.seedPath, e.log.WithField("worker_id", 0), 0)
	depth := e.frontier.Len()
	e.log.Infof("Seeded from %s: found %d initial files", e.seedPath, depth)
	return depth, err
}

// ProcessOne fetches path, enqueues newly discovered links if it is text, and saves it.
// An unseen path is claimed first and a queued path is taken out of the queue, so no worker
// processes it again. A path that is done, failed or held by a worker is rejected.
func (e *Engine) ProcessOne(ctx context.Context, path string) error {
	switch {
	case e.frontier.Claim(path):
		e.markSeen(path)
	case e.frontier.Status(path).IsTerminal():
		return fmt.Errorf("%w: '%s'", ErrAlreadyProcessed, path)
	case !e.frontier.Withdraw(path):
		return fmt.Errorf("%w: '%s'", ErrInFlight, path)
	}
	return e.processOne(ctx, path, e.log.WithField("worker_id", 0), 0)
}

// processOne runs one Work Item to completion and records done or failed exactly once.
func (e *Engine) processOne(ctx context.Context, path string, workerLog *logrus.Entry, workerID int) (taskErr error) {
	taskLog := workerLog.WithField("path", path)
	startTime := time.Now()
	var savedPath string
	var savedBytes int

	defer func() {
		if r := recover(); r != nil {
			taskErr = fmt.Errorf("panic: %v", r)
			taskLog.WithFields(logrus.Fields{
				"panic_info":  r,
				"stack_trace": string(debug.Stack()),
			}).Error("PANIC recovered while processing path")
		}
		e.complete(path, taskErr, savedPath, savedBytes, workerID, taskLog.WithField("duration", time.Since(startTime).String()))
	}()

	if e.capability.CanParseAsText(path) {
		text, err := e.capability.FetchText(ctx, path)
		if err != nil {
			return ensureWrapped(utils.ErrFetch, path, err)
		}
		if err := e.discover(path, text, taskLog); err != nil {
			return err
		}
		content := e.policy.StripVersionSuffix(text)
		if err := e.capability.SaveText(path, content); err != nil {
			return ensureWrapped(utils.ErrSave, path, err)
		}
		savedPath, savedBytes = path, len(content)
		return nil
	}

	data, err := e.capability.FetchBinary(ctx, path)
	if err != nil {
		return ensureWrapped(utils.ErrFetch, path, err)
	}
	target := e.policy.StripVersionSuffix(path)
	if err := e.capability.SaveBinary(target, data); err != nil {
		return ensureWrapped(utils.ErrSave, target, err)
	}
	savedPath, savedBytes = target, len(data)
	return nil
}

// discover offers every eligible link in text, resolved against basePath, to the frontier.
// The first resolution failure aborts discovery; links offered before it stay queued.
func (e *Engine) discover(basePath, text string, taskLog *logrus.Entry) error {
	found, added := 0, 0
	for candidate := range links.FindQuotedStrings(text) {
		if !e.policy.IsEligibleLink(candidate) {
			continue
		}
		found++
		resolved, err := sitepath.ToAbsolutePath(basePath, candidate)
		if err != nil {
			return err
		}
		if e.frontier.Offer(resolved) {
			added++
			e.markSeen(resolved)
		}
	}
	taskLog.Debugf("Discovered %d eligible links, %d new", found, added)
	return nil
}

func (e *Engine) complete(path string, taskErr error, savedPath string, savedBytes, workerID int, taskLog *logrus.Entry) {
	now := time.Now()
	entry := &models.PathEntry{
		RunID:       e.runID,
		LastAttempt: now,
		WorkerID:    workerID,
	}

	if taskErr != nil {
		entry.Status = models.PathStatusFailed
		entry.ErrorType = utils.CategorizeError(taskErr)
		entry.Error = taskErr.Error()
		taskLog.WithField("category", entry.ErrorType).Warnf("Path failed: %v", taskErr)
	} else {
		entry.Status = models.PathStatusDone
		entry.LocalPath = savedPath
		entry.Bytes = int64(savedBytes)
		entry.ProcessedAt = now
		e.bytesSaved.Add(int64(savedBytes))
	}

	if err := e.frontier.Complete(path, entry.Status); err != nil {
		taskLog.Errorf("Failed to record completion: %v", err)
		return
	}
	e.completed.Incr(1)

	if e.recorder != nil {
		if err := e.recorder.RecordStatus(path, entry); err != nil {
			taskLog.Errorf("Failed to update status ledger: %v", err)
		}
	}
}

func (e *Engine) markSeen(path string) {
	if e.recorder == nil {
		return
	}
	if _, err := e.recorder.MarkPathSeen(path, e.runID); err != nil {
		e.log.WithField("path", path).Errorf("Failed to add path to status ledger: %v", err)
	}
}

// ensureWrapped tags err with sentinel unless it already carries it, so every failure is categorizable.
func ensureWrapped(sentinel error, path string, err error) error {
	if errors.Is(err, sentinel) {
		return err
	}
	return fmt.Errorf("%w: '%s': %w", sentinel, path, err)
}
