package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/Sriram-PR/site-mirror/pkg/config"
	"github.com/Sriram-PR/site-mirror/pkg/crawler"
	"github.com/Sriram-PR/site-mirror/pkg/fetch"
	"github.com/Sriram-PR/site-mirror/pkg/mirror"
	"github.com/Sriram-PR/site-mirror/pkg/models"
	"github.com/Sriram-PR/site-mirror/pkg/storage"
	"github.com/Sriram-PR/site-mirror/pkg/utils"
)

// Run outcomes stored in models.RunInfo
const (
	OutcomeCompleted = "completed"
	OutcomeCancelled = "cancelled"
	OutcomeTimeout   = "timeout"
	OutcomeError     = "error"
)

// Options controls the side outputs of a site crawl
type Options struct {
	Fs             afero.Fs      // Filesystem for the mirror and reports, defaults to the OS filesystem
	WriteStatusLog bool          // Write a TSV of every path and its status after the crawl
	GCInterval     time.Duration // Ledger GC interval, defaults to 10m
}

func (o Options) fs() afero.Fs {
	if o.Fs == nil {
		return afero.NewOsFs()
	}
	return o.Fs
}

// SiteDirName returns the directory name a host is mirrored under. Hosts are case-insensitive.
func SiteDirName(host string) string {
	return utils.SanitizeFilename(strings.ToLower(host))
}

// MirrorSite wires the writer, ledger, HTTP client and crawl engine for one validated site and runs the crawl.
// The returned RunInfo is filled even when the crawl was cut short.
func MirrorSite(ctx context.Context, appCfg *config.AppConfig, siteKey string, siteCfg config.SiteConfig, opts Options, log *logrus.Entry) (*models.RunInfo, error) {
	siteLog := log.WithField("site_key", siteKey)
	fs := opts.fs()

	origin, err := url.Parse(siteCfg.SiteURL)
	if err != nil {
		return nil, fmt.Errorf("%w: site_url '%s': %w", utils.ErrConfigValidation, siteCfg.SiteURL, err)
	}
	siteDir := SiteDirName(origin.Host)
	destination := filepath.Join(appCfg.OutputBaseDir, siteDir)
	cacheFirst := config.GetEffectiveCacheFirst(siteCfg, *appCfg)
	policy := siteCfg.Policy()

	siteLog.Infof("Mirroring %s (seed %s) into %s, cache first: %t", siteCfg.SiteURL, siteCfg.SeedPath, destination, cacheFirst)

	// --- Mirror destination ---
	writer := mirror.NewWriter(fs, destination, siteLog)
	if err := writer.Prepare(!cacheFirst); err != nil {
		return nil, err
	}

	// --- Status ledger ---
	store, err := storage.NewBadgerStore(appCfg.StateDir, siteKey, true, siteLog)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	gcCtx, stopGC := context.WithCancel(ctx)
	var background sync.WaitGroup
	background.Add(1)
	go func() {
		defer background.Done()
		store.RunGC(gcCtx, opts.GCInterval)
	}()
	defer func() {
		stopGC()
		background.Wait()
	}()

	// --- Capability ---
	httpClient := fetch.NewClient(appCfg.HTTPClientSettings, origin.Host, siteLog)
	fetcher := fetch.NewFetcher(httpClient, fetch.RetryPolicyFromConfig(appCfg), siteLog)
	live, err := fetch.NewSiteClient(siteCfg.SiteURL, fetcher, appCfg.MaxRequests, config.GetEffectiveUserAgent(siteCfg, *appCfg), policy, writer, siteLog)
	if err != nil {
		return nil, err
	}
	var capability crawler.Capability = live
	var cached *fetch.CachedClient
	if cacheFirst {
		cached = fetch.NewCachedClient(live, writer, policy, siteLog)
		capability = cached
	}

	// --- Engine ---
	runID := uuid.NewString()
	engine := crawler.NewEngine(capability, crawler.Options{
		SeedPath:       siteCfg.SeedPath,
		IdleRetryDelay: appCfg.IdleRetryDelay,
		Policy:         policy,
		Recorder:       store,
		RunID:          runID,
	}, siteLog)

	info := &models.RunInfo{
		RunID:     runID,
		SiteKey:   siteKey,
		SiteURL:   siteCfg.SiteURL,
		StartedAt: time.Now(),
	}
	if err := store.RecordRunInfo(info); err != nil {
		siteLog.Warnf("Failed to record run start: %v", err)
	}

	progressCtx, stopProgress := context.WithCancel(ctx)
	background.Add(1)
	go func() {
		defer background.Done()
		engine.ReportProgress(progressCtx, appCfg.ProgressInterval)
	}()

	// ===========================================================
	// == Crawl ==
	// ===========================================================
	if _, err := engine.Seed(ctx); err != nil {
		siteLog.Errorf("Seed path %s failed: %v", siteCfg.SeedPath, err)
	}
	runErr := engine.RunWorkers(ctx, appCfg.NumWorkers)
	stopProgress()

	engine.LogSummary(time.Since(info.StartedAt))
	siteLog.Infof("Fetched %s over HTTP", humanize.Bytes(uint64(live.BytesFetched())))
	if cached != nil {
		hits, misses := cached.Stats()
		siteLog.Infof("Cache first: %d paths served from the existing mirror, %d fetched", hits, misses)
	}

	p := engine.Progress()
	info.FinishedAt = time.Now()
	info.Seen, info.Done, info.Failed = p.Seen, p.Done, p.Failed
	info.Outcome = RunOutcome(runErr)
	if err := store.RecordRunInfo(info); err != nil {
		siteLog.Warnf("Failed to record run summary: %v", err)
	}

	// ===========================================================
	// == Post-Crawl Actions ==
	// ===========================================================
	if runErr == nil {
		treeFile := filepath.Join(appCfg.OutputBaseDir, siteDir+"_structure.txt")
		if err := utils.SaveMirrorTree(fs, destination, treeFile, siteLog); err != nil {
			siteLog.Errorf("Failed to generate or save directory structure: %v", err)
		} else {
			siteLog.Infof("Saved directory structure to %s", treeFile)
		}
	} else {
		siteLog.Warnf("Skipping directory structure generation due to crawl error: %v", runErr)
	}

	if opts.WriteStatusLog {
		statusFile := filepath.Join(appCfg.OutputBaseDir, siteDir+"-status.tsv")
		if err := writeStatusLog(store, fs, statusFile); err != nil {
			siteLog.Errorf("Error writing status log: %v", err)
		} else {
			siteLog.Infof("Saved status log to %s", statusFile)
		}
	}

	return info, runErr
}

// writeStatusLog dumps the ledger as TSV. It runs after the crawl, so it is not bound to the crawl context.
func writeStatusLog(store storage.StoreAdmin, fs afero.Fs, path string) error {
	file, err := fs.Create(path)
	if err != nil {
		return fmt.Errorf("%w: create status log '%s': %w", utils.ErrFilesystem, path, err)
	}
	defer file.Close()

	_, err = store.WriteStatusLog(context.Background(), file)
	return err
}

// RunOutcome maps the error returned by a crawl to the outcome recorded for it
func RunOutcome(err error) string {
	switch {
	case err == nil:
		return OutcomeCompleted
	case errors.Is(err, context.Canceled):
		return OutcomeCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return OutcomeTimeout
	}
	return OutcomeError
}
