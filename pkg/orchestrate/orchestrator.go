package orchestrate

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/site-mirror/pkg/config"
	"github.com/Sriram-PR/site-mirror/pkg/models"
)

// SiteResult contains the result of mirroring a single site
type SiteResult struct {
	SiteKey  string
	Success  bool
	Error    error
	Info     *models.RunInfo // Nil if the crawl never started
	Duration time.Duration
}

// Orchestrator mirrors several configured sites in parallel, one crawl engine per site
type Orchestrator struct {
	appCfg   *config.AppConfig
	siteKeys []string
	opts     Options
	log      *logrus.Entry

	results   []SiteResult
	resultsMu sync.Mutex
}

// NewOrchestrator creates an orchestrator for already validated site keys
func NewOrchestrator(appCfg *config.AppConfig, siteKeys []string, opts Options, log *logrus.Entry) *Orchestrator {
	return &Orchestrator{
		appCfg:   appCfg,
		siteKeys: siteKeys,
		opts:     opts,
		log:      log,
		results:  make([]SiteResult, 0, len(siteKeys)),
	}
}

// Run mirrors all sites and waits for completion. A failing site does not stop the others.
// Results are ordered by site key.
func (o *Orchestrator) Run(ctx context.Context) []SiteResult {
	startTime := time.Now()
	if len(o.siteKeys) > 1 {
		o.log.Infof("Starting parallel mirror of %d sites: %v", len(o.siteKeys), o.siteKeys)
	}

	var wg sync.WaitGroup
	for _, siteKey := range o.siteKeys {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := o.mirrorSite(ctx, siteKey)
			o.resultsMu.Lock()
			o.results = append(o.results, result)
			o.resultsMu.Unlock()
		}()
	}
	wg.Wait()

	slices.SortFunc(o.results, func(a, b SiteResult) int {
		return cmp.Compare(a.SiteKey, b.SiteKey)
	})
	if len(o.siteKeys) > 1 {
		o.logSummary(time.Since(startTime))
	}
	return o.results
}

func (o *Orchestrator) mirrorSite(ctx context.Context, siteKey string) (result SiteResult) {
	startTime := time.Now()
	result.SiteKey = siteKey

	siteCfg, exists := o.appCfg.Sites[siteKey]
	if !exists {
		result.Error = fmt.Errorf("site '%s' not found in configuration", siteKey)
		o.log.Errorf("Site '%s' not found in configuration", siteKey)
		return result
	}

	// A panic fails only this site
	defer func() {
		if r := recover(); r != nil {
			result.Success = false
			result.Error = fmt.Errorf("panic while mirroring '%s': %v", siteKey, r)
			o.log.Errorf("PANIC while mirroring site '%s': %v", siteKey, r)
		}
	}()

	info, err := MirrorSite(ctx, o.appCfg, siteKey, siteCfg, o.opts, o.log)
	result.Info = info
	result.Duration = time.Since(startTime)
	if err != nil {
		result.Error = err
		o.log.Errorf("Mirror failed for site '%s': %v", siteKey, err)
		return result
	}
	result.Success = true
	return result
}

// logSummary logs a summary of all site results
func (o *Orchestrator) logSummary(totalDuration time.Duration) {
	o.log.Info("============================================")
	o.log.Infof("Parallel mirror completed in %v", totalDuration.Round(time.Millisecond))
	o.log.Info("Site Results:")

	var totalDone, totalFailed int
	successCount, failCount := 0, 0
	for _, r := range o.results {
		status := "SUCCESS"
		if r.Success {
			successCount++
		} else {
			status = "FAILED"
			failCount++
		}

		var done, failed int
		if r.Info != nil {
			done, failed = r.Info.Done, r.Info.Failed
		}
		totalDone += done
		totalFailed += failed

		o.log.Infof("  %s: %s - %d paths done, %d failed in %v", r.SiteKey, status, done, failed, r.Duration.Round(time.Millisecond))
		if r.Error != nil {
			o.log.Infof("    Error: %v", r.Error)
		}
	}

	o.log.Info("--------------------------------------------")
	o.log.Infof("Total: %d sites (%d success, %d failed), %d paths done, %d paths failed",
		len(o.results), successCount, failCount, totalDone, totalFailed)
	o.log.Info("============================================")
}

// ValidateSiteKeys checks that all provided site keys exist in the config and that no two of them
// mirror the same host, since they would share a destination directory.
func ValidateSiteKeys(appCfg *config.AppConfig, siteKeys []string) error {
	hosts := make(map[string]string, len(siteKeys))
	for _, key := range siteKeys {
		siteCfg, exists := appCfg.Sites[key]
		if !exists {
			return fmt.Errorf("site '%s' not found. Available sites: %v", key, GetAllSiteKeys(appCfg))
		}
		u, err := url.Parse(siteCfg.SiteURL)
		if err != nil || u.Host == "" {
			continue
		}
		host := SiteDirName(u.Host)
		if other, dup := hosts[host]; dup {
			return fmt.Errorf("sites '%s' and '%s' both mirror %s", other, key, u.Host)
		}
		hosts[host] = key
	}
	return nil
}

// GetAllSiteKeys returns all site keys from the config, sorted
func GetAllSiteKeys(appCfg *config.AppConfig) []string {
	return slices.Sorted(maps.Keys(appCfg.Sites))
}
